package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/campuskit/checkpoint/internal/database"
	"github.com/campuskit/checkpoint/internal/models"
)

type SessionRepository struct {
	db *database.DB
}

func NewSessionRepository(db *database.DB) *SessionRepository {
	return &SessionRepository{db: db}
}

// rowScanner interface for scanning rows (supports both single row and multiple rows)
type rowScanner interface {
	Scan(dest ...interface{}) error
}

const sessionColumns = `
	id, course_id, owner_id, title, start_time, end_time,
	geo_latitude, geo_longitude, geo_radius, geo_buffer,
	require_location, require_photo, require_device_check, enable_fraud_detection,
	allow_auto_register, max_attempts, grace_period_seconds,
	qr_nonce, qr_secret, qr_issued_at,
	status, created_at, updated_at`

func scanSessionRow(scanner rowScanner) (*models.AttendanceSession, error) {
	var s models.AttendanceSession
	var qrNonce, qrSecret *string
	var qrIssuedAt *time.Time

	err := scanner.Scan(
		&s.ID, &s.CourseID, &s.OwnerID, &s.Title, &s.StartTime, &s.EndTime,
		&s.Geofence.Latitude, &s.Geofence.Longitude, &s.Geofence.Radius, &s.Geofence.Buffer,
		&s.Policy.RequireLocation, &s.Policy.RequirePhoto, &s.Policy.RequireDeviceCheck, &s.Policy.EnableFraudDetection,
		&s.Policy.AllowAutoRegister, &s.Policy.MaxAttempts, &s.Policy.GracePeriodSeconds,
		&qrNonce, &qrSecret, &qrIssuedAt,
		&s.Status, &s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	if qrNonce != nil {
		s.QRNonce = *qrNonce
	}
	if qrSecret != nil {
		s.QRSecret = *qrSecret
	}
	s.QRIssuedAt = qrIssuedAt

	return &s, nil
}

func scanSessionRows(rows pgx.Rows) ([]*models.AttendanceSession, error) {
	defer rows.Close()

	sessions := make([]*models.AttendanceSession, 0)

	for rows.Next() {
		s, err := scanSessionRow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		sessions = append(sessions, s)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return sessions, nil
}

func (r *SessionRepository) GetByID(ctx context.Context, id string) (*models.AttendanceSession, error) {
	query := `SELECT ` + sessionColumns + ` FROM attendance_sessions WHERE id = $1`

	return scanSessionRow(r.db.Pool.QueryRow(ctx, query, id))
}

func (r *SessionRepository) ListByOwner(ctx context.Context, ownerID string, limit, offset int) ([]*models.AttendanceSession, error) {
	query := `SELECT ` + sessionColumns + `
		FROM attendance_sessions WHERE owner_id = $1
		ORDER BY start_time DESC LIMIT $2 OFFSET $3`

	rows, err := r.db.Pool.Query(ctx, query, ownerID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}

	return scanSessionRows(rows)
}

func (r *SessionRepository) Create(ctx context.Context, s *models.AttendanceSession) (*models.AttendanceSession, error) {
	s.ID = uuid.New().String()
	now := time.Now()
	s.CreatedAt = now
	s.UpdatedAt = now
	s.Status = models.SessionScheduled

	query := `
		INSERT INTO attendance_sessions (
			id, course_id, owner_id, title, start_time, end_time,
			geo_latitude, geo_longitude, geo_radius, geo_buffer,
			require_location, require_photo, require_device_check, enable_fraud_detection,
			allow_auto_register, max_attempts, grace_period_seconds,
			status, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)
	`

	_, err := r.db.Pool.Exec(ctx, query,
		s.ID, s.CourseID, s.OwnerID, s.Title, s.StartTime, s.EndTime,
		s.Geofence.Latitude, s.Geofence.Longitude, s.Geofence.Radius, s.Geofence.Buffer,
		s.Policy.RequireLocation, s.Policy.RequirePhoto, s.Policy.RequireDeviceCheck, s.Policy.EnableFraudDetection,
		s.Policy.AllowAutoRegister, s.Policy.MaxAttempts, s.Policy.GracePeriodSeconds,
		s.Status, s.CreatedAt, s.UpdatedAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	return s, nil
}

// Update rewrites the mutable session fields. The service layer guards
// against updating a session that is ACTIVE or terminal.
func (r *SessionRepository) Update(ctx context.Context, s *models.AttendanceSession) (*models.AttendanceSession, error) {
	s.UpdatedAt = time.Now()

	query := `
		UPDATE attendance_sessions SET
			title = $2, start_time = $3, end_time = $4,
			geo_latitude = $5, geo_longitude = $6, geo_radius = $7, geo_buffer = $8,
			require_location = $9, require_photo = $10, require_device_check = $11,
			enable_fraud_detection = $12, allow_auto_register = $13,
			max_attempts = $14, grace_period_seconds = $15, updated_at = $16
		WHERE id = $1
	`

	tag, err := r.db.Pool.Exec(ctx, query,
		s.ID, s.Title, s.StartTime, s.EndTime,
		s.Geofence.Latitude, s.Geofence.Longitude, s.Geofence.Radius, s.Geofence.Buffer,
		s.Policy.RequireLocation, s.Policy.RequirePhoto, s.Policy.RequireDeviceCheck,
		s.Policy.EnableFraudDetection, s.Policy.AllowAutoRegister,
		s.Policy.MaxAttempts, s.Policy.GracePeriodSeconds, s.UpdatedAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}
	if tag.RowsAffected() == 0 {
		return nil, models.ErrNotFound
	}

	return s, nil
}

// TransitionStatus is a compare-and-swap on the session status. The QR
// credential fields travel with the transition so token issuance and
// invalidation commit atomically with the state change. Zero rows
// affected means another actor won the race (or the state was wrong).
func (r *SessionRepository) TransitionStatus(ctx context.Context, id string, from, to models.SessionStatus, qrNonce, qrSecret *string, qrIssuedAt *time.Time) (*models.AttendanceSession, error) {
	query := `
		UPDATE attendance_sessions
		SET status = $3, qr_nonce = $4, qr_secret = $5, qr_issued_at = $6, updated_at = $7
		WHERE id = $1 AND status = $2
		RETURNING ` + sessionColumns

	s, err := scanSessionRow(r.db.Pool.QueryRow(ctx, query, id, from, to, qrNonce, qrSecret, qrIssuedAt, time.Now()))
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, models.ErrSessionState
		}
		return nil, err
	}

	return s, nil
}

// ListActivePastEnd returns ACTIVE sessions whose end time has passed,
// for the background reaper.
func (r *SessionRepository) ListActivePastEnd(ctx context.Context, now time.Time) ([]*models.AttendanceSession, error) {
	query := `SELECT ` + sessionColumns + `
		FROM attendance_sessions WHERE status = $1 AND end_time < $2`

	rows, err := r.db.Pool.Query(ctx, query, models.SessionActive, now)
	if err != nil {
		return nil, fmt.Errorf("failed to query expired sessions: %w", err)
	}

	return scanSessionRows(rows)
}
