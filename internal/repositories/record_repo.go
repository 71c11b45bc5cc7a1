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

type RecordRepository struct {
	db *database.DB
}

func NewRecordRepository(db *database.DB) *RecordRepository {
	return &RecordRepository{db: db}
}

const recordColumns = `
	id, session_id, student_id, ts, status,
	latitude, longitude, accuracy,
	device_fingerprint, photo_reference, fraud_score, notes,
	created_at, updated_at`

func scanRecordRow(scanner rowScanner) (*models.AttendanceRecord, error) {
	var rec models.AttendanceRecord
	var lat, lon, acc *float64
	var fingerprint, photoRef, notes *string

	err := scanner.Scan(
		&rec.ID, &rec.SessionID, &rec.StudentID, &rec.Timestamp, &rec.Status,
		&lat, &lon, &acc,
		&fingerprint, &photoRef, &notes,
		&rec.CreatedAt, &rec.UpdatedAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	if lat != nil && lon != nil {
		rec.Location = &models.CapturedLocation{Latitude: *lat, Longitude: *lon}
		if acc != nil {
			rec.Location.Accuracy = *acc
		}
	}
	if fingerprint != nil {
		rec.DeviceFingerprint = *fingerprint
	}
	if photoRef != nil {
		rec.PhotoReference = *photoRef
	}
	if notes != nil {
		rec.Notes = *notes
	}

	return &rec, nil
}

func scanRecordRows(rows pgx.Rows) ([]*models.AttendanceRecord, error) {
	defer rows.Close()

	records := make([]*models.AttendanceRecord, 0)

	for rows.Next() {
		rec, err := scanRecordRow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}
		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return records, nil
}

func (r *RecordRepository) GetBySessionAndStudent(ctx context.Context, sessionID, studentID string) (*models.AttendanceRecord, error) {
	query := `SELECT ` + recordColumns + `
		FROM attendance_records WHERE session_id = $1 AND student_id = $2`

	return scanRecordRow(r.db.Pool.QueryRow(ctx, query, sessionID, studentID))
}

func (r *RecordRepository) ListBySession(ctx context.Context, sessionID string, limit, offset int) ([]*models.AttendanceRecord, error) {
	query := `SELECT ` + recordColumns + `
		FROM attendance_records WHERE session_id = $1
		ORDER BY ts DESC LIMIT $2 OFFSET $3`

	rows, err := r.db.Pool.Query(ctx, query, sessionID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query records: %w", err)
	}

	return scanRecordRows(rows)
}

// Upsert writes the record for (session, student) under the uniqueness
// constraint. The conflict branch only fires while the existing record is
// not finalized; a finalized record filters the update out, the statement
// returns no row, and the caller gets ErrAlreadyMarked. This single
// statement is the sole authority for the one-finalized-record invariant:
// two near-simultaneous scans resolve here, not in any in-memory check.
func (r *RecordRepository) Upsert(ctx context.Context, rec *models.AttendanceRecord) (*models.AttendanceRecord, error) {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	now := time.Now()
	rec.CreatedAt = now
	rec.UpdatedAt = now

	var lat, lon, acc *float64
	if rec.Location != nil {
		lat, lon, acc = &rec.Location.Latitude, &rec.Location.Longitude, &rec.Location.Accuracy
	}

	query := `
		INSERT INTO attendance_records (
			id, session_id, student_id, ts, status,
			latitude, longitude, accuracy,
			device_fingerprint, photo_reference, fraud_score, notes,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT ON CONSTRAINT attendance_records_session_student_key
		DO UPDATE SET
			ts = EXCLUDED.ts, status = EXCLUDED.status,
			latitude = EXCLUDED.latitude, longitude = EXCLUDED.longitude, accuracy = EXCLUDED.accuracy,
			device_fingerprint = EXCLUDED.device_fingerprint,
			photo_reference = EXCLUDED.photo_reference,
			fraud_score = EXCLUDED.fraud_score, notes = EXCLUDED.notes,
			updated_at = EXCLUDED.updated_at
		WHERE attendance_records.status NOT IN ('PRESENT', 'LATE', 'EXCUSED')
		RETURNING ` + recordColumns

	stored, err := scanRecordRow(r.db.Pool.QueryRow(ctx, query,
		rec.ID, rec.SessionID, rec.StudentID, rec.Timestamp, rec.Status,
		lat, lon, acc,
		nullIfEmpty(rec.DeviceFingerprint), nullIfEmpty(rec.PhotoReference), rec.FraudScore, nullIfEmpty(rec.Notes),
		rec.CreatedAt, rec.UpdatedAt,
	))
	if err != nil {
		// No returned row means the guarded update was filtered out: the
		// existing record is already finalized.
		if errors.Is(err, models.ErrNotFound) {
			return nil, models.ErrAlreadyMarked
		}
		return nil, err
	}

	return stored, nil
}

func (r *RecordRepository) CountBySessionStatus(ctx context.Context, sessionID string, statuses []models.RecordStatus) (int, error) {
	query := `SELECT COUNT(*) FROM attendance_records WHERE session_id = $1 AND status = ANY($2)`

	var count int
	if err := r.db.Pool.QueryRow(ctx, query, sessionID, statuses).Scan(&count); err != nil {
		return 0, database.MapPostgresError(err)
	}
	return count, nil
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
