package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/campuskit/checkpoint/internal/database"
	"github.com/campuskit/checkpoint/internal/models"
)

type DeviceRepository struct {
	db *database.DB
}

func NewDeviceRepository(db *database.DB) *DeviceRepository {
	return &DeviceRepository{db: db}
}

const deviceColumns = `
	id, student_id, fingerprint_hash, device_info, is_active, last_used_at, created_at`

func scanDeviceRow(scanner rowScanner) (*models.DeviceFingerprint, error) {
	var d models.DeviceFingerprint
	var info *string
	var lastUsedAt *time.Time

	err := scanner.Scan(
		&d.ID, &d.StudentID, &d.FingerprintHash, &info, &d.IsActive, &lastUsedAt, &d.CreatedAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	if info != nil {
		d.DeviceInfo = *info
	}
	d.LastUsedAt = lastUsedAt

	return &d, nil
}

func scanDeviceRows(rows pgx.Rows) ([]*models.DeviceFingerprint, error) {
	defer rows.Close()

	devices := make([]*models.DeviceFingerprint, 0)

	for rows.Next() {
		d, err := scanDeviceRow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan device: %w", err)
		}
		devices = append(devices, d)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return devices, nil
}

func (r *DeviceRepository) GetByID(ctx context.Context, id string) (*models.DeviceFingerprint, error) {
	query := `SELECT ` + deviceColumns + ` FROM device_fingerprints WHERE id = $1`

	return scanDeviceRow(r.db.Pool.QueryRow(ctx, query, id))
}

func (r *DeviceRepository) GetByStudentAndHash(ctx context.Context, studentID, fingerprintHash string) (*models.DeviceFingerprint, error) {
	query := `SELECT ` + deviceColumns + `
		FROM device_fingerprints WHERE student_id = $1 AND fingerprint_hash = $2`

	return scanDeviceRow(r.db.Pool.QueryRow(ctx, query, studentID, fingerprintHash))
}

func (r *DeviceRepository) ListByStudent(ctx context.Context, studentID string) ([]*models.DeviceFingerprint, error) {
	query := `SELECT ` + deviceColumns + `
		FROM device_fingerprints WHERE student_id = $1 ORDER BY created_at DESC`

	rows, err := r.db.Pool.Query(ctx, query, studentID)
	if err != nil {
		return nil, fmt.Errorf("failed to query devices: %w", err)
	}

	return scanDeviceRows(rows)
}

func (r *DeviceRepository) CountActiveByStudent(ctx context.Context, studentID string) (int, error) {
	query := `SELECT COUNT(*) FROM device_fingerprints WHERE student_id = $1 AND is_active = TRUE`

	var count int
	if err := r.db.Pool.QueryRow(ctx, query, studentID).Scan(&count); err != nil {
		return 0, database.MapPostgresError(err)
	}
	return count, nil
}

// Create relies on the (student_id, fingerprint_hash) unique constraint;
// a duplicate registration maps to ErrDuplicateDevice.
func (r *DeviceRepository) Create(ctx context.Context, d *models.DeviceFingerprint) (*models.DeviceFingerprint, error) {
	d.ID = uuid.New().String()
	d.CreatedAt = time.Now()
	d.IsActive = true

	query := `
		INSERT INTO device_fingerprints (id, student_id, fingerprint_hash, device_info, is_active, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	_, err := r.db.Pool.Exec(ctx, query,
		d.ID, d.StudentID, d.FingerprintHash, nullIfEmpty(d.DeviceInfo), d.IsActive, d.CreatedAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	return d, nil
}

func (r *DeviceRepository) TouchLastUsed(ctx context.Context, id string, usedAt time.Time) error {
	query := `UPDATE device_fingerprints SET last_used_at = $2 WHERE id = $1`

	tag, err := r.db.Pool.Exec(ctx, query, id, usedAt)
	if err != nil {
		return database.MapPostgresError(err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

// Deactivate is owner-scoped: the student id must match so one student
// cannot revoke another's device.
func (r *DeviceRepository) Deactivate(ctx context.Context, studentID, deviceID string) error {
	query := `UPDATE device_fingerprints SET is_active = FALSE WHERE id = $1 AND student_id = $2`

	tag, err := r.db.Pool.Exec(ctx, query, deviceID, studentID)
	if err != nil {
		return database.MapPostgresError(err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}
