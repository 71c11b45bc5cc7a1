package repositories

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/campuskit/checkpoint/internal/database"
	"github.com/campuskit/checkpoint/internal/models"
)

type AlertRepository struct {
	db *database.DB
}

func NewAlertRepository(db *database.DB) *AlertRepository {
	return &AlertRepository{db: db}
}

const alertColumns = `
	id, session_id, student_id, alert_type, severity, description, metadata,
	is_resolved, resolved_by, resolved_at, created_at`

func scanAlertRow(scanner rowScanner) (*models.FraudAlert, error) {
	var a models.FraudAlert
	var metadata []byte
	var resolvedBy *string
	var resolvedAt *time.Time

	err := scanner.Scan(
		&a.ID, &a.SessionID, &a.StudentID, &a.AlertType, &a.Severity, &a.Description, &metadata,
		&a.IsResolved, &resolvedBy, &resolvedAt, &a.CreatedAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &a.Metadata); err != nil {
			return nil, fmt.Errorf("failed to decode alert metadata: %w", err)
		}
	}
	if resolvedBy != nil {
		a.ResolvedBy = *resolvedBy
	}
	a.ResolvedAt = resolvedAt

	return &a, nil
}

func scanAlertRows(rows pgx.Rows) ([]*models.FraudAlert, error) {
	defer rows.Close()

	alerts := make([]*models.FraudAlert, 0)

	for rows.Next() {
		a, err := scanAlertRow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan alert: %w", err)
		}
		alerts = append(alerts, a)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return alerts, nil
}

func (r *AlertRepository) GetByID(ctx context.Context, id string) (*models.FraudAlert, error) {
	query := `SELECT ` + alertColumns + ` FROM fraud_alerts WHERE id = $1`

	return scanAlertRow(r.db.Pool.QueryRow(ctx, query, id))
}

func (r *AlertRepository) Create(ctx context.Context, a *models.FraudAlert) (*models.FraudAlert, error) {
	a.ID = uuid.New().String()
	a.CreatedAt = time.Now()

	metadata, err := json.Marshal(a.Metadata)
	if err != nil {
		return nil, fmt.Errorf("failed to encode alert metadata: %w", err)
	}

	query := `
		INSERT INTO fraud_alerts (id, session_id, student_id, alert_type, severity, description, metadata, is_resolved, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, FALSE, $8)
	`

	_, err = r.db.Pool.Exec(ctx, query,
		a.ID, a.SessionID, a.StudentID, a.AlertType, a.Severity, a.Description, metadata, a.CreatedAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	return a, nil
}

// ListForOwner returns alerts for sessions owned by ownerID, unresolved
// first. Admins pass an empty ownerID to see everything.
func (r *AlertRepository) ListForOwner(ctx context.Context, ownerID string, unresolvedOnly bool, limit, offset int) ([]*models.FraudAlert, error) {
	query := `
		SELECT a.id, a.session_id, a.student_id, a.alert_type, a.severity, a.description, a.metadata,
			a.is_resolved, a.resolved_by, a.resolved_at, a.created_at
		FROM fraud_alerts a
		JOIN attendance_sessions s ON s.id = a.session_id
		WHERE ($1 = '' OR s.owner_id = $1)
			AND (NOT $2 OR a.is_resolved = FALSE)
		ORDER BY a.is_resolved ASC, a.created_at DESC
		LIMIT $3 OFFSET $4
	`

	rows, err := r.db.Pool.Query(ctx, query, ownerID, unresolvedOnly, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query alerts: %w", err)
	}

	return scanAlertRows(rows)
}

// Resolve marks an alert resolved exactly once; a second resolution
// attempt affects zero rows and maps to ErrConflict.
func (r *AlertRepository) Resolve(ctx context.Context, id, resolvedBy string) (*models.FraudAlert, error) {
	query := `
		UPDATE fraud_alerts
		SET is_resolved = TRUE, resolved_by = $2, resolved_at = $3
		WHERE id = $1 AND is_resolved = FALSE
		RETURNING ` + alertColumns

	a, err := scanAlertRow(r.db.Pool.QueryRow(ctx, query, id, resolvedBy, time.Now()))
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, models.ErrConflict
		}
		return nil, err
	}

	return a, nil
}
