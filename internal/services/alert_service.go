package services

import (
	"context"
	"errors"
	"log/slog"

	"github.com/campuskit/checkpoint/internal/models"
	pkglogger "github.com/campuskit/checkpoint/pkg/logger"
)

// AlertService is the review surface for raised fraud alerts.
type AlertService struct {
	alerts   AlertRepository
	sessions SessionRepository
	logger   *slog.Logger
	audit    *pkglogger.AuditLogger
}

// NewAlertService creates a new AlertService
func NewAlertService(alerts AlertRepository, sessions SessionRepository, logger *slog.Logger, audit *pkglogger.AuditLogger) *AlertService {
	return &AlertService{
		alerts:   alerts,
		sessions: sessions,
		logger:   logger,
		audit:    audit,
	}
}

// ListAlerts returns alerts visible to the actor. Admins see every
// session's alerts; professors see alerts for sessions they own.
func (s *AlertService) ListAlerts(ctx context.Context, actorID, role string, unresolvedOnly bool, limit, offset int) ([]*models.FraudAlert, error) {
	ownerID := actorID
	if role == models.RoleAdmin {
		ownerID = ""
	}

	alerts, err := s.alerts.ListForOwner(ctx, ownerID, unresolvedOnly, limit, offset)
	if err != nil {
		s.logger.Error("failed to list alerts", slog.String("actor_id", actorID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}
	return alerts, nil
}

// GetAlert fetches one alert the actor may see.
func (s *AlertService) GetAlert(ctx context.Context, alertID, actorID, role string) (*models.FraudAlert, error) {
	alert, err := s.alerts.GetByID(ctx, alertID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, models.ErrNotFound
		}
		s.logger.Error("failed to get alert", slog.String("alert_id", alertID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	if err := s.checkAccess(ctx, alert, actorID, role); err != nil {
		return nil, err
	}
	return alert, nil
}

// ResolveAlert marks an alert reviewed. Resolution is one-way: resolving
// an already-resolved alert fails with a conflict.
func (s *AlertService) ResolveAlert(ctx context.Context, alertID, actorID, role string) (*models.FraudAlert, error) {
	alert, err := s.GetAlert(ctx, alertID, actorID, role)
	if err != nil {
		return nil, err
	}

	resolved, err := s.alerts.Resolve(ctx, alert.ID, actorID)
	if err != nil {
		if errors.Is(err, models.ErrConflict) {
			return nil, models.ErrConflict
		}
		s.logger.Error("failed to resolve alert", slog.String("alert_id", alertID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	s.audit.LogAlertResolution(pkglogger.AuditEvent{
		EventType: "alert_resolved",
		UserID:    actorID,
		SessionID: resolved.SessionID,
		Success:   true,
		Metadata:  map[string]string{"alert_id": resolved.ID},
	})

	return resolved, nil
}

func (s *AlertService) checkAccess(ctx context.Context, alert *models.FraudAlert, actorID, role string) error {
	if role == models.RoleAdmin {
		return nil
	}

	session, err := s.sessions.GetByID(ctx, alert.SessionID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return models.ErrForbidden
		}
		return models.ErrInternalServer
	}
	if session.OwnerID != actorID {
		return models.ErrForbidden
	}
	return nil
}
