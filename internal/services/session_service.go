package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	qrcode "github.com/skip2/go-qrcode"

	"github.com/campuskit/checkpoint/internal/auth"
	"github.com/campuskit/checkpoint/internal/models"
	"github.com/campuskit/checkpoint/internal/realtime"
	pkglogger "github.com/campuskit/checkpoint/pkg/logger"
)

// SessionRepository defines the interface for session data access
type SessionRepository interface {
	GetByID(ctx context.Context, id string) (*models.AttendanceSession, error)
	ListByOwner(ctx context.Context, ownerID string, limit, offset int) ([]*models.AttendanceSession, error)
	Create(ctx context.Context, s *models.AttendanceSession) (*models.AttendanceSession, error)
	Update(ctx context.Context, s *models.AttendanceSession) (*models.AttendanceSession, error)
	TransitionStatus(ctx context.Context, id string, from, to models.SessionStatus, qrNonce, qrSecret *string, qrIssuedAt *time.Time) (*models.AttendanceSession, error)
}

// Broadcaster fans events out to connected clients. Publishing never
// blocks the caller.
type Broadcaster interface {
	Publish(event realtime.Event)
}

// SessionSpec is the input for creating or updating a session.
type SessionSpec struct {
	CourseID  string
	Title     string
	StartTime time.Time
	EndTime   time.Time
	Geofence  models.Geofence
	Policy    models.SecurityPolicy
}

// SessionService owns the attendance session lifecycle and QR issuance.
type SessionService struct {
	repo          SessionRepository
	broadcaster   Broadcaster
	logger        *slog.Logger
	audit         *pkglogger.AuditLogger
	qrPeriod      time.Duration
	defaultBuffer float64
}

// NewSessionService creates a new SessionService
func NewSessionService(repo SessionRepository, broadcaster Broadcaster, logger *slog.Logger, audit *pkglogger.AuditLogger, qrPeriod time.Duration, defaultBuffer float64) *SessionService {
	return &SessionService{
		repo:          repo,
		broadcaster:   broadcaster,
		logger:        logger,
		audit:         audit,
		qrPeriod:      qrPeriod,
		defaultBuffer: defaultBuffer,
	}
}

// CreateSession validates the spec and persists a SCHEDULED session.
func (s *SessionService) CreateSession(ctx context.Context, ownerID string, spec SessionSpec) (*models.AttendanceSession, error) {
	if err := validateSpec(spec); err != nil {
		return nil, err
	}

	session := &models.AttendanceSession{
		CourseID:  spec.CourseID,
		OwnerID:   ownerID,
		Title:     spec.Title,
		StartTime: spec.StartTime,
		EndTime:   spec.EndTime,
		Geofence:  spec.Geofence,
		Policy:    spec.Policy,
	}
	if session.Geofence.Buffer == 0 {
		session.Geofence.Buffer = s.defaultBuffer
	}
	if session.Policy.MaxAttempts == 0 {
		session.Policy.MaxAttempts = 3
	}

	created, err := s.repo.Create(ctx, session)
	if err != nil {
		s.logger.Error("failed to create session", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	s.logger.Info("session created",
		slog.String("session_id", created.ID),
		slog.String("course_id", created.CourseID),
	)
	return created, nil
}

// GetSession fetches a session by id.
func (s *SessionService) GetSession(ctx context.Context, id string) (*models.AttendanceSession, error) {
	session, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, models.ErrNotFound
		}
		s.logger.Error("failed to get session", slog.String("session_id", id), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}
	return session, nil
}

// ListSessions returns sessions owned by ownerID.
func (s *SessionService) ListSessions(ctx context.Context, ownerID string, limit, offset int) ([]*models.AttendanceSession, error) {
	sessions, err := s.repo.ListByOwner(ctx, ownerID, limit, offset)
	if err != nil {
		s.logger.Error("failed to list sessions", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}
	return sessions, nil
}

// StartSession transitions SCHEDULED -> ACTIVE and issues a fresh QR
// credential. The repository compare-and-swap decides concurrent starts;
// only the winner emits the lifecycle event.
func (s *SessionService) StartSession(ctx context.Context, sessionID, actorID string) (*models.AttendanceSession, error) {
	session, err := s.ownedSession(ctx, sessionID, actorID)
	if err != nil {
		return nil, err
	}

	if session.Status != models.SessionScheduled {
		return nil, models.ErrSessionState
	}

	cred, err := auth.IssueQRCredential(sessionID, s.qrPeriod)
	if err != nil {
		s.logger.Error("failed to issue qr credential", slog.String("session_id", sessionID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	issuedAt := cred.IssuedAt
	updated, err := s.repo.TransitionStatus(ctx, sessionID, models.SessionScheduled, models.SessionActive, &cred.Nonce, &cred.Secret, &issuedAt)
	if err != nil {
		if errors.Is(err, models.ErrSessionState) {
			return nil, models.ErrSessionState
		}
		s.logger.Error("failed to start session", slog.String("session_id", sessionID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	s.audit.LogSessionTransition(pkglogger.AuditEvent{
		EventType: "session_started",
		UserID:    actorID,
		SessionID: sessionID,
		Success:   true,
	})
	s.broadcaster.Publish(realtime.SessionLifecycle(realtime.EventSessionStarted, updated))

	return updated, nil
}

// StopSession transitions ACTIVE -> COMPLETED and invalidates the QR
// credential.
func (s *SessionService) StopSession(ctx context.Context, sessionID, actorID string) (*models.AttendanceSession, error) {
	return s.stop(ctx, sessionID, actorID, realtime.EventSessionEnded, "session_stopped")
}

// EmergencyStopSession is StopSession with an emergency event so clients
// can distinguish an abnormal end.
func (s *SessionService) EmergencyStopSession(ctx context.Context, sessionID, actorID string) (*models.AttendanceSession, error) {
	return s.stop(ctx, sessionID, actorID, realtime.EventEmergencyStop, "session_emergency_stopped")
}

func (s *SessionService) stop(ctx context.Context, sessionID, actorID string, event realtime.EventType, auditType string) (*models.AttendanceSession, error) {
	session, err := s.ownedSession(ctx, sessionID, actorID)
	if err != nil {
		return nil, err
	}

	if session.Status != models.SessionActive {
		return nil, models.ErrSessionState
	}

	updated, err := s.repo.TransitionStatus(ctx, sessionID, models.SessionActive, models.SessionCompleted, nil, nil, nil)
	if err != nil {
		if errors.Is(err, models.ErrSessionState) {
			return nil, models.ErrSessionState
		}
		s.logger.Error("failed to stop session", slog.String("session_id", sessionID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	s.audit.LogSessionTransition(pkglogger.AuditEvent{
		EventType: auditType,
		UserID:    actorID,
		SessionID: sessionID,
		Success:   true,
	})
	s.broadcaster.Publish(realtime.SessionLifecycle(event, updated))

	return updated, nil
}

// CancelSession moves a non-ACTIVE, non-terminal session to CANCELLED.
// A live session must be stopped, not cancelled.
func (s *SessionService) CancelSession(ctx context.Context, sessionID, actorID string) (*models.AttendanceSession, error) {
	session, err := s.ownedSession(ctx, sessionID, actorID)
	if err != nil {
		return nil, err
	}

	if session.Status == models.SessionActive || session.Status.Terminal() {
		return nil, models.ErrSessionState
	}

	updated, err := s.repo.TransitionStatus(ctx, sessionID, session.Status, models.SessionCancelled, nil, nil, nil)
	if err != nil {
		if errors.Is(err, models.ErrSessionState) {
			return nil, models.ErrSessionState
		}
		s.logger.Error("failed to cancel session", slog.String("session_id", sessionID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	s.audit.LogSessionTransition(pkglogger.AuditEvent{
		EventType: "session_cancelled",
		UserID:    actorID,
		SessionID: sessionID,
		Success:   true,
	})
	s.broadcaster.Publish(realtime.SessionLifecycle(realtime.EventSessionUpdated, updated))

	return updated, nil
}

// UpdateSession rewrites the mutable fields of a SCHEDULED session.
func (s *SessionService) UpdateSession(ctx context.Context, sessionID, actorID string, spec SessionSpec) (*models.AttendanceSession, error) {
	session, err := s.ownedSession(ctx, sessionID, actorID)
	if err != nil {
		return nil, err
	}

	if session.Status == models.SessionActive || session.Status.Terminal() {
		return nil, models.ErrSessionState
	}

	if err := validateSpec(spec); err != nil {
		return nil, err
	}

	session.Title = spec.Title
	session.StartTime = spec.StartTime
	session.EndTime = spec.EndTime
	session.Geofence = spec.Geofence
	session.Policy = spec.Policy

	updated, err := s.repo.Update(ctx, session)
	if err != nil {
		s.logger.Error("failed to update session", slog.String("session_id", sessionID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	s.broadcaster.Publish(realtime.SessionLifecycle(realtime.EventSessionUpdated, updated))

	return updated, nil
}

// CurrentQRToken renders the live token for an ACTIVE session. Owner
// only; the token string is what the QR image encodes.
func (s *SessionService) CurrentQRToken(ctx context.Context, sessionID, actorID string) (string, error) {
	session, err := s.ownedSession(ctx, sessionID, actorID)
	if err != nil {
		return "", err
	}

	if session.Status != models.SessionActive || session.QRNonce == "" {
		return "", models.ErrSessionState
	}

	cred := &auth.QRCredential{
		Nonce:  session.QRNonce,
		Secret: session.QRSecret,
		Period: s.qrPeriod,
	}
	token, err := cred.Token(time.Now())
	if err != nil {
		s.logger.Error("failed to render qr token", slog.String("session_id", sessionID), slog.Any("error", err))
		return "", models.ErrInternalServer
	}

	return token, nil
}

// QRPNG renders the current token as a PNG for display in the classroom.
func (s *SessionService) QRPNG(ctx context.Context, sessionID, actorID string, size int) ([]byte, error) {
	token, err := s.CurrentQRToken(ctx, sessionID, actorID)
	if err != nil {
		return nil, err
	}

	png, err := qrcode.Encode(token, qrcode.Medium, size)
	if err != nil {
		s.logger.Error("failed to encode qr png", slog.String("session_id", sessionID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	return png, nil
}

// ValidateScanToken checks a scanned token against the session's current
// credential. Used by the verification pipeline.
func (s *SessionService) ValidateScanToken(session *models.AttendanceSession, token string, at time.Time) bool {
	if session.Status != models.SessionActive || session.QRNonce == "" {
		return false
	}
	cred := &auth.QRCredential{
		Nonce:  session.QRNonce,
		Secret: session.QRSecret,
		Period: s.qrPeriod,
	}
	return cred.Validate(token, at)
}

func (s *SessionService) ownedSession(ctx context.Context, sessionID, actorID string) (*models.AttendanceSession, error) {
	session, err := s.repo.GetByID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, models.ErrNotFound
		}
		s.logger.Error("failed to get session", slog.String("session_id", sessionID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	if session.OwnerID != actorID {
		return nil, models.ErrForbidden
	}

	return session, nil
}

func validateSpec(spec SessionSpec) error {
	if spec.Title == "" || spec.CourseID == "" {
		return fmt.Errorf("%w: title and course are required", models.ErrBadRequest)
	}
	if !spec.StartTime.After(time.Now()) {
		return fmt.Errorf("%w: start time must be in the future", models.ErrBadRequest)
	}
	if !spec.StartTime.Before(spec.EndTime) {
		return fmt.Errorf("%w: start time must precede end time", models.ErrBadRequest)
	}
	if spec.Geofence.Radius < 0 || spec.Geofence.Buffer < 0 {
		return fmt.Errorf("%w: geofence radius and buffer must be non-negative", models.ErrBadRequest)
	}
	return nil
}
