package background

import (
	"context"
	"log/slog"
	"time"

	"github.com/campuskit/checkpoint/internal/models"
	"github.com/campuskit/checkpoint/internal/realtime"
)

// ExpiredSessionSource lists ACTIVE sessions whose end time has passed
// and applies the completing transition.
type ExpiredSessionSource interface {
	ListActivePastEnd(ctx context.Context, now time.Time) ([]*models.AttendanceSession, error)
	TransitionStatus(ctx context.Context, id string, from, to models.SessionStatus, qrNonce, qrSecret *string, qrIssuedAt *time.Time) (*models.AttendanceSession, error)
}

// Broadcaster fans session lifecycle events out to connected clients.
type Broadcaster interface {
	Publish(event realtime.Event)
}

// PresenceCounter counts finalized records for the end-of-session summary.
type PresenceCounter interface {
	CountBySessionStatus(ctx context.Context, sessionID string, statuses []models.RecordStatus) (int, error)
}

// SessionEndNotifier delivers the end-of-session summary to the owner.
type SessionEndNotifier interface {
	NotifySessionEnded(session *models.AttendanceSession, presentCount int)
}

// SessionReaper periodically completes ACTIVE sessions that ran past
// their end time, so a professor who forgets to stop a session doesn't
// leave its QR credential scannable forever.
type SessionReaper struct {
	sessions    ExpiredSessionSource
	records     PresenceCounter
	broadcaster Broadcaster
	notifier    SessionEndNotifier
	logger      *slog.Logger
	interval    time.Duration
	stopCh      chan struct{}
}

// NewSessionReaper creates a new session reaper
func NewSessionReaper(
	sessions ExpiredSessionSource,
	records PresenceCounter,
	broadcaster Broadcaster,
	notifier SessionEndNotifier,
	logger *slog.Logger,
	interval time.Duration,
) *SessionReaper {
	return &SessionReaper{
		sessions:    sessions,
		records:     records,
		broadcaster: broadcaster,
		notifier:    notifier,
		logger:      logger,
		interval:    interval,
		stopCh:      make(chan struct{}),
	}
}

// Start begins the periodic reaping task
func (sr *SessionReaper) Start(ctx context.Context) {
	ticker := time.NewTicker(sr.interval)
	defer ticker.Stop()

	// Run immediately on startup
	sr.runReap(ctx)

	for {
		select {
		case <-ticker.C:
			sr.runReap(ctx)
		case <-sr.stopCh:
			sr.logger.Info("session reaper stopped")
			return
		case <-ctx.Done():
			sr.logger.Info("session reaper context cancelled")
			return
		}
	}
}

// runReap completes every expired session it can claim. The CAS
// transition decides races against a concurrent manual stop; losing one
// is not an error.
func (sr *SessionReaper) runReap(ctx context.Context) {
	reapCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	expired, err := sr.sessions.ListActivePastEnd(reapCtx, time.Now())
	if err != nil {
		sr.logger.Error("failed to list expired sessions", slog.Any("error", err))
		return
	}

	completed := 0
	for _, session := range expired {
		updated, err := sr.sessions.TransitionStatus(reapCtx, session.ID, models.SessionActive, models.SessionCompleted, nil, nil, nil)
		if err != nil {
			// Someone stopped it first.
			continue
		}

		completed++
		sr.broadcaster.Publish(realtime.SessionLifecycle(realtime.EventSessionEnded, updated))
		sr.notifyOwner(reapCtx, updated)
	}

	if completed > 0 {
		sr.logger.Info("auto-completed expired sessions", slog.Int("count", completed))
	}
}

// notifyOwner sends the end-of-session summary. A failed count still
// notifies, with zero present.
func (sr *SessionReaper) notifyOwner(ctx context.Context, session *models.AttendanceSession) {
	if sr.notifier == nil {
		return
	}

	present := 0
	if sr.records != nil {
		n, err := sr.records.CountBySessionStatus(ctx, session.ID, []models.RecordStatus{models.RecordPresent, models.RecordLate})
		if err != nil {
			sr.logger.Error("failed to count present records", slog.String("session_id", session.ID), slog.Any("error", err))
		} else {
			present = n
		}
	}

	sr.notifier.NotifySessionEnded(session, present)
}

// Stop signals the reaper to stop
func (sr *SessionReaper) Stop() {
	close(sr.stopCh)
}
