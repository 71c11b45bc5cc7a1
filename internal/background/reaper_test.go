package background

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/campuskit/checkpoint/internal/models"
	"github.com/campuskit/checkpoint/internal/realtime"
)

type fakeSessionSource struct {
	mu          sync.Mutex
	expired     []*models.AttendanceSession
	transitions []string
	denyIDs     map[string]bool
}

func (f *fakeSessionSource) ListActivePastEnd(ctx context.Context, now time.Time) ([]*models.AttendanceSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.expired, nil
}

func (f *fakeSessionSource) TransitionStatus(ctx context.Context, id string, from, to models.SessionStatus, qrNonce, qrSecret *string, qrIssuedAt *time.Time) (*models.AttendanceSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.denyIDs[id] {
		return nil, models.ErrSessionState
	}
	f.transitions = append(f.transitions, id)
	return &models.AttendanceSession{ID: id, Status: to}, nil
}

type fakePresenceCounter struct {
	counts map[string]int
}

func (f *fakePresenceCounter) CountBySessionStatus(ctx context.Context, sessionID string, statuses []models.RecordStatus) (int, error) {
	return f.counts[sessionID], nil
}

type fakeEndNotifier struct {
	mu       sync.Mutex
	notified map[string]int
}

func (f *fakeEndNotifier) NotifySessionEnded(session *models.AttendanceSession, presentCount int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.notified == nil {
		f.notified = make(map[string]int)
	}
	f.notified[session.ID] = presentCount
}

type captureBroadcaster struct {
	mu     sync.Mutex
	events []realtime.Event
}

func (c *captureBroadcaster) Publish(event realtime.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestSessionReaper_CompletesExpiredSessions(t *testing.T) {
	source := &fakeSessionSource{
		expired: []*models.AttendanceSession{
			{ID: "session_1", Status: models.SessionActive},
			{ID: "session_2", Status: models.SessionActive},
		},
	}
	counter := &fakePresenceCounter{counts: map[string]int{"session_1": 12, "session_2": 3}}
	notifier := &fakeEndNotifier{}
	broadcaster := &captureBroadcaster{}
	reaper := NewSessionReaper(source, counter, broadcaster, notifier, testLogger(), time.Hour)

	reaper.runReap(context.Background())

	assert.Equal(t, []string{"session_1", "session_2"}, source.transitions)
	assert.Len(t, broadcaster.events, 2)
	assert.Equal(t, realtime.EventSessionEnded, broadcaster.events[0].Type)
	assert.Equal(t, map[string]int{"session_1": 12, "session_2": 3}, notifier.notified)
}

func TestSessionReaper_SkipsSessionsStoppedConcurrently(t *testing.T) {
	source := &fakeSessionSource{
		expired: []*models.AttendanceSession{
			{ID: "session_1", Status: models.SessionActive},
			{ID: "session_2", Status: models.SessionActive},
		},
		denyIDs: map[string]bool{"session_1": true},
	}
	notifier := &fakeEndNotifier{}
	broadcaster := &captureBroadcaster{}
	reaper := NewSessionReaper(source, &fakePresenceCounter{}, broadcaster, notifier, testLogger(), time.Hour)

	reaper.runReap(context.Background())

	assert.Equal(t, []string{"session_2"}, source.transitions)
	assert.Len(t, broadcaster.events, 1)
	assert.NotContains(t, notifier.notified, "session_1")
}

func TestSessionReaper_NilNotifierStillCompletes(t *testing.T) {
	source := &fakeSessionSource{
		expired: []*models.AttendanceSession{
			{ID: "session_1", Status: models.SessionActive},
		},
	}
	broadcaster := &captureBroadcaster{}
	reaper := NewSessionReaper(source, nil, broadcaster, nil, testLogger(), time.Hour)

	reaper.runReap(context.Background())

	assert.Equal(t, []string{"session_1"}, source.transitions)
	assert.Len(t, broadcaster.events, 1)
}

func TestSessionReaper_StopTerminatesLoop(t *testing.T) {
	source := &fakeSessionSource{}
	reaper := NewSessionReaper(source, nil, &captureBroadcaster{}, nil, testLogger(), 10*time.Millisecond)

	done := make(chan struct{})
	go func() {
		reaper.Start(context.Background())
		close(done)
	}()

	time.Sleep(30 * time.Millisecond)
	reaper.Stop()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("reaper did not stop")
	}
}
