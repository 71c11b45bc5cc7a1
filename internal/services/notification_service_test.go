package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/campuskit/checkpoint/internal/models"
	"github.com/campuskit/checkpoint/internal/realtime"
)

func notifyFixtures() (*models.FraudAlert, *models.AttendanceSession) {
	alert := &models.FraudAlert{
		ID:          "alert_1",
		SessionID:   "session_1",
		StudentID:   "student_1",
		AlertType:   models.AlertLocation,
		Severity:    models.SeverityHigh,
		Description: "outside geofence",
	}
	session := &models.AttendanceSession{
		ID:      "session_1",
		OwnerID: "prof_1",
		Title:   "Databases Lecture 3",
	}
	return alert, session
}

func waitForEmails(t *testing.T, emailer *MockEmailSender, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(emailer.Sent()) >= want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("expected %d emails, got %d", want, len(emailer.Sent()))
}

func TestNotificationService_NotifyFraudAlert_EmailsOwner(t *testing.T) {
	alert, session := notifyFixtures()
	emailer := &MockEmailSender{}
	users := &MockUserLookup{
		GetByIDFunc: func(ctx context.Context, id string) (*models.User, error) {
			return &models.User{ID: id, Email: "prof@example.edu"}, nil
		},
	}
	broadcaster := &MockBroadcaster{}
	svc := NewNotificationService(emailer, users, broadcaster, newTestLogger(), 3, 10*time.Millisecond)

	svc.NotifyFraudAlert(alert, session)

	assert.Len(t, broadcaster.EventsOfType(realtime.EventNotification), 1)
	waitForEmails(t, emailer, 1)
	assert.Equal(t, []string{"prof@example.edu"}, emailer.Sent())
}

func TestNotificationService_NotifyFraudAlert_RetriesTransientFailure(t *testing.T) {
	alert, session := notifyFixtures()

	var calls int
	done := make(chan struct{})
	emailer := &MockEmailSender{
		SendFunc: func(ctx context.Context, to, subject, htmlBody, textBody string) error {
			calls++
			if calls < 3 {
				return errors.New("ses throttled")
			}
			close(done)
			return nil
		},
	}
	users := &MockUserLookup{
		GetByIDFunc: func(ctx context.Context, id string) (*models.User, error) {
			return &models.User{ID: id, Email: "prof@example.edu"}, nil
		},
	}
	svc := NewNotificationService(emailer, users, &MockBroadcaster{}, newTestLogger(), 3, 5*time.Millisecond)

	svc.NotifyFraudAlert(alert, session)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("delivery never succeeded")
	}
	assert.Equal(t, 3, calls)
}

func TestNotificationService_NotifyFraudAlert_NoEmailerStillBroadcasts(t *testing.T) {
	alert, session := notifyFixtures()
	broadcaster := &MockBroadcaster{}
	svc := NewNotificationService(nil, &MockUserLookup{}, broadcaster, newTestLogger(), 3, time.Millisecond)

	svc.NotifyFraudAlert(alert, session)

	events := broadcaster.EventsOfType(realtime.EventNotification)
	require.Len(t, events, 1)
	payload := events[0].Payload.(realtime.NotificationPayload)
	assert.Contains(t, payload.Title, "HIGH")
}

func TestNotificationService_NotifySessionEnded_Broadcasts(t *testing.T) {
	_, session := notifyFixtures()
	broadcaster := &MockBroadcaster{}
	svc := NewNotificationService(nil, &MockUserLookup{}, broadcaster, newTestLogger(), 3, time.Millisecond)

	svc.NotifySessionEnded(session, 42)

	events := broadcaster.EventsOfType(realtime.EventNotification)
	require.Len(t, events, 1)
	payload := events[0].Payload.(realtime.NotificationPayload)
	assert.Contains(t, payload.Message, "42")
}
