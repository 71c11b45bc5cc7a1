package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/campuskit/checkpoint/internal/models"
	"github.com/campuskit/checkpoint/internal/realtime"
)

func newTestSessionService(repo SessionRepository, broadcaster Broadcaster) *SessionService {
	return NewSessionService(repo, broadcaster, newTestLogger(), newTestAudit(), 30*time.Second, 50)
}

func newScheduledSession(id, ownerID string) *models.AttendanceSession {
	now := time.Now()
	return &models.AttendanceSession{
		ID:        id,
		CourseID:  "course_1",
		OwnerID:   ownerID,
		Title:     "Operating Systems Lecture 5",
		StartTime: now.Add(time.Hour),
		EndTime:   now.Add(2 * time.Hour),
		Geofence:  models.Geofence{Latitude: 30.0444, Longitude: 31.2357, Radius: 100, Buffer: 50},
		Policy: models.SecurityPolicy{
			RequireLocation:      true,
			EnableFraudDetection: true,
			MaxAttempts:          3,
			GracePeriodSeconds:   600,
		},
		Status: models.SessionScheduled,
	}
}

func TestSessionService_CreateSession_Success(t *testing.T) {
	mockRepo := &MockSessionRepository{}
	broadcaster := &MockBroadcaster{}
	svc := newTestSessionService(mockRepo, broadcaster)

	now := time.Now()
	result, err := svc.CreateSession(context.Background(), "prof_1", SessionSpec{
		CourseID:  "course_1",
		Title:     "Lecture 1",
		StartTime: now.Add(time.Hour),
		EndTime:   now.Add(2 * time.Hour),
		Geofence:  models.Geofence{Latitude: 30.0444, Longitude: 31.2357, Radius: 100},
	})

	require.NoError(t, err)
	assert.Equal(t, models.SessionScheduled, result.Status)
}

func TestSessionService_CreateSession_AppliesDefaultBuffer(t *testing.T) {
	var captured *models.AttendanceSession
	mockRepo := &MockSessionRepository{
		CreateFunc: func(ctx context.Context, s *models.AttendanceSession) (*models.AttendanceSession, error) {
			captured = s
			created := *s
			created.ID = "session_123"
			return &created, nil
		},
	}
	svc := newTestSessionService(mockRepo, &MockBroadcaster{})

	now := time.Now()
	_, err := svc.CreateSession(context.Background(), "prof_1", SessionSpec{
		CourseID:  "course_1",
		Title:     "Lecture 1",
		StartTime: now.Add(time.Hour),
		EndTime:   now.Add(2 * time.Hour),
		Geofence:  models.Geofence{Latitude: 30.0444, Longitude: 31.2357, Radius: 100},
	})

	require.NoError(t, err)
	require.NotNil(t, captured)
	assert.Equal(t, 50.0, captured.Geofence.Buffer)
	assert.Equal(t, 3, captured.Policy.MaxAttempts)
}

func TestSessionService_CreateSession_PastStartRejected(t *testing.T) {
	svc := newTestSessionService(&MockSessionRepository{}, &MockBroadcaster{})

	now := time.Now()
	_, err := svc.CreateSession(context.Background(), "prof_1", SessionSpec{
		CourseID:  "course_1",
		Title:     "Lecture 1",
		StartTime: now.Add(-time.Hour),
		EndTime:   now.Add(time.Hour),
	})

	assert.ErrorIs(t, err, models.ErrBadRequest)
}

func TestSessionService_CreateSession_EndBeforeStartRejected(t *testing.T) {
	svc := newTestSessionService(&MockSessionRepository{}, &MockBroadcaster{})

	now := time.Now()
	_, err := svc.CreateSession(context.Background(), "prof_1", SessionSpec{
		CourseID:  "course_1",
		Title:     "Lecture 1",
		StartTime: now.Add(2 * time.Hour),
		EndTime:   now.Add(time.Hour),
	})

	assert.ErrorIs(t, err, models.ErrBadRequest)
}

func TestSessionService_StartSession_IssuesCredential(t *testing.T) {
	session := newScheduledSession("session_1", "prof_1")

	var gotNonce, gotSecret *string
	mockRepo := &MockSessionRepository{
		GetByIDFunc: func(ctx context.Context, id string) (*models.AttendanceSession, error) {
			return session, nil
		},
		TransitionStatusFunc: func(ctx context.Context, id string, from, to models.SessionStatus, qrNonce, qrSecret *string, qrIssuedAt *time.Time) (*models.AttendanceSession, error) {
			gotNonce, gotSecret = qrNonce, qrSecret
			updated := *session
			updated.Status = to
			updated.QRNonce = *qrNonce
			updated.QRSecret = *qrSecret
			updated.QRIssuedAt = qrIssuedAt
			return &updated, nil
		},
	}
	broadcaster := &MockBroadcaster{}
	svc := newTestSessionService(mockRepo, broadcaster)

	result, err := svc.StartSession(context.Background(), "session_1", "prof_1")

	require.NoError(t, err)
	assert.Equal(t, models.SessionActive, result.Status)
	require.NotNil(t, gotNonce)
	require.NotNil(t, gotSecret)
	assert.NotEmpty(t, *gotNonce)
	assert.NotEmpty(t, *gotSecret)
	assert.Len(t, broadcaster.EventsOfType(realtime.EventSessionStarted), 1)
}

func TestSessionService_StartSession_FreshCredentialEachStart(t *testing.T) {
	nonces := map[string]bool{}
	mockRepo := &MockSessionRepository{
		GetByIDFunc: func(ctx context.Context, id string) (*models.AttendanceSession, error) {
			return newScheduledSession(id, "prof_1"), nil
		},
		TransitionStatusFunc: func(ctx context.Context, id string, from, to models.SessionStatus, qrNonce, qrSecret *string, qrIssuedAt *time.Time) (*models.AttendanceSession, error) {
			nonces[*qrNonce] = true
			updated := *newScheduledSession(id, "prof_1")
			updated.Status = to
			return &updated, nil
		},
	}
	svc := newTestSessionService(mockRepo, &MockBroadcaster{})

	for i := 0; i < 5; i++ {
		_, err := svc.StartSession(context.Background(), "session_1", "prof_1")
		require.NoError(t, err)
	}

	assert.Len(t, nonces, 5)
}

func TestSessionService_StartSession_NotOwner(t *testing.T) {
	mockRepo := &MockSessionRepository{
		GetByIDFunc: func(ctx context.Context, id string) (*models.AttendanceSession, error) {
			return newScheduledSession(id, "prof_1"), nil
		},
	}
	svc := newTestSessionService(mockRepo, &MockBroadcaster{})

	_, err := svc.StartSession(context.Background(), "session_1", "prof_2")

	assert.ErrorIs(t, err, models.ErrForbidden)
}

func TestSessionService_StartSession_AlreadyActive(t *testing.T) {
	session := newScheduledSession("session_1", "prof_1")
	session.Status = models.SessionActive

	mockRepo := &MockSessionRepository{
		GetByIDFunc: func(ctx context.Context, id string) (*models.AttendanceSession, error) {
			return session, nil
		},
	}
	svc := newTestSessionService(mockRepo, &MockBroadcaster{})

	_, err := svc.StartSession(context.Background(), "session_1", "prof_1")

	assert.ErrorIs(t, err, models.ErrSessionState)
}

func TestSessionService_StartSession_LostTransitionRace(t *testing.T) {
	mockRepo := &MockSessionRepository{
		GetByIDFunc: func(ctx context.Context, id string) (*models.AttendanceSession, error) {
			return newScheduledSession(id, "prof_1"), nil
		},
		TransitionStatusFunc: func(ctx context.Context, id string, from, to models.SessionStatus, qrNonce, qrSecret *string, qrIssuedAt *time.Time) (*models.AttendanceSession, error) {
			return nil, models.ErrSessionState
		},
	}
	broadcaster := &MockBroadcaster{}
	svc := newTestSessionService(mockRepo, broadcaster)

	_, err := svc.StartSession(context.Background(), "session_1", "prof_1")

	assert.ErrorIs(t, err, models.ErrSessionState)
	assert.Empty(t, broadcaster.Events())
}

func TestSessionService_StopSession_Success(t *testing.T) {
	session := newScheduledSession("session_1", "prof_1")
	session.Status = models.SessionActive
	session.QRNonce = "nonce"
	session.QRSecret = "secret"

	mockRepo := &MockSessionRepository{
		GetByIDFunc: func(ctx context.Context, id string) (*models.AttendanceSession, error) {
			return session, nil
		},
		TransitionStatusFunc: func(ctx context.Context, id string, from, to models.SessionStatus, qrNonce, qrSecret *string, qrIssuedAt *time.Time) (*models.AttendanceSession, error) {
			assert.Equal(t, models.SessionActive, from)
			assert.Equal(t, models.SessionCompleted, to)
			assert.Nil(t, qrNonce)
			assert.Nil(t, qrSecret)
			updated := *session
			updated.Status = to
			updated.QRNonce = ""
			updated.QRSecret = ""
			return &updated, nil
		},
	}
	broadcaster := &MockBroadcaster{}
	svc := newTestSessionService(mockRepo, broadcaster)

	result, err := svc.StopSession(context.Background(), "session_1", "prof_1")

	require.NoError(t, err)
	assert.Equal(t, models.SessionCompleted, result.Status)
	assert.Empty(t, result.QRNonce)
	assert.Len(t, broadcaster.EventsOfType(realtime.EventSessionEnded), 1)
}

func TestSessionService_StopSession_NotActive(t *testing.T) {
	mockRepo := &MockSessionRepository{
		GetByIDFunc: func(ctx context.Context, id string) (*models.AttendanceSession, error) {
			return newScheduledSession(id, "prof_1"), nil
		},
	}
	svc := newTestSessionService(mockRepo, &MockBroadcaster{})

	_, err := svc.StopSession(context.Background(), "session_1", "prof_1")

	assert.ErrorIs(t, err, models.ErrSessionState)
}

func TestSessionService_EmergencyStop_EmitsEmergencyEvent(t *testing.T) {
	session := newScheduledSession("session_1", "prof_1")
	session.Status = models.SessionActive

	mockRepo := &MockSessionRepository{
		GetByIDFunc: func(ctx context.Context, id string) (*models.AttendanceSession, error) {
			return session, nil
		},
		TransitionStatusFunc: func(ctx context.Context, id string, from, to models.SessionStatus, qrNonce, qrSecret *string, qrIssuedAt *time.Time) (*models.AttendanceSession, error) {
			updated := *session
			updated.Status = to
			return &updated, nil
		},
	}
	broadcaster := &MockBroadcaster{}
	svc := newTestSessionService(mockRepo, broadcaster)

	_, err := svc.EmergencyStopSession(context.Background(), "session_1", "prof_1")

	require.NoError(t, err)
	assert.Len(t, broadcaster.EventsOfType(realtime.EventEmergencyStop), 1)
}

func TestSessionService_CancelSession_ActiveRejected(t *testing.T) {
	session := newScheduledSession("session_1", "prof_1")
	session.Status = models.SessionActive

	mockRepo := &MockSessionRepository{
		GetByIDFunc: func(ctx context.Context, id string) (*models.AttendanceSession, error) {
			return session, nil
		},
	}
	svc := newTestSessionService(mockRepo, &MockBroadcaster{})

	_, err := svc.CancelSession(context.Background(), "session_1", "prof_1")

	assert.ErrorIs(t, err, models.ErrSessionState)
}

func TestSessionService_CancelSession_TerminalRejected(t *testing.T) {
	session := newScheduledSession("session_1", "prof_1")
	session.Status = models.SessionCompleted

	mockRepo := &MockSessionRepository{
		GetByIDFunc: func(ctx context.Context, id string) (*models.AttendanceSession, error) {
			return session, nil
		},
	}
	svc := newTestSessionService(mockRepo, &MockBroadcaster{})

	_, err := svc.CancelSession(context.Background(), "session_1", "prof_1")

	assert.ErrorIs(t, err, models.ErrSessionState)
}

func TestSessionService_UpdateSession_ActiveRejected(t *testing.T) {
	session := newScheduledSession("session_1", "prof_1")
	session.Status = models.SessionActive

	mockRepo := &MockSessionRepository{
		GetByIDFunc: func(ctx context.Context, id string) (*models.AttendanceSession, error) {
			return session, nil
		},
	}
	svc := newTestSessionService(mockRepo, &MockBroadcaster{})

	now := time.Now()
	_, err := svc.UpdateSession(context.Background(), "session_1", "prof_1", SessionSpec{
		CourseID:  "course_1",
		Title:     "Updated",
		StartTime: now.Add(time.Hour),
		EndTime:   now.Add(2 * time.Hour),
	})

	assert.ErrorIs(t, err, models.ErrSessionState)
}

func TestSessionService_CurrentQRToken_RoundTrip(t *testing.T) {
	session := newScheduledSession("session_1", "prof_1")

	var active *models.AttendanceSession
	mockRepo := &MockSessionRepository{
		GetByIDFunc: func(ctx context.Context, id string) (*models.AttendanceSession, error) {
			if active != nil {
				return active, nil
			}
			return session, nil
		},
		TransitionStatusFunc: func(ctx context.Context, id string, from, to models.SessionStatus, qrNonce, qrSecret *string, qrIssuedAt *time.Time) (*models.AttendanceSession, error) {
			updated := *session
			updated.Status = to
			updated.QRNonce = *qrNonce
			updated.QRSecret = *qrSecret
			updated.QRIssuedAt = qrIssuedAt
			active = &updated
			return &updated, nil
		},
	}
	svc := newTestSessionService(mockRepo, &MockBroadcaster{})

	_, err := svc.StartSession(context.Background(), "session_1", "prof_1")
	require.NoError(t, err)

	token, err := svc.CurrentQRToken(context.Background(), "session_1", "prof_1")
	require.NoError(t, err)
	assert.NotEmpty(t, token)

	assert.True(t, svc.ValidateScanToken(active, token, time.Now()))
	assert.False(t, svc.ValidateScanToken(active, "bogus.00000000", time.Now()))
}

func TestSessionService_CurrentQRToken_InactiveSession(t *testing.T) {
	mockRepo := &MockSessionRepository{
		GetByIDFunc: func(ctx context.Context, id string) (*models.AttendanceSession, error) {
			return newScheduledSession(id, "prof_1"), nil
		},
	}
	svc := newTestSessionService(mockRepo, &MockBroadcaster{})

	_, err := svc.CurrentQRToken(context.Background(), "session_1", "prof_1")

	assert.ErrorIs(t, err, models.ErrSessionState)
}

func TestSessionService_QRPNG_EncodesCurrentToken(t *testing.T) {
	session := newScheduledSession("session_1", "prof_1")
	session.Status = models.SessionActive
	session.QRNonce = "bm9uY2U"
	session.QRSecret = "JBSWY3DPEHPK3PXPJBSWY3DPEHPK3PXP"

	mockRepo := &MockSessionRepository{
		GetByIDFunc: func(ctx context.Context, id string) (*models.AttendanceSession, error) {
			return session, nil
		},
	}
	svc := newTestSessionService(mockRepo, &MockBroadcaster{})

	png, err := svc.QRPNG(context.Background(), "session_1", "prof_1", 256)

	require.NoError(t, err)
	assert.True(t, len(png) > 0)
	assert.Equal(t, []byte{0x89, 'P', 'N', 'G'}, png[:4])
}
