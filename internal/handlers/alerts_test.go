package handlers_test

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/campuskit/checkpoint/internal/handlers"
	"github.com/campuskit/checkpoint/internal/models"
)

func sampleAlert() *models.FraudAlert {
	return &models.FraudAlert{
		ID:          "alert_123",
		SessionID:   "session_123",
		StudentID:   "student_1",
		AlertType:   models.AlertLocation,
		Severity:    models.SeverityHigh,
		Description: "scan location 480m outside geofence",
		Metadata:    map[string]string{"fraud_score": "50"},
		CreatedAt:   time.Now(),
	}
}

func TestListAlerts_Success(t *testing.T) {
	mockService := &handlers.MockAlertReviewer{
		ListAlertsFunc: func(ctx context.Context, actorID, role string, unresolvedOnly bool, limit, offset int) ([]*models.FraudAlert, error) {
			assert.Equal(t, "prof_1", actorID)
			assert.True(t, unresolvedOnly)
			return []*models.FraudAlert{sampleAlert()}, nil
		},
	}

	handler := handlers.NewAlertHandler(mockService)
	req := handlers.NewTestRequest(t, "GET", "/alerts?unresolved=true", nil)
	req = handlers.WithAuthContext(req, "prof_1", models.RoleProfessor)

	w := httptest.NewRecorder()
	handler.ListAlerts(w, req)

	var resp handlers.ListAlertsResponse
	handlers.AssertJSONResponse(t, w, 200, &resp)
	assert.Equal(t, 1, resp.Total)
	assert.Equal(t, "LOCATION", resp.Alerts[0].AlertType)
	assert.Equal(t, "HIGH", resp.Alerts[0].Severity)
}

func TestGetAlert_NotVisible(t *testing.T) {
	mockService := &handlers.MockAlertReviewer{
		GetAlertFunc: func(ctx context.Context, alertID, actorID, role string) (*models.FraudAlert, error) {
			return nil, models.ErrForbidden
		},
	}

	handler := handlers.NewAlertHandler(mockService)
	req := handlers.NewTestRequest(t, "GET", "/alerts/alert_123", nil)
	req = handlers.WithAuthContext(req, "prof_2", models.RoleProfessor)
	req = handlers.WithChiRouteContext(req, map[string]string{"id": "alert_123"})

	w := httptest.NewRecorder()
	handler.GetAlert(w, req)

	handlers.AssertErrorResponse(t, w, 403, "forbidden")
}

func TestResolveAlert_Success(t *testing.T) {
	resolvedAt := time.Now()
	mockService := &handlers.MockAlertReviewer{
		ResolveAlertFunc: func(ctx context.Context, alertID, actorID, role string) (*models.FraudAlert, error) {
			alert := sampleAlert()
			alert.IsResolved = true
			alert.ResolvedBy = actorID
			alert.ResolvedAt = &resolvedAt
			return alert, nil
		},
	}

	handler := handlers.NewAlertHandler(mockService)
	req := handlers.NewTestRequest(t, "POST", "/alerts/alert_123/resolve", nil)
	req = handlers.WithAuthContext(req, "prof_1", models.RoleProfessor)
	req = handlers.WithChiRouteContext(req, map[string]string{"id": "alert_123"})

	w := httptest.NewRecorder()
	handler.ResolveAlert(w, req)

	var resp handlers.AlertResponse
	handlers.AssertJSONResponse(t, w, 200, &resp)
	assert.True(t, resp.IsResolved)
	assert.Equal(t, "prof_1", resp.ResolvedBy)
	assert.NotEmpty(t, resp.ResolvedAt)
}

func TestResolveAlert_AlreadyResolved(t *testing.T) {
	mockService := &handlers.MockAlertReviewer{
		ResolveAlertFunc: func(ctx context.Context, alertID, actorID, role string) (*models.FraudAlert, error) {
			return nil, models.ErrConflict
		},
	}

	handler := handlers.NewAlertHandler(mockService)
	req := handlers.NewTestRequest(t, "POST", "/alerts/alert_123/resolve", nil)
	req = handlers.WithAuthContext(req, "prof_1", models.RoleProfessor)
	req = handlers.WithChiRouteContext(req, map[string]string{"id": "alert_123"})

	w := httptest.NewRecorder()
	handler.ResolveAlert(w, req)

	handlers.AssertErrorResponse(t, w, 409, "conflict")
}
