package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/campuskit/checkpoint/internal/auth"
	"github.com/campuskit/checkpoint/internal/models"
	pkghttp "github.com/campuskit/checkpoint/pkg/http"
)

// AlertReviewer defines the interface for fraud alert review logic
type AlertReviewer interface {
	ListAlerts(ctx context.Context, actorID, role string, unresolvedOnly bool, limit, offset int) ([]*models.FraudAlert, error)
	GetAlert(ctx context.Context, alertID, actorID, role string) (*models.FraudAlert, error)
	ResolveAlert(ctx context.Context, alertID, actorID, role string) (*models.FraudAlert, error)
}

// AlertHandler handles fraud alert review HTTP requests
type AlertHandler struct {
	service AlertReviewer
}

// NewAlertHandler creates a new AlertHandler
func NewAlertHandler(service AlertReviewer) *AlertHandler {
	return &AlertHandler{
		service: service,
	}
}

// AlertResponse represents a fraud alert in the HTTP response
type AlertResponse struct {
	ID          string            `json:"id"`
	SessionID   string            `json:"session_id"`
	StudentID   string            `json:"student_id"`
	AlertType   string            `json:"alert_type"`
	Severity    string            `json:"severity"`
	Description string            `json:"description"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	IsResolved  bool              `json:"is_resolved"`
	ResolvedBy  string            `json:"resolved_by,omitempty"`
	ResolvedAt  string            `json:"resolved_at,omitempty"`
	CreatedAt   string            `json:"created_at"`
}

// ListAlertsResponse represents a list of fraud alerts
type ListAlertsResponse struct {
	Alerts []*AlertResponse `json:"alerts"`
	Total  int              `json:"total"`
}

func alertModelToResponse(a *models.FraudAlert) *AlertResponse {
	resp := &AlertResponse{
		ID:          a.ID,
		SessionID:   a.SessionID,
		StudentID:   a.StudentID,
		AlertType:   string(a.AlertType),
		Severity:    string(a.Severity),
		Description: a.Description,
		Metadata:    a.Metadata,
		IsResolved:  a.IsResolved,
		ResolvedBy:  a.ResolvedBy,
		CreatedAt:   a.CreatedAt.Format(time.RFC3339),
	}
	if a.ResolvedAt != nil {
		resp.ResolvedAt = a.ResolvedAt.Format(time.RFC3339)
	}
	return resp
}

// ListAlerts returns alerts visible to the caller
func (h *AlertHandler) ListAlerts(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetUserFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "authentication required")
		return
	}

	limit, offset, err := paginationParams(r, 20, 100)
	if err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}
	unresolvedOnly := r.URL.Query().Get("unresolved") == "true"

	alerts, err := h.service.ListAlerts(r.Context(), claims.UserID, claims.Role, unresolvedOnly, limit, offset)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	response := &ListAlertsResponse{
		Alerts: make([]*AlertResponse, len(alerts)),
		Total:  len(alerts),
	}
	for i, a := range alerts {
		response.Alerts[i] = alertModelToResponse(a)
	}

	pkghttp.WriteJSON(w, http.StatusOK, response)
}

// GetAlert returns one alert the caller may see
func (h *AlertHandler) GetAlert(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetUserFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "authentication required")
		return
	}
	alertID := chi.URLParam(r, "id")
	if alertID == "" {
		pkghttp.WriteBadRequest(w, "alert ID is required")
		return
	}

	alert, err := h.service.GetAlert(r.Context(), alertID, claims.UserID, claims.Role)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, alertModelToResponse(alert))
}

// ResolveAlert marks an alert reviewed
func (h *AlertHandler) ResolveAlert(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetUserFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "authentication required")
		return
	}
	alertID := chi.URLParam(r, "id")
	if alertID == "" {
		pkghttp.WriteBadRequest(w, "alert ID is required")
		return
	}

	alert, err := h.service.ResolveAlert(r.Context(), alertID, claims.UserID, claims.Role)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, alertModelToResponse(alert))
}
