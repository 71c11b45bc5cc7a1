package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/campuskit/checkpoint/internal/auth"
	"github.com/campuskit/checkpoint/internal/models"
	"github.com/campuskit/checkpoint/internal/services"
	pkghttp "github.com/campuskit/checkpoint/pkg/http"
)

// SessionManager defines the interface for session lifecycle business logic
type SessionManager interface {
	CreateSession(ctx context.Context, ownerID string, spec services.SessionSpec) (*models.AttendanceSession, error)
	GetSession(ctx context.Context, id string) (*models.AttendanceSession, error)
	ListSessions(ctx context.Context, ownerID string, limit, offset int) ([]*models.AttendanceSession, error)
	StartSession(ctx context.Context, sessionID, actorID string) (*models.AttendanceSession, error)
	StopSession(ctx context.Context, sessionID, actorID string) (*models.AttendanceSession, error)
	EmergencyStopSession(ctx context.Context, sessionID, actorID string) (*models.AttendanceSession, error)
	CancelSession(ctx context.Context, sessionID, actorID string) (*models.AttendanceSession, error)
	UpdateSession(ctx context.Context, sessionID, actorID string, spec services.SessionSpec) (*models.AttendanceSession, error)
	CurrentQRToken(ctx context.Context, sessionID, actorID string) (string, error)
	QRPNG(ctx context.Context, sessionID, actorID string, size int) ([]byte, error)
}

// SessionHandler handles session lifecycle HTTP requests
type SessionHandler struct {
	service SessionManager
}

// NewSessionHandler creates a new SessionHandler
func NewSessionHandler(service SessionManager) *SessionHandler {
	return &SessionHandler{
		service: service,
	}
}

// Request/Response DTOs

// GeofenceRequest represents the circular region in session requests
type GeofenceRequest struct {
	Latitude  float64 `json:"latitude" validate:"latitude"`
	Longitude float64 `json:"longitude" validate:"longitude"`
	Radius    float64 `json:"radius_meters" validate:"gte=0,lte=10000"`
	Buffer    float64 `json:"buffer_meters" validate:"gte=0,lte=1000"`
}

// PolicyRequest represents the security policy in session requests
type PolicyRequest struct {
	RequireLocation      bool `json:"require_location"`
	RequirePhoto         bool `json:"require_photo"`
	RequireDeviceCheck   bool `json:"require_device_check"`
	EnableFraudDetection bool `json:"enable_fraud_detection"`
	AllowAutoRegister    bool `json:"allow_auto_register"`
	MaxAttempts          int  `json:"max_attempts" validate:"gte=0,lte=10"`
	GracePeriodSeconds   int  `json:"grace_period_seconds" validate:"gte=0,lte=3600"`
}

// SessionRequest represents the request body for creating or updating a session
type SessionRequest struct {
	CourseID  string          `json:"course_id" validate:"required"`
	Title     string          `json:"title" validate:"required,min=1,max=200"`
	StartTime time.Time       `json:"start_time" validate:"required"`
	EndTime   time.Time       `json:"end_time" validate:"required"`
	Geofence  GeofenceRequest `json:"geofence"`
	Policy    PolicyRequest   `json:"policy"`
}

// SessionResponse represents a session in the HTTP response
type SessionResponse struct {
	ID        string          `json:"id"`
	CourseID  string          `json:"course_id"`
	OwnerID   string          `json:"owner_id"`
	Title     string          `json:"title"`
	StartTime string          `json:"start_time"`
	EndTime   string          `json:"end_time"`
	Geofence  GeofenceRequest `json:"geofence"`
	Policy    PolicyRequest   `json:"policy"`
	Status    string          `json:"status"`
	CreatedAt string          `json:"created_at"`
}

// ListSessionsResponse represents a list of sessions
type ListSessionsResponse struct {
	Sessions []*SessionResponse `json:"sessions"`
	Total    int                `json:"total"`
}

// QRTokenResponse carries the current rotating token for display.
type QRTokenResponse struct {
	Token string `json:"token"`
}

func sessionModelToResponse(s *models.AttendanceSession) *SessionResponse {
	return &SessionResponse{
		ID:        s.ID,
		CourseID:  s.CourseID,
		OwnerID:   s.OwnerID,
		Title:     s.Title,
		StartTime: s.StartTime.Format(time.RFC3339),
		EndTime:   s.EndTime.Format(time.RFC3339),
		Geofence: GeofenceRequest{
			Latitude:  s.Geofence.Latitude,
			Longitude: s.Geofence.Longitude,
			Radius:    s.Geofence.Radius,
			Buffer:    s.Geofence.Buffer,
		},
		Policy: PolicyRequest{
			RequireLocation:      s.Policy.RequireLocation,
			RequirePhoto:         s.Policy.RequirePhoto,
			RequireDeviceCheck:   s.Policy.RequireDeviceCheck,
			EnableFraudDetection: s.Policy.EnableFraudDetection,
			AllowAutoRegister:    s.Policy.AllowAutoRegister,
			MaxAttempts:          s.Policy.MaxAttempts,
			GracePeriodSeconds:   s.Policy.GracePeriodSeconds,
		},
		Status:    string(s.Status),
		CreatedAt: s.CreatedAt.Format(time.RFC3339),
	}
}

func specFromRequest(req SessionRequest) services.SessionSpec {
	return services.SessionSpec{
		CourseID:  req.CourseID,
		Title:     req.Title,
		StartTime: req.StartTime,
		EndTime:   req.EndTime,
		Geofence: models.Geofence{
			Latitude:  req.Geofence.Latitude,
			Longitude: req.Geofence.Longitude,
			Radius:    req.Geofence.Radius,
			Buffer:    req.Geofence.Buffer,
		},
		Policy: models.SecurityPolicy{
			RequireLocation:      req.Policy.RequireLocation,
			RequirePhoto:         req.Policy.RequirePhoto,
			RequireDeviceCheck:   req.Policy.RequireDeviceCheck,
			EnableFraudDetection: req.Policy.EnableFraudDetection,
			AllowAutoRegister:    req.Policy.AllowAutoRegister,
			MaxAttempts:          req.Policy.MaxAttempts,
			GracePeriodSeconds:   req.Policy.GracePeriodSeconds,
		},
	}
}

// CreateSession creates a new attendance session
func (h *SessionHandler) CreateSession(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetUserFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "authentication required")
		return
	}

	var req SessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "invalid request body")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	session, err := h.service.CreateSession(r.Context(), claims.UserID, specFromRequest(req))
	if err != nil {
		writeServiceError(w, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusCreated, sessionModelToResponse(session))
}

// ListSessions retrieves the caller's sessions with pagination
func (h *SessionHandler) ListSessions(w http.ResponseWriter, r *http.Request) {
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

	sessions, err := h.service.ListSessions(r.Context(), claims.UserID, limit, offset)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	response := &ListSessionsResponse{
		Sessions: make([]*SessionResponse, len(sessions)),
		Total:    len(sessions),
	}
	for i, s := range sessions {
		response.Sessions[i] = sessionModelToResponse(s)
	}

	pkghttp.WriteJSON(w, http.StatusOK, response)
}

// GetSession retrieves a session by ID
func (h *SessionHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "id")
	if sessionID == "" {
		pkghttp.WriteBadRequest(w, "session ID is required")
		return
	}

	session, err := h.service.GetSession(r.Context(), sessionID)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, sessionModelToResponse(session))
}

// UpdateSession rewrites a scheduled session
func (h *SessionHandler) UpdateSession(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetUserFromContext(r)
	sessionID := chi.URLParam(r, "id")
	if claims == nil || sessionID == "" {
		pkghttp.WriteBadRequest(w, "session ID is required")
		return
	}

	var req SessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "invalid request body")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	session, err := h.service.UpdateSession(r.Context(), sessionID, claims.UserID, specFromRequest(req))
	if err != nil {
		writeServiceError(w, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, sessionModelToResponse(session))
}

// StartSession activates a scheduled session and issues its QR credential
func (h *SessionHandler) StartSession(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.service.StartSession)
}

// StopSession completes an active session
func (h *SessionHandler) StopSession(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.service.StopSession)
}

// EmergencyStopSession halts an active session immediately
func (h *SessionHandler) EmergencyStopSession(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.service.EmergencyStopSession)
}

// CancelSession cancels a session that never went live
func (h *SessionHandler) CancelSession(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.service.CancelSession)
}

func (h *SessionHandler) transition(w http.ResponseWriter, r *http.Request, op func(ctx context.Context, sessionID, actorID string) (*models.AttendanceSession, error)) {
	claims := auth.GetUserFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "authentication required")
		return
	}
	sessionID := chi.URLParam(r, "id")
	if sessionID == "" {
		pkghttp.WriteBadRequest(w, "session ID is required")
		return
	}

	session, err := op(r.Context(), sessionID, claims.UserID)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, sessionModelToResponse(session))
}

// GetQRToken returns the current rotating token for an active session
func (h *SessionHandler) GetQRToken(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetUserFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "authentication required")
		return
	}
	sessionID := chi.URLParam(r, "id")

	token, err := h.service.CurrentQRToken(r.Context(), sessionID, claims.UserID)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, QRTokenResponse{Token: token})
}

// GetQRImage renders the current token as a PNG for classroom display
func (h *SessionHandler) GetQRImage(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetUserFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "authentication required")
		return
	}
	sessionID := chi.URLParam(r, "id")

	size := 256
	if s := r.URL.Query().Get("size"); s != "" {
		if _, err := parseIntParam(s, &size, 64, 1024); err != nil {
			pkghttp.WriteBadRequest(w, "invalid size parameter")
			return
		}
	}

	png, err := h.service.QRPNG(r.Context(), sessionID, claims.UserID, size)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(png)
}
