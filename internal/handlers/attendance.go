package handlers

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/campuskit/checkpoint/internal/auth"
	"github.com/campuskit/checkpoint/internal/models"
	"github.com/campuskit/checkpoint/internal/services"
	pkghttp "github.com/campuskit/checkpoint/pkg/http"
)

// AttendanceVerifier defines the interface for the verification pipeline
type AttendanceVerifier interface {
	Scan(ctx context.Context, req services.ScanRequest) (*services.ScanResult, error)
	VerifyLocation(ctx context.Context, sessionID string, loc models.CapturedLocation) (*services.StepResult, error)
	VerifyDevice(ctx context.Context, sessionID, studentID, fingerprint string) (*models.DeviceTrust, error)
	ListSessionRecords(ctx context.Context, sessionID, actorID string, limit, offset int) ([]*models.AttendanceRecord, error)
}

// AttendanceHandler handles scan and verification HTTP requests
type AttendanceHandler struct {
	service AttendanceVerifier
}

// NewAttendanceHandler creates a new AttendanceHandler
func NewAttendanceHandler(service AttendanceVerifier) *AttendanceHandler {
	return &AttendanceHandler{
		service: service,
	}
}

// Request/Response DTOs

// LocationRequest represents a client-reported position
type LocationRequest struct {
	Latitude  float64 `json:"latitude" validate:"latitude"`
	Longitude float64 `json:"longitude" validate:"longitude"`
	Accuracy  float64 `json:"accuracy_meters" validate:"gte=0"`
}

// ScanRequest represents the request body for an attendance scan
type ScanRequest struct {
	QRToken           string           `json:"qr_token" validate:"required"`
	Location          *LocationRequest `json:"location,omitempty"`
	DeviceFingerprint string           `json:"device_fingerprint,omitempty"`
	PhotoBase64       string           `json:"photo,omitempty"`
}

// StepResponse reports one pipeline step's outcome
type StepResponse struct {
	Step     string  `json:"step"`
	Status   string  `json:"status"`
	Detail   string  `json:"detail,omitempty"`
	Distance float64 `json:"distance_meters,omitempty"`
	Allowed  float64 `json:"allowed_meters,omitempty"`
}

// RecordResponse represents an attendance record in the HTTP response
type RecordResponse struct {
	ID         string `json:"id"`
	SessionID  string `json:"session_id"`
	StudentID  string `json:"student_id"`
	Timestamp  string `json:"timestamp"`
	Status     string `json:"status"`
	FraudScore int    `json:"fraud_score"`
	Notes      string `json:"notes,omitempty"`
}

// ScanResponse represents the outcome of a scan attempt
type ScanResponse struct {
	Record     *RecordResponse `json:"record,omitempty"`
	Steps      []StepResponse  `json:"steps"`
	FraudScore int             `json:"fraud_score"`
}

// ListRecordsResponse represents a session's attendance records
type ListRecordsResponse struct {
	Records []*RecordResponse `json:"records"`
	Total   int               `json:"total"`
}

// DeviceTrustResponse reports a device pre-check outcome
type DeviceTrustResponse struct {
	Trusted    bool `json:"trusted"`
	Registered bool `json:"registered"`
}

func recordModelToResponse(rec *models.AttendanceRecord) *RecordResponse {
	return &RecordResponse{
		ID:         rec.ID,
		SessionID:  rec.SessionID,
		StudentID:  rec.StudentID,
		Timestamp:  rec.Timestamp.Format(time.RFC3339),
		Status:     string(rec.Status),
		FraudScore: rec.FraudScore,
		Notes:      rec.Notes,
	}
}

func stepsToResponse(steps []services.StepResult) []StepResponse {
	out := make([]StepResponse, len(steps))
	for i, s := range steps {
		out[i] = StepResponse{
			Step:     string(s.Step),
			Status:   string(s.Status),
			Detail:   s.Detail,
			Distance: s.Distance,
			Allowed:  s.Allowed,
		}
	}
	return out
}

// Scan runs the full verification pipeline for the calling student
func (h *AttendanceHandler) Scan(w http.ResponseWriter, r *http.Request) {
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

	var req ScanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "invalid request body")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	scan := services.ScanRequest{
		SessionID:         sessionID,
		StudentID:         claims.UserID,
		QRToken:           req.QRToken,
		DeviceFingerprint: req.DeviceFingerprint,
	}
	if req.Location != nil {
		scan.Location = &models.CapturedLocation{
			Latitude:  req.Location.Latitude,
			Longitude: req.Location.Longitude,
			Accuracy:  req.Location.Accuracy,
		}
	}
	if req.PhotoBase64 != "" {
		photo, err := base64.StdEncoding.DecodeString(req.PhotoBase64)
		if err != nil {
			pkghttp.WriteBadRequest(w, "photo must be base64 encoded")
			return
		}
		scan.Photo = photo
	}

	result, err := h.service.Scan(r.Context(), scan)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	response := &ScanResponse{
		Steps:      stepsToResponse(result.Steps),
		FraudScore: result.FraudScore,
	}
	if result.Record != nil {
		response.Record = recordModelToResponse(result.Record)
	}

	pkghttp.WriteJSON(w, http.StatusCreated, response)
}

// VerifyLocation checks a position against the session geofence without
// writing a record
func (h *AttendanceHandler) VerifyLocation(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "id")
	if sessionID == "" {
		pkghttp.WriteBadRequest(w, "session ID is required")
		return
	}

	var req LocationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "invalid request body")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	step, err := h.service.VerifyLocation(r.Context(), sessionID, models.CapturedLocation{
		Latitude:  req.Latitude,
		Longitude: req.Longitude,
		Accuracy:  req.Accuracy,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, StepResponse{
		Step:     string(step.Step),
		Status:   string(step.Status),
		Detail:   step.Detail,
		Distance: step.Distance,
		Allowed:  step.Allowed,
	})
}

// VerifyDevice checks device trust without writing a record
func (h *AttendanceHandler) VerifyDevice(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetUserFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "authentication required")
		return
	}
	sessionID := chi.URLParam(r, "id")

	var req struct {
		Fingerprint string `json:"device_fingerprint" validate:"required"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "invalid request body")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	trust, err := h.service.VerifyDevice(r.Context(), sessionID, claims.UserID, req.Fingerprint)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, DeviceTrustResponse{
		Trusted:    trust.Trusted,
		Registered: trust.Registered,
	})
}

// ListRecords returns a session's attendance records to its owner
func (h *AttendanceHandler) ListRecords(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetUserFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "authentication required")
		return
	}
	sessionID := chi.URLParam(r, "id")

	limit, offset, err := paginationParams(r, 50, 500)
	if err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	records, err := h.service.ListSessionRecords(r.Context(), sessionID, claims.UserID, limit, offset)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	response := &ListRecordsResponse{
		Records: make([]*RecordResponse, len(records)),
		Total:   len(records),
	}
	for i, rec := range records {
		response.Records[i] = recordModelToResponse(rec)
	}

	pkghttp.WriteJSON(w, http.StatusOK, response)
}
