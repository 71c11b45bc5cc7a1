package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/campuskit/checkpoint/internal/auth"
	"github.com/campuskit/checkpoint/internal/models"
	pkghttp "github.com/campuskit/checkpoint/pkg/http"
)

// DeviceRegistry defines the interface for device trust business logic
type DeviceRegistry interface {
	Register(ctx context.Context, studentID, fingerprintHash, deviceInfo string) (*models.DeviceFingerprint, error)
	List(ctx context.Context, studentID string) ([]*models.DeviceFingerprint, error)
	Revoke(ctx context.Context, studentID, deviceID string) error
}

// DeviceHandler handles device registry HTTP requests
type DeviceHandler struct {
	service DeviceRegistry
}

// NewDeviceHandler creates a new DeviceHandler
func NewDeviceHandler(service DeviceRegistry) *DeviceHandler {
	return &DeviceHandler{
		service: service,
	}
}

// RegisterDeviceRequest represents the request body for registering a device
type RegisterDeviceRequest struct {
	FingerprintHash string `json:"fingerprint_hash" validate:"required,min=16,max=128"`
	DeviceInfo      string `json:"device_info" validate:"max=500"`
}

// DeviceResponse represents a device in the HTTP response
type DeviceResponse struct {
	ID         string `json:"id"`
	DeviceInfo string `json:"device_info"`
	IsActive   bool   `json:"is_active"`
	LastUsedAt string `json:"last_used_at,omitempty"`
	CreatedAt  string `json:"created_at"`
}

// ListDevicesResponse represents a student's devices
type ListDevicesResponse struct {
	Devices []*DeviceResponse `json:"devices"`
	Total   int               `json:"total"`
}

func deviceModelToResponse(d *models.DeviceFingerprint) *DeviceResponse {
	resp := &DeviceResponse{
		ID:         d.ID,
		DeviceInfo: d.DeviceInfo,
		IsActive:   d.IsActive,
		CreatedAt:  d.CreatedAt.Format(time.RFC3339),
	}
	if d.LastUsedAt != nil {
		resp.LastUsedAt = d.LastUsedAt.Format(time.RFC3339)
	}
	return resp
}

// RegisterDevice adds a device for the calling student
func (h *DeviceHandler) RegisterDevice(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetUserFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "authentication required")
		return
	}

	var req RegisterDeviceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "invalid request body")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	device, err := h.service.Register(r.Context(), claims.UserID, req.FingerprintHash, req.DeviceInfo)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusCreated, deviceModelToResponse(device))
}

// ListDevices returns the calling student's devices
func (h *DeviceHandler) ListDevices(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetUserFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "authentication required")
		return
	}

	devices, err := h.service.List(r.Context(), claims.UserID)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	response := &ListDevicesResponse{
		Devices: make([]*DeviceResponse, len(devices)),
		Total:   len(devices),
	}
	for i, d := range devices {
		response.Devices[i] = deviceModelToResponse(d)
	}

	pkghttp.WriteJSON(w, http.StatusOK, response)
}

// RevokeDevice deactivates one of the calling student's devices
func (h *DeviceHandler) RevokeDevice(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetUserFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "authentication required")
		return
	}
	deviceID := chi.URLParam(r, "id")
	if deviceID == "" {
		pkghttp.WriteBadRequest(w, "device ID is required")
		return
	}

	if err := h.service.Revoke(r.Context(), claims.UserID, deviceID); err != nil {
		writeServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
