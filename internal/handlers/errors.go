package handlers

import (
	"errors"
	"net/http"

	"github.com/campuskit/checkpoint/internal/models"
	pkghttp "github.com/campuskit/checkpoint/pkg/http"
)

// writeServiceError maps service-layer sentinel errors onto the API's
// error vocabulary. Geofence failures carry their measured distance so
// clients can tell the student how far off they are.
func writeServiceError(w http.ResponseWriter, err error) {
	var geoErr *models.GeofenceError
	switch {
	case errors.As(err, &geoErr):
		pkghttp.WriteErrorWithDetails(w, http.StatusForbidden, "outside_geofence", "location is outside the session geofence", map[string]float64{
			"distance_meters": geoErr.Distance,
			"allowed_meters":  geoErr.Allowed,
		})
	case errors.Is(err, models.ErrAlreadyMarked):
		pkghttp.WriteAlreadyMarked(w, "attendance already marked for this session")
	case errors.Is(err, models.ErrInvalidQRToken):
		pkghttp.WriteError(w, http.StatusUnauthorized, "invalid_qr_token", "QR token is invalid or expired")
	case errors.Is(err, models.ErrDeviceUntrusted):
		pkghttp.WriteError(w, http.StatusForbidden, "device_untrusted", "device is not registered for this student")
	case errors.Is(err, models.ErrDeviceQuota):
		pkghttp.WriteError(w, http.StatusConflict, "device_quota_exceeded", "maximum number of registered devices reached")
	case errors.Is(err, models.ErrDuplicateDevice):
		pkghttp.WriteConflict(w, "device is already registered")
	case errors.Is(err, models.ErrAttemptLimit):
		pkghttp.WriteTooManyRequests(w, "maximum scan attempts reached for this session")
	case errors.Is(err, models.ErrLowAccuracy):
		pkghttp.WriteError(w, http.StatusBadRequest, "low_accuracy", "reported location accuracy is too coarse")
	case errors.Is(err, models.ErrSessionState):
		pkghttp.WriteError(w, http.StatusConflict, "invalid_session_state", "operation not allowed in the session's current state")
	case errors.Is(err, models.ErrNotFound):
		pkghttp.WriteNotFound(w, "resource not found")
	case errors.Is(err, models.ErrForbidden):
		pkghttp.WriteForbidden(w, "you cannot access this resource")
	case errors.Is(err, models.ErrUnauthorized):
		pkghttp.WriteUnauthorized(w, "authentication required")
	case errors.Is(err, models.ErrConflict):
		pkghttp.WriteConflict(w, "resource conflict")
	case errors.Is(err, models.ErrBadRequest):
		pkghttp.WriteBadRequest(w, err.Error())
	default:
		pkghttp.WriteInternalError(w, "internal server error")
	}
}
