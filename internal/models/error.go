package models

import (
	"errors"
	"fmt"
)

// Sentinel errors for common failure conditions
var (
	ErrNotFound       = errors.New("resource not found")
	ErrConflict       = errors.New("resource already exists")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrForbidden      = errors.New("forbidden")
	ErrBadRequest     = errors.New("bad request")
	ErrInternalServer = errors.New("internal server error")

	// Verification errors
	ErrSessionState    = errors.New("operation not valid for current session state")
	ErrInvalidQRToken  = errors.New("qr token invalid or expired")
	ErrDeviceUntrusted = errors.New("device fingerprint not trusted")
	ErrDeviceQuota     = errors.New("active device limit reached")
	ErrDuplicateDevice = errors.New("device fingerprint already registered")
	ErrAlreadyMarked   = errors.New("attendance already marked for this session")
	ErrAttemptLimit    = errors.New("verification attempt limit reached")
	ErrLowAccuracy     = errors.New("location accuracy below required floor")
)

// GeofenceError reports a failed location check with enough detail for the
// client to self-correct. Distances are meters.
type GeofenceError struct {
	Distance float64
	Allowed  float64
}

func (e *GeofenceError) Error() string {
	return fmt.Sprintf("outside geofence: %.0fm from center, %.0fm allowed", e.Distance, e.Allowed)
}
