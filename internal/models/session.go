package models

import (
	"time"
)

// SessionStatus is the lifecycle state of an attendance session.
type SessionStatus string

const (
	SessionScheduled SessionStatus = "SCHEDULED"
	SessionActive    SessionStatus = "ACTIVE"
	SessionCompleted SessionStatus = "COMPLETED"
	SessionCancelled SessionStatus = "CANCELLED"
)

// Terminal reports whether no further transitions are allowed.
func (s SessionStatus) Terminal() bool {
	return s == SessionCompleted || s == SessionCancelled
}

// Geofence is the circular region a location-bearing scan must fall in.
// Buffer widens the radius to absorb consumer-GPS error.
type Geofence struct {
	Latitude  float64
	Longitude float64
	Radius    float64
	Buffer    float64
}

// SecurityPolicy controls which verification steps a session requires.
type SecurityPolicy struct {
	RequireLocation      bool
	RequirePhoto         bool
	RequireDeviceCheck   bool
	EnableFraudDetection bool
	AllowAutoRegister    bool
	MaxAttempts          int
	GracePeriodSeconds   int
}

// AttendanceSession is one scheduled class meeting requiring attendance.
type AttendanceSession struct {
	ID        string
	CourseID  string
	OwnerID   string
	Title     string
	StartTime time.Time
	EndTime   time.Time
	Geofence  Geofence
	Policy    SecurityPolicy

	// QRNonce and QRSecret together form the current scan credential.
	// Both are regenerated on every start and cleared on stop/cancel.
	QRNonce    string
	QRSecret   string
	QRIssuedAt *time.Time

	Status    SessionStatus
	CreatedAt time.Time
	UpdatedAt time.Time
}

// GracePeriod returns the policy grace period as a duration.
func (s *AttendanceSession) GracePeriod() time.Duration {
	return time.Duration(s.Policy.GracePeriodSeconds) * time.Second
}
