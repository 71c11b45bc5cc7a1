package models

import (
	"time"
)

// DeviceFingerprint is a registered device belonging to a student.
// FingerprintHash is unique per student; at most the configured number of
// active devices may exist per student.
type DeviceFingerprint struct {
	ID              string
	StudentID       string
	FingerprintHash string
	DeviceInfo      string
	IsActive        bool
	LastUsedAt      *time.Time
	CreatedAt       time.Time
}

// DeviceTrust is the result of a registry lookup for a submitted fingerprint.
type DeviceTrust struct {
	Trusted        bool
	Registered     bool
	AutoRegistered bool
	Device         *DeviceFingerprint
}
