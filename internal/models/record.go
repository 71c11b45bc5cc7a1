package models

import (
	"time"
)

// RecordStatus is the outcome recorded for one verification attempt.
type RecordStatus string

const (
	RecordPresent RecordStatus = "PRESENT"
	RecordLate    RecordStatus = "LATE"
	RecordAbsent  RecordStatus = "ABSENT"
	RecordExcused RecordStatus = "EXCUSED"
)

// Finalized reports whether the record can no longer be overwritten by a
// re-attempt. At most one finalized record may exist per
// (session, student) pair. An excused absence is finalized too: a scan
// must not replace an administrative excusal.
func (s RecordStatus) Finalized() bool {
	return s == RecordPresent || s == RecordLate || s == RecordExcused
}

// CapturedLocation is the client-reported position at scan time.
type CapturedLocation struct {
	Latitude  float64
	Longitude float64
	Accuracy  float64
}

// AttendanceRecord is one verification attempt (successful or not) by a
// student against a session.
type AttendanceRecord struct {
	ID                string
	SessionID         string
	StudentID         string
	Timestamp         time.Time
	Status            RecordStatus
	Location          *CapturedLocation
	DeviceFingerprint string
	PhotoReference    string
	FraudScore        int
	Notes             string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}
