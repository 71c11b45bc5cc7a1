package models

import (
	"time"
)

// AlertType categorizes what tripped a fraud alert.
type AlertType string

const (
	AlertLocation AlertType = "LOCATION"
	AlertDevice   AlertType = "DEVICE"
	AlertPhoto    AlertType = "PHOTO"
	AlertBehavior AlertType = "BEHAVIOR"
	AlertNetwork  AlertType = "NETWORK"
)

// AlertSeverity bands a fraud score into reviewer-facing urgency.
type AlertSeverity string

const (
	SeverityLow      AlertSeverity = "LOW"
	SeverityMedium   AlertSeverity = "MEDIUM"
	SeverityHigh     AlertSeverity = "HIGH"
	SeverityCritical AlertSeverity = "CRITICAL"
)

// FraudAlert is a flagged high-risk event tied to an attendance record.
// Created automatically when the fraud score exceeds the alert threshold;
// resolved only by the session owner or an administrator.
type FraudAlert struct {
	ID          string
	SessionID   string
	StudentID   string
	AlertType   AlertType
	Severity    AlertSeverity
	Description string
	Metadata    map[string]string
	IsResolved  bool
	ResolvedBy  string
	ResolvedAt  *time.Time
	CreatedAt   time.Time
}
