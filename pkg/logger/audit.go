package logger

import (
	"log/slog"
	"time"
)

// AuditEvent represents a security audit event
type AuditEvent struct {
	EventType     string
	UserID        string
	SessionID     string
	IPAddress     string
	Success       bool
	FailureReason string
	FraudScore    int
	Metadata      map[string]string
}

// AuditLogger provides audit logging for verification and review actions
type AuditLogger struct {
	logger *slog.Logger
}

// NewAuditLogger creates a new audit logger
func NewAuditLogger(logger *slog.Logger) *AuditLogger {
	return &AuditLogger{
		logger: logger,
	}
}

// LogScanAttempt logs one verification pipeline outcome
func (al *AuditLogger) LogScanAttempt(event AuditEvent) {
	attrs := al.baseAttrs("scan", event)
	attrs = append(attrs, slog.Int("fraud_score", event.FraudScore))
	al.logger.LogAttrs(nil, slog.LevelInfo, "audit event", attrs...)
}

// LogSessionTransition logs session lifecycle changes
func (al *AuditLogger) LogSessionTransition(event AuditEvent) {
	al.logger.LogAttrs(nil, slog.LevelInfo, "audit event", al.baseAttrs("session", event)...)
}

// LogAlertResolution logs fraud alert review actions
func (al *AuditLogger) LogAlertResolution(event AuditEvent) {
	al.logger.LogAttrs(nil, slog.LevelInfo, "audit event", al.baseAttrs("fraud_alert", event)...)
}

// LogDeviceChange logs device registry mutations
func (al *AuditLogger) LogDeviceChange(event AuditEvent) {
	al.logger.LogAttrs(nil, slog.LevelInfo, "audit event", al.baseAttrs("device", event)...)
}

func (al *AuditLogger) baseAttrs(auditType string, event AuditEvent) []slog.Attr {
	attrs := []slog.Attr{
		slog.String("audit_type", auditType),
		slog.String("event_type", event.EventType),
		slog.Bool("success", event.Success),
		slog.String("timestamp", time.Now().UTC().Format(time.RFC3339)),
	}

	if event.UserID != "" {
		attrs = append(attrs, slog.String("user_id", event.UserID))
	}
	if event.SessionID != "" {
		attrs = append(attrs, slog.String("session_id", event.SessionID))
	}
	if event.IPAddress != "" {
		attrs = append(attrs, slog.String("ip_address", event.IPAddress))
	}
	if event.FailureReason != "" {
		attrs = append(attrs, slog.String("failure_reason", event.FailureReason))
	}
	for k, v := range event.Metadata {
		attrs = append(attrs, slog.String("meta_"+k, v))
	}

	return attrs
}
