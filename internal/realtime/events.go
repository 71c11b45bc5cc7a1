package realtime

import (
	"time"

	"github.com/campuskit/checkpoint/internal/models"
)

// EventType is the closed set of server-emitted event names.
type EventType string

const (
	EventAttendanceMarked EventType = "attendance:marked"
	EventAttendanceFailed EventType = "attendance:failed"
	EventFraudDetected    EventType = "attendance:fraud_detected"
	EventFraudAlert       EventType = "security:fraud_alert"
	EventRiskHigh         EventType = "security:risk_high"
	EventDeviceChange     EventType = "security:device_change"
	EventSessionStarted   EventType = "session:started"
	EventSessionEnded     EventType = "session:ended"
	EventSessionUpdated   EventType = "session:updated"
	EventEmergencyStop    EventType = "session:emergency_stop"
	EventNotification     EventType = "notification"
	EventHealthCheck      EventType = "health_check"
)

// Targets names the subscription groups an event fans out to. Empty
// fields are skipped; a connection matched by several groups still
// receives the event once.
type Targets struct {
	SessionID string
	CourseID  string
	UserID    string
	Role      string
}

// Event is one typed message handed to the hub for fan-out.
type Event struct {
	Type      EventType   `json:"type"`
	Payload   interface{} `json:"payload"`
	Timestamp time.Time   `json:"timestamp"`

	targets Targets
}

// AttendancePayload accompanies marked/failed/fraud attendance events.
type AttendancePayload struct {
	SessionID  string  `json:"session_id"`
	StudentID  string  `json:"student_id"`
	Status     string  `json:"status,omitempty"`
	FraudScore int     `json:"fraud_score"`
	FailedStep string  `json:"failed_step,omitempty"`
	Reason     string  `json:"reason,omitempty"`
	Distance   float64 `json:"distance_meters,omitempty"`
}

// AlertPayload accompanies security events.
type AlertPayload struct {
	AlertID   string `json:"alert_id,omitempty"`
	SessionID string `json:"session_id"`
	StudentID string `json:"student_id"`
	AlertType string `json:"alert_type"`
	Severity  string `json:"severity"`
	Message   string `json:"message,omitempty"`
}

// SessionPayload accompanies session lifecycle events.
type SessionPayload struct {
	SessionID string `json:"session_id"`
	CourseID  string `json:"course_id"`
	Title     string `json:"title"`
	Status    string `json:"status"`
}

// HeartbeatPayload carries aggregate connection statistics.
type HeartbeatPayload struct {
	TotalConnections         int            `json:"total_connections"`
	AuthenticatedConnections int            `json:"authenticated_connections"`
	SessionConnections       map[string]int `json:"session_connections,omitempty"`
	UserConnections          map[string]int `json:"user_connections,omitempty"`
}

// NotificationPayload carries a user-facing message.
type NotificationPayload struct {
	Title   string `json:"title"`
	Message string `json:"message"`
	Level   string `json:"level"`
}

func newEvent(t EventType, payload interface{}, targets Targets) Event {
	return Event{Type: t, Payload: payload, Timestamp: time.Now().UTC(), targets: targets}
}

// AttendanceMarked targets the session's subscribers and the student.
func AttendanceMarked(s *models.AttendanceSession, rec *models.AttendanceRecord) Event {
	return newEvent(EventAttendanceMarked, AttendancePayload{
		SessionID:  rec.SessionID,
		StudentID:  rec.StudentID,
		Status:     string(rec.Status),
		FraudScore: rec.FraudScore,
	}, Targets{SessionID: rec.SessionID, CourseID: s.CourseID, UserID: rec.StudentID})
}

// AttendanceFailed targets the session's subscribers and the student,
// carrying step diagnostics.
func AttendanceFailed(s *models.AttendanceSession, studentID, failedStep, reason string, distance float64) Event {
	return newEvent(EventAttendanceFailed, AttendancePayload{
		SessionID:  s.ID,
		StudentID:  studentID,
		FailedStep: failedStep,
		Reason:     reason,
		Distance:   distance,
	}, Targets{SessionID: s.ID, CourseID: s.CourseID, UserID: studentID})
}

// FraudDetected targets the session's professor-facing subscribers.
func FraudDetected(alert *models.FraudAlert) Event {
	return newEvent(EventFraudDetected, AlertPayload{
		AlertID:   alert.ID,
		SessionID: alert.SessionID,
		StudentID: alert.StudentID,
		AlertType: string(alert.AlertType),
		Severity:  string(alert.Severity),
	}, Targets{SessionID: alert.SessionID, Role: models.RoleAdmin})
}

// FraudAlertRaised mirrors FraudDetected on the security channel.
func FraudAlertRaised(alert *models.FraudAlert) Event {
	return newEvent(EventFraudAlert, AlertPayload{
		AlertID:   alert.ID,
		SessionID: alert.SessionID,
		StudentID: alert.StudentID,
		AlertType: string(alert.AlertType),
		Severity:  string(alert.Severity),
	}, Targets{SessionID: alert.SessionID, Role: models.RoleAdmin})
}

// RiskHigh warns the scanning student directly.
func RiskHigh(sessionID, studentID string, score int) Event {
	return newEvent(EventRiskHigh, AlertPayload{
		SessionID: sessionID,
		StudentID: studentID,
		AlertType: string(models.AlertBehavior),
		Severity:  string(models.SeverityHigh),
		Message:   "elevated risk detected for this attempt",
	}, Targets{UserID: studentID})
}

// DeviceChange notifies a student that a new device was registered.
func DeviceChange(studentID, deviceInfo string) Event {
	return newEvent(EventDeviceChange, NotificationPayload{
		Title:   "New device registered",
		Message: deviceInfo,
		Level:   "warning",
	}, Targets{UserID: studentID})
}

// SessionLifecycle builds started/ended/updated/emergency events.
func SessionLifecycle(t EventType, s *models.AttendanceSession) Event {
	return newEvent(t, SessionPayload{
		SessionID: s.ID,
		CourseID:  s.CourseID,
		Title:     s.Title,
		Status:    string(s.Status),
	}, Targets{SessionID: s.ID, CourseID: s.CourseID, UserID: s.OwnerID})
}

// Notify sends a plain notification to one user.
func Notify(userID, title, message, level string) Event {
	return newEvent(EventNotification, NotificationPayload{
		Title:   title,
		Message: message,
		Level:   level,
	}, Targets{UserID: userID})
}
