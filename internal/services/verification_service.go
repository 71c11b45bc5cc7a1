package services

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/campuskit/checkpoint/internal/faceclient"
	"github.com/campuskit/checkpoint/internal/fraud"
	"github.com/campuskit/checkpoint/internal/metrics"
	"github.com/campuskit/checkpoint/internal/models"
	"github.com/campuskit/checkpoint/internal/realtime"
	"github.com/campuskit/checkpoint/pkg/geo"
	pkglogger "github.com/campuskit/checkpoint/pkg/logger"
)

// Pipeline steps, in order.
type Step string

const (
	StepQRScan       Step = "QR_SCAN"
	StepLocation     Step = "LOCATION"
	StepDevice       Step = "DEVICE"
	StepPhoto        Step = "PHOTO"
	StepConfirmation Step = "CONFIRMATION"
)

// StepStatus is the per-step outcome.
type StepStatus string

const (
	StepPending    StepStatus = "PENDING"
	StepInProgress StepStatus = "IN_PROGRESS"
	StepCompleted  StepStatus = "COMPLETED"
	StepFailed     StepStatus = "FAILED"
	StepSkipped    StepStatus = "SKIPPED"
)

// StepResult reports one step's outcome with diagnostics.
type StepResult struct {
	Step     Step       `json:"step"`
	Status   StepStatus `json:"status"`
	Detail   string     `json:"detail,omitempty"`
	Distance float64    `json:"distance_meters,omitempty"`
	Allowed  float64    `json:"allowed_meters,omitempty"`
}

// ScanRequest is one attendance attempt.
type ScanRequest struct {
	SessionID         string
	StudentID         string
	QRToken           string
	Location          *models.CapturedLocation
	DeviceFingerprint string
	Photo             []byte
}

// ScanResult is the pipeline outcome. Record is set whenever an attempt
// was persisted, including failed attempts.
type ScanResult struct {
	Record     *models.AttendanceRecord
	Steps      []StepResult
	FraudScore int
	Alert      *models.FraudAlert
}

// RecordRepository defines the interface for attendance record data access
type RecordRepository interface {
	GetBySessionAndStudent(ctx context.Context, sessionID, studentID string) (*models.AttendanceRecord, error)
	ListBySession(ctx context.Context, sessionID string, limit, offset int) ([]*models.AttendanceRecord, error)
	Upsert(ctx context.Context, rec *models.AttendanceRecord) (*models.AttendanceRecord, error)
}

// AlertRepository defines the interface for fraud alert data access
type AlertRepository interface {
	GetByID(ctx context.Context, id string) (*models.FraudAlert, error)
	Create(ctx context.Context, a *models.FraudAlert) (*models.FraudAlert, error)
	ListForOwner(ctx context.Context, ownerID string, unresolvedOnly bool, limit, offset int) ([]*models.FraudAlert, error)
	Resolve(ctx context.Context, id, resolvedBy string) (*models.FraudAlert, error)
}

// TokenChecker validates a scanned QR token for a session.
type TokenChecker interface {
	ValidateScanToken(session *models.AttendanceSession, token string, at time.Time) bool
}

// FaceVerifier delegates photo matching to the external collaborator.
type FaceVerifier interface {
	Verify(ctx context.Context, studentID string, photo []byte) (*faceclient.VerifyResult, error)
}

// AttemptLimiter tracks scan attempts per (session, student). Advisory;
// a limiter outage never blocks a scan.
type AttemptLimiter interface {
	IncrAttempts(ctx context.Context, sessionID, studentID string, ttl time.Duration) (int64, error)
	ResetAttempts(ctx context.Context, sessionID, studentID string) error
}

// AlertNotifier receives raised alerts for outbound delivery.
type AlertNotifier interface {
	NotifyFraudAlert(alert *models.FraudAlert, session *models.AttendanceSession)
}

// VerificationService runs the five-step pipeline for one scan.
type VerificationService struct {
	sessions    SessionRepository
	records     RecordRepository
	alerts      AlertRepository
	devices     *DeviceService
	tokens      TokenChecker
	face        FaceVerifier
	limiter     AttemptLimiter
	notifier    AlertNotifier
	scorer      *fraud.Scorer
	broadcaster Broadcaster
	logger      *slog.Logger
	audit       *pkglogger.AuditLogger

	confirmLocks *keyedMutex

	accuracyFloor float64
	maxPhotoBytes int64
}

// NewVerificationService wires the pipeline's collaborators explicitly.
func NewVerificationService(
	sessions SessionRepository,
	records RecordRepository,
	alerts AlertRepository,
	devices *DeviceService,
	tokens TokenChecker,
	face FaceVerifier,
	limiter AttemptLimiter,
	notifier AlertNotifier,
	scorer *fraud.Scorer,
	broadcaster Broadcaster,
	logger *slog.Logger,
	audit *pkglogger.AuditLogger,
	accuracyFloor float64,
	maxPhotoBytes int64,
) *VerificationService {
	return &VerificationService{
		sessions:      sessions,
		records:       records,
		alerts:        alerts,
		devices:       devices,
		tokens:        tokens,
		face:          face,
		limiter:       limiter,
		notifier:      notifier,
		scorer:        scorer,
		broadcaster:   broadcaster,
		logger:        logger,
		audit:         audit,
		confirmLocks:  newKeyedMutex(),
		accuracyFloor: accuracyFloor,
		maxPhotoBytes: maxPhotoBytes,
	}
}

// Scan runs the full pipeline. Attempts for different (session, student)
// pairs run fully in parallel; attempts for the same pair serialize at
// confirmation. The attempt deadline derives from the session's grace
// period; an attempt that misses it persists nothing.
func (s *VerificationService) Scan(ctx context.Context, req ScanRequest) (*ScanResult, error) {
	session, err := s.loadActiveSession(ctx, req.SessionID)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, attemptWindow(session))
	defer cancel()

	if err := s.checkAttemptBudget(ctx, session, req); err != nil {
		return nil, err
	}

	unlock := s.confirmLocks.Lock(req.SessionID + "/" + req.StudentID)
	defer unlock()

	// Advisory fast path; the upsert below is the real gate.
	if existing, err := s.records.GetBySessionAndStudent(ctx, req.SessionID, req.StudentID); err == nil && existing.Status.Finalized() {
		return nil, models.ErrAlreadyMarked
	}

	result := &ScanResult{}
	signals := fraud.Signals{}
	now := time.Now()

	if now.Before(session.StartTime) || now.After(session.EndTime) {
		signals.TimingViolation = true
	}

	// QR_SCAN
	if !s.tokens.ValidateScanToken(session, req.QRToken, now) {
		result.Steps = append(result.Steps, StepResult{Step: StepQRScan, Status: StepFailed, Detail: "token mismatch or expired"})
		metrics.StepFailures.WithLabelValues(string(StepQRScan)).Inc()
		s.auditScan(req, 0, false, "qr token rejected")
		return result, models.ErrInvalidQRToken
	}
	result.Steps = append(result.Steps, StepResult{Step: StepQRScan, Status: StepCompleted})

	// LOCATION
	locationStep, geoErr := s.runLocationStep(session, req, &signals)
	result.Steps = append(result.Steps, locationStep)

	// DEVICE
	deviceStep, deviceErr := s.runDeviceStep(ctx, session, req, &signals)
	result.Steps = append(result.Steps, deviceStep)

	// PHOTO
	photoStep, photoErr := s.runPhotoStep(ctx, session, req, &signals)
	result.Steps = append(result.Steps, photoStep)

	result.FraudScore = s.scorer.Score(signals)

	if stepErr := firstError(geoErr, deviceErr, photoErr); stepErr != nil {
		return s.finishFailed(ctx, session, req, result, signals, stepErr)
	}

	// CONFIRMATION
	return s.confirm(ctx, session, req, result, signals, now)
}

// VerifyLocation is the standalone pre-check: same logic as the LOCATION
// step, no record written.
func (s *VerificationService) VerifyLocation(ctx context.Context, sessionID string, loc models.CapturedLocation) (*StepResult, error) {
	session, err := s.loadActiveSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	signals := fraud.Signals{}
	step, stepErr := s.runLocationStep(session, ScanRequest{Location: &loc}, &signals)
	return &step, stepErr
}

// VerifyDevice is the standalone pre-check for device trust.
func (s *VerificationService) VerifyDevice(ctx context.Context, sessionID, studentID, fingerprint string) (*models.DeviceTrust, error) {
	if _, err := s.loadActiveSession(ctx, sessionID); err != nil {
		return nil, err
	}

	// Pre-checks never auto-register; only a real scan may.
	return s.devices.Verify(ctx, studentID, fingerprint, false)
}

// ListSessionRecords returns the records for a session the actor owns.
func (s *VerificationService) ListSessionRecords(ctx context.Context, sessionID, actorID string, limit, offset int) ([]*models.AttendanceRecord, error) {
	session, err := s.sessions.GetByID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, models.ErrNotFound
		}
		return nil, models.ErrInternalServer
	}
	if session.OwnerID != actorID {
		return nil, models.ErrForbidden
	}

	records, err := s.records.ListBySession(ctx, sessionID, limit, offset)
	if err != nil {
		s.logger.Error("failed to list records", slog.String("session_id", sessionID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}
	return records, nil
}

func (s *VerificationService) loadActiveSession(ctx context.Context, sessionID string) (*models.AttendanceSession, error) {
	session, err := s.sessions.GetByID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, models.ErrNotFound
		}
		s.logger.Error("failed to load session", slog.String("session_id", sessionID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}
	if session.Status != models.SessionActive {
		return nil, models.ErrSessionState
	}
	return session, nil
}

func (s *VerificationService) checkAttemptBudget(ctx context.Context, session *models.AttendanceSession, req ScanRequest) error {
	if s.limiter == nil || session.Policy.MaxAttempts <= 0 {
		return nil
	}

	ttl := time.Until(session.EndTime) + session.GracePeriod()
	if ttl <= 0 {
		ttl = time.Minute
	}

	count, err := s.limiter.IncrAttempts(ctx, req.SessionID, req.StudentID, ttl)
	if err != nil {
		// Limiter outage: log and let the scan through.
		s.logger.Warn("attempt limiter unavailable", slog.Any("error", err))
		return nil
	}
	if count > int64(session.Policy.MaxAttempts) {
		return models.ErrAttemptLimit
	}
	return nil
}

func (s *VerificationService) runLocationStep(session *models.AttendanceSession, req ScanRequest, signals *fraud.Signals) (StepResult, error) {
	if !session.Policy.RequireLocation {
		return StepResult{Step: StepLocation, Status: StepSkipped}, nil
	}

	if req.Location == nil {
		signals.LocationViolation = true
		return StepResult{Step: StepLocation, Status: StepFailed, Detail: "location required but not provided"},
			fmt.Errorf("%w: location required", models.ErrBadRequest)
	}

	if s.accuracyFloor > 0 && req.Location.Accuracy > s.accuracyFloor {
		signals.LocationViolation = true
		return StepResult{Step: StepLocation, Status: StepFailed, Detail: "reported accuracy too coarse"},
			models.ErrLowAccuracy
	}

	fence := geo.Fence{
		Center: geo.Point{Latitude: session.Geofence.Latitude, Longitude: session.Geofence.Longitude},
		Radius: session.Geofence.Radius,
		Buffer: session.Geofence.Buffer,
	}
	check := fence.Contains(geo.Point{Latitude: req.Location.Latitude, Longitude: req.Location.Longitude})

	if !check.Inside {
		signals.LocationViolation = true
		metrics.StepFailures.WithLabelValues(string(StepLocation)).Inc()
		return StepResult{
				Step:     StepLocation,
				Status:   StepFailed,
				Detail:   "outside geofence",
				Distance: check.Distance,
				Allowed:  check.Allowed,
			},
			&models.GeofenceError{Distance: check.Distance, Allowed: check.Allowed}
	}

	return StepResult{Step: StepLocation, Status: StepCompleted, Distance: check.Distance, Allowed: check.Allowed}, nil
}

func (s *VerificationService) runDeviceStep(ctx context.Context, session *models.AttendanceSession, req ScanRequest, signals *fraud.Signals) (StepResult, error) {
	if !session.Policy.RequireDeviceCheck {
		return StepResult{Step: StepDevice, Status: StepSkipped}, nil
	}

	if req.DeviceFingerprint == "" {
		signals.DeviceViolation = true
		return StepResult{Step: StepDevice, Status: StepFailed, Detail: "device fingerprint required"},
			fmt.Errorf("%w: device fingerprint required", models.ErrBadRequest)
	}

	trust, err := s.devices.Verify(ctx, req.StudentID, req.DeviceFingerprint, session.Policy.AllowAutoRegister)
	if err != nil {
		return StepResult{Step: StepDevice, Status: StepFailed, Detail: "registry unavailable"}, models.ErrInternalServer
	}

	// A first-use device passes under auto-registration but still counts
	// as elevated risk for the scorer.
	if trust.AutoRegistered {
		signals.DeviceViolation = true
		return StepResult{Step: StepDevice, Status: StepCompleted, Detail: "device auto-registered"}, nil
	}

	if !trust.Trusted {
		signals.DeviceViolation = true
		metrics.StepFailures.WithLabelValues(string(StepDevice)).Inc()
		detail := "fingerprint not registered for this student"
		if trust.Registered {
			detail = "device has been revoked"
		}
		return StepResult{Step: StepDevice, Status: StepFailed, Detail: detail}, models.ErrDeviceUntrusted
	}

	return StepResult{Step: StepDevice, Status: StepCompleted}, nil
}

func (s *VerificationService) runPhotoStep(ctx context.Context, session *models.AttendanceSession, req ScanRequest, signals *fraud.Signals) (StepResult, error) {
	if !session.Policy.RequirePhoto {
		return StepResult{Step: StepPhoto, Status: StepSkipped}, nil
	}

	if len(req.Photo) == 0 {
		signals.PhotoMismatch = true
		return StepResult{Step: StepPhoto, Status: StepFailed, Detail: "photo required but not provided"},
			fmt.Errorf("%w: photo required", models.ErrBadRequest)
	}
	if int64(len(req.Photo)) > s.maxPhotoBytes {
		return StepResult{Step: StepPhoto, Status: StepFailed, Detail: "photo exceeds size limit"},
			fmt.Errorf("%w: photo too large", models.ErrBadRequest)
	}
	if !isSupportedImage(req.Photo) {
		return StepResult{Step: StepPhoto, Status: StepFailed, Detail: "unsupported image format"},
			fmt.Errorf("%w: photo must be jpeg or png", models.ErrBadRequest)
	}

	verdict, err := s.face.Verify(ctx, req.StudentID, req.Photo)
	if err != nil {
		s.logger.Error("face verification failed", slog.String("student_id", req.StudentID), slog.Any("error", err))
		return StepResult{Step: StepPhoto, Status: StepFailed, Detail: "face service unavailable"}, models.ErrInternalServer
	}

	if !verdict.Verified {
		signals.PhotoMismatch = true
		metrics.StepFailures.WithLabelValues(string(StepPhoto)).Inc()
		return StepResult{
				Step:   StepPhoto,
				Status: StepFailed,
				Detail: fmt.Sprintf("face mismatch (similarity %.2f)", verdict.Similarity),
			},
			fmt.Errorf("%w: face does not match enrollment", models.ErrForbidden)
	}

	return StepResult{Step: StepPhoto, Status: StepCompleted, Detail: fmt.Sprintf("quality %.2f", verdict.Quality)}, nil
}

// finishFailed persists the failed attempt (re-attempts stay possible),
// raises an alert when warranted, and broadcasts the failure with
// diagnostics.
func (s *VerificationService) finishFailed(ctx context.Context, session *models.AttendanceSession, req ScanRequest, result *ScanResult, signals fraud.Signals, stepErr error) (*ScanResult, error) {
	failedStep, detail, distance := failureDiagnostics(result.Steps)

	record := &models.AttendanceRecord{
		SessionID:         req.SessionID,
		StudentID:         req.StudentID,
		Timestamp:         time.Now(),
		Status:            models.RecordAbsent,
		Location:          req.Location,
		DeviceFingerprint: req.DeviceFingerprint,
		PhotoReference:    photoDigest(req.Photo),
		FraudScore:        result.FraudScore,
		Notes:             fmt.Sprintf("failed at %s: %s", failedStep, detail),
	}

	stored, err := s.records.Upsert(ctx, record)
	if err != nil {
		if errors.Is(err, models.ErrAlreadyMarked) {
			return nil, models.ErrAlreadyMarked
		}
		s.logger.Error("failed to persist failed attempt", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}
	result.Record = stored

	// Alerts on hard geofence violations are raised regardless of the
	// aggregate threshold: a spoofed location is reviewer-relevant even
	// when no other signal fires.
	if session.Policy.EnableFraudDetection && (s.scorer.Alertable(result.FraudScore) || signals.LocationViolation) {
		severity := s.scorer.SeverityFor(result.FraudScore)
		if signals.LocationViolation && (severity == models.SeverityLow || severity == models.SeverityMedium) {
			severity = models.SeverityHigh
		}
		result.Alert = s.raiseAlert(ctx, session, req, signals, result.FraudScore, severity, detail)
	}

	metrics.ScansTotal.WithLabelValues("failed").Inc()
	s.auditScan(req, result.FraudScore, false, detail)
	s.broadcaster.Publish(realtime.AttendanceFailed(session, req.StudentID, string(failedStep), detail, distance))

	return result, stepErr
}

// confirm executes the atomic check-and-write and the synchronous alert
// path. The repository upsert is the single authority for the
// one-finalized-record invariant.
func (s *VerificationService) confirm(ctx context.Context, session *models.AttendanceSession, req ScanRequest, result *ScanResult, signals fraud.Signals, now time.Time) (*ScanResult, error) {
	status := models.RecordPresent
	if now.After(session.StartTime.Add(session.GracePeriod())) {
		status = models.RecordLate
	}

	record := &models.AttendanceRecord{
		SessionID:         req.SessionID,
		StudentID:         req.StudentID,
		Timestamp:         now,
		Status:            status,
		Location:          req.Location,
		DeviceFingerprint: req.DeviceFingerprint,
		PhotoReference:    photoDigest(req.Photo),
		FraudScore:        result.FraudScore,
	}

	stored, err := s.records.Upsert(ctx, record)
	if err != nil {
		if errors.Is(err, models.ErrAlreadyMarked) {
			metrics.ScansTotal.WithLabelValues("duplicate").Inc()
			return nil, models.ErrAlreadyMarked
		}
		s.logger.Error("failed to persist record", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	result.Record = stored
	result.Steps = append(result.Steps, StepResult{Step: StepConfirmation, Status: StepCompleted})

	// Alert creation is synchronous with record creation: reviewers rely
	// on the alert existing the moment the record does.
	if session.Policy.EnableFraudDetection && s.scorer.Alertable(result.FraudScore) {
		result.Alert = s.raiseAlert(ctx, session, req, signals, result.FraudScore, s.scorer.SeverityFor(result.FraudScore), "high risk score on accepted scan")
		s.broadcaster.Publish(realtime.RiskHigh(req.SessionID, req.StudentID, result.FraudScore))
	}

	if s.limiter != nil {
		if err := s.limiter.ResetAttempts(ctx, req.SessionID, req.StudentID); err != nil {
			s.logger.Warn("failed to reset attempt counter", slog.Any("error", err))
		}
	}

	metrics.ScansTotal.WithLabelValues("marked").Inc()
	s.auditScan(req, result.FraudScore, true, string(status))
	s.broadcaster.Publish(realtime.AttendanceMarked(session, stored))

	return result, nil
}

func (s *VerificationService) raiseAlert(ctx context.Context, session *models.AttendanceSession, req ScanRequest, signals fraud.Signals, score int, severity models.AlertSeverity, detail string) *models.FraudAlert {
	alert := &models.FraudAlert{
		SessionID:   req.SessionID,
		StudentID:   req.StudentID,
		AlertType:   fraud.DominantType(signals),
		Severity:    severity,
		Description: detail,
		Metadata: map[string]string{
			"fraud_score": fmt.Sprintf("%d", score),
			"fingerprint": pkglogger.SanitizedFingerprint(req.DeviceFingerprint),
		},
	}

	stored, err := s.alerts.Create(ctx, alert)
	if err != nil {
		// The record exists either way; a lost alert is logged loudly.
		s.logger.Error("failed to create fraud alert",
			slog.String("session_id", req.SessionID),
			slog.String("student_id", req.StudentID),
			slog.Any("error", err),
		)
		return nil
	}

	metrics.FraudAlerts.WithLabelValues(string(severity)).Inc()
	s.broadcaster.Publish(realtime.FraudDetected(stored))
	s.broadcaster.Publish(realtime.FraudAlertRaised(stored))
	if s.notifier != nil {
		s.notifier.NotifyFraudAlert(stored, session)
	}

	return stored
}

func (s *VerificationService) auditScan(req ScanRequest, score int, success bool, detail string) {
	s.audit.LogScanAttempt(pkglogger.AuditEvent{
		EventType:     "attendance_scan",
		UserID:        req.StudentID,
		SessionID:     req.SessionID,
		Success:       success,
		FailureReason: detail,
		FraudScore:    score,
	})
}

// attemptWindow bounds one attempt's wall time, derived from the grace
// period and clamped to sane limits.
func attemptWindow(session *models.AttendanceSession) time.Duration {
	window := session.GracePeriod()
	if window < 5*time.Second {
		window = 5 * time.Second
	}
	if window > 30*time.Second {
		window = 30 * time.Second
	}
	return window
}

func firstError(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

func failureDiagnostics(steps []StepResult) (Step, string, float64) {
	for _, step := range steps {
		if step.Status == StepFailed {
			return step.Step, step.Detail, step.Distance
		}
	}
	return StepConfirmation, "unknown failure", 0
}

// isSupportedImage sniffs JPEG and PNG magic bytes.
func isSupportedImage(data []byte) bool {
	if len(data) < 8 {
		return false
	}
	if bytes.HasPrefix(data, []byte{0xFF, 0xD8, 0xFF}) {
		return true
	}
	return bytes.HasPrefix(data, []byte{0x89, 'P', 'N', 'G', 0x0D, 0x0A, 0x1A, 0x0A})
}

// photoDigest is the content reference stored on the record. The raw
// image is never persisted; the digest lets a reviewer match the record
// against a photo archived elsewhere.
func photoDigest(photo []byte) string {
	if len(photo) == 0 {
		return ""
	}
	sum := sha256.Sum256(photo)
	return "sha256:" + hex.EncodeToString(sum[:])
}
