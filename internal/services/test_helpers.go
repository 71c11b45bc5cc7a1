package services

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/campuskit/checkpoint/internal/faceclient"
	"github.com/campuskit/checkpoint/internal/models"
	"github.com/campuskit/checkpoint/internal/realtime"
	pkglogger "github.com/campuskit/checkpoint/pkg/logger"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestAudit() *pkglogger.AuditLogger {
	return pkglogger.NewAuditLogger(newTestLogger())
}

// MockSessionRepository implements SessionRepository for testing
type MockSessionRepository struct {
	GetByIDFunc          func(ctx context.Context, id string) (*models.AttendanceSession, error)
	ListByOwnerFunc      func(ctx context.Context, ownerID string, limit, offset int) ([]*models.AttendanceSession, error)
	CreateFunc           func(ctx context.Context, s *models.AttendanceSession) (*models.AttendanceSession, error)
	UpdateFunc           func(ctx context.Context, s *models.AttendanceSession) (*models.AttendanceSession, error)
	TransitionStatusFunc func(ctx context.Context, id string, from, to models.SessionStatus, qrNonce, qrSecret *string, qrIssuedAt *time.Time) (*models.AttendanceSession, error)
}

func (m *MockSessionRepository) GetByID(ctx context.Context, id string) (*models.AttendanceSession, error) {
	if m.GetByIDFunc != nil {
		return m.GetByIDFunc(ctx, id)
	}
	return nil, models.ErrNotFound
}

func (m *MockSessionRepository) ListByOwner(ctx context.Context, ownerID string, limit, offset int) ([]*models.AttendanceSession, error) {
	if m.ListByOwnerFunc != nil {
		return m.ListByOwnerFunc(ctx, ownerID, limit, offset)
	}
	return []*models.AttendanceSession{}, nil
}

func (m *MockSessionRepository) Create(ctx context.Context, s *models.AttendanceSession) (*models.AttendanceSession, error) {
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, s)
	}
	created := *s
	created.ID = "session_123"
	created.Status = models.SessionScheduled
	return &created, nil
}

func (m *MockSessionRepository) Update(ctx context.Context, s *models.AttendanceSession) (*models.AttendanceSession, error) {
	if m.UpdateFunc != nil {
		return m.UpdateFunc(ctx, s)
	}
	return s, nil
}

func (m *MockSessionRepository) TransitionStatus(ctx context.Context, id string, from, to models.SessionStatus, qrNonce, qrSecret *string, qrIssuedAt *time.Time) (*models.AttendanceSession, error) {
	if m.TransitionStatusFunc != nil {
		return m.TransitionStatusFunc(ctx, id, from, to, qrNonce, qrSecret, qrIssuedAt)
	}
	return nil, models.ErrSessionState
}

// MockRecordRepository implements RecordRepository for testing
type MockRecordRepository struct {
	GetBySessionAndStudentFunc func(ctx context.Context, sessionID, studentID string) (*models.AttendanceRecord, error)
	ListBySessionFunc          func(ctx context.Context, sessionID string, limit, offset int) ([]*models.AttendanceRecord, error)
	UpsertFunc                 func(ctx context.Context, rec *models.AttendanceRecord) (*models.AttendanceRecord, error)
}

func (m *MockRecordRepository) GetBySessionAndStudent(ctx context.Context, sessionID, studentID string) (*models.AttendanceRecord, error) {
	if m.GetBySessionAndStudentFunc != nil {
		return m.GetBySessionAndStudentFunc(ctx, sessionID, studentID)
	}
	return nil, models.ErrNotFound
}

func (m *MockRecordRepository) ListBySession(ctx context.Context, sessionID string, limit, offset int) ([]*models.AttendanceRecord, error) {
	if m.ListBySessionFunc != nil {
		return m.ListBySessionFunc(ctx, sessionID, limit, offset)
	}
	return []*models.AttendanceRecord{}, nil
}

func (m *MockRecordRepository) Upsert(ctx context.Context, rec *models.AttendanceRecord) (*models.AttendanceRecord, error) {
	if m.UpsertFunc != nil {
		return m.UpsertFunc(ctx, rec)
	}
	stored := *rec
	stored.ID = "record_123"
	return &stored, nil
}

// memoryRecordRepo is an in-memory RecordRepository enforcing the same
// guard as the database upsert: once a finalized record exists for a
// (session, student) pair, further upserts fail with ErrAlreadyMarked.
type memoryRecordRepo struct {
	mu      sync.Mutex
	records map[string]*models.AttendanceRecord
	nextID  int
}

func newMemoryRecordRepo() *memoryRecordRepo {
	return &memoryRecordRepo{records: make(map[string]*models.AttendanceRecord)}
}

func (r *memoryRecordRepo) key(sessionID, studentID string) string {
	return sessionID + "/" + studentID
}

func (r *memoryRecordRepo) GetBySessionAndStudent(ctx context.Context, sessionID, studentID string) (*models.AttendanceRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rec, ok := r.records[r.key(sessionID, studentID)]; ok {
		copied := *rec
		return &copied, nil
	}
	return nil, models.ErrNotFound
}

func (r *memoryRecordRepo) ListBySession(ctx context.Context, sessionID string, limit, offset int) ([]*models.AttendanceRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []*models.AttendanceRecord{}
	for _, rec := range r.records {
		if rec.SessionID == sessionID {
			copied := *rec
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (r *memoryRecordRepo) Upsert(ctx context.Context, rec *models.AttendanceRecord) (*models.AttendanceRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := r.key(rec.SessionID, rec.StudentID)
	if existing, ok := r.records[key]; ok {
		if existing.Status.Finalized() {
			return nil, models.ErrAlreadyMarked
		}
		updated := *rec
		updated.ID = existing.ID
		r.records[key] = &updated
		copied := updated
		return &copied, nil
	}

	r.nextID++
	stored := *rec
	stored.ID = fmt.Sprintf("record_%d", r.nextID)
	r.records[key] = &stored
	copied := stored
	return &copied, nil
}

// MockAlertRepository implements AlertRepository for testing
type MockAlertRepository struct {
	mu sync.Mutex

	GetByIDFunc      func(ctx context.Context, id string) (*models.FraudAlert, error)
	CreateFunc       func(ctx context.Context, a *models.FraudAlert) (*models.FraudAlert, error)
	ListForOwnerFunc func(ctx context.Context, ownerID string, unresolvedOnly bool, limit, offset int) ([]*models.FraudAlert, error)
	ResolveFunc      func(ctx context.Context, id, resolvedBy string) (*models.FraudAlert, error)

	created []*models.FraudAlert
}

func (m *MockAlertRepository) GetByID(ctx context.Context, id string) (*models.FraudAlert, error) {
	if m.GetByIDFunc != nil {
		return m.GetByIDFunc(ctx, id)
	}
	return nil, models.ErrNotFound
}

func (m *MockAlertRepository) Create(ctx context.Context, a *models.FraudAlert) (*models.FraudAlert, error) {
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, a)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	stored := *a
	stored.ID = fmt.Sprintf("alert_%d", len(m.created)+1)
	m.created = append(m.created, &stored)
	return &stored, nil
}

func (m *MockAlertRepository) ListForOwner(ctx context.Context, ownerID string, unresolvedOnly bool, limit, offset int) ([]*models.FraudAlert, error) {
	if m.ListForOwnerFunc != nil {
		return m.ListForOwnerFunc(ctx, ownerID, unresolvedOnly, limit, offset)
	}
	return []*models.FraudAlert{}, nil
}

func (m *MockAlertRepository) Resolve(ctx context.Context, id, resolvedBy string) (*models.FraudAlert, error) {
	if m.ResolveFunc != nil {
		return m.ResolveFunc(ctx, id, resolvedBy)
	}
	return nil, models.ErrNotFound
}

// Created returns alerts stored through the default Create path.
func (m *MockAlertRepository) Created() []*models.FraudAlert {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*models.FraudAlert, len(m.created))
	copy(out, m.created)
	return out
}

// MockDeviceRepository implements DeviceRepository for testing
type MockDeviceRepository struct {
	GetByIDFunc              func(ctx context.Context, id string) (*models.DeviceFingerprint, error)
	GetByStudentAndHashFunc  func(ctx context.Context, studentID, fingerprintHash string) (*models.DeviceFingerprint, error)
	ListByStudentFunc        func(ctx context.Context, studentID string) ([]*models.DeviceFingerprint, error)
	CountActiveByStudentFunc func(ctx context.Context, studentID string) (int, error)
	CreateFunc               func(ctx context.Context, d *models.DeviceFingerprint) (*models.DeviceFingerprint, error)
	TouchLastUsedFunc        func(ctx context.Context, id string, usedAt time.Time) error
	DeactivateFunc           func(ctx context.Context, studentID, deviceID string) error
}

func (m *MockDeviceRepository) GetByID(ctx context.Context, id string) (*models.DeviceFingerprint, error) {
	if m.GetByIDFunc != nil {
		return m.GetByIDFunc(ctx, id)
	}
	return nil, models.ErrNotFound
}

func (m *MockDeviceRepository) GetByStudentAndHash(ctx context.Context, studentID, fingerprintHash string) (*models.DeviceFingerprint, error) {
	if m.GetByStudentAndHashFunc != nil {
		return m.GetByStudentAndHashFunc(ctx, studentID, fingerprintHash)
	}
	return nil, models.ErrNotFound
}

func (m *MockDeviceRepository) ListByStudent(ctx context.Context, studentID string) ([]*models.DeviceFingerprint, error) {
	if m.ListByStudentFunc != nil {
		return m.ListByStudentFunc(ctx, studentID)
	}
	return []*models.DeviceFingerprint{}, nil
}

func (m *MockDeviceRepository) CountActiveByStudent(ctx context.Context, studentID string) (int, error) {
	if m.CountActiveByStudentFunc != nil {
		return m.CountActiveByStudentFunc(ctx, studentID)
	}
	return 0, nil
}

func (m *MockDeviceRepository) Create(ctx context.Context, d *models.DeviceFingerprint) (*models.DeviceFingerprint, error) {
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, d)
	}
	created := *d
	created.ID = "device_123"
	created.IsActive = true
	return &created, nil
}

func (m *MockDeviceRepository) TouchLastUsed(ctx context.Context, id string, usedAt time.Time) error {
	if m.TouchLastUsedFunc != nil {
		return m.TouchLastUsedFunc(ctx, id, usedAt)
	}
	return nil
}

func (m *MockDeviceRepository) Deactivate(ctx context.Context, studentID, deviceID string) error {
	if m.DeactivateFunc != nil {
		return m.DeactivateFunc(ctx, studentID, deviceID)
	}
	return nil
}

// MockBroadcaster collects published events. Safe for concurrent use.
type MockBroadcaster struct {
	mu     sync.Mutex
	events []realtime.Event
}

func (m *MockBroadcaster) Publish(event realtime.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
}

func (m *MockBroadcaster) Events() []realtime.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]realtime.Event, len(m.events))
	copy(out, m.events)
	return out
}

func (m *MockBroadcaster) EventsOfType(t realtime.EventType) []realtime.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []realtime.Event
	for _, e := range m.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

// MockFaceVerifier implements FaceVerifier for testing
type MockFaceVerifier struct {
	VerifyFunc func(ctx context.Context, studentID string, photo []byte) (*faceclient.VerifyResult, error)
}

func (m *MockFaceVerifier) Verify(ctx context.Context, studentID string, photo []byte) (*faceclient.VerifyResult, error) {
	if m.VerifyFunc != nil {
		return m.VerifyFunc(ctx, studentID, photo)
	}
	return &faceclient.VerifyResult{Verified: true, Similarity: 0.95, Quality: 0.9}, nil
}

// MockAttemptLimiter implements AttemptLimiter for testing
type MockAttemptLimiter struct {
	mu       sync.Mutex
	counts   map[string]int64
	IncrFunc func(ctx context.Context, sessionID, studentID string, ttl time.Duration) (int64, error)
}

func (m *MockAttemptLimiter) IncrAttempts(ctx context.Context, sessionID, studentID string, ttl time.Duration) (int64, error) {
	if m.IncrFunc != nil {
		return m.IncrFunc(ctx, sessionID, studentID, ttl)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.counts == nil {
		m.counts = make(map[string]int64)
	}
	m.counts[sessionID+"/"+studentID]++
	return m.counts[sessionID+"/"+studentID], nil
}

func (m *MockAttemptLimiter) ResetAttempts(ctx context.Context, sessionID, studentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.counts != nil {
		delete(m.counts, sessionID+"/"+studentID)
	}
	return nil
}

// MockEmailSender implements EmailSender for testing
type MockEmailSender struct {
	mu       sync.Mutex
	sent     []string
	SendFunc func(ctx context.Context, to, subject, htmlBody, textBody string) error
}

func (m *MockEmailSender) Send(ctx context.Context, to, subject, htmlBody, textBody string) error {
	if m.SendFunc != nil {
		return m.SendFunc(ctx, to, subject, htmlBody, textBody)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, to)
	return nil
}

func (m *MockEmailSender) Sent() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.sent))
	copy(out, m.sent)
	return out
}

// MockUserLookup implements UserLookup for testing
type MockUserLookup struct {
	GetByIDFunc func(ctx context.Context, id string) (*models.User, error)
}

func (m *MockUserLookup) GetByID(ctx context.Context, id string) (*models.User, error) {
	if m.GetByIDFunc != nil {
		return m.GetByIDFunc(ctx, id)
	}
	return nil, models.ErrNotFound
}

// MockNotifier implements AlertNotifier for testing
type MockNotifier struct {
	mu     sync.Mutex
	alerts []*models.FraudAlert
}

func (m *MockNotifier) NotifyFraudAlert(alert *models.FraudAlert, session *models.AttendanceSession) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.alerts = append(m.alerts, alert)
}

func (m *MockNotifier) Notified() []*models.FraudAlert {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*models.FraudAlert, len(m.alerts))
	copy(out, m.alerts)
	return out
}
