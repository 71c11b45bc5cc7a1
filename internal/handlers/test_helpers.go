package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"

	"github.com/campuskit/checkpoint/internal/auth"
	"github.com/campuskit/checkpoint/internal/models"
	"github.com/campuskit/checkpoint/internal/services"
	pkghttp "github.com/campuskit/checkpoint/pkg/http"
)

// NewTestRequest creates an HTTP request with JSON body for testing
func NewTestRequest(t *testing.T, method, url string, body interface{}) *http.Request {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("failed to encode request body: %v", err)
		}
	}
	req := httptest.NewRequest(method, url, &buf)
	req.Header.Set("Content-Type", "application/json")
	return req
}

// WithAuthContext adds user claims to request context for testing authenticated endpoints
func WithAuthContext(req *http.Request, userID, role string) *http.Request {
	claims := &models.TokenClaims{
		UserID: userID,
		Role:   role,
		Type:   "access",
	}
	ctx := context.WithValue(req.Context(), auth.UserContextKey, claims)
	return req.WithContext(ctx)
}

// WithChiRouteContext adds chi URL parameters to request context for testing
func WithChiRouteContext(r *http.Request, params map[string]string) *http.Request {
	rctx := chi.NewRouteContext()
	for key, value := range params {
		rctx.URLParams.Add(key, value)
	}
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

// AssertJSONResponse checks that response has correct status and decodes JSON body
func AssertJSONResponse(t *testing.T, w *httptest.ResponseRecorder, expectedStatus int, target interface{}) {
	assert.Equal(t, expectedStatus, w.Code, "Response status mismatch")

	contentType := w.Header().Get("Content-Type")
	assert.Equal(t, "application/json", contentType, "Content-Type should be application/json")

	if target != nil {
		err := json.Unmarshal(w.Body.Bytes(), target)
		assert.NoError(t, err, "Failed to decode response JSON")
	}
}

// AssertErrorResponse checks that response is a valid error response
func AssertErrorResponse(t *testing.T, w *httptest.ResponseRecorder, expectedStatus int, expectedError string) {
	assert.Equal(t, expectedStatus, w.Code, "Response status mismatch")

	var resp pkghttp.ErrorResponse
	err := json.Unmarshal(w.Body.Bytes(), &resp)
	assert.NoError(t, err, "Failed to decode error response")
	assert.Equal(t, expectedError, resp.Error, "Error code mismatch")
	assert.NotEmpty(t, resp.Message, "Error message should not be empty")
}

// MockSessionManager implements SessionManager for testing
type MockSessionManager struct {
	CreateSessionFunc        func(ctx context.Context, ownerID string, spec services.SessionSpec) (*models.AttendanceSession, error)
	GetSessionFunc           func(ctx context.Context, id string) (*models.AttendanceSession, error)
	ListSessionsFunc         func(ctx context.Context, ownerID string, limit, offset int) ([]*models.AttendanceSession, error)
	StartSessionFunc         func(ctx context.Context, sessionID, actorID string) (*models.AttendanceSession, error)
	StopSessionFunc          func(ctx context.Context, sessionID, actorID string) (*models.AttendanceSession, error)
	EmergencyStopSessionFunc func(ctx context.Context, sessionID, actorID string) (*models.AttendanceSession, error)
	CancelSessionFunc        func(ctx context.Context, sessionID, actorID string) (*models.AttendanceSession, error)
	UpdateSessionFunc        func(ctx context.Context, sessionID, actorID string, spec services.SessionSpec) (*models.AttendanceSession, error)
	CurrentQRTokenFunc       func(ctx context.Context, sessionID, actorID string) (string, error)
	QRPNGFunc                func(ctx context.Context, sessionID, actorID string, size int) ([]byte, error)
}

func (m *MockSessionManager) CreateSession(ctx context.Context, ownerID string, spec services.SessionSpec) (*models.AttendanceSession, error) {
	if m.CreateSessionFunc == nil {
		return nil, models.ErrBadRequest
	}
	return m.CreateSessionFunc(ctx, ownerID, spec)
}

func (m *MockSessionManager) GetSession(ctx context.Context, id string) (*models.AttendanceSession, error) {
	if m.GetSessionFunc == nil {
		return nil, models.ErrNotFound
	}
	return m.GetSessionFunc(ctx, id)
}

func (m *MockSessionManager) ListSessions(ctx context.Context, ownerID string, limit, offset int) ([]*models.AttendanceSession, error) {
	if m.ListSessionsFunc == nil {
		return []*models.AttendanceSession{}, nil
	}
	return m.ListSessionsFunc(ctx, ownerID, limit, offset)
}

func (m *MockSessionManager) StartSession(ctx context.Context, sessionID, actorID string) (*models.AttendanceSession, error) {
	if m.StartSessionFunc == nil {
		return nil, models.ErrSessionState
	}
	return m.StartSessionFunc(ctx, sessionID, actorID)
}

func (m *MockSessionManager) StopSession(ctx context.Context, sessionID, actorID string) (*models.AttendanceSession, error) {
	if m.StopSessionFunc == nil {
		return nil, models.ErrSessionState
	}
	return m.StopSessionFunc(ctx, sessionID, actorID)
}

func (m *MockSessionManager) EmergencyStopSession(ctx context.Context, sessionID, actorID string) (*models.AttendanceSession, error) {
	if m.EmergencyStopSessionFunc == nil {
		return nil, models.ErrSessionState
	}
	return m.EmergencyStopSessionFunc(ctx, sessionID, actorID)
}

func (m *MockSessionManager) CancelSession(ctx context.Context, sessionID, actorID string) (*models.AttendanceSession, error) {
	if m.CancelSessionFunc == nil {
		return nil, models.ErrSessionState
	}
	return m.CancelSessionFunc(ctx, sessionID, actorID)
}

func (m *MockSessionManager) UpdateSession(ctx context.Context, sessionID, actorID string, spec services.SessionSpec) (*models.AttendanceSession, error) {
	if m.UpdateSessionFunc == nil {
		return nil, models.ErrNotFound
	}
	return m.UpdateSessionFunc(ctx, sessionID, actorID, spec)
}

func (m *MockSessionManager) CurrentQRToken(ctx context.Context, sessionID, actorID string) (string, error) {
	if m.CurrentQRTokenFunc == nil {
		return "", models.ErrSessionState
	}
	return m.CurrentQRTokenFunc(ctx, sessionID, actorID)
}

func (m *MockSessionManager) QRPNG(ctx context.Context, sessionID, actorID string, size int) ([]byte, error) {
	if m.QRPNGFunc == nil {
		return nil, models.ErrSessionState
	}
	return m.QRPNGFunc(ctx, sessionID, actorID, size)
}

// MockAttendanceVerifier implements AttendanceVerifier for testing
type MockAttendanceVerifier struct {
	ScanFunc               func(ctx context.Context, req services.ScanRequest) (*services.ScanResult, error)
	VerifyLocationFunc     func(ctx context.Context, sessionID string, loc models.CapturedLocation) (*services.StepResult, error)
	VerifyDeviceFunc       func(ctx context.Context, sessionID, studentID, fingerprint string) (*models.DeviceTrust, error)
	ListSessionRecordsFunc func(ctx context.Context, sessionID, actorID string, limit, offset int) ([]*models.AttendanceRecord, error)
}

func (m *MockAttendanceVerifier) Scan(ctx context.Context, req services.ScanRequest) (*services.ScanResult, error) {
	if m.ScanFunc == nil {
		return nil, models.ErrSessionState
	}
	return m.ScanFunc(ctx, req)
}

func (m *MockAttendanceVerifier) VerifyLocation(ctx context.Context, sessionID string, loc models.CapturedLocation) (*services.StepResult, error) {
	if m.VerifyLocationFunc == nil {
		return nil, models.ErrSessionState
	}
	return m.VerifyLocationFunc(ctx, sessionID, loc)
}

func (m *MockAttendanceVerifier) VerifyDevice(ctx context.Context, sessionID, studentID, fingerprint string) (*models.DeviceTrust, error) {
	if m.VerifyDeviceFunc == nil {
		return nil, models.ErrSessionState
	}
	return m.VerifyDeviceFunc(ctx, sessionID, studentID, fingerprint)
}

func (m *MockAttendanceVerifier) ListSessionRecords(ctx context.Context, sessionID, actorID string, limit, offset int) ([]*models.AttendanceRecord, error) {
	if m.ListSessionRecordsFunc == nil {
		return []*models.AttendanceRecord{}, nil
	}
	return m.ListSessionRecordsFunc(ctx, sessionID, actorID, limit, offset)
}

// MockAuthenticator implements Authenticator for testing
type MockAuthenticator struct {
	LoginFunc         func(ctx context.Context, email, password string) (*services.TokenPair, error)
	RefreshTokensFunc func(ctx context.Context, refreshToken string) (*services.TokenPair, error)
	RegisterFunc      func(ctx context.Context, email, name, password, role string) (*models.User, error)
}

func (m *MockAuthenticator) Login(ctx context.Context, email, password string) (*services.TokenPair, error) {
	if m.LoginFunc == nil {
		return nil, models.ErrUnauthorized
	}
	return m.LoginFunc(ctx, email, password)
}

func (m *MockAuthenticator) RefreshTokens(ctx context.Context, refreshToken string) (*services.TokenPair, error) {
	if m.RefreshTokensFunc == nil {
		return nil, models.ErrUnauthorized
	}
	return m.RefreshTokensFunc(ctx, refreshToken)
}

func (m *MockAuthenticator) Register(ctx context.Context, email, name, password, role string) (*models.User, error) {
	if m.RegisterFunc == nil {
		return nil, models.ErrConflict
	}
	return m.RegisterFunc(ctx, email, name, password, role)
}

// MockDeviceRegistry implements DeviceRegistry for testing
type MockDeviceRegistry struct {
	RegisterFunc func(ctx context.Context, studentID, fingerprintHash, deviceInfo string) (*models.DeviceFingerprint, error)
	ListFunc     func(ctx context.Context, studentID string) ([]*models.DeviceFingerprint, error)
	RevokeFunc   func(ctx context.Context, studentID, deviceID string) error
}

func (m *MockDeviceRegistry) Register(ctx context.Context, studentID, fingerprintHash, deviceInfo string) (*models.DeviceFingerprint, error) {
	if m.RegisterFunc == nil {
		return nil, models.ErrBadRequest
	}
	return m.RegisterFunc(ctx, studentID, fingerprintHash, deviceInfo)
}

func (m *MockDeviceRegistry) List(ctx context.Context, studentID string) ([]*models.DeviceFingerprint, error) {
	if m.ListFunc == nil {
		return []*models.DeviceFingerprint{}, nil
	}
	return m.ListFunc(ctx, studentID)
}

func (m *MockDeviceRegistry) Revoke(ctx context.Context, studentID, deviceID string) error {
	if m.RevokeFunc == nil {
		return models.ErrNotFound
	}
	return m.RevokeFunc(ctx, studentID, deviceID)
}

// MockAlertReviewer implements AlertReviewer for testing
type MockAlertReviewer struct {
	ListAlertsFunc   func(ctx context.Context, actorID, role string, unresolvedOnly bool, limit, offset int) ([]*models.FraudAlert, error)
	GetAlertFunc     func(ctx context.Context, alertID, actorID, role string) (*models.FraudAlert, error)
	ResolveAlertFunc func(ctx context.Context, alertID, actorID, role string) (*models.FraudAlert, error)
}

func (m *MockAlertReviewer) ListAlerts(ctx context.Context, actorID, role string, unresolvedOnly bool, limit, offset int) ([]*models.FraudAlert, error) {
	if m.ListAlertsFunc == nil {
		return []*models.FraudAlert{}, nil
	}
	return m.ListAlertsFunc(ctx, actorID, role, unresolvedOnly, limit, offset)
}

func (m *MockAlertReviewer) GetAlert(ctx context.Context, alertID, actorID, role string) (*models.FraudAlert, error) {
	if m.GetAlertFunc == nil {
		return nil, models.ErrNotFound
	}
	return m.GetAlertFunc(ctx, alertID, actorID, role)
}

func (m *MockAlertReviewer) ResolveAlert(ctx context.Context, alertID, actorID, role string) (*models.FraudAlert, error) {
	if m.ResolveAlertFunc == nil {
		return nil, models.ErrNotFound
	}
	return m.ResolveAlertFunc(ctx, alertID, actorID, role)
}
