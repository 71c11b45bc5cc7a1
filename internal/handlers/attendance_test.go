package handlers_test

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/campuskit/checkpoint/internal/handlers"
	"github.com/campuskit/checkpoint/internal/models"
	"github.com/campuskit/checkpoint/internal/services"
	pkghttp "github.com/campuskit/checkpoint/pkg/http"
)

func sampleScanRequest() handlers.ScanRequest {
	return handlers.ScanRequest{
		QRToken:           "nonce123.45678901",
		Location:          &handlers.LocationRequest{Latitude: 30.0444, Longitude: 31.2357, Accuracy: 10},
		DeviceFingerprint: "fingerprint-hash-0123456789abcdef",
	}
}

func TestScan_Success(t *testing.T) {
	now := time.Date(2026, 3, 10, 9, 5, 0, 0, time.UTC)
	mockService := &handlers.MockAttendanceVerifier{
		ScanFunc: func(ctx context.Context, req services.ScanRequest) (*services.ScanResult, error) {
			assert.Equal(t, "session_123", req.SessionID)
			assert.Equal(t, "student_1", req.StudentID)
			assert.Equal(t, "nonce123.45678901", req.QRToken)
			return &services.ScanResult{
				Record: &models.AttendanceRecord{
					ID:        "record_1",
					SessionID: req.SessionID,
					StudentID: req.StudentID,
					Timestamp: now,
					Status:    models.RecordPresent,
				},
				Steps: []services.StepResult{
					{Step: services.StepQRScan, Status: services.StepCompleted},
					{Step: services.StepLocation, Status: services.StepCompleted, Distance: 12},
					{Step: services.StepConfirmation, Status: services.StepCompleted},
				},
			}, nil
		},
	}

	handler := handlers.NewAttendanceHandler(mockService)
	req := handlers.NewTestRequest(t, "POST", "/sessions/session_123/attendance/scan", sampleScanRequest())
	req = handlers.WithAuthContext(req, "student_1", models.RoleStudent)
	req = handlers.WithChiRouteContext(req, map[string]string{"id": "session_123"})

	w := httptest.NewRecorder()
	handler.Scan(w, req)

	var resp handlers.ScanResponse
	handlers.AssertJSONResponse(t, w, 201, &resp)
	assert.Equal(t, "PRESENT", resp.Record.Status)
	assert.Len(t, resp.Steps, 3)
	assert.Equal(t, "LOCATION", resp.Steps[1].Step)
}

func TestScan_OutsideGeofence(t *testing.T) {
	mockService := &handlers.MockAttendanceVerifier{
		ScanFunc: func(ctx context.Context, req services.ScanRequest) (*services.ScanResult, error) {
			return nil, &models.GeofenceError{Distance: 480, Allowed: 150}
		},
	}

	handler := handlers.NewAttendanceHandler(mockService)
	req := handlers.NewTestRequest(t, "POST", "/sessions/session_123/attendance/scan", sampleScanRequest())
	req = handlers.WithAuthContext(req, "student_1", models.RoleStudent)
	req = handlers.WithChiRouteContext(req, map[string]string{"id": "session_123"})

	w := httptest.NewRecorder()
	handler.Scan(w, req)

	assert.Equal(t, 403, w.Code)

	var resp pkghttp.ErrorResponse
	assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "outside_geofence", resp.Error)

	details, ok := resp.Details.(map[string]interface{})
	assert.True(t, ok)
	assert.Equal(t, 480.0, details["distance_meters"])
	assert.Equal(t, 150.0, details["allowed_meters"])
}

func TestScan_AlreadyMarked(t *testing.T) {
	mockService := &handlers.MockAttendanceVerifier{
		ScanFunc: func(ctx context.Context, req services.ScanRequest) (*services.ScanResult, error) {
			return nil, models.ErrAlreadyMarked
		},
	}

	handler := handlers.NewAttendanceHandler(mockService)
	req := handlers.NewTestRequest(t, "POST", "/sessions/session_123/attendance/scan", sampleScanRequest())
	req = handlers.WithAuthContext(req, "student_1", models.RoleStudent)
	req = handlers.WithChiRouteContext(req, map[string]string{"id": "session_123"})

	w := httptest.NewRecorder()
	handler.Scan(w, req)

	handlers.AssertErrorResponse(t, w, 409, "already_marked")
}

func TestScan_AttemptLimit(t *testing.T) {
	mockService := &handlers.MockAttendanceVerifier{
		ScanFunc: func(ctx context.Context, req services.ScanRequest) (*services.ScanResult, error) {
			return nil, models.ErrAttemptLimit
		},
	}

	handler := handlers.NewAttendanceHandler(mockService)
	req := handlers.NewTestRequest(t, "POST", "/sessions/session_123/attendance/scan", sampleScanRequest())
	req = handlers.WithAuthContext(req, "student_1", models.RoleStudent)
	req = handlers.WithChiRouteContext(req, map[string]string{"id": "session_123"})

	w := httptest.NewRecorder()
	handler.Scan(w, req)

	handlers.AssertErrorResponse(t, w, 429, "rate_limit_exceeded")
}

func TestScan_InvalidPhotoEncoding(t *testing.T) {
	body := sampleScanRequest()
	body.PhotoBase64 = "not!!valid@@base64"

	handler := handlers.NewAttendanceHandler(&handlers.MockAttendanceVerifier{})
	req := handlers.NewTestRequest(t, "POST", "/sessions/session_123/attendance/scan", body)
	req = handlers.WithAuthContext(req, "student_1", models.RoleStudent)
	req = handlers.WithChiRouteContext(req, map[string]string{"id": "session_123"})

	w := httptest.NewRecorder()
	handler.Scan(w, req)

	handlers.AssertErrorResponse(t, w, 400, "bad_request")
}

func TestScan_Unauthenticated(t *testing.T) {
	handler := handlers.NewAttendanceHandler(&handlers.MockAttendanceVerifier{})
	req := handlers.NewTestRequest(t, "POST", "/sessions/session_123/attendance/scan", sampleScanRequest())
	req = handlers.WithChiRouteContext(req, map[string]string{"id": "session_123"})

	w := httptest.NewRecorder()
	handler.Scan(w, req)

	handlers.AssertErrorResponse(t, w, 401, "unauthorized")
}

func TestVerifyLocation_Success(t *testing.T) {
	mockService := &handlers.MockAttendanceVerifier{
		VerifyLocationFunc: func(ctx context.Context, sessionID string, loc models.CapturedLocation) (*services.StepResult, error) {
			assert.Equal(t, "session_123", sessionID)
			return &services.StepResult{
				Step:     services.StepLocation,
				Status:   services.StepCompleted,
				Distance: 25,
				Allowed:  150,
			}, nil
		},
	}

	handler := handlers.NewAttendanceHandler(mockService)
	req := handlers.NewTestRequest(t, "POST", "/sessions/session_123/attendance/verify-location", handlers.LocationRequest{
		Latitude:  30.0444,
		Longitude: 31.2357,
		Accuracy:  10,
	})
	req = handlers.WithChiRouteContext(req, map[string]string{"id": "session_123"})

	w := httptest.NewRecorder()
	handler.VerifyLocation(w, req)

	var resp handlers.StepResponse
	handlers.AssertJSONResponse(t, w, 200, &resp)
	assert.Equal(t, "COMPLETED", resp.Status)
	assert.Equal(t, 25.0, resp.Distance)
}

func TestVerifyDevice_Success(t *testing.T) {
	mockService := &handlers.MockAttendanceVerifier{
		VerifyDeviceFunc: func(ctx context.Context, sessionID, studentID, fingerprint string) (*models.DeviceTrust, error) {
			assert.Equal(t, "student_1", studentID)
			return &models.DeviceTrust{Trusted: true, Registered: true}, nil
		},
	}

	handler := handlers.NewAttendanceHandler(mockService)
	req := handlers.NewTestRequest(t, "POST", "/sessions/session_123/attendance/verify-device", map[string]string{
		"device_fingerprint": "fingerprint-hash-0123456789abcdef",
	})
	req = handlers.WithAuthContext(req, "student_1", models.RoleStudent)
	req = handlers.WithChiRouteContext(req, map[string]string{"id": "session_123"})

	w := httptest.NewRecorder()
	handler.VerifyDevice(w, req)

	var resp handlers.DeviceTrustResponse
	handlers.AssertJSONResponse(t, w, 200, &resp)
	assert.True(t, resp.Trusted)
	assert.True(t, resp.Registered)
}

func TestListRecords_NotOwner(t *testing.T) {
	mockService := &handlers.MockAttendanceVerifier{
		ListSessionRecordsFunc: func(ctx context.Context, sessionID, actorID string, limit, offset int) ([]*models.AttendanceRecord, error) {
			return nil, models.ErrForbidden
		},
	}

	handler := handlers.NewAttendanceHandler(mockService)
	req := handlers.NewTestRequest(t, "GET", "/sessions/session_123/attendance/records", nil)
	req = handlers.WithAuthContext(req, "prof_2", models.RoleProfessor)
	req = handlers.WithChiRouteContext(req, map[string]string{"id": "session_123"})

	w := httptest.NewRecorder()
	handler.ListRecords(w, req)

	handlers.AssertErrorResponse(t, w, 403, "forbidden")
}
