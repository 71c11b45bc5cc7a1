package handlers_test

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/campuskit/checkpoint/internal/handlers"
	"github.com/campuskit/checkpoint/internal/models"
)

func TestRegisterDevice_Success(t *testing.T) {
	mockService := &handlers.MockDeviceRegistry{
		RegisterFunc: func(ctx context.Context, studentID, fingerprintHash, deviceInfo string) (*models.DeviceFingerprint, error) {
			assert.Equal(t, "student_1", studentID)
			return &models.DeviceFingerprint{
				ID:         "device_123",
				StudentID:  studentID,
				DeviceInfo: deviceInfo,
				IsActive:   true,
				CreatedAt:  time.Now(),
			}, nil
		},
	}

	handler := handlers.NewDeviceHandler(mockService)
	req := handlers.NewTestRequest(t, "POST", "/devices", handlers.RegisterDeviceRequest{
		FingerprintHash: "fingerprint-hash-0123456789abcdef",
		DeviceInfo:      "Pixel 9, Android 16",
	})
	req = handlers.WithAuthContext(req, "student_1", models.RoleStudent)

	w := httptest.NewRecorder()
	handler.RegisterDevice(w, req)

	var resp handlers.DeviceResponse
	handlers.AssertJSONResponse(t, w, 201, &resp)
	assert.Equal(t, "device_123", resp.ID)
	assert.True(t, resp.IsActive)
}

func TestRegisterDevice_ShortFingerprint(t *testing.T) {
	handler := handlers.NewDeviceHandler(&handlers.MockDeviceRegistry{})
	req := handlers.NewTestRequest(t, "POST", "/devices", handlers.RegisterDeviceRequest{
		FingerprintHash: "short",
	})
	req = handlers.WithAuthContext(req, "student_1", models.RoleStudent)

	w := httptest.NewRecorder()
	handler.RegisterDevice(w, req)

	handlers.AssertErrorResponse(t, w, 400, "bad_request")
}

func TestRegisterDevice_QuotaExceeded(t *testing.T) {
	mockService := &handlers.MockDeviceRegistry{
		RegisterFunc: func(ctx context.Context, studentID, fingerprintHash, deviceInfo string) (*models.DeviceFingerprint, error) {
			return nil, models.ErrDeviceQuota
		},
	}

	handler := handlers.NewDeviceHandler(mockService)
	req := handlers.NewTestRequest(t, "POST", "/devices", handlers.RegisterDeviceRequest{
		FingerprintHash: "fingerprint-hash-0123456789abcdef",
	})
	req = handlers.WithAuthContext(req, "student_1", models.RoleStudent)

	w := httptest.NewRecorder()
	handler.RegisterDevice(w, req)

	handlers.AssertErrorResponse(t, w, 409, "device_quota_exceeded")
}

func TestListDevices_Success(t *testing.T) {
	mockService := &handlers.MockDeviceRegistry{
		ListFunc: func(ctx context.Context, studentID string) ([]*models.DeviceFingerprint, error) {
			return []*models.DeviceFingerprint{
				{ID: "device_1", IsActive: true, CreatedAt: time.Now()},
				{ID: "device_2", IsActive: false, CreatedAt: time.Now()},
			}, nil
		},
	}

	handler := handlers.NewDeviceHandler(mockService)
	req := handlers.NewTestRequest(t, "GET", "/devices", nil)
	req = handlers.WithAuthContext(req, "student_1", models.RoleStudent)

	w := httptest.NewRecorder()
	handler.ListDevices(w, req)

	var resp handlers.ListDevicesResponse
	handlers.AssertJSONResponse(t, w, 200, &resp)
	assert.Equal(t, 2, resp.Total)
}

func TestRevokeDevice_Success(t *testing.T) {
	mockService := &handlers.MockDeviceRegistry{
		RevokeFunc: func(ctx context.Context, studentID, deviceID string) error {
			assert.Equal(t, "device_123", deviceID)
			return nil
		},
	}

	handler := handlers.NewDeviceHandler(mockService)
	req := handlers.NewTestRequest(t, "DELETE", "/devices/device_123", nil)
	req = handlers.WithAuthContext(req, "student_1", models.RoleStudent)
	req = handlers.WithChiRouteContext(req, map[string]string{"id": "device_123"})

	w := httptest.NewRecorder()
	handler.RevokeDevice(w, req)

	assert.Equal(t, 204, w.Code)
}

func TestRevokeDevice_NotFound(t *testing.T) {
	mockService := &handlers.MockDeviceRegistry{
		RevokeFunc: func(ctx context.Context, studentID, deviceID string) error {
			return models.ErrNotFound
		},
	}

	handler := handlers.NewDeviceHandler(mockService)
	req := handlers.NewTestRequest(t, "DELETE", "/devices/device_999", nil)
	req = handlers.WithAuthContext(req, "student_1", models.RoleStudent)
	req = handlers.WithChiRouteContext(req, map[string]string{"id": "device_999"})

	w := httptest.NewRecorder()
	handler.RevokeDevice(w, req)

	handlers.AssertErrorResponse(t, w, 404, "not_found")
}
