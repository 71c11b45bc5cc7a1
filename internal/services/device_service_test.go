package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/campuskit/checkpoint/internal/models"
	"github.com/campuskit/checkpoint/internal/realtime"
)

func newTestDeviceService(repo DeviceRepository, broadcaster Broadcaster) *DeviceService {
	return NewDeviceService(repo, broadcaster, newTestLogger(), newTestAudit(), 5)
}

func TestDeviceService_Register_Success(t *testing.T) {
	broadcaster := &MockBroadcaster{}
	svc := newTestDeviceService(&MockDeviceRepository{}, broadcaster)

	device, err := svc.Register(context.Background(), "student_1", "hash_abc", "Pixel 8")

	require.NoError(t, err)
	assert.Equal(t, "device_123", device.ID)
	assert.True(t, device.IsActive)
	assert.Len(t, broadcaster.EventsOfType(realtime.EventDeviceChange), 1)
}

func TestDeviceService_Register_SixthDeviceRejected(t *testing.T) {
	mockRepo := &MockDeviceRepository{
		CountActiveByStudentFunc: func(ctx context.Context, studentID string) (int, error) {
			return 5, nil
		},
	}
	svc := newTestDeviceService(mockRepo, &MockBroadcaster{})

	_, err := svc.Register(context.Background(), "student_1", "hash_sixth", "OnePlus 12")

	assert.ErrorIs(t, err, models.ErrDeviceQuota)
}

func TestDeviceService_Register_DuplicateFingerprint(t *testing.T) {
	mockRepo := &MockDeviceRepository{
		CreateFunc: func(ctx context.Context, d *models.DeviceFingerprint) (*models.DeviceFingerprint, error) {
			return nil, models.ErrDuplicateDevice
		},
	}
	svc := newTestDeviceService(mockRepo, &MockBroadcaster{})

	_, err := svc.Register(context.Background(), "student_1", "hash_abc", "Pixel 8")

	assert.ErrorIs(t, err, models.ErrDuplicateDevice)
}

func TestDeviceService_Register_EmptyFingerprint(t *testing.T) {
	svc := newTestDeviceService(&MockDeviceRepository{}, &MockBroadcaster{})

	_, err := svc.Register(context.Background(), "student_1", "", "Pixel 8")

	assert.ErrorIs(t, err, models.ErrBadRequest)
}

func TestDeviceService_Verify_TrustedDevice(t *testing.T) {
	touched := false
	mockRepo := &MockDeviceRepository{
		GetByStudentAndHashFunc: func(ctx context.Context, studentID, fingerprintHash string) (*models.DeviceFingerprint, error) {
			return &models.DeviceFingerprint{ID: "device_1", StudentID: studentID, FingerprintHash: fingerprintHash, IsActive: true}, nil
		},
		TouchLastUsedFunc: func(ctx context.Context, id string, usedAt time.Time) error {
			touched = true
			return nil
		},
	}
	svc := newTestDeviceService(mockRepo, &MockBroadcaster{})

	trust, err := svc.Verify(context.Background(), "student_1", "hash_abc", false)

	require.NoError(t, err)
	assert.True(t, trust.Trusted)
	assert.True(t, trust.Registered)
	assert.False(t, trust.AutoRegistered)
	assert.True(t, touched)
}

func TestDeviceService_Verify_UnknownDevice(t *testing.T) {
	svc := newTestDeviceService(&MockDeviceRepository{}, &MockBroadcaster{})

	trust, err := svc.Verify(context.Background(), "student_1", "hash_unknown", false)

	require.NoError(t, err)
	assert.False(t, trust.Trusted)
	assert.False(t, trust.Registered)
}

func TestDeviceService_Verify_RevokedDevice(t *testing.T) {
	mockRepo := &MockDeviceRepository{
		GetByStudentAndHashFunc: func(ctx context.Context, studentID, fingerprintHash string) (*models.DeviceFingerprint, error) {
			return &models.DeviceFingerprint{ID: "device_1", IsActive: false}, nil
		},
	}
	svc := newTestDeviceService(mockRepo, &MockBroadcaster{})

	trust, err := svc.Verify(context.Background(), "student_1", "hash_abc", false)

	require.NoError(t, err)
	assert.False(t, trust.Trusted)
	assert.True(t, trust.Registered)
}

func TestDeviceService_Verify_AutoRegistersFirstUse(t *testing.T) {
	svc := newTestDeviceService(&MockDeviceRepository{}, &MockBroadcaster{})

	trust, err := svc.Verify(context.Background(), "student_1", "hash_new", true)

	require.NoError(t, err)
	assert.True(t, trust.Trusted)
	assert.True(t, trust.AutoRegistered)
}

func TestDeviceService_Verify_AutoRegisterAtQuotaIsUntrusted(t *testing.T) {
	mockRepo := &MockDeviceRepository{
		CountActiveByStudentFunc: func(ctx context.Context, studentID string) (int, error) {
			return 5, nil
		},
	}
	svc := newTestDeviceService(mockRepo, &MockBroadcaster{})

	trust, err := svc.Verify(context.Background(), "student_1", "hash_new", true)

	require.NoError(t, err)
	assert.False(t, trust.Trusted)
}

func TestDeviceService_Verify_EmptyFingerprintUntrusted(t *testing.T) {
	svc := newTestDeviceService(&MockDeviceRepository{}, &MockBroadcaster{})

	trust, err := svc.Verify(context.Background(), "student_1", "", true)

	require.NoError(t, err)
	assert.False(t, trust.Trusted)
}

func TestDeviceService_Revoke_Success(t *testing.T) {
	deactivated := false
	mockRepo := &MockDeviceRepository{
		DeactivateFunc: func(ctx context.Context, studentID, deviceID string) error {
			assert.Equal(t, "student_1", studentID)
			deactivated = true
			return nil
		},
	}
	svc := newTestDeviceService(mockRepo, &MockBroadcaster{})

	err := svc.Revoke(context.Background(), "student_1", "device_1")

	require.NoError(t, err)
	assert.True(t, deactivated)
}

func TestDeviceService_Revoke_NotFound(t *testing.T) {
	mockRepo := &MockDeviceRepository{
		DeactivateFunc: func(ctx context.Context, studentID, deviceID string) error {
			return models.ErrNotFound
		},
	}
	svc := newTestDeviceService(mockRepo, &MockBroadcaster{})

	err := svc.Revoke(context.Background(), "student_1", "device_unknown")

	assert.ErrorIs(t, err, models.ErrNotFound)
}
