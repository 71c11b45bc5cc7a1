package services

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/campuskit/checkpoint/internal/models"
	"github.com/campuskit/checkpoint/internal/realtime"
	pkglogger "github.com/campuskit/checkpoint/pkg/logger"
)

// DeviceRepository defines the interface for device fingerprint data access
type DeviceRepository interface {
	GetByID(ctx context.Context, id string) (*models.DeviceFingerprint, error)
	GetByStudentAndHash(ctx context.Context, studentID, fingerprintHash string) (*models.DeviceFingerprint, error)
	ListByStudent(ctx context.Context, studentID string) ([]*models.DeviceFingerprint, error)
	CountActiveByStudent(ctx context.Context, studentID string) (int, error)
	Create(ctx context.Context, d *models.DeviceFingerprint) (*models.DeviceFingerprint, error)
	TouchLastUsed(ctx context.Context, id string, usedAt time.Time) error
	Deactivate(ctx context.Context, studentID, deviceID string) error
}

// DeviceService is the trust registry for student devices.
type DeviceService struct {
	repo        DeviceRepository
	broadcaster Broadcaster
	logger      *slog.Logger
	audit       *pkglogger.AuditLogger
	maxDevices  int
}

// NewDeviceService creates a new DeviceService
func NewDeviceService(repo DeviceRepository, broadcaster Broadcaster, logger *slog.Logger, audit *pkglogger.AuditLogger, maxDevices int) *DeviceService {
	return &DeviceService{
		repo:        repo,
		broadcaster: broadcaster,
		logger:      logger,
		audit:       audit,
		maxDevices:  maxDevices,
	}
}

// Register adds a device for a student, enforcing the per-student cap.
// The duplicate check is ultimately the repository's unique constraint;
// the count check keeps the cap honest under normal load.
func (s *DeviceService) Register(ctx context.Context, studentID, fingerprintHash, deviceInfo string) (*models.DeviceFingerprint, error) {
	if fingerprintHash == "" {
		return nil, models.ErrBadRequest
	}

	count, err := s.repo.CountActiveByStudent(ctx, studentID)
	if err != nil {
		s.logger.Error("failed to count devices", slog.String("student_id", studentID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}
	if count >= s.maxDevices {
		return nil, models.ErrDeviceQuota
	}

	device, err := s.repo.Create(ctx, &models.DeviceFingerprint{
		StudentID:       studentID,
		FingerprintHash: fingerprintHash,
		DeviceInfo:      deviceInfo,
	})
	if err != nil {
		if errors.Is(err, models.ErrDuplicateDevice) {
			return nil, models.ErrDuplicateDevice
		}
		s.logger.Error("failed to register device", slog.String("student_id", studentID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	s.audit.LogDeviceChange(pkglogger.AuditEvent{
		EventType: "device_registered",
		UserID:    studentID,
		Success:   true,
		Metadata:  map[string]string{"fingerprint": pkglogger.SanitizedFingerprint(fingerprintHash)},
	})
	s.broadcaster.Publish(realtime.DeviceChange(studentID, deviceInfo))

	return device, nil
}

// Verify looks the fingerprint up for this student and reports trust.
// autoRegister lets a session policy accept first-use devices; the
// auto-registered flag still feeds the fraud scorer as elevated risk.
func (s *DeviceService) Verify(ctx context.Context, studentID, fingerprintHash string, autoRegister bool) (*models.DeviceTrust, error) {
	if fingerprintHash == "" {
		return &models.DeviceTrust{}, nil
	}

	device, err := s.repo.GetByStudentAndHash(ctx, studentID, fingerprintHash)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			if !autoRegister {
				return &models.DeviceTrust{}, nil
			}
			return s.autoRegister(ctx, studentID, fingerprintHash)
		}
		s.logger.Error("failed to verify device", slog.String("student_id", studentID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	if !device.IsActive {
		return &models.DeviceTrust{Registered: true, Device: device}, nil
	}

	if err := s.repo.TouchLastUsed(ctx, device.ID, time.Now()); err != nil {
		// A failed bump doesn't invalidate the trust decision.
		s.logger.Warn("failed to bump device last_used_at", slog.String("device_id", device.ID), slog.Any("error", err))
	}

	return &models.DeviceTrust{Trusted: true, Registered: true, Device: device}, nil
}

func (s *DeviceService) autoRegister(ctx context.Context, studentID, fingerprintHash string) (*models.DeviceTrust, error) {
	device, err := s.Register(ctx, studentID, fingerprintHash, "auto-registered at first scan")
	if err != nil {
		if errors.Is(err, models.ErrDeviceQuota) || errors.Is(err, models.ErrDuplicateDevice) {
			// Quota reached or lost a registration race: treat as untrusted
			// rather than failing the whole scan.
			return &models.DeviceTrust{}, nil
		}
		return nil, err
	}

	return &models.DeviceTrust{Trusted: true, Registered: true, AutoRegistered: true, Device: device}, nil
}

// List returns all of a student's devices, active and revoked.
func (s *DeviceService) List(ctx context.Context, studentID string) ([]*models.DeviceFingerprint, error) {
	devices, err := s.repo.ListByStudent(ctx, studentID)
	if err != nil {
		s.logger.Error("failed to list devices", slog.String("student_id", studentID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}
	return devices, nil
}

// Revoke deactivates a device immediately. Past records stay valid.
func (s *DeviceService) Revoke(ctx context.Context, studentID, deviceID string) error {
	if err := s.repo.Deactivate(ctx, studentID, deviceID); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return models.ErrNotFound
		}
		s.logger.Error("failed to revoke device", slog.String("device_id", deviceID), slog.Any("error", err))
		return models.ErrInternalServer
	}

	s.audit.LogDeviceChange(pkglogger.AuditEvent{
		EventType: "device_revoked",
		UserID:    studentID,
		Success:   true,
		Metadata:  map[string]string{"device_id": deviceID},
	})

	return nil
}
