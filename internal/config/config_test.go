package config

import (
	"os"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	os.Setenv("JWT_SECRET", "test-secret-32-characters-long!")
	os.Setenv("DB_PASSWORD", "test")
	defer os.Clearenv()

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() = %v, want nil", err)
	}

	if cfg.Verification.MaxDevicesPerStudent != 5 {
		t.Errorf("MaxDevicesPerStudent: got %d, want 5", cfg.Verification.MaxDevicesPerStudent)
	}
	if cfg.Verification.DefaultGeofenceBuffer != 50 {
		t.Errorf("DefaultGeofenceBuffer: got %v, want 50", cfg.Verification.DefaultGeofenceBuffer)
	}
	if cfg.Verification.QRRotationPeriod != 30*time.Second {
		t.Errorf("QRRotationPeriod: got %v, want 30s", cfg.Verification.QRRotationPeriod)
	}
	if cfg.Fraud.AlertThreshold != 70 {
		t.Errorf("AlertThreshold: got %d, want 70", cfg.Fraud.AlertThreshold)
	}
	if cfg.Fraud.LocationPenalty != 50 {
		t.Errorf("LocationPenalty: got %d, want 50", cfg.Fraud.LocationPenalty)
	}
}

func TestLoad_FraudPolicyOverrides(t *testing.T) {
	os.Setenv("JWT_SECRET", "test-secret-32-characters-long!")
	os.Setenv("DB_PASSWORD", "test")
	os.Setenv("FRAUD_LOCATION_PENALTY", "60")
	os.Setenv("FRAUD_ALERT_THRESHOLD", "80")
	defer os.Clearenv()

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() = %v, want nil", err)
	}

	if cfg.Fraud.LocationPenalty != 60 {
		t.Errorf("LocationPenalty: got %d, want 60", cfg.Fraud.LocationPenalty)
	}
	if cfg.Fraud.AlertThreshold != 80 {
		t.Errorf("AlertThreshold: got %d, want 80", cfg.Fraud.AlertThreshold)
	}
}

func TestLoad_RejectsUnbalancedFraudWeights(t *testing.T) {
	os.Setenv("JWT_SECRET", "test-secret-32-characters-long!")
	os.Setenv("DB_PASSWORD", "test")
	os.Setenv("FRAUD_BEHAVIOR_WEIGHT", "0.9")
	os.Setenv("FRAUD_NETWORK_WEIGHT", "0.9")
	defer os.Clearenv()

	if _, err := Load(); err == nil {
		t.Fatal("Load() = nil, want weight-sum error")
	}
}

func TestLoad_RequiresJWTSecret(t *testing.T) {
	os.Setenv("DB_PASSWORD", "test")
	defer os.Clearenv()

	if _, err := Load(); err == nil {
		t.Fatal("Load() = nil, want missing JWT_SECRET error")
	}
}

func TestLoad_RejectsShortJWTSecretInProduction(t *testing.T) {
	os.Setenv("JWT_SECRET", "short-secret-16ch")
	os.Setenv("DB_PASSWORD", "test")
	os.Setenv("ENV", "production")
	defer os.Clearenv()

	if _, err := Load(); err == nil {
		t.Fatal("Load() = nil, want length error for production secret")
	}
}
