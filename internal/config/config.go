package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/campuskit/checkpoint/internal/fraud"
)

type Config struct {
	Database     DatabaseConfig
	Redis        RedisConfig
	Server       ServerConfig
	Auth         AuthConfig
	Verification VerificationConfig
	Fraud        fraud.Config
	Realtime     RealtimeConfig
	Notification NotificationConfig
	Face         FaceConfig
}

type DatabaseConfig struct {
	Host              string
	Port              int
	User              string
	Password          string
	Name              string
	SSLMode           string
	MaxConns          int32
	MinConns          int32
	MaxConnLifetime   time.Duration
	MaxConnIdleTime   time.Duration
	HealthCheckPeriod time.Duration
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type ServerConfig struct {
	Port           string
	Env            string
	LogLevel       string
	AllowedOrigins []string
}

type AuthConfig struct {
	JWTSecret          string
	AccessTokenExpiry  time.Duration
	RefreshTokenExpiry time.Duration
}

// VerificationConfig holds pipeline policy that applies across sessions.
type VerificationConfig struct {
	MaxDevicesPerStudent  int
	AccuracyFloorMeters   float64
	DefaultGeofenceBuffer float64
	QRRotationPeriod      time.Duration
	ScanRateLimitPerMin   int
	ReaperInterval        time.Duration
	MaxPhotoBytes         int64
}

type RealtimeConfig struct {
	HeartbeatInterval time.Duration
	ReadLimit         int64
}

type NotificationConfig struct {
	AWSRegion    string
	FromAddress  string
	MaxRetries   int
	RetryBackoff time.Duration
}

type FaceConfig struct {
	BaseURL string
	Skip    bool
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	jwtSecret := getEnv("JWT_SECRET", "")
	if jwtSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}

	env := getEnv("ENV", "development")

	cfg := &Config{
		Database: DatabaseConfig{
			Host:              getEnv("DB_HOST", "localhost"),
			Port:              getEnvAsInt("DB_PORT", 5432),
			User:              getEnv("DB_USER", "postgres"),
			Password:          getEnv("DB_PASSWORD", ""),
			Name:              getEnv("DB_NAME", "checkpoint"),
			SSLMode:           getEnv("DB_SSLMODE", "disable"),
			MaxConns:          int32(getEnvAsInt("DB_MAX_CONNS", 25)),
			MinConns:          int32(getEnvAsInt("DB_MIN_CONNS", 5)),
			MaxConnLifetime:   getEnvAsDuration("DB_MAX_CONN_LIFETIME", 5*time.Minute),
			MaxConnIdleTime:   getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", 1*time.Minute),
			HealthCheckPeriod: getEnvAsDuration("DB_HEALTH_CHECK_PERIOD", 1*time.Minute),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		Server: ServerConfig{
			Port:           getEnv("PORT", "8080"),
			Env:            env,
			LogLevel:       getEnv("LOG_LEVEL", "info"),
			AllowedOrigins: parseAllowedOrigins(env),
		},
		Auth: AuthConfig{
			JWTSecret:          jwtSecret,
			AccessTokenExpiry:  getEnvAsDuration("ACCESS_TOKEN_EXPIRY", 15*time.Minute),
			RefreshTokenExpiry: getEnvAsDuration("REFRESH_TOKEN_EXPIRY", 7*24*time.Hour),
		},
		Verification: VerificationConfig{
			MaxDevicesPerStudent:  getEnvAsInt("MAX_DEVICES_PER_STUDENT", 5),
			AccuracyFloorMeters:   getEnvAsFloat("LOCATION_ACCURACY_FLOOR", 100),
			DefaultGeofenceBuffer: getEnvAsFloat("GEOFENCE_BUFFER", 50),
			QRRotationPeriod:      getEnvAsDuration("QR_ROTATION_PERIOD", 30*time.Second),
			ScanRateLimitPerMin:   getEnvAsInt("SCAN_RATE_LIMIT_PER_MIN", 20),
			ReaperInterval:        getEnvAsDuration("SESSION_REAPER_INTERVAL", 1*time.Minute),
			MaxPhotoBytes:         int64(getEnvAsInt("MAX_PHOTO_BYTES", 5*1024*1024)),
		},
		Fraud:    loadFraudConfig(),
		Realtime: RealtimeConfig{
			HeartbeatInterval: getEnvAsDuration("WS_HEARTBEAT_INTERVAL", 30*time.Second),
			ReadLimit:         int64(getEnvAsInt("WS_READ_LIMIT", 4096)),
		},
		Notification: NotificationConfig{
			AWSRegion:    getEnv("AWS_REGION", "us-east-1"),
			FromAddress:  getEnv("NOTIFY_FROM_ADDRESS", "alerts@checkpoint.local"),
			MaxRetries:   getEnvAsInt("NOTIFY_MAX_RETRIES", 3),
			RetryBackoff: getEnvAsDuration("NOTIFY_RETRY_BACKOFF", 500*time.Millisecond),
		},
		Face: FaceConfig{
			BaseURL: getEnv("FACE_SERVICE_URL", ""),
			Skip:    getEnvAsBool("FACE_SERVICE_SKIP", true),
		},
	}

	if cfg.Database.Password == "" {
		return nil, fmt.Errorf("DB_PASSWORD is required")
	}

	if err := validateJWTSecret(jwtSecret, env); err != nil {
		return nil, err
	}

	if err := validateFraudConfig(cfg.Fraud); err != nil {
		return nil, err
	}

	return cfg, nil
}

// loadFraudConfig overlays env tuning on the stock scoring policy. The
// weights are a policy input; deployments tune them without code changes.
func loadFraudConfig() fraud.Config {
	cfg := fraud.DefaultConfig()
	cfg.LocationPenalty = getEnvAsInt("FRAUD_LOCATION_PENALTY", cfg.LocationPenalty)
	cfg.DevicePenalty = getEnvAsInt("FRAUD_DEVICE_PENALTY", cfg.DevicePenalty)
	cfg.TimingPenalty = getEnvAsInt("FRAUD_TIMING_PENALTY", cfg.TimingPenalty)
	cfg.PhotoPenalty = getEnvAsInt("FRAUD_PHOTO_PENALTY", cfg.PhotoPenalty)
	cfg.BehaviorWeight = getEnvAsFloat("FRAUD_BEHAVIOR_WEIGHT", cfg.BehaviorWeight)
	cfg.NetworkWeight = getEnvAsFloat("FRAUD_NETWORK_WEIGHT", cfg.NetworkWeight)
	cfg.AlertThreshold = getEnvAsInt("FRAUD_ALERT_THRESHOLD", cfg.AlertThreshold)
	return cfg
}

func validateFraudConfig(cfg fraud.Config) error {
	sum := cfg.BehaviorWeight + cfg.NetworkWeight
	if sum < 0.99 || sum > 1.01 {
		return fmt.Errorf("fraud behavior/network weights must sum to 1.0 (got %.2f)", sum)
	}
	if cfg.AlertThreshold < 0 || cfg.AlertThreshold > 100 {
		return fmt.Errorf("FRAUD_ALERT_THRESHOLD must be in 0..100 (got %d)", cfg.AlertThreshold)
	}
	return nil
}

// validateJWTSecret enforces minimum security standards for JWT secret
func validateJWTSecret(secret, env string) error {
	minLength := 16
	if env == "production" {
		minLength = 32
	}

	if len(secret) < minLength {
		return fmt.Errorf("JWT_SECRET must be at least %d characters in %s environment (got %d)",
			minLength, env, len(secret))
	}

	weakSecrets := []string{
		"secret", "test", "password", "12345", "changeme",
		"admin", "root", "default", "example",
	}

	secretLower := strings.ToLower(secret)
	for _, weak := range weakSecrets {
		if secretLower == weak {
			return fmt.Errorf("JWT_SECRET cannot be a common weak value")
		}
	}

	return nil
}

func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

func parseAllowedOrigins(env string) []string {
	if origins := os.Getenv("ALLOWED_ORIGINS"); origins != "" {
		parts := strings.Split(origins, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		return parts
	}
	if env == "production" {
		return []string{}
	}
	return []string{"http://localhost:3000"}
}

func getEnv(key, defaultVal string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultVal
}

func getEnvAsInt(key string, defaultVal int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvAsFloat(key string, defaultVal float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultVal
}

func getEnvAsBool(key string, defaultVal bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultVal
}

func getEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultVal
}
