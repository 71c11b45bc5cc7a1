package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/campuskit/checkpoint/internal/auth"
	"github.com/campuskit/checkpoint/internal/background"
	"github.com/campuskit/checkpoint/internal/cache"
	"github.com/campuskit/checkpoint/internal/config"
	"github.com/campuskit/checkpoint/internal/database"
	"github.com/campuskit/checkpoint/internal/faceclient"
	"github.com/campuskit/checkpoint/internal/fraud"
	"github.com/campuskit/checkpoint/internal/handlers"
	middlewareCustom "github.com/campuskit/checkpoint/internal/middleware"
	"github.com/campuskit/checkpoint/internal/models"
	"github.com/campuskit/checkpoint/internal/realtime"
	"github.com/campuskit/checkpoint/internal/repositories"
	"github.com/campuskit/checkpoint/internal/routes"
	"github.com/campuskit/checkpoint/internal/services"
	pkgauth "github.com/campuskit/checkpoint/pkg/auth"
	pkglogger "github.com/campuskit/checkpoint/pkg/logger"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("configuration loaded", slog.String("env", cfg.Server.Env))

	// Initialize database
	db, err := database.NewConnection(&cfg.Database, logger)
	if err != nil {
		logger.Error("failed to connect to database", slog.Any("error", err))
		os.Exit(1)
	}
	defer db.Close()

	// Attempt counters live in redis so budgets survive restarts
	attemptCache := cache.NewRedis(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)

	// Initialize repositories
	userRepo := repositories.NewUserRepository(db)
	sessionRepo := repositories.NewSessionRepository(db)
	recordRepo := repositories.NewRecordRepository(db)
	deviceRepo := repositories.NewDeviceRepository(db)
	alertRepo := repositories.NewAlertRepository(db)

	// Initialize token manager
	tokenManager := auth.NewTokenManager(
		cfg.Auth.JWTSecret,
		cfg.Auth.AccessTokenExpiry,
		cfg.Auth.RefreshTokenExpiry,
	)

	auditLogger := pkglogger.NewAuditLogger(logger)

	// Realtime hub
	hub := realtime.NewHub(cfg.Realtime.HeartbeatInterval, logger)
	hubCtx, hubCancel := context.WithCancel(context.Background())
	defer hubCancel()
	go hub.Run(hubCtx)

	// Face recognition collaborator
	faceClient := faceclient.New(cfg.Face.BaseURL, cfg.Face.Skip)

	// Outbound email, optional. Alerts still reach connected clients when
	// SES is not configured.
	var emailer services.EmailSender
	if cfg.Notification.FromAddress != "" {
		sesSender, err := services.NewAWSSESEmailSender(cfg.Notification.AWSRegion, cfg.Notification.FromAddress, logger)
		if err != nil {
			logger.Warn("email sender unavailable, continuing without email delivery", slog.Any("error", err))
		} else {
			emailer = sesSender
		}
	}

	// Initialize services
	notificationService := services.NewNotificationService(
		emailer,
		userRepo,
		hub,
		logger,
		cfg.Notification.MaxRetries,
		cfg.Notification.RetryBackoff,
	)
	sessionService := services.NewSessionService(
		sessionRepo,
		hub,
		logger,
		auditLogger,
		cfg.Verification.QRRotationPeriod,
		cfg.Verification.DefaultGeofenceBuffer,
	)
	deviceService := services.NewDeviceService(deviceRepo, hub, logger, auditLogger, cfg.Verification.MaxDevicesPerStudent)
	verificationService := services.NewVerificationService(
		sessionRepo,
		recordRepo,
		alertRepo,
		deviceService,
		sessionService,
		faceClient,
		attemptCache,
		notificationService,
		fraud.NewScorer(cfg.Fraud),
		hub,
		logger,
		auditLogger,
		cfg.Verification.AccuracyFloorMeters,
		cfg.Verification.MaxPhotoBytes,
	)
	alertService := services.NewAlertService(alertRepo, sessionRepo, logger, auditLogger)
	authService := services.NewAuthService(userRepo, tokenManager, logger)

	// Initialize handlers
	authHandler := handlers.NewAuthHandler(authService)
	sessionHandler := handlers.NewSessionHandler(sessionService)
	attendanceHandler := handlers.NewAttendanceHandler(verificationService)
	deviceHandler := handlers.NewDeviceHandler(deviceService)
	alertHandler := handlers.NewAlertHandler(alertService)
	wsHandler := realtime.NewHandler(hub, tokenManager, sessionRepo, cfg.Realtime.ReadLimit, logger)

	// Session reaper completes ACTIVE sessions that ran past their end time
	reaper := background.NewSessionReaper(sessionRepo, recordRepo, hub, notificationService, logger, cfg.Verification.ReaperInterval)

	// Bootstrap first admin user if configured
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := ensureAdminUser(ctx, userRepo, logger); err != nil {
		logger.Error("failed to ensure admin user", slog.Any("error", err))
	}
	cancel()

	// Setup router
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middlewareCustom.SecurityHeaders(middlewareCustom.SecurityHeadersConfig{Env: cfg.Server.Env}))
	router.Use(middlewareCustom.CORS(middlewareCustom.DefaultCORSConfig(cfg.Server.AllowedOrigins)))
	router.Use(middlewareCustom.SecureLogger(logger))
	router.Use(middleware.Recoverer)
	router.Use(middleware.Timeout(60 * time.Second))

	// Register routes
	routes.RegisterRoutes(
		router,
		authHandler,
		sessionHandler,
		attendanceHandler,
		deviceHandler,
		alertHandler,
		wsHandler,
		tokenManager,
		cfg.Verification.ScanRateLimitPerMin,
	)

	router.Handle("/metrics", promhttp.Handler())

	// Health check with database and attempt cache
	router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		w.Header().Set("Content-Type", "application/json")

		if err := db.HealthCheck(ctx); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"status":"unhealthy","database":"down"}`))
			return
		}

		// The attempt limiter is advisory, so a redis outage degrades
		// rather than fails the service.
		cacheStatus := "up"
		if !attemptCache.Healthy(ctx) {
			cacheStatus = "down"
		}

		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, `{"status":"healthy","database":"up","cache":%q}`, cacheStatus)
	})

	// Create server
	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start reaper task
	reaperCtx, reaperCancel := context.WithCancel(context.Background())
	defer reaperCancel()

	go reaper.Start(reaperCtx)

	// Start server
	go func() {
		logger.Info("starting server", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", slog.Any("error", err))
			os.Exit(1)
		}
	}()

	// Graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutdown signal received")

	reaperCancel()
	reaper.Stop()
	hubCancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("server stopped gracefully")
}

// ensureAdminUser creates the first admin user if ADMIN_EMAIL and ADMIN_PASSWORD are set
func ensureAdminUser(ctx context.Context, userRepo *repositories.UserRepository, logger *slog.Logger) error {
	adminEmail := os.Getenv("ADMIN_EMAIL")
	adminPassword := os.Getenv("ADMIN_PASSWORD")

	if adminEmail == "" || adminPassword == "" {
		logger.Info("no ADMIN_EMAIL or ADMIN_PASSWORD set, skipping admin user creation")
		return nil
	}

	// Check if admin already exists
	_, err := userRepo.GetByEmail(ctx, adminEmail)
	if err == nil {
		logger.Info("admin user already exists")
		return nil
	}
	if !errors.Is(err, models.ErrNotFound) {
		return fmt.Errorf("failed to check if admin exists: %w", err)
	}

	hashedPassword, err := pkgauth.HashPassword(adminPassword)
	if err != nil {
		return fmt.Errorf("failed to hash admin password: %w", err)
	}

	admin := &models.User{
		Email:        adminEmail,
		PasswordHash: hashedPassword,
		Name:         "Admin",
		Role:         models.RoleAdmin,
		Status:       "active",
	}

	_, err = userRepo.Create(ctx, admin)
	if err != nil {
		return fmt.Errorf("failed to create admin user: %w", err)
	}

	logger.Info("admin user created successfully")
	return nil
}
