package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/BradenHooton/clinitrust/internal/auth"
	"github.com/BradenHooton/clinitrust/internal/background"
	"github.com/BradenHooton/clinitrust/internal/config"
	"github.com/BradenHooton/clinitrust/internal/database"
	"github.com/BradenHooton/clinitrust/internal/handlers"
	"github.com/BradenHooton/clinitrust/internal/metrics"
	middlewareCustom "github.com/BradenHooton/clinitrust/internal/middleware"
	"github.com/BradenHooton/clinitrust/internal/models"
	"github.com/BradenHooton/clinitrust/internal/repositories"
	"github.com/BradenHooton/clinitrust/internal/routes"
	"github.com/BradenHooton/clinitrust/internal/services"
	pkgauth "github.com/BradenHooton/clinitrust/pkg/auth"
	pkghttp "github.com/BradenHooton/clinitrust/pkg/http"
	pkglogger "github.com/BradenHooton/clinitrust/pkg/logger"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// accountStore is satisfied by both the Postgres and the in-memory account
// repositories.
type accountStore interface {
	services.AccountAdminStore
}

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: parseLevel(cfg.Server.LogLevel)}))
	slog.SetDefault(logger)

	logger.Info("configuration loaded",
		slog.String("env", cfg.Server.Env),
		slog.String("storage", cfg.Database.Driver),
	)

	ctx := context.Background()

	// Initialize storage
	var (
		db       *database.DB
		accounts accountStore
		ledger   services.LedgerStore
	)
	switch cfg.Database.Driver {
	case config.StorageDriverMemory:
		logger.Warn("using in-memory storage; accounts and the audit ledger are lost on restart")
		accounts = repositories.NewMemoryAccountRepository()
		ledger = repositories.NewMemoryAuditEntryRepository()
	default:
		db, err = database.NewConnection(ctx, &cfg.Database, logger)
		if err != nil {
			logger.Error("failed to connect to database", slog.Any("error", err))
			os.Exit(1)
		}
		defer db.Close()

		if cfg.Database.AutoMigrate {
			if err := db.Migrate(ctx); err != nil {
				logger.Error("failed to migrate database", slog.Any("error", err))
				os.Exit(1)
			}
		}
		accounts = repositories.NewAccountRepository(db)
		ledger = repositories.NewAuditEntryRepository(db)
	}

	// Metrics
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.NewMetrics()
	if err := m.Register(registry); err != nil {
		logger.Error("failed to register metrics", slog.Any("error", err))
		os.Exit(1)
	}

	// Audit ledger
	auditLogger := pkglogger.NewAuditLogger(logger)
	chain := services.NewAuditChain(ledger, m)
	auditService := services.NewAuditService(chain, logger, auditLogger, m)

	// Authentication gate
	tokenManager := auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenExpiry)
	timingDelay := auth.NewTimingDelay(auth.TimingConfig{
		BaseDelayMs:   cfg.Auth.TimingBaseDelayMs,
		RandomDelayMs: cfg.Auth.TimingRandomMs,
	})
	gate := services.NewAuthGate(accounts, tokenManager, auditService, timingDelay, m, services.AuthGateConfig{
		MaxFailedAttempts: cfg.Auth.MaxFailedAttempts,
		LockoutDuration:   cfg.Auth.LockoutDuration,
		BcryptCost:        cfg.Auth.BcryptCost,
	}, logger, auditLogger)

	// AWS SES mailer for password resets
	var mailer services.Mailer
	if cfg.Email.Enabled {
		sesMailer, err := services.NewAWSSESMailer(ctx, cfg.Email.AWSRegion, formatFrom(cfg.Email.FromName, cfg.Email.FromEmail), logger)
		if err != nil {
			logger.Error("failed to initialize email service", slog.Any("error", err))
			os.Exit(1)
		}
		mailer = sesMailer
	}
	adminService := services.NewAdminService(accounts, auditService, mailer, cfg.Auth.BcryptCost, logger, auditLogger)

	// Bootstrap first admin user if configured
	bootstrapCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	if err := ensureAdminUser(bootstrapCtx, accounts, cfg.Auth.BcryptCost, logger); err != nil {
		logger.Error("failed to ensure admin user", slog.Any("error", err))
	}
	cancel()

	// Initialize handlers
	authHandler := handlers.NewAuthHandler(gate, adminService, logger)
	adminHandler := handlers.NewAdminHandler(adminService, chain, logger)
	auditHandler := handlers.NewAuditHandler(chain, logger, auditLogger)

	// Setup router
	ipConfig := &pkghttp.IPConfig{TrustedProxies: cfg.Server.TrustedProxies}
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middlewareCustom.ClientMeta(ipConfig))
	router.Use(middlewareCustom.SecurityHeaders(middlewareCustom.SecurityHeadersConfig{Env: cfg.Server.Env}))
	router.Use(middlewareCustom.SecureLogger(logger))
	router.Use(middleware.Recoverer)
	router.Use(middleware.Timeout(60 * time.Second))

	// Register routes
	loginLimit := middlewareCustom.DefaultAuthRateLimit()
	if cfg.Server.LoginRateLimit > 0 {
		loginLimit.RequestsPerMinute = cfg.Server.LoginRateLimit
	}
	routes.RegisterRoutes(router, authHandler, adminHandler, auditHandler, tokenManager, accounts, auditService, loginLimit)

	router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		if db == nil {
			pkghttp.WriteJSON(w, http.StatusOK, map[string]string{"status": "healthy", "storage": "memory"})
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := db.HealthCheck(ctx); err != nil {
			pkghttp.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy", "database": "down"})
			return
		}
		pkghttp.WriteJSON(w, http.StatusOK, map[string]string{"status": "healthy", "database": "up"})
	})
	router.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}))

	// Create server
	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start ledger verification task
	verifyCtx, verifyCancel := context.WithCancel(ctx)
	defer verifyCancel()

	var verifier *background.LedgerVerifier
	if cfg.Audit.VerifyInterval > 0 {
		verifier = background.NewLedgerVerifier(chain, logger, auditLogger, cfg.Audit.VerifyInterval)
		go verifier.Start(verifyCtx)
	}

	// Start server
	go func() {
		logger.Info("starting server", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", slog.Any("error", err))
			os.Exit(1)
		}
	}()

	// Graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutdown signal received")

	verifyCancel()
	if verifier != nil {
		verifier.Stop()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("server stopped gracefully")
}

// ensureAdminUser creates the first admin if ADMIN_USERNAME, ADMIN_EMAIL and
// ADMIN_PASSWORD are set and no account with that username exists.
func ensureAdminUser(ctx context.Context, accounts accountStore, bcryptCost int, logger *slog.Logger) error {
	username := os.Getenv("ADMIN_USERNAME")
	email := os.Getenv("ADMIN_EMAIL")
	password := os.Getenv("ADMIN_PASSWORD")

	if username == "" || email == "" || password == "" {
		logger.Info("no ADMIN_USERNAME, ADMIN_EMAIL or ADMIN_PASSWORD set, skipping admin user creation")
		return nil
	}

	_, err := accounts.GetByIdentifier(ctx, username)
	if err == nil {
		logger.Info("admin user already exists")
		return nil
	}
	if !errors.Is(err, models.ErrNotFound) {
		return fmt.Errorf("failed to check if admin exists: %w", err)
	}

	if err := pkgauth.ValidatePassword(password); err != nil {
		return fmt.Errorf("ADMIN_PASSWORD rejected: %w", err)
	}
	hashedPassword, err := pkgauth.HashPassword(password, bcryptCost)
	if err != nil {
		return fmt.Errorf("failed to hash admin password: %w", err)
	}

	now := time.Now()
	_, err = accounts.Create(ctx, &models.Account{
		Username:          username,
		Email:             strings.ToLower(email),
		PasswordHash:      hashedPassword,
		FirstName:         "Admin",
		Role:              models.RoleAdmin,
		IsActive:          true,
		PasswordChangedAt: &now,
	})
	if err != nil {
		return fmt.Errorf("failed to create admin user: %w", err)
	}

	logger.Info("admin user created successfully", slog.String("email", pkglogger.SanitizedEmail(email)))
	return nil
}

func parseLevel(s string) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return level
}

func formatFrom(name, email string) string {
	if name == "" {
		return email
	}
	return fmt.Sprintf("%s <%s>", name, email)
}
