package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/BradenHooton/clinitrust/internal/metrics"
	"github.com/BradenHooton/clinitrust/internal/models"
	pkgauth "github.com/BradenHooton/clinitrust/pkg/auth"
	pkghttp "github.com/BradenHooton/clinitrust/pkg/http"
	pkglogger "github.com/BradenHooton/clinitrust/pkg/logger"
)

// CredentialStore owns account state. Mutate runs fn under the account's
// lock and persists the account only when fn returns nil.
type CredentialStore interface {
	GetByID(ctx context.Context, id string) (*models.Account, error)
	GetByIdentifier(ctx context.Context, identifier string) (*models.Account, error)
	Mutate(ctx context.Context, id string, fn func(*models.Account) error) (*models.Account, error)
}

// TokenIssuer creates the session credential handed out on login.
type TokenIssuer interface {
	GenerateAccessToken(userID, username, role string) (string, error)
}

// AuthRecorder is the audit sink for authentication events.
type AuthRecorder interface {
	RecordAuth(ctx context.Context, eventType, accountID string, success bool, reason string)
}

// TimingDelay pads failed attempts to a uniform duration.
type TimingDelay interface {
	WaitFrom(startTime time.Time, success bool)
}

type AuthGateConfig struct {
	MaxFailedAttempts int
	LockoutDuration   time.Duration
	BcryptCost        int
}

// DefaultAuthGateConfig is the lockout policy: five failures lock the
// account for thirty minutes.
func DefaultAuthGateConfig() AuthGateConfig {
	return AuthGateConfig{
		MaxFailedAttempts: models.MaxFailedAttempts,
		LockoutDuration:   models.LockoutDuration,
		BcryptCost:        pkgauth.DefaultBcryptCost,
	}
}

// AuthResult is returned on a successful login.
type AuthResult struct {
	Token                  string                 `json:"token"`
	User                   *models.AccountProfile `json:"user"`
	PasswordChangeRequired bool                   `json:"password_change_required"`
}

// AuthGate decides whether a credential presentation succeeds and keeps the
// failed-attempt counter and lockout window of each account.
type AuthGate struct {
	store       CredentialStore
	tokens      TokenIssuer
	audit       AuthRecorder
	timing      TimingDelay
	metrics     *metrics.Metrics
	config      AuthGateConfig
	logger      *slog.Logger
	auditLogger *pkglogger.AuditLogger
	now         func() time.Time
	dummyHash   string
}

func NewAuthGate(
	store CredentialStore,
	tokens TokenIssuer,
	audit AuthRecorder,
	timing TimingDelay,
	m *metrics.Metrics,
	config AuthGateConfig,
	logger *slog.Logger,
	auditLogger *pkglogger.AuditLogger,
) *AuthGate {
	if config.MaxFailedAttempts <= 0 {
		config.MaxFailedAttempts = models.MaxFailedAttempts
	}
	if config.LockoutDuration <= 0 {
		config.LockoutDuration = models.LockoutDuration
	}

	// compared against when the identifier is unknown so the response time
	// does not reveal whether the account exists
	dummyHash, err := pkgauth.HashPassword("unknown-account-placeholder", config.BcryptCost)
	if err != nil {
		logger.Warn("failed to prepare placeholder hash", slog.Any("error", err))
	}

	return &AuthGate{
		store:       store,
		tokens:      tokens,
		audit:       audit,
		timing:      timing,
		metrics:     m,
		config:      config,
		logger:      logger,
		auditLogger: auditLogger,
		now:         time.Now,
		dummyHash:   dummyHash,
	}
}

// Authenticate checks secret against the account named by identifier
// (username or email). It returns models.ErrInvalidCredentials,
// models.ErrAccountDisabled or a *models.AccountLockedError on rejection.
func (g *AuthGate) Authenticate(ctx context.Context, identifier, secret string) (*AuthResult, error) {
	start := time.Now()

	account, err := g.store.GetByIdentifier(ctx, identifier)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			if g.dummyHash != "" {
				_ = pkgauth.ComparePassword(g.dummyHash, secret)
			}
			g.reject(ctx, start, identifier, "", metrics.OutcomeInvalidCredentials, models.AuditEventTypeLoginFailed, "unknown identifier")
			return nil, models.ErrInvalidCredentials
		}
		g.metrics.IncAuthAttempt(metrics.OutcomeError)
		return nil, fmt.Errorf("failed to look up account: %w", err)
	}

	// outcome of the credential check; fn returns nil so the counter
	// change is persisted even when the attempt fails
	var failure error
	var lockedNow bool

	updated, err := g.store.Mutate(ctx, account.ID, func(a *models.Account) error {
		now := g.now()

		switch a.State(now) {
		case models.AccountStateDisabled:
			return models.ErrAccountDisabled
		case models.AccountStateLocked:
			return &models.AccountLockedError{MinutesRemaining: a.MinutesRemaining(now)}
		}

		// an elapsed lock starts a fresh window
		if a.LockExpired(now) {
			a.FailedAttempts = 0
			a.LockedUntil = nil
		}

		if err := pkgauth.ComparePassword(a.PasswordHash, secret); err != nil {
			a.FailedAttempts++
			if a.FailedAttempts >= g.config.MaxFailedAttempts {
				a.FailedAttempts = g.config.MaxFailedAttempts
				until := now.Add(g.config.LockoutDuration)
				a.LockedUntil = &until
				lockedNow = true
				failure = &models.AccountLockedError{MinutesRemaining: a.MinutesRemaining(now)}
			} else {
				failure = models.ErrInvalidCredentials
			}
			return nil
		}

		a.FailedAttempts = 0
		a.LockedUntil = nil
		a.LastLogin = &now
		return nil
	})

	if err != nil {
		var lockedErr *models.AccountLockedError
		switch {
		case errors.Is(err, models.ErrAccountDisabled):
			g.reject(ctx, start, identifier, account.ID, metrics.OutcomeDisabled, models.AuditEventTypeLoginFailed, "account disabled")
			return nil, models.ErrAccountDisabled
		case errors.As(err, &lockedErr):
			g.reject(ctx, start, identifier, account.ID, metrics.OutcomeLocked, models.AuditEventTypeLoginFailed, "account locked")
			return nil, lockedErr
		case errors.Is(err, models.ErrNotFound):
			g.reject(ctx, start, identifier, "", metrics.OutcomeInvalidCredentials, models.AuditEventTypeLoginFailed, "unknown identifier")
			return nil, models.ErrInvalidCredentials
		}
		g.metrics.IncAuthAttempt(metrics.OutcomeError)
		return nil, fmt.Errorf("failed to update account: %w", err)
	}

	if failure != nil {
		if lockedNow {
			g.metrics.IncLockout()
			g.logger.WarnContext(ctx, "account locked after repeated failures",
				slog.String("user_id", account.ID),
				slog.Duration("lockout", g.config.LockoutDuration),
			)
			g.reject(ctx, start, identifier, account.ID, metrics.OutcomeLocked, models.AuditEventTypeAccountLocked, "too many failed attempts")
		} else {
			g.reject(ctx, start, identifier, account.ID, metrics.OutcomeInvalidCredentials, models.AuditEventTypeLoginFailed, "invalid password")
		}
		return nil, failure
	}

	token, err := g.tokens.GenerateAccessToken(updated.ID, updated.Username, updated.Role)
	if err != nil {
		g.metrics.IncAuthAttempt(metrics.OutcomeError)
		return nil, fmt.Errorf("failed to generate access token: %w", err)
	}

	g.metrics.IncAuthAttempt(metrics.OutcomeSuccess)
	g.auditLogger.LogAuthAttempt(ctx, pkglogger.AuthAttempt{
		Outcome:    metrics.OutcomeSuccess,
		UserID:     updated.ID,
		Identifier: identifier,
		IPAddress:  clientIP(ctx),
		Success:    true,
	})
	g.audit.RecordAuth(ctx, models.AuditEventTypeLoginSuccess, updated.ID, true, "")
	g.timing.WaitFrom(start, true)

	return &AuthResult{
		Token:                  token,
		User:                   updated.Profile(),
		PasswordChangeRequired: updated.PasswordChangeRequired(),
	}, nil
}

// reject records a refused attempt everywhere it is observed and pads the
// response time.
func (g *AuthGate) reject(ctx context.Context, start time.Time, identifier, accountID, outcome, eventType, reason string) {
	g.metrics.IncAuthAttempt(outcome)
	g.auditLogger.LogAuthAttempt(ctx, pkglogger.AuthAttempt{
		Outcome:    outcome,
		UserID:     accountID,
		Identifier: identifier,
		IPAddress:  clientIP(ctx),
	})
	g.audit.RecordAuth(ctx, eventType, accountID, false, reason)
	g.timing.WaitFrom(start, false)
}

// ChangeSecret replaces the password of accountID after verifying current.
// Disabled accounts are refused. The failed-attempt counter and lock are left
// untouched.
func (g *AuthGate) ChangeSecret(ctx context.Context, accountID, current, next string) error {
	_, err := g.store.Mutate(ctx, accountID, func(a *models.Account) error {
		if !a.IsActive {
			return models.ErrAccountDisabled
		}
		if err := pkgauth.ComparePassword(a.PasswordHash, current); err != nil {
			return models.ErrInvalidCredentials
		}

		if err := pkgauth.ValidatePassword(next); err != nil {
			return err
		}
		if pkgauth.ComparePassword(a.PasswordHash, next) == nil {
			return &models.PolicyViolationError{Violations: []string{pkgauth.ViolationReused}}
		}

		hash, err := pkgauth.HashPassword(next, g.config.BcryptCost)
		if err != nil {
			return err
		}

		now := g.now()
		a.PasswordHash = hash
		a.PasswordChangedAt = &now
		return nil
	})

	if err != nil {
		reason := "password change failed"
		switch {
		case errors.Is(err, models.ErrInvalidCredentials):
			reason = "current password incorrect"
		case errors.Is(err, models.ErrPolicyViolation):
			reason = "password policy violation"
		case errors.Is(err, models.ErrAccountDisabled):
			reason = "account disabled"
		case errors.Is(err, models.ErrNotFound):
			return err
		}
		g.audit.RecordAuth(ctx, models.AuditEventTypePasswordChange, accountID, false, reason)

		if errors.Is(err, models.ErrInvalidCredentials) || errors.Is(err, models.ErrPolicyViolation) || errors.Is(err, models.ErrAccountDisabled) {
			return err
		}
		return fmt.Errorf("failed to change password: %w", err)
	}

	g.logger.InfoContext(ctx, "password changed", slog.String("user_id", accountID))
	g.audit.RecordAuth(ctx, models.AuditEventTypePasswordChange, accountID, true, "")
	return nil
}

func clientIP(ctx context.Context) string {
	if meta, ok := pkghttp.ClientMetaFromContext(ctx); ok {
		return meta.IPAddress
	}
	return ""
}
