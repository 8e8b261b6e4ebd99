package services

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/BradenHooton/clinitrust/internal/metrics"
	"github.com/BradenHooton/clinitrust/internal/models"
	"github.com/BradenHooton/clinitrust/internal/repositories"
	pkgauth "github.com/BradenHooton/clinitrust/pkg/auth"
	pkglogger "github.com/BradenHooton/clinitrust/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

const testPassword = "Correct-Horse-9"

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func seedAccount(t *testing.T, repo *repositories.MemoryAccountRepository, username, role string) *models.Account {
	t.Helper()

	hash, err := pkgauth.HashPassword(testPassword, bcrypt.MinCost)
	require.NoError(t, err)

	changed := time.Now().Add(-24 * time.Hour)
	account, err := repo.Create(context.Background(), &models.Account{
		Username:          username,
		Email:             username + "@clinic.org",
		PasswordHash:      hash,
		FirstName:         "Test",
		LastName:          "User",
		Role:              role,
		IsActive:          true,
		PasswordChangedAt: &changed,
	})
	require.NoError(t, err)
	return account
}

type gateFixture struct {
	gate     *AuthGate
	repo     *repositories.MemoryAccountRepository
	recorder *MockAuditRecorder
	timing   *MockTimingDelay
	clock    time.Time
}

func newGateFixture(t *testing.T) *gateFixture {
	t.Helper()

	f := &gateFixture{
		repo:     repositories.NewMemoryAccountRepository(),
		recorder: &MockAuditRecorder{},
		timing:   &MockTimingDelay{},
		clock:    time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC),
	}

	logger := discardLogger()
	f.gate = NewAuthGate(
		f.repo,
		&MockTokenIssuer{},
		f.recorder,
		f.timing,
		metrics.NewMetrics(),
		AuthGateConfig{BcryptCost: bcrypt.MinCost},
		logger,
		pkglogger.NewAuditLogger(logger),
	)
	f.gate.now = func() time.Time { return f.clock }
	return f
}

func (f *gateFixture) account(t *testing.T, id string) *models.Account {
	t.Helper()
	a, err := f.repo.GetByID(context.Background(), id)
	require.NoError(t, err)
	return a
}

func TestAuthGate_Authenticate_Success(t *testing.T) {
	f := newGateFixture(t)
	account := seedAccount(t, f.repo, "drjane", models.RoleClinician)

	result, err := f.gate.Authenticate(context.Background(), "drjane@clinic.org", testPassword)
	require.NoError(t, err)

	assert.Equal(t, "token-"+account.ID, result.Token)
	assert.Equal(t, "drjane", result.User.Username)
	assert.Equal(t, models.RoleClinician, result.User.Role)
	assert.False(t, result.PasswordChangeRequired)

	stored := f.account(t, account.ID)
	require.NotNil(t, stored.LastLogin)
	assert.True(t, stored.LastLogin.Equal(f.clock))
	assert.Equal(t, 1, f.recorder.CountAuth(models.AuditEventTypeLoginSuccess))
}

func TestAuthGate_Authenticate_PasswordChangeRequired(t *testing.T) {
	f := newGateFixture(t)
	account := seedAccount(t, f.repo, "drjane", models.RoleClinician)

	_, err := f.repo.Mutate(context.Background(), account.ID, func(a *models.Account) error {
		a.PasswordChangedAt = nil
		return nil
	})
	require.NoError(t, err)

	result, err := f.gate.Authenticate(context.Background(), "drjane", testPassword)
	require.NoError(t, err)
	assert.True(t, result.PasswordChangeRequired)
}

func TestAuthGate_Authenticate_UnknownIdentifier(t *testing.T) {
	f := newGateFixture(t)

	var padded []bool
	f.timing.WaitFromFunc = func(startTime time.Time, succeeded bool) {
		padded = append(padded, succeeded)
	}

	_, err := f.gate.Authenticate(context.Background(), "nobody", testPassword)
	assert.ErrorIs(t, err, models.ErrInvalidCredentials)
	assert.Equal(t, []bool{false}, padded)

	require.Len(t, f.recorder.Auth, 1)
	assert.Equal(t, models.AuditEventTypeLoginFailed, f.recorder.Auth[0].EventType)
	assert.Empty(t, f.recorder.Auth[0].AccountID)
	assert.False(t, f.recorder.Auth[0].Success)
}

func TestAuthGate_Authenticate_LockoutSequence(t *testing.T) {
	ctx := context.Background()
	f := newGateFixture(t)
	account := seedAccount(t, f.repo, "drjane", models.RoleClinician)

	for i := 1; i < models.MaxFailedAttempts; i++ {
		_, err := f.gate.Authenticate(ctx, "drjane", "wrong-password")
		assert.ErrorIs(t, err, models.ErrInvalidCredentials)
		assert.Equal(t, i, f.account(t, account.ID).FailedAttempts)
	}

	_, err := f.gate.Authenticate(ctx, "drjane", "wrong-password")
	var lockedErr *models.AccountLockedError
	require.ErrorAs(t, err, &lockedErr)
	assert.Equal(t, 30, lockedErr.MinutesRemaining)

	stored := f.account(t, account.ID)
	assert.Equal(t, models.MaxFailedAttempts, stored.FailedAttempts)
	require.NotNil(t, stored.LockedUntil)
	assert.True(t, stored.LockedUntil.Equal(f.clock.Add(30*time.Minute)))

	// correct secret while locked is still rejected and not counted
	f.clock = f.clock.Add(10 * time.Minute)
	_, err = f.gate.Authenticate(ctx, "drjane", testPassword)
	require.ErrorAs(t, err, &lockedErr)
	assert.Equal(t, 20, lockedErr.MinutesRemaining)
	assert.Equal(t, models.MaxFailedAttempts, f.account(t, account.ID).FailedAttempts)

	assert.Equal(t, 1, f.recorder.CountAuth(models.AuditEventTypeAccountLocked))
}

func TestAuthGate_Authenticate_SuccessResetsCounter(t *testing.T) {
	ctx := context.Background()
	f := newGateFixture(t)
	account := seedAccount(t, f.repo, "drjane", models.RoleClinician)

	for i := 0; i < 3; i++ {
		_, err := f.gate.Authenticate(ctx, "drjane", "wrong-password")
		require.ErrorIs(t, err, models.ErrInvalidCredentials)
	}

	_, err := f.gate.Authenticate(ctx, "drjane", testPassword)
	require.NoError(t, err)

	stored := f.account(t, account.ID)
	assert.Zero(t, stored.FailedAttempts)
	assert.Nil(t, stored.LockedUntil)
}

func TestAuthGate_Authenticate_LockExpiry(t *testing.T) {
	ctx := context.Background()
	f := newGateFixture(t)
	account := seedAccount(t, f.repo, "drjane", models.RoleClinician)

	for i := 0; i < models.MaxFailedAttempts; i++ {
		_, _ = f.gate.Authenticate(ctx, "drjane", "wrong-password")
	}
	require.Equal(t, models.AccountStateLocked, f.account(t, account.ID).State(f.clock))

	f.clock = f.clock.Add(models.LockoutDuration)

	t.Run("wrong secret starts a new window", func(t *testing.T) {
		_, err := f.gate.Authenticate(ctx, "drjane", "wrong-password")
		assert.ErrorIs(t, err, models.ErrInvalidCredentials)

		stored := f.account(t, account.ID)
		assert.Equal(t, 1, stored.FailedAttempts)
		assert.Nil(t, stored.LockedUntil)
	})

	t.Run("correct secret succeeds", func(t *testing.T) {
		_, err := f.gate.Authenticate(ctx, "drjane", testPassword)
		require.NoError(t, err)
		assert.Zero(t, f.account(t, account.ID).FailedAttempts)
	})
}

func TestAuthGate_Authenticate_Disabled(t *testing.T) {
	ctx := context.Background()
	f := newGateFixture(t)
	account := seedAccount(t, f.repo, "drjane", models.RoleClinician)

	_, err := f.repo.Mutate(ctx, account.ID, func(a *models.Account) error {
		a.IsActive = false
		return nil
	})
	require.NoError(t, err)

	_, err = f.gate.Authenticate(ctx, "drjane", testPassword)
	assert.ErrorIs(t, err, models.ErrAccountDisabled)

	_, err = f.gate.Authenticate(ctx, "drjane", "wrong-password")
	assert.ErrorIs(t, err, models.ErrAccountDisabled)
	assert.Zero(t, f.account(t, account.ID).FailedAttempts)
}

func TestAuthGate_Authenticate_TokenFailure(t *testing.T) {
	f := newGateFixture(t)
	seedAccount(t, f.repo, "drjane", models.RoleClinician)
	f.gate.tokens = &MockTokenIssuer{
		GenerateAccessTokenFunc: func(userID, username, role string) (string, error) {
			return "", errors.New("signing failed")
		},
	}

	_, err := f.gate.Authenticate(context.Background(), "drjane", testPassword)
	require.Error(t, err)
	assert.NotErrorIs(t, err, models.ErrInvalidCredentials)
}

func TestAuthGate_Authenticate_ConcurrentFailures(t *testing.T) {
	ctx := context.Background()
	f := newGateFixture(t)
	account := seedAccount(t, f.repo, "drjane", models.RoleClinician)

	const attempts = 20
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		invalid int
		locked  int
	)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.gate.Authenticate(ctx, "drjane", "wrong-password")
			mu.Lock()
			defer mu.Unlock()
			switch {
			case errors.Is(err, models.ErrAccountLocked):
				locked++
			case errors.Is(err, models.ErrInvalidCredentials):
				invalid++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, models.MaxFailedAttempts-1, invalid)
	assert.Equal(t, attempts-models.MaxFailedAttempts+1, locked)
	assert.Equal(t, 1, f.recorder.CountAuth(models.AuditEventTypeAccountLocked), "exactly one lock transition")
	assert.Equal(t, models.MaxFailedAttempts, f.account(t, account.ID).FailedAttempts)
}

func TestAuthGate_ChangeSecret(t *testing.T) {
	ctx := context.Background()
	const next = "Another-Strong-7"

	t.Run("wrong current secret", func(t *testing.T) {
		f := newGateFixture(t)
		account := seedAccount(t, f.repo, "drjane", models.RoleClinician)

		err := f.gate.ChangeSecret(ctx, account.ID, "wrong-password", next)
		assert.ErrorIs(t, err, models.ErrInvalidCredentials)
		assert.Zero(t, f.account(t, account.ID).FailedAttempts)
	})

	t.Run("weak secret lists every violation", func(t *testing.T) {
		f := newGateFixture(t)
		account := seedAccount(t, f.repo, "drjane", models.RoleClinician)

		err := f.gate.ChangeSecret(ctx, account.ID, testPassword, "short")
		var policyErr *models.PolicyViolationError
		require.ErrorAs(t, err, &policyErr)
		assert.Contains(t, policyErr.Violations, pkgauth.ViolationMinLength)
		assert.Contains(t, policyErr.Violations, pkgauth.ViolationUppercase)
		assert.Contains(t, policyErr.Violations, pkgauth.ViolationSpecial)
	})

	t.Run("reused secret", func(t *testing.T) {
		f := newGateFixture(t)
		account := seedAccount(t, f.repo, "drjane", models.RoleClinician)

		err := f.gate.ChangeSecret(ctx, account.ID, testPassword, testPassword)
		var policyErr *models.PolicyViolationError
		require.ErrorAs(t, err, &policyErr)
		assert.Equal(t, []string{pkgauth.ViolationReused}, policyErr.Violations)
	})

	t.Run("success keeps lockout state", func(t *testing.T) {
		f := newGateFixture(t)
		account := seedAccount(t, f.repo, "drjane", models.RoleClinician)

		_, err := f.gate.Authenticate(ctx, "drjane", "wrong-password")
		require.ErrorIs(t, err, models.ErrInvalidCredentials)

		require.NoError(t, f.gate.ChangeSecret(ctx, account.ID, testPassword, next))

		stored := f.account(t, account.ID)
		assert.Equal(t, 1, stored.FailedAttempts)
		require.NotNil(t, stored.PasswordChangedAt)
		assert.True(t, stored.PasswordChangedAt.Equal(f.clock))
		assert.NoError(t, pkgauth.ComparePassword(stored.PasswordHash, next))

		require.Len(t, f.recorder.Auth, 2)
		assert.Equal(t, models.AuditEventTypePasswordChange, f.recorder.Auth[1].EventType)
		assert.True(t, f.recorder.Auth[1].Success)
	})

	t.Run("disabled account", func(t *testing.T) {
		f := newGateFixture(t)
		account := seedAccount(t, f.repo, "drjane", models.RoleClinician)
		before := f.account(t, account.ID).PasswordHash

		_, err := f.repo.Mutate(ctx, account.ID, func(a *models.Account) error {
			a.IsActive = false
			return nil
		})
		require.NoError(t, err)

		err = f.gate.ChangeSecret(ctx, account.ID, testPassword, next)
		assert.ErrorIs(t, err, models.ErrAccountDisabled)
		assert.Equal(t, before, f.account(t, account.ID).PasswordHash)

		require.Len(t, f.recorder.Auth, 1)
		assert.False(t, f.recorder.Auth[0].Success)
		assert.Equal(t, "account disabled", f.recorder.Auth[0].Reason)
	})

	t.Run("unknown account", func(t *testing.T) {
		f := newGateFixture(t)
		err := f.gate.ChangeSecret(ctx, "missing", testPassword, next)
		assert.ErrorIs(t, err, models.ErrNotFound)
	})
}
