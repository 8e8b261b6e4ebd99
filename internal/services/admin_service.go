package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/BradenHooton/clinitrust/internal/models"
	pkgauth "github.com/BradenHooton/clinitrust/pkg/auth"
	pkglogger "github.com/BradenHooton/clinitrust/pkg/logger"
)

// AccountAdminStore is the subset of the account repository needed by AdminService.
type AccountAdminStore interface {
	CredentialStore
	List(ctx context.Context, limit, offset int) ([]*models.Account, error)
	CountActiveAdmins(ctx context.Context) (int64, error)
	Create(ctx context.Context, account *models.Account) (*models.Account, error)
}

// AdminRecorder is the audit sink for administrative actions.
type AdminRecorder interface {
	RecordAdminAction(ctx context.Context, actorID, eventType, action, accountID string, changes models.AuditChanges)
}

// NewAccount is the input to CreateAccount.
type NewAccount struct {
	Username  string
	Email     string
	Password  string
	FirstName string
	LastName  string
	Role      string
}

// AccountUpdate is the input to UpdateAccount. Nil fields are left as they are.
type AccountUpdate struct {
	Username  *string
	Email     *string
	FirstName *string
	LastName  *string
	Role      *string
	IsActive  *bool
}

// AdminService performs account administration. Every change goes through
// the same per-account lock as the authentication gate.
type AdminService struct {
	store       AccountAdminStore
	audit       AdminRecorder
	mailer      Mailer
	bcryptCost  int
	logger      *slog.Logger
	auditLogger *pkglogger.AuditLogger
	now         func() time.Time

	// serializes deactivations so two admins cannot disable each other
	activeMu sync.Mutex
}

// NewAdminService creates a new AdminService. mailer may be nil, in which
// case ResetPassword hands the temporary password back to the caller.
func NewAdminService(
	store AccountAdminStore,
	audit AdminRecorder,
	mailer Mailer,
	bcryptCost int,
	logger *slog.Logger,
	auditLogger *pkglogger.AuditLogger,
) *AdminService {
	return &AdminService{
		store:       store,
		audit:       audit,
		mailer:      mailer,
		bcryptCost:  bcryptCost,
		logger:      logger,
		auditLogger: auditLogger,
		now:         time.Now,
	}
}

// Unlock clears an account's lockout and failed-attempt counter.
func (s *AdminService) Unlock(ctx context.Context, actorID, accountID string) (*models.Account, error) {
	return s.clearLockout(ctx, actorID, accountID, models.AuditEventTypeAccountUnlock, models.AuditActionUnlock)
}

// ResetAttempts zeroes the failed-attempt counter.
func (s *AdminService) ResetAttempts(ctx context.Context, actorID, accountID string) (*models.Account, error) {
	return s.clearLockout(ctx, actorID, accountID, models.AuditEventTypeAttemptsReset, models.AuditActionReset)
}

func (s *AdminService) clearLockout(ctx context.Context, actorID, accountID, eventType, action string) (*models.Account, error) {
	var changes models.AuditChanges

	updated, err := s.store.Mutate(ctx, accountID, func(a *models.Account) error {
		changes = models.AuditChanges{
			"failed_attempts": {Old: a.FailedAttempts, New: 0},
		}
		if a.LockedUntil != nil {
			changes["locked_until"] = models.FieldChange{Old: a.LockedUntil.UTC().Format(time.RFC3339), New: nil}
		}
		a.FailedAttempts = 0
		a.LockedUntil = nil
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.auditLogger.LogAccountAction(ctx, eventType, actorID, accountID, nil)
	s.audit.RecordAdminAction(ctx, actorID, eventType, action, accountID, changes)
	return updated, nil
}

// ResetPassword replaces the account's password with a generated temporary
// one and forces a change at next login. The temporary password is returned
// only when no mailer is configured; otherwise it is mailed to the holder.
func (s *AdminService) ResetPassword(ctx context.Context, actorID, accountID string) (string, error) {
	temp, err := pkgauth.GenerateTemporaryPassword()
	if err != nil {
		return "", err
	}
	hash, err := pkgauth.HashPassword(temp, s.bcryptCost)
	if err != nil {
		return "", err
	}

	updated, err := s.store.Mutate(ctx, accountID, func(a *models.Account) error {
		a.PasswordHash = hash
		a.PasswordChangedAt = nil
		a.FailedAttempts = 0
		a.LockedUntil = nil
		return nil
	})
	if err != nil {
		return "", err
	}

	s.auditLogger.LogAccountAction(ctx, models.AuditEventTypePasswordReset, actorID, accountID, nil)
	s.audit.RecordAdminAction(ctx, actorID, models.AuditEventTypePasswordReset, models.AuditActionReset, accountID,
		models.AuditChanges{"password_change_required": {Old: false, New: true}})

	if s.mailer == nil {
		return temp, nil
	}
	if err := s.mailer.SendTemporaryPassword(ctx, updated.Email, updated.Username, temp); err != nil {
		// the password is already reset; the admin can reset again
		return "", fmt.Errorf("password reset but notification failed: %w", err)
	}
	return "", nil
}

// SetActive enables or disables an account. The last active admin cannot be
// disabled.
func (s *AdminService) SetActive(ctx context.Context, actorID, accountID string, active bool) (*models.Account, error) {
	s.activeMu.Lock()
	defer s.activeMu.Unlock()

	var was bool
	updated, err := s.store.Mutate(ctx, accountID, func(a *models.Account) error {
		was = a.IsActive
		if !active && a.IsActive && a.Role == models.RoleAdmin {
			n, err := s.store.CountActiveAdmins(ctx)
			if err != nil {
				return err
			}
			if n <= 1 {
				return models.ErrLastAdmin
			}
		}
		a.IsActive = active
		return nil
	})
	if err != nil {
		return nil, err
	}

	eventType := models.AuditEventTypeAccountDisable
	if active {
		eventType = models.AuditEventTypeAccountActivate
	}
	s.auditLogger.LogAccountAction(ctx, eventType, actorID, accountID, nil)
	s.audit.RecordAdminAction(ctx, actorID, eventType, models.AuditActionUpdate, accountID,
		models.AuditChanges{"is_active": {Old: was, New: active}})
	return updated, nil
}

// UpdateAccount edits profile fields, role and status of an account. Demoting
// or disabling the last active admin is refused, and a username or email that
// belongs to another account yields models.ErrConflict. The field diff is
// recorded as the audit entry's changes.
func (s *AdminService) UpdateAccount(ctx context.Context, actorID, accountID string, upd AccountUpdate) (*models.Account, error) {
	if upd.Role != nil && *upd.Role != models.RoleAdmin && *upd.Role != models.RoleClinician {
		return nil, fmt.Errorf("%w: unknown role %q", models.ErrBadRequest, *upd.Role)
	}
	if upd.Username != nil && strings.TrimSpace(*upd.Username) == "" {
		return nil, fmt.Errorf("%w: username must not be empty", models.ErrBadRequest)
	}
	if upd.Email != nil && strings.TrimSpace(*upd.Email) == "" {
		return nil, fmt.Errorf("%w: email must not be empty", models.ErrBadRequest)
	}

	s.activeMu.Lock()
	defer s.activeMu.Unlock()

	changes := models.AuditChanges{}
	updated, err := s.store.Mutate(ctx, accountID, func(a *models.Account) error {
		wasActiveAdmin := a.IsActive && a.Role == models.RoleAdmin

		setString := func(field string, dst *string, v *string) {
			if v != nil && *v != *dst {
				changes[field] = models.FieldChange{Old: *dst, New: *v}
				*dst = *v
			}
		}
		if upd.Username != nil {
			username := strings.TrimSpace(*upd.Username)
			setString("username", &a.Username, &username)
		}
		if upd.Email != nil {
			email := strings.ToLower(strings.TrimSpace(*upd.Email))
			setString("email", &a.Email, &email)
		}
		setString("first_name", &a.FirstName, upd.FirstName)
		setString("last_name", &a.LastName, upd.LastName)
		setString("role", &a.Role, upd.Role)
		if upd.IsActive != nil && *upd.IsActive != a.IsActive {
			changes["is_active"] = models.FieldChange{Old: a.IsActive, New: *upd.IsActive}
			a.IsActive = *upd.IsActive
		}

		if wasActiveAdmin && !(a.IsActive && a.Role == models.RoleAdmin) {
			n, err := s.store.CountActiveAdmins(ctx)
			if err != nil {
				return err
			}
			if n <= 1 {
				return models.ErrLastAdmin
			}
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, models.ErrConflict) || errors.Is(err, models.ErrLastAdmin) || errors.Is(err, models.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to update account: %w", err)
	}

	if len(changes) > 0 {
		s.auditLogger.LogAccountAction(ctx, models.AuditEventTypeAccountUpdate, actorID, accountID, nil)
		s.audit.RecordAdminAction(ctx, actorID, models.AuditEventTypeAccountUpdate, models.AuditActionUpdate, accountID, changes)
	}
	return updated, nil
}

// CreateAccount provisions an account whose holder must change the password
// at first login.
func (s *AdminService) CreateAccount(ctx context.Context, actorID string, req NewAccount) (*models.Account, error) {
	if err := pkgauth.ValidatePassword(req.Password); err != nil {
		return nil, err
	}

	role := req.Role
	if role == "" {
		role = models.RoleClinician
	}
	if role != models.RoleAdmin && role != models.RoleClinician {
		return nil, fmt.Errorf("%w: unknown role %q", models.ErrBadRequest, role)
	}

	hash, err := pkgauth.HashPassword(req.Password, s.bcryptCost)
	if err != nil {
		return nil, err
	}

	created, err := s.store.Create(ctx, &models.Account{
		Username:     strings.TrimSpace(req.Username),
		Email:        strings.ToLower(strings.TrimSpace(req.Email)),
		PasswordHash: hash,
		FirstName:    req.FirstName,
		LastName:     req.LastName,
		Role:         role,
		IsActive:     true,
	})
	if err != nil {
		if errors.Is(err, models.ErrConflict) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to create account: %w", err)
	}

	s.logger.InfoContext(ctx, "account created",
		slog.String("user_id", created.ID),
		slog.String("email", pkglogger.SanitizedEmail(created.Email)),
		slog.String("role", created.Role),
	)
	s.audit.RecordAdminAction(ctx, actorID, models.AuditEventTypeAccountCreate, models.AuditActionCreate, created.ID,
		models.AuditChanges{
			"username": {Old: nil, New: created.Username},
			"role":     {Old: nil, New: created.Role},
		})
	return created, nil
}

// GetAccount returns a single account.
func (s *AdminService) GetAccount(ctx context.Context, accountID string) (*models.Account, error) {
	return s.store.GetByID(ctx, accountID)
}

// ListAccounts pages through accounts.
func (s *AdminService) ListAccounts(ctx context.Context, limit, offset int) ([]*models.Account, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return s.store.List(ctx, limit, offset)
}
