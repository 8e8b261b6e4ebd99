package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/BradenHooton/clinitrust/internal/auth"
	"github.com/BradenHooton/clinitrust/internal/models"
	"github.com/BradenHooton/clinitrust/internal/services"
	pkghttp "github.com/BradenHooton/clinitrust/pkg/http"
	"github.com/go-chi/chi/v5"
)

// AdminServiceInterface defines the account administration contract.
type AdminServiceInterface interface {
	CreateAccount(ctx context.Context, actorID string, req services.NewAccount) (*models.Account, error)
	GetAccount(ctx context.Context, accountID string) (*models.Account, error)
	ListAccounts(ctx context.Context, limit, offset int) ([]*models.Account, error)
	Unlock(ctx context.Context, actorID, accountID string) (*models.Account, error)
	ResetAttempts(ctx context.Context, actorID, accountID string) (*models.Account, error)
	ResetPassword(ctx context.Context, actorID, accountID string) (string, error)
	SetActive(ctx context.Context, actorID, accountID string, active bool) (*models.Account, error)
	UpdateAccount(ctx context.Context, actorID, accountID string, upd services.AccountUpdate) (*models.Account, error)
}

// ActivityReader lists ledger entries.
type ActivityReader interface {
	List(ctx context.Context, filter models.AuditFilter) ([]*models.AuditEntry, error)
}

// AdminHandler handles admin account HTTP requests.
type AdminHandler struct {
	service  AdminServiceInterface
	activity ActivityReader
	logger   *slog.Logger
	now      func() time.Time
}

// NewAdminHandler creates a new AdminHandler.
func NewAdminHandler(service AdminServiceInterface, activity ActivityReader, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{
		service:  service,
		activity: activity,
		logger:   logger,
		now:      time.Now,
	}
}

// CreateUserRequest represents the request body for creating an account
type CreateUserRequest struct {
	Username  string `json:"username" validate:"required,min=3,max=50"`
	Email     string `json:"email" validate:"required,email,max=255"`
	Password  string `json:"password" validate:"required,max=1024"`
	FirstName string `json:"first_name" validate:"max=100"`
	LastName  string `json:"last_name" validate:"max=100"`
	Role      string `json:"role" validate:"omitempty,oneof=admin clinician"`
}

// UpdateUserRequest is a partial update; omitted fields are left unchanged.
type UpdateUserRequest struct {
	Username  *string `json:"username" validate:"omitempty,min=3,max=50"`
	Email     *string `json:"email" validate:"omitempty,email,max=255"`
	FirstName *string `json:"first_name" validate:"omitempty,max=100"`
	LastName  *string `json:"last_name" validate:"omitempty,max=100"`
	Role      *string `json:"role" validate:"omitempty,oneof=admin clinician"`
	IsActive  *bool   `json:"is_active"`
}

// AccountResponse is the admin view of an account, including gate state.
type AccountResponse struct {
	ID                     string  `json:"id"`
	Username               string  `json:"username"`
	Email                  string  `json:"email"`
	FirstName              string  `json:"first_name"`
	LastName               string  `json:"last_name"`
	Role                   string  `json:"role"`
	IsActive               bool    `json:"is_active"`
	State                  string  `json:"state"`
	FailedAttempts         int     `json:"failed_attempts"`
	LockedUntil            *string `json:"locked_until,omitempty"`
	MinutesRemaining       int     `json:"minutes_remaining,omitempty"`
	PasswordChangeRequired bool    `json:"password_change_required"`
	LastLogin              *string `json:"last_login,omitempty"`
	CreatedAt              string  `json:"created_at"`
}

func (h *AdminHandler) toResponse(a *models.Account) AccountResponse {
	now := h.now()
	return AccountResponse{
		ID:                     a.ID,
		Username:               a.Username,
		Email:                  a.Email,
		FirstName:              a.FirstName,
		LastName:               a.LastName,
		Role:                   a.Role,
		IsActive:               a.IsActive,
		State:                  string(a.State(now)),
		FailedAttempts:         a.FailedAttempts,
		MinutesRemaining:       a.MinutesRemaining(now),
		PasswordChangeRequired: a.PasswordChangeRequired(),
		LockedUntil:            formatTime(a.LockedUntil),
		LastLogin:              formatTime(a.LastLogin),
		CreatedAt:              a.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func formatTime(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.UTC().Format(time.RFC3339)
	return &s
}

// CreateUser handles POST /api/admin/users
func (h *AdminHandler) CreateUser(w http.ResponseWriter, r *http.Request) {
	actorID, ok := actor(w, r)
	if !ok {
		return
	}

	var req CreateUserRequest
	if err := decodeAndValidate(r, &req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	created, err := h.service.CreateAccount(r.Context(), actorID, services.NewAccount{
		Username:  req.Username,
		Email:     req.Email,
		Password:  req.Password,
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Role:      req.Role,
	})
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusCreated, h.toResponse(created))
}

// UpdateUser handles PATCH /api/admin/users/{id}
func (h *AdminHandler) UpdateUser(w http.ResponseWriter, r *http.Request) {
	var req UpdateUserRequest
	if err := decodeAndValidate(r, &req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	h.mutate(w, r, func(ctx context.Context, actorID, accountID string) (*models.Account, error) {
		return h.service.UpdateAccount(ctx, actorID, accountID, services.AccountUpdate{
			Username:  req.Username,
			Email:     req.Email,
			FirstName: req.FirstName,
			LastName:  req.LastName,
			Role:      req.Role,
			IsActive:  req.IsActive,
		})
	})
}

// ListUsers handles GET /api/admin/users?limit=&offset=
func (h *AdminHandler) ListUsers(w http.ResponseWriter, r *http.Request) {
	limit, offset := pagination(r)

	accounts, err := h.service.ListAccounts(r.Context(), limit, offset)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	resp := make([]AccountResponse, len(accounts))
	for i, a := range accounts {
		resp[i] = h.toResponse(a)
	}
	pkghttp.WriteJSON(w, http.StatusOK, map[string]any{
		"users":  resp,
		"limit":  limit,
		"offset": offset,
	})
}

// GetUser handles GET /api/admin/users/{id}
func (h *AdminHandler) GetUser(w http.ResponseWriter, r *http.Request) {
	account, err := h.service.GetAccount(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	pkghttp.WriteJSON(w, http.StatusOK, h.toResponse(account))
}

// Unlock handles POST /api/admin/users/{id}/unlock
func (h *AdminHandler) Unlock(w http.ResponseWriter, r *http.Request) {
	h.mutate(w, r, h.service.Unlock)
}

// ResetAttempts handles POST /api/admin/users/{id}/reset-attempts
func (h *AdminHandler) ResetAttempts(w http.ResponseWriter, r *http.Request) {
	h.mutate(w, r, h.service.ResetAttempts)
}

// Deactivate handles POST /api/admin/users/{id}/deactivate
func (h *AdminHandler) Deactivate(w http.ResponseWriter, r *http.Request) {
	h.mutate(w, r, func(ctx context.Context, actorID, accountID string) (*models.Account, error) {
		return h.service.SetActive(ctx, actorID, accountID, false)
	})
}

// Activate handles POST /api/admin/users/{id}/activate
func (h *AdminHandler) Activate(w http.ResponseWriter, r *http.Request) {
	h.mutate(w, r, func(ctx context.Context, actorID, accountID string) (*models.Account, error) {
		return h.service.SetActive(ctx, actorID, accountID, true)
	})
}

func (h *AdminHandler) mutate(w http.ResponseWriter, r *http.Request, op func(ctx context.Context, actorID, accountID string) (*models.Account, error)) {
	actorID, ok := actor(w, r)
	if !ok {
		return
	}

	updated, err := op(r.Context(), actorID, chi.URLParam(r, "id"))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	pkghttp.WriteJSON(w, http.StatusOK, h.toResponse(updated))
}

// ResetPassword handles POST /api/admin/users/{id}/reset-password. The
// temporary password is in the body only when no mailer is configured.
func (h *AdminHandler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	actorID, ok := actor(w, r)
	if !ok {
		return
	}

	temp, err := h.service.ResetPassword(r.Context(), actorID, chi.URLParam(r, "id"))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	resp := map[string]string{"message": "Password reset; the user must choose a new password at next login"}
	if temp != "" {
		resp["temporary_password"] = temp
	}
	pkghttp.WriteJSON(w, http.StatusOK, resp)
}

// UserActivity handles GET /api/admin/users/{id}/activity
func (h *AdminHandler) UserActivity(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "id")
	if _, err := h.service.GetAccount(r.Context(), accountID); err != nil {
		h.writeServiceError(w, err)
		return
	}

	limit, offset := pagination(r)
	entries, err := h.activity.List(r.Context(), models.AuditFilter{
		ActorID: accountID,
		Limit:   limit,
		Offset:  offset,
	})
	if err != nil {
		h.logger.Error("failed to read activity", slog.String("user_id", accountID), slog.Any("error", err))
		pkghttp.WriteInternalError(w, "Failed to retrieve activity")
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, map[string]any{
		"entries": entries,
		"limit":   limit,
		"offset":  offset,
	})
}

func (h *AdminHandler) writeServiceError(w http.ResponseWriter, err error) {
	var pv *models.PolicyViolationError
	switch {
	case errors.As(err, &pv):
		pkghttp.WritePolicyViolation(w, pv.Violations)
	case errors.Is(err, models.ErrNotFound):
		pkghttp.WriteNotFound(w, "User not found")
	case errors.Is(err, models.ErrConflict):
		pkghttp.WriteConflict(w, "Username or email already in use")
	case errors.Is(err, models.ErrLastAdmin):
		pkghttp.WriteConflict(w, "Cannot demote or deactivate the last active admin")
	case errors.Is(err, models.ErrBadRequest):
		pkghttp.WriteBadRequest(w, err.Error())
	default:
		h.logger.Error("admin operation failed", slog.Any("error", err))
		pkghttp.WriteInternalError(w, "Internal server error")
	}
}

func actor(w http.ResponseWriter, r *http.Request) (string, bool) {
	claims := auth.GetUserFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "unauthorized")
		return "", false
	}
	return claims.UserID, true
}

// pagination reads ?limit (1-100, default 50) and ?offset (>= 0).
func pagination(r *http.Request) (int, int) {
	limit, offset := 50, 0
	if l := r.URL.Query().Get("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil && n > 0 && n <= 100 {
			limit = n
		}
	}
	if o := r.URL.Query().Get("offset"); o != "" {
		if n, err := strconv.Atoi(o); err == nil && n >= 0 {
			offset = n
		}
	}
	return limit, offset
}
