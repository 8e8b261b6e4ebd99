package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/BradenHooton/clinitrust/internal/auth"
	"github.com/BradenHooton/clinitrust/internal/models"
	"github.com/BradenHooton/clinitrust/internal/services"
	pkghttp "github.com/BradenHooton/clinitrust/pkg/http"
)

// Authenticator is the part of the auth gate the HTTP layer needs.
type Authenticator interface {
	Authenticate(ctx context.Context, identifier, secret string) (*services.AuthResult, error)
	ChangeSecret(ctx context.Context, accountID, current, next string) error
}

// ProfileLookup loads the account behind a session.
type ProfileLookup interface {
	GetAccount(ctx context.Context, accountID string) (*models.Account, error)
}

// AuthHandler handles authentication-related HTTP requests
type AuthHandler struct {
	gate     Authenticator
	accounts ProfileLookup
	logger   *slog.Logger
}

// NewAuthHandler creates a new AuthHandler
func NewAuthHandler(gate Authenticator, accounts ProfileLookup, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{
		gate:     gate,
		accounts: accounts,
		logger:   logger,
	}
}

// LoginRequest represents the request body for login. Identifier is a
// username or an email address.
type LoginRequest struct {
	Identifier string `json:"identifier" validate:"required,max=255"`
	Password   string `json:"password" validate:"required,max=1024"`
}

// ChangePasswordRequest represents the request body for a password change
type ChangePasswordRequest struct {
	CurrentPassword string `json:"current_password" validate:"required,max=1024"`
	NewPassword     string `json:"new_password" validate:"required,max=1024"`
}

// Login handles POST /api/auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := decodeAndValidate(r, &req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	result, err := h.gate.Authenticate(r.Context(), strings.TrimSpace(req.Identifier), req.Password)
	if err != nil {
		h.writeAuthError(w, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, result)
}

// ChangePassword handles POST /api/auth/password/change
func (h *AuthHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetUserFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "unauthorized")
		return
	}

	var req ChangePasswordRequest
	if err := decodeAndValidate(r, &req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	err := h.gate.ChangeSecret(r.Context(), claims.UserID, req.CurrentPassword, req.NewPassword)
	if err != nil {
		var pv *models.PolicyViolationError
		switch {
		case errors.As(err, &pv):
			pkghttp.WritePolicyViolation(w, pv.Violations)
		case errors.Is(err, models.ErrInvalidCredentials):
			pkghttp.WriteUnauthorized(w, "Current password is incorrect")
		case errors.Is(err, models.ErrAccountDisabled):
			pkghttp.WriteForbidden(w, "Account is disabled")
		case errors.Is(err, models.ErrNotFound):
			pkghttp.WriteUnauthorized(w, "unauthorized")
		default:
			h.logger.Error("password change failed", slog.String("user_id", claims.UserID), slog.Any("error", err))
			pkghttp.WriteInternalError(w, "Internal server error")
		}
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, map[string]string{"message": "Password changed"})
}

// Me handles GET /api/auth/me
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetUserFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "unauthorized")
		return
	}

	account, err := h.accounts.GetAccount(r.Context(), claims.UserID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			pkghttp.WriteUnauthorized(w, "unauthorized")
			return
		}
		pkghttp.WriteInternalError(w, "Internal server error")
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, map[string]any{
		"user":                     account.Profile(),
		"password_change_required": account.PasswordChangeRequired(),
	})
}

// writeAuthError maps gate outcomes to status codes. Unknown identifiers and
// wrong passwords share one response.
func (h *AuthHandler) writeAuthError(w http.ResponseWriter, err error) {
	var locked *models.AccountLockedError
	switch {
	case errors.As(err, &locked):
		pkghttp.WriteLocked(w, locked.MinutesRemaining)
	case errors.Is(err, models.ErrAccountDisabled):
		pkghttp.WriteForbidden(w, "Account is disabled")
	case errors.Is(err, models.ErrInvalidCredentials):
		pkghttp.WriteUnauthorized(w, "Invalid credentials")
	default:
		h.logger.Error("authentication failed unexpectedly", slog.Any("error", err))
		pkghttp.WriteInternalError(w, "Internal server error")
	}
}
