package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/BradenHooton/clinitrust/internal/auth"
	"github.com/BradenHooton/clinitrust/internal/models"
	"github.com/BradenHooton/clinitrust/internal/services"
	pkghttp "github.com/BradenHooton/clinitrust/pkg/http"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
)

// NewTestRequest creates an HTTP request with JSON body for testing
func NewTestRequest(t *testing.T, method, url string, body interface{}) *http.Request {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("failed to encode request body: %v", err)
		}
	}
	req := httptest.NewRequest(method, url, &buf)
	req.Header.Set("Content-Type", "application/json")
	return req
}

// WithAuthContext adds session claims to the request context for testing
// authenticated endpoints
func WithAuthContext(req *http.Request, userID, role string) *http.Request {
	claims := &models.TokenClaims{
		UserID: userID,
		Role:   role,
		Type:   auth.TokenTypeAccess,
	}
	ctx := context.WithValue(req.Context(), auth.UserContextKey, claims)
	return req.WithContext(ctx)
}

// WithChiRouteContext sets URL parameters that the chi router would normally
// extract from the path.
//
//	req = WithChiRouteContext(req, map[string]string{"id": "user123"})
func WithChiRouteContext(r *http.Request, params map[string]string) *http.Request {
	rctx := chi.NewRouteContext()
	for key, value := range params {
		rctx.URLParams.Add(key, value)
	}
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

// AssertJSONResponse checks that response has correct status and decodes JSON body
func AssertJSONResponse(t *testing.T, w *httptest.ResponseRecorder, expectedStatus int, target interface{}) {
	t.Helper()
	assert.Equal(t, expectedStatus, w.Code, "Response status mismatch")

	contentType := w.Header().Get("Content-Type")
	assert.Equal(t, "application/json", contentType, "Content-Type should be application/json")

	if target != nil {
		err := json.Unmarshal(w.Body.Bytes(), target)
		assert.NoError(t, err, "Failed to decode response JSON")
	}
}

// AssertErrorResponse checks that response is a valid error response and
// returns it for further assertions
func AssertErrorResponse(t *testing.T, w *httptest.ResponseRecorder, expectedStatus int, expectedError string) pkghttp.ErrorResponse {
	t.Helper()
	assert.Equal(t, expectedStatus, w.Code, "Response status mismatch")

	var resp pkghttp.ErrorResponse
	err := json.Unmarshal(w.Body.Bytes(), &resp)
	assert.NoError(t, err, "Failed to decode error response")
	assert.Equal(t, expectedError, resp.Error, "Error code mismatch")
	assert.NotEmpty(t, resp.Message, "Error message should not be empty")
	return resp
}

// MockAuthenticator implements Authenticator for testing
type MockAuthenticator struct {
	AuthenticateFunc func(ctx context.Context, identifier, secret string) (*services.AuthResult, error)
	ChangeSecretFunc func(ctx context.Context, accountID, current, next string) error
}

func (m *MockAuthenticator) Authenticate(ctx context.Context, identifier, secret string) (*services.AuthResult, error) {
	if m.AuthenticateFunc == nil {
		return nil, models.ErrInvalidCredentials
	}
	return m.AuthenticateFunc(ctx, identifier, secret)
}

func (m *MockAuthenticator) ChangeSecret(ctx context.Context, accountID, current, next string) error {
	if m.ChangeSecretFunc == nil {
		return nil
	}
	return m.ChangeSecretFunc(ctx, accountID, current, next)
}

// MockAdminService implements AdminServiceInterface and ProfileLookup for testing
type MockAdminService struct {
	CreateAccountFunc func(ctx context.Context, actorID string, req services.NewAccount) (*models.Account, error)
	GetAccountFunc    func(ctx context.Context, accountID string) (*models.Account, error)
	ListAccountsFunc  func(ctx context.Context, limit, offset int) ([]*models.Account, error)
	UnlockFunc        func(ctx context.Context, actorID, accountID string) (*models.Account, error)
	ResetAttemptsFunc func(ctx context.Context, actorID, accountID string) (*models.Account, error)
	ResetPasswordFunc func(ctx context.Context, actorID, accountID string) (string, error)
	SetActiveFunc     func(ctx context.Context, actorID, accountID string, active bool) (*models.Account, error)
	UpdateAccountFunc func(ctx context.Context, actorID, accountID string, upd services.AccountUpdate) (*models.Account, error)
}

func (m *MockAdminService) CreateAccount(ctx context.Context, actorID string, req services.NewAccount) (*models.Account, error) {
	if m.CreateAccountFunc == nil {
		return nil, models.ErrInternalServer
	}
	return m.CreateAccountFunc(ctx, actorID, req)
}

func (m *MockAdminService) GetAccount(ctx context.Context, accountID string) (*models.Account, error) {
	if m.GetAccountFunc == nil {
		return nil, models.ErrNotFound
	}
	return m.GetAccountFunc(ctx, accountID)
}

func (m *MockAdminService) ListAccounts(ctx context.Context, limit, offset int) ([]*models.Account, error) {
	if m.ListAccountsFunc == nil {
		return nil, nil
	}
	return m.ListAccountsFunc(ctx, limit, offset)
}

func (m *MockAdminService) Unlock(ctx context.Context, actorID, accountID string) (*models.Account, error) {
	if m.UnlockFunc == nil {
		return nil, models.ErrNotFound
	}
	return m.UnlockFunc(ctx, actorID, accountID)
}

func (m *MockAdminService) ResetAttempts(ctx context.Context, actorID, accountID string) (*models.Account, error) {
	if m.ResetAttemptsFunc == nil {
		return nil, models.ErrNotFound
	}
	return m.ResetAttemptsFunc(ctx, actorID, accountID)
}

func (m *MockAdminService) ResetPassword(ctx context.Context, actorID, accountID string) (string, error) {
	if m.ResetPasswordFunc == nil {
		return "", models.ErrNotFound
	}
	return m.ResetPasswordFunc(ctx, actorID, accountID)
}

func (m *MockAdminService) SetActive(ctx context.Context, actorID, accountID string, active bool) (*models.Account, error) {
	if m.SetActiveFunc == nil {
		return nil, models.ErrNotFound
	}
	return m.SetActiveFunc(ctx, actorID, accountID, active)
}

func (m *MockAdminService) UpdateAccount(ctx context.Context, actorID, accountID string, upd services.AccountUpdate) (*models.Account, error) {
	if m.UpdateAccountFunc == nil {
		return nil, models.ErrNotFound
	}
	return m.UpdateAccountFunc(ctx, actorID, accountID, upd)
}

// MockLedgerReader implements LedgerReader and ActivityReader for testing
type MockLedgerReader struct {
	ListFunc   func(ctx context.Context, filter models.AuditFilter) ([]*models.AuditEntry, error)
	VerifyFunc func(ctx context.Context, opts services.VerifyOptions) (*services.VerificationResult, error)
}

func (m *MockLedgerReader) List(ctx context.Context, filter models.AuditFilter) ([]*models.AuditEntry, error) {
	if m.ListFunc == nil {
		return nil, nil
	}
	return m.ListFunc(ctx, filter)
}

func (m *MockLedgerReader) Verify(ctx context.Context, opts services.VerifyOptions) (*services.VerificationResult, error) {
	if m.VerifyFunc == nil {
		return &services.VerificationResult{Valid: true}, nil
	}
	return m.VerifyFunc(ctx, opts)
}
