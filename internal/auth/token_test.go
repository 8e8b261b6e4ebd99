package auth

import (
	"testing"
	"time"

	"github.com/BradenHooton/clinitrust/internal/models"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret-that-is-at-least-32-bytes-long"

func TestTokenManager_RoundTrip(t *testing.T) {
	tm := NewTokenManager(testSecret, time.Hour)

	token, err := tm.GenerateAccessToken("user-1", "drjane", models.RoleClinician)
	require.NoError(t, err)

	claims, err := tm.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.UserID)
	assert.Equal(t, "drjane", claims.Username)
	assert.Equal(t, models.RoleClinician, claims.Role)
	assert.NotEmpty(t, claims.ID)
}

func TestTokenManager_RejectsForeignSignature(t *testing.T) {
	token, err := NewTokenManager("another-secret-that-is-also-long-enough", time.Hour).
		GenerateAccessToken("user-1", "drjane", models.RoleAdmin)
	require.NoError(t, err)

	_, err = NewTokenManager(testSecret, time.Hour).ValidateToken(token)
	assert.Error(t, err)
}

func TestTokenManager_RejectsExpired(t *testing.T) {
	tm := NewTokenManager(testSecret, -time.Minute)

	token, err := tm.GenerateAccessToken("user-1", "drjane", models.RoleClinician)
	require.NoError(t, err)

	_, err = tm.ValidateToken(token)
	assert.Error(t, err)
}

func TestTokenManager_RejectsWrongType(t *testing.T) {
	claims := &models.TokenClaims{
		Type:   "refresh",
		UserID: "user-1",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	require.NoError(t, err)

	_, err = NewTokenManager(testSecret, time.Hour).ValidateToken(token)
	assert.Error(t, err)
}
