package api

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func signToken(t *testing.T, secret, userID string, admin bool, ttl time.Duration) string {
	t.Helper()
	claims := SessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
		},
		Admin: admin,
	}
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return tok
}

func TestJWTAuthenticator_RoundTrip(t *testing.T) {
	auth := NewJWTAuthenticator("test-secret")

	id, err := auth.Authenticate(signToken(t, "test-secret", "user-1", true, time.Hour))
	require.NoError(t, err)
	assert.Equal(t, "user-1", id.UserID)
	assert.True(t, id.Admin)
}

func TestJWTAuthenticator_RejectsBadTokens(t *testing.T) {
	auth := NewJWTAuthenticator("test-secret")

	_, err := auth.Authenticate(signToken(t, "wrong-secret", "user-1", false, time.Hour))
	assert.ErrorIs(t, err, ErrUnauthorized)

	_, err = auth.Authenticate(signToken(t, "test-secret", "user-1", false, -time.Minute))
	assert.ErrorIs(t, err, ErrUnauthorized)

	_, err = auth.Authenticate("not-a-token")
	assert.ErrorIs(t, err, ErrUnauthorized)

	// Missing subject claim.
	_, err = auth.Authenticate(signToken(t, "test-secret", "", false, time.Hour))
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestJWTAuthenticator_AuthFuncAdaptsForStream(t *testing.T) {
	auth := NewJWTAuthenticator("test-secret")
	fn := auth.AuthFunc()

	userID, admin, err := fn(signToken(t, "test-secret", "user-2", false, time.Hour))
	require.NoError(t, err)
	assert.Equal(t, "user-2", userID)
	assert.False(t, admin)

	_, _, err = fn("garbage")
	assert.Error(t, err)
}

func TestStaticTokenAuthenticator(t *testing.T) {
	auth := NewStaticTokenAuthenticator(map[string]Identity{
		"tok-alice": {UserID: "alice"},
		"tok-admin": {UserID: "ops", Admin: true},
	})

	id, err := auth.Authenticate("tok-alice")
	require.NoError(t, err)
	assert.Equal(t, "alice", id.UserID)

	id, err = auth.Authenticate("tok-admin")
	require.NoError(t, err)
	assert.True(t, id.Admin)

	_, err = auth.Authenticate("unknown")
	assert.ErrorIs(t, err, ErrUnauthorized)
}
