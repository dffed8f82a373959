package api

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// Identity is the authenticated caller attached to a request.
type Identity struct {
	UserID string
	Admin  bool
}

// Authenticator validates a bearer token and resolves it to an identity.
type Authenticator interface {
	Authenticate(token string) (Identity, error)
}

type contextKey string

const identityKey contextKey = "identity"

// identityFrom retrieves the authenticated identity from a request context.
// The zero Identity means the auth middleware was not applied.
func identityFrom(r *http.Request) Identity {
	id, _ := r.Context().Value(identityKey).(Identity)
	return id
}

// AuthMiddleware validates the Authorization header on every request and
// stores the resolved identity in the request context.
func AuthMiddleware(auth Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if header == "" || !strings.HasPrefix(header, "Bearer ") {
				respondError(w, http.StatusUnauthorized, ErrCodeUnauthorized, ErrUnauthorized.Error())
				return
			}

			id, err := auth.Authenticate(strings.TrimPrefix(header, "Bearer "))
			if err != nil {
				respondError(w, http.StatusUnauthorized, ErrCodeUnauthorized, ErrUnauthorized.Error())
				return
			}

			ctx := context.WithValue(r.Context(), identityKey, id)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ---------------------------------------------------------------------------
// JWT authenticator
// ---------------------------------------------------------------------------

// SessionClaims extends jwt.RegisteredClaims with the admin flag. The user
// id travels in the registered Subject claim.
type SessionClaims struct {
	jwt.RegisteredClaims
	Admin bool `json:"admin,omitempty"`
}

// JWTAuthenticator validates HS256-signed session tokens.
type JWTAuthenticator struct {
	secret []byte
}

// NewJWTAuthenticator creates a JWT authenticator with a shared HMAC secret.
func NewJWTAuthenticator(secret string) *JWTAuthenticator {
	return &JWTAuthenticator{secret: []byte(secret)}
}

// Authenticate validates the token signature, algorithm, and expiry.
func (a *JWTAuthenticator) Authenticate(tokenString string) (Identity, error) {
	tok, err := jwt.ParseWithClaims(tokenString, &SessionClaims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return a.secret, nil
	})
	if err != nil || !tok.Valid {
		return Identity{}, ErrUnauthorized
	}
	claims, ok := tok.Claims.(*SessionClaims)
	if !ok || claims.Subject == "" {
		return Identity{}, ErrUnauthorized
	}
	return Identity{UserID: claims.Subject, Admin: claims.Admin}, nil
}

// AuthFunc adapts the authenticator to the websocket hub's upgrade check.
func (a *JWTAuthenticator) AuthFunc() func(token string) (string, bool, error) {
	return func(token string) (string, bool, error) {
		id, err := a.Authenticate(token)
		if err != nil {
			return "", false, err
		}
		return id.UserID, id.Admin, nil
	}
}

// ---------------------------------------------------------------------------
// Static token authenticator
// ---------------------------------------------------------------------------

// StaticTokenAuthenticator maps fixed tokens to identities. Used in tests
// and single-operator deployments where a session service is overkill.
type StaticTokenAuthenticator struct {
	tokens map[string]Identity
}

// NewStaticTokenAuthenticator creates an authenticator over a fixed token set.
func NewStaticTokenAuthenticator(tokens map[string]Identity) *StaticTokenAuthenticator {
	cp := make(map[string]Identity, len(tokens))
	for k, v := range tokens {
		cp[k] = v
	}
	return &StaticTokenAuthenticator{tokens: cp}
}

func (a *StaticTokenAuthenticator) Authenticate(token string) (Identity, error) {
	id, ok := a.tokens[token]
	if !ok {
		return Identity{}, ErrUnauthorized
	}
	return id, nil
}
