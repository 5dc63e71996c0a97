package api

import (
	"context"
	"errors"
	"net/http"
	"strings"
)

type contextKey string

const userIDKey contextKey = "user_id"

// ErrInvalidToken is returned when a bearer token fails verification.
var ErrInvalidToken = errors.New("invalid authentication credentials")

// TokenVerifier resolves a bearer token to a user id. In production the
// platform's auth service backs this; development deployments use the
// static verifier below.
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (string, error)
}

// StaticVerifier accepts tokens of the form "<userID>:<secret>" against a
// configured shared secret. With no secret configured the token itself is
// taken as the user id, which keeps local development frictionless.
type StaticVerifier struct {
	secret string
}

// NewStaticVerifier creates a shared-secret token verifier
func NewStaticVerifier(secret string) *StaticVerifier {
	return &StaticVerifier{secret: secret}
}

// Verify resolves the token to a user id
func (v *StaticVerifier) Verify(ctx context.Context, token string) (string, error) {
	if token == "" {
		return "", ErrInvalidToken
	}

	if v.secret == "" {
		return token, nil
	}

	userID, secret, found := strings.Cut(token, ":")
	if !found || userID == "" || secret != v.secret {
		return "", ErrInvalidToken
	}
	return userID, nil
}

// BearerAuth authenticates requests using an Authorization bearer token
type BearerAuth struct {
	verifier TokenVerifier
}

// NewBearerAuth creates bearer authentication over a static verifier
func NewBearerAuth(secret string) *BearerAuth {
	return &BearerAuth{verifier: NewStaticVerifier(secret)}
}

// NewBearerAuthWithVerifier creates bearer authentication over a custom verifier
func NewBearerAuthWithVerifier(verifier TokenVerifier) *BearerAuth {
	return &BearerAuth{verifier: verifier}
}

// Middleware rejects requests without a valid bearer token and stores the
// resolved user id in the request context.
func (a *BearerAuth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			writeAuthError(w)
			return
		}

		userID, err := a.verifier.Verify(r.Context(), token)
		if err != nil {
			writeAuthError(w)
			return
		}

		ctx := context.WithValue(r.Context(), userIDKey, userID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// bearerToken extracts the token from the Authorization header
func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if header == "" {
		return ""
	}

	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

// currentUser returns the authenticated user id from the request context
func currentUser(r *http.Request) string {
	userID, _ := r.Context().Value(userIDKey).(string)
	return userID
}

func writeAuthError(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	w.Write([]byte(`{"error": "Invalid authentication credentials"}`))
}
