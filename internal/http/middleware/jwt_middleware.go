package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/diagnosis/slotgrid/internal/http/response"
	"github.com/diagnosis/slotgrid/pkg/logger"
)

type ctxKey string

const CtxUserID ctxKey = "user_id"

// TokenVerifier resolves an access token to a user id.
type TokenVerifier interface {
	VerifyAccessToken(token string) (string, error)
}

type Auth struct {
	verifier TokenVerifier
}

func NewAuth(verifier TokenVerifier) *Auth {
	return &Auth{verifier: verifier}
}

func bearer(r *http.Request) string {
	authz := r.Header.Get("Authorization")
	if !strings.HasPrefix(authz, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(authz, "Bearer "))
}

func (a *Auth) authenticate(r *http.Request, allowQuery bool) (*http.Request, bool) {
	raw := bearer(r)
	if raw == "" && allowQuery {
		raw = r.URL.Query().Get("token")
	}
	if raw == "" {
		return r, false
	}
	userID, err := a.verifier.VerifyAccessToken(raw)
	if err != nil {
		return r, false
	}
	ctx := context.WithValue(r.Context(), CtxUserID, userID)
	ctx = context.WithValue(ctx, logger.UserIDKey, userID)
	return r.WithContext(ctx), true
}

// Require rejects requests without a valid bearer token.
func (a *Auth) Require(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r, ok := a.authenticate(r, false)
		if !ok {
			response.Unauthorized(w, "invalid or missing access token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireStream also accepts ?token= since EventSource cannot set headers.
func (a *Auth) RequireStream(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r, ok := a.authenticate(r, true)
		if !ok {
			response.Unauthorized(w, "invalid or missing access token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Optional attaches the user when a valid token is present and otherwise
// lets the request through anonymously.
func (a *Auth) Optional(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r, _ = a.authenticate(r, false)
		next.ServeHTTP(w, r)
	})
}

// UserID returns the authenticated user, or "" for anonymous requests.
func UserID(r *http.Request) string {
	v, _ := r.Context().Value(CtxUserID).(string)
	return v
}
