package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/hugh/salesdesk/internal/auth"
	"github.com/hugh/salesdesk/internal/database/models"
)

type contextKey string

const sessionKey contextKey = "session"

// SessionCookie is the cookie the login handler stores the token in.
const SessionCookie = "token"

// Session is the identity snapshot carried by the token. It reflects the
// user as they were at login.
type Session struct {
	UserID     uuid.UUID
	Email      string
	Role       models.Role
	Status     models.UserStatus
	Department models.Department
}

func (s *Session) IsAdmin() bool {
	return s != nil && s.Role == models.RoleAdmin
}

func (s *Session) Active() bool {
	return s != nil && s.Status == models.UserStatusActive
}

func SessionFromClaims(c *auth.Claims) *Session {
	return &Session{
		UserID:     c.UserID,
		Email:      c.Email,
		Role:       models.Role(c.Role),
		Status:     models.UserStatus(c.Status),
		Department: models.Department(c.Department),
	}
}

// WithSession stores s in ctx.
func WithSession(ctx context.Context, s *Session) context.Context {
	return context.WithValue(ctx, sessionKey, s)
}

// SessionFrom returns the request's session, or nil when the caller is
// anonymous.
func SessionFrom(ctx context.Context) *Session {
	s, _ := ctx.Value(sessionKey).(*Session)
	return s
}

// TokenFromRequest looks for a token in the Authorization header, then the
// session cookie, then the X-Auth-Token header.
func TokenFromRequest(r *http.Request) string {
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	if cookie, err := r.Cookie(SessionCookie); err == nil && cookie.Value != "" {
		return cookie.Value
	}
	return r.Header.Get("X-Auth-Token")
}

// Authenticate resolves the session once per request. Missing or invalid
// tokens leave the request anonymous; rejecting it is the gate's job.
func Authenticate(tokens auth.TokenService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := TokenFromRequest(r)
			if token == "" {
				next.ServeHTTP(w, r)
				return
			}

			claims, err := tokens.ValidateToken(token)
			if err != nil {
				next.ServeHTTP(w, r)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithSession(r.Context(), SessionFromClaims(claims))))
		})
	}
}
