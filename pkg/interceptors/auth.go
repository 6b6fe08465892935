package interceptors

import (
	"context"
	"net/http"
	"strings"

	"github.com/maytees/homifyai-sub000/internal/types"
	"github.com/maytees/homifyai-sub000/pkg/api"
)

type sessionKey struct{}

// SessionResolver turns a bearer access token into the caller's session.
type SessionResolver interface {
	ResolveSession(ctx context.Context, accessToken string) (*types.Session, error)
}

// NewAuthInterceptor requires a valid bearer token and stores the resolved session in the context.
func NewAuthInterceptor(resolver SessionResolver) func(http.Handler) http.Handler {
	return newAuth(resolver, true)
}

// NewOptionalAuthInterceptor attaches a session when a valid token is present and passes
// the request through untouched otherwise.
func NewOptionalAuthInterceptor(resolver SessionResolver) func(http.Handler) http.Handler {
	return newAuth(resolver, false)
}

func newAuth(resolver SessionResolver, required bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearerToken(r)
			if token == "" {
				if required {
					api.WriteError(w, r, types.ErrUnauthenticated)
					return
				}
				next.ServeHTTP(w, r)
				return
			}

			session, err := resolver.ResolveSession(r.Context(), token)
			if err != nil || session == nil {
				if required {
					api.WriteError(w, r, types.ErrUnauthenticated)
					return
				}
				next.ServeHTTP(w, r)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithSession(r.Context(), session)))
		})
	}
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if len(header) < 7 || !strings.EqualFold(header[:7], "bearer ") {
		return ""
	}
	return strings.TrimSpace(header[7:])
}

// WithSession stores a resolved session in ctx.
func WithSession(ctx context.Context, session *types.Session) context.Context {
	return context.WithValue(ctx, sessionKey{}, session)
}

// SessionFromContext returns the session stored by the auth interceptor, or nil.
func SessionFromContext(ctx context.Context) *types.Session {
	session, _ := ctx.Value(sessionKey{}).(*types.Session)
	return session
}

// GetUserIDFromContext returns the authenticated user's id as a string.
func GetUserIDFromContext(ctx context.Context) (string, bool) {
	session := SessionFromContext(ctx)
	if session == nil {
		return "", false
	}
	return session.UserID.String(), true
}
