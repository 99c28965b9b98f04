package middleware

import (
	"context"
	"net"
	"net/http"

	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/sanoy-si/doom-blocker-backend/auth"
)

// Context key type to avoid collisions
type contextKey string

const (
	// ClaimsKey is the context key for bearer token claims
	ClaimsKey contextKey = "claims"
)

// GetRequestIDFromContext returns chi's request id, or a fresh uuid when the
// RequestID middleware did not run
func GetRequestIDFromContext(ctx context.Context) string {
	if id := chimw.GetReqID(ctx); id != "" {
		return id
	}
	return uuid.NewString()
}

// GetClaimsFromContext retrieves token claims from context
func GetClaimsFromContext(ctx context.Context) *auth.ParsedClaims {
	if val := ctx.Value(ClaimsKey); val != nil {
		if claims, ok := val.(*auth.ParsedClaims); ok {
			return claims
		}
	}
	return nil
}

// WithClaims adds token claims to the context
func WithClaims(ctx context.Context, claims *auth.ParsedClaims) context.Context {
	return context.WithValue(ctx, ClaimsKey, claims)
}

// ClientIdentity is the admission identity of a request: the client IP.
// RealIP has already replaced RemoteAddr with the forwarded address when present.
func ClientIdentity(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
