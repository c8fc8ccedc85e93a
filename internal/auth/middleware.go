package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"

	"github.com/alexjbarnes/crm-auth/internal/models"
)

type contextKey int

const (
	ctxPrincipal contextKey = iota
	ctxRemoteIP
)

// WithPrincipal returns a copy of ctx carrying the principal.
func WithPrincipal(ctx context.Context, p models.Principal) context.Context {
	return context.WithValue(ctx, ctxPrincipal, p)
}

// PrincipalFrom returns the authenticated principal from the context.
func PrincipalFrom(ctx context.Context) (models.Principal, bool) {
	p, ok := ctx.Value(ctxPrincipal).(models.Principal)
	return p, ok && p.UserID != ""
}

// RequestUserID returns the authenticated user ID from the context, or "".
func RequestUserID(ctx context.Context) string {
	p, _ := PrincipalFrom(ctx)
	return p.UserID
}

// WithRemoteIP returns a copy of ctx carrying the client IP.
func WithRemoteIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, ctxRemoteIP, ip)
}

// RequestRemoteIP returns the client IP from the context, or "".
func RequestRemoteIP(ctx context.Context) string {
	v, _ := ctx.Value(ctxRemoteIP).(string)
	return v
}

// remoteIP extracts the IP address from r.RemoteAddr, stripping the
// port. Falls back to the raw value if parsing fails.
func remoteIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}

	return host
}

func withIdentity(r *http.Request, p models.Principal) *http.Request {
	ctx := WithPrincipal(r.Context(), p)
	ctx = WithRemoteIP(ctx, remoteIP(r))

	return r.WithContext(ctx)
}

func writeUnauthorized(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": "Unauthorized"})
}

// RequireUser returns middleware for first-party API routes. It accepts
// any proof the resolver knows (session cookie, then bearer) and answers
// 401 without a challenge when none resolves.
func RequireUser(rv *Resolver, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, ok := rv.Resolve(r)
			if !ok {
				logger.Debug("api: unauthenticated request",
					slog.String("ip", remoteIP(r)),
					slog.String("path", r.URL.Path),
				)
				writeUnauthorized(w)

				return
			}

			next.ServeHTTP(w, withIdentity(r, p))
		})
	}
}

// Gate returns middleware for the agent tool endpoint. Only bearer proofs
// are accepted. Absent, malformed, and unresolvable values are rejected
// identically: 401 with a WWW-Authenticate challenge pointing at the
// protected resource metadata for the requested path (RFC 9728 Section 5.1).
func Gate(rv *Resolver, logger *slog.Logger, serverURL string) func(http.Handler) http.Handler {
	base := strings.TrimRight(serverURL, "/")

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, ok := rv.ResolveBearer(r)
			if !ok {
				logger.Debug("gate: no resolvable bearer token",
					slog.String("ip", remoteIP(r)),
					slog.String("path", r.URL.Path),
				)
				w.Header().Set("WWW-Authenticate", fmt.Sprintf(`Bearer resource_metadata="%s"`, ResourceMetadataURL(base, r.URL.Path)))
				writeUnauthorized(w)

				return
			}

			logger.Debug("gate: authenticated",
				slog.String("user_id", p.UserID),
				slog.String("ip", remoteIP(r)),
			)

			next.ServeHTTP(w, withIdentity(r, p))
		})
	}
}

// ResourceMetadataURL returns the protected resource metadata document URL
// for a resource path on the server.
func ResourceMetadataURL(serverURL, path string) string {
	u := strings.TrimRight(serverURL, "/") + ProtectedResourcePath
	if path != "" && path != "/" {
		u += "/" + strings.TrimLeft(path, "/")
	}

	return u
}
