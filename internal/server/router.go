// Package server assembles the crm-auth HTTP router.
package server

import (
	"log/slog"
	"net/http"
	"slices"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/alexjbarnes/crm-auth/internal/api"
	"github.com/alexjbarnes/crm-auth/internal/auth"
)

// RouterConfig holds dependencies for building the router.
type RouterConfig struct {
	Store       auth.Store
	Resolver    *auth.Resolver
	Credentials CredentialStore
	MCPHandler  http.Handler
	Logger      *slog.Logger

	PublicURL string
	LoginURL  string
	// Strict binds authorize requests to a registered client and one of
	// its redirect URIs.
	Strict bool
	// RequirePKCE makes an S256 challenge and its verifier mandatory.
	RequirePKCE bool
	// StrictRegistration applies the redirect URI scheme policy at
	// client registration.
	StrictRegistration bool

	// AllowedOrigins restricts CORS. Nil reflects any origin.
	AllowedOrigins []string
	CookieDomain   string
	SecureCookies  bool
}

// CredentialStore is what the router's handlers need from the opaque
// credential store.
type CredentialStore interface {
	api.Credentials
	auth.CredentialIssuer
}

// CORSOptions returns the policy applied to /api/* and /.well-known/*.
// Credentials are allowed, so the matching origin is echoed back rather
// than "*".
func CORSOptions(allowed []string) cors.Options {
	return cors.Options{
		AllowOriginFunc: func(_ *http.Request, origin string) bool {
			return allowed == nil || slices.Contains(allowed, origin)
		},
		AllowedMethods: []string{
			http.MethodGet,
			http.MethodPost,
			http.MethodPut,
			http.MethodDelete,
			http.MethodOptions,
		},
		AllowedHeaders: []string{
			"Content-Type",
			"Authorization",
			"Mcp-Session-Id",
			"Mcp-Protocol-Version",
		},
		ExposedHeaders:   []string{"Mcp-Session-Id", "WWW-Authenticate"},
		AllowCredentials: true,
		MaxAge:           300,
	}
}

// NewRouter builds the router: OAuth discovery, the authorization server
// endpoints under /api/oauth, the first-party API, and the MCP endpoint
// behind the bearer gate.
func NewRouter(cfg RouterConfig) chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(cfg.Logger))

	corsHandler := cors.Handler(CORSOptions(cfg.AllowedOrigins))
	protectedResource := auth.HandleProtectedResourceMetadata(cfg.PublicURL)

	r.Route("/.well-known", func(r chi.Router) {
		r.Use(corsHandler)
		r.Get("/oauth-protected-resource", protectedResource)
		r.Get("/oauth-protected-resource/*", protectedResource)
		r.Get("/oauth-authorization-server", auth.HandleServerMetadata(cfg.PublicURL, auth.DefaultOAuthPrefix))
	})

	handlers := api.New(cfg.Credentials, cfg.Resolver, cfg.Logger, api.Options{
		CookieDomain:  cfg.CookieDomain,
		SecureCookies: cfg.SecureCookies,
		StrictSetup:   cfg.Strict,
	})

	r.Route("/api", func(r chi.Router) {
		r.Use(corsHandler)

		r.Route("/oauth", func(r chi.Router) {
			r.Post("/register", auth.HandleRegistration(cfg.Store, cfg.Logger, auth.RegistrationOptions{Strict: cfg.StrictRegistration}))
			r.Get("/authorize", auth.HandleAuthorize(cfg.Store, cfg.Resolver, cfg.Logger, auth.AuthorizeOptions{
				LoginURL:    cfg.LoginURL,
				Strict:      cfg.Strict,
				RequirePKCE: cfg.RequirePKCE,
			}))
			r.Post("/token", auth.HandleToken(cfg.Store, cfg.Credentials, cfg.Logger, auth.TokenOptions{RequirePKCE: cfg.RequirePKCE}))
		})

		r.With(auth.Gate(cfg.Resolver, cfg.Logger, cfg.PublicURL)).Handle("/mcp", cfg.MCPHandler)

		handlers.Routes(r)
	})

	return r
}

// requestLogger logs one line per request at Debug, or Warn for server
// errors.
func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()

			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}

			level := slog.LevelDebug
			if status >= http.StatusInternalServerError {
				level = slog.LevelWarn
			}

			logger.Log(r.Context(), level, "http request",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", status),
				slog.Duration("duration", time.Since(start)),
				slog.String("request_id", middleware.GetReqID(r.Context())),
			)
		})
	}
}
