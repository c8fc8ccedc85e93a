// Package api serves the first-party JSON endpoints: session
// introspection and management of the caller's opaque API credentials.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/alexjbarnes/crm-auth/internal/auth"
	"github.com/alexjbarnes/crm-auth/internal/credential"
	autherrors "github.com/alexjbarnes/crm-auth/internal/errors"
	"github.com/alexjbarnes/crm-auth/internal/models"
)

// maxBody limits JSON request bodies.
const maxBody = 16 << 10

// Credentials is the subset of the credential store the API needs.
type Credentials interface {
	Mint(ownerID, label string) (string, models.Credential, error)
	ReprovisionReserved(ownerID, label string) (string, error)
	Revoke(id, ownerID string) error
	List(ownerID string) ([]models.Credential, error)
}

// Options configures the handlers.
type Options struct {
	// CookieDomain is set on the cleared session cookie at logout so it
	// matches the cookie the login surface issued.
	CookieDomain string
	// SecureCookies marks the cleared cookie Secure.
	SecureCookies bool
	// StrictSetup requires the mcp-setup callback to be a loopback
	// http URL.
	StrictSetup bool
}

// Handlers holds the dependencies of the API endpoints.
type Handlers struct {
	creds    Credentials
	resolver *auth.Resolver
	logger   *slog.Logger
	opts     Options
}

// New creates the API handlers.
func New(creds Credentials, resolver *auth.Resolver, logger *slog.Logger, opts Options) *Handlers {
	return &Handlers{creds: creds, resolver: resolver, logger: logger, opts: opts}
}

// Routes mounts the endpoints on r. r is expected to be the /api subrouter.
func (h *Handlers) Routes(r chi.Router) {
	r.Get("/health", h.Health)
	r.Get("/auth/me", h.Me)
	r.Post("/auth/logout", h.Logout)

	r.Route("/tokens", func(r chi.Router) {
		r.Use(auth.RequireUser(h.resolver, h.logger))
		r.Get("/", h.ListTokens)
		r.Post("/", h.CreateToken)
		r.Get("/mcp-setup", h.MCPSetup)
		r.Delete("/{id}", h.DeleteToken)
	})
}

// tokenView is a credential as shown to its owner. The digest never
// leaves the server.
type tokenView struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	LastUsedAt *time.Time `json:"last_used_at"`
	CreatedAt  time.Time  `json:"created_at"`
}

type createdToken struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Value     string    `json:"value"`
	CreatedAt time.Time `json:"created_at"`
}

// Health handles GET /api/health.
func (h *Handlers) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// Me handles GET /api/auth/me. Only the session cookie is consulted.
func (h *Handlers) Me(w http.ResponseWriter, r *http.Request) {
	p, ok := h.resolver.ResolveSession(r)
	if !ok {
		writeJSON(w, http.StatusOK, map[string]any{"user": nil})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"user": p})
}

// Logout handles POST /api/auth/logout by expiring the session cookie.
// Session assertions are stateless, so a copied value stays valid until
// its own expiry.
func (h *Handlers) Logout(w http.ResponseWriter, _ *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     h.resolver.CookieName(),
		Value:    "",
		Path:     "/",
		Domain:   h.opts.CookieDomain,
		MaxAge:   -1,
		Expires:  time.Unix(0, 0),
		HttpOnly: true,
		Secure:   h.opts.SecureCookies,
		SameSite: http.SameSiteLaxMode,
	})

	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// ListTokens handles GET /api/tokens.
func (h *Handlers) ListTokens(w http.ResponseWriter, r *http.Request) {
	userID := auth.RequestUserID(r.Context())

	creds, err := h.creds.List(userID)
	if err != nil {
		h.internalError(w, "listing credentials", err)
		return
	}

	views := make([]tokenView, 0, len(creds))
	for _, c := range creds {
		views = append(views, tokenView{
			ID:         c.ID,
			Name:       c.Label,
			LastUsedAt: c.LastUsedAt,
			CreatedAt:  c.CreatedAt,
		})
	}

	writeJSON(w, http.StatusOK, views)
}

// CreateToken handles POST /api/tokens. The raw value is in the response
// and nowhere else.
func (h *Handlers) CreateToken(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name string `json:"name"`
	}

	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBody)).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}

	name := credential.NormalizeLabel(body.Name)
	if name == "" {
		writeError(w, http.StatusBadRequest, "Name required")
		return
	}

	userID := auth.RequestUserID(r.Context())

	raw, rec, err := h.creds.Mint(userID, name)
	if err != nil {
		h.internalError(w, "minting credential", err)
		return
	}

	writeJSON(w, http.StatusCreated, createdToken{
		ID:        rec.ID,
		Name:      rec.Label,
		Value:     raw,
		CreatedAt: rec.CreatedAt,
	})
}

// MCPSetup handles GET /api/tokens/mcp-setup?callback=. It replaces the
// caller's setup credential and hands the new raw value to a local
// callback listener.
func (h *Handlers) MCPSetup(w http.ResponseWriter, r *http.Request) {
	callback := r.URL.Query().Get("callback")
	if callback == "" {
		writeError(w, http.StatusBadRequest, "callback parameter required")
		return
	}

	target, err := url.Parse(callback)
	if err != nil || target.Scheme == "" || target.Host == "" {
		writeError(w, http.StatusBadRequest, "callback must be an absolute URL")
		return
	}

	if h.opts.StrictSetup && !auth.IsLoopbackURL(callback) {
		writeError(w, http.StatusBadRequest, "callback must be a loopback http URL")
		return
	}

	userID := auth.RequestUserID(r.Context())

	raw, err := h.creds.ReprovisionReserved(userID, credential.LabelSetup)
	if err != nil {
		h.internalError(w, "reprovisioning setup credential", err)
		return
	}

	q := target.Query()
	q.Set("token", raw)
	target.RawQuery = q.Encode()

	http.Redirect(w, r, target.String(), http.StatusFound)
}

// DeleteToken handles DELETE /api/tokens/{id}. Credentials owned by
// someone else are reported as not found.
func (h *Handlers) DeleteToken(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	userID := auth.RequestUserID(r.Context())

	if err := h.creds.Revoke(id, userID); err != nil {
		if errors.Is(err, autherrors.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Not found")
			return
		}

		h.internalError(w, "revoking credential", err)

		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (h *Handlers) internalError(w http.ResponseWriter, msg string, err error) {
	h.logger.Error(msg, slog.String("error", err.Error()))
	writeError(w, http.StatusInternalServerError, "Internal error")
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
