package auth

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"
	"golang.org/x/crypto/bcrypt"

	autherrors "github.com/alexjbarnes/crm-auth/internal/errors"
	"github.com/alexjbarnes/crm-auth/internal/models"
)

// maxRequestBody limits the size of request bodies on the OAuth endpoints.
const maxRequestBody = 64 << 10

// registrationResponse is the DCR response (RFC 7591 Section 3.2.1).
type registrationResponse struct {
	ClientID                string   `json:"client_id"`
	ClientSecret            string   `json:"client_secret"`
	ClientIDIssuedAt        int64    `json:"client_id_issued_at"`
	ClientName              string   `json:"client_name,omitempty"`
	RedirectURIs            []string `json:"redirect_uris"`
	GrantTypes              []string `json:"grant_types"`
	ResponseTypes           []string `json:"response_types"`
	TokenEndpointAuthMethod string   `json:"token_endpoint_auth_method"`
}

// RegistrationOptions controls how strictly client metadata is checked.
type RegistrationOptions struct {
	// Strict requires at least one redirect URI and refuses remote http,
	// script-bearing schemes and fragments.
	Strict bool
}

// HandleRegistration returns the /oauth/register handler. Every call
// creates a new client; no deduplication is attempted. The client secret
// is returned once and only its bcrypt hash is kept.
func HandleRegistration(store Store, logger *slog.Logger, opts RegistrationOptions) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		if !store.RegistrationAllowed() {
			logger.Warn("registration rate limited", slog.String("ip", remoteIP(r)))
			writeJSONError(w, http.StatusTooManyRequests, "too_many_requests", "registration rate limit exceeded")

			return
		}

		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxRequestBody))
		if err != nil || !gjson.ValidBytes(body) {
			writeJSONError(w, http.StatusBadRequest, "invalid_request", "invalid request body")
			return
		}

		doc := gjson.ParseBytes(body)

		redirectURIs, ok := parseRedirectURIs(doc.Get("redirect_uris"))
		if opts.Strict {
			if !ok || len(redirectURIs) == 0 {
				writeJSONError(w, http.StatusBadRequest, "invalid_client_metadata", "redirect_uris must be a non-empty array of strings")
				return
			}

			for _, u := range redirectURIs {
				if !allowedRedirectURI(u) {
					writeJSONError(w, http.StatusBadRequest, "invalid_client_metadata", "redirect_uris must be https, loopback http or a private-use scheme")
					return
				}
			}
		}

		secret := uuid.NewString()

		hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
		if err != nil {
			logger.Error("hashing client secret", slog.String("error", err.Error()))
			writeJSONError(w, http.StatusInternalServerError, "server_error", "could not register client")

			return
		}

		client := &models.OAuthClient{
			ClientID:     uuid.NewString(),
			ClientName:   doc.Get("client_name").String(),
			SecretHash:   string(hash),
			RedirectURIs: redirectURIs,
			IssuedAt:     time.Now().UTC(),
		}

		if err := store.RegisterClient(client); err != nil {
			if errors.Is(err, autherrors.ErrClientLimit) {
				writeJSONError(w, http.StatusServiceUnavailable, "temporarily_unavailable", "client registration limit reached")
				return
			}

			logger.Error("registering client", slog.String("error", err.Error()))
			writeJSONError(w, http.StatusInternalServerError, "server_error", "could not register client")

			return
		}

		logger.Info("client registered",
			slog.String("client_id", client.ClientID),
			slog.Int("redirect_uris", len(redirectURIs)),
		)

		resp := registrationResponse{
			ClientID:                client.ClientID,
			ClientSecret:            secret,
			ClientIDIssuedAt:        client.IssuedAt.Unix(),
			ClientName:              client.ClientName,
			RedirectURIs:            redirectURIs,
			GrantTypes:              []string{grantTypeAuthorizationCode},
			ResponseTypes:           []string{responseTypeCode},
			TokenEndpointAuthMethod: authMethodClientSecretPost,
		}

		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "no-store")
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(resp)
	}
}

// parseRedirectURIs reads a JSON array of strings. ok is false when the
// value is present but not an array of strings. A missing value yields
// an empty, non-nil slice.
func parseRedirectURIs(v gjson.Result) ([]string, bool) {
	uris := []string{}
	if !v.Exists() {
		return uris, true
	}

	if !v.IsArray() {
		return uris, false
	}

	ok := true

	v.ForEach(func(_, item gjson.Result) bool {
		if item.Type != gjson.String {
			ok = false
			return false
		}

		uris = append(uris, item.String())

		return true
	})

	if !ok {
		return []string{}, false
	}

	return uris, true
}

// allowedRedirectURI accepts https URIs, http URIs on a loopback host
// (RFC 8252 Section 7.3) and private-use schemes used by native apps
// (RFC 8252 Section 7.1). Fragments are never allowed.
func allowedRedirectURI(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Fragment != "" || strings.HasSuffix(raw, "#") {
		return false
	}

	switch strings.ToLower(u.Scheme) {
	case "https":
		return u.Host != ""
	case "http":
		return isLoopbackHost(u.Hostname())
	case "javascript", "data", "vbscript", "file", "blob", "about":
		return false
	default:
		return true
	}
}

func writeJSONError(w http.ResponseWriter, status int, errCode, description string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)

	body := map[string]string{"error": errCode}
	if description != "" {
		body["error_description"] = description
	}

	_ = json.NewEncoder(w).Encode(body)
}
