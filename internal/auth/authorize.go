package auth

import (
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/alexjbarnes/crm-auth/internal/models"
)

const (
	codeExpiry = 5 * time.Minute

	// authCodeBytes is the number of random bytes used to generate
	// an authorization code (hex-encoded to twice this length).
	authCodeBytes = 32
)

// SessionResolver resolves the browser session attached to a request.
type SessionResolver interface {
	ResolveSession(r *http.Request) (models.Principal, bool)
}

// AuthorizeOptions configures the authorization endpoint.
type AuthorizeOptions struct {
	// LoginURL is the external login surface. Unauthenticated callers
	// are sent to LoginURL/?return_to=<this request>.
	LoginURL string
	// Strict binds the request to a registered client and one of its
	// redirect URIs.
	Strict bool
	// RequirePKCE rejects requests without a code_challenge. An absent
	// code_challenge_method is treated as S256 by policy, not as the
	// RFC 7636 default of plain; plain is refused.
	RequirePKCE bool
}

// HandleAuthorize returns the /oauth/authorize handler. There is no
// consent screen: a caller with a valid session cookie is approved
// immediately. Bearer values are never consulted here.
func HandleAuthorize(store Store, sessions SessionResolver, logger *slog.Logger, opts AuthorizeOptions) http.HandlerFunc {
	loginURL := strings.TrimRight(opts.LoginURL, "/")

	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		q := r.URL.Query()

		if q.Get("response_type") != responseTypeCode {
			writeJSONError(w, http.StatusBadRequest, "unsupported_response_type", "response_type must be \"code\"")
			return
		}

		clientID := q.Get("client_id")
		redirectURI := q.Get("redirect_uri")

		if clientID == "" || redirectURI == "" {
			writeJSONError(w, http.StatusBadRequest, "invalid_request", "client_id and redirect_uri are required")
			return
		}

		// Private-use schemes (RFC 8252 Section 7.1) have no host, so only
		// a scheme is required.
		target, err := url.Parse(redirectURI)
		if err != nil || target.Scheme == "" {
			writeJSONError(w, http.StatusBadRequest, "invalid_request", "redirect_uri must be an absolute URL")
			return
		}

		state := q.Get("state")
		codeChallenge := q.Get("code_challenge")

		if opts.Strict {
			client := store.GetClient(clientID)
			if client == nil {
				writeJSONError(w, http.StatusBadRequest, "invalid_request", "unknown client_id")
				return
			}

			if !validateRedirectURI(client, redirectURI) {
				writeJSONError(w, http.StatusBadRequest, "invalid_request", "redirect_uri not registered for this client")
				return
			}
		}

		if opts.RequirePKCE {
			desc := ""
			if codeChallenge == "" {
				desc = "code_challenge is required (PKCE)"
			} else if m := q.Get("code_challenge_method"); m != "" && m != codeChallengeMethodS256 {
				desc = "only S256 code_challenge_method is supported"
			}

			if desc != "" {
				// A validated redirect URI receives the error (RFC 6749
				// Section 4.1.2.1); an unchecked one does not.
				if opts.Strict {
					redirectWithParams(w, r, target, errorParams(state, "invalid_request", desc))
				} else {
					writeJSONError(w, http.StatusBadRequest, "invalid_request", desc)
				}

				return
			}
		}

		principal, ok := sessions.ResolveSession(r)
		if !ok {
			returnTo := r.URL.Path + "?" + r.URL.RawQuery

			logger.Debug("authorize: no session, redirecting to login",
				slog.String("client_id", clientID),
				slog.String("ip", remoteIP(r)),
			)
			http.Redirect(w, r, loginURL+"/?return_to="+url.QueryEscape(returnTo), http.StatusFound)

			return
		}

		code := RandomHex(authCodeBytes)
		store.SaveCode(&models.AuthCode{
			Code:          code,
			UserID:        principal.UserID,
			ClientID:      clientID,
			RedirectURI:   redirectURI,
			CodeChallenge: codeChallenge,
			ExpiresAt:     time.Now().Add(codeExpiry),
		})

		logger.Info("authorization code issued",
			slog.String("client_id", clientID),
			slog.String("user_id", principal.UserID),
		)

		params := url.Values{}
		params.Set("code", code)

		if state != "" {
			params.Set("state", state)
		}

		redirectWithParams(w, r, target, params)
	}
}

func errorParams(state, errCode, description string) url.Values {
	params := url.Values{}
	params.Set("error", errCode)
	params.Set("error_description", description)

	if state != "" {
		params.Set("state", state)
	}

	return params
}

// redirectWithParams sets params on target's query, keeping any query
// component the client registered (RFC 6749 Section 4.1.2).
func redirectWithParams(w http.ResponseWriter, r *http.Request, target *url.URL, params url.Values) {
	u := *target
	q := u.Query()

	for k, vs := range params {
		q[k] = vs
	}

	u.RawQuery = q.Encode()
	http.Redirect(w, r, u.String(), http.StatusFound)
}

// validateRedirectURI checks that redirectURI matches one of the client's
// registered redirect_uris. Exact match is required, except that a
// registered loopback http URI accepts any port (RFC 8252 Section 7.3).
//
// When a client has no registered redirect URIs, only loopback URIs
// are accepted. This prevents a known client_id from being used to send
// codes to an arbitrary external host.
func validateRedirectURI(client *models.OAuthClient, redirectURI string) bool {
	if len(client.RedirectURIs) == 0 {
		u, err := url.Parse(redirectURI)
		if err != nil {
			return false
		}

		return u.Scheme == "http" && isLoopbackHost(u.Hostname())
	}

	for _, registered := range client.RedirectURIs {
		if redirectURI == registered {
			return true
		}

		if isLoopbackRedirect(redirectURI, registered) {
			return true
		}
	}

	return false
}

// isLoopbackHost returns true if the hostname is a loopback address.
func isLoopbackHost(host string) bool {
	return host == "127.0.0.1" || host == "localhost" || host == "::1"
}

// isLoopbackRedirect reports whether redirectURI equals the registered
// loopback URI in everything but the port. Both are parsed so that hosts
// like 127.0.0.1.evil.com do not match.
func isLoopbackRedirect(redirectURI, registered string) bool {
	pu, err := url.Parse(registered)
	if err != nil || pu.Scheme != "http" || !isLoopbackHost(pu.Hostname()) {
		return false
	}

	ru, err := url.Parse(redirectURI)
	if err != nil {
		return false
	}

	return ru.Scheme == pu.Scheme &&
		ru.Hostname() == pu.Hostname() &&
		strings.TrimRight(ru.Path, "/") == strings.TrimRight(pu.Path, "/") &&
		ru.RawQuery == pu.RawQuery &&
		ru.Fragment == ""
}

// IsLoopbackURL reports whether raw is an http URL on a loopback host.
func IsLoopbackURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}

	return u.Scheme == "http" && isLoopbackHost(u.Hostname())
}
