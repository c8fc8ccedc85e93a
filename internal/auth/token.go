package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"log/slog"
	"mime"
	"net/http"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/alexjbarnes/crm-auth/internal/credential"
)

// CredentialIssuer mints the durable credential handed out as an access
// token. Reprovisioning replaces any earlier credential under the label.
type CredentialIssuer interface {
	ReprovisionReserved(ownerID, label string) (string, error)
}

// TokenOptions configures the token endpoint.
type TokenOptions struct {
	// RequirePKCE requires a code_verifier whenever the code was bound
	// to a challenge. Without it a missing verifier skips the PKCE check.
	RequirePKCE bool
}

type tokenRequest struct {
	GrantType    string `json:"grant_type"`
	Code         string `json:"code"`
	RedirectURI  string `json:"redirect_uri"`
	CodeVerifier string `json:"code_verifier"`
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

// HandleToken returns the /oauth/token handler. The code is removed from
// the store as soon as it is looked up, so a second exchange always fails
// whatever happened to the first. Access tokens do not expire and there
// is no refresh grant.
func HandleToken(store Store, issuer CredentialIssuer, logger *slog.Logger, opts TokenOptions) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)

		req, ok := parseTokenRequest(r)
		if !ok {
			writeJSONError(w, http.StatusBadRequest, "invalid_request", "invalid request body")
			return
		}

		if req.GrantType != grantTypeAuthorizationCode {
			writeJSONError(w, http.StatusBadRequest, "unsupported_grant_type", "only authorization_code is supported")
			return
		}

		if req.Code == "" {
			writeJSONError(w, http.StatusBadRequest, "invalid_request", "code is required")
			return
		}

		ac := store.ConsumeCode(req.Code)
		if ac == nil {
			writeJSONError(w, http.StatusBadRequest, "invalid_grant", "invalid or expired code")
			return
		}

		if ac.Expired(time.Now()) {
			writeJSONError(w, http.StatusBadRequest, "invalid_grant", "code expired")
			return
		}

		if req.ClientID != "" && req.ClientID != ac.ClientID {
			writeJSONError(w, http.StatusBadRequest, "invalid_grant", "client_id mismatch")
			return
		}

		if req.ClientSecret != "" && !clientSecretMatches(store, ac.ClientID, req.ClientSecret) {
			logger.Warn("token: client authentication failed",
				slog.String("client_id", ac.ClientID),
				slog.String("ip", remoteIP(r)),
			)
			writeJSONError(w, http.StatusUnauthorized, "invalid_client", "client authentication failed")

			return
		}

		if req.RedirectURI != ac.RedirectURI {
			writeJSONError(w, http.StatusBadRequest, "invalid_grant", "redirect_uri mismatch")
			return
		}

		if ac.CodeChallenge != "" {
			if req.CodeVerifier == "" && opts.RequirePKCE {
				writeJSONError(w, http.StatusBadRequest, "invalid_grant", "code_verifier is required")
				return
			}

			if req.CodeVerifier != "" && !verifyPKCE(req.CodeVerifier, ac.CodeChallenge) {
				writeJSONError(w, http.StatusBadRequest, "invalid_grant", "PKCE verification failed")
				return
			}
		}

		raw, err := issuer.ReprovisionReserved(ac.UserID, credential.LabelOAuth)
		if err != nil {
			logger.Error("token: minting credential",
				slog.String("user_id", ac.UserID),
				slog.String("error", err.Error()),
			)
			writeJSONError(w, http.StatusInternalServerError, "server_error", "could not issue token")

			return
		}

		logger.Info("access token issued",
			slog.String("client_id", ac.ClientID),
			slog.String("user_id", ac.UserID),
		)

		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "no-store")
		_ = json.NewEncoder(w).Encode(tokenResponse{
			AccessToken: raw,
			TokenType:   "bearer",
		})
	}
}

// parseTokenRequest accepts form-encoded bodies (RFC 6749) and JSON.
func parseTokenRequest(r *http.Request) (tokenRequest, bool) {
	var req tokenRequest

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "application/json" {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			return req, false
		}

		return req, true
	}

	if err := r.ParseForm(); err != nil {
		return req, false
	}

	return tokenRequest{
		GrantType:    r.PostFormValue("grant_type"),
		Code:         r.PostFormValue("code"),
		RedirectURI:  r.PostFormValue("redirect_uri"),
		CodeVerifier: r.PostFormValue("code_verifier"),
		ClientID:     r.PostFormValue("client_id"),
		ClientSecret: r.PostFormValue("client_secret"),
	}, true
}

// clientSecretMatches checks a presented secret against the client's
// bcrypt hash. Unknown clients never match.
func clientSecretMatches(store Store, clientID, secret string) bool {
	client := store.GetClient(clientID)
	if client == nil || client.SecretHash == "" {
		return false
	}

	return bcrypt.CompareHashAndPassword([]byte(client.SecretHash), []byte(secret)) == nil
}

// verifyPKCE checks that BASE64URL(SHA256(verifier)) equals the challenge
// (RFC 7636 S256).
func verifyPKCE(verifier, challenge string) bool {
	h := sha256.Sum256([]byte(verifier))
	computed := base64.RawURLEncoding.EncodeToString(h[:])

	return subtle.ConstantTimeCompare([]byte(computed), []byte(challenge)) == 1
}
