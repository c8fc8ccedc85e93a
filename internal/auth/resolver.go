package auth

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/alexjbarnes/crm-auth/internal/models"
)

// Proof is one way of turning a raw presented value into a principal.
// TryResolve must not panic and must treat any failure as ok == false.
type Proof interface {
	Name() string
	TryResolve(raw string) (models.Principal, bool)
}

// SessionVerifier verifies signed session assertions.
type SessionVerifier interface {
	Verify(token string) (models.Principal, bool)
}

// CredentialResolver looks up opaque API credentials.
type CredentialResolver interface {
	Resolve(raw string) (*models.Credential, bool)
}

type sessionProof struct {
	verifier SessionVerifier
}

// SessionProof accepts signed session assertions.
func SessionProof(v SessionVerifier) Proof {
	return sessionProof{verifier: v}
}

func (sessionProof) Name() string { return "session" }

func (p sessionProof) TryResolve(raw string) (models.Principal, bool) {
	return p.verifier.Verify(raw)
}

type credentialProof struct {
	creds CredentialResolver
}

// CredentialProof accepts opaque API credentials. A successful lookup
// records the credential's last use as a side effect.
func CredentialProof(c CredentialResolver) Proof {
	return credentialProof{creds: c}
}

func (credentialProof) Name() string { return "api_credential" }

func (p credentialProof) TryResolve(raw string) (models.Principal, bool) {
	c, ok := p.creds.Resolve(raw)
	if !ok {
		return models.Principal{}, false
	}

	return models.Principal{UserID: c.OwnerID}, true
}

// Resolver produces a principal from a request by trying, in order, the
// session cookie and then the Authorization bearer value. Each slot has
// its own ordered proof list; the first proof to succeed wins.
type Resolver struct {
	cookieName   string
	cookieProofs []Proof
	bearerProofs []Proof
	logger       *slog.Logger
}

// NewResolver wires the standard proof order: the cookie accepts session
// assertions only; the bearer slot accepts a session assertion first and
// falls back to an opaque credential.
func NewResolver(cookieName string, sessions SessionVerifier, creds CredentialResolver, logger *slog.Logger) *Resolver {
	return &Resolver{
		cookieName:   cookieName,
		cookieProofs: []Proof{SessionProof(sessions)},
		bearerProofs: []Proof{SessionProof(sessions), CredentialProof(creds)},
		logger:       logger,
	}
}

// CookieName returns the name of the session cookie.
func (rv *Resolver) CookieName() string {
	return rv.cookieName
}

// Resolve tries the session cookie, then the bearer header.
func (rv *Resolver) Resolve(r *http.Request) (models.Principal, bool) {
	if p, ok := rv.ResolveSession(r); ok {
		return p, true
	}

	return rv.ResolveBearer(r)
}

// ResolveSession tries the session cookie only. Used by browser-facing
// endpoints where bearer values are not accepted.
func (rv *Resolver) ResolveSession(r *http.Request) (models.Principal, bool) {
	c, err := r.Cookie(rv.cookieName)
	if err != nil || c.Value == "" {
		return models.Principal{}, false
	}

	return rv.first(rv.cookieProofs, c.Value, "cookie")
}

// ResolveBearer tries the Authorization bearer value only.
func (rv *Resolver) ResolveBearer(r *http.Request) (models.Principal, bool) {
	token, ok := BearerToken(r)
	if !ok {
		return models.Principal{}, false
	}

	return rv.first(rv.bearerProofs, token, "bearer")
}

func (rv *Resolver) first(proofs []Proof, raw, slot string) (models.Principal, bool) {
	for _, p := range proofs {
		if principal, ok := p.TryResolve(raw); ok {
			rv.logger.Debug("resolved principal",
				slog.String("slot", slot),
				slog.String("proof", p.Name()),
				slog.String("user_id", principal.UserID),
			)

			return principal, true
		}
	}

	return models.Principal{}, false
}

// BearerToken extracts the token from an "Authorization: Bearer" header.
// The scheme is matched case-insensitively.
func BearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")

	const scheme = "bearer "
	if len(h) <= len(scheme) || !strings.EqualFold(h[:len(scheme)], scheme) {
		return "", false
	}

	token := strings.TrimSpace(h[len(scheme):])

	return token, token != ""
}
