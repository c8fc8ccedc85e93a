// Package session signs and verifies session assertions: HS256 JWTs
// binding a user ID and email, valid for 30 days from issuance. There is
// no server-side record; validity is the signature plus the expiry.
package session

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	autherrors "github.com/alexjbarnes/crm-auth/internal/errors"
	"github.com/alexjbarnes/crm-auth/internal/models"
)

const (
	// Lifetime is how long a session assertion stays valid.
	Lifetime = 30 * 24 * time.Hour

	// MinSecretLen is the shortest accepted HMAC secret.
	MinSecretLen = 32
)

type claims struct {
	Email string `json:"email"`
	jwt.RegisteredClaims
}

// Codec issues and verifies session assertions with a single shared secret.
type Codec struct {
	secret []byte
	now    func() time.Time
}

// NewCodec returns a codec for the given secret. It fails when the secret
// is empty or shorter than MinSecretLen, which callers treat as fatal at
// startup.
func NewCodec(secret string) (*Codec, error) {
	if secret == "" {
		return nil, autherrors.ErrMissingSecret
	}

	if len(secret) < MinSecretLen {
		return nil, fmt.Errorf("%w: need at least %d bytes", autherrors.ErrWeakSecret, MinSecretLen)
	}

	return &Codec{secret: []byte(secret), now: time.Now}, nil
}

// Issue signs a session assertion for the principal.
func (c *Codec) Issue(p models.Principal) (string, error) {
	now := c.now()

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		Email: p.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   p.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(Lifetime)),
		},
	})

	signed, err := token.SignedString(c.secret)
	if err != nil {
		return "", fmt.Errorf("signing session token: %w", err)
	}

	return signed, nil
}

// Verify checks the signature and expiry of a session assertion. Any
// failure (bad signature, wrong algorithm, expired, malformed, missing
// subject) yields ok == false.
func (c *Codec) Verify(token string) (models.Principal, bool) {
	p, err := c.Parse(token)
	return p, err == nil
}

// Parse is Verify with the reason for rejection. Every error wraps
// ErrInvalidToken.
func (c *Codec) Parse(token string) (models.Principal, error) {
	if token == "" {
		return models.Principal{}, fmt.Errorf("%w: empty", autherrors.ErrInvalidToken)
	}

	var cl claims

	_, err := jwt.ParseWithClaims(token, &cl, func(*jwt.Token) (any, error) {
		return c.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(c.now),
	)
	if err != nil {
		return models.Principal{}, fmt.Errorf("%w: %w", autherrors.ErrInvalidToken, err)
	}

	if cl.Subject == "" {
		return models.Principal{}, fmt.Errorf("%w: missing subject", autherrors.ErrInvalidToken)
	}

	return models.Principal{UserID: cl.Subject, Email: cl.Email}, nil
}
