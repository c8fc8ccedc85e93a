// Package credential mints and resolves opaque API credentials. A raw
// credential is "hcrm_" followed by 32 lowercase hex characters; it is
// returned to the caller once and only its SHA-256 digest is persisted.
package credential

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/text/unicode/norm"

	autherrors "github.com/alexjbarnes/crm-auth/internal/errors"
	"github.com/alexjbarnes/crm-auth/internal/models"
)

// Prefix marks raw opaque credentials so they can be recognised in
// configuration files and logs scanners.
const Prefix = "hcrm_"

// Reserved automation labels. At most one credential per user exists
// under each of these labels.
const (
	LabelOAuth = "mcp-oauth"
	LabelSetup = "mcp-claude-code"
)

// Repository is the durable collaborator behind the store.
//
//go:generate mockgen -source=store.go -destination=mock_repository_test.go -package=credential
type Repository interface {
	SaveCredential(c models.Credential) error
	ReplaceLabeledCredential(c models.Credential) (int, error)
	CredentialByHash(hash string) (*models.Credential, error)
	TouchCredential(hash string, at time.Time) error
	DeleteCredential(id, ownerID string) (bool, error)
	CredentialsByOwner(ownerID string) ([]models.Credential, error)
}

// Store mints, resolves, and revokes opaque credentials.
type Store struct {
	repo   Repository
	logger *slog.Logger
	now    func() time.Time
}

// NewStore returns a store backed by repo.
func NewStore(repo Repository, logger *slog.Logger) *Store {
	return &Store{repo: repo, logger: logger, now: time.Now}
}

// Hash returns the hex SHA-256 digest of a raw credential.
func Hash(raw string) string {
	h := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(h[:])
}

// NormalizeLabel trims and NFC-normalises a label so visually identical
// names compare equal.
func NormalizeLabel(label string) string {
	return norm.NFC.String(strings.TrimSpace(label))
}

func newRaw() string {
	return Prefix + strings.ReplaceAll(uuid.NewString(), "-", "")
}

func (s *Store) newRecord(ownerID, label, raw string) models.Credential {
	return models.Credential{
		ID:        uuid.NewString(),
		OwnerID:   ownerID,
		Label:     NormalizeLabel(label),
		Hash:      Hash(raw),
		CreatedAt: s.now().UTC(),
	}
}

// Mint creates a credential for ownerID and returns the raw secret along
// with the stored record. The raw secret cannot be recovered later.
func (s *Store) Mint(ownerID, label string) (string, models.Credential, error) {
	raw := newRaw()
	rec := s.newRecord(ownerID, label, raw)

	if err := s.repo.SaveCredential(rec); err != nil {
		return "", models.Credential{}, fmt.Errorf("saving credential: %w", err)
	}

	s.logger.Info("credential minted",
		slog.String("user_id", ownerID),
		slog.String("credential_id", rec.ID),
		slog.String("label", rec.Label),
	)

	return raw, rec, nil
}

// ReprovisionReserved replaces any credential ownerID holds under label
// with a fresh one and returns its raw secret. Raw values of replaced
// credentials stop resolving immediately.
func (s *Store) ReprovisionReserved(ownerID, label string) (string, error) {
	raw := newRaw()
	rec := s.newRecord(ownerID, label, raw)

	removed, err := s.repo.ReplaceLabeledCredential(rec)
	if err != nil {
		return "", fmt.Errorf("replacing %s credential: %w", rec.Label, err)
	}

	s.logger.Info("reserved credential provisioned",
		slog.String("user_id", ownerID),
		slog.String("credential_id", rec.ID),
		slog.String("label", rec.Label),
		slog.Int("replaced", removed),
	)

	return raw, nil
}

// Resolve looks up a raw credential. A miss, a value without the
// credential prefix, or a storage error yields ok == false. On a hit the
// last-used timestamp is bumped; failing to record it does not fail the
// resolution.
func (s *Store) Resolve(raw string) (*models.Credential, bool) {
	if !strings.HasPrefix(raw, Prefix) {
		return nil, false
	}

	hash := Hash(raw)

	c, err := s.repo.CredentialByHash(hash)
	if err != nil {
		s.logger.Warn("credential lookup failed", slog.String("error", err.Error()))
		return nil, false
	}

	if c == nil {
		return nil, false
	}

	now := s.now().UTC()
	if err := s.repo.TouchCredential(hash, now); err != nil {
		s.logger.Warn("recording credential use failed",
			slog.String("credential_id", c.ID),
			slog.String("error", err.Error()),
		)
	} else {
		c.LastUsedAt = &now
	}

	return c, true
}

// Revoke deletes the credential with the given ID when it belongs to
// ownerID. Unknown IDs and IDs owned by someone else both return
// ErrNotFound.
func (s *Store) Revoke(id, ownerID string) error {
	ok, err := s.repo.DeleteCredential(id, ownerID)
	if err != nil {
		return fmt.Errorf("deleting credential: %w", err)
	}

	if !ok {
		return autherrors.ErrNotFound
	}

	s.logger.Info("credential revoked",
		slog.String("user_id", ownerID),
		slog.String("credential_id", id),
	)

	return nil
}

// List returns the credentials owned by ownerID.
func (s *Store) List(ownerID string) ([]models.Credential, error) {
	creds, err := s.repo.CredentialsByOwner(ownerID)
	if err != nil {
		return nil, fmt.Errorf("listing credentials: %w", err)
	}

	return creds, nil
}
