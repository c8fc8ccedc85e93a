// Package state persists opaque API credentials in a bbolt database.
// Records are keyed by the SHA-256 digest of the raw secret so raw
// credentials never reach disk. A secondary bucket maps credential IDs
// to digests for owner-scoped revocation.
package state

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/alexjbarnes/crm-auth/internal/models"
)

const (
	// stateDirPerm is the permission mode for the state directory.
	stateDirPerm = fs.FileMode(0o700)

	// stateFilePerm is the permission mode for the state database file.
	stateFilePerm = fs.FileMode(0o600)

	// stateOpenTimeout is the maximum time to wait for the bolt database lock.
	stateOpenTimeout = 5 * time.Second
)

var (
	credentialsBucket  = []byte("api_credentials")
	credentialIDBucket = []byte("api_credential_ids")
)

// State wraps a bbolt database for persistent credential state.
type State struct {
	db *bolt.DB
}

// LoadAt opens a state database at the given path, creating it and its
// buckets if they do not exist.
func LoadAt(path string) (*State, error) {
	if err := os.MkdirAll(filepath.Dir(path), stateDirPerm); err != nil {
		return nil, fmt.Errorf("creating state directory: %w", err)
	}

	db, err := bolt.Open(path, stateFilePerm, &bolt.Options{Timeout: stateOpenTimeout})
	if err != nil {
		return nil, fmt.Errorf("opening state db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(credentialsBucket); err != nil {
			return err
		}

		_, err := tx.CreateBucketIfNotExists(credentialIDBucket)

		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing state db: %w", err)
	}

	return &State{db: db}, nil
}

// DefaultPath returns ~/.crm-auth/state.db.
func DefaultPath() (string, error) {
	dir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("determining home directory: %w", err)
	}

	return filepath.Join(dir, ".crm-auth", "state.db"), nil
}

// Close closes the database.
func (s *State) Close() error {
	return s.db.Close()
}

// SaveCredential persists a credential record. ID and Hash must be set.
func (s *State) SaveCredential(c models.Credential) error {
	if c.ID == "" || c.Hash == "" {
		return fmt.Errorf("credential id and hash are required for persistence")
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		return putCredential(tx, c)
	})
}

// ReplaceLabeledCredential removes every credential owned by c.OwnerID
// with label c.Label and stores c, in one transaction. Concurrent
// replacements for the same pair therefore leave exactly one record.
func (s *State) ReplaceLabeledCredential(c models.Credential) (int, error) {
	if c.ID == "" || c.Hash == "" {
		return 0, fmt.Errorf("credential id and hash are required for persistence")
	}

	removed := 0

	err := s.db.Update(func(tx *bolt.Tx) error {
		var stale []models.Credential

		err := tx.Bucket(credentialsBucket).ForEach(func(_, v []byte) error {
			var existing models.Credential
			if err := json.Unmarshal(v, &existing); err != nil {
				return err
			}

			if existing.OwnerID == c.OwnerID && existing.Label == c.Label {
				stale = append(stale, existing)
			}

			return nil
		})
		if err != nil {
			return err
		}

		for _, old := range stale {
			if err := deleteCredential(tx, old); err != nil {
				return err
			}
		}

		removed = len(stale)

		return putCredential(tx, c)
	})

	return removed, err
}

// CredentialByHash returns the credential stored under the digest, or nil.
func (s *State) CredentialByHash(hash string) (*models.Credential, error) {
	var c *models.Credential

	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(credentialsBucket).Get([]byte(hash))
		if v == nil {
			return nil
		}

		c = &models.Credential{}

		return json.Unmarshal(v, c)
	})

	return c, err
}

// TouchCredential sets the last-used timestamp of the credential stored
// under the digest. A missing record is not an error: it may have been
// revoked between lookup and touch.
func (s *State) TouchCredential(hash string, at time.Time) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(credentialsBucket)

		v := b.Get([]byte(hash))
		if v == nil {
			return nil
		}

		var c models.Credential
		if err := json.Unmarshal(v, &c); err != nil {
			return err
		}

		at = at.UTC()
		c.LastUsedAt = &at

		data, err := json.Marshal(c)
		if err != nil {
			return err
		}

		return b.Put([]byte(hash), data)
	})
}

// DeleteCredential removes the credential with the given ID if, and only
// if, it belongs to ownerID. It reports whether a record was removed.
func (s *State) DeleteCredential(id, ownerID string) (bool, error) {
	deleted := false

	err := s.db.Update(func(tx *bolt.Tx) error {
		hash := tx.Bucket(credentialIDBucket).Get([]byte(id))
		if hash == nil {
			return nil
		}

		v := tx.Bucket(credentialsBucket).Get(hash)
		if v == nil {
			// Dangling index entry.
			return tx.Bucket(credentialIDBucket).Delete([]byte(id))
		}

		var c models.Credential
		if err := json.Unmarshal(v, &c); err != nil {
			return err
		}

		if c.OwnerID != ownerID {
			return nil
		}

		deleted = true

		return deleteCredential(tx, c)
	})

	return deleted, err
}

// CredentialsByOwner returns all credentials owned by ownerID, oldest first.
func (s *State) CredentialsByOwner(ownerID string) ([]models.Credential, error) {
	var creds []models.Credential

	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(credentialsBucket).ForEach(func(_, v []byte) error {
			var c models.Credential
			if err := json.Unmarshal(v, &c); err != nil {
				return err
			}

			if c.OwnerID == ownerID {
				creds = append(creds, c)
			}

			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(creds, func(i, j int) bool {
		return creds[i].CreatedAt.Before(creds[j].CreatedAt)
	})

	return creds, nil
}

// CredentialCount returns the number of stored credentials.
func (s *State) CredentialCount() int {
	count := 0
	_ = s.db.View(func(tx *bolt.Tx) error {
		count = tx.Bucket(credentialsBucket).Stats().KeyN
		return nil
	})

	return count
}

func putCredential(tx *bolt.Tx, c models.Credential) error {
	data, err := json.Marshal(c)
	if err != nil {
		return err
	}

	if err := tx.Bucket(credentialsBucket).Put([]byte(c.Hash), data); err != nil {
		return err
	}

	return tx.Bucket(credentialIDBucket).Put([]byte(c.ID), []byte(c.Hash))
}

func deleteCredential(tx *bolt.Tx, c models.Credential) error {
	if err := tx.Bucket(credentialsBucket).Delete([]byte(c.Hash)); err != nil {
		return err
	}

	return tx.Bucket(credentialIDBucket).Delete([]byte(c.ID))
}
