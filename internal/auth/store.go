// Package auth implements the credential resolver, the embedded OAuth 2.1
// authorization server (dynamic client registration, authorization code
// with PKCE, discovery metadata) and the bearer gate in front of the
// agent tool endpoint.
//
// Registered clients and authorization codes live in process memory and
// are lost on restart. Issued access tokens are opaque credentials held by
// the durable credential store and do not expire.
package auth

import (
	"crypto/rand"
	"encoding/hex"
	"log/slog"
	"sync"
	"time"

	autherrors "github.com/alexjbarnes/crm-auth/internal/errors"
	"github.com/alexjbarnes/crm-auth/internal/models"
)

const (
	// maxClients caps the number of registered clients held by the
	// memory store. Registration is unauthenticated.
	maxClients = 1000

	// cleanupInterval controls how often expired codes are reaped.
	cleanupInterval = 5 * time.Minute

	// registrationLimit is the number of registrations allowed per
	// registrationWindow.
	registrationLimit  = 10
	registrationWindow = time.Minute
)

// Store holds the authorization server's ephemeral state. Implementations
// must make ConsumeCode an atomic remove-and-return so a code can be
// handed out at most once, and Sweep must take the same lock.
type Store interface {
	SaveCode(ac *models.AuthCode)
	// ConsumeCode removes the code and returns it, expired or not.
	// Returns nil when the code is unknown or already consumed.
	ConsumeCode(code string) *models.AuthCode
	// Sweep removes expired codes and reports how many were removed.
	Sweep() int

	RegisterClient(c *models.OAuthClient) error
	GetClient(clientID string) *models.OAuthClient
	RegistrationAllowed() bool

	Stop()
}

// rateWindow is a sliding-window counter used to throttle unauthenticated
// client registration.
type rateWindow struct {
	mu    sync.Mutex
	times []time.Time
	limit int
	span  time.Duration
}

func (rw *rateWindow) allow(now time.Time) bool {
	rw.mu.Lock()
	defer rw.mu.Unlock()

	cutoff := now.Add(-rw.span)

	valid := rw.times[:0]
	for _, t := range rw.times {
		if t.After(cutoff) {
			valid = append(valid, t)
		}
	}
	rw.times = valid

	if len(rw.times) >= rw.limit {
		return false
	}

	rw.times = append(rw.times, now)

	return true
}

// MemoryStore keeps codes and clients in maps guarded by one mutex. A
// background goroutine sweeps expired codes every cleanupInterval.
type MemoryStore struct {
	mu      sync.Mutex
	codes   map[string]*models.AuthCode
	clients map[string]*models.OAuthClient

	registrations *rateWindow
	logger        *slog.Logger
	stopGC        chan struct{}
	stopOnce      sync.Once
}

// NewMemoryStore creates an empty store and starts its sweep goroutine.
// Call Stop to end it.
func NewMemoryStore(logger *slog.Logger) *MemoryStore {
	s := &MemoryStore{
		codes:         make(map[string]*models.AuthCode),
		clients:       make(map[string]*models.OAuthClient),
		registrations: &rateWindow{limit: registrationLimit, span: registrationWindow},
		logger:        logger,
		stopGC:        make(chan struct{}),
	}
	go s.gcLoop()

	return s
}

// Stop terminates the background sweep goroutine.
func (s *MemoryStore) Stop() {
	s.stopOnce.Do(func() { close(s.stopGC) })
}

func (s *MemoryStore) gcLoop() {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if n := s.Sweep(); n > 0 {
				s.logger.Debug("swept expired authorization codes", slog.Int("count", n))
			}
		case <-s.stopGC:
			return
		}
	}
}

// Sweep removes all expired codes.
func (s *MemoryStore) Sweep() int {
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for k, ac := range s.codes {
		if ac.Expired(now) {
			delete(s.codes, k)
			removed++
		}
	}

	return removed
}

// SaveCode stores an authorization code.
func (s *MemoryStore) SaveCode(ac *models.AuthCode) {
	s.mu.Lock()
	s.codes[ac.Code] = ac
	s.mu.Unlock()
}

// ConsumeCode retrieves and deletes an authorization code.
func (s *MemoryStore) ConsumeCode(code string) *models.AuthCode {
	s.mu.Lock()
	defer s.mu.Unlock()

	ac, ok := s.codes[code]
	if !ok {
		return nil
	}

	delete(s.codes, code)

	return ac
}

// RegisterClient stores a new client. Returns ErrClientLimit once
// maxClients clients are registered.
func (s *MemoryStore) RegisterClient(c *models.OAuthClient) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.clients) >= maxClients {
		return autherrors.ErrClientLimit
	}

	s.clients[c.ClientID] = c

	return nil
}

// GetClient returns the client for a given client_id, or nil.
func (s *MemoryStore) GetClient(clientID string) *models.OAuthClient {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.clients[clientID]
}

// RegistrationAllowed reports whether another registration fits in the
// current rate window.
func (s *MemoryStore) RegistrationAllowed() bool {
	return s.registrations.allow(time.Now())
}

// RandomHex generates a cryptographically random hex string of the given byte length.
func RandomHex(byteLen int) string {
	b := make([]byte, byteLen)
	if _, err := rand.Read(b); err != nil {
		panic("crypto/rand failed: " + err.Error())
	}

	return hex.EncodeToString(b)
}
