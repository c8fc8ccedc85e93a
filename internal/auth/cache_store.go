package auth

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/alexjbarnes/crm-auth/internal/models"
)

// CacheStore keeps codes in a TTL-indexed LRU cache and clients in a
// bounded LRU. Abandoned codes age out on their own; when the cache is
// full the least recently issued codes are evicted first. Registration
// never fails for capacity: the least recently used client is dropped.
type CacheStore struct {
	// mu makes Peek+Remove in ConsumeCode atomic with respect to Sweep
	// and other consumers. The caches are themselves goroutine-safe.
	mu      sync.Mutex
	codes   *expirable.LRU[string, *models.AuthCode]
	clients *lru.Cache[string, *models.OAuthClient]

	registrations *rateWindow
	logger        *slog.Logger
}

// NewCacheStore creates a store holding at most size codes and size clients.
func NewCacheStore(size int, logger *slog.Logger) (*CacheStore, error) {
	if size <= 0 {
		return nil, fmt.Errorf("cache store size must be positive, got %d", size)
	}

	clients, err := lru.New[string, *models.OAuthClient](size)
	if err != nil {
		return nil, fmt.Errorf("creating client cache: %w", err)
	}

	return &CacheStore{
		codes:         expirable.NewLRU[string, *models.AuthCode](size, nil, codeExpiry),
		clients:       clients,
		registrations: &rateWindow{limit: registrationLimit, span: registrationWindow},
		logger:        logger,
	}, nil
}

// Stop is a no-op; the expirable cache manages its own expiry.
func (s *CacheStore) Stop() {}

// SaveCode stores an authorization code.
func (s *CacheStore) SaveCode(ac *models.AuthCode) {
	s.mu.Lock()
	s.codes.Add(ac.Code, ac)
	s.mu.Unlock()
}

// ConsumeCode retrieves and deletes an authorization code. Codes the cache
// has already aged out are reported as unknown.
func (s *CacheStore) ConsumeCode(code string) *models.AuthCode {
	s.mu.Lock()
	defer s.mu.Unlock()

	ac, ok := s.codes.Peek(code)
	if !ok {
		return nil
	}

	s.codes.Remove(code)

	return ac
}

// Sweep removes codes whose own expiry has passed.
func (s *CacheStore) Sweep() int {
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for _, k := range s.codes.Keys() {
		ac, ok := s.codes.Peek(k)
		if ok && ac.Expired(now) {
			s.codes.Remove(k)
			removed++
		}
	}

	return removed
}

// RegisterClient stores a new client, evicting the least recently used
// client when full.
func (s *CacheStore) RegisterClient(c *models.OAuthClient) error {
	if evicted := s.clients.Add(c.ClientID, c); evicted {
		s.logger.Debug("evicted least recently used oauth client")
	}

	return nil
}

// GetClient returns the client for a given client_id, or nil.
func (s *CacheStore) GetClient(clientID string) *models.OAuthClient {
	c, ok := s.clients.Get(clientID)
	if !ok {
		return nil
	}

	return c
}

// RegistrationAllowed reports whether another registration fits in the
// current rate window.
func (s *CacheStore) RegistrationAllowed() bool {
	return s.registrations.allow(time.Now())
}

// RunSweeper calls Sweep every cleanupInterval until ctx is done. The
// memory store sweeps itself; the cache store relies on this.
func RunSweeper(ctx context.Context, s Store, logger *slog.Logger) {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if n := s.Sweep(); n > 0 {
				logger.Debug("swept expired authorization codes", slog.Int("count", n))
			}
		case <-ctx.Done():
			return
		}
	}
}

var (
	_ Store = (*MemoryStore)(nil)
	_ Store = (*CacheStore)(nil)
)
