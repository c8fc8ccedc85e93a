package auth

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	autherrors "github.com/alexjbarnes/crm-auth/internal/errors"
	"github.com/alexjbarnes/crm-auth/internal/models"
)

func storeImplementations(t *testing.T) map[string]Store {
	t.Helper()

	cache, err := NewCacheStore(100, testLogger())
	require.NoError(t, err)

	return map[string]Store{
		"memory": testMemoryStore(t),
		"lru":    cache,
	}
}

func TestStore_ConsumeCodeIsSingleUse(t *testing.T) {
	for name, s := range storeImplementations(t) {
		t.Run(name, func(t *testing.T) {
			s.SaveCode(&models.AuthCode{Code: "abc", UserID: "u1", ExpiresAt: time.Now().Add(time.Minute)})

			ac := s.ConsumeCode("abc")
			require.NotNil(t, ac)
			assert.Equal(t, "u1", ac.UserID)

			assert.Nil(t, s.ConsumeCode("abc"))
			assert.Nil(t, s.ConsumeCode("unknown"))
		})
	}
}

func TestStore_ConcurrentConsumeYieldsOneWinner(t *testing.T) {
	for name, s := range storeImplementations(t) {
		t.Run(name, func(t *testing.T) {
			s.SaveCode(&models.AuthCode{Code: "race", ExpiresAt: time.Now().Add(time.Minute)})

			var wins atomic.Int32
			var wg sync.WaitGroup
			for range 50 {
				wg.Add(1)
				go func() {
					defer wg.Done()
					if s.ConsumeCode("race") != nil {
						wins.Add(1)
					}
				}()
			}
			wg.Wait()

			assert.Equal(t, int32(1), wins.Load())
		})
	}
}

func TestStore_SweepRemovesOnlyExpired(t *testing.T) {
	for name, s := range storeImplementations(t) {
		t.Run(name, func(t *testing.T) {
			s.SaveCode(&models.AuthCode{Code: "old", ExpiresAt: time.Now().Add(-time.Second)})
			s.SaveCode(&models.AuthCode{Code: "new", ExpiresAt: time.Now().Add(time.Minute)})

			assert.Equal(t, 1, s.Sweep())
			assert.Nil(t, s.ConsumeCode("old"))
			assert.NotNil(t, s.ConsumeCode("new"))
		})
	}
}

func TestStore_ClientRoundTrip(t *testing.T) {
	for name, s := range storeImplementations(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, s.RegisterClient(&models.OAuthClient{ClientID: "c1", RedirectURIs: []string{"https://a/cb"}}))

			c := s.GetClient("c1")
			require.NotNil(t, c)
			assert.Equal(t, []string{"https://a/cb"}, c.RedirectURIs)
			assert.Nil(t, s.GetClient("c2"))
		})
	}
}

func TestStore_RegistrationRateLimit(t *testing.T) {
	for name, s := range storeImplementations(t) {
		t.Run(name, func(t *testing.T) {
			for range registrationLimit {
				assert.True(t, s.RegistrationAllowed())
			}
			assert.False(t, s.RegistrationAllowed())
		})
	}
}

func TestRateWindow_SlidesForward(t *testing.T) {
	rw := &rateWindow{limit: 2, span: time.Minute}
	start := time.Now()

	assert.True(t, rw.allow(start))
	assert.True(t, rw.allow(start.Add(time.Second)))
	assert.False(t, rw.allow(start.Add(2*time.Second)))
	assert.True(t, rw.allow(start.Add(time.Minute+time.Millisecond)))
}

func TestMemoryStore_ClientLimit(t *testing.T) {
	s := testMemoryStore(t)
	for range maxClients {
		require.NoError(t, s.RegisterClient(&models.OAuthClient{ClientID: RandomHex(8)}))
	}

	err := s.RegisterClient(&models.OAuthClient{ClientID: "overflow"})
	assert.ErrorIs(t, err, autherrors.ErrClientLimit)
}

func TestMemoryStore_StopIsIdempotent(t *testing.T) {
	s := NewMemoryStore(testLogger())
	s.Stop()
	s.Stop()
}

func TestCacheStore_EvictsLeastRecentlyUsedClient(t *testing.T) {
	s, err := NewCacheStore(2, testLogger())
	require.NoError(t, err)

	require.NoError(t, s.RegisterClient(&models.OAuthClient{ClientID: "a"}))
	require.NoError(t, s.RegisterClient(&models.OAuthClient{ClientID: "b"}))
	require.NotNil(t, s.GetClient("a"))
	require.NoError(t, s.RegisterClient(&models.OAuthClient{ClientID: "c"}))

	assert.NotNil(t, s.GetClient("a"))
	assert.Nil(t, s.GetClient("b"))
	assert.NotNil(t, s.GetClient("c"))
}

func TestCacheStore_RejectsNonPositiveSize(t *testing.T) {
	_, err := NewCacheStore(0, testLogger())
	assert.Error(t, err)
}

func TestRandomHex(t *testing.T) {
	a := RandomHex(16)
	assert.Len(t, a, 32)
	assert.NotEqual(t, a, RandomHex(16))
}

func TestRunSweeper_StopsOnCancel(t *testing.T) {
	s := testMemoryStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	go func() {
		RunSweeper(ctx, s, testLogger())
		close(done)
	}()

	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop")
	}
}
