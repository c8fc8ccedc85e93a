package auth

import (
	"crypto/sha256"
	"encoding/base64"
	"log/slog"
	"net/http"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/alexjbarnes/crm-auth/internal/credential"
	"github.com/alexjbarnes/crm-auth/internal/models"
	"github.com/alexjbarnes/crm-auth/internal/session"
	"github.com/alexjbarnes/crm-auth/internal/state"
)

const (
	testServerURL = "https://crm.example.com"
	testLoginURL  = "https://app.example.com"
	testCookie    = "hcrm_session"
	testSecret    = "0123456789abcdef0123456789abcdef"
)

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func testMemoryStore(t *testing.T) *MemoryStore {
	t.Helper()
	s := NewMemoryStore(testLogger())
	t.Cleanup(s.Stop)
	return s
}

func pkceChallenge(verifier string) string {
	h := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(h[:])
}

// testEnv wires the real codec and credential store over a temporary
// bbolt file.
type testEnv struct {
	codec    *session.Codec
	creds    *credential.Store
	store    *MemoryStore
	resolver *Resolver
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	codec, err := session.NewCodec(testSecret)
	require.NoError(t, err)

	db, err := state.LoadAt(filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	creds := credential.NewStore(db, testLogger())

	return &testEnv{
		codec:    codec,
		creds:    creds,
		store:    testMemoryStore(t),
		resolver: NewResolver(testCookie, codec, creds, testLogger()),
	}
}

func (e *testEnv) session(t *testing.T, userID string) string {
	t.Helper()
	tok, err := e.codec.Issue(models.Principal{UserID: userID, Email: userID + "@example.com"})
	require.NoError(t, err)
	return tok
}

func (e *testEnv) registerClient(t *testing.T, redirectURIs ...string) *models.OAuthClient {
	t.Helper()
	c := &models.OAuthClient{ClientID: RandomHex(16), RedirectURIs: redirectURIs}
	require.NoError(t, e.store.RegisterClient(c))
	return c
}

func withCookie(r *http.Request, value string) *http.Request {
	r.AddCookie(&http.Cookie{Name: testCookie, Value: value})
	return r
}

func withBearer(r *http.Request, value string) *http.Request {
	r.Header.Set("Authorization", "Bearer "+value)
	return r
}
