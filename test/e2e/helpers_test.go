package e2e_test

import (
	"bytes"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"testing"

	"github.com/alexjbarnes/crm-auth/internal/auth"
	"github.com/alexjbarnes/crm-auth/internal/credential"
	"github.com/alexjbarnes/crm-auth/internal/mcpserver"
	"github.com/alexjbarnes/crm-auth/internal/models"
	"github.com/alexjbarnes/crm-auth/internal/server"
	"github.com/alexjbarnes/crm-auth/internal/session"
	"github.com/alexjbarnes/crm-auth/internal/state"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/require"
)

const (
	testSecret   = "e2e-session-secret-that-is-long-enough"
	testCookie   = "hcrm_session"
	testUserID   = "user-e2e"
	testEmail    = "e2e@example.com"
	loginURL     = "https://app.example.com"
	pkceVerifier = "e2e-test-pkce-verifier-that-is-long-enough-for-rfc7636"
	redirectURI  = "http://127.0.0.1:19876/callback"
)

// harness holds the full e2e stack: a real HTTP server backed by bbolt
// credential storage, the OAuth endpoints and the MCP tool server.
type harness struct {
	URL    string
	Codec  *session.Codec
	Creds  *credential.Store
	Client *http.Client
}

// newHarness wires the router as the serve command does with its default
// OAuth policy, applies any overrides and starts an httptest server.
func newHarness(t *testing.T, overrides ...func(*server.RouterConfig)) *harness {
	t.Helper()

	logger := slog.New(slog.DiscardHandler)

	codec, err := session.NewCodec(testSecret)
	require.NoError(t, err)

	st, err := state.LoadAt(filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	creds := credential.NewStore(st, logger)

	store := auth.NewMemoryStore(logger)
	t.Cleanup(store.Stop)

	resolver := auth.NewResolver(testCookie, codec, creds, logger)

	// NewUnstartedServer so the listener address is known before the
	// router is built; metadata documents embed it.
	ts := httptest.NewUnstartedServer(nil)
	serverURL := "http://" + ts.Listener.Addr().String()

	rc := server.RouterConfig{
		Store:       store,
		Resolver:    resolver,
		Credentials: creds,
		MCPHandler:  mcpserver.NewHandler(creds, logger, "test"),
		Logger:      logger,
		PublicURL:   serverURL,
		LoginURL:    loginURL,
		Strict:      true,
	}
	for _, o := range overrides {
		o(&rc)
	}

	ts.Config.Handler = server.NewRouter(rc)
	ts.Start()
	t.Cleanup(ts.Close)

	client := ts.Client()
	client.CheckRedirect = func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}

	return &harness{
		URL:    serverURL,
		Codec:  codec,
		Creds:  creds,
		Client: client,
	}
}

// sessionCookie issues a session token for the test user, standing in
// for the external login surface.
func (h *harness) sessionCookie(t *testing.T) *http.Cookie {
	t.Helper()

	tok, err := h.Codec.Issue(models.Principal{UserID: testUserID, Email: testEmail})
	require.NoError(t, err)

	return &http.Cookie{Name: testCookie, Value: tok}
}

// tokenResponse is the JSON body returned by POST /api/oauth/token.
type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

// registerClient registers a client via POST /api/oauth/register.
func (h *harness) registerClient(t *testing.T, redirectURIs []string) (string, string) {
	t.Helper()

	b, err := json.Marshal(map[string]any{
		"client_name":   "e2e",
		"redirect_uris": redirectURIs,
	})
	require.NoError(t, err)

	resp := h.doPostJSON(t, "/api/oauth/register", b, nil)
	defer resp.Body.Close()

	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var result struct {
		ClientID     string `json:"client_id"`
		ClientSecret string `json:"client_secret"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&result))
	require.NotEmpty(t, result.ClientID)

	return result.ClientID, result.ClientSecret
}

// authorize runs GET /api/oauth/authorize with a session cookie and
// returns the code from the redirect.
func (h *harness) authorize(t *testing.T, clientID string) string {
	t.Helper()

	authURL := h.URL + "/api/oauth/authorize?" + url.Values{
		"client_id":             {clientID},
		"redirect_uri":          {redirectURI},
		"response_type":         {"code"},
		"code_challenge":        {pkceChallenge(pkceVerifier)},
		"code_challenge_method": {"S256"},
		"state":                 {"e2e-state"},
	}.Encode()

	resp := h.doGet(t, authURL, h.sessionCookie(t))
	defer resp.Body.Close()

	require.Equal(t, http.StatusFound, resp.StatusCode)

	loc, err := url.Parse(resp.Header.Get("Location"))
	require.NoError(t, err)
	require.Equal(t, "e2e-state", loc.Query().Get("state"))

	code := loc.Query().Get("code")
	require.NotEmpty(t, code, "authorization code missing from redirect")

	return code
}

// exchange posts the code to the token endpoint.
func (h *harness) exchange(t *testing.T, clientID, code string) *http.Response {
	t.Helper()

	return h.doPostForm(t, "/api/oauth/token", url.Values{
		"grant_type":    {"authorization_code"},
		"code":          {code},
		"redirect_uri":  {redirectURI},
		"client_id":     {clientID},
		"code_verifier": {pkceVerifier},
	})
}

// authCodeFlow registers a client, authorizes as the test user and
// exchanges the code for an access token.
func (h *harness) authCodeFlow(t *testing.T) tokenResponse {
	t.Helper()

	clientID, _ := h.registerClient(t, []string{redirectURI})
	code := h.authorize(t, clientID)

	resp := h.exchange(t, clientID, code)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)

	var tr tokenResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&tr))

	return tr
}

// mcpSession creates an MCP client session authenticated with the given
// bearer token.
func (h *harness) mcpSession(t *testing.T, token string) *mcp.ClientSession {
	t.Helper()

	transport := &mcp.StreamableClientTransport{
		Endpoint: h.URL + "/api/mcp",
		HTTPClient: &http.Client{
			Transport: &bearerTransport{
				token: token,
				base:  h.Client.Transport,
			},
		},
		DisableStandaloneSSE: true,
	}

	client := mcp.NewClient(
		&mcp.Implementation{Name: "e2e-test-client", Version: "test"},
		nil,
	)

	session, err := client.Connect(t.Context(), transport, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = session.Close() })

	return session
}

// doGet performs a GET request with t.Context() and optional cookies.
func (h *harness) doGet(t *testing.T, fullURL string, cookies ...*http.Cookie) *http.Response {
	t.Helper()

	req, err := http.NewRequestWithContext(t.Context(), http.MethodGet, fullURL, nil)
	require.NoError(t, err)

	for _, c := range cookies {
		req.AddCookie(c)
	}

	resp, err := h.Client.Do(req)
	require.NoError(t, err)

	return resp
}

// doPostForm performs a POST with form-encoded body and t.Context().
func (h *harness) doPostForm(t *testing.T, path string, form url.Values) *http.Response {
	t.Helper()

	req, err := http.NewRequestWithContext(
		t.Context(), http.MethodPost, h.URL+path,
		bytes.NewBufferString(form.Encode()),
	)
	require.NoError(t, err)

	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := h.Client.Do(req)
	require.NoError(t, err)

	return resp
}

// doPostJSON performs a POST with JSON body, optionally with a cookie.
func (h *harness) doPostJSON(t *testing.T, path string, body []byte, cookie *http.Cookie) *http.Response {
	t.Helper()

	req, err := http.NewRequestWithContext(
		t.Context(), http.MethodPost, h.URL+path,
		bytes.NewReader(body),
	)
	require.NoError(t, err)

	req.Header.Set("Content-Type", "application/json")

	if cookie != nil {
		req.AddCookie(cookie)
	}

	resp, err := h.Client.Do(req)
	require.NoError(t, err)

	return resp
}

// bearerTransport is an http.RoundTripper that injects a Bearer token
// into every request's Authorization header.
type bearerTransport struct {
	token string
	base  http.RoundTripper
}

func (bt *bearerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.Header.Set("Authorization", "Bearer "+bt.token)

	return bt.base.RoundTrip(req)
}

// pkceChallenge computes the S256 code challenge for a given verifier.
func pkceChallenge(verifier string) string {
	h := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(h[:])
}

// toolJSON decodes the first text content of a tool result into v.
func toolJSON(t *testing.T, result *mcp.CallToolResult, v any) {
	t.Helper()

	require.NotEmpty(t, result.Content)

	tc, ok := result.Content[0].(*mcp.TextContent)
	require.True(t, ok, "expected TextContent, got %T", result.Content[0])
	require.NoError(t, json.Unmarshal([]byte(tc.Text), v))
}
