package auth

import (
	"encoding/json"
	"net/http"
	"strings"
)

const (
	ProtectedResourcePath      = "/.well-known/oauth-protected-resource"
	AuthorizationServerPath    = "/.well-known/oauth-authorization-server"
	metadataCacheControl       = "public, max-age=3600"
	DefaultOAuthPrefix         = "/api/oauth"
	bearerMethodHeader         = "header"
	responseTypeCode           = "code"
	grantTypeAuthorizationCode = "authorization_code"
	codeChallengeMethodS256    = "S256"
	authMethodClientSecretPost = "client_secret_post"
	authMethodNone             = "none"
)

// ProtectedResourceMetadata is the RFC 9728 response.
type ProtectedResourceMetadata struct {
	Resource               string   `json:"resource"`
	AuthorizationServers   []string `json:"authorization_servers"`
	BearerMethodsSupported []string `json:"bearer_methods_supported"`
	ScopesSupported        []string `json:"scopes_supported"`
}

// ServerMetadata is the RFC 8414 response.
type ServerMetadata struct {
	Issuer                            string   `json:"issuer"`
	AuthorizationEndpoint             string   `json:"authorization_endpoint"`
	TokenEndpoint                     string   `json:"token_endpoint"`
	RegistrationEndpoint              string   `json:"registration_endpoint"`
	ResponseTypesSupported            []string `json:"response_types_supported"`
	GrantTypesSupported               []string `json:"grant_types_supported"`
	TokenEndpointAuthMethodsSupported []string `json:"token_endpoint_auth_methods_supported"`
	CodeChallengeMethodsSupported     []string `json:"code_challenge_methods_supported"`
	ScopesSupported                   []string `json:"scopes_supported"`
}

// NewProtectedResourceMetadata builds the document served for every
// protected resource path. The server is its own authorization server.
func NewProtectedResourceMetadata(serverURL string) ProtectedResourceMetadata {
	base := strings.TrimRight(serverURL, "/")

	return ProtectedResourceMetadata{
		Resource:               base,
		AuthorizationServers:   []string{base},
		BearerMethodsSupported: []string{bearerMethodHeader},
		ScopesSupported:        []string{},
	}
}

// NewServerMetadata builds the authorization server document. oauthPrefix
// is the path the OAuth endpoints are mounted under; empty means /api/oauth.
func NewServerMetadata(serverURL, oauthPrefix string) ServerMetadata {
	base := strings.TrimRight(serverURL, "/")
	if oauthPrefix == "" {
		oauthPrefix = DefaultOAuthPrefix
	}

	prefix := base + "/" + strings.Trim(oauthPrefix, "/")

	return ServerMetadata{
		Issuer:                            base,
		AuthorizationEndpoint:             prefix + "/authorize",
		TokenEndpoint:                     prefix + "/token",
		RegistrationEndpoint:              prefix + "/register",
		ResponseTypesSupported:            []string{responseTypeCode},
		GrantTypesSupported:               []string{grantTypeAuthorizationCode},
		TokenEndpointAuthMethodsSupported: []string{authMethodClientSecretPost, authMethodNone},
		CodeChallengeMethodsSupported:     []string{codeChallengeMethodS256},
		ScopesSupported:                   []string{},
	}
}

// HandleProtectedResourceMetadata returns the handler for
// /.well-known/oauth-protected-resource and every path beneath it.
func HandleProtectedResourceMetadata(serverURL string) http.HandlerFunc {
	return serveMetadata(NewProtectedResourceMetadata(serverURL))
}

// HandleServerMetadata returns the /.well-known/oauth-authorization-server handler.
func HandleServerMetadata(serverURL, oauthPrefix string) http.HandlerFunc {
	return serveMetadata(NewServerMetadata(serverURL, oauthPrefix))
}

func serveMetadata(doc any) http.HandlerFunc {
	body, err := json.Marshal(doc)
	if err != nil {
		panic("auth: metadata not serialisable: " + err.Error())
	}

	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", metadataCacheControl)
		_, _ = w.Write(body)
	}
}
