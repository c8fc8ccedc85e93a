// Package mcpserver exposes the caller's own account over MCP. A server
// is built per request and bound to the principal the bearer gate
// resolved, so no tool can reach another user's credentials.
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/alexjbarnes/crm-auth/internal/auth"
	autherrors "github.com/alexjbarnes/crm-auth/internal/errors"
	"github.com/alexjbarnes/crm-auth/internal/models"
)

// Credentials is the subset of the credential store the tools use.
type Credentials interface {
	List(ownerID string) ([]models.Credential, error)
	Revoke(id, ownerID string) error
}

// NewHandler returns the streamable HTTP handler for the tool endpoint.
// It must sit behind auth.Gate; requests without a principal get no
// server. The endpoint is stateless: every request builds a fresh server.
func NewHandler(creds Credentials, logger *slog.Logger, version string) http.Handler {
	return mcp.NewStreamableHTTPHandler(func(r *http.Request) *mcp.Server {
		ip := auth.RequestRemoteIP(r.Context())

		p, ok := auth.PrincipalFrom(r.Context())
		if !ok {
			logger.Warn("mcp request without principal",
				slog.String("path", r.URL.Path),
				slog.String("ip", ip),
			)

			return nil
		}

		logger.Debug("mcp request",
			slog.String("user_id", p.UserID),
			slog.String("ip", ip),
		)

		return NewServer(p, creds, version)
	}, &mcp.StreamableHTTPOptions{Stateless: true})
}

// NewServer builds an MCP server whose tools act on behalf of p.
func NewServer(p models.Principal, creds Credentials, version string) *mcp.Server {
	server := mcp.NewServer(
		&mcp.Implementation{Name: "crm-auth", Version: version},
		nil,
	)
	RegisterTools(server, p, creds)

	return server
}

// RegisterTools adds the account tools to the given MCP server.
func RegisterTools(server *mcp.Server, p models.Principal, creds Credentials) {
	mcp.AddTool(server, &mcp.Tool{
		Name:        "whoami",
		Description: "Return the authenticated user's ID and, when known, email address.",
	}, whoamiHandler(p))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "list_api_tokens",
		Description: "List the caller's API tokens with name, creation time and last use. Token values are never returned.",
	}, listTokensHandler(p, creds))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "revoke_api_token",
		Description: "Revoke one of the caller's API tokens by ID. Revoking the token used for this session ends access.",
	}, revokeTokenHandler(p, creds))
}

// --- Input types ---

// WhoamiInput has no parameters.
type WhoamiInput struct{}

// ListTokensInput has no parameters.
type ListTokensInput struct{}

// RevokeTokenInput holds parameters for revoke_api_token.
type RevokeTokenInput struct {
	ID string `json:"id" jsonschema:"ID of the token to revoke, as returned by list_api_tokens"`
}

// --- Output types ---

// WhoamiResult is the whoami output.
type WhoamiResult struct {
	ID    string `json:"id"`
	Email string `json:"email,omitempty"`
}

// TokenInfo describes one credential. Times are RFC 3339.
type TokenInfo struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	CreatedAt  string `json:"created_at"`
	LastUsedAt string `json:"last_used_at,omitempty"`
}

// ListTokensResult is the list_api_tokens output.
type ListTokensResult struct {
	Tokens []TokenInfo `json:"tokens"`
}

// RevokeTokenResult is the revoke_api_token output.
type RevokeTokenResult struct {
	ID      string `json:"id"`
	Revoked bool   `json:"revoked"`
}

// --- Handlers ---

func whoamiHandler(p models.Principal) mcp.ToolHandlerFor[WhoamiInput, *WhoamiResult] {
	return func(_ context.Context, _ *mcp.CallToolRequest, _ WhoamiInput) (*mcp.CallToolResult, *WhoamiResult, error) {
		result := &WhoamiResult{ID: p.UserID, Email: p.Email}
		return textResult(result), result, nil
	}
}

func listTokensHandler(p models.Principal, creds Credentials) mcp.ToolHandlerFor[ListTokensInput, *ListTokensResult] {
	return func(_ context.Context, _ *mcp.CallToolRequest, _ ListTokensInput) (*mcp.CallToolResult, *ListTokensResult, error) {
		list, err := creds.List(p.UserID)
		if err != nil {
			return nil, nil, err
		}

		result := &ListTokensResult{Tokens: make([]TokenInfo, 0, len(list))}
		for _, c := range list {
			info := TokenInfo{
				ID:        c.ID,
				Name:      c.Label,
				CreatedAt: c.CreatedAt.UTC().Format(time.RFC3339),
			}
			if c.LastUsedAt != nil {
				info.LastUsedAt = c.LastUsedAt.UTC().Format(time.RFC3339)
			}
			result.Tokens = append(result.Tokens, info)
		}

		return textResult(result), result, nil
	}
}

func revokeTokenHandler(p models.Principal, creds Credentials) mcp.ToolHandlerFor[RevokeTokenInput, *RevokeTokenResult] {
	return func(_ context.Context, _ *mcp.CallToolRequest, input RevokeTokenInput) (*mcp.CallToolResult, *RevokeTokenResult, error) {
		if input.ID == "" {
			return nil, nil, errors.New("id is required")
		}

		if err := creds.Revoke(input.ID, p.UserID); err != nil {
			if errors.Is(err, autherrors.ErrNotFound) {
				return nil, nil, fmt.Errorf("token %q not found", input.ID)
			}

			return nil, nil, err
		}

		result := &RevokeTokenResult{ID: input.ID, Revoked: true}

		return textResult(result), result, nil
	}
}

// textResult builds a CallToolResult with JSON text content from any value.
// This provides the unstructured content alongside the structured output
// that the SDK populates automatically.
func textResult(v any) *mcp.CallToolResult {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: fmt.Sprintf("error marshaling result: %v", err)}},
			IsError: true,
		}
	}

	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: string(data)}},
	}
}
