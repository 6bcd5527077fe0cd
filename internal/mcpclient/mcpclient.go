// Package mcpclient opens MCP sessions against a workflow.Server over
// SSE (transport.NewSSE), injecting stored headers plus a bearer token, and
// carries out the single re-auth retry spec §4.4 calls for: if opening a
// session fails with an HTTP 401, the caller's AuthenticateFunc is invoked
// once for a fresh token and the session is reopened, never retried twice.
// Grounded on cloudshipai-station's internal/services/mcp_client.go and
// tool_discovery_client.go (transport.NewSSE/WithHeaders, client.NewClient,
// the Start+Initialize handshake) over mark3labs/mcp-go.
package mcpclient

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/getjotsu/jotsu-mcp/internal/workflow"
)

const initializeTimeout = 30 * time.Second

// Session is the subset of an initialized MCP client session a workflow
// node handler needs: call a tool, read a resource, fetch a prompt, or
// list what's on offer (used by the session manager's pre-load pass).
type Session interface {
	CallTool(ctx context.Context, name string, arguments map[string]any) (*mcp.CallToolResult, error)
	ReadResource(ctx context.Context, uri string) (*mcp.ReadResourceResult, error)
	GetPrompt(ctx context.Context, name string, arguments map[string]string) (*mcp.GetPromptResult, error)
	ListTools(ctx context.Context) ([]mcp.Tool, error)
	ListResources(ctx context.Context) ([]mcp.Resource, error)
	ListPrompts(ctx context.Context) ([]mcp.Prompt, error)
	Close() error
}

type session struct {
	client *client.Client
}

func (s *session) CallTool(ctx context.Context, name string, arguments map[string]any) (*mcp.CallToolResult, error) {
	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = arguments
	return s.client.CallTool(ctx, req)
}

func (s *session) ReadResource(ctx context.Context, uri string) (*mcp.ReadResourceResult, error) {
	req := mcp.ReadResourceRequest{}
	req.Params.URI = uri
	return s.client.ReadResource(ctx, req)
}

func (s *session) GetPrompt(ctx context.Context, name string, arguments map[string]string) (*mcp.GetPromptResult, error) {
	req := mcp.GetPromptRequest{}
	req.Params.Name = name
	req.Params.Arguments = arguments
	return s.client.GetPrompt(ctx, req)
}

func (s *session) ListTools(ctx context.Context) ([]mcp.Tool, error) {
	res, err := s.client.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		return nil, err
	}
	return res.Tools, nil
}

func (s *session) ListResources(ctx context.Context) ([]mcp.Resource, error) {
	res, err := s.client.ListResources(ctx, mcp.ListResourcesRequest{})
	if err != nil {
		return nil, err
	}
	return res.Resources, nil
}

func (s *session) ListPrompts(ctx context.Context) ([]mcp.Prompt, error) {
	res, err := s.client.ListPrompts(ctx, mcp.ListPromptsRequest{})
	if err != nil {
		return nil, err
	}
	return res.Prompts, nil
}

func (s *session) Close() error {
	return s.client.Close()
}

// AuthenticateFunc mints a fresh bearer token for server, typically by
// refreshing a stored OAuth2 token (internal/oauth2client, internal/credentials).
type AuthenticateFunc func(ctx context.Context) (string, error)

// Client opens Session values against workflow servers.
type Client struct{}

func New() *Client {
	return &Client{}
}

// Open starts and initializes a session against server using token as the
// bearer credential. If the handshake fails with an HTTP 401 and
// authenticate is non-nil, authenticate is called once for a replacement
// token and the session is reopened a single time.
func (c *Client) Open(
	ctx context.Context, server *workflow.Server, token string, authenticate AuthenticateFunc,
) (Session, error) {
	sess, err := c.openOnce(ctx, server, token)
	if err == nil {
		return sess, nil
	}
	if !IsUnauthorized(err) || authenticate == nil {
		return nil, err
	}
	newToken, authErr := authenticate(ctx)
	if authErr != nil {
		return nil, fmt.Errorf("mcpclient: reauthenticate %s: %w (after %v)", server.ID, authErr, err)
	}
	sess, err = c.openOnce(ctx, server, newToken)
	if err != nil {
		return nil, fmt.Errorf("mcpclient: open %s after reauth: %w", server.ID, err)
	}
	return sess, nil
}

func (c *Client) openOnce(ctx context.Context, server *workflow.Server, token string) (Session, error) {
	headers := make(map[string]string, len(server.Headers)+1)
	for k, v := range server.Headers {
		headers[k] = v
	}
	if token != "" && !server.HasAuthorizationHeader() {
		headers["authorization"] = "Bearer " + token
	}

	tr, err := transport.NewSSE(server.URL, transport.WithHeaders(headers))
	if err != nil {
		return nil, fmt.Errorf("mcpclient: build transport for %s: %w", server.ID, err)
	}

	mcpClient := client.NewClient(tr)

	startCtx, cancel := context.WithTimeout(ctx, initializeTimeout)
	defer cancel()

	if err := mcpClient.Start(startCtx); err != nil {
		return nil, fmt.Errorf("mcpclient: start %s: %w", server.ID, err)
	}

	initReq := mcp.InitializeRequest{}
	initReq.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	initReq.Params.ClientInfo = mcp.Implementation{Name: "jotsu-mcp-workflow-engine", Version: "1.0.0"}
	initReq.Params.Capabilities = mcp.ClientCapabilities{}

	if _, err := mcpClient.Initialize(startCtx, initReq); err != nil {
		mcpClient.Close()
		return nil, fmt.Errorf("mcpclient: initialize %s: %w", server.ID, err)
	}

	return &session{client: mcpClient}, nil
}

// IsUnauthorized reports whether err (or any error it wraps) represents an
// HTTP 401 from the server's transport. An error exposing StatusCode() is
// judged by that code alone; any other error counts as a 401 when its
// message contains "401" or, case-insensitively, "unauthorized".
func IsUnauthorized(err error) bool {
	if err == nil {
		return false
	}
	var statusErr interface{ StatusCode() int }
	if errors.As(err, &statusErr) {
		return statusErr.StatusCode() == 401
	}
	msg := err.Error()
	return strings.Contains(msg, "401") || strings.Contains(strings.ToLower(msg), "unauthorized")
}
