package client

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"

	"integrate/pkg/oauth"
)

// Provider scopes client operations to one provider.
type Provider struct {
	c    *Client
	name string
}

// Provider returns the namespace for name. Unknown providers fail on first
// use with *oauth.UnknownProviderError.
func (c *Client) Provider(name string) *Provider {
	return &Provider{c: c, name: name}
}

// Name returns the provider id.
func (p *Provider) Name() string { return p.name }

// Authorize runs the OAuth flow.
func (p *Provider) Authorize(ctx context.Context) (*oauth.ProviderTokenData, error) {
	return p.c.manager.Authorize(ctx, p.name)
}

// Status reports whether a usable token exists.
func (p *Provider) Status(ctx context.Context) (oauth.AuthState, error) {
	return p.c.manager.CheckAuthStatus(ctx, p.name)
}

// Disconnect revokes and forgets the provider's token.
func (p *Provider) Disconnect(ctx context.Context) error {
	return p.c.manager.DisconnectProvider(ctx, p.name)
}

// CallTool is Client.CallTool for this provider.
func (p *Provider) CallTool(ctx context.Context, tool string, args map[string]any) (*mcp.CallToolResult, error) {
	return p.c.CallTool(ctx, p.name, tool, args)
}
