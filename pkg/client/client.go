package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"integrate/pkg/events"
	"integrate/pkg/logging"
	"integrate/pkg/oauth"
	"integrate/pkg/transport"
)

// DefaultMaxReauthRetries bounds re-authentication retries per call.
const DefaultMaxReauthRetries = 1

// ErrClosed is returned by calls made after Close.
var ErrClosed = errors.New("client closed")

// Transport is the part of pkg/transport the client depends on.
type Transport interface {
	SendRequest(ctx context.Context, method string, params any, opts ...transport.RequestOption) (json.RawMessage, error)
	Close()
}

// streamer is implemented by transports with a live connection.
type streamer interface {
	Connect(ctx context.Context) error
}

// notifier is implemented by transports that surface server notifications.
type notifier interface {
	OnNotification(handler func(mcp.JSONRPCNotification))
}

// ReauthHandler is asked to re-authenticate after an authentication
// failure. Returning true retries the call.
type ReauthHandler func(ctx context.Context, rc oauth.ReauthContext) (bool, error)

// Options configures a Client.
type Options struct {
	// ServerURL is the JSON-RPC endpoint. Ignored when Transport is set.
	ServerURL string
	APIKey    string
	Headers   map[string]string
	Timeout   time.Duration

	// Streaming selects a StreamingTransport with an SSE connection.
	Streaming         bool
	HeartbeatInterval time.Duration

	// Transport overrides the transport built from the fields above.
	Transport Transport

	// Manager is used as is. When nil, one is built from OAuth.
	Manager *oauth.Manager
	OAuth   oauth.ManagerOptions

	ReauthHandler ReauthHandler
	// MaxReauthRetries defaults to DefaultMaxReauthRetries; negative
	// disables retries.
	MaxReauthRetries int

	// Events is shared with the Manager when the client builds it.
	Events *events.Bus
}

// Client invokes remote tools on behalf of the user.
type Client struct {
	manager    *oauth.Manager
	transport  Transport
	bus        *events.Bus
	reauth     ReauthHandler
	maxRetries int

	mu        sync.Mutex
	connected bool
	closed    bool
}

// New builds a Client.
func New(opts Options) (*Client, error) {
	bus := opts.Events
	if bus == nil {
		bus = opts.OAuth.Events
	}
	if bus == nil {
		bus = events.NewBus()
	}

	manager := opts.Manager
	if manager == nil {
		mopts := opts.OAuth
		mopts.Events = bus
		var err error
		manager, err = oauth.NewManager(mopts)
		if err != nil {
			return nil, fmt.Errorf("failed to create oauth manager: %w", err)
		}
	}

	tr := opts.Transport
	if tr == nil {
		topts := transport.Options{
			Endpoint:          opts.ServerURL,
			APIKey:            opts.APIKey,
			Headers:           opts.Headers,
			Timeout:           opts.Timeout,
			HeartbeatInterval: opts.HeartbeatInterval,
		}
		var err error
		if opts.Streaming {
			tr, err = transport.NewStreamingTransport(topts)
		} else {
			tr, err = transport.NewHTTPTransport(topts)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to create transport: %w", err)
		}
	}

	maxRetries := opts.MaxReauthRetries
	switch {
	case maxRetries == 0:
		maxRetries = DefaultMaxReauthRetries
	case maxRetries < 0:
		maxRetries = 0
	}

	return &Client{
		manager:    manager,
		transport:  tr,
		bus:        bus,
		reauth:     opts.ReauthHandler,
		maxRetries: maxRetries,
	}, nil
}

// Manager returns the OAuth manager.
func (c *Client) Manager() *oauth.Manager { return c.manager }

// Events returns the bus carrying client and manager events.
func (c *Client) Events() *events.Bus { return c.bus }

// On subscribes to one event type and returns an unsubscribe func.
func (c *Client) On(eventType events.EventType, handler events.Handler) func() {
	return c.bus.On(eventType, handler)
}

// OnNotification forwards server notifications when the transport
// supports them. It reports whether the handler was registered.
func (c *Client) OnNotification(handler func(mcp.JSONRPCNotification)) bool {
	n, ok := c.transport.(notifier)
	if ok {
		n.OnNotification(handler)
	}
	return ok
}

// Connect opens the transport connection, if it has one, and emits
// client:connected. It is idempotent.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.connected {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	if s, ok := c.transport.(streamer); ok {
		if err := s.Connect(ctx); err != nil {
			return err
		}
	}

	c.mu.Lock()
	c.connected = true
	c.mu.Unlock()
	c.bus.Publish(events.Event{Type: events.ClientConnected})
	return nil
}

// Close cancels pending authorizations, closes the transport and emits
// client:disconnected. It is idempotent.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.connected = false
	c.mu.Unlock()

	c.manager.CancelAll()
	c.transport.Close()
	c.bus.Publish(events.Event{Type: events.ClientDisconnected})
	logging.Debug("Client", "Client closed")
	return nil
}

func (c *Client) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Authorize runs the OAuth flow for provider.
func (c *Client) Authorize(ctx context.Context, provider string) (*oauth.ProviderTokenData, error) {
	return c.manager.Authorize(ctx, provider)
}

// CallTool invokes tool with provider's token attached. An empty provider
// sends the call without user credentials. Results flagged isError come
// back together with an *oauth.ToolCallError.
func (c *Client) CallTool(ctx context.Context, provider, tool string, args map[string]any) (*mcp.CallToolResult, error) {
	return withReauth(ctx, c, provider, tool, func() (*mcp.CallToolResult, error) {
		return c.callTool(ctx, provider, tool, args)
	})
}

func (c *Client) callTool(ctx context.Context, provider, tool string, args map[string]any) (*mcp.CallToolResult, error) {
	if c.isClosed() {
		return nil, ErrClosed
	}

	opts, err := c.credentials(ctx, provider)
	if err != nil {
		return nil, err
	}

	params := mcp.CallToolParams{Name: tool}
	if len(args) > 0 {
		params.Arguments = args
	}

	logging.Debug("Client", "Calling tool %s (provider=%s)", tool, provider)
	raw, err := c.transport.SendRequest(ctx, "tools/call", params, opts...)
	if err != nil {
		return nil, err
	}

	result, err := mcp.ParseCallToolResult(&raw)
	if err != nil {
		return nil, fmt.Errorf("failed to parse result of %s: %w", tool, err)
	}
	if result.IsError {
		return result, &oauth.ToolCallError{Tool: tool, Message: resultText(result)}
	}
	return result, nil
}

func (c *Client) credentials(ctx context.Context, provider string) ([]transport.RequestOption, error) {
	opts := []transport.RequestOption{transport.WithProvider(provider)}
	if provider == "" {
		return opts, nil
	}
	tok, err := c.manager.GetToken(ctx, provider)
	if err != nil {
		return nil, err
	}
	return append(opts,
		transport.WithBearer(tok.AccessToken),
		transport.WithProviderTokens(map[string]string{provider: tok.AccessToken}),
	), nil
}

// ListTools returns every tool the server offers, following pagination.
func (c *Client) ListTools(ctx context.Context) ([]mcp.Tool, error) {
	if c.isClosed() {
		return nil, ErrClosed
	}

	var (
		tools  []mcp.Tool
		cursor mcp.Cursor
	)
	for {
		var params any
		if cursor != "" {
			params = mcp.PaginatedParams{Cursor: cursor}
		}
		raw, err := c.transport.SendRequest(ctx, "tools/list", params)
		if err != nil {
			return nil, err
		}
		var page mcp.ListToolsResult
		if err := json.Unmarshal(raw, &page); err != nil {
			return nil, fmt.Errorf("failed to parse tools/list result: %w", err)
		}
		tools = append(tools, page.Tools...)
		if page.NextCursor == "" || page.NextCursor == cursor {
			return tools, nil
		}
		cursor = page.NextCursor
	}
}

// resultText joins the text content of a tool result.
func resultText(result *mcp.CallToolResult) string {
	var parts []string
	for _, content := range result.Content {
		if text, ok := mcp.AsTextContent(content); ok {
			parts = append(parts, text.Text)
		}
	}
	if len(parts) == 0 {
		return "tool reported an error"
	}
	return strings.Join(parts, "\n")
}
