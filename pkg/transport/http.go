package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/tidwall/gjson"

	"integrate/pkg/logging"
	"integrate/pkg/oauth"
)

const (
	// DefaultTimeout bounds every request unless overridden.
	DefaultTimeout = 30 * time.Second

	// APIKeyHeader carries the integration API key.
	APIKeyHeader = "X-API-KEY"
	// TokensHeader carries a JSON object of provider name to access token.
	TokensHeader = "x-integrate-tokens"

	maxResponseBytes = 10 << 20
)

// Options configures HTTPTransport and StreamingTransport.
type Options struct {
	// Endpoint receives JSON-RPC POSTs.
	Endpoint string
	// APIKey is sent as X-API-KEY on every request when set.
	APIKey string
	// Headers are added to every request.
	Headers map[string]string
	// Timeout bounds each request. Defaults to DefaultTimeout.
	Timeout time.Duration
	// HTTPClient defaults to a client without its own timeout.
	HTTPClient *http.Client

	// StreamURL is the SSE endpoint. Defaults to Endpoint.
	StreamURL string
	// HeartbeatInterval is the ping period on a streaming transport.
	// Defaults to DefaultHeartbeatInterval; negative disables it.
	HeartbeatInterval time.Duration
	// ReconnectInitialInterval is the first backoff delay after the stream
	// drops. Defaults to 500ms.
	ReconnectInitialInterval time.Duration
	// ReconnectMaxElapsed gives up reconnecting after this long.
	// Defaults to 5 minutes.
	ReconnectMaxElapsed time.Duration
}

// RequestOption customizes a single request.
type RequestOption func(*requestOptions)

type requestOptions struct {
	provider string
	timeout  time.Duration
	headers  map[string]string
}

// WithBearer sets Authorization: Bearer token.
func WithBearer(token string) RequestOption {
	return WithHeader("Authorization", "Bearer "+token)
}

// WithProviderTokens attaches tokens as the x-integrate-tokens header.
func WithProviderTokens(tokens map[string]string) RequestOption {
	return func(o *requestOptions) {
		if len(tokens) == 0 {
			return
		}
		raw, err := json.Marshal(tokens)
		if err != nil {
			return
		}
		o.set(TokensHeader, string(raw))
	}
}

// WithHeader sets an arbitrary request header.
func WithHeader(name, value string) RequestOption {
	return func(o *requestOptions) { o.set(name, value) }
}

// WithProvider names the provider the request acts for, so 401/403
// responses are attributed to it.
func WithProvider(provider string) RequestOption {
	return func(o *requestOptions) { o.provider = provider }
}

// WithTimeout overrides the transport timeout for one request.
func WithTimeout(d time.Duration) RequestOption {
	return func(o *requestOptions) { o.timeout = d }
}

func (o *requestOptions) set(name, value string) {
	if o.headers == nil {
		o.headers = make(map[string]string)
	}
	o.headers[name] = value
}

type response struct {
	result json.RawMessage
	err    error
}

// HTTPTransport sends JSON-RPC requests over HTTP POST.
type HTTPTransport struct {
	opts   Options
	client *http.Client

	mu      sync.Mutex
	pending map[string]chan response
	closed  bool

	handlersMu sync.RWMutex
	handlers   []func(mcp.JSONRPCNotification)

	// awaitStream is set when responses may arrive on an attached stream
	// instead of the POST body.
	awaitStream bool
}

// NewHTTPTransport validates opts and returns a transport.
func NewHTTPTransport(opts Options) (*HTTPTransport, error) {
	if opts.Endpoint == "" {
		return nil, errors.New("transport endpoint is required")
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{}
	}
	return &HTTPTransport{
		opts:    opts,
		client:  client,
		pending: make(map[string]chan response),
	}, nil
}

// Endpoint returns the POST endpoint.
func (t *HTTPTransport) Endpoint() string { return t.opts.Endpoint }

// OnNotification registers a handler for server notifications. Handlers run
// on the goroutine that read the frame and must not block.
func (t *HTTPTransport) OnNotification(handler func(mcp.JSONRPCNotification)) {
	t.handlersMu.Lock()
	defer t.handlersMu.Unlock()
	t.handlers = append(t.handlers, handler)
}

// Pending returns the number of requests awaiting a response.
func (t *HTTPTransport) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}

// SendRequest sends method with params and waits for the matching response,
// the timeout, or ctx, whichever comes first.
func (t *HTTPTransport) SendRequest(ctx context.Context, method string, params any, options ...RequestOption) (json.RawMessage, error) {
	ro := requestOptions{timeout: t.opts.Timeout}
	for _, opt := range options {
		opt(&ro)
	}

	id := uuid.NewString()
	ch, err := t.register(id)
	if err != nil {
		return nil, err
	}

	body, err := json.Marshal(mcp.JSONRPCRequest{
		JSONRPC: mcp.JSONRPC_VERSION,
		ID:      mcp.NewRequestId(id),
		Params:  params,
		Request: mcp.Request{Method: method},
	})
	if err != nil {
		t.forget(id)
		return nil, fmt.Errorf("failed to encode %s request: %w", method, err)
	}

	reqCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	logging.Debug("Transport", "-> %s id=%s", method, id)
	go t.post(reqCtx, id, body, ro)

	timer := time.NewTimer(ro.timeout)
	defer timer.Stop()

	select {
	case resp := <-ch:
		return resp.result, resp.err
	case <-timer.C:
		t.forget(id)
		logging.Warn("Transport", "Request %s (%s) timed out after %v", method, id, ro.timeout)
		return nil, &TimeoutError{Method: method, ID: id, After: ro.timeout}
	case <-ctx.Done():
		t.forget(id)
		return nil, ctx.Err()
	}
}

// Close rejects every pending request with ErrConnectionClosed and makes
// further requests fail the same way. It is idempotent.
func (t *HTTPTransport) Close() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	pending := t.pending
	t.pending = make(map[string]chan response)
	t.mu.Unlock()

	for _, ch := range pending {
		ch <- response{err: ErrConnectionClosed}
	}
}

func (t *HTTPTransport) register(id string) (chan response, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, ErrConnectionClosed
	}
	ch := make(chan response, 1)
	t.pending[id] = ch
	return ch, nil
}

func (t *HTTPTransport) forget(id string) {
	t.mu.Lock()
	delete(t.pending, id)
	t.mu.Unlock()
}

// deliver hands resp to the waiter for id. Unknown ids, including requests
// that already timed out, are dropped.
func (t *HTTPTransport) deliver(id string, resp response) bool {
	t.mu.Lock()
	ch, ok := t.pending[id]
	if ok {
		delete(t.pending, id)
	}
	t.mu.Unlock()

	if !ok {
		logging.Debug("Transport", "Dropping response for unknown request %s", id)
		return false
	}
	ch <- resp
	return true
}

func (t *HTTPTransport) post(ctx context.Context, id string, body []byte, ro requestOptions) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.opts.Endpoint, bytes.NewReader(body))
	if err != nil {
		t.deliver(id, response{err: fmt.Errorf("failed to create request: %w", err)})
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json, text/event-stream")
	t.applyHeaders(req.Header, ro.headers)

	resp, err := t.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		t.deliver(id, response{err: &oauth.ConnectionError{Endpoint: t.opts.Endpoint, Err: err}})
		return
	}
	defer resp.Body.Close()

	if authErr := oauth.ClassifyHTTPAuthFailure(ro.provider, resp.StatusCode, resp.Header.Get("WWW-Authenticate")); authErr != nil {
		t.deliver(id, response{err: authErr})
		return
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		t.deliver(id, response{err: &StatusError{StatusCode: resp.StatusCode, Body: string(bytes.TrimSpace(raw))}})
		return
	}

	mediaType, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if mediaType == "text/event-stream" {
		var parser SSEParser
		err = ReadEvents(resp.Body, &parser, func(ev SSEEvent) {
			t.handleMessage([]byte(ev.Data))
		})
	} else {
		var raw []byte
		raw, err = io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
		if len(bytes.TrimSpace(raw)) > 0 {
			t.handleMessage(raw)
		}
	}
	if err != nil && ctx.Err() == nil {
		t.deliver(id, response{err: &oauth.ConnectionError{Endpoint: t.opts.Endpoint, Err: err}})
		return
	}

	if !t.awaitStream {
		t.deliver(id, response{err: errNoResponse})
	}
}

func (t *HTTPTransport) applyHeaders(h http.Header, extra map[string]string) {
	if t.opts.APIKey != "" {
		h.Set(APIKeyHeader, t.opts.APIKey)
	}
	for k, v := range t.opts.Headers {
		h.Set(k, v)
	}
	for k, v := range extra {
		h.Set(k, v)
	}
}

// handleMessage classifies one JSON-RPC message (or batch) and routes it.
func (t *HTTPTransport) handleMessage(raw []byte) {
	if !gjson.ValidBytes(raw) {
		logging.Warn("Transport", "Ignoring malformed JSON-RPC frame (%d bytes)", len(raw))
		return
	}
	msg := gjson.ParseBytes(raw)
	if msg.IsArray() {
		msg.ForEach(func(_, item gjson.Result) bool {
			t.handleMessage([]byte(item.Raw))
			return true
		})
		return
	}

	id := msg.Get("id")
	switch {
	case id.Exists() && id.Type != gjson.Null && (msg.Get("result").Exists() || msg.Get("error").Exists()):
		t.handleResponse(id.String(), msg)
	case msg.Get("method").Exists() && !id.Exists():
		t.handleNotification(raw)
	case msg.Get("method").Exists():
		logging.Debug("Transport", "Ignoring server request %s", msg.Get("method").String())
	default:
		logging.Debug("Transport", "Ignoring unclassified frame")
	}
}

func (t *HTTPTransport) handleResponse(id string, msg gjson.Result) {
	if errObj := msg.Get("error"); errObj.Exists() {
		var details mcp.JSONRPCErrorDetails
		if err := json.Unmarshal([]byte(errObj.Raw), &details); err != nil {
			t.deliver(id, response{err: fmt.Errorf("failed to decode error response: %w", err)})
			return
		}
		t.deliver(id, response{err: &RPCError{Code: details.Code, Message: details.Message, Data: details.Data}})
		return
	}
	t.deliver(id, response{result: json.RawMessage(msg.Get("result").Raw)})
}

func (t *HTTPTransport) handleNotification(raw []byte) {
	var notification mcp.JSONRPCNotification
	if err := json.Unmarshal(raw, &notification); err != nil {
		logging.Warn("Transport", "Failed to decode notification: %v", err)
		return
	}

	t.handlersMu.RLock()
	handlers := append([]func(mcp.JSONRPCNotification){}, t.handlers...)
	t.handlersMu.RUnlock()

	logging.Debug("Transport", "<- notification %s", notification.Method)
	for _, h := range handlers {
		h(notification)
	}
}
