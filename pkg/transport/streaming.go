package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"golang.org/x/sync/singleflight"

	"integrate/pkg/logging"
	"integrate/pkg/oauth"
)

// DefaultHeartbeatInterval is how often a connected StreamingTransport pings.
const DefaultHeartbeatInterval = 30 * time.Second

const (
	defaultReconnectInitial    = 500 * time.Millisecond
	defaultReconnectMaxElapsed = 5 * time.Minute
)

// StreamingTransport is an HTTPTransport with a live SSE connection. The
// server may answer a POST with 202 Accepted and deliver the response over
// the stream later; notifications arrive the same way.
type StreamingTransport struct {
	*HTTPTransport

	mu        sync.Mutex
	cancel    context.CancelFunc
	done      chan struct{}
	connected bool
	parser    SSEParser

	// dial collapses concurrent Connect calls into one stream.
	dial singleflight.Group
}

// NewStreamingTransport validates opts and returns a disconnected transport.
func NewStreamingTransport(opts Options) (*StreamingTransport, error) {
	if opts.StreamURL == "" {
		opts.StreamURL = opts.Endpoint
	}
	if opts.HeartbeatInterval == 0 {
		opts.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if opts.ReconnectInitialInterval <= 0 {
		opts.ReconnectInitialInterval = defaultReconnectInitial
	}
	if opts.ReconnectMaxElapsed <= 0 {
		opts.ReconnectMaxElapsed = defaultReconnectMaxElapsed
	}
	base, err := NewHTTPTransport(opts)
	if err != nil {
		return nil, err
	}
	base.awaitStream = true
	return &StreamingTransport{HTTPTransport: base}, nil
}

// Connect opens the event stream and starts the reader and heartbeat. It
// returns once the first connection is established. Calling Connect on a
// connected transport is a no-op, and concurrent callers share one dial.
func (s *StreamingTransport) Connect(ctx context.Context) error {
	if s.Connected() {
		return nil
	}
	_, err, _ := s.dial.Do("connect", func() (any, error) {
		if s.Connected() {
			return nil, nil
		}
		return nil, s.connect(ctx)
	})
	return err
}

func (s *StreamingTransport) connect(ctx context.Context) error {
	// The stream outlives ctx; ctx only bounds the initial dial.
	runCtx, cancel := context.WithCancel(context.Background())
	stop := context.AfterFunc(ctx, cancel)
	body, err := s.openStream(runCtx)
	if !stop() {
		if body != nil {
			_ = body.Close()
		}
		cancel()
		return ctx.Err()
	}
	if err != nil {
		cancel()
		var perm *backoff.PermanentError
		if errors.As(err, &perm) {
			return perm.Err
		}
		return err
	}

	s.mu.Lock()
	s.cancel = cancel
	s.done = make(chan struct{})
	s.connected = true
	done := s.done
	s.mu.Unlock()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.readLoop(runCtx, body)
	}()
	if s.opts.HeartbeatInterval > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.heartbeat(runCtx)
		}()
	}
	go func() {
		wg.Wait()
		close(done)
	}()

	logging.Info("Transport", "Connected event stream %s", s.opts.StreamURL)
	return nil
}

// Connected reports whether the stream reader is running.
func (s *StreamingTransport) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

// Disconnect stops the stream, rejects every pending request with
// ErrConnectionClosed and closes the transport. It is idempotent.
func (s *StreamingTransport) Disconnect() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel = nil
	s.connected = false
	s.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
		logging.Info("Transport", "Disconnected event stream %s", s.opts.StreamURL)
	}
	s.HTTPTransport.Close()
}

// Close is Disconnect.
func (s *StreamingTransport) Close() { s.Disconnect() }

func (s *StreamingTransport) readLoop(ctx context.Context, body io.ReadCloser) {
	for {
		err := ReadEvents(body, &s.parser, func(ev SSEEvent) {
			s.handleMessage([]byte(ev.Data))
		})
		_ = body.Close()
		s.parser.Reset()

		if ctx.Err() != nil {
			return
		}
		if err != nil {
			logging.Warn("Transport", "Event stream read failed: %v", err)
		} else {
			logging.Debug("Transport", "Event stream closed by server")
		}

		body, err = s.reconnect(ctx)
		if err != nil {
			if ctx.Err() == nil {
				logging.Error("Transport", err, "Giving up on event stream %s", s.opts.StreamURL)
				s.mu.Lock()
				s.connected = false
				s.mu.Unlock()
			}
			return
		}
	}
}

func (s *StreamingTransport) reconnect(ctx context.Context) (io.ReadCloser, error) {
	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.InitialInterval = s.opts.ReconnectInitialInterval
	if s.parser.Retry > 0 {
		expBackoff.InitialInterval = time.Duration(s.parser.Retry) * time.Millisecond
	}

	return backoff.Retry(ctx, func() (io.ReadCloser, error) {
		return s.openStream(ctx)
	},
		backoff.WithBackOff(expBackoff),
		backoff.WithMaxElapsedTime(s.opts.ReconnectMaxElapsed),
		backoff.WithNotify(func(err error, d time.Duration) {
			logging.Debug("Transport", "Reconnecting event stream in %v: %v", d, err)
		}),
	)
}

// openStream issues the SSE GET. Auth failures are permanent for backoff.
func (s *StreamingTransport) openStream(ctx context.Context) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.opts.StreamURL, nil)
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("failed to create stream request: %w", err))
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	if s.parser.LastEventID != "" {
		req.Header.Set("Last-Event-ID", s.parser.LastEventID)
	}
	s.applyHeaders(req.Header, nil)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, &oauth.ConnectionError{Endpoint: s.opts.StreamURL, Err: err}
	}
	if authErr := oauth.ClassifyHTTPAuthFailure("", resp.StatusCode, resp.Header.Get("WWW-Authenticate")); authErr != nil {
		_ = resp.Body.Close()
		return nil, backoff.Permanent(authErr)
	}
	if resp.StatusCode != http.StatusOK {
		_ = resp.Body.Close()
		return nil, &StatusError{StatusCode: resp.StatusCode}
	}
	return resp.Body, nil
}

func (s *StreamingTransport) heartbeat(ctx context.Context) {
	ticker := time.NewTicker(s.opts.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.SendRequest(ctx, "ping", nil); err != nil {
				if ctx.Err() != nil || errors.Is(err, ErrConnectionClosed) {
					return
				}
				logging.Warn("Transport", "Heartbeat failed: %v", err)
			}
		}
	}
}
