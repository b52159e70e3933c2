package window

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"html/template"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/Masterminds/sprig/v3"

	"integrate/pkg/logging"
)

// DefaultCallbackPath is the path the loopback server handles.
const DefaultCallbackPath = "/oauth/callback"

//go:embed templates/callback_success.html
var callbackSuccessHTML string

//go:embed templates/callback_error.html
var callbackErrorHTML string

var (
	successTemplate = template.Must(template.New("success").Funcs(sprig.HtmlFuncMap()).Parse(callbackSuccessHTML))
	errorTemplate   = template.Must(template.New("error").Funcs(sprig.HtmlFuncMap()).Parse(callbackErrorHTML))
)

// CallbackServer is a temporary loopback HTTP server receiving a single
// provider redirect. It posts the outcome to the window manager and then
// shuts itself down.
type CallbackServer struct {
	provider string
	addr     string
	path     string
	inbox    Poster

	server   *http.Server
	listener net.Listener
	once     sync.Once

	mu       sync.Mutex
	stopped  bool
	stopOnce sync.Once
}

// NewCallbackServer creates a server for addr (host:port, port 0 picks one).
func NewCallbackServer(provider, addr, path string, inbox Poster) *CallbackServer {
	if path == "" {
		path = DefaultCallbackPath
	}
	return &CallbackServer{provider: provider, addr: addr, path: path, inbox: inbox}
}

// Start begins listening. The server stops when ctx is done or after timeout.
func (s *CallbackServer) Start(ctx context.Context, timeout time.Duration) error {
	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to start callback server on %s: %w", s.addr, err)
	}
	s.listener = listener

	mux := http.NewServeMux()
	mux.HandleFunc(s.path, s.handleCallback)
	s.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.Warn("Window", "Callback server stopped: %v", err)
			s.Stop()
		}
	}()

	go func() {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		select {
		case <-ctx.Done():
		case <-timer.C:
			logging.Info("Window", "Timed out waiting for %s callback", s.provider)
		}
		s.Stop()
	}()

	return nil
}

// URL returns the callback URL the server answers on.
func (s *CallbackServer) URL() string {
	if s.listener == nil {
		return ""
	}
	return "http://" + s.listener.Addr().String() + s.path
}

func (s *CallbackServer) handleCallback(w http.ResponseWriter, r *http.Request) {
	handled := false
	s.once.Do(func() {
		handled = true
		s.processCallback(w, r)
	})
	if !handled {
		http.Error(w, "Callback already processed", http.StatusBadRequest)
	}
}

func (s *CallbackServer) processCallback(w http.ResponseWriter, r *http.Request) {
	setSecurityHeaders(w)

	q := r.URL.Query()
	msg := Message{
		Type:             MessageCallback,
		Provider:         s.provider,
		Code:             q.Get("code"),
		State:            q.Get("state"),
		Error:            q.Get("error"),
		ErrorDescription: q.Get("error_description"),
		Origin:           "http://" + r.Host,
	}

	var (
		tmpl *template.Template
		data map[string]string
	)
	if msg.Error != "" {
		msg.Type = MessageError
		tmpl = errorTemplate
		data = map[string]string{"Error": msg.Error, "Description": msg.ErrorDescription}
	} else {
		tmpl = successTemplate
		data = map[string]string{"Provider": s.provider}
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := tmpl.Execute(w, data); err != nil {
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
	}

	s.inbox.Post(msg)

	// Give the browser time to receive the page before shutting down.
	go func() {
		time.Sleep(time.Second)
		s.Stop()
	}()
}

func setSecurityHeaders(w http.ResponseWriter) {
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Header().Set("X-Frame-Options", "DENY")
	w.Header().Set("Content-Security-Policy", "default-src 'self'; style-src 'unsafe-inline'")
	w.Header().Set("Referrer-Policy", "no-referrer")
	w.Header().Set("Cache-Control", "no-store")
}

// Closed reports whether the server stopped. A callback the manager accepted
// is already waiting in Open by then; one it dropped (stale state, foreign
// origin) leaves the window closed without a result.
func (s *CallbackServer) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

// Close implements Window.
func (s *CallbackServer) Close() { s.Stop() }

// Stop shuts the server down. Safe to call more than once.
func (s *CallbackServer) Stop() {
	s.stopOnce.Do(func() {
		if s.server != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = s.server.Shutdown(ctx)
		}
		if s.listener != nil {
			_ = s.listener.Close()
		}
		s.mu.Lock()
		s.stopped = true
		s.mu.Unlock()
	})
}
