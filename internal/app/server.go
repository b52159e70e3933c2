package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"integrate/internal/config"
	"integrate/pkg/logging"
	"integrate/pkg/oauthroute"
)

const (
	// DefaultReadHeaderTimeout is the default timeout for reading request headers.
	DefaultReadHeaderTimeout = 10 * time.Second
	// DefaultWriteTimeout is the default timeout for writing responses.
	DefaultWriteTimeout = 60 * time.Second
	// DefaultIdleTimeout is the default idle timeout for keepalive connections.
	DefaultIdleTimeout = 120 * time.Second

	shutdownTimeout = 10 * time.Second
)

// RouteServer serves the OAuth routes for clients that hold no client
// secret.
type RouteServer struct {
	addr     string
	basePath string
	handler  http.Handler
	server   *http.Server
	listener net.Listener
}

// NewRouteServer builds the route handler from settings. Providers without
// a client id are not served.
func NewRouteServer(settings config.Config, getenv func(string) string) (*RouteServer, error) {
	configs := settings.OAuthConfigs(true, getenv)
	if len(configs) == 0 {
		return nil, errors.New("no provider has a client id; set <PROVIDER>_CLIENT_ID or providers.<name>.clientId")
	}

	userInfo := make(map[string]string)
	revoke := make(map[string]string)
	for _, cfg := range configs {
		p, err := settings.Provider(cfg.Provider, getenv)
		if err != nil {
			return nil, err
		}
		if p.UserInfoURL != "" {
			userInfo[cfg.Provider] = p.UserInfoURL
		}
		if p.RevokeURL != "" {
			revoke[cfg.Provider] = p.RevokeURL
		}
	}

	tokens := oauthroute.NewTokenResolver(settings.Serve.AllowEnvTokens)
	h, err := oauthroute.NewHandler(oauthroute.Config{
		Providers:      configs,
		APIKey:         settings.APIKey,
		StateTTL:       settings.Serve.StateTTL,
		UserInfoURLs:   userInfo,
		RevocationURLs: revoke,
		Tokens:         tokens,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create oauth routes: %w", err)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(tokens.Middleware)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	h.Mount(r, settings.Serve.BasePath)

	names := make([]string, 0, len(configs))
	for _, cfg := range configs {
		names = append(names, cfg.Provider)
	}
	logging.Info("Serve", "Serving OAuth routes for %v at %s", names, settings.Serve.BasePath)
	if settings.APIKey == "" {
		logging.Warn("Serve", "No apiKey configured, the OAuth routes accept unauthenticated requests")
	}

	return &RouteServer{addr: settings.Serve.Addr, basePath: settings.Serve.BasePath, handler: r}, nil
}

// Handler returns the root handler, for tests and embedding.
func (s *RouteServer) Handler() http.Handler { return s.handler }

// Start listens on the configured address and serves in the background.
func (s *RouteServer) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	s.listener = ln
	s.server = &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: DefaultReadHeaderTimeout,
		WriteTimeout:      DefaultWriteTimeout,
		IdleTimeout:       DefaultIdleTimeout,
	}
	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.Error("Serve", err, "Route server stopped")
		}
	}()
	logging.Info("Serve", "Listening on http://%s%s", ln.Addr(), s.basePath)
	return nil
}

// Addr returns the bound address once started.
func (s *RouteServer) Addr() string {
	if s.listener == nil {
		return s.addr
	}
	return s.listener.Addr().String()
}

// Shutdown gracefully stops the server.
func (s *RouteServer) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// runUntilSignal starts srv and blocks until ctx is done or SIGINT/SIGTERM
// arrives, then shuts down gracefully.
func runUntilSignal(ctx context.Context, srv *RouteServer) error {
	if err := srv.Start(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	logging.Info("Serve", "Shutting down route server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
