package window

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"time"

	"github.com/pkg/browser"

	"integrate/pkg/logging"
)

// BrowserOpener is the default popup opener for terminal hosts: it serves the
// request's loopback redirect_uri and opens the authorization page in the
// system browser. The returned Window is the callback server.
type BrowserOpener struct {
	// OpenURL launches the browser. Defaults to browser.OpenURL.
	OpenURL func(rawURL string) error

	// Timeout bounds the wait for the callback. Defaults to CallbackTimeout.
	Timeout time.Duration
}

// Open implements Opener.
func (o *BrowserOpener) Open(ctx context.Context, req Request, _ Size, inbox Poster) (Window, error) {
	authURL, err := url.Parse(req.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid authorization url: %w", err)
	}
	redirect, err := url.Parse(authURL.Query().Get("redirect_uri"))
	if err != nil || redirect.Host == "" {
		return nil, fmt.Errorf("authorization url has no usable redirect_uri")
	}
	if !isLoopback(redirect.Hostname()) {
		return nil, fmt.Errorf("redirect_uri %s is not a loopback address", redirect.Redacted())
	}

	addr := net.JoinHostPort("127.0.0.1", redirect.Port())
	server := NewCallbackServer(req.Provider, addr, redirect.Path, inbox)

	timeout := o.Timeout
	if timeout <= 0 {
		timeout = CallbackTimeout
	}
	if err := server.Start(ctx, timeout); err != nil {
		return nil, err
	}

	open := o.OpenURL
	if open == nil {
		open = browser.OpenURL
	}
	if err := open(req.URL); err != nil {
		server.Stop()
		return nil, fmt.Errorf("failed to open browser: %w", err)
	}

	logging.Info("Window", "Opened browser for %s authorization, waiting on %s", req.Provider, server.URL())
	return server, nil
}

func isLoopback(host string) bool {
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// BrowserNavigator navigates by opening the URL in the system browser. It
// serves redirect mode on terminal hosts.
type BrowserNavigator struct {
	// OpenURL launches the browser. Defaults to browser.OpenURL.
	OpenURL func(rawURL string) error
}

// Navigate implements Navigator.
func (n *BrowserNavigator) Navigate(rawURL string) error {
	if n.OpenURL != nil {
		return n.OpenURL(rawURL)
	}
	return browser.OpenURL(rawURL)
}
