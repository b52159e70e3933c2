// Package app bootstraps integrate for a single command invocation.
//
// # Bootstrap
//
// NewApplication loads config.yaml from the configured directory (defaults,
// then the file, then INTEGRATE_* environment variables), applies command
// line overrides, initializes logging and validates the result. It then
// builds Services in dependency order:
//
//  1. The token store selected by tokenStore.type: an atomic file store
//     (default), the OS keychain (falling back to files when no keychain is
//     available), Redis, or memory.
//  2. The window manager, which opens the system browser and serves the
//     loopback redirect_uri.
//  3. The OAuth manager, exchanging codes directly with the provider or,
//     when oauthApiBase is set, through the server-side OAuth routes.
//  4. The tool client, when a serverUrl is configured. It re-authorizes
//     interactively when a tool call reports an authentication failure.
//
// # Route server
//
// Application.Serve runs the OAuth routes behind a chi router until the
// context is cancelled or SIGINT/SIGTERM arrives, then shuts down
// gracefully.
package app
