// Package config provides configuration management for integrate.
//
// Configuration is read from a single YAML file, config.yaml, in the
// configuration directory. The default directory is ~/.config/integrate;
// commands accept --config-path to point elsewhere. A missing file is not an
// error: built-in defaults are used.
//
// # Layering
//
// Values are resolved in this order, later layers winning:
//
//  1. Built-in defaults (Default)
//  2. config.yaml
//  3. Environment variables (INTEGRATE_SERVER_URL, INTEGRATE_API_KEY,
//     INTEGRATE_OAUTH_API_BASE, INTEGRATE_LOG_LEVEL, INTEGRATE_TOKEN_STORE, ...)
//
// # Providers
//
// A small registry of well-known providers (github, gmail, slack, notion,
// linear) supplies authorization and token endpoints and default scopes.
// Entries under providers: in config.yaml override or extend it. Client
// credentials are read from {PROVIDER}_CLIENT_ID and {PROVIDER}_CLIENT_SECRET
// when not set in the file.
//
// # Example
//
//	serverUrl: https://mcp.example.com/api/v1/mcp
//	oauthApiBase: https://mcp.example.com/api/v1/oauth
//	tokenStore:
//	  type: keyring
//	oauth:
//	  callbackPort: 8976
//	providers:
//	  github:
//	    scopes: [repo, read:user]
package config
