// Package oauth implements the client side of the OAuth 2.1 authorization
// code flow with PKCE for many third-party providers at once.
//
// # Core Components
//
//   - PKCE and state: GeneratePKCE, GenerateState and ParseState (RFC 7636)
//   - Manager: runs Authorize, validates callbacks against pending
//     authorizations and owns the per-provider token lifecycle
//   - Exchanger: DirectExchanger talks to the provider token endpoint,
//     RouteExchanger delegates to the server-side routes in pkg/oauthroute
//   - TokenStore: persistence boundary, implemented in pkg/tokenstore
//   - Error taxonomy: AuthenticationError, TokenExpiredError,
//     AuthorizationError, StorageError, TokenExchangeError and friends
//
// # Flow
//
//	m, _ := oauth.NewManager(oauth.ManagerOptions{
//		Configs:   configs,
//		Store:     tokenstore.NewMemoryStore(),
//		Windows:   window.NewManager(window.Options{}),
//		Exchanger: &oauth.DirectExchanger{},
//	})
//	tok, err := m.Authorize(ctx, "github")
//
// At most one authorization is pending per provider. Starting a second one
// supersedes the first, which fails with ErrAuthorizationSuperseded. A token
// only becomes visible after HandleCallback matched the callback state to a
// live pending authorization; anything else is ErrStateMismatch and no code
// exchange is attempted.
package oauth
