// Package mock provides test doubles shared by the integrate packages:
// a controllable clock for expiry tests and a mock OAuth provider that
// implements the authorization and token endpoints with PKCE.
//
// Typical use:
//
//	provider := mock.NewProviderServer(mock.ProviderServerConfig{ClientID: "cli"})
//	defer provider.Close()
//
//	cfg := oauth.Config{
//		Provider: "github",
//		ClientID: "cli",
//		AuthURL:  provider.AuthorizeURL(),
//		TokenURL: provider.TokenURL(),
//	}
//
// Tests that drive the authorization UX call Approve with the URL the
// window manager was asked to open; it returns the code and state the
// provider would have redirected back with.
package mock
