// Package oauthroute implements the server side of the OAuth flow for
// clients that must not hold a client secret.
//
// A Handler is built from an explicit Config (providers with credentials,
// API key, state TTL) and serves four routes under a base path:
//
//	POST {base}/authorize   {provider, scopes?, returnUrl?, codeChallenge, codeChallengeMethod?, state} -> {url}
//	POST {base}/callback    {provider, code, codeVerifier, state?} -> token data
//	GET  {base}/status      ?provider=X, Authorization: Bearer -> {authorized}
//	POST {base}/disconnect  {provider}, Authorization: Bearer -> {success}
//
// The route logic is framework neutral: it only talks to the request and
// response through an Adapter. HTTPAdapter covers net/http; Routes mounts
// the handlers on a chi router.
//
// Provider tokens for server-originated tool calls are resolved by
// TokenContextProviders in registration order: the x-integrate-tokens
// header first, then the PROVIDER_TOKENS environment variable when
// explicitly allowed.
package oauthroute
