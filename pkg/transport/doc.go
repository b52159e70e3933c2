// Package transport carries JSON-RPC 2.0 requests to a tool server.
//
// HTTPTransport posts one request per call and correlates the response by
// id. Every call races against a timeout; a response that arrives after its
// caller gave up is dropped. StreamingTransport adds a long-lived
// Server-Sent Events connection over which the server can deliver both
// responses and notifications, a ping heartbeat, and reconnection with
// exponential backoff.
//
// SSEParser is the incremental frame parser both transports share. It
// accepts arbitrary chunk boundaries and CRLF line endings.
package transport
