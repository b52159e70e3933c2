package transport

import (
	"errors"
	"fmt"
	"time"
)

// ErrConnectionClosed is returned to requests still in flight when the
// transport is closed, and to requests sent afterwards.
var ErrConnectionClosed = errors.New("connection closed")

// errNoResponse is returned when the server answered the POST without a
// JSON-RPC response and no stream is attached to deliver one later.
var errNoResponse = errors.New("server returned no JSON-RPC response")

// TimeoutError is returned when no response arrived within the request
// timeout. The pending entry is gone by the time the caller sees it.
type TimeoutError struct {
	Method string
	ID     string
	After  time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("request %s (%s) timed out after %v", e.Method, e.ID, e.After)
}

// Timeout lets callers treat the error like a net.Error.
func (e *TimeoutError) Timeout() bool { return true }

// RPCError is a JSON-RPC error object returned by the server.
type RPCError struct {
	Code    int
	Message string
	Data    any
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// StatusError is a non-2xx HTTP response that is not an auth failure.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("unexpected HTTP status %d", e.StatusCode)
	}
	return fmt.Sprintf("unexpected HTTP status %d: %s", e.StatusCode, e.Body)
}
