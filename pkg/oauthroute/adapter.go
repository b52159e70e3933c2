package oauthroute

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"integrate/pkg/logging"
)

const defaultMaxBodyBytes = 64 << 10

// Adapter isolates the route logic from the web framework.
type Adapter interface {
	// ParseBody decodes the JSON request body into v.
	ParseBody(r *http.Request, v any) error
	// GetHeader returns a request header ("" if absent).
	GetHeader(r *http.Request, name string) string
	// BuildResponse writes status and body as JSON.
	BuildResponse(w http.ResponseWriter, status int, body any)
}

// HTTPAdapter is the net/http Adapter.
type HTTPAdapter struct {
	// MaxBodyBytes caps request bodies. Defaults to 64KiB.
	MaxBodyBytes int64
}

var errEmptyBody = errors.New("request body is empty")

// ParseBody implements Adapter. Unknown fields are rejected.
func (a HTTPAdapter) ParseBody(r *http.Request, v any) error {
	limit := a.MaxBodyBytes
	if limit <= 0 {
		limit = defaultMaxBodyBytes
	}
	dec := json.NewDecoder(io.LimitReader(r.Body, limit))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return errEmptyBody
		}
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	return nil
}

// GetHeader implements Adapter.
func (HTTPAdapter) GetHeader(r *http.Request, name string) string {
	return r.Header.Get(name)
}

// BuildResponse implements Adapter.
func (HTTPAdapter) BuildResponse(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	if body == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logging.Warn("OAuthRoute", "Failed to write response: %v", err)
	}
}
