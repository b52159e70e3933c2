package client

import (
	"context"

	"integrate/pkg/events"
	"integrate/pkg/logging"
	"integrate/pkg/oauth"
)

// withReauth runs call, re-authenticating and retrying on
// *oauth.AuthenticationError at most c.maxRetries times. The last error is
// returned unwrapped once retries are exhausted or the handler declines.
func withReauth[T any](ctx context.Context, c *Client, provider, tool string, call func() (T, error)) (T, error) {
	for attempt := 0; ; attempt++ {
		res, err := call()
		if err == nil {
			if attempt > 0 {
				c.bus.Publish(events.Event{Type: events.ReauthSucceeded, Provider: provider})
			}
			return res, nil
		}

		authErr, ok := oauth.AsAuthenticationError(err)
		if !ok || c.reauth == nil {
			return res, err
		}
		if attempt >= c.maxRetries {
			if attempt > 0 {
				c.bus.Publish(events.Event{Type: events.ReauthFailed, Provider: provider, Err: err})
			}
			return res, err
		}

		target := authErr.Provider
		if target == "" {
			target = provider
		}
		c.bus.Publish(events.Event{Type: events.ReauthRequired, Provider: target, Err: err})
		logging.Info("Client", "Re-authentication required for %s (tool %s): %v", target, tool, err)

		retry, herr := c.reauth(ctx, oauth.ReauthContext{Provider: target, Err: err, ToolName: tool})
		if herr != nil || !retry {
			if herr != nil {
				logging.Warn("Client", "Re-authentication handler failed for %s: %v", target, herr)
			}
			c.bus.Publish(events.Event{Type: events.ReauthFailed, Provider: target, Err: err})
			return res, err
		}
	}
}
