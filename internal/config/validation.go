package config

import (
	"fmt"
	"net/url"
	"slices"
	"strings"

	"integrate/pkg/logging"
	"integrate/pkg/oauth/window"
)

// ValidationError represents a validation error with context
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

// Error implements the error interface
func (ve ValidationError) Error() string {
	if ve.Field == "" {
		return ve.Message
	}
	return fmt.Sprintf("field '%s': %s", ve.Field, ve.Message)
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface for multiple validation errors
func (ve ValidationErrors) Error() string {
	if len(ve) == 0 {
		return "no validation errors"
	}
	if len(ve) == 1 {
		return ve[0].Error()
	}

	var messages []string
	for _, err := range ve {
		messages = append(messages, err.Error())
	}
	return fmt.Sprintf("validation failed: %s", strings.Join(messages, "; "))
}

// HasErrors returns true if there are any validation errors
func (ve ValidationErrors) HasErrors() bool {
	return len(ve) > 0
}

// Add adds a new validation error
func (ve *ValidationErrors) Add(field, message string, value ...interface{}) {
	var val interface{}
	if len(value) > 0 {
		val = value[0]
	}
	*ve = append(*ve, ValidationError{
		Field:   field,
		Value:   val,
		Message: message,
	})
}

// ValidateOneOf checks if a value is in a list of allowed values
func ValidateOneOf(field, value string, allowed []string) error {
	if slices.Contains(allowed, value) {
		return nil
	}
	return ValidationError{
		Field:   field,
		Value:   value,
		Message: fmt.Sprintf("must be one of: %s", strings.Join(allowed, ", ")),
	}
}

func validateURL(errs *ValidationErrors, field, raw string) {
	if raw == "" {
		return
	}
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errs.Add(field, "must be an absolute http(s) URL", raw)
	}
}

var logLevels = []string{"debug", "info", "warn", "error"}

// Validate checks the whole configuration and reports every problem at
// once. The returned error is a ValidationErrors.
func (c Config) Validate() error {
	var errs ValidationErrors

	validateURL(&errs, "serverUrl", c.ServerURL)
	validateURL(&errs, "oauthApiBase", c.OAuthAPIBase)

	if err := ValidateOneOf("logLevel", strings.ToLower(c.LogLevel), logLevels); err != nil {
		errs = append(errs, err.(ValidationError))
	}
	if c.Timeout < 0 {
		errs.Add("timeout", "must not be negative", c.Timeout)
	}

	stores := []string{TokenStoreFile, TokenStoreKeyring, TokenStoreMemory, TokenStoreRedis}
	if err := ValidateOneOf("tokenStore.type", c.TokenStore.Type, stores); err != nil {
		errs = append(errs, err.(ValidationError))
	}
	if c.TokenStore.Type == TokenStoreRedis && c.TokenStore.Redis.Addr == "" {
		errs.Add("tokenStore.redis.addr", "is required for the redis token store")
	}

	modes := []string{string(window.ModePopup), string(window.ModeRedirect)}
	if err := ValidateOneOf("oauth.mode", c.OAuth.Mode, modes); err != nil {
		errs = append(errs, err.(ValidationError))
	}
	behaviors := []string{string(window.ErrorSilent), string(window.ErrorConsole), string(window.ErrorRedirect)}
	if err := ValidateOneOf("oauth.errorBehavior", c.OAuth.ErrorBehavior, behaviors); err != nil {
		errs = append(errs, err.(ValidationError))
	}
	validateURL(&errs, "oauth.errorUrl", c.OAuth.ErrorURL)
	if c.OAuth.ErrorBehavior == string(window.ErrorRedirect) && c.OAuth.ErrorURL == "" {
		errs.Add("oauth.errorUrl", "is required when oauth.errorBehavior is redirect")
	}

	if p := c.OAuth.CallbackPort; p < 1 || p > 65535 {
		errs.Add("oauth.callbackPort", "must be between 1 and 65535", p)
	}
	if !strings.HasPrefix(c.OAuth.CallbackPath, "/") {
		errs.Add("oauth.callbackPath", "must start with /", c.OAuth.CallbackPath)
	}
	if !strings.HasPrefix(c.Serve.BasePath, "/") {
		errs.Add("serve.basePath", "must start with /", c.Serve.BasePath)
	}

	for name, p := range c.Providers {
		field := "providers." + name
		if envPrefix(name) == "" {
			errs.Add(field, "provider id must not be empty")
		}
		if _, known := KnownProviders[name]; !known && (p.AuthURL == "" || p.TokenURL == "") {
			errs.Add(field, "authUrl and tokenUrl are required for providers outside the built-in registry")
		}
		validateURL(&errs, field+".authUrl", p.AuthURL)
		validateURL(&errs, field+".tokenUrl", p.TokenURL)
		validateURL(&errs, field+".userInfoUrl", p.UserInfoURL)
		validateURL(&errs, field+".revokeUrl", p.RevokeURL)
	}

	if errs.HasErrors() {
		logging.Debug("ConfigLoader", "Configuration has %d validation errors", len(errs))
		return errs
	}
	return nil
}
