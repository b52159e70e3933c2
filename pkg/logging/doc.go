// Package logging provides the subsystem-tagged structured logging used across
// integrate.
//
// It is a thin layer over log/slog: every entry carries a "subsystem" attribute
// (OAuth, TokenStore, Transport, ...) and the configured handler decides the
// output format.
//
//	logging.InitForCLI(logging.LevelInfo, os.Stderr)
//	logging.Info("OAuth", "authorization started for %s", provider)
//	logging.Error("TokenStore", err, "failed to persist token")
//
// Security relevant events go through Audit, which never receives token values:
//
//	logging.Audit("token_deleted", "provider", provider)
package logging
