package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"integrate/internal/app"
	"integrate/internal/cli"
)

// Exit codes for CLI commands.
const (
	// ExitCodeSuccess indicates successful execution.
	ExitCodeSuccess = 0
	// ExitCodeError indicates a general error (command failed, invalid arguments).
	ExitCodeError = 1
	// ExitCodeAuthRequired indicates authorization is required but not available.
	ExitCodeAuthRequired = 2
	// ExitCodeAuthFailed indicates the OAuth flow failed.
	ExitCodeAuthFailed = 3
)

var rootFlags cli.CommandFlags

// Test hooks; nil means the real implementation.
var (
	openURL func(rawURL string) error
	getenv  func(string) string
)

// version is stamped on every command tree newRootCmd builds.
var version = "dev"

// rootCmd is the command tree Execute runs.
var rootCmd = newRootCmd()

// newRootCmd builds the command tree. Flag variables are reset to their
// defaults.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "integrate",
		Short: "Authorize third-party providers and call tools on their behalf",
		Long: `integrate connects your GitHub, Gmail, Slack, Notion and Linear accounts
through OAuth 2.0 with PKCE and calls remote tools with the resulting tokens.

Tokens are stored locally (files, the OS keychain, or Redis) and refreshed
automatically before they expire.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cli.RegisterCommonFlags(cmd, &rootFlags)

	cmd.AddCommand(newVersionCmd())
	cmd.AddCommand(newAuthCmd())
	cmd.AddCommand(newToolsCmd())
	cmd.AddCommand(newServeCmd())
	return cmd
}

// SetVersion sets the version for the root command.
func SetVersion(v string) {
	version = v
	rootCmd.Version = v
}

// GetVersion returns the current version of the application.
func GetVersion() string {
	return rootCmd.Version
}

// Execute runs the root command and exits with a code matching the error.
func Execute() {
	rootCmd.SetVersionTemplate(`{{printf "integrate version %s\n" .Version}}`)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		err = cli.Translate(err)
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(getExitCode(err))
	}
}

// getExitCode maps an error to an exit code for scripting.
func getExitCode(err error) int {
	if err == nil {
		return ExitCodeSuccess
	}

	var authRequired *cli.AuthRequiredError
	if errors.As(err, &authRequired) {
		return ExitCodeAuthRequired
	}
	var authExpired *cli.AuthExpiredError
	if errors.As(err, &authExpired) {
		return ExitCodeAuthRequired
	}
	var authFailed *cli.AuthFailedError
	if errors.As(err, &authFailed) {
		return ExitCodeAuthFailed
	}
	return ExitCodeError
}

// newApplication bootstraps the application from the persistent flags.
func newApplication() (*app.Application, error) {
	cfg := app.NewConfig(rootFlags.Debug, rootFlags.Quiet, rootFlags.ConfigPath, rootFlags.ServerURL)
	cfg.OpenURL = openURL
	cfg.Getenv = getenv
	return app.NewApplication(cfg)
}
