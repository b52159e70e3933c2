package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"integrate/internal/app"
	"integrate/internal/cli"
	"integrate/pkg/oauth"
	"integrate/pkg/oauth/window"
	"integrate/pkg/tokenstore"
)

func newAuthCmd() *cobra.Command {
	authCmd := &cobra.Command{
		Use:   "auth",
		Short: "Manage provider authorizations",
		Long: `Manage OAuth authorizations for third-party providers.

Examples:
  integrate auth login github          # Authorize GitHub in the browser
  integrate auth status                # Show every configured provider
  integrate auth status --watch        # Follow changes made by other processes
  integrate auth token gmail           # Print a fresh access token
  integrate auth logout slack          # Disconnect Slack
  integrate auth logout --all          # Forget every stored token`,
	}
	authCmd.AddCommand(newAuthLoginCmd(), newAuthStatusCmd(), newAuthLogoutCmd(), newAuthTokenCmd(), newAuthSetCmd())
	return authCmd
}

// withApplication bootstraps, runs fn and releases the services.
func withApplication(fn func(a *app.Application) error) error {
	a, err := newApplication()
	if err != nil {
		return err
	}
	defer a.Close()
	return cli.Translate(fn(a))
}

// requireProvider fails for names that are neither built in nor configured,
// and for providers that have no client id.
func requireProvider(a *app.Application, name string) error {
	settings := a.Settings()
	if _, err := settings.Provider(name, getenv); err != nil {
		return err
	}
	if _, ok := a.Services().Manager.Config(name); !ok {
		return &oauth.UnknownProviderError{Provider: name}
	}
	return nil
}

func newAuthLoginCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "login <provider>...",
		Short: "Authorize providers in the browser",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApplication(func(a *app.Application) error {
				for _, name := range args {
					if err := requireProvider(a, name); err != nil {
						return err
					}
					if err := login(cmd, a, name); err != nil {
						return err
					}
				}
				return nil
			})
		},
	}
}

func login(cmd *cobra.Command, a *app.Application, provider string) error {
	var tok *oauth.ProviderTokenData
	err := cli.WithSpinner(rootFlags.Quiet, fmt.Sprintf("Waiting for %s authorization in your browser...", provider), func() error {
		var err error
		tok, err = a.Services().Manager.Authorize(cmd.Context(), provider)
		return err
	})
	if errors.Is(err, window.ErrRedirectStarted) {
		tok, err = completeRedirect(cmd, a, provider)
	}
	if err != nil {
		var connErr *oauth.ConnectionError
		if errors.As(err, &connErr) {
			return err
		}
		return &cli.AuthFailedError{Provider: provider, Reason: err}
	}

	if !rootFlags.Quiet {
		msg := "Authorized " + provider
		if tok.Email != "" {
			msg += " as " + tok.Email
		}
		cli.Success(cmd.ErrOrStderr(), msg)
	}
	return nil
}

// completeRedirect reads the address the browser landed on after the
// provider redirected back and finishes the authorization with it.
func completeRedirect(cmd *cobra.Command, a *app.Application, provider string) (*oauth.ProviderTokenData, error) {
	fmt.Fprintf(cmd.ErrOrStderr(), "Authorize %s in your browser, then paste the address of the page it redirects to:\n", provider)

	lines := make(chan string, 1)
	errc := make(chan error, 1)
	go func() {
		sc := bufio.NewScanner(cmd.InOrStdin())
		for sc.Scan() {
			if line := strings.TrimSpace(sc.Text()); line != "" {
				lines <- line
				return
			}
		}
		if err := sc.Err(); err != nil {
			errc <- err
			return
		}
		errc <- errors.New("no callback address received")
	}()

	select {
	case <-cmd.Context().Done():
		return nil, cmd.Context().Err()
	case err := <-errc:
		a.Services().Manager.CancelPending(provider)
		return nil, err
	case line := <-lines:
		return a.Services().CompleteRedirect(cmd.Context(), line)
	}
}

func newAuthStatusCmd() *cobra.Command {
	var watch bool
	cmd := &cobra.Command{
		Use:   "status [provider]...",
		Short: "Show authorization status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApplication(func(a *app.Application) error {
				printer, err := rootFlags.Printer(cmd)
				if err != nil {
					return err
				}
				providers := args
				if len(providers) == 0 {
					providers = a.Services().Manager.Providers()
				}
				for _, name := range providers {
					if err := requireProvider(a, name); err != nil {
						return err
					}
				}

				if err := printStatus(cmd.Context(), printer, a, providers); err != nil {
					return err
				}
				if !watch {
					return nil
				}
				return watchStatus(cmd.Context(), printer, a, providers)
			})
		},
	}
	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "Reprint when tokens change on disk (file token store only)")
	return cmd
}

func printStatus(ctx context.Context, printer *cli.Printer, a *app.Application, providers []string) error {
	states := make([]oauth.AuthState, 0, len(providers))
	for _, name := range providers {
		state, err := a.Services().Manager.CheckAuthStatus(ctx, name)
		if err != nil {
			return err
		}
		states = append(states, state)
	}
	return printer.AuthStates(states)
}

func watchStatus(ctx context.Context, printer *cli.Printer, a *app.Application, providers []string) error {
	fs, ok := a.Services().Store.(*tokenstore.FileStore)
	if !ok {
		return errors.New("--watch needs the file token store")
	}
	manager := a.Services().Manager
	changes := make(chan tokenstore.Change, 8)
	if err := fs.Watch(ctx, func(c tokenstore.Change) {
		manager.Invalidate(c.Provider)
		select {
		case changes <- c:
		default:
		}
	}); err != nil {
		return err
	}

	// Writes arrive as bursts of events; print once per burst.
	const settle = 200 * time.Millisecond
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-changes:
		}
		timer := time.NewTimer(settle)
	drain:
		for {
			select {
			case <-changes:
			case <-timer.C:
				break drain
			case <-ctx.Done():
				timer.Stop()
				return nil
			}
		}
		if err := printStatus(ctx, printer, a, providers); err != nil {
			return err
		}
	}
}

func newAuthLogoutCmd() *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "logout [provider]...",
		Short: "Disconnect providers and delete their tokens",
		RunE: func(cmd *cobra.Command, args []string) error {
			if all == (len(args) > 0) {
				return errors.New("name one or more providers, or pass --all")
			}
			return withApplication(func(a *app.Application) error {
				manager := a.Services().Manager
				if all {
					if err := manager.Logout(cmd.Context()); err != nil {
						return err
					}
					if !rootFlags.Quiet {
						cli.Success(cmd.ErrOrStderr(), "Logged out of every provider")
					}
					return nil
				}
				for _, name := range args {
					if err := requireProvider(a, name); err != nil {
						return err
					}
					if err := manager.DisconnectProvider(cmd.Context(), name); err != nil {
						return err
					}
					if !rootFlags.Quiet {
						cli.Success(cmd.ErrOrStderr(), "Disconnected "+name)
					}
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "Disconnect every provider")
	return cmd
}

func newAuthTokenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "token <provider>",
		Short: "Print a valid access token, refreshing it if needed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApplication(func(a *app.Application) error {
				if err := requireProvider(a, args[0]); err != nil {
					return err
				}
				tok, err := a.Services().Manager.GetToken(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				printer, err := rootFlags.Printer(cmd)
				if err != nil {
					return err
				}
				if ok, err := printer.Structured(tok); ok {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), tok.AccessToken)
				return nil
			})
		},
	}
}

func newAuthSetCmd() *cobra.Command {
	var (
		accessToken  string
		refreshToken string
		expiresIn    time.Duration
		email        string
	)
	cmd := &cobra.Command{
		Use:   "set <provider>",
		Short: "Store a token obtained elsewhere",
		Long: `Store a token obtained outside integrate, for example a personal access
token, so tool calls can use it.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if accessToken == "" {
				return errors.New("--access-token is required")
			}
			return withApplication(func(a *app.Application) error {
				if err := requireProvider(a, args[0]); err != nil {
					return err
				}
				data := &oauth.ProviderTokenData{
					AccessToken:  accessToken,
					RefreshToken: refreshToken,
					TokenType:    "Bearer",
					ExpiresIn:    int64(expiresIn / time.Second),
					Email:        email,
				}
				if err := a.Services().Manager.SetToken(cmd.Context(), args[0], data); err != nil {
					return err
				}
				if !rootFlags.Quiet {
					cli.Success(cmd.ErrOrStderr(), "Stored token for "+args[0])
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&accessToken, "access-token", "", "Access token to store")
	cmd.Flags().StringVar(&refreshToken, "refresh-token", "", "Refresh token to store")
	cmd.Flags().DurationVar(&expiresIn, "expires-in", 0, "Lifetime of the access token (0 means it does not expire)")
	cmd.Flags().StringVar(&email, "email", "", "Account the token belongs to")
	return cmd
}
