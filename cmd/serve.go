package cmd

import (
	"github.com/spf13/cobra"

	"integrate/internal/app"
)

func newServeCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the OAuth routes for clients without a client secret",
		Long: `Serve POST /authorize, POST /callback, GET /status and POST /disconnect
under serve.basePath (default /api/v1/oauth).

Client secrets are read from config.yaml or <PROVIDER>_CLIENT_SECRET and
never leave this process. Requests must carry the configured apiKey in
X-API-KEY. Clients point oauthApiBase at this server.

Provider tokens for /status are taken from the Authorization header or the
x-integrate-tokens header. With serve.allowEnvTokens, PROVIDER_TOKENS is
consulted as well; only enable it for single-user deployments.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := app.NewConfig(rootFlags.Debug, rootFlags.Quiet, rootFlags.ConfigPath, rootFlags.ServerURL)
			cfg.ServeAddr = addr
			cfg.Getenv = getenv
			a, err := app.NewApplication(cfg)
			if err != nil {
				return err
			}
			defer a.Close()
			return a.Serve(cmd.Context())
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (overrides serve.addr, env: INTEGRATE_SERVE_ADDR)")
	return cmd
}
