// Package client is the facade applications use: it combines an
// oauth.Manager, a transport and an event bus behind one Client.
//
//	c, err := client.New(client.Options{
//		ServerURL: "https://tools.example.com/api/v1/mcp",
//		APIKey:    os.Getenv("INTEGRATE_API_KEY"),
//		Manager:   manager,
//		ReauthHandler: func(ctx context.Context, rc oauth.ReauthContext) (bool, error) {
//			_, err := manager.Authorize(ctx, rc.Provider)
//			return err == nil, err
//		},
//	})
//	res, err := c.Provider("github").CallTool(ctx, "github_list_repos", nil)
//
// A tool call that fails with an *oauth.AuthenticationError (including
// *oauth.TokenExpiredError) is handed to the ReauthHandler and retried at
// most MaxReauthRetries times. Every other error is returned as is.
package client
