package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"

	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"integrate/internal/app"
	"integrate/internal/cli"
	"integrate/pkg/client"
)

func newToolsCmd() *cobra.Command {
	toolsCmd := &cobra.Command{
		Use:   "tools",
		Short: "List and call remote tools",
		Long: `List and call the tools offered by the configured tool server.

Calls carry the access token of the provider the tool belongs to. The
provider is taken from --provider, or from the tool name prefix
(github_list_repos belongs to github).

Examples:
  integrate tools list
  integrate tools call github_list_repos --arg visibility=public
  integrate tools call gmail_send --json '{"to":"a@example.com","subject":"hi"}'
  integrate tools batch -f calls.yaml --concurrency 4`,
	}
	toolsCmd.AddCommand(newToolsListCmd(), newToolsCallCmd(), newToolsBatchCmd())
	return toolsCmd
}

func withClient(fn func(a *app.Application, c *client.Client) error) error {
	return withApplication(func(a *app.Application) error {
		c, err := a.Services().Client()
		if err != nil {
			return err
		}
		return fn(a, c)
	})
}

func newToolsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the tools the server offers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(func(a *app.Application, c *client.Client) error {
				printer, err := rootFlags.Printer(cmd)
				if err != nil {
					return err
				}
				if err := c.Connect(cmd.Context()); err != nil {
					return cli.ClassifyConnectionError(err, a.Settings().ServerURL)
				}
				tools, err := c.ListTools(cmd.Context())
				if err != nil {
					return err
				}
				return printer.Tools(tools)
			})
		},
	}
}

func newToolsCallCmd() *cobra.Command {
	var (
		provider string
		noAuth   bool
		kvArgs   []string
		jsonArgs string
	)
	cmd := &cobra.Command{
		Use:   "call <tool>",
		Short: "Call a tool",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			toolArgs, err := parseToolArgs(kvArgs, jsonArgs)
			if err != nil {
				return err
			}
			tool := args[0]
			return withClient(func(a *app.Application, c *client.Client) error {
				printer, err := rootFlags.Printer(cmd)
				if err != nil {
					return err
				}
				p := provider
				if p == "" && !noAuth {
					p = inferProvider(tool, a.Services().Manager.Providers())
				}
				if p != "" {
					if err := requireProvider(a, p); err != nil {
						return err
					}
				}

				if err := c.Connect(cmd.Context()); err != nil {
					return cli.ClassifyConnectionError(err, a.Settings().ServerURL)
				}
				var result *mcp.CallToolResult
				quiet := rootFlags.Quiet || printer.Format != cli.OutputFormatTable
				err = cli.WithSpinner(quiet, "Calling "+tool+"...", func() error {
					var err error
					result, err = c.CallTool(cmd.Context(), p, tool, toolArgs)
					return err
				})
				if err != nil {
					return err
				}
				return printer.ToolResult(result)
			})
		},
	}
	cmd.Flags().StringVarP(&provider, "provider", "p", "", "Provider whose token is attached (default: tool name prefix)")
	cmd.Flags().BoolVar(&noAuth, "no-auth", false, "Call without provider credentials")
	cmd.Flags().StringArrayVarP(&kvArgs, "arg", "a", nil, "Tool argument as key=value; values are parsed as JSON when possible")
	cmd.Flags().StringVar(&jsonArgs, "json", "", "Tool arguments as a JSON object")
	return cmd
}

// batchCall is one entry of a batch file.
type batchCall struct {
	Provider  string         `yaml:"provider"`
	Tool      string         `yaml:"tool"`
	Arguments map[string]any `yaml:"arguments"`
}

func newToolsBatchCmd() *cobra.Command {
	var (
		file        string
		concurrency int
	)
	cmd := &cobra.Command{
		Use:   "batch",
		Short: "Call several tools concurrently",
		Long: `Call the tools listed in a YAML or JSON file, at most --concurrency at a
time. Each entry has a tool, an optional provider and optional arguments:

  - tool: github_list_repos
    arguments: {visibility: public}
  - tool: slack_post_message
    provider: slack
    arguments: {channel: general, text: done}

A failed call does not stop the others; the command fails if any call did.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			calls, err := readBatchFile(cmd, file)
			if err != nil {
				return err
			}
			return withClient(func(a *app.Application, c *client.Client) error {
				printer, err := rootFlags.Printer(cmd)
				if err != nil {
					return err
				}
				providers := a.Services().Manager.Providers()
				toolCalls := make([]client.ToolCall, len(calls))
				for i, call := range calls {
					if call.Tool == "" {
						return fmt.Errorf("entry %d has no tool", i+1)
					}
					p := call.Provider
					if p == "" {
						p = inferProvider(call.Tool, providers)
					}
					toolCalls[i] = client.ToolCall{Provider: p, Tool: call.Tool, Arguments: call.Arguments}
				}

				if err := c.Connect(cmd.Context()); err != nil {
					return cli.ClassifyConnectionError(err, a.Settings().ServerURL)
				}
				results := c.CallTools(cmd.Context(), concurrency, toolCalls)

				var failed int
				out := cmd.OutOrStdout()
				for i, r := range results {
					if printer.Format == cli.OutputFormatTable {
						fmt.Fprintln(out, text.Bold.Sprintf("# %s", toolCalls[i].Tool))
					}
					if r.Err != nil {
						failed++
						fmt.Fprintln(cmd.ErrOrStderr(), text.FgRed.Sprintf("%s failed: %v", toolCalls[i].Tool, cli.Translate(r.Err)))
						continue
					}
					if err := printer.ToolResult(r.Value); err != nil {
						return err
					}
				}
				if failed > 0 {
					return fmt.Errorf("%d of %d calls failed", failed, len(results))
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "-", "Batch file, - for stdin")
	cmd.Flags().IntVar(&concurrency, "concurrency", 4, "Maximum calls in flight")
	return cmd
}

func readBatchFile(cmd *cobra.Command, file string) ([]batchCall, error) {
	var r io.Reader = cmd.InOrStdin()
	if file != "-" {
		f, err := os.Open(file)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		r = f
	}
	var calls []batchCall
	if err := yaml.NewDecoder(r).Decode(&calls); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("batch file is empty")
		}
		return nil, fmt.Errorf("failed to parse batch file: %w", err)
	}
	if len(calls) == 0 {
		return nil, errors.New("batch file is empty")
	}
	return calls, nil
}

// parseToolArgs merges a JSON object with key=value pairs; pairs win.
func parseToolArgs(pairs []string, rawJSON string) (map[string]any, error) {
	args := make(map[string]any)
	if rawJSON != "" {
		if err := json.Unmarshal([]byte(rawJSON), &args); err != nil {
			return nil, fmt.Errorf("--json must be a JSON object: %w", err)
		}
	}
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid --arg %q, expected key=value", pair)
		}
		var decoded any
		if err := json.Unmarshal([]byte(value), &decoded); err == nil {
			args[key] = decoded
		} else {
			args[key] = value
		}
	}
	if len(args) == 0 {
		return nil, nil
	}
	return args, nil
}

// inferProvider returns the configured provider named by the tool prefix
// before the first underscore.
func inferProvider(tool string, providers []string) string {
	prefix, _, ok := strings.Cut(tool, "_")
	if !ok {
		return ""
	}
	prefix = strings.ToLower(prefix)
	if slices.Contains(providers, prefix) {
		return prefix
	}
	return ""
}
