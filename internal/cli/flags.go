package cli

import (
	"github.com/spf13/cobra"

	"integrate/internal/config"
)

// CommandFlags holds the flag values shared by every integrate command.
type CommandFlags struct {
	// OutputFormat is table, json or yaml.
	OutputFormat string
	NoHeaders    bool
	// Quiet suppresses spinners and confirmations.
	Quiet bool
	// Debug lowers the log level to debug.
	Debug bool
	// ConfigPath is the directory holding config.yaml and the file token store.
	ConfigPath string
	// ServerURL overrides serverUrl from config.yaml.
	ServerURL string
}

// RegisterCommonFlags registers the shared flags as persistent flags on cmd.
func RegisterCommonFlags(cmd *cobra.Command, flags *CommandFlags) {
	defaultDir, err := config.DefaultDir()
	if err != nil {
		defaultDir = ".integrate"
	}
	pf := cmd.PersistentFlags()
	pf.StringVarP(&flags.OutputFormat, "output", "o", string(OutputFormatTable), "Output format (table, json, yaml)")
	pf.BoolVar(&flags.NoHeaders, "no-headers", false, "Suppress header row in table output")
	pf.BoolVarP(&flags.Quiet, "quiet", "q", false, "Suppress non-essential output")
	pf.BoolVar(&flags.Debug, "debug", false, "Enable debug logging")
	pf.StringVar(&flags.ConfigPath, "config-path", defaultDir, "Configuration directory")
	pf.StringVar(&flags.ServerURL, "server", "", "Tool server URL (overrides serverUrl, env: INTEGRATE_SERVER_URL)")
}

// Printer builds a Printer for the parsed flags.
func (f *CommandFlags) Printer(cmd *cobra.Command) (*Printer, error) {
	format, err := ParseOutputFormat(f.OutputFormat)
	if err != nil {
		return nil, err
	}
	return &Printer{Out: cmd.OutOrStdout(), Format: format, NoHeaders: f.NoHeaders}, nil
}
