package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/mark3labs/mcp-go/mcp"
	"gopkg.in/yaml.v3"

	"integrate/pkg/oauth"
)

// OutputFormat selects how command results are printed.
type OutputFormat string

const (
	OutputFormatTable OutputFormat = "table"
	OutputFormatJSON  OutputFormat = "json"
	OutputFormatYAML  OutputFormat = "yaml"
)

// DescriptionMaxLen bounds tool descriptions in table output.
const DescriptionMaxLen = 60

// ParseOutputFormat validates a --output value.
func ParseOutputFormat(s string) (OutputFormat, error) {
	switch f := OutputFormat(strings.ToLower(s)); f {
	case OutputFormatTable, OutputFormatJSON, OutputFormatYAML:
		return f, nil
	case "":
		return OutputFormatTable, nil
	default:
		return "", fmt.Errorf("unsupported output format %q (use table, json or yaml)", s)
	}
}

// Printer renders results in the selected format.
type Printer struct {
	Out       io.Writer
	Format    OutputFormat
	NoHeaders bool
	// Now is used for relative expiry times; time.Now when nil.
	Now func() time.Time
}

func (p *Printer) now() time.Time {
	if p.Now != nil {
		return p.Now()
	}
	return time.Now()
}

// Structured writes v as JSON or YAML. It reports false for table output.
func (p *Printer) Structured(v any) (bool, error) {
	switch p.Format {
	case OutputFormatJSON:
		enc := json.NewEncoder(p.Out)
		enc.SetIndent("", "  ")
		return true, enc.Encode(v)
	case OutputFormatYAML:
		// Round-trip through JSON so the json tags name the fields.
		raw, err := json.Marshal(v)
		if err != nil {
			return true, err
		}
		var generic any
		if err := json.Unmarshal(raw, &generic); err != nil {
			return true, err
		}
		enc := yaml.NewEncoder(p.Out)
		enc.SetIndent(2)
		defer enc.Close()
		return true, enc.Encode(generic)
	default:
		return false, nil
	}
}

func (p *Printer) newTable(header table.Row) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(p.Out)
	t.SetStyle(table.StyleRounded)
	t.Style().Options.SeparateRows = false
	if !p.NoHeaders {
		t.AppendHeader(header)
	}
	return t
}

// AuthStates prints the authentication status of providers.
func (p *Printer) AuthStates(states []oauth.AuthState) error {
	if ok, err := p.Structured(states); ok {
		return err
	}
	if len(states) == 0 {
		fmt.Fprintln(p.Out, "No providers configured.")
		return nil
	}

	t := p.newTable(table.Row{
		text.Bold.Sprint("PROVIDER"),
		text.Bold.Sprint("STATUS"),
		text.Bold.Sprint("EXPIRES"),
	})
	for _, s := range states {
		t.AppendRow(table.Row{s.Provider, statusCell(s), p.expiryCell(s)})
	}
	t.Render()
	return nil
}

func statusCell(s oauth.AuthState) string {
	if s.Authenticated {
		return text.FgGreen.Sprint("authorized")
	}
	return text.FgYellow.Sprint("not authorized")
}

func (p *Printer) expiryCell(s oauth.AuthState) string {
	if !s.Authenticated {
		return "-"
	}
	if s.ExpiresAt.IsZero() {
		return "never"
	}
	remaining := s.ExpiresAt.Sub(p.now())
	if remaining <= 0 {
		return text.FgRed.Sprint("expired")
	}
	return "in " + remaining.Round(time.Minute).String()
}

// Tools prints the server's tool catalogue.
func (p *Printer) Tools(tools []mcp.Tool) error {
	if ok, err := p.Structured(tools); ok {
		return err
	}
	if len(tools) == 0 {
		fmt.Fprintln(p.Out, "No tools available.")
		return nil
	}

	t := p.newTable(table.Row{text.Bold.Sprint("NAME"), text.Bold.Sprint("DESCRIPTION")})
	for _, tool := range tools {
		t.AppendRow(table.Row{text.FgCyan.Sprint(tool.Name), TruncateDescription(tool.Description, DescriptionMaxLen)})
	}
	t.Render()
	if !p.NoHeaders {
		fmt.Fprintf(p.Out, "%d tools\n", len(tools))
	}
	return nil
}

// ToolResult prints the content of a tool call. Text content is printed
// verbatim; JSON text is pretty printed in the structured formats.
func (p *Printer) ToolResult(result *mcp.CallToolResult) error {
	if result == nil {
		return nil
	}
	if p.Format != OutputFormatTable {
		var texts []any
		for _, c := range result.Content {
			tc, ok := mcp.AsTextContent(c)
			if !ok {
				continue
			}
			var decoded any
			if json.Unmarshal([]byte(tc.Text), &decoded) == nil {
				texts = append(texts, decoded)
			} else {
				texts = append(texts, tc.Text)
			}
		}
		var out any = texts
		if len(texts) == 1 {
			out = texts[0]
		}
		_, err := p.Structured(out)
		return err
	}

	for _, c := range result.Content {
		if tc, ok := mcp.AsTextContent(c); ok {
			fmt.Fprintln(p.Out, tc.Text)
			continue
		}
		if img, ok := mcp.AsImageContent(c); ok {
			fmt.Fprintf(p.Out, "[image %s, %d bytes base64]\n", img.MIMEType, len(img.Data))
			continue
		}
		fmt.Fprintf(p.Out, "[%T]\n", c)
	}
	return nil
}

// TruncateDescription collapses whitespace and cuts s to maxLen runes,
// ending in "..." when shortened. maxLen below 4 is raised to 4.
func TruncateDescription(s string, maxLen int) string {
	if maxLen < 4 {
		maxLen = 4
	}
	s = strings.Join(strings.Fields(s), " ")
	runes := []rune(s)
	if len(runes) > maxLen {
		return string(runes[:maxLen-3]) + "..."
	}
	return s
}
