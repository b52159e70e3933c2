// Package cli holds the presentation layer of the integrate command line.
//
// It turns library errors into messages that tell the user what to run next
// (Translate), suggests provider names for typos, and renders auth states,
// tool catalogues and tool results as tables, JSON or YAML. Long running
// operations such as a browser authorization are wrapped in a spinner.
package cli
