package config

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

// ConfigurationError is a failure to read or parse config.yaml.
type ConfigurationError struct {
	FilePath    string   `json:"filePath"`
	ErrorType   string   `json:"errorType"` // io, parse
	Message     string   `json:"message"`
	LineNumber  int      `json:"lineNumber,omitempty"`
	Suggestions []string `json:"suggestions,omitempty"`
}

// Error implements the error interface
func (ce *ConfigurationError) Error() string {
	name := filepath.Base(ce.FilePath)
	if ce.LineNumber > 0 {
		return fmt.Sprintf("%s:%d: %s", name, ce.LineNumber, ce.Message)
	}
	return fmt.Sprintf("%s: %s", name, ce.Message)
}

// DetailedError returns a multi-line message with all context.
func (ce *ConfigurationError) DetailedError() string {
	parts := []string{
		fmt.Sprintf("Configuration error in %s", ce.FilePath),
		fmt.Sprintf("  Type: %s", ce.ErrorType),
	}
	if ce.LineNumber > 0 {
		parts = append(parts, fmt.Sprintf("  Line: %d", ce.LineNumber))
	}
	parts = append(parts, fmt.Sprintf("  Error: %s", ce.Message))
	if len(ce.Suggestions) > 0 {
		parts = append(parts, "  Suggestions:")
		for _, s := range ce.Suggestions {
			parts = append(parts, "    - "+s)
		}
	}
	return strings.Join(parts, "\n")
}

var yamlLineRE = regexp.MustCompile(`line (\d+)`)

func newParseError(path string, err error) *ConfigurationError {
	ce := &ConfigurationError{FilePath: path, ErrorType: "parse", Message: err.Error()}
	if m := yamlLineRE.FindStringSubmatch(err.Error()); m != nil {
		ce.LineNumber, _ = strconv.Atoi(m[1])
	}
	ce.Suggestions = []string{
		"Check YAML indentation (spaces, not tabs)",
		"Durations are written like 30s or 10m",
	}
	return ce
}
