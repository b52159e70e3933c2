package cli

import (
	"io"
	"os"
	"time"

	"github.com/briandowns/spinner"
	"github.com/jedib0t/go-pretty/v6/text"
)

// WithSpinner runs fn while a spinner with the given message is shown on
// stderr. Quiet runs fn without any progress output.
func WithSpinner(quiet bool, message string, fn func() error) error {
	if quiet {
		return fn()
	}

	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriter(os.Stderr))
	s.Suffix = " " + message
	s.Start()

	err := fn()
	if err != nil {
		s.FinalMSG = text.FgRed.Sprint("✗ "+message) + "\n"
	}
	s.Stop()
	return err
}

// Success prints a green confirmation line.
func Success(w io.Writer, msg string) {
	_, _ = io.WriteString(w, text.FgGreen.Sprint("✓ ")+msg+"\n")
}

// Warn prints a yellow warning line.
func Warn(w io.Writer, msg string) {
	_, _ = io.WriteString(w, text.FgYellow.Sprint("⚠ ")+msg+"\n")
}
