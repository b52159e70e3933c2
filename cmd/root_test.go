package cmd

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"integrate/internal/cli"
	"integrate/pkg/oauth"
)

// execute runs the root command with args and returns stdout and stderr.
func execute(t *testing.T, stdin string, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return stdout.String(), stderr.String(), err
}

// withConfigDir writes config.yaml and points getenv at env.
func withConfigDir(t *testing.T, yaml string, env map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o600))

	prev := getenv
	getenv = func(k string) string { return env[k] }
	t.Cleanup(func() { getenv = prev })
	return dir
}

func TestRootCommand(t *testing.T) {
	assert.Equal(t, "integrate", rootCmd.Use)
	assert.NotEmpty(t, rootCmd.Short)
	assert.True(t, rootCmd.SilenceUsage)
	assert.Equal(t, rootCmd.Version, newRootCmd().Version)

	for _, name := range []string{"auth", "tools", "serve", "version"} {
		sub, _, err := rootCmd.Find([]string{name})
		require.NoError(t, err)
		assert.Equal(t, name, sub.Name())
	}
}

func TestSetVersion(t *testing.T) {
	prev := GetVersion()
	t.Cleanup(func() { SetVersion(prev) })

	SetVersion("1.2.3-test")
	assert.Equal(t, "1.2.3-test", GetVersion())

	out, _, err := execute(t, "", "version")
	require.NoError(t, err)
	assert.Equal(t, "integrate version 1.2.3-test\n", out)
}

func TestGetExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, ExitCodeSuccess},
		{"generic", errors.New("boom"), ExitCodeError},
		{"auth required", &cli.AuthRequiredError{Provider: "github"}, ExitCodeAuthRequired},
		{"auth expired wrapped", fmt.Errorf("x: %w", &cli.AuthExpiredError{Provider: "gmail"}), ExitCodeAuthRequired},
		{"auth failed", &cli.AuthFailedError{Provider: "slack", Reason: oauth.ErrAuthorizationCancelled}, ExitCodeAuthFailed},
		{"translated library error", cli.Translate(&oauth.AuthenticationError{Provider: "github"}), ExitCodeAuthRequired},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, getExitCode(tt.err))
		})
	}
}
