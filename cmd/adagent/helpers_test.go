package main

import (
	"bytes"
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/ad-agent-console/internal/config"
	"github.com/jonathan/ad-agent-console/internal/server"
)

// execute runs the root command in-process with fresh flag values and returns its output.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	clearEnv(t)
	resetFlags(rootCmd)

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	t.Cleanup(func() { rootCmd.SetArgs(nil) })

	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

func resetFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		if sv, ok := f.Value.(pflag.SliceValue); ok {
			_ = sv.Replace(nil)
		} else {
			_ = f.Value.Set(f.DefValue)
		}
		f.Changed = false
	}
	cmd.Flags().VisitAll(reset)
	cmd.PersistentFlags().VisitAll(reset)
	for _, c := range cmd.Commands() {
		resetFlags(c)
	}
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		config.EnvBackendURL, config.EnvAuthToken, config.EnvFetchTimeout,
		config.EnvLogMode, config.EnvVocabulary,
	} {
		t.Setenv(key, "")
	}
}

// newBackend starts a replay backend that paces lines with interval.
func newBackend(t *testing.T, interval time.Duration) (string, string) {
	t.Helper()
	uploadDir := t.TempDir()
	srv, err := server.New(server.Config{Interval: interval, UploadDir: uploadDir})
	require.NoError(t, err)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		srv.Close()
		ts.Close()
	})
	return ts.URL, uploadDir
}
