package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testCommand() *cobra.Command {
	cmd := &cobra.Command{Use: "test"}
	cmd.PersistentFlags().String("log-level", LogLevelInfo, "")
	cmd.PersistentFlags().String("log-format", LogFormatText, "")
	cmd.PersistentFlags().Duration("cooldown", 100*time.Millisecond, "")

	return cmd
}

// ---------------------------------------------------------------------------
// Defaults and validation
// ---------------------------------------------------------------------------

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, LogLevelInfo, cfg.LogLevel)
	assert.Equal(t, LogFormatText, cfg.LogFormat)
	assert.Equal(t, []string{"."}, cfg.Roots)
	assert.Equal(t, 100*time.Millisecond, cfg.Cooldown)
	assert.Equal(t, filepath.Join(".rewatch", "claims"), cfg.ClaimsDir)
	assert.Equal(t, filepath.Join(".rewatch", "journal.db"), cfg.JournalPath)
	assert.NoError(t, cfg.Validate())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "valid defaults", mutate: func(*Config) {}},
		{
			name:    "bad log level",
			mutate:  func(c *Config) { c.LogLevel = "verbose" },
			wantErr: "invalid log level",
		},
		{
			name:    "bad log format",
			mutate:  func(c *Config) { c.LogFormat = "xml" },
			wantErr: "invalid log format",
		},
		{
			name:    "no roots",
			mutate:  func(c *Config) { c.Roots = nil },
			wantErr: "at least one watch root",
		},
		{
			name:    "zero cooldown",
			mutate:  func(c *Config) { c.Cooldown = 0 },
			wantErr: "cooldown must be positive",
		},
		{
			name:    "bad version constraint",
			mutate:  func(c *Config) { c.RequireVersion = "not-a-constraint" },
			wantErr: "invalid require-version",
		},
		{
			name:   "valid version constraint",
			mutate: func(c *Config) { c.RequireVersion = ">= 1.0.0" },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestEffectiveLogLevel(t *testing.T) {
	cfg := Default()
	cfg.LogLevel = LogLevelDebug
	assert.Equal(t, LogLevelDebug, cfg.EffectiveLogLevel())

	cfg.Quiet = true
	assert.Equal(t, LogLevelError, cfg.EffectiveLogLevel())
}

// ---------------------------------------------------------------------------
// Load
// ---------------------------------------------------------------------------

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(testCommand(), "")
	require.NoError(t, err)

	assert.Equal(t, LogLevelInfo, cfg.LogLevel)
	assert.Equal(t, 100*time.Millisecond, cfg.Cooldown)
	assert.Equal(t, []string{"."}, cfg.Roots)
}

func TestLoad_FlagOverridesDefault(t *testing.T) {
	cmd := testCommand()
	require.NoError(t, cmd.PersistentFlags().Set("log-level", "debug"))
	require.NoError(t, cmd.PersistentFlags().Set("cooldown", "250ms"))

	cfg, err := Load(cmd, "")
	require.NoError(t, err)

	assert.Equal(t, LogLevelDebug, cfg.LogLevel)
	assert.Equal(t, 250*time.Millisecond, cfg.Cooldown)
}

func TestLoad_ConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rewatch.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
log-level: warn
cooldown: 500ms
roots:
  - src
  - lib
claims-dir: /var/run/claims
`), 0o600))

	cfg, err := Load(testCommand(), path)
	require.NoError(t, err)

	assert.Equal(t, LogLevelWarn, cfg.LogLevel)
	assert.Equal(t, 500*time.Millisecond, cfg.Cooldown)
	assert.Equal(t, []string{"src", "lib"}, cfg.Roots)
	assert.Equal(t, "/var/run/claims", cfg.ClaimsDir)
	assert.Equal(t, path, cfg.ConfigFile)
}

func TestLoad_MissingExplicitConfigFileFails(t *testing.T) {
	_, err := Load(testCommand(), filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reading config file")
}

func TestLoad_InvalidValuesRejected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rewatch.yaml")
	require.NoError(t, os.WriteFile(path, []byte("log-level: chatty\n"), 0o600))

	_, err := Load(testCommand(), path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid log level")
}

func TestLoad_EnvironmentVariable(t *testing.T) {
	t.Setenv("REWATCH_LOG_FORMAT", "json")

	cfg, err := Load(testCommand(), "")
	require.NoError(t, err)

	assert.Equal(t, LogFormatJSON, cfg.LogFormat)
}

// ---------------------------------------------------------------------------
// Context helpers
// ---------------------------------------------------------------------------

func TestContextRoundTrip(t *testing.T) {
	cfg := Default()
	cfg.LogLevel = LogLevelDebug

	ctx := NewContext(context.Background(), cfg)
	assert.Same(t, cfg, FromContext(ctx))
}

func TestFromContext_FallsBackToDefault(t *testing.T) {
	cfg := FromContext(context.Background())
	require.NotNil(t, cfg)
	assert.Equal(t, LogLevelInfo, cfg.LogLevel)
}

func TestConfigFileContext(t *testing.T) {
	ctx := NewContextWithConfigFile(context.Background(), "/tmp/cfg.yaml")
	assert.Equal(t, "/tmp/cfg.yaml", ConfigFileFromContext(ctx))
	assert.Empty(t, ConfigFileFromContext(context.Background()))
}
