package main

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func parse(t *testing.T, args ...string) (*Config, error) {
	t.Helper()
	cfg := &Config{}
	var ran bool
	cmd := newCmd(cfg, func(context.Context, *Config) error {
		ran = true
		return nil
	})
	cmd.SetArgs(args)
	err := cmd.Execute()
	if err == nil {
		require.True(t, ran)
	}
	return cfg, err
}

func TestDefaults(t *testing.T) {
	cfg, err := parse(t)
	require.NoError(t, err)

	opts := cfg.gameOptions()
	assert.Equal(t, 30*time.Second, opts.RoundDuration)
	assert.Equal(t, 30, opts.WinScore)
	assert.Equal(t, 10*time.Second, opts.AckTimeout)
	assert.Equal(t, 10*time.Second, opts.VoteGrace)
	assert.Equal(t, 8080, cfg.port)
	assert.Empty(t, cfg.databaseURL)
}

func TestEnvironmentOverrides(t *testing.T) {
	t.Setenv("WHOSETRACK_PORT", "9090")
	t.Setenv("WHOSETRACK_ROUND_DURATION", "0s")
	t.Setenv("WHOSETRACK_DATABASE_URL", "postgres://localhost/whosetrack")

	cfg, err := parse(t, "--win-score", "50")
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.port)
	assert.Zero(t, cfg.roundDuration)
	assert.Equal(t, "postgres://localhost/whosetrack", cfg.databaseURL)
	assert.Equal(t, 50, cfg.winScore)
}

func TestFlagBeatsEnvironment(t *testing.T) {
	t.Setenv("WHOSETRACK_PORT", "9090")

	cfg, err := parse(t, "--port", "7000")
	require.NoError(t, err)
	assert.Equal(t, 7000, cfg.port)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{name: "port out of range", args: []string{"--port", "70000"}},
		{name: "negative grace", args: []string{"--vote-grace", "-1s"}},
		{name: "negative win score", args: []string{"--win-score", "-3"}},
		{name: "single player", args: []string{"--max-players", "1"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parse(t, tt.args...)
			assert.Error(t, err)
		})
	}
}
