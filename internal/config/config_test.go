package config

import (
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg := Default()
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, 54*time.Second, cfg.PingPeriod)
	assert.Equal(t, 5*time.Second, cfg.WriteWait)
	assert.Equal(t, 256, cfg.SendQueue)
	assert.Equal(t, "disconnect", cfg.Backpressure)
}

func TestLoadReadsEnvOverrides(t *testing.T) {
	t.Setenv("CONFIG_ENV", "missing")
	t.Setenv("HUDDLE_PORT", "9090")
	t.Setenv("HUDDLE_BACKPRESSURE", "drop")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, "drop", cfg.Backpressure)
}

func TestLoadRejectsEmptyQueue(t *testing.T) {
	t.Setenv("CONFIG_ENV", "missing")
	t.Setenv("HUDDLE_SEND_QUEUE", "0")

	_, err := Load()
	assert.Error(t, err)
}

func TestLoadClientBindsFlags(t *testing.T) {
	fs := pflag.NewFlagSet("huddlectl", pflag.ContinueOnError)
	ClientFlags(fs)
	require.NoError(t, fs.Parse([]string{"--room", "standup", "--signal-yield", "50ms", "--max-recoveries", "5"}))

	cfg, err := LoadClient(fs)
	require.NoError(t, err)
	assert.Equal(t, "standup", cfg.Room)
	assert.Equal(t, 50*time.Millisecond, cfg.SignalYield)
	assert.Equal(t, 5, cfg.MaxRecoveries)
	assert.Equal(t, 2*time.Second, cfg.RecoveryDelay)
	assert.Equal(t, "http://localhost:8080", cfg.Server)
	assert.Equal(t, []string{"stun:stun.l.google.com:19302"}, cfg.STUN)
}
