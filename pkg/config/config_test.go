package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	assert.NoError(t, cfg.Validate())
}

func TestLoadMissingFileFallsBackToDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.Server.Address)
	assert.Equal(t, 8*time.Second, cfg.WebRTC.DisconnectedGrace)
}

func TestLoadYAMLOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	data := `
server:
  address: ":9999"
signal:
  catch_up_delay: 2s
  max_room_size: 8
voice:
  gate_sensitivity: 75
  talk_hold: 400ms
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9999", cfg.Server.Address)
	assert.Equal(t, 2*time.Second, cfg.Signal.CatchUpDelay)
	assert.Equal(t, 8, cfg.Signal.MaxRoomSize)
	assert.Equal(t, 75, cfg.Voice.GateSensitivity)
	assert.Equal(t, 400*time.Millisecond, cfg.Voice.TalkHold)
	// Untouched sections keep defaults
	assert.Equal(t, 30*time.Millisecond, cfg.Voice.GateAttack)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("VOICEMESH_SERVER_ADDRESS", ":7070")
	t.Setenv("VOICEMESH_JWT_SECRET", "supersecret")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, ":7070", cfg.Server.Address)
	assert.Equal(t, "supersecret", cfg.Auth.JWTSecret)
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty server address", func(c *Config) { c.Server.Address = "" }},
		{"pong not greater than ping", func(c *Config) { c.Signal.PongTimeout = c.Signal.PingInterval }},
		{"room size of one", func(c *Config) { c.Signal.MaxRoomSize = 1 }},
		{"zero grace window", func(c *Config) { c.WebRTC.DisconnectedGrace = 0 }},
		{"release faster than attack", func(c *Config) { c.Voice.GateRelease = c.Voice.GateAttack / 2 }},
		{"sensitivity out of range", func(c *Config) { c.Voice.GateSensitivity = 101 }},
		{"zero talk hold", func(c *Config) { c.Voice.TalkHold = 0 }},
		{"empty jwt secret", func(c *Config) { c.Auth.JWTSecret = "" }},
		{"redis enabled without address", func(c *Config) {
			c.Redis.Enabled = true
			c.Redis.Address = ""
		}},
		{"rate limiting enabled without rps", func(c *Config) {
			c.RateLimiting.Enabled = true
			c.RateLimiting.HTTP.RequestsPerSecond = 0
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
