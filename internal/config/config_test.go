package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/1ureka/duet/internal/media"
	"github.com/1ureka/duet/internal/negotiator"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "duet.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("DUET_CONFIG", "")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.NotEmpty(t, cfg.Participant)
	assert.Equal(t, GlarePolite, cfg.Glare)
	assert.Equal(t, negotiator.DefaultNegotiationTimeout, cfg.NegotiationTimeout)
	assert.Equal(t, 10*time.Second, cfg.StatsInterval)
	assert.Nil(t, cfg.Catalog())
}

func TestLoadFileThenEnv(t *testing.T) {
	path := writeFile(t, `
participant: alice
session: standup
signaling_url: ws://localhost:8080/ws
glare: tiebreak
negotiation_timeout: 5s
ice:
  turn_url: https://turn.example.com/credentials
transport:
  loopback: true
  port_min: 50000
  port_max: 50100
devices:
  - id: cam-a
    label: Front
    kind: videoinput
  - id: mic-a
    kind: audioinput
`)
	t.Setenv("DUET_SESSION", "retro")
	t.Setenv("DUET_TURN_TOKEN", "secret")
	t.Setenv("DUET_DEBUG", "true")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "alice", cfg.Participant)
	assert.Equal(t, "retro", cfg.Session)
	assert.Equal(t, "ws://localhost:8080/ws", cfg.SignalingURL)
	assert.Equal(t, negotiator.GlareTieBreak, cfg.GlarePolicy())
	assert.Equal(t, 5*time.Second, cfg.NegotiationTimeout)
	assert.Equal(t, "https://turn.example.com/credentials", cfg.ICE.TURNURL)
	assert.Equal(t, "secret", cfg.ICE.TURNToken)
	assert.True(t, cfg.Transport.Loopback)
	assert.Equal(t, uint16(50000), cfg.Transport.PortMin)
	assert.True(t, cfg.Debug)

	assert.Equal(t, []media.DeviceInfo{
		{ID: "cam-a", Label: "Front", Kind: media.VideoInput},
		{ID: "mic-a", Label: "mic-a", Kind: media.AudioInput},
	}, cfg.Catalog())
}

func TestLoadPathFromEnv(t *testing.T) {
	t.Setenv("DUET_CONFIG", writeFile(t, "session: from-env-file\n"))

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "from-env-file", cfg.Session)
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "read config")

	_, err = Load(writeFile(t, "session: [unterminated"))
	assert.ErrorContains(t, err, "parse config")

	t.Setenv("DUET_CONFIG", "")
	t.Setenv("DUET_NEGOTIATION_TIMEOUT", "soon")
	_, err = Load("")
	assert.ErrorContains(t, err, "DUET_NEGOTIATION_TIMEOUT")
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg := Default()
		cfg.Participant = "alice"
		cfg.Session = "s1"
		return cfg
	}
	require.NoError(t, valid().Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"no participant", func(c *Config) { c.Participant = "" }, "participant"},
		{"no session", func(c *Config) { c.Session = "" }, "session"},
		{"bad url", func(c *Config) { c.SignalingURL = "ftp://relay" }, "scheme"},
		{"bad glare", func(c *Config) { c.Glare = "rude" }, "glare"},
		{"inverted ports", func(c *Config) { c.Transport.PortMin, c.Transport.PortMax = 10, 5 }, "inverted"},
		{"bad device", func(c *Config) { c.Devices = []Device{{ID: "x", Kind: "speaker"}} }, "unknown kind"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			assert.ErrorContains(t, cfg.Validate(), tt.want)
		})
	}
}

func TestNormalizeURL(t *testing.T) {
	tests := map[string]string{
		"relay.example.com":          "wss://relay.example.com/ws",
		"http://localhost:8080":      "ws://localhost:8080/ws",
		"https://relay.example.com/": "wss://relay.example.com/ws",
		"ws://localhost:8080/signal": "ws://localhost:8080/signal",
		"wss://relay/ws?peer=x":      "wss://relay/ws",
	}
	for in, want := range tests {
		got, err := NormalizeURL(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := NormalizeURL("ftp://relay")
	assert.Error(t, err)
	_, err = NormalizeURL("ws://")
	assert.Error(t, err)
}
