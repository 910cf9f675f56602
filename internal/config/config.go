// Package config loads the participant configuration.
//
// Values are resolved in order: defaults, an optional YAML file (given by
// path or DUET_CONFIG), then DUET_* environment variables. A .env file in
// the working directory is loaded into the environment first. Command-line
// flags are applied on top by the caller.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/1ureka/duet/internal/media"
	"github.com/1ureka/duet/internal/negotiator"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "DUET_"

// Glare policy names accepted in configuration.
const (
	GlarePolite   = "polite"
	GlareTieBreak = "tiebreak"
)

// Config stores everything a participant needs to join a session.
type Config struct {
	// Participant is this side's id. A random one is generated when empty.
	Participant string `yaml:"participant"`
	Session     string `yaml:"session"`
	// SignalingURL is the relay's WebSocket endpoint, e.g. ws://host:8080/ws.
	SignalingURL string `yaml:"signaling_url"`

	ICE       ICEConfig       `yaml:"ice"`
	Transport TransportConfig `yaml:"transport"`

	// Glare is "polite" or "tiebreak".
	Glare              string        `yaml:"glare"`
	NegotiationTimeout time.Duration `yaml:"negotiation_timeout"`

	// Devices replaces the synthetic device catalog when set.
	Devices []Device `yaml:"devices"`

	StatsInterval time.Duration `yaml:"stats_interval"`
	Debug         bool          `yaml:"debug"`
}

// ICEConfig locates the TURN credential service.
type ICEConfig struct {
	TURNURL   string `yaml:"turn_url"`
	TURNToken string `yaml:"turn_token"`
}

// TransportConfig tunes the pion setting engine.
type TransportConfig struct {
	Loopback bool   `yaml:"loopback"`
	PortMin  uint16 `yaml:"port_min"`
	PortMax  uint16 `yaml:"port_max"`
}

// Device is one catalog entry.
type Device struct {
	ID    string `yaml:"id"`
	Label string `yaml:"label"`
	Kind  string `yaml:"kind"`
}

// Default returns the configuration used before any file or environment is
// applied.
func Default() *Config {
	return &Config{
		Glare:              GlarePolite,
		NegotiationTimeout: negotiator.DefaultNegotiationTimeout,
		StatsInterval:      10 * time.Second,
	}
}

// Load resolves the configuration. path may be empty.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := Default()

	if path == "" {
		path = os.Getenv(EnvPrefix + "CONFIG")
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	if cfg.Participant == "" {
		cfg.Participant = uuid.NewString()
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	str := func(name string, dst *string) {
		if v, ok := os.LookupEnv(EnvPrefix + name); ok {
			*dst = strings.TrimSpace(v)
		}
	}
	str("PARTICIPANT", &c.Participant)
	str("SESSION", &c.Session)
	str("SIGNALING_URL", &c.SignalingURL)
	str("TURN_URL", &c.ICE.TURNURL)
	str("TURN_TOKEN", &c.ICE.TURNToken)
	str("GLARE", &c.Glare)

	if v, ok := os.LookupEnv(EnvPrefix + "NEGOTIATION_TIMEOUT"); ok {
		d, err := time.ParseDuration(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("%sNEGOTIATION_TIMEOUT: %w", EnvPrefix, err)
		}
		c.NegotiationTimeout = d
	}
	if v, ok := os.LookupEnv(EnvPrefix + "DEBUG"); ok {
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("%sDEBUG: %w", EnvPrefix, err)
		}
		c.Debug = b
	}
	return nil
}

// Validate reports the first invalid field.
func (c *Config) Validate() error {
	if c.Participant == "" {
		return errors.New("participant is required")
	}
	if c.Session == "" {
		return errors.New("session is required")
	}
	if c.SignalingURL != "" {
		if _, err := NormalizeURL(c.SignalingURL); err != nil {
			return err
		}
	}
	if c.Glare != GlarePolite && c.Glare != GlareTieBreak {
		return fmt.Errorf("glare must be %q or %q, got %q", GlarePolite, GlareTieBreak, c.Glare)
	}
	if c.Transport.PortMin > c.Transport.PortMax {
		return fmt.Errorf("transport port range %d-%d is inverted", c.Transport.PortMin, c.Transport.PortMax)
	}
	for _, d := range c.Devices {
		if d.ID == "" {
			return errors.New("device id is required")
		}
		if d.Kind != string(media.VideoInput) && d.Kind != string(media.AudioInput) {
			return fmt.Errorf("device %s: unknown kind %q", d.ID, d.Kind)
		}
	}
	return nil
}

// GlarePolicy maps the configured name to a negotiator policy.
func (c *Config) GlarePolicy() negotiator.GlarePolicy {
	if c.Glare == GlareTieBreak {
		return negotiator.GlareTieBreak
	}
	return negotiator.GlarePolite
}

// Catalog returns the configured devices, or nil for the default catalog.
func (c *Config) Catalog() []media.DeviceInfo {
	if len(c.Devices) == 0 {
		return nil
	}
	out := make([]media.DeviceInfo, 0, len(c.Devices))
	for _, d := range c.Devices {
		label := d.Label
		if label == "" {
			label = d.ID
		}
		out = append(out, media.DeviceInfo{ID: d.ID, Label: label, Kind: media.DeviceKind(d.Kind)})
	}
	return out
}

// NormalizeURL turns a host, http(s) or ws(s) URL into a ws(s) URL ending
// in /ws. A bare host defaults to wss.
func NormalizeURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if !strings.Contains(raw, "://") {
		raw = "wss://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("invalid signaling URL: %s", raw)
	}

	switch u.Scheme {
	case "ws", "wss":
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("invalid signaling URL scheme: %s", u.Scheme)
	}
	if u.Path == "" || u.Path == "/" {
		u.Path = "/ws"
	}
	u.RawQuery = ""
	u.Fragment = ""
	return u.String(), nil
}
