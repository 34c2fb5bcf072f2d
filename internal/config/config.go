package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Duration is a time.Duration written as a string ("5s") in TOML.
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", text, err)
	}
	*d = Duration(v)
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Vendor kinds.
const (
	VendorREST     = "rest"
	VendorEmbedded = "embedded"
)

// Stream transports.
const (
	TransportSSE = "sse"
	TransportWS  = "ws"
)

// Config represents ~/.wppgw/config.toml.
type Config struct {
	DefaultSession string  `toml:"default_session"`
	Gateway        Gateway `toml:"gateway"`
	Vendor         Vendor  `toml:"vendor"`
	Client         Client  `toml:"client"`
}

// Gateway configures the HTTP façade.
type Gateway struct {
	Listen              string   `toml:"listen"`
	AllowedOrigins      []string `toml:"allowed_origins"`
	HealthSocket        string   `toml:"health_socket"`
	MessageLimitCap     int      `toml:"message_limit_cap"`
	DefaultMessageLimit int      `toml:"default_message_limit"`
	SSEHeartbeat        Duration `toml:"sse_heartbeat"`
}

// Vendor configures the upstream messaging provider.
type Vendor struct {
	Kind     string   `toml:"kind"`
	BaseURL  string   `toml:"base_url"`
	APIKey   string   `toml:"api_key"`
	Instance string   `toml:"instance"`
	Timeout  Duration `toml:"timeout"`
	DataDir  string   `toml:"data_dir"`
	// WebhookURL is where the rest vendor posts events. Empty derives it
	// from gateway.listen; "off" skips registration.
	WebhookURL string `toml:"webhook_url"`
}

// Client configures the sync engine side.
type Client struct {
	GatewayURL          string   `toml:"gateway_url"`
	Transport           string   `toml:"transport"`
	StatusPollInterval  Duration `toml:"status_poll_interval"`
	MessagePollInterval Duration `toml:"message_poll_interval"`
	ReconnectDelay      Duration `toml:"reconnect_delay"`
	RequestTimeout      Duration `toml:"request_timeout"`
	DedupeWindow        Duration `toml:"dedupe_window"`
}

// Default returns a config with every value set.
func Default() *Config {
	return &Config{
		DefaultSession: "main",
		Gateway: Gateway{
			Listen:              "127.0.0.1:8080",
			AllowedOrigins:      []string{"http://localhost:3000"},
			MessageLimitCap:     200,
			DefaultMessageLimit: 50,
			SSEHeartbeat:        Duration(15 * time.Second),
		},
		Vendor: Vendor{
			Kind:     VendorREST,
			BaseURL:  "http://localhost:8081",
			Instance: "main",
			Timeout:  Duration(15 * time.Second),
		},
		Client: Client{
			GatewayURL:          "http://127.0.0.1:8080",
			Transport:           TransportSSE,
			StatusPollInterval:  Duration(5 * time.Second),
			MessagePollInterval: Duration(3 * time.Second),
			RequestTimeout:      Duration(10 * time.Second),
			DedupeWindow:        Duration(60 * time.Second),
		},
	}
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	switch c.Vendor.Kind {
	case VendorREST:
		if c.Vendor.BaseURL == "" {
			return errors.New("vendor.base_url is required for the rest provider")
		}
	case VendorEmbedded:
	default:
		return fmt.Errorf("vendor.kind %q: want %q or %q", c.Vendor.Kind, VendorREST, VendorEmbedded)
	}
	switch c.Client.Transport {
	case TransportSSE, TransportWS:
	default:
		return fmt.Errorf("client.transport %q: want %q or %q", c.Client.Transport, TransportSSE, TransportWS)
	}
	if c.Gateway.MessageLimitCap <= 0 {
		return errors.New("gateway.message_limit_cap must be positive")
	}
	return nil
}

// Load reads config from the given path on top of Default. Returns an error if the file is missing.
func Load(path string) (*Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadOrDefault is Load, except that a missing file yields Default.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Default(), nil
	}
	return cfg, err
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}
