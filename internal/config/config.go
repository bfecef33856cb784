package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"testlib-ws/internal/backoff"
	"testlib-ws/internal/wsconn"
)

const envPrefix = "TESTLIB_"

var ErrInvalidConfig = errors.New("invalid config")

type Config struct {
	BaseURL         string   `yaml:"base_url" toml:"base_url"`
	ControlURL      string   `yaml:"control_url" toml:"control_url"`
	ClientSDK       string   `yaml:"client_sdk" toml:"client_sdk"`
	Tests           []string `yaml:"tests" toml:"tests"`
	TestDirectories []string `yaml:"test_directories" toml:"test_directories"`

	Control ControlConfig `yaml:"control" toml:"control"`
	HTTP    HTTPConfig    `yaml:"http" toml:"http"`
	Log     LogConfig     `yaml:"log" toml:"log"`
	Metrics MetricsConfig `yaml:"metrics" toml:"metrics"`
}

type ControlConfig struct {
	Driver             string        `yaml:"driver" toml:"driver"`
	HandshakeTimeout   time.Duration `yaml:"handshake_timeout" toml:"handshake_timeout"`
	WriteTimeout       time.Duration `yaml:"write_timeout" toml:"write_timeout"`
	KeepaliveInterval  time.Duration `yaml:"keepalive_interval" toml:"keepalive_interval"` // 0 disables pings
	QueueSize          int           `yaml:"queue_size" toml:"queue_size"`
	ReconnectRate      float64       `yaml:"reconnect_rate" toml:"reconnect_rate"` // manual reconnects per second
	ReconnectBurst     int           `yaml:"reconnect_burst" toml:"reconnect_burst"`
	InsecureSkipVerify bool          `yaml:"insecure_skip_verify" toml:"insecure_skip_verify"`

	Reconnect backoff.Policy `yaml:"reconnect" toml:"reconnect"`
}

type HTTPConfig struct {
	Timeout            time.Duration  `yaml:"timeout" toml:"timeout"`
	Retries            int            `yaml:"retries" toml:"retries"`
	InsecureSkipVerify bool           `yaml:"insecure_skip_verify" toml:"insecure_skip_verify"`
	Backoff            backoff.Policy `yaml:"backoff" toml:"backoff"`
}

type LogConfig struct {
	Env   string `yaml:"env" toml:"env"` // development | production
	Level string `yaml:"level" toml:"level"`
}

type MetricsConfig struct {
	Listen string `yaml:"listen" toml:"listen"` // empty disables /metrics
}

// Default returns a config with every default applied and no URLs.
func Default() *Config {
	c := &Config{}
	c.applyDefaults()
	return c
}

// Load reads a YAML or TOML file (by extension), applies TESTLIB_* environment
// overrides and defaults, and validates the result. An empty path skips the file.
func Load(path string) (*Config, error) {
	var c Config
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config load failed (%s): %w", path, err)
		}
		if err := decode(path, b, &c); err != nil {
			return nil, fmt.Errorf("config parse failed (%s): %w", path, err)
		}
	}
	c.applyEnv()
	c.applyDefaults()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// LoadEnvFile loads KEY=VALUE pairs into the process environment without
// overriding variables that are already set. A missing file is not an error.
func LoadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return godotenv.Load(path)
}

func decode(path string, b []byte, out *Config) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		_, err := toml.Decode(string(b), out)
		return err
	case ".yaml", ".yml", "":
		return yaml.Unmarshal(b, out)
	default:
		return fmt.Errorf("unsupported config extension %q", filepath.Ext(path))
	}
}

func (c *Config) applyEnv() {
	if v, ok := os.LookupEnv(envPrefix + "BASE_URL"); ok {
		c.BaseURL = v
	}
	if v, ok := os.LookupEnv(envPrefix + "CONTROL_URL"); ok {
		c.ControlURL = v
	}
	if v, ok := os.LookupEnv(envPrefix + "CLIENT_SDK"); ok {
		c.ClientSDK = v
	}
	if v, ok := os.LookupEnv(envPrefix + "TESTS"); ok {
		c.Tests = splitList(v)
	}
	if v, ok := os.LookupEnv(envPrefix + "LOG_LEVEL"); ok {
		c.Log.Level = v
	}
	if v, ok := os.LookupEnv(envPrefix + "METRICS_LISTEN"); ok {
		c.Metrics.Listen = v
	}
}

func (c *Config) applyDefaults() {
	if c.ClientSDK == "" {
		c.ClientSDK = "go-testlib"
	}
	if c.Control.Driver == "" {
		c.Control.Driver = wsconn.DriverNhooyr
	}
	if c.Control.HandshakeTimeout == 0 {
		c.Control.HandshakeTimeout = 10 * time.Second
	}
	if c.Control.WriteTimeout == 0 {
		c.Control.WriteTimeout = 5 * time.Second
	}
	if c.Control.QueueSize == 0 {
		c.Control.QueueSize = 64
	}
	if c.Control.ReconnectRate == 0 {
		c.Control.ReconnectRate = 1
	}
	if c.Control.ReconnectBurst == 0 {
		c.Control.ReconnectBurst = 2
	}
	c.Control.Reconnect = c.Control.Reconnect.WithDefaults()

	if c.HTTP.Timeout == 0 {
		c.HTTP.Timeout = 30 * time.Second
	}
	if c.HTTP.Retries == 0 {
		c.HTTP.Retries = 3
	}
	if c.HTTP.Backoff.MaxDelay == 0 {
		c.HTTP.Backoff.MaxDelay = 5 * time.Second
	}
	c.HTTP.Backoff = c.HTTP.Backoff.WithDefaults()

	if c.Log.Env == "" {
		c.Log.Env = "development"
	}
}

func (c *Config) Validate() error {
	if err := checkURL(c.BaseURL, "base_url", "http", "https"); err != nil {
		return err
	}
	if err := checkURL(c.ControlURL, "control_url", "ws", "wss"); err != nil {
		return err
	}
	if !slices.Contains(wsconn.Drivers(), c.Control.Driver) {
		return fmt.Errorf("%w: control.driver %q (want one of %s)",
			ErrInvalidConfig, c.Control.Driver, strings.Join(wsconn.Drivers(), ", "))
	}
	if c.Control.QueueSize < 0 {
		return fmt.Errorf("%w: control.queue_size must be >= 0", ErrInvalidConfig)
	}
	if c.HTTP.Retries < 0 {
		return fmt.Errorf("%w: http.retries must be >= 0", ErrInvalidConfig)
	}
	return nil
}

func checkURL(raw, field string, schemes ...string) error {
	if strings.TrimSpace(raw) == "" {
		return fmt.Errorf("%w: %s is required", ErrInvalidConfig, field)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidConfig, field, err)
	}
	if !slices.Contains(schemes, u.Scheme) || u.Host == "" {
		return fmt.Errorf("%w: %s %q must be %s://host", ErrInvalidConfig, field, raw, strings.Join(schemes, "|"))
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
