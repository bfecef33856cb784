package testlibws

// Package testlibws is the public surface for embedding the test library.
// The implementation lives in internal/ and may change without notice.

import (
	"context"

	"testlib-ws/internal/config"
	"testlib-ws/internal/control"
	"testlib-ws/internal/logging"
	"testlib-ws/internal/metrics"
	"testlib-ws/internal/networking"
	"testlib-ws/internal/testlib"
	"testlib-ws/internal/testserver"
	"testlib-ws/internal/wsconn"
)

// --- Config ---

type Config = config.Config

// LoadConfig reads a YAML or TOML file and applies TESTLIB_* overrides.
func LoadConfig(path string) (*Config, error) { return config.Load(path) }

// LoadEnvFile loads a .env file into the process environment; a missing file is ignored.
func LoadEnvFile(path string) error { return config.LoadEnvFile(path) }

// --- Logging ---

type (
	Logger    = logging.Logger
	LogConfig = config.LogConfig
)

func NewLogger(cfg LogConfig) (Logger, error) {
	return logging.NewZapLogger(logging.LogLevel(cfg.Env), cfg.Level)
}

// --- Test library ---

type (
	Library          = testlib.Library
	CommandExecutor  = testlib.CommandExecutor
	ExecutorFunc     = testlib.ExecutorFunc
	JSONExecutorFunc = testlib.JSONExecutorFunc
	Option           = testlib.Option
)

func New(baseURL, controlURL string, executor CommandExecutor, opts ...Option) *Library {
	return testlib.New(baseURL, controlURL, executor, opts...)
}

// NewFromConfig builds a library with every knob taken from cfg and the
// configured tests already added.
func NewFromConfig(cfg *Config, executor CommandExecutor, logger Logger) *Library {
	if logger == nil {
		logger = logging.NewNoOpLogger()
	}
	lib := testlib.New(cfg.BaseURL, cfg.ControlURL, executor,
		testlib.WithLogger(logger),
		testlib.WithHTTPOptions(networking.Options{
			Timeout:            cfg.HTTP.Timeout,
			Retries:            cfg.HTTP.Retries,
			Backoff:            cfg.HTTP.Backoff,
			InsecureSkipVerify: cfg.HTTP.InsecureSkipVerify,
		}),
		testlib.WithControlOptions(ControlOptionsFromConfig(cfg.Control)),
	)
	for _, dir := range cfg.TestDirectories {
		lib.AddTestDirectory(dir)
	}
	for _, t := range cfg.Tests {
		lib.AddTest(t)
	}
	return lib
}

// --- Control websocket ---

type (
	ControlClient  = control.Client
	ControlOptions = control.Options
	SignalHandler  = control.SignalHandler
	Signal         = control.Signal
	SignalType     = control.SignalType
)

func NewControlClient(opts ControlOptions) *ControlClient { return control.NewClient(opts) }

func ControlOptionsFromConfig(c config.ControlConfig) ControlOptions {
	return control.Options{
		WS: wsconn.Options{
			Driver:             c.Driver,
			HandshakeTimeout:   c.HandshakeTimeout,
			InsecureSkipVerify: c.InsecureSkipVerify,
		},
		Reconnect:         c.Reconnect,
		KeepaliveInterval: c.KeepaliveInterval,
		WriteTimeout:      c.WriteTimeout,
		QueueSize:         c.QueueSize,
		ReconnectRate:     c.ReconnectRate,
		ReconnectBurst:    c.ReconnectBurst,
	}
}

// --- Mock server ---

type (
	MockServer = testserver.Server
	Script     = testserver.Script
)

func LoadScript(path string) (*Script, error) { return testserver.LoadScript(path) }

func NewMockServer(script *Script, logger Logger) *MockServer { return testserver.New(script, logger) }

// --- Metrics ---

// EnablePrometheusMetrics adds runtime collectors to the module registry.
func EnablePrometheusMetrics() { metrics.EnableRuntimeMetrics() }

// StartMetricsServer serves /metrics on addr until ctx is cancelled.
func StartMetricsServer(ctx context.Context, addr string) error {
	return metrics.StartMetricsServer(ctx, addr)
}
