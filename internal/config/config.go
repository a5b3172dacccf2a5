// Package config handles loading, defaulting, and validation of the
// compliance console TOML configuration file. The same file drives both the
// complyctl client and the complyd reference backend; each binary reads the
// sections it needs.
package config

import (
	"errors"
	"net/url"
	"os"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Config is the top-level configuration, mirroring the TOML sections.
type Config struct {
	Backend BackendConfig `toml:"backend" json:"backend"`
	Stream  StreamConfig  `toml:"stream"  json:"stream"`
	Report  ReportConfig  `toml:"report"  json:"report"`
	Logging LoggingConfig `toml:"logging" json:"logging"`
	Server  ServerConfig  `toml:"server"  json:"server"`
}

type BackendConfig struct {
	BaseURL               string `toml:"base_url"                json:"base_url"`
	StreamURL             string `toml:"stream_url"              json:"stream_url"`
	EvaluatePath          string `toml:"evaluate_path"           json:"evaluate_path"`
	MetricsPath           string `toml:"metrics_path"            json:"metrics_path"`
	RequestTimeoutSeconds int    `toml:"request_timeout_seconds" json:"request_timeout_seconds"`
}

type StreamConfig struct {
	ReconnectDelayMs        int `toml:"reconnect_delay_ms"        json:"reconnect_delay_ms"`
	MaxRetries              int `toml:"max_retries"               json:"max_retries"`
	HandshakeTimeoutSeconds int `toml:"handshake_timeout_seconds" json:"handshake_timeout_seconds"`
}

type ReportConfig struct {
	OutputDir string `toml:"output_dir" json:"output_dir"`
}

type LoggingConfig struct {
	Level  string `toml:"level"  json:"level"`
	Format string `toml:"format" json:"format"`
}

type ServerConfig struct {
	Bind            string `toml:"bind"              json:"bind"`
	CatalogFile     string `toml:"catalog_file"      json:"catalog_file"`
	BatchIntervalMs int    `toml:"batch_interval_ms" json:"batch_interval_ms"`
	BacklogSize     int    `toml:"backlog_size"      json:"backlog_size"`
}

// ReconnectDelay returns the stream reconnect delay as a duration.
func (s StreamConfig) ReconnectDelay() time.Duration {
	return time.Duration(s.ReconnectDelayMs) * time.Millisecond
}

// HandshakeTimeout returns the websocket handshake timeout as a duration.
func (s StreamConfig) HandshakeTimeout() time.Duration {
	return time.Duration(s.HandshakeTimeoutSeconds) * time.Second
}

// RequestTimeout returns the HTTP timeout for submit and catalog calls.
func (b BackendConfig) RequestTimeout() time.Duration {
	return time.Duration(b.RequestTimeoutSeconds) * time.Second
}

// BatchInterval returns the pause between simulated batches on the backend.
func (s ServerConfig) BatchInterval() time.Duration {
	return time.Duration(s.BatchIntervalMs) * time.Millisecond
}

// Default returns a Config populated with sane defaults. Values here are
// used whenever the TOML file omits a field.
func Default() Config {
	return Config{
		Backend: BackendConfig{
			BaseURL:               "http://127.0.0.1:8000",
			StreamURL:             "ws://127.0.0.1:8000/ws",
			EvaluatePath:          "/evaluate",
			MetricsPath:           "/task-metrics",
			RequestTimeoutSeconds: 30,
		},
		Stream: StreamConfig{
			ReconnectDelayMs:        1000,
			MaxRetries:              0,
			HandshakeTimeoutSeconds: 10,
		},
		Report: ReportConfig{
			OutputDir: ".",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Server: ServerConfig{
			Bind:            "127.0.0.1:8000",
			CatalogFile:     "",
			BatchIntervalMs: 500,
			BacklogSize:     256,
		},
	}
}

// Load reads the TOML file at path, layers it on top of the defaults, and
// validates the result. An error is returned if the file can't be read,
// parsed, or if any constraint is violated.
func Load(path string) (Config, error) {
	cfg := Default()

	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}

	if err := toml.Unmarshal(b, &cfg); err != nil {
		return cfg, err
	}

	if err := validate(cfg); err != nil {
		return cfg, err
	}

	return cfg, nil
}

// LoadOrDefault behaves like Load but returns the defaults when path is empty,
// so the client works without a config file.
func LoadOrDefault(path string) (Config, error) {
	if path == "" {
		return Default(), nil
	}
	return Load(path)
}

func validate(cfg Config) error {
	if err := validateURL(cfg.Backend.BaseURL, "http", "https"); err != nil {
		return errors.New("backend.base_url " + err.Error())
	}
	if err := validateURL(cfg.Backend.StreamURL, "ws", "wss", "http", "https"); err != nil {
		return errors.New("backend.stream_url " + err.Error())
	}
	if cfg.Backend.EvaluatePath == "" {
		return errors.New("backend.evaluate_path must not be empty")
	}
	if cfg.Backend.MetricsPath == "" {
		return errors.New("backend.metrics_path must not be empty")
	}
	if cfg.Backend.RequestTimeoutSeconds < 1 {
		return errors.New("backend.request_timeout_seconds must be >= 1")
	}
	if cfg.Stream.ReconnectDelayMs < 1 {
		return errors.New("stream.reconnect_delay_ms must be >= 1")
	}
	if cfg.Stream.MaxRetries < 0 {
		return errors.New("stream.max_retries must be >= 0")
	}
	if cfg.Stream.HandshakeTimeoutSeconds < 1 {
		return errors.New("stream.handshake_timeout_seconds must be >= 1")
	}
	if cfg.Report.OutputDir == "" {
		return errors.New("report.output_dir must not be empty")
	}
	switch cfg.Logging.Format {
	case "text", "json":
	default:
		return errors.New("logging.format must be text or json")
	}
	if cfg.Server.BatchIntervalMs < 0 {
		return errors.New("server.batch_interval_ms must be >= 0")
	}
	if cfg.Server.BacklogSize < 1 {
		return errors.New("server.backlog_size must be >= 1")
	}
	return nil
}

func validateURL(raw string, schemes ...string) error {
	if raw == "" {
		return errors.New("must not be empty")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return errors.New("is not a valid URL")
	}
	for _, s := range schemes {
		if u.Scheme == s {
			return nil
		}
	}
	return errors.New("has unsupported scheme " + u.Scheme)
}
