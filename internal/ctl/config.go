package ctl

import (
	"encoding/json"
	"io"
	"strings"

	"github.com/large-farva/compliance-console/internal/config"
)

// Config fetches and displays the backend's running configuration.
func Config(w io.Writer, baseURL string, jsonOutput bool) error {
	baseURL = strings.TrimRight(baseURL, "/")

	var raw json.RawMessage
	if err := getJSON(baseURL, "/api/config", &raw); err != nil {
		return err
	}

	if jsonOutput {
		var v any
		_ = json.Unmarshal(raw, &v)
		return printJSON(w, v)
	}

	var cfg config.Config
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return err
	}

	p := newPrinter(w)
	p.header("BACKEND CONFIGURATION", 50)

	section := func(name string) {
		p.printf("\n  %s\n", p.style(bold, "["+name+"]"))
	}
	field := func(key string, val any) {
		p.printf("    %s %v\n", p.style(dim, padRight(key+":", 26)), val)
	}

	section("backend")
	field("base_url", cfg.Backend.BaseURL)
	field("stream_url", cfg.Backend.StreamURL)
	field("evaluate_path", cfg.Backend.EvaluatePath)
	field("metrics_path", cfg.Backend.MetricsPath)
	field("request_timeout_seconds", cfg.Backend.RequestTimeoutSeconds)

	section("stream")
	field("reconnect_delay_ms", cfg.Stream.ReconnectDelayMs)
	field("max_retries", cfg.Stream.MaxRetries)
	field("handshake_timeout_seconds", cfg.Stream.HandshakeTimeoutSeconds)

	section("report")
	field("output_dir", cfg.Report.OutputDir)

	section("logging")
	field("level", cfg.Logging.Level)
	field("format", cfg.Logging.Format)

	section("server")
	field("bind", cfg.Server.Bind)
	field("catalog_file", cfg.Server.CatalogFile)
	field("batch_interval_ms", cfg.Server.BatchIntervalMs)
	field("backlog_size", cfg.Server.BacklogSize)

	p.println()
	return nil
}
