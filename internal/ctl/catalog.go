package ctl

import (
	"context"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/large-farva/compliance-console/internal/config"
	"github.com/large-farva/compliance-console/internal/submit"
)

// NewCatalogLoader returns the metric catalog loader for the configured
// backend.
func NewCatalogLoader(cfg config.Config) *submit.CatalogLoader {
	return submit.NewCatalogLoader(cfg.Backend.BaseURL,
		submit.WithHTTPClient(&http.Client{Timeout: cfg.Backend.RequestTimeout()}),
		submit.WithMetricsPath(cfg.Backend.MetricsPath),
	)
}

// Metrics lists the task types the backend evaluates and their metrics. With
// a task, only that task's metrics are listed.
func Metrics(ctx context.Context, w io.Writer, cfg config.Config, task string, jsonOutput bool) error {
	loader := NewCatalogLoader(cfg)
	if _, err := loader.Load(ctx); err != nil {
		return err
	}
	cat, err := loader.Catalog()
	if err != nil {
		return err
	}

	if task != "" {
		ms, err := loader.MetricsFor(task)
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(w, map[string]any{"task": task, "metrics": ms})
		}
		p := newPrinter(w)
		p.header(strings.ToUpper(task)+" METRICS", 38)
		for _, m := range ms {
			p.printf("  %s\n", m)
		}
		p.println()
		return nil
	}

	if jsonOutput {
		return printJSON(w, cat)
	}

	p := newPrinter(w)
	p.header("METRIC CATALOG", 60)
	t := p.newTable("  ", "Task", "Metrics", "Names")
	t.alignRight(1)
	for _, task := range cat.Tasks() {
		ms, _ := cat.MetricsFor(task)
		t.row(task, strconv.Itoa(len(ms)), strings.Join(ms, ", "))
	}
	t.flush()
	p.println()
	return nil
}
