package submit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
)

// ErrCatalogNotLoaded is returned when the catalog is read before Load
// succeeded.
var ErrCatalogNotLoaded = errors.New("metric catalog not loaded")

// Catalog maps a model task type to the metrics available for it.
type Catalog struct {
	TaskToMetricMap map[string][]string `json:"task_to_metric_map" yaml:"task_to_metric_map"`
}

// Tasks returns the known task types, sorted.
func (c Catalog) Tasks() []string {
	tasks := make([]string, 0, len(c.TaskToMetricMap))
	for t := range c.TaskToMetricMap {
		tasks = append(tasks, t)
	}
	sort.Strings(tasks)
	return tasks
}

// MetricsFor returns the metrics for task and whether the task is known.
func (c Catalog) MetricsFor(task string) ([]string, bool) {
	m, ok := c.TaskToMetricMap[task]
	return m, ok
}

// CatalogState is the load state of a CatalogLoader.
type CatalogState int

const (
	CatalogNotLoaded CatalogState = iota
	CatalogLoaded
	CatalogFailed
)

func (s CatalogState) String() string {
	switch s {
	case CatalogLoaded:
		return "loaded"
	case CatalogFailed:
		return "failed"
	default:
		return "not loaded"
	}
}

// CatalogLoader fetches the metric catalog once and hands it to whoever needs
// it. Until Load succeeds every read returns ErrCatalogNotLoaded (or the load
// error).
type CatalogLoader struct {
	url string
	cfg clientConfig

	mu      sync.RWMutex
	state   CatalogState
	catalog Catalog
	err     error
}

// NewCatalogLoader returns a loader for baseURL's metric catalog endpoint.
func NewCatalogLoader(baseURL string, opts ...Option) *CatalogLoader {
	cfg := newClientConfig(opts)
	return &CatalogLoader{url: endpoint(baseURL, cfg.metricsPath), cfg: cfg}
}

// StaticCatalog returns a loader that is already loaded with c.
func StaticCatalog(c Catalog) *CatalogLoader {
	return &CatalogLoader{state: CatalogLoaded, catalog: c, cfg: newClientConfig(nil)}
}

// Load fetches the catalog. A failed load can be retried.
func (l *CatalogLoader) Load(ctx context.Context) (Catalog, error) {
	c, err := l.fetch(ctx)

	l.mu.Lock()
	defer l.mu.Unlock()
	if err != nil {
		// Keep a catalog that loaded earlier; only record the failure.
		if l.state != CatalogLoaded {
			l.state = CatalogFailed
		}
		l.err = err
		l.cfg.log.Warn("metric catalog load failed", "url", l.url, "error", err)
		return Catalog{}, err
	}
	l.state, l.catalog, l.err = CatalogLoaded, c, nil
	l.cfg.log.Debug("metric catalog loaded", "tasks", len(c.TaskToMetricMap))
	return c, nil
}

func (l *CatalogLoader) fetch(ctx context.Context) (Catalog, error) {
	if l.url == "" {
		return Catalog{}, errors.New("metric catalog has no URL")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.url, nil)
	if err != nil {
		return Catalog{}, err
	}
	resp, err := l.cfg.httpClient.Do(req)
	if err != nil {
		return Catalog{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		msg := strings.TrimSpace(string(b))
		if msg != "" {
			return Catalog{}, fmt.Errorf("HTTP %s: %s", resp.Status, msg)
		}
		return Catalog{}, fmt.Errorf("HTTP %s from %s", resp.Status, l.url)
	}

	var c Catalog
	if err := json.NewDecoder(resp.Body).Decode(&c); err != nil {
		return Catalog{}, fmt.Errorf("decode metric catalog: %w", err)
	}
	if c.TaskToMetricMap == nil {
		return Catalog{}, errors.New("metric catalog missing task_to_metric_map")
	}
	return c, nil
}

// State returns the current load state.
func (l *CatalogLoader) State() CatalogState {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state
}

// Catalog returns the loaded catalog.
func (l *CatalogLoader) Catalog() (Catalog, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	switch l.state {
	case CatalogLoaded:
		return l.catalog, nil
	case CatalogFailed:
		return Catalog{}, fmt.Errorf("%w: %v", ErrCatalogNotLoaded, l.err)
	default:
		return Catalog{}, ErrCatalogNotLoaded
	}
}

// MetricsFor returns the metrics available for task.
func (l *CatalogLoader) MetricsFor(task string) ([]string, error) {
	c, err := l.Catalog()
	if err != nil {
		return nil, err
	}
	m, ok := c.MetricsFor(task)
	if !ok {
		return nil, fmt.Errorf("unknown task type %q (known: %s)", task, strings.Join(c.Tasks(), ", "))
	}
	return m, nil
}
