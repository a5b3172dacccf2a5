package submit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/large-farva/compliance-console/internal/logging"
)

// SessionHeader carries the session identifier so the backend can route the
// job's events to the matching stream.
const SessionHeader = "X-Session-ID"

// Default backend paths.
const (
	DefaultEvaluatePath = "/evaluate"
	DefaultMetricsPath  = "/task-metrics"
)

type clientConfig struct {
	httpClient   *http.Client
	log          *slog.Logger
	evaluatePath string
	metricsPath  string
}

// Option configures a Submitter or CatalogLoader.
type Option func(*clientConfig)

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(cfg *clientConfig) { cfg.httpClient = c }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(cfg *clientConfig) { cfg.log = l }
}

// WithEvaluatePath overrides the evaluate endpoint path.
func WithEvaluatePath(p string) Option {
	return func(cfg *clientConfig) { cfg.evaluatePath = p }
}

// WithMetricsPath overrides the metric catalog endpoint path.
func WithMetricsPath(p string) Option {
	return func(cfg *clientConfig) { cfg.metricsPath = p }
}

func newClientConfig(opts []Option) clientConfig {
	cfg := clientConfig{
		httpClient:   &http.Client{Timeout: 30 * time.Second},
		evaluatePath: DefaultEvaluatePath,
		metricsPath:  DefaultMetricsPath,
	}
	for _, o := range opts {
		o(&cfg)
	}
	cfg.log = logging.OrDiscard(cfg.log)
	return cfg
}

func endpoint(baseURL, path string) string {
	return strings.TrimRight(baseURL, "/") + "/" + strings.TrimLeft(path, "/")
}

// SubmissionError is returned when the backend did not accept a job.
type SubmissionError struct {
	// Status is the HTTP status, or 0 when no response arrived.
	Status int
	// Detail is the backend's error detail, verbatim.
	Detail string
	// Err is the transport error when Status is 0.
	Err error
}

// Transport reports whether the request failed before any response.
func (e *SubmissionError) Transport() bool {
	return e.Status == 0
}

// Header is a short title suitable for a notification.
func (e *SubmissionError) Header() string {
	if e.Transport() {
		return "Submission error"
	}
	return fmt.Sprintf("Evaluation rejected (HTTP %d)", e.Status)
}

func (e *SubmissionError) Error() string {
	if e.Transport() {
		return "submission error: " + e.Err.Error()
	}
	return fmt.Sprintf("HTTP %d: %s", e.Status, e.Detail)
}

func (e *SubmissionError) Unwrap() error {
	return e.Err
}

// Accepted describes a job the backend took on.
type Accepted struct {
	JobID   string `json:"job_id"`
	Message string `json:"message"`
}

// Submitter sends evaluation requests.
type Submitter struct {
	url string
	cfg clientConfig
}

// NewSubmitter returns a Submitter posting to baseURL's evaluate path.
func NewSubmitter(baseURL string, opts ...Option) *Submitter {
	cfg := newClientConfig(opts)
	return &Submitter{url: endpoint(baseURL, cfg.evaluatePath), cfg: cfg}
}

// URL returns the endpoint requests are posted to.
func (s *Submitter) URL() string {
	return s.url
}

// Submit validates req and posts it. Only 202 Accepted counts as success;
// every other status is a *SubmissionError carrying the backend's detail.
// A *ValidationError is returned without touching the network.
func (s *Submitter) Submit(ctx context.Context, sessionID string, req JobRequest) (Accepted, error) {
	if err := req.Validate(); err != nil {
		return Accepted{}, err
	}

	body, err := json.Marshal(req)
	if err != nil {
		return Accepted{}, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return Accepted{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if sessionID != "" {
		httpReq.Header.Set(SessionHeader, sessionID)
	}

	resp, err := s.cfg.httpClient.Do(httpReq)
	if err != nil {
		s.cfg.log.Error("submit failed", "url", s.url, "error", err)
		return Accepted{}, &SubmissionError{Err: err}
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusAccepted {
		detail := errorDetail(raw, resp.StatusCode)
		s.cfg.log.Warn("submit rejected", "status", resp.StatusCode, "detail", detail)
		return Accepted{}, &SubmissionError{Status: resp.StatusCode, Detail: detail}
	}

	var acc Accepted
	_ = json.Unmarshal(raw, &acc) // the body is informational
	s.cfg.log.Info("job accepted", "job_id", acc.JobID, "batches", req.NumberOfBatches)
	return acc, nil
}

// errorDetail pulls "detail" out of an error body. Non-string details (such
// as validation error lists) are returned as their JSON text; bodies that are
// not JSON are returned trimmed.
func errorDetail(body []byte, status int) string {
	var env struct {
		Detail json.RawMessage `json:"detail"`
	}
	if err := json.Unmarshal(body, &env); err == nil && len(env.Detail) > 0 {
		var s string
		if err := json.Unmarshal(env.Detail, &s); err == nil {
			return s
		}
		return string(env.Detail)
	}
	if msg := strings.TrimSpace(string(body)); msg != "" {
		return msg
	}
	return http.StatusText(status)
}
