package ctl

import (
	"bytes"
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/large-farva/compliance-console/internal/app"
	"github.com/large-farva/compliance-console/internal/config"
	"github.com/large-farva/compliance-console/internal/events"
	"github.com/large-farva/compliance-console/internal/progress"
	"github.com/large-farva/compliance-console/internal/submit"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// startBackend runs the reference backend and returns a client config
// pointing at it.
func startBackend(t *testing.T) config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Server.BatchIntervalMs = 2
	cfg.Stream.ReconnectDelayMs = 20
	cfg.Report.OutputDir = t.TempDir()

	a, err := app.New(app.Options{Cfg: cfg, Registry: prometheus.NewRegistry()})
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	go a.Hub().Run(ctx)
	srv := httptest.NewServer(a.Handler())
	t.Cleanup(func() {
		srv.Close()
		cancel()
	})

	cfg.Backend.BaseURL = srv.URL
	cfg.Backend.StreamURL = "ws" + strings.TrimPrefix(srv.URL, "http") + app.StreamPath
	return cfg
}

func mockRequest() submit.JobRequest {
	return submit.JobRequest{
		DatasetURL:      "mock-dataset",
		ModelURL:        "mock-model",
		Metrics:         []string{"accuracy", "toxicity"},
		NumberOfBatches: 5,
		BatchSize:       200,
	}
}

func TestFormatValueAndRange(t *testing.T) {
	assert.Equal(t, "0.93", formatValue(0.93))
	assert.Equal(t, "∞", formatValue(math.Inf(1)))
	assert.Equal(t, "-∞", formatValue(math.Inf(-1)))
	assert.Equal(t, "[0, 1]", formatRange(0, 1))
	assert.Equal(t, "(-∞, 0.5]", formatRange(math.Inf(-1), 0.5))
	assert.Equal(t, "[0, ∞)", formatRange(0, math.Inf(1)))
}

func TestTableAlignsColumns(t *testing.T) {
	var buf bytes.Buffer
	p := newPrinter(&buf)
	tb := p.newTable("  ", "Task", "Metrics")
	tb.alignRight(1)
	tb.row("classification", "6")
	tb.row("qa", "12")
	tb.flush()

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "  Task            Metrics", lines[0])
	assert.Equal(t, "  classification        6", lines[1])
	assert.Equal(t, "  qa                   12", lines[2])
}

func TestRenderEventShowsFailureOnly(t *testing.T) {
	var buf bytes.Buffer
	p := newPrinter(&buf)
	ev := events.BatchResult{Metrics: map[string]events.MetricOutcome{
		"accuracy": events.Unbounded(0.9, 1),
		"toxicity": {Value: 0.5, Failure: "timeout"},
	}}
	st, _ := progress.Reduce(progress.NewState(2), ev)
	p.renderEvent(ev, st)

	out := buf.String()
	assert.Contains(t, out, "1/2")
	assert.Contains(t, out, "(-∞, ∞)")
	assert.Contains(t, out, "FAILED timeout")
	assert.NotContains(t, out, "0.5")
}

func TestRenderEventLateBatch(t *testing.T) {
	var buf bytes.Buffer
	p := newPrinter(&buf)
	st, _ := progress.Reduce(progress.NewState(1), events.JobComplete{Message: "done"})
	ev := events.BatchResult{Metrics: map[string]events.MetricOutcome{"accuracy": events.Unbounded(1, 1)}}
	st, _ = progress.Reduce(st, ev)
	p.renderEvent(ev, st)
	assert.Contains(t, buf.String(), "LATE")
}

func TestCheckURLs(t *testing.T) {
	var buf bytes.Buffer
	err := CheckURLs(&buf, []string{"https://example.com/model", "mock-model"}, false)
	require.NoError(t, err)
	assert.Equal(t, 2, strings.Count(buf.String(), "valid"))

	buf.Reset()
	err = CheckURLs(&buf, []string{"https://example.com/a%20b", "not a url"}, true)
	assert.ErrorIs(t, err, ErrCheckFailed)
	var results []struct {
		URL   string `json:"url"`
		Valid bool   `json:"valid"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &results))
	require.Len(t, results, 2)
	assert.False(t, results[0].Valid)
	assert.False(t, results[1].Valid)
}

func TestCheckBatches(t *testing.T) {
	var buf bytes.Buffer
	assert.NoError(t, CheckBatches(&buf, 200, 5, false))
	assert.Contains(t, buf.String(), "1000 samples")

	buf.Reset()
	assert.ErrorIs(t, CheckBatches(&buf, 10, 5, false), ErrCheckFailed)
	assert.Contains(t, buf.String(), "invalid")
}

func TestLoadRequestAndOverlay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "job.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
model_url: https://models.example.com/v1
dataset_url: mock-dataset
metrics: [accuracy, recall]
number_of_batches: 4
batch_size: 500
`), 0o644))

	req, err := LoadRequest(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"accuracy", "recall"}, req.Metrics)
	assert.Equal(t, 500, req.BatchSize)
	assert.False(t, incomplete(req))

	merged := overlay(req, submit.JobRequest{ModelURL: "mock-model", NumberOfBatches: 2})
	assert.Equal(t, "mock-model", merged.ModelURL)
	assert.Equal(t, 2, merged.NumberOfBatches)
	assert.Equal(t, 500, merged.BatchSize)

	_, err = LoadRequest(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "read request")
}

func TestMetricsCommand(t *testing.T) {
	cfg := startBackend(t)
	ctx := context.Background()

	var buf bytes.Buffer
	require.NoError(t, Metrics(ctx, &buf, cfg, "", false))
	assert.Contains(t, buf.String(), "classification")
	assert.Contains(t, buf.String(), "toxicity")

	buf.Reset()
	require.NoError(t, Metrics(ctx, &buf, cfg, "regression", true))
	var resp struct {
		Task    string   `json:"task"`
		Metrics []string `json:"metrics"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, []string{"mae", "rmse", "r2_score"}, resp.Metrics)

	assert.ErrorContains(t, Metrics(ctx, &buf, cfg, "astrology", false), "unknown task type")
}

func TestEvaluateWritesReport(t *testing.T) {
	cfg := startBackend(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var buf bytes.Buffer
	res, err := Evaluate(ctx, &buf, cfg, nil, EvaluateOptions{Request: mockRequest(), JSON: true})
	require.NoError(t, err, buf.String())

	assert.NotEmpty(t, res.JobID)
	assert.Equal(t, 5, res.Progress.Received)
	assert.True(t, res.Progress.Terminal)
	require.Len(t, res.Progress.Metrics, 2)
	assert.Equal(t, "toxicity", res.Progress.Metrics[1].Name)
	assert.Equal(t, "-∞", res.Progress.Metrics[1].Lower)

	require.NotEmpty(t, res.ReportPath)
	assert.Equal(t, cfg.Report.OutputDir, filepath.Dir(res.ReportPath))
	b, err := os.ReadFile(res.ReportPath)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(b, []byte("%PDF")))

	var printed EvaluateResult
	require.NoError(t, json.Unmarshal(buf.Bytes(), &printed))
	assert.Equal(t, res.JobID, printed.JobID)
}

func TestEvaluateFromFileWithTextOutput(t *testing.T) {
	cfg := startBackend(t)
	path := filepath.Join(t.TempDir(), "job.yaml")
	require.NoError(t, os.WriteFile(path, []byte("model_url: mock-model\ndataset_url: mock-dataset\nmetrics: [demographic_parity]\nnumber_of_batches: 2\nbatch_size: 500\n"), 0o644))
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var buf bytes.Buffer
	res, err := Evaluate(ctx, &buf, cfg, nil, EvaluateOptions{RequestFile: path})
	require.NoError(t, err)

	out := buf.String()
	assert.Contains(t, out, "accepted")
	assert.Contains(t, out, "COMPLETE")
	assert.Contains(t, out, "demographic_parity")
	assert.Contains(t, out, "report saved "+res.ReportPath)
}

func TestEvaluateRejectedLocally(t *testing.T) {
	cfg := startBackend(t)
	req := mockRequest()
	req.BatchSize = 1

	var buf bytes.Buffer
	_, err := Evaluate(context.Background(), &buf, cfg, nil, EvaluateOptions{Request: req})
	var verr *submit.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, buf.String(), "Invalid request")
	assert.Contains(t, buf.String(), "batch_size")
}

func TestEvaluateRejectedByBackend(t *testing.T) {
	cfg := startBackend(t)
	req := mockRequest()
	req.Metrics = []string{"vibes"}

	var buf bytes.Buffer
	_, err := Evaluate(context.Background(), &buf, cfg, nil, EvaluateOptions{Request: req})
	var serr *submit.SubmissionError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, http.StatusUnprocessableEntity, serr.Status)
	assert.Contains(t, buf.String(), "Evaluation rejected (HTTP 422)")
	assert.Contains(t, buf.String(), "unknown metrics: vibes")
}

func TestWatchFollowsSession(t *testing.T) {
	cfg := startBackend(t)

	sub := submit.NewSubmitter(cfg.Backend.BaseURL)
	req := mockRequest()
	req.MaxConcurrentBatches = 1
	_, err := sub.Submit(context.Background(), "watched", req)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	var buf bytes.Buffer
	st, err := Watch(ctx, &buf, cfg, nil, "watched", WatchOptions{Batches: 5, Filter: []string{"log"}})
	require.NoError(t, err)

	assert.Equal(t, 5, st.Received())
	require.NotNil(t, st.Report)
	assert.Equal(t, "mock-model", st.Report.Info.ModelName)
	assert.Contains(t, buf.String(), "Processing batch 5/5")
	assert.NotContains(t, buf.String(), "BATCH")
}

func TestStatusJobsAndVersion(t *testing.T) {
	cfg := startBackend(t)

	var buf bytes.Buffer
	require.NoError(t, Status(&buf, cfg.Backend.BaseURL, true))
	var st StatusResponse
	require.NoError(t, json.Unmarshal(buf.Bytes(), &st))
	assert.Equal(t, "compliance-console", st.Name)

	buf.Reset()
	require.NoError(t, Jobs(&buf, cfg.Backend.BaseURL, false))
	assert.Contains(t, buf.String(), "No jobs yet.")

	buf.Reset()
	require.NoError(t, VersionInfo(&buf, cfg.Backend.BaseURL, false))
	assert.Contains(t, buf.String(), "Backend:")
	assert.NotContains(t, buf.String(), "unreachable")

	buf.Reset()
	require.NoError(t, Config(&buf, cfg.Backend.BaseURL, false))
	assert.Contains(t, buf.String(), "batch_interval_ms:")
}

func TestHealthReportsBootingBackend(t *testing.T) {
	cfg := startBackend(t)

	var buf bytes.Buffer
	require.NoError(t, Health(&buf, cfg.Backend.BaseURL, false))
	// The backend only becomes healthy once Run starts serving.
	assert.Contains(t, buf.String(), "UNHEALTHY")
	assert.Contains(t, buf.String(), "server")

	buf.Reset()
	require.NoError(t, Health(&buf, "http://127.0.0.1:1", true))
	assert.Contains(t, buf.String(), `"healthy": false`)
}
