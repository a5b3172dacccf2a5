// Package demo simulates evaluation jobs so the client pipeline, CLI, and
// stream handling can be exercised end to end without real model endpoints.
// Each job emits log lines, one metrics batch per configured batch, a
// completion notice, and a final report, all over the session's stream.
// Metric values are synthetic and drawn from plausible ranges.
package demo

import (
	"context"
	"fmt"
	"hash/fnv"
	"log/slog"
	"math"
	"math/rand/v2"
	"strconv"
	"strings"
	"time"

	"github.com/large-farva/compliance-console/internal/events"
	"github.com/large-farva/compliance-console/internal/logging"
	"github.com/large-farva/compliance-console/internal/metrics"
	"github.com/large-farva/compliance-console/internal/submit"
)

// FlakyModel is the mock endpoint whose batches intermittently fail.
const FlakyModel = "mock-model-flaky"

// Publisher delivers raw stream messages to a session.
type Publisher interface {
	Publish(session string, raw []byte) error
}

// Job is one accepted evaluation.
type Job struct {
	ID      string
	Session string
	Request submit.JobRequest
}

// Runner plays jobs out over a Publisher.
type Runner struct {
	Pub      Publisher
	Interval time.Duration // pause before each batch
	Now      func() time.Time
	Log      *slog.Logger
	Metrics  *metrics.Backend
}

// New creates a runner with a half-second batch interval.
func New(pub Publisher) *Runner {
	return &Runner{
		Pub:      pub,
		Interval: 500 * time.Millisecond,
		Now:      time.Now,
	}
}

// Run emits the whole event sequence for job. It returns ctx.Err() when
// cancelled part way, or the first publish error.
func (r *Runner) Run(ctx context.Context, job Job) error {
	log := logging.OrDiscard(r.Log).With("job_id", job.ID, "session", job.Session)
	req := job.Request
	rng := rand.New(rand.NewPCG(seed(job.ID)))
	flaky := req.ModelURL == FlakyModel

	emit := func(ev events.Event) error {
		raw, err := events.Encode(ev)
		if err != nil {
			return err
		}
		if err := r.Pub.Publish(job.Session, raw); err != nil {
			return err
		}
		if r.Metrics != nil {
			mt, _ := events.TypeOf(ev)
			r.Metrics.EventsSent.WithLabelValues(string(mt)).Inc()
		}
		return nil
	}

	log.Info("job running", "batches", req.NumberOfBatches, "metrics", len(req.Metrics))
	if err := emit(events.Log{Message: fmt.Sprintf(
		"Evaluation started: %d batches of %d samples, %d metrics, up to %d concurrent batches",
		req.NumberOfBatches, req.BatchSize, len(req.Metrics), req.MaxConcurrentBatches)}); err != nil {
		return err
	}
	if !isMock(req.ModelURL) || !isMock(req.DatasetURL) {
		if err := emit(events.Log{Message: "Endpoints are not contacted by the reference backend; results are synthetic"}); err != nil {
			return err
		}
	}

	samples := make(map[string][]float64, len(req.Metrics))
	for b := 1; b <= req.NumberOfBatches; b++ {
		if !sleepOrCancel(ctx, r.Interval) {
			log.Info("job cancelled", "batch", b)
			return ctx.Err()
		}
		if err := emit(events.Log{Message: fmt.Sprintf("Processing batch %d/%d", b, req.NumberOfBatches)}); err != nil {
			return err
		}

		out := make(map[string]events.MetricOutcome, len(req.Metrics))
		for i, name := range req.Metrics {
			p := profileFor(name)
			if flaky && i == 0 && b%3 == 0 {
				out[name] = events.MetricOutcome{Failure: "upstream model timed out"}
				continue
			}
			v := round4(p.Typical + (rng.Float64()*2-1)*p.Spread)
			out[name] = events.MetricOutcome{Value: v, IdealValue: p.Ideal, LowerBound: p.Lower, UpperBound: p.Upper}
			samples[name] = append(samples[name], v)
		}
		if err := emit(events.BatchResult{Metrics: out}); err != nil {
			return err
		}
		if flaky && b == 2 {
			if err := emit(events.Error{Message: "Model endpoint returned HTTP 503; batch 2 was retried"}); err != nil {
				return err
			}
		}
	}

	if err := emit(events.JobComplete{Message: "Evaluation complete"}); err != nil {
		return err
	}
	if err := emit(events.Report{Payload: r.buildReport(req, samples)}); err != nil {
		return err
	}
	log.Info("job finished")
	return nil
}

// buildReport groups the metrics by property, in request order.
func (r *Runner) buildReport(req submit.JobRequest, samples map[string][]float64) events.ReportDocument {
	now := time.Now
	if r.Now != nil {
		now = r.Now
	}
	doc := events.ReportDocument{
		Info: events.ReportInfo{
			ModelName:      req.ModelURL,
			EvaluationDate: now().UTC().Format("2006-01-02"),
			Dataset:        req.DatasetURL,
		},
	}

	index := map[string]int{}
	outside := map[string][]string{}
	for _, name := range req.Metrics {
		p := profileFor(name)
		i, ok := index[p.Property]
		if !ok {
			i = len(doc.Properties)
			index[p.Property] = i
			a := articles[p.Property]
			doc.Properties = append(doc.Properties, events.PropertySection{
				Property: p.Property,
				LegislationExtracts: []events.LegislationExtract{{
					ArticleNumber: events.Scalar(a.Number),
					ArticleTitle:  a.Title,
					Description:   a.Description,
				}},
			})
		}

		value := events.Scalar("n/a")
		if vs := samples[name]; len(vs) > 0 {
			m := mean(vs)
			value = events.Scalar(strconv.FormatFloat(m, 'f', 4, 64))
			if m < p.Lower || m > p.Upper {
				outside[p.Property] = append(outside[p.Property], name)
			}
		}
		sec := &doc.Properties[i]
		sec.ComputedMetrics = append(sec.ComputedMetrics, events.ComputedMetric{Metric: name, Value: value})
	}

	for i := range doc.Properties {
		sec := &doc.Properties[i]
		sec.LLMInsights = []string{insight(sec.Property, len(sec.ComputedMetrics), outside[sec.Property])}
	}
	return doc
}

func insight(property string, total int, outside []string) string {
	if len(outside) == 0 {
		return fmt.Sprintf("All %d %s metrics are within their accepted bounds.", total, strings.ToLower(property))
	}
	return fmt.Sprintf("%d of %d %s metrics fall outside their accepted bounds (%s); review before deployment.",
		len(outside), total, strings.ToLower(property), strings.Join(outside, ", "))
}

func isMock(endpoint string) bool {
	for _, m := range submit.MockEndpoints {
		if endpoint == m {
			return true
		}
	}
	return false
}

func seed(id string) (uint64, uint64) {
	h := fnv.New64a()
	_, _ = h.Write([]byte(id))
	s := h.Sum64()
	return s, s ^ 0x9e3779b97f4a7c15
}

func mean(vs []float64) float64 {
	sum := 0.0
	for _, v := range vs {
		sum += v
	}
	return sum / float64(len(vs))
}

func round4(v float64) float64 {
	return math.Round(v*1e4) / 1e4
}

func sleepOrCancel(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
