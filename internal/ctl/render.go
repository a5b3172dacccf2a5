package ctl

import (
	"fmt"
	"strconv"
	"time"

	"github.com/large-farva/compliance-console/internal/events"
	"github.com/large-farva/compliance-console/internal/progress"
)

// renderEvent prints one reduced stream event with the state it produced.
func (p *printer) renderEvent(ev events.Event, st progress.State) {
	ts := p.style(dim, time.Now().Format("15:04:05"))

	switch e := ev.(type) {
	case events.Log:
		p.printf("  %s %s  %s\n", ts, p.style(green, padRight("LOG", 8)), e.Message)

	case events.BatchResult:
		// A batch can never end the job, so a terminal state here means it was dropped.
		if st.Terminal {
			p.printf("  %s %s  %s\n", ts, p.style(yellow, padRight("LATE", 8)), p.style(dim, "batch result after job end ignored"))
			return
		}
		p.printf("  %s %s  [%s] %d/%d\n", ts, p.style(cyan, padRight("BATCH", 8)),
			p.progressBar(st.Fraction(), 20), st.Received(), st.ExpectedBatches)
		for _, name := range events.MetricNames(e.Metrics) {
			p.printf("             %s\n", p.outcomeLine(name, e.Metrics[name]))
		}

	case events.JobComplete:
		p.printf("  %s %s  %s\n", ts, p.style(bold, padRight("COMPLETE", 8)), e.Message)

	case events.Report:
		info := e.Payload.Info
		p.printf("  %s %s  %s (%s), %d sections\n", ts, p.style(bold, padRight("REPORT", 8)),
			info.ModelName, info.EvaluationDate, len(e.Payload.Properties))

	case events.Error:
		p.printf("  %s %s  %s\n", ts, p.style(red, padRight("ERROR", 8)), e.Message)

	case events.Unrecognized:
		p.printf("  %s %s  %s\n", ts, p.style(dim, padRight("IGNORED", 8)), p.style(dim, e.Reason))
	}
}

// outcomeLine formats one metric's batch result. A failed metric shows only
// its failure.
func (p *printer) outcomeLine(name string, o events.MetricOutcome) string {
	if o.Failed() {
		return fmt.Sprintf("%s %s %s", padRight(name, 22), p.style(red, "FAILED"), o.Failure)
	}
	return fmt.Sprintf("%s %-10s ideal %-8s %s", padRight(name, 22),
		formatValue(o.Value), formatValue(o.IdealValue), p.style(dim, formatRange(o.LowerBound, o.UpperBound)))
}

// renderSummary prints the per-metric aggregate of a job.
func (p *printer) renderSummary(st progress.State) {
	sum := st.Summary()
	if len(sum) == 0 {
		return
	}
	p.header("METRICS", 70)
	t := p.newTable("  ", "Metric", "Value", "Ideal", "Range", "Batches")
	t.alignRight(4)
	for _, m := range sum {
		batches := strconv.Itoa(m.Samples)
		if m.Failures > 0 {
			batches += fmt.Sprintf(" (%d failed)", m.Failures)
		}
		if m.Failed() {
			t.row(m.Name, p.style(red, "FAILED"), "-", m.Failure, batches)
			continue
		}
		t.row(m.Name, strconv.FormatFloat(m.Value, 'f', 4, 64), formatValue(m.IdealValue),
			formatRange(m.LowerBound, m.UpperBound), batches)
	}
	t.flush()
	if st.LastError != nil {
		p.println()
		p.printf("  %s %s\n", p.style(red, st.LastError.Header+":"), st.LastError.Text)
	}
}

// summaryJSON is the machine-readable form of a job's progress.
type summaryJSON struct {
	Received int                   `json:"batches_received"`
	Expected int                   `json:"batches_expected"`
	Terminal bool                  `json:"terminal"`
	Ignored  int                   `json:"ignored_batches,omitempty"`
	Metrics  []metricJSON          `json:"metrics"`
	Error    *progress.StreamError `json:"last_error,omitempty"`
}

type metricJSON struct {
	Name     string `json:"name"`
	Value    string `json:"value,omitempty"`
	Ideal    string `json:"ideal,omitempty"`
	Lower    string `json:"lower_bound,omitempty"`
	Upper    string `json:"upper_bound,omitempty"`
	Samples  int    `json:"samples"`
	Failures int    `json:"failures"`
	Failure  string `json:"failure,omitempty"`
}

// Bounds are strings so infinities survive JSON.
func summarize(st progress.State) summaryJSON {
	out := summaryJSON{
		Received: st.Received(),
		Expected: st.ExpectedBatches,
		Terminal: st.Terminal,
		Ignored:  st.Ignored,
		Metrics:  []metricJSON{},
		Error:    st.LastError,
	}
	for _, m := range st.Summary() {
		mj := metricJSON{Name: m.Name, Samples: m.Samples, Failures: m.Failures, Failure: m.Failure}
		if !m.Failed() {
			mj.Value = strconv.FormatFloat(m.Value, 'f', -1, 64)
			mj.Ideal = formatValue(m.IdealValue)
			mj.Lower = formatValue(m.LowerBound)
			mj.Upper = formatValue(m.UpperBound)
		}
		out.Metrics = append(out.Metrics, mj)
	}
	return out
}
