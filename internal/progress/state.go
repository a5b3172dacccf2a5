// Package progress reconstructs a job's cumulative progress from the decoded
// event stream.
//
// Reduce is the single authority for the terminal flag and for which report
// gets handed to the assembler. It is a pure function; the Tracker wraps it
// with the mutable per-job state and dispatches one-shot notifications for
// the transitions Reduce reports.
package progress

import (
	"math"
	"sort"

	"github.com/large-farva/compliance-console/internal/events"
)

// ErrorKind discriminates the errors recorded in State.LastError.
type ErrorKind string

const (
	// ErrorServer is an ERROR message sent by the backend.
	ErrorServer ErrorKind = "server"
	// ErrorDecode is a stream message the client could not decode.
	ErrorDecode ErrorKind = "decode"
)

// StreamError is the last error surfaced from the stream.
type StreamError struct {
	Kind   ErrorKind `json:"kind"`
	Header string    `json:"header"`
	Text   string    `json:"text"`
}

// State is the accumulated progress of one job.
type State struct {
	Batches         []map[string]events.MetricOutcome
	LatestLog       string
	ExpectedBatches int
	Terminal        bool
	LastError       *StreamError
	Report          *events.ReportDocument

	// Ignored counts batch results that arrived after the terminal event.
	Ignored int
}

// NewState returns the empty state for a job expecting the given number of
// batches.
func NewState(expectedBatches int) State {
	return State{ExpectedBatches: expectedBatches}
}

// Received returns the number of batch results accepted so far.
func (s State) Received() int {
	return len(s.Batches)
}

// Fraction returns completed batches over expected batches, clamped to [0, 1].
// It returns 0 when no batches are expected.
func (s State) Fraction() float64 {
	if s.ExpectedBatches <= 0 {
		return 0
	}
	f := float64(len(s.Batches)) / float64(s.ExpectedBatches)
	return math.Min(f, 1)
}

// MetricSummary is the per-metric aggregate a gauge needs.
type MetricSummary struct {
	Name       string
	Value      float64 // mean over successful batches
	IdealValue float64
	LowerBound float64
	UpperBound float64
	Samples    int    // successful batches
	Failures   int    // failed batches
	Failure    string // latest failure, set only when no batch succeeded
}

// Failed reports whether the metric has no successful sample to display.
func (m MetricSummary) Failed() bool {
	return m.Samples == 0
}

// Summary aggregates every metric seen across the received batches, sorted by
// name. Ideal value and bounds come from the latest successful batch.
func (s State) Summary() []MetricSummary {
	byName := make(map[string]*MetricSummary)
	sums := make(map[string]float64)

	for _, batch := range s.Batches {
		for name, o := range batch {
			ms, ok := byName[name]
			if !ok {
				ms = &MetricSummary{
					Name:       name,
					LowerBound: math.Inf(-1),
					UpperBound: math.Inf(1),
				}
				byName[name] = ms
			}
			if o.Failed() {
				ms.Failures++
				ms.Failure = o.Failure
				continue
			}
			ms.Samples++
			sums[name] += o.Value
			ms.IdealValue = o.IdealValue
			ms.LowerBound = o.LowerBound
			ms.UpperBound = o.UpperBound
		}
	}

	out := make([]MetricSummary, 0, len(byName))
	for name, ms := range byName {
		if ms.Samples > 0 {
			ms.Value = sums[name] / float64(ms.Samples)
			ms.Failure = ""
		}
		out = append(out, *ms)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
