package progress

import (
	"github.com/large-farva/compliance-console/internal/events"
)

// Headers used for errors recorded in State.LastError.
const (
	HeaderServerError  = "Error"
	HeaderUnrecognized = "Unrecognized server message"
)

// Transition describes the side effects a single reduction calls for.
type Transition struct {
	// BecameTerminal is true only for the event that first set Terminal.
	BecameTerminal bool
	// Report is the report to assemble. It is non-nil only for the first
	// report of the job.
	Report *events.ReportDocument
	// Ignored is true when a batch result arrived after the terminal event.
	Ignored bool
}

// Reduce applies ev to s and returns the new state. It performs no I/O and
// does not modify s; the batch slice is copied before appending so earlier
// states stay valid.
//
// Reaching ExpectedBatches does not make the job terminal. Only an explicit
// completion or report event does.
func Reduce(s State, ev events.Event) (State, Transition) {
	var tr Transition

	switch e := ev.(type) {
	case events.Log:
		s.LatestLog = e.Message

	case events.BatchResult:
		if s.Terminal {
			s.Ignored++
			tr.Ignored = true
			break
		}
		batches := make([]map[string]events.MetricOutcome, len(s.Batches), len(s.Batches)+1)
		copy(batches, s.Batches)
		s.Batches = append(batches, e.Metrics)

	case events.JobComplete:
		s.LatestLog = e.Message
		tr.BecameTerminal = !s.Terminal
		s.Terminal = true

	case events.Report:
		tr.BecameTerminal = !s.Terminal
		s.Terminal = true
		if s.Report == nil {
			doc := e.Payload
			s.Report = &doc
			tr.Report = &doc
		}

	case events.Error:
		s.LastError = &StreamError{Kind: ErrorServer, Header: HeaderServerError, Text: e.Message}

	case events.Unrecognized:
		s.LastError = &StreamError{Kind: ErrorDecode, Header: HeaderUnrecognized, Text: e.Raw}
	}

	return s, tr
}
