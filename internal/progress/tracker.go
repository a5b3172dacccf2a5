package progress

import (
	"log/slog"
	"sync"

	"github.com/large-farva/compliance-console/internal/events"
	"github.com/large-farva/compliance-console/internal/logging"
)

// TrackerOptions configures a Tracker. All callbacks are optional.
type TrackerOptions struct {
	ExpectedBatches int
	Logger          *slog.Logger

	// OnChange runs after every event with the new state.
	OnChange func(State, events.Event)
	// OnTerminal runs once, on the event that made the job terminal.
	OnTerminal func(State)
	// OnReport runs once, with the first report of the job.
	OnReport func(events.ReportDocument)
}

// Tracker owns the progress state of one job. A new job gets a new Tracker.
//
// Apply is safe for concurrent use; events are reduced and their callbacks
// run one at a time in the order Apply acquires the tracker. Callbacks must
// not call Apply or Dispatch.
type Tracker struct {
	dispatchMu sync.Mutex // serializes reduce + callbacks

	mu    sync.RWMutex
	state State

	log  *slog.Logger
	opts TrackerOptions
}

// NewTracker returns a Tracker with an empty state.
func NewTracker(opts TrackerOptions) *Tracker {
	return &Tracker{
		state: NewState(opts.ExpectedBatches),
		log:   logging.OrDiscard(opts.Logger),
		opts:  opts,
	}
}

// Apply decodes one raw stream message and reduces it into the state.
func (t *Tracker) Apply(raw []byte) State {
	return t.Dispatch(events.Decode(raw))
}

// Dispatch reduces an already decoded event into the state and fires the
// callbacks for the resulting transition.
func (t *Tracker) Dispatch(ev events.Event) State {
	t.dispatchMu.Lock()
	defer t.dispatchMu.Unlock()

	t.mu.Lock()
	next, tr := Reduce(t.state, ev)
	t.state = next
	t.mu.Unlock()

	t.logEvent(next, ev, tr)

	if t.opts.OnChange != nil {
		t.opts.OnChange(next, ev)
	}
	if tr.BecameTerminal && t.opts.OnTerminal != nil {
		t.opts.OnTerminal(next)
	}
	if tr.Report != nil && t.opts.OnReport != nil {
		t.opts.OnReport(*tr.Report)
	}
	return next
}

// State returns a snapshot of the current state.
func (t *Tracker) State() State {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.state
}

func (t *Tracker) logEvent(s State, ev events.Event, tr Transition) {
	switch e := ev.(type) {
	case events.BatchResult:
		if tr.Ignored {
			t.log.Warn("batch result after job end ignored", "ignored", s.Ignored)
			return
		}
		t.log.Debug("batch result", "received", s.Received(), "expected", s.ExpectedBatches)
	case events.Report:
		if tr.Report == nil {
			t.log.Warn("duplicate report ignored", "model", e.Payload.Info.ModelName)
		}
	case events.Error:
		t.log.Error("server error", "message", e.Message)
	case events.Unrecognized:
		t.log.Warn("unrecognized stream message", "reason", e.Reason)
	}
	if tr.BecameTerminal {
		t.log.Info("job terminal", "received", s.Received(), "expected", s.ExpectedBatches)
	}
}
