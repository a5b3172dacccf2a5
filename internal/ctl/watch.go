package ctl

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/large-farva/compliance-console/internal/config"
	"github.com/large-farva/compliance-console/internal/events"
	"github.com/large-farva/compliance-console/internal/progress"
	"github.com/large-farva/compliance-console/internal/stream"
)

// WatchOptions controls the watch command behavior.
type WatchOptions struct {
	Filter  []string // event kinds to show (empty = all)
	JSON    bool     // print each event in its wire form
	Batches int      // expected batches, for the progress bar
}

// Watch attaches to a session's event stream and renders events until the
// job reports or ctx is cancelled. Reconnects follow the configured stream
// policy.
func Watch(ctx context.Context, w io.Writer, cfg config.Config, log *slog.Logger, sessionID string, opts WatchOptions) (progress.State, error) {
	mgr, err := stream.NewManager(stream.Options{
		BaseURL:          cfg.Backend.StreamURL,
		ReconnectDelay:   cfg.Stream.ReconnectDelay(),
		MaxRetries:       cfg.Stream.MaxRetries,
		HandshakeTimeout: cfg.Stream.HandshakeTimeout(),
		Logger:           log,
	})
	if err != nil {
		return progress.State{}, err
	}

	// Build a filter set for O(1) lookup.
	filterSet := make(map[events.Kind]bool, len(opts.Filter))
	for _, f := range opts.Filter {
		filterSet[events.Kind(strings.TrimSpace(f))] = true
	}

	p := newPrinter(w)
	if !opts.JSON {
		p.println()
		p.printf("  %s %s\n", p.style(green, "watching"), p.style(dim, mgr.TargetURL(sessionID)))
		if len(opts.Filter) > 0 {
			p.printf("  %s %s\n", p.style(dim, "filter:"), p.style(dim, strings.Join(opts.Filter, ", ")))
		}
		p.println(p.style(dim, "  "+strings.Repeat("─", 50)))
		p.println()
	}

	// Output stops once Watch returns; the stream may still deliver a
	// message while it is being closed.
	var (
		mu      sync.Mutex
		stopped bool
	)
	reported := make(chan struct{})
	tracker := progress.NewTracker(progress.TrackerOptions{
		ExpectedBatches: opts.Batches,
		Logger:          log,
		OnChange: func(st progress.State, ev events.Event) {
			mu.Lock()
			defer mu.Unlock()
			if stopped {
				return
			}
			if len(filterSet) > 0 && !filterSet[ev.Kind()] {
				return
			}
			if opts.JSON {
				printWire(p, ev)
				return
			}
			p.renderEvent(ev, st)
		},
		OnReport: func(events.ReportDocument) { close(reported) },
	})

	mgr.Open(sessionID, func(raw []byte) { tracker.Apply(raw) })

	interrupted := false
	select {
	case <-ctx.Done():
		interrupted = true
	case <-reported:
	}
	mgr.CloseCurrent()

	mu.Lock()
	stopped = true
	mu.Unlock()
	if interrupted && !opts.JSON {
		p.println()
		p.println(p.style(dim, "  disconnecting..."))
	}
	return tracker.State(), nil
}

// printWire prints ev in its wire form. Unrecognized messages are printed as
// received.
func printWire(p *printer, ev events.Event) {
	if u, ok := ev.(events.Unrecognized); ok {
		p.println(u.Raw)
		return
	}
	b, err := events.Encode(ev)
	if err != nil {
		return
	}
	p.println(string(b))
}
