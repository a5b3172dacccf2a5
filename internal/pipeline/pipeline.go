// Package pipeline wires the client side together: submit a job, open the
// session's stream once the backend accepts it, reduce every message into a
// progress state, and assemble the report exactly once.
package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/large-farva/compliance-console/internal/config"
	"github.com/large-farva/compliance-console/internal/events"
	"github.com/large-farva/compliance-console/internal/logging"
	"github.com/large-farva/compliance-console/internal/metrics"
	"github.com/large-farva/compliance-console/internal/progress"
	"github.com/large-farva/compliance-console/internal/report"
	"github.com/large-farva/compliance-console/internal/session"
	"github.com/large-farva/compliance-console/internal/stream"
	"github.com/large-farva/compliance-console/internal/submit"
)

// ErrNoArtifact is returned by Job.Artifact before a report was assembled.
var ErrNoArtifact = errors.New("no report artifact yet")

// Options configures a Pipeline. Stream and Submitter are required.
type Options struct {
	Session   *session.Session
	Stream    *stream.Manager
	Submitter *submit.Submitter
	Assembler *report.Assembler
	Logger    *slog.Logger

	// OnChange sees every state change of the active job.
	OnChange func(progress.State, events.Event)
	// OnArtifact receives each job's report artifact, once.
	OnArtifact func(report.Artifact)
}

// Pipeline runs one job at a time.
type Pipeline struct {
	opts Options
	log  *slog.Logger

	mu  sync.Mutex
	job *Job
}

// New returns a Pipeline. A missing Session or Assembler gets a default.
func New(opts Options) (*Pipeline, error) {
	if opts.Stream == nil {
		return nil, errors.New("pipeline: stream manager is required")
	}
	if opts.Submitter == nil {
		return nil, errors.New("pipeline: submitter is required")
	}
	if opts.Session == nil {
		opts.Session = session.New()
	}
	log := logging.OrDiscard(opts.Logger)
	if opts.Assembler == nil {
		opts.Assembler = report.NewAssembler(report.WithLogger(log))
	}
	return &Pipeline{opts: opts, log: log}, nil
}

// FromConfig builds a Pipeline from the client configuration. reg may be nil.
func FromConfig(cfg config.Config, log *slog.Logger, reg prometheus.Registerer, onChange func(progress.State, events.Event), onArtifact func(report.Artifact)) (*Pipeline, error) {
	mgr, err := stream.NewManager(stream.Options{
		BaseURL:          cfg.Backend.StreamURL,
		ReconnectDelay:   cfg.Stream.ReconnectDelay(),
		MaxRetries:       cfg.Stream.MaxRetries,
		HandshakeTimeout: cfg.Stream.HandshakeTimeout(),
		Logger:           log,
		Metrics:          metrics.NewStream(reg),
	})
	if err != nil {
		return nil, err
	}
	sub := submit.NewSubmitter(cfg.Backend.BaseURL,
		submit.WithHTTPClient(&http.Client{Timeout: cfg.Backend.RequestTimeout()}),
		submit.WithEvaluatePath(cfg.Backend.EvaluatePath),
		submit.WithLogger(log),
	)
	return New(Options{
		Stream:     mgr,
		Submitter:  sub,
		Logger:     log,
		OnChange:   onChange,
		OnArtifact: onArtifact,
	})
}

// Session returns the identity the pipeline submits and streams under.
func (p *Pipeline) Session() *session.Session {
	return p.opts.Session
}

// Current returns the active job, or nil.
func (p *Pipeline) Current() *Job {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.job
}

// Start submits req under the current session and, once the backend accepts
// it, opens the session stream for a fresh job. On any submit error no stream
// is opened and the previous job is left alone.
func (p *Pipeline) Start(ctx context.Context, req submit.JobRequest) (*Job, error) {
	id := p.opts.Session.CurrentID()
	acc, err := p.opts.Submitter.Submit(ctx, id, req)
	if err != nil {
		return nil, err
	}

	job := newJob(req, acc, id)
	job.tracker = progress.NewTracker(progress.TrackerOptions{
		ExpectedBatches: req.NumberOfBatches,
		Logger:          p.log,
		OnChange:        p.opts.OnChange,
		OnTerminal:      func(progress.State) { job.markTerminal() },
		OnReport:        func(doc events.ReportDocument) { p.assemble(job, doc) },
	})

	p.mu.Lock()
	p.job = job
	// Open closes whatever stream the previous job left behind.
	job.setConn(p.opts.Stream.Open(id, job.apply))
	p.mu.Unlock()

	p.log.Info("job started", "session", id, "job_id", acc.JobID, "batches", req.NumberOfBatches)
	return job, nil
}

// RegenerateSession installs a new session identifier and, when a job is
// streaming, reconnects its stream under the new identifier.
func (p *Pipeline) RegenerateSession() string {
	id := p.opts.Session.Regenerate()

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.job == nil {
		return id
	}
	if c := p.job.Conn(); c != nil && !c.Intentional() {
		p.job.setConn(p.opts.Stream.Open(id, p.job.apply))
		p.log.Info("session regenerated, stream reopened", "session", id)
	}
	return id
}

// Close stops the active stream. The job keeps its last state.
func (p *Pipeline) Close() {
	p.opts.Stream.CloseCurrent()
}

func (p *Pipeline) assemble(job *Job, doc events.ReportDocument) {
	art, err := p.opts.Assembler.Assemble(doc)
	if err != nil {
		p.log.Error("report assembly failed", "error", err)
		job.finish(nil, err)
		return
	}
	if p.opts.OnArtifact != nil {
		p.opts.OnArtifact(art)
	}
	job.finish(&art, nil)
}
