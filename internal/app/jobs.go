package app

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/large-farva/compliance-console/internal/demo"
	"github.com/large-farva/compliance-console/internal/metrics"
	"github.com/large-farva/compliance-console/internal/submit"
)

// errSessionBusy rejects a second job for a session whose job still runs.
var errSessionBusy = errors.New("an evaluation is already running for this session")

// Job states.
const (
	jobRunning   = "running"
	jobComplete  = "complete"
	jobFailed    = "failed"
	jobCancelled = "cancelled"
)

const recentJobs = 50

// jobInfo is the /api/jobs view of one job.
type jobInfo struct {
	ID         string     `json:"job_id"`
	Session    string     `json:"session_id"`
	Model      string     `json:"model_url"`
	Dataset    string     `json:"dataset_url"`
	Metrics    []string   `json:"metrics"`
	Batches    int        `json:"number_of_batches"`
	State      string     `json:"state"`
	Error      string     `json:"error,omitempty"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

type jobEntry struct {
	info   jobInfo
	cancel context.CancelFunc
}

// jobRegistry starts simulated jobs and remembers the recent ones.
type jobRegistry struct {
	runner   *demo.Runner
	m        *metrics.Backend
	log      *slog.Logger
	onChange func(running int)

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	running map[string]*jobEntry // by session
	recent  []*jobEntry
}

func newJobRegistry(runner *demo.Runner, m *metrics.Backend, log *slog.Logger, onChange func(int)) *jobRegistry {
	ctx, cancel := context.WithCancel(context.Background())
	return &jobRegistry{
		runner:   runner,
		m:        m,
		log:      log,
		onChange: onChange,
		ctx:      ctx,
		cancel:   cancel,
		running:  make(map[string]*jobEntry),
	}
}

// start launches req for session unless that session already has a job
// running.
func (r *jobRegistry) start(session string, req submit.JobRequest) (jobInfo, error) {
	r.mu.Lock()
	if _, busy := r.running[session]; busy {
		r.mu.Unlock()
		return jobInfo{}, errSessionBusy
	}
	ctx, cancel := context.WithCancel(r.ctx)
	e := &jobEntry{
		info: jobInfo{
			ID:        uuid.NewString(),
			Session:   session,
			Model:     req.ModelURL,
			Dataset:   req.DatasetURL,
			Metrics:   append([]string(nil), req.Metrics...),
			Batches:   req.NumberOfBatches,
			State:     jobRunning,
			StartedAt: time.Now().UTC(),
		},
		cancel: cancel,
	}
	r.running[session] = e
	r.recent = append(r.recent, e)
	if len(r.recent) > recentJobs {
		r.recent = r.recent[len(r.recent)-recentJobs:]
	}
	n := len(r.running)
	info := e.info
	r.wg.Add(1)
	r.mu.Unlock()

	r.m.JobsAccepted.Inc()
	r.onChange(n)
	r.log.Info("job accepted", "job_id", info.ID, "session", session, "model", req.ModelURL)

	go func() {
		defer r.wg.Done()
		err := r.runner.Run(ctx, demo.Job{ID: info.ID, Session: session, Request: req})
		r.finish(e, err)
	}()
	return info, nil
}

func (r *jobRegistry) finish(e *jobEntry, err error) {
	e.cancel()
	now := time.Now().UTC()

	r.mu.Lock()
	switch {
	case err == nil:
		e.info.State = jobComplete
	case errors.Is(err, context.Canceled):
		e.info.State = jobCancelled
	default:
		e.info.State = jobFailed
		e.info.Error = err.Error()
	}
	e.info.FinishedAt = &now
	if r.running[e.info.Session] == e {
		delete(r.running, e.info.Session)
	}
	n := len(r.running)
	state := e.info.State
	r.mu.Unlock()

	r.onChange(n)
	if err != nil && state == jobFailed {
		r.log.Error("job failed", "job_id", e.info.ID, "error", err)
	}
}

// list returns the recent jobs, newest first.
func (r *jobRegistry) list() []jobInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]jobInfo, 0, len(r.recent))
	for i := len(r.recent) - 1; i >= 0; i-- {
		out = append(out, r.recent[i].info)
	}
	return out
}

func (r *jobRegistry) active() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.running)
}

// stopAll cancels every running job and waits for the runners to return.
func (r *jobRegistry) stopAll() {
	r.cancel()
	r.wg.Wait()
}
