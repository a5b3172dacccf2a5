package pipeline

import (
	"sync"

	"github.com/large-farva/compliance-console/internal/progress"
	"github.com/large-farva/compliance-console/internal/report"
	"github.com/large-farva/compliance-console/internal/stream"
	"github.com/large-farva/compliance-console/internal/submit"
)

// Job is one submitted evaluation and its progress.
type Job struct {
	Request   submit.JobRequest
	Accepted  submit.Accepted
	SessionID string

	tracker *progress.Tracker

	mu       sync.Mutex
	conn     *stream.Connection
	artifact *report.Artifact
	err      error

	terminal     chan struct{}
	terminalOnce sync.Once
	done         chan struct{}
	doneOnce     sync.Once
}

func newJob(req submit.JobRequest, acc submit.Accepted, id string) *Job {
	return &Job{
		Request:   req,
		Accepted:  acc,
		SessionID: id,
		terminal:  make(chan struct{}),
		done:      make(chan struct{}),
	}
}

func (j *Job) apply(raw []byte) {
	j.tracker.Apply(raw)
}

func (j *Job) setConn(c *stream.Connection) {
	j.mu.Lock()
	j.conn = c
	j.mu.Unlock()
}

// Conn returns the stream connection the job was last opened on.
func (j *Job) Conn() *stream.Connection {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.conn
}

// State returns a snapshot of the job's progress.
func (j *Job) State() progress.State {
	return j.tracker.State()
}

// Terminal is closed when the job completes or reports.
func (j *Job) Terminal() <-chan struct{} {
	return j.terminal
}

// Done is closed once the report was assembled, or failed to assemble.
func (j *Job) Done() <-chan struct{} {
	return j.done
}

// Artifact returns the assembled report.
func (j *Job) Artifact() (report.Artifact, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.err != nil {
		return report.Artifact{}, j.err
	}
	if j.artifact == nil {
		return report.Artifact{}, ErrNoArtifact
	}
	return *j.artifact, nil
}

func (j *Job) markTerminal() {
	j.terminalOnce.Do(func() { close(j.terminal) })
}

func (j *Job) finish(art *report.Artifact, err error) {
	j.mu.Lock()
	if j.artifact == nil && j.err == nil {
		j.artifact, j.err = art, err
	}
	j.mu.Unlock()
	j.doneOnce.Do(func() { close(j.done) })
}
