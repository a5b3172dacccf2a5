package ctl

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/large-farva/compliance-console/internal/config"
	"github.com/large-farva/compliance-console/internal/events"
	"github.com/large-farva/compliance-console/internal/logging"
	"github.com/large-farva/compliance-console/internal/pipeline"
	"github.com/large-farva/compliance-console/internal/progress"
	"github.com/large-farva/compliance-console/internal/submit"
)

// DefaultReportWait is how long evaluate waits for the report once the job
// has completed.
const DefaultReportWait = 30 * time.Second

// ErrNoReport is returned when a job completes without sending its report in
// time.
var ErrNoReport = errors.New("job completed without a report")

// EvaluateOptions controls the evaluate command.
type EvaluateOptions struct {
	// Request holds the flag values; they override RequestFile.
	Request     submit.JobRequest
	RequestFile string
	Task        string
	// Prompt asks for missing fields interactively.
	Prompt     bool
	In         io.Reader
	OutputDir  string
	ReportWait time.Duration
	JSON       bool
}

// EvaluateResult is what evaluate prints in JSON mode.
type EvaluateResult struct {
	JobID      string      `json:"job_id"`
	SessionID  string      `json:"session_id"`
	Message    string      `json:"message"`
	ReportPath string      `json:"report_path,omitempty"`
	Progress   summaryJSON `json:"progress"`
}

// Evaluate submits a job, renders its progress as events arrive, and writes
// the report to the output directory once it is assembled.
func Evaluate(ctx context.Context, w io.Writer, cfg config.Config, log *slog.Logger, opts EvaluateOptions) (EvaluateResult, error) {
	log = logging.OrDiscard(log)
	var res EvaluateResult

	req := opts.Request
	if opts.RequestFile != "" {
		fromFile, err := LoadRequest(opts.RequestFile)
		if err != nil {
			return res, err
		}
		req = overlay(fromFile, opts.Request)
	}
	if opts.Prompt && incomplete(req) {
		loader := NewCatalogLoader(cfg)
		if _, err := loader.Load(ctx); err != nil {
			log.Warn("metric catalog unavailable", "error", err)
		}
		in := opts.In
		if in == nil {
			in = os.Stdin
		}
		var err error
		if req, err = RunWizard(in, w, loader, req, opts.Task); err != nil {
			return res, err
		}
	}
	if req.MaxConcurrentBatches == 0 {
		req.MaxConcurrentBatches = 1
	}

	p := newPrinter(w)
	var (
		mu      sync.Mutex
		stopped bool
	)
	onChange := func(st progress.State, ev events.Event) {
		if opts.JSON {
			return
		}
		mu.Lock()
		defer mu.Unlock()
		if !stopped {
			p.renderEvent(ev, st)
		}
	}
	quiet := func() {
		mu.Lock()
		stopped = true
		mu.Unlock()
	}

	pl, err := pipeline.FromConfig(cfg, log, nil, onChange, nil)
	if err != nil {
		return res, err
	}
	defer pl.Close()

	job, err := pl.Start(ctx, req)
	if err != nil {
		if !opts.JSON {
			p.printSubmitError(err)
		}
		return res, err
	}
	res.JobID = job.Accepted.JobID
	res.SessionID = job.SessionID
	res.Message = job.Accepted.Message

	if !opts.JSON {
		mu.Lock()
		p.println()
		p.printf("  %s %s\n", p.style(green, "accepted"), res.Message)
		p.printf("  %s %s  %s %s\n", p.style(dim, "job"), res.JobID, p.style(dim, "session"), res.SessionID)
		p.println(p.style(dim, "  "+strings.Repeat("─", 50)))
		mu.Unlock()
	}

	waitErr := waitForReport(ctx, job, reportWait(opts.ReportWait))
	pl.Close()
	quiet()
	res.Progress = summarize(job.State())

	if waitErr == nil {
		art, err := job.Artifact()
		if err != nil {
			waitErr = err
		} else {
			dir := opts.OutputDir
			if dir == "" {
				dir = cfg.Report.OutputDir
			}
			if res.ReportPath, err = art.Save(dir); err != nil {
				waitErr = fmt.Errorf("save report: %w", err)
			}
		}
	}

	if opts.JSON {
		if err := printJSON(w, res); err != nil {
			return res, err
		}
		return res, waitErr
	}

	p.renderSummary(job.State())
	p.println()
	if res.ReportPath != "" {
		p.printf("  %s %s\n", p.style(green, "report saved"), res.ReportPath)
		p.println()
	}
	return res, waitErr
}

// waitForReport blocks until the job's report was assembled. Once the job is
// terminal the report gets at most wait to arrive.
func waitForReport(ctx context.Context, job *pipeline.Job, wait time.Duration) error {
	terminal := job.Terminal()
	var timeout <-chan time.Time
	for {
		select {
		case <-job.Done():
			return nil
		case <-terminal:
			terminal = nil
			t := time.NewTimer(wait)
			defer t.Stop()
			timeout = t.C
		case <-timeout:
			return ErrNoReport
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func reportWait(d time.Duration) time.Duration {
	if d <= 0 {
		return DefaultReportWait
	}
	return d
}

// printSubmitError renders a rejected submission with its header and the
// backend's detail, or the per-field validation failures.
func (p *printer) printSubmitError(err error) {
	var verr *submit.ValidationError
	var serr *submit.SubmissionError
	p.println()
	switch {
	case errors.As(err, &verr):
		p.printf("  %s\n", p.style(red, "Invalid request"))
		for _, f := range verr.Fields {
			p.printf("    %s %s\n", p.style(bold, f.Field), f.Message)
		}
	case errors.As(err, &serr):
		p.printf("  %s\n", p.style(red, serr.Header()))
		if serr.Transport() {
			p.printf("    %s\n", serr.Err)
		} else {
			p.printf("    %s\n", serr.Detail)
		}
	}
	p.println()
}
