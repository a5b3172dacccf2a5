package ctl

import (
	"io"
	"strconv"
	"strings"
	"time"
)

// StatusResponse mirrors the JSON returned by GET /api/status.
type StatusResponse struct {
	Name          string   `json:"name"`
	State         string   `json:"state"`
	UptimeSeconds int64    `json:"uptime_seconds"`
	ActiveJobs    int      `json:"active_jobs"`
	CatalogTasks  []string `json:"catalog_tasks"`
	GoVersion     string   `json:"go_version"`
}

// Status fetches the backend status and prints a formatted summary.
func Status(w io.Writer, baseURL string, jsonOutput bool) error {
	baseURL = strings.TrimRight(baseURL, "/")

	var s StatusResponse
	if err := getJSON(baseURL, "/api/status", &s); err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(w, s)
	}

	p := newPrinter(w)
	p.header("EVALUATION BACKEND STATUS", 38)
	p.field("Backend", s.Name)
	p.field("State", p.style(stateStyle(s.State), s.State))
	p.field("Uptime", formatDuration(time.Duration(s.UptimeSeconds)*time.Second))
	p.field("Active jobs", strconv.Itoa(s.ActiveJobs))
	p.field("Tasks", strings.Join(s.CatalogTasks, ", "))
	p.field("Host", baseURL)
	p.println()

	return nil
}

// JobSummary mirrors one entry of GET /api/jobs.
type JobSummary struct {
	ID              string     `json:"job_id"`
	Session         string     `json:"session_id"`
	Model           string     `json:"model_url"`
	Dataset         string     `json:"dataset_url"`
	Metrics         []string   `json:"metrics"`
	NumberOfBatches int        `json:"number_of_batches"`
	State           string     `json:"state"`
	Error           string     `json:"error,omitempty"`
	StartedAt       time.Time  `json:"started_at"`
	FinishedAt      *time.Time `json:"finished_at,omitempty"`
}

// Jobs lists the backend's recent jobs, newest first.
func Jobs(w io.Writer, baseURL string, jsonOutput bool) error {
	baseURL = strings.TrimRight(baseURL, "/")

	var resp struct {
		Jobs []JobSummary `json:"jobs"`
	}
	if err := getJSON(baseURL, "/api/jobs", &resp); err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(w, resp)
	}

	p := newPrinter(w)
	p.header("RECENT JOBS", 70)
	if len(resp.Jobs) == 0 {
		p.println("  No jobs yet.")
		p.println()
		return nil
	}
	t := p.newTable("  ", "Job", "Model", "Batches", "State", "Started")
	t.alignRight(2)
	for _, j := range resp.Jobs {
		t.row(shortID(j.ID), j.Model, strconv.Itoa(j.NumberOfBatches),
			p.style(stateStyle(j.State), j.State), j.StartedAt.Local().Format("15:04:05"))
	}
	t.flush()
	p.println()
	return nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
