package app

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"runtime"
	"sort"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/large-farva/compliance-console/internal/submit"
)

// ---------------------------------------------------------------------------
// Core handlers
// ---------------------------------------------------------------------------

func (a *App) handleHealthz(c *gin.Context) {
	// If the client asks for JSON, return component-level health checks.
	if c.GetHeader("Accept") == "application/json" {
		a.handleHealthDetailed(c)
		return
	}
	c.String(http.StatusOK, "ok\n")
}

func (a *App) handleHealthDetailed(c *gin.Context) {
	checks := gin.H{}
	allOK := true

	checks["catalog"] = gin.H{"ok": true, "tasks": len(a.catalog.TaskToMetricMap)}

	// Config file readable.
	if a.configPath != "" {
		if _, err := os.Stat(a.configPath); err != nil {
			checks["config_file"] = gin.H{"ok": false, "error": err.Error()}
			allOK = false
		} else {
			checks["config_file"] = gin.H{"ok": true, "path": a.configPath}
		}
	}

	booted := a.state.Load() != StateBooting
	checks["server"] = gin.H{"ok": booted, "state": a.state.Load()}
	if !booted {
		allOK = false
	}

	status := http.StatusOK
	if !allOK {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, gin.H{
		"healthy": allOK,
		"checks":  checks,
	})
}

func (a *App) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"name":           "compliance-console",
		"state":          a.state.Load(),
		"uptime_seconds": int64(time.Since(a.startedAt).Seconds()),
		"active_jobs":    a.jobs.active(),
		"catalog_tasks":  a.catalog.Tasks(),
		"go_version":     runtime.Version(),
	})
}

func (a *App) handleVersion(c *gin.Context) {
	c.JSON(http.StatusOK, Build())
}

func (a *App) handleConfig(c *gin.Context) {
	c.JSON(http.StatusOK, a.cfg)
}

func (a *App) handleJobs(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"jobs": a.jobs.list()})
}

// ---------------------------------------------------------------------------
// Evaluation API
// ---------------------------------------------------------------------------

func (a *App) handleTaskMetrics(c *gin.Context) {
	c.JSON(http.StatusOK, a.catalog)
}

// handleEvaluate accepts a job for the session named in X-Session-ID and
// answers 202 before any event is emitted. Events that beat the client's
// stream to the hub wait in the session backlog.
func (a *App) handleEvaluate(c *gin.Context) {
	session := strings.TrimSpace(c.GetHeader(submit.SessionHeader))
	if session == "" {
		a.reject(c, http.StatusBadRequest, "missing_session", "missing "+submit.SessionHeader+" header")
		return
	}

	var req submit.JobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		a.reject(c, http.StatusBadRequest, "bad_request", "invalid request body: "+err.Error())
		return
	}
	if err := req.Validate(); err != nil {
		var verr *submit.ValidationError
		if errors.As(err, &verr) {
			a.m.JobsRejected.WithLabelValues("invalid").Inc()
			c.JSON(http.StatusUnprocessableEntity, gin.H{"detail": verr.Fields})
			return
		}
		a.reject(c, http.StatusBadRequest, "invalid", err.Error())
		return
	}
	if unknown := a.unknownMetrics(req.Metrics); len(unknown) > 0 {
		a.reject(c, http.StatusUnprocessableEntity, "unknown_metric", "unknown metrics: "+strings.Join(unknown, ", "))
		return
	}

	job, err := a.jobs.start(session, req)
	if errors.Is(err, errSessionBusy) {
		a.reject(c, http.StatusConflict, "busy", err.Error())
		return
	}
	if err != nil {
		a.reject(c, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	c.JSON(http.StatusAccepted, gin.H{
		"job_id":  job.ID,
		"message": fmt.Sprintf("Evaluation started with %d batches", job.Batches),
	})
}

func (a *App) handleStream(c *gin.Context) {
	a.hub.Serve(c.Writer, c.Request, c.Param("session"))
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

// reject answers with a {"detail": msg} body and counts the rejection.
func (a *App) reject(c *gin.Context, code int, reason, msg string) {
	a.m.JobsRejected.WithLabelValues(reason).Inc()
	a.log.Warn("evaluation rejected", "status", code, "reason", reason, "detail", msg)
	c.JSON(code, gin.H{"detail": msg})
}

func (a *App) unknownMetrics(ms []string) []string {
	var unknown []string
	for _, m := range ms {
		if _, ok := a.known[m]; !ok {
			unknown = append(unknown, m)
		}
	}
	sort.Strings(unknown)
	return unknown
}
