// Package app wires together the reference evaluation backend: the gin HTTP
// API, the session-keyed websocket hub, and the simulated job runner. It owns
// the daemon's lifecycle and is the single source of truth for its state.
package app

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/large-farva/compliance-console/internal/config"
	"github.com/large-farva/compliance-console/internal/demo"
	"github.com/large-farva/compliance-console/internal/logging"
	"github.com/large-farva/compliance-console/internal/metrics"
	"github.com/large-farva/compliance-console/internal/submit"
	"github.com/large-farva/compliance-console/internal/ws"
)

// Daemon states reported by /api/status.
const (
	StateBooting    = "BOOTING"
	StateIdle       = "IDLE"
	StateEvaluating = "EVALUATING"
)

// StreamPath is where session streams are served.
const StreamPath = "/ws"

// Options holds everything the App needs from the caller.
type Options struct {
	Logger     *slog.Logger
	Cfg        config.Config
	ConfigPath string
	Bind       string
	// Registry receives the backend collectors. A fresh registry is used when
	// nil.
	Registry *prometheus.Registry
}

// App is the top-level daemon process.
type App struct {
	log        *slog.Logger
	cfg        config.Config
	configPath string
	bind       string
	server     *http.Server

	startedAt time.Time
	state     atomic.Value // BOOTING, IDLE, EVALUATING

	reg     *prometheus.Registry
	m       *metrics.Backend
	hub     *ws.Hub
	runner  *demo.Runner
	catalog submit.Catalog
	known   map[string]struct{}
	jobs    *jobRegistry
	engine  *gin.Engine
}

// New creates an App in the BOOTING state and loads the metric catalog.
// Call Run to start serving, or use Handler directly in tests.
func New(opts Options) (*App, error) {
	log := logging.OrDiscard(opts.Logger)
	cat, err := loadCatalog(opts.Cfg.Server.CatalogFile)
	if err != nil {
		return nil, err
	}

	reg := opts.Registry
	if reg == nil {
		reg = prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	}
	m := metrics.NewBackend(reg)

	hub := ws.NewHub(ws.Options{BacklogSize: opts.Cfg.Server.BacklogSize, Logger: log, Metrics: m})
	runner := demo.New(hub)
	if iv := opts.Cfg.Server.BatchInterval(); iv > 0 {
		runner.Interval = iv
	}
	runner.Log = log
	runner.Metrics = m

	a := &App{
		log:        log,
		cfg:        opts.Cfg,
		configPath: opts.ConfigPath,
		bind:       opts.Bind,
		startedAt:  time.Now(),
		reg:        reg,
		m:          m,
		hub:        hub,
		runner:     runner,
		catalog:    cat,
		known:      knownMetrics(cat),
	}
	a.jobs = newJobRegistry(runner, m, log, a.jobsChanged)
	a.state.Store(StateBooting)
	a.engine = a.routes()
	return a, nil
}

// Handler returns the HTTP handler serving the whole API.
func (a *App) Handler() http.Handler {
	return a.engine
}

// Hub returns the websocket hub. Tests start it with Hub().Run.
func (a *App) Hub() *ws.Hub {
	return a.hub
}

func (a *App) routes() *gin.Engine {
	r := gin.New()
	r.UseRawPath = true
	r.Use(gin.Recovery(), a.requestLog())

	r.GET("/healthz", a.handleHealthz)
	r.GET("/api/status", a.handleStatus)
	r.GET("/api/version", a.handleVersion)
	r.GET("/api/config", a.handleConfig)
	r.GET("/api/jobs", a.handleJobs)
	r.POST(routePath(a.cfg.Backend.EvaluatePath, submit.DefaultEvaluatePath), a.handleEvaluate)
	r.GET(routePath(a.cfg.Backend.MetricsPath, submit.DefaultMetricsPath), a.handleTaskMetrics)
	r.GET(StreamPath, a.handleStream)
	r.GET(StreamPath+"/:session", a.handleStream)
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(a.reg, promhttp.HandlerOpts{})))
	return r
}

func routePath(p, fallback string) string {
	if p == "" {
		return fallback
	}
	if p[0] != '/' {
		return "/" + p
	}
	return p
}

// Run starts the HTTP server and the websocket hub. It blocks until ctx is
// cancelled or the server fails, then cancels running jobs and shuts down.
func (a *App) Run(ctx context.Context) error {
	bind := a.bind
	if bind == "" {
		bind = a.cfg.Server.Bind
	}
	if bind == "" {
		bind = "127.0.0.1:8000"
	}

	a.server = &http.Server{
		Addr:              bind,
		Handler:           a.engine,
		ReadHeaderTimeout: 5 * time.Second,
	}

	ln, err := net.Listen("tcp", bind)
	if err != nil {
		return err
	}
	a.log.Info("listening", "addr", "http://"+ln.Addr().String())

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.hub.Run(gctx)
		return nil
	})
	g.Go(func() error {
		if err := a.server.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		a.log.Info("shutdown requested")
		a.jobs.stopAll()
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return a.server.Shutdown(sctx)
	})

	a.transition(StateIdle)
	return g.Wait()
}

// transition updates the daemon state and logs the change.
func (a *App) transition(newState string) {
	old := a.state.Swap(newState)
	if old == newState {
		return
	}
	a.log.Info("state change", "from", old, "to", newState)
}

func (a *App) jobsChanged(running int) {
	if a.state.Load() == StateBooting {
		return
	}
	if running > 0 {
		a.transition(StateEvaluating)
	} else {
		a.transition(StateIdle)
	}
}

func (a *App) requestLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		a.log.Debug("request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start))
	}
}
