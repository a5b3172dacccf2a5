// Complyctl is the command-line client for the compliance console. It
// submits evaluation jobs, follows their live progress over the session
// stream, and saves the final report. Read-only commands query a running
// backend over HTTP.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/large-farva/compliance-console/internal/config"
	"github.com/large-farva/compliance-console/internal/ctl"
	"github.com/large-farva/compliance-console/internal/logging"
	"github.com/large-farva/compliance-console/internal/submit"
)

type globalFlags struct {
	configPath string
	host       string
	streamURL  string
	jsonOut    bool
	logLevel   string
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		if !errors.Is(err, ctl.ErrCheckFailed) {
			_, _ = fmt.Fprintln(os.Stderr, "error:", err)
		}
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	g := &globalFlags{}

	root := &cobra.Command{
		Use:           "complyctl",
		Short:         "Compliance evaluation console",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	pf := root.PersistentFlags()
	pf.StringVarP(&g.configPath, "config", "c", "", "Path to config TOML (defaults apply when empty)")
	pf.StringVarP(&g.host, "host", "H", "", "Backend base URL (overrides backend.base_url)")
	pf.StringVar(&g.streamURL, "stream", "", "Stream base URL (default: derived from --host)")
	pf.BoolVar(&g.jsonOut, "json", false, "Output raw JSON instead of formatted text")
	pf.StringVar(&g.logLevel, "log-level", "warn", "Log level for diagnostics on stderr")

	root.AddCommand(
		newEvaluateCmd(g),
		newMetricsCmd(g),
		newWatchCmd(g),
		newLogsCmd(g),
		newCheckURLCmd(g),
		newCheckBatchesCmd(g),
		newHealthCmd(g),
		newStatusCmd(g),
		newJobsCmd(g),
		newConfigCmd(g),
		newVersionCmd(g),
	)
	return root
}

// load resolves the client configuration and logger from the global flags.
func (g *globalFlags) load() (config.Config, *slog.Logger, error) {
	cfg, err := config.LoadOrDefault(g.configPath)
	if err != nil {
		return cfg, nil, err
	}
	if g.host != "" {
		cfg.Backend.BaseURL = strings.TrimRight(g.host, "/")
		if g.streamURL == "" {
			stream, err := streamFromHost(cfg.Backend.BaseURL)
			if err != nil {
				return cfg, nil, err
			}
			cfg.Backend.StreamURL = stream
		}
	}
	if g.streamURL != "" {
		cfg.Backend.StreamURL = g.streamURL
	}
	if g.logLevel != "" {
		cfg.Logging.Level = g.logLevel
	}
	log := logging.New(logging.Config{
		Level:   cfg.Logging.Level,
		Format:  cfg.Logging.Format,
		Service: "complyctl",
	})
	return cfg, log, nil
}

// streamFromHost maps http(s)://host to ws(s)://host/ws.
func streamFromHost(host string) (string, error) {
	u, err := url.Parse(host)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws"
	u.RawQuery = ""
	return u.String(), nil
}

func newEvaluateCmd(g *globalFlags) *cobra.Command {
	var (
		req      submit.JobRequest
		opts     ctl.EvaluateOptions
		noPrompt bool
	)
	cmd := &cobra.Command{
		Use:   "evaluate",
		Short: "Submit an evaluation job, follow its progress, and save the report",
		Long: "Submit an evaluation job, follow its progress, and save the report.\n\n" +
			"Fields missing from the flags and --request file are asked for interactively\n" +
			"unless --no-prompt or --json is given.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := g.load()
			if err != nil {
				return err
			}
			opts.Request = req
			opts.JSON = g.jsonOut
			opts.Prompt = !noPrompt && !g.jsonOut
			opts.In = cmd.InOrStdin()
			_, err = ctl.Evaluate(cmd.Context(), cmd.OutOrStdout(), cfg, log, opts)
			return err
		},
	}
	f := cmd.Flags()
	f.StringVar(&req.ModelURL, "model", "", "Model endpoint URL")
	f.StringVar(&req.ModelAPIKey, "model-key", "", "Model API key")
	f.StringVar(&req.DatasetURL, "dataset", "", "Dataset endpoint URL")
	f.StringVar(&req.DatasetAPIKey, "dataset-key", "", "Dataset API key")
	f.StringSliceVar(&req.Metrics, "metrics", nil, "Metrics to compute (comma-separated)")
	f.IntVar(&req.NumberOfBatches, "batches", 0, "Number of batches")
	f.IntVar(&req.BatchSize, "batch-size", 0, "Samples per batch")
	f.IntVar(&req.MaxConcurrentBatches, "concurrency", 0, "Max concurrent batches (default 1)")
	f.StringVarP(&opts.RequestFile, "request", "f", "", "Read the job request from a YAML or JSON file")
	f.StringVar(&opts.Task, "task", "", "Model type preselected in the wizard")
	f.StringVarP(&opts.OutputDir, "output", "o", "", "Report directory (overrides report.output_dir)")
	f.DurationVar(&opts.ReportWait, "report-wait", ctl.DefaultReportWait, "How long to wait for the report after the job completes")
	f.BoolVar(&noPrompt, "no-prompt", false, "Never prompt; fail on missing fields")
	return cmd
}

func newMetricsCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "metrics [task]",
		Short: "List task types and the metrics they support",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := g.load()
			if err != nil {
				return err
			}
			task := ""
			if len(args) == 1 {
				task = args[0]
			}
			return ctl.Metrics(cmd.Context(), cmd.OutOrStdout(), cfg, task, g.jsonOut)
		},
	}
}

func newWatchCmd(g *globalFlags) *cobra.Command {
	var opts ctl.WatchOptions
	cmd := &cobra.Command{
		Use:   "watch <session-id>",
		Short: "Stream a session's live events until its report arrives (Ctrl-C to stop)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := g.load()
			if err != nil {
				return err
			}
			opts.JSON = g.jsonOut
			_, err = ctl.Watch(cmd.Context(), cmd.OutOrStdout(), cfg, log, args[0], opts)
			return err
		},
	}
	cmd.Flags().StringSliceVar(&opts.Filter, "filter", nil, "Event kinds to show (log, batch_result, job_complete, report, error, unrecognized)")
	cmd.Flags().IntVar(&opts.Batches, "batches", 0, "Expected number of batches, for the progress bar")
	return cmd
}

func newLogsCmd(g *globalFlags) *cobra.Command {
	var opts ctl.LogsOptions
	cmd := &cobra.Command{
		Use:   "logs <session-id>",
		Short: "Follow a session's progress log lines",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := g.load()
			if err != nil {
				return err
			}
			opts.JSON = g.jsonOut
			return ctl.Logs(cmd.Context(), cmd.OutOrStdout(), cfg, log, args[0], opts)
		},
	}
	cmd.Flags().BoolVar(&opts.Errors, "errors", true, "Include server error messages")
	return cmd
}

func newCheckURLCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "check-url <url>...",
		Short: "Check endpoints against the request URL rules",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctl.CheckURLs(cmd.OutOrStdout(), args, g.jsonOut)
		},
	}
}

func newCheckBatchesCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "check-batches <batch-size> <number-of-batches>",
		Short: "Check a batch configuration against the accepted sample totals",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			size, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("batch size: %w", err)
			}
			n, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("number of batches: %w", err)
			}
			return ctl.CheckBatches(cmd.OutOrStdout(), size, n, g.jsonOut)
		},
	}
}

// hostCommand builds a command that only needs the backend base URL.
func hostCommand(g *globalFlags, use, short string, run func(g *globalFlags, cmd *cobra.Command, baseURL string) error) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, err := g.load()
			if err != nil {
				return err
			}
			return run(g, cmd, cfg.Backend.BaseURL)
		},
	}
}

func newHealthCmd(g *globalFlags) *cobra.Command {
	return hostCommand(g, "health", "Check backend and component health", func(g *globalFlags, cmd *cobra.Command, base string) error {
		return ctl.Health(cmd.OutOrStdout(), base, g.jsonOut)
	})
}

func newStatusCmd(g *globalFlags) *cobra.Command {
	return hostCommand(g, "status", "Show backend state, uptime, and active jobs", func(g *globalFlags, cmd *cobra.Command, base string) error {
		return ctl.Status(cmd.OutOrStdout(), base, g.jsonOut)
	})
}

func newJobsCmd(g *globalFlags) *cobra.Command {
	return hostCommand(g, "jobs", "List the backend's recent jobs", func(g *globalFlags, cmd *cobra.Command, base string) error {
		return ctl.Jobs(cmd.OutOrStdout(), base, g.jsonOut)
	})
}

func newConfigCmd(g *globalFlags) *cobra.Command {
	return hostCommand(g, "config", "Show the backend's running configuration", func(g *globalFlags, cmd *cobra.Command, base string) error {
		return ctl.Config(cmd.OutOrStdout(), base, g.jsonOut)
	})
}

func newVersionCmd(g *globalFlags) *cobra.Command {
	return hostCommand(g, "version", "Show CLI and backend version information", func(g *globalFlags, cmd *cobra.Command, base string) error {
		return ctl.VersionInfo(cmd.OutOrStdout(), base, g.jsonOut)
	})
}
