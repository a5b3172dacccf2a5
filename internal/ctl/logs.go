package ctl

import (
	"context"
	"io"
	"log/slog"

	"github.com/large-farva/compliance-console/internal/config"
	"github.com/large-farva/compliance-console/internal/events"
)

// LogsOptions configures the logs command.
type LogsOptions struct {
	Errors bool // include server ERROR messages
	JSON   bool
}

// Logs follows a session's progress log lines until the job reports or ctx is
// cancelled. It is watch with a log filter.
func Logs(ctx context.Context, w io.Writer, cfg config.Config, log *slog.Logger, sessionID string, opts LogsOptions) error {
	filter := []string{string(events.KindLog), string(events.KindJobComplete)}
	if opts.Errors {
		filter = append(filter, string(events.KindError))
	}
	_, err := Watch(ctx, w, cfg, log, sessionID, WatchOptions{
		Filter: filter,
		JSON:   opts.JSON,
	})
	return err
}
