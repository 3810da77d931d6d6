package mailbox

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// Watcher re-runs the harvester on a fixed interval until its context is
// cancelled. A broken session is reconnected; per-run errors never stop the
// loop.
type Watcher struct {
	client    *Client
	harvester *Harvester
	interval  time.Duration
	logger    *slog.Logger
}

// NewWatcher creates a polling watcher around an already constructed client
// and harvester.
func NewWatcher(client *Client, harvester *Harvester, interval time.Duration, logger *slog.Logger) *Watcher {
	return &Watcher{
		client:    client,
		harvester: harvester,
		interval:  interval,
		logger:    logger.With("component", "watcher"),
	}
}

// Run blocks until ctx is cancelled, harvesting once immediately and then on
// every tick. The session is closed cleanly on exit.
func (w *Watcher) Run(ctx context.Context, opts Options) error {
	if err := w.client.Connect(ctx); err != nil {
		return err
	}
	defer w.client.Logout()

	w.logger.Info("watch loop started", "interval", w.interval)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		w.harvestOnce(ctx, opts)

		select {
		case <-ctx.Done():
			w.logger.Info("watch loop stopping")
			return nil
		case <-ticker.C:
		}
	}
}

func (w *Watcher) harvestOnce(ctx context.Context, opts Options) {
	files, err := w.harvester.Harvest(ctx, opts)
	switch {
	case err == nil:
		if len(files) > 0 {
			w.logger.Info("harvested new files", "count", len(files))
		}
	case errors.Is(err, context.Canceled):
		// Shutdown mid-batch; Harvest already saved what was fully handled.
	default:
		w.logger.Warn("harvest failed, reconnecting", "error", err)
		w.client.Disconnect()
		if err := w.client.Connect(ctx); err != nil {
			w.logger.Error("reconnect failed", "error", err)
		}
	}
}
