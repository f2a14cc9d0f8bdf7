// Package daemon runs reconciliation cycles on a schedule: a fixed
// interval ticker, an optional filesystem watcher over the tracked
// paths, and an optional local HTTP endpoint for manual triggers.
// Cycles never overlap; triggers arriving mid-cycle coalesce into a
// single follow-up run.
package daemon

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/schaermu/dotsyncd/internal/config"
)

// Syncer runs one reconciliation cycle.
type Syncer interface {
	Run(ctx context.Context) error
}

// Daemon schedules sync cycles.
type Daemon struct {
	cfg    *config.Config
	syncer Syncer
	logger *slog.Logger

	syncMu      sync.Mutex // guards syncRunning and syncPending
	syncRunning bool       // whether a cycle is currently in progress
	syncPending bool       // whether another cycle is needed after the current one

	debounce *debouncer
}

// New creates a daemon around the given syncer.
func New(cfg *config.Config, syncer Syncer, logger *slog.Logger) *Daemon {
	d := &Daemon{
		cfg:    cfg,
		syncer: syncer,
		logger: logger,
	}
	d.debounce = &debouncer{delay: 2 * time.Second}
	return d
}

// Start runs the daemon until the context is cancelled. An initial
// cycle runs immediately; afterwards cycles are driven by the interval
// ticker, the watcher, and the trigger endpoint.
func (d *Daemon) Start(ctx context.Context) error {
	d.debounce.callback = func() { d.performSync(ctx) }

	if d.cfg.Daemon.Watch {
		if err := d.startWatcher(ctx); err != nil {
			return err
		}
	}
	if d.cfg.Daemon.TriggerAddr != "" {
		if err := d.startTrigger(ctx); err != nil {
			return err
		}
	}

	d.logger.Info("daemon started", "interval", time.Duration(d.cfg.Daemon.Interval).String(),
		"watch", d.cfg.Daemon.Watch, "trigger_addr", d.cfg.Daemon.TriggerAddr)
	d.performSync(ctx)

	ticker := time.NewTicker(time.Duration(d.cfg.Daemon.Interval))
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			d.performSync(ctx)
		case <-ctx.Done():
			d.logger.Info("daemon shutting down")
			return nil
		}
	}
}

// performSync runs one cycle, serializing concurrent requests. A
// request arriving while a cycle runs marks it pending; the running
// goroutine picks it up, so at most one follow-up cycle is queued.
func (d *Daemon) performSync(ctx context.Context) {
	d.syncMu.Lock()
	if d.syncRunning {
		d.syncPending = true
		d.syncMu.Unlock()
		d.logger.Debug("sync already running, queued follow-up")
		return
	}
	d.syncRunning = true
	d.syncMu.Unlock()

	for {
		if err := d.syncer.Run(ctx); err != nil {
			// The cycle reported and notified already; the next
			// scheduled run is the retry boundary.
			d.logger.Warn("sync cycle failed, waiting for next trigger", "error", err)
		}

		d.syncMu.Lock()
		if d.syncPending {
			d.syncPending = false
			d.syncMu.Unlock()
			continue
		}
		d.syncRunning = false
		d.syncMu.Unlock()
		return
	}
}

// debouncer coalesces bursts of triggers into one callback invocation.
type debouncer struct {
	mu       sync.Mutex
	timer    *time.Timer
	delay    time.Duration
	callback func()
}

// trigger schedules the callback after the delay, resetting the timer
// if one is already pending.
func (db *debouncer) trigger() {
	db.mu.Lock()
	defer db.mu.Unlock()

	if db.timer != nil {
		db.timer.Stop()
	}
	db.timer = time.AfterFunc(db.delay, db.callback)
}
