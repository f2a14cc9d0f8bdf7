// Package notify delivers user-facing notifications about sync
// outcomes. Delivery is fire-and-forget; a lost notification never
// affects the sync cycle.
package notify

import (
	"context"
	"log/slog"
	"os/exec"
)

// Notifier receives (title, message) pairs on publish success and on
// fatal cycle errors.
type Notifier interface {
	Notify(ctx context.Context, title, message string)
}

// Desktop sends notifications via the notify-send command. Failures
// are only logged.
type Desktop struct {
	logger *slog.Logger
}

// NewDesktop creates a desktop notifier.
func NewDesktop(logger *slog.Logger) *Desktop {
	return &Desktop{logger: logger}
}

// Notify implements Notifier.
func (d *Desktop) Notify(ctx context.Context, title, message string) {
	cmd := exec.CommandContext(ctx, "notify-send", "--app-name=dotsyncd", title, message)
	if output, err := cmd.CombinedOutput(); err != nil {
		d.logger.Warn("failed to send desktop notification",
			"title", title, "error", err, "output", string(output))
	}
}

// Log writes notifications to the logger only, for headless hosts
// without a notification daemon.
type Log struct {
	logger *slog.Logger
}

// NewLog creates a log-only notifier.
func NewLog(logger *slog.Logger) *Log {
	return &Log{logger: logger}
}

// Notify implements Notifier.
func (l *Log) Notify(_ context.Context, title, message string) {
	l.logger.Info("notification", "title", title, "message", message)
}

// Nop discards notifications.
type Nop struct{}

// Notify implements Notifier.
func (Nop) Notify(context.Context, string, string) {}
