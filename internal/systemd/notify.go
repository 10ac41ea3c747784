// Package systemd reports service state to systemd for Type=notify units.
package systemd

import (
	"context"
	"log/slog"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
)

// Notifier sends sd_notify messages. Every method is a no-op outside a
// notify-enabled unit.
type Notifier struct {
	logger *slog.Logger
	// unsetEnv clears NOTIFY_SOCKET after the first send so child
	// processes do not inherit it.
	unsetEnv bool
}

// NewNotifier creates a notifier.
func NewNotifier(logger *slog.Logger) *Notifier {
	return &Notifier{logger: logger}
}

func (n *Notifier) send(state string) bool {
	sent, err := daemon.SdNotify(n.unsetEnv, state)
	if err != nil {
		n.logger.Debug("sd_notify failed", "state", state, "error", err)
		return false
	}
	return sent
}

// Ready signals that the HTTP server is listening.
func (n *Notifier) Ready() {
	if n.send(daemon.SdNotifyReady) {
		n.logger.Info("Notified systemd of readiness")
	}
}

// Stopping signals an orderly shutdown.
func (n *Notifier) Stopping() {
	n.send(daemon.SdNotifyStopping)
}

// Status sets the free-form status line shown by systemctl status.
func (n *Notifier) Status(status string) {
	n.send("STATUS=" + status)
}

// RunWatchdog pings the watchdog at half the configured interval while
// healthy reports true. It returns immediately when the unit has no
// watchdog and otherwise blocks until ctx is done.
func (n *Notifier) RunWatchdog(ctx context.Context, healthy func() bool) {
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil || interval == 0 {
		return
	}
	ticker := time.NewTicker(interval / 2)
	defer ticker.Stop()
	n.logger.Info("systemd watchdog enabled", "interval", interval)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if healthy == nil || healthy() {
				n.send(daemon.SdNotifyWatchdog)
			}
		}
	}
}
