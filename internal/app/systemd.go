package app

import (
	"context"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	logx "swarmd/pkg/logx"
)

// notifySystemd sends one sd_notify state message. Outside systemd
// (no NOTIFY_SOCKET) this is a no-op.
func notifySystemd(log logx.Logger, state string) {
	sent, err := daemon.SdNotify(false, state)
	if err != nil {
		log.Warn("sd_notify failed", logx.String("state", state), logx.Any("err", err))
		return
	}
	if sent {
		log.Debug("sd_notify", logx.String("state", state))
	}
}

// startWatchdog feeds the systemd watchdog at half the configured
// interval. No-op when WatchdogSec is not set on the unit.
func startWatchdog(sup *Supervisor, log logx.Logger) {
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil {
		log.Warn("watchdog probe failed", logx.Any("err", err))
		return
	}
	if interval <= 0 {
		return
	}
	period := interval / 2
	if period <= 0 {
		period = interval
	}
	log.Debug("systemd watchdog enabled", logx.Duration("interval", interval))
	sup.Go0("systemd.watchdog", func(ctx context.Context) {
		t := time.NewTicker(period)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				if _, err := daemon.SdNotify(false, daemon.SdNotifyWatchdog); err != nil {
					log.Warn("watchdog notify failed", logx.Any("err", err))
				}
			}
		}
	})
}
