// Package pollloop drives the periodic poll tick: once a second, in
// fixed hopper-then-validator order, so a hopper RESET is always
// observed before any validator event that might depend on coin
// replenishment having already been re-synced (§4.4).
package pollloop

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/metacash/ssp6d/internal/bus"
	"github.com/metacash/ssp6d/internal/device"
	"github.com/metacash/ssp6d/internal/events"
)

// Interval is the poll tick period (§4.4).
const Interval = 1 * time.Second

// Sink publishes one event envelope to topic.
type Sink interface {
	Publish(ctx context.Context, topic string, payload []byte) error
}

// Loop owns the poll timer and the two devices it drives.
type Loop struct {
	Hopper    *device.Device
	Validator *device.Device
	Bus       Sink
	Log       *slog.Logger

	// OnFatal is invoked when a device's post-reset host_protocol
	// re-assertion fails — the one unrecoverable condition polling can
	// hit (§7 Fatal, §6 exit code 3).
	OnFatal func(error)
}

// Run blocks, ticking every Interval until ctx is canceled.
func (l *Loop) Run(ctx context.Context) {
	ticker := time.NewTicker(Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.tick(ctx)
		}
	}
}

func (l *Loop) tick(ctx context.Context) {
	l.pollOne(ctx, l.Hopper, device.RoleHopper, bus.TopicHopperEvent)
	l.pollOne(ctx, l.Validator, device.RoleValidator, bus.TopicValidatorEvent)
}

func (l *Loop) pollOne(ctx context.Context, dev *device.Device, role device.Role, topic string) {
	if dev == nil {
		return
	}
	if dev.State() == device.StateDegraded {
		if err := dev.Recover(); err != nil {
			l.Log.Warn("degraded device recovery attempt failed", "error", err)
			return
		}
	}
	raw, err := dev.Poll()
	if err != nil && l.OnFatal != nil {
		l.OnFatal(err)
	}
	if len(raw) == 0 {
		return
	}
	report := dev.SetupReport()
	for _, ev := range raw {
		for _, de := range events.Translate(role, ev, report, dev) {
			payload, err := json.Marshal(de)
			if err != nil {
				l.Log.Error("pollloop: marshal event failed", "error", err)
				continue
			}
			if err := l.Bus.Publish(ctx, topic, payload); err != nil {
				l.Log.Error("pollloop: publish failed", "topic", topic, "error", err)
			}
		}
	}
}
