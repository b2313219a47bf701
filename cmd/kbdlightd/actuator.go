package main

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/time/rate"
)

// actuator is the single consumer of the command channel. It is the only
// code that calls SetBrightness.
type actuator struct {
	backlight brightnessSetter
	state     *brightnessState
	status    *statusPublisher
	logger    *slog.Logger

	// A dead backlight service fails every fade step; only warn now and then.
	warnFailure rate.Sometimes
}

func newActuator(backlight brightnessSetter, state *brightnessState, status *statusPublisher, logger *slog.Logger) *actuator {
	return &actuator{
		backlight:   backlight,
		state:       state,
		status:      status,
		logger:      logger.With("component", "actuator"),
		warnFailure: rate.Sometimes{First: 3, Interval: 10 * time.Second},
	}
}

// Run consumes brightness levels until ctx is canceled or cmds is closed.
//
// A level equal to the last observed brightness is skipped. A failed call is
// dropped; the next level is processed normally.
func (a *actuator) Run(ctx context.Context, cmds <-chan int32) {
	for {
		select {
		case <-ctx.Done():
			a.logger.Debug("actuator stopping (context canceled)")
			return

		case level, ok := <-cmds:
			if !ok {
				a.logger.Debug("actuator stopping (command channel closed)")
				return
			}
			a.apply(ctx, level)
		}
	}
}

func (a *actuator) apply(ctx context.Context, level int32) {
	if a.state.Matches(level) {
		a.logger.Debug("brightness already at level, skipping", "level", level)
		return
	}

	if err := a.backlight.SetBrightness(ctx, level); err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		a.logger.Debug("set brightness failed", "level", level, "error", err)
		a.warnFailure.Do(func() {
			a.logger.Warn("set brightness failed; dropping command", "level", level, "error", err)
		})
		return
	}

	now := time.Now()
	a.state.Set(level, now)
	a.status.Publish(statusBrightnessChanged{Level: level, Origin: originDaemon, At: now})
}
