package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

var errSubscriptionEnded = errors.New("brightness subscription ended")

// runBrightnessSync mirrors BrightnessChanged notifications into state. It
// never issues commands.
//
// It returns nil on ctx cancellation. Any other return means the listener is
// gone: state is disabled and the actuator sends every level from then on.
func runBrightnessSync(ctx context.Context, sub brightnessSubscriber, state *brightnessState, status *statusPublisher, logger *slog.Logger) (err error) {
	defer func() {
		if err != nil {
			state.Disable()
		}
	}()

	changes, err := sub.SubscribeBrightness(ctx)
	if err != nil {
		return fmt.Errorf("subscribe to brightness changes: %w", err)
	}
	logger.Debug("brightness sync subscribed")

	for {
		select {
		case <-ctx.Done():
			return nil

		case ch, ok := <-changes:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				return errSubscriptionEnded
			}
			now := time.Now()
			state.Set(ch.Level, now)
			status.Publish(statusBrightnessChanged{Level: ch.Level, Origin: originService, At: now})
			logger.Debug("brightness changed", "level", ch.Level, "source", ch.Source)
		}
	}
}
