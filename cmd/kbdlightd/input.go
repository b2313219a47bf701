package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	evdev "github.com/holoplot/go-evdev"
	"golang.org/x/sys/unix"
)

// eventReader is the part of *evdev.InputDevice the watcher uses.
type eventReader interface {
	ReadOne() (*evdev.InputEvent, error)
}

// openInputDevice opens the device node for reading. The daemon cannot do
// anything useful without it, so callers treat an error as fatal.
func openInputDevice(path string, logger *slog.Logger) (*evdev.InputDevice, error) {
	dev, err := evdev.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open input device %s: %w", path, err)
	}
	if name, err := dev.Name(); err == nil {
		logger.Info("input device opened", "device", path, "name", name)
	} else {
		logger.Info("input device opened", "device", path)
	}
	return dev, nil
}

// endsBatch reports whether ev closes a batch of events. The kernel terminates
// every batch with SYN_REPORT; SYN_DROPPED means the buffer overran, which is
// still activity.
func endsBatch(ev *evdev.InputEvent) bool {
	if ev == nil || ev.Type != evdev.EV_SYN {
		return false
	}
	return ev.Code == evdev.SYN_REPORT || ev.Code == evdev.SYN_DROPPED
}

// watchDevice blocks on dev and calls onActivity once per event batch. The
// content of the events is not interpreted.
//
// It returns nil when ctx is canceled (the caller closes the device to
// unblock the read) and an error when the device read fails for good, e.g.
// the device was unplugged. There is no reconnect.
func watchDevice(ctx context.Context, dev eventReader, onActivity func(context.Context) error, logger *slog.Logger) error {
	pending := 0
	for {
		ev, err := dev.ReadOne()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, unix.ENODEV) {
				return fmt.Errorf("input device removed: %w", err)
			}
			return fmt.Errorf("read input event: %w", err)
		}

		pending++
		if !endsBatch(ev) {
			continue
		}

		logger.Debug("activity", "events", pending)
		pending = 0

		if err := onActivity(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("handle activity: %w", err)
		}
	}
}
