package main

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/godbus/dbus/v5"
)

// brightnessSetter is the actuator's view of the backlight service.
type brightnessSetter interface {
	SetBrightness(ctx context.Context, level int32) error
}

// brightnessSubscriber is the sync listener's view of the backlight service.
// The returned channel is closed when the subscription ends for any reason.
type brightnessSubscriber interface {
	SubscribeBrightness(ctx context.Context) (<-chan brightnessChange, error)
}

// brightnessChange is one BrightnessChanged notification.
type brightnessChange struct {
	Level  int32
	Source string // "internal"/"external" on newer UPower, empty otherwise
}

// KbdBacklightClient talks to UPower's KbdBacklight object on the system bus.
type KbdBacklightClient struct {
	conn   *dbus.Conn
	obj    dbus.BusObject
	logger *slog.Logger

	closeOnce sync.Once
}

// NewKbdBacklightClient connects to the system bus. Failure here is fatal to
// the daemon.
func NewKbdBacklightClient(logger *slog.Logger) (*KbdBacklightClient, error) {
	conn, err := dbus.ConnectSystemBus()
	if err != nil {
		return nil, fmt.Errorf("connect system bus: %w", err)
	}
	return newKbdBacklightClient(conn, logger), nil
}

func newKbdBacklightClient(conn *dbus.Conn, logger *slog.Logger) *KbdBacklightClient {
	return &KbdBacklightClient{
		conn:   conn,
		obj:    conn.Object(upowerService, dbus.ObjectPath(kbdBacklightPath)),
		logger: logger.With("component", "upower"),
	}
}

// SetBrightness calls KbdBacklight.SetBrightness(i).
func (c *KbdBacklightClient) SetBrightness(ctx context.Context, level int32) error {
	call := c.obj.CallWithContext(ctx, kbdBacklightIface+".SetBrightness", 0, level)
	if call.Err != nil {
		return fmt.Errorf("SetBrightness(%d): %w", level, call.Err)
	}
	return nil
}

// GetBrightness calls KbdBacklight.GetBrightness() i.
func (c *KbdBacklightClient) GetBrightness(ctx context.Context) (int32, error) {
	var level int32
	if err := c.obj.CallWithContext(ctx, kbdBacklightIface+".GetBrightness", 0).Store(&level); err != nil {
		return 0, fmt.Errorf("GetBrightness: %w", err)
	}
	return level, nil
}

// GetMaxBrightness calls KbdBacklight.GetMaxBrightness() i.
func (c *KbdBacklightClient) GetMaxBrightness(ctx context.Context) (int32, error) {
	var level int32
	if err := c.obj.CallWithContext(ctx, kbdBacklightIface+".GetMaxBrightness", 0).Store(&level); err != nil {
		return 0, fmt.Errorf("GetMaxBrightness: %w", err)
	}
	return level, nil
}

// SubscribeBrightness registers a match rule for the KbdBacklight signals and
// forwards decoded notifications until ctx is canceled or the bus connection
// goes away.
func (c *KbdBacklightClient) SubscribeBrightness(ctx context.Context) (<-chan brightnessChange, error) {
	opts := []dbus.MatchOption{
		dbus.WithMatchObjectPath(dbus.ObjectPath(kbdBacklightPath)),
		dbus.WithMatchInterface(kbdBacklightIface),
	}
	if err := c.conn.AddMatchSignal(opts...); err != nil {
		return nil, fmt.Errorf("add match signal: %w", err)
	}

	sigs := make(chan *dbus.Signal, 16)
	c.conn.Signal(sigs)

	out := make(chan brightnessChange)
	go func() {
		defer close(out)
		defer func() {
			c.conn.RemoveSignal(sigs)
			// Fails harmlessly when the connection is already closed.
			_ = c.conn.RemoveMatchSignal(opts...)
		}()

		for {
			select {
			case <-ctx.Done():
				return
			case sig, ok := <-sigs:
				if !ok {
					// godbus closes signal channels when the connection terminates.
					return
				}
				change, ok, err := decodeBrightnessSignal(sig)
				if err != nil {
					c.logger.Warn("malformed brightness signal", "signal", sig.Name, "error", err)
					continue
				}
				if !ok {
					continue
				}
				select {
				case out <- change:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, nil
}

// Close closes the bus connection. Any active subscription ends.
func (c *KbdBacklightClient) Close() error {
	var err error
	c.closeOnce.Do(func() {
		err = c.conn.Close()
	})
	return err
}

// decodeBrightnessSignal extracts a brightness notification from a bus
// signal. ok is false for signals that are not KbdBacklight brightness
// notifications.
func decodeBrightnessSignal(sig *dbus.Signal) (change brightnessChange, ok bool, err error) {
	if sig == nil || sig.Path != dbus.ObjectPath(kbdBacklightPath) {
		return brightnessChange{}, false, nil
	}

	switch sig.Name {
	case sigBrightnessChanged:
		if err := dbus.Store(sig.Body, &change.Level); err != nil {
			return brightnessChange{}, false, err
		}
		return change, true, nil

	case sigBrightnessChangedWithSource:
		if err := dbus.Store(sig.Body, &change.Level, &change.Source); err != nil {
			return brightnessChange{}, false, err
		}
		return change, true, nil

	default:
		return brightnessChange{}, false, nil
	}
}
