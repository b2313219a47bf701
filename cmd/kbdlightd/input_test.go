package main

import (
	"context"
	"errors"
	"io"
	"os"
	"syscall"
	"testing"
	"time"

	evdev "github.com/holoplot/go-evdev"
	"golang.org/x/sys/unix"
)

// scriptedReader replays events and then returns err forever.
type scriptedReader struct {
	events []*evdev.InputEvent
	err    error
	// before is called ahead of returning err, e.g. to cancel a context.
	before func()
}

func (r *scriptedReader) ReadOne() (*evdev.InputEvent, error) {
	if len(r.events) > 0 {
		ev := r.events[0]
		r.events = r.events[1:]
		return ev, nil
	}
	if r.before != nil {
		r.before()
		r.before = nil
	}
	return nil, r.err
}

func key(code evdev.EvCode, value int32) *evdev.InputEvent {
	return &evdev.InputEvent{Type: evdev.EV_KEY, Code: code, Value: value}
}

func syn(code evdev.EvCode) *evdev.InputEvent {
	return &evdev.InputEvent{Type: evdev.EV_SYN, Code: code}
}

func TestWatchDevice_OneActivityPerBatch(t *testing.T) {
	r := &scriptedReader{
		events: []*evdev.InputEvent{
			{Type: evdev.EV_MSC, Code: evdev.MSC_SCAN, Value: 30},
			key(evdev.KEY_A, 1),
			syn(evdev.SYN_REPORT),
			key(evdev.KEY_A, 2),
			syn(evdev.SYN_REPORT),
			key(evdev.KEY_A, 0),
			key(evdev.KEY_B, 1),
			key(evdev.KEY_B, 0),
			syn(evdev.SYN_REPORT),
			key(evdev.KEY_C, 1), // batch never closed
		},
		err: io.EOF,
	}

	activities := 0
	err := watchDevice(context.Background(), r, func(context.Context) error {
		activities++
		return nil
	}, discardLogger())

	if activities != 3 {
		t.Fatalf("activities = %d, want 3", activities)
	}
	if !errors.Is(err, io.EOF) {
		t.Fatalf("err = %v, want wrapped io.EOF", err)
	}
}

func TestWatchDevice_DroppedEventsStillCountAsActivity(t *testing.T) {
	r := &scriptedReader{
		events: []*evdev.InputEvent{syn(evdev.SYN_DROPPED)},
		err:    io.EOF,
	}
	activities := 0
	_ = watchDevice(context.Background(), r, func(context.Context) error {
		activities++
		return nil
	}, discardLogger())
	if activities != 1 {
		t.Fatalf("activities = %d, want 1", activities)
	}
}

func TestWatchDevice_DeviceRemoved(t *testing.T) {
	r := &scriptedReader{
		err: &os.PathError{Op: "read", Path: "/dev/input/event3", Err: syscall.ENODEV},
	}
	err := watchDevice(context.Background(), r, func(context.Context) error { return nil }, discardLogger())
	if !errors.Is(err, unix.ENODEV) {
		t.Fatalf("err = %v, want ENODEV", err)
	}
}

func TestWatchDevice_ReturnsNilAfterCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Closing the device during shutdown surfaces as a read error.
	r := &scriptedReader{err: os.ErrClosed, before: cancel}
	if err := watchDevice(ctx, r, func(context.Context) error { return nil }, discardLogger()); err != nil {
		t.Fatalf("err = %v, want nil after cancel", err)
	}
}

func TestWatchDevice_ActivityCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	r := &scriptedReader{
		events: []*evdev.InputEvent{syn(evdev.SYN_REPORT), syn(evdev.SYN_REPORT)},
		err:    io.EOF,
	}
	calls := 0
	err := watchDevice(ctx, r, func(ctx context.Context) error {
		calls++
		cancel()
		return ctx.Err()
	}, discardLogger())

	if err != nil {
		t.Fatalf("err = %v, want nil", err)
	}
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
}

func TestWatchDevice_DrivesFadeController(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg := fastFade(50)
	cfg.QuietPeriod = time.Hour
	cmds := make(chan int32, 4)
	fc := newFadeController(cfg, cmds, nil, discardLogger())
	defer fc.Stop()

	r := &scriptedReader{
		events: []*evdev.InputEvent{
			key(evdev.KEY_A, 1), syn(evdev.SYN_REPORT),
			key(evdev.KEY_A, 0), syn(evdev.SYN_REPORT),
		},
		err: io.EOF,
	}
	_ = watchDevice(ctx, r, fc.Activity, discardLogger())

	if fc.Started() != 2 {
		t.Fatalf("fades started = %d, want 2", fc.Started())
	}
	if len(cmds) != 2 || <-cmds != 100 || <-cmds != 100 {
		t.Fatal("expected exactly two full commands")
	}
}

func TestEndsBatch(t *testing.T) {
	tests := []struct {
		ev   *evdev.InputEvent
		want bool
	}{
		{nil, false},
		{syn(evdev.SYN_REPORT), true},
		{syn(evdev.SYN_DROPPED), true},
		{syn(evdev.SYN_CONFIG), false},
		{key(evdev.KEY_A, 1), false},
		{&evdev.InputEvent{Type: evdev.EV_REL, Code: evdev.REL_X, Value: 1}, false},
	}
	for i, tt := range tests {
		if got := endsBatch(tt.ev); got != tt.want {
			t.Errorf("case %d: endsBatch = %v, want %v", i, got, tt.want)
		}
	}
}
