package main

import (
	"log/slog"
	"time"
)

// statusEvent is a marker interface for everything published to the status
// stream.
type statusEvent interface {
	statusMarker()
}

// Who caused a brightness change.
const (
	originDaemon  = "daemon"  // our own successful SetBrightness
	originService = "service" // BrightnessChanged from the backlight service
)

// statusBrightnessChanged reports a newly observed brightness level.
type statusBrightnessChanged struct {
	Level  int32
	Origin string
	At     time.Time
}

func (statusBrightnessChanged) statusMarker() {}

// statusFadeChanged reports a fade controller transition.
type statusFadeChanged struct {
	State fadeState
	At    time.Time
}

func (statusFadeChanged) statusMarker() {}

// statusPublisher fans status events into the broadcaster. A nil publisher
// is valid and drops everything, which is the case when the status listener
// is disabled.
type statusPublisher struct {
	ch     chan statusEvent
	logger *slog.Logger
}

func newStatusPublisher(buf int, logger *slog.Logger) *statusPublisher {
	if buf <= 0 {
		buf = 64
	}
	return &statusPublisher{
		ch:     make(chan statusEvent, buf),
		logger: logger,
	}
}

// Publish never blocks; the brightness path must not wait on status
// consumers.
func (p *statusPublisher) Publish(ev statusEvent) {
	if p == nil {
		return
	}
	select {
	case p.ch <- ev:
	default:
		p.logger.Debug("status queue full, dropping event")
	}
}

// Events is the broadcaster's source.
func (p *statusPublisher) Events() <-chan statusEvent {
	if p == nil {
		return nil
	}
	return p.ch
}

// statusSnapshot is the daemon state sent to a status client on connect.
type statusSnapshot struct {
	Brightness brightnessSnapshot
	Fade       fadeState
	Fades      int64
}
