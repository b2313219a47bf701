package main

import (
	"sync"
	"time"
)

// brightnessState is the last brightness level the daemon observed, either
// because it set it or because the backlight service announced it.
//
// The actuator reads it before every SetBrightness call and writes it after a
// successful one; the sync listener overwrites it on every BrightnessChanged
// signal. A slightly stale read costs at most one redundant call.
//
// Once the listener is gone the level can no longer be kept current, so
// Disable turns suppression off for good.
type brightnessState struct {
	mu       sync.RWMutex
	level    int32
	known    bool
	at       time.Time // when level was last refreshed
	disabled bool
}

// Get returns (level, true) if a level has been observed.
func (s *brightnessState) Get() (int32, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.level, s.known
}

// Set records an observed level.
func (s *brightnessState) Set(level int32, now time.Time) {
	s.mu.Lock()
	s.level = level
	s.known = true
	s.at = now
	s.mu.Unlock()
}

// Matches reports whether the observed level is known and equal to level.
// It is always false after Disable.
func (s *brightnessState) Matches(level int32) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return !s.disabled && s.known && s.level == level
}

// Disable stops Matches from ever reporting a match. Set keeps recording
// levels for the status snapshot.
func (s *brightnessState) Disable() {
	s.mu.Lock()
	s.disabled = true
	s.mu.Unlock()
}

// brightnessSnapshot is a coherent copy for the status stream.
type brightnessSnapshot struct {
	Level int32
	Known bool
	At    time.Time
}

func (s *brightnessState) Snapshot() brightnessSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return brightnessSnapshot{Level: s.level, Known: s.known, At: s.at}
}
