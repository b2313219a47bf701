package main

import (
	"strings"
	"testing"
	"time"
)

func TestFadeConfig_LevelDefaultCurve(t *testing.T) {
	cfg := DefaultFadeConfig()

	tests := []struct {
		step int32
		want int32
	}{
		{0, 98},
		{1, 96},
		{2, 94},
		{24, 50},
		{47, 4},
		{48, 2},
		{49, 0},
	}
	for _, tt := range tests {
		if got := cfg.Level(tt.step); got != tt.want {
			t.Errorf("Level(%d) = %d, want %d", tt.step, got, tt.want)
		}
	}

	// Every step is (49 - i) * 2 and strictly below the previous one.
	prev := cfg.Full
	for i := int32(0); i < cfg.Steps; i++ {
		got := cfg.Level(i)
		if want := (49 - i) * 2; got != want {
			t.Fatalf("Level(%d) = %d, want %d", i, got, want)
		}
		if got >= prev {
			t.Fatalf("Level(%d) = %d, not below previous %d", i, got, prev)
		}
		prev = got
	}
}

func TestFadeConfig_LevelTruncates(t *testing.T) {
	// 3 steps over 100: (2*100)/3 = 66, (1*100)/3 = 33, 0.
	cfg := FadeConfig{Full: 100, Min: 0, Steps: 3}
	want := []int32{66, 33, 0}
	for i, w := range want {
		if got := cfg.Level(int32(i)); got != w {
			t.Errorf("Level(%d) = %d, want %d", i, got, w)
		}
	}

	// The formula scales by the span only; with a non-zero Min the last step
	// does not land on Min.
	cfg = FadeConfig{Full: 100, Min: 10, Steps: 4}
	if got := cfg.Level(3); got != 0 {
		t.Errorf("Level(3) = %d, want 0", got)
	}
	if got := cfg.Level(0); got != 67 {
		t.Errorf("Level(0) = %d, want 67", got)
	}
}

func TestFadeConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*FadeConfig)
		wantErr string
	}{
		{"default", func(*FadeConfig) {}, ""},
		{"zero steps", func(f *FadeConfig) { f.Steps = 0 }, "steps"},
		{"negative min", func(f *FadeConfig) { f.Min = -1 }, "min brightness"},
		{"full not above min", func(f *FadeConfig) { f.Full = f.Min }, "full brightness"},
		{"negative quiet", func(f *FadeConfig) { f.QuietPeriod = -time.Second }, "quiet period"},
		{"negative interval", func(f *FadeConfig) { f.StepInterval = -time.Millisecond }, "step interval"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultFadeConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("error = %v, want it to mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestConfig_Validate(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for missing device")
	}

	cfg.Device = "/dev/input/event3"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	bad := cfg
	bad.LogLevel = "verbose"
	if err := bad.Validate(); err == nil {
		t.Fatal("expected error for invalid log level")
	}

	bad = cfg
	bad.StatusListen = "127.0.0.1:0"
	bad.StatusPath = ""
	if err := bad.Validate(); err == nil {
		t.Fatal("expected error for empty status path")
	}

	bad = cfg
	bad.Fade.Steps = -1
	if err := bad.Validate(); err == nil || !strings.HasPrefix(err.Error(), "fade:") {
		t.Fatalf("error = %v, want fade error", err)
	}
}

func TestFlagOverrides_Apply(t *testing.T) {
	cfg := DefaultConfig()

	FlagOverrides{}.Apply(&cfg)
	if cfg.LogLevel != "info" || cfg.StatusListen != "" {
		t.Fatalf("empty overrides changed config: %+v", cfg)
	}

	level := "debug"
	listen := "127.0.0.1:7311"
	FlagOverrides{LogLevel: &level, StatusListen: &listen}.Apply(&cfg)
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want debug", cfg.LogLevel)
	}
	if cfg.StatusListen != listen {
		t.Errorf("StatusListen = %q, want %q", cfg.StatusListen, listen)
	}
	if cfg.Fade != DefaultFadeConfig() {
		t.Errorf("fade config changed by overrides: %+v", cfg.Fade)
	}

	// nil config is ignored
	FlagOverrides{LogLevel: &level}.Apply(nil)
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    LogLevel
		wantErr bool
	}{
		{"error", LogLevelError, false},
		{"WARN", LogLevelWarn, false},
		{"warning", LogLevelWarn, false},
		{"info", LogLevelInfo, false},
		{"", LogLevelInfo, false},
		{" debug ", LogLevelDebug, false},
		{"trace", "", true},
	}
	for _, tt := range tests {
		got, err := parseLogLevel(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("parseLogLevel(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("parseLogLevel(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
