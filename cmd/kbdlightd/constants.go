package main

import "time"

// UPower keyboard backlight object on the system bus.
const (
	upowerService     = "org.freedesktop.UPower"
	kbdBacklightPath  = "/org/freedesktop/UPower/KbdBacklight"
	kbdBacklightIface = "org.freedesktop.UPower.KbdBacklight"

	sigBrightnessChanged           = kbdBacklightIface + ".BrightnessChanged"
	sigBrightnessChangedWithSource = kbdBacklightIface + ".BrightnessChangedWithSource"
)

// Fade defaults
const (
	defaultFullBrightness = 100 // Level sent on activity
	defaultMinBrightness  = 0   // Level the fade ramps toward
	defaultFadeSteps      = 50  // Number of ramp steps

	defaultQuietPeriod  = 4000 * time.Millisecond // Held at full before the ramp starts
	defaultStepInterval = 50 * time.Millisecond   // Delay after each ramp step
)

// The command channel holds a single pending level. Producers block while it
// is occupied; do not grow this.
const commandQueueLen = 1

// Status stream
const (
	defaultStatusPath = "/ws/state"

	// Maximum window during which bursty brightness updates are coalesced
	// (latest-wins) before broadcasting. One fade step is 50ms.
	wsBrightnessCoalesceWindow = 50 * time.Millisecond
)
