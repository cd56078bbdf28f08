//go:build darwin

package ptt

/*
#cgo CFLAGS: -x objective-c
#cgo LDFLAGS: -framework CoreGraphics

#include <CoreGraphics/CoreGraphics.h>

static int sottod_modifier_pressed(void) {
	CGEventFlags flags = CGEventSourceFlagsState(kCGEventSourceStateHIDSystemState);
	return (flags & kCGEventFlagMaskControl) != 0;
}
*/
import "C"

import "time"

// pollInterval mirrors the reference key monitor's polling cadence; a real
// event-tap backend would replace this with CGEventTapCreate callbacks
// delivered straight onto the OS thread that owns the tap.
const pollInterval = 25 * time.Millisecond

// DarwinBackend polls the Control modifier's HID state and feeds edges to
// a Translator. It runs on its own goroutine, which is itself a foreign
// thread relative to the bus loop — every edge it detects is handed off
// through Translator.KeyDown/KeyUp, which already post to the bus loop.
type DarwinBackend struct {
	translator *Translator
	stop       chan struct{}
}

// NewDarwinBackend constructs a polling backend for t.
func NewDarwinBackend(t *Translator) *DarwinBackend {
	return &DarwinBackend{translator: t, stop: make(chan struct{})}
}

// Run polls until Stop is called. Intended to be launched with `go`.
func (d *DarwinBackend) Run() {
	wasPressed := false
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-d.stop:
			return
		case <-ticker.C:
			isPressed := C.sottod_modifier_pressed() != 0
			if isPressed && !wasPressed {
				d.translator.KeyDown()
			} else if !isPressed && wasPressed {
				d.translator.KeyUp()
			}
			wasPressed = isPressed
		}
	}
}

// Stop ends the polling loop.
func (d *DarwinBackend) Stop() {
	close(d.stop)
}
