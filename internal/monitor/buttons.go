// Package monitor turns the device button report into display power
// commands.
package monitor

// ButtonMonitor is the status bit of the display power button. The device
// may set other bits; they are reserved and ignored.
const ButtonMonitor byte = 1 << 0

const knownButtons = ButtonMonitor

// Edges computes the buttons pressed (0 to 1) and released (1 to 0) between
// two reports, restricted to known buttons.
func Edges(buttons, previous byte) (pressed, released byte) {
	pressed = ^previous & buttons & knownButtons
	released = previous &^ buttons & knownButtons

	return pressed, released
}

// Apply returns the monitor state after a report. A press turns the monitor
// on and a release turns it off, so the display follows the button while it
// is held. The returned previous mask is always the new report.
func Apply(buttons, previous byte, on bool) (newOn bool, newPrevious byte) {
	pressed, released := Edges(buttons, previous)

	switch {
	case pressed&ButtonMonitor != 0:
		on = true
	case released&ButtonMonitor != 0:
		on = false
	}

	return on, buttons
}
