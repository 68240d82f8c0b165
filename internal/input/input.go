// Package input reads discrete controller state for the command router.
package input

import (
	"fmt"
	"strings"
)

// Button is one tracked controller input.
type Button int

// Buttons, in the order the router scans them.
const (
	DPadUp Button = iota
	DPadDown
	DPadLeft
	DPadRight
	A
	B
	X
	Y
	LeftShoulder
	RightShoulder
	Back
	Start
	Guide
	LeftThumb
	RightThumb
)

var buttonNames = [...]string{
	DPadUp:        "dpad_up",
	DPadDown:      "dpad_down",
	DPadLeft:      "dpad_left",
	DPadRight:     "dpad_right",
	A:             "a",
	B:             "b",
	X:             "x",
	Y:             "y",
	LeftShoulder:  "left_shoulder",
	RightShoulder: "right_shoulder",
	Back:          "back",
	Start:         "start",
	Guide:         "guide",
	LeftThumb:     "left_thumb",
	RightThumb:    "right_thumb",
}

// Buttons returns every button in scan order.
func Buttons() []Button {
	all := make([]Button, len(buttonNames))
	for i := range buttonNames {
		all[i] = Button(i)
	}
	return all
}

func (b Button) String() string {
	if b < 0 || int(b) >= len(buttonNames) {
		return fmt.Sprintf("button(%d)", int(b))
	}
	return buttonNames[b]
}

// ParseButton parses a snake_case button name.
func ParseButton(s string) (Button, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for i, name := range buttonNames {
		if name == s {
			return Button(i), nil
		}
	}
	return 0, fmt.Errorf("unknown button %q", s)
}

// MarshalText implements encoding.TextMarshaler.
func (b Button) MarshalText() ([]byte, error) {
	return []byte(b.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (b *Button) UnmarshalText(text []byte) error {
	parsed, err := ParseButton(string(text))
	if err != nil {
		return err
	}
	*b = parsed
	return nil
}

// State is a snapshot of which buttons are held.
type State uint32

// Pressed reports whether b is held.
func (s State) Pressed(b Button) bool {
	return s&(1<<uint(b)) != 0
}

// With returns s with b set to pressed.
func (s State) With(b Button, pressed bool) State {
	if pressed {
		return s | 1<<uint(b)
	}
	return s &^ (1 << uint(b))
}

// Device is a polled controller.
type Device interface {
	// Poll returns the current state without blocking.
	Poll() (State, error)
	Close() error
}
