//go:build !linux

package input

import "errors"

// Joystick is only available on Linux.
type Joystick struct{}

// OpenJoystick is not available on this platform.
func OpenJoystick(string, Mapping) (*Joystick, error) {
	return nil, errors.New("joystick input is only supported on linux")
}

// Poll implements Device.
func (j *Joystick) Poll() (State, error) { return 0, nil }

// Close implements Device.
func (j *Joystick) Close() error { return nil }
