//go:build linux

package input

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/0xcafed00d/joystick"
)

// Joystick reads a Linux joystick device (/dev/input/jsN). The driver
// keeps the latest state, so Poll never blocks.
type Joystick struct {
	path    string
	js      joystick.Joystick
	mapping Mapping
}

// OpenJoystick opens path, which must name a /dev/input/jsN device.
func OpenJoystick(path string, mapping Mapping) (*Joystick, error) {
	id, err := joystickID(path)
	if err != nil {
		return nil, err
	}
	js, err := joystick.Open(id)
	if err != nil {
		return nil, fmt.Errorf("open joystick %s: %w", path, err)
	}
	return &Joystick{path: path, js: js, mapping: mapping}, nil
}

// joystickID extracts N from /dev/input/jsN.
func joystickID(path string) (int, error) {
	name := filepath.Base(path)
	if filepath.Dir(path) != "/dev/input" || !strings.HasPrefix(name, "js") {
		return 0, fmt.Errorf("joystick device %q is not /dev/input/jsN", path)
	}
	id, err := strconv.Atoi(strings.TrimPrefix(name, "js"))
	if err != nil || id < 0 {
		return 0, fmt.Errorf("joystick device %q is not /dev/input/jsN", path)
	}
	return id, nil
}

// Poll implements Device.
func (j *Joystick) Poll() (State, error) {
	raw, err := j.js.Read()
	if err != nil {
		return 0, fmt.Errorf("read joystick %s: %w", j.path, err)
	}
	return j.mapping.State(raw.Buttons, raw.AxisData), nil
}

// Close implements Device.
func (j *Joystick) Close() error {
	j.js.Close()
	return nil
}
