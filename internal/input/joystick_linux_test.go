//go:build linux

package input

import "testing"

func TestJoystickID(t *testing.T) {
	tests := []struct {
		path string
		want int
		ok   bool
	}{
		{"/dev/input/js0", 0, true},
		{"/dev/input/js12", 12, true},
		{"/dev/input/event3", 0, false},
		{"/dev/js0", 0, false},
		{"/dev/input/jsx", 0, false},
	}
	for _, tt := range tests {
		got, err := joystickID(tt.path)
		if (err == nil) != tt.ok || (tt.ok && got != tt.want) {
			t.Errorf("joystickID(%q) = %d, %v", tt.path, got, err)
		}
	}
}
