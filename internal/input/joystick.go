package input

// Mapping translates joystick button numbers and d-pad axes to Buttons.
type Mapping struct {
	Buttons map[int]Button
	// DPadX and DPadY are the hat axis numbers.
	DPadX int
	DPadY int
	// AxisThreshold is the magnitude at which a hat axis counts as pressed.
	AxisThreshold int
}

// XboxMapping is the xpad driver layout.
func XboxMapping() Mapping {
	return Mapping{
		Buttons: map[int]Button{
			0:  A,
			1:  B,
			2:  X,
			3:  Y,
			4:  LeftShoulder,
			5:  RightShoulder,
			6:  Back,
			7:  Start,
			8:  Guide,
			9:  LeftThumb,
			10: RightThumb,
		},
		DPadX:         6,
		DPadY:         7,
		AxisThreshold: 16384,
	}
}

// State converts a raw joystick reading, a button bitmask plus axis
// positions, into tracked buttons. Unmapped buttons and missing axes are
// ignored.
func (m Mapping) State(buttons uint32, axes []int) State {
	var s State
	for number, b := range m.Buttons {
		if number >= 0 && number < 32 && buttons&(1<<uint(number)) != 0 {
			s = s.With(b, true)
		}
	}
	t := m.AxisThreshold
	if x, ok := axis(axes, m.DPadX); ok {
		s = s.With(DPadLeft, x <= -t).With(DPadRight, x >= t)
	}
	if y, ok := axis(axes, m.DPadY); ok {
		s = s.With(DPadUp, y <= -t).With(DPadDown, y >= t)
	}
	return s
}

func axis(axes []int, n int) (int, bool) {
	if n < 0 || n >= len(axes) {
		return 0, false
	}
	return axes[n], true
}
