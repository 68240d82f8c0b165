package input

import "testing"

func TestMappingButtons(t *testing.T) {
	m := XboxMapping()

	if s := m.State(0, nil); s != 0 {
		t.Fatalf("idle state = %b", s)
	}
	s := m.State(1<<0|1<<4, nil)
	if !s.Pressed(A) || !s.Pressed(LeftShoulder) || s.Pressed(B) {
		t.Errorf("state = %b", s)
	}
	if s := m.State(1<<30, nil); s != 0 {
		t.Errorf("unmapped button changed state: %b", s)
	}
}

func TestMappingDPadAxes(t *testing.T) {
	m := XboxMapping()

	tests := []struct {
		axis  int
		value int
		want  Button
	}{
		{6, -32767, DPadLeft},
		{6, 32767, DPadRight},
		{7, -32767, DPadUp},
		{7, 32767, DPadDown},
	}
	for _, tt := range tests {
		axes := make([]int, 8)
		axes[tt.axis] = tt.value
		if s := m.State(0, axes); !s.Pressed(tt.want) {
			t.Errorf("axis %d value %d did not press %s", tt.axis, tt.value, tt.want)
		}
		axes[tt.axis] = m.AxisThreshold - 1
		if s := m.State(0, axes); s.Pressed(tt.want) {
			t.Errorf("%s held below the threshold", tt.want)
		}
	}

	// A controller without a hat reports fewer axes.
	if s := m.State(0, []int{32767, 32767}); s != 0 {
		t.Errorf("missing hat axes gave %b", s)
	}
}

func TestVirtualTapIsObservedAcrossPolls(t *testing.T) {
	v := NewVirtual()
	v.Tap(Start)

	first, _ := v.Poll()
	second, _ := v.Poll()
	third, _ := v.Poll()
	if !first.Pressed(Start) {
		t.Error("first poll missed the press")
	}
	if second.Pressed(Start) || third.Pressed(Start) {
		t.Error("release not observed")
	}
}

func TestVirtualHold(t *testing.T) {
	v := NewVirtual()
	v.Press(X)
	v.Press(Y)
	v.Poll()
	s, _ := v.Poll()
	if !s.Pressed(X) || !s.Pressed(Y) {
		t.Errorf("state = %b", s)
	}
	s, _ = v.Poll()
	if !s.Pressed(X) {
		t.Error("held button dropped without release")
	}
}

func TestParseButton(t *testing.T) {
	for _, b := range Buttons() {
		got, err := ParseButton(b.String())
		if err != nil || got != b {
			t.Errorf("ParseButton(%q) = %v, %v", b.String(), got, err)
		}
	}
	if _, err := ParseButton("turbo"); err == nil {
		t.Error("unknown button accepted")
	}
	var b Button
	if err := b.UnmarshalText([]byte(" DPad_Left ")); err != nil || b != DPadLeft {
		t.Errorf("UnmarshalText = %v, %v", b, err)
	}
}
