package input

import "sync"

// Virtual is a Device driven from software, such as the control API.
// Transitions are queued so a tap is observed by the next two polls even if
// press and release happen between them.
type Virtual struct {
	mu      sync.Mutex
	current State
	pending []State
}

// NewVirtual returns a Virtual with nothing held.
func NewVirtual() *Virtual {
	return &Virtual{}
}

// Press holds b.
func (v *Virtual) Press(b Button) {
	v.set(b, true)
}

// Release lets go of b.
func (v *Virtual) Release(b Button) {
	v.set(b, false)
}

// Tap presses and releases b.
func (v *Virtual) Tap(b Button) {
	v.Press(b)
	v.Release(b)
}

func (v *Virtual) set(b Button, pressed bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	last := v.current
	if n := len(v.pending); n > 0 {
		last = v.pending[n-1]
	}
	v.pending = append(v.pending, last.With(b, pressed))
}

// Poll implements Device. Each call consumes at most one queued transition.
func (v *Virtual) Poll() (State, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if len(v.pending) > 0 {
		v.current = v.pending[0]
		v.pending = v.pending[1:]
	}
	return v.current, nil
}

// Close implements Device.
func (v *Virtual) Close() error {
	return nil
}
