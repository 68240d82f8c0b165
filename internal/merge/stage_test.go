package merge

import (
	"bytes"
	"context"
	"image/png"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/smazurov/fetchrig/internal/command"
	"github.com/smazurov/fetchrig/internal/events"
	"github.com/smazurov/fetchrig/internal/frame"
	"github.com/smazurov/fetchrig/internal/queue"
)

const (
	testW = 4
	testH = 2
)

type harness struct {
	stage    *Stage
	inputs   [2]*queue.Queue[*frame.Frame]
	commands *command.Channel
	output   *queue.Queue[Output]
	pool     *frame.Pool
	done     chan struct{}
}

func newHarness(t *testing.T, pairing, snapshotDir string, bus *events.Bus) *harness {
	t.Helper()
	h := &harness{
		inputs:   [2]*queue.Queue[*frame.Frame]{queue.New[*frame.Frame](), queue.New[*frame.Frame]()},
		commands: command.NewChannel(),
		output:   queue.New(queue.WithCapacity[Output](16), queue.WithDropFunc(Output.Release)),
		pool:     frame.NewPool(testW * testH),
		done:     make(chan struct{}),
	}
	stage, err := NewStage(Config{
		Width:       testW,
		Height:      testH,
		Inputs:      h.inputs,
		Commands:    h.commands,
		Output:      h.output,
		Threshold:   DefaultThreshold,
		Pairing:     pairing,
		SnapshotDir: snapshotDir,
		Bus:         bus,
		Logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
		PairTimeout: 5 * time.Millisecond,
		IdlePoll:    5 * time.Millisecond,
	})
	if err != nil {
		t.Fatal(err)
	}
	h.stage = stage

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		stage.Run(ctx)
		close(h.done)
	}()
	t.Cleanup(func() {
		h.commands.Send(command.Exit)
		select {
		case <-h.done:
		case <-time.After(2 * time.Second):
			t.Error("merge stage did not exit")
		}
		cancel()
	})
	return h
}

func (h *harness) activate(t *testing.T) {
	t.Helper()
	h.commands.Send(command.BeginStreaming)
	deadline := time.Now().Add(time.Second)
	for h.stage.State() != Active {
		if time.Now().After(deadline) {
			t.Fatal("stage never became active")
		}
		time.Sleep(time.Millisecond)
	}
}

func (h *harness) push(cam int, value byte, index int64, background bool) *frame.Frame {
	f := h.pool.NewFrame(testW, testH)
	for i := range f.Bytes() {
		f.Bytes()[i] = value
	}
	f.Camera = cam
	f.Index = index
	f.IsNewBackground = background
	h.inputs[cam].Push(f)
	return f
}

func (h *harness) next(t *testing.T) Output {
	t.Helper()
	out, ok := h.output.PopWait(time.Second)
	if !ok {
		t.Fatal("no merged output")
	}
	return out
}

func countOn(mask []byte) int {
	n := 0
	for _, b := range mask {
		if b == 255 {
			n++
		}
	}
	return n
}

func TestSubtractThreshold(t *testing.T) {
	reference := []byte{100, 100, 100, 100, 0, 255}
	combined := []byte{115, 85, 116, 84, 0, 255}
	dst := make([]byte, len(combined))

	on := Subtract(dst, combined, reference, DefaultThreshold)
	want := []byte{0, 0, 255, 255, 0, 0}
	if !bytes.Equal(dst, want) {
		t.Errorf("mask = %v, want %v", dst, want)
	}
	if on != 2 {
		t.Errorf("on = %d, want 2", on)
	}
}

func TestStack(t *testing.T) {
	dst := make([]byte, 4)
	Stack(dst, []byte{1, 2}, []byte{3, 4})
	if !bytes.Equal(dst, []byte{1, 2, 3, 4}) {
		t.Errorf("stacked = %v", dst)
	}
}

func TestStageBackgroundThenMotion(t *testing.T) {
	h := newHarness(t, PairFIFO, "", nil)
	h.activate(t)

	h.push(0, 10, 0, true)
	h.push(1, 20, 0, true)
	first := h.next(t)
	defer first.Release()

	if first.Raw.Width != testW || first.Raw.Height != 2*testH {
		t.Fatalf("combined size = %dx%d", first.Raw.Width, first.Raw.Height)
	}
	raw := first.Raw.Bytes()
	if raw[0] != 10 || raw[len(raw)-1] != 20 {
		t.Errorf("camera 0 must be on top: first=%d last=%d", raw[0], raw[len(raw)-1])
	}
	if !first.Background || first.MotionPixels != 0 || countOn(first.Mask.Bytes()) != 0 {
		t.Errorf("background pair must give an empty mask, got %d", first.MotionPixels)
	}

	// Camera 1 moves by 16 levels, camera 0 by exactly the threshold.
	h.push(0, 25, 2, false)
	h.push(1, 36, 2, false)
	second := h.next(t)
	defer second.Release()

	mask := second.Mask.Bytes()
	half := testW * testH
	if countOn(mask[:half]) != 0 {
		t.Error("camera 0 difference of 15 must not count as motion")
	}
	if countOn(mask[half:]) != half {
		t.Error("camera 1 difference of 16 must count as motion")
	}
	if second.MotionPixels != half {
		t.Errorf("MotionPixels = %d, want %d", second.MotionPixels, half)
	}
}

func TestStageResetBackground(t *testing.T) {
	h := newHarness(t, PairFIFO, "", nil)
	h.activate(t)

	h.push(0, 0, 0, true)
	h.push(1, 0, 0, true)
	h.next(t).Release()

	h.commands.Send(command.ResetBackground)
	time.Sleep(20 * time.Millisecond)

	h.push(0, 200, 2, false)
	h.push(1, 200, 2, false)
	out := h.next(t)
	defer out.Release()
	if out.MotionPixels != 0 {
		t.Errorf("pair after reset has %d motion pixels, want 0", out.MotionPixels)
	}

	h.push(0, 200, 4, false)
	h.push(1, 200, 4, false)
	same := h.next(t)
	defer same.Release()
	if same.MotionPixels != 0 {
		t.Errorf("identical pair has %d motion pixels", same.MotionPixels)
	}
}

func TestStageIsDeterministic(t *testing.T) {
	run := func() []byte {
		h := newHarness(t, PairFIFO, "", nil)
		h.activate(t)
		h.push(0, 50, 0, true)
		h.push(1, 60, 0, true)
		h.next(t).Release()
		h.push(0, 90, 2, false)
		h.push(1, 61, 2, false)
		out := h.next(t)
		defer out.Release()
		return bytes.Clone(out.Mask.Bytes())
	}
	if a, b := run(), run(); !bytes.Equal(a, b) {
		t.Errorf("masks differ: %v vs %v", a, b)
	}
}

func TestStageIndexPairingDropsOlderFrame(t *testing.T) {
	h := newHarness(t, PairIndex, "", nil)
	h.activate(t)

	stale := h.push(0, 1, 2, false)
	h.push(0, 1, 4, false)
	h.push(1, 1, 4, false)

	out := h.next(t)
	defer out.Release()
	if out.Raw.Index != 4 {
		t.Errorf("paired index = %d, want 4", out.Raw.Index)
	}
	if !stale.Released() {
		t.Error("unmatched frame was not released")
	}
}

func TestStageDiscardsCloseSignals(t *testing.T) {
	h := newHarness(t, PairFIFO, "", nil)
	h.activate(t)

	h.inputs[0].Push(frame.NewCloseSignal(0))
	h.push(0, 5, 2, false)
	h.push(1, 5, 2, false)

	out := h.next(t)
	defer out.Release()
	if out.Raw.Index != 2 {
		t.Errorf("index = %d, want 2", out.Raw.Index)
	}
}

func TestStageIdleDiscardsStaleFrames(t *testing.T) {
	h := newHarness(t, PairFIFO, "", nil)

	stale := h.push(0, 1, 8, false)
	deadline := time.Now().Add(time.Second)
	for h.inputs[0].Len() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("idle stage kept a stale frame")
		}
		time.Sleep(time.Millisecond)
	}

	h.push(0, 7, 0, true)
	h.push(1, 7, 0, true)
	time.Sleep(20 * time.Millisecond)
	if h.inputs[0].Len() != 1 || h.inputs[1].Len() != 1 {
		t.Fatal("idle stage dropped a background frame")
	}

	h.activate(t)
	out := h.next(t)
	defer out.Release()
	if !out.Background {
		t.Error("first pair of the session is not the background pair")
	}
	if !stale.Released() {
		t.Error("stale frame was not released")
	}
}

func TestStageRestartSkipsPreviousSession(t *testing.T) {
	inputs := [2]*queue.Queue[*frame.Frame]{queue.New[*frame.Frame](), queue.New[*frame.Frame]()}
	output := queue.New[Output]()
	stage, err := NewStage(Config{
		Width:     testW,
		Height:    testH,
		Inputs:    inputs,
		Commands:  command.NewChannel(),
		Output:    output,
		Threshold: DefaultThreshold,
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	if err != nil {
		t.Fatal(err)
	}
	pool := frame.NewPool(testW * testH)
	push := func(cam int, value byte, index int64, background bool) *frame.Frame {
		f := pool.NewFrame(testW, testH)
		for i := range f.Bytes() {
			f.Bytes()[i] = value
		}
		f.Camera, f.Index, f.IsNewBackground = cam, index, background
		inputs[cam].Push(f)
		return f
	}

	stage.apply(command.BeginStreaming)
	var old []*frame.Frame
	for cam := range inputs {
		old = append(old, push(cam, 90, 40, false), push(cam, 90, 42, false))
		inputs[cam].Push(frame.NewCloseSignal(cam))
		push(cam, 10, 0, true)
	}

	// Both commands are queued before the stage looks at any frame.
	stage.apply(command.EndStreaming)
	stage.apply(command.BeginStreaming)
	for i, f := range old {
		if !f.Released() {
			t.Errorf("frame %d of the previous session was kept", i)
		}
	}

	stage.step()
	out, ok := output.TryPop()
	if !ok {
		t.Fatal("no merged output")
	}
	defer out.Release()
	if !out.Background || out.Raw.Index != 0 || out.MotionPixels != 0 {
		t.Errorf("first pair = index %d background %v motion %d", out.Raw.Index, out.Background, out.MotionPixels)
	}
}

func TestStageSnapshot(t *testing.T) {
	dir := t.TempDir()
	bus := events.New()
	saved := make(chan events.SnapshotSavedEvent, 1)
	bus.Subscribe(func(e events.SnapshotSavedEvent) { saved <- e })

	h := newHarness(t, PairFIFO, dir, bus)
	h.activate(t)
	h.commands.Send(command.SaveSnapshot)
	time.Sleep(20 * time.Millisecond)

	h.push(0, 40, 0, true)
	h.push(1, 80, 0, true)
	h.next(t).Release()

	var e events.SnapshotSavedEvent
	select {
	case e = <-saved:
	case <-time.After(2 * time.Second):
		t.Fatal("no SnapshotSavedEvent")
	}
	if filepath.Dir(e.RawPath) != dir {
		t.Errorf("raw snapshot in %s", e.RawPath)
	}

	f, err := os.Open(e.RawPath)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	img, err := png.Decode(f)
	if err != nil {
		t.Fatal(err)
	}
	if b := img.Bounds(); b.Dx() != testW || b.Dy() != 2*testH {
		t.Errorf("snapshot is %dx%d", b.Dx(), b.Dy())
	}
	if _, err := os.Stat(e.MaskPath); err != nil {
		t.Errorf("mask snapshot missing: %v", err)
	}
}

func TestNewStageRejectsBadConfig(t *testing.T) {
	in := queue.New[*frame.Frame]()
	base := Config{
		Width:    testW,
		Height:   testH,
		Inputs:   [2]*queue.Queue[*frame.Frame]{in, in},
		Commands: command.NewChannel(),
		Output:   queue.New[Output](),
	}

	bad := base
	bad.Pairing = "random"
	if _, err := NewStage(bad); err == nil {
		t.Error("unknown pairing accepted")
	}
	bad = base
	bad.Width = 0
	if _, err := NewStage(bad); err == nil {
		t.Error("zero width accepted")
	}
	bad = base
	bad.Output = nil
	if _, err := NewStage(bad); err == nil {
		t.Error("missing output accepted")
	}
	if _, err := NewStage(base); err != nil {
		t.Error(err)
	}
}
