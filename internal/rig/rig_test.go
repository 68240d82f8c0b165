package rig

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/smazurov/fetchrig/internal/camera"
	"github.com/smazurov/fetchrig/internal/command"
	"github.com/smazurov/fetchrig/internal/config"
	"github.com/smazurov/fetchrig/internal/encode"
	"github.com/smazurov/fetchrig/internal/events"
	"github.com/smazurov/fetchrig/internal/input"
)

// memoryPipe is both the transport endpoint and the encoder reading it. The
// encoder exits once the writer is closed.
type memoryPipe struct {
	name    string
	written atomic.Int64
	done    chan struct{}
	once    sync.Once
}

func (p *memoryPipe) Address() string { return p.name }

func (p *memoryPipe) Accept(context.Context) (io.WriteCloser, error) { return p, nil }

func (p *memoryPipe) Write(b []byte) (int, error) {
	p.written.Add(int64(len(b)))
	return len(b), nil
}

func (p *memoryPipe) Close() error {
	p.once.Do(func() { close(p.done) })
	return nil
}

func (p *memoryPipe) Wait(ctx context.Context) (int, error) {
	select {
	case <-p.done:
		return 0, nil
	case <-ctx.Done():
		return -1, ctx.Err()
	}
}

func (p *memoryPipe) Done() <-chan struct{} { return p.done }

type memoryEncoders struct {
	mu      sync.Mutex
	pipes   map[string]*memoryPipe
	outputs []string
}

func newMemoryEncoders() *memoryEncoders {
	return &memoryEncoders{pipes: make(map[string]*memoryPipe)}
}

func (m *memoryEncoders) Listen(name string) (encode.Endpoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := &memoryPipe{name: name, done: make(chan struct{})}
	m.pipes[name] = p
	return p, nil
}

func (m *memoryEncoders) Launch(_ context.Context, input, output string) (encode.Encoder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outputs = append(m.outputs, output)
	return m.pipes[input], nil
}

func (m *memoryEncoders) bytes(name string) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.pipes[name]; ok {
		return p.written.Load()
	}
	return 0
}

type recordingEmitter struct {
	mu     sync.Mutex
	tokens []string
	closed bool
}

func (e *recordingEmitter) Emit(_ context.Context, token string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.tokens = append(e.tokens, token)
	return nil
}

func (e *recordingEmitter) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	return nil
}

func (e *recordingEmitter) snapshot() ([]string, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.tokens...), e.closed
}

func testConfig(t *testing.T) config.Rig {
	t.Helper()
	cfg := config.DefaultRig()
	cfg.Camera.Driver = "synthetic"
	cfg.Camera.SensorWidth, cfg.Camera.SensorHeight = 32, 16
	cfg.Camera.Width, cfg.Camera.Height = 32, 16
	cfg.Camera.PreviewWidth, cfg.Camera.PreviewHeight = 16, 8
	cfg.Camera.FrameRate = 200
	cfg.Camera.BufferCount = 4
	cfg.Session.Roots = []string{t.TempDir()}
	cfg.Session.Subject = "Charlie"
	cfg.Controller.TickMS = 5
	return cfg
}

func syntheticDrivers(n int) []camera.Driver {
	drivers := make([]camera.Driver, n)
	for i := range drivers {
		drivers[i] = camera.NewSyntheticDriver(i, camera.SyntheticOptions{Seed: 7, Paced: true})
	}
	return drivers
}

type started struct {
	rig      *Rig
	encoders *memoryEncoders
	cues     *recordingEmitter
}

func startRig(t *testing.T, cfg config.Rig) started {
	t.Helper()
	s := started{encoders: newMemoryEncoders(), cues: &recordingEmitter{}}
	r, err := New(Options{
		Config:    cfg,
		Drivers:   syntheticDrivers(camera.Count),
		Launcher:  s.encoders,
		Transport: s.encoders,
		Emitter:   s.cues,
		Now:       func() time.Time { return time.Date(2026, 3, 9, 14, 5, 6, 0, time.UTC) },
	})
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	r.Start(ctx)
	s.rig = r
	t.Cleanup(func() {
		stopWithin(t, r, 5*time.Second)
		cancel()
	})
	return s
}

func stopWithin(t *testing.T, r *Rig, d time.Duration) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		r.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(d):
		t.Fatal("rig did not stop")
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func cameraStates(r *Rig) []string {
	var states []string
	for _, c := range r.Status().Cameras {
		states = append(states, c.State)
	}
	return states
}

func allInState(r *Rig, state camera.State) bool {
	for _, c := range r.Status().Cameras {
		if c.State != state.String() {
			return false
		}
	}
	return true
}

func TestNewRejectsWrongCameraCount(t *testing.T) {
	for _, n := range []int{0, 1, 3} {
		_, err := New(Options{Config: testConfig(t), Drivers: syntheticDrivers(n)})
		var startup *StartupError
		if !errors.As(err, &startup) {
			t.Fatalf("%d cameras: err = %v, want StartupError", n, err)
		}
		if startup.Precondition != "camera count mismatch" || !errors.Is(err, camera.ErrCameraCount) {
			t.Errorf("%d cameras: %v", n, err)
		}
		if !strings.Contains(err.Error(), "exactly 2 required") {
			t.Errorf("message does not name the requirement: %q", err)
		}
	}
}

type failingDriver struct {
	*camera.SyntheticDriver
	deinits *atomic.Int32
	fail    bool
}

func (d failingDriver) Init(setup camera.Setup) error {
	if d.fail {
		return errors.New("sensor unplugged")
	}
	return d.SyntheticDriver.Init(setup)
}

func (d failingDriver) DeInit() error {
	d.deinits.Add(1)
	return d.SyntheticDriver.DeInit()
}

func TestNewReleasesCamerasWhenInitFails(t *testing.T) {
	var deinits atomic.Int32
	drivers := []camera.Driver{
		failingDriver{SyntheticDriver: camera.NewSyntheticDriver(0, camera.SyntheticOptions{}), deinits: &deinits},
		failingDriver{SyntheticDriver: camera.NewSyntheticDriver(1, camera.SyntheticOptions{}), deinits: &deinits, fail: true},
	}
	_, err := New(Options{Config: testConfig(t), Drivers: drivers})
	var startup *StartupError
	if !errors.As(err, &startup) || startup.Precondition != "camera initialization" {
		t.Fatalf("err = %v", err)
	}
	if deinits.Load() != 1 {
		t.Errorf("released %d cameras, want the one that opened", deinits.Load())
	}
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.Merge.Pairing = "nearest"
	_, err := New(Options{Config: cfg, Drivers: syntheticDrivers(camera.Count)})
	var startup *StartupError
	if !errors.As(err, &startup) || startup.Precondition != "invalid configuration" {
		t.Fatalf("err = %v", err)
	}
}

func TestNewRejectsMissingSubject(t *testing.T) {
	cfg := testConfig(t)
	cfg.Session.Subject = ""
	_, err := New(Options{Config: cfg, Drivers: syntheticDrivers(camera.Count)})
	var startup *StartupError
	if !errors.As(err, &startup) || startup.Precondition != "session directory" {
		t.Fatalf("err = %v", err)
	}
}

func TestRigCreatesSessionAndSettings(t *testing.T) {
	cfg := testConfig(t)
	s := startRig(t, cfg)

	sess := s.rig.Session()
	want := filepath.Join(cfg.Session.Roots[0], "FetchRig", "Animal", "Charlie", "2026_03_09", "2026_03_09_14_05_06")
	if sess.Path(0) != want {
		t.Errorf("session path = %s, want %s", sess.Path(0), want)
	}
	for i := range camera.Count {
		data, err := os.ReadFile(sess.SettingsFile(i))
		if err != nil {
			t.Fatal(err)
		}
		if !strings.Contains(string(data), "synthetic") {
			t.Errorf("settings of camera %d do not record the device:\n%s", i, data)
		}
	}
}

func TestRigStreamsPreviewAndRecords(t *testing.T) {
	cfg := testConfig(t)
	s := startRig(t, cfg)
	r := s.rig

	stopped := make(chan events.RecordingStoppedEvent, camera.Count)
	unsub := r.Bus().Subscribe(func(e events.RecordingStoppedEvent) { stopped <- e })
	defer unsub()

	r.Dispatch(command.BeginAcquisition)
	r.Dispatch(command.BeginStreaming)
	waitFor(t, "streaming", func() bool { return allInState(r, camera.Streaming) })
	waitFor(t, "merged preview", func() bool { return r.Preview().Info().Sequence > 2 })

	if !r.Status().Previewing || r.Status().Merge != "active" {
		t.Errorf("status = %+v", r.Status())
	}
	info := r.Preview().Info()
	if info.Width != 16 || info.Height != 16 {
		t.Errorf("merged preview is %dx%d, want 16x16", info.Width, info.Height)
	}

	r.Dispatch(command.StartRecording)
	waitFor(t, "recording", func() bool { return allInState(r, camera.StreamingAndRecording) })
	for _, cs := range r.Status().Cameras {
		if !cs.Recording {
			t.Errorf("camera %d status not recording in %s", cs.Camera, cs.State)
		}
	}
	waitFor(t, "frames written", func() bool {
		return s.encoders.bytes(encode.PipeName(0)) > 0 && s.encoders.bytes(encode.PipeName(1)) > 0
	})
	r.Dispatch(command.StopRecording)
	waitFor(t, "recording stopped", func() bool { return allInState(r, camera.Streaming) })

	frameSize := int64(cfg.Camera.Width * cfg.Camera.Height)
	for range camera.Count {
		select {
		case e := <-stopped:
			if got := s.encoders.bytes(encode.PipeName(e.Camera)); got != e.FramesWritten*frameSize {
				t.Errorf("camera %d: %d bytes for %d frames", e.Camera, got, e.FramesWritten)
			}
			if !strings.HasPrefix(e.Output, r.Session().Path(e.Camera)) {
				t.Errorf("recording %s outside the session directory", e.Output)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("missing RecordingStoppedEvent")
		}
	}

	r.Dispatch(command.EndStreaming)
	waitFor(t, "idle", func() bool { return allInState(r, camera.Idle) })
	if r.Status().Previewing {
		t.Error("still previewing after end_streaming")
	}
}

func TestRigButtonsDriveTheRouter(t *testing.T) {
	s := startRig(t, testConfig(t))
	r := s.rig

	r.Tap(input.LeftShoulder)
	waitFor(t, "streaming from button", func() bool { return allInState(r, camera.Streaming) })

	r.Tap(input.B)
	r.Tap(input.A)
	waitFor(t, "cues", func() bool {
		tokens, _ := s.cues.snapshot()
		return len(tokens) == 2
	})
	tokens, _ := s.cues.snapshot()
	if tokens[0] != "trial_cue" || tokens[1] != "reward_cue" {
		t.Errorf("cues = %v", tokens)
	}
}

func TestRigExitFromControllerStopsEverything(t *testing.T) {
	s := startRig(t, testConfig(t))
	r := s.rig

	r.Dispatch(command.BeginStreaming)
	waitFor(t, "streaming", func() bool { return allInState(r, camera.Streaming) })
	r.Dispatch(command.StartRecording)
	waitFor(t, "recording", func() bool { return allInState(r, camera.StreamingAndRecording) })

	r.Tap(input.DPadLeft)
	select {
	case <-r.Exited():
	case <-time.After(2 * time.Second):
		t.Fatal("exit not signalled")
	}
	waitFor(t, "exited", func() bool { return allInState(r, camera.Exited) })
	stopWithin(t, r, 5*time.Second)

	if got := cameraStates(r); got[0] != "exited" || got[1] != "exited" {
		t.Errorf("states = %v", got)
	}
	if _, closed := s.cues.snapshot(); !closed {
		t.Error("cue emitter not closed")
	}
	if n := r.Status().DisplayQueue; n != 0 {
		t.Errorf("%d merged frames left unreleased", n)
	}
}

func TestRigStopWithoutStart(t *testing.T) {
	r, err := New(Options{Config: testConfig(t), Drivers: syntheticDrivers(camera.Count), Emitter: &recordingEmitter{}})
	if err != nil {
		t.Fatal(err)
	}
	stopWithin(t, r, time.Second)
}
