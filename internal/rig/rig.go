// Package rig assembles the camera pipelines, merge stage, router, cue
// manager and input devices into one running rig.
package rig

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/smazurov/fetchrig/internal/camera"
	"github.com/smazurov/fetchrig/internal/command"
	"github.com/smazurov/fetchrig/internal/config"
	"github.com/smazurov/fetchrig/internal/cue"
	"github.com/smazurov/fetchrig/internal/display"
	"github.com/smazurov/fetchrig/internal/encode"
	"github.com/smazurov/fetchrig/internal/events"
	"github.com/smazurov/fetchrig/internal/ffmpeg"
	"github.com/smazurov/fetchrig/internal/frame"
	"github.com/smazurov/fetchrig/internal/input"
	"github.com/smazurov/fetchrig/internal/logging"
	"github.com/smazurov/fetchrig/internal/merge"
	"github.com/smazurov/fetchrig/internal/metrics"
	"github.com/smazurov/fetchrig/internal/queue"
	"github.com/smazurov/fetchrig/internal/router"
	"github.com/smazurov/fetchrig/internal/sched"
	"github.com/smazurov/fetchrig/internal/session"
)

// Input sources known to the router.
const (
	SourceController = "controller"
	SourceAPI        = "api"
	SourceShutdown   = "shutdown"
)

// StartupError reports a precondition that kept the rig from starting.
type StartupError struct {
	Precondition string
	Detail       string
	Err          error
}

func (e *StartupError) Error() string {
	if e.Detail == "" {
		return e.Precondition
	}
	return e.Precondition + ": " + e.Detail
}

func (e *StartupError) Unwrap() error {
	return e.Err
}

// Options builds a Rig. Zero fields fall back to the real hardware.
type Options struct {
	Config config.Rig
	Bus    *events.Bus

	// Drivers replaces camera discovery.
	Drivers []camera.Driver
	// Launcher replaces the ffmpeg launcher.
	Launcher encode.Launcher
	// Transport replaces the named pipe transport.
	Transport encode.Transport
	// Emitter replaces the configured cue emitter.
	Emitter cue.Emitter
	// Now stamps the session. Defaults to time.Now.
	Now func() time.Time
}

type namedDevice struct {
	name   string
	device input.Device
	failed bool
}

// Rig owns every stage goroutine of one session.
type Rig struct {
	cfg    config.Rig
	logger *slog.Logger
	bus    *events.Bus

	session   *session.Session
	drivers   []camera.Driver
	pipelines []*camera.Pipeline
	cameraCmd []*command.Channel
	previews  [camera.Count]*queue.Queue[*frame.Frame]

	progress []*encode.ProgressCollector

	mergeCmd *command.Channel
	stage    *merge.Stage
	outputs  *queue.Queue[merge.Output]
	latest   *display.Latest

	router  *router.Router
	cues    *cue.Manager
	virtual *input.Virtual
	devices []*namedDevice

	stages   sync.WaitGroup
	uiDone   chan struct{}
	uiStop   chan struct{}
	exited   chan struct{}
	exitOnce sync.Once
	stopOnce sync.Once
	started  bool
}

// New checks the startup preconditions and builds every stage. Nothing runs
// until Start.
func New(opts Options) (*Rig, error) {
	logger := logging.GetLogger("rig")
	cfg := opts.Config
	if err := cfg.Validate(logger); err != nil {
		return nil, &StartupError{Precondition: "invalid configuration", Detail: err.Error(), Err: err}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	bus := opts.Bus
	if bus == nil {
		bus = events.New()
	}

	drivers, err := openCameras(cfg.Camera, opts.Drivers, logger)
	if err != nil {
		return nil, err
	}

	r := &Rig{
		cfg:     cfg,
		logger:  logger,
		bus:     bus,
		drivers: drivers,
		uiDone:  make(chan struct{}),
		uiStop:  make(chan struct{}),
		exited:  make(chan struct{}),
		virtual: input.NewVirtual(),
	}
	if err := r.build(opts); err != nil {
		r.closeDrivers()
		r.closeDevices()
		for _, c := range r.progress {
			c.Stop()
		}
		return nil, err
	}
	return r, nil
}

// openCameras discovers and initializes exactly camera.Count drivers. A
// partial set is closed before returning an error.
func openCameras(setup camera.Setup, drivers []camera.Driver, logger *slog.Logger) ([]camera.Driver, error) {
	if drivers == nil {
		found, err := camera.Discover(setup, logging.GetLogger("camera"))
		if errors.Is(err, camera.ErrCameraCount) {
			return nil, &StartupError{Precondition: "camera count mismatch", Detail: err.Error(), Err: err}
		}
		if err != nil {
			return nil, &StartupError{Precondition: "camera discovery", Detail: err.Error(), Err: err}
		}
		drivers = found
	}
	if len(drivers) != camera.Count {
		return nil, &StartupError{
			Precondition: "camera count mismatch",
			Detail:       fmt.Sprintf("%d detected, exactly %d required", len(drivers), camera.Count),
			Err:          camera.ErrCameraCount,
		}
	}

	for i, d := range drivers {
		if err := d.Init(setup); err != nil {
			for _, opened := range drivers[:i] {
				if cerr := opened.DeInit(); cerr != nil {
					logger.Warn("Failed to release camera", "device", opened.Info().Path, "error", cerr)
				}
			}
			return nil, &StartupError{
				Precondition: "camera initialization",
				Detail:       fmt.Sprintf("camera %d (%s): %v", i, d.Info().Path, err),
				Err:          err,
			}
		}
		logger.Info("Camera ready", "camera", i, "device", d.Info().Path, "name", d.Info().Name)
	}
	return drivers, nil
}

func (r *Rig) build(opts Options) error {
	cfg := r.cfg

	sess, err := session.New(cfg.Session, camera.Count, opts.Now(), logging.GetLogger("session"))
	if err != nil {
		return &StartupError{Precondition: "session directory", Detail: err.Error(), Err: err}
	}
	r.session = sess
	for i, d := range r.drivers {
		if err := sess.WriteSettings(i, d.Info(), cfg.Camera); err != nil {
			r.logger.Warn("Failed to write camera settings", "camera", i, "error", err)
		}
	}

	capacity := cfg.Merge.QueueCapacity
	for i := range r.previews {
		name := fmt.Sprintf("preview%d", i)
		r.previews[i] = queue.New(
			queue.WithCapacity[*frame.Frame](capacity),
			queue.WithDropFunc(func(f *frame.Frame) {
				metrics.IncQueueDropped(name)
				f.Release()
			}),
		)
	}
	r.outputs = queue.New(
		queue.WithCapacity[merge.Output](capacity),
		queue.WithDropFunc(func(o merge.Output) {
			metrics.IncQueueDropped("display")
			o.Release()
		}),
	)

	recorders, err := r.recorderFactory(opts)
	if err != nil {
		return err
	}
	cameraLogger := logging.GetLogger("camera")
	for i, d := range r.drivers {
		ch := command.NewChannel()
		r.cameraCmd = append(r.cameraCmd, ch)
		r.pipelines = append(r.pipelines, camera.NewPipeline(camera.PipelineConfig{
			Camera:    i,
			Driver:    d,
			Setup:     cfg.Camera,
			Commands:  ch,
			Preview:   r.previews[i],
			Recorders: recorders,
			Bus:       r.bus,
			Logger:    cameraLogger,
		}))
	}

	snapshotDir := cfg.Merge.SnapshotDir
	if snapshotDir == "" {
		snapshotDir = sess.Path(0)
	}
	r.mergeCmd = command.NewChannel()
	r.stage, err = merge.NewStage(merge.Config{
		Width:       cfg.Camera.PreviewWidth,
		Height:      cfg.Camera.PreviewHeight,
		Inputs:      r.previews,
		Commands:    r.mergeCmd,
		Output:      r.outputs,
		Threshold:   cfg.Merge.Threshold,
		Pairing:     cfg.Merge.Pairing,
		SnapshotDir: snapshotDir,
		Bus:         r.bus,
		Logger:      logging.GetLogger("merge"),
		PairTimeout: cfg.Merge.PairTimeout(),
	})
	if err != nil {
		return &StartupError{Precondition: "merge stage", Detail: err.Error(), Err: err}
	}
	r.latest = display.NewLatest(cfg.Merge.JPEGQuality)

	bindings, err := router.ParseBindings(cfg.Controller.Bindings)
	if err != nil {
		return &StartupError{Precondition: "controller bindings", Detail: err.Error(), Err: err}
	}
	r.router = router.New(router.Config{
		Bindings: bindings,
		Cameras:  r.cameraCmd,
		Merge:    r.mergeCmd,
		Preview:  r.latest,
		Bus:      r.bus,
		Logger:   logging.GetLogger("router"),
		OnExit:   func() { r.exitOnce.Do(func() { close(r.exited) }) },
	})

	cueLogger := logging.GetLogger("cue")
	emitter := opts.Emitter
	if emitter == nil {
		emitter, err = cue.NewEmitter(cfg.Cue, cueLogger)
		if err != nil {
			return &StartupError{Precondition: "cue output", Detail: err.Error(), Err: err}
		}
	}
	r.cues = cue.NewManager(emitter, r.bus, cueLogger)

	r.devices = append(r.devices, &namedDevice{name: SourceAPI, device: r.virtual})
	if cfg.Controller.Device != "" {
		js, err := input.OpenJoystick(cfg.Controller.Device, input.XboxMapping())
		if err != nil {
			emitter.Close()
			return &StartupError{Precondition: "controller", Detail: err.Error(), Err: err}
		}
		r.logger.Info("Controller opened", "device", cfg.Controller.Device)
		r.devices = append(r.devices, &namedDevice{name: SourceController, device: js})
	}
	return nil
}

// recorderFactory starts one encode sink per recording, writing into the
// camera's session directory.
func (r *Rig) recorderFactory(opts Options) (camera.RecorderFactory, error) {
	enc := r.cfg.Encoder
	setup := r.cfg.Camera
	logger := logging.GetLogger("encode")

	if opts.Transport == nil || opts.Launcher == nil {
		if err := os.MkdirAll(enc.PipeDir, 0o755); err != nil {
			return nil, &StartupError{Precondition: "pipe directory", Detail: err.Error(), Err: err}
		}
	}
	transport := opts.Transport
	if transport == nil {
		transport = encode.FIFOTransport{Dir: enc.PipeDir}
	}
	// Each camera gets its own ffmpeg launcher so progress reports land on
	// that camera's collector.
	var launchers [camera.Count]encode.Launcher
	for cam := range launchers {
		if opts.Launcher != nil {
			launchers[cam] = opts.Launcher
			continue
		}
		params := ffmpeg.RawEncodeParams{
			Binary:    enc.Binary,
			Width:     setup.Width,
			Height:    setup.Height,
			FrameRate: setup.FrameRate,
			Codec:     enc.Codec,
			Preset:    enc.Preset,
			QP:        enc.QP,
			CRF:       enc.CRF,
			LogLevel:  enc.LogLevel,
			ExtraArgs: enc.ExtraArgs,
		}
		collector := encode.NewProgressCollector(cam, filepath.Join(enc.PipeDir, fmt.Sprintf("progress%d.sock", cam)), logger)
		if err := collector.Start(); err != nil {
			r.logger.Warn("Encoder progress unavailable", "camera", cam, "error", err)
		} else {
			r.progress = append(r.progress, collector)
			params.ProgressURL = collector.URL()
		}
		launchers[cam] = encode.NewFFmpegLauncher(params, logging.GetLogger("ffmpeg").With("camera", cam))
	}

	return func(ctx context.Context, cam int) (camera.Recorder, error) {
		return encode.Start(ctx, encode.Config{
			Camera:      cam,
			PipeName:    encode.PipeName(cam),
			OutputPath:  encode.OutputPath(r.session.Path(cam), time.Now()),
			FrameSize:   setup.FrameSize(),
			Transport:   transport,
			Launcher:    launchers[cam],
			Bus:         r.bus,
			Logger:      logger,
			ExitTimeout: enc.ExitTimeout(),
		})
	}, nil
}

// Start runs every stage. Pipelines and the merge stage each get a locked OS
// thread with raised priority; the UI loop polls input and drains the
// display queue every controller tick. ctx ends the stages as a fallback to
// the Exit command.
func (r *Rig) Start(ctx context.Context) {
	r.started = true
	r.cues.Start(ctx)

	for _, p := range r.pipelines {
		r.stages.Add(1)
		go func() {
			defer r.stages.Done()
			sched.Pin(sched.Acquisition, r.logger.With("camera", p.Camera()))
			p.Run(ctx)
		}()
	}
	r.stages.Add(1)
	go func() {
		defer r.stages.Done()
		sched.Pin(sched.Background, r.logger.With("stage", "merge"))
		r.stage.Run(ctx)
	}()

	go r.uiLoop()
	r.logger.Info("Rig started",
		"session", r.session.ID.String(),
		"subject", r.session.Subject,
		"paths", r.session.Paths)
}

func (r *Rig) uiLoop() {
	defer close(r.uiDone)
	ticker := time.NewTicker(r.cfg.Controller.Tick())
	defer ticker.Stop()
	for {
		select {
		case <-r.uiStop:
			return
		case <-ticker.C:
			r.tick()
		}
	}
}

// tick polls every input device once, routes rising edges and renders at
// most one merged frame.
func (r *Rig) tick() {
	for _, d := range r.devices {
		state, err := d.device.Poll()
		if err != nil {
			if !d.failed {
				r.logger.Warn("Input device failed", "source", d.name, "error", err)
				d.failed = true
			}
			continue
		}
		if d.failed {
			r.logger.Info("Input device recovered", "source", d.name)
			d.failed = false
		}
		r.router.OnEvent(d.name, state)
	}
	display.Tick(r.latest, r.outputs)
}

// Exited is closed once Exit has been issued from any source.
func (r *Rig) Exited() <-chan struct{} {
	return r.exited
}

// Stop issues Exit and joins every stage. Recordings in progress are
// drained before the pipelines return.
func (r *Rig) Stop() {
	r.stopOnce.Do(func() {
		r.logger.Info("Stopping rig")
		r.router.Dispatch(command.Exit, SourceShutdown)
		if r.started {
			r.stages.Wait()
			close(r.uiStop)
			<-r.uiDone
		} else {
			r.closeDrivers()
		}
		r.cues.Stop()
		r.closeDevices()
		for _, c := range r.progress {
			c.Stop()
		}

		leftover := r.outputs.Drain()
		for _, q := range r.previews {
			leftover += q.Drain()
		}
		r.logger.Info("Rig stopped", "session", r.session.ID.String(), "discarded_frames", leftover)
	})
}

func (r *Rig) closeDrivers() {
	for _, d := range r.drivers {
		if err := d.DeInit(); err != nil {
			r.logger.Warn("Failed to release camera", "device", d.Info().Path, "error", err)
		}
	}
}

func (r *Rig) closeDevices() {
	for _, d := range r.devices {
		if err := d.device.Close(); err != nil {
			r.logger.Warn("Failed to close input device", "source", d.name, "error", err)
		}
	}
}

// Dispatch issues cmd as if a bound button had been pressed.
func (r *Rig) Dispatch(cmd command.Command) {
	r.router.Dispatch(cmd, SourceAPI)
}

// Tap presses and releases b on the virtual controller. The press is routed
// on the next UI tick.
func (r *Rig) Tap(b input.Button) {
	r.virtual.Tap(b)
}

// Bindings returns the active button table.
func (r *Rig) Bindings() []router.Binding {
	return r.router.Bindings()
}

// Preview returns the display consumer holding the latest merged frame.
func (r *Rig) Preview() *display.Latest {
	return r.latest
}

// Session returns the running session.
func (r *Rig) Session() *session.Session {
	return r.session
}

// Bus returns the rig's event bus.
func (r *Rig) Bus() *events.Bus {
	return r.bus
}
