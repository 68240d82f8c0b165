package camera

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/smazurov/fetchrig/internal/command"
	"github.com/smazurov/fetchrig/internal/events"
	"github.com/smazurov/fetchrig/internal/frame"
	"github.com/smazurov/fetchrig/internal/metrics"
	"github.com/smazurov/fetchrig/internal/queue"
)

const (
	// PreviewDutyCycle is the ratio of acquired frames to preview frames.
	PreviewDutyCycle = 2
	// CommandPollInterval is how many acquired frames pass between command
	// polls while streaming.
	CommandPollInterval = 10

	defaultIdlePoll = 50 * time.Millisecond
)

// Recorder consumes full-resolution frames while a pipeline records. Push
// takes ownership of the frame.
type Recorder interface {
	Push(f *frame.Frame)
	StopAndJoin() (int64, error)
}

// RecorderFactory starts a recorder for a camera.
type RecorderFactory func(ctx context.Context, camera int) (Recorder, error)

// PipelineConfig wires a pipeline to its collaborators.
type PipelineConfig struct {
	Camera    int
	Driver    Driver
	Setup     Setup
	Commands  *command.Channel
	Preview   *queue.Queue[*frame.Frame]
	Recorders RecorderFactory
	Bus       *events.Bus
	Logger    *slog.Logger
	// IdlePoll bounds each command wait in Idle. Defaults to 50ms.
	IdlePoll time.Duration
}

// Pipeline owns one camera and runs its acquisition state machine. Run is
// the only goroutine that touches the driver.
type Pipeline struct {
	camera    int
	driver    Driver
	setup     Setup
	commands  *command.Channel
	preview   *queue.Queue[*frame.Frame]
	recorders RecorderFactory
	bus       *events.Bus
	logger    *slog.Logger
	idlePoll  time.Duration

	previewPool *frame.Pool
	encodePool  *frame.Pool

	state    atomic.Int32
	index    int64
	recorder Recorder
}

// NewPipeline creates a pipeline in the Idle state.
func NewPipeline(cfg PipelineConfig) *Pipeline {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if cfg.IdlePoll <= 0 {
		cfg.IdlePoll = defaultIdlePoll
	}
	p := &Pipeline{
		camera:      cfg.Camera,
		driver:      cfg.Driver,
		setup:       cfg.Setup,
		commands:    cfg.Commands,
		preview:     cfg.Preview,
		recorders:   cfg.Recorders,
		bus:         cfg.Bus,
		logger:      logger.With("camera", cfg.Camera),
		idlePoll:    cfg.IdlePoll,
		previewPool: frame.NewPool(cfg.Setup.PreviewSize()),
		encodePool:  frame.NewPool(cfg.Setup.FrameSize()),
	}
	metrics.SetPipelineState(cfg.Camera, "", Idle.String())
	return p
}

// Camera returns the camera index.
func (p *Pipeline) Camera() int {
	return p.camera
}

// State returns the current state. Safe from any goroutine.
func (p *Pipeline) State() State {
	return State(p.state.Load())
}

// Run drives the state machine until an Exit command is consumed or ctx is
// done, then shuts the device down.
func (p *Pipeline) Run(ctx context.Context) {
	p.logger.Info("Camera pipeline started", "device", p.driver.Info().Path)
	for {
		if ctx.Err() != nil && p.State() != Exited {
			p.setState(Exited)
		}
		switch p.State() {
		case Idle:
			p.idle(ctx)
		case BeginStreamingTransition:
			p.beginStreaming(ctx)
		case Streaming, StreamingAndRecording:
			p.stream(ctx)
		case BeginRecordingTransition:
			p.beginRecording(ctx)
		case EndingRecording:
			p.endRecording()
			p.setState(Streaming)
		case EndingAcquisition:
			p.endAcquisition()
		case Exited:
			p.shutdown()
			return
		}
	}
}

func (p *Pipeline) setState(next State) {
	prev := State(p.state.Swap(int32(next)))
	if prev == next {
		return
	}
	p.logger.Debug("State changed", "from", prev.String(), "to", next.String())
	metrics.SetPipelineState(p.camera, prev.String(), next.String())
	if p.bus != nil {
		p.bus.Publish(events.PipelineStateChangedEvent{
			Camera:    p.camera,
			From:      prev.String(),
			To:        next.String(),
			Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		})
	}
}

// idle waits for commands. It is the only state that tolerates every
// command; cue commands are expected here and dropped silently.
func (p *Pipeline) idle(ctx context.Context) {
	cmd, ok := p.commands.ReceiveWait(p.idlePoll)
	if !ok {
		if ctx.Err() != nil {
			p.setState(Exited)
		}
		return
	}

	switch cmd {
	case command.BeginAcquisition:
		if p.driver.IsAcquiring() {
			return
		}
		if err := p.driver.BeginAcquisition(); err != nil {
			p.logger.Error("Failed to begin acquisition", "error", err)
			return
		}
		p.logger.Info("Acquisition started, waiting for begin_streaming")
	case command.BeginStreaming:
		p.setState(BeginStreamingTransition)
	case command.Exit:
		p.setState(Exited)
	case command.PlayCueA, command.PlayCueB:
	default:
		p.logger.Info("Command ignored while idle", "command", cmd.String())
	}
}

// beginStreaming opens acquisition when needed and emits the background
// frame that starts a new streaming session. On failure it stays put and
// retries after a command poll.
func (p *Pipeline) beginStreaming(ctx context.Context) {
	if !p.driver.IsAcquiring() {
		if err := p.driver.BeginAcquisition(); err != nil {
			p.logger.Error("Failed to begin acquisition", "error", err)
			p.pollCommands()
			p.sleep(ctx)
			return
		}
	}

	p.index = 0
	img, err := p.driver.NextImage(ctx)
	if err != nil {
		p.acquisitionFailed(ctx, err)
		return
	}
	metrics.IncFramesAcquired(p.camera)

	p.emitPreview(img, true)
	img.Release()
	p.setState(Streaming)
}

// stream acquires one frame. While recording every frame goes to the
// recorder; every PreviewDutyCycle-th frame goes to preview.
func (p *Pipeline) stream(ctx context.Context) {
	img, err := p.driver.NextImage(ctx)
	if err != nil {
		p.acquisitionFailed(ctx, err)
		return
	}
	p.index++
	metrics.IncFramesAcquired(p.camera)

	if p.State() == StreamingAndRecording && p.recorder != nil {
		f := p.encodePool.NewFrame(p.setup.Width, p.setup.Height)
		copy(f.Bytes(), img.Data())
		p.tag(f, img, false)
		p.recorder.Push(f)
	}
	if p.index%PreviewDutyCycle == 0 {
		p.emitPreview(img, false)
	}
	img.Release()

	if p.index%CommandPollInterval == 0 {
		p.pollCommands()
	}
}

// acquisitionFailed handles a transient driver error: log, count, and give
// commands a chance so a dead camera can still be stopped.
func (p *Pipeline) acquisitionFailed(ctx context.Context, err error) {
	if ctx.Err() != nil {
		p.setState(Exited)
		return
	}
	metrics.IncAcquisitionErrors(p.camera)
	if errors.Is(err, ErrFrameTimeout) {
		p.logger.Debug("No frame from driver", "state", p.State().String())
	} else {
		p.logger.Warn("Frame acquisition failed", "state", p.State().String(), "error", err)
	}
	p.pollCommands()
}

// pollCommands consumes at most one command without blocking and applies
// it to the current streaming state.
func (p *Pipeline) pollCommands() {
	cmd, ok := p.commands.TryReceive()
	if !ok {
		return
	}

	state := p.State()
	switch {
	case cmd == command.Exit:
		p.setState(Exited)
	case cmd == command.EndStreaming:
		p.setState(EndingAcquisition)
	case cmd == command.StartRecording && state == Streaming:
		p.setState(BeginRecordingTransition)
	case cmd == command.StopRecording && state == StreamingAndRecording:
		p.setState(EndingRecording)
	default:
		metrics.IncInvalidCommands(p.camera)
		p.logger.Warn("Invalid command for state", "command", cmd.String(), "state", state.String())
	}
}

func (p *Pipeline) beginRecording(ctx context.Context) {
	if p.recorders == nil {
		p.logger.Error("Recording requested but no recorder is configured")
		p.setState(Streaming)
		return
	}
	rec, err := p.recorders(ctx, p.camera)
	if err != nil {
		p.logger.Error("Failed to start recording", "error", err)
		p.setState(Streaming)
		return
	}
	p.recorder = rec
	p.logger.Info("Recording started", "from_index", p.index+1)
	p.setState(StreamingAndRecording)
}

// endRecording drains and joins the recorder. Frames already pushed are
// all written before it returns.
func (p *Pipeline) endRecording() {
	if p.recorder == nil {
		return
	}
	written, err := p.recorder.StopAndJoin()
	p.recorder = nil
	if err != nil {
		p.logger.Error("Recording ended with error", "written", written, "error", err)
		return
	}
	p.logger.Info("Recording stopped", "written", written)
}

func (p *Pipeline) endAcquisition() {
	p.endRecording()
	if err := p.driver.EndAcquisition(); err != nil {
		p.logger.Warn("Failed to end acquisition", "error", err)
	}
	p.preview.Push(frame.NewCloseSignal(p.camera))
	p.logger.Info("Acquisition ended")
	p.setState(Idle)
}

func (p *Pipeline) shutdown() {
	p.endRecording()
	if p.driver.IsAcquiring() {
		if err := p.driver.EndAcquisition(); err != nil {
			p.logger.Warn("Failed to end acquisition", "error", err)
		}
	}

	var err error
	if p.setup.CloseMethod == CloseDeInit {
		err = p.driver.DeInit()
	} else {
		err = p.driver.Reset()
	}
	if err != nil {
		p.logger.Warn("Camera shutdown failed", "method", p.setup.CloseMethod, "error", err)
	}
	p.logger.Info("Camera pipeline exited")
}

func (p *Pipeline) emitPreview(img Image, background bool) {
	f := p.previewPool.NewFrame(p.setup.PreviewWidth, p.setup.PreviewHeight)
	err := frame.Downsample(f.Bytes(), f.Width, f.Height, img.Data(), p.setup.Width, p.setup.Height)
	if err != nil {
		f.Release()
		p.logger.Warn("Failed to downsample frame", "error", err)
		return
	}
	p.tag(f, img, background)
	p.preview.Push(f)
	metrics.IncPreviewFrames(p.camera)
}

func (p *Pipeline) tag(f *frame.Frame, img Image, background bool) {
	f.ID = img.FrameID()
	f.Timestamp = img.Timestamp()
	f.Index = p.index
	f.Camera = p.camera
	f.IsNewBackground = background
}

func (p *Pipeline) sleep(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-time.After(p.idlePoll):
	}
}
