// Package encode streams full-resolution frames to an external encoder
// process over a byte-stream transport.
package encode

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/smazurov/fetchrig/internal/events"
	"github.com/smazurov/fetchrig/internal/frame"
	"github.com/smazurov/fetchrig/internal/metrics"
	"github.com/smazurov/fetchrig/internal/queue"
)

// ProgressInterval is how many frames pass between progress log lines.
const ProgressInterval = 1000

// ErrSinkStopped is returned when frames are pushed after StopAndJoin.
var ErrSinkStopped = errors.New("encode sink stopped")

// Config describes one recording.
type Config struct {
	Camera     int
	PipeName   string
	OutputPath string
	FrameSize  int

	Transport Transport
	Launcher  Launcher
	Bus       *events.Bus
	Logger    *slog.Logger

	// PollInterval bounds each wait on an empty queue. Defaults to 10ms.
	PollInterval time.Duration
	// ExitTimeout bounds the wait for the encoder after the transport is
	// closed; the encoder is stopped when it runs out. Defaults to 30s.
	ExitTimeout time.Duration
}

// PipeName returns the transport endpoint name for camera.
func PipeName(camera int) string {
	return fmt.Sprintf("ffpipe%d", camera)
}

// OutputPath returns the recording file for a recording started at now.
func OutputPath(dir string, now time.Time) string {
	return filepath.Join(dir, now.Format("2006_01_02_15_04_05")+".mp4")
}

// Sink owns one encoder process and the goroutine writing to it. Frames
// are written in push order; none are dropped before StopAndJoin returns.
type Sink struct {
	cfg      Config
	logger   *slog.Logger
	frames   *queue.Queue[*frame.Frame]
	endpoint Endpoint
	encoder  Encoder

	cancel   context.CancelFunc
	stopping atomic.Bool
	stopOnce sync.Once
	done     chan struct{}
	written  atomic.Int64
	err      error
}

// Start creates the transport endpoint, launches the encoder and returns.
// Connecting and writing happen on the sink's own goroutine; frames pushed
// before the encoder connects are queued.
func Start(ctx context.Context, cfg Config) (*Sink, error) {
	if cfg.FrameSize <= 0 {
		return nil, fmt.Errorf("invalid frame size %d", cfg.FrameSize)
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 10 * time.Millisecond
	}
	if cfg.ExitTimeout <= 0 {
		cfg.ExitTimeout = 30 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	endpoint, err := cfg.Transport.Listen(cfg.PipeName)
	if err != nil {
		return nil, err
	}
	encoder, err := cfg.Launcher.Launch(ctx, endpoint.Address(), cfg.OutputPath)
	if err != nil {
		endpoint.Close()
		return nil, fmt.Errorf("launch encoder: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	s := &Sink{
		cfg:      cfg,
		logger:   logger.With("camera", cfg.Camera),
		frames:   queue.New[*frame.Frame](),
		endpoint: endpoint,
		encoder:  encoder,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	go s.run(runCtx)
	return s, nil
}

// Push queues f for writing and takes ownership of it.
func (s *Sink) Push(f *frame.Frame) {
	if s.stopping.Load() {
		s.logger.Warn("Frame pushed to stopped sink", "index", f.Index, "error", ErrSinkStopped)
		f.Release()
		return
	}
	s.frames.Push(f)
}

// Written returns the number of frames written to the transport so far.
func (s *Sink) Written() int64 {
	return s.written.Load()
}

// StopAndJoin drains the queue, closes the transport, waits for the encoder
// to exit and returns the total frames written plus the first fault.
func (s *Sink) StopAndJoin() (int64, error) {
	s.stopOnce.Do(func() {
		s.stopping.Store(true)
	})
	<-s.done
	return s.written.Load(), s.err
}

func (s *Sink) run(ctx context.Context) {
	defer close(s.done)
	defer s.cancel()

	w, err := s.connect(ctx)
	if err != nil {
		s.fail(fmt.Errorf("connect encoder: %w", err))
		s.discard()
		s.finish()
		return
	}
	s.logger.Info("Encoder connected", "pipe", s.endpoint.Address(), "output", s.cfg.OutputPath)
	if s.cfg.Bus != nil {
		s.cfg.Bus.Publish(events.RecordingStartedEvent{
			Camera:    s.cfg.Camera,
			Output:    s.cfg.OutputPath,
			Timestamp: now(),
		})
	}

	for {
		f, ok := s.frames.PopWait(s.cfg.PollInterval)
		if !ok {
			if s.stopping.Load() && s.frames.Len() == 0 {
				break
			}
			continue
		}
		if s.err != nil {
			f.Release()
			continue
		}
		if err := s.write(w, f); err != nil {
			s.fail(fmt.Errorf("write frame %d: %w", f.Index, err))
		}
		f.Release()
		metrics.SetEncoderQueueDepth(s.cfg.Camera, s.frames.Len())
	}

	if err := w.Close(); err != nil && s.err == nil {
		s.fail(fmt.Errorf("close transport: %w", err))
	}
	s.finish()
}

// connect waits for the encoder to open the transport. An encoder that exits
// before connecting aborts the wait.
func (s *Sink) connect(ctx context.Context) (io.WriteCloser, error) {
	acceptCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-s.encoder.Done():
			cancel()
		case <-acceptCtx.Done():
		}
	}()
	return s.endpoint.Accept(acceptCtx)
}

func (s *Sink) write(w io.Writer, f *frame.Frame) error {
	data := f.Bytes()
	if len(data) != s.cfg.FrameSize {
		return fmt.Errorf("frame is %d bytes, want %d", len(data), s.cfg.FrameSize)
	}
	if _, err := w.Write(data); err != nil {
		return err
	}
	n := s.written.Add(1)
	metrics.AddFramesWritten(s.cfg.Camera, 1)
	if n%ProgressInterval == 0 {
		s.logger.Info("Frames written", "written", n)
	}
	return nil
}

// discard releases queued frames until stop is requested and the queue is
// empty.
func (s *Sink) discard() {
	for {
		f, ok := s.frames.PopWait(s.cfg.PollInterval)
		if ok {
			f.Release()
			continue
		}
		if s.stopping.Load() && s.frames.Len() == 0 {
			return
		}
	}
}

func (s *Sink) finish() {
	waitCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ExitTimeout)
	code, err := s.encoder.Wait(waitCtx)
	cancel()
	if err != nil && s.err == nil {
		s.fail(fmt.Errorf("encoder: %w", err))
	} else if code != 0 && s.err == nil {
		s.fail(fmt.Errorf("encoder exited with code %d", code))
	}

	if err := s.endpoint.Close(); err != nil {
		s.logger.Warn("Failed to remove transport endpoint", "error", err)
	}
	metrics.SetEncoderQueueDepth(s.cfg.Camera, 0)

	written := s.written.Load()
	s.logger.Info("Encoder finished", "written", written, "exit_code", code)
	if s.err == nil && s.cfg.Bus != nil {
		s.cfg.Bus.Publish(events.RecordingStoppedEvent{
			Camera:        s.cfg.Camera,
			Output:        s.cfg.OutputPath,
			FramesWritten: written,
			Timestamp:     now(),
		})
	}
}

// fail records the first fault and reports it right away, ahead of the
// owner learning about it from StopAndJoin.
func (s *Sink) fail(err error) {
	if s.err != nil {
		return
	}
	s.err = err
	s.logger.Error("Encode sink fault", "error", err)
	metrics.IncEncoderFaults(s.cfg.Camera)
	if s.cfg.Bus != nil {
		s.cfg.Bus.Publish(events.RecordingFailedEvent{
			Camera:    s.cfg.Camera,
			Error:     err.Error(),
			Timestamp: now(),
		})
	}
}

func now() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}
