// Package merge pairs preview frames from both cameras, stacks them into one
// image and computes a background-subtracted motion mask.
package merge

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/smazurov/fetchrig/internal/command"
	"github.com/smazurov/fetchrig/internal/events"
	"github.com/smazurov/fetchrig/internal/frame"
	"github.com/smazurov/fetchrig/internal/metrics"
	"github.com/smazurov/fetchrig/internal/queue"
)

// Pairing policies.
const (
	// PairFIFO pairs frames by arrival order.
	PairFIFO = "fifo"
	// PairIndex pairs frames carrying the same acquisition index and drops
	// the older frame of a mismatched pair.
	PairIndex = "index"
)

// State is the merge stage state.
type State int32

// Merge stage states.
const (
	Idle State = iota
	Active
)

func (s State) String() string {
	if s == Active {
		return "active"
	}
	return "idle"
}

// Output is one merged result. Raw is the stacked W x 2H image, camera 0 on
// top; Mask is the motion mask of the same geometry. The receiver owns both
// and must call Release.
type Output struct {
	Raw          *frame.Frame
	Mask         *frame.Frame
	MotionPixels int
	Background   bool
}

// Release returns both buffers.
func (o Output) Release() {
	o.Raw.Release()
	o.Mask.Release()
}

// Config wires a Stage.
type Config struct {
	// Width and Height are the preview geometry of one camera.
	Width  int
	Height int

	Inputs   [2]*queue.Queue[*frame.Frame]
	Commands *command.Channel
	Output   *queue.Queue[Output]

	Threshold   uint8
	Pairing     string
	SnapshotDir string

	Bus    *events.Bus
	Logger *slog.Logger

	// PairTimeout bounds each wait for a camera's next frame. Defaults to 20ms.
	PairTimeout time.Duration
	// IdlePoll bounds each command wait while idle. Defaults to 10ms.
	IdlePoll time.Duration
}

// Stage is the merge stage. Run owns every buffer it touches, including the
// reference background.
type Stage struct {
	cfg    Config
	logger *slog.Logger
	pool   *frame.Pool

	state        atomic.Int32
	reference    []byte
	needsReset   bool
	saveSnapshot bool
	pending      [2]*frame.Frame
	snapshots    sync.WaitGroup
}

// NewStage validates cfg and allocates the reference background.
func NewStage(cfg Config) (*Stage, error) {
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, fmt.Errorf("invalid preview size %dx%d", cfg.Width, cfg.Height)
	}
	if cfg.Inputs[0] == nil || cfg.Inputs[1] == nil || cfg.Commands == nil || cfg.Output == nil {
		return nil, fmt.Errorf("merge stage needs two inputs, a command channel and an output")
	}
	switch cfg.Pairing {
	case PairFIFO, PairIndex:
	case "":
		cfg.Pairing = PairFIFO
	default:
		return nil, fmt.Errorf("unknown pairing policy %q", cfg.Pairing)
	}
	if cfg.PairTimeout <= 0 {
		cfg.PairTimeout = 20 * time.Millisecond
	}
	if cfg.IdlePoll <= 0 {
		cfg.IdlePoll = 10 * time.Millisecond
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	size := cfg.Width * cfg.Height * 2
	return &Stage{
		cfg:       cfg,
		logger:    logger,
		pool:      frame.NewPool(size),
		reference: make([]byte, size),
	}, nil
}

// State returns the current state. Safe from any goroutine.
func (s *Stage) State() State {
	return State(s.state.Load())
}

// Run processes commands and frames until Exit or ctx is done.
func (s *Stage) Run(ctx context.Context) {
	defer s.shutdown()
	s.logger.Info("Merge stage started", "pairing", s.cfg.Pairing, "threshold", s.cfg.Threshold)

	for ctx.Err() == nil {
		if s.State() == Idle {
			cmd, ok := s.cfg.Commands.ReceiveWait(s.cfg.IdlePoll)
			if ok && s.apply(cmd) {
				return
			}
			if s.State() == Idle {
				s.discardStale()
			}
			continue
		}

		if cmd, ok := s.cfg.Commands.TryReceive(); ok && s.apply(cmd) {
			return
		}
		if s.State() == Active {
			s.step()
		}
	}
}

// apply handles one command and reports whether the stage should exit.
func (s *Stage) apply(cmd command.Command) bool {
	switch cmd {
	case command.BeginStreaming:
		if s.State() == Idle {
			// EndStreaming and BeginStreaming may arrive together; the previous
			// session's frames must not become the new reference.
			s.discardStale()
		}
		s.needsReset = true
		s.setState(Active)
	case command.EndStreaming:
		s.releasePending()
		s.setState(Idle)
	case command.ResetBackground:
		s.needsReset = true
		s.logger.Info("Background reset requested")
	case command.SaveSnapshot:
		if s.cfg.SnapshotDir == "" {
			s.logger.Warn("Snapshot requested but no snapshot directory is configured")
			return false
		}
		s.saveSnapshot = true
	case command.Exit:
		return true
	default:
		s.logger.Debug("Command ignored by merge stage", "command", cmd.String())
	}
	return false
}

func (s *Stage) setState(next State) {
	prev := State(s.state.Swap(int32(next)))
	if prev != next {
		s.logger.Info("Merge stage state changed", "from", prev.String(), "to", next.String())
	}
}

// step tries to complete one pair within the pair timeout per camera.
// Frames already taken stay pending across steps.
func (s *Stage) step() {
	for cam := range s.pending {
		if s.pending[cam] != nil {
			continue
		}
		f, ok := s.next(cam)
		if !ok {
			return
		}
		s.pending[cam] = f
	}

	top, bottom := s.pending[0], s.pending[1]
	if s.cfg.Pairing == PairIndex && top.Index != bottom.Index {
		older := 0
		if bottom.Index < top.Index {
			older = 1
		}
		s.logger.Debug("Dropping unmatched frame", "camera", older, "index", s.pending[older].Index)
		s.drop(s.pending[older], "unmatched")
		s.pending[older] = nil
		return
	}
	s.pending = [2]*frame.Frame{}

	s.merge(top, bottom)
	top.Release()
	bottom.Release()
}

// next pops the next usable frame of cam, dropping close signals and frames
// of the wrong geometry.
func (s *Stage) next(cam int) (*frame.Frame, bool) {
	for {
		f, ok := s.cfg.Inputs[cam].PopWait(s.cfg.PairTimeout)
		if !ok {
			return nil, false
		}
		switch {
		case f.CloseSignal:
			s.drop(f, "close_signal")
		case f.Width != s.cfg.Width || f.Height != s.cfg.Height:
			s.logger.Warn("Dropping frame with unexpected geometry", "camera", cam, "width", f.Width, "height", f.Height)
			s.drop(f, "geometry")
		default:
			return f, true
		}
	}
}

func (s *Stage) merge(top, bottom *frame.Frame) {
	raw := s.pool.NewFrame(s.cfg.Width, s.cfg.Height*2)
	Stack(raw.Bytes(), top.Bytes(), bottom.Bytes())
	raw.ID, raw.Timestamp, raw.Index = top.ID, top.Timestamp, top.Index

	background := top.IsNewBackground || bottom.IsNewBackground
	if s.needsReset || background {
		copy(s.reference, raw.Bytes())
		s.needsReset = false
		s.logger.Debug("Reference background updated", "index", top.Index)
	}

	mask := s.pool.NewFrame(s.cfg.Width, s.cfg.Height*2)
	mask.ID, mask.Timestamp, mask.Index = raw.ID, raw.Timestamp, raw.Index
	on := Subtract(mask.Bytes(), raw.Bytes(), s.reference, s.cfg.Threshold)

	metrics.IncMergePairs()
	metrics.SetMotionPixels(on)

	if s.saveSnapshot {
		s.saveSnapshot = false
		s.snapshot(raw, mask)
	}

	s.cfg.Output.Push(Output{Raw: raw, Mask: mask, MotionPixels: on, Background: background})
}

// discardStale drops idle-time frames ahead of the next session's background
// frame, so a new session starts with a fresh pair.
func (s *Stage) discardStale() {
	for cam, in := range s.cfg.Inputs {
		for {
			head, ok := in.Peek()
			if !ok || head.IsNewBackground {
				break
			}
			f, ok := in.TryPop()
			if !ok {
				break
			}
			if f.IsNewBackground {
				// The head was evicted under us; keep the background frame.
				s.pending[cam].Release()
				s.pending[cam] = f
				break
			}
			s.drop(f, "stale")
		}
	}
}

func (s *Stage) drop(f *frame.Frame, reason string) {
	metrics.IncMergeDiscarded(reason)
	f.Release()
}

func (s *Stage) releasePending() {
	for i, f := range s.pending {
		if f != nil {
			s.drop(f, "stale")
			s.pending[i] = nil
		}
	}
}

func (s *Stage) shutdown() {
	s.releasePending()
	for _, in := range s.cfg.Inputs {
		for {
			f, ok := in.TryPop()
			if !ok {
				break
			}
			f.Release()
		}
	}
	s.snapshots.Wait()
	s.setState(Idle)
	s.logger.Info("Merge stage exited")
}
