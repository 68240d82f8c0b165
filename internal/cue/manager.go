package cue

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/smazurov/fetchrig/internal/events"
	"github.com/smazurov/fetchrig/internal/queue"
)

// DefaultInterval is the pacing between cues.
const DefaultInterval = 100 * time.Millisecond

// Manager plays requested cues one at a time. It subscribes to
// CueRequestedEvent and takes at most one token off its queue per tick; a cue
// that is still playing holds the next one back. It stops after the exit
// token.
type Manager struct {
	emitter  Emitter
	eventBus *events.Bus
	logger   *slog.Logger
	interval time.Duration

	tokens      *queue.Queue[string]
	unsubscribe func()
	cancel      context.CancelFunc
	done        chan struct{}
	stopOnce    sync.Once
}

// NewManager creates a cue manager. Nothing runs until Start.
func NewManager(emitter Emitter, eventBus *events.Bus, logger *slog.Logger) *Manager {
	return &Manager{
		emitter:  emitter,
		eventBus: eventBus,
		logger:   logger,
		interval: DefaultInterval,
		tokens:   queue.New[string](),
		done:     make(chan struct{}),
	}
}

// Start subscribes to cue requests and starts the playback loop.
func (m *Manager) Start(ctx context.Context) {
	ctx, m.cancel = context.WithCancel(ctx)
	m.unsubscribe = m.eventBus.Subscribe(func(e events.CueRequestedEvent) {
		m.logger.Debug("Cue queued", "token", e.Token)
		m.tokens.Push(e.Token)
	})
	go m.run(ctx)
	m.logger.Info("Cue manager started", "interval", m.interval)
}

// Done is closed once the playback loop has exited.
func (m *Manager) Done() <-chan struct{} {
	return m.done
}

// Pending returns the number of queued cues.
func (m *Manager) Pending() int {
	return m.tokens.Len()
}

// Stop unsubscribes, ends the playback loop and closes the emitter.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() {
		if m.unsubscribe != nil {
			m.unsubscribe()
		}
		if m.cancel != nil {
			m.cancel()
			<-m.done
		}
		if err := m.emitter.Close(); err != nil {
			m.logger.Warn("Failed to close cue emitter", "error", err)
		}
		m.logger.Info("Cue manager stopped")
	})
}

func (m *Manager) run(ctx context.Context) {
	defer close(m.done)
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		token, ok := m.tokens.TryPop()
		if !ok {
			continue
		}
		if err := m.emitter.Emit(ctx, token); err != nil {
			m.logger.Warn("Failed to emit cue", "token", token, "error", err)
		}
		if token == ExitToken {
			m.logger.Info("Cue manager received exit")
			return
		}
	}
}
