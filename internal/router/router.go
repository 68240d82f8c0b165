// Package router turns controller button presses into commands and fans
// them out to the camera pipelines, the merge stage and the cue subsystem.
package router

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/smazurov/fetchrig/internal/command"
	"github.com/smazurov/fetchrig/internal/cue"
	"github.com/smazurov/fetchrig/internal/events"
	"github.com/smazurov/fetchrig/internal/input"
	"github.com/smazurov/fetchrig/internal/metrics"
)

// Previewer owns the "is previewing" flag.
type Previewer interface {
	SetPreviewing(bool)
}

// Config wires a Router.
type Config struct {
	// Bindings maps a button to the command its press issues. Nil uses
	// DefaultBindings.
	Bindings map[input.Button]command.Command
	Cameras  []*command.Channel
	Merge    *command.Channel
	Preview  Previewer
	Bus      *events.Bus
	Logger   *slog.Logger
	// OnExit runs once, the first time Exit is issued.
	OnExit func()
}

// Router is safe for concurrent use.
type Router struct {
	cfg      Config
	logger   *slog.Logger
	mu       sync.Mutex
	previous map[string]input.State
	exitOnce sync.Once
}

// DefaultBindings is the controller layout of the rig.
func DefaultBindings() map[input.Button]command.Command {
	return map[input.Button]command.Command{
		input.DPadUp:        command.BeginAcquisition,
		input.LeftShoulder:  command.BeginStreaming,
		input.RightShoulder: command.EndStreaming,
		input.X:             command.StartRecording,
		input.Y:             command.StopRecording,
		input.A:             command.PlayCueB,
		input.B:             command.PlayCueA,
		input.DPadRight:     command.ResetBackground,
		input.DPadLeft:      command.Exit,
		input.Start:         command.SaveSnapshot,
	}
}

// ParseBindings parses a button name to command name table. An empty table
// yields DefaultBindings.
func ParseBindings(raw map[string]string) (map[input.Button]command.Command, error) {
	if len(raw) == 0 {
		return DefaultBindings(), nil
	}
	bindings := make(map[input.Button]command.Command, len(raw))
	for name, cmdName := range raw {
		b, err := input.ParseButton(name)
		if err != nil {
			return nil, err
		}
		cmd, err := command.Parse(cmdName)
		if err != nil {
			return nil, fmt.Errorf("button %s: %w", b, err)
		}
		bindings[b] = cmd
	}
	return bindings, nil
}

// New creates a Router.
func New(cfg Config) *Router {
	if cfg.Bindings == nil {
		cfg.Bindings = DefaultBindings()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Router{
		cfg:      cfg,
		logger:   logger,
		previous: make(map[string]input.State),
	}
}

// Bindings returns the active button table sorted by button.
func (r *Router) Bindings() []Binding {
	out := make([]Binding, 0, len(r.cfg.Bindings))
	for b, cmd := range r.cfg.Bindings {
		out = append(out, Binding{Button: b, Command: cmd})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Button < out[j].Button })
	return out
}

// Binding is one button to command mapping.
type Binding struct {
	Button  input.Button    `json:"button"`
	Command command.Command `json:"command"`
}

// OnEvent compares state with the previous state seen from source and issues
// the command bound to every button that went from released to pressed.
// Returns the issued commands in button scan order.
func (r *Router) OnEvent(source string, state input.State) []command.Command {
	r.mu.Lock()
	prev := r.previous[source]
	r.previous[source] = state
	r.mu.Unlock()

	var issued []command.Command
	for _, b := range input.Buttons() {
		if prev.Pressed(b) || !state.Pressed(b) {
			continue
		}
		cmd, ok := r.cfg.Bindings[b]
		if !ok {
			continue
		}
		r.logger.Debug("Button pressed", "button", b.String(), "command", cmd.String(), "source", source)
		r.Dispatch(cmd, source)
		issued = append(issued, cmd)
	}
	return issued
}

// Dispatch issues cmd to every consumer that handles it.
func (r *Router) Dispatch(cmd command.Command, source string) {
	if !cmd.Valid() {
		r.logger.Warn("Ignoring invalid command", "command", cmd.String(), "source", source)
		return
	}
	r.logger.Info("Command issued", "command", cmd.String(), "source", source)
	metrics.IncCommands(cmd.String())

	if toCameras(cmd) {
		for _, ch := range r.cfg.Cameras {
			ch.Send(cmd)
		}
	}
	if toMerge(cmd) && r.cfg.Merge != nil {
		r.cfg.Merge.Send(cmd)
	}
	if token, ok := cue.Token(cmd); ok && r.cfg.Bus != nil {
		r.cfg.Bus.Publish(events.CueRequestedEvent{Token: token, Timestamp: now()})
	}
	if r.cfg.Preview != nil {
		switch cmd {
		case command.BeginStreaming:
			r.cfg.Preview.SetPreviewing(true)
		case command.EndStreaming:
			r.cfg.Preview.SetPreviewing(false)
		}
	}
	if r.cfg.Bus != nil {
		r.cfg.Bus.Publish(events.CommandIssuedEvent{Command: cmd.String(), Source: source, Timestamp: now()})
	}
	if cmd == command.Exit && r.cfg.OnExit != nil {
		r.exitOnce.Do(r.cfg.OnExit)
	}
}

func toCameras(cmd command.Command) bool {
	switch cmd {
	case command.BeginAcquisition, command.BeginStreaming, command.StartRecording,
		command.StopRecording, command.EndStreaming, command.Exit:
		return true
	}
	return false
}

func toMerge(cmd command.Command) bool {
	switch cmd {
	case command.BeginStreaming, command.EndStreaming, command.ResetBackground,
		command.SaveSnapshot, command.Exit:
		return true
	}
	return false
}

func now() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}
