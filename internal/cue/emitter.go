// Package cue forwards trial and reward cues to the external cue subsystem.
package cue

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"

	"github.com/smazurov/fetchrig/internal/command"
	"github.com/smazurov/fetchrig/internal/process"
	"go.bug.st/serial"
)

// DefaultBaud is the line speed used when the config leaves baud unset.
const DefaultBaud = 9600

// Tokens understood by the cue subsystem.
const (
	TrialCue  = "trial_cue"
	RewardCue = "reward_cue"
	ExitToken = "exit"
)

// Token returns the cue token for cmd, if cmd is a cue command.
func Token(cmd command.Command) (string, bool) {
	switch cmd {
	case command.PlayCueA:
		return TrialCue, true
	case command.PlayCueB:
		return RewardCue, true
	case command.Exit:
		return ExitToken, true
	}
	return "", false
}

// Emitter delivers one token. Emit returns once the cue has been handed off
// or, for players, once it has finished playing.
type Emitter interface {
	Emit(ctx context.Context, token string) error
	Close() error
}

// Config selects and configures the emitter.
type Config struct {
	// Device is a serial port receiving newline-terminated tokens.
	Device string `toml:"device" json:"device,omitempty"`
	// Baud is the serial line speed, 8N1. Defaults to DefaultBaud.
	Baud int `toml:"baud" json:"baud,omitempty"`
	// Commands maps a token to a command run to completion per cue, such as
	// "aplay /usr/share/sounds/ding.wav".
	Commands map[string]string `toml:"commands" json:"commands,omitempty"`
}

// NewEmitter returns the emitter cfg asks for. Without a device or commands
// cues are only logged.
func NewEmitter(cfg Config, logger *slog.Logger) (Emitter, error) {
	switch {
	case cfg.Device != "":
		baud := cfg.Baud
		if baud <= 0 {
			baud = DefaultBaud
		}
		logger.Info("Using serial cue emitter", "device", cfg.Device, "baud", baud)
		return OpenSerial(cfg.Device, baud)
	case len(cfg.Commands) > 0:
		tokens := make([]string, 0, len(cfg.Commands))
		for token := range cfg.Commands {
			tokens = append(tokens, token)
		}
		sort.Strings(tokens)
		logger.Info("Using command cue emitter", "tokens", tokens)
		return &CommandEmitter{Commands: cfg.Commands, Logger: logger}, nil
	default:
		logger.Info("No cue output configured, cues are logged only")
		return &noop{logger: logger}, nil
	}
}

// Serial writes newline-terminated tokens to a serial port.
type Serial struct {
	mu   sync.Mutex
	port io.WriteCloser
}

// OpenSerial opens device at baud, 8 data bits, no parity, one stop bit.
func OpenSerial(device string, baud int) (*Serial, error) {
	port, err := serial.Open(device, &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, fmt.Errorf("open cue device %s: %w", device, err)
	}
	return NewSerial(port), nil
}

// NewSerial writes tokens to an already open port.
func NewSerial(port io.WriteCloser) *Serial {
	return &Serial{port: port}
}

// Emit implements Emitter.
func (s *Serial) Emit(_ context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := io.WriteString(s.port, token+"\n"); err != nil {
		return fmt.Errorf("write cue %q: %w", token, err)
	}
	return nil
}

// Close implements Emitter.
func (s *Serial) Close() error {
	return s.port.Close()
}

// CommandEmitter runs a configured command per token and waits for it.
// Tokens without a command are skipped.
type CommandEmitter struct {
	Commands map[string]string
	Logger   *slog.Logger
}

// Emit implements Emitter.
func (c *CommandEmitter) Emit(ctx context.Context, token string) error {
	cmd, ok := c.Commands[token]
	if !ok {
		return nil
	}
	p := process.New("cue-"+token, cmd, c.Logger)
	if err := p.Start(); err != nil {
		return err
	}
	code, err := p.Wait(ctx)
	if err != nil {
		return fmt.Errorf("cue %q: %w", token, err)
	}
	if code != 0 {
		return fmt.Errorf("cue %q exited with code %d", token, code)
	}
	return nil
}

// Close implements Emitter.
func (c *CommandEmitter) Close() error {
	return nil
}

type noop struct {
	logger *slog.Logger
}

func (n *noop) Emit(_ context.Context, token string) error {
	n.logger.Info("Cue", "token", token)
	return nil
}

func (n *noop) Close() error {
	return nil
}
