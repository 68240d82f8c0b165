package process

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/smazurov/fetchrig/internal/logging"
)

// ExitCodeKilled is reported when the process had to be SIGKILLed.
const ExitCodeKilled = 137

var (
	// ErrAlreadyStarted is returned by Start on a second call.
	ErrAlreadyStarted = errors.New("process already started")
	// ErrNotStarted is returned by Wait before Start succeeded.
	ErrNotStarted = errors.New("process not started")
)

// OutputHandler receives output lines from the subprocess.
type OutputHandler interface {
	HandleLine(source, line string)
}

// LogParser parses a log line and returns the log level and message.
type LogParser func(line string) (level, msg string)

// Option configures a Process.
type Option func(*Process)

// WithOutputHandler forwards every output line to handler.
func WithOutputHandler(handler OutputHandler) Option {
	return func(p *Process) {
		p.outputHandler = handler
	}
}

// WithLogParser logs process output to logger, leveled by parser.
func WithLogParser(logger logging.Logger, parser LogParser) Option {
	return func(p *Process) {
		p.processLogger = logger
		p.logParser = parser
	}
}

// WithTimeouts overrides the graceful stop and post-kill timeouts.
func WithTimeouts(graceful, kill time.Duration) Option {
	return func(p *Process) {
		p.gracefulTimeout = graceful
		p.killTimeout = kill
	}
}

// Process manages the lifecycle of one subprocess.
type Process struct {
	id              string
	command         string
	logger          logging.Logger
	processLogger   logging.Logger
	logParser       LogParser
	outputHandler   OutputHandler
	gracefulTimeout time.Duration
	killTimeout     time.Duration

	mu        sync.Mutex
	cmd       *exec.Cmd
	state     State
	startedAt time.Time
	exitCode  int
	lastErr   error
	done      chan struct{}
}

// New creates a process. Nothing runs until Start.
func New(id, command string, logger logging.Logger, opts ...Option) *Process {
	p := &Process{
		id:              id,
		command:         command,
		logger:          logger,
		gracefulTimeout: 5 * time.Second,
		killTimeout:     5 * time.Second,
		state:           StateIdle,
		done:            make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Command returns the command line.
func (p *Process) Command() string {
	return p.command
}

// Done is closed once the process has exited and its output is drained.
func (p *Process) Done() <-chan struct{} {
	return p.done
}

// Info returns the current process state.
func (p *Process) Info() Info {
	p.mu.Lock()
	defer p.mu.Unlock()

	info := Info{
		ID:        p.id,
		State:     p.state,
		StartedAt: p.startedAt,
		ExitCode:  p.exitCode,
		LastError: p.lastErr,
	}
	if p.cmd != nil && p.cmd.Process != nil {
		info.PID = p.cmd.Process.Pid
	}
	return info
}

// Start parses the command line and launches the subprocess in its own
// process group.
func (p *Process) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cmd != nil {
		return ErrAlreadyStarted
	}

	args, err := parseCommand(p.command)
	if err != nil {
		return p.failLocked(fmt.Errorf("parse command: %w", err))
	}
	if len(args) == 0 {
		return p.failLocked(errors.New("empty command"))
	}

	cmd := exec.Command(args[0], args[1:]...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return p.failLocked(fmt.Errorf("stdout pipe: %w", err))
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return p.failLocked(fmt.Errorf("stderr pipe: %w", err))
	}

	if err := cmd.Start(); err != nil {
		return p.failLocked(fmt.Errorf("start %s: %w", args[0], err))
	}

	p.cmd = cmd
	p.state = StateRunning
	p.startedAt = time.Now()
	p.logger.Info("Process started", "id", p.id, "pid", cmd.Process.Pid, "command", p.command)

	outputDone := make(chan struct{}, 2)
	go func() {
		p.streamOutput(stdout, "stdout")
		outputDone <- struct{}{}
	}()
	go func() {
		p.streamOutput(stderr, "stderr")
		outputDone <- struct{}{}
	}()

	// Wait closes the pipes, so output is drained first.
	go func() {
		<-outputDone
		<-outputDone
		p.finish(cmd.Wait())
	}()

	return nil
}

// Wait blocks until the process exits on its own. If ctx ends first the
// process is stopped and ctx.Err() is returned with the resulting exit code.
func (p *Process) Wait(ctx context.Context) (int, error) {
	if !p.started() {
		return 1, ErrNotStarted
	}

	select {
	case <-p.done:
		info := p.Info()
		return info.ExitCode, info.LastError
	case <-ctx.Done():
		return p.Stop(), ctx.Err()
	}
}

// Run starts the process and waits for it. Returns the exit code.
func (p *Process) Run(ctx context.Context) int {
	if err := p.Start(); err != nil {
		p.logger.Error("Failed to start process", "id", p.id, "error", err)
		return 1
	}
	code, _ := p.Wait(ctx)
	return code
}

// Stop sends SIGINT to the process group and waits for exit, escalating to
// SIGKILL after the graceful timeout. Safe to call at any time.
func (p *Process) Stop() int {
	if !p.started() {
		return 0
	}

	select {
	case <-p.done:
		return p.Info().ExitCode
	default:
	}

	p.mu.Lock()
	p.state = StateStopping
	p.mu.Unlock()

	p.signalGroup(syscall.SIGINT)

	select {
	case <-p.done:
		return p.Info().ExitCode
	case <-time.After(p.gracefulTimeout):
	}

	p.logger.Warn("Graceful shutdown timeout, forcing kill", "id", p.id, "timeout", p.gracefulTimeout)
	p.signalGroup(syscall.SIGKILL)

	select {
	case <-p.done:
	case <-time.After(p.killTimeout):
		p.logger.Error("Process did not exit after kill signal", "id", p.id)
	}

	p.mu.Lock()
	p.exitCode = ExitCodeKilled
	p.mu.Unlock()
	return ExitCodeKilled
}

func (p *Process) started() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cmd != nil
}

func (p *Process) failLocked(err error) error {
	p.state = StateError
	p.lastErr = err
	p.exitCode = 1
	return err
}

func (p *Process) finish(waitErr error) {
	code := exitCodeFromError(waitErr)

	p.mu.Lock()
	p.exitCode = code
	if code == 0 {
		p.state = StateIdle
	} else {
		p.state = StateError
		p.lastErr = waitErr
	}
	p.mu.Unlock()

	p.logger.Info("Process exited", "id", p.id, "exit_code", code)
	close(p.done)
}

// signalGroup signals the whole process group so shell wrappers and their
// children go down together.
func (p *Process) signalGroup(sig syscall.Signal) {
	p.mu.Lock()
	cmd := p.cmd
	p.mu.Unlock()
	if cmd == nil || cmd.Process == nil {
		return
	}

	pid := cmd.Process.Pid
	p.logger.Debug("Signalling process group", "id", p.id, "pid", pid, "signal", sig.String())
	if err := syscall.Kill(-pid, sig); err != nil {
		if errors.Is(err, syscall.ESRCH) {
			return
		}
		if err := cmd.Process.Signal(sig); err != nil && !errors.Is(err, os.ErrProcessDone) {
			p.logger.Warn("Failed to signal process", "id", p.id, "signal", sig.String(), "error", err)
		}
	}
}

// exitCodeFromError extracts exit code from process error.
// Returns 0 for nil error, the exit code for ExitError, or 1 for other errors.
func exitCodeFromError(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if code := exitErr.ExitCode(); code >= 0 {
			return code
		}
		return ExitCodeKilled
	}
	return 1
}

// streamOutput logs each line of reader, leveled by the configured parser.
func (p *Process) streamOutput(reader io.Reader, source string) {
	scanner := bufio.NewScanner(reader)

	logger := p.processLogger
	if logger == nil {
		logger = p.logger
	}

	for scanner.Scan() {
		line := scanner.Text()

		if p.outputHandler != nil {
			p.outputHandler.HandleLine(source, line)
		}

		level, msg := "info", line
		if p.logParser != nil {
			level, msg = p.logParser(line)
		}

		switch level {
		case "fatal", "error":
			logger.Error(msg, "id", p.id)
		case "warning":
			logger.Warn(msg, "id", p.id)
		case "debug", "trace":
			logger.Debug(msg, "id", p.id)
		default:
			logger.Info(msg, "id", p.id)
		}
	}

	if err := scanner.Err(); err != nil && !errors.Is(err, os.ErrClosed) {
		p.logger.Warn("Error reading output", "id", p.id, "source", source, "error", err)
	}
}

// parseCommand splits a command line into arguments, honouring single and
// double quotes and backslash escapes.
func parseCommand(command string) ([]string, error) {
	var args []string
	var current strings.Builder
	inQuote := false
	quoteChar := rune(0)

	runes := []rune(strings.TrimSpace(command))

	for i := 0; i < len(runes); i++ {
		r := runes[i]
		switch {
		case r == '"' || r == '\'':
			switch {
			case !inQuote:
				inQuote = true
				quoteChar = r
			case r == quoteChar:
				inQuote = false
				quoteChar = 0
			default:
				current.WriteRune(r)
			}
		case r == ' ' && !inQuote:
			if current.Len() > 0 {
				args = append(args, current.String())
				current.Reset()
			}
		case r == '\\' && i+1 < len(runes):
			i++
			current.WriteRune(runes[i])
		default:
			current.WriteRune(r)
		}
	}

	if current.Len() > 0 {
		args = append(args, current.String())
	}

	if inQuote {
		return nil, fmt.Errorf("unclosed quote in command")
	}

	return args, nil
}
