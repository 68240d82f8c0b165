package encode

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/smazurov/fetchrig/internal/ffmpeg"
	"github.com/smazurov/fetchrig/internal/process"
)

// Launcher starts the external encoder reading from input and writing output.
type Launcher interface {
	Launch(ctx context.Context, input, output string) (Encoder, error)
}

// Encoder is a running encoder process.
type Encoder interface {
	// Wait blocks until the encoder exits. If ctx ends first the encoder is
	// stopped.
	Wait(ctx context.Context) (int, error)
	Done() <-chan struct{}
}

// CommandFunc renders the encoder command line for an input and output.
type CommandFunc func(input, output string) (string, error)

// ProcessLauncher runs the encoder as a child process.
type ProcessLauncher struct {
	Command CommandFunc
	Logger  *slog.Logger
	// Parser levels the encoder's output lines. Nil logs them as info.
	Parser process.LogParser
}

// NewFFmpegLauncher launches ffmpeg with params, filling in the input and
// output per recording.
func NewFFmpegLauncher(params ffmpeg.RawEncodeParams, logger *slog.Logger) *ProcessLauncher {
	return &ProcessLauncher{
		Command: func(input, output string) (string, error) {
			p := params
			p.InputPath = input
			p.OutputPath = output
			return ffmpeg.BuildRawEncodeCommand(&p)
		},
		Logger: logger,
		Parser: ffmpeg.ParseLogLevel,
	}
}

// Launch implements Launcher.
func (l *ProcessLauncher) Launch(_ context.Context, input, output string) (Encoder, error) {
	cmd, err := l.Command(input, output)
	if err != nil {
		return nil, fmt.Errorf("build encoder command: %w", err)
	}

	parser := l.Parser
	if parser == nil {
		parser = func(line string) (string, string) { return "info", line }
	}
	logger := l.Logger.With("output", output)
	p := process.New("encoder", cmd, logger, process.WithLogParser(logger, parser))
	if err := p.Start(); err != nil {
		return nil, err
	}
	logger.Debug("Encoder launched", "command", cmd)
	return p, nil
}
