package cue

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/smazurov/fetchrig/internal/command"
	"github.com/smazurov/fetchrig/internal/events"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type recordingEmitter struct {
	mu     sync.Mutex
	tokens []string
	closed bool
}

func (r *recordingEmitter) Emit(_ context.Context, token string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tokens = append(r.tokens, token)
	return nil
}

func (r *recordingEmitter) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

func (r *recordingEmitter) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.tokens...)
}

func TestToken(t *testing.T) {
	tests := []struct {
		cmd  command.Command
		want string
		ok   bool
	}{
		{command.PlayCueA, TrialCue, true},
		{command.PlayCueB, RewardCue, true},
		{command.Exit, ExitToken, true},
		{command.BeginStreaming, "", false},
	}
	for _, tt := range tests {
		got, ok := Token(tt.cmd)
		if got != tt.want || ok != tt.ok {
			t.Errorf("Token(%s) = %q, %v", tt.cmd, got, ok)
		}
	}
}

func TestManagerPlaysInOrderAndStopsOnExit(t *testing.T) {
	emitter := &recordingEmitter{}
	bus := events.New()
	mgr := NewManager(emitter, bus, testLogger())
	mgr.interval = 5 * time.Millisecond
	mgr.Start(context.Background())
	defer mgr.Stop()

	for _, token := range []string{TrialCue, RewardCue, ExitToken, TrialCue} {
		bus.Publish(events.CueRequestedEvent{Token: token})
	}

	select {
	case <-mgr.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("manager did not stop after exit")
	}

	got := emitter.snapshot()
	want := []string{TrialCue, RewardCue, ExitToken}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("emitted %v, want %v", got, want)
	}
	deadline := time.Now().Add(time.Second)
	for mgr.Pending() != 1 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if mgr.Pending() != 1 {
		t.Errorf("pending = %d, want the cue after exit left queued", mgr.Pending())
	}
	if got := emitter.snapshot(); len(got) != 3 {
		t.Errorf("cue played after exit: %v", got)
	}
}

func TestManagerStopClosesEmitter(t *testing.T) {
	emitter := &recordingEmitter{}
	mgr := NewManager(emitter, events.New(), testLogger())
	mgr.Start(context.Background())
	mgr.Stop()
	mgr.Stop()

	emitter.mu.Lock()
	defer emitter.mu.Unlock()
	if !emitter.closed {
		t.Error("emitter not closed")
	}
}

type portBuffer struct {
	bytes.Buffer
	closed bool
}

func (p *portBuffer) Close() error {
	p.closed = true
	return nil
}

func TestSerialWritesLines(t *testing.T) {
	port := &portBuffer{}
	s := NewSerial(port)
	for _, token := range []string{TrialCue, ExitToken} {
		if err := s.Emit(context.Background(), token); err != nil {
			t.Fatal(err)
		}
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	if got := port.String(); got != "trial_cue\nexit\n" {
		t.Errorf("port got %q", got)
	}
	if !port.closed {
		t.Error("port not closed")
	}
}

func TestOpenSerialRejectsNonTTY(t *testing.T) {
	path := filepath.Join(t.TempDir(), "not-a-tty")
	if err := os.WriteFile(path, nil, 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := OpenSerial(path, DefaultBaud); err == nil {
		t.Error("regular file accepted as a serial port")
	}
}

func TestCommandEmitter(t *testing.T) {
	out := filepath.Join(t.TempDir(), "played")
	c := &CommandEmitter{
		Commands: map[string]string{
			RewardCue: "touch " + out,
			TrialCue:  "false",
		},
		Logger: testLogger(),
	}

	if err := c.Emit(context.Background(), RewardCue); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(out); err != nil {
		t.Error("reward command did not run")
	}
	if err := c.Emit(context.Background(), TrialCue); err == nil {
		t.Error("failing command not reported")
	}
	if err := c.Emit(context.Background(), ExitToken); err != nil {
		t.Errorf("token without command: %v", err)
	}
}

func TestNewEmitterSelection(t *testing.T) {
	e, err := NewEmitter(Config{}, testLogger())
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := e.(*noop); !ok {
		t.Errorf("empty config gave %T", e)
	}

	e, err = NewEmitter(Config{Commands: map[string]string{TrialCue: "true"}}, testLogger())
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := e.(*CommandEmitter); !ok {
		t.Errorf("commands config gave %T", e)
	}

	if _, err := NewEmitter(Config{Device: "/nonexistent/tty"}, testLogger()); err == nil {
		t.Error("missing device accepted")
	}
}
