// Package command defines the discrete control commands exchanged between the
// router and the camera pipelines, the merge stage and the cue subsystem.
package command

import (
	"fmt"
	"strings"
	"time"

	"github.com/smazurov/fetchrig/internal/queue"
)

// Command is one discrete control command. Commands carry no payload.
type Command int

// Commands.
const (
	BeginAcquisition Command = iota
	BeginStreaming
	EndStreaming
	StartRecording
	StopRecording
	PlayCueA
	PlayCueB
	ResetBackground
	SaveSnapshot
	Exit
)

var names = [...]string{
	BeginAcquisition: "begin_acquisition",
	BeginStreaming:   "begin_streaming",
	EndStreaming:     "end_streaming",
	StartRecording:   "start_recording",
	StopRecording:    "stop_recording",
	PlayCueA:         "play_cue_a",
	PlayCueB:         "play_cue_b",
	ResetBackground:  "reset_background",
	SaveSnapshot:     "save_snapshot",
	Exit:             "exit",
}

// All returns every command in declaration order.
func All() []Command {
	all := make([]Command, len(names))
	for i := range names {
		all[i] = Command(i)
	}
	return all
}

// Valid reports whether c is a member of the enumeration.
func (c Command) Valid() bool {
	return c >= BeginAcquisition && c <= Exit
}

func (c Command) String() string {
	if !c.Valid() {
		return fmt.Sprintf("command(%d)", int(c))
	}
	return names[c]
}

// Parse resolves a command name. Only used at configuration and API
// boundaries; dispatch never goes through strings.
func Parse(s string) (Command, error) {
	key := strings.ToLower(strings.TrimSpace(s))
	key = strings.ReplaceAll(key, "-", "_")
	for i, name := range names {
		if name == key {
			return Command(i), nil
		}
	}
	return 0, fmt.Errorf("unknown command %q", s)
}

// MarshalText implements encoding.TextMarshaler.
func (c Command) MarshalText() ([]byte, error) {
	if !c.Valid() {
		return nil, fmt.Errorf("invalid command %d", int(c))
	}
	return []byte(c.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (c *Command) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// Channel is an unbounded, order-preserving command FIFO. One exists per
// camera and one for the merge stage.
type Channel struct {
	q *queue.Queue[Command]
}

// NewChannel creates an empty command channel.
func NewChannel() *Channel {
	return &Channel{q: queue.New[Command]()}
}

// Send enqueues a command.
func (c *Channel) Send(cmd Command) {
	c.q.Push(cmd)
}

// TryReceive dequeues a command without blocking.
func (c *Channel) TryReceive() (Command, bool) {
	return c.q.TryPop()
}

// ReceiveWait dequeues a command, waiting at most timeout.
func (c *Channel) ReceiveWait(timeout time.Duration) (Command, bool) {
	return c.q.PopWait(timeout)
}

// Len returns the number of pending commands.
func (c *Channel) Len() int {
	return c.q.Len()
}
