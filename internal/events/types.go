package events

// Event type constants for kelindar/event.
const (
	TypePipelineStateChanged uint32 = iota + 1
	TypeCommandIssued
	TypeRecordingStarted
	TypeRecordingStopped
	TypeRecordingFailed
	TypeSnapshotSaved
	TypeCueRequested
	TypeLogEntry
)

// Event interface required by kelindar/event.
type Event interface {
	Type() uint32
}

// PipelineStateChangedEvent is published by a camera pipeline on every state
// transition.
type PipelineStateChangedEvent struct {
	Camera    int    `json:"camera" example:"0" doc:"Camera index"`
	From      string `json:"from" example:"idle" doc:"Previous state"`
	To        string `json:"to" example:"streaming" doc:"New state"`
	Timestamp string `json:"timestamp" example:"2026-01-27T10:30:00Z" doc:"Transition time"`
}

// Type returns the event type identifier for PipelineStateChangedEvent.
func (e PipelineStateChangedEvent) Type() uint32 { return TypePipelineStateChanged }

// CommandIssuedEvent is published by the router for every command it routes.
type CommandIssuedEvent struct {
	Command   string `json:"command" example:"begin_streaming" doc:"Command name"`
	Source    string `json:"source" example:"joystick" doc:"Input that produced the command"`
	Timestamp string `json:"timestamp" example:"2026-01-27T10:30:00Z" doc:"Issue time"`
}

// Type returns the event type identifier for CommandIssuedEvent.
func (e CommandIssuedEvent) Type() uint32 { return TypeCommandIssued }

// RecordingStartedEvent is published once an encode sink is connected.
type RecordingStartedEvent struct {
	Camera    int    `json:"camera" example:"0" doc:"Camera index"`
	Output    string `json:"output" example:"/data/rig/Animal/m12/2026_01_27/2026_01_27_10_30_00/2026_01_27_10_31_12.mp4" doc:"Output file"`
	Timestamp string `json:"timestamp" example:"2026-01-27T10:30:00Z" doc:"Start time"`
}

// Type returns the event type identifier for RecordingStartedEvent.
func (e RecordingStartedEvent) Type() uint32 { return TypeRecordingStarted }

// RecordingStoppedEvent is published after an encode sink has drained and
// its encoder process exited.
type RecordingStoppedEvent struct {
	Camera        int    `json:"camera" example:"0" doc:"Camera index"`
	Output        string `json:"output" doc:"Output file"`
	FramesWritten int64  `json:"frames_written" example:"1000" doc:"Frames written to the encoder"`
	Timestamp     string `json:"timestamp" example:"2026-01-27T10:30:00Z" doc:"Stop time"`
}

// Type returns the event type identifier for RecordingStoppedEvent.
func (e RecordingStoppedEvent) Type() uint32 { return TypeRecordingStopped }

// RecordingFailedEvent is published when an encode sink hits a transport or
// process fault.
type RecordingFailedEvent struct {
	Camera    int    `json:"camera" example:"0" doc:"Camera index"`
	Error     string `json:"error" example:"write |1: broken pipe" doc:"Fault description"`
	Timestamp string `json:"timestamp" example:"2026-01-27T10:30:00Z" doc:"Fault time"`
}

// Type returns the event type identifier for RecordingFailedEvent.
func (e RecordingFailedEvent) Type() uint32 { return TypeRecordingFailed }

// SnapshotSavedEvent is published when the merge stage writes a snapshot.
type SnapshotSavedEvent struct {
	RawPath   string `json:"raw_path" doc:"Combined frame PNG"`
	MaskPath  string `json:"mask_path" doc:"Motion mask PNG"`
	Timestamp string `json:"timestamp" example:"2026-01-27T10:30:00Z" doc:"Save time"`
}

// Type returns the event type identifier for SnapshotSavedEvent.
func (e SnapshotSavedEvent) Type() uint32 { return TypeSnapshotSaved }

// CueRequestedEvent asks the cue subsystem to emit a token.
type CueRequestedEvent struct {
	Token     string `json:"token" example:"reward_cue" doc:"Cue token"`
	Timestamp string `json:"timestamp" example:"2026-01-27T10:30:00Z" doc:"Request time"`
}

// Type returns the event type identifier for CueRequestedEvent.
func (e CueRequestedEvent) Type() uint32 { return TypeCueRequested }

// LogEntryEvent represents a log entry for SSE streaming.
type LogEntryEvent struct {
	Seq        uint64         `json:"seq" doc:"Buffer sequence number"`
	Timestamp  string         `json:"timestamp" example:"2026-01-09T10:30:00.123Z" doc:"Log timestamp"`
	Level      string         `json:"level" example:"info" doc:"Log level"`
	Module     string         `json:"module" example:"camera" doc:"Source module"`
	Camera     *int           `json:"camera,omitempty" doc:"Camera index for camera-scoped entries"`
	Message    string         `json:"message" doc:"Log message"`
	Attributes map[string]any `json:"attributes,omitempty" doc:"Structured log attributes"`
}

// Type returns the event type identifier for LogEntryEvent.
func (e LogEntryEvent) Type() uint32 { return TypeLogEntry }
