package camera

import "fmt"

// State is the acquisition state of one pipeline.
type State int32

// Pipeline states.
const (
	Idle State = iota
	BeginStreamingTransition
	Streaming
	BeginRecordingTransition
	StreamingAndRecording
	EndingRecording
	EndingAcquisition
	Exited
)

var stateNames = [...]string{
	Idle:                     "idle",
	BeginStreamingTransition: "begin_streaming",
	Streaming:                "streaming",
	BeginRecordingTransition: "begin_recording",
	StreamingAndRecording:    "streaming_and_recording",
	EndingRecording:          "ending_recording",
	EndingAcquisition:        "ending_acquisition",
	Exited:                   "exited",
}

func (s State) String() string {
	if s < Idle || s > Exited {
		return fmt.Sprintf("state(%d)", int32(s))
	}
	return stateNames[s]
}

// Recording reports whether an encode sink is attached in this state.
func (s State) Recording() bool {
	return s == StreamingAndRecording || s == EndingRecording
}
