package rig

import (
	"github.com/smazurov/fetchrig/internal/camera"
	"github.com/smazurov/fetchrig/internal/display"
	"github.com/smazurov/fetchrig/internal/metrics"
)

// CameraStatus is the live view of one camera pipeline.
type CameraStatus struct {
	Camera            int                      `json:"camera" doc:"Camera index"`
	Device            camera.DeviceInfo        `json:"device" doc:"Camera device"`
	State             string                   `json:"state" example:"streaming" doc:"Pipeline state"`
	Recording         bool                     `json:"recording" doc:"An encoder is attached"`
	PendingCommands   int                      `json:"pending_commands" doc:"Commands not yet consumed"`
	PreviewQueue      int                      `json:"preview_queue" doc:"Preview frames waiting for the merge stage"`
	FramesAcquired    int64                    `json:"frames_acquired"`
	AcquisitionErrors int64                    `json:"acquisition_errors"`
	PreviewFrames     int64                    `json:"preview_frames"`
	FramesWritten     int64                    `json:"frames_written"`
	Encoder           *metrics.EncoderProgress `json:"encoder,omitempty" doc:"Latest ffmpeg progress while recording"`
}

// Status is a point-in-time view of the rig.
type Status struct {
	Session      string         `json:"session" doc:"Session id"`
	Project      string         `json:"project"`
	Subject      string         `json:"subject"`
	Paths        []string       `json:"paths" doc:"Per-camera session directories"`
	Cameras      []CameraStatus `json:"cameras"`
	Merge        string         `json:"merge" example:"active" doc:"Merge stage state"`
	Previewing   bool           `json:"previewing"`
	DisplayQueue int            `json:"display_queue" doc:"Merged frames waiting for display"`
	PendingCues  int            `json:"pending_cues"`
	Preview      display.Info   `json:"preview"`
	Exiting      bool           `json:"exiting"`
}

// Status reports the current state of every stage. Safe from any goroutine.
func (r *Rig) Status() Status {
	st := Status{
		Session:      r.session.ID.String(),
		Project:      r.session.Project,
		Subject:      r.session.Subject,
		Paths:        r.session.Paths,
		Merge:        r.stage.State().String(),
		Previewing:   r.latest.Previewing(),
		DisplayQueue: r.outputs.Len(),
		PendingCues:  r.cues.Pending(),
		Preview:      r.latest.Info(),
	}
	select {
	case <-r.exited:
		st.Exiting = true
	default:
	}

	for i, p := range r.pipelines {
		state := p.State()
		cs := CameraStatus{
			Camera:          i,
			Device:          r.drivers[i].Info(),
			State:           state.String(),
			Recording:       state.Recording(),
			PendingCommands: r.cameraCmd[i].Len(),
			PreviewQueue:    r.previews[i].Len(),
		}
		if m := metrics.GetCameraMetrics(i); m != nil {
			cs.FramesAcquired = m.FramesAcquired
			cs.AcquisitionErrors = m.AcquisitionErrors
			cs.PreviewFrames = m.PreviewFrames
			cs.FramesWritten = m.FramesWritten
		}
		cs.Encoder = metrics.GetEncoderProgress(i)
		st.Cameras = append(st.Cameras, cs)
	}
	return st
}
