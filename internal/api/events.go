package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/sse"
	"github.com/smazurov/fetchrig/internal/events"
)

// registerSSERoutes registers the rig event stream.
func (s *Server) registerSSERoutes() {
	sse.Register(s.api, huma.Operation{
		OperationID: "events-stream",
		Method:      http.MethodGet,
		Path:        "/api/events",
		Summary:     "Server-Sent Events Stream",
		Description: "Real-time stream of pipeline transitions, issued commands, recordings, snapshots and cues",
		Tags:        []string{"events"},
		Security:    withAuth(),
		Errors:      []int{401},
	}, map[string]any{
		"pipeline-state-changed": events.PipelineStateChangedEvent{},
		"command-issued":         events.CommandIssuedEvent{},
		"recording-started":      events.RecordingStartedEvent{},
		"recording-stopped":      events.RecordingStoppedEvent{},
		"recording-failed":       events.RecordingFailedEvent{},
		"snapshot-saved":         events.SnapshotSavedEvent{},
		"cue-requested":          events.CueRequestedEvent{},
	}, func(ctx context.Context, _ *struct{}, send sse.Sender) {
		eventCh := make(chan any, 32)

		unsubscribers := []func(){
			events.Forward[events.PipelineStateChangedEvent](s.eventBus, eventCh, s.sseDropped),
			events.Forward[events.CommandIssuedEvent](s.eventBus, eventCh, s.sseDropped),
			events.Forward[events.RecordingStartedEvent](s.eventBus, eventCh, s.sseDropped),
			events.Forward[events.RecordingStoppedEvent](s.eventBus, eventCh, s.sseDropped),
			events.Forward[events.RecordingFailedEvent](s.eventBus, eventCh, s.sseDropped),
			events.Forward[events.SnapshotSavedEvent](s.eventBus, eventCh, s.sseDropped),
			events.Forward[events.CueRequestedEvent](s.eventBus, eventCh, s.sseDropped),
		}
		defer func() {
			for _, unsub := range unsubscribers {
				unsub()
			}
		}()

		for {
			select {
			case <-ctx.Done():
				return
			case event := <-eventCh:
				if err := send.Data(event); err != nil {
					return
				}
			}
		}
	})
}
