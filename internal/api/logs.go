package api

import (
	"context"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/sse"
	"github.com/smazurov/fetchrig/internal/api/models"
	"github.com/smazurov/fetchrig/internal/events"
	"github.com/smazurov/fetchrig/internal/logging"
)

var levelRank = map[string]int{"debug": 0, "info": 1, "warn": 2, "error": 3}

// filterLogs keeps entries of module and camera at or above level, then the
// newest limit of them. A negative camera matches every entry.
func filterLogs(entries []logging.LogEntry, module string, camera int, level string, limit int) []logging.LogEntry {
	minRank := levelRank[level]
	out := make([]logging.LogEntry, 0, len(entries))
	for _, e := range entries {
		if module != "" && e.Module != module {
			continue
		}
		if camera >= 0 && (e.Camera == nil || *e.Camera != camera) {
			continue
		}
		if levelRank[e.Level] < minRank {
			continue
		}
		out = append(out, e)
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}

// LogEntryToEvent converts a buffered entry for the event bus.
func LogEntryToEvent(entry logging.LogEntry) events.LogEntryEvent {
	return events.LogEntryEvent{
		Seq:        entry.Seq,
		Timestamp:  entry.Timestamp.Format(time.RFC3339Nano),
		Level:      entry.Level,
		Module:     entry.Module,
		Camera:     entry.Camera,
		Message:    entry.Message,
		Attributes: entry.Attributes,
	}
}

// registerLogRoutes registers the log history and log stream endpoints.
func (s *Server) registerLogRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "get-logs",
		Method:      http.MethodGet,
		Path:        "/api/logs",
		Summary:     "Logs",
		Description: "Buffered log entries, optionally filtered by module, camera and minimum level",
		Tags:        []string{"logs"},
		Security:    withAuth(),
		Errors:      []int{401},
	}, func(_ context.Context, in *models.LogsInput) (*models.LogsResponse, error) {
		entries := filterLogs(logging.GetBuffer().ReadAll(), in.Module, in.Camera, in.Level, in.Limit)
		return &models.LogsResponse{Body: models.LogsData{Entries: entries, Count: len(entries)}}, nil
	})

	sse.Register(s.api, huma.Operation{
		OperationID: "logs-stream",
		Method:      http.MethodGet,
		Path:        "/api/logs/stream",
		Summary:     "Log Stream",
		Description: "Real-time log streaming via Server-Sent Events. Sends historical logs first, then streams new logs.",
		Tags:        []string{"logs"},
		Security:    withAuth(),
		Errors:      []int{401},
	}, map[string]any{
		"message": events.LogEntryEvent{},
	}, func(ctx context.Context, _ *struct{}, send sse.Sender) {
		// Subscribe before replaying so nothing logged in between is lost;
		// entries already replayed are skipped by sequence number.
		eventCh := make(chan any, 100)
		unsubscribe := events.Forward[events.LogEntryEvent](s.eventBus, eventCh, s.sseDropped)
		defer unsubscribe()

		var replayed uint64
		for _, entry := range logging.GetBuffer().ReadAll() {
			if err := send.Data(LogEntryToEvent(entry)); err != nil {
				return
			}
			replayed = entry.Seq
		}

		for {
			select {
			case <-ctx.Done():
				return
			case event := <-eventCh:
				if e, ok := event.(events.LogEntryEvent); ok && e.Seq <= replayed {
					continue
				}
				if err := send.Data(event); err != nil {
					return
				}
			}
		}
	})
}
