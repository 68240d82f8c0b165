package api

import (
	"context"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/sse"
	"github.com/smazurov/fetchrig/internal/rig"
)

// StatusInterval is the period of the status stream.
const StatusInterval = time.Second

// registerStatusStreamRoutes registers the periodic status stream.
func (s *Server) registerStatusStreamRoutes() {
	sse.Register(s.api, huma.Operation{
		OperationID: "status-stream",
		Method:      http.MethodGet,
		Path:        "/api/status/stream",
		Summary:     "Status Stream",
		Description: "Rig status every second via Server-Sent Events",
		Tags:        []string{"rig"},
		Security:    withAuth(),
		Errors:      []int{401},
	}, map[string]any{
		"status": rig.Status{},
	}, func(ctx context.Context, _ *struct{}, send sse.Sender) {
		if err := send.Data(s.rig.Status()); err != nil {
			return
		}

		ticker := time.NewTicker(StatusInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := send.Data(s.rig.Status()); err != nil {
					return
				}
			}
		}
	})
}
