package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/smazurov/fetchrig/internal/api/models"
	"github.com/smazurov/fetchrig/internal/display"
)

// registerPreviewRoutes serves the latest merged frame and motion mask as
// JPEG stills.
func (s *Server) registerPreviewRoutes() {
	previews := []struct {
		id   string
		path string
		what string
		kind display.Kind
	}{
		{"get-preview-raw", "/api/preview/raw.jpg", "stacked camera image", display.Raw},
		{"get-preview-mask", "/api/preview/mask.jpg", "motion mask", display.Mask},
	}

	for _, p := range previews {
		huma.Register(s.api, huma.Operation{
			OperationID: p.id,
			Method:      http.MethodGet,
			Path:        p.path,
			Summary:     "Preview " + p.what,
			Description: "Latest merged " + p.what + " as JPEG. Available while previewing.",
			Tags:        []string{"preview"},
			Security:    withAuth(),
			Errors:      []int{401, 404, 500},
		}, func(_ context.Context, _ *struct{}) (*models.PreviewResponse, error) {
			data, err := s.rig.Preview().JPEG(p.kind)
			if errors.Is(err, display.ErrNoFrame) {
				return nil, huma.Error404NotFound(err.Error())
			}
			if err != nil {
				return nil, huma.Error500InternalServerError("failed to encode preview", err)
			}
			return &models.PreviewResponse{
				ContentType:  "image/jpeg",
				CacheControl: "no-store",
				Body:         data,
			}, nil
		})
	}
}
