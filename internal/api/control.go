package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/smazurov/fetchrig/internal/api/models"
	"github.com/smazurov/fetchrig/internal/command"
	"github.com/smazurov/fetchrig/internal/input"
	"github.com/smazurov/fetchrig/internal/rig"
)

// registerControlRoutes registers the status, command and button routes.
func (s *Server) registerControlRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "get-status",
		Method:      http.MethodGet,
		Path:        "/api/status",
		Summary:     "Rig Status",
		Description: "Session, pipeline states, queue depths and counters of the running rig",
		Tags:        []string{"rig"},
		Security:    withAuth(),
		Errors:      []int{401},
	}, func(_ context.Context, _ *struct{}) (*models.StatusResponse, error) {
		return &models.StatusResponse{Body: s.rig.Status()}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "list-commands",
		Method:      http.MethodGet,
		Path:        "/api/commands",
		Summary:     "List Commands",
		Description: "Every command the rig accepts",
		Tags:        []string{"rig"},
		Security:    withAuth(),
		Errors:      []int{401},
	}, func(_ context.Context, _ *struct{}) (*models.CommandListResponse, error) {
		all := command.All()
		names := make([]string, len(all))
		for i, c := range all {
			names[i] = c.String()
		}
		return &models.CommandListResponse{Body: models.CommandListData{Commands: names}}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID:   "issue-command",
		Method:        http.MethodPost,
		Path:          "/api/commands/{command}",
		Summary:       "Issue Command",
		Description:   "Route a command exactly as a bound controller button would",
		Tags:          []string{"rig"},
		Security:      withAuth(),
		DefaultStatus: http.StatusAccepted,
		Errors:        []int{400, 401},
	}, func(_ context.Context, in *models.CommandInput) (*models.CommandResponse, error) {
		cmd, err := command.Parse(in.Command)
		if err != nil {
			return nil, huma.Error400BadRequest(err.Error())
		}
		s.rig.Dispatch(cmd)
		return &models.CommandResponse{
			Body: models.CommandData{Command: cmd.String(), Source: rig.SourceAPI},
		}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID:   "tap-button",
		Method:        http.MethodPost,
		Path:          "/api/buttons/{button}",
		Summary:       "Tap Button",
		Description:   "Press and release a button on the virtual controller. The press is routed on the next controller tick.",
		Tags:          []string{"rig"},
		Security:      withAuth(),
		DefaultStatus: http.StatusAccepted,
		Errors:        []int{400, 401},
	}, func(_ context.Context, in *models.ButtonInput) (*models.ButtonResponse, error) {
		b, err := input.ParseButton(in.Button)
		if err != nil {
			return nil, huma.Error400BadRequest(err.Error())
		}
		s.rig.Tap(b)

		resp := &models.ButtonResponse{Body: models.ButtonData{Button: b.String()}}
		for _, binding := range s.rig.Bindings() {
			if binding.Button == b {
				resp.Body.Command = binding.Command.String()
			}
		}
		return resp, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "get-bindings",
		Method:      http.MethodGet,
		Path:        "/api/bindings",
		Summary:     "Button Bindings",
		Description: "The active controller button to command table",
		Tags:        []string{"rig"},
		Security:    withAuth(),
		Errors:      []int{401},
	}, func(_ context.Context, _ *struct{}) (*models.BindingsResponse, error) {
		return &models.BindingsResponse{Body: models.BindingsData{Bindings: s.rig.Bindings()}}, nil
	})
}
