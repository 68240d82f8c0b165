package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/smazurov/fetchrig/internal/api/models"
	"github.com/smazurov/fetchrig/internal/ffmpeg"
	"github.com/smazurov/fetchrig/pkg/linuxav/v4l2"
)

// registerDeviceRoutes registers capture device and encoder discovery.
func (s *Server) registerDeviceRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "list-devices",
		Method:      http.MethodGet,
		Path:        "/api/devices",
		Summary:     "List Devices",
		Description: "List V4L2 capture devices visible to the rig",
		Tags:        []string{"devices"},
		Security:    withAuth(),
		Errors:      []int{401, 500},
	}, func(_ context.Context, _ *struct{}) (*models.DeviceListResponse, error) {
		found, err := v4l2.FindDevices()
		if err != nil {
			return nil, huma.Error500InternalServerError("failed to enumerate devices", err)
		}
		devices := make([]models.DeviceData, 0, len(found))
		for _, d := range found {
			devices = append(devices, models.DeviceData{
				DevicePath: d.DevicePath,
				DeviceName: d.DeviceName,
				DeviceID:   d.DeviceID,
				Caps:       d.Caps,
			})
		}
		return &models.DeviceListResponse{
			Body: models.DeviceListData{Devices: devices, Count: len(devices)},
		}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "list-encoders",
		Method:      http.MethodGet,
		Path:        "/api/encoders",
		Summary:     "List Encoders",
		Description: "Video encoders of the configured ffmpeg and whether the recording codec is among them",
		Tags:        []string{"encoders"},
		Security:    withAuth(),
		Errors:      []int{401, 500},
	}, func(ctx context.Context, _ *struct{}) (*models.EncodersResponse, error) {
		encoders, err := ffmpeg.ListVideoEncoders(ctx, s.options.FFmpegBinary)
		if err != nil {
			return nil, huma.Error500InternalServerError("failed to list encoders", err)
		}
		return &models.EncodersResponse{
			Body: models.EncoderData{
				VideoEncoders: encoders,
				Count:         len(encoders),
				Configured:    s.options.EncoderCodec,
				Available:     ffmpeg.HasEncoder(encoders, s.options.EncoderCodec),
			},
		}, nil
	})
}
