package models

import (
	"github.com/smazurov/fetchrig/internal/ffmpeg"
	"github.com/smazurov/fetchrig/internal/logging"
	"github.com/smazurov/fetchrig/internal/rig"
	"github.com/smazurov/fetchrig/internal/router"
	"github.com/smazurov/fetchrig/internal/version"
)

// Health check models
type HealthData struct {
	Status  string `json:"status" example:"ok" doc:"Service status"`
	Message string `json:"message" example:"API is healthy" doc:"Status message"`
}

type HealthResponse struct {
	Body HealthData
}

type VersionResponse struct {
	Body version.Info
}

// Rig status models
type StatusResponse struct {
	Body rig.Status
}

// Command models
type CommandInput struct {
	Command string `path:"command" example:"begin_streaming" doc:"Command name"`
}

type CommandData struct {
	Command string `json:"command" example:"begin_streaming" doc:"Issued command"`
	Source  string `json:"source" example:"api" doc:"Input the command was issued from"`
}

type CommandResponse struct {
	Body CommandData
}

type CommandListData struct {
	Commands []string `json:"commands" doc:"Every command the rig accepts"`
}

type CommandListResponse struct {
	Body CommandListData
}

// Button models
type ButtonInput struct {
	Button string `path:"button" example:"left_shoulder" doc:"Controller button name"`
}

type ButtonData struct {
	Button  string `json:"button" example:"left_shoulder" doc:"Tapped button"`
	Command string `json:"command,omitempty" example:"begin_streaming" doc:"Command bound to the button, if any"`
}

type ButtonResponse struct {
	Body ButtonData
}

type BindingsData struct {
	Bindings []router.Binding `json:"bindings" doc:"Active button to command table"`
}

type BindingsResponse struct {
	Body BindingsData
}

// Preview models
type PreviewResponse struct {
	ContentType  string `header:"Content-Type"`
	CacheControl string `header:"Cache-Control"`
	Body         []byte
}

// Device models
type DeviceData struct {
	DevicePath string `json:"device_path" example:"/dev/video0" doc:"Device node"`
	DeviceName string `json:"device_name" example:"Oryx ORX-10G-71S7M" doc:"Device name"`
	DeviceID   string `json:"device_id" example:"usb-0000:01:00.0-1" doc:"Stable device identifier"`
	Caps       uint32 `json:"caps" doc:"V4L2 device capabilities"`
}

type DeviceListData struct {
	Devices []DeviceData `json:"devices" doc:"Detected V4L2 capture devices"`
	Count   int          `json:"count" example:"2" doc:"Number of devices"`
}

type DeviceListResponse struct {
	Body DeviceListData
}

// Encoder models
type EncoderData struct {
	VideoEncoders []ffmpeg.VideoEncoder `json:"video_encoders" doc:"Video encoders reported by ffmpeg"`
	Count         int                   `json:"count" example:"15" doc:"Number of encoders"`
	Configured    string                `json:"configured" example:"h264_nvenc" doc:"Encoder used for recordings"`
	Available     bool                  `json:"available" doc:"Whether the configured encoder is present"`
}

type EncodersResponse struct {
	Body EncoderData
}

// Log models
type LogsInput struct {
	Module string `query:"module" example:"camera" doc:"Only entries from this module"`
	Camera int    `query:"camera" minimum:"-1" default:"-1" example:"0" doc:"Only entries of this camera, -1 for all"`
	Level  string `query:"level" enum:"debug,info,warn,error" example:"warn" doc:"Minimum level"`
	Limit  int    `query:"limit" minimum:"0" example:"100" doc:"Return at most this many of the newest entries"`
}

type LogsData struct {
	Entries []logging.LogEntry `json:"entries" doc:"Buffered log entries, oldest first"`
	Count   int                `json:"count" doc:"Number of entries returned"`
}

type LogsResponse struct {
	Body LogsData
}
