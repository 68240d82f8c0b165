package camera

import (
	"fmt"
	"log/slog"
	"strings"
)

// Buffer handling modes.
const (
	BufferOldestFirst = "OldestFirst"
	BufferNewestOnly  = "NewestOnly"
)

// Close methods applied when a pipeline exits.
const (
	CloseDeInit = "deinit"
	CloseReset  = "reset"
)

// Setup is the per-session descriptor loaded once at startup and shared by
// both cameras.
type Setup struct {
	Driver  string   `toml:"driver" json:"driver"`
	Devices []string `toml:"devices" json:"devices"`

	SensorWidth  int  `toml:"sensor_width" json:"sensor_width"`
	SensorHeight int  `toml:"sensor_height" json:"sensor_height"`
	Width        int  `toml:"width" json:"width"`
	Height       int  `toml:"height" json:"height"`
	OffsetX      int  `toml:"offset_x" json:"offset_x"`
	OffsetY      int  `toml:"offset_y" json:"offset_y"`
	CenterROI    bool `toml:"center_roi" json:"center_roi"`

	PixelFormat    string  `toml:"pixel_format" json:"pixel_format"`
	ExposureUS     float64 `toml:"exposure_us" json:"exposure_us"`
	GainDB         float64 `toml:"gain_db" json:"gain_db"`
	FrameRate      float64 `toml:"frame_rate" json:"frame_rate"`
	BufferCount    int     `toml:"buffer_count" json:"buffer_count"`
	BufferHandling string  `toml:"buffer_handling" json:"buffer_handling"`
	CloseMethod    string  `toml:"close_method" json:"close_method"`

	PreviewWidth  int `toml:"preview_width" json:"preview_width"`
	PreviewHeight int `toml:"preview_height" json:"preview_height"`
}

// DefaultSetup returns the standard rig setup: full 3208x2200 sensor, manual
// 1.25ms exposure at 19dB gain, 100 fps and a quarter-size preview.
func DefaultSetup() Setup {
	return Setup{
		Driver:         "v4l2",
		SensorWidth:    3208,
		SensorHeight:   2200,
		Width:          3208,
		Height:         2200,
		CenterROI:      true,
		PixelFormat:    "Mono8",
		ExposureUS:     1250,
		GainDB:         19,
		FrameRate:      100,
		BufferCount:    256,
		BufferHandling: BufferOldestFirst,
		CloseMethod:    CloseReset,
		PreviewWidth:   802,
		PreviewHeight:  550,
	}
}

// FrameSize returns the full-resolution frame size in bytes.
func (s Setup) FrameSize() int {
	return s.Width * s.Height
}

// PreviewSize returns the preview frame size in bytes.
func (s Setup) PreviewSize() int {
	return s.PreviewWidth * s.PreviewHeight
}

// Normalize validates the descriptor and snaps the region of interest to
// what the sensor accepts. Width and height are rounded down to a multiple of
// 16; offsets are centred when CenterROI is set and otherwise rounded down to
// a multiple of 8. Every adjustment is logged.
func (s *Setup) Normalize(logger *slog.Logger) error {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	if !strings.EqualFold(s.PixelFormat, "Mono8") {
		return fmt.Errorf("pixel format %q not supported, only Mono8", s.PixelFormat)
	}
	s.PixelFormat = "Mono8"

	if s.SensorWidth <= 0 || s.SensorHeight <= 0 {
		return fmt.Errorf("invalid sensor size %dx%d", s.SensorWidth, s.SensorHeight)
	}
	if s.Width <= 0 || s.Height <= 0 {
		return fmt.Errorf("invalid frame size %dx%d", s.Width, s.Height)
	}
	if s.Width > s.SensorWidth || s.Height > s.SensorHeight {
		return fmt.Errorf("frame size %dx%d exceeds sensor %dx%d", s.Width, s.Height, s.SensorWidth, s.SensorHeight)
	}

	if s.Width < s.SensorWidth {
		s.Width, s.OffsetX = s.fitAxis("width", "offset_x", s.SensorWidth, s.Width, s.OffsetX, logger)
	}
	if s.Height < s.SensorHeight {
		s.Height, s.OffsetY = s.fitAxis("height", "offset_y", s.SensorHeight, s.Height, s.OffsetY, logger)
	}
	if s.Width == 0 || s.Height == 0 {
		return fmt.Errorf("frame size rounds down to %dx%d", s.Width, s.Height)
	}
	if s.OffsetX+s.Width > s.SensorWidth || s.OffsetY+s.Height > s.SensorHeight {
		return fmt.Errorf("region %dx%d+%d+%d outside sensor", s.Width, s.Height, s.OffsetX, s.OffsetY)
	}

	if s.PreviewWidth <= 0 || s.PreviewHeight <= 0 {
		return fmt.Errorf("invalid preview size %dx%d", s.PreviewWidth, s.PreviewHeight)
	}
	if s.PreviewWidth > s.Width || s.PreviewHeight > s.Height {
		return fmt.Errorf("preview %dx%d larger than frame %dx%d", s.PreviewWidth, s.PreviewHeight, s.Width, s.Height)
	}

	if s.FrameRate <= 0 {
		return fmt.Errorf("invalid frame rate %g", s.FrameRate)
	}
	if s.BufferCount <= 0 {
		return fmt.Errorf("invalid buffer count %d", s.BufferCount)
	}

	switch s.BufferHandling {
	case BufferOldestFirst, BufferNewestOnly:
	case "":
		s.BufferHandling = BufferOldestFirst
	default:
		return fmt.Errorf("unknown buffer handling mode %q", s.BufferHandling)
	}

	switch s.CloseMethod {
	case CloseDeInit, CloseReset:
	case "":
		s.CloseMethod = CloseReset
	default:
		return fmt.Errorf("unknown close method %q", s.CloseMethod)
	}

	return nil
}

func (s *Setup) fitAxis(sizeName, offsetName string, sensor, size, offset int, logger *slog.Logger) (int, int) {
	fitted := size / 16 * 16
	var fittedOffset int
	if s.CenterROI {
		fittedOffset = (sensor - fitted) / 2 / 8 * 8
	} else {
		fittedOffset = offset / 8 * 8
	}

	if fitted != size {
		logger.Warn("Adjusted ROI to a multiple of 16", "setting", sizeName, "from", size, "to", fitted)
	}
	if fittedOffset != offset {
		logger.Info("Adjusted ROI offset", "setting", offsetName, "from", offset, "to", fittedOffset)
	}
	return fitted, fittedOffset
}
