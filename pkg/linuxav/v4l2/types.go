package v4l2

import (
	"errors"
	"time"
)

var (
	// ErrUnsupported is returned on platforms without V4L2 bindings.
	ErrUnsupported = errors.New("v4l2: not supported on this platform")
	// ErrTimeout is returned by Dequeue when no frame arrived in time.
	ErrTimeout = errors.New("v4l2: timed out waiting for frame")
	// ErrNotStreaming is returned by buffer operations outside Start/Stop.
	ErrNotStreaming = errors.New("v4l2: not streaming")
)

// DeviceInfo contains information about a V4L2 device.
type DeviceInfo struct {
	DevicePath string
	DeviceName string
	DeviceID   string // Stable identifier (from /dev/v4l/by-id/ or synthetic)
	Caps       uint32
}

// FormatInfo contains information about a supported pixel format.
type FormatInfo struct {
	PixelFormat uint32
	FormatName  string
	Emulated    bool
}

// Resolution represents a supported video resolution.
type Resolution struct {
	Width  uint32
	Height uint32
}

// Framerate represents a supported frame interval as a fraction.
type Framerate struct {
	Numerator   uint32
	Denominator uint32
}

// FPS returns the framerate as frames per second.
func (f Framerate) FPS() float64 {
	if f.Numerator == 0 {
		return 0
	}
	return float64(f.Denominator) / float64(f.Numerator)
}

// Format is the negotiated capture format.
type Format struct {
	Width        uint32
	Height       uint32
	PixelFormat  uint32
	BytesPerLine uint32
	SizeImage    uint32
}

// Buffer is one dequeued capture buffer. Data aliases driver memory and is
// valid until the buffer is requeued or streaming stops.
type Buffer struct {
	Index     uint32
	Data      []byte
	Sequence  uint32
	Timestamp time.Duration // driver timestamp (monotonic clock)
}

// Pixel formats.
const (
	PixFmtGrey  = 0x59455247 // 'GREY' 8-bit mono
	PixFmtYUYV  = 0x56595559 // 'YUYV'
	PixFmtMJPEG = 0x47504A4D // 'MJPG'
)

// Control IDs.
const (
	CIDGain             = 0x00980913
	CIDExposureAuto     = 0x009a0901
	CIDExposureAbsolute = 0x009a0902 // units of 100 µs

	ExposureManual = 1
)

// Capability flags.
const (
	CapVideoCapture = 0x00000001
	CapStreaming    = 0x04000000
	capDeviceCaps   = 0x80000000
)

// Format flags.
const (
	fmtFlagEmulated = 0x0002
)

// Frame size types.
const (
	frmsizeTypeDiscrete   = 1
	frmsizeTypeContinuous = 2
	frmsizeTypeStepwise   = 3
)

// Frame interval types.
const (
	frmivalTypeDiscrete   = 1
	frmivalTypeContinuous = 2
	frmivalTypeStepwise   = 3
)

// Buffer, memory and field enums.
const (
	bufTypeVideoCapture = 1
	memoryMmap          = 1
	fieldNone           = 1
	capTimePerFrame     = 0x1000
)

// FormatFourCC converts a 4-byte pixel format to a human-readable string.
func FormatFourCC(format uint32) string {
	return string([]byte{
		byte(format),
		byte(format >> 8),
		byte(format >> 16),
		byte(format >> 24),
	})
}
