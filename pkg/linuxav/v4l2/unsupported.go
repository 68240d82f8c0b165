//go:build !linux || !(amd64 || arm64)

package v4l2

import "time"

// FindDevices is not available on this platform.
func FindDevices() ([]DeviceInfo, error) {
	return nil, ErrUnsupported
}

// ResolveDevice is not available on this platform.
func ResolveDevice(string) (string, error) {
	return "", ErrUnsupported
}

// GetFormats is not available on this platform.
func GetFormats(string) ([]FormatInfo, error) {
	return nil, ErrUnsupported
}

// Capture is not available on this platform.
type Capture struct{}

// OpenCapture is not available on this platform.
func OpenCapture(string) (*Capture, error) {
	return nil, ErrUnsupported
}

// GetResolutions is not available on this platform.
func GetResolutions(string, uint32) ([]Resolution, error) {
	return nil, ErrUnsupported
}

// GetFramerates is not available on this platform.
func GetFramerates(string, uint32, uint32, uint32) ([]Framerate, error) {
	return nil, ErrUnsupported
}

func (c *Capture) Path() string   { return "" }
func (c *Capture) Format() Format { return Format{} }

func (c *Capture) SetFormat(uint32, uint32, uint32) (Format, error) {
	return Format{}, ErrUnsupported
}

func (c *Capture) SetFrameRate(float64) error            { return ErrUnsupported }
func (c *Capture) SetControl(uint32, int32) error        { return ErrUnsupported }
func (c *Capture) Start(int) error                       { return ErrUnsupported }
func (c *Capture) BufferCount() int                      { return 0 }
func (c *Capture) Dequeue(time.Duration) (Buffer, error) { return Buffer{}, ErrUnsupported }
func (c *Capture) Requeue(uint32) error                  { return ErrUnsupported }
func (c *Capture) Stop() error                           { return nil }
func (c *Capture) Close() error                          { return nil }
