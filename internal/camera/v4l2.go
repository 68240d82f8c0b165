package camera

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/smazurov/fetchrig/pkg/linuxav/v4l2"
)

// dequeueSlice bounds each wait on the device so ctx is checked regularly.
const dequeueSlice = 100 * time.Millisecond

// V4L2Driver is a camera behind a V4L2 capture node delivering 8-bit mono.
type V4L2Driver struct {
	info    DeviceInfo
	timeout time.Duration
	logger  *slog.Logger

	setup     Setup
	capture   *v4l2.Capture
	acquiring bool
}

// NewV4L2Driver creates a driver for the capture node at path. timeout
// bounds NextImage; zero means one second.
func NewV4L2Driver(info DeviceInfo, timeout time.Duration, logger *slog.Logger) *V4L2Driver {
	if timeout <= 0 {
		timeout = time.Second
	}
	info.Driver = "v4l2"
	return &V4L2Driver{info: info, timeout: timeout, logger: logger}
}

// Info implements Driver.
func (d *V4L2Driver) Info() DeviceInfo {
	return d.info
}

// Init opens the device and applies the setup. Exposure, gain and frame rate
// are best effort; geometry and pixel format are not.
func (d *V4L2Driver) Init(setup Setup) error {
	capture, err := v4l2.OpenCapture(d.info.Path)
	if err != nil {
		return err
	}

	format, err := capture.SetFormat(uint32(setup.Width), uint32(setup.Height), v4l2.PixFmtGrey)
	if err != nil {
		capture.Close()
		return err
	}
	if format.PixelFormat != v4l2.PixFmtGrey {
		capture.Close()
		return fmt.Errorf("%s: driver selected %s, want GREY", d.info.Path, v4l2.FormatFourCC(format.PixelFormat))
	}
	if int(format.Width) != setup.Width || int(format.Height) != setup.Height {
		capture.Close()
		return fmt.Errorf("%s: driver selected %dx%d, want %dx%d", d.info.Path, format.Width, format.Height, setup.Width, setup.Height)
	}
	if int(format.BytesPerLine) != setup.Width {
		capture.Close()
		return fmt.Errorf("%s: padded rows (%d bytes per line) not supported", d.info.Path, format.BytesPerLine)
	}

	if err := capture.SetFrameRate(setup.FrameRate); err != nil {
		d.logger.Warn("Frame rate not applied", "fps", setup.FrameRate, "error", err)
	}
	if err := capture.SetControl(v4l2.CIDExposureAuto, v4l2.ExposureManual); err != nil {
		d.logger.Warn("Manual exposure not applied", "error", err)
	}
	if err := capture.SetControl(v4l2.CIDExposureAbsolute, int32(setup.ExposureUS/100)); err != nil {
		d.logger.Warn("Exposure not applied", "exposure_us", setup.ExposureUS, "error", err)
	}
	if err := capture.SetControl(v4l2.CIDGain, int32(setup.GainDB)); err != nil {
		d.logger.Warn("Gain not applied", "gain_db", setup.GainDB, "error", err)
	}

	d.setup = setup
	d.capture = capture
	d.logger.Info("Camera initialized", "path", d.info.Path, "width", format.Width, "height", format.Height)
	return nil
}

// BeginAcquisition implements Driver.
func (d *V4L2Driver) BeginAcquisition() error {
	if d.capture == nil {
		return ErrNotInitialized
	}
	if d.acquiring {
		return nil
	}
	if err := d.capture.Start(d.setup.BufferCount); err != nil {
		return err
	}
	d.acquiring = true
	d.logger.Debug("Acquisition started", "buffers", d.capture.BufferCount())
	return nil
}

// IsAcquiring implements Driver.
func (d *V4L2Driver) IsAcquiring() bool {
	return d.acquiring
}

// NextImage implements Driver. With NewestOnly buffer handling, frames that
// queued up behind the newest one are handed straight back to the driver.
func (d *V4L2Driver) NextImage(ctx context.Context) (Image, error) {
	if !d.acquiring {
		return nil, ErrNotAcquiring
	}

	deadline := time.Now().Add(d.timeout)
	var buf v4l2.Buffer
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, ErrFrameTimeout
		}
		var err error
		buf, err = d.capture.Dequeue(min(remaining, dequeueSlice))
		if errors.Is(err, v4l2.ErrTimeout) {
			continue
		}
		if err != nil {
			return nil, err
		}
		break
	}

	if d.setup.BufferHandling == BufferNewestOnly {
		for {
			newer, err := d.capture.Dequeue(0)
			if err != nil {
				break
			}
			if err := d.capture.Requeue(buf.Index); err != nil {
				d.logger.Warn("Failed to requeue buffer", "index", buf.Index, "error", err)
			}
			buf = newer
		}
	}

	size := d.setup.FrameSize()
	if len(buf.Data) < size {
		_ = d.capture.Requeue(buf.Index)
		return nil, fmt.Errorf("short frame: %d bytes, want %d", len(buf.Data), size)
	}

	return &v4l2Image{capture: d.capture, buf: buf, data: buf.Data[:size]}, nil
}

// EndAcquisition implements Driver.
func (d *V4L2Driver) EndAcquisition() error {
	if !d.acquiring {
		return nil
	}
	d.acquiring = false
	return d.capture.Stop()
}

// DeInit implements Driver.
func (d *V4L2Driver) DeInit() error {
	if d.capture == nil {
		return nil
	}
	d.acquiring = false
	err := d.capture.Close()
	d.capture = nil
	return err
}

// Reset closes the device. V4L2 has no generic device reset, so the next
// Init starts from a freshly opened node.
func (d *V4L2Driver) Reset() error {
	return d.DeInit()
}

type v4l2Image struct {
	capture *v4l2.Capture
	buf     v4l2.Buffer
	data    []byte
}

func (i *v4l2Image) Data() []byte     { return i.data }
func (i *v4l2Image) FrameID() int64   { return int64(i.buf.Sequence) }
func (i *v4l2Image) Timestamp() int64 { return i.buf.Timestamp.Nanoseconds() }

func (i *v4l2Image) Release() {
	if i.data == nil {
		return
	}
	i.data = nil
	// Fails only once streaming stopped, which already reclaimed the buffer.
	_ = i.capture.Requeue(i.buf.Index)
}
