//go:build linux && (amd64 || arm64)

package v4l2

import (
	"errors"
	"fmt"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Capture is an open capture node using memory-mapped streaming I/O.
// Not safe for concurrent use.
type Capture struct {
	fd        int
	path      string
	format    Format
	buffers   [][]byte
	streaming bool
}

// OpenCapture opens a capture node and checks it supports streaming.
func OpenCapture(path string) (*Capture, error) {
	fd, err := open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}

	c := &v4l2Capability{}
	if err := ioctl(fd, vidiocQuerycap, unsafe.Pointer(c)); err != nil {
		closeFD(fd)
		return nil, fmt.Errorf("query capabilities of %s: %w", path, err)
	}
	caps := c.effectiveCaps()
	if caps&CapVideoCapture == 0 || caps&CapStreaming == 0 {
		closeFD(fd)
		return nil, fmt.Errorf("%s is not a streaming capture device (caps 0x%08x)", path, caps)
	}

	return &Capture{fd: fd, path: path}, nil
}

// Path returns the device path.
func (c *Capture) Path() string {
	return c.path
}

// Format returns the last negotiated format.
func (c *Capture) Format() Format {
	return c.format
}

// SetFormat negotiates a progressive capture format. The driver may adjust
// the geometry; the returned Format is what it accepted.
func (c *Capture) SetFormat(width, height, pixelFormat uint32) (Format, error) {
	f := v4l2Format{typ: bufTypeVideoCapture}
	f.pix.width = width
	f.pix.height = height
	f.pix.pixelformat = pixelFormat
	f.pix.field = fieldNone

	if err := ioctl(c.fd, vidiocSFmt, unsafe.Pointer(&f)); err != nil {
		return Format{}, fmt.Errorf("VIDIOC_S_FMT %dx%d %s: %w", width, height, FormatFourCC(pixelFormat), err)
	}

	c.format = Format{
		Width:        f.pix.width,
		Height:       f.pix.height,
		PixelFormat:  f.pix.pixelformat,
		BytesPerLine: f.pix.bytesperline,
		SizeImage:    f.pix.sizeimage,
	}
	return c.format, nil
}

// SetFrameRate requests a frame interval of 1/fps.
func (c *Capture) SetFrameRate(fps float64) error {
	if fps <= 0 {
		return fmt.Errorf("invalid frame rate %v", fps)
	}

	p := v4l2Streamparm{typ: bufTypeVideoCapture}
	p.capture.timeperframe = v4l2Fract{numerator: 1000, denominator: uint32(fps * 1000)}
	if err := ioctl(c.fd, vidiocSParm, unsafe.Pointer(&p)); err != nil {
		return fmt.Errorf("VIDIOC_S_PARM: %w", err)
	}
	if p.capture.capability&capTimePerFrame == 0 {
		return errors.New("driver does not support frame interval selection")
	}
	return nil
}

// SetControl sets a single user control.
func (c *Capture) SetControl(id uint32, value int32) error {
	ctrl := v4l2Control{id: id, value: value}
	if err := ioctl(c.fd, vidiocSCtrl, unsafe.Pointer(&ctrl)); err != nil {
		return fmt.Errorf("VIDIOC_S_CTRL 0x%08x=%d: %w", id, value, err)
	}
	return nil
}

// Start allocates count driver buffers, maps and queues them and turns the
// stream on. The driver may grant fewer buffers than requested.
func (c *Capture) Start(count int) error {
	if c.streaming {
		return nil
	}
	if count < 2 {
		count = 2
	}

	req := v4l2Requestbuffers{count: uint32(count), typ: bufTypeVideoCapture, memory: memoryMmap}
	if err := ioctl(c.fd, vidiocReqbufs, unsafe.Pointer(&req)); err != nil {
		return fmt.Errorf("VIDIOC_REQBUFS %d: %w", count, err)
	}
	if req.count < 2 {
		c.release()
		return fmt.Errorf("driver granted only %d buffers", req.count)
	}

	c.buffers = make([][]byte, 0, req.count)
	for i := range req.count {
		b := v4l2Buffer{index: i, typ: bufTypeVideoCapture, memory: memoryMmap}
		if err := ioctl(c.fd, vidiocQuerybuf, unsafe.Pointer(&b)); err != nil {
			c.release()
			return fmt.Errorf("VIDIOC_QUERYBUF %d: %w", i, err)
		}

		data, err := unix.Mmap(c.fd, int64(uint32(b.m)), int(b.length), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
		if err != nil {
			c.release()
			return fmt.Errorf("mmap buffer %d: %w", i, err)
		}
		c.buffers = append(c.buffers, data)

		if err := c.queue(i); err != nil {
			c.release()
			return err
		}
	}

	typ := uint32(bufTypeVideoCapture)
	if err := ioctl(c.fd, vidiocStreamon, unsafe.Pointer(&typ)); err != nil {
		c.release()
		return fmt.Errorf("VIDIOC_STREAMON: %w", err)
	}
	c.streaming = true
	return nil
}

// BufferCount returns the number of mapped buffers.
func (c *Capture) BufferCount() int {
	return len(c.buffers)
}

// Dequeue waits up to timeout for a filled buffer. The returned Data stays
// valid until Requeue(buf.Index) or Stop.
func (c *Capture) Dequeue(timeout time.Duration) (Buffer, error) {
	if !c.streaming {
		return Buffer{}, ErrNotStreaming
	}

	deadline := time.Now().Add(timeout)
	for {
		remaining := time.Until(deadline)
		if remaining < 0 {
			remaining = 0
		}

		fds := []unix.PollFd{{Fd: int32(c.fd), Events: unix.POLLIN}}
		n, err := unix.Poll(fds, int(remaining.Milliseconds()))
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if err != nil {
			return Buffer{}, fmt.Errorf("poll %s: %w", c.path, err)
		}
		if n == 0 {
			return Buffer{}, ErrTimeout
		}
		if fds[0].Revents&(unix.POLLERR|unix.POLLHUP|unix.POLLNVAL) != 0 {
			return Buffer{}, fmt.Errorf("poll %s: revents 0x%x", c.path, fds[0].Revents)
		}

		b := v4l2Buffer{typ: bufTypeVideoCapture, memory: memoryMmap}
		err = ioctl(c.fd, vidiocDqbuf, unsafe.Pointer(&b))
		if errors.Is(err, unix.EAGAIN) {
			if time.Now().After(deadline) {
				return Buffer{}, ErrTimeout
			}
			continue
		}
		if err != nil {
			return Buffer{}, fmt.Errorf("VIDIOC_DQBUF: %w", err)
		}
		if int(b.index) >= len(c.buffers) {
			return Buffer{}, fmt.Errorf("driver returned buffer %d of %d", b.index, len(c.buffers))
		}

		return Buffer{
			Index:     b.index,
			Data:      c.buffers[b.index][:b.bytesused],
			Sequence:  b.sequence,
			Timestamp: time.Duration(b.timestamp.Nano()),
		}, nil
	}
}

// Requeue hands a dequeued buffer back to the driver.
func (c *Capture) Requeue(index uint32) error {
	if !c.streaming {
		return ErrNotStreaming
	}
	return c.queue(index)
}

// Stop turns the stream off and unmaps every buffer.
func (c *Capture) Stop() error {
	if !c.streaming {
		return nil
	}
	c.streaming = false

	typ := uint32(bufTypeVideoCapture)
	err := ioctl(c.fd, vidiocStreamoff, unsafe.Pointer(&typ))
	c.release()
	if err != nil {
		return fmt.Errorf("VIDIOC_STREAMOFF: %w", err)
	}
	return nil
}

// Close stops streaming if needed and closes the device.
func (c *Capture) Close() error {
	stopErr := c.Stop()
	if err := closeFD(c.fd); err != nil {
		return err
	}
	return stopErr
}

func (c *Capture) queue(index uint32) error {
	b := v4l2Buffer{index: index, typ: bufTypeVideoCapture, memory: memoryMmap}
	if err := ioctl(c.fd, vidiocQbuf, unsafe.Pointer(&b)); err != nil {
		return fmt.Errorf("VIDIOC_QBUF %d: %w", index, err)
	}
	return nil
}

// release unmaps buffers and frees them in the driver.
func (c *Capture) release() {
	for _, b := range c.buffers {
		_ = unix.Munmap(b)
	}
	c.buffers = nil

	req := v4l2Requestbuffers{count: 0, typ: bufTypeVideoCapture, memory: memoryMmap}
	_ = ioctl(c.fd, vidiocReqbufs, unsafe.Pointer(&req))
}
