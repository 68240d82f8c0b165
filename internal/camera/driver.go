// Package camera drives the rig's cameras: the driver abstraction, the
// device implementations and the per-camera acquisition pipeline.
package camera

import (
	"context"
	"errors"
)

var (
	// ErrCameraCount is returned by Discover when the rig does not see
	// exactly two cameras.
	ErrCameraCount = errors.New("camera count mismatch")
	// ErrNotInitialized is returned when acquisition starts before Init.
	ErrNotInitialized = errors.New("camera not initialized")
	// ErrNotAcquiring is returned by NextImage outside an acquisition session.
	ErrNotAcquiring = errors.New("camera not acquiring")
	// ErrFrameTimeout is returned by NextImage when no frame arrived in time.
	ErrFrameTimeout = errors.New("timed out waiting for frame")
)

// Count is the number of cameras the rig requires.
const Count = 2

// DeviceInfo identifies one camera.
type DeviceInfo struct {
	ID     string `json:"id" example:"usb-0000:01:00.0-1" doc:"Stable device identifier"`
	Name   string `json:"name" example:"Oryx ORX-10G-71S7M" doc:"Device name"`
	Path   string `json:"path" example:"/dev/video0" doc:"Device node"`
	Driver string `json:"driver" example:"v4l2" doc:"Driver implementation"`
}

// Image is one frame held in driver memory. Data is valid until Release,
// which hands the buffer back to the driver.
type Image interface {
	Data() []byte
	FrameID() int64
	Timestamp() int64
	Release()
}

// Driver is a single camera. Implementations are used from one goroutine at
// a time.
type Driver interface {
	Info() DeviceInfo
	Init(setup Setup) error
	BeginAcquisition() error
	IsAcquiring() bool
	// NextImage blocks until a frame arrives, the driver timeout elapses or
	// ctx is done.
	NextImage(ctx context.Context) (Image, error)
	EndAcquisition() error
	DeInit() error
	// Reset deinitializes and power-cycles the device where supported.
	Reset() error
}
