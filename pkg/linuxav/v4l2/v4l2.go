// Package v4l2 provides pure Go bindings to the Video4Linux2 API for device
// enumeration, format queries and memory-mapped streaming capture.
//
// The package does not use cgo. Bindings are provided for 64-bit Linux
// (amd64, arm64); other platforms get stubs returning ErrUnsupported.
//
// # Device Enumeration
//
//	devices, err := v4l2.FindDevices()
//	for _, dev := range devices {
//	    fmt.Printf("%s: %s\n", dev.DevicePath, dev.DeviceName)
//	}
//
// # Capture
//
//	c, err := v4l2.OpenCapture("/dev/video0")
//	f, err := c.SetFormat(3200, 2192, v4l2.PixFmtGrey)
//	err = c.Start(8)
//	buf, err := c.Dequeue(time.Second)
//	// use buf.Data, then hand the slot back
//	err = c.Requeue(buf.Index)
package v4l2
