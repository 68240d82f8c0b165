// Package frame holds the Frame Record that flows between pipeline stages and
// the buffer pool that backs it.
//
// A Frame has exactly one owner. Enqueueing a Frame hands ownership to the
// receiver, which must call Release once it is done with the pixels. Reading
// the pixels after Release panics.
package frame

import (
	"fmt"
	"sync"
)

// Frame is one acquired 8-bit mono image plus its acquisition metadata.
type Frame struct {
	// ID is the driver-assigned frame id.
	ID int64
	// Timestamp is the driver timestamp in nanoseconds.
	Timestamp int64
	// Index is the acquisition-order index within the current streaming
	// session. The background frame emitted on stream start has index 0.
	Index int64
	// Camera is the index of the producing camera.
	Camera int

	IsNewBackground bool
	CloseSignal     bool

	Width  int
	Height int

	buf      []byte
	pool     *Pool
	released bool
}

// New wraps buf as a frame. The frame owns buf from now on. pool may be nil.
func New(width, height int, buf []byte, pool *Pool) *Frame {
	return &Frame{Width: width, Height: height, buf: buf, pool: pool}
}

// NewCloseSignal returns a pixel-less frame marking the end of a stream.
func NewCloseSignal(camera int) *Frame {
	return &Frame{Camera: camera, CloseSignal: true}
}

// Bytes returns the pixel buffer (row-major, one byte per pixel).
func (f *Frame) Bytes() []byte {
	if f.released {
		panic(fmt.Sprintf("frame: camera %d index %d read after release", f.Camera, f.Index))
	}
	return f.buf
}

// Released reports whether Release has been called.
func (f *Frame) Released() bool {
	return f.released
}

// Release hands the pixel buffer back to its pool. Calling it twice is a no-op.
func (f *Frame) Release() {
	if f == nil || f.released {
		return
	}
	f.released = true
	if f.pool != nil && f.buf != nil {
		f.pool.Put(f.buf)
	}
	f.buf = nil
}

// Pool recycles fixed-size pixel buffers.
type Pool struct {
	size int
	pool sync.Pool
}

// NewPool creates a pool of buffers of exactly size bytes.
func NewPool(size int) *Pool {
	p := &Pool{size: size}
	p.pool.New = func() any {
		b := make([]byte, size)
		return &b
	}
	return p
}

// Get returns a buffer of the pool's size. Contents are undefined.
func (p *Pool) Get() []byte {
	return *(p.pool.Get().(*[]byte))
}

// Put returns a buffer. Buffers of the wrong size are dropped.
func (p *Pool) Put(b []byte) {
	if cap(b) < p.size {
		return
	}
	b = b[:p.size]
	p.pool.Put(&b)
}

// NewFrame allocates a frame backed by a pooled buffer.
func (p *Pool) NewFrame(width, height int) *Frame {
	if width*height != p.size {
		panic(fmt.Sprintf("frame: pool size %d cannot hold %dx%d", p.size, width, height))
	}
	return New(width, height, p.Get(), p)
}
