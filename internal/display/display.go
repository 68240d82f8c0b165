// Package display consumes merged preview output for operator display.
package display

import (
	"bytes"
	"errors"
	"image"
	"image/jpeg"
	"sync"
	"sync/atomic"
	"time"

	"github.com/smazurov/fetchrig/internal/merge"
	"github.com/smazurov/fetchrig/internal/queue"
)

// ErrNoFrame is returned before the first merged frame arrives.
var ErrNoFrame = errors.New("no preview frame yet")

// Consumer renders merged output while previewing. Render owns o and must
// release it.
type Consumer interface {
	Previewing() bool
	SetPreviewing(bool)
	Render(o merge.Output)
}

// Tick renders at most one queued item, and only while c is previewing.
// Returns whether an item was rendered.
func Tick(c Consumer, q *queue.Queue[merge.Output]) bool {
	if !c.Previewing() {
		return false
	}
	o, ok := q.TryPop()
	if !ok {
		return false
	}
	c.Render(o)
	return true
}

// Kind selects the raw stacked image or the motion mask.
type Kind int

// Image kinds.
const (
	Raw Kind = iota
	Mask
)

// Info describes the latest rendered frame.
type Info struct {
	Width        int       `json:"width" doc:"Stacked image width"`
	Height       int       `json:"height" doc:"Stacked image height"`
	Index        int64     `json:"index" doc:"Acquisition index of the top camera frame"`
	MotionPixels int       `json:"motion_pixels" doc:"Pixels above the motion threshold"`
	Sequence     uint64    `json:"sequence" doc:"Frames rendered since start"`
	Updated      time.Time `json:"updated" doc:"Render time"`
}

// Latest keeps a copy of the most recent merged output and serves it as JPEG.
type Latest struct {
	previewing atomic.Bool
	quality    int

	mu    sync.RWMutex
	info  Info
	raw   []byte
	mask  []byte
	cache [2]cachedJPEG
}

type cachedJPEG struct {
	seq  uint64
	data []byte
}

// NewLatest creates a Latest encoding at the given JPEG quality (1-100).
func NewLatest(quality int) *Latest {
	if quality <= 0 || quality > 100 {
		quality = jpeg.DefaultQuality
	}
	return &Latest{quality: quality}
}

// Previewing implements Consumer.
func (l *Latest) Previewing() bool {
	return l.previewing.Load()
}

// SetPreviewing implements Consumer.
func (l *Latest) SetPreviewing(on bool) {
	l.previewing.Store(on)
}

// Render implements Consumer.
func (l *Latest) Render(o merge.Output) {
	defer o.Release()

	l.mu.Lock()
	defer l.mu.Unlock()
	l.raw = append(l.raw[:0], o.Raw.Bytes()...)
	l.mask = append(l.mask[:0], o.Mask.Bytes()...)
	l.info = Info{
		Width:        o.Raw.Width,
		Height:       o.Raw.Height,
		Index:        o.Raw.Index,
		MotionPixels: o.MotionPixels,
		Sequence:     l.info.Sequence + 1,
		Updated:      time.Now(),
	}
}

// Info returns metadata of the latest frame.
func (l *Latest) Info() Info {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.info
}

// JPEG encodes the latest frame of the given kind. Encodings are cached until
// the next Render.
func (l *Latest) JPEG(kind Kind) ([]byte, error) {
	l.mu.RLock()
	seq := l.info.Sequence
	if seq == 0 {
		l.mu.RUnlock()
		return nil, ErrNoFrame
	}
	if c := l.cache[kind]; c.seq == seq {
		l.mu.RUnlock()
		return c.data, nil
	}
	pix := l.raw
	if kind == Mask {
		pix = l.mask
	}
	img := &image.Gray{
		Pix:    bytes.Clone(pix),
		Stride: l.info.Width,
		Rect:   image.Rect(0, 0, l.info.Width, l.info.Height),
	}
	l.mu.RUnlock()

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: l.quality}); err != nil {
		return nil, err
	}

	l.mu.Lock()
	if l.info.Sequence == seq {
		l.cache[kind] = cachedJPEG{seq: seq, data: buf.Bytes()}
	}
	l.mu.Unlock()
	return buf.Bytes(), nil
}
