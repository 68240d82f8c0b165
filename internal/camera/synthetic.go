package camera

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/smazurov/fetchrig/internal/frame"
)

// ErrInjected is the failure returned by SyntheticDriver on injected faults.
var ErrInjected = errors.New("synthetic: injected acquisition failure")

// SyntheticOptions tunes the synthetic camera.
type SyntheticOptions struct {
	// Seed makes the noise pattern reproducible.
	Seed uint64
	// Paced sleeps one frame period between frames.
	Paced bool
	// FailEvery makes every Nth NextImage call fail. Zero disables it.
	FailEvery int
	// Limit stops delivering frames after Limit images. Further calls wait
	// Timeout and return ErrFrameTimeout. Zero means unlimited.
	Limit int
	// Timeout bounds NextImage once Limit is reached. Defaults to 10ms.
	Timeout time.Duration
}

// SyntheticDriver renders a bright square travelling around a noise background.
// Output is a pure function of the camera index, frame id and seed.
type SyntheticDriver struct {
	index int
	opts  SyntheticOptions

	mu        sync.Mutex
	setup     Setup
	pool      *frame.Pool
	texture   []byte
	inited    bool
	acquiring bool
	frameID   int64
	calls     int
	next      time.Time
	resets    int
	timeouts  int
}

// NewSyntheticDriver creates a synthetic camera.
func NewSyntheticDriver(index int, opts SyntheticOptions) *SyntheticDriver {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Millisecond
	}
	return &SyntheticDriver{index: index, opts: opts}
}

// Info implements Driver.
func (d *SyntheticDriver) Info() DeviceInfo {
	return DeviceInfo{
		ID:     fmt.Sprintf("synthetic-%d", d.index),
		Name:   "Synthetic camera",
		Path:   fmt.Sprintf("synthetic://%d", d.index),
		Driver: "synthetic",
	}
}

// Init implements Driver.
func (d *SyntheticDriver) Init(setup Setup) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.setup = setup
	d.pool = frame.NewPool(setup.FrameSize())
	d.texture = noise(setup.FrameSize(), d.opts.Seed+uint64(d.index))
	d.inited = true
	return nil
}

// BeginAcquisition implements Driver.
func (d *SyntheticDriver) BeginAcquisition() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.inited {
		return ErrNotInitialized
	}
	d.acquiring = true
	d.next = time.Now()
	return nil
}

// IsAcquiring implements Driver.
func (d *SyntheticDriver) IsAcquiring() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.acquiring
}

// NextImage implements Driver.
func (d *SyntheticDriver) NextImage(ctx context.Context) (Image, error) {
	d.mu.Lock()
	if !d.acquiring {
		d.mu.Unlock()
		return nil, ErrNotAcquiring
	}
	d.calls++
	if d.opts.FailEvery > 0 && d.calls%d.opts.FailEvery == 0 {
		d.mu.Unlock()
		return nil, ErrInjected
	}
	if d.opts.Limit > 0 && d.frameID >= int64(d.opts.Limit) {
		d.timeouts++
		d.mu.Unlock()
		return nil, d.wait(ctx, d.opts.Timeout)
	}

	var delay time.Duration
	if d.opts.Paced && d.setup.FrameRate > 0 {
		d.next = d.next.Add(time.Duration(float64(time.Second) / d.setup.FrameRate))
		delay = time.Until(d.next)
	}
	id := d.frameID
	d.frameID++
	setup := d.setup
	pool := d.pool
	texture := d.texture
	d.mu.Unlock()

	if delay > 0 {
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}

	buf := pool.Get()
	render(buf, texture, setup.Width, setup.Height, id)
	return &syntheticImage{
		buf:       buf,
		pool:      pool,
		id:        id,
		timestamp: id * int64(float64(time.Second)/max(setup.FrameRate, 1)),
	}, nil
}

func (d *SyntheticDriver) wait(ctx context.Context, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return ErrFrameTimeout
	}
}

// EndAcquisition implements Driver.
func (d *SyntheticDriver) EndAcquisition() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.acquiring = false
	return nil
}

// DeInit implements Driver.
func (d *SyntheticDriver) DeInit() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.acquiring = false
	d.inited = false
	return nil
}

// Reset implements Driver.
func (d *SyntheticDriver) Reset() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.acquiring = false
	d.inited = false
	d.frameID = 0
	d.resets++
	return nil
}

// Resets returns how many times Reset was called.
func (d *SyntheticDriver) Resets() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.resets
}

// Timeouts returns how many NextImage calls found the frame limit reached.
func (d *SyntheticDriver) Timeouts() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.timeouts
}

type syntheticImage struct {
	buf       []byte
	pool      *frame.Pool
	id        int64
	timestamp int64
}

func (i *syntheticImage) Data() []byte     { return i.buf }
func (i *syntheticImage) FrameID() int64   { return i.id }
func (i *syntheticImage) Timestamp() int64 { return i.timestamp }

func (i *syntheticImage) Release() {
	if i.buf == nil {
		return
	}
	i.pool.Put(i.buf)
	i.buf = nil
}

func noise(size int, seed uint64) []byte {
	rng := rand.New(rand.NewPCG(seed, 0x9e3779b97f4a7c15))
	texture := make([]byte, size)
	for i := range texture {
		texture[i] = 40 + byte(rng.IntN(24))
	}
	return texture
}

// render draws frame id into buf: the noise texture with a white square
// travelling around the frame, one lap per 200 frames.
func render(buf, texture []byte, width, height int, id int64) {
	copy(buf, texture)

	side := max(min(width, height)/10, 1)
	phase := int(id % 200)
	cx, cy := orbit(phase, width-side, height-side)
	for y := cy; y < cy+side; y++ {
		row := buf[y*width : (y+1)*width]
		for x := cx; x < cx+side; x++ {
			row[x] = 230
		}
	}
}

// orbit maps a phase in [0,200) to a point on a rectangle inset in w x h.
func orbit(phase, w, h int) (int, int) {
	quarter := phase / 50
	t := phase % 50
	switch quarter {
	case 0:
		return w * t / 50, 0
	case 1:
		return w, h * t / 50
	case 2:
		return w - w*t/50, h
	default:
		return 0, h - h*t/50
	}
}
