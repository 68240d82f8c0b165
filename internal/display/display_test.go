package display

import (
	"bytes"
	"errors"
	"image/jpeg"
	"testing"

	"github.com/smazurov/fetchrig/internal/frame"
	"github.com/smazurov/fetchrig/internal/merge"
	"github.com/smazurov/fetchrig/internal/queue"
)

func output(pool *frame.Pool, value byte, motion int) merge.Output {
	raw := pool.NewFrame(8, 4)
	mask := pool.NewFrame(8, 4)
	for i := range raw.Bytes() {
		raw.Bytes()[i] = value
		mask.Bytes()[i] = 0
	}
	return merge.Output{Raw: raw, Mask: mask, MotionPixels: motion}
}

func TestTickOnlyWhilePreviewing(t *testing.T) {
	pool := frame.NewPool(32)
	q := queue.New[merge.Output]()
	first := output(pool, 10, 1)
	q.Push(first)
	q.Push(output(pool, 20, 2))

	l := NewLatest(80)
	if Tick(l, q) {
		t.Fatal("rendered while not previewing")
	}
	if q.Len() != 2 {
		t.Fatalf("queue len = %d", q.Len())
	}

	l.SetPreviewing(true)
	if !Tick(l, q) {
		t.Fatal("nothing rendered")
	}
	if q.Len() != 1 {
		t.Errorf("tick drained %d items, want 1", 2-q.Len())
	}
	if !first.Raw.Released() || !first.Mask.Released() {
		t.Error("rendered output not released")
	}
	if info := l.Info(); info.MotionPixels != 1 || info.Sequence != 1 || info.Width != 8 || info.Height != 4 {
		t.Errorf("info = %+v", info)
	}
}

func TestLatestJPEG(t *testing.T) {
	l := NewLatest(0)
	if _, err := l.JPEG(Raw); !errors.Is(err, ErrNoFrame) {
		t.Errorf("JPEG before render = %v", err)
	}

	pool := frame.NewPool(32)
	l.Render(output(pool, 200, 0))

	data, err := l.JPEG(Raw)
	if err != nil {
		t.Fatal(err)
	}
	img, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatal(err)
	}
	if b := img.Bounds(); b.Dx() != 8 || b.Dy() != 4 {
		t.Errorf("decoded %dx%d", b.Dx(), b.Dy())
	}

	again, _ := l.JPEG(Raw)
	if &again[0] != &data[0] {
		t.Error("second encode of the same frame not cached")
	}
	if _, err := l.JPEG(Mask); err != nil {
		t.Error(err)
	}
}
