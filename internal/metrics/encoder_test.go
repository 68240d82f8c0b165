package metrics

import (
	"sync"
	"testing"
)

func TestEncoderProgressCache(t *testing.T) {
	const cam = 41
	DeleteEncoderProgress(cam)

	if p := GetEncoderProgress(cam); p != nil {
		t.Fatalf("expected nil before the first report, got %+v", p)
	}

	SetEncoderProgress(cam, EncoderProgress{Frames: 300, FPS: 99.5, DroppedFrames: 2, Speed: 0.99})
	p := GetEncoderProgress(cam)
	if p == nil {
		t.Fatal("expected progress")
	}
	if p.Frames != 300 || p.FPS != 99.5 || p.DroppedFrames != 2 || p.Speed != 0.99 {
		t.Errorf("progress = %+v", p)
	}

	// The returned value is a copy.
	p.Frames = 0
	if GetEncoderProgress(cam).Frames != 300 {
		t.Error("cache was modified through the returned value")
	}

	DeleteEncoderProgress(cam)
	if GetEncoderProgress(cam) != nil {
		t.Error("expected nil after delete")
	}
}

func TestEncoderProgressConcurrent(t *testing.T) {
	var wg sync.WaitGroup
	for cam := 50; cam < 60; cam++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range 100 {
				SetEncoderProgress(cam, EncoderProgress{Frames: int64(i)})
				_ = GetEncoderProgress(cam)
			}
			DeleteEncoderProgress(cam)
		}()
	}
	wg.Wait()
}
