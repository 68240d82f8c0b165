package merge

import (
	"bytes"
	"fmt"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"time"

	"github.com/smazurov/fetchrig/internal/events"
	"github.com/smazurov/fetchrig/internal/frame"
)

// SnapshotNames returns the raw and mask file paths for a snapshot taken at t.
func SnapshotNames(dir string, t time.Time) (raw, mask string) {
	stamp := t.Format("2006_01_02_15_04_05.000")
	return filepath.Join(dir, stamp+"_raw.png"), filepath.Join(dir, stamp+"_mask.png")
}

// WritePNG encodes a Mono8 buffer as a grayscale PNG at path.
func WritePNG(path string, data []byte, width, height int) error {
	if len(data) != width*height {
		return fmt.Errorf("buffer is %d bytes, want %dx%d", len(data), width, height)
	}
	img := &image.Gray{
		Pix:    data,
		Stride: width,
		Rect:   image.Rect(0, 0, width, height),
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := png.Encode(f, img); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// snapshot copies both buffers and writes them off the merge goroutine.
func (s *Stage) snapshot(raw, mask *frame.Frame) {
	rawData := bytes.Clone(raw.Bytes())
	maskData := bytes.Clone(mask.Bytes())
	width, height := raw.Width, raw.Height
	rawPath, maskPath := SnapshotNames(s.cfg.SnapshotDir, time.Now())

	s.snapshots.Add(1)
	go func() {
		defer s.snapshots.Done()
		if err := os.MkdirAll(s.cfg.SnapshotDir, 0o755); err != nil {
			s.logger.Error("Failed to create snapshot directory", "dir", s.cfg.SnapshotDir, "error", err)
			return
		}
		if err := WritePNG(rawPath, rawData, width, height); err != nil {
			s.logger.Error("Failed to write snapshot", "path", rawPath, "error", err)
			return
		}
		if err := WritePNG(maskPath, maskData, width, height); err != nil {
			s.logger.Error("Failed to write snapshot", "path", maskPath, "error", err)
			return
		}
		s.logger.Info("Snapshot saved", "raw", rawPath, "mask", maskPath)
		if s.cfg.Bus != nil {
			s.cfg.Bus.Publish(events.SnapshotSavedEvent{
				RawPath:   rawPath,
				MaskPath:  maskPath,
				Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
			})
		}
	}()
}
