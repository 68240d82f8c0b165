package encode

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/smazurov/fetchrig/internal/metrics"
)

func TestParseProgress(t *testing.T) {
	p := ParseProgress(map[string]string{
		"frame":       "1200",
		"fps":         "99.87",
		"drop_frames": "3",
		"dup_frames":  "0",
		"speed":       "0.998x",
		"bitrate":     "N/A",
	})
	want := metrics.EncoderProgress{Frames: 1200, FPS: 99.87, DroppedFrames: 3, Speed: 0.998}
	if p != want {
		t.Errorf("ParseProgress = %+v, want %+v", p, want)
	}

	if p := ParseProgress(map[string]string{"speed": "N/A", "fps": "0.00"}); p != (metrics.EncoderProgress{}) {
		t.Errorf("N/A fields = %+v", p)
	}
}

func waitForProgress(t *testing.T, cam int, ok func(*metrics.EncoderProgress) bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if ok(metrics.GetEncoderProgress(cam)) {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("camera %d progress = %+v", cam, metrics.GetEncoderProgress(cam))
}

func TestProgressCollector(t *testing.T) {
	const cam = 7
	dir, err := os.MkdirTemp("", "prog")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })
	socket := filepath.Join(dir, fmt.Sprintf("progress%d.sock", cam))

	c := NewProgressCollector(cam, socket, testLogger())
	if c.URL() != "unix://"+socket {
		t.Errorf("URL = %s", c.URL())
	}
	if err := c.Start(); err != nil {
		t.Fatal(err)
	}
	defer c.Stop()

	conn, err := net.Dial("unix", socket)
	if err != nil {
		t.Fatal(err)
	}
	fmt.Fprint(conn, "frame=100\nfps=100.0\ndrop_frames=0\nspeed=1.0x\nprogress=continue\n")
	waitForProgress(t, cam, func(p *metrics.EncoderProgress) bool { return p != nil && p.Frames == 100 })

	fmt.Fprint(conn, "frame=250\nfps=99.5\ndrop_frames=1\nspeed=0.99x\nprogress=end\n")
	waitForProgress(t, cam, func(p *metrics.EncoderProgress) bool { return p == nil })
	conn.Close()

	// The next recording reconnects to the same socket.
	conn, err = net.Dial("unix", socket)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	fmt.Fprint(conn, "frame=5\nprogress=continue\n")
	waitForProgress(t, cam, func(p *metrics.EncoderProgress) bool { return p != nil && p.Frames == 5 })

	c.Stop()
	if _, err := os.Stat(socket); !os.IsNotExist(err) {
		t.Errorf("socket left behind: %v", err)
	}
	if metrics.GetEncoderProgress(cam) != nil {
		t.Error("progress kept after Stop")
	}
}
