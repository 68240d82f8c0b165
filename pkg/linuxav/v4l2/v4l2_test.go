//go:build linux && (amd64 || arm64)

package v4l2

import (
	"errors"
	"testing"
	"unsafe"
)

func TestStructOffsets(t *testing.T) {
	var b v4l2Buffer
	tests := []struct {
		name string
		got  uintptr
		want uintptr
	}{
		{"buffer.timestamp", unsafe.Offsetof(b.timestamp), 24},
		{"buffer.sequence", unsafe.Offsetof(b.sequence), 56},
		{"buffer.memory", unsafe.Offsetof(b.memory), 60},
		{"buffer.m", unsafe.Offsetof(b.m), 64},
		{"buffer.length", unsafe.Offsetof(b.length), 72},
		{"format.pix", unsafe.Offsetof(v4l2Format{}.pix), 8},
		{"streamparm.capture", unsafe.Offsetof(v4l2Streamparm{}.capture), 4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("offset = %d, want %d", tt.got, tt.want)
			}
		})
	}
}

func TestFormatFourCC(t *testing.T) {
	tests := []struct {
		format uint32
		want   string
	}{
		{PixFmtGrey, "GREY"},
		{PixFmtYUYV, "YUYV"},
		{PixFmtMJPEG, "MJPG"},
	}
	for _, tt := range tests {
		if got := FormatFourCC(tt.format); got != tt.want {
			t.Errorf("FormatFourCC(0x%08x) = %q, want %q", tt.format, got, tt.want)
		}
	}
}

func TestFramerateFPS(t *testing.T) {
	if got := (Framerate{Numerator: 1, Denominator: 100}).FPS(); got != 100 {
		t.Errorf("FPS() = %v, want 100", got)
	}
	if got := (Framerate{}).FPS(); got != 0 {
		t.Errorf("zero Framerate FPS() = %v, want 0", got)
	}
}

func TestEffectiveCaps(t *testing.T) {
	c := v4l2Capability{capabilities: capDeviceCaps | CapVideoCapture | CapStreaming, deviceCaps: CapVideoCapture}
	if got := c.effectiveCaps(); got != CapVideoCapture {
		t.Errorf("effectiveCaps = 0x%x, want device caps", got)
	}

	c = v4l2Capability{capabilities: CapVideoCapture | CapStreaming}
	if got := c.effectiveCaps(); got != CapVideoCapture|CapStreaming {
		t.Errorf("effectiveCaps = 0x%x, want global caps", got)
	}
}

func TestCstr(t *testing.T) {
	if got := cstr([]byte("uvcvideo\x00\x00garbage")); got != "uvcvideo" {
		t.Errorf("cstr = %q", got)
	}
	if got := cstr([]byte("full")); got != "full" {
		t.Errorf("cstr = %q", got)
	}
}

func TestOpenCaptureMissingDevice(t *testing.T) {
	if _, err := OpenCapture("/dev/fetchrig-does-not-exist"); err == nil {
		t.Fatal("expected error for missing device")
	}
}

func TestBufferOpsRequireStreaming(t *testing.T) {
	c := &Capture{fd: -1}
	if _, err := c.Dequeue(0); !errors.Is(err, ErrNotStreaming) {
		t.Errorf("Dequeue error = %v", err)
	}
	if err := c.Requeue(0); !errors.Is(err, ErrNotStreaming) {
		t.Errorf("Requeue error = %v", err)
	}
	if err := c.Stop(); err != nil {
		t.Errorf("Stop on idle capture = %v", err)
	}
}
