package ffmpeg

import "testing"

const encodersOutput = `Encoders:
 V..... = Video
 A..... = Audio
 S..... = Subtitle
 .F.... = Frame-level multithreading
 ..S... = Slice-level multithreading
 ...X.. = Codec is experimental
 ....B. = Supports draw_horiz_band
 .....D = Supports direct rendering method 1
 ------
 V....D libx264              libx264 H.264 / AVC / MPEG-4 AVC / MPEG-4 part 10 (codec h264)
 V....D h264_nvenc           NVIDIA NVENC H.264 encoder (codec h264)
 V..... h264_v4l2m2m         V4L2 mem2mem H.264 encoder wrapper (codec h264)
 A....D aac                  AAC (Advanced Audio Coding)
`

func TestParseEncoders(t *testing.T) {
	encoders, err := ParseEncoders(encodersOutput)
	if err != nil {
		t.Fatal(err)
	}
	if len(encoders) != 3 {
		t.Fatalf("got %d video encoders: %+v", len(encoders), encoders)
	}

	tests := []struct {
		name    string
		hwaccel bool
	}{
		{"libx264", false},
		{"h264_nvenc", true},
		{"h264_v4l2m2m", true},
	}
	for i, tt := range tests {
		if encoders[i].Name != tt.name || encoders[i].HWAccel != tt.hwaccel {
			t.Errorf("encoder %d = %+v", i, encoders[i])
		}
	}
	if encoders[1].Description != "NVIDIA NVENC H.264 encoder (codec h264)" {
		t.Errorf("description = %q", encoders[1].Description)
	}

	if !HasEncoder(encoders, "h264_nvenc") || HasEncoder(encoders, "aac") {
		t.Error("HasEncoder mismatch")
	}
}

func TestParseEncodersSkipsLegend(t *testing.T) {
	encoders, err := ParseEncoders(" V..... = Video\n")
	if err != nil {
		t.Fatal(err)
	}
	if len(encoders) != 0 {
		t.Errorf("legend parsed as encoders: %+v", encoders)
	}
}
