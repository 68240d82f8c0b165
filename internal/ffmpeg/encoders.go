package ffmpeg

import (
	"bufio"
	"context"
	"fmt"
	"os/exec"
	"regexp"
	"strings"
)

// VideoEncoder is one video encoder reported by ffmpeg -encoders.
type VideoEncoder struct {
	Name        string `json:"name" doc:"Encoder name passed to -c:v"`
	Description string `json:"description" doc:"ffmpeg description"`
	HWAccel     bool   `json:"hwaccel" doc:"Hardware accelerated"`
}

var (
	encoderLine  = regexp.MustCompile(`^\s*([VASFXBD\.]{6})\s+(\S+)\s+(.+)$`)
	hwaccelNames = regexp.MustCompile(`(?i)(nvenc|qsv|amf|vaapi|v4l2m2m|rkmpp|videotoolbox|cuda|vulkan)`)
)

// ListVideoEncoders runs binary -encoders and returns the video encoders.
func ListVideoEncoders(ctx context.Context, binary string) ([]VideoEncoder, error) {
	if binary == "" {
		binary = defaultBinary
	}
	out, err := exec.CommandContext(ctx, binary, "-hide_banner", "-encoders").Output()
	if err != nil {
		return nil, fmt.Errorf("list encoders: %w", err)
	}
	return ParseEncoders(string(out))
}

// ParseEncoders parses ffmpeg -encoders output and keeps the video encoders.
func ParseEncoders(output string) ([]VideoEncoder, error) {
	var encoders []VideoEncoder
	started := false

	scanner := bufio.NewScanner(strings.NewReader(output))
	for scanner.Scan() {
		line := scanner.Text()
		if !started {
			// The flag legend ends with a " ------" separator.
			if strings.HasPrefix(strings.TrimSpace(line), "------") {
				started = true
			}
			continue
		}
		m := encoderLine.FindStringSubmatch(line)
		if m == nil || m[1][0] != 'V' {
			continue
		}
		encoders = append(encoders, VideoEncoder{
			Name:        m[2],
			Description: strings.TrimSpace(m[3]),
			HWAccel:     hwaccelNames.MatchString(m[2]),
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read encoder list: %w", err)
	}
	return encoders, nil
}

// HasEncoder reports whether name is among encoders.
func HasEncoder(encoders []VideoEncoder, name string) bool {
	for _, e := range encoders {
		if e.Name == name {
			return true
		}
	}
	return false
}
