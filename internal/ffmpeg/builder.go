// Package ffmpeg builds encoder command lines and parses encoder log output.
package ffmpeg

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

const (
	defaultBinary      = "ffmpeg"
	defaultPixelFormat = "gray"
	defaultLogLevel    = "level+warning"
)

// Base returns the ffmpeg invocation with standard flags.
func Base(binary string) string {
	if binary == "" {
		binary = defaultBinary
	}
	return quote(binary) + " -hide_banner"
}

// BuildRawEncodeCommand builds the command line for encoding a raw frame
// stream. The result is split back into arguments by the process package,
// so paths are escaped rather than shell-quoted.
func BuildRawEncodeCommand(p *RawEncodeParams) (string, error) {
	if err := p.validate(); err != nil {
		return "", err
	}

	pixFmt := p.PixelFormat
	if pixFmt == "" {
		pixFmt = defaultPixelFormat
	}
	logLevel := p.LogLevel
	if logLevel == "" {
		logLevel = defaultLogLevel
	}
	rate := strconv.FormatFloat(p.FrameRate, 'f', -1, 64)

	var cmd strings.Builder
	cmd.WriteString(Base(p.Binary))
	cmd.WriteString(" -loglevel " + logLevel)
	cmd.WriteString(" -nostats -y")
	if p.ProgressURL != "" {
		cmd.WriteString(" -progress " + quote(p.ProgressURL))
	}

	// Input
	cmd.WriteString(" -f rawvideo")
	cmd.WriteString(fmt.Sprintf(" -s %dx%d", p.Width, p.Height))
	cmd.WriteString(" -pix_fmt " + pixFmt)
	cmd.WriteString(" -framerate " + rate)
	cmd.WriteString(" -i " + quote(p.InputPath))

	// Output
	cmd.WriteString(" -an")
	cmd.WriteString(" -c:v " + p.Codec)
	cmd.WriteString(" -r " + rate)
	if p.Preset != "" {
		cmd.WriteString(" -preset " + p.Preset)
	}
	if p.QP > 0 {
		cmd.WriteString(fmt.Sprintf(" -qp %d", p.QP))
	}
	if p.CRF > 0 {
		cmd.WriteString(fmt.Sprintf(" -crf %d", p.CRF))
	}
	for _, arg := range p.ExtraArgs {
		cmd.WriteString(" " + quote(arg))
	}
	cmd.WriteString(" " + quote(p.OutputPath))

	return cmd.String(), nil
}

func (p *RawEncodeParams) validate() error {
	var errs []error
	if p.Width <= 0 || p.Height <= 0 {
		errs = append(errs, fmt.Errorf("invalid frame size %dx%d", p.Width, p.Height))
	}
	if p.FrameRate <= 0 {
		errs = append(errs, fmt.Errorf("invalid frame rate %v", p.FrameRate))
	}
	if p.InputPath == "" {
		errs = append(errs, errors.New("input path is required"))
	}
	if p.OutputPath == "" {
		errs = append(errs, errors.New("output path is required"))
	}
	if p.Codec == "" {
		errs = append(errs, errors.New("codec is required"))
	}
	return errors.Join(errs...)
}

// quote escapes characters that the command splitter treats specially.
func quote(s string) string {
	if !strings.ContainsAny(s, " \"'\\") {
		return s
	}
	var b strings.Builder
	for _, r := range s {
		switch r {
		case ' ', '"', '\'', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
