package ffmpeg

// RawEncodeParams describes an encoder reading fixed-size raw frames from a
// byte stream and writing a compressed file.
type RawEncodeParams struct {
	Binary string // ffmpeg executable, default "ffmpeg"

	// Input
	InputPath   string  // named pipe the frames arrive on
	Width       int     // frame width in pixels
	Height      int     // frame height in pixels
	PixelFormat string  // rawvideo pixel format, default "gray"
	FrameRate   float64 // input and output frame rate

	// Encoder
	Codec  string // h264_nvenc, libx264, ...
	Preset string // fast, medium, ... (empty = encoder default)
	QP     int    // constant quantizer (0 = not set)
	CRF    int    // constant rate factor (0 = not set)

	LogLevel    string   // -loglevel value, default "level+warning"
	ProgressURL string   // optional -progress target, e.g. unix:///run/progress0.sock
	ExtraArgs   []string // appended before the output path

	OutputPath string
}
