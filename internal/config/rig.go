package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/pelletier/go-toml/v2"
	"github.com/smazurov/fetchrig/internal/camera"
	"github.com/smazurov/fetchrig/internal/cue"
	"github.com/smazurov/fetchrig/internal/logging"
	"github.com/smazurov/fetchrig/internal/merge"
	"github.com/smazurov/fetchrig/internal/session"
)

// Rig is the rig description file. Missing tables and keys keep their
// defaults.
type Rig struct {
	Camera     camera.Setup   `toml:"camera"`
	Encoder    Encoder        `toml:"encoder"`
	Merge      Merge          `toml:"merge"`
	Controller Controller     `toml:"controller"`
	Cue        cue.Config     `toml:"cue"`
	Session    session.Config `toml:"session"`
	Logging    logging.Config `toml:"logging"`
}

// Encoder configures the external encoder launched per recording.
type Encoder struct {
	Binary    string   `toml:"binary" json:"binary"`
	Codec     string   `toml:"codec" json:"codec"`
	Preset    string   `toml:"preset" json:"preset"`
	QP        int      `toml:"qp" json:"qp"`
	CRF       int      `toml:"crf" json:"crf"`
	LogLevel  string   `toml:"log_level" json:"log_level"`
	ExtraArgs []string `toml:"extra_args" json:"extra_args,omitempty"`
	// PipeDir holds the named pipes frames are streamed through.
	PipeDir string `toml:"pipe_dir" json:"pipe_dir"`
	// ExitTimeoutMS bounds the wait for the encoder to finish after the
	// last frame.
	ExitTimeoutMS int `toml:"exit_timeout_ms" json:"exit_timeout_ms"`
}

// ExitTimeout returns ExitTimeoutMS as a duration.
func (e Encoder) ExitTimeout() time.Duration {
	return time.Duration(e.ExitTimeoutMS) * time.Millisecond
}

// Merge configures the merge stage.
type Merge struct {
	Threshold     uint8  `toml:"threshold" json:"threshold"`
	Pairing       string `toml:"pairing" json:"pairing"`
	PairTimeoutMS int    `toml:"pair_timeout_ms" json:"pair_timeout_ms"`
	QueueCapacity int    `toml:"queue_capacity" json:"queue_capacity"`
	SnapshotDir   string `toml:"snapshot_dir" json:"snapshot_dir"`
	JPEGQuality   int    `toml:"jpeg_quality" json:"jpeg_quality"`
}

// PairTimeout returns PairTimeoutMS as a duration.
func (m Merge) PairTimeout() time.Duration {
	return time.Duration(m.PairTimeoutMS) * time.Millisecond
}

// Controller configures the operator input device.
type Controller struct {
	// Device is a joystick device such as /dev/input/js0. Empty disables the
	// physical controller; the API can still press buttons.
	Device string `toml:"device" json:"device"`
	// Bindings maps button names to command names. Empty uses the default
	// layout.
	Bindings map[string]string `toml:"bindings" json:"bindings,omitempty"`
	// TickMS is the UI polling interval.
	TickMS int `toml:"tick_ms" json:"tick_ms"`
}

// Tick returns TickMS as a duration.
func (c Controller) Tick() time.Duration {
	return time.Duration(c.TickMS) * time.Millisecond
}

// DefaultRig returns the rig defaults.
func DefaultRig() Rig {
	return Rig{
		Camera: camera.DefaultSetup(),
		Encoder: Encoder{
			Binary:        "ffmpeg",
			Codec:         "h264_nvenc",
			Preset:        "fast",
			QP:            20,
			PipeDir:       filepath.Join(os.TempDir(), "fetchrig"),
			ExitTimeoutMS: 30000,
		},
		Merge: Merge{
			Threshold:     merge.DefaultThreshold,
			Pairing:       merge.PairFIFO,
			PairTimeoutMS: 20,
			QueueCapacity: 8,
			JPEGQuality:   80,
		},
		Controller: Controller{
			TickMS: 10,
		},
		Session: session.Config{
			Project: session.DefaultProject,
		},
		Logging: logging.Config{
			Level:   "info",
			Format:  "text",
			Modules: map[string]string{},
		},
	}
}

// LoadRig reads path over the defaults. A missing file yields the defaults.
func LoadRig(path string) (Rig, error) {
	rig := DefaultRig()
	if path == "" {
		return rig, nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return rig, nil
	}
	if err != nil {
		return rig, fmt.Errorf("read rig config: %w", err)
	}
	if err := toml.Unmarshal(data, &rig); err != nil {
		return rig, fmt.Errorf("parse rig config %s: %w", path, err)
	}
	if rig.Logging, err = loggingFromTOML(data); err != nil {
		return rig, fmt.Errorf("parse logging config %s: %w", path, err)
	}
	return rig, nil
}

// Validate normalizes the camera setup and checks the remaining sections.
func (r *Rig) Validate(logger *slog.Logger) error {
	if err := r.Camera.Normalize(logger); err != nil {
		return fmt.Errorf("camera: %w", err)
	}
	switch r.Merge.Pairing {
	case merge.PairFIFO, merge.PairIndex:
	default:
		return fmt.Errorf("merge: unknown pairing %q", r.Merge.Pairing)
	}
	if r.Merge.QueueCapacity <= 0 {
		return fmt.Errorf("merge: queue_capacity must be positive")
	}
	if r.Encoder.Binary == "" || r.Encoder.Codec == "" {
		return fmt.Errorf("encoder: binary and codec are required")
	}
	if r.Encoder.QP < 0 || r.Encoder.CRF < 0 {
		return fmt.Errorf("encoder: qp and crf must not be negative")
	}
	if r.Controller.TickMS <= 0 {
		return fmt.Errorf("controller: tick_ms must be positive")
	}
	if r.Merge.PairTimeoutMS <= 0 || r.Encoder.ExitTimeoutMS <= 0 {
		return fmt.Errorf("timeouts must be positive")
	}
	return nil
}
