// Package session lays out the per-camera data directories of one recording
// session and records the camera settings used.
package session

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"github.com/google/uuid"
	"github.com/pelletier/go-toml/v2"
)

// DefaultProject is the project folder used when none is configured.
const DefaultProject = "FetchRig"

// Config locates session directories.
type Config struct {
	// Roots holds one data root per camera. A single root is shared by all
	// cameras. Empty uses the XDG data directory.
	Roots   []string `toml:"roots" json:"roots,omitempty"`
	Project string   `toml:"project" json:"project"`
	Subject string   `toml:"subject" json:"subject"`
}

// Session is one run of the rig for a subject.
type Session struct {
	ID      uuid.UUID `json:"id"`
	Project string    `json:"project"`
	Subject string    `json:"subject"`
	Started time.Time `json:"started"`
	Paths   []string  `json:"paths"`
}

// DefaultRoot is the data root used when no roots are configured.
func DefaultRoot() string {
	return filepath.Join(xdg.DataHome, "fetchrig")
}

// Paths returns the session directory of each camera:
// <root>/<project>/Animal/<subject>/<yyyy_mm_dd>/<yyyy_mm_dd_hh_mm_ss>.
func Paths(cfg Config, cameras int, now time.Time) ([]string, error) {
	if err := validName("subject", cfg.Subject); err != nil {
		return nil, err
	}
	project := cfg.Project
	if project == "" {
		project = DefaultProject
	}
	if err := validName("project", project); err != nil {
		return nil, err
	}

	roots := cfg.Roots
	switch {
	case len(roots) == 0:
		roots = []string{DefaultRoot()}
	case len(roots) != 1 && len(roots) != cameras:
		return nil, fmt.Errorf("%d session roots configured for %d cameras", len(roots), cameras)
	}

	day := now.Format("2006_01_02")
	stamp := now.Format("2006_01_02_15_04_05")
	paths := make([]string, cameras)
	for i := range paths {
		root := roots[0]
		if len(roots) > 1 {
			root = roots[i]
		}
		paths[i] = filepath.Join(root, project, "Animal", cfg.Subject, day, stamp)
	}
	return paths, nil
}

// New computes the session paths and creates the directories.
func New(cfg Config, cameras int, now time.Time, logger *slog.Logger) (*Session, error) {
	paths, err := Paths(cfg, cameras, now)
	if err != nil {
		return nil, err
	}
	for _, p := range paths {
		if err := os.MkdirAll(p, 0o755); err != nil {
			return nil, fmt.Errorf("create session directory: %w", err)
		}
		logger.Info("Created session directory", "path", p)
	}

	project := cfg.Project
	if project == "" {
		project = DefaultProject
	}
	return &Session{
		ID:      uuid.New(),
		Project: project,
		Subject: cfg.Subject,
		Started: now,
		Paths:   paths,
	}, nil
}

// Path returns the directory of camera.
func (s *Session) Path(camera int) string {
	return s.Paths[camera]
}

// SettingsFile returns the settings file path of camera.
func (s *Session) SettingsFile(camera int) string {
	return filepath.Join(s.Paths[camera], fmt.Sprintf("cam%d_cameraSettings.toml", camera))
}

type settingsFile struct {
	Session  string    `toml:"session"`
	Subject  string    `toml:"subject"`
	Camera   int       `toml:"camera"`
	Device   any       `toml:"device"`
	Settings any       `toml:"settings"`
	Written  time.Time `toml:"written"`
}

// WriteSettings records the device and settings camera runs with.
func (s *Session) WriteSettings(camera int, device, settings any) error {
	data, err := toml.Marshal(settingsFile{
		Session:  s.ID.String(),
		Subject:  s.Subject,
		Camera:   camera,
		Device:   device,
		Settings: settings,
		Written:  time.Now(),
	})
	if err != nil {
		return fmt.Errorf("encode camera settings: %w", err)
	}
	return os.WriteFile(s.SettingsFile(camera), data, 0o644)
}

func validName(what, name string) error {
	switch {
	case name == "":
		return fmt.Errorf("%s is required", what)
	case name == "." || name == "..":
		return fmt.Errorf("invalid %s %q", what, name)
	case strings.ContainsAny(name, `/\`):
		return errors.New(what + " must not contain path separators")
	}
	return nil
}
