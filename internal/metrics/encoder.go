package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	encoderFPS = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "encoder",
		Name:      "fps",
		Help:      "Current encoding FPS reported by ffmpeg",
	}, []string{"camera"})

	encoderDroppedFrames = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "encoder",
		Name:      "dropped_frames",
		Help:      "Frames dropped by ffmpeg in the current recording",
	}, []string{"camera"})

	encoderDuplicateFrames = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "encoder",
		Name:      "duplicate_frames",
		Help:      "Frames duplicated by ffmpeg in the current recording",
	}, []string{"camera"})

	encoderSpeed = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "encoder",
		Name:      "speed",
		Help:      "Encoding speed as a multiple of real time",
	}, []string{"camera"})

	progressCache   = make(map[int]*EncoderProgress)
	progressCacheMu sync.RWMutex
)

// EncoderProgress holds the latest ffmpeg progress report of one camera's
// recording.
type EncoderProgress struct {
	Frames          int64   `json:"frames"`
	FPS             float64 `json:"fps"`
	DroppedFrames   int64   `json:"dropped_frames"`
	DuplicateFrames int64   `json:"duplicate_frames"`
	Speed           float64 `json:"speed"`
}

// SetEncoderProgress records a progress report for camera.
func SetEncoderProgress(camera int, p EncoderProgress) {
	l := label(camera)
	encoderFPS.WithLabelValues(l).Set(p.FPS)
	encoderDroppedFrames.WithLabelValues(l).Set(float64(p.DroppedFrames))
	encoderDuplicateFrames.WithLabelValues(l).Set(float64(p.DuplicateFrames))
	encoderSpeed.WithLabelValues(l).Set(p.Speed)

	progressCacheMu.Lock()
	defer progressCacheMu.Unlock()
	progressCache[camera] = &p
}

// DeleteEncoderProgress removes the progress of camera once its recording
// has ended.
func DeleteEncoderProgress(camera int) {
	l := label(camera)
	encoderFPS.DeleteLabelValues(l)
	encoderDroppedFrames.DeleteLabelValues(l)
	encoderDuplicateFrames.DeleteLabelValues(l)
	encoderSpeed.DeleteLabelValues(l)

	progressCacheMu.Lock()
	delete(progressCache, camera)
	progressCacheMu.Unlock()
}

// GetEncoderProgress returns the latest progress of camera, or nil while it
// is not recording.
func GetEncoderProgress(camera int) *EncoderProgress {
	progressCacheMu.RLock()
	defer progressCacheMu.RUnlock()
	if p, ok := progressCache[camera]; ok {
		dup := *p
		return &dup
	}
	return nil
}
