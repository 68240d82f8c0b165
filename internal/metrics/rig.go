// Package metrics provides Prometheus metrics for the rig stages and a
// cache of current values for the status endpoint.
package metrics

import (
	"net/http"
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "fetchrig"

var (
	framesAcquired = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "camera",
		Name:      "frames_acquired_total",
		Help:      "Frames pulled from the camera driver",
	}, []string{"camera"})

	acquisitionErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "camera",
		Name:      "acquisition_errors_total",
		Help:      "Transient frame acquisition failures",
	}, []string{"camera"})

	previewFrames = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "camera",
		Name:      "preview_frames_total",
		Help:      "Downsampled frames emitted for preview",
	}, []string{"camera"})

	invalidCommands = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "camera",
		Name:      "invalid_commands_total",
		Help:      "Commands discarded as invalid for the current state",
	}, []string{"camera"})

	pipelineState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "camera",
		Name:      "state",
		Help:      "1 for the current pipeline state, 0 otherwise",
	}, []string{"camera", "state"})

	encoderFramesWritten = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "encoder",
		Name:      "frames_written_total",
		Help:      "Raw frames written to the encoder transport",
	}, []string{"camera"})

	encoderQueueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "encoder",
		Name:      "queue_depth",
		Help:      "Frames waiting to be written to the encoder",
	}, []string{"camera"})

	encoderFaults = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "encoder",
		Name:      "faults_total",
		Help:      "Encode sink transport or process faults",
	}, []string{"camera"})

	mergePairs = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "merge",
		Name:      "pairs_total",
		Help:      "Frame pairs combined by the merge stage",
	})

	mergeDiscarded = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "merge",
		Name:      "discarded_frames_total",
		Help:      "Preview frames discarded without being merged",
	}, []string{"reason"})

	motionPixels = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "merge",
		Name:      "motion_pixels",
		Help:      "Pixels above threshold in the latest motion mask",
	})

	queueDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "queue",
		Name:      "dropped_total",
		Help:      "Items evicted by the drop-oldest policy",
	}, []string{"queue"})

	commandsIssued = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "router",
		Name:      "commands_total",
		Help:      "Commands issued by the router",
	}, []string{"command"})

	// Local cache for the status endpoint.
	cameraCache   = make(map[int]*CameraMetrics)
	cameraCacheMu sync.RWMutex
)

// CameraMetrics holds current counter values for one camera.
type CameraMetrics struct {
	FramesAcquired    int64
	AcquisitionErrors int64
	PreviewFrames     int64
	FramesWritten     int64
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// IncFramesAcquired counts one frame pulled from camera.
func IncFramesAcquired(camera int) {
	framesAcquired.WithLabelValues(label(camera)).Inc()
	updateCamera(camera, func(m *CameraMetrics) { m.FramesAcquired++ })
}

// IncAcquisitionErrors counts one transient acquisition failure.
func IncAcquisitionErrors(camera int) {
	acquisitionErrors.WithLabelValues(label(camera)).Inc()
	updateCamera(camera, func(m *CameraMetrics) { m.AcquisitionErrors++ })
}

// IncPreviewFrames counts one preview frame emitted by camera.
func IncPreviewFrames(camera int) {
	previewFrames.WithLabelValues(label(camera)).Inc()
	updateCamera(camera, func(m *CameraMetrics) { m.PreviewFrames++ })
}

// IncInvalidCommands counts one discarded command.
func IncInvalidCommands(camera int) {
	invalidCommands.WithLabelValues(label(camera)).Inc()
}

// SetPipelineState marks state as current for camera and clears previous.
func SetPipelineState(camera int, previous, state string) {
	if previous != "" {
		pipelineState.WithLabelValues(label(camera), previous).Set(0)
	}
	pipelineState.WithLabelValues(label(camera), state).Set(1)
}

// AddFramesWritten adds n encoder writes for camera.
func AddFramesWritten(camera int, n int64) {
	encoderFramesWritten.WithLabelValues(label(camera)).Add(float64(n))
	updateCamera(camera, func(m *CameraMetrics) { m.FramesWritten += n })
}

// SetEncoderQueueDepth records the encoder backlog of camera.
func SetEncoderQueueDepth(camera, depth int) {
	encoderQueueDepth.WithLabelValues(label(camera)).Set(float64(depth))
}

// IncEncoderFaults counts one encode sink fault.
func IncEncoderFaults(camera int) {
	encoderFaults.WithLabelValues(label(camera)).Inc()
}

// IncMergePairs counts one merged pair.
func IncMergePairs() {
	mergePairs.Inc()
}

// IncMergeDiscarded counts one preview frame dropped by the merge stage.
func IncMergeDiscarded(reason string) {
	mergeDiscarded.WithLabelValues(reason).Inc()
}

// SetMotionPixels records the on-pixel count of the latest mask.
func SetMotionPixels(n int) {
	motionPixels.Set(float64(n))
}

// IncQueueDropped counts one drop-oldest eviction in queue.
func IncQueueDropped(queue string) {
	queueDropped.WithLabelValues(queue).Inc()
}

// IncCommands counts one routed command.
func IncCommands(command string) {
	commandsIssued.WithLabelValues(command).Inc()
}

// GetCameraMetrics returns a copy of the counters of camera, or nil.
func GetCameraMetrics(camera int) *CameraMetrics {
	cameraCacheMu.RLock()
	defer cameraCacheMu.RUnlock()
	if m, ok := cameraCache[camera]; ok {
		dup := *m
		return &dup
	}
	return nil
}

// DeleteCameraMetrics removes every series of camera.
func DeleteCameraMetrics(camera int) {
	l := label(camera)
	framesAcquired.DeleteLabelValues(l)
	acquisitionErrors.DeleteLabelValues(l)
	previewFrames.DeleteLabelValues(l)
	invalidCommands.DeleteLabelValues(l)
	encoderFramesWritten.DeleteLabelValues(l)
	encoderQueueDepth.DeleteLabelValues(l)
	encoderFaults.DeleteLabelValues(l)
	pipelineState.DeletePartialMatch(prometheus.Labels{"camera": l})

	cameraCacheMu.Lock()
	delete(cameraCache, camera)
	cameraCacheMu.Unlock()
}

func updateCamera(camera int, update func(*CameraMetrics)) {
	cameraCacheMu.Lock()
	defer cameraCacheMu.Unlock()
	m, ok := cameraCache[camera]
	if !ok {
		m = &CameraMetrics{}
		cameraCache[camera] = m
	}
	update(m)
}

func label(camera int) string {
	return strconv.Itoa(camera)
}
