package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCameraMetricsCache(t *testing.T) {
	const camera = 7
	DeleteCameraMetrics(camera)

	if m := GetCameraMetrics(camera); m != nil {
		t.Fatal("expected nil for unknown camera")
	}

	IncFramesAcquired(camera)
	IncFramesAcquired(camera)
	IncAcquisitionErrors(camera)
	IncPreviewFrames(camera)
	AddFramesWritten(camera, 1000)

	m := GetCameraMetrics(camera)
	if m == nil {
		t.Fatal("expected metrics")
	}
	if m.FramesAcquired != 2 || m.AcquisitionErrors != 1 || m.PreviewFrames != 1 || m.FramesWritten != 1000 {
		t.Errorf("metrics = %+v", *m)
	}

	m.FramesAcquired = 99
	if GetCameraMetrics(camera).FramesAcquired != 2 {
		t.Error("returned copy aliases the cache")
	}

	if got := testutil.ToFloat64(encoderFramesWritten.WithLabelValues("7")); got != 1000 {
		t.Errorf("frames_written_total = %v, want 1000", got)
	}

	DeleteCameraMetrics(camera)
	if GetCameraMetrics(camera) != nil {
		t.Error("expected nil after delete")
	}
}

func TestPipelineStateGauge(t *testing.T) {
	const camera = 8
	defer DeleteCameraMetrics(camera)

	SetPipelineState(camera, "", "idle")
	SetPipelineState(camera, "idle", "streaming")

	if got := testutil.ToFloat64(pipelineState.WithLabelValues("8", "idle")); got != 0 {
		t.Errorf("idle = %v, want 0", got)
	}
	if got := testutil.ToFloat64(pipelineState.WithLabelValues("8", "streaming")); got != 1 {
		t.Errorf("streaming = %v, want 1", got)
	}
}

func TestHandlerExposesRigMetrics(t *testing.T) {
	IncMergePairs()
	SetMotionPixels(42)

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body := rec.Body.String()
	for _, name := range []string{"fetchrig_merge_pairs_total", "fetchrig_merge_motion_pixels 42"} {
		if !strings.Contains(body, name) {
			t.Errorf("metrics output missing %q", name)
		}
	}
}
