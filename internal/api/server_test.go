package api

import (
	"bufio"
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"image/jpeg"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/smazurov/fetchrig/internal/command"
	"github.com/smazurov/fetchrig/internal/display"
	"github.com/smazurov/fetchrig/internal/events"
	"github.com/smazurov/fetchrig/internal/frame"
	"github.com/smazurov/fetchrig/internal/input"
	"github.com/smazurov/fetchrig/internal/logging"
	"github.com/smazurov/fetchrig/internal/merge"
	"github.com/smazurov/fetchrig/internal/rig"
	"github.com/smazurov/fetchrig/internal/router"
)

type fakeRig struct {
	mu       sync.Mutex
	commands []command.Command
	taps     []input.Button
	preview  *display.Latest
}

func (f *fakeRig) Status() rig.Status {
	return rig.Status{Session: "test-session", Subject: "Charlie", Merge: "idle"}
}

func (f *fakeRig) Dispatch(cmd command.Command) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commands = append(f.commands, cmd)
}

func (f *fakeRig) Tap(b input.Button) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.taps = append(f.taps, b)
}

func (f *fakeRig) Bindings() []router.Binding {
	return []router.Binding{{Button: input.LeftShoulder, Command: command.BeginStreaming}}
}

func (f *fakeRig) Preview() *display.Latest {
	return f.preview
}

type testServer struct {
	*httptest.Server
	rig *fakeRig
	bus *events.Bus
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	fr := &fakeRig{preview: display.NewLatest(80)}
	bus := events.New()
	server := NewServer(&Options{
		AuthUsername: "test",
		AuthPassword: "test",
		Rig:          fr,
		EventBus:     bus,
		PrometheusHandler: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			io.WriteString(w, "# metrics\n")
		}),
	})
	ts := httptest.NewServer(server.Handler())
	t.Cleanup(ts.Close)
	return &testServer{Server: ts, rig: fr, bus: bus}
}

func (ts *testServer) do(t *testing.T, method, path string, auth bool) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, ts.URL+path, nil)
	if err != nil {
		t.Fatal(err)
	}
	if auth {
		req.SetBasicAuth("test", "test")
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatal(err)
	}
}

func TestHealthNeedsNoAuth(t *testing.T) {
	ts := newTestServer(t)
	resp := ts.do(t, http.MethodGet, "/api/health", false)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}

func TestAuth(t *testing.T) {
	ts := newTestServer(t)

	if resp := ts.do(t, http.MethodGet, "/api/status", false); resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("without credentials: %d", resp.StatusCode)
	}

	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/api/status", nil)
	req.SetBasicAuth("test", "wrong")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("wrong password: %d", resp.StatusCode)
	}

	query := "/api/status?auth=" + base64.StdEncoding.EncodeToString([]byte("test:test"))
	if resp := ts.do(t, http.MethodGet, query, false); resp.StatusCode != http.StatusOK {
		t.Errorf("query credentials: %d", resp.StatusCode)
	}
}

func TestStatus(t *testing.T) {
	ts := newTestServer(t)
	resp := ts.do(t, http.MethodGet, "/api/status", true)
	var st rig.Status
	decode(t, resp, &st)
	if st.Session != "test-session" || st.Subject != "Charlie" {
		t.Errorf("status = %+v", st)
	}
}

func TestIssueCommand(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.do(t, http.MethodPost, "/api/commands/begin-streaming", true)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var body struct{ Command, Source string }
	decode(t, resp, &body)
	if body.Command != "begin_streaming" || body.Source != "api" {
		t.Errorf("body = %+v", body)
	}

	if resp := ts.do(t, http.MethodPost, "/api/commands/self_destruct", true); resp.StatusCode != http.StatusBadRequest {
		t.Errorf("unknown command: %d", resp.StatusCode)
	}

	ts.rig.mu.Lock()
	defer ts.rig.mu.Unlock()
	if len(ts.rig.commands) != 1 || ts.rig.commands[0] != command.BeginStreaming {
		t.Errorf("dispatched %v", ts.rig.commands)
	}
}

func TestTapButton(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.do(t, http.MethodPost, "/api/buttons/left_shoulder", true)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var body struct{ Button, Command string }
	decode(t, resp, &body)
	if body.Button != "left_shoulder" || body.Command != "begin_streaming" {
		t.Errorf("body = %+v", body)
	}

	if resp := ts.do(t, http.MethodPost, "/api/buttons/turbo", true); resp.StatusCode != http.StatusBadRequest {
		t.Errorf("unknown button: %d", resp.StatusCode)
	}

	ts.rig.mu.Lock()
	defer ts.rig.mu.Unlock()
	if len(ts.rig.taps) != 1 || ts.rig.taps[0] != input.LeftShoulder {
		t.Errorf("taps = %v", ts.rig.taps)
	}
}

func TestBindingsAndCommands(t *testing.T) {
	ts := newTestServer(t)

	var bindings struct {
		Bindings []struct{ Button, Command string }
	}
	decode(t, ts.do(t, http.MethodGet, "/api/bindings", true), &bindings)
	if len(bindings.Bindings) != 1 || bindings.Bindings[0].Button != "left_shoulder" {
		t.Errorf("bindings = %+v", bindings)
	}

	var list struct{ Commands []string }
	decode(t, ts.do(t, http.MethodGet, "/api/commands", true), &list)
	if len(list.Commands) != len(command.All()) || list.Commands[len(list.Commands)-1] != "exit" {
		t.Errorf("commands = %v", list.Commands)
	}
}

func TestPreview(t *testing.T) {
	ts := newTestServer(t)

	if resp := ts.do(t, http.MethodGet, "/api/preview/raw.jpg", true); resp.StatusCode != http.StatusNotFound {
		t.Fatalf("before first frame: %d", resp.StatusCode)
	}

	ts.rig.preview.Render(merge.Output{
		Raw:  frame.New(4, 4, bytes.Repeat([]byte{200}, 16), nil),
		Mask: frame.New(4, 4, make([]byte, 16), nil),
	})

	for _, path := range []string{"/api/preview/raw.jpg", "/api/preview/mask.jpg"} {
		resp := ts.do(t, http.MethodGet, path, true)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("%s: %d", path, resp.StatusCode)
		}
		if ct := resp.Header.Get("Content-Type"); ct != "image/jpeg" {
			t.Errorf("%s content type = %s", path, ct)
		}
		img, err := jpeg.Decode(resp.Body)
		if err != nil {
			t.Fatalf("%s: %v", path, err)
		}
		if b := img.Bounds(); b.Dx() != 4 || b.Dy() != 4 {
			t.Errorf("%s bounds = %v", path, b)
		}
	}
}

func TestMetricsAndCORS(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.do(t, http.MethodGet, "/metrics", false)
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(body), "# metrics") {
		t.Errorf("metrics: %d %q", resp.StatusCode, body)
	}

	resp = ts.do(t, http.MethodOptions, "/api/status", false)
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("preflight: %d", resp.StatusCode)
	}
	if resp.Header.Get("Access-Control-Allow-Origin") != "*" {
		t.Error("missing CORS header")
	}
}

func TestFilterLogs(t *testing.T) {
	cam0, cam1 := 0, 1
	entries := []logging.LogEntry{
		{Module: "camera", Camera: &cam0, Level: "debug", Message: "a"},
		{Module: "camera", Camera: &cam1, Level: "warn", Message: "b"},
		{Module: "merge", Level: "error", Message: "c"},
		{Module: "camera", Camera: &cam1, Level: "error", Message: "d"},
	}

	tests := []struct {
		module string
		camera int
		level  string
		limit  int
		want   string
	}{
		{"", -1, "", 0, "abcd"},
		{"camera", -1, "", 0, "abd"},
		{"", -1, "warn", 0, "bcd"},
		{"camera", -1, "warn", 1, "d"},
		{"", 0, "", 0, "a"},
		{"", 1, "error", 0, "d"},
	}
	for _, tt := range tests {
		var got string
		for _, e := range filterLogs(entries, tt.module, tt.camera, tt.level, tt.limit) {
			got += e.Message
		}
		if got != tt.want {
			t.Errorf("filterLogs(%q, %d, %q, %d) = %q, want %q", tt.module, tt.camera, tt.level, tt.limit, got, tt.want)
		}
	}
}

func TestEventStream(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.do(t, http.MethodGet, "/api/events", true)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.Contains(ct, "text/event-stream") {
		t.Fatalf("content type = %s", ct)
	}

	lines := make(chan string, 16)
	go func() {
		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
	}()

	// The handler subscribes after the response starts; publish until the
	// stream picks the event up.
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		ticker := time.NewTicker(10 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				ts.bus.Publish(events.CommandIssuedEvent{Command: "save_snapshot", Source: "api"})
			}
		}
	}()

	sawEventName := false
	timeout := time.After(2 * time.Second)
	for {
		select {
		case line, ok := <-lines:
			if !ok {
				t.Fatal("stream closed")
			}
			if line == "event: command-issued" {
				sawEventName = true
			}
			if strings.HasPrefix(line, "data:") && strings.Contains(line, "save_snapshot") {
				if !sawEventName {
					t.Error("data arrived without its event name")
				}
				return
			}
		case <-timeout:
			t.Fatal("no event received")
		}
	}
}

func TestStopBeforeStart(t *testing.T) {
	server := NewServer(&Options{Rig: &fakeRig{preview: display.NewLatest(80)}})
	if err := server.Stop(); err != nil {
		t.Fatal(err)
	}
	if err := server.Start("127.0.0.1:0"); !errors.Is(err, http.ErrServerClosed) {
		t.Errorf("Start after Stop = %v", err)
	}
}

func TestCORSOriginList(t *testing.T) {
	mux := http.NewServeMux()
	AddCORSHandler(mux, CORSConfig{
		AllowOrigins: []string{"http://console.local"},
		AllowMethods: []string{"GET"},
	})

	for origin, want := range map[string]string{
		"http://console.local": "http://console.local",
		"http://elsewhere":     "",
	} {
		req := httptest.NewRequest(http.MethodOptions, "/api/status", nil)
		req.Header.Set("Origin", origin)
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, req)
		if got := rec.Header().Get("Access-Control-Allow-Origin"); got != want {
			t.Errorf("origin %s: allow-origin = %q, want %q", origin, got, want)
		}
	}
}
