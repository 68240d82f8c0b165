package encode

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/smazurov/fetchrig/internal/metrics"
)

// ProgressCollector receives ffmpeg -progress reports for one camera over a
// unix socket and publishes them as encoder metrics. ffmpeg connects once
// per recording; the collector outlives recordings.
type ProgressCollector struct {
	camera     int
	socketPath string
	logger     *slog.Logger

	mu       sync.Mutex
	listener net.Listener
	conns    map[net.Conn]struct{}
	stopped  bool
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewProgressCollector creates a collector for camera listening on
// socketPath.
func NewProgressCollector(camera int, socketPath string, logger *slog.Logger) *ProgressCollector {
	return &ProgressCollector{
		camera:     camera,
		socketPath: socketPath,
		logger:     logger.With("camera", camera),
		conns:      make(map[net.Conn]struct{}),
	}
}

// URL is the -progress target handed to ffmpeg.
func (c *ProgressCollector) URL() string {
	return "unix://" + c.socketPath
}

// Start listens on the socket, replacing a stale one.
func (c *ProgressCollector) Start() error {
	if err := os.Remove(c.socketPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove stale progress socket: %w", err)
	}
	listener, err := net.Listen("unix", c.socketPath)
	if err != nil {
		return fmt.Errorf("listen on progress socket: %w", err)
	}

	c.mu.Lock()
	c.listener = listener
	c.mu.Unlock()

	c.wg.Add(1)
	go c.accept(listener)
	return nil
}

// Stop closes the socket and any open report stream, then waits for the
// handlers.
func (c *ProgressCollector) Stop() {
	c.stopOnce.Do(func() {
		c.mu.Lock()
		c.stopped = true
		if c.listener != nil {
			c.listener.Close()
		}
		for conn := range c.conns {
			conn.Close()
		}
		c.mu.Unlock()

		c.wg.Wait()
		os.Remove(c.socketPath)
		metrics.DeleteEncoderProgress(c.camera)
	})
}

func (c *ProgressCollector) accept(listener net.Listener) {
	defer c.wg.Done()
	for {
		conn, err := listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			c.logger.Warn("Error accepting progress connection", "error", err)
			continue
		}

		c.mu.Lock()
		if c.stopped {
			c.mu.Unlock()
			conn.Close()
			return
		}
		c.conns[conn] = struct{}{}
		c.mu.Unlock()

		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			c.handle(conn)

			c.mu.Lock()
			delete(c.conns, conn)
			c.mu.Unlock()
		}()
	}
}

// handle reads key=value lines. Each report ends with a progress= line whose
// value is "end" for the last one.
func (c *ProgressCollector) handle(conn net.Conn) {
	defer conn.Close()
	defer metrics.DeleteEncoderProgress(c.camera)

	report := make(map[string]string)
	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		key, value, ok := strings.Cut(strings.TrimSpace(scanner.Text()), "=")
		if !ok {
			continue
		}
		key, value = strings.TrimSpace(key), strings.TrimSpace(value)
		if key != "progress" {
			report[key] = value
			continue
		}

		metrics.SetEncoderProgress(c.camera, ParseProgress(report))
		if value == "end" {
			c.logger.Debug("Encoder progress ended", "frames", report["frame"])
			return
		}
		report = make(map[string]string)
	}
}

// ParseProgress converts one ffmpeg progress report. Fields ffmpeg reports as
// N/A stay zero.
func ParseProgress(report map[string]string) metrics.EncoderProgress {
	var p metrics.EncoderProgress
	p.Frames, _ = strconv.ParseInt(report["frame"], 10, 64)
	p.FPS, _ = strconv.ParseFloat(report["fps"], 64)
	p.DroppedFrames, _ = strconv.ParseInt(report["drop_frames"], 10, 64)
	p.DuplicateFrames, _ = strconv.ParseInt(report["dup_frames"], 10, 64)
	p.Speed, _ = strconv.ParseFloat(strings.TrimSuffix(report["speed"], "x"), 64)
	return p
}
