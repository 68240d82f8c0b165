package encode

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"
)

// Transport creates byte-stream endpoints an encoder process reads from.
type Transport interface {
	Listen(name string) (Endpoint, error)
}

// Endpoint is one listening transport endpoint.
type Endpoint interface {
	// Address is what the encoder is told to read from.
	Address() string
	// Accept blocks until the encoder connects or ctx is done.
	Accept(ctx context.Context) (io.WriteCloser, error)
	// Close removes the endpoint. The accepted writer is closed separately.
	Close() error
}

// FIFOTransport serves frames over named pipes created in Dir.
type FIFOTransport struct {
	Dir string
}

// Listen creates the named pipe Dir/name, replacing a stale one.
func (t FIFOTransport) Listen(name string) (Endpoint, error) {
	dir := t.Dir
	if dir == "" {
		dir = os.TempDir()
	}
	path := filepath.Join(dir, name)

	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("remove stale pipe: %w", err)
	}
	if err := unix.Mkfifo(path, 0o600); err != nil {
		return nil, fmt.Errorf("mkfifo %s: %w", path, err)
	}
	return &fifoEndpoint{path: path}, nil
}

type fifoEndpoint struct {
	path string
}

func (e *fifoEndpoint) Address() string {
	return e.path
}

// Accept opens the write end, which blocks until a reader opens the pipe.
// On cancellation the pipe is opened for reading here to release the
// blocked open.
func (e *fifoEndpoint) Accept(ctx context.Context) (io.WriteCloser, error) {
	type result struct {
		f   *os.File
		err error
	}
	opened := make(chan result, 1)
	go func() {
		f, err := os.OpenFile(e.path, os.O_WRONLY, 0)
		opened <- result{f, err}
	}()

	select {
	case r := <-opened:
		if r.err != nil {
			return nil, fmt.Errorf("open %s: %w", e.path, r.err)
		}
		return r.f, nil
	case <-ctx.Done():
		reader, err := os.OpenFile(e.path, os.O_RDONLY|unix.O_NONBLOCK, 0)
		if err == nil {
			defer reader.Close()
		}
		if r := <-opened; r.f != nil {
			r.f.Close()
		}
		return nil, ctx.Err()
	}
}

func (e *fifoEndpoint) Close() error {
	if err := os.Remove(e.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
