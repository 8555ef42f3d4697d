package interactions

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"
)

// Body ingestion ceilings for interaction callbacks.
const (
	MaxBodyBytes   = 64 << 10
	MaxBodyLatency = 10 * time.Second
)

var (
	// ErrBodyTooLarge means the body exceeded the byte ceiling.
	ErrBodyTooLarge = errors.New("interactions: request body too large")
	// ErrBodyTimeout means the body did not arrive within the time ceiling.
	ErrBodyTimeout = errors.New("interactions: request body read timed out")
)

// BodyLimits bounds a single body read.
type BodyLimits struct {
	MaxBytes int64
	Timeout  time.Duration
}

// DefaultBodyLimits returns the 64 KiB / 10 s ceilings.
func DefaultBodyLimits() BodyLimits {
	return BodyLimits{MaxBytes: MaxBodyBytes, Timeout: MaxBodyLatency}
}

type chunk struct {
	data []byte
	err  error
}

// ReadBounded reads r to EOF under limits. declared is the Content-Length the
// client announced, or -1 when unknown; a declared length above the ceiling
// fails without touching r. On any failure no partial body is returned.
//
// The read runs on its own goroutine so the timeout holds even when r blocks;
// callers must tear down the connection after ErrBodyTimeout so that goroutine
// unblocks.
func ReadBounded(ctx context.Context, r io.Reader, declared int64, limits BodyLimits) ([]byte, error) {
	if limits.MaxBytes <= 0 {
		limits.MaxBytes = MaxBodyBytes
	}
	if limits.Timeout <= 0 {
		limits.Timeout = MaxBodyLatency
	}
	if declared > limits.MaxBytes {
		return nil, fmt.Errorf("%w: declared %d bytes, limit %d", ErrBodyTooLarge, declared, limits.MaxBytes)
	}

	chunks := make(chan chunk, 1)
	stop := make(chan struct{})
	defer close(stop)

	go func() {
		for {
			buf := make([]byte, 4096)
			n, err := r.Read(buf)
			select {
			case chunks <- chunk{data: buf[:n], err: err}:
			case <-stop:
				return
			}
			if err != nil {
				return
			}
		}
	}()

	timer := time.NewTimer(limits.Timeout)
	defer timer.Stop()

	var body bytes.Buffer
	for {
		select {
		case c := <-chunks:
			if int64(body.Len()+len(c.data)) > limits.MaxBytes {
				return nil, fmt.Errorf("%w: limit %d bytes", ErrBodyTooLarge, limits.MaxBytes)
			}
			body.Write(c.data)
			if errors.Is(c.err, io.EOF) {
				return body.Bytes(), nil
			}
			if c.err != nil {
				return nil, fmt.Errorf("interactions: read body: %w", c.err)
			}
		case <-timer.C:
			return nil, fmt.Errorf("%w: after %s", ErrBodyTimeout, limits.Timeout)
		case <-ctx.Done():
			return nil, fmt.Errorf("interactions: read body: %w", ctx.Err())
		}
	}
}
