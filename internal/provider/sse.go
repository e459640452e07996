package provider

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"sync"
)

const (
	// Chunks can carry large tool-call arguments in a single line.
	sseMaxLineSize    = 2 * 1024 * 1024
	sseInitialBufSize = 64 * 1024
)

var (
	dataPrefix = []byte("data:")
	doneMarker = []byte("[DONE]")
)

// sseStream scans an upstream SSE body into individual data payloads.
// Cancellation of ctx closes the body, unblocking any pending read.
type sseStream struct {
	body      io.ReadCloser
	scanner   *bufio.Scanner
	closeOnce sync.Once
	stop      func() bool
}

func newSSEStream(ctx context.Context, body io.ReadCloser) *sseStream {
	s := &sseStream{body: body}
	s.scanner = bufio.NewScanner(body)
	s.scanner.Buffer(make([]byte, sseInitialBufSize), sseMaxLineSize)
	s.stop = context.AfterFunc(ctx, func() { _ = s.Close() })
	return s
}

// Next returns the next data payload. io.EOF signals normal exhaustion,
// either via the [DONE] sentinel or the upstream closing the stream.
func (s *sseStream) Next() ([]byte, error) {
	for s.scanner.Scan() {
		line := bytes.TrimSpace(s.scanner.Bytes())
		if len(line) == 0 || !bytes.HasPrefix(line, dataPrefix) {
			continue
		}
		payload := bytes.TrimSpace(line[len(dataPrefix):])
		if len(payload) == 0 {
			continue
		}
		if bytes.Equal(payload, doneMarker) {
			return nil, io.EOF
		}
		// The scanner reuses its buffer across Scan calls.
		out := make([]byte, len(payload))
		copy(out, payload)
		return out, nil
	}
	if err := s.scanner.Err(); err != nil {
		return nil, err
	}
	return nil, io.EOF
}

// Close releases the upstream body. Safe to call multiple times.
func (s *sseStream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		if s.stop != nil {
			s.stop()
		}
		err = s.body.Close()
	})
	return err
}
