package relay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/pborenstein/apantli/internal/config"
	"github.com/pborenstein/apantli/internal/executor"
	"github.com/pborenstein/apantli/internal/resolver"
)

// fakeStream serves scripted chunks, then a terminal error.
type fakeStream struct {
	chunks   [][]byte
	terminal error
	pulls    int

	// onPull runs after serving the n-th chunk (1-based).
	onPull func(n int)
}

func (f *fakeStream) Next() ([]byte, error) {
	f.pulls++
	if f.pulls > len(f.chunks) {
		if f.terminal != nil {
			return nil, f.terminal
		}
		return nil, io.EOF
	}
	chunk := f.chunks[f.pulls-1]
	if f.onPull != nil {
		f.onPull(f.pulls)
	}
	return chunk, nil
}

func (f *fakeStream) Close() error { return nil }

func chunkJSON(i int, text string) []byte {
	return []byte(fmt.Sprintf(`{"id":"c-1","choices":[{"delta":{"content":"%s"},"index":%d}]}`, text, i))
}

func testAccumulator() *executor.StreamAccumulator {
	res := &resolver.Resolved{
		Alias:   "m",
		Profile: &config.ModelProfile{Alias: "m", Model: "openai/gpt-4o"},
	}
	return executor.NewStreamAccumulator(res, time.Now())
}

func TestRunCompletes(t *testing.T) {
	stream := &fakeStream{chunks: [][]byte{chunkJSON(0, "hel"), chunkJSON(1, "lo")}}
	rec := httptest.NewRecorder()
	acc := testAccumulator()

	result := Run(context.Background(), rec, stream, acc)
	if result.State != StateCompleted {
		t.Fatalf("state = %v, want completed", result.State)
	}
	if result.Chunks != 2 {
		t.Errorf("chunks = %d, want 2", result.Chunks)
	}
	body := rec.Body.String()
	if strings.Count(body, "data: ") != 3 {
		t.Errorf("expected 2 chunk frames plus [DONE], got body:\n%s", body)
	}
	if !strings.HasSuffix(body, "data: [DONE]\n\n") {
		t.Errorf("stream should end with [DONE], got:\n%s", body)
	}
	if acc.Content() != "hello" {
		t.Errorf("accumulated content = %q", acc.Content())
	}
}

func TestRunClientDisconnectStopsPulling(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	stream := &fakeStream{
		chunks: [][]byte{
			chunkJSON(0, "a"), chunkJSON(0, "b"), chunkJSON(0, "c"),
			chunkJSON(0, "d"), chunkJSON(0, "e"), chunkJSON(0, "f"),
			chunkJSON(0, "g"), chunkJSON(0, "h"), chunkJSON(0, "i"),
			chunkJSON(0, "j"),
		},
		onPull: func(n int) {
			if n == 3 {
				cancel()
			}
		},
	}
	rec := httptest.NewRecorder()
	acc := testAccumulator()

	result := Run(ctx, rec, stream, acc)
	if result.State != StateDisconnected {
		t.Fatalf("state = %v, want disconnected", result.State)
	}
	if stream.pulls != 3 {
		t.Errorf("pulls = %d, want exactly 3 (no pulls after disconnect)", stream.pulls)
	}
	if result.Chunks != 3 {
		t.Errorf("chunks = %d, want 3", result.Chunks)
	}
	if acc.Content() != "abc" {
		t.Errorf("accumulated content = %q, want what the client was sent", acc.Content())
	}
	if strings.Contains(rec.Body.String(), "[DONE]") {
		t.Error("disconnected stream must not get a [DONE] frame")
	}
}

func TestRunUpstreamFailure(t *testing.T) {
	stream := &fakeStream{
		chunks:   [][]byte{chunkJSON(0, "par"), chunkJSON(0, "tial")},
		terminal: errors.New("upstream went sideways"),
	}
	rec := httptest.NewRecorder()
	acc := testAccumulator()

	result := Run(context.Background(), rec, stream, acc)
	if result.State != StateFailed {
		t.Fatalf("state = %v, want failed", result.State)
	}
	if result.Err == nil {
		t.Fatal("failed result must carry the cause")
	}
	body := rec.Body.String()
	if !strings.Contains(body, `"type":"api_error"`) {
		t.Errorf("client should receive an error event, got:\n%s", body)
	}
	if !strings.HasSuffix(body, "data: [DONE]\n\n") {
		t.Errorf("error event should be followed by [DONE], got:\n%s", body)
	}
	if acc.Content() != "partial" {
		t.Errorf("accumulated content = %q", acc.Content())
	}
}

// failingWriter drops the connection after a number of writes.
type failingWriter struct {
	http.ResponseWriter
	remaining int
}

func (w *failingWriter) Write(p []byte) (int, error) {
	if w.remaining <= 0 {
		return 0, errors.New("write tcp: broken pipe")
	}
	w.remaining--
	return w.ResponseWriter.Write(p)
}

func TestRunWriteFailureIsDisconnect(t *testing.T) {
	stream := &fakeStream{chunks: [][]byte{chunkJSON(0, "a"), chunkJSON(0, "b"), chunkJSON(0, "c")}}
	rec := httptest.NewRecorder()
	w := &failingWriter{ResponseWriter: rec, remaining: 1}
	acc := testAccumulator()

	result := Run(context.Background(), w, stream, acc)
	if result.State != StateDisconnected {
		t.Fatalf("state = %v, want disconnected", result.State)
	}
	if stream.pulls != 2 {
		t.Errorf("pulls = %d, want 2 (second write fails)", stream.pulls)
	}
}
