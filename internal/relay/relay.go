// Package relay pumps upstream SSE chunks to a connected client and
// tracks which side ended the stream.
package relay

import (
	"context"
	"io"
	"net/http"

	"github.com/bytedance/sonic"

	"github.com/pborenstein/apantli/internal/apperr"
	"github.com/pborenstein/apantli/internal/executor"
	log "github.com/pborenstein/apantli/internal/logging"
	"github.com/pborenstein/apantli/internal/provider"
)

// State is the terminal state of a relay session.
type State int

const (
	// StateCompleted: the upstream finished the stream normally.
	StateCompleted State = iota
	// StateDisconnected: the client went away mid-stream. Not a failure;
	// whatever had accumulated still gets accounted.
	StateDisconnected
	// StateFailed: the upstream broke mid-stream.
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateCompleted:
		return "completed"
	case StateDisconnected:
		return "disconnected"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}

// Result describes how a relay session ended.
type Result struct {
	State State

	// Err is the upstream cause, set only for StateFailed.
	Err error

	// Chunks relayed to the client before the terminal state.
	Chunks int
}

var (
	sseDataPrefix = []byte("data: ")
	sseSuffix     = []byte("\n\n")
	sseDone       = []byte("data: [DONE]\n\n")
)

// Run relays chunks from stream to w until one side ends the session.
// Client disconnect is checked before every upstream pull; once detected
// no further chunks are pulled. Each chunk is observed by acc before it
// is written, so the accumulator always reflects exactly what the client
// was sent. Run does not close the stream.
func Run(ctx context.Context, w http.ResponseWriter, stream provider.Stream, acc *executor.StreamAccumulator) Result {
	flusher, _ := w.(http.Flusher)

	disconnected := func(reason error) Result {
		log.Debugf("relay: client disconnected after %d chunk(s): %v", acc.Chunks(), reason)
		return Result{State: StateDisconnected, Chunks: acc.Chunks()}
	}

	for {
		// Poll for disconnect before committing to another pull.
		if err := ctx.Err(); err != nil {
			return disconnected(err)
		}

		chunk, err := stream.Next()
		if err != nil {
			if err == io.EOF {
				if werr := writeFrame(w, flusher, sseDone); werr != nil {
					return disconnected(werr)
				}
				return Result{State: StateCompleted, Chunks: acc.Chunks()}
			}
			if apperr.IsClientDisconnect(err) || ctx.Err() != nil {
				return disconnected(err)
			}
			// Upstream broke. Tell the client before ending the stream.
			cls := apperr.Classify(err)
			if payload, merr := sonic.Marshal(cls.Body()); merr == nil {
				frame := append(append(append([]byte{}, sseDataPrefix...), payload...), sseSuffix...)
				if werr := writeFrame(w, flusher, frame); werr == nil {
					_ = writeFrame(w, flusher, sseDone)
				}
			}
			return Result{State: StateFailed, Err: err, Chunks: acc.Chunks()}
		}

		acc.Observe(chunk)

		frame := make([]byte, 0, len(sseDataPrefix)+len(chunk)+len(sseSuffix))
		frame = append(frame, sseDataPrefix...)
		frame = append(frame, chunk...)
		frame = append(frame, sseSuffix...)
		if werr := writeFrame(w, flusher, frame); werr != nil {
			return disconnected(werr)
		}
	}
}

func writeFrame(w http.ResponseWriter, flusher http.Flusher, frame []byte) error {
	if _, err := w.Write(frame); err != nil {
		return err
	}
	if flusher != nil {
		flusher.Flush()
	}
	return nil
}
