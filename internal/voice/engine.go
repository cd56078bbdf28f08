// Package voice owns the microphone lifecycle: opening/closing the capture
// device in step with Mode, streaming PCM to a recognition backend, and
// reporting transcripts and failures back onto the bus. The wire protocol
// to that backend is explicitly out of scope (spec non-goal); Engine is
// the interface boundary a real backend plugs into.
package voice

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Result is what one recognition turn produced.
type Result struct {
	Transcript    string
	Confidence    float64
	AudioDevice   string
	BytesCaptured int64
	Latency       time.Duration
}

// Engine is the remote-recognition collaborator. A concrete
// implementation dials whatever inference backend is configured and
// streams audio to it; this package only depends on the interface.
type Engine interface {
	// Start begins a recognition turn for session and returns a channel the
	// coordinator should feed raw PCM chunks into, closing it to signal
	// end-of-audio.
	Start(ctx context.Context, session uuid.UUID) (chunks chan<- []byte, err error)
	// Collect blocks until the backend has produced a final transcript for
	// the turn started by the most recent Start.
	Collect(ctx context.Context) (Result, error)
	// Cancel aborts the in-flight turn without waiting for a transcript.
	Cancel(ctx context.Context) error
}

// ErrEngineUnavailable is returned by NullEngine, the default Engine used
// when no recognition backend is configured.
var ErrEngineUnavailable = engineUnavailableError{}

type engineUnavailableError struct{}

func (engineUnavailableError) Error() string { return "voice: recognition engine not configured" }

// NullEngine rejects every turn. It exists so the daemon still starts
// (and exercises the rest of the mode/interrupt/playback machinery) when
// no backend is wired yet.
type NullEngine struct{}

func (NullEngine) Start(context.Context, uuid.UUID) (chan<- []byte, error) {
	return nil, ErrEngineUnavailable
}
func (NullEngine) Collect(context.Context) (Result, error) { return Result{}, ErrEngineUnavailable }
func (NullEngine) Cancel(context.Context) error             { return nil }
