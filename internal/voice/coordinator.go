package voice

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/rbright/sottod/internal/audio"
	"github.com/rbright/sottod/internal/bus"
	"github.com/rbright/sottod/internal/mode"
	"github.com/rbright/sottod/internal/state"
	"github.com/rbright/sottod/internal/telemetry"
)

// Config carries the device preferences the capture layer resolves
// against live Pulse sources.
type Config struct {
	InputDevice    string
	FallbackDevice string
}

// RecordingStartPayload is the voice.recording_start event contract:
// published by the PTT translator once a press is confirmed long enough
// to open the microphone.
type RecordingStartPayload struct {
	Session   uuid.UUID
	Source    string
	Timestamp time.Time
}

func (p RecordingStartPayload) SessionID() uuid.UUID { return p.Session }

// RecordingStopPayload is the voice.recording_stop event contract. Discard
// marks a hold that never reached the minimum recording duration — the
// coordinator closes the mic but never hands the turn to recognition.
type RecordingStopPayload struct {
	Session   uuid.UUID
	Source    string
	Timestamp time.Time
	Duration  time.Duration
	Discard   bool
}

func (p RecordingStopPayload) SessionID() uuid.UUID { return p.Session }

// MicOpenedPayload is the voice.mic_opened event contract.
type MicOpenedPayload struct{ Session uuid.UUID }

func (p MicOpenedPayload) SessionID() uuid.UUID { return p.Session }

// MicClosedPayload is the voice.mic_closed event contract.
type MicClosedPayload struct{ Session uuid.UUID }

func (p MicClosedPayload) SessionID() uuid.UUID { return p.Session }

// RecognitionStartedPayload is the voice.recognition_started event
// contract, published once the engine has accepted the turn and audio is
// actively streaming to it.
type RecognitionStartedPayload struct{ Session uuid.UUID }

func (p RecognitionStartedPayload) SessionID() uuid.UUID { return p.Session }

// RecognitionCompletedPayload is the voice.recognition_completed event
// contract: the shape a real recognition backend's final transcript
// arrives in, regardless of wire protocol.
type RecognitionCompletedPayload struct {
	Session    uuid.UUID
	Text       string
	Confidence float64
	Latency    time.Duration
}

func (p RecognitionCompletedPayload) SessionID() uuid.UUID { return p.Session }

// TranscriptText satisfies the interface the notifier uses to pick the
// committed text out of any payload shape without importing this package.
func (p RecognitionCompletedPayload) TranscriptText() string { return p.Text }

// RecognitionFailedPayload is the voice.recognition_failed event contract.
type RecognitionFailedPayload struct {
	Session uuid.UUID
	Reason  string
}

func (p RecognitionFailedPayload) SessionID() uuid.UUID { return p.Session }

// RecognitionTimeoutPayload is the voice.recognition_timeout event
// contract: the engine never produced a final transcript within the
// collect deadline.
type RecognitionTimeoutPayload struct{ Session uuid.UUID }

func (p RecognitionTimeoutPayload) SessionID() uuid.UUID { return p.Session }

// Coordinator opens the microphone on voice.recording_start, streams
// captured audio to Engine, and commits or fails the turn on
// voice.recording_stop. It is the sole owner of audio.Capture's lifecycle.
type Coordinator struct {
	bus    *bus.Bus
	store  *state.Store
	engine Engine
	logger *slog.Logger
	cfg    Config

	mu         sync.Mutex
	capture    captureSource
	chunks     chan<- []byte
	session    uuid.UUID
	turnActive bool
	spans      map[uuid.UUID]trace.Span

	// openCapture is overridden in tests to avoid touching a real audio
	// server; production callers get defaultOpenCapture.
	openCapture func(ctx context.Context, cfg Config, session uuid.UUID) (captureSource, error)

	// collectTimeout bounds how long finishTurn waits for Engine.Collect
	// before reporting voice.recognition_timeout. Defaults to
	// defaultCollectTimeout; tests shrink it to exercise the timeout path.
	collectTimeout time.Duration
}

const defaultCollectTimeout = 20 * time.Second

// captureSource is the subset of audio.Capture the coordinator depends on,
// narrowed to an interface so tests can substitute a fake device.
// Implementations may optionally satisfy speechDetector; fakes that don't
// skip the no-speech fast-fail path entirely.
type captureSource interface {
	Chunks() <-chan []byte
	Stop() error
}

type speechDetector interface {
	SpeechDetected() bool
}

// New constructs a Coordinator and subscribes it to the recording
// lifecycle events the PTT translator publishes.
func New(b *bus.Bus, store *state.Store, engine Engine, logger *slog.Logger, cfg Config) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	if engine == nil {
		engine = NullEngine{}
	}
	c := &Coordinator{
		bus: b, store: store, engine: engine, logger: logger, cfg: cfg,
		openCapture:    defaultOpenCapture,
		spans:          make(map[uuid.UUID]trace.Span),
		collectTimeout: defaultCollectTimeout,
	}
	b.Subscribe("voice.recording_start", bus.PriorityHigh, c.handleRecordingStart)
	b.Subscribe("voice.recording_stop", bus.PriorityHigh, c.handleRecordingStop)
	b.Subscribe("keyboard.short_press", bus.PriorityHigh, c.handleShortPress)
	return c
}

func defaultOpenCapture(ctx context.Context, cfg Config, session uuid.UUID) (captureSource, error) {
	selection, err := audio.SelectDevice(ctx, cfg.InputDevice, cfg.FallbackDevice)
	if err != nil {
		return nil, err
	}
	return audio.StartCapture(ctx, selection.Device, session)
}

func (c *Coordinator) handleRecordingStart(ctx context.Context, evt bus.Event) {
	payload, ok := evt.Data.(RecordingStartPayload)
	if !ok {
		return
	}
	c.startCapture(ctx, payload.Session)
}

func (c *Coordinator) handleRecordingStop(ctx context.Context, evt bus.Event) {
	payload, ok := evt.Data.(RecordingStopPayload)
	if !ok {
		return
	}
	c.finishTurn(ctx, payload.Session, payload.Discard)
}

// handleShortPress cancels an in-flight turn for the tapped session. Under
// the translator's own dedup (LONG_PRESS is suppressed once a RELEASE has
// already marked the press pending-cancelled) this session will almost
// never have an active turn; it is kept as a defensive guard against the
// race the spec names rather than something normal operation relies on.
func (c *Coordinator) handleShortPress(ctx context.Context, evt bus.Event) {
	payload, ok := evt.Data.(interface{ SessionID() uuid.UUID })
	if !ok {
		return
	}
	c.mu.Lock()
	active := c.turnActive && c.session == payload.SessionID()
	c.mu.Unlock()
	if active {
		c.abortTurn(ctx)
	}
}

func (c *Coordinator) startCapture(ctx context.Context, session uuid.UUID) {
	c.mu.Lock()
	if c.turnActive {
		c.mu.Unlock()
		return
	}
	c.turnActive = true
	c.session = session
	spanCtx, span := telemetry.StartSpan(ctx, "voice.session",
		trace.WithAttributes(attribute.String("session", session.String())))
	c.spans[session] = span
	c.mu.Unlock()
	ctx = spanCtx

	capture, err := c.openCapture(ctx, c.cfg, session)
	if err != nil {
		c.store.SetDeviceInput(state.DeviceInputBusy)
		c.failTurn(ctx, session, err)
		return
	}
	c.store.SetDeviceInput(state.DeviceInputOK)
	c.bus.Publish(ctx, "voice.mic_opened", MicOpenedPayload{Session: session})

	chunks, err := c.engine.Start(ctx, session)
	if err != nil {
		_ = capture.Stop()
		c.failTurn(ctx, session, err)
		return
	}

	c.mu.Lock()
	c.capture = capture
	c.chunks = chunks
	c.mu.Unlock()

	c.bus.Publish(ctx, "voice.recognition_started", RecognitionStartedPayload{Session: session})
	go c.pumpCapture(capture, chunks)
}

// pumpCapture forwards PCM chunks to the engine until capture stops.
func (c *Coordinator) pumpCapture(capture captureSource, chunks chan<- []byte) {
	defer close(chunks)
	for chunk := range capture.Chunks() {
		if len(chunk) == 0 {
			continue
		}
		select {
		case chunks <- chunk:
		default:
			// Backend is behind; drop this (newest) chunk rather than block
			// capture, favoring continuity over completeness, matching the
			// teacher's buffered-chunk capture channel.
			telemetry.Default().RecordDroppedAudioChunk(context.Background())
		}
	}
}

// finishTurn stops capture and closes the mic synchronously — by the time
// this returns, voice.mic_closed is already in the bus's history, which is
// what lets the PTT translator request PROCESSING immediately after
// publishing voice.recording_stop without a separate wait/timeout. The
// recognition result itself still resolves asynchronously.
func (c *Coordinator) finishTurn(ctx context.Context, session uuid.UUID, discard bool) {
	c.mu.Lock()
	capture := c.capture
	active := c.turnActive
	c.capture = nil
	c.chunks = nil
	c.mu.Unlock()

	if !active || capture == nil {
		return
	}

	_ = capture.Stop()
	c.bus.Publish(ctx, "voice.mic_closed", MicClosedPayload{Session: session})

	if discard {
		c.mu.Lock()
		c.turnActive = false
		c.mu.Unlock()
		c.endSpan(session, errors.New("discarded: below minimum recording duration"))
		return
	}

	noSpeech := false
	if sd, ok := capture.(speechDetector); ok && !sd.SpeechDetected() {
		noSpeech = true
	}

	go func() {
		if noSpeech {
			c.mu.Lock()
			c.turnActive = false
			c.mu.Unlock()
			c.failTurn(context.Background(), session, errors.New("no speech detected"))
			return
		}

		collectCtx, cancel := context.WithTimeout(context.Background(), c.collectTimeout)
		defer cancel()
		result, err := c.engine.Collect(collectCtx)
		c.mu.Lock()
		c.turnActive = false
		c.mu.Unlock()

		if errors.Is(collectCtx.Err(), context.DeadlineExceeded) {
			c.logger.Warn("voice: recognition timed out", "session", session)
			c.bus.Publish(context.Background(), "voice.recognition_timeout", RecognitionTimeoutPayload{Session: session})
			c.endSpan(session, errors.New("recognition timeout"))
			c.requestSleep(session, "processing_completed")
			return
		}
		if err != nil {
			c.failTurn(context.Background(), session, err)
			return
		}
		if strings.TrimSpace(result.Transcript) == "" {
			c.failTurn(context.Background(), session, errors.New("empty transcript"))
			return
		}

		telemetry.Default().RecordRecognitionLatency(context.Background(), result.Latency.Seconds())
		c.bus.Publish(context.Background(), "voice.recognition_completed", RecognitionCompletedPayload{
			Session:    session,
			Text:       result.Transcript,
			Confidence: result.Confidence,
			Latency:    result.Latency,
		})
		c.endSpan(session, nil)
		c.requestSleep(session, "processing_completed")
	}()
}

func (c *Coordinator) abortTurn(ctx context.Context) {
	c.mu.Lock()
	capture := c.capture
	active := c.turnActive
	turnSession := c.session
	c.capture = nil
	c.chunks = nil
	c.turnActive = false
	c.mu.Unlock()

	if !active {
		return
	}
	if capture != nil {
		_ = capture.Stop()
	}
	_ = c.engine.Cancel(ctx)
	c.endSpan(turnSession, errors.New("aborted"))
}

func (c *Coordinator) failTurn(ctx context.Context, session uuid.UUID, err error) {
	c.mu.Lock()
	c.turnActive = false
	c.mu.Unlock()

	c.logger.Warn("voice: turn failed", "session", session, "error", err)
	c.bus.Publish(ctx, "voice.recognition_failed", RecognitionFailedPayload{Session: session, Reason: err.Error()})
	c.endSpan(session, err)
	c.requestSleep(session, "processing_completed")
}

// endSpan closes the per-session span opened in startCapture, recording
// err on it when the turn did not end in a successful transcript.
func (c *Coordinator) endSpan(session uuid.UUID, err error) {
	c.mu.Lock()
	span, ok := c.spans[session]
	if ok {
		delete(c.spans, session)
	}
	c.mu.Unlock()
	if !ok {
		return
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func (c *Coordinator) requestSleep(session uuid.UUID, source string) {
	c.bus.Publish(context.Background(), "mode.request", mode.RequestPayload{
		Target:  string(state.ModeSleeping),
		Source:  source,
		Session: &session,
	})
}
