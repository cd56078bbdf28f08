package voice

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rbright/sottod/internal/bus"
	"github.com/rbright/sottod/internal/state"
)

type fakeCapture struct {
	ch      chan []byte
	stopped bool
}

func newFakeCapture() *fakeCapture { return &fakeCapture{ch: make(chan []byte, 4)} }

func (f *fakeCapture) Chunks() <-chan []byte { return f.ch }
func (f *fakeCapture) Stop() error {
	if !f.stopped {
		f.stopped = true
		close(f.ch)
	}
	return nil
}

type fakeEngine struct {
	result       Result
	startErr     error
	collectErr   error
	collectBlock chan struct{}
	started      chan struct{}
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{started: make(chan struct{}, 1)}
}

func (f *fakeEngine) Start(ctx context.Context, session uuid.UUID) (chan<- []byte, error) {
	if f.startErr != nil {
		return nil, f.startErr
	}
	ch := make(chan []byte, 16)
	go func() {
		for range ch {
		}
		select {
		case f.started <- struct{}{}:
		default:
		}
	}()
	return ch, nil
}

func (f *fakeEngine) Collect(ctx context.Context) (Result, error) {
	if f.collectBlock != nil {
		select {
		case <-f.collectBlock:
		case <-ctx.Done():
			return Result{}, ctx.Err()
		}
	}
	if f.collectErr != nil {
		return Result{}, f.collectErr
	}
	return f.result, nil
}

func (f *fakeEngine) Cancel(ctx context.Context) error { return nil }

func newHarness(engine *fakeEngine, capture *fakeCapture) (*bus.Bus, *state.Store, *Coordinator) {
	b := bus.New(nil)
	s := state.New(b)
	c := New(b, s, engine, nil, Config{})
	c.openCapture = func(ctx context.Context, cfg Config, session uuid.UUID) (captureSource, error) {
		return capture, nil
	}
	return b, s, c
}

func waitForType(b *bus.Bus, eventType string, within time.Duration) bool {
	deadline := time.Now().Add(within)
	for time.Now().Before(deadline) {
		for _, e := range b.History() {
			if e.Type == eventType {
				return true
			}
		}
		time.Sleep(time.Millisecond)
	}
	return false
}

func TestRecordingStartOpensCaptureAndRecordingStopCommitsTranscript(t *testing.T) {
	engine := newFakeEngine()
	engine.result = Result{Transcript: "hello there", Confidence: 0.92}
	capture := newFakeCapture()
	b, _, _ := newHarness(engine, capture)

	session := uuid.New()
	b.Publish(context.Background(), "voice.recording_start", RecordingStartPayload{Session: session})
	require.True(t, waitForType(b, "voice.mic_opened", time.Second))

	b.Publish(context.Background(), "voice.recording_stop", RecordingStopPayload{Session: session})
	require.True(t, waitForType(b, "voice.mic_closed", time.Second))
	require.True(t, waitForType(b, "voice.recognition_completed", 2*time.Second))

	var got RecognitionCompletedPayload
	for _, e := range b.History() {
		if e.Type == "voice.recognition_completed" {
			got = e.Data.(RecognitionCompletedPayload)
		}
	}
	assert.Equal(t, "hello there", got.Text)
	assert.Equal(t, 0.92, got.Confidence)
	assert.Equal(t, session, got.Session)
	assert.True(t, capture.stopped)
	assert.Contains(t, eventTypesFor(b), "voice.recognition_started")
}

func eventTypesFor(b *bus.Bus) []string {
	var out []string
	for _, e := range b.History() {
		out = append(out, e.Type)
	}
	return out
}

func TestCollectTimeoutPublishesRecognitionTimeout(t *testing.T) {
	engine := newFakeEngine()
	engine.collectBlock = make(chan struct{})
	capture := newFakeCapture()
	b, _, c := newHarness(engine, capture)
	c.collectTimeout = 20 * time.Millisecond

	session := uuid.New()
	b.Publish(context.Background(), "voice.recording_start", RecordingStartPayload{Session: session})
	require.True(t, waitForType(b, "voice.mic_opened", time.Second))

	b.Publish(context.Background(), "voice.recording_stop", RecordingStopPayload{Session: session})
	require.True(t, waitForType(b, "voice.recognition_timeout", time.Second))

	for _, e := range b.History() {
		assert.NotEqual(t, "voice.recognition_completed", e.Type)
		assert.NotEqual(t, "voice.recognition_failed", e.Type)
	}
}

func TestDiscardedStopClosesMicWithoutRecognizing(t *testing.T) {
	engine := newFakeEngine()
	capture := newFakeCapture()
	b, _, _ := newHarness(engine, capture)

	session := uuid.New()
	b.Publish(context.Background(), "voice.recording_start", RecordingStartPayload{Session: session})
	require.True(t, waitForType(b, "voice.mic_opened", time.Second))

	b.Publish(context.Background(), "voice.recording_stop", RecordingStopPayload{Session: session, Discard: true})
	require.True(t, waitForType(b, "voice.mic_closed", time.Second))

	time.Sleep(20 * time.Millisecond)
	for _, e := range b.History() {
		assert.NotEqual(t, "voice.recognition_completed", e.Type)
		assert.NotEqual(t, "voice.recognition_failed", e.Type)
	}
	assert.True(t, capture.stopped)
}

func TestEmptyTranscriptFailsTurn(t *testing.T) {
	engine := newFakeEngine()
	engine.result = Result{Transcript: "   "}
	capture := newFakeCapture()
	b, _, _ := newHarness(engine, capture)

	session := uuid.New()
	b.Publish(context.Background(), "voice.recording_start", RecordingStartPayload{Session: session})
	require.True(t, waitForType(b, "voice.mic_opened", time.Second))
	b.Publish(context.Background(), "voice.recording_stop", RecordingStopPayload{Session: session})

	require.True(t, waitForType(b, "voice.recognition_failed", 2*time.Second))
}

func TestCaptureOpenFailureMarksDeviceBusy(t *testing.T) {
	b := bus.New(nil)
	s := state.New(b)
	engine := newFakeEngine()
	c := New(b, s, engine, nil, Config{})
	c.openCapture = func(ctx context.Context, cfg Config, session uuid.UUID) (captureSource, error) {
		return nil, errors.New("device busy")
	}

	session := uuid.New()
	b.Publish(context.Background(), "voice.recording_start", RecordingStartPayload{Session: session})

	require.True(t, waitForType(b, "voice.recognition_failed", time.Second))
	assert.Equal(t, state.DeviceInputBusy, s.Snapshot().DeviceInput)
}

func TestSuccessfulTurnClosesItsSpan(t *testing.T) {
	engine := newFakeEngine()
	engine.result = Result{Transcript: "hello there"}
	capture := newFakeCapture()
	b, _, c := newHarness(engine, capture)

	session := uuid.New()
	b.Publish(context.Background(), "voice.recording_start", RecordingStartPayload{Session: session})
	require.True(t, waitForType(b, "voice.mic_opened", time.Second))

	b.Publish(context.Background(), "voice.recording_stop", RecordingStopPayload{Session: session})
	require.True(t, waitForType(b, "voice.recognition_completed", 2*time.Second))

	c.mu.Lock()
	_, stillOpen := c.spans[session]
	c.mu.Unlock()
	assert.False(t, stillOpen)
}

func TestShortPressCancelsMatchingActiveTurn(t *testing.T) {
	engine := newFakeEngine()
	capture := newFakeCapture()
	b, _, c := newHarness(engine, capture)

	session := uuid.New()
	b.Publish(context.Background(), "voice.recording_start", RecordingStartPayload{Session: session})
	require.True(t, waitForType(b, "voice.mic_opened", time.Second))

	b.Publish(context.Background(), "keyboard.short_press", shortPressStub{session: session})
	time.Sleep(20 * time.Millisecond)

	c.mu.Lock()
	active := c.turnActive
	c.mu.Unlock()
	assert.False(t, active)
	assert.True(t, capture.stopped)
}

type shortPressStub struct{ session uuid.UUID }

func (s shortPressStub) SessionID() uuid.UUID { return s.session }
