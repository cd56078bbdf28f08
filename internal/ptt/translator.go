// Package ptt classifies raw push-to-talk key events (PRESS/RELEASE edges
// delivered from the OS input thread) into PRESS, LONG_PRESS, and
// SHORT_PRESS intents and drives the session/mic lifecycle those intents
// imply: a confirmed long press opens the microphone, a release after one
// hands the turn to PROCESSING, and a release before one cancels whatever
// the press might otherwise have started. Production key capture happens
// on a foreign OS callback thread; every entry point here is safe to call
// from that thread and hands off to the bus loop via
// bus.PostFromAnyThread, mirroring how the teacher's polling loop hands
// key edges to its own dedicated Listen goroutine.
package ptt

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rbright/sottod/internal/bus"
	"github.com/rbright/sottod/internal/interrupt"
	"github.com/rbright/sottod/internal/mode"
	"github.com/rbright/sottod/internal/state"
	"github.com/rbright/sottod/internal/voice"
)

// Config controls press-classification timing.
type Config struct {
	LongPressThreshold   time.Duration
	MinRecordingDuration time.Duration
}

// DefaultConfig mirrors the long-press threshold and minimum-recording
// floor the reference implementation ships with.
func DefaultConfig() Config {
	return Config{
		LongPressThreshold:   600 * time.Millisecond,
		MinRecordingDuration: 600 * time.Millisecond,
	}
}

// PressPayload is the keyboard.press event contract: the raw key-down
// edge, before it is known to be a short tap or the start of a hold.
type PressPayload struct {
	Session   uuid.UUID
	Timestamp time.Time
}

// ShortPressPayload is the keyboard.short_press event contract: a
// release that never reached the long-press threshold.
type ShortPressPayload struct {
	Session   uuid.UUID
	Timestamp time.Time
}

// Translator owns the PRESS/RELEASE state machine for a single logical
// PTT key. It is the only writer of state.Store.SetPTTPressed.
//
// Internally it tracks four states mirrored on the teacher's own
// press-classifier: Idle, PressPending (key down, not yet classified),
// Recording (long press confirmed, mic open), and the two ways out of
// PressPending — promotion to Recording on LONG_PRESS, or cancellation on
// a RELEASE that arrives first.
type Translator struct {
	bus    *bus.Bus
	store  *state.Store
	logger *slog.Logger
	cfg    Config

	mu                 sync.Mutex
	pressed            bool
	pressedAt          time.Time
	pressID            string
	recording          bool
	pendingCancelled   bool
	cancelledThisPress bool
	holdTimer          *time.Timer
	currentSess        uuid.UUID
}

// New constructs a Translator. It does not start listening to hardware —
// that is the OS-specific backend's job; it calls KeyDown/KeyUp.
func New(b *bus.Bus, store *state.Store, logger *slog.Logger, cfg Config) *Translator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Translator{bus: b, store: store, logger: logger, cfg: cfg}
}

// KeyDown is called from the OS input callback thread on a key-down edge.
// Repeated calls while already pressed (OS auto-repeat) are ignored. A
// PRESS never changes Mode or opens the mic by itself — it only arms the
// key for classification and, if a response is already being spoken,
// eagerly interrupts it so a fresh utterance is never competing with
// stale audio.
func (t *Translator) KeyDown() {
	t.bus.PostFromAnyThread(func() {
		t.mu.Lock()
		if t.pressed {
			t.mu.Unlock()
			return
		}
		t.pressed = true
		t.pressedAt = time.Now()
		t.recording = false
		t.pendingCancelled = false
		t.cancelledThisPress = false
		t.currentSess = uuid.New()
		pressID := t.currentSess.String()
		t.pressID = pressID
		session := t.currentSess
		threshold := t.cfg.LongPressThreshold
		t.holdTimer = time.AfterFunc(threshold, func() {
			t.bus.PostFromAnyThread(func() { t.fireLongPress(session, pressID) })
		})
		t.mu.Unlock()

		t.store.SetPTTPressed(true)
		t.bus.Publish(context.Background(), "keyboard.press", PressPayload{Session: session, Timestamp: t.pressedAt})

		if snap := t.store.Snapshot(); snap.Mode == state.ModeProcessing && snap.CurrentSession != nil {
			t.publishInterrupt(*snap.CurrentSession, "ptt.press")
		}
	})
}

// fireLongPress runs on the bus loop once the hold timer elapses without an
// intervening KeyUp. Generated only from the hold timer, never from KeyUp,
// matching the reference implementation's hold-monitor split. A LONG_PRESS
// that arrives after the key already came back up, or while a turn is
// already recording, is a stale timer firing against a dead press and is
// dropped.
func (t *Translator) fireLongPress(session uuid.UUID, pressID string) {
	t.mu.Lock()
	if !t.pressed || t.pressID != pressID || t.recording || t.pendingCancelled {
		t.mu.Unlock()
		return
	}
	t.recording = true
	t.mu.Unlock()

	t.store.UpdateSessionID(&session)
	t.logger.Debug("ptt: long press, opening mic", "session", session)
	t.bus.Publish(context.Background(), "voice.recording_start", voice.RecordingStartPayload{
		Session:   session,
		Source:    "ptt",
		Timestamp: time.Now(),
	})
	t.publishMode(state.ModeListening, "ptt.long_press", session, "long:"+pressID)
}

// KeyUp is called from the OS input callback thread on a key-up edge. If
// the hold timer already promoted this press to Recording, the release
// commits the turn for processing; otherwise it is a confirmed short tap
// and the whole press is cancelled rather than committed.
func (t *Translator) KeyUp() {
	t.bus.PostFromAnyThread(func() {
		t.mu.Lock()
		if !t.pressed {
			t.mu.Unlock()
			return
		}
		t.pressed = false
		if t.holdTimer != nil {
			t.holdTimer.Stop()
			t.holdTimer = nil
		}
		session := t.currentSess
		pressID := t.pressID
		pressedAt := t.pressedAt
		wasRecording := t.recording
		cancelled := t.cancelledThisPress
		if !wasRecording {
			t.pendingCancelled = true
		}
		t.mu.Unlock()

		t.store.SetPTTPressed(false)

		if cancelled {
			// Short-tap cancel already ran from a RELEASE this same press
			// (e.g. a chord key delivering RELEASE before KeyUp); nothing
			// left to do.
			return
		}

		if wasRecording {
			duration := time.Since(pressedAt)
			discard := duration < t.cfg.MinRecordingDuration
			t.bus.Publish(context.Background(), "voice.recording_stop", voice.RecordingStopPayload{
				Session:   session,
				Source:    "ptt",
				Timestamp: time.Now(),
				Duration:  duration,
				Discard:   discard,
			})
			// The bus dispatches voice.recording_stop synchronously, so the
			// voice coordinator has already stopped capture and published
			// voice.mic_closed by the time Publish returns above — the
			// mode request below never races an open mic.
			if discard {
				t.publishMode(state.ModeSleeping, "ptt.discard", session, "discard:"+pressID)
				return
			}
			t.publishMode(state.ModeProcessing, "ptt.release", session, "release:"+pressID)
			return
		}

		t.cancelCurrentPress(session, pressID, "keyboard.short_press")
	})
}

// cancelCurrentPress implements PressPending -> CancelCurrent: a short tap
// that never reached the recording threshold is treated as a request to
// interrupt whatever the daemon is doing and fall back to sleep, never as
// a trigger to start processing.
func (t *Translator) cancelCurrentPress(session uuid.UUID, pressID, source string) {
	t.mu.Lock()
	t.cancelledThisPress = true
	t.mu.Unlock()

	t.bus.Publish(context.Background(), "keyboard.short_press", ShortPressPayload{Session: session, Timestamp: time.Now()})
	t.publishInterrupt(session, source)
	t.publishMode(state.ModeSleeping, source, session, "short:"+pressID)
}

// publishInterrupt emits an interrupt.request{speech_stop} for session,
// the single call site every cancel path in this file funnels through.
func (t *Translator) publishInterrupt(session uuid.UUID, source string) {
	t.bus.Publish(context.Background(), "interrupt.request", interrupt.Request{
		EventID: uuid.NewString(),
		Kind:    "speech_stop",
		Session: &session,
		PressID: t.currentPressID(),
		Source:  source,
	})
}

func (t *Translator) currentPressID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.pressID
}

func (t *Translator) publishMode(target state.Mode, source string, session uuid.UUID, requestID string) {
	t.bus.Publish(context.Background(), "mode.request", mode.RequestPayload{
		Target:    string(target),
		Source:    source,
		Session:   &session,
		RequestID: requestID,
	})
}
