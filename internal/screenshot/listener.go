package screenshot

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/rbright/sottod/internal/bus"
	"github.com/rbright/sottod/internal/state"
)

// CapturedPayload announces that a screenshot is available for session.
type CapturedPayload struct {
	Session uuid.UUID
	Bytes   int
}

func (p CapturedPayload) SessionID() uuid.UUID { return p.Session }

// Listener captures a screenshot as early as voice.recording_start so the
// image reflects what was on screen while the user was talking, and
// replays the cached image for PROCESSING entries of the same session via
// Service — CaptureForSession's idempotency means a late PROCESSING entry
// for a session the recording_start handler already captured is a cache
// hit, not a second shutter.
type Listener struct {
	svc *Service
	bus *bus.Bus
}

// Attach subscribes a Listener to voice.recording_start and app.mode_changed.
func Attach(b *bus.Bus, svc *Service) *Listener {
	l := &Listener{svc: svc, bus: b}
	b.Subscribe("voice.recording_start", bus.PriorityMedium, l.handleRecordingStart)
	b.Subscribe("app.mode_changed", bus.PriorityMedium, l.handleModeChanged)
	return l
}

func (l *Listener) handleRecordingStart(ctx context.Context, evt bus.Event) {
	payload, ok := evt.Data.(interface{ SessionID() uuid.UUID })
	if !ok {
		return
	}
	l.captureAsync(payload.SessionID())
}

func (l *Listener) handleModeChanged(ctx context.Context, evt bus.Event) {
	payload, ok := evt.Data.(state.ModeChangedPayload)
	if !ok || payload.Mode != state.ModeProcessing || payload.Session == nil {
		return
	}
	l.captureAsync(*payload.Session)
}

func (l *Listener) captureAsync(session uuid.UUID) {
	go func() {
		captureCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		data, err := l.svc.CaptureForSession(captureCtx, session)
		if err != nil {
			return
		}
		l.bus.Publish(context.Background(), "screenshot.captured", CapturedPayload{Session: session, Bytes: len(data)})
	}()
}
