package playback

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rbright/sottod/internal/bus"
	"github.com/rbright/sottod/internal/telemetry"
)

// watchdogTimeout bounds how long a turn may sit between audio chunks
// before it is treated as stalled and force-finalized.
const watchdogTimeout = 8 * time.Second

// ChunkPayload is the grpc.response.audio event contract: one PCM chunk
// belonging to session, optionally marked Final to close out the turn
// without a following silence gap.
type ChunkPayload struct {
	Session uuid.UUID
	PCM     []byte
	Final   bool
}

func (p ChunkPayload) SessionID() uuid.UUID { return p.Session }

// startedPayload / endedPayload are published for the Mode Controller's
// sleep-deferral bookkeeping (I3) and for the notifier.
type startedPayload struct{ Session uuid.UUID }

func (p startedPayload) SessionID() uuid.UUID { return p.Session }

type endedPayload struct{ Session uuid.UUID }

func (p endedPayload) SessionID() uuid.UUID { return p.Session }

// Player owns one playback turn at a time, keyed by session. Enqueuing a
// chunk for a new session while a different session's turn is active
// cancels the old turn first (unified cancel), matching the single
// output device constraint.
type Player struct {
	bus    *bus.Bus
	device Device
	logger *slog.Logger

	mu            sync.Mutex
	activeSess    uuid.UUID
	hasActive     bool
	lastChunkAt   time.Time
	turnStartedAt time.Time
	watchdog      *time.Timer
	gain          *AutoGain
}

// New constructs a Player and subscribes it to grpc.response.audio and
// playback.signal (unified cancel requests from the interrupt coordinator
// or elsewhere).
func New(b *bus.Bus, device Device, logger *slog.Logger) *Player {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Player{bus: b, device: device, logger: logger, gain: NewAutoGain(0.2, 0.25)}
	b.Subscribe("grpc.response.audio", bus.PriorityHigh, p.handleChunk)
	b.Subscribe("playback.signal", bus.PriorityCritical, p.handleSignal)
	return p
}

func (p *Player) handleChunk(ctx context.Context, evt bus.Event) {
	chunk, ok := evt.Data.(ChunkPayload)
	if !ok {
		return
	}

	p.mu.Lock()
	if !p.hasActive || p.activeSess != chunk.Session {
		preempted, prev := p.hasActive, p.activeSess
		if p.hasActive {
			p.cancelLocked()
		}
		p.hasActive = true
		p.activeSess = chunk.Session
		p.turnStartedAt = time.Now()
		p.gain = NewAutoGain(0.2, 0.25)
		p.armWatchdogLocked()
		session := chunk.Session
		p.mu.Unlock()
		if preempted {
			p.bus.Publish(context.Background(), "playback.cancelled", endedPayload{Session: prev})
		}
		p.bus.Publish(context.Background(), "playback.started", startedPayload{Session: session})
		p.mu.Lock()
	}

	if len(chunk.PCM) > 0 {
		p.device.Enqueue(p.gain.Apply(chunk.PCM))
		p.lastChunkAt = time.Now()
		p.armWatchdogLocked()
	}
	final := chunk.Final
	p.mu.Unlock()

	if final {
		p.finalize(chunk.Session, "completed")
	}
}

// armWatchdogLocked resets the stall timer. Caller holds p.mu.
func (p *Player) armWatchdogLocked() {
	if p.watchdog != nil {
		p.watchdog.Stop()
	}
	session := p.activeSess
	p.watchdog = time.AfterFunc(watchdogTimeout, func() {
		p.logger.Warn("playback: watchdog fired, finalizing stalled turn", "session", session)
		p.finalize(session, "failed")
	})
}

// finalize ends the current turn if it is still the active one, stopping
// its watchdog and publishing the matching lifecycle event for the Mode
// Controller's deferred-sleep bookkeeping. It does not touch the device.
func (p *Player) finalize(session uuid.UUID, eventSuffix string) {
	p.mu.Lock()
	if !p.hasActive || p.activeSess != session {
		p.mu.Unlock()
		return
	}
	p.hasActive = false
	started := p.turnStartedAt
	if p.watchdog != nil {
		p.watchdog.Stop()
		p.watchdog = nil
	}
	p.mu.Unlock()

	if !started.IsZero() {
		telemetry.Default().RecordPlaybackDuration(context.Background(), time.Since(started).Seconds())
	}
	p.bus.Publish(context.Background(), "playback."+eventSuffix, endedPayload{Session: session})
}

// handleSignal processes a playback.signal{cancel} request (published by
// the interrupt coordinator's speech_stop handler or any other caller):
// clear the device and end the turn with playback.cancelled. A new
// session's audio takes the same cancelLocked + playback.cancelled path in
// handleChunk.
func (p *Player) handleSignal(ctx context.Context, evt bus.Event) {
	sig, ok := evt.Data.(SignalPayload)
	if !ok || sig.Kind != "cancel" {
		return
	}
	p.mu.Lock()
	session := p.activeSess
	active := p.hasActive
	if active {
		p.cancelLocked()
	}
	p.mu.Unlock()

	if active {
		p.bus.Publish(context.Background(), "playback.cancelled", endedPayload{Session: session})
	}
}

// cancelLocked clears device buffers and internal turn state. Caller
// holds p.mu.
func (p *Player) cancelLocked() {
	p.device.Clear()
	p.hasActive = false
	if p.watchdog != nil {
		p.watchdog.Stop()
		p.watchdog = nil
	}
}

// SignalPayload is the playback.signal event contract.
type SignalPayload struct {
	Kind string // "cancel"
}

// Close releases the underlying device.
func (p *Player) Close() error {
	return p.device.Close()
}
