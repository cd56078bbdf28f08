// Package signal plays short audio cues for lifecycle events (listening
// started, processing started, turn complete, turn cancelled), the same
// cue set the teacher's indicator package synthesizes, generalized to a
// pluggable Player and gated by per-pattern cooldowns plus a user-quit
// override.
package signal

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/rbright/sottod/internal/bus"
	"github.com/rbright/sottod/internal/state"
)

// Pattern identifies one cue.
type Pattern string

const (
	PatternListening  Pattern = "listening"
	PatternProcessing Pattern = "processing"
	PatternComplete   Pattern = "complete"
	PatternCancel     Pattern = "cancel"
	PatternError      Pattern = "error"
)

// defaultCooldowns mirrors the reference cue durations closely enough
// that two cues of the same kind can't overlap into an audible mess.
var defaultCooldowns = map[Pattern]time.Duration{
	PatternListening:  150 * time.Millisecond,
	PatternProcessing: 150 * time.Millisecond,
	PatternComplete:   200 * time.Millisecond,
	PatternCancel:     200 * time.Millisecond,
	PatternError:      300 * time.Millisecond,
}

// Player emits the actual cue audio for a Pattern.
type Player interface {
	Play(ctx context.Context, pattern Pattern) error
}

// Service gates cue playback behind per-pattern cooldowns and suppresses
// all cues once the user has signalled quit intent.
type Service struct {
	player    Player
	store     *state.Store
	logger    *slog.Logger
	cooldowns map[Pattern]time.Duration

	mu       sync.Mutex
	lastPlay map[Pattern]time.Time
}

// New constructs a Service and subscribes it both to the mode-level
// transitions (Processing/Sleeping cues, for which there is no dedicated
// lifecycle event) and to the specific lifecycle events the reference cue
// set is actually keyed on: voice.mic_opened for listen_start,
// playback.cancelled for cancel, and grpc/voice failures for error. The
// app.mode_changed Listening case and the voice.mic_opened case both resolve to
// PatternListening; the per-pattern cooldown collapses the double-fire into
// one audible cue.
func New(b *bus.Bus, player Player, store *state.Store, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{
		player:    player,
		store:     store,
		logger:    logger,
		cooldowns: defaultCooldowns,
		lastPlay:  make(map[Pattern]time.Time),
	}
	b.Subscribe("app.mode_changed", bus.PriorityLow, s.handleModeChanged)
	b.Subscribe("voice.mic_opened", bus.PriorityLow, s.handleMicOpened)
	b.Subscribe("playback.cancelled", bus.PriorityLow, s.handleCancelled)
	b.Subscribe("grpc.request_failed", bus.PriorityLow, s.handleFailure)
	b.Subscribe("voice.recognition_failed", bus.PriorityLow, s.handleFailure)
	return s
}

func (s *Service) handleModeChanged(ctx context.Context, evt bus.Event) {
	payload, ok := evt.Data.(state.ModeChangedPayload)
	if !ok {
		return
	}
	switch payload.Mode {
	case state.ModeListening:
		s.Play(ctx, PatternListening)
	case state.ModeProcessing:
		s.Play(ctx, PatternProcessing)
	case state.ModeSleeping:
		s.Play(ctx, PatternComplete)
	}
}

func (s *Service) handleMicOpened(ctx context.Context, evt bus.Event) {
	s.Play(ctx, PatternListening)
}

func (s *Service) handleCancelled(ctx context.Context, evt bus.Event) {
	s.Play(ctx, PatternCancel)
}

func (s *Service) handleFailure(ctx context.Context, evt bus.Event) {
	s.Play(ctx, PatternError)
}

// Play emits pattern's cue unless it's within cooldown or the user has
// signalled quit intent (store flag "user_quit_intent").
func (s *Service) Play(ctx context.Context, pattern Pattern) {
	if s.store != nil && s.store.GetBool("user_quit_intent") {
		return
	}

	s.mu.Lock()
	now := time.Now()
	cooldown := s.cooldowns[pattern]
	if last, ok := s.lastPlay[pattern]; ok && now.Sub(last) < cooldown {
		s.mu.Unlock()
		return
	}
	s.lastPlay[pattern] = now
	s.mu.Unlock()

	if s.player == nil {
		return
	}
	if err := s.player.Play(ctx, pattern); err != nil {
		s.logger.Warn("signal: cue playback failed", "pattern", pattern, "error", err)
	}
}
