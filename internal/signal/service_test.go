package signal

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/rbright/sottod/internal/bus"
	"github.com/rbright/sottod/internal/state"
)

type fakePlayer struct {
	mu    sync.Mutex
	calls []Pattern
}

func (f *fakePlayer) Play(ctx context.Context, pattern Pattern) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, pattern)
	return nil
}

func (f *fakePlayer) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func TestPlayEmitsCueOutsideCooldown(t *testing.T) {
	b := bus.New(nil)
	s := state.New(b)
	player := &fakePlayer{}
	svc := New(b, player, s, nil)
	svc.cooldowns = map[Pattern]time.Duration{PatternListening: 50 * time.Millisecond}

	svc.Play(context.Background(), PatternListening)
	svc.Play(context.Background(), PatternListening)
	assert.Equal(t, 1, player.count())

	time.Sleep(60 * time.Millisecond)
	svc.Play(context.Background(), PatternListening)
	assert.Equal(t, 2, player.count())
}

func TestPlaySuppressedByUserQuitIntent(t *testing.T) {
	b := bus.New(nil)
	s := state.New(b)
	s.Set("user_quit_intent", true)
	player := &fakePlayer{}
	svc := New(b, player, s, nil)

	svc.Play(context.Background(), PatternCancel)
	assert.Equal(t, 0, player.count())
}

func TestModeChangedTriggersMatchingCue(t *testing.T) {
	b := bus.New(nil)
	s := state.New(b)
	var calls int32
	New(b, playFunc(func(ctx context.Context, p Pattern) error {
		atomic.AddInt32(&calls, 1)
		return nil
	}), s, nil)

	session := uuid.New()
	s.SetMode(state.ModeListening, &session)

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) && atomic.LoadInt32(&calls) == 0 {
		time.Sleep(time.Millisecond)
	}
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))
}

type playFunc func(ctx context.Context, p Pattern) error

func (f playFunc) Play(ctx context.Context, p Pattern) error { return f(ctx, p) }

func waitForCall(get func() int, want int, within time.Duration) bool {
	deadline := time.Now().Add(within)
	for time.Now().Before(deadline) {
		if get() >= want {
			return true
		}
		time.Sleep(time.Millisecond)
	}
	return false
}

func TestMicOpenedTriggersListenStartCue(t *testing.T) {
	b := bus.New(nil)
	s := state.New(b)
	player := &fakePlayer{}
	New(b, player, s, nil)

	b.Publish(context.Background(), "voice.mic_opened", struct{}{})
	assert.True(t, waitForCall(player.count, 1, time.Second))
	assert.Equal(t, []Pattern{PatternListening}, player.calls)
}

func TestPlaybackCancelledTriggersCancelCue(t *testing.T) {
	b := bus.New(nil)
	s := state.New(b)
	player := &fakePlayer{}
	New(b, player, s, nil)

	b.Publish(context.Background(), "playback.cancelled", struct{}{})
	assert.True(t, waitForCall(player.count, 1, time.Second))
	assert.Equal(t, []Pattern{PatternCancel}, player.calls)
}

func TestRecognitionFailedTriggersErrorCue(t *testing.T) {
	b := bus.New(nil)
	s := state.New(b)
	player := &fakePlayer{}
	New(b, player, s, nil)

	b.Publish(context.Background(), "voice.recognition_failed", struct{}{})
	assert.True(t, waitForCall(player.count, 1, time.Second))
	assert.Equal(t, []Pattern{PatternError}, player.calls)
}
