package ptt

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rbright/sottod/internal/bus"
	"github.com/rbright/sottod/internal/mode"
	"github.com/rbright/sottod/internal/state"
)

func newHarness(cfg Config) (*bus.Bus, *state.Store, *Translator) {
	b := bus.New(nil)
	s := state.New(b)
	go b.Run(context.Background())
	tr := New(b, s, nil, cfg)
	return b, s, tr
}

func waitForHistoryType(b *bus.Bus, eventType string, within time.Duration) bool {
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

func eventTypes(b *bus.Bus) []string {
	var out []string
	for _, e := range b.History() {
		out = append(out, e.Type)
	}
	return out
}

func TestShortPressNeverOpensListeningAndEmitsCancelThenSleeping(t *testing.T) {
	b, _, tr := newHarness(Config{LongPressThreshold: time.Hour, MinRecordingDuration: 600 * time.Millisecond})
	tr.KeyDown()
	require.True(t, waitForHistoryType(b, "keyboard.press", time.Second))
	tr.KeyUp()
	require.True(t, waitForHistoryType(b, "mode.request", time.Second))

	for _, e := range b.History() {
		if e.Type != "mode.request" {
			continue
		}
		req := e.Data.(mode.RequestPayload)
		assert.NotEqual(t, string(state.ModeListening), req.Target, "a short press must never request LISTENING")
		assert.NotEqual(t, string(state.ModeProcessing), req.Target, "a short press must never request PROCESSING")
	}

	assert.Contains(t, eventTypes(b), "keyboard.short_press")
	assert.Contains(t, eventTypes(b), "interrupt.request")

	var sawSleeping bool
	for _, e := range b.History() {
		if e.Type == "mode.request" {
			req := e.Data.(mode.RequestPayload)
			if req.Target == string(state.ModeSleeping) && req.Source == "keyboard.short_press" {
				sawSleeping = true
			}
		}
	}
	assert.True(t, sawSleeping)
}

func TestLongPressOpensListeningThenReleaseRequestsProcessing(t *testing.T) {
	b, _, tr := newHarness(Config{LongPressThreshold: 10 * time.Millisecond, MinRecordingDuration: 10 * time.Millisecond})
	tr.KeyDown()
	require.True(t, waitForHistoryType(b, "voice.recording_start", time.Second))
	time.Sleep(20 * time.Millisecond)
	tr.KeyUp()
	require.True(t, waitForHistoryType(b, "voice.recording_stop", time.Second))

	var targets []string
	for _, e := range b.History() {
		if e.Type != "mode.request" {
			continue
		}
		targets = append(targets, e.Data.(mode.RequestPayload).Target)
	}
	require.Len(t, targets, 2)
	assert.Equal(t, string(state.ModeListening), targets[0])
	assert.Equal(t, string(state.ModeProcessing), targets[1])
}

func TestReleaseBelowMinimumDurationDiscardsAndRequestsSleeping(t *testing.T) {
	b, _, tr := newHarness(Config{LongPressThreshold: 5 * time.Millisecond, MinRecordingDuration: time.Hour})
	tr.KeyDown()
	require.True(t, waitForHistoryType(b, "voice.recording_start", time.Second))
	tr.KeyUp()
	require.True(t, waitForHistoryType(b, "voice.recording_stop", time.Second))

	assert.Contains(t, eventTypes(b), "voice.recording_stop")

	var sawProcessing bool
	for _, e := range b.History() {
		if e.Type == "mode.request" && e.Data.(mode.RequestPayload).Target == string(state.ModeProcessing) {
			sawProcessing = true
		}
	}
	assert.False(t, sawProcessing, "a discarded recording must never request PROCESSING")
}

func TestLongPressFiresOnlyOnceFromHoldTimer(t *testing.T) {
	b, _, tr := newHarness(Config{LongPressThreshold: 10 * time.Millisecond, MinRecordingDuration: 10 * time.Millisecond})
	tr.KeyDown()
	time.Sleep(50 * time.Millisecond)
	tr.KeyUp()

	longCount, releaseCount := 0, 0
	for _, e := range b.History() {
		if e.Type != "mode.request" {
			continue
		}
		req, ok := e.Data.(mode.RequestPayload)
		if !ok {
			continue
		}
		switch req.Source {
		case "ptt.long_press":
			longCount++
		case "ptt.release":
			releaseCount++
		}
	}
	assert.Equal(t, 1, longCount)
	assert.Equal(t, 1, releaseCount)
}

func TestKeyDownWhileAlreadyPressedIsIgnored(t *testing.T) {
	_, s, tr := newHarness(Config{LongPressThreshold: time.Hour})
	tr.KeyDown()
	time.Sleep(10 * time.Millisecond)
	tr.KeyDown()
	time.Sleep(10 * time.Millisecond)
	assert.True(t, s.Snapshot().PTTPressed)
}

func TestKeyUpWithoutPriorKeyDownIsNoOp(t *testing.T) {
	_, s, tr := newHarness(Config{LongPressThreshold: time.Hour})
	tr.KeyUp()
	assert.False(t, s.Snapshot().PTTPressed)
}

func TestDefaultConfigMatchesReferenceThreshold(t *testing.T) {
	assert.Equal(t, 600*time.Millisecond, DefaultConfig().LongPressThreshold)
	assert.Equal(t, 600*time.Millisecond, DefaultConfig().MinRecordingDuration)
}
