package screenshot

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

type recordingStartStub struct{ session uuid.UUID }

func (s recordingStartStub) SessionID() uuid.UUID { return s.session }

type countingCapturer struct {
	calls int
	data  []byte
	err   error
}

func (c *countingCapturer) Capture(ctx context.Context) ([]byte, error) {
	c.calls++
	if c.err != nil {
		return nil, c.err
	}
	return c.data, nil
}

func TestCaptureForSessionIsIdempotentPerSession(t *testing.T) {
	capturer := &countingCapturer{data: []byte("png-bytes")}
	s := New(capturer, nil)

	session := uuid.New()
	first, err := s.CaptureForSession(context.Background(), session)
	require.NoError(t, err)
	second, err := s.CaptureForSession(context.Background(), session)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, capturer.calls)
}

func TestCaptureForSessionPropagatesFailure(t *testing.T) {
	capturer := &countingCapturer{err: errors.New("no display")}
	s := New(capturer, nil)

	_, err := s.CaptureForSession(context.Background(), uuid.New())
	assert.Error(t, err)
}

func TestCacheEvictsOldestBeyondCapacity(t *testing.T) {
	capturer := &countingCapturer{data: []byte("x")}
	s := New(capturer, nil)

	first := uuid.New()
	s.CaptureForSession(context.Background(), first)

	for i := 0; i < maxCached; i++ {
		s.CaptureForSession(context.Background(), uuid.New())
	}

	s.mu.Lock()
	_, stillCached := s.entries[first]
	count := len(s.entries)
	s.mu.Unlock()

	assert.False(t, stillCached)
	assert.Equal(t, maxCached, count)
}

func TestForgetRemovesCachedEntry(t *testing.T) {
	capturer := &countingCapturer{data: []byte("x")}
	s := New(capturer, nil)
	session := uuid.New()
	s.CaptureForSession(context.Background(), session)
	s.Forget(session)

	s.mu.Lock()
	_, ok := s.entries[session]
	s.mu.Unlock()
	assert.False(t, ok)
}

func TestListenerCapturesOnProcessingEntry(t *testing.T) {
	b := bus.New(nil)
	capturer := &countingCapturer{data: []byte("x")}
	svc := New(capturer, nil)
	Attach(b, svc)

	session := uuid.New()
	b.Publish(context.Background(), "app.mode_changed", state.ModeChangedPayload{
		Mode: state.ModeProcessing, Session: &session,
	})

	deadline := time.Now().Add(time.Second)
	found := false
	for time.Now().Before(deadline) {
		for _, e := range b.History() {
			if e.Type == "screenshot.captured" {
				found = true
			}
		}
		if found {
			break
		}
		time.Sleep(time.Millisecond)
	}
	assert.True(t, found)
}

func TestListenerCapturesEagerlyOnRecordingStart(t *testing.T) {
	b := bus.New(nil)
	capturer := &countingCapturer{data: []byte("x")}
	svc := New(capturer, nil)
	Attach(b, svc)

	session := uuid.New()
	b.Publish(context.Background(), "voice.recording_start", recordingStartStub{session: session})

	deadline := time.Now().Add(time.Second)
	found := false
	for time.Now().Before(deadline) {
		for _, e := range b.History() {
			if e.Type == "screenshot.captured" {
				found = true
			}
		}
		if found {
			break
		}
		time.Sleep(time.Millisecond)
	}
	assert.True(t, found)

	svc.mu.Lock()
	_, cached := svc.entries[session]
	svc.mu.Unlock()
	assert.True(t, cached)
}
