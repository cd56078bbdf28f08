package interrupt

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rbright/sottod/internal/bus"
)

func waitUntil(t *testing.T, within time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(within)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	require.True(t, cond())
}

func eventTypes(b *bus.Bus) []string {
	var out []string
	for _, e := range b.History() {
		out = append(out, e.Type)
	}
	return out
}

func TestDuplicateEventIDIsDroppedWithinTTL(t *testing.T) {
	b := bus.New(nil)
	var calls int32
	c := New(b, nil)
	c.Handle("cancel", func(ctx context.Context, req Request) error {
		atomic.AddInt32(&calls, 1)
		return nil
	})

	req := Request{EventID: "evt-1", Kind: "cancel"}
	b.Publish(context.Background(), "interrupt.request", req)
	b.Publish(context.Background(), "interrupt.request", req)

	waitUntil(t, time.Second, func() bool { return atomic.LoadInt32(&calls) >= 1 })
	time.Sleep(50 * time.Millisecond)
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))
}

func TestHandlerRetriesOnFailureUpToMaxAttempts(t *testing.T) {
	b := bus.New(nil)
	var calls int32
	c := New(b, nil)
	c.Handle("cancel", func(ctx context.Context, req Request) error {
		atomic.AddInt32(&calls, 1)
		return errors.New("boom")
	})

	b.Publish(context.Background(), "interrupt.request", Request{EventID: "evt-retry", Kind: "cancel"})

	waitUntil(t, 5*time.Second, func() bool { return atomic.LoadInt32(&calls) == maxAttempts })
	assert.EqualValues(t, maxAttempts, atomic.LoadInt32(&calls))
	require.True(t, waitUntil2(b, "interrupt.failed", time.Second))
}

func TestHandlerSucceedsOnRetryStopsFurtherAttempts(t *testing.T) {
	b := bus.New(nil)
	var calls int32
	c := New(b, nil)
	c.Handle("cancel", func(ctx context.Context, req Request) error {
		n := atomic.AddInt32(&calls, 1)
		if n < 2 {
			return errors.New("transient")
		}
		return nil
	})

	b.Publish(context.Background(), "interrupt.request", Request{EventID: "evt-recover", Kind: "cancel"})

	waitUntil(t, 5*time.Second, func() bool { return atomic.LoadInt32(&calls) == 2 })
	time.Sleep(1200 * time.Millisecond)
	assert.EqualValues(t, 2, atomic.LoadInt32(&calls))
	require.True(t, waitUntil2(b, "interrupt.completed", time.Second))
}

func TestDuplicateWithinWindowKeyIsDropped(t *testing.T) {
	b := bus.New(nil)
	var calls int32
	c := New(b, nil)
	c.Handle("cancel", func(ctx context.Context, req Request) error {
		atomic.AddInt32(&calls, 1)
		return nil
	})

	session := uuid.New()
	req := Request{EventID: "evt-a", Kind: "cancel", Session: &session, PressID: "p1"}
	dup := Request{EventID: "evt-b", Kind: "cancel", Session: &session, PressID: "p1"}
	b.Publish(context.Background(), "interrupt.request", req)
	b.Publish(context.Background(), "interrupt.request", dup)

	waitUntil(t, time.Second, func() bool { return atomic.LoadInt32(&calls) >= 1 })
	time.Sleep(50 * time.Millisecond)
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))
}

func TestMaxConcurrentInterruptsBoundsInFlightDispatch(t *testing.T) {
	b := bus.New(nil)
	var inFlight, maxSeen int32
	var mu sync.Mutex
	release := make(chan struct{})

	c := New(b, nil)
	c.Handle("cancel", func(ctx context.Context, req Request) error {
		n := atomic.AddInt32(&inFlight, 1)
		mu.Lock()
		if n > maxSeen {
			maxSeen = n
		}
		mu.Unlock()
		<-release
		atomic.AddInt32(&inFlight, -1)
		return nil
	})

	for i := 0; i < maxConcurrent+4; i++ {
		b.Publish(context.Background(), "interrupt.request", Request{
			EventID: "evt-" + string(rune('a'+i)), Kind: "cancel", PressID: string(rune('a' + i)),
		})
	}

	waitUntil(t, time.Second, func() bool { return atomic.LoadInt32(&inFlight) == maxConcurrent })
	close(release)

	mu.Lock()
	seen := maxSeen
	mu.Unlock()
	assert.LessOrEqual(t, seen, int32(maxConcurrent))
}

func TestSpeechStopWithoutSessionIsRejected(t *testing.T) {
	b := bus.New(nil)
	var calls int32
	c := New(b, nil)
	c.Handle("speech_stop", func(ctx context.Context, req Request) error {
		atomic.AddInt32(&calls, 1)
		return nil
	})

	b.Publish(context.Background(), "interrupt.request", Request{EventID: "evt-no-session", Kind: "speech_stop"})

	time.Sleep(50 * time.Millisecond)
	assert.EqualValues(t, 0, atomic.LoadInt32(&calls))
	assert.NotContains(t, eventTypes(b), "grpc.request_cancel")
}

func TestSpeechStopWithSessionPublishesRequestCancelThenDispatches(t *testing.T) {
	b := bus.New(nil)
	var calls int32
	c := New(b, nil)
	c.Handle("speech_stop", func(ctx context.Context, req Request) error {
		atomic.AddInt32(&calls, 1)
		return nil
	})

	session := uuid.New()
	b.Publish(context.Background(), "interrupt.request", Request{
		EventID: "evt-speech-stop", Kind: "speech_stop", Session: &session, PressID: "p1", Source: "ptt.press",
	})

	waitUntil(t, time.Second, func() bool { return atomic.LoadInt32(&calls) == 1 })
	require.True(t, waitUntil2(b, "grpc.request_cancel", time.Second))
	require.True(t, waitUntil2(b, "interrupt.completed", time.Second))

	var cancelPayload CancelPayload
	for _, e := range b.History() {
		if e.Type == "grpc.request_cancel" {
			cancelPayload = e.Data.(CancelPayload)
		}
	}
	assert.Equal(t, session, cancelPayload.Session)
	assert.Equal(t, "p1", cancelPayload.PressID)
}

func TestInterruptCancelTopicIsAlsoDispatched(t *testing.T) {
	b := bus.New(nil)
	var calls int32
	c := New(b, nil)
	c.Handle("cancel", func(ctx context.Context, req Request) error {
		atomic.AddInt32(&calls, 1)
		return nil
	})

	b.Publish(context.Background(), "interrupt.cancel", Request{EventID: "evt-cancel-topic", Kind: "cancel"})

	waitUntil(t, time.Second, func() bool { return atomic.LoadInt32(&calls) == 1 })
}

func TestUnregisteredKindIsDroppedWithoutPanic(t *testing.T) {
	b := bus.New(nil)
	New(b, nil)

	assert.NotPanics(t, func() {
		b.Publish(context.Background(), "interrupt.request", Request{EventID: "evt-unknown", Kind: "unknown_kind"})
		time.Sleep(20 * time.Millisecond)
	})
}

func waitUntil2(b *bus.Bus, eventType string, within time.Duration) bool {
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
