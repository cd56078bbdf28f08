package playback

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rbright/sottod/internal/bus"
)

type fakeDevice struct {
	mu      sync.Mutex
	buf     []byte
	cleared int
	closed  bool
}

func (d *fakeDevice) Enqueue(pcm []byte) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.buf = append(d.buf, pcm...)
}
func (d *fakeDevice) Clear() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.buf = nil
	d.cleared++
}
func (d *fakeDevice) Close() error {
	d.closed = true
	return nil
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

func samplePCM(n int) []byte {
	return make([]byte, n*2)
}

func TestFirstChunkEmitsStartedAndFinalChunkEmitsCompleted(t *testing.T) {
	b := bus.New(nil)
	dev := &fakeDevice{}
	New(b, dev, nil)

	session := uuid.New()
	b.Publish(context.Background(), "grpc.response.audio", ChunkPayload{Session: session, PCM: samplePCM(80)})
	require.True(t, waitForType(b, "playback.started", time.Second))

	b.Publish(context.Background(), "grpc.response.audio", ChunkPayload{Session: session, PCM: samplePCM(80), Final: true})
	require.True(t, waitForType(b, "playback.completed", time.Second))

	dev.mu.Lock()
	bufLen := len(dev.buf)
	dev.mu.Unlock()
	assert.Equal(t, 320, bufLen)
}

func TestNewSessionChunkCancelsPriorActiveTurn(t *testing.T) {
	b := bus.New(nil)
	dev := &fakeDevice{}
	New(b, dev, nil)

	first := uuid.New()
	second := uuid.New()
	b.Publish(context.Background(), "grpc.response.audio", ChunkPayload{Session: first, PCM: samplePCM(40)})
	require.True(t, waitForType(b, "playback.started", time.Second))

	b.Publish(context.Background(), "grpc.response.audio", ChunkPayload{Session: second, PCM: samplePCM(40)})

	dev.mu.Lock()
	cleared := dev.cleared
	dev.mu.Unlock()
	assert.GreaterOrEqual(t, cleared, 1)
}

func TestCancelSignalClearsDeviceAndEmitsCancelled(t *testing.T) {
	b := bus.New(nil)
	dev := &fakeDevice{}
	New(b, dev, nil)

	session := uuid.New()
	b.Publish(context.Background(), "grpc.response.audio", ChunkPayload{Session: session, PCM: samplePCM(40)})
	require.True(t, waitForType(b, "playback.started", time.Second))

	b.Publish(context.Background(), "playback.signal", SignalPayload{Kind: "cancel"})
	require.True(t, waitForType(b, "playback.cancelled", time.Second))

	dev.mu.Lock()
	bufLen := len(dev.buf)
	dev.mu.Unlock()
	assert.Equal(t, 0, bufLen)
}

func TestAutoGainBoostsQuietChunkTowardTarget(t *testing.T) {
	g := NewAutoGain(0.2, 1.0)
	quiet := make([]byte, 200)
	for i := 0; i < len(quiet)/2; i++ {
		sample := int16(500)
		quiet[2*i] = byte(sample)
		quiet[2*i+1] = byte(sample >> 8)
	}
	out := g.Apply(quiet)
	sample := int16(uint16(out[0]) | uint16(out[1])<<8)
	assert.Greater(t, int(sample), 500)
}
