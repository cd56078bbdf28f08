package telemetry

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/rbright/sottod"

// Metrics holds the OTel instruments recorded by the mode/voice/playback
// components. Safe for concurrent use.
type Metrics struct {
	ModeTransitions      metric.Int64Counter
	RecognitionLatency   metric.Float64Histogram
	PlaybackDuration     metric.Float64Histogram
	InterruptsDispatched metric.Int64Counter
	InterruptDedupHits   metric.Int64Counter
	DroppedAudioChunks   metric.Int64Counter
}

// NewMetrics creates a Metrics instance against mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	meter := mp.Meter(meterName)

	modeTransitions, err := meter.Int64Counter(
		"sottod.mode.transitions",
		metric.WithDescription("count of accepted mode transitions"),
	)
	if err != nil {
		return nil, err
	}

	recognitionLatency, err := meter.Float64Histogram(
		"sottod.voice.recognition_latency_seconds",
		metric.WithDescription("time from turn start to final transcript"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	playbackDuration, err := meter.Float64Histogram(
		"sottod.playback.duration_seconds",
		metric.WithDescription("duration of a spoken-response playback turn"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	interruptsDispatched, err := meter.Int64Counter(
		"sottod.interrupt.dispatched",
		metric.WithDescription("count of interrupt requests dispatched to their handler"),
	)
	if err != nil {
		return nil, err
	}

	interruptDedupHits, err := meter.Int64Counter(
		"sottod.interrupt.dedup_hits",
		metric.WithDescription("count of interrupt requests dropped as duplicates"),
	)
	if err != nil {
		return nil, err
	}

	droppedAudioChunks, err := meter.Int64Counter(
		"sottod.audio.dropped_chunks",
		metric.WithDescription("count of captured PCM chunks dropped due to backpressure"),
	)
	if err != nil {
		return nil, err
	}

	return &Metrics{
		ModeTransitions:      modeTransitions,
		RecognitionLatency:   recognitionLatency,
		PlaybackDuration:     playbackDuration,
		InterruptsDispatched: interruptsDispatched,
		InterruptDedupHits:   interruptDedupHits,
		DroppedAudioChunks:   droppedAudioChunks,
	}, nil
}

var (
	defaultOnce    sync.Once
	defaultMetrics *Metrics
)

// Default returns a process-wide Metrics instance, initializing it lazily
// against whatever MeterProvider is registered at first use.
func Default() *Metrics {
	defaultOnce.Do(func() {
		m, err := NewMetrics(otel.GetMeterProvider())
		if err != nil {
			m = &Metrics{}
		}
		defaultMetrics = m
	})
	return defaultMetrics
}

// RecordModeTransition records one accepted transition to target.
func (m *Metrics) RecordModeTransition(ctx context.Context, target string) {
	if m == nil || m.ModeTransitions == nil {
		return
	}
	m.ModeTransitions.Add(ctx, 1, metric.WithAttributes(attribute.String("target", target)))
}

// RecordInterruptDispatched records one interrupt successfully handed to
// its handler.
func (m *Metrics) RecordInterruptDispatched(ctx context.Context, kind string) {
	if m == nil || m.InterruptsDispatched == nil {
		return
	}
	m.InterruptsDispatched.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

// RecordInterruptDedupHit records one interrupt request dropped as a
// duplicate.
func (m *Metrics) RecordInterruptDedupHit(ctx context.Context, kind string) {
	if m == nil || m.InterruptDedupHits == nil {
		return
	}
	m.InterruptDedupHits.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

// RecordDroppedAudioChunk records one captured PCM chunk dropped because
// the recognition engine's ingest channel was behind.
func (m *Metrics) RecordDroppedAudioChunk(ctx context.Context) {
	if m == nil || m.DroppedAudioChunks == nil {
		return
	}
	m.DroppedAudioChunks.Add(ctx, 1)
}

// RecordRecognitionLatency records the time from turn start to final
// transcript.
func (m *Metrics) RecordRecognitionLatency(ctx context.Context, seconds float64) {
	if m == nil || m.RecognitionLatency == nil {
		return
	}
	m.RecognitionLatency.Record(ctx, seconds)
}

// RecordPlaybackDuration records the wall-clock duration of one playback
// turn, from its first chunk to its terminal event.
func (m *Metrics) RecordPlaybackDuration(ctx context.Context, seconds float64) {
	if m == nil || m.PlaybackDuration == nil {
		return
	}
	m.PlaybackDuration.Record(ctx, seconds)
}
