// Package interrupt dispatches interrupt.request/interrupt.cancel events to
// per-kind handlers with dedup, bounded concurrency, a per-attempt
// timeout, and retry — the same accept/dispatch/bound shape the teacher's
// IPC server uses for inbound connections, applied here to inbound
// interrupts instead of socket connections.
package interrupt

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rbright/sottod/internal/bus"
	"github.com/rbright/sottod/internal/telemetry"
)

const (
	eventIDTTL     = 5 * time.Second
	windowDedupTTL = 500 * time.Millisecond
	maxConcurrent  = 5
	attemptTimeout = 10 * time.Second
	maxAttempts    = 3
	retryBackoff   = time.Second
)

// Request is the interrupt.request/interrupt.cancel event contract.
type Request struct {
	EventID   string
	Kind      string // e.g. "speech_stop"
	Session   *uuid.UUID
	PressID   string
	Source    string
	Priority  int
	Reason    string
	Initiator string
}

// CancelPayload is the grpc.request_cancel event contract, published ahead
// of handler dispatch whenever a request carries a session.
type CancelPayload struct {
	Session   uuid.UUID
	PressID   string
	EventID   string
	Source    string
	Reason    string
	Initiator string
}

// ResultPayload reports a handled interrupt's terminal status, published
// as interrupt.completed or interrupt.failed.
type ResultPayload struct {
	EventID string
	Kind    string
	Session *uuid.UUID
}

// Handler performs the actual interrupt side effect (e.g. cancelling
// in-flight playback). Returning an error triggers a retry.
type Handler func(ctx context.Context, req Request) error

type ttlEntry struct{ at time.Time }

// Coordinator dedups, rejects malformed requests, and rate-limits
// interrupt dispatch to per-kind handlers.
type Coordinator struct {
	bus    *bus.Bus
	logger *slog.Logger

	sem chan struct{}

	mu          sync.Mutex
	handlers    map[string]Handler
	byEventID   map[string]ttlEntry
	byWindowKey map[string]ttlEntry
}

// New constructs a Coordinator and subscribes it to interrupt.request and
// interrupt.cancel at HIGH priority. Register per-kind side effects with
// Handle before the bus starts delivering events.
func New(b *bus.Bus, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Coordinator{
		bus:         b,
		logger:      logger,
		sem:         make(chan struct{}, maxConcurrent),
		handlers:    make(map[string]Handler),
		byEventID:   make(map[string]ttlEntry),
		byWindowKey: make(map[string]ttlEntry),
	}
	b.Subscribe("interrupt.request", bus.PriorityHigh, c.handleRequest)
	b.Subscribe("interrupt.cancel", bus.PriorityHigh, c.handleRequest)
	return c
}

// Handle registers the side effect for one request kind (e.g.
// "speech_stop"). Registering the same kind twice replaces the handler.
func (c *Coordinator) Handle(kind string, handler Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[kind] = handler
}

func (c *Coordinator) handleRequest(ctx context.Context, evt bus.Event) {
	req, ok := evt.Data.(Request)
	if !ok {
		return
	}

	// Contract violation: a session-scoped cancel kind without a session
	// is rejected at the boundary, no state change.
	if req.Kind == "speech_stop" && req.Session == nil {
		c.logger.Warn("interrupt: rejecting speech_stop without session", "event_id", req.EventID, "source", req.Source)
		return
	}

	if c.isDuplicate(req) {
		c.logger.Debug("interrupt: dropping duplicate", "event_id", req.EventID, "kind", req.Kind)
		telemetry.Default().RecordInterruptDedupHit(ctx, req.Kind)
		return
	}

	if req.Session != nil {
		c.bus.Publish(ctx, "grpc.request_cancel", CancelPayload{
			Session:   *req.Session,
			PressID:   req.PressID,
			EventID:   req.EventID,
			Source:    req.Source,
			Reason:    req.Reason,
			Initiator: req.Initiator,
		})
	}

	select {
	case c.sem <- struct{}{}:
	default:
		c.logger.Warn("interrupt: max concurrent interrupts in flight, dropping", "event_id", req.EventID)
		return
	}

	go func() {
		defer func() { <-c.sem }()
		c.dispatchWithRetry(req)
	}()
}

func (c *Coordinator) dispatchWithRetry(req Request) {
	c.mu.Lock()
	handler, ok := c.handlers[req.Kind]
	c.mu.Unlock()
	if !ok {
		c.logger.Warn("interrupt: no handler registered for kind", "kind", req.Kind, "event_id", req.EventID)
		return
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), attemptTimeout)
		err := handler(ctx, req)
		cancel()
		if err == nil {
			telemetry.Default().RecordInterruptDispatched(context.Background(), req.Kind)
			c.bus.Publish(context.Background(), "interrupt.completed", ResultPayload{EventID: req.EventID, Kind: req.Kind, Session: req.Session})
			return
		}
		lastErr = err
		c.logger.Warn("interrupt: handler failed", "event_id", req.EventID, "attempt", attempt, "error", err)
		if attempt < maxAttempts {
			time.Sleep(retryBackoff)
		}
	}
	c.logger.Error("interrupt: exhausted retries", "event_id", req.EventID, "error", lastErr)
	c.bus.Publish(context.Background(), "interrupt.failed", ResultPayload{EventID: req.EventID, Kind: req.Kind, Session: req.Session})
}

func windowKey(req Request) string {
	session := "none"
	if req.Session != nil {
		session = req.Session.String()
	}
	return req.Kind + "|" + session + ":" + req.PressID
}

func (c *Coordinator) isDuplicate(req Request) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	c.sweepLocked(now)

	if req.EventID != "" {
		if e, ok := c.byEventID[req.EventID]; ok && now.Sub(e.at) < eventIDTTL {
			return true
		}
		c.byEventID[req.EventID] = ttlEntry{at: now}
	}

	key := windowKey(req)
	if e, ok := c.byWindowKey[key]; ok && now.Sub(e.at) < windowDedupTTL {
		return true
	}
	c.byWindowKey[key] = ttlEntry{at: now}
	return false
}

func (c *Coordinator) sweepLocked(now time.Time) {
	for k, e := range c.byEventID {
		if now.Sub(e.at) >= eventIDTTL {
			delete(c.byEventID, k)
		}
	}
	for k, e := range c.byWindowKey {
		if now.Sub(e.at) >= windowDedupTTL {
			delete(c.byWindowKey, k)
		}
	}
}
