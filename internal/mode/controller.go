package mode

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rbright/sottod/internal/bus"
	"github.com/rbright/sottod/internal/state"
)

// RequestPayload is the mode.request event contract (spec.md §6).
type RequestPayload struct {
	Target    string
	Source    string
	Session   *uuid.UUID
	Priority  int
	RequestID string
	Reason    string
}

// softFinalizerSources may request SLEEPING subject to the deferral guard.
var softFinalizerSources = map[string]bool{
	"processing_completed": true,
	"playback":              true,
	"playback.finished":     true,
	"browser.finished":      true,
	"actions.finished":      true,
}

// dedupBypassSources bypass the request_id/fallback dedup window entirely
// when their session is already in the deferred-sleep set — they are the
// finalizers that the deferral guard itself schedules for retry.
var dedupBypassSources = map[string]bool{
	"playback.finished": true,
	"browser.finished":  true,
	"actions.finished":  true,
}

// Config controls Mode Controller timing knobs (spec.md §6).
type Config struct {
	DedupWindow       time.Duration
	ActionIntentTTL   time.Duration
	ProcessingTimeout time.Duration // 0 disables the timeout task.
	ListeningTimeout  time.Duration // 0 disables the timeout task.
}

// DefaultConfig returns spec.md's documented defaults.
func DefaultConfig() Config {
	return Config{
		DedupWindow:     500 * time.Millisecond,
		ActionIntentTTL: 3 * time.Second,
	}
}

type dedupEntry struct {
	at time.Time
}

// Controller is the sole producer of state.Store.SetMode calls.
type Controller struct {
	bus    *bus.Bus
	store  *state.Store
	logger *slog.Logger
	cfg    Config

	mu sync.Mutex

	dedupByRequestID map[string]dedupEntry
	dedupByFallback  map[string]dedupEntry

	activePlayback map[uuid.UUID]int
	activeBrowser  map[uuid.UUID]int
	activeActions  map[uuid.UUID]int

	pendingActionIntents map[uuid.UUID]time.Time
	deferredSleep        map[uuid.UUID]bool

	timeoutCancel context.CancelFunc
}

// New constructs a Mode Controller and subscribes it to mode.request (at
// CRITICAL priority) and to every lifecycle event that feeds the
// sleep-deferral guard.
func New(b *bus.Bus, store *state.Store, logger *slog.Logger, cfg Config) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Controller{
		bus:                  b,
		store:                store,
		logger:               logger,
		cfg:                  cfg,
		dedupByRequestID:     make(map[string]dedupEntry),
		dedupByFallback:      make(map[string]dedupEntry),
		activePlayback:       make(map[uuid.UUID]int),
		activeBrowser:        make(map[uuid.UUID]int),
		activeActions:        make(map[uuid.UUID]int),
		pendingActionIntents: make(map[uuid.UUID]time.Time),
		deferredSleep:        make(map[uuid.UUID]bool),
	}

	b.Subscribe("mode.request", bus.PriorityCritical, c.handleModeRequest)

	b.Subscribe("playback.started", bus.PriorityHigh, c.handlePlaybackStarted)
	b.Subscribe("playback.completed", bus.PriorityHigh, c.handlePlaybackEnded)
	b.Subscribe("playback.failed", bus.PriorityHigh, c.handlePlaybackEnded)
	b.Subscribe("playback.cancelled", bus.PriorityHigh, c.handlePlaybackEnded)

	b.Subscribe("browser.started", bus.PriorityHigh, c.handleBrowserStarted)
	b.Subscribe("browser.completed", bus.PriorityHigh, c.handleBrowserEnded)
	b.Subscribe("browser.failed", bus.PriorityHigh, c.handleBrowserEnded)
	b.Subscribe("browser.cancelled", bus.PriorityHigh, c.handleBrowserEnded)

	b.Subscribe("actions.lifecycle.started", bus.PriorityHigh, c.handleActionsStarted)
	b.Subscribe("actions.lifecycle.finished", bus.PriorityHigh, c.handleActionsFinished)

	b.Subscribe("grpc.response.action", bus.PriorityHigh, c.handleGRPCResponseAction)

	return c
}

// handleModeRequest normalizes, dedups, and gates one mode.request event,
// applying the transition when all checks pass.
func (c *Controller) handleModeRequest(ctx context.Context, evt bus.Event) {
	req, ok := evt.Data.(RequestPayload)
	if !ok {
		c.logger.Warn("mode: malformed mode.request payload")
		return
	}

	target, ok := coerceMode(req.Target)
	if !ok {
		c.logger.Warn("mode: rejecting request with unknown target", "target", req.Target)
		return
	}

	if target == state.ModeProcessing && req.Session == nil {
		c.logger.Warn("mode: rejecting PROCESSING request without session", "source", req.Source)
		return
	}

	bypassDedup := req.Session != nil && dedupBypassSources[req.Source] && c.isDeferred(*req.Session)
	interruptOverride := req.Source == "interrupt" || req.Priority >= 90

	if !bypassDedup && !interruptOverride {
		if c.isDuplicate(req) {
			c.logger.Debug("mode: dropping duplicate request", "request_id", req.RequestID, "target", req.Target)
			return
		}
	}

	snap := c.store.Snapshot()

	if target == snap.Mode && !interruptOverride {
		// Same-mode requests are only legal as a session switch while
		// PROCESSING; a same-session duplicate is rejected.
		if snap.Mode == state.ModeProcessing {
			if req.Session != nil && snap.CurrentSession != nil && *req.Session == *snap.CurrentSession {
				c.logger.Debug("mode: rejecting same-session duplicate PROCESSING request")
				return
			}
			// Different session: fall through as an accepted session switch.
		} else {
			return
		}
	}

	if target == state.ModeSleeping && softFinalizerSources[req.Source] && !interruptOverride {
		guardSession := req.Session
		if guardSession == nil {
			guardSession = snap.CurrentSession
		}
		if guardSession != nil && c.hasBlockers(*guardSession) {
			c.mu.Lock()
			c.deferredSleep[*guardSession] = true
			c.mu.Unlock()
			c.logger.Debug("mode: deferring SLEEPING", "session", guardSession, "source", req.Source)
			return
		}
	}

	if !interruptOverride && !transitionAllowed(snap.Mode, target) {
		c.logger.Warn("mode: rejecting illegal transition", "from", snap.Mode, "to", target)
		return
	}

	c.store.SetMode(target, req.Session)
	c.armTimeout(ctx, target, req.Session)

	if req.Session != nil {
		c.mu.Lock()
		delete(c.deferredSleep, *req.Session)
		c.mu.Unlock()
	}
}

// isDuplicate applies the 0.5s dedup window, keyed by request_id when
// present and falling back to (target, session, source).
func (c *Controller) isDuplicate(req RequestPayload) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	c.sweepDedupLocked(now)

	if req.RequestID != "" {
		if e, ok := c.dedupByRequestID[req.RequestID]; ok && now.Sub(e.at) < c.cfg.DedupWindow {
			return true
		}
		c.dedupByRequestID[req.RequestID] = dedupEntry{at: now}
		return false
	}

	key := fallbackKey(req)
	if e, ok := c.dedupByFallback[key]; ok && now.Sub(e.at) < c.cfg.DedupWindow {
		return true
	}
	c.dedupByFallback[key] = dedupEntry{at: now}
	return false
}

func fallbackKey(req RequestPayload) string {
	sid := "none"
	if req.Session != nil {
		sid = req.Session.String()
	}
	return req.Target + "|" + sid + "|" + req.Source
}

// sweepDedupLocked evicts stale dedup entries. Caller holds c.mu.
func (c *Controller) sweepDedupLocked(now time.Time) {
	for k, e := range c.dedupByRequestID {
		if now.Sub(e.at) >= c.cfg.DedupWindow {
			delete(c.dedupByRequestID, k)
		}
	}
	for k, e := range c.dedupByFallback {
		if now.Sub(e.at) >= c.cfg.DedupWindow {
			delete(c.dedupByFallback, k)
		}
	}
}

func (c *Controller) isDeferred(session uuid.UUID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.deferredSleep[session]
}

// hasBlockers implements I3: playback active, browser active, action tasks
// outstanding, or a pending action intent within the TTL — for the given
// session, or (global fallback guard) for any other session, to protect
// against session-id drift.
func (c *Controller) hasBlockers(session uuid.UUID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.activePlayback[session] > 0 || c.activeBrowser[session] > 0 || c.activeActions[session] > 0 {
		return true
	}
	if at, ok := c.pendingActionIntents[session]; ok && time.Since(at) < c.cfg.ActionIntentTTL {
		return true
	}

	for sid, n := range c.activePlayback {
		if sid != session && n > 0 {
			return true
		}
	}
	for sid, n := range c.activeBrowser {
		if sid != session && n > 0 {
			return true
		}
	}
	for sid, n := range c.activeActions {
		if sid != session && n > 0 {
			return true
		}
	}
	return false
}

// armTimeout cancels any previously armed timeout and, if configured,
// arms a new one that requests SLEEPING when the mode/session is still
// current at expiry.
func (c *Controller) armTimeout(ctx context.Context, target state.Mode, session *uuid.UUID) {
	c.mu.Lock()
	if c.timeoutCancel != nil {
		c.timeoutCancel()
		c.timeoutCancel = nil
	}
	c.mu.Unlock()

	var d time.Duration
	switch target {
	case state.ModeProcessing:
		d = c.cfg.ProcessingTimeout
	case state.ModeListening:
		d = c.cfg.ListeningTimeout
	default:
		return
	}
	if d <= 0 {
		return
	}

	timeoutCtx, cancel := context.WithCancel(context.Background())
	c.mu.Lock()
	c.timeoutCancel = cancel
	c.mu.Unlock()

	go func() {
		t := time.NewTimer(d)
		defer t.Stop()
		select {
		case <-timeoutCtx.Done():
			return
		case <-t.C:
			snap := c.store.Snapshot()
			if snap.Mode != target {
				return
			}
			if session != nil && (snap.CurrentSession == nil || *snap.CurrentSession != *session) {
				return
			}
			c.bus.Publish(ctx, "mode.request", RequestPayload{
				Target: string(state.ModeSleeping),
				Source: "mode.timeout",
			})
		}
	}()
}

// emitDeferredSleep re-requests the SLEEPING transition that was deferred
// for session. checkQuiescence clears the deferred flag before calling it,
// so this request goes through the ordinary dedup check (fallback key, as
// it carries no request_id) rather than the dedupBypassSources path.
func (c *Controller) emitDeferredSleep(ctx context.Context, session uuid.UUID, source string) {
	c.bus.Publish(ctx, "mode.request", RequestPayload{
		Target:  string(state.ModeSleeping),
		Source:  source,
		Session: &session,
	})
}

// checkQuiescence re-evaluates blockers for a deferred session and, once
// clear, emits its deferred SLEEPING request exactly once.
func (c *Controller) checkQuiescence(ctx context.Context, session uuid.UUID) {
	if !c.isDeferred(session) {
		return
	}
	if c.hasBlockers(session) {
		return
	}
	c.mu.Lock()
	delete(c.deferredSleep, session)
	c.mu.Unlock()
	c.emitDeferredSleep(ctx, session, "playback.finished")
}

func sessionFromEvent(data any) (uuid.UUID, bool) {
	type hasSession interface {
		SessionID() uuid.UUID
	}
	if hs, ok := data.(hasSession); ok {
		return hs.SessionID(), true
	}
	return uuid.UUID{}, false
}

func (c *Controller) handlePlaybackStarted(ctx context.Context, evt bus.Event) {
	session, ok := sessionFromEvent(evt.Data)
	if !ok {
		return
	}
	c.mu.Lock()
	c.activePlayback[session]++
	c.mu.Unlock()
}

func (c *Controller) handlePlaybackEnded(ctx context.Context, evt bus.Event) {
	session, ok := sessionFromEvent(evt.Data)
	if !ok {
		return
	}
	c.mu.Lock()
	if c.activePlayback[session] > 0 {
		c.activePlayback[session]--
	}
	c.mu.Unlock()
	c.checkQuiescence(ctx, session)
}

func (c *Controller) handleBrowserStarted(ctx context.Context, evt bus.Event) {
	session, ok := sessionFromEvent(evt.Data)
	if !ok {
		return
	}
	c.mu.Lock()
	c.activeBrowser[session]++
	c.mu.Unlock()
}

func (c *Controller) handleBrowserEnded(ctx context.Context, evt bus.Event) {
	session, ok := sessionFromEvent(evt.Data)
	if !ok {
		return
	}
	c.mu.Lock()
	if c.activeBrowser[session] > 0 {
		c.activeBrowser[session]--
	}
	c.mu.Unlock()
	c.checkQuiescence(ctx, session)
}

func (c *Controller) handleActionsStarted(ctx context.Context, evt bus.Event) {
	session, ok := sessionFromEvent(evt.Data)
	if !ok {
		return
	}
	c.mu.Lock()
	c.activeActions[session]++
	c.mu.Unlock()
}

func (c *Controller) handleActionsFinished(ctx context.Context, evt bus.Event) {
	session, ok := sessionFromEvent(evt.Data)
	if !ok {
		return
	}
	c.mu.Lock()
	if c.activeActions[session] > 0 {
		c.activeActions[session]--
	}
	c.mu.Unlock()
	c.checkQuiescence(ctx, session)
}

func (c *Controller) handleGRPCResponseAction(ctx context.Context, evt bus.Event) {
	session, ok := sessionFromEvent(evt.Data)
	if !ok {
		return
	}
	c.mu.Lock()
	c.pendingActionIntents[session] = time.Now()
	c.mu.Unlock()
}
