// Package notifier announces mode changes to the desktop, debounced so a
// rapid run of transitions (a short press immediately followed by
// another) produces one notification instead of a flood, and gated so
// only "significant" steps — entering LISTENING, PROCESSING or SLEEPING
// (with the committed transcript when there is one) — actually surface.
package notifier

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gen2brain/beeep"

	"github.com/rbright/sottod/internal/bus"
	"github.com/rbright/sottod/internal/state"
	"github.com/rbright/sottod/internal/transcript"
)

// debounceWindow collapses mode changes that land within this interval of
// one another into a single announcement of the latest state.
const debounceWindow = 150 * time.Millisecond

// Announcer sends one announcement to the user.
type Announcer interface {
	Announce(title, body string) error
}

// BeeepAnnouncer sends a desktop notification via beeep.
type BeeepAnnouncer struct {
	AppIcon string
}

// Announce shows a desktop notification.
func (a BeeepAnnouncer) Announce(title, body string) error {
	return beeep.Notify(title, body, a.AppIcon)
}

// Notifier debounces and gates app.mode_changed announcements.
type Notifier struct {
	bus      *bus.Bus
	announce Announcer
	logger   *slog.Logger
	opts     transcript.Options

	mu         sync.Mutex
	pending    state.Mode
	hasPending bool
	timer      *time.Timer

	lastTranscript string
}

// New constructs a Notifier and subscribes it to app.mode_changed and
// voice.recognition_completed (to caption the SLEEPING announcement with
// the committed transcript, shaped according to opts).
func New(b *bus.Bus, announce Announcer, logger *slog.Logger, opts transcript.Options) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	n := &Notifier{bus: b, announce: announce, logger: logger, opts: opts}
	b.Subscribe("app.mode_changed", bus.PriorityLow, n.handleModeChanged)
	b.Subscribe("voice.recognition_completed", bus.PriorityLow, n.handleTranscript)
	return n
}

func (n *Notifier) handleTranscript(ctx context.Context, evt bus.Event) {
	p, ok := evt.Data.(interface{ TranscriptText() string })
	if !ok {
		return
	}
	n.mu.Lock()
	n.lastTranscript = p.TranscriptText()
	n.mu.Unlock()
}

func (n *Notifier) handleModeChanged(ctx context.Context, evt bus.Event) {
	payload, ok := evt.Data.(state.ModeChangedPayload)
	if !ok || !isSignificant(payload.Mode) {
		return
	}

	n.mu.Lock()
	n.pending = payload.Mode
	n.hasPending = true
	if n.timer != nil {
		n.timer.Stop()
	}
	n.timer = time.AfterFunc(debounceWindow, n.flush)
	n.mu.Unlock()
}

func isSignificant(m state.Mode) bool {
	switch m {
	case state.ModeListening, state.ModeProcessing, state.ModeSleeping:
		return true
	default:
		return false
	}
}

func (n *Notifier) flush() {
	n.mu.Lock()
	if !n.hasPending {
		n.mu.Unlock()
		return
	}
	mode := n.pending
	n.hasPending = false
	transcriptText := n.lastTranscript
	n.lastTranscript = ""
	n.mu.Unlock()

	title, body := n.messageFor(mode, transcriptText)
	if n.announce == nil {
		return
	}
	if err := n.announce.Announce(title, body); err != nil {
		n.logger.Debug("notifier: announce failed", "error", err)
	}
}

func (n *Notifier) messageFor(mode state.Mode, transcriptText string) (string, string) {
	switch mode {
	case state.ModeListening:
		return "sottod", "Listening"
	case state.ModeProcessing:
		return "sottod", "Processing"
	case state.ModeSleeping:
		if transcriptText == "" {
			return "sottod", "Sleeping"
		}
		shaped := transcript.Assemble([]string{transcriptText}, n.opts)
		return "sottod", fmt.Sprintf("Heard: %s", shaped)
	default:
		return "sottod", string(mode)
	}
}
