// Package screenshot captures one screen image per session, replays the
// cached capture if PROCESSING is entered more than once for the same
// session, and evicts the least recently used entry once more than 128
// sessions have been captured. No screen-capture library appears anywhere
// in the example pack (the teacher exec's hyprctl/pulse-protocol binaries,
// never a pixel-capture API); rather than fabricate a dependency this
// shells out to a platform screenshot utility (see CLICapturer).
package screenshot

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"runtime"
	"sync"

	"github.com/google/uuid"
)

const maxCached = 128

// Capturer takes one screenshot and returns its encoded bytes.
type Capturer interface {
	Capture(ctx context.Context) ([]byte, error)
}

// CLICapturer shells out to the platform's screenshot utility: macOS's
// screencapture, grim under Wayland/Hyprland elsewhere. Argv overrides
// that default with an operator-supplied command (config screenshot.command).
type CLICapturer struct {
	Argv []string
}

// Capture runs the platform tool and returns the resulting image bytes.
func (c CLICapturer) Capture(ctx context.Context) ([]byte, error) {
	name, args := platformCommand()
	if len(c.Argv) > 0 {
		name, args = c.Argv[0], c.Argv[1:]
	}
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout bytes.Buffer
	cmd.Stdout = &stdout
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		trimmed := stderr.String()
		if trimmed == "" {
			return nil, fmt.Errorf("%s failed: %w", name, err)
		}
		return nil, fmt.Errorf("%s failed: %w (%s)", name, err, trimmed)
	}
	return stdout.Bytes(), nil
}

func platformCommand() (string, []string) {
	if runtime.GOOS == "darwin" {
		return "screencapture", []string{"-x", "-t", "png", "-"}
	}
	return "grim", []string{"-"}
}

type cacheEntry struct {
	session uuid.UUID
	data    []byte
}

// Service captures at most one screenshot per session and replays it on
// repeat PROCESSING entries, bounded to maxCached sessions (LRU
// eviction).
type Service struct {
	capturer Capturer
	logger   *slog.Logger

	mu      sync.Mutex
	order   []uuid.UUID
	entries map[uuid.UUID][]byte
}

// New constructs a Service. A nil capturer defaults to CLICapturer.
func New(capturer Capturer, logger *slog.Logger) *Service {
	if capturer == nil {
		capturer = CLICapturer{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		capturer: capturer,
		logger:   logger,
		entries:  make(map[uuid.UUID][]byte),
	}
}

// CaptureForSession returns the cached screenshot for session, capturing
// one if this is the session's first call (idempotent per session).
func (s *Service) CaptureForSession(ctx context.Context, session uuid.UUID) ([]byte, error) {
	s.mu.Lock()
	if data, ok := s.entries[session]; ok {
		// Cache hit: mark the session most recently used.
		for i, sid := range s.order {
			if sid == session {
				s.order = append(s.order[:i], s.order[i+1:]...)
				s.order = append(s.order, session)
				break
			}
		}
		s.mu.Unlock()
		return data, nil
	}
	s.mu.Unlock()

	data, err := s.capturer.Capture(ctx)
	if err != nil {
		s.logger.Warn("screenshot: capture failed", "session", session, "error", err)
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.entries[session]; ok {
		// Lost a capture race against a concurrent call for the same
		// session: keep the first one cached, discard ours.
		return existing, nil
	}
	s.entries[session] = data
	s.order = append(s.order, session)
	if len(s.order) > maxCached {
		oldest := s.order[0]
		s.order = s.order[1:]
		delete(s.entries, oldest)
	}
	return data, nil
}

// Forget drops a cached screenshot, e.g. once the session is fully
// committed and its image will never be replayed again.
func (s *Service) Forget(session uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, session)
	for i, sid := range s.order {
		if sid == session {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
}
