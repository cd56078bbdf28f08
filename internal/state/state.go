// Package state holds the process-wide mode/session/permission snapshot
// that every other control-plane component reads. Mode and session are
// written only by the Mode Controller (internal/mode); all other axes are
// written by their owning component. Readers must go through Snapshot —
// nothing reaches into the store's fields directly.
package state

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/rbright/sottod/internal/bus"
)

// Mode is the coarse application state.
type Mode string

const (
	ModeSleeping   Mode = "sleeping"
	ModeListening  Mode = "listening"
	ModeProcessing Mode = "processing"
)

// PermissionState is one OS permission axis value.
type PermissionState string

const (
	PermissionGranted       PermissionState = "granted"
	PermissionDenied        PermissionState = "denied"
	PermissionPromptBlocked PermissionState = "prompt_blocked"
)

// DeviceInputState reports whether the configured input device is usable.
type DeviceInputState string

const (
	DeviceInputOK   DeviceInputState = "ok"
	DeviceInputBusy DeviceInputState = "busy"
)

// NetworkState reports reachability of the remote inference backend.
type NetworkState string

const (
	NetworkOnline  NetworkState = "online"
	NetworkOffline NetworkState = "offline"
)

// Snapshot is an immutable value produced on demand from the Store. All
// decision logic in other components consumes Snapshots; nothing reaches
// into the Store directly. Equal snapshots taken without intervening
// writes compare equal by structural equality (see
// TestSnapshotRoundTripWithoutInterveningWrites).
type Snapshot struct {
	PermMic           PermissionState
	PermScreen        PermissionState
	PermAccessibility PermissionState
	DeviceInput       DeviceInputState
	Network           NetworkState
	FirstRun          bool
	Mode              Mode
	RestartPending    bool
	PTTPressed        bool
	CurrentSession    *uuid.UUID
}

// Store is the single source of truth for the axes above plus a
// miscellaneous flag bag. Mode and CurrentSession are written only via
// SetMode/UpdateSessionID (the Mode Controller's exclusive path); every
// other field is written by its owning component.
type Store struct {
	bus *bus.Bus

	mu sync.RWMutex

	permMic           PermissionState
	permScreen        PermissionState
	permAccessibility PermissionState
	deviceInput       DeviceInputState
	network           NetworkState
	firstRun          bool
	mode              Mode
	restartPending    bool
	pttPressed        bool
	currentSession    *uuid.UUID

	flags map[string]any
}

// New constructs a Store in its initial state: SLEEPING mode, no session,
// permissions unknown (denied) until the permission subsystem reports in.
func New(b *bus.Bus) *Store {
	return &Store{
		bus:               b,
		permMic:           PermissionDenied,
		permScreen:        PermissionDenied,
		permAccessibility: PermissionDenied,
		deviceInput:       DeviceInputOK,
		network:           NetworkOnline,
		mode:              ModeSleeping,
		flags:             make(map[string]any),
	}
}

// Snapshot captures a consistent, torn-read-free view of every axis.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var session *uuid.UUID
	if s.currentSession != nil {
		cp := *s.currentSession
		session = &cp
	}

	return Snapshot{
		PermMic:           s.permMic,
		PermScreen:        s.permScreen,
		PermAccessibility: s.permAccessibility,
		DeviceInput:       s.deviceInput,
		Network:           s.network,
		FirstRun:          s.firstRun,
		Mode:              s.mode,
		RestartPending:    s.restartPending,
		PTTPressed:        s.pttPressed,
		CurrentSession:    session,
	}
}

// SetMode is the sole path for changing Mode. On a real delta it updates
// session (if provided) and emits app.mode_changed then app.state_changed.
// This is exported for the Mode Controller only; other components must
// request transitions via mode.request on the bus instead of calling this
// directly (see internal/mode).
func (s *Store) SetMode(mode Mode, session *uuid.UUID) {
	s.mu.Lock()
	changed := s.mode != mode
	s.mode = mode
	if session != nil {
		cp := *session
		s.currentSession = &cp
	} else if mode == ModeSleeping {
		s.currentSession = nil
	}
	sessionID := s.currentSession
	s.mu.Unlock()

	if !changed {
		return
	}
	if s.bus == nil {
		return
	}
	ctx := context.Background()
	s.bus.Publish(ctx, "app.mode_changed", ModeChangedPayload{Mode: mode, Session: sessionID})
	s.bus.Publish(ctx, "app.state_changed", nil)
}

// ModeChangedPayload is the app.mode_changed event payload.
type ModeChangedPayload struct {
	Mode    Mode
	Session *uuid.UUID
}

// UpdateSessionID changes the current session without emitting a mode
// change event, used when recording starts to avoid spurious interrupts.
func (s *Store) UpdateSessionID(session *uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if session == nil {
		s.currentSession = nil
		return
	}
	cp := *session
	s.currentSession = &cp
}

// SetPermission updates one permission axis.
func (s *Store) SetPermission(axis string, value PermissionState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch axis {
	case "mic":
		s.permMic = value
	case "screen":
		s.permScreen = value
	case "accessibility":
		s.permAccessibility = value
	}
}

// SetDeviceInput updates the input-device availability axis.
func (s *Store) SetDeviceInput(v DeviceInputState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deviceInput = v
}

// SetNetwork updates the network reachability axis.
func (s *Store) SetNetwork(v NetworkState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.network = v
}

// SetFirstRun updates the first-run-in-progress axis.
func (s *Store) SetFirstRun(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.firstRun = v
}

// SetRestartPending updates the restart-pending axis.
func (s *Store) SetRestartPending(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.restartPending = v
}

// SetPTTPressed updates the PTT-held axis. Owned by the input translator.
func (s *Store) SetPTTPressed(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pttPressed = v
}

// Set stores a miscellaneous flag (update_in_progress, user_quit_intent, …).
func (s *Store) Set(key string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flags[key] = value
}

// Get reads a miscellaneous flag, returning def if unset.
func (s *Store) Get(key string, def any) any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if v, ok := s.flags[key]; ok {
		return v
	}
	return def
}

// GetBool is a typed convenience wrapper over Get.
func (s *Store) GetBool(key string) bool {
	v, _ := s.Get(key, false).(bool)
	return v
}
