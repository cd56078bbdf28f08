package app

import (
	"context"
	"log/slog"
	"testing"

	"github.com/rbright/sottod/internal/bus"
	"github.com/rbright/sottod/internal/control"
	"github.com/rbright/sottod/internal/state"
	"github.com/stretchr/testify/require"
)

func newTestDaemon(t *testing.T) *Daemon {
	t.Helper()
	b := bus.New(slog.Default())
	store := state.New(b)
	return &Daemon{bus: b, store: store, logger: slog.Default()}
}

func TestHandleControlStatusReportsCurrentMode(t *testing.T) {
	d := newTestDaemon(t)

	resp := d.handleControl(context.Background(), control.Request{Command: "status"})
	require.True(t, resp.OK)
	require.Equal(t, "sleeping", resp.Mode)
}

func TestHandleControlModeRequiresTarget(t *testing.T) {
	d := newTestDaemon(t)

	resp := d.handleControl(context.Background(), control.Request{Command: "mode"})
	require.False(t, resp.OK)
	require.Contains(t, resp.Error, "target")
}

func TestHandleControlModePublishesRequest(t *testing.T) {
	d := newTestDaemon(t)

	received := make(chan struct{}, 1)
	d.bus.Subscribe("mode.request", bus.PriorityLow, func(_ context.Context, _ bus.Event) {
		received <- struct{}{}
	})

	resp := d.handleControl(context.Background(), control.Request{
		Command: "mode",
		Args:    map[string]string{"target": "listening"},
	})
	require.True(t, resp.OK)
	require.Equal(t, "listening", resp.Mode)

	select {
	case <-received:
	default:
		t.Fatal("expected mode.request to be published")
	}
}

func TestHandleControlUnknownCommand(t *testing.T) {
	d := newTestDaemon(t)

	resp := d.handleControl(context.Background(), control.Request{Command: "bogus"})
	require.False(t, resp.OK)
	require.Contains(t, resp.Error, "unknown command")
}

func TestDurationFromSeconds(t *testing.T) {
	require.Zero(t, durationFromSeconds(0))
	require.Zero(t, durationFromSeconds(-1))
	require.Equal(t, int64(500_000_000), durationFromSeconds(0.5).Nanoseconds())
}
