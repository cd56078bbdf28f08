// Package app wires every bus-driven component into one running daemon
// and serves the control-plane socket sottoctl talks to.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"time"

	"github.com/rbright/sottod/internal/bus"
	"github.com/rbright/sottod/internal/config"
	"github.com/rbright/sottod/internal/control"
	"github.com/rbright/sottod/internal/interrupt"
	"github.com/rbright/sottod/internal/mode"
	"github.com/rbright/sottod/internal/notifier"
	"github.com/rbright/sottod/internal/playback"
	"github.com/rbright/sottod/internal/ptt"
	"github.com/rbright/sottod/internal/screenshot"
	"github.com/rbright/sottod/internal/signal"
	"github.com/rbright/sottod/internal/state"
	"github.com/rbright/sottod/internal/telemetry"
	"github.com/rbright/sottod/internal/transcript"
	"github.com/rbright/sottod/internal/voice"
)

// Daemon owns every long-lived component sottod wires together.
type Daemon struct {
	bus    *bus.Bus
	store  *state.Store
	logger *slog.Logger
	cfg    config.Config

	playbackDevice playback.Device
	pttBackend     *ptt.DarwinBackend

	socketPath string
}

// New wires every component against a freshly constructed bus and state
// store but does not start listening or serving yet.
func New(cfg config.Config, logger *slog.Logger) (*Daemon, error) {
	if logger == nil {
		logger = slog.Default()
	}

	b := bus.New(logger)
	store := state.New(b)

	mode.New(b, store, logger, mode.Config{
		DedupWindow:       durationFromSeconds(cfg.Mode.RequestDedupWindowSec),
		ActionIntentTTL:   durationFromSeconds(cfg.Mode.ActionIntentTTLSec),
		ProcessingTimeout: durationFromSeconds(cfg.Mode.ProcessingTimeoutSec),
		ListeningTimeout:  durationFromSeconds(cfg.Mode.ListeningTimeoutSec),
	})

	translator := ptt.New(b, store, logger, ptt.Config{
		LongPressThreshold:   durationFromSeconds(cfg.PTT.LongPressThreshold),
		MinRecordingDuration: durationFromSeconds(cfg.PTT.MinRecordingDuration),
	})

	var backend *ptt.DarwinBackend
	if runtime.GOOS == "darwin" {
		backend = ptt.NewDarwinBackend(translator)
	}

	voice.New(b, store, voice.NullEngine{}, logger, voice.Config{
		InputDevice:    cfg.Audio.Input,
		FallbackDevice: cfg.Audio.Fallback,
	})

	capturer := screenshot.CLICapturer{Argv: cfg.Screenshot.Command.Argv}
	screenshotSvc := screenshot.New(capturer, logger)
	screenshot.Attach(b, screenshotSvc)

	device, err := playback.NewMalgoDevice(uint32(cfg.Playback.SampleRate))
	if err != nil {
		return nil, fmt.Errorf("open playback device: %w", err)
	}
	playback.New(b, device, logger)

	signal.New(b, signal.PulsePlayer{}, store, logger)

	notifier.New(b, notifier.BeeepAnnouncer{}, logger, transcript.Options{
		TrailingSpace:       cfg.Transcript.TrailingSpace,
		CapitalizeSentences: cfg.Transcript.CapitalizeSentences,
	})

	interruptCoordinator := interrupt.New(b, logger)
	interruptCoordinator.Handle("speech_stop", func(ctx context.Context, req interrupt.Request) error {
		b.Publish(ctx, "playback.signal", playback.SignalPayload{Kind: "cancel"})
		return nil
	})

	metrics := telemetry.Default()
	b.Subscribe("app.mode_changed", bus.PriorityLow, func(ctx context.Context, evt bus.Event) {
		payload, ok := evt.Data.(state.ModeChangedPayload)
		if !ok {
			return
		}
		metrics.RecordModeTransition(ctx, string(payload.Mode))
	})

	return &Daemon{
		bus:            b,
		store:          store,
		logger:         logger,
		cfg:            cfg,
		playbackDevice: device,
		pttBackend:     backend,
		socketPath:     cfg.Control.SocketPath,
	}, nil
}

// Run starts the bus loop, the PTT hardware backend (if any), and serves
// the control socket until ctx is cancelled.
func (d *Daemon) Run(ctx context.Context) error {
	telemetryShutdown, err := telemetry.Init(ctx, telemetry.Config{
		Enable:       d.cfg.Telemetry.Enable,
		OTLPEndpoint: d.cfg.Telemetry.OTLPEndpoint,
		ServiceName:  d.cfg.Telemetry.ServiceName,
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = telemetryShutdown(shutdownCtx)
	}()

	listener, err := control.Acquire(ctx, d.socketPath, 180*time.Millisecond, 8, nil)
	if err != nil {
		return fmt.Errorf("acquire control socket: %w", err)
	}
	defer func() {
		_ = listener.Close()
		_ = os.Remove(d.socketPath)
	}()

	busCtx, busCancel := context.WithCancel(ctx)
	defer busCancel()
	go d.bus.Run(busCtx)

	if d.pttBackend != nil {
		go d.pttBackend.Run()
		defer d.pttBackend.Stop()
	}

	d.logger.Info("sottod started", "socket", d.socketPath)

	serveErrCh := make(chan error, 1)
	go func() {
		serveErrCh <- control.Serve(ctx, listener, control.HandlerFunc(d.handleControl))
	}()

	select {
	case <-ctx.Done():
		_ = listener.Close()
		<-serveErrCh
		_ = d.playbackDevice.Close()
		return nil
	case err := <-serveErrCh:
		_ = d.playbackDevice.Close()
		return err
	}
}

// handleControl answers sottoctl's control-socket requests.
func (d *Daemon) handleControl(ctx context.Context, req control.Request) control.Response {
	switch req.Command {
	case "status":
		snap := d.store.Snapshot()
		return control.Response{OK: true, Mode: string(snap.Mode)}
	case "mode":
		target, ok := req.Args["target"]
		if !ok || target == "" {
			return control.Response{OK: false, Error: "mode command requires a target argument"}
		}
		d.bus.Publish(ctx, "mode.request", mode.RequestPayload{
			Target: target,
			Source: "control",
		})
		return control.Response{OK: true, Mode: target, Message: "requested"}
	case "quit":
		go func() {
			time.Sleep(50 * time.Millisecond)
			_ = d.playbackDevice.Close()
			os.Exit(0)
		}()
		return control.Response{OK: true, Message: "shutting down"}
	default:
		return control.Response{OK: false, Error: fmt.Sprintf("unknown command: %s", req.Command)}
	}
}

func durationFromSeconds(v float64) time.Duration {
	if v <= 0 {
		return 0
	}
	return time.Duration(v * float64(time.Second))
}
