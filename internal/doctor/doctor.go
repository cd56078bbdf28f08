// Package doctor runs runtime readiness diagnostics for config, tools, and audio devices.
package doctor

import (
	"context"
	"fmt"
	"os/exec"
	"runtime"
	"strings"

	"github.com/rbright/sottod/internal/audio"
	"github.com/rbright/sottod/internal/config"
)

// Check is one doctor assertion result.
type Check struct {
	Name    string
	Pass    bool
	Message string
}

// Report is the full doctor output contract.
type Report struct {
	Checks []Check
}

// OK returns true when all checks pass.
func (r Report) OK() bool {
	for _, check := range r.Checks {
		if !check.Pass {
			return false
		}
	}
	return true
}

// String renders the report as user-facing text output.
func (r Report) String() string {
	var b strings.Builder
	for _, check := range r.Checks {
		status := "OK"
		if !check.Pass {
			status = "FAIL"
		}
		b.WriteString(fmt.Sprintf("[%s] %s: %s\n", status, check.Name, check.Message))
	}
	return strings.TrimSuffix(b.String(), "\n")
}

// Run executes environment/config/runtime checks for a loaded config.
func Run(cfg config.Loaded) Report {
	checks := []Check{}

	checks = append(checks, Check{
		Name:    "config",
		Pass:    true,
		Message: fmt.Sprintf("loaded %q", cfg.Path),
	})

	checks = append(checks, checkAudioSelection(cfg.Config))
	checks = append(checks, checkScreenshotTool(cfg.Config))
	checks = append(checks, checkControlSocketDir(cfg.Config))

	if cfg.Config.PTT.Key != "" {
		checks = append(checks, checkPTTBackend())
	}

	return Report{Checks: checks}
}

// checkCommand validates that argv contains a runnable command.
func checkCommand(argv []string, name string) Check {
	if len(argv) == 0 {
		return Check{Name: name, Pass: false, Message: "command is empty"}
	}
	return checkBinary(argv[0], fmt.Sprintf("%s command is available", name))
}

// checkBinary validates that a binary exists in PATH.
func checkBinary(bin string, okMsg string) Check {
	path, err := exec.LookPath(bin)
	if err != nil {
		return Check{Name: bin, Pass: false, Message: fmt.Sprintf("binary not found in PATH: %s", bin)}
	}
	return Check{Name: bin, Pass: true, Message: fmt.Sprintf("found at %s (%s)", path, okMsg)}
}

// checkAudioSelection runs live device selection to surface selection/fallback issues.
func checkAudioSelection(cfg config.Config) Check {
	selection, err := audio.SelectDevice(context.Background(), cfg.Audio.Input, cfg.Audio.Fallback)
	if err != nil {
		return Check{Name: "audio.device", Pass: false, Message: err.Error()}
	}
	message := fmt.Sprintf("selected %q", selection.Device.ID)
	if selection.Warning != "" {
		message = message + " (" + selection.Warning + ")"
	}
	return Check{Name: "audio.device", Pass: true, Message: message}
}

// checkScreenshotTool validates the platform screenshot binary or an
// operator-configured override is runnable.
func checkScreenshotTool(cfg config.Config) Check {
	if len(cfg.Screenshot.Command.Argv) > 0 {
		return checkCommand(cfg.Screenshot.Command.Argv, "screenshot.command")
	}
	if runtime.GOOS == "darwin" {
		return checkBinary("screencapture", "default screenshot capturer")
	}
	return checkBinary("grim", "default screenshot capturer")
}

// checkControlSocketDir validates that a control socket path is configured.
// The directory itself is not inspected; actual binding happens at daemon
// startup via control.Acquire.
func checkControlSocketDir(cfg config.Config) Check {
	if strings.TrimSpace(cfg.Control.SocketPath) == "" {
		return Check{Name: "control.socket", Pass: false, Message: "control.socket_path is empty"}
	}
	return Check{Name: "control.socket", Pass: true, Message: fmt.Sprintf("resolved %q", cfg.Control.SocketPath)}
}

// checkPTTBackend reports whether a platform PTT key-monitor backend
// exists for the current OS; only darwin ships one (internal/ptt/backend_darwin.go).
func checkPTTBackend() Check {
	if runtime.GOOS == "darwin" {
		return Check{Name: "ptt.backend", Pass: true, Message: "darwin CoreGraphics key monitor available"}
	}
	return Check{Name: "ptt.backend", Pass: false, Message: fmt.Sprintf("no PTT key-monitor backend for GOOS=%s", runtime.GOOS)}
}
