// Package main provides the sottoctl client process entrypoint.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/rbright/sottod/internal/audio"
	"github.com/rbright/sottod/internal/cli"
	"github.com/rbright/sottod/internal/config"
	"github.com/rbright/sottod/internal/control"
	"github.com/rbright/sottod/internal/doctor"
	"github.com/rbright/sottod/internal/version"
)

const sendTimeout = 500 * time.Millisecond

func main() {
	os.Exit(run(context.Background(), os.Args[1:], os.Stdout, os.Stderr))
}

func run(ctx context.Context, args []string, stdout, stderr *os.File) int {
	parsed, err := cli.Parse(args)
	if err != nil {
		fmt.Fprintf(stderr, "error: %v\n\n", err)
		fmt.Fprint(stderr, cli.HelpText("sottoctl"))
		return 2
	}

	if parsed.ShowHelp {
		fmt.Fprint(stdout, cli.HelpText("sottoctl"))
		return 0
	}

	if parsed.Command == cli.CommandVersion {
		fmt.Fprintln(stdout, version.String())
		return 0
	}

	cfgLoaded, err := config.Load(parsed.ConfigPath)
	if err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return 1
	}

	switch parsed.Command {
	case cli.CommandDoctor:
		report := doctor.Run(cfgLoaded)
		fmt.Fprintln(stdout, report.String())
		if report.OK() {
			return 0
		}
		return 1
	case cli.CommandDevices:
		return commandDevices(ctx, stdout, stderr)
	case cli.CommandStatus:
		return forward(ctx, cfgLoaded.Config.Control.SocketPath, control.Request{Command: "status"}, stdout, stderr)
	case cli.CommandQuit:
		return forward(ctx, cfgLoaded.Config.Control.SocketPath, control.Request{Command: "quit"}, stdout, stderr)
	case cli.CommandMode:
		req := control.Request{Command: "mode", Args: map[string]string{"target": parsed.Arg}}
		return forward(ctx, cfgLoaded.Config.Control.SocketPath, req, stdout, stderr)
	default:
		fmt.Fprintf(stderr, "error: unsupported command %q\n", parsed.Command)
		return 2
	}
}

func commandDevices(ctx context.Context, stdout, stderr *os.File) int {
	devices, err := audio.ListDevices(ctx)
	if err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return 1
	}
	if len(devices) == 0 {
		fmt.Fprintln(stdout, "no audio devices found")
		return 1
	}
	for _, device := range devices {
		defaultMark := " "
		if device.Default {
			defaultMark = "*"
		}
		fmt.Fprintf(stdout, "%s id=%s | description=%q | state=%s\n", defaultMark, device.ID, device.Description, device.State)
	}
	return 0
}

func forward(ctx context.Context, socketPath string, req control.Request, stdout, stderr *os.File) int {
	resp, err := control.Send(ctx, socketPath, req, sendTimeout)
	if err != nil {
		fmt.Fprintf(stderr, "error: no running sottod daemon at %s: %v\n", socketPath, err)
		return 1
	}
	if !resp.OK {
		fmt.Fprintf(stderr, "error: %s\n", resp.Error)
		return 1
	}
	if resp.Mode != "" {
		fmt.Fprintln(stdout, resp.Mode)
	}
	if resp.Message != "" {
		fmt.Fprintln(stdout, resp.Message)
	}
	return 0
}
