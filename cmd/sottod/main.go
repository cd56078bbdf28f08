// Package main provides the sottod daemon process entrypoint.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rbright/sottod/internal/app"
	"github.com/rbright/sottod/internal/config"
	"github.com/rbright/sottod/internal/logging"
	"github.com/rbright/sottod/internal/version"
)

const helpText = `Usage:
  sottod [--config PATH]

Flags:
  --config PATH   Config file path (default: $XDG_CONFIG_HOME/sottod/config.jsonc)
  -h, --help      Show help
  --version       Show version
`

type daemonArgs struct {
	configPath  string
	showHelp    bool
	showVersion bool
}

func parseDaemonArgs(args []string) (daemonArgs, error) {
	var parsed daemonArgs
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "-h", "--help":
			parsed.showHelp = true
		case "--version":
			parsed.showVersion = true
		case "--config":
			i++
			if i >= len(args) {
				return daemonArgs{}, errors.New("--config requires a path")
			}
			parsed.configPath = args[i]
		default:
			return daemonArgs{}, fmt.Errorf("unknown argument: %s", args[i])
		}
	}
	return parsed, nil
}

func main() {
	os.Exit(run())
}

func run() int {
	parsed, err := parseDaemonArgs(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n\n", err)
		fmt.Fprint(os.Stderr, helpText)
		return 2
	}

	if parsed.showHelp {
		fmt.Fprint(os.Stdout, helpText)
		return 0
	}

	if parsed.showVersion {
		fmt.Fprintln(os.Stdout, version.String())
		return 0
	}

	logRuntime, err := logging.New()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: setup logging: %v\n", err)
		return 1
	}
	defer func() { _ = logRuntime.Close() }()

	cfgLoaded, err := config.Load(parsed.configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		logRuntime.Logger.Error("load config failed", "error", err.Error())
		return 1
	}
	for _, w := range cfgLoaded.Warnings {
		fmt.Fprintf(os.Stderr, "warning: %s\n", w.Message)
		logRuntime.Logger.Warn("config warning", "line", w.Line, "message", w.Message)
	}

	daemon, err := app.New(cfgLoaded.Config, logRuntime.Logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := daemon.Run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		logRuntime.Logger.Error("daemon exited with error", "error", err.Error())
		return 1
	}

	return 0
}
