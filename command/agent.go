// Copyright (c) Resource Tuner Authors
// SPDX-License-Identifier: BUSL-1.1

// Package command implements the `urm` CLI surface (spec.md §6):
// `urm --start` (or `--help`), grounded on the teacher's
// command/agent.Command shape (a flag.FlagSet-driven cli.Command that
// loads config, builds the long-running process, and blocks until a
// shutdown signal) even though the teacher's own command.go
// implementation wasn't among the files retrieved into this pack —
// only command/agent/command_test.go was, and its TestCommand_Args/
// TestCommand_Implements cases are what ground this file's flag names
// and the `var _ cli.Command = &Command{}` shape below.
package command

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/hashicorp/cli"
	"github.com/posener/complete"

	"github.com/resourcetuner/urm/internal/config"
	"github.com/resourcetuner/urm/internal/core"
	"github.com/resourcetuner/urm/internal/metrics"
)

// Command implements cli.Command for the `urm` binary. There is only
// one command (spec.md §6 names no subcommands), so main.go invokes it
// directly rather than going through a cli.CLI multiplexer.
type Command struct {
	Ui cli.Ui

	// ShutdownCh, when non-nil, is selected on alongside SIGINT/SIGTERM
	// to trigger a clean shutdown — tests supply one instead of
	// sending the process a real signal.
	ShutdownCh <-chan struct{}
}

var _ cli.Command = &Command{}
var _ cli.CommandAutocomplete = &Command{}

type agentFlags struct {
	start  bool
	help   bool
	paths  config.Paths
	log    core.LogConfig
	statsd string
}

func (c *Command) flagSet() (*flag.FlagSet, *agentFlags) {
	var f agentFlags
	fs := flag.NewFlagSet("agent", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	fs.BoolVar(&f.start, "start", false, "start the resource tuner daemon")
	fs.BoolVar(&f.help, "help", false, "print this help text")
	fs.StringVar(&f.paths.Resources, "resources", "", "path to ResourcesConfig.yaml")
	fs.StringVar(&f.paths.CustomResources, "custom-resources", "", "path to a custom resource overlay")
	fs.StringVar(&f.paths.Properties, "properties", "", "path to PropertiesConfig.yaml")
	fs.StringVar(&f.paths.Init, "init", "", "path to InitConfig.yaml (cgroup/mpam/cache)")
	fs.StringVar(&f.paths.Target, "target", "", "path to TargetConfig.yaml (topology override)")
	fs.StringVar(&f.paths.Signals, "signals", "", "path to SignalConfig.yaml")
	fs.StringVar(&f.log.Level, "log-level", "info", "log level: trace, debug, info, warn, error")
	fs.BoolVar(&f.log.JSON, "log-json", false, "emit JSON-formatted log lines")
	fs.BoolVar(&f.log.Syslog, "syslog", false, "also log to syslog")
	fs.StringVar(&f.statsd, "metrics-statsd", "", "statsd address for metrics export")

	return fs, &f
}

// Run implements cli.Command.
func (c *Command) Run(args []string) int {
	fs, f := c.flagSet()
	if err := fs.Parse(args); err != nil {
		c.Ui.Error(err.Error())
		return 1
	}

	if f.help || !f.start {
		c.Ui.Output(c.Help())
		if f.help {
			return 0
		}
		c.Ui.Error("Must specify -start (or -help).")
		return 1
	}

	cfg, err := config.Load(f.paths)
	if err != nil {
		c.Ui.Error(fmt.Sprintf("Error loading config: %s", err))
		return 1
	}

	metricsCfg := metrics.DefaultConfig("resource_tuner")
	metricsCfg.StatsdAddr = f.statsd

	daemon, err := core.New(core.Options{
		Config:  cfg,
		Log:     f.log,
		Metrics: metricsCfg,
	})
	if err != nil {
		c.Ui.Error(fmt.Sprintf("Error starting resource tuner: %s", err))
		return 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := daemon.Run(ctx); err != nil {
		c.Ui.Error(fmt.Sprintf("Error during startup recovery: %s", err))
		return 1
	}

	c.Ui.Output("Resource Tuner daemon started. Ctrl-C to exit.")
	c.waitForShutdown()

	if err := daemon.Shutdown(); err != nil {
		c.Ui.Error(fmt.Sprintf("Error during shutdown: %s", err))
		return 1
	}
	return 0
}

// waitForShutdown blocks until SIGINT, SIGTERM, or ShutdownCh fires.
func (c *Command) waitForShutdown() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case <-sigCh:
	case <-c.ShutdownCh:
	}
}

// Synopsis implements cli.Command.
func (c *Command) Synopsis() string {
	return "Runs a Resource Tuner daemon"
}

// Help implements cli.Command.
func (c *Command) Help() string {
	fs, _ := c.flagSet()
	var b strings.Builder
	b.WriteString("Usage: urm -start [options]\n\n")
	b.WriteString("  Starts the Resource Tuner daemon, which mediates client requests to\n")
	b.WriteString("  temporarily adjust kernel/sysfs tunables.\n\nOptions:\n\n")
	fs.VisitAll(func(fl *flag.Flag) {
		fmt.Fprintf(&b, "  -%-18s %s\n", fl.Name, fl.Usage)
	})
	return b.String()
}

// AutocompleteFlags implements cli.CommandAutocomplete.
func (c *Command) AutocompleteFlags() complete.Flags {
	return complete.Flags{
		"-start":            complete.PredictNothing,
		"-help":             complete.PredictNothing,
		"-resources":        complete.PredictFiles("*.yaml"),
		"-custom-resources": complete.PredictFiles("*.yaml"),
		"-properties":       complete.PredictFiles("*.yaml"),
		"-init":             complete.PredictFiles("*.yaml"),
		"-target":           complete.PredictFiles("*.yaml"),
		"-signals":          complete.PredictFiles("*.yaml"),
		"-log-level":        complete.PredictSet("trace", "debug", "info", "warn", "error"),
		"-log-json":         complete.PredictNothing,
		"-syslog":           complete.PredictNothing,
		"-metrics-statsd":   complete.PredictAnything,
	}
}

// AutocompleteArgs implements cli.CommandAutocomplete. This command
// takes no positional arguments, only flags.
func (c *Command) AutocompleteArgs() complete.Predictor {
	return complete.PredictNothing
}
