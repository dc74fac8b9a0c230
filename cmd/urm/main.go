// Copyright (c) Resource Tuner Authors
// SPDX-License-Identifier: BUSL-1.1

// Command urm is the Resource Tuner daemon's entry point. It exposes a
// single command (`urm -start`, spec.md §6) so, unlike the teacher's
// multi-command cli.CLI dispatch, main invokes command.Command.Run
// directly rather than registering it behind a command-name lookup.
package main

import (
	"os"

	"github.com/fatih/color"
	"github.com/hashicorp/cli"
	colorable "github.com/mattn/go-colorable"

	"github.com/resourcetuner/urm/command"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	ui := &cli.ColoredUi{
		ErrorColor: cli.UiColorRed,
		WarnColor:  cli.UiColorYellow,
		InfoColor:  cli.UiColorNone,
		Ui: &cli.BasicUi{
			Reader:      os.Stdin,
			Writer:      colorable.NewColorable(os.Stdout),
			ErrorWriter: colorable.NewColorable(os.Stderr),
		},
	}

	if !color.NoColor {
		defer color.Unset()
	}

	cmd := &command.Command{Ui: ui}
	return cmd.Run(args)
}
