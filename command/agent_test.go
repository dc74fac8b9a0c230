// Copyright (c) Resource Tuner Authors
// SPDX-License-Identifier: BUSL-1.1

package command_test

import (
	"strings"
	"testing"

	"github.com/hashicorp/cli"
	"github.com/resourcetuner/urm/command"
	"github.com/resourcetuner/urm/internal/ci"
	"github.com/shoenig/test/must"
	"github.com/stretchr/testify/require"
)

func TestCommand_Implements(t *testing.T) {
	ci.Parallel(t)
	var _ cli.Command = &command.Command{}
	var _ cli.CommandAutocomplete = &command.Command{}
}

func TestCommand_NoStartFlag(t *testing.T) {
	ci.Parallel(t)
	ui := cli.NewMockUi()
	cmd := &command.Command{Ui: ui}

	code := cmd.Run([]string{})
	must.Eq(t, 1, code)
	must.StrContains(t, ui.ErrorWriter.String(), "Must specify -start")
}

func TestCommand_HelpFlag(t *testing.T) {
	ci.Parallel(t)
	ui := cli.NewMockUi()
	cmd := &command.Command{Ui: ui}

	code := cmd.Run([]string{"-help"})
	must.Eq(t, 0, code)
	must.StrContains(t, ui.OutputWriter.String(), "Usage: urm -start")
}

func TestCommand_MissingConfigFailsInit(t *testing.T) {
	ci.Parallel(t)
	ui := cli.NewMockUi()
	cmd := &command.Command{Ui: ui}

	// No -resources given, so Config.Resources is empty. That alone
	// isn't a load failure, but a bogus -resources path is.
	code := cmd.Run([]string{"-start", "-resources=/nonexistent/path/ResourcesConfig.yaml"})
	require.Equal(t, 1, code)
	must.StrContains(t, ui.ErrorWriter.String(), "Error loading config")
}

func TestCommand_Synopsis(t *testing.T) {
	ci.Parallel(t)
	cmd := &command.Command{}
	must.True(t, len(cmd.Synopsis()) > 0)
	must.True(t, !strings.Contains(cmd.Synopsis(), "\n"))
}

func TestCommand_AutocompleteFlags(t *testing.T) {
	ci.Parallel(t)
	cmd := &command.Command{}
	flags := cmd.AutocompleteFlags()
	_, ok := flags["-start"]
	must.True(t, ok)
	_, ok = flags["-resources"]
	must.True(t, ok)
}
