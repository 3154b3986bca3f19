package main

import (
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewOtcbotCommand(t *testing.T) {
	cmd := NewOtcbotCommand()

	require.NotNil(t, cmd)
	assert.Equal(t, "otcbot", cmd.Use)
	assert.True(t, cmd.SilenceUsage)
	assert.NotNil(t, cmd.PersistentFlags().Lookup("config"))

	var names []string
	for _, sub := range cmd.Commands() {
		names = append(names, sub.Name())
	}
	for _, want := range []string{"run", "config", "version"} {
		assert.True(t, slices.Contains(names, want), "missing subcommand %q", want)
	}
}
