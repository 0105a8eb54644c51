package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}

	expected := []string{"serve", "alerts", "rules", "replay", "import-scores"}
	for _, name := range expected {
		assert.True(t, names[name], "expected subcommand %q not found", name)
	}
}

func TestRootCommand_Metadata(t *testing.T) {
	assert.Equal(t, "lead-alerts", rootCmd.Use)
	assert.NotEmpty(t, rootCmd.Short)
	assert.NotEmpty(t, rootCmd.Long)
}

func TestServeCommand_Flags(t *testing.T) {
	flag := serveCmd.Flags().Lookup("port")
	require.NotNil(t, flag, "serve command should have --port flag")
	assert.Equal(t, "0", flag.DefValue)
}

func TestAlertsCommand_Subcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range alertsCmd.Commands() {
		names[c.Name()] = true
	}
	for _, name := range []string{"list", "show", "ack", "snooze", "resolve"} {
		assert.True(t, names[name], "expected alerts subcommand %q", name)
	}

	require.NotNil(t, alertsSnoozeCmd.Flags().Lookup("minutes"))
	require.NotNil(t, alertsSnoozeCmd.Flags().Lookup("until"))
}

func TestRulesCommand_Subcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range rulesCmd.Commands() {
		names[c.Name()] = true
	}
	for _, name := range []string{"list", "enable", "disable", "set-threshold"} {
		assert.True(t, names[name], "expected rules subcommand %q", name)
	}
}

func TestReplayCommand_Flags(t *testing.T) {
	require.NotNil(t, replayCmd.Flags().Lookup("dry-run"))
}
