package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseArgsAndOverlay(t *testing.T) {
	f, err := ParseArgs([]string{
		"--node-url=https://node.example:1848",
		"--chain-id=7",
		"--worker=external",
		"--external-command=/usr/bin/true",
		"--log-level=debug",
	})
	require.NoError(t, err)

	cfg := Defaults()
	Overlay(cfg, f)

	require.Equal(t, "https://node.example:1848", cfg.Node.URL)
	require.Equal(t, 7, cfg.Node.ChainID)
	require.Equal(t, "external", cfg.Worker.Kind)
	require.Equal(t, "/usr/bin/true", cfg.Worker.Command)
	require.Equal(t, "debug", cfg.Logging.Level)
}

func TestOverlayLeavesUnsetFieldsAlone(t *testing.T) {
	f, err := ParseArgs(nil)
	require.NoError(t, err)

	cfg := Defaults()
	cfg.Node.URL = "https://unchanged.example"

	Overlay(cfg, f)
	require.Equal(t, "https://unchanged.example", cfg.Node.URL)
	require.Equal(t, "cpu", cfg.Worker.Kind)
}

func TestParseArgsRepeatedConfigFile(t *testing.T) {
	f, err := ParseArgs([]string{"-c", "a.json", "-c", "b.json"})
	require.NoError(t, err)
	require.Equal(t, []string{"a.json", "b.json"}, f.ConfigFile)
}
