package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultsValidate(t *testing.T) {
	cfg := Defaults()
	require.NoError(t, cfg.Validate())
}

func TestLoadMergesLaterFilesOverEarlier(t *testing.T) {
	dir := t.TempDir()

	base := filepath.Join(dir, "base.json")
	override := filepath.Join(dir, "override.json")

	require.NoError(t, os.WriteFile(base, []byte(`{
		"node": {"url": "https://base.example:1848", "chainId": 2},
		"worker": {"kind": "cpu"}
	}`), 0644))
	require.NoError(t, os.WriteFile(override, []byte(`{
		"node": {"chainId": 5}
	}`), 0644))

	cfg, err := Load([]string{base, override})
	require.NoError(t, err)

	require.Equal(t, "https://base.example:1848", cfg.Node.URL)
	require.Equal(t, 5, cfg.Node.ChainID)
	require.Equal(t, "cpu", cfg.Worker.Kind)
}

func TestSaveRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")

	cfg := Defaults()
	cfg.Node.URL = "https://node.example:1848"
	require.NoError(t, cfg.Save(path))

	loaded, err := Load([]string{path})
	require.NoError(t, err)
	require.Equal(t, "https://node.example:1848", loaded.Node.URL)
}

func TestValidateRejectsBadChainID(t *testing.T) {
	cfg := Defaults()
	cfg.Node.ChainID = 99
	require.Error(t, cfg.Validate())
}

func TestValidateRejectsExternalWithoutCommand(t *testing.T) {
	cfg := Defaults()
	cfg.Worker.Kind = "external"
	require.Error(t, cfg.Validate())
	cfg.Worker.Command = "/usr/bin/true"
	require.NoError(t, cfg.Validate())
}

func TestValidateRejectsUnknownPreemptStrategy(t *testing.T) {
	cfg := Defaults()
	cfg.Preempt.Strategy = "bogus"
	require.Error(t, cfg.Validate())
}

func TestCloneIsIndependent(t *testing.T) {
	cfg := Defaults()
	cfg.Worker.Args = []string{"--flag"}

	clone := cfg.Clone()
	clone.Worker.Args[0] = "changed"

	require.Equal(t, "--flag", cfg.Worker.Args[0])
}
