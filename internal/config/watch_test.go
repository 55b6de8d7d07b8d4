package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

func TestWatchReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")

	cfg := Defaults()
	require.NoError(t, cfg.Save(path))

	log := logrus.New()
	log.SetOutput(os.Stderr)

	reloaded := make(chan *Config, 4)
	stopCh := make(chan struct{})
	defer close(stopCh)

	require.NoError(t, Watch(path, log, func(c *Config) { reloaded <- c }, stopCh))

	updated := Defaults()
	updated.Node.URL = "https://after-reload.example"
	require.NoError(t, updated.Save(path))

	select {
	case c := <-reloaded:
		require.Equal(t, "https://after-reload.example", c.Node.URL)
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for reload")
	}
}
