package config

import (
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

// Watch reloads the config file at path whenever it changes on disk and
// hands the freshly-loaded Config to onReload. It watches path's parent
// directory rather than the file itself: Save's atomic tmp-file rename
// replaces the file's inode, and an inotify watch on the old inode would
// silently stop firing across that swap. It runs until stopCh is
// closed.
func Watch(path string, log logrus.FieldLogger, onReload func(*Config), stopCh <-chan struct{}) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return err
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-stopCh:
				return

			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != filepath.Clean(path) {
					continue
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				cfg, err := Load([]string{path})
				if err != nil {
					log.WithError(err).Warn("config: reload failed, keeping previous config")
					continue
				}
				if err := cfg.Validate(); err != nil {
					log.WithError(err).Warn("config: reloaded config is invalid, keeping previous config")
					continue
				}
				log.Info("config: reloaded from disk")
				onReload(cfg)

			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.WithError(err).Warn("config: watch error")
			}
		}
	}()

	return nil
}
