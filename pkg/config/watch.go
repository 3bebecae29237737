package config

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"GpuTelemetry/pkg/logging"

	"github.com/fsnotify/fsnotify"
)

// watchDebounce is how long the file must stay quiet before it is reloaded.
// A save is usually a truncate followed by one or more writes.
var watchDebounce = 150 * time.Millisecond

// Watch calls fn with a freshly loaded configuration each time the file at
// path is written or replaced, until ctx is done. The directory is watched
// so editors that rename over the file are seen. Empty, unchanged and
// invalid contents are logged and ignored.
func Watch(ctx context.Context, path string, fn func(*Config)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(abs), err)
	}

	log := logging.WithComponent("config").WithField("file", path)
	settle := time.NewTimer(watchDebounce)
	settle.Stop()
	defer settle.Stop()

	var applied []byte
	reload := func() {
		data, err := os.ReadFile(abs)
		if err != nil {
			log.WithError(err).Warn("reload failed")
			return
		}
		if bytes.Equal(data, applied) {
			return
		}
		if !hasSettings(abs, data) {
			log.Debug("config file has no settings yet")
			return
		}
		cfg := New()
		if err := cfg.load(abs, data); err != nil {
			log.WithError(err).Warn("reload failed")
			return
		}
		if err := cfg.Validate(); err != nil {
			log.WithError(err).Warn("reloaded config rejected")
			return
		}
		applied = data
		log.Info("config reloaded")
		fn(cfg)
	}

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != abs {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			settle.Reset(watchDebounce)

		case <-settle.C:
			reload()

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.WithError(err).Warn("watch error")
		}
	}
}
