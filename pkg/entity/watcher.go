package entity

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/platinummonkey/reindexer/pkg/observability"
)

// MappingWatcher reloads a registry when its mapping file changes. A reload
// that fails to parse keeps the previous bindings.
type MappingWatcher struct {
	path     string
	source   ReplicaSource
	registry *Registry
	logger   *observability.Logger
	delay    time.Duration
	watcher  *fsnotify.Watcher
	// reloaded is signalled after every reload attempt, for tests
	reloaded chan error
}

// WatchMappings starts watching path. The directory is watched rather than
// the file so editors that replace the file are noticed.
func WatchMappings(path string, source ReplicaSource, registry *Registry, logger *observability.Logger) (*MappingWatcher, error) {
	if logger == nil {
		logger = observability.NopLogger()
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create mapping watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", path, err)
	}

	return &MappingWatcher{
		path:     filepath.Clean(path),
		source:   source,
		registry: registry,
		logger:   logger.WithField("component", "mapping_watcher").WithField("path", path),
		delay:    500 * time.Millisecond,
		watcher:  watcher,
		reloaded: make(chan error, 1),
	}, nil
}

// Run handles file events until ctx is cancelled. Bursts of events are
// collapsed into one reload after a short delay.
func (w *MappingWatcher) Run(ctx context.Context) error {
	defer w.watcher.Close()
	defer observability.RecoverPanic(w.logger, "mapping watcher")

	var debounce <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				debounce = time.After(w.delay)
			}

		case <-debounce:
			debounce = nil
			w.notify(w.Reload())

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.WithError(err).Warn("Mapping watcher error")
		}
	}
}

// Reload re-reads the mapping file and swaps the registry bindings
func (w *MappingWatcher) Reload() error {
	mappings, err := LoadMappings(w.path)
	if err != nil {
		w.logger.WithError(err).Error("Failed to reload entity mappings, keeping previous classes")
		return err
	}
	managers, err := mappings.Managers(w.source)
	if err != nil {
		w.logger.WithError(err).Error("Failed to build entity managers, keeping previous classes")
		return err
	}

	w.registry.Replace(managers)
	w.logger.WithField("classes", len(managers)).Info("Entity mappings reloaded")
	return nil
}

func (w *MappingWatcher) notify(err error) {
	select {
	case w.reloaded <- err:
	default:
	}
}

// Close stops watching
func (w *MappingWatcher) Close() error {
	return w.watcher.Close()
}
