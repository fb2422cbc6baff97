package local

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"cloudy/internal/ignore"
	"cloudy/internal/logger"
	"cloudy/internal/model"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

type Watcher struct {
	fw          *fsnotify.Watcher
	root        string
	matcher     *ignore.Matcher
	initialScan bool
	eventCh     chan model.FileEvent
	errCh       chan error
	doneCh      chan struct{}
	stopOnce    sync.Once

	// known holds root-relative files seen on disk. Only run touches it
	// after Watch returns.
	known map[string]struct{}
}

func New(bufferSize int, matcher *ignore.Matcher) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	return &Watcher{
		fw:      fw,
		matcher: matcher,
		eventCh: make(chan model.FileEvent, bufferSize),
		errCh:   make(chan error, 10),
		doneCh:  make(chan struct{}),
		known:   make(map[string]struct{}),
	}, nil
}

// EmitInitialScan makes Watch report every existing file once as an
// initial-scan-entry event before live events.
func (w *Watcher) EmitInitialScan(on bool) {
	w.initialScan = on
}

func (w *Watcher) Watch(dir string) error {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return fmt.Errorf("failed to resolve path: %w", err)
	}

	info, err := os.Stat(absDir)
	if err != nil {
		return fmt.Errorf("source directory not found: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("source %s is not a directory", absDir)
	}

	w.root = absDir
	if err := w.addRecursive(absDir); err != nil {
		return err
	}
	for _, rel := range w.files(absDir) {
		w.known[rel] = struct{}{}
	}

	go w.run()

	logger.Log.Info("watcher started",
		zap.String("dir", absDir),
		zap.Int("ignore_patterns", w.matcher.Len()))
	return nil
}

func (w *Watcher) Root() string {
	return w.root
}

func (w *Watcher) addRecursive(dir string) error {
	return filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if !d.IsDir() {
			return nil
		}

		if path != w.root && w.matcher.Match(w.rel(path), true) {
			logger.Log.Debug("skipping ignored directory",
				zap.String("path", path))
			return filepath.SkipDir
		}

		if err := w.fw.Add(path); err != nil {
			return fmt.Errorf("failed to watch %s: %w", path, err)
		}
		logger.Log.Debug("watching directory",
			zap.String("path", path))

		return nil
	})
}

// files lists non-ignored regular files under dir as root-relative paths.
func (w *Watcher) files(dir string) []string {
	var out []string

	_ = filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}

		rel := w.rel(path)
		if d.IsDir() {
			if path != w.root && w.matcher.Match(rel, true) {
				return filepath.SkipDir
			}
			return nil
		}

		if !w.matcher.Match(rel, false) {
			out = append(out, rel)
		}
		return nil
	})

	return out
}

func (w *Watcher) rel(path string) string {
	rel, err := filepath.Rel(w.root, path)
	if err != nil {
		return filepath.ToSlash(path)
	}
	return filepath.ToSlash(rel)
}

func (w *Watcher) run() {
	defer close(w.eventCh)

	if w.initialScan {
		for _, rel := range w.files(w.root) {
			select {
			case w.eventCh <- model.FileEvent{Kind: model.EventInitialScan, Path: rel, Timestamp: time.Now()}:
			case <-w.doneCh:
				return
			}
		}
	}

	for {
		select {
		case <-w.doneCh:
			logger.Log.Info("watcher stopping")
			return

		case fsEvent, ok := <-w.fw.Events:
			if !ok {
				return
			}

			kind := toEventKind(fsEvent.Op)
			if kind == "" {
				continue
			}

			rel := w.rel(fsEvent.Name)

			if fsEvent.Op.Has(fsnotify.Create) {
				info, err := os.Stat(fsEvent.Name)
				if err == nil && info.IsDir() {
					w.handleNewDir(fsEvent.Name, rel)
					continue
				}
				// Editors that save by renaming a temp file over the
				// original produce a Create for a file we already have.
				if err == nil && info.Mode().IsRegular() {
					if _, ok := w.known[rel]; ok {
						kind = model.EventModified
					}
				}
			}

			if w.matcher.Match(rel, false) {
				continue
			}

			switch kind {
			case model.EventRemoved, model.EventRenamedOut:
				delete(w.known, rel)
			default:
				w.known[rel] = struct{}{}
			}

			w.emit(model.FileEvent{
				Kind:      kind,
				Path:      rel,
				Timestamp: time.Now(),
			})

		case err, ok := <-w.fw.Errors:
			if !ok {
				return
			}

			logger.Log.Error("watcher error",
				zap.Error(err))

			select {
			case w.errCh <- err:
			default:
			}
		}
	}
}

// handleNewDir starts watching a directory created after startup. Files
// written into it before the watch was added are reported as created.
func (w *Watcher) handleNewDir(path, rel string) {
	if w.matcher.Match(rel, true) {
		return
	}

	if err := w.addRecursive(path); err != nil {
		logger.Log.Warn("failed to watch new directory",
			zap.String("path", path),
			zap.Error(err))
		return
	}

	logger.Log.Debug("added new directory to watch",
		zap.String("path", path))

	for _, f := range w.files(path) {
		w.known[f] = struct{}{}
		w.emit(model.FileEvent{Kind: model.EventCreated, Path: f, Timestamp: time.Now()})
	}
}

func (w *Watcher) emit(event model.FileEvent) {
	select {
	case w.eventCh <- event:
	default:
		logger.Log.Warn("event channel is full, dropping event",
			zap.String("kind", string(event.Kind)),
			zap.String("path", event.Path))
	}
}

func (w *Watcher) Events() <-chan model.FileEvent {
	return w.eventCh
}

func (w *Watcher) Errors() <-chan error {
	return w.errCh
}

func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.doneCh)
		_ = w.fw.Close()
	})
}

func toEventKind(op fsnotify.Op) model.EventKind {
	switch {
	case op.Has(fsnotify.Create):
		return model.EventCreated
	case op.Has(fsnotify.Write):
		return model.EventModified
	case op.Has(fsnotify.Remove):
		return model.EventRemoved
	case op.Has(fsnotify.Rename):
		return model.EventRenamedOut
	default:
		return ""
	}
}
