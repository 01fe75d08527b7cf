package model

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watcher serves the model persisted at a file path and hot-reloads it when
// the file is rewritten, e.g. after a training run saves new
// hyperparameters. Lookups through Model never block a reload.
type Watcher struct {
	modelType string
	path      string
	logger    *zap.Logger

	fw *fsnotify.Watcher

	mu      sync.RWMutex
	current ProbabilisticModel
}

// NewWatcher loads the model once and begins watching its directory.
func NewWatcher(modelType, path string, logger *zap.Logger) (*Watcher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	m, err := LoadModel(modelType, path)
	if err != nil {
		return nil, fmt.Errorf("initial load: %w", err)
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	// Watch the directory: editors and atomic saves replace the file.
	if err := fw.Add(filepath.Dir(path)); err != nil {
		fw.Close()
		return nil, err
	}
	return &Watcher{
		modelType: modelType,
		path:      path,
		logger:    logger,
		fw:        fw,
		current:   m,
	}, nil
}

// Model returns the currently served model.
func (w *Watcher) Model() ProbabilisticModel {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current
}

// Run processes file events until the context is cancelled.
func (w *Watcher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.fw.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			m, err := LoadModel(w.modelType, w.path)
			if err != nil {
				w.logger.Warn("model reload failed", zap.String("path", w.path), zap.Error(err))
				continue
			}
			w.mu.Lock()
			w.current = m
			w.mu.Unlock()
			w.logger.Info("model reloaded", zap.String("path", w.path), zap.String("type", w.modelType))
		case err, ok := <-w.fw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("model watcher error", zap.Error(err))
		}
	}
}

// Close stops the underlying file watcher.
func (w *Watcher) Close() error {
	return w.fw.Close()
}
