package config

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// Instruction holds the current system instruction text.
// It starts from an optional file and falls back to a built-in default.
// Readers take a copy per session; edits never affect a running session.
type Instruction struct {
	path     string
	fallback string
	logger   *slog.Logger

	mu   sync.RWMutex
	text string
}

// NewInstruction loads the instruction from path, or uses fallback when
// path is empty.
func NewInstruction(path, fallback string, logger *slog.Logger) (*Instruction, error) {
	if logger == nil {
		logger = slog.Default()
	}
	in := &Instruction{
		path:     path,
		fallback: fallback,
		text:     fallback,
		logger:   logger.With("component", "config.instruction"),
	}
	if path != "" {
		if err := in.reload(); err != nil {
			return nil, &ConfigurationError{Field: "tutor.instruction_file", Err: err}
		}
	}
	return in, nil
}

// Text returns the current instruction.
func (in *Instruction) Text() string {
	in.mu.RLock()
	defer in.mu.RUnlock()
	return in.text
}

func (in *Instruction) reload() error {
	data, err := os.ReadFile(in.path)
	if err != nil {
		return err
	}
	text := strings.TrimSpace(string(data))
	if text == "" {
		text = in.fallback
	}
	in.mu.Lock()
	in.text = text
	in.mu.Unlock()
	return nil
}

// Watch reloads the instruction file whenever it changes, until ctx is done.
// It returns immediately when no file is configured.
func (in *Instruction) Watch(ctx context.Context) error {
	if in.path == "" {
		return nil
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	// Editors often replace files, so watch the directory.
	if err := w.Add(filepath.Dir(in.path)); err != nil {
		return err
	}
	target := filepath.Clean(in.path)

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}
			if err := in.reload(); err != nil {
				in.logger.Warn("instruction reload failed", "path", in.path, "error", err)
				continue
			}
			in.logger.Info("instruction reloaded", "path", in.path, "bytes", len(in.Text()))
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			in.logger.Warn("instruction watcher error", "error", err)
		}
	}
}
