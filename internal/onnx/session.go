package onnx

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

// Session describes one ONNX graph file on disk.
type Session struct {
	Name string
	Path string
	Size int64
}

// NewSession resolves and stats a graph file.
func NewSession(name, path string) (Session, error) {
	if name == "" {
		return Session{}, errors.New("session name is required")
	}

	if path == "" {
		return Session{}, fmt.Errorf("session %q has empty path", name)
	}

	path = filepath.Clean(path)

	info, err := os.Stat(path)
	if err != nil {
		return Session{}, fmt.Errorf("session file for %q: %w", name, err)
	}

	if info.IsDir() {
		return Session{}, fmt.Errorf("session file for %q: %s is a directory", name, path)
	}

	return Session{Name: name, Path: path, Size: info.Size()}, nil
}

// OpenRunners opens one ORT runner per session. On failure every runner
// opened so far is closed.
func OpenRunners(sessions []Session, cfg RunnerConfig) (map[string]GraphRunner, error) {
	runners := make(map[string]GraphRunner, len(sessions))
	for _, s := range sessions {
		if _, exists := runners[s.Name]; exists {
			CloseAll(runners)
			return nil, fmt.Errorf("duplicate session name %q", s.Name)
		}

		r, err := NewRunner(s, cfg)
		if err != nil {
			CloseAll(runners)
			return nil, err
		}

		runners[s.Name] = r

		slog.Info(
			"loaded ONNX session",
			"name", s.Name,
			"path", s.Path,
			"bytes", s.Size,
		)
	}

	return runners, nil
}
