package kdag

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

var ErrUnknownFormat = errors.New("unknown graph file format")

// Format of a serialized node set.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// FormatFromPath picks a format from a file extension.
func FormatFromPath(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return FormatJSON, nil
	case ".yaml", ".yml":
		return FormatYAML, nil
	}
	return "", fmt.Errorf("%w: %s", ErrUnknownFormat, path)
}

// Snapshot is the serialized form of a node set.
type Snapshot struct {
	Nodes []NodeDef `json:"nodes" yaml:"nodes"`
}

// Decode parses a serialized snapshot.
func Decode(data []byte, format Format) ([]NodeDef, error) {
	var snap Snapshot
	switch format {
	case FormatJSON:
		if err := json.Unmarshal(data, &snap); err != nil {
			return nil, fmt.Errorf("decode graph: %w", err)
		}
	case FormatYAML:
		if err := yaml.Unmarshal(data, &snap); err != nil {
			return nil, fmt.Errorf("decode graph: %w", err)
		}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}
	return snap.Nodes, nil
}

// Source supplies a resolved node set. The result is treated as an
// immutable snapshot.
type Source interface {
	Load(ctx context.Context) ([]NodeDef, error)
}

// FileSource reads a snapshot from a JSON or YAML file.
type FileSource struct {
	Path   string
	Logger *slog.Logger
}

// NewFileSource creates a FileSource for path.
func NewFileSource(path string, logger *slog.Logger) *FileSource {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &FileSource{Path: path, Logger: logger}
}

func (s *FileSource) Load(ctx context.Context) ([]NodeDef, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	format, err := FormatFromPath(s.Path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.Path)
	if err != nil {
		return nil, fmt.Errorf("read graph: %w", err)
	}
	return Decode(data, format)
}

// Watch calls onChange with the reloaded node set each time the file is
// written or replaced. A reload that fails is logged and skipped. Watch
// blocks until ctx is cancelled.
func (s *FileSource) Watch(ctx context.Context, onChange func([]NodeDef)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	// Editors often replace files by rename, so watch the directory.
	dir := filepath.Dir(s.Path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	target := filepath.Clean(s.Path)

	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target || !(event.Has(fsnotify.Write) || event.Has(fsnotify.Create)) {
				continue
			}
			nodes, err := s.Load(ctx)
			if err != nil {
				s.Logger.Warn("Failed to reload graph", "path", s.Path, "error", err)
				continue
			}
			s.Logger.Info("Reloaded graph", "path", s.Path, "nodes", len(nodes))
			onChange(nodes)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			s.Logger.Warn("Graph watcher error", "error", err)

		case <-ctx.Done():
			return nil
		}
	}
}
