package source

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/msageha/migrun/internal/logging"
	"github.com/msageha/migrun/internal/model"
)

// FileSource reads the plan from a local YAML file.
type FileSource struct {
	path   string
	logger *logging.Logger
}

func NewFileSource(path string, logger *logging.Logger) *FileSource {
	if logger == nil {
		logger = logging.Discard()
	}
	return &FileSource{path: path, logger: logger}
}

func (s *FileSource) String() string { return "file:" + s.path }

func (s *FileSource) Path() string { return s.path }

func (s *FileSource) Load(ctx context.Context) (*model.TaskGraph, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("read %s: %w", s.path, ErrNotFound)
		}
		return nil, fmt.Errorf("read %s: %w", s.path, err)
	}
	g, err := Decode(data, s.path)
	if err != nil {
		return nil, err
	}
	s.logger.Debug("plan_loaded source=%s tasks=%d", s, g.Len())
	return g, nil
}

// Changes watches the plan's directory, since editors and git replace files
// rather than write them in place, and signals once per burst of events on
// the plan file.
func (s *FileSource) Changes(ctx context.Context) (<-chan struct{}, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}
	target, err := filepath.Abs(s.path)
	if err != nil {
		watcher.Close()
		return nil, fmt.Errorf("resolve %s: %w", s.path, err)
	}
	if err := watcher.Add(filepath.Dir(target)); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("watch %s: %w", filepath.Dir(target), err)
	}

	ch := make(chan struct{}, 1)
	go func() {
		defer close(ch)
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != target {
					continue
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
					continue
				}
				s.logger.Debug("fsnotify event=%s file=%s", event.Op, event.Name)
				select {
				case ch <- struct{}{}:
				default:
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				s.logger.Error("fsnotify error=%v", err)
			}
		}
	}()
	return ch, nil
}
