package source

import (
	"context"
	"fmt"

	"github.com/msageha/migrun/internal/logging"
	"github.com/msageha/migrun/internal/model"
)

// FallbackSource prefers the primary source. Only the first load may fall
// back to the secondary; later loads fail when the primary fails.
type FallbackSource struct {
	primary   Source
	secondary Source
	loaded    bool
	logger    *logging.Logger
}

func NewFallbackSource(primary, secondary Source, logger *logging.Logger) *FallbackSource {
	if logger == nil {
		logger = logging.Discard()
	}
	return &FallbackSource{primary: primary, secondary: secondary, logger: logger}
}

func (s *FallbackSource) String() string {
	return fmt.Sprintf("%s (fallback %s)", s.primary, s.secondary)
}

func (s *FallbackSource) Load(ctx context.Context) (*model.TaskGraph, error) {
	g, err := s.primary.Load(ctx)
	if err == nil {
		s.loaded = true
		return g, nil
	}
	if s.loaded || s.secondary == nil || ctx.Err() != nil {
		return nil, err
	}
	s.logger.Warn("primary_load_failed source=%s error=%v fallback=%s", s.primary, err, s.secondary)
	g, ferr := s.secondary.Load(ctx)
	if ferr != nil {
		return nil, fmt.Errorf("load plan: primary: %v; fallback: %w", err, ferr)
	}
	s.loaded = true
	return g, nil
}

// Changes forwards the secondary's change signal when it has one.
func (s *FallbackSource) Changes(ctx context.Context) (<-chan struct{}, error) {
	for _, src := range []Source{s.secondary, s.primary} {
		if w, ok := src.(Watcher); ok {
			return w.Changes(ctx)
		}
	}
	return nil, nil
}
