// Package source loads task graph snapshots from the system of record.
package source

import (
	"context"
	"errors"
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/msageha/migrun/internal/model"
)

// ErrNotFound is returned when the plan does not exist at the source.
var ErrNotFound = errors.New("plan not found")

// Source yields a fresh graph snapshot on every call.
type Source interface {
	Load(ctx context.Context) (*model.TaskGraph, error)
	String() string
}

// Watcher is implemented by sources that can signal that the plan changed.
// The channel is closed when ctx is done.
type Watcher interface {
	Changes(ctx context.Context) (<-chan struct{}, error)
}

// Decode parses a YAML plan document into a graph snapshot.
func Decode(data []byte, origin string) (*model.TaskGraph, error) {
	var p model.Plan
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parse plan %s: %w", origin, err)
	}
	return model.FromPlan(&p), nil
}
