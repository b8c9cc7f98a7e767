// Package model defines the task graph, its tasks, and the migrun configuration.
package model

import (
	"path"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// DefaultEstimatedHours is used for scheduling heuristics when a task does not
// carry a positive estimate.
const DefaultEstimatedHours = 8.0

// Task is one unit of migration work.
type Task struct {
	ID                  string       `yaml:"id"`
	Title               string       `yaml:"title"`
	Content             string       `yaml:"content,omitempty"`
	Action              string       `yaml:"action,omitempty"`
	Status              Status       `yaml:"status"`
	DependsOn           []string     `yaml:"depends_on"`
	EstimatedHours      float64      `yaml:"estimated_hours,omitempty"`
	Deliverables        Deliverables `yaml:"deliverables,omitempty"`
	ValidationMechanism string       `yaml:"validation_mechanism,omitempty"`
	DefinitionOfDone    string       `yaml:"definition_of_done,omitempty"`

	inFlight bool
}

// Body returns the free-text work description, preferring action over content.
func (t *Task) Body() string {
	if t.Action != "" {
		return t.Action
	}
	return t.Content
}

// Hours returns the estimate used for scheduling.
func (t *Task) Hours() float64 {
	if t.EstimatedHours <= 0 {
		return DefaultEstimatedHours
	}
	return t.EstimatedHours
}

// Dependencies returns depends_on with duplicates removed, in sorted order.
func (t *Task) Dependencies() []string {
	if len(t.DependsOn) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(t.DependsOn))
	deps := make([]string, 0, len(t.DependsOn))
	for _, d := range t.DependsOn {
		if seen[d] {
			continue
		}
		seen[d] = true
		deps = append(deps, d)
	}
	sort.Strings(deps)
	return deps
}

func (t *Task) IsComplete() bool {
	return t.Status.IsComplete()
}

// Deliverables is the optional file-level footprint of a task.
// Declared is false when the plan omitted the field, which means the footprint
// is unknown; a declared empty list means the task touches no files.
type Deliverables struct {
	Paths    []string
	Declared bool
}

// DeclaredDeliverables builds a declared footprint from paths.
func DeclaredDeliverables(paths ...string) Deliverables {
	return Deliverables{Paths: paths, Declared: true}
}

// Normalized returns the cleaned, de-duplicated, sorted path set.
func (d Deliverables) Normalized() []string {
	if len(d.Paths) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(d.Paths))
	out := make([]string, 0, len(d.Paths))
	for _, p := range d.Paths {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		p = path.Clean(strings.ReplaceAll(p, `\`, "/"))
		if seen[p] {
			continue
		}
		seen[p] = true
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

func (d *Deliverables) UnmarshalYAML(node *yaml.Node) error {
	if node.Tag == "!!null" {
		*d = Deliverables{}
		return nil
	}
	var paths []string
	if err := node.Decode(&paths); err != nil {
		return err
	}
	*d = Deliverables{Paths: paths, Declared: true}
	return nil
}

func (d Deliverables) MarshalYAML() (any, error) {
	if !d.Declared {
		return nil, nil
	}
	if d.Paths == nil {
		return []string{}, nil
	}
	return d.Paths, nil
}

func (d Deliverables) IsZero() bool {
	return !d.Declared
}
