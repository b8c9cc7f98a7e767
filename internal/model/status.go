package model

import (
	"strings"

	"gopkg.in/yaml.v3"
)

// Status is the completion state of a task in the system of record.
// Only two states exist; partial progress is not-complete.
type Status string

const (
	StatusNotComplete Status = "not-complete"
	StatusComplete    Status = "complete"
)

// completeAliases lists the spellings the plan files use for a finished task.
// Every other value, including "pending", "in_progress" and percentages,
// normalizes to StatusNotComplete.
var completeAliases = map[string]bool{
	"complete":  true,
	"completed": true,
	"done":      true,
	"merged":    true,
}

// NormalizeStatus maps any status spelling onto the canonical two-state enum.
func NormalizeStatus(raw string) Status {
	if completeAliases[strings.ToLower(strings.TrimSpace(raw))] {
		return StatusComplete
	}
	return StatusNotComplete
}

func (s Status) IsComplete() bool {
	return s == StatusComplete
}

func (s Status) String() string {
	if s == "" {
		return string(StatusNotComplete)
	}
	return string(s)
}

// UnmarshalYAML normalizes the status vocabulary on decode.
func (s *Status) UnmarshalYAML(node *yaml.Node) error {
	var raw string
	if err := node.Decode(&raw); err != nil {
		// Non-scalar statuses (maps, lists) are not a recognised completion marker.
		*s = StatusNotComplete
		return nil
	}
	*s = NormalizeStatus(raw)
	return nil
}
