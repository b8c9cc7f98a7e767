package model

import (
	"fmt"
	"regexp"
	"strconv"
)

// Default task categories used by migration plans.
const (
	CategorySetup     = "setup"
	CategoryValidator = "validator"
	CategoryMigrate   = "migrate"
	CategoryIntegrate = "integrate"
	CategoryCoverage  = "coverage"
)

var DefaultCategories = []string{
	CategorySetup,
	CategoryValidator,
	CategoryMigrate,
	CategoryIntegrate,
	CategoryCoverage,
}

var taskIDRegex = regexp.MustCompile(`^([a-z][a-z0-9]*)_([0-9]{3,})$`)

// TaskID is a parsed task identifier of the form <category>_<ordinal>.
type TaskID struct {
	Category string
	Ordinal  int
}

// ParseTaskID splits a task ID into its category prefix and numeric suffix.
// It checks shape only; whether the category is allowed is a validation concern.
func ParseTaskID(id string) (TaskID, error) {
	match := taskIDRegex.FindStringSubmatch(id)
	if match == nil {
		return TaskID{}, fmt.Errorf("invalid task ID format: %q (want <category>_<NNN>)", id)
	}
	n, err := strconv.Atoi(match[2])
	if err != nil {
		return TaskID{}, fmt.Errorf("parse ordinal of %q: %w", id, err)
	}
	return TaskID{Category: match[1], Ordinal: n}, nil
}

// CategoryOf returns the category prefix of id, or "" when id is malformed.
func CategoryOf(id string) string {
	parsed, err := ParseTaskID(id)
	if err != nil {
		return ""
	}
	return parsed.Category
}

func (t TaskID) String() string {
	return fmt.Sprintf("%s_%03d", t.Category, t.Ordinal)
}
