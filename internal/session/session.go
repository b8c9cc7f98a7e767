// Package session submits tasks to the external session executor.
package session

import (
	"context"
	"errors"

	"github.com/msageha/migrun/internal/model"
)

// ErrNoReviewRef is returned when a session never produced a review artifact.
var ErrNoReviewRef = errors.New("session produced no review artifact")

// Handle identifies a dispatched session and the review artifact it opened.
type Handle struct {
	TaskID     string `yaml:"task_id" json:"task_id"`
	SessionID  string `yaml:"session_id" json:"session_id"`
	SessionURL string `yaml:"session_url,omitempty" json:"session_url,omitempty"`
	ReviewRef  string `yaml:"review_ref,omitempty" json:"review_ref,omitempty"`
	// Check is set for check sessions, which belong to a batch, not a task.
	Check CheckKind `yaml:"check,omitempty" json:"check,omitempty"`
}

// Executor starts one session for a task. peers are the other tasks of the
// same batch. Implementations must be safe for concurrent use.
type Executor interface {
	Submit(ctx context.Context, task *model.Task, peers []*model.Task) (Handle, error)
}
