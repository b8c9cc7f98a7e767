package review

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/msageha/migrun/internal/logging"
	"github.com/msageha/migrun/internal/session"
)

// Resolution is a handle whose review artifact reached a terminal state.
type Resolution struct {
	Handle session.Handle
	State  State
}

// TimeoutError is returned when review artifacts are still open after the
// await timeout. Their tasks keep whatever status the system of record holds.
type TimeoutError struct {
	Unresolved []session.Handle
	Timeout    time.Duration
}

func (e *TimeoutError) Error() string {
	parts := make([]string, len(e.Unresolved))
	for i, h := range e.Unresolved {
		parts[i] = fmt.Sprintf("%s (%s)", h.TaskID, h.ReviewRef)
	}
	return fmt.Sprintf("await timed out after %s with %d unresolved: %s",
		e.Timeout, len(e.Unresolved), strings.Join(parts, ", "))
}

// TaskIDs returns the unresolved task IDs.
func (e *TimeoutError) TaskIDs() []string {
	ids := make([]string, len(e.Unresolved))
	for i, h := range e.Unresolved {
		ids[i] = h.TaskID
	}
	return ids
}

// Waiter polls a StatusProvider until every handle's review artifact is
// terminal, the timeout elapses, or the context ends.
type Waiter struct {
	provider     StatusProvider
	pollInterval time.Duration
	timeout      time.Duration
	logger       *logging.Logger
}

// NewWaiter creates a Waiter. timeout <= 0 waits until ctx ends.
func NewWaiter(provider StatusProvider, pollInterval, timeout time.Duration, logger *logging.Logger) *Waiter {
	if pollInterval <= 0 {
		pollInterval = 30 * time.Second
	}
	if logger == nil {
		logger = logging.Discard()
	}
	return &Waiter{provider: provider, pollInterval: pollInterval, timeout: timeout, logger: logger}
}

// Wait returns the resolutions, sorted by task ID, once every handle is
// terminal. On timeout it returns the resolutions so far and a *TimeoutError
// naming the rest. Handles without a review ref are ignored.
func (w *Waiter) Wait(ctx context.Context, handles []session.Handle) ([]Resolution, error) {
	var pending []session.Handle
	for _, h := range handles {
		if h.ReviewRef != "" {
			pending = append(pending, h)
		}
	}
	sort.Slice(pending, func(i, j int) bool { return pending[i].TaskID < pending[j].TaskID })

	var resolved []Resolution
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()
	var deadline <-chan time.Time
	if w.timeout > 0 {
		timer := time.NewTimer(w.timeout)
		defer timer.Stop()
		deadline = timer.C
	}

	for round := 1; ; round++ {
		pending, resolved = w.poll(ctx, pending, resolved)
		if len(pending) == 0 {
			sortResolutions(resolved)
			return resolved, nil
		}
		w.logger.Debug("await_poll round=%d pending=%d resolved=%d", round, len(pending), len(resolved))

		select {
		case <-ctx.Done():
			sortResolutions(resolved)
			return resolved, fmt.Errorf("await review: %w", ctx.Err())
		case <-deadline:
			sortResolutions(resolved)
			w.logger.Warn("await_timeout timeout=%s unresolved=%d", w.timeout, len(pending))
			return resolved, &TimeoutError{Unresolved: pending, Timeout: w.timeout}
		case <-ticker.C:
		}
	}
}

// poll checks every pending handle once. Provider errors are logged and the
// handle stays pending.
func (w *Waiter) poll(ctx context.Context, pending []session.Handle, resolved []Resolution) ([]session.Handle, []Resolution) {
	still := pending[:0]
	for _, h := range pending {
		if ctx.Err() != nil {
			still = append(still, h)
			continue
		}
		st, err := w.provider.Status(ctx, h.ReviewRef)
		if err != nil {
			w.logger.Warn("review_status_failed task=%s ref=%s error=%v", h.TaskID, h.ReviewRef, err)
			still = append(still, h)
			continue
		}
		if !st.Terminal() {
			still = append(still, h)
			continue
		}
		w.logger.Info("review_resolved task=%s ref=%s state=%s", h.TaskID, h.ReviewRef, st)
		resolved = append(resolved, Resolution{Handle: h, State: st})
	}
	return still, resolved
}

func sortResolutions(rs []Resolution) {
	sort.Slice(rs, func(i, j int) bool { return rs[i].Handle.TaskID < rs[j].Handle.TaskID })
}
