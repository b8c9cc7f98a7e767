// Package orchestrator drives the load, validate, resolve, batch, dispatch,
// await and reconcile loop over a migration task graph.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/msageha/migrun/internal/events"
	"github.com/msageha/migrun/internal/logging"
	"github.com/msageha/migrun/internal/model"
	"github.com/msageha/migrun/internal/parallel"
	"github.com/msageha/migrun/internal/plan"
	"github.com/msageha/migrun/internal/resolver"
	"github.com/msageha/migrun/internal/review"
	"github.com/msageha/migrun/internal/session"
	"github.com/msageha/migrun/internal/source"
)

// Awaiter blocks until the review artifacts of dispatched sessions resolve.
// *review.Waiter is the production implementation.
type Awaiter interface {
	Wait(ctx context.Context, handles []session.Handle) ([]review.Resolution, error)
}

// Orchestrator runs batches against one graph source. It is not safe for
// concurrent Run calls.
type Orchestrator struct {
	cfg      model.Config
	source   source.Source
	executor session.Executor
	awaiter  Awaiter
	bus      *events.Bus
	logger   *logging.Logger

	runID    string
	attempts map[string]int
	changes  <-chan struct{}
}

func New(cfg model.Config, src source.Source, executor session.Executor, awaiter Awaiter, logger *logging.Logger) *Orchestrator {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Orchestrator{
		cfg:      cfg,
		source:   src,
		executor: executor,
		awaiter:  awaiter,
		logger:   logger,
		attempts: make(map[string]int),
	}
}

// SetBus publishes orchestration events to bus. A nil bus disables events.
func (o *Orchestrator) SetBus(bus *events.Bus) {
	o.bus = bus
}

// Run executes the loop until the graph completes or a halt condition is met.
// The report is returned in every case; err is nil for the successful
// outcomes (complete, single batch, dry run, iteration limit).
func (o *Orchestrator) Run(ctx context.Context) (*Report, error) {
	oc := o.cfg.Orchestrator
	o.runID = uuid.NewString()
	report := newReport(o.runID, oc.Mode, oc.DryRun)
	report.Graph = o.source.String()

	o.logger.Info("run_started run=%s source=%s mode=%s dry_run=%t max_parallel=%d",
		o.runID, o.source, oc.Mode, oc.DryRun, oc.MaxParallel)
	o.publish(events.EventRunStarted, map[string]any{"source": o.source.String(), "mode": oc.Mode, "dry_run": oc.DryRun})

	if oc.Continuous() && !oc.DryRun {
		o.watch(ctx)
	}

	outcome, err := o.loop(ctx, report)
	report.finish(outcome, err)

	o.logger.Info("run_finished run=%s outcome=%s iterations=%d completed=%d/%d",
		o.runID, outcome, report.Iterations, report.Progress.Completed, report.Progress.Total)
	o.publish(events.EventRunFinished, map[string]any{"outcome": string(outcome), "iterations": report.Iterations})
	return report, err
}

func (o *Orchestrator) loop(ctx context.Context, report *Report) (Outcome, error) {
	oc := o.cfg.Orchestrator
	stalls := 0

	for iteration := 1; ; iteration++ {
		if oc.MaxIterations > 0 && iteration > oc.MaxIterations {
			o.logger.Info("iteration_limit_reached max=%d", oc.MaxIterations)
			return OutcomeIterationLimit, nil
		}
		if err := ctx.Err(); err != nil {
			return OutcomeInterrupted, fmt.Errorf("orchestration interrupted: %w", err)
		}
		report.Iterations = iteration

		// LoadGraph
		g, err := o.source.Load(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return OutcomeInterrupted, fmt.Errorf("orchestration interrupted: %w", ctx.Err())
			}
			return OutcomeFailed, fmt.Errorf("load graph: %w", err)
		}
		report.Progress = Progress{Total: g.Len(), Completed: g.CompletedCount()}
		o.publish(events.EventGraphLoaded, map[string]any{
			"iteration": iteration, "tasks": g.Len(), "completed": report.Progress.Completed,
		})

		// Validate
		if err := o.validate(g, iteration, report); err != nil {
			return OutcomeInvalid, err
		}

		// FindReady
		ready, exhausted := o.eligible(g)
		if len(ready) == 0 {
			if len(g.Incomplete()) == 0 {
				o.logger.Info("graph_complete tasks=%d", g.Len())
				return OutcomeComplete, nil
			}
			stalled := &StalledError{Blockers: resolver.Blockers(g), Exhausted: exhausted}
			report.Blockers, report.Exhausted = stalled.Blockers, stalled.Exhausted
			o.publish(events.EventStalled, map[string]any{"iteration": iteration, "blocked": len(stalled.Blockers) + len(exhausted)})

			if !oc.Continuous() || oc.DryRun || stalls >= oc.MaxStallRetries {
				o.logger.Error("stalled iteration=%d retries=%d: %v", iteration, stalls, stalled)
				return OutcomeStalled, stalled
			}
			stalls++
			o.logger.Warn("stalled iteration=%d retry=%d/%d: %v", iteration, stalls, oc.MaxStallRetries, stalled)
			if err := o.pause(ctx); err != nil {
				return OutcomeInterrupted, fmt.Errorf("orchestration interrupted: %w", err)
			}
			continue
		}
		stalls = 0
		report.Blockers, report.Exhausted = nil, nil

		// SelectBatch
		detector := parallel.NewDetector(g).
			WithSearchBudget(oc.SearchBudget).
			WithLogger(o.logger.With("parallel"))
		sel := detector.SelectBatch(ready, oc.MaxParallel)
		record := BatchRecord{
			Iteration:  iteration,
			TaskIDs:    sel.IDs(),
			Exact:      sel.Exact,
			Efficiency: sel.Efficiency,
		}
		for _, d := range sel.Deferred {
			record.Deferred = append(record.Deferred, d.String())
		}
		o.logger.Info("batch_selected iteration=%d ready=%d batch=%v deferred=%d saved_hours=%.1f",
			iteration, len(ready), record.TaskIDs, len(sel.Deferred), sel.Efficiency.SavedHours)
		o.publish(events.EventBatchSelected, map[string]any{
			"iteration": iteration, "task_ids": record.TaskIDs, "deferred": len(sel.Deferred), "exact": sel.Exact,
		})

		// Dispatch
		handles, failures := o.dispatch(ctx, g, sel.Batch, iteration)
		record.Dispatched = handles
		for _, f := range failures {
			report.Failures = append(report.Failures, FailureRecord{Iteration: iteration, TaskID: f.TaskID, Error: f.Err.Error()})
			o.countAttempt(g, f.TaskID)
		}
		if oc.DryRun {
			report.Batches = append(report.Batches, record)
			report.Waves = detector.PlanWaves(ready, oc.MaxParallel)
			return OutcomeDryRun, nil
		}
		if err := ctx.Err(); err != nil {
			report.Batches = append(report.Batches, record)
			return OutcomeInterrupted, fmt.Errorf("orchestration interrupted: %w", err)
		}

		// Compatibility check over the batch's open reviews, awaited with it.
		awaited := handles
		if len(handles) > 0 {
			if h, ok, _ := o.startCheck(ctx, session.CheckCompatibility, iteration, handles, &record, report); ok {
				awaited = append(append([]session.Handle(nil), handles...), h)
			}
		}

		// AwaitCompletion
		resolutions, err := o.awaiter.Wait(ctx, awaited)
		o.resolve(g, resolutions, iteration, &record)
		if err != nil {
			report.Batches = append(report.Batches, record)
			return o.awaitFailed(ctx, err, iteration, report)
		}

		// Completion verification, awaited before the graph is reloaded.
		if o.checkEnabled(session.CheckVerification) && len(record.Merged) > 0 {
			merged := mergedHandles(handles, record.Merged)
			h, ok, err := o.startCheck(ctx, session.CheckVerification, iteration, merged, &record, report)
			if err != nil {
				report.Batches = append(report.Batches, record)
				if ctx.Err() != nil {
					return OutcomeInterrupted, fmt.Errorf("orchestration interrupted: %w", ctx.Err())
				}
				return OutcomeFailed, &CheckError{Kind: session.CheckVerification, Err: err}
			}
			if ok {
				resolutions, err := o.awaiter.Wait(ctx, []session.Handle{h})
				o.resolve(g, resolutions, iteration, &record)
				if err != nil {
					report.Batches = append(report.Batches, record)
					return o.awaitFailed(ctx, err, iteration, report)
				}
			}
		}

		// Reconcile
		if err := o.reconcile(ctx, &record, report); err != nil {
			report.Batches = append(report.Batches, record)
			if ctx.Err() != nil {
				return OutcomeInterrupted, fmt.Errorf("orchestration interrupted: %w", ctx.Err())
			}
			report.Unresolved = err.TaskIDs
			o.logger.Error("reconcile_failed iteration=%d tasks=%v: %v", iteration, err.TaskIDs, err.Err)
			return OutcomeFailed, err
		}
		report.Batches = append(report.Batches, record)

		if !oc.Continuous() {
			return OutcomeSingleBatch, nil
		}
		if err := o.pause(ctx); err != nil {
			return OutcomeInterrupted, fmt.Errorf("orchestration interrupted: %w", err)
		}
	}
}

// resolve records review resolutions on the batch record. A task review
// closed without merging counts as a failed attempt.
func (o *Orchestrator) resolve(g *model.TaskGraph, resolutions []review.Resolution, iteration int, record *BatchRecord) {
	for _, r := range resolutions {
		o.publish(events.EventReviewResolved, map[string]any{
			"iteration": iteration, "task_id": r.Handle.TaskID, "state": string(r.State), "ref": r.Handle.ReviewRef,
		})
		if r.Handle.Check != "" {
			for i := range record.Checks {
				if record.Checks[i].Kind == r.Handle.Check && record.Checks[i].ReviewRef == r.Handle.ReviewRef {
					record.Checks[i].State = r.State
				}
			}
			continue
		}
		switch r.State {
		case review.StateMerged:
			record.Merged = append(record.Merged, r.Handle.TaskID)
		case review.StateClosed:
			record.Closed = append(record.Closed, r.Handle.TaskID)
			o.countAttempt(g, r.Handle.TaskID)
		}
	}
}

// awaitFailed maps an await error onto the run outcome.
func (o *Orchestrator) awaitFailed(ctx context.Context, err error, iteration int, report *Report) (Outcome, error) {
	var timeout *review.TimeoutError
	if errors.As(err, &timeout) {
		report.Unresolved = timeout.TaskIDs()
		o.logger.Error("await_timeout iteration=%d unresolved=%v", iteration, report.Unresolved)
		o.publish(events.EventAwaitTimeout, map[string]any{"iteration": iteration, "unresolved": report.Unresolved})
		return OutcomeTimeout, err
	}
	if ctx.Err() != nil {
		return OutcomeInterrupted, fmt.Errorf("orchestration interrupted: %w", err)
	}
	return OutcomeFailed, err
}

func (o *Orchestrator) checkEnabled(kind session.CheckKind) bool {
	switch kind {
	case session.CheckCompatibility:
		return o.cfg.Executor.CompatibilityCheck.Enabled
	case session.CheckVerification:
		return o.cfg.Executor.Verification.Enabled
	}
	return false
}

// startCheck submits a check session over batch when kind is enabled and the
// executor supports checks. ok is false when no check is running; a failed
// submission is also recorded as a failure of the batch.
func (o *Orchestrator) startCheck(ctx context.Context, kind session.CheckKind, iteration int, batch []session.Handle, record *BatchRecord, report *Report) (session.Handle, bool, error) {
	if !o.checkEnabled(kind) {
		return session.Handle{}, false, nil
	}
	checker, ok := o.executor.(session.Checker)
	if !ok {
		o.logger.Warn("check_unsupported kind=%s executor=%T", kind, o.executor)
		return session.Handle{}, false, nil
	}
	h, err := checker.SubmitCheck(ctx, kind, iteration, batch)
	if err == nil && h.ReviewRef == "" {
		err = session.ErrNoReviewRef
	}
	if err != nil {
		report.Failures = append(report.Failures, FailureRecord{Iteration: iteration, TaskID: string(kind), Error: err.Error()})
		o.logger.Error("check_failed iteration=%d kind=%s: %v", iteration, kind, err)
		o.publish(events.EventCheckFailed, map[string]any{"iteration": iteration, "check": string(kind), "error": err.Error()})
		return session.Handle{}, false, err
	}
	h.Check = kind
	if h.TaskID == "" {
		h.TaskID = string(kind)
	}
	record.Checks = append(record.Checks, CheckRecord{Kind: kind, SessionID: h.SessionID, ReviewRef: h.ReviewRef})
	o.logger.Info("check_started iteration=%d kind=%s session=%s ref=%s batch=%d", iteration, kind, h.SessionID, h.ReviewRef, len(batch))
	o.publish(events.EventCheckStarted, map[string]any{
		"iteration": iteration, "check": string(kind), "session_id": h.SessionID, "ref": h.ReviewRef,
	})
	return h, true, nil
}

func mergedHandles(handles []session.Handle, merged []string) []session.Handle {
	set := make(map[string]bool, len(merged))
	for _, id := range merged {
		set[id] = true
	}
	var out []session.Handle
	for _, h := range handles {
		if set[h.TaskID] {
			out = append(out, h)
		}
	}
	return out
}

func (o *Orchestrator) validate(g *model.TaskGraph, iteration int, report *Report) error {
	res := plan.Validate(g, o.cfg.Validation)
	report.Advisories = report.Advisories[:0]
	for _, f := range res.Advisory() {
		o.logger.Warn("advisory iteration=%d %s", iteration, f.Error())
		report.Advisories = append(report.Advisories, f.Error())
	}
	if !res.HasHardFailure() {
		return nil
	}
	gerr := &GraphError{Result: res}
	o.logger.Error("graph_invalid iteration=%d errors=%d", iteration, len(res.Hard()))
	o.publish(events.EventGraphInvalid, map[string]any{"iteration": iteration, "errors": len(res.Hard())})
	return gerr
}

// eligible returns the ready tasks that still have dispatch attempts left,
// and the IDs of those that do not.
func (o *Orchestrator) eligible(g *model.TaskGraph) ([]*model.Task, []string) {
	limit := o.cfg.Retry.MaxDispatchAttempts
	ready := resolver.FindReady(g)
	if limit <= 0 {
		return ready, nil
	}
	var out []*model.Task
	var exhausted []string
	for _, t := range ready {
		if o.attempts[t.ID] >= limit {
			exhausted = append(exhausted, t.ID)
			continue
		}
		out = append(out, t)
	}
	return out, exhausted
}

func (o *Orchestrator) countAttempt(g *model.TaskGraph, taskID string) {
	o.attempts[taskID]++
	limit := o.cfg.Retry.MaxDispatchAttempts
	if limit > 0 && o.attempts[taskID] == limit {
		o.logger.Warn("dispatch_attempts_exhausted task=%s attempts=%d blocked_dependents=%v",
			taskID, limit, resolver.TransitiveDependents(g, taskID))
	}
}

// dispatch submits every batch task concurrently. Failures are collected per
// task; successful tasks are marked in-flight in g.
func (o *Orchestrator) dispatch(ctx context.Context, g *model.TaskGraph, batch []*model.Task, iteration int) ([]session.Handle, []DispatchFailure) {
	var (
		mu       sync.Mutex
		handles  []session.Handle
		failures []DispatchFailure
		eg       errgroup.Group
	)
	dryRun := o.cfg.Orchestrator.DryRun

	for _, t := range batch {
		t := t
		peers := make([]*model.Task, 0, len(batch)-1)
		for _, p := range batch {
			if p.ID != t.ID {
				peers = append(peers, p)
			}
		}
		eg.Go(func() error {
			h, err := o.executor.Submit(ctx, t, peers)
			if err == nil && h.ReviewRef == "" && !dryRun {
				err = session.ErrNoReviewRef
			}
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failures = append(failures, DispatchFailure{TaskID: t.ID, Err: err})
				return nil
			}
			if h.TaskID == "" {
				h.TaskID = t.ID
			}
			handles = append(handles, h)
			return nil
		})
	}
	_ = eg.Wait()

	sort.Slice(handles, func(i, j int) bool { return handles[i].TaskID < handles[j].TaskID })
	sort.Slice(failures, func(i, j int) bool { return failures[i].TaskID < failures[j].TaskID })

	for _, h := range handles {
		g.MarkInFlight(h.TaskID)
		o.logger.Info("task_dispatched iteration=%d task=%s session=%s ref=%s", iteration, h.TaskID, h.SessionID, h.ReviewRef)
		o.publish(events.EventTaskDispatched, map[string]any{
			"iteration": iteration, "task_id": h.TaskID, "session_id": h.SessionID, "ref": h.ReviewRef,
		})
	}
	for _, f := range failures {
		o.logger.Error("dispatch_failed iteration=%d task=%s: %v", iteration, f.TaskID, f.Err)
		o.publish(events.EventDispatchFailed, map[string]any{
			"iteration": iteration, "task_id": f.TaskID, "error": f.Err.Error(),
		})
	}
	return handles, failures
}

// reconcile reloads the graph and records which batch tasks the system of
// record now reports complete.
func (o *Orchestrator) reconcile(ctx context.Context, record *BatchRecord, report *Report) *ReconcileError {
	g, err := o.source.Load(ctx)
	if err != nil {
		ids := make([]string, len(record.Dispatched))
		for i, h := range record.Dispatched {
			ids[i] = h.TaskID
		}
		return &ReconcileError{Iteration: record.Iteration, TaskIDs: ids, Err: err}
	}
	report.Progress = Progress{Total: g.Len(), Completed: g.CompletedCount()}
	for _, h := range record.Dispatched {
		if g.IsComplete(h.TaskID) {
			record.Completed = append(record.Completed, h.TaskID)
		} else {
			record.Incomplete = append(record.Incomplete, h.TaskID)
		}
	}
	if len(record.Incomplete) > 0 {
		o.logger.Warn("reconciled iteration=%d completed=%v still_incomplete=%v", record.Iteration, record.Completed, record.Incomplete)
	} else {
		o.logger.Info("reconciled iteration=%d completed=%v", record.Iteration, record.Completed)
	}
	o.publish(events.EventReconciled, map[string]any{
		"iteration": record.Iteration, "completed": record.Completed, "incomplete": record.Incomplete,
	})
	return nil
}

// watch subscribes to source change notifications, if the source has any.
func (o *Orchestrator) watch(ctx context.Context) {
	w, ok := o.source.(source.Watcher)
	if !ok {
		return
	}
	ch, err := w.Changes(ctx)
	if err != nil {
		o.logger.Warn("watch_unavailable source=%s: %v", o.source, err)
		return
	}
	o.changes = ch
}

// pause waits out the batch interval, returning early when the plan changes.
func (o *Orchestrator) pause(ctx context.Context) error {
	timer := time.NewTimer(o.cfg.Orchestrator.BatchInterval())
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
	case _, ok := <-o.changes:
		if !ok {
			o.changes = nil
			return ctx.Err()
		}
		o.logger.Info("plan_changed source=%s", o.source)
	}
	return nil
}

func (o *Orchestrator) publish(t events.EventType, data map[string]any) {
	if o.bus == nil {
		return
	}
	data["run_id"] = o.runID
	o.bus.Publish(t, data)
}
