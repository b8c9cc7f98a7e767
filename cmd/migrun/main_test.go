package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/msageha/migrun/internal/events"

	"github.com/msageha/migrun/internal/orchestrator"
	"github.com/msageha/migrun/internal/plan"
	"github.com/msageha/migrun/internal/review"
)

func TestExitCode(t *testing.T) {
	invalid := &plan.Result{}
	invalid.Add(plan.KindCycle, []string{"migrate_001"}, "circular dependency detected")

	tests := []struct {
		name string
		err  error
		want int
	}{
		{"success", nil, exitOK},
		{"invalid graph", &orchestrator.GraphError{Result: invalid}, exitInvalid},
		{"stalled", &orchestrator.StalledError{Exhausted: []string{"migrate_001"}}, exitStalled},
		{"timeout", &review.TimeoutError{Timeout: time.Minute}, exitTimeout},
		{"interrupted", fmt.Errorf("orchestration interrupted: %w", context.Canceled), exitInterrupted},
		{"reconcile", &orchestrator.ReconcileError{Iteration: 2, TaskIDs: []string{"migrate_001"}, Err: errors.New("boom")}, exitFailure},
		{"other", errors.New("load graph: boom"), exitFailure},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, exitCode(tt.err))
		})
	}
}

func TestDurationFlags(t *testing.T) {
	var secs, mins int
	assert.NoError(t, secondsFlag("--interval", &secs)("1500ms"))
	assert.Equal(t, 2, secs)
	assert.Error(t, secondsFlag("--interval", &secs)("10ms"))
	assert.Error(t, secondsFlag("--interval", &secs)("soon"))

	assert.NoError(t, minutesFlag("--timeout", &mins)("90s"))
	assert.Equal(t, 2, mins)
	assert.NoError(t, minutesFlag("--timeout", &mins)("1h"))
	assert.Equal(t, 60, mins)
	assert.Error(t, minutesFlag("--timeout", &mins)("0s"))
}

func TestIntFlag(t *testing.T) {
	var n int
	assert.NoError(t, intFlag("--max-parallel", &n)("4"))
	assert.Equal(t, 4, n)
	assert.Error(t, intFlag("--max-parallel", &n)("-1"))
	assert.Error(t, intFlag("--max-parallel", &n)("four"))
}

func TestParseCommon(t *testing.T) {
	var c commonFlags
	args := []string{"--plan", "p.yaml", "--single", "--config"}

	i := 0
	ok, err := c.parseCommon(args, &i)
	assert.True(t, ok)
	assert.NoError(t, err)
	assert.Equal(t, 1, i)
	assert.Equal(t, "p.yaml", c.planPath)

	i = 2
	ok, err = c.parseCommon(args, &i)
	assert.False(t, ok)
	assert.NoError(t, err)

	i = 3
	_, err = c.parseCommon(args, &i)
	assert.Error(t, err)
}

func TestVerifyAudit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")
	audit, err := events.NewAuditLogger(path, 0)
	require.NoError(t, err)
	audit.EnableChecksum(true)
	require.NoError(t, audit.Record(events.Event{Type: events.EventRunStarted, Data: map[string]any{"run_id": "r1", "mode": "single"}}))
	require.NoError(t, audit.Record(events.Event{Type: events.EventRunFinished, Data: map[string]any{"run_id": "r1", "outcome": "complete"}}))
	require.NoError(t, audit.Close())

	var out bytes.Buffer
	assert.Equal(t, exitOK, verifyAudit(&out, path))
	assert.Contains(t, out.String(), "2 entries, 2 valid")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, []byte(strings.Replace(string(data), `"complete"`, `"stalled"`, 1)), 0644))

	out.Reset()
	assert.Equal(t, exitFailure, verifyAudit(&out, path))
	assert.Contains(t, out.String(), "1 entries failed")

	assert.Equal(t, exitFailure, verifyAudit(&out, ""))
}
