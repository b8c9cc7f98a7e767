package parallel

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/msageha/migrun/internal/model"
)

func withDeps(t *model.Task, deps ...string) *model.Task {
	t.DependsOn = deps
	return t
}

func TestAnalyze_ExamplePlan(t *testing.T) {
	g := model.NewTaskGraph("example", []*model.Task{
		declared("setup_001", 8),
		declared("setup_002", 6),
		withDeps(declared("validator_001", 10), "setup_001"),
		withDeps(declared("migrate_001", 12), "setup_001", "setup_002", "validator_001"),
		withDeps(declared("migrate_002", 10), "setup_002", "validator_001"),
		withDeps(declared("integrate_001", 8), "migrate_001", "migrate_002"),
	})

	a, err := NewDetector(g).Analyze()
	require.NoError(t, err)

	assert.Equal(t, 6, a.TotalTasks)
	require.Len(t, a.Levels, 4)
	assert.Equal(t, []string{"setup_001", "setup_002"}, a.Levels[0].TaskIDs)
	assert.Equal(t, []string{"validator_001"}, a.Levels[1].TaskIDs)
	assert.Equal(t, []string{"migrate_001", "migrate_002"}, a.Levels[2].TaskIDs)
	assert.Equal(t, []string{"integrate_001"}, a.Levels[3].TaskIDs)

	assert.Equal(t, 6.0, a.Levels[0].SavedHours)
	assert.Equal(t, 18.0, a.Levels[2].EarliestStart)
	assert.Equal(t, 2, a.MaxParallelism)

	assert.Equal(t, []string{"setup_001", "validator_001", "migrate_001", "integrate_001"}, a.CriticalPath)
	assert.Equal(t, 38.0, a.CriticalPathHours)
	assert.Equal(t, 54.0, a.SerialHours)
	assert.Equal(t, 38.0, a.ParallelHours)
	assert.Equal(t, 16.0, a.SavedHours)
	assert.InDelta(t, 29.63, a.EfficiencyGain, 0.01)
}

func TestAnalyze_IgnoresUnknownDependencies(t *testing.T) {
	g := model.NewTaskGraph("ghost", []*model.Task{
		withDeps(declared("migrate_001", 3), "ghost_001"),
	})

	a, err := NewDetector(g).Analyze()
	require.NoError(t, err)
	require.Len(t, a.Levels, 1)
	assert.Equal(t, []string{"migrate_001"}, a.CriticalPath)
}

func TestAnalyze_CycleFails(t *testing.T) {
	g := model.NewTaskGraph("cycle", []*model.Task{
		withDeps(declared("migrate_001", 1), "migrate_002"),
		withDeps(declared("migrate_002", 1), "migrate_001"),
	})

	_, err := NewDetector(g).Analyze()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "circular dependency")
}

func TestAnalyze_EmptyGraph(t *testing.T) {
	a, err := NewDetector(model.NewTaskGraph("empty", nil)).Analyze()
	require.NoError(t, err)
	assert.Zero(t, a.TotalTasks)
	assert.Empty(t, a.CriticalPath)
	assert.Zero(t, a.EfficiencyGain)
}
