package plan

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/msageha/migrun/internal/model"
)

var rules = model.DefaultConfig().Validation

func kinds(res *Result) []Kind {
	out := make([]Kind, 0, len(res.Findings))
	for _, f := range res.Findings {
		out = append(out, f.Kind)
	}
	return out
}

func TestValidate_ValidGraphIsOK(t *testing.T) {
	g := graph(
		task("setup_001"),
		task("validator_001", "setup_001"),
		task("migrate_001", "validator_001"),
	)

	res := Validate(g, rules)
	assert.True(t, res.OK(), res.Error())
	assert.False(t, res.HasHardFailure())
}

func TestValidate_Idempotent(t *testing.T) {
	g := graph(task("setup_001"), task("validator_001", "setup_001"), task("migrate_001", "validator_001"))
	before := g.Clone()

	first := Validate(g, rules)
	second := Validate(g, rules)

	assert.True(t, first.OK())
	assert.True(t, second.OK())
	assert.Equal(t, before.Tasks(), g.Tasks(), "validation must not mutate the graph")
}

func TestValidate_NilGraph(t *testing.T) {
	res := Validate(nil, rules)
	require.Len(t, res.Findings, 1)
	assert.Equal(t, KindNoGraph, res.Findings[0].Kind)
	assert.True(t, res.HasHardFailure())
}

func TestValidate_EmptyGraphIsOK(t *testing.T) {
	assert.True(t, Validate(graph(), rules).OK())
}

func TestValidate_DuplicateIDs(t *testing.T) {
	g := graph(task("migrate_001"), task("migrate_001"), task("migrate_002"), task("migrate_002"), task("migrate_002"))

	dups := Validate(g, rules).OfKind(KindDuplicateID)
	require.Len(t, dups, 2)
	assert.Equal(t, []string{"migrate_001"}, dups[0].TaskIDs)
	assert.Equal(t, []string{"migrate_002"}, dups[1].TaskIDs)
	assert.Contains(t, dups[1].Message, "3 tasks")
}

func TestValidate_NamingConventionIsAdvisory(t *testing.T) {
	g := graph(task("migrate_001"), task("Migrate-2"), task("deploy_001"))

	res := Validate(g, rules)
	naming := res.OfKind(KindNamingConvention)
	require.Len(t, naming, 2)
	assert.Equal(t, []string{"Migrate-2"}, naming[0].TaskIDs)
	assert.Equal(t, []string{"deploy_001"}, naming[1].TaskIDs)
	assert.False(t, res.HasHardFailure())
	assert.Equal(t, SeverityWarning, naming[0].Severity())
}

func TestValidate_FieldShape(t *testing.T) {
	long := strings.Repeat("word ", 21)
	g := graph(
		&model.Task{ID: "migrate_001", Content: "x"},
		&model.Task{ID: "migrate_002", Title: long, Content: "x"},
		&model.Task{ID: "migrate_003", Title: "ok", Content: strings.Repeat("a", 4001)},
		&model.Task{ID: "migrate_004", Title: "ok", Action: "x", EstimatedHours: -2},
		&model.Task{Title: "no id", Content: "x"},
	)

	res := Validate(g, rules)
	shape := res.OfKind(KindFieldShape)
	require.Len(t, shape, 4)
	assert.Contains(t, shape[0].Message, "title is missing")
	assert.Contains(t, shape[1].Message, "21 words")
	assert.Contains(t, shape[2].Message, "4001 characters")
	assert.Contains(t, shape[3].Message, "estimated_hours")

	missing := res.OfKind(KindMissingID)
	require.Len(t, missing, 1)
	assert.Contains(t, missing[0].Message, "tasks[4]")
	assert.True(t, res.HasHardFailure())
}

func TestValidate_MissingReferences(t *testing.T) {
	g := graph(task("migrate_001", "setup_009", "setup_010"), task("migrate_002", "setup_009"))

	refs := Validate(g, rules).OfKind(KindMissingReference)
	require.Len(t, refs, 3)
	assert.Equal(t, []string{"migrate_001", "setup_009"}, refs[0].TaskIDs)
	assert.Equal(t, []string{"migrate_001", "setup_010"}, refs[1].TaskIDs)
	assert.Equal(t, []string{"migrate_002", "setup_009"}, refs[2].TaskIDs)
}

func TestValidate_SelfDependency(t *testing.T) {
	g := graph(task("migrate_001", "migrate_001"))

	res := Validate(g, rules)
	self := res.OfKind(KindSelfDependency)
	require.Len(t, self, 1)
	assert.Equal(t, []string{"migrate_001"}, self[0].TaskIDs)
	assert.Empty(t, res.OfKind(KindCycle), "self loops are not double-reported as cycles")
	assert.Empty(t, res.OfKind(KindMissingReference))
}

func TestValidate_CycleReportsFullPath(t *testing.T) {
	g := graph(task("migrate_001", "migrate_002"), task("migrate_002", "migrate_003"), task("migrate_003", "migrate_001"))

	res := Validate(g, rules)
	cycles := res.OfKind(KindCycle)
	require.Len(t, cycles, 1)
	assert.ElementsMatch(t, []string{"migrate_001", "migrate_002", "migrate_003"}, cycles[0].TaskIDs)
	assert.Contains(t, cycles[0].Message, "migrate_001 -> migrate_002 -> migrate_003 -> migrate_001")
	assert.True(t, res.HasHardFailure())
}

func TestValidate_OrphanedValidator(t *testing.T) {
	g := graph(
		task("setup_001"),
		task("validator_001", "setup_001"),
		task("validator_002", "setup_001"),
		task("migrate_001", "validator_001"),
	)

	res := Validate(g, rules)
	orphans := res.OfKind(KindOrphanedValidator)
	require.Len(t, orphans, 1)
	assert.Equal(t, []string{"validator_002"}, orphans[0].TaskIDs)
	assert.False(t, res.HasHardFailure(), "orphaned validators are advisory")
	assert.Len(t, res.Advisory(), 1)
	assert.Empty(t, res.Hard())
}

func TestValidate_CheckOrder(t *testing.T) {
	g := graph(
		task("validator_001"),
		task("migrate_001", "migrate_001"),
		task("migrate_002", "ghost_001"),
		task("bad-name"),
		task("migrate_002"),
		task("migrate_003", "migrate_004"),
		task("migrate_004", "migrate_003"),
	)

	got := kinds(Validate(g, rules))
	want := []Kind{
		KindDuplicateID,
		KindNamingConvention,
		KindMissingReference,
		KindSelfDependency,
		KindCycle,
		KindOrphanedValidator,
	}
	assert.Equal(t, want, got)
}

func TestResult_FormatStderr(t *testing.T) {
	res := &Result{}
	res.Add(KindCycle, []string{"a", "b"}, "circular dependency detected: a -> b -> a")
	res.Add(KindOrphanedValidator, []string{"validator_001"}, "unused")

	out := res.FormatStderr()
	assert.Contains(t, out, "error: cycle [a, b]: circular dependency detected: a -> b -> a\n")
	assert.Contains(t, out, "warning: orphaned_validator [validator_001]: unused\n")
}
