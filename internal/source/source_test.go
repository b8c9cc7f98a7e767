package source

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/msageha/migrun/internal/model"
)

const samplePlan = `name: cics-to-springboot
tasks:
  - id: setup_001
    title: Setup monitoring
    content: Install Prometheus
    status: completed
    depends_on: []
    estimated_hours: 8
    deliverables: [monitoring/prometheus.yml]
  - id: validator_001
    title: Create characterization tests
    action: Record current behavior
    status: pending
    depends_on: [setup_001]
  - id: migrate_001
    title: Migrate customer service
    content: Port CUSTOMER program
    status: 90%
    depends_on: [validator_001]
    deliverables: []
`

func writePlan(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "migration_plan.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func TestDecode(t *testing.T) {
	g, err := Decode([]byte(samplePlan), "inline")
	require.NoError(t, err)

	assert.Equal(t, "cics-to-springboot", g.Name())
	assert.Equal(t, 3, g.Len())
	assert.True(t, g.IsComplete("setup_001"))
	assert.False(t, g.IsComplete("migrate_001"))

	v, ok := g.Task("validator_001")
	require.True(t, ok)
	assert.Equal(t, "Record current behavior", v.Body())
	assert.False(t, v.Deliverables.Declared)

	m, _ := g.Task("migrate_001")
	assert.True(t, m.Deliverables.Declared)
	assert.Empty(t, m.Deliverables.Paths)
}

func TestDecode_Invalid(t *testing.T) {
	_, err := Decode([]byte("tasks: [\n"), "broken.yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken.yaml")
}

func TestFileSource_Load(t *testing.T) {
	path := writePlan(t, t.TempDir(), samplePlan)

	g, err := NewFileSource(path, nil).Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, g.Len())
}

func TestFileSource_NotFound(t *testing.T) {
	_, err := NewFileSource(filepath.Join(t.TempDir(), "missing.yaml"), nil).Load(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestFileSource_ChangesSignalsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := writePlan(t, dir, samplePlan)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := NewFileSource(path, nil).Changes(ctx)
	require.NoError(t, err)

	// Unrelated files in the same directory are ignored.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0644))
	require.NoError(t, os.WriteFile(path, []byte(samplePlan+"\n"), 0644))

	select {
	case <-ch:
	case <-time.After(5 * time.Second):
		t.Fatal("expected a change signal")
	}

	cancel()
	require.Eventually(t, func() bool {
		select {
		case _, ok := <-ch:
			return !ok
		default:
			return false
		}
	}, 5*time.Second, 10*time.Millisecond)
}

func TestRemoteSource_Load(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		_, _ = w.Write([]byte(samplePlan))
	}))
	defer srv.Close()

	g, err := NewRemoteSource(srv.URL+"/plan.yaml", "secret", nil).WithClient(srv.Client()).Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, g.Len())
	assert.Equal(t, "Bearer secret", gotAuth)
}

func TestRemoteSource_Statuses(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/missing":
			http.NotFound(w, r)
		default:
			http.Error(w, "boom", http.StatusInternalServerError)
		}
	}))
	defer srv.Close()

	_, err := NewRemoteSource(srv.URL+"/missing", "", nil).Load(context.Background())
	assert.True(t, errors.Is(err, ErrNotFound))

	_, err = NewRemoteSource(srv.URL+"/broken", "", nil).Load(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "500")
}

type fakeSource struct {
	name  string
	graph *model.TaskGraph
	err   error
	calls int
}

func (f *fakeSource) Load(context.Context) (*model.TaskGraph, error) {
	f.calls++
	return f.graph, f.err
}

func (f *fakeSource) String() string { return f.name }

func TestFallbackSource_FirstLoadFallsBack(t *testing.T) {
	local := &fakeSource{name: "local", graph: model.NewTaskGraph("local", nil)}
	remote := &fakeSource{name: "remote", err: errors.New("network down")}
	src := NewFallbackSource(remote, local, nil)

	g, err := src.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "local", g.Name())

	_, err = src.Load(context.Background())
	require.Error(t, err, "later loads must not fall back")
	assert.Equal(t, 1, local.calls)
	assert.Equal(t, 2, remote.calls)
}

func TestFallbackSource_PrimaryWins(t *testing.T) {
	local := &fakeSource{name: "local", graph: model.NewTaskGraph("local", nil)}
	remote := &fakeSource{name: "remote", graph: model.NewTaskGraph("remote", nil)}
	src := NewFallbackSource(remote, local, nil)

	g, err := src.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "remote", g.Name())
	assert.Zero(t, local.calls)
}

func TestFallbackSource_BothFail(t *testing.T) {
	local := &fakeSource{name: "local", err: ErrNotFound}
	remote := &fakeSource{name: "remote", err: errors.New("network down")}

	_, err := NewFallbackSource(remote, local, nil).Load(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.Contains(t, err.Error(), "network down")
}
