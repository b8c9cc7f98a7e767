package review

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCachedProvider_MemoizesTerminalStates(t *testing.T) {
	inner := newScripted(map[string][]State{
		"pr/1": {StateMerged},
		"pr/2": {StateOpen, StateClosed},
	})
	p, err := NewCachedProvider(inner, 1<<20)
	require.NoError(t, err)
	defer p.Close()
	ctx := context.Background()

	st, err := p.Status(ctx, "pr/1")
	require.NoError(t, err)
	assert.Equal(t, StateMerged, st)
	p.Wait()

	st, err = p.Status(ctx, "pr/1")
	require.NoError(t, err)
	assert.Equal(t, StateMerged, st)
	assert.Equal(t, 1, inner.callsFor("pr/1"))

	st, _ = p.Status(ctx, "pr/2")
	assert.Equal(t, StateOpen, st)
	p.Wait()
	st, _ = p.Status(ctx, "pr/2")
	assert.Equal(t, StateClosed, st, "open states are never cached")
	assert.Equal(t, 2, inner.callsFor("pr/2"))
}

func TestCachedProvider_SmallBudget(t *testing.T) {
	inner := newScripted(map[string][]State{"pr/1": {StateMerged}})
	p, err := NewCachedProvider(inner, 50)
	require.NoError(t, err)
	defer p.Close()

	st, err := p.Status(context.Background(), "pr/1")
	require.NoError(t, err)
	assert.Equal(t, StateMerged, st)

	_, err = NewCachedProvider(inner, 0)
	assert.Error(t, err)
}

func TestCachedProvider_ErrorsAreNotCached(t *testing.T) {
	inner := newScripted(nil)
	inner.errs["pr/1"] = assert.AnError
	p, err := NewCachedProvider(inner, 1<<20)
	require.NoError(t, err)
	defer p.Close()

	_, err = p.Status(context.Background(), "pr/1")
	assert.ErrorIs(t, err, assert.AnError)
	_, err = p.Status(context.Background(), "pr/1")
	assert.ErrorIs(t, err, assert.AnError)
	assert.Equal(t, 2, inner.callsFor("pr/1"))
}

// gatedProvider blocks every call until release is closed.
type gatedProvider struct {
	entered chan struct{}
	release chan struct{}
	calls   atomic.Int32
}

func (p *gatedProvider) Status(_ context.Context, _ string) (State, error) {
	if p.calls.Add(1) == 1 {
		close(p.entered)
	}
	<-p.release
	return StateMerged, nil
}

func TestCachedProvider_SharesConcurrentLookups(t *testing.T) {
	inner := &gatedProvider{entered: make(chan struct{}), release: make(chan struct{})}
	p, err := NewCachedProvider(inner, 1<<20)
	require.NoError(t, err)
	defer p.Close()

	var wg sync.WaitGroup
	results := make([]State, 2)
	lookup := func(i int) {
		defer wg.Done()
		results[i], _ = p.Status(context.Background(), "pr/9")
	}
	wg.Add(2)
	go lookup(0)
	<-inner.entered
	go lookup(1)
	time.Sleep(50 * time.Millisecond)
	close(inner.release)
	wg.Wait()

	assert.Equal(t, []State{StateMerged, StateMerged}, results)
	assert.Equal(t, int32(1), inner.calls.Load())
}
