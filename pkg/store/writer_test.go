package store

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSetter struct {
	mu     sync.Mutex
	writes []Values
	err    error
}

func (r *recordingSetter) Set(ctx context.Context, v Values) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.writes = append(r.writes, v)
	return r.err
}

// gatedSetter blocks each write until the test releases it.
type gatedSetter struct {
	recordingSetter
	started chan struct{}
	release chan struct{}
}

func newGatedSetter() *gatedSetter {
	return &gatedSetter{started: make(chan struct{}, 16), release: make(chan struct{})}
}

func (g *gatedSetter) Set(ctx context.Context, v Values) error {
	g.started <- struct{}{}
	<-g.release
	return g.recordingSetter.Set(ctx, v)
}

func TestAsyncWriterKeepsOrder(t *testing.T) {
	dst := &recordingSetter{}
	w := NewAsyncWriter(dst, 0, nil)

	for i := 0; i < 50; i++ {
		require.True(t, w.Enqueue(Values{"n": i}))
	}
	w.Close()

	require.NotEmpty(t, dst.writes)
	last := -1
	for _, v := range dst.writes {
		n := v["n"].(int)
		assert.Greater(t, n, last, "writes went out of order")
		last = n
	}
	assert.Equal(t, 49, last)
}

func TestAsyncWriterCoalescesWhileBusy(t *testing.T) {
	dst := newGatedSetter()
	w := NewAsyncWriter(dst, 0, nil)

	w.Enqueue(Values{"overlayWidth": 20.0})
	<-dst.started

	// Queued behind the in-flight write
	w.Enqueue(Values{"overlayWidth": 25.0, "pinnedMode": true})
	w.Enqueue(Values{"overlayWidth": 30.0})
	w.Enqueue(Values{"pinnedMode": false})

	close(dst.release)
	w.Close()

	require.Len(t, dst.writes, 2)
	assert.Equal(t, Values{"overlayWidth": 20.0}, dst.writes[0])
	assert.Equal(t, Values{"overlayWidth": 30.0, "pinnedMode": false}, dst.writes[1])
}

func TestAsyncWriterSnapshotsValues(t *testing.T) {
	dst := &recordingSetter{}
	w := NewAsyncWriter(dst, 0, nil)

	v := Values{"k": 1}
	w.Enqueue(v)
	v["k"] = 2
	w.Close()

	require.Len(t, dst.writes, 1)
	assert.Equal(t, 1, dst.writes[0]["k"])
}

func TestAsyncWriterSurvivesFailures(t *testing.T) {
	dst := &recordingSetter{err: errors.New("down")}
	w := NewAsyncWriter(dst, 0, nil)
	w.Enqueue(Values{"a": true})
	w.Enqueue(Values{"b": true})
	w.Close()

	written := Values{}
	for _, v := range dst.writes {
		for k, val := range v {
			written[k] = val
		}
	}
	assert.Equal(t, Values{"a": true, "b": true}, written, "a failed write does not stop later ones")
}

func TestAsyncWriterRejectsAfterClose(t *testing.T) {
	w := NewAsyncWriter(&recordingSetter{}, 0, nil)
	w.Close()
	w.Close()
	assert.False(t, w.Enqueue(Values{"late": 1}))
}

func TestAsyncWriterFallsBackThroughStore(t *testing.T) {
	primary := NewMemoryTier("sync")
	fallback := NewMemoryTier("local")
	primary.FailSets(ErrQuotaExceeded)

	w := NewAsyncWriter(New(primary, fallback), 0, nil)
	w.Enqueue(Values{"pinnedMode": true})
	w.Close()

	assert.Equal(t, true, fallback.Snapshot()["pinnedMode"])
	assert.Empty(t, primary.Snapshot())
}
