package engine

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowmesh/flowstore/pkg/object"
)

func smallDescriptor() ResourceDescriptor {
	r := DefaultResourceDescriptor()
	r.NumStatefulWorkersMulticast = 2
	r.NumStatelessWorkersMulticast = 2
	r.NumStatefulWorkersP2P = 2
	r.NumStatelessWorkersP2P = 2
	r.ActionBufferSize = 16
	return r
}

func TestStatefulSameKeyAlwaysSameWorker(t *testing.T) {
	e := New(smallDescriptor())
	defer e.Shutdown()

	var mu sync.Mutex
	seenWorkers := map[int]bool{}
	var wg sync.WaitGroup

	for i := 0; i < 20; i++ {
		wg.Add(1)
		h := HandlerFunc(func(a Action, workerID int, emit Emit) {
			defer wg.Done()
			mu.Lock()
			seenWorkers[workerID] = true
			mu.Unlock()
		})
		ok := e.Enqueue(SourceMulticast, Stateful, Action{Key: "/a/fixed-key", Handler: h})
		require.True(t, ok)
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	assert.Len(t, seenWorkers, 1, "every action for the same key must land on the same stateful worker")
}

func TestSingleThreadedPreservesFIFO(t *testing.T) {
	e := New(smallDescriptor())
	defer e.Shutdown()

	var mu sync.Mutex
	var order []int
	var wg sync.WaitGroup

	for i := 0; i < 50; i++ {
		wg.Add(1)
		n := i
		h := HandlerFunc(func(a Action, workerID int, emit Emit) {
			defer wg.Done()
			mu.Lock()
			order = append(order, n)
			mu.Unlock()
		})
		ok := e.Enqueue(SourceP2P, SingleThreaded, Action{Key: object.Key("/a/x"), Handler: h})
		require.True(t, ok)
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	for i := range order {
		assert.Equal(t, i, order[i], "single-threaded queue must preserve submission order")
	}
}

func TestShutdownDrainsQueuedActionsThenStopsAcceptingNew(t *testing.T) {
	e := New(smallDescriptor())

	var ran atomic.Bool
	ok := e.Enqueue(SourceMulticast, Stateless, Action{
		Key: "/a/x",
		Handler: HandlerFunc(func(a Action, workerID int, emit Emit) {
			ran.Store(true)
		}),
	})
	require.True(t, ok)

	e.Shutdown()
	assert.True(t, ran.Load(), "queued action must run before shutdown returns")

	ok = e.Enqueue(SourceMulticast, Stateless, Action{Key: "/a/y", Handler: HandlerFunc(func(Action, int, Emit) {})})
	assert.False(t, ok, "enqueue after shutdown must fail")
}

func TestHandlerPanicDoesNotKillWorker(t *testing.T) {
	e := New(smallDescriptor())
	defer e.Shutdown()

	ok := e.Enqueue(SourceP2P, Stateless, Action{
		Key:     "/a/x",
		Handler: HandlerFunc(func(Action, int, Emit) { panic("boom") }),
	})
	require.True(t, ok)

	done := make(chan struct{})
	ok = e.Enqueue(SourceP2P, Stateless, Action{
		Key:     "/a/y",
		Handler: HandlerFunc(func(Action, int, Emit) { close(done) }),
	})
	require.True(t, ok)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not recover from panic and process the next action")
	}
}
