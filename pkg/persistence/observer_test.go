package persistence

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowmesh/flowstore/pkg/groupruntime"
	"github.com/flowmesh/flowstore/pkg/groupruntime/loopback"
)

func TestRegisterThenEventFiresAction(t *testing.T) {
	rt := loopback.New(1)
	o := New(rt, []uint32{0})
	o.Start()
	defer o.Stop()

	done := make(chan struct{})
	o.RegisterAction(0, 5, true, func() { close(done) })

	o.GlobalPersisted(groupruntime.ShardID{SubgroupIndex: 0}, 5)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("action never ran")
	}
}

func TestEventBeforeRegisterRunsOnNextLoop(t *testing.T) {
	rt := loopback.New(1)
	o := New(rt, []uint32{0})
	o.Start()
	defer o.Stop()

	// fire the event first, then register — the action must still run,
	// via the past-due list, rather than being silently dropped.
	o.GlobalPersisted(groupruntime.ShardID{SubgroupIndex: 0}, 3)
	time.Sleep(20 * time.Millisecond) // let the observer process the event and advance its frontier

	done := make(chan struct{})
	o.RegisterAction(0, 3, true, func() { close(done) })

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("past-due action never ran")
	}
}

func TestLocalAndGlobalEventsAreDistinctKeys(t *testing.T) {
	rt := loopback.New(1)
	o := New(rt, []uint32{0})
	o.Start()
	defer o.Stop()

	var mu sync.Mutex
	var fired []bool
	wait := make(chan struct{}, 2)
	o.RegisterAction(0, 7, false, func() {
		mu.Lock()
		fired = append(fired, false)
		mu.Unlock()
		wait <- struct{}{}
	})
	o.RegisterAction(0, 7, true, func() {
		mu.Lock()
		fired = append(fired, true)
		mu.Unlock()
		wait <- struct{}{}
	})

	o.LocalPersisted(groupruntime.ShardID{SubgroupIndex: 0}, 7)

	select {
	case <-wait:
	case <-time.After(time.Second):
		t.Fatal("local-persisted action never ran")
	}

	select {
	case <-wait:
		t.Fatal("global-persisted action must not fire from a local-persisted event")
	case <-time.After(50 * time.Millisecond):
	}

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, fired, 1)
	assert.False(t, fired[0])
}
