// Package persistence implements the persistence observer: a single
// background goroutine — the pers_observer thread — that consumes the
// group-communication runtime's local_persisted/global_persisted callback
// streams and runs actions registered against a specific
// (subgroup, version, is_global) event.
package persistence

import (
	"sync"

	"github.com/flowmesh/flowstore/pkg/groupruntime"
	"github.com/flowmesh/flowstore/pkg/log"
	"github.com/flowmesh/flowstore/pkg/object"
)

// Action runs when its registered event fires.
type Action func()

type eventKey struct {
	subgroupID uint32
	version    object.Version
	isGlobal   bool
}

type frontierKey struct {
	subgroupID uint32
	isGlobal   bool
}

type event struct {
	subgroupID uint32
	version    object.Version
	isGlobal   bool
}

// Observer is the pers_observer thread: registers itself as a
// groupruntime.PersistenceListener for a set of subgroups and runs
// actions registered against persistence events as they arrive.
type Observer struct {
	events chan event
	kick   chan struct{}
	stopCh chan struct{}
	wg     sync.WaitGroup

	// actionsMu guards only the registered-action state; event delivery
	// needs no mutex of its own since the channel already serializes it
	// onto the one pers_observer goroutine.
	actionsMu sync.Mutex
	pending   map[eventKey][]Action
	frontier  map[frontierKey]object.Version
	pastDue   []Action
}

// New constructs an observer and registers it against every subgroup in
// subgroupIDs on runtime.
func New(runtime groupruntime.Runtime, subgroupIDs []uint32) *Observer {
	o := &Observer{
		events:   make(chan event, 1024),
		kick:     make(chan struct{}, 1),
		stopCh:   make(chan struct{}),
		pending:  make(map[eventKey][]Action),
		frontier: make(map[frontierKey]object.Version),
	}
	for _, id := range subgroupIDs {
		runtime.RegisterPersistenceListener(id, o)
		subgroupLog := log.WithSubgroup(id)
		subgroupLog.Debug().Msg("pers_observer listening")
	}
	return o
}

// LocalPersisted implements groupruntime.PersistenceListener.
func (o *Observer) LocalPersisted(shard groupruntime.ShardID, version object.Version) {
	o.deliver(event{subgroupID: shard.SubgroupIndex, version: version, isGlobal: false})
}

// GlobalPersisted implements groupruntime.PersistenceListener.
func (o *Observer) GlobalPersisted(shard groupruntime.ShardID, version object.Version) {
	o.deliver(event{subgroupID: shard.SubgroupIndex, version: version, isGlobal: true})
}

func (o *Observer) deliver(ev event) {
	select {
	case o.events <- ev:
	case <-o.stopCh:
	}
}

// Start launches the pers_observer goroutine.
func (o *Observer) Start() {
	o.wg.Add(1)
	go o.run()
}

// Stop signals the observer to exit and waits for it to do so.
func (o *Observer) Stop() {
	close(o.stopCh)
	o.wg.Wait()
}

func (o *Observer) run() {
	defer o.wg.Done()
	logger := log.WithComponent("pers_observer")
	for {
		o.runPastDue()
		select {
		case ev := <-o.events:
			o.handle(ev)
		case <-o.kick:
			// an action landed on the past-due list; loop to run it.
		case <-o.stopCh:
			logger.Debug().Msg("pers_observer stopping")
			return
		}
	}
}

// runPastDue fires every action that was registered for an event that had
// already fired by the time it was registered.
func (o *Observer) runPastDue() {
	o.actionsMu.Lock()
	due := o.pastDue
	o.pastDue = nil
	o.actionsMu.Unlock()

	for _, a := range due {
		a()
	}
}

func (o *Observer) handle(ev event) {
	o.actionsMu.Lock()
	fk := frontierKey{subgroupID: ev.subgroupID, isGlobal: ev.isGlobal}
	if ev.version > o.frontierLocked(fk) {
		o.frontier[fk] = ev.version
	}
	k := eventKey{subgroupID: ev.subgroupID, version: ev.version, isGlobal: ev.isGlobal}
	actions := o.pending[k]
	delete(o.pending, k)
	o.actionsMu.Unlock()

	for _, a := range actions {
		a()
	}
}

// RegisterAction runs action when (subgroupID, version, isGlobal) fires.
// If that event has already been delivered, action is queued on the
// past-due list and runs on the observer's next loop iteration rather
// than being dropped or run synchronously on the caller's goroutine.
func (o *Observer) RegisterAction(subgroupID uint32, version object.Version, isGlobal bool, action Action) {
	o.actionsMu.Lock()
	fk := frontierKey{subgroupID: subgroupID, isGlobal: isGlobal}
	pastDue := version <= o.frontierLocked(fk)
	if pastDue {
		o.pastDue = append(o.pastDue, action)
	} else {
		k := eventKey{subgroupID: subgroupID, version: version, isGlobal: isGlobal}
		o.pending[k] = append(o.pending[k], action)
	}
	o.actionsMu.Unlock()

	if pastDue {
		select {
		case o.kick <- struct{}{}:
		default:
		}
	}
}

// frontierLocked returns the highest version fired for fk, or
// object.InvalidVersion if none has fired yet. Callers must hold actionsMu.
func (o *Observer) frontierLocked(fk frontierKey) object.Version {
	if v, ok := o.frontier[fk]; ok {
		return v
	}
	return object.InvalidVersion
}
