package engine

import (
	"github.com/flowmesh/flowstore/pkg/object"
)

// Source selects which of the two queue families an action lands in:
// multicast for actions born from ordered (totally-ordered broadcast)
// deliveries, p2p for actions born from point-to-point trigger_put calls.
type Source int

const (
	SourceMulticast Source = iota
	SourceP2P
)

// SourceFromTrigger maps a mutation's trigger flag to its queue family.
func SourceFromTrigger(isTrigger bool) Source {
	if isTrigger {
		return SourceP2P
	}
	return SourceMulticast
}

func (s Source) String() string {
	if s == SourceP2P {
		return "p2p"
	}
	return "multicast"
}

// Dispatcher selects how many replicas run a matching UDL: ONE elects the
// single member whose id equals the keyed hash into the shard's member
// list; ALL runs the UDL on every replica.
type Dispatcher int

const (
	DispatchOne Dispatcher = iota
	DispatchAll
)

func (d Dispatcher) String() string {
	if d == DispatchAll {
		return "all"
	}
	return "one"
}

// Statefulness selects which of the three execution disciplines a UDL
// runs under.
type Statefulness int

const (
	// Stateful actions for the same key always run on the same worker,
	// so a UDL may keep per-key state across invocations.
	Stateful Statefulness = iota
	// Stateless actions may run on any worker in the pool; no per-key
	// affinity or ordering is preserved.
	Stateless
	// SingleThreaded actions run on the one worker of a dedicated
	// single-thread queue, preserving FIFO order across all keys.
	SingleThreaded
)

func (s Statefulness) String() string {
	switch s {
	case Stateful:
		return "stateful"
	case SingleThreaded:
		return "single-threaded"
	default:
		return "stateless"
	}
}

// Hook selects which triggering operations a UDL wants to see.
type Hook int

const (
	HookOrderedPut Hook = iota
	HookTriggerPut
	HookBoth
)

// Matches reports whether hook fires for a mutation that was (or was not)
// a trigger_put.
func (h Hook) Matches(isTrigger bool) bool {
	switch h {
	case HookBoth:
		return true
	case HookTriggerPut:
		return isTrigger
	default:
		return !isTrigger
	}
}

// Emit is how a UDL handler synchronously writes to a declared output
// pathname; the engine never interprets outputs itself.
type Emit func(output string, blob []byte) error

// Handler is the off-critical-path UDL invoked by a worker.
type Handler interface {
	Handle(a Action, workerID int, emit Emit)
}

// HandlerFunc adapts a plain function to Handler.
type HandlerFunc func(a Action, workerID int, emit Emit)

func (f HandlerFunc) Handle(a Action, workerID int, emit Emit) { f(a, workerID, emit) }

// Action is the unit posted from the critical-data-path observer to the
// execution engine. The queue boundary takes sole ownership of Value
// after the critical path returns; Go's garbage collector stands in for
// an explicit shared-handle discipline.
type Action struct {
	SenderID     uint64
	Key          object.Key
	PrefixLength int
	Version      object.Version
	Value        object.Object
	Outputs      map[string]bool
	Handler      Handler
	Emit         Emit
}
