// Package dispatch is the critical-data-path observer: it turns every
// accepted mutation into zero or more Actions posted to the execution
// engine, by matching the mutated key's pathname against the prefix
// registry populated from the data-flow graph (pkg/dfg) and UDL manifest
// (pkg/udl).
package dispatch

import (
	"context"
	"sort"
	"strings"

	"github.com/flowmesh/flowstore/pkg/dfg"
	"github.com/flowmesh/flowstore/pkg/engine"
	"github.com/flowmesh/flowstore/pkg/groupruntime"
	"github.com/flowmesh/flowstore/pkg/metrics"
	"github.com/flowmesh/flowstore/pkg/object"
	"github.com/flowmesh/flowstore/pkg/prefixtrie"
	"github.com/flowmesh/flowstore/pkg/store"
)

// Router is how an emitted output reaches another pool: the client
// facade in production, a direct in-process store call in tests.
type Router interface {
	Put(ctx context.Context, key object.Key, blob []byte) error
	TriggerPut(ctx context.Context, key object.Key, blob []byte) error
}

type boundUDL struct {
	hook         engine.Hook
	dispatcher   engine.Dispatcher
	statefulness engine.Statefulness
	handler      engine.Handler
	destinations map[string]bool
}

type prefixEntry struct {
	udls []boundUDL
}

// Dispatcher implements store.Observer, routing matched mutations to the
// execution engine.
type Dispatcher struct {
	trie    *prefixtrie.Trie[*prefixEntry]
	engine  *engine.Engine
	runtime groupruntime.Runtime
	router  Router
}

// New builds a Dispatcher by registering every vertex of graph into the
// prefix registry, resolving each vertex's UDLs against handlers (built
// from a udl manifest via udl.BuildAll).
func New(graph *dfg.Graph, handlers map[string]engine.Handler, eng *engine.Engine, runtime groupruntime.Runtime, router Router) (*Dispatcher, error) {
	d := &Dispatcher{
		trie:    prefixtrie.New[*prefixEntry](),
		engine:  eng,
		runtime: runtime,
		router:  router,
	}
	for _, v := range graph.Vertices {
		entry := &prefixEntry{}
		for _, vu := range v.UDLs {
			handler, ok := handlers[vu.UDLID]
			if !ok {
				return nil, &missingUDLError{Pathname: v.Pathname, UDLID: vu.UDLID}
			}
			entry.udls = append(entry.udls, boundUDL{
				hook:         parseHook(vu.Hook),
				dispatcher:   parseDispatcher(vu.ShardDispatcher),
				statefulness: parseStatefulness(vu.Statefulness),
				handler:      handler,
				destinations: vu.Destinations,
			})
		}
		if err := d.trie.Register(v.Pathname, entry); err != nil {
			return nil, err
		}
	}
	return d, nil
}

type missingUDLError struct {
	Pathname string
	UDLID    string
}

func (e *missingUDLError) Error() string {
	return "dispatch: vertex " + e.Pathname + " references unbuilt udl " + e.UDLID
}

func parseHook(s string) engine.Hook {
	switch s {
	case "trigger_put":
		return engine.HookTriggerPut
	case "both":
		return engine.HookBoth
	default:
		return engine.HookOrderedPut
	}
}

func parseDispatcher(s string) engine.Dispatcher {
	if s == "all" {
		return engine.DispatchAll
	}
	return engine.DispatchOne
}

func parseStatefulness(s string) engine.Statefulness {
	switch s {
	case "singlethreaded":
		return engine.SingleThreaded
	case "stateless":
		return engine.Stateless
	default:
		return engine.Stateful
	}
}

// Observe implements store.Observer: for every prefix matching the
// mutation's pathname, enumerate registered UDLs, filter by hook and
// shard-dispatcher election, and post an Action per match. The value is
// copied into the Action once and shared across every matching UDL.
func (d *Dispatcher) Observe(ctx context.Context, m store.ObservedMutation) {
	pathname := object.Pathname(m.Key)

	var matched []boundUDL
	d.trie.CollectForPrefixes(pathname, func(e *prefixEntry) {
		matched = append(matched, e.udls...)
	})

	shard := groupruntime.ShardID{SubgroupIndex: m.SubgroupIndex, ShardIndex: m.ShardIndex}
	source := engine.SourceFromTrigger(m.IsTrigger)
	for _, u := range matched {
		if !u.hook.Matches(m.IsTrigger) {
			continue
		}
		if u.dispatcher == engine.DispatchOne && !d.elected(shard, m.Key) {
			continue
		}
		d.engine.Enqueue(source, u.statefulness, engine.Action{
			SenderID:     m.SenderID,
			Key:          m.Key,
			PrefixLength: len(pathname),
			Version:      m.Value.Version,
			Value:        m.Value,
			Outputs:      u.destinations,
			Handler:      u.handler,
			Emit:         d.emit(ctx, u.destinations),
		})
	}
}

// elected reports whether this replica is the one member whose id equals
// the keyed hash into shard's members, for ONE-dispatch UDLs.
func (d *Dispatcher) elected(shard groupruntime.ShardID, key object.Key) bool {
	members := d.runtime.Members(shard)
	if len(members) == 0 {
		metrics.DispatchElectionsTotal.WithLabelValues("no_members").Inc()
		return false
	}
	sorted := append([]uint64(nil), members...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	idx := object.HashString(key) % uint64(len(sorted))
	won := sorted[idx] == d.runtime.MyID()
	if won {
		metrics.DispatchElectionsTotal.WithLabelValues("elected").Inc()
	} else {
		metrics.DispatchElectionsTotal.WithLabelValues("lost").Inc()
	}
	return won
}

// emit returns the Emit callback a UDL uses to write to its declared
// outputs: destinations[path] == true means trigger_put, false means
// put. The emitted key may either name a declared destination pathname
// exactly or live under one (a UDL reading /pool/a/x typically writes
// /pool/b/x under a declared destination /pool/b/).
func (d *Dispatcher) emit(ctx context.Context, destinations map[string]bool) engine.Emit {
	return func(output string, blob []byte) error {
		isTrigger, declared := destinations[output]
		if !declared {
			for dest, trig := range destinations {
				if strings.HasPrefix(output, dest) {
					isTrigger, declared = trig, true
					break
				}
			}
		}
		if !declared {
			return &undeclaredOutputError{Output: output}
		}
		if isTrigger {
			return d.router.TriggerPut(ctx, output, blob)
		}
		return d.router.Put(ctx, output, blob)
	}
}

type undeclaredOutputError struct{ Output string }

func (e *undeclaredOutputError) Error() string {
	return "dispatch: output " + e.Output + " was not declared as a destination"
}

var _ store.Observer = (*Dispatcher)(nil)
