// Package engine implements the off-critical-path execution engine: six
// bounded action queues — one per {multicast, p2p} x {stateful, stateless,
// single-threaded} — each drained by a worker pool that invokes the
// matched UDL outside the ordered-delivery thread.
package engine

import (
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/flowmesh/flowstore/pkg/log"
	"github.com/flowmesh/flowstore/pkg/metrics"
	"github.com/flowmesh/flowstore/pkg/object"
)

// ResourceDescriptor configures the worker pools' size and (advisory) CPU
// affinity, read from configuration at startup. Go's scheduler does not
// expose portable OS-thread pinning, so affinity here is recorded and
// logged for operational visibility rather than enforced.
type ResourceDescriptor struct {
	CPUCores          []int
	GPUs              []int
	WorkerCPUAffinity map[int]int // worker index -> CPU core

	NumStatefulWorkersMulticast  int
	NumStatelessWorkersMulticast int
	NumStatefulWorkersP2P        int
	NumStatelessWorkersP2P       int
	ActionBufferSize             int // ring-buffer capacity per queue (default 8192)
}

// DefaultResourceDescriptor returns the single-node defaults.
func DefaultResourceDescriptor() ResourceDescriptor {
	return ResourceDescriptor{
		NumStatefulWorkersMulticast:  4,
		NumStatelessWorkersMulticast: 4,
		NumStatefulWorkersP2P:        4,
		NumStatelessWorkersP2P:       4,
		ActionBufferSize:             8192,
	}
}

type pool struct {
	queue    *queue
	stateful bool
	workers  []*queue // for stateful pools, one queue per worker; for stateless/single-thread, all workers share queue
}

// Engine owns the six action queues and their worker pools.
type Engine struct {
	logger zerolog.Logger

	multicastStateful  *pool
	multicastStateless *pool
	multicastSingle    *pool
	p2pStateful        *pool
	p2pStateless       *pool
	p2pSingle          *pool

	running atomic.Bool
	wg      sync.WaitGroup
}

// New constructs and starts an engine with the given resource descriptor.
func New(res ResourceDescriptor) *Engine {
	if res.ActionBufferSize <= 0 {
		res.ActionBufferSize = 8192
	}
	e := &Engine{logger: log.WithComponent("engine")}
	e.running.Store(true)

	e.multicastStateful = e.startStatefulPool("multicast", res.NumStatefulWorkersMulticast, res.ActionBufferSize, res.WorkerCPUAffinity)
	e.multicastStateless = e.startSharedPool("multicast", "stateless", res.NumStatelessWorkersMulticast, res.ActionBufferSize)
	e.multicastSingle = e.startSharedPool("multicast", "single-threaded", 1, res.ActionBufferSize)
	e.p2pStateful = e.startStatefulPool("p2p", res.NumStatefulWorkersP2P, res.ActionBufferSize, res.WorkerCPUAffinity)
	e.p2pStateless = e.startSharedPool("p2p", "stateless", res.NumStatelessWorkersP2P, res.ActionBufferSize)
	e.p2pSingle = e.startSharedPool("p2p", "single-threaded", 1, res.ActionBufferSize)

	e.logger.Info().
		Ints("cpu_cores", res.CPUCores).
		Ints("gpus", res.GPUs).
		Int("action_buffer_size", res.ActionBufferSize).
		Msg("execution engine started")
	return e
}

func (e *Engine) startStatefulPool(source string, numWorkers, bufSize int, affinity map[int]int) *pool {
	if numWorkers <= 0 {
		numWorkers = 1
	}
	p := &pool{stateful: true, workers: make([]*queue, numWorkers)}
	for i := 0; i < numWorkers; i++ {
		q := newQueue(bufSize)
		p.workers[i] = q
		e.wg.Add(1)
		workerID := i
		go e.runWorker(q, workerID, source, "stateful", func() {
			e.logger.Debug().Str("source", source).Str("discipline", "stateful").Int("worker_id", workerID).Int("cpu", affinity[workerID]).Msg("worker started")
		})
	}
	return p
}

func (e *Engine) startSharedPool(source, discipline string, numWorkers, bufSize int) *pool {
	if numWorkers <= 0 {
		numWorkers = 1
	}
	q := newQueue(bufSize)
	p := &pool{queue: q}
	for i := 0; i < numWorkers; i++ {
		e.wg.Add(1)
		workerID := i
		go e.runWorker(q, workerID, source, discipline, func() {
			e.logger.Debug().Str("source", source).Str("discipline", discipline).Int("worker_id", workerID).Msg("worker started")
		})
	}
	return p
}

func (e *Engine) runWorker(q *queue, workerID int, source, discipline string, onStart func()) {
	defer e.wg.Done()
	onStart()
	for {
		select {
		case a := <-q.actions:
			e.execute(a, workerID, source, discipline)
		case <-q.stopped:
			e.drain(q, workerID, source, discipline)
			return
		}
	}
}

// drain runs every action already sitting in the queue at shutdown time
// before the worker exits.
func (e *Engine) drain(q *queue, workerID int, source, discipline string) {
	for {
		select {
		case a := <-q.actions:
			e.execute(a, workerID, source, discipline)
		default:
			return
		}
	}
}

func (e *Engine) execute(a Action, workerID int, source, discipline string) {
	outcome := "ok"
	timer := metrics.NewTimer()
	defer func() {
		if r := recover(); r != nil {
			outcome = "panic"
			e.logger.Error().Interface("panic", r).Str("key", string(a.Key)).Msg("UDL handler panicked")
		}
		timer.ObserveDurationVec(metrics.EngineActionDuration, source, discipline)
		metrics.EngineActionsProcessedTotal.WithLabelValues(source, discipline, outcome).Inc()
	}()
	a.Handler.Handle(a, workerID, a.Emit)
}

// statefulWorkerIndex hashes key to a stateful worker index, so the same
// key always lands on the same worker. Every replica of a stateful UDL
// must agree on this routing for per-key ordering to hold across the
// shard, which is why it uses the shared object.HashString.
func statefulWorkerIndex(key object.Key, numWorkers int) int {
	if numWorkers <= 1 {
		return 0
	}
	return int(object.HashString(key) % uint64(numWorkers))
}

// Enqueue posts a to the queue selected by (source, statefulness). It
// blocks while the queue is full and returns false if the engine has
// since been shut down.
func (e *Engine) Enqueue(source Source, statefulness Statefulness, a Action) bool {
	if !e.running.Load() {
		return false
	}
	p := e.poolFor(source, statefulness)
	if p.stateful {
		idx := statefulWorkerIndex(a.Key, len(p.workers))
		return p.workers[idx].enqueue(a)
	}
	return p.queue.enqueue(a)
}

func (e *Engine) poolFor(source Source, statefulness Statefulness) *pool {
	if source == SourceMulticast {
		switch statefulness {
		case Stateful:
			return e.multicastStateful
		case SingleThreaded:
			return e.multicastSingle
		default:
			return e.multicastStateless
		}
	}
	switch statefulness {
	case Stateful:
		return e.p2pStateful
	case SingleThreaded:
		return e.p2pSingle
	default:
		return e.p2pStateless
	}
}

// Shutdown sets the running flag false, wakes every queue, and joins all
// workers.
func (e *Engine) Shutdown() {
	if !e.running.CompareAndSwap(true, false) {
		return
	}
	for _, p := range e.allPools() {
		if p.stateful {
			for _, q := range p.workers {
				q.close()
			}
		} else {
			p.queue.close()
		}
	}
	e.wg.Wait()
	e.logger.Info().Msg("execution engine shut down")
}

func (e *Engine) allPools() []*pool {
	return []*pool{
		e.multicastStateful, e.multicastStateless, e.multicastSingle,
		e.p2pStateful, e.p2pStateless, e.p2pSingle,
	}
}

// QueueDepths reports each of the six queues' current backlog (summed
// across workers for the per-worker stateful pools), for pkg/metrics to
// poll into Prometheus gauges.
func (e *Engine) QueueDepths() map[string]int {
	return map[string]int{
		"multicast_stateful":  poolDepth(e.multicastStateful),
		"multicast_stateless": poolDepth(e.multicastStateless),
		"multicast_single":    poolDepth(e.multicastSingle),
		"p2p_stateful":        poolDepth(e.p2pStateful),
		"p2p_stateless":       poolDepth(e.p2pStateless),
		"p2p_single":          poolDepth(e.p2pSingle),
	}
}

func poolDepth(p *pool) int {
	if p.stateful {
		total := 0
		for _, q := range p.workers {
			total += q.depth()
		}
		return total
	}
	return p.queue.depth()
}
