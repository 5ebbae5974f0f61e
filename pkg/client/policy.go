package client

import (
	"math/rand"
	"sync"

	"github.com/flowmesh/flowstore/pkg/groupruntime"
	"github.com/flowmesh/flowstore/pkg/object"
)

// MemberPolicy is the member-selection policy the client facade applies
// when a shard has more than one replica: which member to contact for a
// given operation.
type MemberPolicy int

const (
	// FirstMember always picks the lowest member id.
	FirstMember MemberPolicy = iota
	// LastMember always picks the highest member id.
	LastMember
	// RandomMember picks a fresh uniformly random member per call.
	RandomMember
	// FixedRandomMember picks one random member the first time a shard is
	// contacted, then sticks with it for the lifetime of the selector.
	FixedRandomMember
	// RoundRobinMember cycles through the member list in order.
	RoundRobinMember
	// KeyHashingMember hashes the operation's key into the member list,
	// so the same key always contacts the same member (barring
	// membership changes).
	KeyHashingMember
	// UserSpecifiedMember contacts the member id the caller names
	// explicitly via WithUserMember, ignoring the member list entirely.
	UserSpecifiedMember
)

// memberSelector holds the stateful policies' per-shard memory:
// round-robin cursors and fixed-random stickiness. Stateless policies
// (First/Last/Random/KeyHashing/UserSpecified) need no entry here.
type memberSelector struct {
	mu          sync.Mutex
	roundRobin  map[groupruntime.ShardID]int
	fixedRandom map[groupruntime.ShardID]uint64
	rng         *rand.Rand
}

func newMemberSelector() *memberSelector {
	return &memberSelector{
		roundRobin:  make(map[groupruntime.ShardID]int),
		fixedRandom: make(map[groupruntime.ShardID]uint64),
		rng:         rand.New(rand.NewSource(1)),
	}
}

// forget drops any sticky state recorded for shard, so the next selection
// re-derives it from a freshly refreshed member list — called after a
// transport failure forces a membership refresh.
func (s *memberSelector) forget(shard groupruntime.ShardID) {
	s.mu.Lock()
	delete(s.roundRobin, shard)
	delete(s.fixedRandom, shard)
	s.mu.Unlock()
}

// select picks one member id from members (assumed non-empty, sorted by
// caller) per policy.
func (s *memberSelector) selectMember(policy MemberPolicy, shard groupruntime.ShardID, members []uint64, key object.Key, userMember uint64) uint64 {
	switch policy {
	case LastMember:
		return members[len(members)-1]
	case RandomMember:
		return members[s.randIndex(len(members))]
	case FixedRandomMember:
		return s.fixedRandomFor(shard, members)
	case RoundRobinMember:
		return s.roundRobinFor(shard, members)
	case KeyHashingMember:
		return members[int(object.HashString(key)%uint64(len(members)))]
	case UserSpecifiedMember:
		return userMember
	default: // FirstMember
		return members[0]
	}
}

func (s *memberSelector) randIndex(n int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rng.Intn(n)
}

func (s *memberSelector) fixedRandomFor(shard groupruntime.ShardID, members []uint64) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.fixedRandom[shard]; ok {
		for _, m := range members {
			if m == id {
				return id
			}
		}
		// previously-picked member is gone from the list; re-pick below.
	}
	id := members[s.rng.Intn(len(members))]
	s.fixedRandom[shard] = id
	return id
}

func (s *memberSelector) roundRobinFor(shard groupruntime.ShardID, members []uint64) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := s.roundRobin[shard] % len(members)
	s.roundRobin[shard] = idx + 1
	return members[idx]
}
