package service

import (
	"sync"

	"github.com/google/uuid"
)

const guardShards = 256

// balanceGuard keeps GetBalance from caching a balance that a transfer is
// changing or may still reverse. Profiles are grouped into shards; a read is
// cacheable only if no transfer on its shard was running, started or finished
// between the read and the cache write. The guard is per process; across
// instances staleness is bounded by the cache TTL.
type balanceGuard struct {
	shards [guardShards]guardShard
}

type guardShard struct {
	mu       sync.Mutex
	inflight int
	gen      uint64
}

func (g *balanceGuard) shard(id uuid.UUID) *guardShard {
	return &g.shards[id[len(id)-1]]
}

func (g *balanceGuard) begin(id uuid.UUID) {
	s := g.shard(id)
	s.mu.Lock()
	s.inflight++
	s.gen++
	s.mu.Unlock()
}

func (g *balanceGuard) end(id uuid.UUID) {
	s := g.shard(id)
	s.mu.Lock()
	s.inflight--
	s.gen++
	s.mu.Unlock()
}

// snapshot must be taken before the balance is read.
func (g *balanceGuard) snapshot(id uuid.UUID) uint64 {
	s := g.shard(id)
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gen
}

// storeIfQuiet runs store under the shard lock, so no transfer on the shard
// can begin until the cache write is done. It reports whether store ran.
func (g *balanceGuard) storeIfQuiet(id uuid.UUID, snap uint64, store func()) bool {
	s := g.shard(id)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inflight > 0 || s.gen != snap {
		return false
	}
	store()
	return true
}
