// Package shardmanager implements the router-side shard-selection
// priority structure: a max-heap of shards keyed by free-storage
// percentage, plus a side mapping of per-shard table max-ids (spec
// §4.3).
package shardmanager

import (
	"container/heap"
	"sync"

	"github.com/shardline/sharddb/pkg/protocol"
)

// Manager answers "which shard currently has the most free storage?"
// in O(log n) for inserts/updates and O(1) for Peek. Safe for
// concurrent use.
type Manager struct {
	mu      sync.Mutex
	heap    entryHeap
	index   map[string]*entry // shard_id -> its heap entry, for O(log n) update
	seq     int                // insertion order, for heap tie-breaking
	maxIDs  map[string]*protocol.TablesIdInfo
}

// New returns an empty Manager.
func New() *Manager {
	return &Manager{
		index:  make(map[string]*entry),
		maxIDs: make(map[string]*protocol.TablesIdInfo),
	}
}

type entry struct {
	freePct float64
	shardID string
	seq     int // insertion order; lower seq wins ties
	idx     int // index within the heap slice, maintained by container/heap
}

type entryHeap []*entry

func (h entryHeap) Len() int { return len(h) }

func (h entryHeap) Less(i, j int) bool {
	if h[i].freePct != h[j].freePct {
		return h[i].freePct > h[j].freePct // max-heap
	}
	return h[i].seq < h[j].seq // earlier insertion wins ties
}

func (h entryHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].idx = i
	h[j].idx = j
}

func (h *entryHeap) Push(x any) {
	e := x.(*entry)
	e.idx = len(*h)
	*h = append(*h, e)
}

func (h *entryHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return e
}

// AddShard inserts shardID with the given free-storage percentage.
func (m *Manager) AddShard(freePct float64, shardID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.addLocked(freePct, shardID)
}

func (m *Manager) addLocked(freePct float64, shardID string) {
	e := &entry{freePct: freePct, shardID: shardID, seq: m.seq}
	m.seq++
	heap.Push(&m.heap, e)
	m.index[shardID] = e
}

// Peek returns the shard_id with the greatest free_pct, or ok=false if
// the manager is empty.
func (m *Manager) Peek() (shardID string, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.heap) == 0 {
		return "", false
	}
	return m.heap[0].shardID, true
}

// PeekAcceptingInserts walks shards in free-pct order and returns the
// first whose last-known available percentage (its heap key) is above
// zero, falling back to Peek's verbatim behavior (spec §4.5) if every
// known shard is at zero. This extends spec.md's pure Peek()-based
// insert target with the capacity gate recovered from the original
// implementation (see DESIGN.md).
func (m *Manager) PeekAcceptingInserts() (shardID string, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.heap) == 0 {
		return "", false
	}

	ordered := make([]*entry, len(m.heap))
	copy(ordered, m.heap)
	sortByRank(ordered)

	for _, e := range ordered {
		if e.freePct > 0 {
			return e.shardID, true
		}
	}
	return m.heap[0].shardID, true
}

func sortByRank(entries []*entry) {
	// Small N (shard counts); an insertion sort matching the heap's own
	// Less ordering avoids pulling in sort.Slice's closure overhead for
	// what is, in practice, a handful of shards.
	for i := 1; i < len(entries); i++ {
		key := entries[i]
		j := i - 1
		for j >= 0 && lessEntry(key, entries[j]) {
			entries[j+1] = entries[j]
			j--
		}
		entries[j+1] = key
	}
}

func lessEntry(a, b *entry) bool {
	if a.freePct != b.freePct {
		return a.freePct > b.freePct
	}
	return a.seq < b.seq
}

// UpdateShardMemory replaces shardID's key with the new free_pct,
// inserting it if it was not already present (spec §4.3).
func (m *Manager) UpdateShardMemory(freePct float64, shardID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if e, ok := m.index[shardID]; ok {
		heap.Remove(&m.heap, e.idx)
		delete(m.index, shardID)
	}
	m.addLocked(freePct, shardID)
}

// SaveMaxIdsForShard replaces the recorded per-table max-id snapshot
// for shardID.
func (m *Manager) SaveMaxIdsForShard(shardID string, info *protocol.TablesIdInfo) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.maxIDs[shardID] = info
}

// GetMaxIdsForShardTable looks up the max id for table on shardID.
func (m *Manager) GetMaxIdsForShardTable(shardID, table string) (int64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	info, ok := m.maxIDs[shardID]
	if !ok {
		return 0, false
	}
	return info.Get(table)
}

// MaxIdsForShard returns the full snapshot recorded for shardID, or nil.
func (m *Manager) MaxIdsForShard(shardID string) *protocol.TablesIdInfo {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.maxIDs[shardID]
}
