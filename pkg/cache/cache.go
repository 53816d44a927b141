// Package cache implements the bounded LRU chunk cache used by clients and
// elders for read acceleration.
package cache

import (
	"container/heap"
	"math"
	"sync"

	"github.com/i5heu/xorvault/pkg/types"
)

// Cache is an entry-count-bounded LRU. Each access stamps the entry with a
// monotonically increasing priority; eviction removes the smallest stamp.
// When the stamp counter would wrap, the cache is cleared wholesale, which
// keeps memory bounded without reconciling stale priorities.
//
// The priority queue takes a single writer at a time; Has reads presence
// lock-free.
type Cache struct {
	mu       sync.Mutex
	capacity int
	entries  map[types.ChunkAddress]*entry
	queue    entryQueue
	seq      uint64

	presence sync.Map // types.ChunkAddress -> struct{}
}

type entry struct {
	addr  types.ChunkAddress
	value []byte
	seq   uint64
	index int
}

// New creates a cache bounded to capacity entries. Capacity below one is
// treated as one.
func New(capacity int) *Cache {
	if capacity < 1 {
		capacity = 1
	}
	return &Cache{
		capacity: capacity,
		entries:  make(map[types.ChunkAddress]*entry),
	}
}

// Get returns the cached payload and marks it most recently used.
func (c *Cache) Get(addr types.ChunkAddress) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[addr]
	if !ok {
		return nil, false
	}
	e.seq = c.nextSeq()
	if e.seq == 0 {
		// Counter wrapped and the cache was cleared under us.
		return nil, false
	}
	heap.Fix(&c.queue, e.index)
	return e.value, true
}

// Insert adds or refreshes an entry, evicting the least recently used one
// if the cache is full.
func (c *Cache) Insert(addr types.ChunkAddress, value []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	seq := c.nextSeq()
	if seq == 0 {
		seq = c.nextSeq()
	}

	if e, ok := c.entries[addr]; ok {
		e.value = value
		e.seq = seq
		heap.Fix(&c.queue, e.index)
		return
	}

	if len(c.entries) >= c.capacity {
		oldest := heap.Pop(&c.queue).(*entry)
		delete(c.entries, oldest.addr)
		c.presence.Delete(oldest.addr)
	}

	e := &entry{addr: addr, value: value, seq: seq}
	heap.Push(&c.queue, e)
	c.entries[addr] = e
	c.presence.Store(addr, struct{}{})
}

// Remove deletes an entry explicitly.
func (c *Cache) Remove(addr types.ChunkAddress) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[addr]
	if !ok {
		return
	}
	heap.Remove(&c.queue, e.index)
	delete(c.entries, addr)
	c.presence.Delete(addr)
}

// Has reports presence without touching recency. It does not take the
// cache lock.
func (c *Cache) Has(addr types.ChunkAddress) bool {
	_, ok := c.presence.Load(addr)
	return ok
}

// Len returns the current entry count.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// nextSeq advances the priority counter. On overflow the cache is cleared
// and zero is returned so callers can restart. Callers hold c.mu.
func (c *Cache) nextSeq() uint64 {
	if c.seq == math.MaxUint64 {
		c.clearLocked()
		return 0
	}
	c.seq++
	return c.seq
}

func (c *Cache) clearLocked() {
	for addr := range c.entries {
		c.presence.Delete(addr)
	}
	c.entries = make(map[types.ChunkAddress]*entry)
	c.queue = nil
	c.seq = 0
}

// entryQueue is a min-heap on the recency stamp.
type entryQueue []*entry

func (q entryQueue) Len() int { return len(q) }

func (q entryQueue) Less(i, j int) bool { return q[i].seq < q[j].seq }

func (q entryQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index = i
	q[j].index = j
}

func (q *entryQueue) Push(x interface{}) {
	e := x.(*entry)
	e.index = len(*q)
	*q = append(*q, e)
}

func (q *entryQueue) Pop() interface{} {
	old := *q
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*q = old[:n-1]
	return e
}
