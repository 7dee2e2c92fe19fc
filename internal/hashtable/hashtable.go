// Package hashtable implements a concurrent chained hash table with
// striped per-bucket reader/writer locks under a global reader/writer
// lock that is held exclusively only during resize.
//
// Locking protocol:
//   - Get/GetBucket/GetKeys/GetValues take the global lock shared, then
//     the relevant bucket lock shared.
//   - Insert/Remove take the global lock shared, then the target bucket
//     lock exclusive. If the table is resizable and the load factor
//     after the operation would cross a threshold, the operation drops
//     both locks, calls resize, and retries from the top.
//   - resize takes the global lock exclusive, rechecks whether a resize
//     is still needed against the same prospective size the caller used
//     to decide to call it (another goroutine may have already grown or
//     shrunk the table enough to satisfy that size), reallocates the
//     bucket array, rehashes every entry, and releases the global lock.
package hashtable

import (
	"container/list"
	"hash/fnv"
	"sync"
	"sync/atomic"
)

const (
	// MinCapacity is the floor below which capacity never shrinks,
	// regardless of load factor.
	MinCapacity = 4

	// AlphaMax triggers a doubling when size/capacity reaches it.
	AlphaMax = 0.75

	// AlphaMin triggers a halving (capacity permitting) when
	// size/capacity falls to or below it.
	AlphaMin = 0.10
)

// Pair is a snapshot key/value pair returned by GetBucket, GetKeys, and
// GetValues. It is a copy: mutating it does not affect the table.
type Pair struct {
	Key   string
	Value string
}

type bucket struct {
	mu      sync.RWMutex
	entries *list.List // of pair
}

func newBucket() *bucket {
	return &bucket{entries: list.New()}
}

// Table is the concurrent chained hash map. The zero value is not
// usable; construct with New.
type Table struct {
	global  sync.RWMutex
	buckets []*bucket

	size      int64 // atomic, valid independent of global lock
	resizable bool
}

// New creates a Table with the given initial capacity (rounded up to
// MinCapacity) and resize policy. When resizable is false, capacity
// never changes regardless of load factor — used when a server is given
// a nonzero initial capacity and runs in fixed-capacity mode.
func New(initialCapacity int, resizable bool) *Table {
	if initialCapacity < MinCapacity {
		initialCapacity = MinCapacity
	}
	t := &Table{resizable: resizable}
	t.buckets = make([]*bucket, initialCapacity)
	for i := range t.buckets {
		t.buckets[i] = newBucket()
	}
	return t
}

// Size returns the current number of entries.
func (t *Table) Size() int64 {
	return atomic.LoadInt64(&t.size)
}

// Capacity returns the current bucket count. Takes the global lock
// shared, since capacity only changes under the global exclusive lock.
func (t *Table) Capacity() int {
	t.global.RLock()
	defer t.global.RUnlock()
	return len(t.buckets)
}

func hashKey(key string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(key))
	return h.Sum64()
}

func bucketIndex(key string, numBuckets int) int {
	return int(hashKey(key) % uint64(numBuckets))
}

// Get returns the value associated with key, if present.
func (t *Table) Get(key string) (string, bool) {
	t.global.RLock()
	defer t.global.RUnlock()

	b := t.buckets[bucketIndex(key, len(t.buckets))]
	b.mu.RLock()
	defer b.mu.RUnlock()

	if e := findElement(b, key); e != nil {
		return e.Value.(Pair).Value, true
	}
	return "", false
}

// Insert adds (key, value). If key is already present, Insert returns
// false and leaves the table unchanged — it never overwrites.
//
// The load factor is checked against the prospective size (current size
// + 1) before the mutation happens, not after: checking post-mutation
// and then retrying the whole operation from the top would re-discover
// the key it just inserted and wrongly report failure.
func (t *Table) Insert(key, value string) bool {
	for {
		t.global.RLock()
		n := len(t.buckets)
		projected := atomic.LoadInt64(&t.size) + 1

		if t.resizable && t.needsResize(projected, n) {
			t.global.RUnlock()
			t.resize(projected)
			continue // drop locks, resize, retry from the top
		}

		idx := bucketIndex(key, n)
		b := t.buckets[idx]
		b.mu.Lock()

		if findElement(b, key) != nil {
			b.mu.Unlock()
			t.global.RUnlock()
			return false
		}

		b.entries.PushBack(Pair{Key: key, Value: value})
		atomic.AddInt64(&t.size, 1)

		b.mu.Unlock()
		t.global.RUnlock()
		return true
	}
}

// Put replaces key's value wholesale: remove key if present, then
// insert (key, value). This is NOT a point update of an existing node —
// the old pair is detached first, so Put on an existing key is a
// replace, not an in-place mutation.
func (t *Table) Put(key, value string) {
	t.Remove(key)
	t.Insert(key, value)
}

// Remove deletes key if present and returns its prior value. As with
// Insert, the load factor is checked against the prospective size
// (current size - 1) before the mutation, so a key found present is
// still present (not yet removed) if a resize needs to run first.
func (t *Table) Remove(key string) (string, bool) {
	for {
		t.global.RLock()
		n := len(t.buckets)
		idx := bucketIndex(key, n)
		b := t.buckets[idx]
		b.mu.Lock()

		e := findElement(b, key)
		if e == nil {
			b.mu.Unlock()
			t.global.RUnlock()
			return "", false
		}

		projected := atomic.LoadInt64(&t.size) - 1
		if t.resizable && t.needsResize(projected, n) {
			b.mu.Unlock()
			t.global.RUnlock()
			t.resize(projected)
			continue // drop locks, resize, retry from the top
		}

		prior := e.Value.(Pair).Value
		b.entries.Remove(e)
		atomic.AddInt64(&t.size, -1)

		b.mu.Unlock()
		t.global.RUnlock()
		return prior, true
	}
}

// GetBucket returns a snapshot of every (key, value) pair in bucket i,
// and false if i is out of range. The bounds check happens under the
// global lock shared, alongside the bucket access itself, so a caller
// cannot race a concurrent resize between checking Capacity() and
// calling GetBucket — the range check and the read observe the same
// bucket array.
func (t *Table) GetBucket(i int) ([]Pair, bool) {
	t.global.RLock()
	defer t.global.RUnlock()

	if i < 0 || i >= len(t.buckets) {
		return nil, false
	}

	b := t.buckets[i]
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]Pair, 0, b.entries.Len())
	for e := b.entries.Front(); e != nil; e = e.Next() {
		out = append(out, e.Value.(Pair))
	}
	return out, true
}

// GetKeys returns a snapshot of every key in the table. The snapshot is
// consistent with some serialization of operations, not necessarily
// atomic with respect to concurrent inserts/removes that happen during
// the scan.
func (t *Table) GetKeys() []string {
	t.global.RLock()
	defer t.global.RUnlock()

	keys := make([]string, 0, atomic.LoadInt64(&t.size))
	for _, b := range t.buckets {
		b.mu.RLock()
		for e := b.entries.Front(); e != nil; e = e.Next() {
			keys = append(keys, e.Value.(Pair).Key)
		}
		b.mu.RUnlock()
	}
	return keys
}

// GetValues returns a snapshot of every value in the table, with the
// same consistency caveat as GetKeys.
func (t *Table) GetValues() []string {
	t.global.RLock()
	defer t.global.RUnlock()

	values := make([]string, 0, atomic.LoadInt64(&t.size))
	for _, b := range t.buckets {
		b.mu.RLock()
		for e := b.entries.Front(); e != nil; e = e.Next() {
			values = append(values, e.Value.(Pair).Value)
		}
		b.mu.RUnlock()
	}
	return values
}

func findElement(b *bucket, key string) *list.Element {
	for e := b.entries.Front(); e != nil; e = e.Next() {
		if e.Value.(Pair).Key == key {
			return e
		}
	}
	return nil
}

// needsResize reports whether, given size entries over numBuckets
// buckets, the load factor crosses AlphaMax (grow) or AlphaMin with
// room to shrink (shrink). Capacity never falls below MinCapacity.
func (t *Table) needsResize(size int64, numBuckets int) bool {
	load := float64(size) / float64(numBuckets)
	if load >= AlphaMax {
		return true
	}
	if load <= AlphaMin && numBuckets > MinCapacity {
		return true
	}
	return false
}

// resize takes the global lock exclusive, rechecks whether resizing is
// still needed against expectedSize — the same prospective size
// (current size ± 1) the caller used to decide to call resize — and if
// so reallocates the bucket array and rehashes every live entry into
// it. Rechecking against expectedSize rather than the table's actual
// current size is deliberate: Insert/Remove haven't applied their
// mutation yet when they call resize, so the actual current size is
// always one short of (or one over) the load factor they're resizing
// for, and would make this check never agree with theirs. A concurrent
// resizer that already grew or shrank the table enough to satisfy
// expectedSize is still detected here and this call becomes a no-op.
func (t *Table) resize(expectedSize int64) {
	t.global.Lock()
	defer t.global.Unlock()

	current := len(t.buckets)
	if !t.needsResize(expectedSize, current) {
		return // someone else already resized; nothing to do
	}

	load := float64(expectedSize) / float64(current)
	var newCapacity int
	if load >= AlphaMax {
		newCapacity = current * 2
	} else {
		newCapacity = (current + 1) / 2
		if newCapacity < MinCapacity {
			newCapacity = MinCapacity
		}
		if newCapacity == current {
			return
		}
	}

	newBuckets := make([]*bucket, newCapacity)
	for i := range newBuckets {
		newBuckets[i] = newBucket()
	}

	for _, b := range t.buckets {
		for e := b.entries.Front(); e != nil; e = e.Next() {
			p := e.Value.(Pair)
			idx := bucketIndex(p.Key, newCapacity)
			newBuckets[idx].entries.PushBack(p)
		}
	}

	t.buckets = newBuckets
}
