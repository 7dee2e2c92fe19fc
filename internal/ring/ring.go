// Package ring implements a bounded FIFO ring buffer: a fixed-capacity
// array with blocking push/pop, backed by a short-term
// mutex for index arithmetic and a pair of counting semaphores
// (free_slots, full_slots) for wait semantics. Slot indices are stable
// for the lifetime of a message: the index returned by Push is the same
// index a later Pop returns, which is how the mailbox (internal/mailbox)
// ties a request to its response cell.
//
// Buffer is generic over the slot type so the same implementation backs
// both an in-process test harness and the shared-memory-backed request
// ring internal/mailbox constructs over an mmap'd region.
package ring

import (
	"fmt"
	"sync/atomic"

	"github.com/adred-codev/shmkv/internal/ipcsync"
)

// Buffer is a bounded, blocking FIFO of capacity N over slots. head,
// tail, and size are uint64 words accessed through sync/atomic — in the
// shared-memory deployment they live inside the mailbox's mapped region
// alongside the slot array itself, so that the ring's entire state is
// visible to every attached process.
type Buffer[T any] struct {
	slots []T
	head  *uint64
	tail  *uint64
	size  *uint64

	indexMu *ipcsync.Mutex
	free    *ipcsync.Semaphore // counts slots available to write into
	full    *ipcsync.Semaphore // counts slots available to read from
}

// New constructs a Buffer over slots, with head/tail/size/free/full
// wired to fresh local storage. This is the in-process constructor used
// by tests and by any caller that does not need cross-process sharing.
func New[T any](capacity int) *Buffer[T] {
	var head, tail, size uint64
	var mutexWord, freeWord, fullWord int32
	return NewOver(
		make([]T, capacity),
		&head, &tail, &size,
		ipcsync.NewMutex(&mutexWord),
		ipcsync.NewSemaphore(&freeWord, int32(capacity)),
		ipcsync.NewSemaphore(&fullWord, 0),
	)
}

// NewOver constructs a Buffer over externally-owned storage — used by
// internal/mailbox to place the ring inside a shared memory mapping.
// Callers are responsible for the words' initial state, which New above
// handles for the in-process case.
func NewOver[T any](
	slots []T,
	head, tail, size *uint64,
	indexMu *ipcsync.Mutex,
	free, full *ipcsync.Semaphore,
) *Buffer[T] {
	return &Buffer[T]{
		slots:   slots,
		head:    head,
		tail:    tail,
		size:    size,
		indexMu: indexMu,
		free:    free,
		full:    full,
	}
}

// Cap returns the ring's fixed capacity.
func (b *Buffer[T]) Cap() int { return len(b.slots) }

// Len returns the current occupied-slot count. Advisory: may be stale by
// the time the caller observes it, same as the underlying semaphores.
func (b *Buffer[T]) Len() int { return int(atomic.LoadUint64(b.size)) }

// Push blocks until a free slot exists, writes elem into the slot at the
// tail, advances tail modulo capacity, increments size, and returns the
// index the element was written to.
func (b *Buffer[T]) Push(elem T) uint64 {
	b.free.Acquire()
	idx := b.enqueue(elem)
	b.full.Release()
	return idx
}

// TryPush behaves like Push but returns (0, false) immediately instead
// of blocking when the ring is full.
func (b *Buffer[T]) TryPush(elem T) (uint64, bool) {
	if !b.free.TryAcquire() {
		return 0, false
	}
	idx := b.enqueue(elem)
	b.full.Release()
	return idx, true
}

func (b *Buffer[T]) enqueue(elem T) uint64 {
	b.indexMu.Lock()
	defer b.indexMu.Unlock()

	idx := atomic.LoadUint64(b.tail) % uint64(len(b.slots))
	b.slots[idx] = elem
	atomic.StoreUint64(b.tail, atomic.LoadUint64(b.tail)+1)
	atomic.AddUint64(b.size, 1)
	return idx
}

// Pop blocks until the ring is non-empty, then returns the element at
// head paired with its index, advances head, and decrements size.
func (b *Buffer[T]) Pop() (T, uint64) {
	b.full.Acquire()
	elem, idx := b.dequeue()
	b.free.Release()
	return elem, idx
}

// TryPop behaves like Pop but returns the zero value and false
// immediately instead of blocking when the ring is empty.
func (b *Buffer[T]) TryPop() (T, uint64, bool) {
	if !b.full.TryAcquire() {
		var zero T
		return zero, 0, false
	}
	elem, idx := b.dequeue()
	b.free.Release()
	return elem, idx, true
}

func (b *Buffer[T]) dequeue() (T, uint64) {
	b.indexMu.Lock()
	defer b.indexMu.Unlock()

	idx := atomic.LoadUint64(b.head) % uint64(len(b.slots))
	elem := b.slots[idx]
	atomic.StoreUint64(b.head, atomic.LoadUint64(b.head)+1)
	atomic.AddUint64(b.size, ^uint64(0)) // decrement
	return elem, idx
}

// Peek non-blockingly returns the head element and its index without
// mutating head/tail/size. It returns false if the ring is empty.
func (b *Buffer[T]) Peek() (T, uint64, bool) {
	b.indexMu.Lock()
	defer b.indexMu.Unlock()

	if atomic.LoadUint64(b.size) == 0 {
		var zero T
		return zero, 0, false
	}
	idx := atomic.LoadUint64(b.head) % uint64(len(b.slots))
	return b.slots[idx], idx, true
}

// At gives direct access to slot i for callers that already hold the
// slot "logically" — e.g. a server worker writing a response into the
// slot it just popped a request from. At does not touch the free/full
// semaphores or the index mutex.
func (b *Buffer[T]) At(i uint64) *T {
	return &b.slots[i%uint64(len(b.slots))]
}

// String renders a short diagnostic summary, useful in logs.
func (b *Buffer[T]) String() string {
	return fmt.Sprintf("ring(cap=%d len=%d)", b.Cap(), b.Len())
}
