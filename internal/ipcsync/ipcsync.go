// Package ipcsync provides the cross-process mutex, counting semaphore,
// and condition-variable-style wait primitive that the mailbox and ring
// buffer packages coordinate through. Unlike sync.Mutex or sync.Cond,
// their state lives in memory that may be mapped by more than one OS
// process (see internal/mailbox), so none of them can rely on the Go
// runtime's in-process futex fast path or on pthread condvars, which Go
// cannot construct as process-shared without cgo.
//
// Each primitive is therefore a spin-then-backoff loop over a plain
// atomic word — the fallback for platforms without native
// process-shared counting semaphores ({mutex + condvar + counter}):
// here every platform takes that fallback path, with the mutex/counter
// itself built from atomics rather than pthread primitives.
package ipcsync

import (
	"runtime"
	"sync/atomic"
	"time"
)

const (
	spinIterations = 256
	minBackoff     = 50 * time.Microsecond
	maxBackoff     = 2 * time.Millisecond
)

// backoffWait blocks the caller with spinning followed by exponential
// sleep backoff until pred returns true. It is the shared waiting
// strategy behind Mutex.Lock and Semaphore.Acquire; Cond.Wait follows the
// same spin-then-backoff schedule in its own loop, since it must release
// and reacquire its mutex between checks.
func backoffWait(pred func() bool) {
	for i := 0; i < spinIterations; i++ {
		if pred() {
			return
		}
		runtime.Gosched()
	}

	backoff := minBackoff
	for {
		if pred() {
			return
		}
		time.Sleep(backoff)
		if backoff < maxBackoff {
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
		}
	}
}

// Mutex is a mutual-exclusion lock over a single int32 word. The word is
// typically a field inside a shared memory mapping so that it can be
// locked from more than one OS process; zero value of the word means
// unlocked.
//
// Double-unlock or unlock-by-non-owner is undefined behavior: callers
// must pair Lock/Unlock calls correctly.
type Mutex struct {
	state *int32
}

// NewMutex wraps word as a Mutex, initializing it to unlocked. word must
// not be touched by any other code for the lifetime of the Mutex.
func NewMutex(word *int32) *Mutex {
	atomic.StoreInt32(word, 0)
	return &Mutex{state: word}
}

// OpenMutex wraps an already-initialized word without resetting it, for
// a process attaching to a mailbox created by another process.
func OpenMutex(word *int32) *Mutex {
	return &Mutex{state: word}
}

// Lock blocks until the mutex is acquired.
func (m *Mutex) Lock() {
	backoffWait(func() bool {
		return atomic.CompareAndSwapInt32(m.state, 0, 1)
	})
}

// TryLock attempts to acquire the mutex without blocking.
func (m *Mutex) TryLock() bool {
	return atomic.CompareAndSwapInt32(m.state, 0, 1)
}

// Unlock releases the mutex. Calling Unlock without holding the lock is
// undefined behavior.
func (m *Mutex) Unlock() {
	atomic.StoreInt32(m.state, 0)
}

// Semaphore is a counting semaphore over a single int32 word,
// initialized to v. Acquire blocks while the counter is zero; Release
// increments it and wakes at most one logical waiter (spinners simply
// race for the decrement, so "at most one" is enforced by the CAS, not
// by a wakeup count).
type Semaphore struct {
	count *int32
}

// NewSemaphore wraps word as a Semaphore initialized to v.
func NewSemaphore(word *int32, v int32) *Semaphore {
	atomic.StoreInt32(word, v)
	return &Semaphore{count: word}
}

// OpenSemaphore wraps an already-initialized word.
func OpenSemaphore(word *int32) *Semaphore {
	return &Semaphore{count: word}
}

// Acquire decrements the counter, blocking while it is zero.
func (s *Semaphore) Acquire() {
	backoffWait(func() bool {
		for {
			cur := atomic.LoadInt32(s.count)
			if cur <= 0 {
				return false
			}
			if atomic.CompareAndSwapInt32(s.count, cur, cur-1) {
				return true
			}
		}
	})
}

// TryAcquire attempts to decrement the counter without blocking.
func (s *Semaphore) TryAcquire() bool {
	for {
		cur := atomic.LoadInt32(s.count)
		if cur <= 0 {
			return false
		}
		if atomic.CompareAndSwapInt32(s.count, cur, cur-1) {
			return true
		}
	}
}

// Release increments the counter.
func (s *Semaphore) Release() {
	atomic.AddInt32(s.count, 1)
}

// CurrentValue returns the counter. Advisory only — it may be stale by
// the time the caller acts on it.
func (s *Semaphore) CurrentValue() int32 {
	return atomic.LoadInt32(s.count)
}

// Cond is the per-slot wait/signal point the mailbox handshake uses to
// block a client or server worker until a predicate over the response
// cell becomes true. Like sync.Cond, Wait must be called with the
// associated Mutex held; unlike sync.Cond, there is no single underlying
// futex to block on, so Wait releases the mutex, spins/backs off
// checking pred, and reacquires the mutex before returning — giving the
// other side of the handshake (which needs the same mutex to mutate the
// cell) the chance to run. Broadcast and Signal are no-ops: every
// blocked waiter is already re-checking its own predicate on its own
// schedule, so there is nothing to wake. Both methods exist to keep the
// handshake code readable against the usual "lock, wait, mutate,
// broadcast, unlock" condition-variable protocol, and so that a future
// implementation backed by a real process-shared futex can drop in
// without changing call sites.
type Cond struct{}

// NewCond returns a Cond. It carries no state: the per-slot condvar word
// in internal/mailbox's layout is reserved space for protocol fidelity,
// not touched here.
func NewCond() *Cond { return &Cond{} }

// Wait blocks until pred returns true, releasing mu while waiting and
// reacquiring it before returning — so the caller always resumes with mu
// held. pred is always evaluated with mu held; mu is released only
// between checks.
func (c *Cond) Wait(mu *Mutex, pred func() bool) {
	if pred() {
		return
	}

	spins := 0
	backoff := minBackoff
	for {
		mu.Unlock()
		if spins < spinIterations {
			runtime.Gosched()
			spins++
		} else {
			time.Sleep(backoff)
			if backoff < maxBackoff {
				backoff *= 2
				if backoff > maxBackoff {
					backoff = maxBackoff
				}
			}
		}
		mu.Lock()
		if pred() {
			return
		}
	}
}

// Broadcast is a no-op; see the Cond doc comment.
func (c *Cond) Broadcast() {}

// Signal is a no-op; see the Cond doc comment.
func (c *Cond) Signal() {}
