package ring

import (
	"sync"
	"testing"
	"time"
)

func TestPushPopFIFO(t *testing.T) {
	b := New[int](4)

	for i := 0; i < 4; i++ {
		b.Push(i)
	}

	for i := 0; i < 4; i++ {
		got, _ := b.Pop()
		if got != i {
			t.Fatalf("Pop() = %d, want %d", got, i)
		}
	}
}

func TestPushReturnsIndexPopReturnsSameIndex(t *testing.T) {
	b := New[string](3)

	idx := b.Push("hello")
	got, poppedIdx := b.Pop()

	if got != "hello" {
		t.Fatalf("Pop() = %q, want hello", got)
	}
	if poppedIdx != idx {
		t.Fatalf("Pop index = %d, want %d (matching Push index)", poppedIdx, idx)
	}
}

func TestTryPushFullReturnsFalse(t *testing.T) {
	b := New[int](2)
	b.Push(1)
	b.Push(2)

	if _, ok := b.TryPush(3); ok {
		t.Fatal("TryPush on full ring should fail")
	}
}

func TestTryPopEmptyReturnsFalse(t *testing.T) {
	b := New[int](2)
	if _, _, ok := b.TryPop(); ok {
		t.Fatal("TryPop on empty ring should fail")
	}
}

func TestPushBlocksUntilPop(t *testing.T) {
	b := New[int](1)
	b.Push(1) // fill the only slot

	pushed := make(chan struct{})
	go func() {
		b.Push(2)
		close(pushed)
	}()

	select {
	case <-pushed:
		t.Fatal("Push on full ring returned before a Pop freed a slot")
	case <-time.After(20 * time.Millisecond):
	}

	b.Pop()

	select {
	case <-pushed:
	case <-time.After(time.Second):
		t.Fatal("Push did not unblock after Pop freed a slot")
	}
}

func TestPopBlocksUntilPush(t *testing.T) {
	b := New[int](4)

	popped := make(chan int, 1)
	go func() {
		v, _ := b.Pop()
		popped <- v
	}()

	select {
	case <-popped:
		t.Fatal("Pop on empty ring returned before a Push")
	case <-time.After(20 * time.Millisecond):
	}

	b.Push(42)

	select {
	case v := <-popped:
		if v != 42 {
			t.Fatalf("Pop() = %d, want 42", v)
		}
	case <-time.After(time.Second):
		t.Fatal("Pop did not unblock after Push")
	}
}

func TestSizeNeverExceedsCapacity(t *testing.T) {
	b := New[int](8)
	var wg sync.WaitGroup

	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(v int) {
			defer wg.Done()
			b.Push(v)
		}(i)
	}

	// Drain concurrently with producers so no single Push blocks forever.
	drained := make([]int, 0, 100)
	var mu sync.Mutex
	var drainWg sync.WaitGroup
	drainWg.Add(1)
	go func() {
		defer drainWg.Done()
		for i := 0; i < 100; i++ {
			v, _ := b.Pop()
			mu.Lock()
			drained = append(drained, v)
			mu.Unlock()
			if b.Len() > b.Cap() {
				t.Errorf("ring size %d exceeds capacity %d", b.Len(), b.Cap())
			}
		}
	}()

	wg.Wait()
	drainWg.Wait()

	if len(drained) != 100 {
		t.Fatalf("drained %d items, want 100", len(drained))
	}
}

func TestPeekDoesNotMutate(t *testing.T) {
	b := New[int](3)
	b.Push(7)

	v, idx, ok := b.Peek()
	if !ok || v != 7 {
		t.Fatalf("Peek() = (%d, %v), want (7, true)", v, ok)
	}
	if b.Len() != 1 {
		t.Fatalf("Len() = %d after Peek, want 1 (Peek must not mutate)", b.Len())
	}

	got, poppedIdx := b.Pop()
	if got != 7 || poppedIdx != idx {
		t.Fatalf("Pop() = (%d, %d), want (7, %d)", got, poppedIdx, idx)
	}
}

func TestAtDirectAccess(t *testing.T) {
	b := New[int](3)
	idx := b.Push(9)

	if got := *b.At(idx); got != 9 {
		t.Fatalf("At(%d) = %d, want 9", idx, got)
	}

	*b.At(idx) = 99
	got, _ := b.Pop()
	if got != 99 {
		t.Fatalf("Pop() = %d after At-write, want 99", got)
	}
}
