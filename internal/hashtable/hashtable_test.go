package hashtable

import (
	"fmt"
	"sync"
	"testing"
)

func TestInsertGetRemove(t *testing.T) {
	ht := New(10, false)

	if ok := ht.Insert("foo", "bar"); !ok {
		t.Fatal("Insert(foo, bar) = false, want true")
	}
	if v, ok := ht.Get("foo"); !ok || v != "bar" {
		t.Fatalf("Get(foo) = (%q, %v), want (bar, true)", v, ok)
	}
	if v, ok := ht.Remove("foo"); !ok || v != "bar" {
		t.Fatalf("Remove(foo) = (%q, %v), want (bar, true)", v, ok)
	}
	if _, ok := ht.Get("foo"); ok {
		t.Fatal("Get(foo) after Remove should be absent")
	}
}

func TestInsertDuplicateFails(t *testing.T) {
	ht := New(10, false)

	ht.Insert("foo", "bar")
	if ok := ht.Insert("foo", "baz"); ok {
		t.Fatal("second Insert(foo, ...) should return false")
	}
	if v, _ := ht.Get("foo"); v != "bar" {
		t.Fatalf("Get(foo) = %q after failed duplicate insert, want bar (unchanged)", v)
	}
}

func TestPutIsRemoveThenInsert(t *testing.T) {
	ht := New(10, false)

	ht.Put("k", "v1")
	if v, _ := ht.Get("k"); v != "v1" {
		t.Fatalf("Get(k) = %q, want v1", v)
	}

	ht.Put("k", "v2")
	if v, _ := ht.Get("k"); v != "v2" {
		t.Fatalf("Get(k) = %q after Put replace, want v2", v)
	}
	if ht.Size() != 1 {
		t.Fatalf("Size() = %d after Put-replace, want 1", ht.Size())
	}
}

func TestResizeGrowsAndPreservesEntries(t *testing.T) {
	ht := New(4, true)

	keys := []string{"1", "2", "3", "4"}
	for _, k := range keys {
		if !ht.Insert(k, "v"+k) {
			t.Fatalf("Insert(%s) failed", k)
		}
	}

	if cap := ht.Capacity(); cap <= 4 {
		t.Fatalf("Capacity() = %d after load factor 1.0, want > 4 (grown)", cap)
	}

	for _, k := range keys {
		if v, ok := ht.Get(k); !ok || v != "v"+k {
			t.Fatalf("Get(%s) = (%q, %v) after resize, want (v%s, true)", k, v, ok, k)
		}
	}
}

func TestResizeNeverShrinksBelowMinCapacity(t *testing.T) {
	ht := New(4, true)

	ht.Insert("a", "1")
	ht.Remove("a")

	if cap := ht.Capacity(); cap != MinCapacity {
		t.Fatalf("Capacity() = %d, want MinCapacity=%d", cap, MinCapacity)
	}
}

func TestLoadFactorBoundsAfterInsertRemove(t *testing.T) {
	ht := New(4, true)

	for i := 0; i < 100; i++ {
		ht.Insert(fmt.Sprintf("key-%d", i), "v")

		size := ht.Size()
		cap := ht.Capacity()
		load := float64(size) / float64(cap)
		if !(load >= AlphaMin && load <= AlphaMax) && cap != MinCapacity {
			t.Fatalf("after insert %d: load=%.3f cap=%d size=%d violates bounds", i, load, cap, size)
		}
	}

	for i := 0; i < 100; i++ {
		ht.Remove(fmt.Sprintf("key-%d", i))

		size := ht.Size()
		cap := ht.Capacity()
		load := float64(size) / float64(cap)
		if !(load >= AlphaMin && load <= AlphaMax) && cap != MinCapacity {
			t.Fatalf("after remove %d: load=%.3f cap=%d size=%d violates bounds", i, load, cap, size)
		}
	}
}

func TestGetBucketSnapshot(t *testing.T) {
	ht := New(4, false)
	ht.Insert("a", "1")
	ht.Insert("b", "2")

	total := 0
	for i := 0; i < ht.Capacity(); i++ {
		pairs, ok := ht.GetBucket(i)
		if !ok {
			t.Fatalf("GetBucket(%d) = (_, false) for an in-range index", i)
		}
		total += len(pairs)
	}
	if total != 2 {
		t.Fatalf("sum of bucket lengths = %d, want 2", total)
	}
}

func TestGetBucketOutOfRange(t *testing.T) {
	ht := New(4, false)

	if _, ok := ht.GetBucket(-1); ok {
		t.Fatal("GetBucket(-1) = (_, true), want false")
	}
	if _, ok := ht.GetBucket(ht.Capacity()); ok {
		t.Fatalf("GetBucket(%d) = (_, true), want false (capacity is out of range)", ht.Capacity())
	}
}

func TestGetKeysAndValues(t *testing.T) {
	ht := New(8, false)
	ht.Insert("a", "1")
	ht.Insert("b", "2")

	keys := ht.GetKeys()
	values := ht.GetValues()

	if len(keys) != 2 || len(values) != 2 {
		t.Fatalf("GetKeys()=%v GetValues()=%v, want 2 entries each", keys, values)
	}
}

func TestConcurrentDisjointKeyRanges(t *testing.T) {
	ht := New(16, true)

	const perWorker = 2000
	const workers = 12

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(base int) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				key := fmt.Sprintf("%d-%d", base, i)

				if _, ok := ht.Get(key); ok {
					t.Errorf("Get(%s) found before insert", key)
				}
				if !ht.Insert(key, key) {
					t.Errorf("Insert(%s) failed", key)
				}
				if v, ok := ht.Get(key); !ok || v != key {
					t.Errorf("Get(%s) = (%q, %v) after insert, want (%s, true)", key, v, ok, key)
				}
				if v, ok := ht.Remove(key); !ok || v != key {
					t.Errorf("Remove(%s) = (%q, %v), want (%s, true)", key, v, ok, key)
				}
				if _, ok := ht.Get(key); ok {
					t.Errorf("Get(%s) found after remove", key)
				}
			}
		}(w)
	}
	wg.Wait()

	if ht.Size() != 0 {
		t.Fatalf("Size() = %d after all workers cleared their ranges, want 0", ht.Size())
	}
}
