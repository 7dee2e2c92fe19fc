package dispatch

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/adred-codev/shmkv/internal/hashtable"
	"github.com/adred-codev/shmkv/internal/mailbox"
	"github.com/adred-codev/shmkv/internal/sideband"
)

func newTestPool(t *testing.T) (*Pool, *mailbox.Mailbox, context.CancelFunc) {
	t.Helper()
	mbox := mailbox.NewLocal()
	table := hashtable.New(10, false)
	pool := New(mbox, table, nil, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	go pool.Run(ctx)

	return pool, mbox, cancel
}

func send(t *testing.T, mbox *mailbox.Mailbox, clientID uint32, kind mailbox.Kind, key, value string) mailbox.Record {
	t.Helper()
	req := mailbox.NewRequest(kind, clientID, key, value)
	slot := mbox.PushRequest(req)
	return mbox.AwaitResponse(slot, clientID)
}

func TestEndToEndScenarioOne(t *testing.T) {
	_, mbox, cancel := newTestPool(t)
	defer cancel()

	const client = 1

	resp := send(t, mbox, client, mailbox.KindInsert, "foo", "bar")
	if !resp.Success {
		t.Fatal("INSERT foo bar: success=false")
	}

	resp = send(t, mbox, client, mailbox.KindGet, "foo", "")
	if !resp.Success || resp.ValueString() != "bar" {
		t.Fatalf("GET foo = (%v, %q), want (true, bar)", resp.Success, resp.ValueString())
	}

	resp = send(t, mbox, client, mailbox.KindDelete, "foo", "")
	if !resp.Success || resp.ValueString() != "bar" {
		t.Fatalf("DELETE foo = (%v, %q), want (true, bar)", resp.Success, resp.ValueString())
	}

	resp = send(t, mbox, client, mailbox.KindGet, "foo", "")
	if resp.Success {
		t.Fatal("GET foo after DELETE: success=true, want false")
	}
}

func TestEndToEndScenarioTwoDuplicateInsert(t *testing.T) {
	_, mbox, cancel := newTestPool(t)
	defer cancel()

	const client = 2

	if resp := send(t, mbox, client, mailbox.KindInsert, "k", "v1"); !resp.Success {
		t.Fatal("first INSERT failed")
	}
	if resp := send(t, mbox, client, mailbox.KindInsert, "k", "v2"); resp.Success {
		t.Fatal("second INSERT with same key should fail")
	}
	if resp := send(t, mbox, client, mailbox.KindGet, "k", ""); resp.ValueString() != "v1" {
		t.Fatalf("GET k = %q, want v1 (unchanged)", resp.ValueString())
	}
}

func TestReadBucketEndToEnd(t *testing.T) {
	_, mbox, cancel := newTestPool(t)
	defer cancel()

	const client = 3

	send(t, mbox, client, mailbox.KindInsert, "a", "1")
	send(t, mbox, client, mailbox.KindInsert, "b", "2")

	// Find a bucket index that actually has entries by scanning all of
	// them via READ_BUCKET and keeping whichever responds with
	// non-empty content; capacity is small enough that this is cheap.
	var name string
	var size int
	for i := 0; i < 10; i++ {
		resp := send(t, mbox, client, mailbox.KindReadBucket, strconv.Itoa(i), "")
		if !resp.Success {
			continue
		}
		n, err := strconv.Atoi(resp.ValueString())
		if err != nil {
			t.Fatalf("bucket length %q not numeric: %v", resp.ValueString(), err)
		}
		name = resp.KeyString()
		size = n
		region, err := sideband.Open(name, size)
		if err != nil {
			t.Fatalf("sideband.Open(%s): %v", name, err)
		}
		pairs := region.ReadAll()
		region.Unmap()
		if len(pairs) > 0 {
			send(t, mbox, client, mailbox.KindCloseBulk, name, "")
			return
		}
		send(t, mbox, client, mailbox.KindCloseBulk, name, "")
	}

	t.Fatal("no bucket across the table contained the inserted entries")
}

func TestReadBucketOutOfRangeFails(t *testing.T) {
	_, mbox, cancel := newTestPool(t)
	defer cancel()

	resp := send(t, mbox, 4, mailbox.KindReadBucket, "99999", "")
	if resp.Success {
		t.Fatal("READ_BUCKET with out-of-range index should fail")
	}
}

func TestExitDrainsWorker(t *testing.T) {
	mbox := mailbox.NewLocal()
	table := hashtable.New(4, false)
	pool := New(mbox, table, nil, zerolog.Nop())
	pool.workers = 1

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		pool.Run(ctx)
		close(done)
	}()

	mbox.PushRequest(mailbox.NewRequest(mailbox.KindExit, 0, "", ""))

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not exit after EXIT request")
	}
}
