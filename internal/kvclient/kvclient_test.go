package kvclient

import (
	"context"
	"testing"
	"time"

	"github.com/adred-codev/shmkv/internal/hashtable"
	"github.com/adred-codev/shmkv/internal/mailbox"
)

// startEchoServer runs a minimal single-worker server loop directly
// against the mailbox, bypassing internal/dispatch, so this package's
// tests don't need to import it (dispatch already exercises the full
// worker pool against a real hashtable.Table).
func startEchoServer(t *testing.T, mbox *mailbox.Mailbox, table *hashtable.Table) context.CancelFunc {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())

	go func() {
		for {
			req, slot := mbox.PopRequest()
			select {
			case <-ctx.Done():
				return
			default:
			}

			switch req.Kind {
			case mailbox.KindExit:
				return
			case mailbox.KindGet:
				resp := mailbox.Record{Kind: mailbox.KindResponse, ClientID: req.ClientID}
				if v, ok := table.Get(req.KeyString()); ok {
					resp.Success = true
					resp.SetValue(v)
				}
				mbox.PublishResponse(slot, resp)
			case mailbox.KindInsert:
				resp := mailbox.Record{Kind: mailbox.KindResponse, ClientID: req.ClientID, Success: table.Insert(req.KeyString(), req.ValueString())}
				mbox.PublishResponse(slot, resp)
			case mailbox.KindDelete:
				resp := mailbox.Record{Kind: mailbox.KindResponse, ClientID: req.ClientID}
				if v, ok := table.Remove(req.KeyString()); ok {
					resp.Success = true
					resp.SetValue(v)
				}
				mbox.PublishResponse(slot, resp)
			}
		}
	}()

	return cancel
}

func TestGetInsertDeleteRoundTrip(t *testing.T) {
	mbox := mailbox.NewLocal()
	table := hashtable.New(8, false)
	cancel := startEchoServer(t, mbox, table)
	defer cancel()

	c := New(mbox)
	ctx := context.Background()

	ok, err := c.Insert(ctx, "foo", "bar")
	if err != nil || !ok {
		t.Fatalf("Insert = (%v, %v), want (true, nil)", ok, err)
	}

	v, found, err := c.Get(ctx, "foo")
	if err != nil || !found || v != "bar" {
		t.Fatalf("Get = (%q, %v, %v), want (bar, true, nil)", v, found, err)
	}

	v, found, err = c.Delete(ctx, "foo")
	if err != nil || !found || v != "bar" {
		t.Fatalf("Delete = (%q, %v, %v), want (bar, true, nil)", v, found, err)
	}

	_, found, err = c.Get(ctx, "foo")
	if err != nil || found {
		t.Fatalf("Get after Delete: found=%v err=%v, want false/nil", found, err)
	}
}

func TestInsertDuplicateFails(t *testing.T) {
	mbox := mailbox.NewLocal()
	table := hashtable.New(8, false)
	cancel := startEchoServer(t, mbox, table)
	defer cancel()

	c := New(mbox)
	ctx := context.Background()

	c.Insert(ctx, "k", "v1")
	ok, err := c.Insert(ctx, "k", "v2")
	if err != nil || ok {
		t.Fatalf("second Insert = (%v, %v), want (false, nil)", ok, err)
	}
}

func TestSendRejectsOversizeKey(t *testing.T) {
	mbox := mailbox.NewLocal()
	table := hashtable.New(8, false)
	cancel := startEchoServer(t, mbox, table)
	defer cancel()

	c := New(mbox)
	oversize := make([]byte, mailbox.MaxKeyLen+1)
	for i := range oversize {
		oversize[i] = 'x'
	}

	if _, _, err := c.Get(context.Background(), string(oversize)); err == nil {
		t.Fatal("Get with oversize key should return an error")
	}
}

func TestPushRetryRespectsContextCancellation(t *testing.T) {
	mbox := mailbox.NewLocal()
	c := New(mbox)

	// Fill the ring without a server draining it, so every push blocks.
	for i := 0; i < mailbox.Slots; i++ {
		if _, ok := mbox.TryPushRequest(mailbox.NewRequest(mailbox.KindGet, 1, "x", "")); !ok {
			break
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	if _, err := c.Get(ctx, "whatever"); err == nil {
		t.Fatal("Get against a full, undrained ring should fail once context deadline passes")
	}
}
