// Package kvclient implements the per-process client API: attach to a
// mailbox, send requests under a single client_id (the OS pid), and
// wait for responses. It also implements the READ_BUCKET bulk-reply
// fetch.
package kvclient

import (
	"context"
	"fmt"
	"os"
	"time"

	"golang.org/x/time/rate"

	"github.com/adred-codev/shmkv/internal/hashtable"
	"github.com/adred-codev/shmkv/internal/mailbox"
	"github.com/adred-codev/shmkv/internal/sideband"
)

// pushRetryRate and pushRetryBurst pace the try_push retry loop: loop on
// try_push with short sleeps. A token bucket limiter in place of a bare
// time.Sleep spin means a client backs off smoothly instead of
// hammering the ring mutex every iteration while it's full.
const (
	pushRetryRate  = rate.Limit(200) // attempts/sec once the burst is exhausted
	pushRetryBurst = 5
)

// Client is a single client process's handle onto a mailbox.
type Client struct {
	mbox     *mailbox.Mailbox
	clientID uint32
	limiter  *rate.Limiter
}

// New wraps an already-attached mailbox as a Client, using the calling
// process's pid as the client identifier — a non-zero integer uniquely
// naming a client process.
func New(mbox *mailbox.Mailbox) *Client {
	return &Client{
		mbox:     mbox,
		clientID: uint32(os.Getpid()),
		limiter:  rate.NewLimiter(pushRetryRate, pushRetryBurst),
	}
}

// ClientID returns the identifier this client attaches to every request.
func (c *Client) ClientID() uint32 { return c.clientID }

// send builds the request, retries try_push until it lands in the
// ring, and — unless the kind expects no response — waits on the
// assigned slot.
func (c *Client) send(ctx context.Context, kind mailbox.Kind, key, value string) (mailbox.Record, error) {
	if len(key) > mailbox.MaxKeyLen || len(value) > mailbox.MaxValueLen {
		return mailbox.Record{}, fmt.Errorf("kvclient: key/value exceeds wire capacity (%d/%d bytes)", mailbox.MaxKeyLen, mailbox.MaxValueLen)
	}

	req := mailbox.NewRequest(kind, c.clientID, key, value)

	slot, err := c.pushWithRetry(ctx, req)
	if err != nil {
		return mailbox.Record{}, err
	}

	if kind == mailbox.KindExit || kind == mailbox.KindCloseBulk {
		return mailbox.Record{}, nil
	}

	return c.mbox.AwaitResponse(slot, c.clientID), nil
}

func (c *Client) pushWithRetry(ctx context.Context, req mailbox.Record) (uint64, error) {
	for {
		if slot, ok := c.mbox.TryPushRequest(req); ok {
			return slot, nil
		}

		if err := c.limiter.Wait(ctx); err != nil {
			return 0, fmt.Errorf("kvclient: push retry cancelled: %w", err)
		}
	}
}

// Get issues a GET request.
func (c *Client) Get(ctx context.Context, key string) (value string, found bool, err error) {
	resp, err := c.send(ctx, mailbox.KindGet, key, "")
	if err != nil {
		return "", false, err
	}
	return resp.ValueString(), resp.Success, nil
}

// Insert issues an INSERT request. ok is false if the key already
// existed — insert never overwrites.
func (c *Client) Insert(ctx context.Context, key, value string) (ok bool, err error) {
	resp, err := c.send(ctx, mailbox.KindInsert, key, value)
	if err != nil {
		return false, err
	}
	return resp.Success, nil
}

// Delete issues a DELETE request, returning the removed value.
func (c *Client) Delete(ctx context.Context, key string) (value string, found bool, err error) {
	resp, err := c.send(ctx, mailbox.KindDelete, key, "")
	if err != nil {
		return "", false, err
	}
	return resp.ValueString(), resp.Success, nil
}

// ReadBucket issues a READ_BUCKET request and performs the bulk-reply
// fetch: attach the named side-channel region read-only, copy entries
// out, detach (unmap) before sending CLOSE_BULK.
//
// The side channel is unmapped here, before CLOSE_BULK is sent, rather
// than left mapped for the process lifetime — a region left mapped
// across many bucket scans would otherwise leak address space.
func (c *Client) ReadBucket(ctx context.Context, index int) ([]hashtable.Pair, error) {
	resp, err := c.send(ctx, mailbox.KindReadBucket, fmt.Sprintf("%d", index), "")
	if err != nil {
		return nil, err
	}
	if !resp.Success {
		return nil, fmt.Errorf("kvclient: READ_BUCKET %d failed: %s", index, resp.ValueString())
	}

	name := resp.KeyString()
	size, convErr := parseSize(resp.ValueString())
	if convErr != nil {
		return nil, fmt.Errorf("kvclient: malformed bulk-reply length %q: %w", resp.ValueString(), convErr)
	}

	region, err := sideband.Open(name, size)
	if err != nil {
		return nil, fmt.Errorf("kvclient: attach bulk-reply region %s: %w", name, err)
	}

	pairs := region.ReadAll()

	if err := region.Unmap(); err != nil {
		return pairs, fmt.Errorf("kvclient: unmap bulk-reply region %s: %w", name, err)
	}

	if _, err := c.send(ctx, mailbox.KindCloseBulk, name, ""); err != nil {
		return pairs, fmt.Errorf("kvclient: send CLOSE_BULK for %s: %w", name, err)
	}

	return pairs, nil
}

func parseSize(s string) (int, error) {
	var n int
	_, err := fmt.Sscanf(s, "%d", &n)
	return n, err
}

// Exit sends an EXIT request, causing one server worker to drain and
// terminate. Used only by the server's own shutdown sequence, which
// sends one per worker.
func (c *Client) Exit(ctx context.Context) error {
	_, err := c.send(ctx, mailbox.KindExit, "", "")
	return err
}

// Close detaches from the mailbox (unmaps, never unlinks — only the
// server owns destroying the region).
func (c *Client) Close() error {
	return c.mbox.Close()
}

// WaitBriefly sleeps for 100ms, a pause between attempts to attach to a
// mailbox that does not exist yet. cmd/shmkv-client does not call it: a
// failed attach there exits with status 1.
func WaitBriefly() {
	time.Sleep(100 * time.Millisecond)
}
