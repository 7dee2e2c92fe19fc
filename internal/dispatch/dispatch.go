// Package dispatch implements the server worker pool: one goroutine per
// ring slot, each repeatedly popping a request,
// executing it against the hash table, and publishing a response back
// into the mailbox.
package dispatch

import (
	"context"
	"runtime/debug"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/adred-codev/shmkv/internal/hashtable"
	"github.com/adred-codev/shmkv/internal/mailbox"
	"github.com/adred-codev/shmkv/internal/metrics"
	"github.com/adred-codev/shmkv/internal/sideband"
)

// Pool is the server's worker pool: one worker per ring slot so a slow
// handler cannot create head-of-line blocking on the ring itself.
type Pool struct {
	mbox    *mailbox.Mailbox
	table   *hashtable.Table
	metrics *metrics.Registry
	logger  zerolog.Logger

	workers int
	wg      sync.WaitGroup

	// StalenessSweep, if non-zero, enables an optional background
	// goroutine that checks the request ring once per interval and logs
	// a warning whenever it finds the ring full. It does not inspect the
	// response cells and never changes mailbox state. Disabled by
	// default — the blocking contract this server follows has no
	// timeouts at all.
	StalenessSweep time.Duration
}

// New builds a worker pool with one worker per mailbox slot.
func New(mbox *mailbox.Mailbox, table *hashtable.Table, reg *metrics.Registry, logger zerolog.Logger) *Pool {
	return &Pool{
		mbox:    mbox,
		table:   table,
		metrics: reg,
		logger:  logger,
		workers: mailbox.Slots,
	}
}

// Run starts the worker pool and blocks until every worker has returned.
// A worker returns when it pops an EXIT request, or after finishing a
// request once ctx is cancelled; a worker blocked waiting for a request
// does not observe ctx. Shutdown itself is driven by
// pushing N EXIT requests (see cmd/shmkv-server); Run does not push them
// itself, since only the process owning the shutdown signal knows when
// to do that.
func (p *Pool) Run(ctx context.Context) {
	if p.metrics != nil {
		p.metrics.RingCapacity.Set(float64(p.mbox.RingCap()))
	}

	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(ctx, i)
	}

	if p.StalenessSweep > 0 {
		go p.sweepLoop(ctx)
	}

	p.wg.Wait()
}

func (p *Pool) worker(ctx context.Context, id int) {
	defer p.wg.Done()

	for {
		req, slot := p.mbox.PopRequest()

		if p.metrics != nil {
			p.metrics.RingSize.Set(float64(p.mbox.RingLen()))
			p.metrics.WorkerBusy.Inc()
		}

		if req.Kind == mailbox.KindExit {
			p.logger.Debug().Int("worker", id).Msg("worker received EXIT, draining")
			if p.metrics != nil {
				p.metrics.WorkerBusy.Dec()
			}
			return
		}

		p.handle(req, slot)

		if p.metrics != nil {
			p.metrics.WorkerBusy.Dec()
		}

		select {
		case <-ctx.Done():
			return
		default:
		}
	}
}

// handle dispatches a single request, recovering from any panic in the
// hash table or side-channel path so one bad request cannot take down
// the worker. A panic after the request has already been popped still
// owes the client a response — the client has no timeout and would
// otherwise block in AwaitResponse forever — so the recovery path
// publishes success=false for any kind that normally gets a response.
// CLOSE_BULK (and the malformed NONE/RESPONSE kinds, which return
// before doing anything that could panic) never get a response cell
// update either way, matching their normal no-response contract.
func (p *Pool) handle(req mailbox.Record, slot uint64) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error().
				Interface("panic_value", r).
				Str("stack_trace", string(debug.Stack())).
				Uint64("slot", slot).
				Msg("dispatch worker panic recovered")

			switch req.Kind {
			case mailbox.KindGet, mailbox.KindInsert, mailbox.KindDelete, mailbox.KindReadBucket:
				resp := mailbox.Record{Kind: mailbox.KindResponse, ClientID: req.ClientID, Success: false}
				resp.SetValue("internal error")
				p.mbox.PublishResponse(slot, resp)
			}
		}
	}()

	start := time.Now()

	if p.metrics != nil {
		p.metrics.RequestsTotal.WithLabelValues(req.Kind.String()).Inc()
	}

	var resp mailbox.Record

	switch req.Kind {
	case mailbox.KindGet:
		resp = p.handleGet(req)
	case mailbox.KindInsert:
		resp = p.handleInsert(req)
	case mailbox.KindDelete:
		resp = p.handleDelete(req)
	case mailbox.KindReadBucket:
		resp = p.handleReadBucket(req)
	case mailbox.KindCloseBulk:
		p.handleCloseBulk(req)
		return // no response cell update for CLOSE_BULK
	default:
		p.logger.Warn().Str("kind", req.Kind.String()).Uint32("client_id", req.ClientID).Msg("malformed request kind, discarding")
		return
	}

	p.mbox.PublishResponse(slot, resp)

	if p.metrics != nil {
		success := "false"
		if resp.Success {
			success = "true"
		}
		p.metrics.ResponsesTotal.WithLabelValues(req.Kind.String(), success).Inc()
		p.metrics.HandshakeDuration.Observe(time.Since(start).Seconds())
		p.metrics.HashTableSize.Set(float64(p.table.Size()))
		p.metrics.HashTableCapacity.Set(float64(p.table.Capacity()))
	}
}

func (p *Pool) handleGet(req mailbox.Record) mailbox.Record {
	resp := mailbox.Record{Kind: mailbox.KindResponse, ClientID: req.ClientID}
	key := req.KeyString()

	if v, ok := p.table.Get(key); ok {
		resp.Success = true
		resp.SetValue(v)
	} else {
		resp.Success = false
	}
	return resp
}

func (p *Pool) handleInsert(req mailbox.Record) mailbox.Record {
	resp := mailbox.Record{Kind: mailbox.KindResponse, ClientID: req.ClientID}

	key := req.KeyString()
	if key == "" {
		// A stored empty key would be indistinguishable from the
		// bulk-reply side channel's end-of-list sentinel (internal/sideband's
		// isSentinel), which would truncate a READ_BUCKET snapshot early.
		// Rejected here as a user error rather than ever let it into the
		// table.
		resp.Success = false
		resp.SetValue("key must not be empty")
		return resp
	}

	capBefore := p.table.Capacity()

	resp.Success = p.table.Insert(key, req.ValueString())

	p.noteResize(capBefore)
	return resp
}

func (p *Pool) handleDelete(req mailbox.Record) mailbox.Record {
	resp := mailbox.Record{Kind: mailbox.KindResponse, ClientID: req.ClientID}
	capBefore := p.table.Capacity()

	if v, ok := p.table.Remove(req.KeyString()); ok {
		resp.Success = true
		resp.SetValue(v)
	} else {
		resp.Success = false
	}

	p.noteResize(capBefore)
	return resp
}

// handleReadBucket parses the key bytes as a decimal bucket index,
// snapshots the bucket, and opens a bulk-reply side channel for it.
func (p *Pool) handleReadBucket(req mailbox.Record) mailbox.Record {
	resp := mailbox.Record{Kind: mailbox.KindResponse, ClientID: req.ClientID}

	idx, err := strconv.Atoi(req.KeyString())
	if err != nil || idx < 0 {
		resp.Success = false
		resp.SetValue("bucket index out of range")
		return resp
	}

	// GetBucket bounds-checks idx itself, under the same lock it reads
	// the bucket with — checking Capacity() first and GetBucket second
	// would leave a window for a concurrent resize to invalidate the
	// check between the two calls.
	pairs, ok := p.table.GetBucket(idx)
	if !ok {
		resp.Success = false
		resp.SetValue("bucket index out of range")
		return resp
	}

	region, err := sideband.Create(req.ClientID, pairs)
	if err != nil {
		resp.Success = false
		resp.SetValue("failed to open bulk-reply region")
		p.logger.Error().Err(err).Uint32("client_id", req.ClientID).Msg("sideband.Create failed")
		return resp
	}

	if p.metrics != nil {
		p.metrics.BulkRegionsOpen.Inc()
	}

	// The server's own mapping of the region is not needed once the
	// bytes are written; the client maps it independently by name.
	if err := region.Unmap(); err != nil {
		p.logger.Warn().Err(err).Msg("failed to unmap server-side bulk region after write")
	}

	resp.Success = true
	resp.SetKey(sideband.Name(req.ClientID))
	resp.SetValue(strconv.Itoa(region.Len()))
	return resp
}

// handleCloseBulk unlinks the named side-channel region. No response
// cell update follows — CLOSE_BULK requests are fire-and-forget.
func (p *Pool) handleCloseBulk(req mailbox.Record) {
	name := req.KeyString()
	if err := sideband.Unlink(name); err != nil {
		p.logger.Warn().Err(err).Str("region", name).Msg("failed to unlink bulk region on CLOSE_BULK")
	}
	if p.metrics != nil {
		p.metrics.BulkRegionsOpen.Dec()
	}
}

func (p *Pool) noteResize(capBefore int) {
	if p.metrics == nil {
		return
	}
	capAfter := p.table.Capacity()
	switch {
	case capAfter > capBefore:
		p.metrics.ResizesTotal.WithLabelValues("grow").Inc()
	case capAfter < capBefore:
		p.metrics.ResizesTotal.WithLabelValues("shrink").Inc()
	}
}

// sweepLoop is an optional staleness check. It never mutates mailbox
// state and performs no recovery: on each tick it logs a warning if the
// request ring is at capacity, so a wedged ring shows up in the logs.
func (p *Pool) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(p.StalenessSweep)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			depth := p.mbox.RingLen()
			if depth == p.mbox.RingCap() {
				p.logger.Warn().
					Int("ring_len", depth).
					Int("ring_cap", p.mbox.RingCap()).
					Msg("request ring at capacity past staleness interval; a client may be wedged")
			}
		}
	}
}
