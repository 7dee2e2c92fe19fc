package mailbox

import (
	"fmt"

	"github.com/adred-codev/shmkv/internal/ipcsync"
	"github.com/adred-codev/shmkv/internal/ring"
)

// Mailbox combines the request ring (internal/ring) with the response
// cells and per-slot synchronization. It is constructed
// over a *Layout that may live in a shared memory mapping (CreateShared
// / OpenShared in shm.go) or, for tests, in ordinary process memory
// (NewLocal).
type Mailbox struct {
	layout *Layout
	ring   *ring.Buffer[wireRecord]
	slotMu []*ipcsync.Mutex
	slotCv []*ipcsync.Cond

	// closer detaches (client) or destroys (server) the backing region.
	closer func() error
}

// NewLocal builds a Mailbox over freshly allocated process memory, for
// use by tests and by any single-process caller that doesn't need the
// cross-process mapping.
func NewLocal() *Mailbox {
	layout := &Layout{}
	layout.initInPlace()
	return wrap(layout, func() error { return nil })
}

func wrap(layout *Layout, closer func() error) *Mailbox {
	m := &Mailbox{layout: layout, closer: closer}

	m.ring = ring.NewOver[wireRecord](
		layout.RequestSlots[:],
		&layout.Ring.Head, &layout.Ring.Tail, &layout.Ring.Size,
		ipcsync.OpenMutex(&layout.Ring.RingMutex),
		ipcsync.OpenSemaphore(&layout.Ring.FreeSlotSem),
		ipcsync.OpenSemaphore(&layout.Ring.FullSlotSem),
	)

	m.slotMu = make([]*ipcsync.Mutex, Slots)
	m.slotCv = make([]*ipcsync.Cond, Slots)
	for i := 0; i < Slots; i++ {
		m.slotMu[i] = layout.mutexFor(i)
		m.slotCv[i] = ipcsync.NewCond()
	}

	return m
}

// Close detaches (client) or destroys (server) the underlying region.
func (m *Mailbox) Close() error {
	if m.closer == nil {
		return nil
	}
	return m.closer()
}

// PushRequest enqueues req into the request ring, blocking if full, and
// returns the slot index it landed in — the index the caller must later
// wait on with AwaitResponse.
func (m *Mailbox) PushRequest(req Record) uint64 {
	return m.ring.Push(toWire(req))
}

// TryPushRequest is the non-blocking form used by the client's
// retry-with-backoff loop.
func (m *Mailbox) TryPushRequest(req Record) (uint64, bool) {
	idx, ok := m.ring.TryPush(toWire(req))
	return idx, ok
}

// PopRequest blocks until a request is available, returning it together
// with the slot index a worker must publish its response into.
func (m *Mailbox) PopRequest() (Record, uint64) {
	w, idx := m.ring.Pop()
	return fromWire(w), idx
}

// RingLen and RingCap expose the ring's occupancy for metrics.
func (m *Mailbox) RingLen() int { return m.ring.Len() }
func (m *Mailbox) RingCap() int { return m.ring.Cap() }

// PublishResponse runs the server-side slot handshake:
// lock the cell's mutex, wait for the previous tenant to have been
// claimed (Ready=false && ClientID=0), write the response, mark it
// ready, broadcast, unlock.
func (m *Mailbox) PublishResponse(slot uint64, resp Record) {
	i := slot % Slots
	mu := m.slotMu[i]
	cv := m.slotCv[i]
	cell := &m.layout.ResponseSlots[i]

	mu.Lock()
	defer mu.Unlock()

	cv.Wait(mu, func() bool {
		return cell.Ready == 0 && cell.ClientID == 0
	})

	w := toWire(resp)
	cell.Kind = uint32(KindResponse)
	cell.Success = w.Success
	cell.ClientID = w.ClientID
	cell.Key = w.Key
	cell.Value = w.Value
	cell.Ready = 1

	cv.Broadcast()
}

// AwaitResponse runs the client-side slot handshake: lock, wait for
// Ready=true && ClientID==clientID, copy the response out, clear the
// cell (Ready=false, ClientID=0), broadcast so a server worker awaiting
// reuse can proceed, unlock.
func (m *Mailbox) AwaitResponse(slot uint64, clientID uint32) Record {
	i := slot % Slots
	mu := m.slotMu[i]
	cv := m.slotCv[i]
	cell := &m.layout.ResponseSlots[i]

	mu.Lock()
	defer mu.Unlock()

	cv.Wait(mu, func() bool {
		return cell.Ready != 0 && cell.ClientID == clientID
	})

	resp := fromWire(*cell)

	cell.Ready = 0
	cell.ClientID = 0

	cv.Broadcast()

	return resp
}

// String renders a short diagnostic summary.
func (m *Mailbox) String() string {
	return fmt.Sprintf("mailbox(slots=%d ring_len=%d)", Slots, m.RingLen())
}
