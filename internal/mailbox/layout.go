package mailbox

import "github.com/adred-codev/shmkv/internal/ipcsync"

// wireRecord is the fixed-layout on-the-wire counterpart to Record.
// Ready and ClientID are the fields the handshake protocol polls, so
// they are plain uint32 words rather than bool-typed Go fields, with the
// same representation in every process that has the mailbox mapped. The
// handshake (mailbox.go) reads and writes them only while holding the
// slot's mutex.
type wireRecord struct {
	Kind     uint32
	Success  uint32
	Ready    uint32
	ClientID uint32
	Key      [MaxKeyLen]byte
	Value    [MaxValueLen]byte
}

func toWire(r Record) wireRecord {
	w := wireRecord{Kind: uint32(r.Kind), ClientID: r.ClientID}
	if r.Success {
		w.Success = 1
	}
	if r.Ready {
		w.Ready = 1
	}
	w.Key = r.Key
	w.Value = r.Value
	return w
}

func fromWire(w wireRecord) Record {
	return Record{
		Kind:     Kind(w.Kind),
		Success:  w.Success != 0,
		Ready:    w.Ready != 0,
		ClientID: w.ClientID,
		Key:      w.Key,
		Value:    w.Value,
	}
}

// ringHeader is the ring's header block: head, tail, capacity, size,
// its short-term mutex, and its two counting semaphores.
type ringHeader struct {
	Head        uint64
	Tail        uint64
	Capacity    uint64
	Size        uint64
	RingMutex   int32
	FreeSlotSem int32
	FullSlotSem int32
	_           int32 // padding to keep the struct 8-byte aligned
}

// slotSync is the per-slot synchronization pair: one mutex word and one
// condvar-shaped reservation per slot, stored interleaved as an array of
// Slots pairs. This package's Cond (internal/ipcsync)
// is stateless — waiters poll rather than block on a real futex/condvar
// — so CondReserved carries no live state; it exists so the byte layout
// still has a condvar-shaped slot per index, matching the wire format.
type slotSync struct {
	Mutex        int32
	CondReserved int32
}

// Layout is the complete in-memory shape of the mailbox: ring header,
// ring body (request slots), response cells, and per-slot sync words.
// A server creates one inside a shared mapping sized to
// unsafe.Sizeof(Layout{}) rounded up to a whole page; a client maps the
// same region and casts it to
// *Layout the same way. See shm.go for the mapping code.
type Layout struct {
	Ring          ringHeader
	RequestSlots  [Slots]wireRecord
	ResponseSlots [Slots]wireRecord
	SlotSync      [Slots]slotSync
}

// initInPlace initializes the ring header (capacity set to Slots, head,
// tail, size and the ring mutex zeroed, the free-slot semaphore set to
// Slots, the full-slot semaphore zeroed) and zeroes every per-slot mutex
// word. The
// rest of the zero value (Kind=NONE, Success=false, Ready=false,
// ClientID=0) already matches the "slot is free" invariant, which is
// why a freshly mmap'd, freshly truncated (hence zero-filled) region
// needs no further placement-initialization for the slots themselves.
func (l *Layout) initInPlace() {
	l.Ring.Capacity = Slots
	l.Ring.Head = 0
	l.Ring.Tail = 0
	l.Ring.Size = 0
	l.Ring.RingMutex = 0
	l.Ring.FreeSlotSem = Slots
	l.Ring.FullSlotSem = 0
	for i := range l.SlotSync {
		l.SlotSync[i].Mutex = 0
	}
}

// mutexFor builds an ipcsync.Mutex over the i-th slot's sync word.
func (l *Layout) mutexFor(i int) *ipcsync.Mutex {
	return ipcsync.OpenMutex(&l.SlotSync[i].Mutex)
}
