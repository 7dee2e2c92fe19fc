// Package sideband implements the bulk-reply side channel used for
// oversized responses: a freshly named shared-memory region holding a
// bucket snapshot as a contiguous array of (key, value) pairs,
// terminated by a zeroed sentinel pair. READ_BUCKET responses carry the
// region's name and byte length; the client reads it separately from
// the mailbox because a fixed-width response cell cannot hold an
// arbitrarily large bucket.
package sideband

import (
	"fmt"
	"os"
	"path/filepath"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/adred-codev/shmkv/internal/hashtable"
	"github.com/adred-codev/shmkv/internal/mailbox"
)

const shmDir = "/dev/shm"

// pairWidth is the on-the-wire size of one (key, value) entry: the same
// fixed-width key/value capacities the mailbox record uses, so a client
// can interpret the region without any additional framing.
const pairWidth = mailbox.MaxKeyLen + mailbox.MaxValueLen

type wirePair struct {
	Key   [mailbox.MaxKeyLen]byte
	Value [mailbox.MaxValueLen]byte
}

func init() {
	if unsafe.Sizeof(wirePair{}) != pairWidth {
		panic(fmt.Sprintf("sideband: wirePair size %d != pairWidth %d", unsafe.Sizeof(wirePair{}), pairWidth))
	}
}

// Name derives the side-channel region name from a client identifier.
func Name(clientID uint32) string {
	return fmt.Sprintf("/shmkv_bulk_%d", clientID)
}

func path(name string) string {
	return filepath.Join(shmDir, filepath.Base(name))
}

// Region is one bulk-reply side channel, backed by a named shared memory
// mapping sized to hold len(pairs)+1 entries (the extra entry is the
// zeroed sentinel).
type Region struct {
	data []byte
	name string
}

// Create allocates and populates a side channel for pairs, returning the
// region (server side). The caller is responsible for eventually calling
// Unlink once the client has acknowledged with CLOSE_BULK.
func Create(clientID uint32, pairs []hashtable.Pair) (*Region, error) {
	name := Name(clientID)
	size := (len(pairs) + 1) * pairWidth

	f, err := os.OpenFile(path(name), os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0666)
	if err != nil {
		return nil, fmt.Errorf("sideband: create %s: %w", name, err)
	}
	defer f.Close()
	if err := f.Chmod(0666); err != nil {
		return nil, fmt.Errorf("sideband: chmod %s: %w", name, err)
	}

	if err := f.Truncate(int64(size)); err != nil {
		return nil, fmt.Errorf("sideband: truncate %s: %w", name, err)
	}

	data, err := unix.Mmap(int(f.Fd()), 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("sideband: mmap %s: %w", name, err)
	}

	for i, p := range pairs {
		w := (*wirePair)(unsafe.Pointer(&data[i*pairWidth]))
		copy(w.Key[:], p.Key)
		copy(w.Value[:], p.Value)
	}
	// the trailing slot is already the zero sentinel: Ftruncate on a
	// freshly created file zero-fills.

	return &Region{data: data, name: name}, nil
}

// Len returns the byte length of the region, the value the READ_BUCKET
// response carries in its value field.
func (r *Region) Len() int { return len(r.data) }

// Unmap releases this process's mapping without removing the backing
// file. Both server and client call this once they are done reading or
// writing.
func (r *Region) Unmap() error {
	if r.data == nil {
		return nil
	}
	err := unix.Munmap(r.data)
	r.data = nil
	return err
}

// Unlink removes the backing shared-memory file. Only the server calls
// this, in response to a CLOSE_BULK request.
func Unlink(name string) error {
	if err := os.Remove(path(name)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("sideband: unlink %s: %w", name, err)
	}
	return nil
}

// Open attaches to an existing side channel by name and byte length
// (client side, reading a READ_BUCKET reply).
func Open(name string, size int) (*Region, error) {
	f, err := os.OpenFile(path(name), os.O_RDONLY, 0600)
	if err != nil {
		return nil, fmt.Errorf("sideband: open %s: %w", name, err)
	}
	defer f.Close()

	data, err := unix.Mmap(int(f.Fd()), 0, size, unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("sideband: mmap %s: %w", name, err)
	}

	return &Region{data: data, name: name}, nil
}

// ReadAll reads every (key, value) pair up to the first zeroed sentinel
// pair (the first eight bytes of Key all zero). This relies on every
// stored key being non-empty — internal/dispatch's handleInsert rejects
// empty keys as a user error precisely so a real entry can never be
// mistaken for the sentinel here.
func (r *Region) ReadAll() []hashtable.Pair {
	var out []hashtable.Pair
	for off := 0; off+pairWidth <= len(r.data); off += pairWidth {
		w := (*wirePair)(unsafe.Pointer(&r.data[off]))
		if isSentinel(w.Key[:]) {
			break
		}
		out = append(out, hashtable.Pair{
			Key:   trimZero(w.Key[:]),
			Value: trimZero(w.Value[:]),
		})
	}
	return out
}

func isSentinel(key []byte) bool {
	n := 8
	if n > len(key) {
		n = len(key)
	}
	for i := 0; i < n; i++ {
		if key[i] != 0 {
			return false
		}
	}
	return true
}

func trimZero(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}
