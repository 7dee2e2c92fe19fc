package mailbox

import (
	"fmt"
	"os"
	"path/filepath"
	"unsafe"

	"golang.org/x/sys/unix"
)

// shmDir is where POSIX shared memory objects live on Linux: shm_open
// names resolve to a file under this path, so mapping the file directly
// avoids a cgo dependency on libc's shm_open.
const shmDir = "/dev/shm"

// shmRegion owns an mmap'd Layout and the file descriptor backing it.
type shmRegion struct {
	data []byte
	path string
	// unlink removes the backing /dev/shm entry on Close; only the
	// creating (server) side does this — the server owns destroy,
	// clients only detach.
	unlink bool
}

func shmPath(name string) string {
	return filepath.Join(shmDir, filepath.Base(name))
}

// pageRound rounds n up to a whole page, since the mapping is backed by
// a regular file and the kernel only maps in whole-page units anyway.
func pageRound(n int) int {
	page := unix.Getpagesize()
	return (n + page - 1) / page * page
}

// createShmRegion creates (or truncates) the backing file, sizes it to
// unsafe.Sizeof(Layout{}) rounded up to a whole page, and maps it
// read-write/shared.
func createShmRegion(name string) (*shmRegion, error) {
	path := shmPath(name)
	size := pageRound(int(unsafe.Sizeof(Layout{})))

	// 0666: any client process, regardless of uid, must be able to open
	// the region read/write once the server has created it.
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0666)
	if err != nil {
		return nil, fmt.Errorf("mailbox: create shm region %s: %w", path, err)
	}
	defer f.Close()
	if err := f.Chmod(0666); err != nil {
		return nil, fmt.Errorf("mailbox: chmod shm region %s: %w", path, err)
	}

	if err := f.Truncate(int64(size)); err != nil {
		return nil, fmt.Errorf("mailbox: truncate shm region %s: %w", path, err)
	}

	data, err := unix.Mmap(int(f.Fd()), 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("mailbox: mmap shm region %s: %w", path, err)
	}

	return &shmRegion{data: data, path: path, unlink: true}, nil
}

// openShmRegion attaches to a region a server has already created.
func openShmRegion(name string) (*shmRegion, error) {
	path := shmPath(name)
	size := pageRound(int(unsafe.Sizeof(Layout{})))

	f, err := os.OpenFile(path, os.O_RDWR, 0600)
	if err != nil {
		return nil, fmt.Errorf("mailbox: open shm region %s: %w", path, err)
	}
	defer f.Close()

	data, err := unix.Mmap(int(f.Fd()), 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("mailbox: mmap shm region %s: %w", path, err)
	}

	return &shmRegion{data: data, path: path, unlink: false}, nil
}

func (r *shmRegion) layout() *Layout {
	return (*Layout)(unsafe.Pointer(&r.data[0]))
}

func (r *shmRegion) close() error {
	if err := unix.Munmap(r.data); err != nil {
		return fmt.Errorf("mailbox: munmap %s: %w", r.path, err)
	}
	if r.unlink {
		if err := os.Remove(r.path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("mailbox: unlink %s: %w", r.path, err)
		}
	}
	return nil
}

// CreateShared creates the shared memory region backing a new mailbox
// and initializes its layout. Only the server calls this; it owns
// destroying the region (see Close).
func CreateShared(name string) (*Mailbox, error) {
	region, err := createShmRegion(name)
	if err != nil {
		return nil, err
	}

	layout := region.layout()
	layout.initInPlace()

	return wrap(layout, region.close), nil
}

// OpenShared attaches to a mailbox a server created with CreateShared.
// The client's Close only unmaps; it never unlinks the backing region.
func OpenShared(name string) (*Mailbox, error) {
	region, err := openShmRegion(name)
	if err != nil {
		return nil, err
	}

	return wrap(region.layout(), region.close), nil
}
