// Package mem is the address-space driver the kernel core treats as an
// external collaborator: it owns physical page frames, the per-process
// virtual mappings built on top of them, and which address space is
// currently active. It has no scheduling policy of its own — every
// decision about when to map, unmap, or activate something is made by
// pkg/kernel and merely executed here.
package mem

import (
	"fmt"
	"sync"
	"sync/atomic"

	"golang.org/x/sys/unix"

	"github.com/xous-go/kernel/pkg/xous"
)

// FrameID identifies one physical page. It is opaque to everything above
// this package, exactly as a real physical address would be.
type FrameID uint64

// Frame is one PAGE_SIZE-aligned physical page, backed by a genuine
// anonymous mmap region so that mapping, unmapping, and protection changes
// are real operations on real memory rather than bookkeeping over an
// integer.
type Frame struct {
	id    FrameID
	bytes []byte
}

// ID returns the frame's opaque identifier.
func (f *Frame) ID() FrameID { return f.id }

var nextFrameID atomic.Uint64

// Allocator hands out and reclaims physical frames. There is exactly one
// instance for the whole hosted kernel, mirroring the single physical
// memory pool a real MMU driver manages.
type Allocator struct {
	mu     sync.Mutex
	frames map[FrameID]*Frame
}

// NewAllocator constructs an empty frame allocator.
func NewAllocator() *Allocator {
	return &Allocator{frames: make(map[FrameID]*Frame)}
}

// AllocZeroed reserves a fresh, zero-filled physical page.
func (a *Allocator) AllocZeroed() (*Frame, error) {
	b, err := unix.Mmap(-1, 0, PageSize, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return nil, fmt.Errorf("mem: alloc frame: %w", err)
	}
	f := &Frame{id: FrameID(nextFrameID.Add(1)), bytes: b}
	a.mu.Lock()
	a.frames[f.id] = f
	a.mu.Unlock()
	return f, nil
}

// Lookup returns the frame for an id, or false if it has been freed.
func (a *Allocator) Lookup(id FrameID) (*Frame, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	f, ok := a.frames[id]
	return f, ok
}

// Free releases a frame's backing memory. Callers must ensure the frame is
// unmapped from every address space first.
func (a *Allocator) Free(id FrameID) error {
	a.mu.Lock()
	f, ok := a.frames[id]
	if ok {
		delete(a.frames, id)
	}
	a.mu.Unlock()
	if !ok {
		return nil
	}
	return unix.Munmap(f.bytes)
}

// protect applies MemoryFlags as real mmap protection bits on the frame's
// backing pages, so "hand page to user" and R/W transitions are genuine
// mprotect(2) calls rather than no-ops.
func (f *Frame) protect(flags xous.MemoryFlags) error {
	prot := unix.PROT_NONE
	if flags&xous.MemoryFlagR != 0 {
		prot |= unix.PROT_READ
	}
	if flags&xous.MemoryFlagW != 0 {
		prot |= unix.PROT_WRITE
	}
	if flags&xous.MemoryFlagX != 0 {
		prot |= unix.PROT_EXEC
	}
	return unix.Mprotect(f.bytes, prot)
}

// PageSize is the MMU's page granularity, matching xous.PageSize.
const PageSize = xous.PageSize

// AlignUp rounds n up to the next page boundary.
func AlignUp(n uintptr) uintptr {
	return (n + PageSize - 1) &^ (PageSize - 1)
}

// AlignDown rounds n down to the previous page boundary.
func AlignDown(n uintptr) uintptr {
	return n &^ (PageSize - 1)
}
