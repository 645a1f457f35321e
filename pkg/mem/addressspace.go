package mem

import (
	"fmt"
	"sync"

	"github.com/xous-go/kernel/pkg/xous"
)

// Virtual-address region bases. These are arbitrary but page-aligned, and
// exist purely so the hosted simulation can hand out plausible, distinct
// addresses per region without colliding.
const (
	DefaultBase     uintptr = 0x2000_0000
	DefaultMsgBase  uintptr = 0x4000_0000
	DefaultHeapBase uintptr = 0x6000_0000
)

type pageMapping struct {
	frame   FrameID
	flags   xous.MemoryFlags
	mtype   xous.MemoryType
	reserve bool // mapped by ReserveRange (stack guard ranges)
}

// AddressSpace is one process's virtual memory view: the set of virtual
// pages it has mapped, each pointing at a physical frame in the shared
// Allocator. It is keyed by an opaque "satp" activation value the same way
// the real kernel's MemoryMapping is, so FromRaw can recover the owning PID
// without the caller needing to know anything about page-table encoding.
type AddressSpace struct {
	alloc *Allocator

	satp uintptr
	pid  xous.PID

	mu          sync.Mutex
	mappings    map[uintptr]*pageMapping
	defaultLast uintptr
	msgLast     uintptr
	heapLast    uintptr
}

// satpFor encodes a PID into the same bit position the original RISC-V SATP
// value used: pid = (satp >> 22) & 0x1ff.
func satpFor(pid xous.PID) uintptr {
	return uintptr(pid) << 22
}

// pidFromSatp decodes a PID out of a raw satp-shaped value.
func pidFromSatp(satp uintptr) xous.PID {
	return xous.PID((satp >> 22) & 0x1ff)
}

// New creates a fresh, empty address space for pid.
func New(alloc *Allocator, pid xous.PID) *AddressSpace {
	return &AddressSpace{
		alloc:       alloc,
		satp:        satpFor(pid),
		pid:         pid,
		mappings:    make(map[uintptr]*pageMapping),
		defaultLast: DefaultBase,
		msgLast:     DefaultMsgBase,
		heapLast:    DefaultHeapBase,
	}
}

// FromRaw recovers the PID encoded in a raw satp value. Used by the boot
// decoder, which only has the bootloader's raw descriptor table to work
// from.
func FromRaw(satp uintptr) xous.PID {
	return pidFromSatp(satp)
}

// PID implements the "get_pid" side of the address-space facade: the PID
// this address space belongs to, or 0 if it was never assigned one.
func (as *AddressSpace) PID() xous.PID {
	if as == nil {
		return 0
	}
	return as.pid
}

// Satp returns the opaque activation value for this address space.
func (as *AddressSpace) Satp() uintptr {
	if as == nil {
		return 0
	}
	return as.satp
}

var (
	activeMu sync.Mutex
	active   *AddressSpace
)

// Activate makes as the one active address space. Every process-global MMU
// operation below (UnmapPage, MapRange, ...) operates on whichever address
// space is currently active, matching a real MMU that can only see one
// page table at a time.
func (as *AddressSpace) Activate() {
	activeMu.Lock()
	active = as
	activeMu.Unlock()
}

// Current returns the currently active address space, or nil before any
// Activate call.
func Current() *AddressSpace {
	activeMu.Lock()
	defer activeMu.Unlock()
	return active
}

// Reset clears the active address space, used between test cases so one
// test's MMU state can never leak into the next.
func Reset() {
	activeMu.Lock()
	active = nil
	activeMu.Unlock()
}

// UnmapPage removes the mapping at virt from the active address space and
// returns the physical frame it pointed at, so the caller (C6's
// send_memory) can re-map the same frame elsewhere.
func UnmapPage(virt uintptr) (FrameID, error) {
	as := Current()
	if as == nil {
		return 0, fmt.Errorf("mem: unmap_page: no active address space")
	}
	as.mu.Lock()
	defer as.mu.Unlock()
	m, ok := as.mappings[virt]
	if !ok {
		return 0, fmt.Errorf("mem: unmap_page: %#x not mapped in pid %d", virt, as.pid)
	}
	delete(as.mappings, virt)
	return m.frame, nil
}

// MapRange maps len bytes' worth of pages, all backed by physical frame
// phys (Messages-region transfers move exactly one frame's worth of
// content but may span a hint range), into the active address space. A
// virtHint of 0 means "pick an address in mtype's region"; the returned
// base is always page-aligned.
func MapRange(phys FrameID, virtHint uintptr, length int, flags xous.MemoryFlags, mtype xous.MemoryType) (uintptr, error) {
	as := Current()
	if as == nil {
		return 0, fmt.Errorf("mem: map_range: no active address space")
	}
	as.mu.Lock()
	defer as.mu.Unlock()

	base := virtHint
	if base == 0 {
		base = as.nextVirt(mtype, length)
	}
	base = AlignDown(base)

	pages := (length + PageSize - 1) / PageSize
	for i := 0; i < pages; i++ {
		v := base + uintptr(i*PageSize)
		if _, exists := as.mappings[v]; exists {
			return 0, fmt.Errorf("mem: map_range: %#x already mapped in pid %d", v, as.pid)
		}
	}
	for i := 0; i < pages; i++ {
		v := base + uintptr(i*PageSize)
		as.mappings[v] = &pageMapping{frame: phys, flags: flags, mtype: mtype}
	}
	return base, nil
}

// nextVirt hands out the next untouched page(s) in mtype's region. Callers
// hold as.mu.
func (as *AddressSpace) nextVirt(mtype xous.MemoryType, length int) uintptr {
	pages := uintptr((length + PageSize - 1) / PageSize)
	switch mtype {
	case xous.MemoryTypeMessages:
		v := as.msgLast
		as.msgLast += pages * PageSize
		return v
	case xous.MemoryTypeHeap:
		v := as.heapLast
		as.heapLast += pages * PageSize
		return v
	default:
		v := as.defaultLast
		as.defaultLast += pages * PageSize
		return v
	}
}

// HandPageToUser downgrades a page's protection to whatever the mapping's
// flags declare (as opposed to kernel-only access), modeling the MMU's
// "hand page to user" primitive as a genuine mprotect.
func HandPageToUser(virt uintptr) error {
	as := Current()
	if as == nil {
		return fmt.Errorf("mem: hand_page_to_user: no active address space")
	}
	as.mu.Lock()
	m, ok := as.mappings[virt]
	as.mu.Unlock()
	if !ok {
		return fmt.Errorf("mem: hand_page_to_user: %#x not mapped in pid %d", virt, as.pid)
	}
	f, ok := as.alloc.Lookup(m.frame)
	if !ok {
		return fmt.Errorf("mem: hand_page_to_user: frame %d freed", m.frame)
	}
	return f.protect(m.flags)
}

// ReserveRange maps a stack's guard-padded range into this address space:
// every page gets a fresh zero-filled frame carrying flags and is marked as
// a reservation. Used when a Setup process's stack is installed on first
// activation.
func (as *AddressSpace) ReserveRange(base uintptr, length int, flags xous.MemoryFlags) error {
	as.mu.Lock()
	defer as.mu.Unlock()
	pages := (length + PageSize - 1) / PageSize
	base = AlignDown(base)
	for i := 0; i < pages; i++ {
		v := base + uintptr(i*PageSize)
		f, err := as.alloc.AllocZeroed()
		if err != nil {
			return err
		}
		if err := f.protect(flags); err != nil {
			return err
		}
		as.mappings[v] = &pageMapping{frame: f.id, flags: flags, mtype: xous.MemoryTypeDefault, reserve: true}
	}
	return nil
}

// MapZeroedPage allocates a fresh zero-filled frame and maps exactly one
// page of it into the active address space's default region, returning the
// virtual address. Used by create_server to back a server's message ring.
func MapZeroedPage() (uintptr, error) {
	as := Current()
	if as == nil {
		return 0, fmt.Errorf("mem: map_zeroed_page: no active address space")
	}
	f, err := as.alloc.AllocZeroed()
	if err != nil {
		return 0, err
	}
	if err := f.protect(xous.MemoryFlagR | xous.MemoryFlagW); err != nil {
		return 0, err
	}
	as.mu.Lock()
	v := as.nextVirt(xous.MemoryTypeDefault, PageSize)
	as.mappings[v] = &pageMapping{frame: f.id, flags: xous.MemoryFlagR | xous.MemoryFlagW, mtype: xous.MemoryTypeDefault}
	as.mu.Unlock()
	return v, nil
}

// UnmapAt removes a single page's mapping from the active address space
// without needing the caller to know its physical frame, and frees the
// frame. Used to undo a create_server allocation if server init fails.
func UnmapAt(virt uintptr) error {
	as := Current()
	if as == nil {
		return fmt.Errorf("mem: unmap: no active address space")
	}
	as.mu.Lock()
	m, ok := as.mappings[virt]
	if ok {
		delete(as.mappings, virt)
	}
	as.mu.Unlock()
	if !ok {
		return fmt.Errorf("mem: unmap: %#x not mapped in pid %d", virt, as.pid)
	}
	return as.alloc.Free(m.frame)
}

// Release frees every physical frame still mapped in this address space.
// Used when a process terminates; best-effort, returns the first error
// encountered but still attempts every frame.
func (as *AddressSpace) Release() error {
	as.mu.Lock()
	frames := make(map[FrameID]struct{}, len(as.mappings))
	for _, m := range as.mappings {
		frames[m.frame] = struct{}{}
	}
	as.mappings = make(map[uintptr]*pageMapping)
	as.mu.Unlock()

	var firstErr error
	for f := range frames {
		if err := as.alloc.Free(f); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Deactivate clears the package-global active address space if it is
// currently as, so a terminated process's mapping is never mistaken for
// still being live.
func Deactivate(as *AddressSpace) {
	activeMu.Lock()
	if active == as {
		active = nil
	}
	activeMu.Unlock()
}

// Bytes returns the backing storage for the page mapped at virt, letting a
// caller treat a "page" as an addressable byte slice the way real mapped
// memory would be.
func (as *AddressSpace) Bytes(virt uintptr) ([]byte, error) {
	as.mu.Lock()
	m, ok := as.mappings[AlignDown(virt)]
	as.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("mem: %#x not mapped in pid %d", virt, as.pid)
	}
	f, ok := as.alloc.Lookup(m.frame)
	if !ok {
		return nil, fmt.Errorf("mem: frame %d freed", m.frame)
	}
	return f.bytes, nil
}
