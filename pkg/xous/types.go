package xous

// PID is a 1-based process identifier. PID 0 never refers to a real
// process; PID 1 is always the kernel.
type PID uint8

// CID is a 1-based connection identifier, valid only relative to the
// process whose connection map it indexes.
type CID uint8

// CtxID identifies one thread (context) within a process.
type CtxID uint8

// SID is the four-word server identifier (pid, name, pid, name) the
// original kernel uses; duplicating pid/name guards against accidental
// collisions with a hand-crafted SID.
type SID [4]uint32

// MakeSID builds the canonical (pid, name, pid, name) server identifier.
func MakeSID(pid PID, name uint32) SID {
	return SID{uint32(pid), name, uint32(pid), name}
}

const (
	// MaxProcessCount is the fixed size of the process table.
	MaxProcessCount = 32
	// MaxServerCount is the fixed size of the server table.
	MaxServerCount = 32
	// ConnectionMapLen is the number of connection-map slots per process.
	ConnectionMapLen = 32
	// PageSize is the MMU's page granularity.
	PageSize = 4096
	// DefaultHeapMax bounds a process's heap absent other configuration.
	DefaultHeapMax = 524288
	// DefaultStackSize is reserved for a process's initial thread absent
	// other configuration.
	DefaultStackSize = 131072

	// IRQContext is the thread id reserved for interrupt callbacks. It is
	// never returned by a free-context scan.
	IRQContext CtxID = 1
	// InitialContext is the thread id a process's first thread runs on.
	InitialContext CtxID = 2
	// MaxContext is the highest valid thread id; contexts run 0..MaxContext.
	MaxContext CtxID = 31

	// ReturnFromISR is the fixed address an IRQ callback's trap frame is
	// arranged to "return" to; executing it must fault.
	ReturnFromISR uintptr = 0xff80_2000
	// ExitThread is the fixed address a spawned thread's trap frame
	// returns to on completion; executing it must fault.
	ExitThread uintptr = 0xff80_3000
)

// MemoryFlags are the protection bits the MMU facade understands.
type MemoryFlags uint8

const (
	MemoryFlagR MemoryFlags = 1 << iota
	MemoryFlagW
	MemoryFlagX
)

// MemoryType selects which virtual-address region a mapping belongs to.
type MemoryType int

const (
	MemoryTypeDefault MemoryType = iota
	MemoryTypeMessages
	MemoryTypeHeap
)

// MessageEnvelope is an IPC message tagged with its sender and ready to be
// queued into a server's mailbox. Body carries up to four scalar words,
// which is enough either for a scalar message or for the destination
// virtual address produced by a prior send_memory call.
type MessageEnvelope struct {
	SenderPID PID
	SenderCtx CtxID
	Body      [4]uint64
}
