package kernel

import (
	"github.com/xous-go/kernel/pkg/arch"
	"github.com/xous-go/kernel/pkg/mem"
	"github.com/xous-go/kernel/pkg/xous"
)

// StateTag discriminates the variants of ProcessState.
type StateTag int

const (
	// StateFree marks an unallocated process slot.
	StateFree StateTag = iota
	// StateSetup marks a process that has never run and needs its initial
	// thread installed.
	StateSetup
	// StateReady marks a process with no thread currently executing but at
	// least one runnable thread recorded in Mask.
	StateReady
	// StateRunning marks the one process with a thread currently executing;
	// Mask covers its *other* runnable threads.
	StateRunning
	// StateSleeping marks a process with no runnable threads at all.
	StateSleeping
)

func (t StateTag) String() string {
	switch t {
	case StateFree:
		return "Free"
	case StateSetup:
		return "Setup"
	case StateReady:
		return "Ready"
	case StateRunning:
		return "Running"
	case StateSleeping:
		return "Sleeping"
	default:
		return "Unknown"
	}
}

// ProcessState is the tagged variant over a process's scheduling state. Go
// has no sum type, so the inapplicable fields for a given Tag are simply
// left zero; ProcessState itself enforces nothing, all invariants live in
// the scheduler operations that construct and consume it.
type ProcessState struct {
	Tag StateTag
	// Mask is the runnable-thread bitmask for StateReady/StateRunning.
	Mask uint32
	// Entrypoint, SP, and StackSize are only meaningful for StateSetup.
	Entrypoint uintptr
	SP         uintptr
	StackSize  int
}

// Free returns the Free state.
func Free() ProcessState { return ProcessState{Tag: StateFree} }

// Setup returns the Setup state for a never-run process.
func Setup(entrypoint, sp uintptr, stackSize int) ProcessState {
	return ProcessState{Tag: StateSetup, Entrypoint: entrypoint, SP: sp, StackSize: stackSize}
}

// Ready returns the Ready state with the given runnable-thread mask.
func Ready(mask uint32) ProcessState { return ProcessState{Tag: StateReady, Mask: mask} }

// Running returns the Running state with the given other-runnable mask.
func Running(mask uint32) ProcessState { return ProcessState{Tag: StateRunning, Mask: mask} }

// Sleeping returns the Sleeping state.
func Sleeping() ProcessState { return ProcessState{Tag: StateSleeping} }

// ProcessInner is the per-process page only addressable while the process
// is the active one: virtual-address cursors for the default, message, and
// heap regions, plus the connection map translating this process's CIDs to
// server-table indices.
type ProcessInner struct {
	MemDefaultBase uintptr
	MemDefaultLast uintptr
	MemMessageBase uintptr
	MemMessageLast uintptr
	MemHeapBase    uintptr
	MemHeapSize    int
	MemHeapMax     int

	// ConnectionMap[i] == 0 means slot i is free; otherwise it is a
	// 1-based index into the server table.
	ConnectionMap [xous.ConnectionMapLen]uint8
}

func newProcessInner() ProcessInner {
	return ProcessInner{
		MemDefaultBase: mem.DefaultBase,
		MemDefaultLast: mem.DefaultBase,
		MemMessageBase: mem.DefaultMsgBase,
		MemMessageLast: mem.DefaultMsgBase,
		MemHeapBase:    mem.DefaultHeapBase,
		MemHeapMax:     xous.DefaultHeapMax,
	}
}

// Process is one process-table slot: its address space, scheduling state,
// parent, current/previous thread ids, and inner page.
type Process struct {
	Mapping         *mem.AddressSpace
	State           ProcessState
	PPID            xous.PID
	CurrentContext  xous.CtxID
	PreviousContext xous.CtxID
	Inner           ProcessInner
	Bank            *arch.Bank
}

// Runnable reports whether the process has a thread waiting to be
// scheduled without itself being the currently-running one.
func (p *Process) Runnable() bool {
	return p.State.Tag == StateSetup || p.State.Tag == StateReady
}

// ProcessTable is the fixed 32-slot process table (C1). Index 0 holds PID
// 1, matching the 1-based PID / 0-based slot offset used throughout.
type ProcessTable struct {
	slots [xous.MaxProcessCount]Process
}

// Get returns the process for pid, validating that the slot is actually
// allocated to that PID (invariant 3: process[p-1].address_space.pid() ==
// p iff the slot is allocated).
func (t *ProcessTable) Get(pid xous.PID) (*Process, *xous.Error) {
	if pid == 0 {
		return nil, xous.NewError("get_process", xous.ProcessNotFound, nil)
	}
	idx := int(pid) - 1
	if idx < 0 || idx >= xous.MaxProcessCount {
		return nil, xous.NewError("get_process", xous.ProcessNotFound, nil)
	}
	p := &t.slots[idx]
	if p.Mapping == nil || p.Mapping.PID() != pid {
		return nil, xous.NewError("get_process", xous.ProcessNotFound, nil)
	}
	return p, nil
}

// slot returns the raw slot for pid without validating allocation, used
// only by Boot when installing the descriptor table's processes.
func (t *ProcessTable) slot(pid xous.PID) *Process {
	return &t.slots[int(pid)-1]
}
