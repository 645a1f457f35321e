// Package arch is the per-thread register bank the kernel core treats as an
// external collaborator: it stores the saved register state for every
// context (thread) of the currently-active process and knows how to build
// the trap frames the scheduler needs for IRQ callbacks and thread spawns.
// Generalized from a single concrete architecture's register file (the
// teacher's arch.Context64) into one that is deliberately small and
// host-agnostic, since the hosted variant never actually executes the
// frames it builds.
package arch

import "github.com/xous-go/kernel/pkg/xous"

// Context is one thread's saved register state. PC and SP are the two
// fields the scheduler and spawn logic manipulate directly; Regs is a small
// general-purpose register file present for completeness and to give
// SetResult somewhere realistic to write a syscall's return value, mirroring
// how a real trap frame carries a0 or a similar return-value register.
type Context struct {
	valid bool
	PC    uintptr
	SP    uintptr
	Regs  [8]uint64
	// ReturnTo is the fixed address the frame is arranged to return to
	// (RETURN_FROM_ISR for IRQ callbacks, EXIT_THREAD for spawned threads).
	// Executing it must fault; that fault is handled outside this package.
	ReturnTo uintptr
}

// Valid reports whether the context has been initialized since the last
// Invalidate.
func (c *Context) Valid() bool { return c.valid }

// Invalidate marks the context as not holding a live thread.
func (c *Context) Invalidate() { *c = Context{} }

// Bank holds one Context per thread id for a single process. Only the
// currently-active process's bank is reachable through CurrentBank(); this
// mirrors "per-thread register state including program counter and stack
// pointer ... only addressable when the process is active".
type Bank struct {
	contexts [xous.MaxContext + 1]Context
}

// NewBank returns an empty register bank.
func NewBank() *Bank {
	return &Bank{}
}

// Context returns the mutable Context for ctx, allocating none — all
// MaxContext+1 slots exist up front, exactly as a fixed per-process trap
// frame table would.
func (b *Bank) Context(ctx xous.CtxID) *Context {
	return &b.contexts[ctx]
}

// Init installs a fresh frame at ctx with the given entry PC and stack
// pointer, used for a process's first thread (at boot and on Setup ->
// Running); spawn_thread builds its frame with InvokeTrap instead.
func (b *Bank) Init(ctx xous.CtxID, pc, sp uintptr, returnTo uintptr) {
	b.contexts[ctx] = Context{valid: true, PC: pc, SP: sp, ReturnTo: returnTo}
}

// InvokeTrap builds a callback frame at ctx that will, on a real machine,
// begin executing at pc with stack sp and arguments (irqNo, arg) loaded
// into the first two argument registers, returning to returnTo when the
// handler is done. This is the trap-frame construction make_callback_to and
// spawn_thread both need.
func (b *Bank) InvokeTrap(ctx xous.CtxID, pc, sp uintptr, returnTo uintptr, args ...uint64) {
	c := Context{valid: true, PC: pc, SP: sp, ReturnTo: returnTo}
	for i, a := range args {
		if i >= len(c.Regs) {
			break
		}
		c.Regs[i] = a
	}
	b.contexts[ctx] = c
}

// SetResult writes a syscall result's wire words into ctx's register file,
// the hosted-simulation equivalent of writing a return value into a trap
// frame's result register(s) before resuming the thread.
func (b *Bank) SetResult(ctx xous.CtxID, words [8]uint64) {
	c := &b.contexts[ctx]
	copy(c.Regs[:], words[:len(c.Regs)])
}

var (
	currentBank *Bank
	currentCtx  xous.CtxID
)

// Activate makes b the register bank the current-context operations below
// act on, mirroring ProcessHandle::get() always resolving to whichever
// process is active.
func Activate(b *Bank) {
	currentBank = b
}

// CurrentBank returns the active process's register bank.
func CurrentBank() *Bank { return currentBank }

// SetContextNr records which thread id is "current" within the active
// bank, independent of the scheduler's own bookkeeping of the same fact in
// Process.current_context — this is the thread-bank's copy, used so
// CurrentContext() can find the right frame without a PID/ctx pair being
// threaded through every call.
func SetContextNr(ctx xous.CtxID) { currentCtx = ctx }

// CurrentContext returns the frame for the active bank's current thread.
func CurrentContext() *Context {
	if currentBank == nil {
		return nil
	}
	return currentBank.Context(currentCtx)
}

// Reset clears the active bank and context id, used between test cases.
func Reset() {
	currentBank = nil
	currentCtx = 0
}
