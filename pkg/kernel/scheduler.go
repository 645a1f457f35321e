package kernel

import (
	"github.com/xous-go/kernel/pkg/arch"
	"github.com/xous-go/kernel/pkg/mem"
	"github.com/xous-go/kernel/pkg/xous"
)

// nextRunnable scans mask starting at start, inclusive, wrapping modulo
// MAX_CONTEXT+1, and returns the first set bit.
func nextRunnable(mask uint32, start xous.CtxID) (xous.CtxID, bool) {
	span := int(xous.MaxContext) + 1
	for i := 0; i < span; i++ {
		c := (int(start) + i) % span
		if mask&(1<<uint(c)) != 0 {
			return xous.CtxID(c), true
		}
	}
	return 0, false
}

// Activate performs the context-switch primitive described in C5: either
// picking a new thread within the current process, or switching to a
// different process entirely and updating both the outgoing and incoming
// process's scheduling state.
func Activate(newPID xous.PID, newCtx xous.CtxID, canResume, advance bool) (xous.CtxID, *xous.Error) {
	h := Acquire()
	defer h.Release()
	s := h.s
	s.assertMMUConsistent()
	return s.activate(newPID, newCtx, canResume, advance)
}

func (s *SystemServices) activate(newPID xous.PID, newCtx xous.CtxID, canResume, advance bool) (xous.CtxID, *xous.Error) {
	if newPID == s.currentPID && newPID != 0 {
		proc, err := s.Processes.Get(newPID)
		if err != nil {
			return 0, err
		}
		if proc.State.Tag != StateRunning {
			panic("kernel: activate: current process is not Running")
		}
		mask := proc.State.Mask
		prevCtx := proc.CurrentContext
		target := newCtx
		if target == 0 {
			t, ok := nextRunnable(mask, prevCtx)
			if !ok {
				return 0, xous.NewError("activate", xous.ProcessNotFound, nil)
			}
			target = t
		} else if target == prevCtx {
			if !canResume {
				panic("kernel: activate: re-selecting current thread without can_resume")
			}
		} else if mask&(1<<target) == 0 {
			return 0, xous.NewError("activate", xous.ProcessNotFound, nil)
		}
		// Switching away from prevCtx must not strand it: re-add it to the
		// runnable mask when canResume, matching the cross-process update
		// below, before clearing the bit for the thread being switched to.
		newMask := mask
		if canResume {
			newMask |= 1 << prevCtx
		}
		newMask &^= 1 << target
		proc.PreviousContext = prevCtx
		proc.CurrentContext = target
		proc.State = Running(newMask)
		arch.SetContextNr(target)
		return target, nil
	}

	target, err := s.Processes.Get(newPID)
	if err != nil {
		return 0, err
	}

	var finalCtx xous.CtxID
	switch target.State.Tag {
	case StateSetup:
		finalCtx = xous.InitialContext
		target.Mapping.Activate()
		arch.Activate(target.Bank)
		target.Bank.Init(finalCtx, target.State.Entrypoint, target.State.SP, 0)
		stackSize := target.State.StackSize
		base := mem.AlignDown(target.State.SP - uintptr(stackSize))
		if err := target.Mapping.ReserveRange(base, stackSize+mem.PageSize, xous.MemoryFlagR|xous.MemoryFlagW); err != nil {
			return 0, xous.NewError("activate", xous.OutOfMemory, err)
		}
		target.State = Running(0)
	case StateReady, StateRunning:
		mask := target.State.Mask
		if newCtx == 0 {
			t, ok := nextRunnable(mask, target.CurrentContext)
			if !ok {
				return 0, xous.NewError("activate", xous.ProcessNotFound, nil)
			}
			finalCtx = t
		} else {
			if mask&(1<<newCtx) == 0 {
				return 0, xous.NewError("activate", xous.ProcessNotFound, nil)
			}
			finalCtx = newCtx
		}
		target.Mapping.Activate()
		arch.Activate(target.Bank)
		target.State = Running(mask &^ (1 << finalCtx))
	default:
		return 0, xous.NewError("activate", xous.ProcessNotFound, nil)
	}

	if prevPID := s.currentPID; prevPID != 0 {
		if prev, perr := s.Processes.Get(prevPID); perr == nil {
			prevCtx := prev.CurrentContext
			if prev.State.Tag == StateRunning {
				mask := prev.State.Mask
				switch {
				case mask == 0 && canResume:
					prev.State = Ready(1 << prevCtx)
				case mask == 0 && !canResume:
					prev.State = Sleeping()
				case canResume:
					prev.State = Ready(mask | (1 << prevCtx))
				default:
					prev.State = Ready(mask)
				}
			}
			if advance {
				prev.CurrentContext = xous.CtxID((int(prevCtx) + 1) % (int(xous.MaxContext) + 1))
			}
		}
	}

	target.PreviousContext = target.CurrentContext
	target.CurrentContext = finalCtx
	s.currentPID = newPID
	arch.SetContextNr(finalCtx)
	return finalCtx, nil
}

// MakeCallbackTo builds an IRQ-callback trap frame in pid's IRQ_CONTEXT
// thread, suspending the caller in Ready with its executing thread
// re-added to its mask.
func MakeCallbackTo(pid xous.PID, pc uintptr, irqNo, arg uint64) *xous.Error {
	h := Acquire()
	defer h.Release()
	return h.s.makeCallbackTo(pid, pc, irqNo, arg)
}

func (s *SystemServices) makeCallbackTo(pid xous.PID, pc uintptr, irqNo, arg uint64) *xous.Error {
	caller, err := s.Processes.Get(s.currentPID)
	if err != nil {
		panic("kernel: make_callback_to: no current process")
	}
	if caller.State.Tag != StateRunning {
		panic("kernel: make_callback_to: caller is not Running")
	}
	callerCtx := caller.CurrentContext
	callerSP := arch.CurrentContext().SP

	caller.PreviousContext = callerCtx
	caller.State = Ready(caller.State.Mask | (1 << callerCtx))

	target, err := s.Processes.Get(pid)
	if err != nil {
		return err
	}
	target.Mapping.Activate()
	arch.Activate(target.Bank)
	target.Bank.InvokeTrap(xous.IRQContext, pc, callerSP, xous.ReturnFromISR, irqNo, arg)
	target.PreviousContext = target.CurrentContext
	target.CurrentContext = xous.IRQContext
	target.State = Running(target.State.Mask &^ (1 << xous.IRQContext))
	s.currentPID = pid
	arch.SetContextNr(xous.IRQContext)
	return nil
}

// FinishCallbackAndResume is the inverse of MakeCallbackTo: it retires
// pid's IRQ_CONTEXT thread and resumes ctx within the same process.
func FinishCallbackAndResume(pid xous.PID, ctx xous.CtxID) *xous.Error {
	h := Acquire()
	defer h.Release()
	return h.s.finishCallbackAndResume(pid, ctx)
}

func (s *SystemServices) finishCallbackAndResume(pid xous.PID, ctx xous.CtxID) *xous.Error {
	proc, err := s.Processes.Get(pid)
	if err != nil {
		return err
	}
	if proc.State.Tag != StateRunning {
		panic("kernel: finish_callback_and_resume: process not Running")
	}
	mask := proc.State.Mask
	runnable := mask == 0 || mask&(1<<ctx) != 0
	if !runnable {
		return xous.NewError("finish_callback_and_resume", xous.ProcessNotFound, nil)
	}
	proc.PreviousContext = proc.CurrentContext
	proc.State = Running(mask &^ (1 << ctx))
	proc.CurrentContext = ctx

	if s.currentPID != pid {
		proc.Mapping.Activate()
		arch.Activate(proc.Bank)
		s.currentPID = pid
	}
	arch.SetContextNr(ctx)
	return nil
}

// Deschedule takes pid out of Running without picking a replacement
// process to activate — the hosted dispatcher's event-driven equivalent
// of the "update previous process" half of Activate, used both to park a
// process between syscalls (canResume true) and to put a process to sleep
// when a blocking call finds nothing to return (canResume false).
func Deschedule(pid xous.PID, ctx xous.CtxID, canResume bool) *xous.Error {
	h := Acquire()
	defer h.Release()
	return h.s.deschedule(pid, ctx, canResume)
}

func (s *SystemServices) deschedule(pid xous.PID, ctx xous.CtxID, canResume bool) *xous.Error {
	proc, err := s.Processes.Get(pid)
	if err != nil {
		return err
	}
	if proc.State.Tag != StateRunning {
		panic("kernel: deschedule: previous process was not Running")
	}
	mask := proc.State.Mask
	switch {
	case mask == 0 && canResume:
		proc.State = Ready(1 << ctx)
	case mask == 0 && !canResume:
		proc.State = Sleeping()
	case canResume:
		proc.State = Ready(mask | (1 << ctx))
	default:
		proc.State = Ready(mask)
	}
	if s.currentPID == pid {
		s.currentPID = 0
	}
	return nil
}

// ReadyContext marks ctx runnable in pid's process. It is a bug — not a
// no-op — to call this when ctx's bit is already set.
func ReadyContext(pid xous.PID, ctx xous.CtxID) *xous.Error {
	h := Acquire()
	defer h.Release()
	return h.s.readyContext(pid, ctx)
}

func (s *SystemServices) readyContext(pid xous.PID, ctx xous.CtxID) *xous.Error {
	proc, err := s.Processes.Get(pid)
	if err != nil {
		return err
	}
	bit := uint32(1) << ctx
	switch proc.State.Tag {
	case StateRunning:
		if proc.State.Mask&bit != 0 {
			panic("kernel: ready_context: bit already set")
		}
		proc.State = Running(proc.State.Mask | bit)
	case StateReady:
		if proc.State.Mask&bit != 0 {
			panic("kernel: ready_context: bit already set")
		}
		proc.State = Ready(proc.State.Mask | bit)
	case StateSleeping:
		proc.State = Ready(bit)
	default:
		panic("kernel: ready_context: process not in a readyable state")
	}
	return nil
}

// SetContextResult writes a syscall result into pid's thread bank for
// ctx, temporarily activating its address space and restoring the
// caller's on every exit path.
func SetContextResult(pid xous.PID, ctx xous.CtxID, words [8]uint64) *xous.Error {
	h := Acquire()
	defer h.Release()
	return h.s.setContextResult(pid, ctx, words)
}

func (s *SystemServices) setContextResult(pid xous.PID, ctx xous.CtxID, words [8]uint64) *xous.Error {
	var caller *Process
	if s.currentPID != 0 {
		caller, _ = s.Processes.Get(s.currentPID)
	}
	target, err := s.Processes.Get(pid)
	if err != nil {
		return err
	}
	target.Mapping.Activate()
	target.Bank.SetResult(ctx, words)
	if caller != nil {
		caller.Mapping.Activate()
	}
	return nil
}

// SpawnThread finds a free thread id in the current process and installs
// a fresh trap frame for it.
func SpawnThread(pc, sp uintptr, arg uint64) (xous.CtxID, *xous.Error) {
	h := Acquire()
	defer h.Release()
	return h.s.spawnThread(pc, sp, arg)
}

func (s *SystemServices) spawnThread(pc, sp uintptr, arg uint64) (xous.CtxID, *xous.Error) {
	proc, err := s.Processes.Get(s.currentPID)
	if err != nil {
		return 0, err
	}
	if proc.State.Tag != StateRunning {
		panic("kernel: spawn_thread: caller is not Running")
	}
	mask := proc.State.Mask
	var free xous.CtxID
	found := false
	for c := xous.CtxID(0); c <= xous.MaxContext; c++ {
		if c == xous.IRQContext || c == proc.CurrentContext {
			continue
		}
		if mask&(1<<c) != 0 {
			continue
		}
		if proc.Bank.Context(c).Valid() {
			continue
		}
		free = c
		found = true
		break
	}
	if !found {
		return 0, xous.NewError("spawn_thread", xous.ContextNotAvailable, nil)
	}
	proc.Bank.InvokeTrap(free, pc, sp, xous.ExitThread, arg)
	proc.State = Running(mask | (1 << free))
	return free, nil
}
