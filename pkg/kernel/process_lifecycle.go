package kernel

import (
	"github.com/xous-go/kernel/pkg/arch"
	"github.com/xous-go/kernel/pkg/mem"
	"github.com/xous-go/kernel/pkg/xous"
)

// HostedThreadID is the thread id the hosted transport adapter assigns,
// by convention, to a freshly-connected client's main thread (C8). It is
// distinct from InitialContext, which only boot-descriptor processes use;
// find_free_context_nr never returns it automatically, but the dispatcher
// is allowed to assign it explicitly here.
const HostedThreadID xous.CtxID = 1

// AllocateProcess claims the first free process-table slot for a newly
// connected hosted client, giving it a fresh address space and a single
// runnable thread at HostedThreadID — the client process is, from the
// kernel's point of view, already executing the moment its socket opens.
func AllocateProcess(ppid xous.PID) (xous.PID, *xous.Error) {
	h := Acquire()
	defer h.Release()
	return h.s.allocateProcess(ppid)
}

func (s *SystemServices) allocateProcess(ppid xous.PID) (xous.PID, *xous.Error) {
	for i := 0; i < xous.MaxProcessCount; i++ {
		slot := &s.Processes.slots[i]
		if slot.Mapping != nil {
			continue
		}
		pid := xous.PID(i + 1)
		*slot = Process{
			Mapping:         mem.New(s.Mem, pid),
			State:           Ready(1 << HostedThreadID),
			PPID:            ppid,
			CurrentContext:  HostedThreadID,
			PreviousContext: HostedThreadID,
			Inner:           newProcessInner(),
			Bank:            arch.NewBank(),
		}
		return pid, nil
	}
	return 0, xous.NewError("allocate_process", xous.OutOfMemory, nil)
}

// TerminateProcess frees pid's process-table slot and every physical
// frame still mapped in its address space. Per the dispatcher-owns-
// teardown decision, this is the single place a PID's table presence
// ends; servers it created are left in the server table until a
// separate ReapServersOf call reclaims them, matching the terminate
// scenario's "server slot remains" behavior.
func TerminateProcess(pid xous.PID) *xous.Error {
	h := Acquire()
	defer h.Release()
	return h.s.terminateProcess(pid)
}

func (s *SystemServices) terminateProcess(pid xous.PID) *xous.Error {
	proc, err := s.Processes.Get(pid)
	if err != nil {
		return err
	}

	if s.currentPID == pid {
		s.currentPID = 0
	}
	mem.Deactivate(proc.Mapping)
	if rerr := proc.Mapping.Release(); rerr != nil {
		s.log.WithError(rerr).WithField("pid", pid).Warn("terminate_process: frame release incomplete")
	}

	idx := int(pid) - 1
	s.Processes.slots[idx] = Process{}
	return nil
}
