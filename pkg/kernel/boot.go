package kernel

import (
	"github.com/xous-go/kernel/pkg/arch"
	"github.com/xous-go/kernel/pkg/mem"
	"github.com/xous-go/kernel/pkg/xous"
)

// InitialProcess is one entry of the bootloader's handoff table: the raw
// satp-shaped activation value encoding a PID, and the entry point/stack
// pointer its first thread should start at.
type InitialProcess struct {
	Satp       uintptr
	Entrypoint uintptr
	SP         uintptr
}

// Boot seeds the process table from the bootloader's descriptor array.
// The first descriptor is always the kernel, which starts life already
// Running; every other descriptor becomes a Setup process parented to
// the kernel.
func Boot(descriptors []InitialProcess) *xous.Error {
	h := Acquire()
	defer h.Release()
	return h.s.boot(descriptors)
}

func (s *SystemServices) boot(descriptors []InitialProcess) *xous.Error {
	if len(descriptors) == 0 {
		return xous.NewError("boot", xous.ProcessNotFound, nil)
	}

	for i, d := range descriptors {
		pid := mem.FromRaw(d.Satp)
		if pid < 1 || int(pid) > xous.MaxProcessCount {
			return xous.NewError("boot", xous.ProcessNotFound, nil)
		}
		as := mem.New(s.Mem, pid)
		bank := arch.NewBank()
		slot := s.Processes.slot(pid)

		if i == 0 {
			as.Activate()
			arch.Activate(bank)
			bank.Init(xous.InitialContext, d.Entrypoint, d.SP, 0)
			*slot = Process{
				Mapping:         as,
				State:           Running(0),
				PPID:            0,
				CurrentContext:  xous.InitialContext,
				PreviousContext: xous.InitialContext,
				Inner:           newProcessInner(),
				Bank:            bank,
			}
			s.currentPID = pid
			arch.SetContextNr(xous.InitialContext)
			continue
		}

		*slot = Process{
			Mapping: as,
			State:   Setup(d.Entrypoint, d.SP, xous.DefaultStackSize),
			PPID:    1,
			Inner:   newProcessInner(),
			Bank:    bank,
		}
	}
	return nil
}
