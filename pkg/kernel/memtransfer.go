package kernel

import (
	"github.com/xous-go/kernel/pkg/mem"
	"github.com/xous-go/kernel/pkg/xous"
)

// SendMemory moves the page range [src, src+length) out of the calling
// process and into dest_pid's Messages region, "breaking" the source
// mapping before "making" the destination one so the source can never
// observe the range after this returns, success or failure. borrow is
// accepted for wire compatibility with the original three-way
// owned/borrowed/reply transfer distinction; the hosted kernel always
// performs an owning move.
func SendMemory(src uintptr, destPID xous.PID, length int, writable, borrow bool) (uintptr, *xous.Error) {
	h := Acquire()
	defer h.Release()
	return h.s.sendMemory(src, destPID, length, writable, borrow)
}

func (s *SystemServices) sendMemory(src uintptr, destPID xous.PID, length int, writable, _ bool) (uintptr, *xous.Error) {
	caller, err := s.Processes.Get(s.currentPID)
	if err != nil {
		return 0, err
	}

	base := mem.AlignDown(src)
	pages := (length + mem.PageSize - 1) / mem.PageSize

	var anchor mem.FrameID
	var firstErr error
	for i := 0; i < pages; i++ {
		frame, uerr := mem.UnmapPage(base + uintptr(i*mem.PageSize))
		if uerr != nil {
			if firstErr == nil {
				firstErr = uerr
			}
			continue
		}
		if i == 0 {
			anchor = frame
		}
	}
	if firstErr != nil {
		return 0, xous.NewError("send_memory", xous.ProcessNotFound, firstErr)
	}

	dest, derr := s.Processes.Get(destPID)
	if derr != nil {
		caller.Mapping.Activate()
		return 0, derr
	}

	dest.Mapping.Activate()

	flags := xous.MemoryFlagR
	if writable {
		flags |= xous.MemoryFlagW
	}
	destVirt, merr := mem.MapRange(anchor, 0, length, flags, xous.MemoryTypeMessages)
	if merr != nil {
		caller.Mapping.Activate()
		return 0, xous.NewError("send_memory", xous.OutOfMemory, merr)
	}
	for i := 0; i < pages; i++ {
		if herr := mem.HandPageToUser(destVirt + uintptr(i*mem.PageSize)); herr != nil {
			caller.Mapping.Activate()
			return 0, xous.NewError("send_memory", xous.OutOfMemory, herr)
		}
	}

	caller.Mapping.Activate()
	return destVirt, nil
}
