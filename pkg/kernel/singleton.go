// Package kernel is the scheduling and IPC core: the process and server
// tables, the context-switch state machine, the memory-transfer operator,
// and the IPC router, all gated behind a single non-reentrant handle. It
// treats pkg/mem and pkg/arch as external collaborators it drives but does
// not own the policy of.
package kernel

import (
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/xous-go/kernel/pkg/arch"
	"github.com/xous-go/kernel/pkg/mem"
	"github.com/xous-go/kernel/pkg/xous"
)

// SystemServices is the one global state blob: the process table, the
// server table, the physical frame allocator, and a record of which PID
// is presently running. There is exactly one instance, reachable only
// through a Handle.
type SystemServices struct {
	log *logrus.Entry

	Mem       *mem.Allocator
	Processes ProcessTable
	Servers   ServerTable

	currentPID xous.PID
}

func newSystemServices() *SystemServices {
	return &SystemServices{
		log: logrus.WithField("component", "kernel"),
		Mem: mem.NewAllocator(),
	}
}

var (
	theKernel = newSystemServices()
	held      atomic.Bool
)

// Handle is the scoped, non-reentrant access token for SystemServices.
// Every public operation in this package acquires one, uses it, and
// releases it via defer before returning — mirroring a destructor-released
// RAII guard in a language that has them. Acquiring a second handle while
// the first is outstanding is a fatal bug: the kernel is single-threaded
// and a handle held across a call boundary means something reentered the
// core, which should never happen.
type Handle struct {
	s *SystemServices
}

// Acquire claims the singleton handle. Panics if one is already held.
func Acquire() *Handle {
	if !held.CompareAndSwap(false, true) {
		panic("kernel: SystemServicesHandle acquired while already held")
	}
	return &Handle{s: theKernel}
}

// Release gives up the handle, making it acquirable again.
func (h *Handle) Release() {
	held.Store(false)
}

// CurrentPID returns the recorded current PID, asserting that the MMU's
// active mapping agrees with it — a mismatch is a fatal kernel bug, never
// a recoverable error.
func CurrentPID() xous.PID {
	h := Acquire()
	defer h.Release()
	h.s.assertMMUConsistent()
	return h.s.currentPID
}

// assertMMUConsistent panics if the active address space disagrees with
// the process table's idea of who is running. CurrentPID and Activate call
// it; the other public operations read currentPID without this check.
func (s *SystemServices) assertMMUConsistent() {
	if s.currentPID == 0 {
		return
	}
	active := mem.Current()
	if active == nil || active.PID() != s.currentPID {
		panic("kernel: active address space does not match current_pid")
	}
}
