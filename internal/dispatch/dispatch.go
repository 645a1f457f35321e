// Package dispatch is the syscall handler and the single-threaded
// dispatch loop described in the architecture overview: for every event
// off the transport adapter's channel it switches the scheduler to the
// sending PID, invokes the appropriate core operation, and either routes
// a response back or lets the call's own suspension stand.
package dispatch

import (
	"github.com/sirupsen/logrus"

	"github.com/xous-go/kernel/internal/transport"
	"github.com/xous-go/kernel/pkg/kernel"
	"github.com/xous-go/kernel/pkg/xous"
)

// Loop drains a transport adapter's event channel and dispatches every
// syscall until the channel closes, which happens after a Shutdown has
// stopped the adapter.
type Loop struct {
	log     *logrus.Entry
	adapter *transport.Adapter
}

// New constructs a dispatch loop bound to adapter.
func New(log *logrus.Entry, adapter *transport.Adapter) *Loop {
	return &Loop{log: log, adapter: adapter}
}

// Run blocks, processing events until the adapter's channel is closed
// (only happens once Shutdown has stopped the listener and every worker
// has exited).
func (l *Loop) Run() {
	for ev := range l.adapter.Events() {
		l.dispatch(ev.PID, ev.Call)
	}
}

func (l *Loop) dispatch(pid xous.PID, call xous.SysCall) {
	entry := l.log.WithFields(logrus.Fields{"pid": pid, "op": call.Op})

	if call.Op == xous.OpTerminateProcess {
		if err := kernel.TerminateProcess(pid); err != nil {
			entry.WithError(err).Warn("terminate_process")
		}
		l.adapter.Close(pid)
		return
	}

	if _, err := kernel.Activate(pid, kernel.HostedThreadID, true, false); err != nil {
		entry.WithError(err).Error("activate failed for incoming syscall; terminating")
		_ = kernel.TerminateProcess(pid)
		l.adapter.Close(pid)
		return
	}

	result := l.handleSyscall(pid, call)
	entry.WithField("result", result.Tag).Trace("syscall handled")

	isShutdown := call.Op == xous.OpShutdown
	if result.Tag != xous.ResultBlockedProcess && !isShutdown {
		if err := l.adapter.Respond(pid, result); err != nil {
			entry.WithError(err).Warn("response write failed; terminating")
			_ = kernel.TerminateProcess(pid)
			l.adapter.Close(pid)
			return
		}
		if err := kernel.Deschedule(pid, kernel.HostedThreadID, true); err != nil {
			entry.WithError(err).Error("deschedule failed")
		}
	}

	if isShutdown {
		_ = l.adapter.Respond(pid, xous.OkResult())
		l.adapter.Shutdown()
	}
}

// handleSyscall is the "external syscall handler" the architecture
// overview refers to: it has no scheduling authority of its own beyond
// what pkg/kernel exposes, but it decides which core operations a given
// opcode maps to and how to shape the result.
func (l *Loop) handleSyscall(pid xous.PID, call xous.SysCall) xous.Result {
	switch call.Op {
	case xous.OpCreateServer:
		sid, err := kernel.CreateServer(uint32(call.Args[0]))
		if err != nil {
			return xous.ErrResult(err)
		}
		return xous.Result{Tag: xous.ResultServerID, SID: sid}

	case xous.OpConnectToServer:
		sid := xous.SID{
			uint32(call.Args[0]), uint32(call.Args[1]),
			uint32(call.Args[2]), uint32(call.Args[3]),
		}
		cid, err := kernel.ConnectToServer(sid)
		if err != nil {
			return xous.ErrResult(err)
		}
		return xous.Result{Tag: xous.ResultConnectionID, CID: cid}

	case xous.OpSendMessage:
		cid := xous.CID(call.Args[0])
		sidx, err := kernel.SidxFromCID(pid, cid)
		if err != nil {
			return xous.ErrResult(err)
		}
		var body [4]uint64
		copy(body[:], call.Args[1:5])
		if err := kernel.QueueServerMessage(sidx, kernel.HostedThreadID, body); err != nil {
			return xous.ErrResult(err)
		}
		return xous.OkResult()

	case xous.OpReceiveMessage:
		cid := xous.CID(call.Args[0])
		sidx, err := kernel.SidxFromCID(pid, cid)
		if err != nil {
			return xous.ErrResult(err)
		}
		env, ok, err := kernel.DequeueServerMessage(sidx)
		if err != nil {
			return xous.ErrResult(err)
		}
		if !ok {
			if derr := kernel.Deschedule(pid, kernel.HostedThreadID, false); derr != nil {
				l.log.WithError(derr).WithField("pid", pid).Error("deschedule on block failed")
			}
			return xous.BlockedResult()
		}
		return xous.Result{Tag: xous.ResultMessageEnvelope, Env: env}

	case xous.OpSendMemory:
		src := uintptr(call.Args[0])
		destPID := xous.PID(call.Args[1])
		length := int(call.Args[2])
		writable := call.Args[3] != 0
		borrow := call.Args[4] != 0
		destVirt, err := kernel.SendMemory(src, destPID, length, writable, borrow)
		if err != nil {
			return xous.ErrResult(err)
		}
		return xous.Result{Tag: xous.ResultMemoryAddress, Addr: uint64(destVirt)}

	case xous.OpReadyContext:
		target := xous.PID(call.Args[0])
		ctx := xous.CtxID(call.Args[1])
		if err := kernel.ReadyContext(target, ctx); err != nil {
			return xous.ErrResult(err)
		}
		return xous.OkResult()

	case xous.OpSpawnThread:
		pc := uintptr(call.Args[0])
		sp := uintptr(call.Args[1])
		arg := call.Args[2]
		ctx, err := kernel.SpawnThread(pc, sp, arg)
		if err != nil {
			return xous.ErrResult(err)
		}
		return xous.Result{Tag: xous.ResultThreadID, CtxID: ctx}

	case xous.OpYield:
		return xous.OkResult()

	case xous.OpShutdown:
		return xous.OkResult()

	default:
		l.log.WithField("pid", pid).Warn("received invalid syscall")
		return xous.ErrResult(xous.NewError("dispatch", xous.ProcessNotFound, nil))
	}
}
