package kernel

import (
	"github.com/xous-go/kernel/pkg/mem"
	"github.com/xous-go/kernel/pkg/xous"
)

// CreateServer allocates a server-table slot for the calling process and
// a zeroed page to back its message ring, returning the new server's
// four-word identifier.
func CreateServer(name uint32) (xous.SID, *xous.Error) {
	h := Acquire()
	defer h.Release()
	return h.s.createServer(name)
}

func (s *SystemServices) createServer(name uint32) (xous.SID, *xous.Error) {
	pid := s.currentPID
	sid := xous.MakeSID(pid, name)

	ringVirt, merr := mem.MapZeroedPage()
	if merr != nil {
		return xous.SID{}, xous.NewError("create_server", xous.OutOfMemory, merr)
	}

	srv := newServer(pid, sid, ringVirt)
	if _, aerr := s.Servers.allocate(srv); aerr != nil {
		_ = mem.UnmapAt(ringVirt)
		return xous.SID{}, aerr
	}
	return sid, nil
}

// ConnectToServer resolves sid to a connection id in the caller's
// connection map, reusing an existing entry if one already points at the
// same server.
func ConnectToServer(sid xous.SID) (xous.CID, *xous.Error) {
	h := Acquire()
	defer h.Release()
	return h.s.connectToServer(sid)
}

func (s *SystemServices) connectToServer(sid xous.SID) (xous.CID, *xous.Error) {
	proc, err := s.Processes.Get(s.currentPID)
	if err != nil {
		return 0, err
	}
	cmap := &proc.Inner.ConnectionMap

	for i, v := range cmap {
		if v == 0 {
			continue
		}
		if srv, serr := s.Servers.at(int(v) - 1); serr == nil && srv.SID == sid {
			return xous.CID(i + 1), nil
		}
	}

	sidx, ok := s.Servers.bySID(sid)
	if !ok {
		return 0, xous.NewError("connect_to_server", xous.OutOfMemory, nil)
	}
	for i, v := range cmap {
		if v == 0 {
			cmap[i] = uint8(sidx + 1)
			return xous.CID(i + 1), nil
		}
	}
	return 0, xous.NewError("connect_to_server", xous.OutOfMemory, nil)
}

// SidxFromCID translates a connection id in pid's connection map into a
// 0-based server-table index.
func SidxFromCID(pid xous.PID, cid xous.CID) (int, *xous.Error) {
	h := Acquire()
	defer h.Release()
	return h.s.sidxFromCID(pid, cid)
}

func (s *SystemServices) sidxFromCID(pid xous.PID, cid xous.CID) (int, *xous.Error) {
	proc, err := s.Processes.Get(pid)
	if err != nil {
		return 0, err
	}
	if cid < 1 || int(cid) > xous.ConnectionMapLen {
		return 0, xous.NewError("sidx_from_cid", xous.ServerNotFound, nil)
	}
	v := proc.Inner.ConnectionMap[cid-1]
	if v == 0 {
		return 0, xous.NewError("sidx_from_cid", xous.ServerNotFound, nil)
	}
	sidx := int(v) - 1
	if sidx < 0 || sidx >= xous.MaxServerCount {
		return 0, xous.NewError("sidx_from_cid", xous.ServerNotFound, nil)
	}
	return sidx, nil
}

// QueueServerMessage enqueues envelope into the server at sidx's mailbox,
// tagging it with the sending context, temporarily activating the
// server-owning process's address space to do so.
func QueueServerMessage(sidx int, ctx xous.CtxID, body [4]uint64) *xous.Error {
	h := Acquire()
	defer h.Release()
	return h.s.queueServerMessage(sidx, ctx, body)
}

func (s *SystemServices) queueServerMessage(sidx int, ctx xous.CtxID, body [4]uint64) *xous.Error {
	callerPID := s.currentPID
	var caller *Process
	if callerPID != 0 {
		caller, _ = s.Processes.Get(callerPID)
	}

	srv, err := s.Servers.at(sidx)
	if err != nil {
		return err
	}
	owner, oerr := s.Processes.Get(srv.PID)
	if oerr != nil {
		return oerr
	}

	owner.Mapping.Activate()
	qerr := srv.enqueue(xous.MessageEnvelope{SenderPID: callerPID, SenderCtx: ctx, Body: body})
	if caller != nil {
		caller.Mapping.Activate()
	}
	return qerr
}

// ReapServersOf frees every server-table slot owned by pid, releasing
// each server's ring-buffer page. This is the "cleanup" TerminateProcess
// defers: a terminated PID's servers stay resolvable (existing CIDs still
// find them, just with no owning process to deliver into) until this is
// called explicitly, matching the terminate scenario's observed behavior.
func ReapServersOf(pid xous.PID) *xous.Error {
	h := Acquire()
	defer h.Release()
	return h.s.reapServersOf(pid)
}

func (s *SystemServices) reapServersOf(pid xous.PID) *xous.Error {
	var caller *Process
	if s.currentPID != 0 {
		caller, _ = s.Processes.Get(s.currentPID)
	}
	for _, sidx := range s.Servers.ownedBy(pid) {
		srv, err := s.Servers.at(sidx)
		if err != nil {
			continue
		}
		if owner, oerr := s.Processes.Get(srv.PID); oerr == nil {
			owner.Mapping.Activate()
			_ = mem.UnmapAt(srv.RingVirt)
			if caller != nil {
				caller.Mapping.Activate()
			}
		}
		s.Servers.free(sidx)
	}
	return nil
}

// DequeueServerMessage pops the oldest pending message for the server at
// sidx, used by the ReceiveMessage syscall handler (external).
func DequeueServerMessage(sidx int) (xous.MessageEnvelope, bool, *xous.Error) {
	h := Acquire()
	defer h.Release()
	srv, err := h.s.Servers.at(sidx)
	if err != nil {
		return xous.MessageEnvelope{}, false, err
	}
	env, ok := srv.dequeue()
	return env, ok, nil
}
