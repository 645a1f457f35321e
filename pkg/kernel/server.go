package kernel

import "github.com/xous-go/kernel/pkg/xous"

// Server is one server-table slot: the process that owns it, its
// four-word identifier, and its pending-message mailbox. The original
// kernel backs a server's mailbox with a page of shared memory treated as
// a ring buffer; a Go slice models the same "bounded mailbox, FIFO order"
// contract without needing manual index arithmetic over a byte page.
type Server struct {
	PID xous.PID
	SID xous.SID

	// RingVirt is the virtual address, in the owning process's address
	// space, that backs this server's mailbox page.
	RingVirt uintptr

	queue []xous.MessageEnvelope
}

// maxQueueDepth bounds a server's pending-message count the same way a
// fixed-size ring buffer page would; a send to a full server is a
// recoverable OutOfMemory rather than an unbounded slice growth.
const maxQueueDepth = 128

func newServer(pid xous.PID, sid xous.SID, ringVirt uintptr) *Server {
	return &Server{PID: pid, SID: sid, RingVirt: ringVirt}
}

// enqueue appends env to the server's mailbox, failing if the mailbox is
// full.
func (s *Server) enqueue(env xous.MessageEnvelope) *xous.Error {
	if len(s.queue) >= maxQueueDepth {
		return xous.NewError("queue_server_message", xous.OutOfMemory, nil)
	}
	s.queue = append(s.queue, env)
	return nil
}

// dequeue pops the oldest pending message, if any.
func (s *Server) dequeue() (xous.MessageEnvelope, bool) {
	if len(s.queue) == 0 {
		return xous.MessageEnvelope{}, false
	}
	env := s.queue[0]
	s.queue = s.queue[1:]
	return env, true
}

// ServerTable is the fixed 32-slot server table (C2). A nil slot is free;
// a non-nil slot is numbered sidx 0..MaxServerCount-1, which
// sidx_from_cid and the connection map both reference as a 1-based
// "server index" (0 meaning "no connection").
type ServerTable struct {
	slots [xous.MaxServerCount]*Server
}

// allocate claims the first free slot for a new server, returning its
// 0-based sidx.
func (t *ServerTable) allocate(s *Server) (int, *xous.Error) {
	for i := range t.slots {
		if t.slots[i] == nil {
			t.slots[i] = s
			return i, nil
		}
	}
	return 0, xous.NewError("create_server", xous.OutOfMemory, nil)
}

// bySID finds an existing server with the given identifier, mirroring the
// original's linear scan connect_to_server performs to resolve a
// well-known SID into a table index.
func (t *ServerTable) bySID(sid xous.SID) (int, bool) {
	for i, s := range t.slots {
		if s != nil && s.SID == sid {
			return i, true
		}
	}
	return 0, false
}

// at returns the server at a 0-based sidx, validating that the slot is
// populated.
func (t *ServerTable) at(sidx int) (*Server, *xous.Error) {
	if sidx < 0 || sidx >= xous.MaxServerCount || t.slots[sidx] == nil {
		return nil, xous.NewError("server_from_sidx", xous.ServerNotFound, nil)
	}
	return t.slots[sidx], nil
}

// free releases a server's slot, used by ReapServersOf.
func (t *ServerTable) free(sidx int) {
	if sidx >= 0 && sidx < xous.MaxServerCount {
		t.slots[sidx] = nil
	}
}

// ownedBy returns the 0-based sidx of every server owned by pid, used by
// ReapServersOf to tear a process's servers down after termination.
func (t *ServerTable) ownedBy(pid xous.PID) []int {
	var out []int
	for i, s := range t.slots {
		if s != nil && s.PID == pid {
			out = append(out, i)
		}
	}
	return out
}
