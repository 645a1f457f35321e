package xous

import "fmt"

// Opcode identifies a syscall. The numeric values are part of the hosted
// wire protocol, so they must stay stable once assigned.
type Opcode uint64

const (
	OpInvalid Opcode = iota
	OpCreateServer
	OpConnectToServer
	OpSendMessage
	OpReceiveMessage
	OpReadyContext
	OpSendMemory
	OpSpawnThread
	OpTerminateProcess
	OpShutdown
	OpYield
)

func (o Opcode) String() string {
	switch o {
	case OpCreateServer:
		return "CreateServer"
	case OpConnectToServer:
		return "ConnectToServer"
	case OpSendMessage:
		return "SendMessage"
	case OpReceiveMessage:
		return "ReceiveMessage"
	case OpReadyContext:
		return "ReadyContext"
	case OpSendMemory:
		return "SendMemory"
	case OpSpawnThread:
		return "SpawnThread"
	case OpTerminateProcess:
		return "TerminateProcess"
	case OpShutdown:
		return "Shutdown"
	case OpYield:
		return "Yield"
	default:
		return fmt.Sprintf("Opcode(%d)", uint64(o))
	}
}

// SysCall is a decoded syscall packet: an opcode plus its seven argument
// words, exactly as carried by an 8-word hosted-transport frame.
type SysCall struct {
	Op   Opcode
	Args [7]uint64
}

// FromArgs decodes the 8-word (op, a0..a6) wire form of a syscall. It never
// fails on an unrecognized opcode word — an unknown op is represented as
// OpInvalid with the raw opcode word preserved in Args[0], so a caller can log and
// reject it instead of the codec silently swallowing state.
func FromArgs(words [8]uint64) SysCall {
	op := Opcode(words[0])
	switch op {
	case OpCreateServer, OpConnectToServer, OpSendMessage, OpReceiveMessage,
		OpReadyContext, OpSendMemory, OpSpawnThread, OpTerminateProcess, OpShutdown, OpYield:
		var args [7]uint64
		copy(args[:], words[1:])
		return SysCall{Op: op, Args: args}
	default:
		var args [7]uint64
		args[0] = words[0]
		return SysCall{Op: OpInvalid, Args: args}
	}
}

// ToArgs encodes the syscall back to its 8-word wire form.
func (s SysCall) ToArgs() [8]uint64 {
	var out [8]uint64
	out[0] = uint64(s.Op)
	copy(out[1:], s.Args[:])
	return out
}

// ResultTag discriminates the variants of Result.
type ResultTag uint64

const (
	ResultOk ResultTag = iota
	ResultErr
	ResultBlockedProcess
	ResultConnectionID
	ResultServerID
	ResultMemoryAddress
	ResultMessageEnvelope
	ResultThreadID
)

// Result is the externally-defined response value a syscall handler
// produces; the core itself never constructs one directly (a handler wraps
// a core error or a core return value into the appropriate variant), but
// the wire codec lives here because it shares the 8-word frame format with
// SysCall.
type Result struct {
	Tag   ResultTag
	Kind  Kind
	CID   CID
	SID   SID
	Addr  uint64
	Env   MessageEnvelope
	CtxID CtxID
}

// ToArgs encodes the result as the externally defined 8-word response
// frame: (tag, ...variant-specific words).
func (r Result) ToArgs() [8]uint64 {
	var out [8]uint64
	out[0] = uint64(r.Tag)
	switch r.Tag {
	case ResultErr:
		out[1] = uint64(r.Kind)
	case ResultConnectionID:
		out[1] = uint64(r.CID)
	case ResultServerID:
		out[1] = uint64(r.SID[0])
		out[2] = uint64(r.SID[1])
		out[3] = uint64(r.SID[2])
		out[4] = uint64(r.SID[3])
	case ResultMemoryAddress:
		out[1] = r.Addr
	case ResultMessageEnvelope:
		out[1] = uint64(r.Env.SenderPID)
		out[2] = uint64(r.Env.SenderCtx)
		out[3] = r.Env.Body[0]
		out[4] = r.Env.Body[1]
		out[5] = r.Env.Body[2]
		out[6] = r.Env.Body[3]
	case ResultThreadID:
		out[1] = uint64(r.CtxID)
	}
	return out
}

// OkResult is the zero-argument success response.
func OkResult() Result { return Result{Tag: ResultOk} }

// BlockedResult signals that the calling thread has been suspended and no
// response frame should be sent yet.
func BlockedResult() Result { return Result{Tag: ResultBlockedProcess} }

// ErrResult wraps a core error into a response frame.
func ErrResult(err *Error) Result {
	return Result{Tag: ResultErr, Kind: err.Kind}
}
