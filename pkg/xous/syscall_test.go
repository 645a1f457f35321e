package xous

import (
	"testing"

	"gotest.tools/v3/assert"
)

func TestSysCallRoundTrip(t *testing.T) {
	cases := []SysCall{
		{Op: OpCreateServer, Args: [7]uint64{42}},
		{Op: OpConnectToServer, Args: [7]uint64{1, 2, 3, 4}},
		{Op: OpSendMemory, Args: [7]uint64{0x2000, 3, 4096, 1, 0}},
		{Op: OpYield},
	}
	for _, c := range cases {
		words := c.ToArgs()
		got := FromArgs(words)
		assert.DeepEqual(t, got, c)
	}
}

func TestFromArgsUnknownOpcodeBecomesInvalid(t *testing.T) {
	words := [8]uint64{9999, 1, 2, 3, 4, 5, 6, 7}
	got := FromArgs(words)
	assert.Equal(t, got.Op, OpInvalid)
	assert.Equal(t, got.Args[0], uint64(9999))
}

func TestResultToArgsVariants(t *testing.T) {
	t.Run("ok", func(t *testing.T) {
		assert.DeepEqual(t, OkResult().ToArgs(), [8]uint64{uint64(ResultOk)})
	})
	t.Run("blocked", func(t *testing.T) {
		assert.DeepEqual(t, BlockedResult().ToArgs(), [8]uint64{uint64(ResultBlockedProcess)})
	})
	t.Run("err", func(t *testing.T) {
		r := ErrResult(NewError("op", OutOfMemory, nil))
		words := r.ToArgs()
		assert.Equal(t, words[0], uint64(ResultErr))
		assert.Equal(t, words[1], uint64(OutOfMemory))
	})
	t.Run("connection_id", func(t *testing.T) {
		r := Result{Tag: ResultConnectionID, CID: 7}
		words := r.ToArgs()
		assert.Equal(t, words[1], uint64(7))
	})
	t.Run("server_id", func(t *testing.T) {
		sid := MakeSID(3, 99)
		r := Result{Tag: ResultServerID, SID: sid}
		words := r.ToArgs()
		assert.Equal(t, words[1], uint64(sid[0]))
		assert.Equal(t, words[4], uint64(sid[3]))
	})
	t.Run("message_envelope", func(t *testing.T) {
		env := MessageEnvelope{SenderPID: 2, SenderCtx: 3, Body: [4]uint64{5, 6, 7, 8}}
		r := Result{Tag: ResultMessageEnvelope, Env: env}
		words := r.ToArgs()
		assert.Equal(t, words[1], uint64(2))
		assert.Equal(t, words[2], uint64(3))
		assert.Equal(t, words[3], uint64(5))
		assert.Equal(t, words[6], uint64(8))
	})
}

func TestErrorIsMatchesByKind(t *testing.T) {
	err := NewError("connect_to_server", OutOfMemory, nil)
	assert.Assert(t, err.Is(ErrOutOfMemory))
	assert.Assert(t, !err.Is(ErrServerNotFound))
}
