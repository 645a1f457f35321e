package arch

import (
	"testing"

	"gotest.tools/v3/assert"

	"github.com/xous-go/kernel/pkg/xous"
)

func TestContextInitAndInvalidate(t *testing.T) {
	b := NewBank()
	c := b.Context(2)
	assert.Assert(t, !c.Valid())

	b.Init(2, 0x1000, 0x2000, 0)
	assert.Assert(t, c.Valid())
	assert.Equal(t, c.PC, uintptr(0x1000))
	assert.Equal(t, c.SP, uintptr(0x2000))

	c.Invalidate()
	assert.Assert(t, !c.Valid())
}

func TestInvokeTrapLoadsArgsAndReturnAddress(t *testing.T) {
	b := NewBank()
	b.InvokeTrap(xous.IRQContext, 0x4000, 0x5000, xous.ReturnFromISR, 7, 9)
	c := b.Context(xous.IRQContext)
	assert.Assert(t, c.Valid())
	assert.Equal(t, c.PC, uintptr(0x4000))
	assert.Equal(t, c.ReturnTo, xous.ReturnFromISR)
	assert.Equal(t, c.Regs[0], uint64(7))
	assert.Equal(t, c.Regs[1], uint64(9))
}

func TestSetResultCopiesIntoRegs(t *testing.T) {
	b := NewBank()
	b.Init(3, 0, 0, 0)
	words := [8]uint64{1, 2, 3, 4, 5, 6, 7, 8}
	b.SetResult(3, words)
	assert.DeepEqual(t, b.Context(3).Regs, words)
}

func TestActivateAndCurrentContext(t *testing.T) {
	defer Reset()
	b := NewBank()
	b.Init(4, 0x1234, 0, 0)
	Activate(b)
	SetContextNr(4)
	assert.Equal(t, CurrentBank(), b)
	cur := CurrentContext()
	assert.Assert(t, cur != nil)
	assert.Equal(t, cur.PC, uintptr(0x1234))
}

func TestCurrentContextNilBeforeActivate(t *testing.T) {
	Reset()
	assert.Assert(t, CurrentBank() == nil)
	assert.Assert(t, CurrentContext() == nil)
}
