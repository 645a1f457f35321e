package mem

import (
	"testing"

	"gotest.tools/v3/assert"

	"github.com/xous-go/kernel/pkg/xous"
)

func TestAllocatorAllocLookupFree(t *testing.T) {
	a := NewAllocator()
	f, err := a.AllocZeroed()
	assert.NilError(t, err)

	got, ok := a.Lookup(f.ID())
	assert.Assert(t, ok)
	assert.Equal(t, got.ID(), f.ID())

	for _, b := range f.bytes {
		assert.Equal(t, b, byte(0))
	}

	assert.NilError(t, a.Free(f.ID()))
	_, ok = a.Lookup(f.ID())
	assert.Assert(t, !ok)
}

func TestFreeUnknownFrameIsNoop(t *testing.T) {
	a := NewAllocator()
	assert.NilError(t, a.Free(FrameID(999)))
}

func TestFrameProtect(t *testing.T) {
	a := NewAllocator()
	f, err := a.AllocZeroed()
	assert.NilError(t, err)
	defer a.Free(f.ID())

	assert.NilError(t, f.protect(xous.MemoryFlagR|xous.MemoryFlagW))
	assert.NilError(t, f.protect(xous.MemoryFlagR))
}

func TestAlignUpDown(t *testing.T) {
	assert.Equal(t, AlignDown(0x1234), uintptr(0x1000))
	assert.Equal(t, AlignUp(0x1001), uintptr(0x2000))
	assert.Equal(t, AlignUp(0x1000), uintptr(0x1000))
}
