package mem

import (
	"testing"

	"gotest.tools/v3/assert"

	"github.com/xous-go/kernel/pkg/xous"
)

func newTestSpace(t *testing.T, pid xous.PID) *AddressSpace {
	t.Helper()
	Reset()
	as := New(NewAllocator(), pid)
	as.Activate()
	return as
}

func TestAddressSpacePIDAndSatpRoundTrip(t *testing.T) {
	as := newTestSpace(t, 5)
	assert.Equal(t, as.PID(), xous.PID(5))
	assert.Equal(t, FromRaw(as.Satp()), xous.PID(5))
}

func TestActivateAndCurrent(t *testing.T) {
	Reset()
	assert.Assert(t, Current() == nil)
	as := New(NewAllocator(), 1)
	as.Activate()
	assert.Equal(t, Current(), as)
	Reset()
	assert.Assert(t, Current() == nil)
}

func TestMapZeroedPageAndUnmap(t *testing.T) {
	as := newTestSpace(t, 1)
	virt, err := MapZeroedPage()
	assert.NilError(t, err)
	assert.Assert(t, virt != 0)

	data, err := as.Bytes(virt)
	assert.NilError(t, err)
	assert.Equal(t, len(data), PageSize)

	assert.NilError(t, UnmapAt(virt))
	_, err = as.Bytes(virt)
	assert.ErrorContains(t, err, "not mapped")
}

func TestMapRangeRejectsDoubleMap(t *testing.T) {
	as := newTestSpace(t, 1)
	frame, err := as.alloc.AllocZeroed()
	assert.NilError(t, err)

	base, err := MapRange(frame.ID(), 0, PageSize, xous.MemoryFlagR, xous.MemoryTypeMessages)
	assert.NilError(t, err)

	_, err = MapRange(frame.ID(), base, PageSize, xous.MemoryFlagR, xous.MemoryTypeMessages)
	assert.ErrorContains(t, err, "already mapped")
}

func TestHandPageToUserAppliesProtection(t *testing.T) {
	as := newTestSpace(t, 1)
	frame, err := as.alloc.AllocZeroed()
	assert.NilError(t, err)

	virt, err := MapRange(frame.ID(), 0, PageSize, xous.MemoryFlagR|xous.MemoryFlagW, xous.MemoryTypeMessages)
	assert.NilError(t, err)
	assert.NilError(t, HandPageToUser(virt))
}

func TestReserveRangeAllocatesGuardedPages(t *testing.T) {
	as := newTestSpace(t, 1)
	base := AlignDown(0x2000_0000)
	assert.NilError(t, as.ReserveRange(base, 2*PageSize, xous.MemoryFlagR|xous.MemoryFlagW))

	data, err := as.Bytes(base)
	assert.NilError(t, err)
	assert.Equal(t, len(data), PageSize)
	_, err = as.Bytes(base + PageSize)
	assert.NilError(t, err)
}

func TestReleaseFreesEveryMappedFrame(t *testing.T) {
	as := newTestSpace(t, 1)
	_, err := MapZeroedPage()
	assert.NilError(t, err)
	_, err = MapZeroedPage()
	assert.NilError(t, err)

	assert.NilError(t, as.Release())
}

func TestDeactivateClearsOnlyMatchingSpace(t *testing.T) {
	Reset()
	as1 := New(NewAllocator(), 1)
	as2 := New(NewAllocator(), 2)
	as1.Activate()

	Deactivate(as2)
	assert.Equal(t, Current(), as1)

	Deactivate(as1)
	assert.Assert(t, Current() == nil)
}
