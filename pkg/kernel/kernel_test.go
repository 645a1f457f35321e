package kernel

import (
	"testing"

	"gotest.tools/v3/assert"

	"github.com/xous-go/kernel/pkg/mem"
	"github.com/xous-go/kernel/pkg/xous"
)

func requireNoErr(t *testing.T, err *xous.Error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func requireKind(t *testing.T, err *xous.Error, kind xous.Kind) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected error of kind %s, got nil", kind)
	}
	if err.Kind != kind {
		t.Fatalf("expected error of kind %s, got %s (%v)", kind, err.Kind, err)
	}
}

// TestEndToEndScenarios walks the six concrete scenarios in order, each
// building on the process/server state the previous one left behind, the
// way the original narrative does.
func TestEndToEndScenarios(t *testing.T) {
	resetKernel(t)
	descriptors := loadBootFixture(t, "testdata/boot_two_process.yaml")

	// Scenario 1: boot.
	requireNoErr(t, Boot(descriptors))

	proc1, err := theKernel.Processes.Get(1)
	requireNoErr(t, err)
	assert.Equal(t, proc1.State.Tag, StateRunning)
	assert.Equal(t, proc1.CurrentContext, xous.InitialContext)

	proc2, err := theKernel.Processes.Get(2)
	requireNoErr(t, err)
	assert.Equal(t, proc2.State.Tag, StateSetup)
	assert.Equal(t, proc2.PPID, xous.PID(1))

	// Scenario 2: first activation of PID 2 installs its initial thread and
	// parks PID 1 as Ready with its own thread re-added to its mask.
	ctx2, aerr := Activate(2, 0, true, false)
	requireNoErr(t, aerr)
	assert.Equal(t, ctx2, xous.InitialContext)
	assert.Equal(t, proc2.State.Tag, StateRunning)
	assert.Equal(t, proc2.State.Mask, uint32(0))

	assert.Equal(t, proc1.State.Tag, StateReady)
	assert.Equal(t, proc1.State.Mask, uint32(1)<<xous.InitialContext)

	// Scenario 3: IPC setup. PID 2 (current) creates a server; a freshly
	// connected hosted client, PID 3, connects to it. Reconnecting reuses
	// the same CID.
	sid, serr := CreateServer(42)
	requireNoErr(t, serr)
	assert.DeepEqual(t, sid, xous.MakeSID(2, 42))

	pid3, perr := AllocateProcess(1)
	requireNoErr(t, perr)
	assert.Equal(t, pid3, xous.PID(3))

	ctx3, aerr := Activate(3, 0, true, false)
	requireNoErr(t, aerr)
	assert.Equal(t, ctx3, HostedThreadID)
	assert.Equal(t, proc2.State.Tag, StateReady)
	assert.Equal(t, proc2.State.Mask, uint32(1)<<xous.InitialContext)

	cid, cerr := ConnectToServer(sid)
	requireNoErr(t, cerr)
	assert.Equal(t, cid, xous.CID(1))

	cidAgain, cerr := ConnectToServer(sid)
	requireNoErr(t, cerr)
	assert.Equal(t, cidAgain, cid)

	// Scenario 4: blocking receive. PID 3 finds its server empty and
	// deschedules without resuming (Sleeping); PID 1 then delivers a
	// message and readies PID 3's thread with the syscall's result.
	sidx, serr := SidxFromCID(3, cid)
	requireNoErr(t, serr)

	_, ok, derr := DequeueServerMessage(sidx)
	requireNoErr(t, derr)
	assert.Assert(t, !ok)

	requireNoErr(t, Deschedule(3, HostedThreadID, false))
	proc3, err := theKernel.Processes.Get(3)
	requireNoErr(t, err)
	assert.Equal(t, proc3.State.Tag, StateSleeping)

	ctx1, aerr := Activate(1, 0, true, false)
	requireNoErr(t, aerr)
	assert.Equal(t, ctx1, xous.InitialContext)

	body := [4]uint64{1, 2, 3, 4}
	requireNoErr(t, QueueServerMessage(sidx, xous.InitialContext, body))

	requireNoErr(t, ReadyContext(3, HostedThreadID))
	assert.Equal(t, proc3.State.Tag, StateReady)
	assert.Equal(t, proc3.State.Mask, uint32(1)<<HostedThreadID)

	words := [8]uint64{10, 20, 30, 40, 0, 0, 0, 0}
	requireNoErr(t, SetContextResult(3, HostedThreadID, words))
	assert.DeepEqual(t, proc3.Bank.Context(HostedThreadID).Regs, words)

	// Scenario 5: memory send. PID 3 hands a page to PID 2; the mapping
	// must vanish from the sender and appear in the recipient's Messages
	// region, and the caller's address space must be active again
	// afterward regardless of outcome.
	ctx3, aerr = Activate(3, 0, true, false)
	requireNoErr(t, aerr)
	assert.Equal(t, ctx3, HostedThreadID)

	srcVirt, merr := mem.MapZeroedPage()
	assert.NilError(t, merr)

	destVirt, serr2 := SendMemory(srcVirt, 2, mem.PageSize, true, false)
	requireNoErr(t, serr2)
	assert.Assert(t, destVirt != 0)
	assert.Equal(t, mem.Current().PID(), xous.PID(3))

	_, berr := mem.Current().Bytes(srcVirt)
	assert.ErrorContains(t, berr, "not mapped")

	proc2.Mapping.Activate()
	data, berr := mem.Current().Bytes(destVirt)
	assert.NilError(t, berr)
	assert.Equal(t, len(data), mem.PageSize)
	proc3.Mapping.Activate()

	// Scenario 6: terminate. PID 2's slot is freed immediately, but its
	// server slot resolves and delivers until ReapServersOf is called
	// explicitly.
	requireNoErr(t, TerminateProcess(2))
	_, err = theKernel.Processes.Get(2)
	requireKind(t, err, xous.ProcessNotFound)

	sidxAfter, serr := SidxFromCID(3, cid)
	requireNoErr(t, serr)
	assert.Equal(t, sidxAfter, sidx)

	env, ok, derr := DequeueServerMessage(sidxAfter)
	requireNoErr(t, derr)
	assert.Assert(t, ok)
	assert.Equal(t, env.SenderPID, xous.PID(1))
	assert.DeepEqual(t, env.Body, body)

	_, aerr = Activate(2, 0, true, false)
	requireKind(t, aerr, xous.ProcessNotFound)

	requireNoErr(t, ReapServersOf(2))
	_, _, derr = DequeueServerMessage(sidxAfter)
	requireKind(t, derr, xous.ServerNotFound)
}

// TestDescheduleTransitions exercises every branch of the outgoing-process
// update table in isolation, checking the two invariants it must uphold:
// Ready never carries a zero mask, and Sleeping only results when the
// process truly has nothing else runnable.
func TestDescheduleTransitions(t *testing.T) {
	const ctx xous.CtxID = 3

	cases := []struct {
		name      string
		mask      uint32
		canResume bool
		wantTag   StateTag
		wantMask  uint32
	}{
		{"empty_mask_resumable", 0, true, StateReady, 1 << ctx},
		{"empty_mask_not_resumable", 0, false, StateSleeping, 0},
		{"nonempty_mask_resumable", 0b101, true, StateReady, 0b101 | (1 << ctx)},
		{"nonempty_mask_not_resumable", 0b101, false, StateReady, 0b101},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			resetKernel(t)
			pid, perr := AllocateProcess(1)
			requireNoErr(t, perr)
			proc, err := theKernel.Processes.Get(pid)
			requireNoErr(t, err)
			proc.State = Running(c.mask)
			proc.CurrentContext = ctx

			requireNoErr(t, Deschedule(pid, ctx, c.canResume))
			assert.Equal(t, proc.State.Tag, c.wantTag)
			assert.Equal(t, proc.State.Mask, c.wantMask)
			if proc.State.Tag == StateReady {
				assert.Assert(t, proc.State.Mask != 0, "Ready state must never carry a zero mask")
			}
		})
	}
}

// TestReadyContextDoubleSetPanics confirms ready_context treats setting an
// already-set bit as a kernel bug, not a no-op: AllocateProcess already
// marks HostedThreadID runnable, so readying it again must panic.
func TestReadyContextDoubleSetPanics(t *testing.T) {
	resetKernel(t)
	pid, perr := AllocateProcess(1)
	requireNoErr(t, perr)

	defer func() {
		r := recover()
		assert.Assert(t, r != nil, "expected a panic")
	}()
	ReadyContext(pid, HostedThreadID)
}

// TestActivateResumingCurrentThreadPanics confirms activate refuses to
// re-select the already-current thread of the already-current process
// unless canResume is set.
func TestActivateResumingCurrentThreadPanics(t *testing.T) {
	resetKernel(t)
	requireNoErr(t, Boot(loadBootFixture(t, "testdata/boot_two_process.yaml")))

	defer func() {
		r := recover()
		assert.Assert(t, r != nil, "expected a panic")
	}()
	Activate(1, xous.InitialContext, false, false)
}

// TestActivateSameProcessThreadSwitchReaddsOutgoingThread confirms that
// switching threads within the same running process never strands the
// thread being switched away from: with canResume it must come back into
// the runnable mask, and without canResume it must not.
func TestActivateSameProcessThreadSwitchReaddsOutgoingThread(t *testing.T) {
	resetKernel(t)
	requireNoErr(t, Boot(loadBootFixture(t, "testdata/boot_two_process.yaml")))
	_, aerr := Activate(2, 0, true, false)
	requireNoErr(t, aerr)

	proc2, err := theKernel.Processes.Get(2)
	requireNoErr(t, err)
	assert.Equal(t, proc2.CurrentContext, xous.InitialContext)

	spawned, serr := SpawnThread(0x1000, 0x2000, 7)
	requireNoErr(t, serr)
	assert.Assert(t, spawned != xous.InitialContext)
	assert.Equal(t, proc2.State.Mask, uint32(1)<<spawned)

	newCtx, aerr := Activate(2, spawned, true, false)
	requireNoErr(t, aerr)
	assert.Equal(t, newCtx, spawned)
	assert.Equal(t, proc2.CurrentContext, spawned)
	assert.Equal(t, proc2.PreviousContext, xous.InitialContext)
	// The outgoing thread must be re-added to the runnable mask, not
	// stranded, when the switch allows it to resume later.
	assert.Equal(t, proc2.State.Mask, uint32(1)<<xous.InitialContext)

	// Switching back without canResume must not re-add the thread being
	// left this time.
	backCtx, aerr := Activate(2, xous.InitialContext, false, false)
	requireNoErr(t, aerr)
	assert.Equal(t, backCtx, xous.InitialContext)
	assert.Equal(t, proc2.State.Mask, uint32(0))
}

// TestAllocateProcessPIDMatchesSlot checks invariant 3: a freshly allocated
// slot's address space reports the same PID the table indexes it under.
func TestAllocateProcessPIDMatchesSlot(t *testing.T) {
	resetKernel(t)
	pid, perr := AllocateProcess(1)
	requireNoErr(t, perr)

	proc, err := theKernel.Processes.Get(pid)
	requireNoErr(t, err)
	assert.Equal(t, proc.Mapping.PID(), pid)
}
