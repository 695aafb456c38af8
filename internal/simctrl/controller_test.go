package simctrl

import (
	"testing"
	"time"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nvme-uq/nvmeuq/internal/cidtable"
	"github.com/nvme-uq/nvmeuq/internal/constants"
	"github.com/nvme-uq/nvmeuq/internal/hostsvc/sim"
	"github.com/nvme-uq/nvmeuq/internal/wire"
)

type attached struct {
	ctrl        *Controller
	svc         *sim.Services
	sq          []wire.SubmissionEntry
	cq          []wire.CompletionEntry
	doorbellReg *sim.DoorbellRegister
	doorbellAdr uintptr
	stop        func()
}

func (a *attached) ringDoorbell(tail uint32) {
	a.svc.MMIOStore32(a.doorbellAdr, tail)
}

func newAttachedController(t *testing.T, n int) *attached {
	t.Helper()

	svc := sim.New(nil)
	sq := make([]wire.SubmissionEntry, n)
	cq := make([]wire.CompletionEntry, n)
	doorbellAddr, doorbellReg := svc.AllocDoorbell()

	ctrl := New(0, svc, nil)
	stop, err := ctrl.AttachQueue(1, sq, cq, doorbellReg)
	require.NoError(t, err)

	return &attached{ctrl: ctrl, svc: svc, sq: sq, cq: cq, doorbellReg: doorbellReg, doorbellAdr: doorbellAddr, stop: stop}
}

func allocBuf(t *testing.T, svc *sim.Services, size int) uintptr {
	t.Helper()
	v, err := svc.AllocPhysContiguousAligned(size, constants.PageSize)
	require.NoError(t, err)
	return v
}

func bufSlice(p uintptr, n int) []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(p)), n)
}

func TestDrainLoopCompletesFlush(t *testing.T) {
	a := newAttachedController(t, 8)
	defer a.stop()

	a.ctrl.AddNamespace(1, 4096, 1024, NewMemory(4096*1024))

	a.sq[0] = wire.SubmissionEntry{OPC: uint8(wire.OpcodeFlush), CID: 5, NSID: 1}
	a.ringDoorbell(1)

	require.Eventually(t, func() bool {
		return a.cq[0].CID == 5 && a.cq[0].Phase() == 1
	}, time.Second, time.Millisecond)

	assert.EqualValues(t, 0, a.cq[0].StatusCode())
}

func TestDrainLoopWriteThenReadRoundTrips(t *testing.T) {
	a := newAttachedController(t, 8)
	defer a.stop()

	storage := NewMemory(1 << 20)
	a.ctrl.AddNamespace(1, 4096, 256, storage)

	writeBuf := allocBuf(t, a.svc, 4096)
	copy(bufSlice(writeBuf, 4096), []byte("hello simulated nvme namespace"))

	a.sq[0] = wire.SubmissionEntry{
		OPC:  uint8(wire.OpcodeWrite),
		CID:  1,
		NSID: 1,
		PRP1: uint64(writeBuf),
		SLBA: 0,
		NLB:  0,
	}
	a.ringDoorbell(1)

	require.Eventually(t, func() bool {
		return a.cq[0].CID == 1
	}, time.Second, time.Millisecond)
	require.EqualValues(t, 0, a.cq[0].StatusCode())

	readBuf := allocBuf(t, a.svc, 4096)
	a.sq[1] = wire.SubmissionEntry{
		OPC:  uint8(wire.OpcodeRead),
		CID:  2,
		NSID: 1,
		PRP1: uint64(readBuf),
		SLBA: 0,
		NLB:  0,
	}
	a.ringDoorbell(2)

	require.Eventually(t, func() bool {
		return a.cq[1].CID == 2
	}, time.Second, time.Millisecond)
	require.EqualValues(t, 0, a.cq[1].StatusCode())

	assert.Equal(t, []byte("hello simulated nvme namespace"), bufSlice(readBuf, len("hello simulated nvme namespace")))
}

func TestDrainLoopUnknownNamespaceReportsInvalidNSID(t *testing.T) {
	a := newAttachedController(t, 8)
	defer a.stop()

	a.sq[0] = wire.SubmissionEntry{OPC: uint8(wire.OpcodeFlush), CID: 9, NSID: 42}
	a.ringDoorbell(1)

	require.Eventually(t, func() bool {
		return a.cq[0].CID == 9
	}, time.Second, time.Millisecond)

	assert.EqualValues(t, StatusInvalidNSID, a.cq[0].StatusCode())
}

func TestCreateQueuePairSubmitsAndCompletesAFlush(t *testing.T) {
	svc := sim.New(nil)
	ctrl := New(0, svc, nil)
	ctrl.AddNamespace(1, 4096, 64, NewMemory(4096*64))

	qp, stop, err := ctrl.CreateQueuePair(1, 8)
	require.NoError(t, err)
	defer stop()

	cid, ok := qp.ClaimCID()
	require.True(t, ok)
	fired := false
	qp.SetPending(cid, cidtable.Pending{
		Callback: func(completion *wire.CompletionEntry, arg any) { fired = true },
	})

	_, ok = qp.SubmitCmd(wire.SubmissionEntry{OPC: uint8(wire.OpcodeFlush), CID: cid, NSID: 1})
	require.True(t, ok)

	require.Eventually(t, func() bool {
		n, _ := qp.ProcessCompletions(1)
		return n == 1
	}, time.Second, time.Millisecond)
	assert.True(t, fired)
}

func TestAttachQueueRejectsMismatchedDepths(t *testing.T) {
	svc := sim.New(nil)
	_, doorbellReg := svc.AllocDoorbell()

	ctrl := New(0, svc, nil)
	_, err := ctrl.AttachQueue(1, make([]wire.SubmissionEntry, 8), make([]wire.CompletionEntry, 4), doorbellReg)
	assert.Error(t, err)
}

// alignedBuf returns a page-aligned pointer into a byte slice large enough
// to hold n bytes, the same over-allocate-then-align trick sim.Services
// uses for real allocations.
func alignedBuf(n int) uintptr {
	buf := make([]byte, n+constants.PageSize)
	base := uintptr(unsafe.Pointer(&buf[0]))
	return (base + constants.PageSize - 1) &^ (constants.PageSize - 1)
}

func TestGatherSegmentsSinglePartialPage(t *testing.T) {
	p := alignedBuf(constants.PageSize)

	segs := gatherSegments(uint64(p), 0, 100)
	require.Len(t, segs, 1)
	assert.Len(t, segs[0], 100)
}

func TestGatherSegmentsTwoPagesUsesPRP2Directly(t *testing.T) {
	p1 := alignedBuf(constants.PageSize)
	p2 := alignedBuf(constants.PageSize)

	segs := gatherSegments(uint64(p1), uint64(p2), constants.PageSize*2)
	require.Len(t, segs, 2)
	assert.Len(t, segs[0], constants.PageSize)
	assert.Len(t, segs[1], constants.PageSize)
}
