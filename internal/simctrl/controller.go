// Package simctrl implements a simulated NVMe controller: the device side
// of the ring protocol, standing in for real silicon so the queue engine
// is exercisable end to end. It drains submission rings on a per-queue
// goroutine (the teacher's internal/queue.Runner.ioLoop shape), performs
// the corresponding read/write/flush against an in-memory namespace
// backend (the teacher's backend.Memory shape), and posts completions
// back into the shared completion ring.
package simctrl

import (
	"fmt"
	"sync"
	"time"
	"unsafe"

	"github.com/nvme-uq/nvmeuq/internal/constants"
	"github.com/nvme-uq/nvmeuq/internal/hostsvc/sim"
	"github.com/nvme-uq/nvmeuq/internal/logging"
	"github.com/nvme-uq/nvmeuq/internal/prp"
	"github.com/nvme-uq/nvmeuq/internal/queuepair"
	"github.com/nvme-uq/nvmeuq/internal/wire"
)

// Status codes this simulated controller reports in a completion's SC
// field. Real NVMe status codes are much richer; these are the handful
// the engine's error-handling design (spec §7) actually distinguishes.
const (
	StatusSuccess       uint16 = 0x00
	StatusInvalidField  uint16 = 0x02
	StatusInvalidNSID   uint16 = 0x0B
	StatusInternalError uint16 = 0x06
)

type namespaceState struct {
	ns      *wire.Namespace
	storage Storage
}

type drainedQueue struct {
	queueID   int
	sq        []wire.SubmissionEntry
	cq        []wire.CompletionEntry
	n         uint32
	tailReg   *sim.DoorbellRegister
	localHead uint32
	cqTail    uint32
	phase     uint8
	stop      chan struct{}
}

// Controller is a simulated NVMe controller: a namespace map plus a set
// of queue pairs it drains. Safe for concurrent AddNamespace/AttachQueue
// calls; each attached queue is drained by its own goroutine, matching
// the single-producer/single-consumer contract each queue pair imposes.
type Controller struct {
	id  int
	svc *sim.Services

	mu         sync.RWMutex
	namespaces map[uint32]*namespaceState
	queues     map[int]*drainedQueue

	log *logging.Logger
}

// New constructs a simulated controller with no namespaces or queues yet
// attached. svc provides the doorbell registers CreateQueuePair allocates
// for each queue pair it stands up.
func New(id int, svc *sim.Services, log *logging.Logger) *Controller {
	return &Controller{
		id:         id,
		svc:        svc,
		namespaces: make(map[uint32]*namespaceState),
		queues:     make(map[int]*drainedQueue),
		log:        log,
	}
}

// ID returns the identifier passed to New. The registry assigns its own
// id on Attach and does not use this one.
func (c *Controller) ID() int { return c.id }

// CreateQueuePair allocates a fresh submission/completion ring pair and a
// simulated doorbell register, binds them into a queuepair.QueuePair, and
// starts draining the submission side with this controller. The returned
// func tears the queue pair down; it must be called exactly once.
func (c *Controller) CreateQueuePair(queueID int, size int) (*queuepair.QueuePair, func() error, error) {
	sq := make([]wire.SubmissionEntry, size)
	cq := make([]wire.CompletionEntry, size)

	doorbellAddr, doorbellReg := c.svc.AllocDoorbell()
	sqDoorbell := func(tail uint32) { c.svc.MMIOStore32(doorbellAddr, tail) }

	stop, err := c.AttachQueue(queueID, sq, cq, doorbellReg)
	if err != nil {
		return nil, nil, err
	}

	qp := queuepair.New(c.id, queueID, sq, cq, sqDoorbell, nil, c.svc, prp.NewPool(), c.log)
	return qp, func() error { stop(); return nil }, nil
}

// AddNamespace registers a namespace's geometry and backing storage. It
// returns the wire.Namespace record so callers can hand it to
// ioqueue.Queue.AddNamespace to keep both sides of the simulation in sync
// with the same geometry a real identify-namespace would have returned.
func (c *Controller) AddNamespace(nsid uint32, blockSize uint32, blockCount uint64, storage Storage) *wire.Namespace {
	shift := uint8(0)
	for bs := blockSize; bs > 1; bs >>= 1 {
		shift++
	}

	ns := &wire.Namespace{
		NSID:               nsid,
		BlockShift:         shift,
		BlockSize:          blockSize,
		BlockCount:         blockCount,
		VolatileWriteCache: constants.DefaultVolatileWriteCache,
		MaxTransferPages:   constants.MaxPRPListPages,
	}

	c.mu.Lock()
	c.namespaces[nsid] = &namespaceState{ns: ns, storage: storage}
	c.mu.Unlock()
	return ns
}

// AttachQueue starts draining sq/cq, the exact slices backing a
// queuepair.QueuePair's rings (shared DMA-capable memory in this
// simulation), using tailReg to observe the host's submission doorbell
// writes. It returns a stop function the caller must call to tear the
// queue down.
func (c *Controller) AttachQueue(queueID int, sq []wire.SubmissionEntry, cq []wire.CompletionEntry, tailReg *sim.DoorbellRegister) (stop func(), err error) {
	if len(sq) != len(cq) {
		return nil, fmt.Errorf("simctrl: sq/cq depth mismatch (%d vs %d)", len(sq), len(cq))
	}

	dq := &drainedQueue{
		queueID: queueID,
		sq:      sq,
		cq:      cq,
		n:       uint32(len(sq)),
		tailReg: tailReg,
		phase:   1,
		stop:    make(chan struct{}),
	}

	c.mu.Lock()
	c.queues[queueID] = dq
	c.mu.Unlock()

	go c.drainLoop(dq)

	return func() {
		close(dq.stop)
		c.mu.Lock()
		delete(c.queues, queueID)
		c.mu.Unlock()
	}, nil
}

func (c *Controller) drainLoop(dq *drainedQueue) {
	ticker := time.NewTicker(100 * time.Microsecond)
	defer ticker.Stop()

	for {
		select {
		case <-dq.stop:
			return
		case <-ticker.C:
			tail := dq.tailReg.Load()
			for dq.localHead != tail {
				entry := dq.sq[dq.localHead]
				dq.localHead = (dq.localHead + 1) % dq.n
				c.execute(dq, entry)
			}
		}
	}
}

// execute decodes entry.OPC against the I/O opcode set. drainLoop is only
// ever started for I/O queue pairs (see CreateQueuePair); it must never be
// pointed at an admin queue, whose opcodes share the same numeric range
// but mean something else entirely (see wire.AdminOpcodeCreateSQ).
func (c *Controller) execute(dq *drainedQueue, entry wire.SubmissionEntry) {
	var status uint16

	switch wire.Opcode(entry.OPC) {
	case wire.OpcodeFlush:
		status = c.doFlush(entry.NSID)
	case wire.OpcodeRead:
		status = c.doTransfer(entry, true)
	case wire.OpcodeWrite:
		status = c.doTransfer(entry, false)
	default:
		status = StatusInvalidField
	}

	c.postCompletion(dq, entry.CID, status)
}

func (c *Controller) doFlush(nsid uint32) uint16 {
	ns := c.namespace(nsid)
	if ns == nil {
		return StatusInvalidNSID
	}
	if err := ns.storage.Flush(); err != nil {
		return StatusInternalError
	}
	return StatusSuccess
}

func (c *Controller) doTransfer(entry wire.SubmissionEntry, isRead bool) uint16 {
	ns := c.namespace(entry.NSID)
	if ns == nil {
		return StatusInvalidNSID
	}

	length := (uint32(entry.NLB) + 1) * ns.ns.BlockSize
	segments := gatherSegments(entry.PRP1, entry.PRP2, length)
	off := int64(entry.SLBA) * int64(ns.ns.BlockSize)

	pos := off
	for _, seg := range segments {
		var n int
		var err error
		if isRead {
			n, err = ns.storage.ReadAt(seg, pos)
		} else {
			n, err = ns.storage.WriteAt(seg, pos)
		}
		pos += int64(n)
		if err != nil {
			return StatusInternalError
		}
	}
	return StatusSuccess
}

func (c *Controller) postCompletion(dq *drainedQueue, cid uint16, status uint16) {
	completion := wire.CompletionEntry{
		CID:    cid,
		SQHD:   uint16(dq.localHead),
		Status: status << 1,
	}
	completion.SetPhase(dq.phase)

	dq.cq[dq.cqTail] = completion
	dq.cqTail = (dq.cqTail + 1) % dq.n
	if dq.cqTail == 0 {
		dq.phase ^= 1
	}
}

func (c *Controller) namespace(nsid uint32) *namespaceState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.namespaces[nsid]
}

// gatherSegments reconstructs the byte-slice views a PRP1/PRP2 descriptor
// addresses, for a transfer of the given total length. Since this
// simulation's hostsvc.Phys is the identity function, PRP1/PRP2 and any
// list-page entries are themselves usable Go pointers.
func gatherSegments(prp1, prp2 uint64, totalLen uint32) [][]byte {
	pageSize := uint64(constants.PageSize)

	firstLen := pageSize - (prp1 % pageSize)
	if uint64(totalLen) < firstLen {
		firstLen = uint64(totalLen)
	}
	segments := [][]byte{ptrSlice(uintptr(prp1), int(firstLen))}

	remaining := totalLen - uint32(firstLen)
	if remaining == 0 {
		return segments
	}
	if uint64(remaining) <= pageSize {
		return append(segments, ptrSlice(uintptr(prp2), int(remaining)))
	}

	listEntries := (*[constants.PageSize / 8]uint64)(unsafe.Pointer(uintptr(prp2)))
	for idx := 0; remaining > 0; idx++ {
		segLen := pageSize
		if uint64(remaining) < pageSize {
			segLen = uint64(remaining)
		}
		segments = append(segments, ptrSlice(uintptr(listEntries[idx]), int(segLen)))
		remaining -= uint32(segLen)
	}
	return segments
}

func ptrSlice(p uintptr, n int) []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(p)), n)
}
