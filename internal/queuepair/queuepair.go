// Package queuepair binds a submission ring and a completion ring into the
// single-producer/single-consumer unit described in spec §3 and §4.4–4.5:
// submit_cmd on the producer side, process_completions on the consumer
// side, with the CID table and PRP pool threaded through both.
package queuepair

import (
	"sync"
	"sync/atomic"

	"github.com/nvme-uq/nvmeuq/internal/cidtable"
	"github.com/nvme-uq/nvmeuq/internal/hostsvc"
	"github.com/nvme-uq/nvmeuq/internal/logging"
	"github.com/nvme-uq/nvmeuq/internal/prp"
	"github.com/nvme-uq/nvmeuq/internal/ring"
	"github.com/nvme-uq/nvmeuq/internal/wire"
)

// QueuePair owns one submission/completion ring pair, the CID table that
// correlates completions back to their submitter, and the PRP pool those
// submissions draw from. It is not safe for concurrent submitters or
// concurrent reapers; it is safe for one submitter and one reaper running
// concurrently with each other (spec §5).
type QueuePair struct {
	ControllerID int
	QueueID      int

	sq *ring.Ring[wire.SubmissionEntry]
	cq *ring.Ring[wire.CompletionEntry]

	phase  uint8 // consumer-owned only; starts at 1 per spec §6
	sqFull atomic.Bool

	cids    *cidtable.Table
	prpPool *prp.Pool
	svc     hostsvc.Services

	nsMu sync.RWMutex
	ns   map[uint32]*wire.Namespace

	log *logging.Logger
}

// New constructs a queue pair over caller-supplied, zero-initialized ring
// buffers (the controller's responsibility to allocate physically
// contiguous and page-aligned, per spec §3's lifecycle note) and doorbell
// callbacks bound to the controller's BAR.
func New(controllerID, queueID int, sqEntries []wire.SubmissionEntry, cqEntries []wire.CompletionEntry, sqDoorbell, cqDoorbell ring.Doorbell, svc hostsvc.Services, pool *prp.Pool, log *logging.Logger) *QueuePair {
	n := uint16(len(sqEntries))
	qp := &QueuePair{
		ControllerID: controllerID,
		QueueID:      queueID,
		phase:        1,
		cids:         cidtable.New(n),
		prpPool:      pool,
		svc:          svc,
		ns:           make(map[uint32]*wire.Namespace),
		log:          log,
	}
	qp.sq = ring.New(sqEntries, sqDoorbell)
	qp.cq = ring.New(cqEntries, cqDoorbell)
	return qp
}

// N returns the ring depth shared by the submission and completion rings.
func (qp *QueuePair) N() uint16 { return uint16(qp.sq.N()) }

// Full reports the latched sq_full flag (spec §3/§4.1). Callers that want
// to avoid burning a CID claim on a doomed submission should check this
// first.
func (qp *QueuePair) Full() bool { return qp.sqFull.Load() }

// Depth returns the number of commands currently outstanding on the
// submission ring (tail minus head, modulo N), for queue-depth metrics.
func (qp *QueuePair) Depth() int {
	n := qp.sq.N()
	return int((qp.sq.Tail() - qp.sq.Head() + n) % n)
}

// AddNamespace registers a namespace's geometry, normally done once at
// attach time via the admin queue's identify-namespace response.
func (qp *QueuePair) AddNamespace(ns *wire.Namespace) {
	qp.nsMu.Lock()
	defer qp.nsMu.Unlock()
	qp.ns[ns.NSID] = ns
}

// Namespace looks up a previously registered namespace.
func (qp *QueuePair) Namespace(nsid uint32) (*wire.Namespace, bool) {
	qp.nsMu.RLock()
	defer qp.nsMu.RUnlock()
	ns, ok := qp.ns[nsid]
	return ns, ok
}

// ClaimCID allocates a command identifier starting at the current
// submission tail, advancing the CID by N (one row) on collision, per spec §4.3.
func (qp *QueuePair) ClaimCID() (cid uint16, ok bool) {
	return qp.cids.Claim(uint16(qp.sq.Tail()))
}

// SetPending stores the record a completion will need once it arrives for
// cid. It must be called before SubmitCmd hands the entry to the ring.
func (qp *QueuePair) SetPending(cid uint16, p cidtable.Pending) {
	qp.cids.Set(cid, p)
}

// ReleaseCID clears the claim bit for cid without processing a completion,
// for callers that must unwind a claim after a submission they can no
// longer complete (e.g. an assembly failure discovered after claiming).
func (qp *QueuePair) ReleaseCID(cid uint16) {
	qp.cids.Release(cid)
}

// PRPPool exposes the pool so callers (internal/ioqueue) can assemble PRP
// descriptors against it before calling SubmitCmd.
func (qp *QueuePair) PRPPool() *prp.Pool { return qp.prpPool }

// HostServices exposes the injected host services so callers can assemble
// PRP descriptors against the same translation the queue pair uses.
func (qp *QueuePair) HostServices() hostsvc.Services { return qp.svc }

// SubmitCmd implements spec §4.4: reject outright if sq_full is latched,
// otherwise copy entry into the tail slot, advance the ring (which rings
// the doorbell), and latch sq_full if the advance collided with head. It
// returns the slot the entry was written to and whether the submission
// was accepted.
func (qp *QueuePair) SubmitCmd(entry wire.SubmissionEntry) (slot uint32, ok bool) {
	if qp.sqFull.Load() {
		return 0, false
	}
	slot = qp.sq.Tail()
	*qp.sq.Slot(slot) = entry
	qp.sq.AdvanceTail()
	if qp.sq.Full() {
		qp.sqFull.Store(true)
	}
	return slot, true
}

// ProcessCompletions implements spec §4.5. It reaps up to max completions
// (N if max ≤ 0), stopping early when the phase tag at the current head no
// longer matches the queue pair's expected phase. Returns the number of
// completions reaped.
func (qp *QueuePair) ProcessCompletions(max int) (int, error) {
	limit := max
	if max <= 0 {
		limit = int(qp.cq.N())
	}

	count := 0
	for i := 0; i < limit; i++ {
		entry := qp.cq.Slot(qp.cq.Head())
		if entry.Phase() != qp.phase {
			break
		}

		completion := *entry
		qp.cq.AdvanceHead(qp.toggleExpectedPhase)

		if changed := qp.sq.SetHead(uint32(completion.SQHD)); changed && qp.sqFull.Load() {
			qp.sqFull.Store(false)
		}

		if pending, ok := qp.cids.Release(completion.CID); ok {
			// PRP list page returned before the callback fires: it is
			// pool-owned, never handed to the callback, so the order
			// relative to the callback doesn't matter for correctness.
			if pending.ListPage != 0 {
				qp.prpPool.Put(qp.svc, pending.ListPage)
			}
			if pending.Callback != nil {
				pending.Callback(&completion, pending.Arg)
			}
		} else if qp.log != nil {
			qp.log.Warn("completion for unclaimed cid", "cid", completion.CID, "queue_id", qp.QueueID)
		}

		count++
	}
	return count, nil
}

func (qp *QueuePair) toggleExpectedPhase() {
	qp.phase ^= 1
}
