// Package ioqueue implements the I/O user queue: the public contract
// external storage engines actually drive (spec §4.6), layering read/
// write/flush encoding, PRP assembly, and the back-pressure contract on
// top of a bare queuepair.QueuePair.
package ioqueue

import (
	"fmt"
	"time"

	"github.com/nvme-uq/nvmeuq/internal/cidtable"
	"github.com/nvme-uq/nvmeuq/internal/constants"
	"github.com/nvme-uq/nvmeuq/internal/logging"
	"github.com/nvme-uq/nvmeuq/internal/prp"
	"github.com/nvme-uq/nvmeuq/internal/queuepair"
	"github.com/nvme-uq/nvmeuq/internal/wire"
)

// Observer receives submit/completion instrumentation from a Queue. It
// has the same method set as the root package's Observer interface;
// defined again here, rather than imported, so this package never
// depends on the root package (which already imports this one). Any
// *nvmeuq.MetricsObserver satisfies this interface structurally.
type Observer interface {
	ObserveRead(bytes, latencyNs uint64, success bool)
	ObserveWrite(bytes, latencyNs uint64, success bool)
	ObserveFlush(latencyNs uint64, success bool)
	ObserveBackpressure()
	ObserveQueueDepth(depth uint32)
}

type noopObserver struct{}

func (noopObserver) ObserveRead(uint64, uint64, bool)  {}
func (noopObserver) ObserveWrite(uint64, uint64, bool) {}
func (noopObserver) ObserveFlush(uint64, bool)         {}
func (noopObserver) ObserveBackpressure()              {}
func (noopObserver) ObserveQueueDepth(uint32)          {}

// Op identifies the operation submit_request encodes.
type Op int

const (
	OpRead Op = iota
	OpWrite
	OpFlush
)

// Callback is invoked once per completed command, carrying the raw
// completion entry so the caller can inspect status itself.
type Callback func(completion *wire.CompletionEntry, arg any)

// Result is the submit_request outcome vocabulary from spec §4.6 and §7.
type Result int

const (
	// ResultSubmitted means the command was accepted onto the ring.
	ResultSubmitted Result = 1
	// ResultBackpressure means the ring or the CID table had no room; not
	// an error, the caller must drain and retry.
	ResultBackpressure Result = 0
	// ResultUnsupportedOpcode and ResultOversizedTransfer are negative,
	// distinct rejection codes, never retried by the core.
	ResultUnsupportedOpcode Result = -1
	ResultOversizedTransfer Result = -2
)

// Queue is the I/O user queue bound to a single queue pair.
type Queue struct {
	qp  *queuepair.QueuePair
	log *logging.Logger
	obs Observer
}

// New wraps an already-constructed queue pair as an I/O user queue.
func New(qp *queuepair.QueuePair, log *logging.Logger) *Queue {
	return &Queue{qp: qp, log: log, obs: noopObserver{}}
}

// SetObserver installs obs to receive submit/completion counts from this
// queue from then on; a nil obs reverts to recording nothing.
func (q *Queue) SetObserver(obs Observer) {
	if obs == nil {
		obs = noopObserver{}
	}
	q.obs = obs
}

// AddNamespace registers namespace geometry the queue needs to convert
// byte offsets/lengths into LBA/NLB pairs.
func (q *Queue) AddNamespace(ns *wire.Namespace) { q.qp.AddNamespace(ns) }

// SubmitRequest implements spec §4.6: encodes an NVMe read/write/flush
// submission entry from a caller payload and hands it to the queue pair.
// payload must stay live and physically pinned until cb fires; cb must be
// non-nil for READ/WRITE.
func (q *Queue) SubmitRequest(nsid uint32, payload uintptr, byteAddr uint64, byteLen uint32, cb Callback, cbArg any, op Op) (Result, error) {
	if op != OpFlush && cb == nil {
		return ResultUnsupportedOpcode, fmt.Errorf("ioqueue: callback required for op %v", op)
	}

	opcode, err := encodeOpcode(op)
	if err != nil {
		return ResultUnsupportedOpcode, err
	}

	ns, ok := q.qp.Namespace(nsid)
	if !ok {
		return ResultUnsupportedOpcode, fmt.Errorf("ioqueue: unknown namespace %d", nsid)
	}

	if q.qp.Full() {
		q.obs.ObserveBackpressure()
		return ResultBackpressure, nil
	}

	cid, ok := q.qp.ClaimCID()
	if !ok {
		q.obs.ObserveBackpressure()
		return ResultBackpressure, nil
	}

	entry := wire.SubmissionEntry{
		OPC:  uint8(opcode),
		CID:  cid,
		NSID: nsid,
	}

	var listPage uintptr
	if op != OpFlush {
		desc, err := prp.Assemble(q.qp.HostServices(), q.qp.PRPPool(), payload, byteLen, constants.PageSize)
		if err != nil {
			q.qp.ReleaseCID(cid)
			return ResultOversizedTransfer, err
		}
		entry.PRP1 = desc.PRP1
		entry.PRP2 = desc.PRP2
		listPage = desc.ListPage

		entry.SLBA = ns.ByteToLBA(byteAddr)
		entry.NLB = ns.ByteLenToNLB(byteLen)
	}

	submittedAt := time.Now()
	q.qp.SetPending(cid, cidtable.Pending{
		Callback: func(completion *wire.CompletionEntry, arg any) {
			q.observeCompletion(op, byteLen, submittedAt, completion)
			if cb != nil {
				cb(completion, arg)
			}
		},
		Arg:      cbArg,
		ListPage: listPage,
	})

	if _, ok := q.qp.SubmitCmd(entry); !ok {
		q.qp.ReleaseCID(cid)
		q.obs.ObserveBackpressure()
		return ResultBackpressure, nil
	}

	q.obs.ObserveQueueDepth(uint32(q.qp.Depth()))

	if q.log != nil {
		q.log.WithCID(cid, opName(op)).Debug("submitted")
	}
	return ResultSubmitted, nil
}

// observeCompletion records a completed command's outcome into the
// queue's observer once its completion entry arrives.
func (q *Queue) observeCompletion(op Op, byteLen uint32, submittedAt time.Time, completion *wire.CompletionEntry) {
	latencyNs := uint64(time.Since(submittedAt))
	success := !completion.IsError()
	switch op {
	case OpRead:
		q.obs.ObserveRead(uint64(byteLen), latencyNs, success)
	case OpWrite:
		q.obs.ObserveWrite(uint64(byteLen), latencyNs, success)
	case OpFlush:
		q.obs.ObserveFlush(latencyNs, success)
	}
}

// ProcessCompletions implements spec §4.6's poll half of the contract.
func (q *Queue) ProcessCompletions(max int) (int, error) {
	return q.qp.ProcessCompletions(max)
}

func encodeOpcode(op Op) (wire.Opcode, error) {
	switch op {
	case OpRead:
		return wire.OpcodeRead, nil
	case OpWrite:
		return wire.OpcodeWrite, nil
	case OpFlush:
		return wire.OpcodeFlush, nil
	default:
		return 0, fmt.Errorf("ioqueue: unsupported opcode %v", op)
	}
}

func opName(op Op) string {
	switch op {
	case OpRead:
		return "READ"
	case OpWrite:
		return "WRITE"
	case OpFlush:
		return "FLUSH"
	default:
		return "UNKNOWN"
	}
}
