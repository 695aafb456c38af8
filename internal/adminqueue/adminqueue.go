// Package adminqueue implements the blocking admin-queue request/response
// pattern (spec §4.7): a single outstanding command at a time, with typed
// wrappers for the handful of admin commands the rest of the engine needs
// to bring a controller and its namespaces up.
package adminqueue

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/nvme-uq/nvmeuq/internal/cidtable"
	"github.com/nvme-uq/nvmeuq/internal/queuepair"
	"github.com/nvme-uq/nvmeuq/internal/wire"
)

// Queue is the admin queue pair specialization. Only one command may be
// outstanding at a time; submitMu enforces that regardless of how many
// goroutines call into it concurrently.
type Queue struct {
	qp       *queuepair.QueuePair
	submitMu sync.Mutex
}

// New wraps an already-constructed queue pair as an admin queue.
func New(qp *queuepair.QueuePair) *Queue {
	return &Queue{qp: qp}
}

// SubmitAndWait implements submit_and_return_on_completion: it issues cmd,
// parks the caller on a handle, and returns the 16-byte completion entry
// by value once the reaper wakes it. The caller is responsible for
// actually calling ProcessCompletions from some goroutine (typically a
// dedicated reaper); this call only blocks on the channel, it does not
// poll.
func (q *Queue) SubmitAndWait(ctx context.Context, cmd wire.SubmissionEntry) (wire.CompletionEntry, error) {
	q.submitMu.Lock()
	defer q.submitMu.Unlock()

	cid, ok := q.qp.ClaimCID()
	if !ok {
		return wire.CompletionEntry{}, fmt.Errorf("adminqueue: no command slot available")
	}
	cmd.CID = cid

	done := make(chan wire.CompletionEntry, 1)
	q.qp.SetPending(cid, cidtable.Pending{
		Callback: func(completion *wire.CompletionEntry, arg any) {
			arg.(chan wire.CompletionEntry) <- *completion
		},
		Arg: done,
	})

	if _, ok := q.qp.SubmitCmd(cmd); !ok {
		q.qp.ReleaseCID(cid)
		return wire.CompletionEntry{}, fmt.Errorf("adminqueue: admin ring is full, cannot have more than one outstanding command")
	}

	select {
	case completion := <-done:
		return completion, nil
	case <-ctx.Done():
		return wire.CompletionEntry{}, ctx.Err()
	}
}

// IdentifyController issues CNS=1 identify and returns the raw data
// buffer's physical descriptor by way of PRP1/PRP2 already set by the
// caller; it only wraps opcode/CDW10 encoding.
func (q *Queue) IdentifyController(ctx context.Context, prp1, prp2 uint64) (wire.CompletionEntry, error) {
	cmd := wire.SubmissionEntry{OPC: uint8(wire.AdminOpcodeIdentify), PRP1: prp1, PRP2: prp2, CDW13: 1}
	return q.SubmitAndWait(ctx, cmd)
}

// IdentifyNamespace issues CNS=0 identify for nsid and returns the
// completion; the caller reads the identify data back out of the buffer
// it pointed prp1/prp2 at.
func (q *Queue) IdentifyNamespace(ctx context.Context, nsid uint32, prp1, prp2 uint64) (wire.CompletionEntry, error) {
	cmd := wire.SubmissionEntry{OPC: uint8(wire.AdminOpcodeIdentify), NSID: nsid, PRP1: prp1, PRP2: prp2, CDW13: 0}
	return q.SubmitAndWait(ctx, cmd)
}

// Feature identifiers used by SetFeatures/GetFeatures, per the NVMe base
// spec's Features table.
const (
	FeatureNumberOfQueues      uint32 = 0x07
	FeatureInterruptCoalescing uint32 = 0x08
	FeatureVolatileWriteCache  uint32 = 0x06
)

// SetFeatures issues a set-features admin command for featureID with a
// raw DWORD value (e.g. queue counts packed as two 16-bit halves, or a
// single bit for the write-cache toggle).
func (q *Queue) SetFeatures(ctx context.Context, featureID uint32, value uint32) (wire.CompletionEntry, error) {
	cmd := wire.SubmissionEntry{
		OPC:   uint8(wire.AdminOpcodeSetFeatures),
		CDW13: featureID,
		CDW14: value,
	}
	return q.SubmitAndWait(ctx, cmd)
}

// GetFeatures issues a get-features admin command and returns the
// feature's current value from the completion's DW0 field.
func (q *Queue) GetFeatures(ctx context.Context, featureID uint32) (uint32, error) {
	cmd := wire.SubmissionEntry{OPC: uint8(wire.AdminOpcodeGetFeatures), CDW13: featureID}
	completion, err := q.SubmitAndWait(ctx, cmd)
	if err != nil {
		return 0, err
	}
	if completion.IsError() {
		return 0, fmt.Errorf("adminqueue: get-features failed: sc=%d sct=%d", completion.StatusCode(), completion.StatusCodeType())
	}
	return completion.DW0, nil
}

// CreateCompletionQueue issues the create-completion-queue admin command
// for a newly allocated I/O completion ring at base (the physical address
// of its first entry), queueID, and size entries.
func (q *Queue) CreateCompletionQueue(ctx context.Context, queueID uint16, size uint16, base uint64) (wire.CompletionEntry, error) {
	cmd := wire.SubmissionEntry{
		OPC:  uint8(wire.AdminOpcodeCreateCQ),
		PRP1: base,
		CDW13: packQueueSizeAndID(size, queueID),
	}
	return q.SubmitAndWait(ctx, cmd)
}

// CreateSubmissionQueue issues the create-submission-queue admin command,
// binding the new submission ring to the completion queue cqID.
func (q *Queue) CreateSubmissionQueue(ctx context.Context, queueID uint16, size uint16, base uint64, cqID uint16) (wire.CompletionEntry, error) {
	cmd := wire.SubmissionEntry{
		OPC:   uint8(wire.AdminOpcodeCreateSQ),
		PRP1:  base,
		CDW13: packQueueSizeAndID(size, queueID),
		CDW14: uint32(cqID),
	}
	return q.SubmitAndWait(ctx, cmd)
}

// packQueueSizeAndID matches the NVMe base spec's CDW10 encoding for both
// create-queue commands: queue identifier in bits 0:15, queue size minus
// one in bits 16:31.
func packQueueSizeAndID(size uint16, queueID uint16) uint32 {
	var buf [4]byte
	binary.LittleEndian.PutUint16(buf[0:2], queueID)
	binary.LittleEndian.PutUint16(buf[2:4], size-1)
	return binary.LittleEndian.Uint32(buf[:])
}
