// Package cidtable implements the command-identifier table: a
// max_pending_levels × N grid of claimable slots keyed by the 16-bit
// command identifier, used to correlate a completion back to the request
// that produced it and to detect the transient collision window between
// an SQE being consumed by the device and its CQE being posted.
package cidtable

import (
	"sync/atomic"

	"github.com/nvme-uq/nvmeuq/internal/constants"
	"github.com/nvme-uq/nvmeuq/internal/wire"
)

// Pending is the record kept alive between a successful submission and
// the matching completion.
type Pending struct {
	Callback func(completion *wire.CompletionEntry, arg any)
	Arg      any
	ListPage uintptr // non-zero if a PRP list page was allocated
}

type cell struct {
	claimed atomic.Bool
	pending Pending
}

// Table is the row×column grid of pending-request cells. N is the queue
// depth (number of columns); rows are bounded by
// constants.MaxPendingLevels.
type Table struct {
	n     uint16
	cells []cell // len == n * constants.MaxPendingLevels
}

// New creates a CID table sized for an N-entry ring.
func New(n uint16) *Table {
	return &Table{
		n:     n,
		cells: make([]cell, int(n)*constants.MaxPendingLevels),
	}
}

// N returns the table's column count (the owning ring's capacity).
func (t *Table) N() uint16 { return t.n }

// Claim attempts to allocate a CID starting at the submission ring's
// current tail column, advancing the CID by N (one row) on each collision, per spec
// §4.3. It returns the claimed CID and true on success, or false if every
// row is already claimed for that column (back-pressure — the caller
// should drain completions and retry).
func (t *Table) Claim(col uint16) (cid uint16, ok bool) {
	for row := uint16(0); row < constants.MaxPendingLevels; row++ {
		idx := int(row)*int(t.n) + int(col)
		if t.cells[idx].claimed.CompareAndSwap(false, true) {
			return row*t.n + col, true
		}
	}
	return 0, false
}

// Set stores the pending record for a CID already claimed via Claim. It
// must be called before the command is handed to the ring, since the
// device may complete it before Set would otherwise run.
func (t *Table) Set(cid uint16, p Pending) {
	t.cells[t.index(cid)].pending = p
}

// Release looks up and releases the pending record for cid, returning it.
// The claim bit is cleared via CAS true→false so a concurrent claim cannot
// observe a half-released slot. ok is false if the slot was not claimed
// (a stale or duplicate completion).
func (t *Table) Release(cid uint16) (p Pending, ok bool) {
	c := &t.cells[t.index(cid)]
	p = c.pending
	ok = c.claimed.CompareAndSwap(true, false)
	return p, ok
}

func (t *Table) index(cid uint16) int {
	row := cid / t.n
	col := cid % t.n
	return int(row)*int(t.n) + int(col)
}

// Row and Col decompose a CID, exported for callers (e.g. tests) that want
// to reason about collision scenarios directly.
func (t *Table) Row(cid uint16) uint16 { return cid / t.n }
func (t *Table) Col(cid uint16) uint16 { return cid % t.n }
