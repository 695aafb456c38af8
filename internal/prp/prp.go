// Package prp assembles NVMe PRP (Physical Region Page) descriptors from a
// caller's virtual payload range, and maintains the bounded free-list pool
// of PRP list pages those descriptors sometimes require.
//
// The algorithm and the 512-page hard cap are taken directly from spec
// §4.2; the pool's bounded, overflow-free behavior resolves the open
// question in spec §9 about which of the original's two PRP-pool variants
// to keep.
package prp

import (
	"fmt"
	"sync/atomic"
	"unsafe"

	"github.com/golang-design/lockfree"

	"github.com/nvme-uq/nvmeuq/internal/constants"
	"github.com/nvme-uq/nvmeuq/internal/hostsvc"
)

// ErrOversizedTransfer is returned when a payload would require more PRP
// list entries than a single list page can address.
var ErrOversizedTransfer = fmt.Errorf("prp: transfer exceeds %d pages (2 MiB PRP-list cap)", constants.MaxPRPListPages)

// Descriptor holds the PRP1/PRP2 fields to place in a submission entry and,
// for transfers spanning more than two pages, the list page that was
// allocated to hold the remaining physical addresses.
type Descriptor struct {
	PRP1 uint64
	PRP2 uint64

	// ListPage is non-zero when a PRP list page was allocated; it must be
	// returned to the Pool (or freed) once the command completes.
	ListPage uintptr
}

// alignDown rounds addr down to the nearest multiple of size.
func alignDown(addr uintptr, size uintptr) uintptr {
	return addr &^ (size - 1)
}

// Assemble implements the five-step PRP construction algorithm in spec
// §4.2 for a payload starting at virtual address v spanning length bytes.
// pageSize is always constants.PageSize in production; it is a parameter
// here purely so tests can exercise alignment edge cases without needing a
// full page's worth of buffer.
func Assemble(svc hostsvc.Services, pool *Pool, v uintptr, length uint32, pageSize uintptr) (Descriptor, error) {
	start := alignDown(v, pageSize)
	end := v + uintptr(length)
	pages := (end-start+pageSize-1)/pageSize
	if start == end {
		pages = 1
	}

	if pages > constants.MaxPRPListPages {
		return Descriptor{}, ErrOversizedTransfer
	}

	d := Descriptor{PRP1: svc.Phys(v)}

	switch {
	case pages == 1:
		// PRP1 alone addresses the whole transfer.
	case pages == 2:
		d.PRP2 = svc.Phys(alignDown(v+pageSize, pageSize))
	default:
		listPage, err := pool.Get(svc)
		if err != nil {
			return Descriptor{}, err
		}
		entries := (*[constants.PageSize / 8]uint64)(unsafe.Pointer(listPage))
		pageStart := alignDown(v, pageSize) + pageSize
		for k := 0; k < int(pages)-1; k++ {
			entries[k] = svc.Phys(pageStart)
			pageStart += pageSize
		}
		d.PRP2 = svc.Phys(listPage)
		d.ListPage = listPage
	}

	return d, nil
}

// Pool is a bounded free-list of PRP list pages. It is backed by a
// lock-free freelist stack (golang-design/lockfree.Stack) with an
// occupancy counter enforcing the spec's fixed 16-slot bound: pushes
// beyond the bound free the page via hostsvc.Services.FreePage instead of
// retaining it, matching the "bounded ring, overflow-free" resolution
// recorded in DESIGN.md rather than the original's inconsistent
// free-every-page variant.
type Pool struct {
	stack    *lockfree.Stack
	size     atomic.Int32
	capacity int32
}

// NewPool creates a PRP list page pool bounded to constants.PRPPoolSize
// entries.
func NewPool() *Pool {
	return &Pool{
		stack:    lockfree.NewStack(),
		capacity: constants.PRPPoolSize,
	}
}

// Get returns a free list page, allocating a fresh one via svc if the pool
// is empty.
func (p *Pool) Get(svc hostsvc.Services) (uintptr, error) {
	if v := p.stack.Pop(); v != nil {
		p.size.Add(-1)
		return v.(uintptr), nil
	}
	return svc.AllocPage()
}

// Put returns a list page to the pool, or frees it via svc if the pool is
// already at capacity.
func (p *Pool) Put(svc hostsvc.Services, page uintptr) {
	if page == 0 {
		return
	}
	if p.size.Add(1) > p.capacity {
		p.size.Add(-1)
		svc.FreePage(page)
		return
	}
	p.stack.Push(page)
}
