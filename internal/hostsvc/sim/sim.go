// Package sim implements hostsvc.Services against anonymous mmap regions
// instead of a real BAR-mapped NVMe controller, so the rest of the engine
// is exercisable without hardware or root. The anonymous-mmap technique is
// the same one the teacher's internal/queue.mmapQueues uses to stand in
// for device-owned memory; doorbell registers are modeled as plain
// in-process atomic cells rather than real MMIO, since there is no device
// on the other end to read them — internal/simctrl polls them directly.
package sim

import (
	"fmt"
	"sync"
	"sync/atomic"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/nvme-uq/nvmeuq/internal/constants"
	"github.com/nvme-uq/nvmeuq/internal/hostsvc"
)

// DoorbellRegister is a simulated MMIO doorbell cell: a value the producer
// stores into via Services.MMIOStore32 and the simulated controller reads
// back via Load.
type DoorbellRegister struct {
	value atomic.Uint32
}

// Load returns the register's current value.
func (r *DoorbellRegister) Load() uint32 { return r.value.Load() }

// Services is a hostsvc.Services implementation backed by anonymous,
// page-aligned mmap regions. It satisfies hostsvc.Services; the additional
// AllocDoorbell method is sim-specific plumbing the registry/controller
// wiring code uses when it stands up a queue pair.
type Services struct {
	mu        sync.Mutex
	mappings  map[uintptr][]byte
	doorbells map[uintptr]*DoorbellRegister
	trace     func(name string, fields map[string]any)
}

// New constructs a simulated host services instance. traceFn may be nil.
func New(traceFn func(name string, fields map[string]any)) *Services {
	return &Services{
		mappings:  make(map[uintptr][]byte),
		doorbells: make(map[uintptr]*DoorbellRegister),
		trace:     traceFn,
	}
}

var _ hostsvc.Services = (*Services)(nil)

// Phys returns virt unchanged: in this simulation, virtual and physical
// addresses are the same process's memory, since there is no IOMMU or
// real device doing DMA.
func (s *Services) Phys(virt uintptr) uint64 { return uint64(virt) }

// AllocPhysContiguousAligned maps a fresh anonymous region and returns an
// address aligned to alignment within it.
func (s *Services) AllocPhysContiguousAligned(size, alignment int) (uintptr, error) {
	mem, err := unix.Mmap(-1, 0, size+alignment, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		return 0, fmt.Errorf("hostsvc/sim: mmap %d bytes: %w", size, err)
	}
	base := uintptr(unsafe.Pointer(&mem[0]))
	aligned := (base + uintptr(alignment) - 1) &^ (uintptr(alignment) - 1)

	s.mu.Lock()
	s.mappings[aligned] = mem
	s.mu.Unlock()
	return aligned, nil
}

// FreePhysContiguousAligned unmaps a region obtained from
// AllocPhysContiguousAligned.
func (s *Services) FreePhysContiguousAligned(virt uintptr) {
	s.mu.Lock()
	mem, ok := s.mappings[virt]
	delete(s.mappings, virt)
	s.mu.Unlock()
	if ok {
		_ = unix.Munmap(mem)
	}
}

// AllocPage allocates one page-aligned, page-size block for use as a PRP
// list page.
func (s *Services) AllocPage() (uintptr, error) {
	return s.AllocPhysContiguousAligned(constants.PageSize, constants.PageSize)
}

// FreePage releases a page obtained from AllocPage.
func (s *Services) FreePage(virt uintptr) {
	s.FreePhysContiguousAligned(virt)
}

// AllocDoorbell creates a new simulated doorbell register and returns its
// synthetic address (for Services.MMIOStore32 / ring.Doorbell callbacks)
// alongside the register itself (for internal/simctrl to poll).
func (s *Services) AllocDoorbell() (uintptr, *DoorbellRegister) {
	reg := &DoorbellRegister{}
	addr := uintptr(unsafe.Pointer(reg))

	s.mu.Lock()
	s.doorbells[addr] = reg
	s.mu.Unlock()
	return addr, reg
}

// MMIOStore32 writes value into the doorbell register at addr, dropping
// the write silently if addr was never allocated via AllocDoorbell (a
// programmer error this simulation has no better way to surface).
func (s *Services) MMIOStore32(addr uintptr, value uint32) {
	s.mu.Lock()
	reg := s.doorbells[addr]
	s.mu.Unlock()

	if reg != nil {
		reg.value.Store(value)
	}
	s.Trace("mmio_store32", map[string]any{"addr": addr, "value": value})
}

// Trace emits a tracepoint if a trace function was configured.
func (s *Services) Trace(name string, fields map[string]any) {
	if s.trace != nil {
		s.trace(name, fields)
	}
}
