// Package hostsvc defines the opaque host services the NVMe queue engine
// consumes but does not implement: physical-address translation, phys page
// allocation, MMIO doorbell stores, and a tracepoint sink. These are the
// external collaborators named in spec §6; PCIe enumeration, controller
// probing, and virtual-to-physical translation live outside this module
// entirely.
package hostsvc

// Services is the set of host-provided primitives the queue pair, PRP
// assembler, and admin queue are built against. Production code would
// implement this against real BAR-mapped MMIO and a physical page
// allocator; internal/hostsvc/sim implements it against anonymous mmap
// for tests, the CLI, and examples.
type Services interface {
	// Phys translates a virtual address to the physical address the
	// device should see in a PRP entry.
	Phys(virt uintptr) uint64

	// AllocPhysContiguousAligned allocates size bytes of physically
	// contiguous, alignment-aligned memory and returns its virtual
	// address.
	AllocPhysContiguousAligned(size, alignment int) (uintptr, error)

	// FreePhysContiguousAligned releases memory obtained from
	// AllocPhysContiguousAligned.
	FreePhysContiguousAligned(virt uintptr)

	// AllocPage allocates one page-size, page-aligned block, for use as a
	// PRP list page.
	AllocPage() (uintptr, error)

	// FreePage releases a page obtained from AllocPage.
	FreePage(virt uintptr)

	// MMIOStore32 performs a 32-bit MMIO store to a doorbell register.
	MMIOStore32(addr uintptr, value uint32)

	// Trace emits a tracepoint-style diagnostic. Implementations must
	// never block or allocate on the hot submission/completion path in a
	// way that could stall the producer/consumer contract.
	Trace(name string, fields map[string]any)
}
