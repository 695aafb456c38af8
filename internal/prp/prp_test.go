package prp

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nvme-uq/nvmeuq/internal/constants"
)

// fakeSvc is a minimal hostsvc.Services stand-in for PRP assembly tests.
// It uses an identity virtual-to-physical mapping so assertions can reason
// about addresses directly, and it backs AllocPage with real Go memory so
// list-page writes are safe to dereference.
type fakeSvc struct {
	keepAlive [][]byte
	freed     []uintptr
}

func (f *fakeSvc) Phys(virt uintptr) uint64 { return uint64(virt) }

func (f *fakeSvc) AllocPhysContiguousAligned(size, alignment int) (uintptr, error) {
	return f.alloc(size, alignment)
}

func (f *fakeSvc) FreePhysContiguousAligned(virt uintptr) {}

func (f *fakeSvc) AllocPage() (uintptr, error) {
	return f.alloc(constants.PageSize, constants.PageSize)
}

func (f *fakeSvc) FreePage(virt uintptr) {
	f.freed = append(f.freed, virt)
}

func (f *fakeSvc) MMIOStore32(addr uintptr, value uint32) {}

func (f *fakeSvc) Trace(name string, fields map[string]any) {}

func (f *fakeSvc) alloc(size, alignment int) (uintptr, error) {
	buf := make([]byte, size+alignment)
	f.keepAlive = append(f.keepAlive, buf)
	addr := uintptr(unsafe.Pointer(&buf[0]))
	aligned := (addr + uintptr(alignment) - 1) &^ (uintptr(alignment) - 1)
	return aligned, nil
}

func newAlignedBuffer(t *testing.T, svc *fakeSvc, size int) uintptr {
	v, err := svc.alloc(size, constants.PageSize)
	require.NoError(t, err)
	return v
}

func TestAssembleSinglePage(t *testing.T) {
	svc := &fakeSvc{}
	pool := NewPool()
	v := newAlignedBuffer(t, svc, 4096)

	d, err := Assemble(svc, pool, v, 2000, constants.PageSize)
	require.NoError(t, err)
	assert.EqualValues(t, v, d.PRP1)
	assert.Zero(t, d.PRP2)
	assert.Zero(t, d.ListPage)
}

func TestAssembleExactlyTwoPagesNoListPage(t *testing.T) {
	svc := &fakeSvc{}
	pool := NewPool()
	v := newAlignedBuffer(t, svc, 8192)

	d, err := Assemble(svc, pool, v, 8192, constants.PageSize)
	require.NoError(t, err)
	assert.EqualValues(t, v, d.PRP1)
	assert.EqualValues(t, uint64(v)+constants.PageSize, d.PRP2)
	assert.Zero(t, d.ListPage, "a 2-page transfer must not allocate a list page")
}

func TestAssembleFourPagesUnalignedStart(t *testing.T) {
	svc := &fakeSvc{}
	pool := NewPool()
	base := newAlignedBuffer(t, svc, 4*constants.PageSize+constants.PageSize)
	v := base + 2048

	d, err := Assemble(svc, pool, v, 12*1024, constants.PageSize)
	require.NoError(t, err)
	assert.EqualValues(t, v, d.PRP1)
	require.NotZero(t, d.ListPage)
	assert.EqualValues(t, uint64(d.ListPage), d.PRP2)

	entries := (*[constants.PageSize / 8]uint64)(unsafe.Pointer(d.ListPage))
	assert.EqualValues(t, uint64(base)+constants.PageSize, entries[0])
	assert.EqualValues(t, uint64(base)+2*constants.PageSize, entries[1])
	assert.EqualValues(t, uint64(base)+3*constants.PageSize, entries[2])
}

func TestAssembleRejectsOversizedTransfer(t *testing.T) {
	svc := &fakeSvc{}
	pool := NewPool()
	v := newAlignedBuffer(t, svc, 513*constants.PageSize)

	_, err := Assemble(svc, pool, v, 513*constants.PageSize, constants.PageSize)
	assert.ErrorIs(t, err, ErrOversizedTransfer)
}

func TestPoolBoundedOverflowFrees(t *testing.T) {
	svc := &fakeSvc{}
	pool := NewPool()

	pages := make([]uintptr, 0, constants.PRPPoolSize+4)
	for i := 0; i < constants.PRPPoolSize+4; i++ {
		p, err := svc.AllocPage()
		require.NoError(t, err)
		pages = append(pages, p)
	}

	for _, p := range pages {
		pool.Put(svc, p)
	}

	assert.Len(t, svc.freed, 4, "pages beyond the bounded pool capacity must be freed, not retained")

	seen := 0
	for {
		p, err := pool.Get(svc)
		require.NoError(t, err)
		seen++
		if seen > constants.PRPPoolSize {
			break
		}
		_ = p
	}
}
