package nvmeuq

import (
	"sync"

	"github.com/nvme-uq/nvmeuq/internal/hostsvc"
	"github.com/nvme-uq/nvmeuq/internal/prp"
	"github.com/nvme-uq/nvmeuq/internal/queuepair"
	"github.com/nvme-uq/nvmeuq/internal/wire"
)

// MockHostServices implements hostsvc.Services entirely in plain Go
// slices, with no mmap or real MMIO involved. It exists for unit tests
// that want to drive a queuepair.QueuePair directly without bringing up
// internal/simctrl's goroutine-backed simulated device, the same
// role the teacher's MockBackend plays for its Backend interface.
type MockHostServices struct {
	mu sync.Mutex

	pages    map[uintptr][]byte
	nextPage uintptr

	doorbellWrites []DoorbellWrite
	traces         []TraceCall
}

// DoorbellWrite records one MMIOStore32 call for later assertion.
type DoorbellWrite struct {
	Addr  uintptr
	Value uint32
}

// TraceCall records one Trace call for later assertion.
type TraceCall struct {
	Name   string
	Fields map[string]any
}

func NewMockHostServices() *MockHostServices {
	return &MockHostServices{
		pages:    make(map[uintptr][]byte),
		nextPage: 0x1000,
	}
}

func (m *MockHostServices) Phys(virt uintptr) uint64 { return uint64(virt) }

func (m *MockHostServices) AllocPhysContiguousAligned(size, alignment int) (uintptr, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	addr := m.nextPage
	m.nextPage += uintptr(size) + uintptr(alignment)
	m.pages[addr] = make([]byte, size)
	return addr, nil
}

func (m *MockHostServices) FreePhysContiguousAligned(virt uintptr) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.pages, virt)
}

func (m *MockHostServices) AllocPage() (uintptr, error) {
	return m.AllocPhysContiguousAligned(PageSize, PageSize)
}

func (m *MockHostServices) FreePage(virt uintptr) { m.FreePhysContiguousAligned(virt) }

func (m *MockHostServices) MMIOStore32(addr uintptr, value uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.doorbellWrites = append(m.doorbellWrites, DoorbellWrite{Addr: addr, Value: value})
}

func (m *MockHostServices) Trace(name string, fields map[string]any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.traces = append(m.traces, TraceCall{Name: name, Fields: fields})
}

// DoorbellWrites returns a copy of every MMIOStore32 call recorded so far.
func (m *MockHostServices) DoorbellWrites() []DoorbellWrite {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]DoorbellWrite, len(m.doorbellWrites))
	copy(out, m.doorbellWrites)
	return out
}

// Traces returns a copy of every Trace call recorded so far.
func (m *MockHostServices) Traces() []TraceCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]TraceCall, len(m.traces))
	copy(out, m.traces)
	return out
}

// LastDoorbellValue returns the value of the most recent MMIOStore32 call,
// or false if none has happened yet.
func (m *MockHostServices) LastDoorbellValue() (uint32, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.doorbellWrites) == 0 {
		return 0, false
	}
	return m.doorbellWrites[len(m.doorbellWrites)-1].Value, true
}

var _ hostsvc.Services = (*MockHostServices)(nil)

// MockController implements registry.Controller without any real or
// simulated device behind it: CreateQueuePair just wires up a fresh
// queuepair.QueuePair over a MockHostServices and returns a no-op
// teardown. It is for registry- and op-dispatch-level tests that don't
// care whether anything ever drains the submission ring.
type MockController struct {
	id  int
	svc *MockHostServices

	mu            sync.Mutex
	created       []int // queue IDs handed to CreateQueuePair, in order
	createdSizes  []int // ring depths handed to CreateQueuePair, same order
	torndown      []int
	failNextQueue bool
	failErr       error
	lastCQ        []wire.CompletionEntry
}

func NewMockController(id int) *MockController {
	return &MockController{id: id, svc: NewMockHostServices()}
}

func (c *MockController) ID() int { return c.id }

// FailNextCreate makes the next CreateQueuePair call return err instead
// of succeeding, for exercising the registry's and dispatcher's error
// paths.
func (c *MockController) FailNextCreate(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failNextQueue = true
	c.failErr = err
}

func (c *MockController) CreateQueuePair(queueID int, size int) (*queuepair.QueuePair, func() error, error) {
	c.mu.Lock()
	if c.failNextQueue {
		c.failNextQueue = false
		err := c.failErr
		c.mu.Unlock()
		if err == nil {
			err = ErrTransport
		}
		return nil, nil, err
	}
	c.created = append(c.created, queueID)
	c.createdSizes = append(c.createdSizes, size)
	c.mu.Unlock()

	sq := make([]wire.SubmissionEntry, size)
	cq := make([]wire.CompletionEntry, size)
	qp := queuepair.New(c.id, queueID, sq, cq, nil, nil, c.svc, prp.NewPool(), nil)

	c.mu.Lock()
	c.lastCQ = cq
	c.mu.Unlock()

	return qp, func() error {
		c.mu.Lock()
		c.torndown = append(c.torndown, queueID)
		c.mu.Unlock()
		return nil
	}, nil
}

// CreatedQueueIDs returns the queue IDs passed to CreateQueuePair, in call
// order.
func (c *MockController) CreatedQueueIDs() []int {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]int, len(c.created))
	copy(out, c.created)
	return out
}

// CreatedQueueSizes returns the ring depths passed to CreateQueuePair, in
// call order, parallel to CreatedQueueIDs.
func (c *MockController) CreatedQueueSizes() []int {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]int, len(c.createdSizes))
	copy(out, c.createdSizes)
	return out
}

// TornDownQueueIDs returns the queue IDs whose teardown func has been
// invoked, in call order.
func (c *MockController) TornDownQueueIDs() []int {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]int, len(c.torndown))
	copy(out, c.torndown)
	return out
}

// Services exposes the MockHostServices backing this controller's queue
// pairs, for asserting on doorbell writes after a submit.
func (c *MockController) Services() *MockHostServices { return c.svc }

// LastCompletionQueue returns the completion ring backing slice from the
// most recently created queue pair, letting a test fake a device posting
// a completion by writing into it directly before calling Poll.
func (c *MockController) LastCompletionQueue() []wire.CompletionEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastCQ
}
