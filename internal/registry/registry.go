// Package registry implements the device registry (spec.md §3, §4.8): an
// append-mostly, monotonically-id'd list of attached controllers, each
// owning a map from integer queue id to the I/O user queue it was asked to
// create. Writes are serialized with a mutex; reads go through a
// sync.Map, the same "rare structural writes, frequent reads" split the
// teacher uses for its per-tag runner state.
package registry

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/nvme-uq/nvmeuq/internal/ioqueue"
	"github.com/nvme-uq/nvmeuq/internal/logging"
	"github.com/nvme-uq/nvmeuq/internal/queuepair"
)

// Controller is what a device backend (real hardware or internal/simctrl)
// must provide for the registry to stand up I/O user queues against it.
type Controller interface {
	ID() int
	CreateQueuePair(queueID int, size int) (*queuepair.QueuePair, func() error, error)
}

type attachedController struct {
	ctrl      Controller
	queuesMu  sync.Mutex
	queues    map[int]*ioqueue.Queue
	teardowns map[int]func() error
	nextQueue atomic.Int32
}

// Registry is a process-wide device registry. The zero value is not
// usable; construct with New.
type Registry struct {
	writeMu sync.Mutex
	nextID  int
	order   []int    // attach order, for GetAvailableDevices
	byID    sync.Map // int -> *attachedController

	log *logging.Logger
}

// New constructs an empty registry.
func New(log *logging.Logger) *Registry {
	return &Registry{log: log}
}

// Attach registers a newly-probed controller and assigns it a fresh,
// monotonically increasing registry id starting at 0, which callers
// address it by for the lifetime of the process. The controller's own
// ID() is never consulted: two controllers reporting the same self-id
// must not collide in the registry. Per spec.md §3, entries are added
// only on probe success — it is the caller's responsibility to have
// already verified the controller is ready before calling Attach.
func (r *Registry) Attach(ctrl Controller) int {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	id := r.nextID
	r.nextID++

	r.byID.Store(id, &attachedController{
		ctrl:      ctrl,
		queues:    make(map[int]*ioqueue.Queue),
		teardowns: make(map[int]func() error),
	})
	r.order = append(r.order, id)
	return id
}

// Detach removes a controller and tears down any I/O user queues it still
// owns.
func (r *Registry) Detach(id int) error {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	v, ok := r.byID.Load(id)
	if !ok {
		return fmt.Errorf("registry: no controller with id %d", id)
	}
	ac := v.(*attachedController)

	ac.queuesMu.Lock()
	for _, teardown := range ac.teardowns {
		_ = teardown()
	}
	ac.queuesMu.Unlock()

	r.byID.Delete(id)
	for i, existing := range r.order {
		if existing == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return nil
}

// GetAvailableDevices returns the ids of all currently attached
// controllers, in attach order.
func (r *Registry) GetAvailableDevices() []int {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	ids := make([]int, len(r.order))
	copy(ids, r.order)
	return ids
}

// CreateIOUserQueue stands up a fresh I/O user queue of the requested
// depth against the named device and returns an opaque, registry-wide
// queue handle. queueSize is passed to the controller unchanged; the
// default depth for a zero or negative size is applied by the root
// package's CreateIOUserQueue, not here.
func (r *Registry) CreateIOUserQueue(deviceID int, queueSize int) (handle int, err error) {
	v, ok := r.byID.Load(deviceID)
	if !ok {
		return 0, fmt.Errorf("registry: no controller with id %d", deviceID)
	}
	ac := v.(*attachedController)

	qp, teardown, err := ac.ctrl.CreateQueuePair(int(ac.nextQueue.Add(1)), queueSize)
	if err != nil {
		return 0, fmt.Errorf("registry: create queue pair: %w", err)
	}

	ac.queuesMu.Lock()
	queueID := qp.QueueID
	ac.queues[queueID] = ioqueue.New(qp, r.log)
	ac.teardowns[queueID] = teardown
	ac.queuesMu.Unlock()

	return encodeHandle(deviceID, queueID), nil
}

// RemoveIOUserQueue tears down an I/O user queue previously created with
// CreateIOUserQueue.
func (r *Registry) RemoveIOUserQueue(handle int) error {
	deviceID, queueID := decodeHandle(handle)

	v, ok := r.byID.Load(deviceID)
	if !ok {
		return fmt.Errorf("registry: no controller with id %d", deviceID)
	}
	ac := v.(*attachedController)

	ac.queuesMu.Lock()
	defer ac.queuesMu.Unlock()

	teardown, ok := ac.teardowns[queueID]
	if !ok {
		return fmt.Errorf("registry: no queue with handle %d", handle)
	}
	delete(ac.queues, queueID)
	delete(ac.teardowns, queueID)
	return teardown()
}

// Queue resolves an opaque handle back to the ioqueue.Queue it names, for
// the root package's Read/Write/Poll dispatchers.
func (r *Registry) Queue(handle int) (*ioqueue.Queue, error) {
	deviceID, queueID := decodeHandle(handle)

	v, ok := r.byID.Load(deviceID)
	if !ok {
		return nil, fmt.Errorf("registry: no controller with id %d", deviceID)
	}
	ac := v.(*attachedController)

	ac.queuesMu.Lock()
	defer ac.queuesMu.Unlock()

	q, ok := ac.queues[queueID]
	if !ok {
		return nil, fmt.Errorf("registry: no queue with handle %d", handle)
	}
	return q, nil
}

// Queue handles pack the owning device id into the high 16 bits and the
// per-device queue id into the low 16 bits, keeping the handle a single
// opaque int as spec.md §4.8 describes rather than a (device, queue) pair
// callers must thread through separately.
func encodeHandle(deviceID, queueID int) int {
	return (deviceID << 16) | (queueID & 0xFFFF)
}

func decodeHandle(handle int) (deviceID, queueID int) {
	return handle >> 16, handle & 0xFFFF
}
