// Package nvmeuq is a user-space NVMe queue-pair engine: submission and
// completion ring management, PRP assembly, and a CID table to correlate
// completions back to their submitter, fronted by a process-wide device
// registry so a storage engine can discover controllers, stand up I/O
// user queues against them, and drive read/write/flush traffic without
// touching ring mechanics directly.
package nvmeuq

import (
	"fmt"
	"sync"

	"github.com/nvme-uq/nvmeuq/internal/ioqueue"
	"github.com/nvme-uq/nvmeuq/internal/logging"
	"github.com/nvme-uq/nvmeuq/internal/registry"
	"github.com/nvme-uq/nvmeuq/internal/wire"
)

// Callback and Result re-export ioqueue's vocabulary at the package
// boundary, so callers never need to import internal/ioqueue directly.
type Callback = ioqueue.Callback
type Result = ioqueue.Result

const (
	ResultSubmitted         = ioqueue.ResultSubmitted
	ResultBackpressure      = ioqueue.ResultBackpressure
	ResultUnsupportedOpcode = ioqueue.ResultUnsupportedOpcode
	ResultOversizedTransfer = ioqueue.ResultOversizedTransfer
)

// defaultRegistry is the process-wide device registry every package-level
// function in this file is bound to, mirroring the teacher's root-package
// functions being thin wrappers around one shared Controller/Runner set.
var defaultRegistry = registry.New(logging.NewLogger(nil))

// metricsByHandle holds the Metrics instance each I/O user queue has been
// recording completed-command counts, errors, back-pressure events and
// queue depth into since CreateIOUserQueue
// wired it in as that queue's Observer; QueueMetrics is how a caller (the
// CLI's bench/serve commands, internal/promexport) gets at it.
var (
	metricsMu       sync.Mutex
	metricsByHandle = make(map[int]*Metrics)
)

// Attach registers a newly-probed controller with the process-wide
// registry and returns the id callers address it by afterward.
func Attach(ctrl registry.Controller) int {
	return defaultRegistry.Attach(ctrl)
}

// Detach removes a controller and tears down any I/O user queues it still
// owns.
func Detach(id int) error {
	return defaultRegistry.Detach(id)
}

// GetAvailableDevices returns the ids of all currently attached
// controllers, in attach order, per spec.md §3.
func GetAvailableDevices() []int {
	return defaultRegistry.GetAvailableDevices()
}

// CreateIOUserQueue stands up an I/O user queue of the given depth
// against deviceID and returns an opaque handle, per spec.md §4.8. A
// queueSize of 0 falls back to the constants package's default depth.
func CreateIOUserQueue(deviceID int, queueSize int) (int, error) {
	if queueSize <= 0 {
		queueSize = DefaultIOQueueSize
	}
	handle, err := defaultRegistry.CreateIOUserQueue(deviceID, queueSize)
	if err != nil {
		return 0, WrapError("CREATE_IO_USER_QUEUE", err)
	}

	q, err := defaultRegistry.Queue(handle)
	if err != nil {
		return 0, WrapError("CREATE_IO_USER_QUEUE", err)
	}
	m := NewMetrics()
	q.SetObserver(NewMetricsObserver(m))

	metricsMu.Lock()
	metricsByHandle[handle] = m
	metricsMu.Unlock()

	return handle, nil
}

// RemoveIOUserQueue tears down an I/O user queue previously created with
// CreateIOUserQueue.
func RemoveIOUserQueue(handle int) error {
	if err := defaultRegistry.RemoveIOUserQueue(handle); err != nil {
		return WrapError("REMOVE_IO_USER_QUEUE", err)
	}

	metricsMu.Lock()
	delete(metricsByHandle, handle)
	metricsMu.Unlock()

	return nil
}

// QueueMetrics returns the Metrics instance the I/O user queue named by
// handle has been recording into since it was created, for exporters and
// CLI commands that want to read real per-queue traffic rather than
// keeping their own side-channel counters.
func QueueMetrics(handle int) (*Metrics, error) {
	metricsMu.Lock()
	m, ok := metricsByHandle[handle]
	metricsMu.Unlock()
	if !ok {
		return nil, WrapError("QUEUE_METRICS", fmt.Errorf("nvmeuq: no metrics for handle %d", handle))
	}
	return m, nil
}

// AddNamespace registers namespace geometry on the I/O user queue named
// by handle, normally sourced from an admin-queue identify-namespace
// response before any Read/Write against that namespace will succeed.
func AddNamespace(handle int, ns *wire.Namespace) error {
	q, err := defaultRegistry.Queue(handle)
	if err != nil {
		return WrapError("ADD_NAMESPACE", err)
	}
	q.AddNamespace(ns)
	return nil
}

// Read submits an NVMe read command against the I/O user queue named by
// handle, per spec.md §4.6. payload must stay live and physically pinned
// until cb fires.
func Read(handle int, nsid uint32, payload uintptr, byteAddr uint64, byteLen uint32, cb Callback, cbArg any) (Result, error) {
	return submit(handle, nsid, payload, byteAddr, byteLen, cb, cbArg, ioqueue.OpRead)
}

// Write submits an NVMe write command, the byteLen-length counterpart of
// Read.
func Write(handle int, nsid uint32, payload uintptr, byteAddr uint64, byteLen uint32, cb Callback, cbArg any) (Result, error) {
	return submit(handle, nsid, payload, byteAddr, byteLen, cb, cbArg, ioqueue.OpWrite)
}

// Flush submits an NVMe flush command, which carries no payload.
func Flush(handle int, nsid uint32, cb Callback, cbArg any) (Result, error) {
	return submit(handle, nsid, 0, 0, 0, cb, cbArg, ioqueue.OpFlush)
}

func submit(handle int, nsid uint32, payload uintptr, byteAddr uint64, byteLen uint32, cb Callback, cbArg any, op ioqueue.Op) (Result, error) {
	q, err := defaultRegistry.Queue(handle)
	if err != nil {
		return ResultUnsupportedOpcode, WrapError("SUBMIT_REQUEST", err)
	}

	result, err := q.SubmitRequest(nsid, payload, byteAddr, byteLen, cb, cbArg, op)
	if err != nil {
		wrapped := WrapError("SUBMIT_REQUEST", err)
		switch result {
		case ResultUnsupportedOpcode:
			wrapped.Code = ErrCodeUnsupportedOpcode
		case ResultOversizedTransfer:
			wrapped.Code = ErrCodeOversizedTransfer
		}
		return result, wrapped
	}
	return result, nil
}

// Poll drains up to max completions from the I/O user queue named by
// handle, invoking each command's callback in ring order, per spec.md
// §4.6's poll half of the contract.
func Poll(handle int, max int) (int, error) {
	q, err := defaultRegistry.Queue(handle)
	if err != nil {
		return 0, WrapError("POLL", err)
	}

	n, err := q.ProcessCompletions(max)
	if err != nil {
		return n, WrapError("POLL", err)
	}
	return n, nil
}
