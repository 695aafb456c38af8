package nvmeuq

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nvme-uq/nvmeuq/internal/registry"
	"github.com/nvme-uq/nvmeuq/internal/wire"
)

// withFreshRegistry swaps in a clean registry for the duration of one test
// and restores the previous one afterward, since defaultRegistry is
// process-wide state shared across every test in this package.
func withFreshRegistry(t *testing.T) {
	t.Helper()
	prev := defaultRegistry
	defaultRegistry = registry.New(nil)
	t.Cleanup(func() { defaultRegistry = prev })
}

func TestAttachDetachRoundTrip(t *testing.T) {
	withFreshRegistry(t)

	ctrl := NewMockController(1)
	id := Attach(ctrl)
	assert.Equal(t, 0, id, "Attach assigns a fresh monotonic id, not the controller's self-reported one")
	assert.Equal(t, []int{0}, GetAvailableDevices())

	require.NoError(t, Detach(id))
	assert.Empty(t, GetAvailableDevices())
}

func TestAttachAssignsDistinctIDsForControllersSharingASelfReportedID(t *testing.T) {
	withFreshRegistry(t)

	id1 := Attach(NewMockController(1))
	id2 := Attach(NewMockController(1))

	assert.NotEqual(t, id1, id2)
	assert.Equal(t, []int{id1, id2}, GetAvailableDevices())
}

func TestCreateIOUserQueueDefaultsSizeWhenZero(t *testing.T) {
	withFreshRegistry(t)

	ctrl := NewMockController(2)
	deviceID := Attach(ctrl)

	handle, err := CreateIOUserQueue(deviceID, 0)
	require.NoError(t, err)
	assert.NotZero(t, handle)
	assert.Equal(t, []int{DefaultIOQueueSize}, ctrl.CreatedQueueSizes())
}

func TestCreateIOUserQueueUnknownDeviceReturnsWrappedError(t *testing.T) {
	withFreshRegistry(t)

	_, err := CreateIOUserQueue(999, 32)
	require.Error(t, err)
	assert.True(t, IsCode(err, ErrCodeTransport))
}

func TestCreateIOUserQueuePropagatesControllerFailure(t *testing.T) {
	withFreshRegistry(t)

	ctrl := NewMockController(5)
	deviceID := Attach(ctrl)
	ctrl.FailNextCreate(ErrBackpressure)

	_, err := CreateIOUserQueue(deviceID, 32)
	require.Error(t, err)
}

func TestWriteSubmitsWithoutDoorbellWriteOnMockController(t *testing.T) {
	withFreshRegistry(t)

	ctrl := NewMockController(6)
	deviceID := Attach(ctrl)

	handle, err := CreateIOUserQueue(deviceID, 8)
	require.NoError(t, err)
	require.NoError(t, AddNamespace(handle, &wire.Namespace{NSID: 1, BlockShift: 12, BlockSize: 4096, BlockCount: 1024}))

	buf := make([]byte, 4096)
	result, err := Write(handle, 1, uintptr(unsafe.Pointer(&buf[0])), 0, 4096, func(*wire.CompletionEntry, any) {}, nil)
	require.NoError(t, err)
	assert.Equal(t, ResultSubmitted, result)

	_, ok := ctrl.Services().LastDoorbellValue()
	assert.False(t, ok, "MockController's CreateQueuePair wires a nil sqDoorbell, so no MMIO write is expected")
}

func TestWriteUnknownNamespaceRejectsSubmission(t *testing.T) {
	withFreshRegistry(t)

	ctrl := NewMockController(7)
	deviceID := Attach(ctrl)

	handle, err := CreateIOUserQueue(deviceID, 8)
	require.NoError(t, err)

	buf := make([]byte, 4096)
	result, err := Write(handle, 99, uintptr(unsafe.Pointer(&buf[0])), 0, 4096, func(*wire.CompletionEntry, any) {}, nil)
	require.Error(t, err)
	assert.Equal(t, ResultUnsupportedOpcode, result)
}

func TestFlushRequiresNoCallback(t *testing.T) {
	withFreshRegistry(t)

	ctrl := NewMockController(8)
	deviceID := Attach(ctrl)

	handle, err := CreateIOUserQueue(deviceID, 8)
	require.NoError(t, err)
	require.NoError(t, AddNamespace(handle, &wire.Namespace{NSID: 1, BlockShift: 12, BlockSize: 4096, BlockCount: 1024}))

	result, err := Flush(handle, 1, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, ResultSubmitted, result)
}

func TestPollUnknownHandleReturnsWrappedError(t *testing.T) {
	withFreshRegistry(t)

	_, err := Poll(12345, 1)
	require.Error(t, err)
}

func TestPollAfterFlushFindsNoCompletionOnMockController(t *testing.T) {
	withFreshRegistry(t)

	ctrl := NewMockController(9)
	deviceID := Attach(ctrl)

	handle, err := CreateIOUserQueue(deviceID, 8)
	require.NoError(t, err)
	require.NoError(t, AddNamespace(handle, &wire.Namespace{NSID: 1, BlockShift: 12, BlockSize: 4096, BlockCount: 1024}))

	_, err = Flush(handle, 1, nil, nil)
	require.NoError(t, err)

	n, err := Poll(handle, 1)
	require.NoError(t, err)
	assert.Equal(t, 0, n, "nothing posts a completion for a MockController queue, so poll finds none")
}

func TestWriteThenPollRecordsMetricsViaQueueMetrics(t *testing.T) {
	withFreshRegistry(t)

	ctrl := NewMockController(11)
	deviceID := Attach(ctrl)

	handle, err := CreateIOUserQueue(deviceID, 8)
	require.NoError(t, err)
	require.NoError(t, AddNamespace(handle, &wire.Namespace{NSID: 1, BlockShift: 12, BlockSize: 4096, BlockCount: 1024}))

	metrics, err := QueueMetrics(handle)
	require.NoError(t, err)
	assert.Zero(t, metrics.Snapshot().WriteOps, "no traffic submitted yet")

	buf := make([]byte, 4096)
	result, err := Write(handle, 1, uintptr(unsafe.Pointer(&buf[0])), 0, 4096, func(*wire.CompletionEntry, any) {}, nil)
	require.NoError(t, err)
	require.Equal(t, ResultSubmitted, result)

	cq := ctrl.LastCompletionQueue()
	completion := wire.CompletionEntry{CID: 0, SQHD: 1}
	completion.SetPhase(1)
	cq[0] = completion

	n, err := Poll(handle, 1)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	snap := metrics.Snapshot()
	assert.EqualValues(t, 1, snap.WriteOps)
	assert.EqualValues(t, 4096, snap.WriteBytes)
	assert.Zero(t, snap.WriteErrors)
}

func TestQueueMetricsUnknownHandleReturnsWrappedError(t *testing.T) {
	withFreshRegistry(t)

	_, err := QueueMetrics(99999)
	require.Error(t, err)
}

func TestRemoveIOUserQueueThenSubmitFails(t *testing.T) {
	withFreshRegistry(t)

	ctrl := NewMockController(10)
	deviceID := Attach(ctrl)

	handle, err := CreateIOUserQueue(deviceID, 8)
	require.NoError(t, err)
	require.NoError(t, RemoveIOUserQueue(handle))

	_, err = Write(handle, 1, 0, 0, 4096, func(*wire.CompletionEntry, any) {}, nil)
	require.Error(t, err)
}

func TestRemoveIOUserQueueDropsItsQueueMetrics(t *testing.T) {
	withFreshRegistry(t)

	ctrl := NewMockController(13)
	deviceID := Attach(ctrl)

	handle, err := CreateIOUserQueue(deviceID, 8)
	require.NoError(t, err)
	_, err = QueueMetrics(handle)
	require.NoError(t, err)

	require.NoError(t, RemoveIOUserQueue(handle))

	_, err = QueueMetrics(handle)
	assert.Error(t, err)
}
