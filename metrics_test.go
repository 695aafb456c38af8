package nvmeuq

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMetricsRecordReadWriteFlush(t *testing.T) {
	m := NewMetrics()

	m.RecordRead(4096, 5_000, true)
	m.RecordWrite(4096, 8_000, true)
	m.RecordWrite(0, 3_000, false)
	m.RecordFlush(1_000, true)

	snap := m.Snapshot()
	assert.Equal(t, uint64(1), snap.ReadOps)
	assert.Equal(t, uint64(2), snap.WriteOps)
	assert.Equal(t, uint64(1), snap.FlushOps)
	assert.Equal(t, uint64(4096), snap.ReadBytes)
	assert.Equal(t, uint64(4096), snap.WriteBytes)
	assert.Equal(t, uint64(1), snap.WriteErrors)
	assert.Equal(t, uint64(4), snap.TotalOps)
}

func TestMetricsRecordBackpressureDoesNotCountAsError(t *testing.T) {
	m := NewMetrics()

	m.RecordBackpressure()
	m.RecordBackpressure()

	snap := m.Snapshot()
	assert.Equal(t, uint64(2), snap.BackpressureEvents)
	assert.Equal(t, uint64(0), snap.ReadErrors+snap.WriteErrors+snap.FlushErrors)
}

func TestMetricsQueueDepthTracksMax(t *testing.T) {
	m := NewMetrics()

	m.RecordQueueDepth(4)
	m.RecordQueueDepth(12)
	m.RecordQueueDepth(7)

	snap := m.Snapshot()
	assert.Equal(t, uint32(12), snap.MaxQueueDepth)
	assert.InDelta(t, float64(23)/3.0, snap.AvgQueueDepth, 0.001)
}

func TestMetricsLatencyHistogramBucketsAreCumulative(t *testing.T) {
	m := NewMetrics()

	m.RecordRead(0, 500, true)       // bucket 0 (<=1us)
	m.RecordRead(0, 50_000, true)    // bucket 2 (<=100us)
	m.RecordRead(0, 5_000_000, true) // bucket 4 (<=10ms)

	snap := m.Snapshot()
	assert.Equal(t, uint64(1), snap.LatencyHistogram[0])
	assert.Equal(t, uint64(2), snap.LatencyHistogram[2])
	assert.Equal(t, uint64(3), snap.LatencyHistogram[4])
	assert.Equal(t, uint64(3), snap.LatencyHistogram[numLatencyBuckets-1])
}

func TestMetricsPercentilesAreMonotonic(t *testing.T) {
	m := NewMetrics()

	for i := 0; i < 100; i++ {
		latency := uint64(i+1) * 1_000
		m.RecordRead(4096, latency, true)
	}

	snap := m.Snapshot()
	assert.LessOrEqual(t, snap.LatencyP50Ns, snap.LatencyP99Ns)
	assert.LessOrEqual(t, snap.LatencyP99Ns, snap.LatencyP999Ns)
	assert.Greater(t, snap.LatencyP50Ns, uint64(0))
}

func TestMetricsErrorRate(t *testing.T) {
	m := NewMetrics()

	for i := 0; i < 9; i++ {
		m.RecordRead(4096, 1_000, true)
	}
	m.RecordRead(0, 1_000, false)

	snap := m.Snapshot()
	assert.InDelta(t, 10.0, snap.ErrorRate, 0.01)
}

func TestMetricsIOPSAndBandwidthRequireUptime(t *testing.T) {
	m := NewMetrics()
	m.StartTime.Store(time.Now().Add(-time.Second).UnixNano())

	m.RecordRead(4096, 1_000, true)
	m.RecordWrite(4096, 1_000, true)
	m.Stop()

	snap := m.Snapshot()
	assert.Greater(t, snap.ReadIOPS, 0.0)
	assert.Greater(t, snap.WriteIOPS, 0.0)
	assert.Greater(t, snap.ReadBandwidth, 0.0)
	assert.Greater(t, snap.WriteBandwidth, 0.0)
}

func TestMetricsReset(t *testing.T) {
	m := NewMetrics()
	m.RecordRead(4096, 1_000, true)
	m.RecordBackpressure()
	m.RecordQueueDepth(5)

	m.Reset()

	snap := m.Snapshot()
	assert.Equal(t, uint64(0), snap.ReadOps)
	assert.Equal(t, uint64(0), snap.BackpressureEvents)
	assert.Equal(t, uint32(0), snap.MaxQueueDepth)
}

func TestNoOpObserverDoesNothing(t *testing.T) {
	var obs Observer = NoOpObserver{}
	assert.NotPanics(t, func() {
		obs.ObserveRead(1, 1, true)
		obs.ObserveWrite(1, 1, false)
		obs.ObserveFlush(1, true)
		obs.ObserveBackpressure()
		obs.ObserveQueueDepth(1)
	})
}

func TestMetricsObserverForwardsToMetrics(t *testing.T) {
	m := NewMetrics()
	obs := NewMetricsObserver(m)

	obs.ObserveRead(4096, 1_000, true)
	obs.ObserveWrite(4096, 1_000, true)
	obs.ObserveFlush(1_000, true)
	obs.ObserveBackpressure()
	obs.ObserveQueueDepth(3)

	snap := m.Snapshot()
	assert.Equal(t, uint64(1), snap.ReadOps)
	assert.Equal(t, uint64(1), snap.WriteOps)
	assert.Equal(t, uint64(1), snap.FlushOps)
	assert.Equal(t, uint64(1), snap.BackpressureEvents)
	assert.Equal(t, uint32(3), snap.MaxQueueDepth)
}
