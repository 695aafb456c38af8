package ring

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRingEmptyFull(t *testing.T) {
	entries := make([]int, 4)
	var lastDoorbell uint32
	r := New(entries, func(v uint32) { lastDoorbell = v })

	assert.True(t, r.Empty())
	assert.False(t, r.Full())
	assert.EqualValues(t, 4, r.N())

	for i := 0; i < 3; i++ {
		r.AdvanceTail()
	}
	assert.True(t, r.Full(), "tail should collide with head after N-1 advances")
	assert.EqualValues(t, 3, lastDoorbell)
}

func TestRingAdvanceHeadTogglesOnWrap(t *testing.T) {
	entries := make([]int, 4)
	r := New(entries, nil)

	wraps := 0
	onWrap := func() { wraps++ }

	for i := 0; i < 3; i++ {
		r.AdvanceHead(onWrap)
	}
	require.Equal(t, 0, wraps, "head hasn't wrapped to 0 yet")
	assert.EqualValues(t, 3, r.Head())

	r.AdvanceHead(onWrap)
	assert.Equal(t, 1, wraps, "head wrapped to 0, onWrap must fire exactly once")
	assert.EqualValues(t, 0, r.Head())
}

func TestRingSetHeadReportsChange(t *testing.T) {
	entries := make([]int, 8)
	r := New(entries, nil)

	changed := r.SetHead(5)
	assert.True(t, changed)
	assert.EqualValues(t, 5, r.Head())

	changed = r.SetHead(5)
	assert.False(t, changed, "setting the same value again must report no change")
}

func TestRingSlotWritesAreVisible(t *testing.T) {
	entries := make([]int, 4)
	r := New(entries, nil)

	*r.Slot(2) = 42
	assert.Equal(t, 42, entries[2])
}

func TestRingBoundaryInvariant(t *testing.T) {
	entries := make([]int, 32)
	r := New(entries, nil)

	for i := 0; i < 1000; i++ {
		r.AdvanceTail()
		require.True(t, r.Tail() < r.N(), "tail must stay within [0, N)")
	}
}
