package timer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFiresInDeadlineOrder(t *testing.T) {
	h := New()
	var fired []int

	h.Add(3, 30*time.Millisecond, func() { fired = append(fired, 3) })
	h.Add(1, 10*time.Millisecond, func() { fired = append(fired, 1) })
	h.Add(2, 20*time.Millisecond, func() { fired = append(fired, 2) })

	deadline := time.Now().Add(200 * time.Millisecond)
	for h.Len() > 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
		h.Tick()
	}

	require.Equal(t, []int{1, 2, 3}, fired)
}

func TestDoWorkFiresAndRemoves(t *testing.T) {
	h := New()
	called := false
	h.Add(1, time.Hour, func() { called = true })
	h.DoWork(1)
	assert.True(t, called)
	assert.Equal(t, 0, h.Len())
}

func TestRemoveDropsWithoutFiring(t *testing.T) {
	h := New()
	called := false
	h.Add(1, time.Millisecond, func() { called = true })
	h.Remove(1)
	time.Sleep(5 * time.Millisecond)
	h.Tick()
	assert.False(t, called)
	assert.Equal(t, 0, h.Len())
}

func TestAdjustExtendsDeadlineAndSiftsDown(t *testing.T) {
	h := New()
	var fired []int
	h.Add(1, 10*time.Millisecond, func() { fired = append(fired, 1) })
	h.Add(2, 50*time.Millisecond, func() { fired = append(fired, 2) })

	// Extend id 1 past id 2, the way the reactor extends a connection's
	// idle deadline on activity; id 1 sifts down below id 2.
	h.Adjust(1, 200*time.Millisecond)
	assert.Equal(t, 1, h.index[1])
	assert.Equal(t, 0, h.index[2])

	deadline := time.Now().Add(500 * time.Millisecond)
	for h.Len() > 1 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
		h.Tick()
	}

	require.NotEmpty(t, fired)
	assert.Equal(t, 2, fired[0])
}

// TestAddOnKnownIDDoesNotResift pins the documented behavior: calling
// Add a second time for an id already in the heap overwrites its
// deadline and callback but does not restore heap order. A connection
// whose deadline moved earlier via a second Add (rather than Adjust)
// can therefore fire later than its new deadline would suggest, until
// Tick happens to walk past it.
func TestAddOnKnownIDDoesNotResift(t *testing.T) {
	h := New()
	h.Add(1, time.Hour, func() {})
	h.Add(2, time.Hour, func() {})
	h.Add(3, time.Hour, func() {})

	// id 3 sits deep in the heap; re-Add with a much shorter timeout.
	h.Add(3, time.Millisecond, func() {})

	// The node's own deadline is updated...
	idx, ok := h.index[3]
	require.True(t, ok)
	assert.True(t, h.nodes[idx].expire.Before(time.Now().Add(time.Second)))

	// ...but its heap position is unchanged from before the second Add,
	// i.e. it was not sifted toward the root.
	assert.Equal(t, 2, idx)
}
