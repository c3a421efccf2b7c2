package idgen

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fixedClock returns CurrentTime until moved.
type fixedClock struct {
	CurrentTime atomic.Int64
}

func newFixedClock(ms int64) *fixedClock {
	c := &fixedClock{}
	c.CurrentTime.Store(ms)
	return c
}

func (c *fixedClock) Now() int64 {
	return c.CurrentTime.Load()
}

func TestSnowflake_Next(t *testing.T) {
	sf, err := New(1, newFixedClock(Epoch+1000))
	require.NoError(t, err)

	id1, err := sf.Next()
	require.NoError(t, err)
	id2, err := sf.Next()
	require.NoError(t, err)

	assert.Less(t, id1, id2)
	assert.Equal(t, int64(0), Decompose(id1).Sequence)
	assert.Equal(t, int64(1), Decompose(id2).Sequence)
}

func TestSnowflake_NodeIDRange(t *testing.T) {
	_, err := New(MaxNodeID+1, nil)
	assert.ErrorIs(t, err, ErrNodeIDTooLarge)

	_, err = New(-1, nil)
	assert.ErrorIs(t, err, ErrNodeIDTooLarge)

	_, err = New(MaxNodeID, nil)
	assert.NoError(t, err)
}

func TestSnowflake_ClockErrors(t *testing.T) {
	clock := newFixedClock(Epoch + 2000)
	sf, err := New(1, clock)
	require.NoError(t, err)

	_, err = sf.Next()
	require.NoError(t, err)

	clock.CurrentTime.Store(Epoch + 1000)
	_, err = sf.Next()
	assert.ErrorIs(t, err, ErrClockMovedBack)

	clock.CurrentTime.Store(Epoch - 1)
	_, err = sf.Next()
	assert.ErrorIs(t, err, ErrClockBeforeEpoch)
}

func TestSnowflake_SequenceExhaustionWaitsForNextMillisecond(t *testing.T) {
	clock := newFixedClock(Epoch + 10)
	sf, err := New(3, clock)
	require.NoError(t, err)

	for i := 0; i <= maxSequence; i++ {
		_, err := sf.Next()
		require.NoError(t, err)
	}

	go func() {
		time.Sleep(20 * time.Millisecond)
		clock.CurrentTime.Store(Epoch + 11)
	}()

	id, err := sf.Next()
	require.NoError(t, err)
	parts := Decompose(id)
	assert.Equal(t, time.UnixMilli(Epoch+11).UTC(), parts.Time)
	assert.Equal(t, int64(0), parts.Sequence)
}

func TestSnowflake_Concurrency(t *testing.T) {
	sf, err := New(1, &SystemClock{})
	require.NoError(t, err)

	const goroutines, perGoroutine = 50, 1000
	ids := make(chan int64, goroutines*perGoroutine)

	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perGoroutine; j++ {
				id, err := sf.Next()
				if err != nil {
					t.Errorf("concurrent generation failed: %v", err)
					return
				}
				ids <- id
			}
		}()
	}
	wg.Wait()
	close(ids)

	seen := make(map[int64]struct{}, goroutines*perGoroutine)
	for id := range ids {
		_, dup := seen[id]
		require.False(t, dup, "duplicate ID %d", id)
		seen[id] = struct{}{}
	}
	assert.Len(t, seen, goroutines*perGoroutine)
}

func TestDecompose(t *testing.T) {
	sf, err := New(7, newFixedClock(Epoch+5000))
	require.NoError(t, err)

	_, _ = sf.Next()
	id, err := sf.Next()
	require.NoError(t, err)

	parts := Decompose(id)
	assert.Equal(t, int64(7), parts.NodeID)
	assert.Equal(t, int64(1), parts.Sequence)
	assert.True(t, parts.Time.Equal(time.UnixMilli(Epoch+5000)))
}
