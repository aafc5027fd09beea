package clock

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNewDefaultsPPQWhenNonPositive(t *testing.T) {
	c := New(0, 120, 0)
	assert.Equal(t, DefaultPPQ, c.PPQ())
}

func TestSixteenthIndexBoundaries(t *testing.T) {
	c := New(24, 120, 0)
	isBoundary, sixteenth := c.sixteenthIndex(0)
	assert.True(t, isBoundary)
	assert.Equal(t, int64(0), sixteenth)

	isBoundary, sixteenth = c.sixteenthIndex(6)
	assert.True(t, isBoundary)
	assert.Equal(t, int64(1), sixteenth)

	isBoundary, _ = c.sixteenthIndex(1)
	assert.False(t, isBoundary)
}

func TestStartDeliversTicksWithIncreasingIndex(t *testing.T) {
	c := New(24, 2400, 0) // very fast tempo so the test runs quickly
	var mu sync.Mutex
	var indices []int64

	c.Start(func(tk Tick) {
		mu.Lock()
		indices = append(indices, tk.Index)
		mu.Unlock()
	})

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(indices) >= 5
	}, time.Second, time.Millisecond)

	c.Stop()

	mu.Lock()
	defer mu.Unlock()
	for i := 1; i < len(indices); i++ {
		assert.Equal(t, indices[i-1]+1, indices[i])
	}
}

func TestStopIsIdempotentAndJoinsGoroutine(t *testing.T) {
	c := New(24, 2400, 0)
	c.Start(func(Tick) {})
	c.Stop()
	assert.NotPanics(t, func() { c.Stop() })
}

func TestStartTwiceIsANoOpForTheSecondCall(t *testing.T) {
	c := New(24, 2400, 0)
	var calls1, calls2 int32
	var mu sync.Mutex
	c.Start(func(Tick) {
		mu.Lock()
		calls1++
		mu.Unlock()
	})
	// second Start should be ignored since the clock is already started
	c.Start(func(Tick) {
		mu.Lock()
		calls2++
		mu.Unlock()
	})
	time.Sleep(20 * time.Millisecond)
	c.Stop()

	mu.Lock()
	defer mu.Unlock()
	assert.Zero(t, calls2)
	assert.Greater(t, calls1, int32(0))
}

func TestStartBPMTransitionInterpolatesThenSnapsToEnd(t *testing.T) {
	c := New(24, 120, 0)
	c.StartBPMTransition(60, 180, 0.05)

	bpm, _ := c.snapshot()
	assert.GreaterOrEqual(t, bpm, 60.0)
	assert.LessOrEqual(t, bpm, 180.0)

	time.Sleep(80 * time.Millisecond)
	bpm, _ = c.snapshot()
	assert.Equal(t, 180.0, bpm)
}

func TestStartBPMTransitionWithZeroDurationSnapsImmediately(t *testing.T) {
	c := New(24, 120, 0)
	c.StartBPMTransition(60, 180, 0)
	bpm, _ := c.snapshot()
	assert.Equal(t, 180.0, bpm)
}

func TestSetBPMCancelsInProgressTransition(t *testing.T) {
	c := New(24, 120, 0)
	c.StartBPMTransition(60, 180, 10)
	c.SetBPM(100)
	bpm, _ := c.snapshot()
	assert.Equal(t, 100.0, bpm)
}
