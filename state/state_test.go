package state

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewAppliesDefaultsAndClampsOutOfRangeOverrides(t *testing.T) {
	st := New(map[string]interface{}{"bpm": 400.0, "density": 0.25})
	assert.Equal(t, 300.0, st.GetFloat("bpm")) // clamped to max
	assert.Equal(t, 0.25, st.GetFloat("density"))
	assert.Equal(t, 120.0, New(nil).GetFloat("bpm")) // schema default
}

func TestSetClampsAndReportsChange(t *testing.T) {
	st := New(nil)
	changed := st.Set("bpm", 500.0, "test")
	assert.True(t, changed)
	assert.Equal(t, 300.0, st.GetFloat("bpm"))

	changed = st.Set("bpm", 300.0, "test")
	assert.False(t, changed, "setting to the already-clamped value is a no-op")
}

func TestSetRejectsUnknownKey(t *testing.T) {
	st := New(nil)
	assert.False(t, st.Set("not_a_real_key", 1.0, "test"))
}

func TestSetRejectsWrongEnumValue(t *testing.T) {
	st := New(nil)
	assert.False(t, st.Set("direction_pattern", "sideways", "test"))
	assert.Equal(t, "forward", st.GetEnum("direction_pattern"))
}

func TestListenerInvokedAfterUnlockNotDuringSet(t *testing.T) {
	st := New(nil)
	var got Change
	st.AddListener(func(c Change) { got = c })
	st.Set("bpm", 140.0, "operator")
	assert.Equal(t, "bpm", got.Key)
	assert.Equal(t, 120.0, got.OldValue)
	assert.Equal(t, 140.0, got.NewValue)
	assert.Equal(t, "operator", got.Source)
}

func TestReentrantSetFromListenerDoesNotDeadlock(t *testing.T) {
	st := New(nil)
	done := make(chan struct{})
	st.AddListener(func(c Change) {
		if c.Key == "bpm" {
			st.Set("swing", 0.1, "reentrant")
			close(done)
		}
	})
	st.Set("bpm", 90.0, "test")
	<-done
	assert.Equal(t, 0.1, st.GetFloat("swing"))
}

func TestPanickingListenerDoesNotBlockOthers(t *testing.T) {
	st := New(nil)
	var secondRan bool
	st.AddListener(func(Change) { panic("boom") })
	st.AddListener(func(Change) { secondRan = true })
	assert.NotPanics(t, func() { st.Set("bpm", 100.0, "test") })
	assert.True(t, secondRan)
}

func TestUpdateMultipleAppliesAtomicallyAndReportsOnlyChangedKeys(t *testing.T) {
	st := New(nil)
	changed := st.UpdateMultiple([]Pair{
		{Key: "bpm", Value: 150.0},
		{Key: "swing", Value: 0.0}, // same as default: should not be reported
		{Key: "density", Value: 0.5},
	}, "idle")
	assert.ElementsMatch(t, []string{"bpm", "density"}, changed)
}

func TestSequenceLengthShrinkWrapsStepPositionAndResizesSlices(t *testing.T) {
	st := New(map[string]interface{}{
		"sequence_length":    8,
		"step_position":      6,
		"step_probabilities": []float64{1, 1, 1, 1, 1, 1, 1, 1},
		"step_pattern":       []bool{true, true, true, true, true, true, true, true},
	})
	st.Set("sequence_length", 4, "operator")
	assert.Equal(t, 2, st.GetInt("step_position"), "6 wraps to 6%4==2")
	assert.Len(t, st.GetFloatSlice("step_probabilities"), 4)
	assert.Len(t, st.GetBoolSlice("step_pattern"), 4)
}

func TestSequenceLengthGrowPadsSlicesWithDefaults(t *testing.T) {
	st := New(map[string]interface{}{
		"sequence_length":    4,
		"step_probabilities": []float64{0.1, 0.2, 0.3, 0.4},
		"step_pattern":       []bool{false, false, false, false},
	})
	st.Set("sequence_length", 6, "operator")
	probs := st.GetFloatSlice("step_probabilities")
	pattern := st.GetBoolSlice("step_pattern")
	require.Len(t, probs, 6)
	require.Len(t, pattern, 6)
	assert.Equal(t, 1.0, probs[4])
	assert.Equal(t, true, pattern[4])
}

func TestDefineContinuousRegistersIntDomainOfZeroTo127(t *testing.T) {
	st := New(nil)
	st.DefineContinuous("filter_cutoff", 64)
	min, max, ok := st.Domain("filter_cutoff")
	require.True(t, ok)
	assert.Equal(t, 0.0, min)
	assert.Equal(t, 127.0, max)
	assert.Equal(t, 64, st.GetInt("filter_cutoff"))
}

func TestDomainUnknownKeyReturnsFalse(t *testing.T) {
	st := New(nil)
	_, _, ok := st.Domain("nonexistent")
	assert.False(t, ok)
}

func TestKindOfReportsRegisteredKind(t *testing.T) {
	st := New(nil)
	kind, ok := st.KindOf("bpm")
	require.True(t, ok)
	assert.Equal(t, KindFloat, kind)
}

func TestConcurrentSetsDoNotRace(t *testing.T) {
	st := New(nil)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			st.Set("bpm", float64(60+n), "concurrent")
		}(i)
	}
	wg.Wait()
	bpm := st.GetFloat("bpm")
	assert.True(t, bpm >= 60 && bpm <= 110)
}
