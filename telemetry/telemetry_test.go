package telemetry

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventDoesNotBlockWithoutDSN(t *testing.T) {
	sink, err := New("", "test", "dev")
	require.NoError(t, err)
	sink.Start()
	defer sink.Stop()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			sink.Event(LevelError, "scheduler", "note_off failed", errors.New("boom"))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Event calls blocked")
	}
}

func TestQueueOverflowDropsRatherThanBlocks(t *testing.T) {
	sink, err := New("", "test", "dev")
	require.NoError(t, err)
	// Deliberately not started: nothing drains the queue, so the
	// capacity+1th Event call must drop rather than block.
	for i := 0; i < queueCapacity+5; i++ {
		sink.Event(LevelWarn, "stage", "msg", nil)
	}
	assert.Greater(t, sink.Dropped(), 0)
}

func TestReporterTagsStage(t *testing.T) {
	sink, err := New("", "test", "dev")
	require.NoError(t, err)
	sink.Start()
	defer sink.Stop()

	reporter := sink.Reporter("scheduler")
	assert.NotPanics(t, func() {
		reporter("note_off", errors.New("panic in output callback"))
	})
}
