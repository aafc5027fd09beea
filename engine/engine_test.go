package engine

import (
	"sync"
	"testing"
	"time"

	"github.com/iltempo/cantry/config"
	"github.com/iltempo/cantry/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeOutput struct {
	mu      sync.Mutex
	noteOns int
	closed  bool
	ccs     []ccCall
}

type ccCall struct{ channel, controller, value int }

func (f *fakeOutput) NoteOn(channel, note, velocity int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.noteOns++
	return nil
}
func (f *fakeOutput) NoteOff(channel, note int) error { return nil }
func (f *fakeOutput) ControlChange(channel, controller, value int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ccs = append(f.ccs, ccCall{channel, controller, value})
	return nil
}
func (f *fakeOutput) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeOutput) noteOnCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.noteOns
}

func (f *fakeOutput) ccCalls() []ccCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]ccCall, len(f.ccs))
	copy(out, f.ccs)
	return out
}

func newTestEngine(t *testing.T) (*Engine, *fakeOutput) {
	t.Helper()
	cfg := config.Default()
	cfg.Sequencer.BPM = 600 // fast, so the test doesn't wait long for ticks
	out := &fakeOutput{}
	e, err := New(cfg, out, nil)
	require.NoError(t, err)
	return e, out
}

func TestNewRejectsUnknownAmbientProfile(t *testing.T) {
	cfg := config.Default()
	cfg.Idle.AmbientProfile = "not_a_profile"
	_, err := New(cfg, &fakeOutput{}, nil)
	assert.Error(t, err)
}

func TestStartProducesNoteOnsAndShutdownDrainsCleanly(t *testing.T) {
	e, out := newTestEngine(t)
	e.Start()
	assert.Eventually(t, func() bool { return out.noteOnCount() > 0 }, time.Second, time.Millisecond)
	e.Shutdown()
	assert.True(t, out.closed)
}

func TestDispatchTempoEventUpdatesState(t *testing.T) {
	e, _ := newTestEngine(t)
	e.Dispatch(events.NewSemanticEvent(events.KindTempo, events.SourceButton, 127, 1))
	bpm := e.State().GetFloat("bpm")
	assert.InDelta(t, 200.0, bpm, 0.01)
}

func TestSnapshotContainsKnownKeys(t *testing.T) {
	e, _ := newTestEngine(t)
	snap := e.Snapshot()
	_, ok := snap["bpm"]
	assert.True(t, ok)
}

func TestShutdownIsIdempotentSafe(t *testing.T) {
	e, _ := newTestEngine(t)
	e.Start()
	e.Shutdown()
	assert.NotPanics(t, func() { e.sched.Shutdown() })
}

func TestDispatchTempoEventRetimesTheRunningClock(t *testing.T) {
	e, _ := newTestEngine(t)
	e.Dispatch(events.NewSemanticEvent(events.KindTempo, events.SourceButton, 0, 1))
	bpm, _ := e.clock.Current()
	assert.InDelta(t, 60.0, bpm, 0.01)
}

func TestDispatchSwingEventRetimesTheRunningClock(t *testing.T) {
	e, _ := newTestEngine(t)
	e.Dispatch(events.NewSemanticEvent(events.KindSwing, events.SourceButton, 127, 1))
	_, swing := e.clock.Current()
	assert.InDelta(t, 0.5, swing, 0.01)
}

func TestDispatchRootNoteUpRebuildsSequencerScaleMapper(t *testing.T) {
	e, _ := newTestEngine(t)

	e.State().Set("step_position", 0, "test")
	before := e.seq.ManualTrigger(100, nil)

	e.Dispatch(events.NewSemanticEvent(events.KindRootNoteUp, events.SourceButton, 0, 1))

	e.State().Set("step_position", 0, "test")
	after := e.seq.ManualTrigger(100, nil)

	// Same step-derived degree both times, but the root shifted by one
	// semitone in between, so the emitted pitch must shift by exactly
	// one too — proof the sequencer's mapper, not just state.root_note,
	// moved.
	assert.Equal(t, before.Note+1, after.Note)
}

func TestDispatchCCParameterEmitsOutboundControlChange(t *testing.T) {
	e, out := newTestEngine(t)
	rawCC := 74
	ev := events.NewSemanticEvent(events.KindCCParameter, events.SourceCC, 100, 2)
	ev.Param = "filter_cutoff"
	ev.RawCC = &rawCC
	e.Dispatch(ev)

	calls := out.ccCalls()
	require.Len(t, calls, 1)
	assert.Equal(t, 100, calls[0].value)
	assert.Equal(t, 2, calls[0].channel)
}
