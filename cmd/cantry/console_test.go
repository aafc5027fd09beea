package main

import (
	"strings"
	"testing"

	"github.com/iltempo/cantry/config"
	"github.com/iltempo/cantry/engine"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type noopOutput struct{}

func (noopOutput) NoteOn(channel, note, velocity int) error { return nil }
func (noopOutput) NoteOff(channel, note int) error           { return nil }
func (noopOutput) ControlChange(c, n, v int) error           { return nil }
func (noopOutput) Close() error                              { return nil }

func newTestConsole(t *testing.T) *console {
	t.Helper()
	cfg := config.Default()
	eng, err := engine.New(cfg, noopOutput{}, nil)
	require.NoError(t, err)
	return newConsole(eng, nil)
}

func TestProcessCommandEventSetsTempo(t *testing.T) {
	c := newTestConsole(t)
	err := c.ProcessCommand("event tempo 127")
	require.NoError(t, err)
	bpm, _ := c.eng.Snapshot()["bpm"].(float64)
	assert.InDelta(t, 200.0, bpm, 0.01)
}

func TestProcessCommandEventRejectsUnknownKind(t *testing.T) {
	c := newTestConsole(t)
	err := c.ProcessCommand("event not_a_kind 1")
	assert.Error(t, err)
}

func TestProcessCommandEventRejectsTooFewArgs(t *testing.T) {
	c := newTestConsole(t)
	err := c.ProcessCommand("event tempo")
	assert.Error(t, err)
}

func TestProcessCommandEventRejectsNonNumericValue(t *testing.T) {
	c := newTestConsole(t)
	err := c.ProcessCommand("event tempo abc")
	assert.Error(t, err)
}

func TestProcessCommandEventCCParameterRequiresParamAndValue(t *testing.T) {
	c := newTestConsole(t)
	err := c.ProcessCommand("event cc_parameter filter_cutoff")
	assert.Error(t, err)
}

func TestProcessCommandEventCCParameterWritesNamedParameter(t *testing.T) {
	c := newTestConsole(t)
	err := c.ProcessCommand("event cc_parameter filter_cutoff 64")
	require.NoError(t, err)
	v, ok := c.eng.Snapshot()["filter_cutoff"]
	require.True(t, ok)
	assert.EqualValues(t, 64, v)
}

func TestProcessCommandStatusSucceeds(t *testing.T) {
	c := newTestConsole(t)
	assert.NoError(t, c.ProcessCommand("status"))
}

func TestProcessCommandHistorySucceedsWithNoMutationsYet(t *testing.T) {
	c := newTestConsole(t)
	assert.NoError(t, c.ProcessCommand("history"))
}

func TestProcessCommandHelpSucceeds(t *testing.T) {
	c := newTestConsole(t)
	assert.NoError(t, c.ProcessCommand("help"))
}

func TestProcessCommandEmptyLineIsNoOp(t *testing.T) {
	c := newTestConsole(t)
	assert.NoError(t, c.ProcessCommand(""))
	assert.NoError(t, c.ProcessCommand("   "))
}

func TestProcessCommandUnknownCommandErrors(t *testing.T) {
	c := newTestConsole(t)
	err := c.ProcessCommand("bogus")
	assert.Error(t, err)
}

func TestProcessCommandIsCaseInsensitiveOnVerb(t *testing.T) {
	c := newTestConsole(t)
	err := c.ProcessCommand("EVENT tempo 64")
	assert.NoError(t, err)
}

func TestProcessCommandAskWithoutAssistantConfiguredErrors(t *testing.T) {
	c := newTestConsole(t)
	err := c.ProcessCommand("ask make it feel more alive")
	require.Error(t, err)
	assert.Contains(t, strings.ToLower(err.Error()), "anthropic_api_key")
}

func TestReadLoopStopsOnQuit(t *testing.T) {
	c := newTestConsole(t)
	reader := strings.NewReader("status\nquit\nstatus\n")
	err := c.ReadLoop(reader)
	assert.NoError(t, err)
}
