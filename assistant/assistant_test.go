package assistant

import (
	"testing"

	"github.com/iltempo/cantry/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDirectivesBasicKinds(t *testing.T) {
	out := ParseDirectives("tempo 100\ndensity 20\n")
	require.Len(t, out, 2)
	assert.Equal(t, events.KindTempo, out[0].Kind)
	assert.Equal(t, 100, out[0].Value)
	assert.Equal(t, events.KindDensity, out[1].Kind)
	assert.Equal(t, 20, out[1].Value)
}

func TestParseDirectivesCCParameter(t *testing.T) {
	out := ParseDirectives("cc_parameter filter_cutoff 110")
	require.Len(t, out, 1)
	assert.Equal(t, events.KindCCParameter, out[0].Kind)
	assert.Equal(t, "filter_cutoff", out[0].Param)
	assert.Equal(t, 110, out[0].Value)
}

func TestParseDirectivesSkipsBlankAndCommentLines(t *testing.T) {
	out := ParseDirectives("\n# a comment\ntempo 80\n\n")
	require.Len(t, out, 1)
	assert.Equal(t, events.KindTempo, out[0].Kind)
}

func TestParseDirectivesSkipsUnknownKind(t *testing.T) {
	out := ParseDirectives("not_a_kind 50\ntempo 80")
	require.Len(t, out, 1)
	assert.Equal(t, events.KindTempo, out[0].Kind)
}

func TestParseDirectivesSkipsMalformedValue(t *testing.T) {
	out := ParseDirectives("tempo notanumber")
	assert.Empty(t, out)
}

func TestParseDirectivesClampsOutOfRangeValue(t *testing.T) {
	out := ParseDirectives("tempo 999\nswing -50")
	require.Len(t, out, 2)
	assert.Equal(t, 127, out[0].Value)
	assert.Equal(t, 0, out[1].Value)
}

func TestParseDirectivesCCParameterRequiresParamAndValue(t *testing.T) {
	out := ParseDirectives("cc_parameter filter_cutoff")
	assert.Empty(t, out)
}

func TestNewRequiresAPIKey(t *testing.T) {
	_, err := New("")
	assert.Error(t, err)
}
