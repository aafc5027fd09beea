package fugue

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultVoiceRangesDescendFromRootByOctave(t *testing.T) {
	ranges := DefaultVoiceRanges(60, 3)
	require.Len(t, ranges, 3)
	assert.Equal(t, VoiceRange{Low: 72, High: 96}, ranges[0])
	assert.Equal(t, VoiceRange{Low: 60, High: 84}, ranges[1])
	assert.Equal(t, VoiceRange{Low: 48, High: 72}, ranges[2])
}

func TestClampVoiceToRangeOctaveShiftsOutOfRangePitches(t *testing.T) {
	phrase := Phrase{
		{Pitch: pitch(30), DurationQuarters: 1},
		{Pitch: pitch(110), DurationQuarters: 1},
	}
	out := clampVoiceToRange(phrase, VoiceRange{Low: 48, High: 72})
	assert.GreaterOrEqual(t, *out[0].Pitch, 48)
	assert.LessOrEqual(t, *out[0].Pitch, 72)
	assert.GreaterOrEqual(t, *out[1].Pitch, 48)
	assert.LessOrEqual(t, *out[1].Pitch, 72)
}

func TestBoundLeapsClampsNonCadentialLeapsButExemptsFinalTwoNotes(t *testing.T) {
	phrase := Phrase{
		{Pitch: pitch(60), DurationQuarters: 1},
		{Pitch: pitch(80), DurationQuarters: 1}, // 20 semitone leap, not cadential
		{Pitch: pitch(40), DurationQuarters: 1}, // cadential (index 2 of 4, last two exempt)
		{Pitch: pitch(41), DurationQuarters: 1}, // cadential (index 3 of 4)
	}
	out := boundLeaps(phrase)
	leap := *out[1].Pitch - *out[0].Pitch
	assert.LessOrEqual(t, leap, maxLeapSemitones)
	assert.GreaterOrEqual(t, leap, -maxLeapSemitones)
}

func TestApplyHardConstraintsKeepsEveryVoiceWithinItsRange(t *testing.T) {
	voices := []Phrase{
		{{Pitch: pitch(20), DurationQuarters: 1}, {Pitch: pitch(150), DurationQuarters: 1}},
		{{Pitch: pitch(5), DurationQuarters: 1}},
	}
	ranges := DefaultVoiceRanges(60, 2)
	out := ApplyHardConstraints(voices, ranges)
	for v, phrase := range out {
		for _, n := range phrase {
			if n.IsRest() {
				continue
			}
			assert.GreaterOrEqual(t, *n.Pitch, ranges[v].Low)
			assert.LessOrEqual(t, *n.Pitch, ranges[v].High)
		}
	}
}

func TestIntervalClassReducesToZeroEleven(t *testing.T) {
	assert.Equal(t, 0, intervalClass(60, 72))
	assert.Equal(t, 7, intervalClass(60, 67))
	assert.Equal(t, 7, intervalClass(67, 60))
}

func TestScorePenaltyIsZeroForNonOverlappingVoices(t *testing.T) {
	voices := []Phrase{
		{{Pitch: pitch(60), DurationQuarters: 1}},
		{{Pitch: nil, DurationQuarters: 1}, {Pitch: pitch(64), DurationQuarters: 1}},
	}
	assert.Equal(t, 0, ScorePenalty(voices))
}

func TestScorePenaltyPenalizesParallelFifthsOnStrongBeats(t *testing.T) {
	voiceA := Phrase{{Pitch: pitch(60), DurationQuarters: 1}, {Pitch: pitch(62), DurationQuarters: 1}}
	voiceB := Phrase{{Pitch: pitch(67), DurationQuarters: 1}, {Pitch: pitch(69), DurationQuarters: 1}}
	withParallel := ScorePenalty([]Phrase{voiceA, voiceB})

	voiceBNoParallel := Phrase{{Pitch: pitch(67), DurationQuarters: 1}, {Pitch: pitch(65), DurationQuarters: 1}}
	withoutParallel := ScorePenalty([]Phrase{voiceA, voiceBNoParallel})

	assert.Greater(t, withParallel, withoutParallel)
}
