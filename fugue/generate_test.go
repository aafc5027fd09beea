package fugue

import (
	"math/rand"
	"testing"

	"github.com/iltempo/cantry/scale"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateSubjectHasFourQuarterNotesTotalDuration(t *testing.T) {
	mapper, err := scale.New("major", 60)
	require.NoError(t, err)
	rng := rand.New(rand.NewSource(1))
	subject := GenerateSubject(rng, mapper)
	assert.InDelta(t, 4.0, subject.TotalDuration(), 1e-9)
}

func TestGenerateSubjectIsDeterministicForFixedSeed(t *testing.T) {
	mapper, err := scale.New("major", 60)
	require.NoError(t, err)
	a := GenerateSubject(rand.New(rand.NewSource(42)), mapper)
	b := GenerateSubject(rand.New(rand.NewSource(42)), mapper)
	assert.Equal(t, a, b)
}

func TestGenerateAnswerRealAnswerIsPlainFifthTransposition(t *testing.T) {
	mapper, err := scale.New("major", 60)
	require.NoError(t, err)
	rng := rand.New(rand.NewSource(1))
	subject := GenerateSubject(rng, mapper)
	answer := GenerateAnswer(subject, false)
	for i := range subject {
		if subject[i].IsRest() {
			assert.True(t, answer[i].IsRest())
			continue
		}
		assert.Equal(t, *subject[i].Pitch+7, *answer[i].Pitch)
	}
}

func TestGenerateAnswerTonalAnswerCorrectsOpeningLeapToAFifthAboveMinusTwo(t *testing.T) {
	mapper, err := scale.New("major", 60)
	require.NoError(t, err)
	subject := Phrase{
		{Pitch: pitch(60), DurationQuarters: 1},
		{Pitch: pitch(62), DurationQuarters: 1},
	}
	answer := GenerateAnswer(subject, true)
	assert.Equal(t, 65, *answer[0].Pitch) // 60+5, not 60+7
	assert.Equal(t, 69, *answer[1].Pitch) // untouched, plain +7
}

func TestExpositionEntryGapShrinksAsStrettoOverlapGrows(t *testing.T) {
	mapper, err := scale.New("major", 60)
	require.NoError(t, err)
	rng := rand.New(rand.NewSource(1))
	subject := GenerateSubject(rng, mapper)
	answer := GenerateAnswer(subject, true)

	loose := Exposition(subject, answer, 2, 0.0)
	tight := Exposition(subject, answer, 2, 0.8)

	looseGap := Timeline(loose[1])[0].Onset
	tightGap := Timeline(tight[1])[0].Onset
	assert.Greater(t, looseGap, tightGap)
}

func TestExpositionAlternatesSubjectAndAnswerByVoiceParity(t *testing.T) {
	mapper, err := scale.New("major", 60)
	require.NoError(t, err)
	rng := rand.New(rand.NewSource(1))
	subject := GenerateSubject(rng, mapper)
	answer := GenerateAnswer(subject, true)

	voices := Exposition(subject, answer, 4, 0.5)
	require.Len(t, voices, 4)
	// Voice 0 enters at offset zero, so it is exactly the subject.
	assert.Equal(t, subject, voices[0])
	// Voice 1 enters after a leading rest (the stretto gap), followed
	// by the answer material unchanged.
	entryGap := subject.TotalDuration() * (1 - 0.5)
	require.True(t, voices[1][0].IsRest())
	assert.InDelta(t, entryGap, voices[1][0].DurationQuarters, 1e-9)
	assert.Equal(t, answer, voices[1][1:])
}

func TestCadenceGivesEachVoiceADominantToTonicPair(t *testing.T) {
	mapper, err := scale.New("major", 60)
	require.NoError(t, err)
	voices := Cadence(mapper, 3)
	require.Len(t, voices, 3)
	for _, v := range voices {
		require.Len(t, v, 2)
		assert.NotNil(t, v[0].Pitch)
		assert.NotNil(t, v[1].Pitch)
	}
}

func TestEpisodeProducesOneVoiceForEachRequestedVoice(t *testing.T) {
	mapper, err := scale.New("major", 60)
	require.NoError(t, err)
	rng := rand.New(rand.NewSource(7))
	subject := GenerateSubject(rng, mapper)
	voices := Episode(rng, subject, 3, 2)
	assert.Len(t, voices, 3)
	for _, v := range voices {
		assert.NotEmpty(t, v)
	}
}

func TestEngineRenderIsDeterministicForSameSeed(t *testing.T) {
	mapper, err := scale.New("major", 60)
	require.NoError(t, err)
	cfg := Config{Mapper: mapper, Root: 60, NVoices: 3, UseTonalAnswer: true, StrettoOverlap: 0.3, Seed: 99}

	scoreA := New(cfg).Render()
	scoreB := New(cfg).Render()
	assert.Equal(t, scoreA, scoreB)
}

func TestEngineRenderRespectsVoiceCount(t *testing.T) {
	mapper, err := scale.New("major", 60)
	require.NoError(t, err)
	cfg := Config{Mapper: mapper, Root: 60, NVoices: 4, UseTonalAnswer: true, StrettoOverlap: 0.2, Seed: 5}
	score := New(cfg).Render()
	assert.Len(t, score.Voices, 4)
}

func TestNotesAtVoiceReturnsNilForOutOfRangeVoice(t *testing.T) {
	mapper, err := scale.New("major", 60)
	require.NoError(t, err)
	cfg := Config{Mapper: mapper, Root: 60, NVoices: 2, UseTonalAnswer: true, StrettoOverlap: 0.1, Seed: 3}
	score := New(cfg).Render()
	assert.Nil(t, score.NotesAtVoice(99, 0, 1))
}
