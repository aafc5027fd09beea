package fugue

import (
	"math/rand"

	"github.com/iltempo/cantry/scale"
)

// subjectRhythm is the teacher rhythm named in spec.md §4.4: eighth,
// eighth, quarter, half — four quarter notes total.
var subjectRhythm = []float64{0.5, 0.5, 1.0, 2.0}

// subjectDegrees is a deterministic stepwise-with-one-leap contour:
// tonic, step up, step up, leap to the dominant and back home on the
// held final beat (a cadential gesture onto the tonic).
var subjectDegrees = []int{0, 1, 2, 4, 0}

// GenerateSubject builds a 4-quarter-note subject over mapper/root
// with Bach-style contour, a distinctive rhythm, and a cadential
// gesture on the final beat. With probability ~0.30 a rest pattern is
// substituted in. Deterministic given rng's seed.
func GenerateSubject(rng *rand.Rand, mapper *scale.Mapper) Phrase {
	notes := make(Phrase, len(subjectRhythm))
	velocity := 92

	// Walk the contour across the rhythm slots; the contour has one
	// more degree than rhythm slots because the final slot resolves
	// through the last two degrees (leap then cadential return) —
	// collapse that resolution into the held final note's pitch.
	for i, dur := range subjectRhythm {
		degree := subjectDegrees[i]
		if i == len(subjectRhythm)-1 {
			degree = subjectDegrees[len(subjectDegrees)-1]
		}
		pitch := mapper.NoteAt(degree, 0)
		jitter := rng.Intn(5) - 2
		notes[i] = Note{Pitch: pitchPtr(pitch), DurationQuarters: dur, Velocity: clampVelocity(velocity + jitter)}
	}

	if rng.Float64() < 0.30 {
		notes = applyRestPattern(rng, notes)
	}
	return notes
}

// restPattern names the four rest shapes spec.md §4.4 lists.
type restPattern int

const (
	restAnacrusis restPattern = iota
	restMidPhraseBreath
	restEndPhrasePause
	restSyncopation
)

func applyRestPattern(rng *rand.Rand, phrase Phrase) Phrase {
	out := phrase.Clone()
	switch restPattern(rng.Intn(4)) {
	case restAnacrusis:
		out[0].Pitch = nil

	case restMidPhraseBreath:
		mid := len(out) / 2
		out[mid].Pitch = nil

	case restEndPhrasePause:
		last := len(out) - 1
		full := out[last].DurationQuarters
		out[last].DurationQuarters = full / 2
		out = append(out, Note{Pitch: nil, DurationQuarters: full / 2})

	case restSyncopation:
		if len(out) >= 2 {
			out[0], out[1] = out[1], out[0]
		}
	}
	return out
}

// GenerateAnswer produces the imitative response to subject. A tonal
// answer starts on the dominant (degree 5 / root+7) but corrects the
// opening tonic→dominant leap (+7) to +5 so the answer's opening still
// outlines the tonic region, per spec.md §4.4; a real answer is a
// plain +7 transposition. Rests pass through unchanged either way.
func GenerateAnswer(subject Phrase, useTonalAnswer bool) Phrase {
	if !useTonalAnswer {
		return Transpose(subject, 7)
	}

	answer := Transpose(subject, 7).Clone()
	if len(answer) > 0 && answer[0].Pitch != nil && subject[0].Pitch != nil {
		corrected := *subject[0].Pitch + 5
		answer[0].Pitch = &corrected
	}
	return answer
}

// Exposition lays out nVoices entries of subject/answer in stretto.
// Even voices enter with subject, odd voices with answer; entryGap is
// subjectLength*(1-strettoOverlap).
func Exposition(subject, answer Phrase, nVoices int, strettoOverlap float64) []Phrase {
	if strettoOverlap < 0 {
		strettoOverlap = 0
	}
	if strettoOverlap > 1 {
		strettoOverlap = 1
	}
	subjectLen := subject.TotalDuration()
	entryGap := subjectLen * (1 - strettoOverlap)

	voices := make([]Phrase, nVoices)
	for v := 0; v < nVoices; v++ {
		material := subject
		if v%2 == 1 {
			material = answer
		}
		voices[v] = ShiftTime(material, float64(v)*entryGap)
	}
	return voices
}

// fragmentTranspositions cycles diatonic and fifth-related shifts
// (in semitones) applied to successive episode fragments.
var fragmentTranspositions = []int{2, -3, 7, -2, 5, -5}

// Episode builds a development section by slicing a 2-quarter fragment
// from subject and sequencing it through transpositions, distributed
// across voices with small canonic offsets.
func Episode(rng *rand.Rand, subject Phrase, nVoices int, repeats int) []Phrase {
	fragment := SliceByTime(subject, 0, 2.0)
	voices := make([]Phrase, nVoices)

	for v := 0; v < nVoices; v++ {
		var phrase Phrase
		canonOffset := float64(v) * 0.5
		if canonOffset > 0 {
			phrase = append(phrase, Note{Pitch: nil, DurationQuarters: canonOffset})
		}
		for r := 0; r < repeats; r++ {
			shift := fragmentTranspositions[(r+v)%len(fragmentTranspositions)]
			transposed := Transpose(fragment, shift)
			phrase = append(phrase, transposed...)

			if rng.Float64() < 0.25 {
				phrase = append(phrase, Note{Pitch: nil, DurationQuarters: 1.0})
			}
		}
		if rng.Float64() < 0.30 {
			phrase = append(phrase, Note{Pitch: nil, DurationQuarters: 1.0})
		}
		voices[v] = phrase
	}
	return voices
}

// cadenceDegrees gives each voice (by index, low to high) a chord tone
// of a dominant-to-tonic gesture: fifth, third, then the octave/unison
// tonic resolution.
var cadenceDegrees = []int{4, 2, 0, 0}

// Cadence builds a short dominant→tonic resolution, one note pair per
// voice, to prepare the next subject re-entry.
func Cadence(mapper *scale.Mapper, nVoices int) []Phrase {
	voices := make([]Phrase, nVoices)
	for v := 0; v < nVoices; v++ {
		degree := cadenceDegrees[v%len(cadenceDegrees)]
		octave := -(v / len(cadenceDegrees))
		dominant := mapper.NoteAt(degree+4, octave)
		tonic := mapper.NoteAt(degree, octave)
		voices[v] = Phrase{
			{Pitch: pitchPtr(dominant), DurationQuarters: 1.0, Velocity: 85},
			{Pitch: pitchPtr(tonic), DurationQuarters: 1.0, Velocity: 90},
		}
	}
	return voices
}

func clampVelocity(v int) int {
	if v < 1 {
		return 1
	}
	if v > 127 {
		return 127
	}
	return v
}
