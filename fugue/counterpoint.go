package fugue

// VoiceRange is the inclusive MIDI pitch range a voice must stay
// within (hard constraint, spec.md §4.4).
type VoiceRange struct {
	Low, High int
}

// DefaultVoiceRanges spaces nVoices an octave apart, each spanning an
// octave either side of its centre: the last voice is centred on the
// root and each earlier voice an octave higher — voice 0 highest, the
// way a four-part chorale assigns soprano..bass.
func DefaultVoiceRanges(root, nVoices int) []VoiceRange {
	ranges := make([]VoiceRange, nVoices)
	for v := 0; v < nVoices; v++ {
		center := root + 12*(nVoices-1-v)
		ranges[v] = VoiceRange{Low: center - 12, High: center + 12}
	}
	return ranges
}

const maxLeapSemitones = 9

// ApplyHardConstraints clamps every voice's pitches into its
// configured range and bounds leaps between consecutive sounding
// notes to maxLeapSemitones, octave-shifting offending notes rather
// than discarding them. Cadential notes (the final two events of a
// voice) are exempt from the leap bound per spec.md §4.4.
func ApplyHardConstraints(voices []Phrase, ranges []VoiceRange) []Phrase {
	out := make([]Phrase, len(voices))
	for v, phrase := range voices {
		r := VoiceRange{Low: 0, High: 127}
		if v < len(ranges) {
			r = ranges[v]
		}
		out[v] = clampVoiceToRange(phrase, r)
	}
	for v := range out {
		out[v] = boundLeaps(out[v])
	}
	return out
}

func clampVoiceToRange(phrase Phrase, r VoiceRange) Phrase {
	out := phrase.Clone()
	for i := range out {
		if out[i].Pitch == nil {
			continue
		}
		p := *out[i].Pitch
		for p < r.Low {
			p += 12
		}
		for p > r.High {
			p -= 12
		}
		out[i].Pitch = &p
	}
	return out
}

func boundLeaps(phrase Phrase) Phrase {
	out := phrase.Clone()
	lastSounding := -1
	for i := range out {
		if out[i].Pitch == nil {
			continue
		}
		if lastSounding == -1 {
			lastSounding = i
			continue
		}
		isCadential := i >= len(out)-2
		if isCadential {
			lastSounding = i
			continue
		}
		leap := *out[i].Pitch - *out[lastSounding].Pitch
		for leap > maxLeapSemitones {
			p := *out[i].Pitch - 12
			out[i].Pitch = &p
			leap = *out[i].Pitch - *out[lastSounding].Pitch
		}
		for leap < -maxLeapSemitones {
			p := *out[i].Pitch + 12
			out[i].Pitch = &p
			leap = *out[i].Pitch - *out[lastSounding].Pitch
		}
		lastSounding = i
	}
	return out
}

// strongBeatEpsilon treats onsets within this tolerance of an integer
// quarter-note boundary as "strong beats" for parallel-motion scoring.
const strongBeatEpsilon = 1e-9

func isStrongBeat(onset float64) bool {
	frac := onset - float64(int64(onset))
	return frac < strongBeatEpsilon || (1-frac) < strongBeatEpsilon
}

// interval between two simultaneous pitches, reduced to 0-11 (ignoring
// octave) for parallel perfect-interval detection.
func intervalClass(a, b int) int {
	d := (b - a) % 12
	if d < 0 {
		d += 12
	}
	return d
}

const (
	intervalUnisonOrOctave = 0
	intervalFifth          = 7
)

// ScorePenalty is a soft, non-fatal badness score: higher means more
// counterpoint violations. It is informational only — ApplyHardConstraints
// already enforces the constraints that must never be violated.
func ScorePenalty(voices []Phrase) int {
	timelines := make([][]Event, len(voices))
	for i, v := range voices {
		timelines[i] = Timeline(v)
	}

	penalty := 0
	for a := 0; a < len(timelines); a++ {
		for b := a + 1; b < len(timelines); b++ {
			penalty += scorePair(timelines[a], timelines[b])
		}
	}
	return penalty
}

func scorePair(a, b []Event) int {
	penalty := 0
	var prevInterval = -1
	var prevA, prevB *int

	for i, j := 0, 0; i < len(a) && j < len(b); {
		ea, eb := a[i], b[j]
		if ea.Onset < eb.Onset {
			i++
			continue
		}
		if eb.Onset < ea.Onset {
			j++
			continue
		}
		// Simultaneous onset.
		if !ea.IsRest() && !eb.IsRest() {
			iv := intervalClass(*ea.Pitch, *eb.Pitch)
			if isStrongBeat(ea.Onset) && prevInterval == iv && (iv == intervalUnisonOrOctave || iv == intervalFifth) {
				penalty += 3 // parallel perfect fifth/octave on a strong beat
			}
			if prevA != nil && prevB != nil {
				movedSameDirection := (*ea.Pitch-*prevA)*(*eb.Pitch-*prevB) > 0
				if movedSameDirection && isStrongBeat(ea.Onset) && (iv == intervalUnisonOrOctave || iv == intervalFifth) {
					penalty += 1 // direct (hidden) perfect on a strong beat
				}
			}
			if ea.Onset > 0 && *ea.Pitch == *eb.Pitch {
				penalty += 1 // unison outside a cadence is mildly penalized
			}

			prevInterval = iv
			pa, pb := *ea.Pitch, *eb.Pitch
			prevA, prevB = &pa, &pb
		}
		i++
		j++
	}
	return penalty
}
