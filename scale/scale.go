// Package scale maps a scale degree, octave offset and root note to a
// concrete MIDI pitch. It is the smallest component in the engine: a
// constant interval table and pure arithmetic over it.
package scale

import "fmt"

// Mapper translates scale degrees to MIDI note numbers for one scale
// and root.
type Mapper struct {
	intervals []int // semitone offsets from the root, ascending, within one octave
	root      int   // MIDI pitch of the tonic
}

// builtinScales is the fixed table of interval sets named in spec.md §6.
var builtinScales = map[string][]int{
	"major":            {0, 2, 4, 5, 7, 9, 11},
	"minor":            {0, 2, 3, 5, 7, 8, 10},
	"pentatonic_major": {0, 2, 4, 7, 9},
	"pentatonic_minor": {0, 3, 5, 7, 10},
	"dorian":           {0, 2, 3, 5, 7, 9, 10},
	"mixolydian":       {0, 2, 4, 5, 7, 9, 10},
	"blues":            {0, 3, 5, 6, 7, 10},
	"locrian":          {0, 1, 3, 5, 6, 8, 10},
	"chromatic":        {0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11},
}

// BuiltinNames returns the names of every built-in scale, in the
// canonical order used to resolve a scale_index into a name.
func BuiltinNames() []string {
	return []string{
		"major", "minor", "pentatonic_major", "pentatonic_minor",
		"dorian", "mixolydian", "blues", "locrian", "chromatic",
	}
}

// New builds a Mapper for the named scale and root MIDI pitch.
func New(scaleName string, root int) (*Mapper, error) {
	intervals, ok := builtinScales[scaleName]
	if !ok {
		return nil, fmt.Errorf("unknown scale: %s", scaleName)
	}
	return &Mapper{intervals: intervals, root: root}, nil
}

// NewByIndex resolves index into BuiltinNames() (clamped to the last
// scale, mirroring the ActionHandler's scale_select clamp) and builds
// a Mapper for it.
func NewByIndex(index, root int) *Mapper {
	names := BuiltinNames()
	if index < 0 {
		index = 0
	}
	if index >= len(names) {
		index = len(names) - 1
	}
	m, _ := New(names[index], root)
	return m
}

// Len returns the number of degrees in the scale.
func (m *Mapper) Len() int {
	return len(m.intervals)
}

// Root returns the mapper's tonic MIDI pitch.
func (m *Mapper) Root() int {
	return m.root
}

// NoteAt returns the MIDI pitch for a scale degree and octave offset.
// degree is taken modulo the scale length (negative degrees wrap
// musically downward); octave shifts the result by 12 semitones per
// unit.
func (m *Mapper) NoteAt(degree, octave int) int {
	n := len(m.intervals)
	d := degree % n
	octaveFromDegree := degree / n
	if d < 0 {
		d += n
		octaveFromDegree--
	}
	pitch := m.root + m.intervals[d] + 12*(octave+octaveFromDegree)
	if pitch < 0 {
		pitch = 0
	}
	if pitch > 127 {
		pitch = 127
	}
	return pitch
}

// DegreeOf returns the nearest scale degree (0-based, within the first
// octave of the scale) for an absolute MIDI pitch. It is a best-effort inverse of
// NoteAt, not guaranteed exact for pitches outside the scale.
func (m *Mapper) DegreeOf(pitch int) int {
	rel := ((pitch - m.root) % 12 + 12) % 12
	best, bestDist := 0, 12
	for i, iv := range m.intervals {
		dist := rel - iv
		if dist < 0 {
			dist = -dist
		}
		if dist < bestDist {
			bestDist = dist
			best = i
		}
	}
	return best
}
