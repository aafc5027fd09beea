package fugue

import (
	"hash/fnv"
	"math/rand"

	"github.com/iltempo/cantry/scale"
)

// Config holds the parameters a fugue render needs, read once from
// State at render time by the owning Sequencer.
type Config struct {
	Mapper         *scale.Mapper
	Root           int
	NVoices        int
	UseTonalAnswer bool
	StrettoOverlap float64
	Seed           int64
}

// Engine renders complete fugue scores. It holds no mutable state
// across renders beyond its PRNG — each Render call is a pure function
// of Config plus the PRNG's current position, and an Engine seeded
// identically reproduces identical scores (spec.md §8 property 7).
type Engine struct {
	rng *rand.Rand
	cfg Config
}

// New builds an Engine from cfg. If cfg.Seed is zero a derived seed is
// computed from the musical parameters so two engines built from
// identical state still agree.
func New(cfg Config) *Engine {
	seed := cfg.Seed
	if seed == 0 {
		seed = DeriveSeed(cfg.Root, cfg.Mapper.Len(), cfg.NVoices)
	}
	return &Engine{rng: rand.New(rand.NewSource(seed)), cfg: cfg}
}

// DeriveSeed computes a reproducible PRNG seed from the musical state
// that shapes a fugue's generation, so identical state always renders
// an identical score without the caller having to manage seeds.
func DeriveSeed(root, scaleLen, nVoices int) int64 {
	h := fnv.New64a()
	b := []byte{byte(root), byte(scaleLen), byte(nVoices)}
	_, _ = h.Write(b)
	return int64(h.Sum64())
}

// Render produces one complete score: exposition, one episode, and a
// cadence, concatenated per voice and passed through the hard
// counterpoint constraints.
func (e *Engine) Render() *Score {
	subject := GenerateSubject(e.rng, e.cfg.Mapper)
	answer := GenerateAnswer(subject, e.cfg.UseTonalAnswer)

	exposition := Exposition(subject, answer, e.cfg.NVoices, e.cfg.StrettoOverlap)
	episode := Episode(e.rng, subject, e.cfg.NVoices, 3)
	cadence := Cadence(e.cfg.Mapper, e.cfg.NVoices)

	voices := make([]Phrase, e.cfg.NVoices)
	for v := 0; v < e.cfg.NVoices; v++ {
		var phrase Phrase
		phrase = append(phrase, exposition[v]...)
		phrase = append(phrase, episode[v]...)
		phrase = append(phrase, cadence[v]...)
		voices[v] = phrase
	}

	ranges := DefaultVoiceRanges(e.cfg.Root, e.cfg.NVoices)
	voices = ApplyHardConstraints(voices, ranges)

	return newScore(voices)
}

// StrettoOverlapFromDensity implements the documented open-question
// resolution: stretto_overlap = clamp(density - 0.3, 0, 0.8).
func StrettoOverlapFromDensity(density float64) float64 {
	v := density - 0.3
	if v < 0 {
		return 0
	}
	if v > 0.8 {
		return 0.8
	}
	return v
}

// NotesAt returns every voice's event (if any) whose onset falls
// within [quarterTime, quarterTime+stepWidth) — the set of notes the
// Sequencer should emit for the current step while in fugue mode
// (spec.md §4.4 "Polyphony").
func (s *Score) NotesAt(quarterTime, stepWidth float64) []Event {
	var hits []Event
	for _, voice := range s.Voices {
		for _, ev := range Timeline(voice) {
			if ev.Onset >= quarterTime && ev.Onset < quarterTime+stepWidth {
				hits = append(hits, ev)
			}
		}
	}
	return hits
}

// NotesAtVoice is like NotesAt but scoped to a single voice and
// annotated with that voice's index, used by the Sequencer to stamp
// NoteEvent.VoiceIndex.
func (s *Score) NotesAtVoice(voice int, quarterTime, stepWidth float64) []Event {
	if voice < 0 || voice >= len(s.Voices) {
		return nil
	}
	var hits []Event
	for _, ev := range Timeline(s.Voices[voice]) {
		if ev.Onset >= quarterTime && ev.Onset < quarterTime+stepWidth {
			hits = append(hits, ev)
		}
	}
	return hits
}
