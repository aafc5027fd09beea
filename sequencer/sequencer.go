// Package sequencer implements the step sequencer: it consumes clock
// ticks, advances step_position according to the configured direction
// pattern, runs the gate chain, and emits NoteEvents. In fugue mode it
// delegates note generation entirely to a fugue.Engine-rendered score.
package sequencer

import (
	"math/rand"
	"sync"
	"time"

	"github.com/iltempo/cantry/clock"
	"github.com/iltempo/cantry/events"
	"github.com/iltempo/cantry/fugue"
	"github.com/iltempo/cantry/scale"
	"github.com/iltempo/cantry/state"
)

// NoteCallback receives every sounding note the sequencer produces;
// steps suppressed by the gate chain are not delivered.
type NoteCallback func(events.NoteEvent)

// fugueReplayWindow is how long a rendered fugue plays before a
// silent rest and re-render, per spec.md §4.4.
const fugueReplayWindow = 5 * time.Minute

// fugueRestWindow is the silent gap between one fugue and the next.
const fugueRestWindow = 10 * time.Second

type pendingScaleChange struct {
	scaleIndex int
	root       int
	when       string // "bar" | "immediate"
}

type fugueRuntime struct {
	engine       *fugue.Engine
	score        *fugue.Score
	startedAt    time.Time
	quarterTime  float64
	restingUntil time.Time
	resting      bool
}

// Sequencer owns step_position advancement, the gate chain, the scale
// mapper, and (in fugue mode) the fugue engine's render/replay
// lifecycle. It is the exclusive owner of its own PRNG stream,
// ping-pong direction, and pending bar-quantized scale change — none of
// this is duplicated in State.
type Sequencer struct {
	st *state.State

	mu            sync.Mutex
	mapper        *scale.Mapper
	rng           *rand.Rand
	pingPongDir   int
	pending       *pendingScaleChange
	fugue         *fugueRuntime
	onNote        NoteCallback
}

// New builds a Sequencer reading parameters from st and emitting notes
// to onNote. A zero seed is replaced by the fixed seed 1, so behavior
// is reproducible across runs with identical state.
func New(st *state.State, seed int64, onNote NoteCallback) *Sequencer {
	root := st.GetInt("root_note")
	mapper := scale.NewByIndex(st.GetInt("scale_index"), root)
	if seed == 0 {
		seed = 1
	}
	return &Sequencer{
		st:          st,
		mapper:      mapper,
		rng:         rand.New(rand.NewSource(seed)),
		pingPongDir: 1,
		onNote:      onNote,
	}
}

// SetScaleChange records a scale/root change, applied immediately or
// deferred to the next bar (step_position == 0) per when.
func (sq *Sequencer) SetScaleChange(scaleIndex, root int, when string) {
	sq.mu.Lock()
	defer sq.mu.Unlock()
	if when == "bar" {
		sq.pending = &pendingScaleChange{scaleIndex: scaleIndex, root: root, when: when}
		return
	}
	sq.mapper = scale.NewByIndex(scaleIndex, root)
	sq.pending = nil
}

// OnClockTick is the clock.Handler the engine registers. It is a no-op
// except on 16th-note boundaries.
func (sq *Sequencer) OnClockTick(tick clock.Tick) {
	stepTicks := int64(clock.DefaultPPQ / 4)
	if stepTicks <= 0 {
		stepTicks = 1
	}
	if tick.Index%stepTicks != 0 {
		return
	}
	sq.advanceAndEmit()
}

func (sq *Sequencer) advanceAndEmit() {
	sq.mu.Lock()
	defer sq.mu.Unlock()

	length := sq.st.GetInt("sequence_length")
	if length <= 0 {
		length = 1
	}
	position := sq.st.GetInt("step_position")
	direction := sq.st.GetEnum("direction_pattern")

	next := sq.nextPosition(position, length, direction)
	sq.st.Set("step_position", next, "sequencer")

	if next == 0 {
		sq.applyPendingLocked()
	}

	if direction == "fugue" {
		sq.emitFugueLocked(next, length)
		return
	}

	sq.emitGatedLocked(next)
}

// nextPosition computes the step_position to advance to, per spec.md
// §4.3's per-direction rules. Called with sq.mu held.
func (sq *Sequencer) nextPosition(position, length int, direction string) int {
	switch direction {
	case "backward":
		n := position - 1
		n %= length
		if n < 0 {
			n += length
		}
		return n
	case "ping_pong":
		return sq.pingPongNext(position, length)
	case "random":
		return sq.randomNext(position, length)
	case "fugue":
		return (position + 1) % length
	default: // "forward" and unrecognized values
		return (position + 1) % length
	}
}

func (sq *Sequencer) pingPongNext(position, length int) int {
	if length <= 1 {
		return 0
	}
	n := position + sq.pingPongDir
	if n >= length {
		sq.pingPongDir = -1
		n = position + sq.pingPongDir
	} else if n < 0 {
		sq.pingPongDir = 1
		n = position + sq.pingPongDir
	}
	return n
}

func (sq *Sequencer) randomNext(position, length int) int {
	if length <= 1 {
		return 0
	}
	for {
		n := sq.rng.Intn(length)
		if n != position {
			return n
		}
	}
}

// applyPendingLocked applies a bar-quantized scale change on the tick
// where step_position returns to 0. Called with sq.mu held.
func (sq *Sequencer) applyPendingLocked() {
	if sq.pending == nil {
		return
	}
	sq.mapper = scale.NewByIndex(sq.pending.scaleIndex, sq.pending.root)
	sq.pending = nil
}

// emitGatedLocked runs the non-fugue gate chain for step s and emits a
// note if it passes. Called with sq.mu held.
func (sq *Sequencer) emitGatedLocked(s int) {
	pattern := sq.st.GetBoolSlice("step_pattern")
	if pattern != nil && s < len(pattern) && !pattern[s] {
		return
	}

	p := sq.st.GetFloat("note_probability")
	probs := sq.st.GetFloatSlice("step_probabilities")
	if probs != nil && s < len(probs) {
		p = probs[s]
	}
	if sq.rng.Float64() >= p {
		return
	}

	density := sq.st.GetFloat("density")
	if sq.rng.Float64() >= density {
		return
	}

	note := sq.pitchForStepLocked(s)
	velocity := sq.velocityLocked(p)
	duration := sq.gateDurationLocked()

	sq.deliver(events.NoteEvent{
		Note:            note,
		Velocity:        velocity,
		DurationSeconds: duration,
		StepIndex:       s,
		VoiceIndex:      0,
		Channel:         1,
	})
}

// pitchForStepLocked resolves the scale degree mapping documented in
// SPEC_FULL.md §9: degree = s % scale_length, octave bias = s / scale_length.
func (sq *Sequencer) pitchForStepLocked(s int) int {
	length := sq.mapper.Len()
	if length <= 0 {
		length = 1
	}
	degree := s % length
	octave := s / length
	return sq.mapper.NoteAt(degree, octave)
}

func (sq *Sequencer) velocityLocked(p float64) int {
	base := sq.st.GetInt("base_velocity")
	rng := sq.st.GetInt("velocity_range")
	jitter := sq.rng.Intn(5) - 2 // -2..+2
	v := base + roundInt((p-0.5)*float64(rng)) + jitter
	return clampInt(v, 1, 127)
}

func (sq *Sequencer) gateDurationLocked() float64 {
	bpm := sq.st.GetFloat("bpm")
	if bpm <= 0 {
		bpm = 1
	}
	stepInterval := 60.0 / (bpm * 4)
	return sq.st.GetFloat("gate_length") * stepInterval
}

// emitFugueLocked advances the fugue timeline by one step and emits
// every voice's note whose onset falls in the current step window.
// Called with sq.mu held.
func (sq *Sequencer) emitFugueLocked(step, length int) {
	sq.ensureFugueLocked()
	fr := sq.fugue

	now := time.Now()
	if fr.resting {
		if now.Before(fr.restingUntil) {
			return
		}
		sq.renderFugueLocked()
		fr = sq.fugue
	}

	// A 16th-note step is always 0.25 of a quarter note, independent of
	// bpm; bpm only affects how long that quarter note lasts in seconds.
	const stepWidthQuarters = 0.25
	secondsPerQuarter := 60.0 / maxFloat(sq.st.GetFloat("bpm"), 1)

	nVoices := len(fr.score.Voices)
	for v := 0; v < nVoices; v++ {
		hits := fr.score.NotesAtVoice(v, fr.quarterTime, stepWidthQuarters)
		for _, ev := range hits {
			if ev.IsRest() {
				continue
			}
			sq.deliver(events.NoteEvent{
				Note:            clampInt(*ev.Pitch, 0, 127),
				Velocity:        clampInt(ev.Velocity, 1, 127),
				DurationSeconds: ev.DurationQuarters * secondsPerQuarter,
				StepIndex:       step,
				VoiceIndex:      v,
				Channel:         1,
			})
		}
	}

	fr.quarterTime += stepWidthQuarters
	if fr.quarterTime >= fr.score.TotalQuarters || time.Since(fr.startedAt) >= fugueReplayWindow {
		fr.resting = true
		fr.restingUntil = now.Add(fugueRestWindow)
	}
}

func (sq *Sequencer) ensureFugueLocked() {
	if sq.fugue == nil {
		sq.renderFugueLocked()
	}
}

func (sq *Sequencer) renderFugueLocked() {
	root := sq.st.GetInt("root_note")
	density := sq.st.GetFloat("density")
	cfg := fugue.Config{
		Mapper:         sq.mapper,
		Root:           root,
		NVoices:        clampInt(sq.st.GetInt("voices"), 1, 4),
		UseTonalAnswer: true,
		StrettoOverlap: fugue.StrettoOverlapFromDensity(density),
		Seed:           fugue.DeriveSeed(root, sq.mapper.Len(), clampInt(sq.st.GetInt("voices"), 1, 4)),
	}
	engine := fugue.New(cfg)
	sq.fugue = &fugueRuntime{
		engine:    engine,
		score:     engine.Render(),
		startedAt: time.Now(),
	}
}

// ManualTrigger handles a trigger_step SemanticEvent: it advances the
// step position exactly like a forward step but bypasses the entire
// gate chain, using velocity and an optional pitch override supplied by
// the event (spec.md §4.6).
func (sq *Sequencer) ManualTrigger(velocity int, rawNoteOverride *int) events.NoteEvent {
	sq.mu.Lock()
	defer sq.mu.Unlock()

	length := sq.st.GetInt("sequence_length")
	if length <= 0 {
		length = 1
	}
	position := sq.st.GetInt("step_position")
	next := (position + 1) % length
	sq.st.Set("step_position", next, "manual_trigger")
	if next == 0 {
		sq.applyPendingLocked()
	}

	note := sq.pitchForStepLocked(next)
	if rawNoteOverride != nil {
		note = clampInt(*rawNoteOverride, 0, 127)
	}

	ev := events.NoteEvent{
		Note:            note,
		Velocity:        clampInt(velocity, 1, 127),
		DurationSeconds: sq.gateDurationLocked(),
		StepIndex:       next,
		VoiceIndex:      0,
		Channel:         1,
	}
	sq.deliver(ev)
	return ev
}

func (sq *Sequencer) deliver(ev events.NoteEvent) {
	if sq.onNote != nil {
		sq.onNote(ev)
	}
}

func roundInt(f float64) int {
	if f >= 0 {
		return int(f + 0.5)
	}
	return -int(-f + 0.5)
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func maxFloat(v, floor float64) float64 {
	if v < floor {
		return floor
	}
	return v
}
