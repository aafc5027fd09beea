// Package engine is the composition root: it owns every long-lived
// component's lifecycle and wires the callbacks connecting them, the
// way the teacher's main.go wires a single playback.Engine but
// generalized to the full Clock/Sequencer/Scheduler/Mutation/Idle
// graph.
package engine

import (
	"fmt"
	"time"

	"github.com/iltempo/cantry/action"
	"github.com/iltempo/cantry/clock"
	"github.com/iltempo/cantry/config"
	"github.com/iltempo/cantry/events"
	"github.com/iltempo/cantry/idle"
	"github.com/iltempo/cantry/mutation"
	"github.com/iltempo/cantry/scheduler"
	"github.com/iltempo/cantry/sequencer"
	"github.com/iltempo/cantry/state"
	"github.com/iltempo/cantry/telemetry"
)

// continuousParams are ambient-profile/cc_parameter targets that are
// not part of the fixed schema state.New registers; the Engine
// registers them at construction time so idle-profile restores and
// cc_parameter directives always land on a known key.
var continuousParams = map[string]int{
	"master_volume": 100,
	"reverb_mix":    0,
	"filter_cutoff": 127,
}

// Output is the subset of *midi.Output the Engine drives.
type Output interface {
	NoteOn(channel, note, velocity int) error
	NoteOff(channel, note int) error
	ControlChange(channel, controller, value int) error
	Close() error
}

// Engine owns every component's lifecycle and is the single entry
// point the operator console (or any other front end) drives.
type Engine struct {
	cfg    config.Config
	state  *state.State
	clock  *clock.Clock
	seq    *sequencer.Sequencer
	sched  *scheduler.Scheduler
	mut    *mutation.Engine
	idle   *idle.Manager
	action *action.Handler
	out    Output
	tel    *telemetry.Sink
}

// New constructs every component from cfg but does not start anything.
// out is the already-opened MIDI output the scheduler will drive. tel
// may be nil, in which case component failures are silently dropped
// rather than reported anywhere. A cfg that fails config.Validate is
// rejected with that error.
func New(cfg config.Config, out Output, tel *telemetry.Sink) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	st := state.New(cfg.StateDefaults())
	for key, def := range continuousParams {
		st.DefineContinuous(key, def)
	}
	for _, m := range cfg.Mapping {
		if m.Kind == string(events.KindCCParameter) && m.Param != "" {
			st.DefineContinuous(m.Param, 0)
		}
	}

	clk := clock.New(clock.DefaultPPQ, cfg.Sequencer.BPM, cfg.Sequencer.Swing)

	// Forward operator/assistant-driven bpm and swing writes to the
	// running clock so the tempo/swing knobs actually retime ticks
	// (spec.md §4.2, §4.6). Writes sourced from the idle manager are
	// skipped here: it drives the clock itself via StartBPMTransition
	// for a smooth fade, and a flat SetBPM here would only be
	// immediately superseded by that transition anyway.
	st.AddListener(func(change state.Change) {
		switch change.Key {
		case "bpm":
			if change.Source == "idle" || change.Source == "idle_restore" {
				return
			}
			if bpm, ok := change.NewValue.(float64); ok {
				clk.SetBPM(bpm)
			}
		case "swing":
			if swing, ok := change.NewValue.(float64); ok {
				clk.SetSwing(swing)
			}
		}
	})

	ccControllers := make(map[string]int)
	for _, m := range cfg.Mapping {
		if m.Kind == string(events.KindCCParameter) && m.Param != "" && m.RawCC != nil {
			ccControllers[m.Param] = *m.RawCC
		}
	}
	ccOut := func(ev events.ControlChangeEvent) {
		if err := out.ControlChange(ev.Channel, ev.Controller, ev.Value); err != nil {
			if r := reporterOrNil(tel, "action"); r != nil {
				r("control_change", err)
			}
		}
	}

	sched := scheduler.New(
		func(note, velocity, channel int) error { return out.NoteOn(channel, note, velocity) },
		func(note, channel int) error { return out.NoteOff(channel, note) },
		reporterOrNil(tel, "scheduler"),
	)

	seq := sequencer.New(st, time.Now().UnixNano(), func(ev events.NoteEvent) {
		if ev.IsRest || ev.Note == events.RestNote {
			return
		}
		sched.ScheduleNote(ev.Note, ev.Velocity, ev.Channel, ev.DurationSeconds)
	})

	rules := make([]mutation.Rule, 0, len(cfg.Mutation.Rules))
	for _, r := range cfg.Mutation.Rules {
		rules = append(rules, mutation.Rule{
			ParameterKey: r.Parameter,
			Weight:       r.Weight,
			DeltaMin:     r.DeltaMin,
			DeltaMax:     r.DeltaMax,
			DeltaScale:   r.DeltaScale,
			Description:  r.Description,
		})
	}

	profile, ok := idle.BuiltinProfiles()[cfg.Idle.AmbientProfile]
	if !ok {
		return nil, fmt.Errorf("engine: unknown ambient profile %q", cfg.Idle.AmbientProfile)
	}
	idleMgr := idle.New(st, clk,
		profile,
		time.Duration(cfg.Idle.TimeoutMs)*time.Millisecond,
		time.Duration(cfg.Idle.FadeInMs)*time.Millisecond,
		time.Duration(cfg.Idle.FadeOutMs)*time.Millisecond,
	)

	mutEngine := mutation.New(st, rules,
		time.Duration(cfg.Mutation.IntervalMinS*float64(time.Second)),
		time.Duration(cfg.Mutation.IntervalMaxS*float64(time.Second)),
		cfg.Mutation.MaxChangesPerCycle,
		idleMgr,
		time.Now().UnixNano(),
		reporterOrNil(tel, "mutation"),
	)

	actionHandler := action.New(st, seq, idleMgr, ccOut, ccControllers)

	e := &Engine{
		cfg:    cfg,
		state:  st,
		clock:  clk,
		seq:    seq,
		sched:  sched,
		mut:    mutEngine,
		idle:   idleMgr,
		action: actionHandler,
		out:    out,
		tel:    tel,
	}
	return e, nil
}

func reporterOrNil(tel *telemetry.Sink, stage string) func(string, error) {
	if tel == nil {
		return nil
	}
	return tel.Reporter(stage)
}

// Start launches the telemetry drain, the clock, the mutation engine,
// and the idle manager. The scheduler and sequencer have no background
// goroutine of their own: the scheduler reacts to ScheduleNote calls,
// and the sequencer reacts to clock ticks delivered synchronously on
// the clock's goroutine (spec.md §5's per-tick ordering guarantee).
func (e *Engine) Start() {
	if e.tel != nil {
		e.tel.Start()
	}
	e.clock.Start(e.seq.OnClockTick)
	e.mut.Start()
	e.idle.Start()
}

// Shutdown stops every component in the order spec.md §5 requires:
// the clock first (no more ticks can produce new notes), then the
// mutation engine and idle manager (no more background parameter
// writes), then the scheduler drains every outstanding note-off, and
// finally the MIDI output and telemetry sink are released.
func (e *Engine) Shutdown() {
	e.clock.Stop()
	e.mut.Stop()
	e.idle.Stop()
	e.sched.Shutdown()
	e.out.Close()
	if e.tel != nil {
		e.tel.Stop()
	}
}

// Dispatch routes one inbound SemanticEvent through the ActionHandler.
func (e *Engine) Dispatch(ev events.SemanticEvent) {
	e.action.Handle(ev)
}

// Snapshot returns the current value of every known state parameter,
// suitable for display or for passing to assistant.Client.Translate.
func (e *Engine) Snapshot() map[string]interface{} {
	out := make(map[string]interface{})
	for _, key := range e.state.Keys() {
		if v, ok := e.state.Get(key); ok {
			out[key] = v
		}
	}
	return out
}

// State exposes the underlying parameter store for read-only console
// commands (e.g. "status") that need typed accessors.
func (e *Engine) State() *state.State { return e.state }

// MutationHistory returns the mutation engine's bounded history of
// applied ambient changes.
func (e *Engine) MutationHistory() []mutation.Event {
	return e.mut.History()
}

// IsIdle reports whether the engine is currently in ambient idle mode.
func (e *Engine) IsIdle() bool { return e.idle.IsIdle() }
