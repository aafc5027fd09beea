// Package action implements the ActionHandler: the single dispatch
// point that turns an inbound SemanticEvent into a concrete state
// mutation or sequencer command.
package action

import (
	"math"

	"github.com/iltempo/cantry/events"
	"github.com/iltempo/cantry/scale"
	"github.com/iltempo/cantry/sequencer"
	"github.com/iltempo/cantry/state"
)

// InteractionSink breaks the ActionHandler -> IdleManager dependency
// cycle spec.md §9 calls out: ActionHandler only needs to report that
// an interaction happened, not the whole IdleManager surface.
type InteractionSink interface {
	Touch()
}

// Sequencer is the subset of *sequencer.Sequencer the handler drives
// directly (trigger_step and bar-quantized scale changes).
type Sequencer interface {
	ManualTrigger(velocity int, rawNoteOverride *int) events.NoteEvent
	SetScaleChange(scaleIndex, root int, when string)
}

// CCOut is the outbound CC callback: ActionHandler invokes it for
// every cc_parameter directive that maps to a continuous
// external-synth parameter (spec.md §6 "Outbound CC callback").
type CCOut func(events.ControlChangeEvent)

// Handler dispatches SemanticEvents per spec.md §4.6's table.
type Handler struct {
	st            *state.State
	seq           Sequencer
	idle          InteractionSink
	ccOut         CCOut
	ccControllers map[string]int // param -> controller number, for outbound CC
}

// New builds a Handler. idle may be nil in tests that do not exercise
// idle-timer interaction. ccOut may be nil, in which case cc_parameter
// directives only write state and never emit outbound CC. ccControllers
// maps a state parameter key to the controller number it is echoed out
// on; a cc_parameter directive whose Param is absent from it falls back
// to the inbound event's own RawCC, if any.
func New(st *state.State, seq Sequencer, idle InteractionSink, ccOut CCOut, ccControllers map[string]int) *Handler {
	return &Handler{st: st, seq: seq, idle: idle, ccOut: ccOut, ccControllers: ccControllers}
}

// Handle applies event's effect. Every event first resets the idle
// timer, regardless of kind.
func (h *Handler) Handle(event events.SemanticEvent) {
	if h.idle != nil {
		h.idle.Touch()
	}

	switch event.Kind {
	case events.KindTriggerStep:
		h.handleTriggerStep(event)
	case events.KindTempo:
		bpm := 60.0 + (float64(event.Value)/127.0)*140.0
		h.st.Set("bpm", bpm, "action")
	case events.KindSwing:
		h.st.Set("swing", (float64(event.Value)/127.0)*0.5, "action")
	case events.KindDensity:
		h.st.Set("density", float64(event.Value)/127.0, "action")
	case events.KindSequenceLength:
		length := clampInt(1+roundInt(float64(event.Value)*31.0/127.0), 1, 32)
		h.st.Set("sequence_length", length, "action")
	case events.KindScaleSelect:
		h.handleScaleSelect(event)
	case events.KindRootNoteUp:
		h.bumpRootNote(1)
	case events.KindRootNoteDown:
		h.bumpRootNote(-1)
	case events.KindPatternPreset:
		h.handlePatternPreset(event)
	case events.KindDirectionPattern:
		h.handleDirectionPattern(event)
	case events.KindChaosLock:
		h.st.Set("chaos_lock", !h.st.GetBool("chaos_lock"), "action")
	case events.KindDrift:
		h.st.Set("drift", -0.2+(float64(event.Value)/127.0)*0.4, "action")
	case events.KindCCParameter:
		h.handleCCParameter(event)
	}
}

func (h *Handler) handleTriggerStep(event events.SemanticEvent) {
	if h.seq == nil {
		return
	}
	h.seq.ManualTrigger(event.Value, event.RawNote)
}

func (h *Handler) handleScaleSelect(event events.SemanticEvent) {
	nScales := len(scale.BuiltinNames())
	idx := event.Value / 16
	if idx > nScales-1 {
		idx = nScales - 1
	}
	h.st.Set("scale_index", idx, "action")

	if h.seq == nil {
		return
	}
	when := h.st.GetEnum("quantize_scale_changes")
	h.seq.SetScaleChange(idx, h.st.GetInt("root_note"), when)
}

// bumpRootNote updates the root and immediately rebuilds the
// sequencer's scale mapper around it — the mapper is exclusively
// sequencer-owned (spec.md §3 Ownership), so a root change must be
// pushed through SetScaleChange the same way a scale_select is, or
// emitted pitches keep the stale root until the next scale_select.
func (h *Handler) bumpRootNote(delta int) {
	root := clampInt(h.st.GetInt("root_note")+delta, 0, 127)
	h.st.Set("root_note", root, "action")

	if h.seq == nil {
		return
	}
	when := h.st.GetEnum("quantize_scale_changes")
	h.seq.SetScaleChange(h.st.GetInt("scale_index"), root, when)
}

func (h *Handler) handlePatternPreset(event events.SemanticEvent) {
	names := sequencer.PatternPresetNames()
	idx := event.Value / 16
	if idx > len(names)-1 {
		idx = len(names) - 1
	}
	pattern, ok := sequencer.PatternPreset(names[idx])
	if !ok {
		return
	}
	h.st.Set("step_pattern", pattern, "action")
}

func (h *Handler) handleDirectionPattern(event events.SemanticEvent) {
	names := sequencer.DirectionPresetNames()
	idx := (event.Value * len(names)) / 128
	if idx > len(names)-1 {
		idx = len(names) - 1
	}
	h.st.Set("direction_pattern", names[idx], "action")
}

// handleCCParameter linearly rescales event.Value (0-127) into the
// target parameter's own domain before writing it, per spec.md §4.6:
// "Parameter scaling ... is always linear unless the target
// parameter's domain specifies otherwise."
func (h *Handler) handleCCParameter(event events.SemanticEvent) {
	if event.Param == "" {
		return
	}
	kind, ok := h.st.KindOf(event.Param)
	if !ok {
		return
	}

	switch kind {
	case state.KindBool:
		h.st.Set(event.Param, event.Value >= 64, "action")
	case state.KindInt:
		min, max, ok := h.st.Domain(event.Param)
		if !ok {
			return
		}
		scaled := roundInt(min + (float64(event.Value)/127.0)*(max-min))
		h.st.Set(event.Param, scaled, "action")
	case state.KindFloat:
		min, max, ok := h.st.Domain(event.Param)
		if !ok {
			return
		}
		scaled := min + (float64(event.Value)/127.0)*(max-min)
		h.st.Set(event.Param, scaled, "action")
	}

	h.emitOutboundCC(event)
}

// emitOutboundCC forwards a cc_parameter directive to the external
// synth, unscaled (event.Value is already the 0-127 position that was
// linearly mapped into the parameter's domain above, so it is what the
// outbound CC should carry). The controller number comes from the
// param's configured mapping, falling back to the inbound event's own
// raw_cc for a directly passed-through physical control.
func (h *Handler) emitOutboundCC(event events.SemanticEvent) {
	if h.ccOut == nil {
		return
	}
	controller, ok := h.ccControllers[event.Param]
	if !ok {
		if event.RawCC == nil {
			return
		}
		controller = *event.RawCC
	}
	h.ccOut(events.ControlChangeEvent{
		Controller: controller,
		Value:      event.Value,
		Channel:    event.Channel,
	})
}

func roundInt(f float64) int {
	return int(math.Round(f))
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
