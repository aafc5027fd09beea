// Package events defines the immutable value types that cross the
// boundary between the core engine and its MIDI adapters: inbound
// SemanticEvents and outbound NoteEvents / ControlChangeEvents.
package events

import "github.com/google/uuid"

// Kind is the closed set of semantic event tags ActionHandler dispatches on.
type Kind string

const (
	KindTriggerStep      Kind = "trigger_step"
	KindTempo            Kind = "tempo"
	KindSwing            Kind = "swing"
	KindDensity          Kind = "density"
	KindSequenceLength   Kind = "sequence_length"
	KindScaleSelect      Kind = "scale_select"
	KindRootNoteUp       Kind = "root_note_up"
	KindRootNoteDown     Kind = "root_note_down"
	KindPatternPreset    Kind = "pattern_preset"
	KindDirectionPattern Kind = "direction_pattern"
	KindMode             Kind = "mode"
	KindPalette          Kind = "palette"
	KindDrift            Kind = "drift"
	KindChaosLock        Kind = "chaos_lock"
	KindCCParameter      Kind = "cc_parameter"
)

// Source identifies the physical control surface an event came from.
type Source string

const (
	SourceButton   Source = "button"
	SourceCC       Source = "cc"
	SourceJoystick Source = "joystick"
	SourceSwitch   Source = "switch"
)

// SemanticEvent is an immutable, inbound control message produced by the
// MIDI input adapter (or, in console mode, by the operator console).
type SemanticEvent struct {
	ID      uuid.UUID
	Kind    Kind
	Source  Source
	Value   int // 0-127
	RawNote *int
	RawCC   *int
	Channel int // 1-16

	// Param names the target state key for KindCCParameter events.
	Param string
}

// NewSemanticEvent stamps a fresh correlation id on an event.
func NewSemanticEvent(kind Kind, source Source, value, channel int) SemanticEvent {
	return SemanticEvent{
		ID:      uuid.New(),
		Kind:    kind,
		Source:  source,
		Value:   value,
		Channel: channel,
	}
}

// RestNote is the sentinel pitch marking a NoteEvent as silence.
const RestNote = -1

// NoteEvent is an immutable, outbound note produced by the Sequencer or
// FugueEngine, destined for the NoteScheduler and then MIDI output.
type NoteEvent struct {
	Note            int // 0-127, or RestNote
	Velocity        int // 0-127
	DurationSeconds float64
	StepIndex       int
	VoiceIndex      int // 0 when monophonic
	IsRest          bool
	Channel         int // 1-16
}

// ControlChangeEvent is an immutable, outbound CC message.
type ControlChangeEvent struct {
	Controller int // 0-127
	Value      int // 0-127
	Channel    int // 1-16
}
