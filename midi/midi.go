// Package midi is the thin MIDI adapter layer spec.md §1 places outside
// the core: Output turns outbound NoteEvents/ControlChangeEvents into
// wire messages, Input turns inbound raw MIDI into SemanticEvents.
package midi

import (
	"fmt"

	"gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/drivers"
	_ "gitlab.com/gomidi/midi/v2/drivers/rtmididrv" // auto-register RtMIDI driver

	"github.com/iltempo/cantry/events"
)

// Output represents a MIDI output connection. Channel numbers on this
// type's methods are 1-16, matching events.NoteEvent/ControlChangeEvent,
// not the wire's 0-15.
type Output struct {
	port drivers.Out
	send func(msg midi.Message) error
}

// ListPorts returns a list of available MIDI output port names.
func ListPorts() ([]string, error) {
	ports := midi.GetOutPorts()
	names := make([]string, len(ports))
	for i, port := range ports {
		names[i] = port.String()
	}
	return names, nil
}

// Open opens a MIDI output port by index.
func Open(portIndex int) (*Output, error) {
	port, err := midi.OutPort(portIndex)
	if err != nil {
		return nil, fmt.Errorf("failed to get MIDI port %d: %w", portIndex, err)
	}

	send, err := midi.SendTo(port)
	if err != nil {
		return nil, fmt.Errorf("failed to create sender: %w", err)
	}

	return &Output{port: port, send: send}, nil
}

// Close closes the MIDI output port.
func (o *Output) Close() error {
	return o.port.Close()
}

// NoteOn sends a MIDI Note On message. channel is 1-16.
func (o *Output) NoteOn(channel, note, velocity int) error {
	return o.send(midi.NoteOn(wireChannel(channel), uint8(note), uint8(velocity)))
}

// NoteOff sends a MIDI Note Off message. channel is 1-16.
func (o *Output) NoteOff(channel, note int) error {
	return o.send(midi.NoteOff(wireChannel(channel), uint8(note)))
}

// ControlChange sends a MIDI Control Change message. channel is 1-16.
func (o *Output) ControlChange(channel, controller, value int) error {
	return o.send(midi.ControlChange(wireChannel(channel), uint8(controller), uint8(value)))
}

func wireChannel(channel int) uint8 {
	if channel < 1 {
		channel = 1
	}
	return uint8(channel - 1)
}

// RouteEntry maps one raw MIDI note or CC number to a semantic event
// kind, the way config.MappingEntry describes it at the configuration
// boundary (spec.md §6's "mapping" section, owned by the external
// router rather than the core).
type RouteEntry struct {
	RawNote *int
	RawCC   *int
	Kind    events.Kind
	Param   string
}

// RawEventFilter is a hook point for future rate-limiting or
// debouncing of raw MIDI input (an Open Question spec.md leaves
// unresolved). nil means every message is routed; a caller wanting to
// suppress, say, rapid repeated CC ticks from a noisy pot can supply a
// filter without changing Input itself.
type RawEventFilter func(channel int, isCC bool, number, value int) bool

// Input listens to a MIDI input port and emits SemanticEvents through
// onEvent according to routes. Unmapped notes/CCs are ignored.
type Input struct {
	port    drivers.In
	stop    func()
	routes  []RouteEntry
	filter  RawEventFilter
	onEvent func(events.SemanticEvent)
}

// OpenInput opens a MIDI input port by index and begins listening.
// onEvent receives every routed SemanticEvent; a port-level failure to
// open or start listening is returned directly, per this function's
// error return.
func OpenInput(portIndex int, routes []RouteEntry, filter RawEventFilter, onEvent func(events.SemanticEvent)) (*Input, error) {
	port, err := midi.InPort(portIndex)
	if err != nil {
		return nil, fmt.Errorf("failed to get MIDI input port %d: %w", portIndex, err)
	}

	in := &Input{port: port, routes: routes, filter: filter, onEvent: onEvent}

	stop, err := midi.ListenTo(port, in.handle)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on MIDI input %d: %w", portIndex, err)
	}
	in.stop = stop
	return in, nil
}

// Close stops listening and releases the input port.
func (in *Input) Close() error {
	if in.stop != nil {
		in.stop()
	}
	return in.port.Close()
}

func (in *Input) handle(msg midi.Message, _ int32) {
	var ch, key, velocity, controller, value uint8

	if msg.GetNoteOn(&ch, &key, &velocity) {
		in.route(int(ch)+1, false, int(key), int(velocity))
		return
	}
	if msg.GetControlChange(&ch, &controller, &value) {
		in.route(int(ch)+1, true, int(controller), int(value))
		return
	}
}

func (in *Input) route(channel int, isCC bool, number, value int) {
	if in.filter != nil && !in.filter(channel, isCC, number, value) {
		return
	}

	for _, r := range in.routes {
		if isCC && r.RawCC != nil && *r.RawCC == number {
			in.emit(r, channel, value, nil, &number)
			return
		}
		if !isCC && r.RawNote != nil && *r.RawNote == number {
			in.emit(r, channel, value, &number, nil)
			return
		}
	}
}

func (in *Input) emit(r RouteEntry, channel, value int, rawNote, rawCC *int) {
	if in.onEvent == nil {
		return
	}
	ev := events.NewSemanticEvent(r.Kind, routeSource(r), value, channel)
	ev.RawNote = rawNote
	ev.RawCC = rawCC
	ev.Param = r.Param
	in.onEvent(ev)
}

func routeSource(r RouteEntry) events.Source {
	if r.RawCC != nil {
		return events.SourceCC
	}
	return events.SourceButton
}
