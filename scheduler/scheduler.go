// Package scheduler guarantees that every note-on emitted by the
// engine is followed by exactly one note-off, even across shutdown.
package scheduler

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrorReporter receives a non-fatal failure from a callback so the
// caller can log it without the scheduler importing a logging
// package directly. Implementations must not block.
type ErrorReporter func(stage string, err error)

type pendingOff struct {
	timer   *time.Timer
	note    int
	channel int
	due     time.Time
}

// Scheduler tracks one deferred note-off per scheduled note-on.
// NoteScheduler exclusively owns the set of in-flight note-offs
// (spec.md §3 Ownership).
type Scheduler struct {
	noteOn  func(note, velocity, channel int) error
	noteOff func(note, channel int) error
	onError ErrorReporter

	mu       sync.Mutex
	pending  map[uuid.UUID]*pendingOff
	shutdown bool
}

// New builds a Scheduler that emits note-on/note-off through the
// given callbacks. onError may be nil.
func New(noteOn func(note, velocity, channel int) error, noteOff func(note, channel int) error, onError ErrorReporter) *Scheduler {
	if onError == nil {
		onError = func(string, error) {}
	}
	return &Scheduler{
		noteOn:  noteOn,
		noteOff: noteOff,
		onError: onError,
		pending: make(map[uuid.UUID]*pendingOff),
	}
}

// ScheduleNote emits a note-on immediately and schedules the matching
// note-off after durationSeconds. Returns the id disambiguating this
// schedule from any other concurrent schedule of the same pitch.
// A no-op (zero id) after Shutdown.
func (s *Scheduler) ScheduleNote(note, velocity, channel int, durationSeconds float64) uuid.UUID {
	s.mu.Lock()
	if s.shutdown {
		s.mu.Unlock()
		return uuid.Nil
	}

	id := uuid.New()
	if err := s.safeNoteOn(note, velocity, channel); err != nil {
		s.onError("note_on", err)
	}

	if durationSeconds <= 0 {
		s.mu.Unlock()
		if err := s.safeNoteOff(note, channel); err != nil {
			s.onError("note_off", err)
		}
		return id
	}

	dur := time.Duration(durationSeconds * float64(time.Second))
	due := time.Now().Add(dur)
	entry := &pendingOff{note: note, channel: channel, due: due}
	entry.timer = time.AfterFunc(dur, func() {
		s.fireOff(id)
	})
	s.pending[id] = entry
	s.mu.Unlock()
	return id
}

// fireOff emits the note-off for id exactly once, regardless of
// whether it was triggered by its timer or by Shutdown's drain.
func (s *Scheduler) fireOff(id uuid.UUID) {
	s.mu.Lock()
	entry, ok := s.pending[id]
	if !ok {
		s.mu.Unlock()
		return
	}
	delete(s.pending, id)
	s.mu.Unlock()

	if err := s.safeNoteOff(entry.note, entry.channel); err != nil {
		s.onError("note_off", err)
	}
}

// safeNoteOn/safeNoteOff isolate a panicking callback so a broken
// output sink cannot take down the scheduler.
func (s *Scheduler) safeNoteOn(note, velocity, channel int) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = panicError(r)
		}
	}()
	if s.noteOn == nil {
		return nil
	}
	return s.noteOn(note, velocity, channel)
}

func (s *Scheduler) safeNoteOff(note, channel int) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = panicError(r)
		}
	}()
	if s.noteOff == nil {
		return nil
	}
	return s.noteOff(note, channel)
}

type panicErr struct{ v interface{} }

func (p panicErr) Error() string { return "panic in output callback" }

func panicError(v interface{}) error { return panicErr{v} }

// Pending returns the number of outstanding note-offs.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// Shutdown emits note-offs for every outstanding note synchronously,
// in ascending scheduled-off order, then refuses further scheduling.
// Idempotent.
func (s *Scheduler) Shutdown() {
	s.mu.Lock()
	if s.shutdown {
		s.mu.Unlock()
		return
	}
	s.shutdown = true

	entries := make([]struct {
		id uuid.UUID
		e  *pendingOff
	}, 0, len(s.pending))
	for id, e := range s.pending {
		entries = append(entries, struct {
			id uuid.UUID
			e  *pendingOff
		}{id, e})
	}
	s.pending = make(map[uuid.UUID]*pendingOff)
	s.mu.Unlock()

	sort.Slice(entries, func(i, j int) bool { return entries[i].e.due.Before(entries[j].e.due) })

	for _, ent := range entries {
		ent.e.timer.Stop()
		if err := s.safeNoteOff(ent.e.note, ent.e.channel); err != nil {
			s.onError("note_off_shutdown", err)
		}
	}
}
