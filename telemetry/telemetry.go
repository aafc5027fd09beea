// Package telemetry is the engine's non-blocking logging sink. The
// note scheduler, the mutation engine and the engine's outbound CC path
// report failures through it rather than calling a logging library
// directly, so no caller is at risk of blocking on I/O (spec.md §5).
package telemetry

import (
	"fmt"
	"sync"
	"time"

	"github.com/getsentry/sentry-go"
)

// Level tags the severity of a reported record.
type Level string

const (
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
	LevelFatal Level = "fatal"
)

// Record is one telemetry entry, queued for asynchronous draining.
type Record struct {
	Level   Level
	Stage   string
	Message string
	Err     error
	Fields  map[string]interface{}
}

const queueCapacity = 256

// Sink drains queued Records on its own goroutine and forwards Error
// and Fatal records to Sentry. Event/Fatal never block the caller: a
// full queue drops the record rather than stall the clock thread.
type Sink struct {
	queue  chan Record
	stopCh chan struct{}
	doneCh chan struct{}

	mu       sync.Mutex
	started  bool
	stopOnce sync.Once
	dropped  int
}

// New builds a Sink. dsn may be empty, in which case Sentry
// initialization is skipped and records are only counted/dropped —
// useful for local runs and tests with no network access.
func New(dsn, environment, release string) (*Sink, error) {
	if dsn != "" {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:         dsn,
			Environment: environment,
			Release:     release,
		}); err != nil {
			return nil, fmt.Errorf("telemetry: sentry init: %w", err)
		}
	}
	return &Sink{
		queue:  make(chan Record, queueCapacity),
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}, nil
}

// Start launches the draining goroutine. No-op if already started.
func (s *Sink) Start() {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return
	}
	s.started = true
	s.mu.Unlock()

	go s.drain()
}

// Stop flushes any buffered Sentry events and halts the drain loop.
func (s *Sink) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
	})
	<-s.doneCh
	sentry.Flush(2 * time.Second)
}

func (s *Sink) drain() {
	defer close(s.doneCh)
	for {
		select {
		case <-s.stopCh:
			s.drainRemaining()
			return
		case rec := <-s.queue:
			s.emit(rec)
		}
	}
}

func (s *Sink) drainRemaining() {
	for {
		select {
		case rec := <-s.queue:
			s.emit(rec)
		default:
			return
		}
	}
}

func (s *Sink) emit(rec Record) {
	if rec.Level != LevelError && rec.Level != LevelFatal {
		return
	}
	event := sentry.NewEvent()
	event.Message = rec.Message
	event.Level = sentryLevel(rec.Level)
	if rec.Stage != "" {
		event.Tags = map[string]string{"stage": rec.Stage}
	}
	if rec.Err != nil {
		event.Exception = []sentry.Exception{{Value: rec.Err.Error(), Type: rec.Stage}}
	}
	sentry.CaptureEvent(event)
}

func sentryLevel(l Level) sentry.Level {
	switch l {
	case LevelFatal:
		return sentry.LevelFatal
	case LevelError:
		return sentry.LevelError
	case LevelWarn:
		return sentry.LevelWarning
	default:
		return sentry.LevelInfo
	}
}

// enqueue attempts a non-blocking send; a full queue drops the record.
func (s *Sink) enqueue(rec Record) {
	select {
	case s.queue <- rec:
	default:
		s.mu.Lock()
		s.dropped++
		s.mu.Unlock()
	}
}

// Event reports a non-fatal record. Safe to call from the clock thread.
func (s *Sink) Event(level Level, stage, message string, err error) {
	s.enqueue(Record{Level: level, Stage: stage, Message: message, Err: err})
}

// Fatal reports a fatal record — a programmer-error-class failure per
// spec.md §7 that the caller is about to abort on.
func (s *Sink) Fatal(stage, message string, err error) {
	s.enqueue(Record{Level: LevelFatal, Stage: stage, Message: message, Err: err})
}

// Dropped returns the number of records dropped because the queue was
// full, for diagnostics.
func (s *Sink) Dropped() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

// Reporter adapts Sink to the ErrorReporter shape scheduler and
// mutation expect (stage, err), tagging every report at LevelError.
func (s *Sink) Reporter(stage string) func(string, error) {
	return func(sub string, err error) {
		s.Event(LevelError, stage+"."+sub, err.Error(), err)
	}
}
