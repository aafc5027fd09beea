// Package clock implements the engine's high-resolution tick
// generator: a monotonic, drift-corrected, swing-aware PPQ pulse
// source running on its own goroutine.
package clock

import (
	"sync"
	"time"
)

// DefaultPPQ is the default pulses-per-quarter-note resolution.
const DefaultPPQ = 24

// Tick is delivered once per pulse on the clock's own goroutine. The
// handler must not block — it runs on the real-time thread.
type Tick struct {
	Index int64
	At    time.Time
	BPM   float64
	Swing float64
}

// Handler consumes ticks. It is invoked synchronously from the clock
// goroutine; all notes produced while handling one tick must be
// emitted before the next tick is processed (spec.md §5 ordering
// guarantee), which a synchronous call trivially provides.
type Handler func(Tick)

type transition struct {
	startBPM, endBPM float64
	duration         time.Duration
	startedAt        time.Time
}

// Clock is a monotonic tick generator. The zero value is not usable;
// construct with New.
type Clock struct {
	ppq int

	mu    sync.Mutex
	bpm   float64
	swing float64
	trans *transition

	handler  Handler
	stopCh   chan struct{}
	doneCh   chan struct{}
	started  bool
	stopOnce sync.Once
}

// New creates a Clock at the given PPQ with an initial bpm/swing.
func New(ppq int, bpm, swing float64) *Clock {
	if ppq <= 0 {
		ppq = DefaultPPQ
	}
	return &Clock{ppq: ppq, bpm: bpm, swing: swing}
}

// PPQ returns the configured pulses-per-quarter-note.
func (c *Clock) PPQ() int { return c.ppq }

// SetBPM reconfigures the tempo. Takes effect on the next scheduled
// tick; the currently pending tick is not retimed. Cancels any
// in-progress transition.
func (c *Clock) SetBPM(bpm float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.bpm = bpm
	c.trans = nil
}

// SetSwing reconfigures the swing fraction. Takes effect on the next
// scheduled tick.
func (c *Clock) SetSwing(swing float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.swing = swing
}

// StartBPMTransition linearly interpolates bpm from start to end over
// duration, recomputing the next tick's target each tick using the
// interpolated value. Completes (and snaps to end) once elapsed ≥
// duration.
func (c *Clock) StartBPMTransition(start, end, durationSeconds float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.bpm = start
	if durationSeconds <= 0 {
		c.bpm = end
		c.trans = nil
		return
	}
	c.trans = &transition{
		startBPM:  start,
		endBPM:    end,
		duration:  time.Duration(durationSeconds * float64(time.Second)),
		startedAt: time.Now(),
	}
}

// Current reports the bpm/swing in effect right now, advancing and
// clearing a completed transition exactly as the next tick would.
func (c *Clock) Current() (bpm, swing float64) {
	return c.snapshot()
}

// snapshot returns the bpm/swing to use for the tick about to be
// scheduled, advancing and clearing a completed transition.
func (c *Clock) snapshot() (bpm, swing float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.trans != nil {
		elapsed := time.Since(c.trans.startedAt)
		if elapsed >= c.trans.duration {
			c.bpm = c.trans.endBPM
			c.trans = nil
		} else {
			frac := float64(elapsed) / float64(c.trans.duration)
			c.bpm = c.trans.startBPM + (c.trans.endBPM-c.trans.startBPM)*frac
		}
	}
	return c.bpm, c.swing
}

// Start launches the clock's dedicated goroutine, which invokes
// handler once per tick until Stop is called. Only the first call has
// any effect: later calls are ignored, including after Stop, so a
// stopped Clock cannot be restarted.
func (c *Clock) Start(handler Handler) {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return
	}
	c.started = true
	c.handler = handler
	c.stopCh = make(chan struct{})
	c.doneCh = make(chan struct{})
	stopCh := c.stopCh
	doneCh := c.doneCh
	c.mu.Unlock()

	go c.run(stopCh, doneCh)
}

// Stop idempotently halts the clock and joins its goroutine before
// returning.
func (c *Clock) Stop() {
	c.mu.Lock()
	if !c.started {
		c.mu.Unlock()
		return
	}
	stopCh := c.stopCh
	doneCh := c.doneCh
	c.mu.Unlock()

	c.stopOnce.Do(func() {
		close(stopCh)
	})
	<-doneCh
}

// sixteenthIndex returns (is this tick a 16th-note boundary, the
// ordinal index of that 16th within the bar) for a PPQ/4-spaced grid.
func (c *Clock) sixteenthIndex(tickIndex int64) (bool, int64) {
	stepTicks := int64(c.ppq / 4)
	if stepTicks <= 0 {
		stepTicks = 1
	}
	if tickIndex%stepTicks != 0 {
		return false, 0
	}
	return true, tickIndex / stepTicks
}

func (c *Clock) run(stopCh, doneCh chan struct{}) {
	defer close(doneCh)

	start := time.Now()
	var idealElapsed time.Duration
	var tickIndex int64

	for {
		select {
		case <-stopCh:
			return
		default:
		}

		bpm, swing := c.snapshot()
		if bpm <= 0 {
			bpm = 1
		}
		baseInterval := time.Duration(60.0 / (bpm * float64(c.ppq)) * float64(time.Second))

		var swingOffset time.Duration
		if isBoundary, sixteenth := c.sixteenthIndex(tickIndex); isBoundary && sixteenth%2 == 1 {
			swingOffset = time.Duration(swing * float64(baseInterval))
		}

		target := start.Add(idealElapsed + swingOffset)
		sleepFor := time.Until(target)
		if sleepFor > 0 {
			timer := time.NewTimer(sleepFor)
			select {
			case <-stopCh:
				timer.Stop()
				return
			case <-timer.C:
			}
		}

		select {
		case <-stopCh:
			return
		default:
		}

		if c.handler != nil {
			c.handler(Tick{Index: tickIndex, At: time.Now(), BPM: bpm, Swing: swing})
		}

		idealElapsed += baseInterval
		tickIndex++
	}
}
