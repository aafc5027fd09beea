// Package mutation implements the idle-gated ambient mutation engine:
// a background goroutine that, while the system is idle and not
// chaos-locked, nudges a weighted selection of parameters by small
// bounded deltas on a randomized interval.
package mutation

import (
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/iltempo/cantry/state"
)

// IdleGate breaks the MutationEngine -> IdleManager dependency cycle
// spec.md §9 calls out: the engine only needs to ask whether mutation
// is currently allowed, not the whole IdleManager surface.
type IdleGate interface {
	MutationsAllowed() bool
}

// ErrorReporter receives a non-fatal failure from one rule application.
type ErrorReporter func(rule string, err error)

// Rule describes one candidate mutation.
type Rule struct {
	ParameterKey string
	Weight       float64
	DeltaMin     float64
	DeltaMax     float64
	DeltaScale   float64
	Description  string
}

// Event records one applied mutation, retained in a bounded history.
type Event struct {
	At          time.Time
	Parameter   string
	Old         interface{}
	New         interface{}
	Delta       float64
	Description string
}

const historyCapacity = 100

// Engine is the MutationEngine. Safe for concurrent use.
type Engine struct {
	st                 *state.State
	rules              []Rule
	intervalMin        time.Duration
	intervalMax        time.Duration
	maxChangesPerCycle int
	gate               IdleGate
	onError            ErrorReporter

	mu       sync.Mutex
	enabled  bool
	history  []Event
	rng      *rand.Rand
	stopCh   chan struct{}
	doneCh   chan struct{}
	forceCh  chan struct{}
	started  bool
	stopOnce sync.Once
}

// New builds an Engine. gate and onError may be nil.
func New(st *state.State, rules []Rule, intervalMin, intervalMax time.Duration, maxChangesPerCycle int, gate IdleGate, seed int64, onError ErrorReporter) *Engine {
	if onError == nil {
		onError = func(string, error) {}
	}
	if seed == 0 {
		seed = 1
	}
	if maxChangesPerCycle <= 0 {
		maxChangesPerCycle = 1
	}
	return &Engine{
		st:                 st,
		rules:              rules,
		intervalMin:        intervalMin,
		intervalMax:        intervalMax,
		maxChangesPerCycle: maxChangesPerCycle,
		gate:               gate,
		onError:            onError,
		enabled:            true,
		rng:                rand.New(rand.NewSource(seed)),
		forceCh:            make(chan struct{}, 1),
	}
}

// SetEnabled permanently enables/disables mutations independent of
// idle state; chaos_lock and idle gating still apply when enabled.
func (e *Engine) SetEnabled(enabled bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.enabled = enabled
}

// ForceMutation triggers one cycle immediately, still respecting the
// idle/chaos_lock gate.
func (e *Engine) ForceMutation() {
	select {
	case e.forceCh <- struct{}{}:
	default:
	}
}

// History returns a copy of the retained mutation events, oldest first.
func (e *Engine) History() []Event {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Event, len(e.history))
	copy(out, e.history)
	return out
}

// Start launches the background goroutine. No-op if already started.
func (e *Engine) Start() {
	e.mu.Lock()
	if e.started {
		e.mu.Unlock()
		return
	}
	e.started = true
	e.stopCh = make(chan struct{})
	e.doneCh = make(chan struct{})
	stopCh := e.stopCh
	doneCh := e.doneCh
	e.mu.Unlock()

	go e.run(stopCh, doneCh)
}

// Stop idempotently halts the engine and joins its goroutine.
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.started {
		e.mu.Unlock()
		return
	}
	stopCh := e.stopCh
	doneCh := e.doneCh
	e.mu.Unlock()

	e.stopOnce.Do(func() {
		close(stopCh)
	})
	<-doneCh
}

func (e *Engine) run(stopCh, doneCh chan struct{}) {
	defer close(doneCh)

	for {
		wait := e.randomInterval()
		timer := time.NewTimer(wait)
		select {
		case <-stopCh:
			timer.Stop()
			return
		case <-e.forceCh:
			timer.Stop()
			e.runCycle()
		case <-timer.C:
			e.runCycle()
		}
	}
}

func (e *Engine) randomInterval() time.Duration {
	e.mu.Lock()
	lo, hi := e.intervalMin, e.intervalMax
	rng := e.rng
	e.mu.Unlock()

	if hi <= lo {
		return lo
	}
	span := hi - lo
	jitter := time.Duration(rng.Int63n(int64(span)))
	return lo + jitter
}

// runCycle checks the gate, selects rules, and applies them. Safe to
// call from ForceMutation or the background loop.
func (e *Engine) runCycle() {
	e.mu.Lock()
	enabled := e.enabled
	e.mu.Unlock()
	if !enabled {
		return
	}
	if e.st.GetBool("chaos_lock") {
		return
	}
	if e.gate != nil && !e.gate.MutationsAllowed() {
		return
	}

	e.mu.Lock()
	selected := selectWeighted(e.rng, e.rules, e.maxChangesPerCycle)
	e.mu.Unlock()

	for _, rule := range selected {
		e.applyRule(rule)
	}
}

func (e *Engine) applyRule(rule Rule) {
	defer func() {
		if r := recover(); r != nil {
			e.onError(rule.Description, panicError(r))
		}
	}()

	kind, ok := e.st.KindOf(rule.ParameterKey)
	if !ok || (kind != state.KindFloat && kind != state.KindInt) {
		return
	}

	old, ok := e.st.Get(rule.ParameterKey)
	if !ok {
		return
	}

	e.mu.Lock()
	delta := rule.DeltaScale * uniform(e.rng, rule.DeltaMin, rule.DeltaMax)
	e.mu.Unlock()

	oldFloat := toFloat(old)
	newValue := oldFloat + delta
	if kind == state.KindInt {
		e.st.Set(rule.ParameterKey, int(math.Round(newValue)), "mutation")
	} else {
		e.st.Set(rule.ParameterKey, newValue, "mutation")
	}

	newVal, _ := e.st.Get(rule.ParameterKey)
	e.recordEvent(Event{
		At:          time.Now(),
		Parameter:   rule.ParameterKey,
		Old:         old,
		New:         newVal,
		Delta:       delta,
		Description: rule.Description,
	})
}

func (e *Engine) recordEvent(ev Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.history = append(e.history, ev)
	if len(e.history) > historyCapacity {
		e.history = e.history[len(e.history)-historyCapacity:]
	}
}

// selectWeighted performs weighted-without-replacement selection of up
// to k distinct rules, skipping zero/negative weights.
func selectWeighted(rng *rand.Rand, rules []Rule, k int) []Rule {
	pool := make([]Rule, 0, len(rules))
	for _, r := range rules {
		if r.Weight > 0 {
			pool = append(pool, r)
		}
	}

	var chosen []Rule
	for len(chosen) < k && len(pool) > 0 {
		total := 0.0
		for _, r := range pool {
			total += r.Weight
		}
		if total <= 0 {
			break
		}
		target := rng.Float64() * total
		idx := 0
		acc := 0.0
		for i, r := range pool {
			acc += r.Weight
			if target < acc {
				idx = i
				break
			}
		}
		chosen = append(chosen, pool[idx])
		pool = append(pool[:idx], pool[idx+1:]...)
	}
	return chosen
}

func uniform(rng *rand.Rand, lo, hi float64) float64 {
	if hi <= lo {
		return lo
	}
	return lo + rng.Float64()*(hi-lo)
}

func toFloat(v interface{}) float64 {
	switch t := v.(type) {
	case float64:
		return t
	case int:
		return float64(t)
	}
	return 0
}

type panicErr struct{ v interface{} }

func (p panicErr) Error() string { return "panic applying mutation rule" }

func panicError(v interface{}) error { return panicErr{v} }
