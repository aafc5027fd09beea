// Package idle implements the IdleManager: interaction-timeout
// detection, ambient-profile apply/restore, and the mutation gate that
// MutationEngine consults before acting.
package idle

import (
	"sync"
	"time"

	"github.com/iltempo/cantry/state"
)

// Clock is the subset of *clock.Clock the manager drives directly for
// smooth BPM fades in and out of an ambient profile.
type Clock interface {
	StartBPMTransition(start, end, durationSeconds float64)
}

// Callback is notified on every idle-state transition.
type Callback func(idle bool)

// Profile is a built-in ambient profile: a set of stepwise parameter
// targets plus an optional faded BPM target.
type Profile struct {
	Name    string
	Targets map[string]interface{}
	BPM     *float64
}

func floatPtr(v float64) *float64 { return &v }

// BuiltinProfiles returns the three ambient profiles spec.md §4.8
// names, keyed by name.
func BuiltinProfiles() map[string]Profile {
	return map[string]Profile{
		"slow_fade": {
			Name: "slow_fade",
			Targets: map[string]interface{}{
				"density":       0.3,
				"scale_index":   3, // pentatonic_minor
				"reverb_mix":    100,
				"filter_cutoff": 40,
				"master_volume": 50,
			},
			BPM: floatPtr(65),
		},
		"minimal": {
			Name: "minimal",
			Targets: map[string]interface{}{
				"density":       0.1,
				"master_volume": 25,
			},
			BPM: floatPtr(40),
		},
		"meditative": {
			Name: "meditative",
			Targets: map[string]interface{}{
				"scale_index":   1, // minor
				"swing":         0.0,
				"filter_cutoff": 30,
			},
		},
	}
}

// Manager is the IdleManager. Safe for concurrent use.
type Manager struct {
	st      *state.State
	clock   Clock
	profile Profile
	timeout time.Duration
	fadeIn  time.Duration
	fadeOut time.Duration

	pollInterval time.Duration
	reentryGuard time.Duration

	mu              sync.Mutex
	lastInteraction time.Time
	idle            bool
	exitedIdleAt    time.Time
	snapshot        map[string]interface{}
	listenersMu     sync.Mutex
	listeners       []Callback

	stopCh   chan struct{}
	doneCh   chan struct{}
	started  bool
	stopOnce sync.Once
}

// New builds a Manager. clock may be nil (BPM fades are skipped; the
// stepwise bpm target, if any, still applies through state directly).
func New(st *state.State, clk Clock, profile Profile, timeout, fadeIn, fadeOut time.Duration) *Manager {
	return &Manager{
		st:              st,
		clock:           clk,
		profile:         profile,
		timeout:         timeout,
		fadeIn:          fadeIn,
		fadeOut:         fadeOut,
		pollInterval:    100 * time.Millisecond,
		reentryGuard:    time.Second,
		lastInteraction: time.Now(),
		exitedIdleAt:    time.Now().Add(-time.Hour),
	}
}

// AddListener registers cb to be invoked on every idle-state change.
func (m *Manager) AddListener(cb Callback) {
	m.listenersMu.Lock()
	defer m.listenersMu.Unlock()
	m.listeners = append(m.listeners, cb)
}

// Touch resets the idle timer and, if currently idle, exits idle mode
// immediately — it implements action.InteractionSink structurally.
func (m *Manager) Touch() {
	m.mu.Lock()
	m.lastInteraction = time.Now()
	wasIdle := m.idle
	m.mu.Unlock()

	if wasIdle {
		m.exitIdle()
	}
}

// MutationsAllowed implements mutation.IdleGate structurally: mutations
// are only allowed while the system is idle.
func (m *Manager) MutationsAllowed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.idle
}

// IsIdle reports the current idle state.
func (m *Manager) IsIdle() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.idle
}

// Start launches the ≥1Hz poll goroutine. No-op if already started.
func (m *Manager) Start() {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return
	}
	m.started = true
	m.stopCh = make(chan struct{})
	m.doneCh = make(chan struct{})
	stopCh := m.stopCh
	doneCh := m.doneCh
	m.mu.Unlock()

	go m.run(stopCh, doneCh)
}

// Stop idempotently halts the poll goroutine and joins it.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.started {
		m.mu.Unlock()
		return
	}
	stopCh := m.stopCh
	doneCh := m.doneCh
	m.mu.Unlock()

	m.stopOnce.Do(func() {
		close(stopCh)
	})
	<-doneCh
}

func (m *Manager) run(stopCh, doneCh chan struct{}) {
	defer close(doneCh)
	ticker := time.NewTicker(m.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			m.poll()
		}
	}
}

func (m *Manager) poll() {
	m.mu.Lock()
	idle := m.idle
	last := m.lastInteraction
	exitedAt := m.exitedIdleAt
	m.mu.Unlock()

	if idle {
		return
	}
	if time.Since(last) < m.timeout {
		return
	}
	if time.Since(exitedAt) < m.reentryGuard {
		return
	}
	m.enterIdle()
}

func (m *Manager) enterIdle() {
	m.mu.Lock()
	if m.idle {
		m.mu.Unlock()
		return
	}

	keys := make([]string, 0, len(m.profile.Targets)+1)
	for k := range m.profile.Targets {
		keys = append(keys, k)
	}
	if m.profile.BPM != nil {
		keys = append(keys, "bpm")
	}
	snapshot := make(map[string]interface{}, len(keys))
	for _, k := range keys {
		if v, ok := m.st.Get(k); ok {
			snapshot[k] = v
		}
	}
	m.snapshot = snapshot
	m.idle = true
	m.mu.Unlock()

	oldBPM := m.st.GetFloat("bpm")

	pairs := make([]state.Pair, 0, len(m.profile.Targets)+2)
	for k, v := range m.profile.Targets {
		pairs = append(pairs, state.Pair{Key: k, Value: v})
	}
	if m.profile.BPM != nil {
		pairs = append(pairs, state.Pair{Key: "bpm", Value: *m.profile.BPM})
	}
	pairs = append(pairs, state.Pair{Key: "idle_mode", Value: true})
	m.st.UpdateMultiple(pairs, "idle")

	if m.clock != nil && m.profile.BPM != nil {
		m.clock.StartBPMTransition(oldBPM, *m.profile.BPM, m.fadeIn.Seconds())
	}

	m.fireListeners(true)
}

func (m *Manager) exitIdle() {
	m.mu.Lock()
	if !m.idle {
		m.mu.Unlock()
		return
	}
	snapshot := m.snapshot
	m.idle = false
	m.exitedIdleAt = time.Now()
	m.snapshot = nil
	m.mu.Unlock()

	oldBPM := m.st.GetFloat("bpm")

	pairs := make([]state.Pair, 0, len(snapshot)+1)
	var restoredBPM *float64
	for k, v := range snapshot {
		if k == "bpm" {
			if f, ok := v.(float64); ok {
				restoredBPM = &f
			}
			continue // added back below, after the fade-triggering read of oldBPM
		}
		pairs = append(pairs, state.Pair{Key: k, Value: v})
	}
	if restoredBPM != nil {
		pairs = append(pairs, state.Pair{Key: "bpm", Value: *restoredBPM})
	}
	pairs = append(pairs, state.Pair{Key: "idle_mode", Value: false})
	m.st.UpdateMultiple(pairs, "idle_restore")

	if m.clock != nil && restoredBPM != nil {
		m.clock.StartBPMTransition(oldBPM, *restoredBPM, m.fadeOut.Seconds())
	}

	m.fireListeners(false)
}

func (m *Manager) fireListeners(idle bool) {
	m.listenersMu.Lock()
	cbs := make([]Callback, len(m.listeners))
	copy(cbs, m.listeners)
	m.listenersMu.Unlock()

	for _, cb := range cbs {
		safeInvoke(cb, idle)
	}
}

func safeInvoke(cb Callback, idle bool) {
	defer func() { _ = recover() }()
	cb(idle)
}
