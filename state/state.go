// Package state implements the engine's single observable parameter
// store: a keyed collection of typed, validated values with
// change-notification listeners, guarded by one lock.
package state

import (
	"math"
	"sort"
	"sync"
)

// Kind is the type tag of a parameter's domain.
type Kind int

const (
	KindFloat Kind = iota
	KindInt
	KindBool
	KindEnum
	KindFloatSlice
	KindBoolSlice
)

// Change describes a single applied parameter update, delivered to
// listeners after the state lock has been released.
type Change struct {
	Key      string
	OldValue interface{}
	NewValue interface{}
	Source   string
}

// Listener receives one Change per changed key.
type Listener func(Change)

// Pair is one key/value update in an UpdateMultiple call. A slice (not
// a map) is used so insertion order — and therefore listener delivery
// order — is well-defined.
type Pair struct {
	Key   string
	Value interface{}
}

// paramDef is the immutable schema for one parameter.
type paramDef struct {
	kind         Kind
	min, max     float64 // KindFloat / KindInt
	allowed      map[string]bool
	defaultVal   interface{}
	sliceDefault interface{} // element used when padding a short slice
}

// State is the authoritative runtime parameter store. Safe for
// concurrent use; a single mutex protects all reads and writes, and
// listener callbacks execute only after the lock has been released so
// a reentrant Set from within a listener cannot deadlock.
type State struct {
	mu     sync.Mutex
	defs   map[string]paramDef
	values map[string]interface{}

	listenersMu sync.Mutex
	listeners   []Listener
}

// New builds a State pre-populated with the engine's fixed parameter
// schema and the supplied defaults. Unrecognized keys in defaults are
// ignored; missing keys fall back to the schema's own default.
func New(defaults map[string]interface{}) *State {
	s := &State{
		defs:   builtinParamDefs(),
		values: make(map[string]interface{}, len(builtinParamDefs())),
	}
	for key, def := range s.defs {
		s.values[key] = def.defaultVal
	}
	for key, val := range defaults {
		if _, ok := s.defs[key]; !ok {
			continue
		}
		if clamped, ok := s.clamp(key, val); ok {
			s.values[key] = clamped
		}
	}
	s.applyDerivedConstraintsLocked("sequence_length")
	return s
}

// DefineContinuous registers an additional continuous-CC parameter
// (e.g. filter_cutoff, reverb_mix) with domain [0,127] and the given
// default. It takes the state lock like Get/Set; an already-registered
// key is left unchanged.
func (s *State) DefineContinuous(key string, def int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.defs[key]; exists {
		return
	}
	s.defs[key] = paramDef{kind: KindInt, min: 0, max: 127, defaultVal: def}
	s.values[key] = def
}

// Get returns the current value of key and whether key is known.
func (s *State) Get(key string) (interface{}, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.values[key]
	return v, ok
}

// GetFloat is a typed convenience accessor; int values are converted to
// float64, and it returns 0 if key is absent or its value is not numeric.
func (s *State) GetFloat(key string) float64 {
	v, ok := s.Get(key)
	if !ok {
		return 0
	}
	switch t := v.(type) {
	case float64:
		return t
	case int:
		return float64(t)
	}
	return 0
}

// GetInt is a typed convenience accessor.
func (s *State) GetInt(key string) int {
	v, ok := s.Get(key)
	if !ok {
		return 0
	}
	switch t := v.(type) {
	case int:
		return t
	case float64:
		return int(t)
	}
	return 0
}

// GetBool is a typed convenience accessor.
func (s *State) GetBool(key string) bool {
	v, ok := s.Get(key)
	if !ok {
		return false
	}
	b, _ := v.(bool)
	return b
}

// GetEnum is a typed convenience accessor.
func (s *State) GetEnum(key string) string {
	v, ok := s.Get(key)
	if !ok {
		return ""
	}
	str, _ := v.(string)
	return str
}

// GetFloatSlice returns a copy of a slice-of-float parameter, or nil.
func (s *State) GetFloatSlice(key string) []float64 {
	v, ok := s.Get(key)
	if !ok || v == nil {
		return nil
	}
	src, ok := v.([]float64)
	if !ok {
		return nil
	}
	out := make([]float64, len(src))
	copy(out, src)
	return out
}

// GetBoolSlice returns a copy of a slice-of-bool parameter, or nil.
func (s *State) GetBoolSlice(key string) []bool {
	v, ok := s.Get(key)
	if !ok || v == nil {
		return nil
	}
	src, ok := v.([]bool)
	if !ok {
		return nil
	}
	out := make([]bool, len(src))
	copy(out, src)
	return out
}

// Set validates and clamps value into key's domain and stores it,
// returning true iff the stored value changed. Listeners fire after
// the lock is released.
func (s *State) Set(key string, value interface{}, source string) bool {
	s.mu.Lock()
	clamped, ok := s.clamp(key, value)
	if !ok {
		s.mu.Unlock()
		return false
	}
	old, existed := s.values[key]
	if existed && equalValue(old, clamped) {
		s.mu.Unlock()
		return false
	}
	s.values[key] = clamped
	s.applyDerivedConstraintsLocked(key)
	s.mu.Unlock()

	s.notify(Change{Key: key, OldValue: old, NewValue: clamped, Source: source})
	return true
}

// UpdateMultiple applies every pair atomically under the single state
// lock and returns the set of keys whose stored value actually
// changed. Listeners are invoked once per changed key, in the order
// the pairs were supplied, after the lock is released.
func (s *State) UpdateMultiple(pairs []Pair, source string) []string {
	type pending struct {
		key      string
		old, new interface{}
	}

	s.mu.Lock()
	var changes []pending
	for _, p := range pairs {
		clamped, ok := s.clamp(p.Key, p.Value)
		if !ok {
			continue
		}
		old, existed := s.values[p.Key]
		if existed && equalValue(old, clamped) {
			continue
		}
		s.values[p.Key] = clamped
		changes = append(changes, pending{key: p.Key, old: old, new: clamped})
	}
	for _, c := range changes {
		s.applyDerivedConstraintsLocked(c.key)
	}
	s.mu.Unlock()

	changed := make([]string, 0, len(changes))
	for _, c := range changes {
		changed = append(changed, c.key)
		s.notify(Change{Key: c.key, OldValue: c.old, NewValue: c.new, Source: source})
	}
	return changed
}

// AddListener registers cb to be invoked on every future changed key.
func (s *State) AddListener(cb Listener) {
	s.listenersMu.Lock()
	defer s.listenersMu.Unlock()
	s.listeners = append(s.listeners, cb)
}

// RemoveListener clears all registered listeners when cb is nil. Go has
// no function-value equality beyond nil comparisons, so a non-nil cb is
// ignored: individual listeners cannot be removed.
func (s *State) RemoveListener(cb Listener) {
	if cb == nil {
		s.listenersMu.Lock()
		s.listeners = nil
		s.listenersMu.Unlock()
	}
}

func (s *State) notify(change Change) {
	s.listenersMu.Lock()
	cbs := make([]Listener, len(s.listeners))
	copy(cbs, s.listeners)
	s.listenersMu.Unlock()

	for _, cb := range cbs {
		safeInvoke(cb, change)
	}
}

// safeInvoke isolates one listener's panic so it cannot take down the
// notification loop or leave other listeners un-notified.
func safeInvoke(cb Listener, change Change) {
	defer func() {
		_ = recover()
	}()
	cb(change)
}

// applyDerivedConstraintsLocked restores the sequence-length-coupled
// invariants (step_position < sequence_length, len(step_probabilities)
// == sequence_length, len(step_pattern) == sequence_length) after a
// write to sequence_length. Must be called with s.mu held.
func (s *State) applyDerivedConstraintsLocked(changedKey string) {
	if changedKey != "sequence_length" {
		return
	}
	length := 16
	if v, ok := s.values["sequence_length"].(int); ok {
		length = v
	}

	if pos, ok := s.values["step_position"].(int); ok {
		s.values["step_position"] = wrapIndex(pos, length)
	}

	if probs, ok := s.values["step_probabilities"].([]float64); ok && probs != nil {
		s.values["step_probabilities"] = resizeFloatSlice(probs, length, 1.0)
	}
	if pattern, ok := s.values["step_pattern"].([]bool); ok && pattern != nil {
		s.values["step_pattern"] = resizeBoolSlice(pattern, length, true)
	}
}

// clamp validates value against key's schema, returning the
// domain-adjusted value to store and whether it is acceptable at all.
func (s *State) clamp(key string, value interface{}) (interface{}, bool) {
	def, ok := s.defs[key]
	if !ok {
		return nil, false
	}

	switch def.kind {
	case KindFloat:
		f, ok := toFloat(value)
		if !ok {
			return nil, false
		}
		return clampFloat(f, def.min, def.max), true

	case KindInt:
		i, ok := toInt(value)
		if !ok {
			return nil, false
		}
		if key == "step_position" {
			length := 16
			if v, ok := s.values["sequence_length"].(int); ok {
				length = v
			}
			return wrapIndex(i, length), true
		}
		return clampInt(i, int(def.min), int(def.max)), true

	case KindBool:
		b, ok := value.(bool)
		if !ok {
			return nil, false
		}
		return b, true

	case KindEnum:
		str, ok := value.(string)
		if !ok || !def.allowed[str] {
			return nil, false
		}
		return str, true

	case KindFloatSlice:
		slice, ok := value.([]float64)
		if !ok {
			return nil, false
		}
		length := 16
		if v, ok := s.values["sequence_length"].(int); ok {
			length = v
		}
		return resizeFloatSlice(slice, length, 1.0), true

	case KindBoolSlice:
		slice, ok := value.([]bool)
		if !ok {
			return nil, false
		}
		length := 16
		if v, ok := s.values["sequence_length"].(int); ok {
			length = v
		}
		return resizeBoolSlice(slice, length, true), true
	}
	return nil, false
}

func wrapIndex(i, length int) int {
	if length <= 0 {
		return 0
	}
	i = i % length
	if i < 0 {
		i += length
	}
	return i
}

func resizeFloatSlice(src []float64, length int, padDefault float64) []float64 {
	out := make([]float64, length)
	for i := range out {
		if i < len(src) {
			out[i] = src[i]
		} else {
			out[i] = padDefault
		}
	}
	return out
}

func resizeBoolSlice(src []bool, length int, padDefault bool) []bool {
	out := make([]bool, length)
	for i := range out {
		if i < len(src) {
			out[i] = src[i]
		} else {
			out[i] = padDefault
		}
	}
	return out
}

func clampFloat(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return lo
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
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

func toFloat(v interface{}) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	}
	return 0, false
}

func toInt(v interface{}) (int, bool) {
	switch t := v.(type) {
	case int:
		return t, true
	case float64:
		return int(t), true
	}
	return 0, false
}

func equalValue(a, b interface{}) bool {
	switch av := a.(type) {
	case []float64:
		bv, ok := b.([]float64)
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if av[i] != bv[i] {
				return false
			}
		}
		return true
	case []bool:
		bv, ok := b.([]bool)
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if av[i] != bv[i] {
				return false
			}
		}
		return true
	default:
		return a == b
	}
}

// Domain reports the numeric range of a float or int parameter, for
// callers (e.g. ActionHandler's cc_parameter dispatch) that need to
// linearly rescale an incoming 0-127 MIDI value into the parameter's
// own range. ok is false for unknown keys or non-numeric kinds.
func (s *State) Domain(key string) (min, max float64, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	def, exists := s.defs[key]
	if !exists || (def.kind != KindFloat && def.kind != KindInt) {
		return 0, 0, false
	}
	return def.min, def.max, true
}

// KindOf reports the registered Kind of key.
func (s *State) KindOf(key string) (Kind, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	def, exists := s.defs[key]
	if !exists {
		return 0, false
	}
	return def.kind, true
}

// Keys returns the sorted list of all known parameter keys.
func (s *State) Keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]string, 0, len(s.defs))
	for k := range s.defs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Snapshot returns a point-in-time copy of every parameter, keyed by
// name; slice values are copied so the result shares no storage with
// the State.
func (s *State) Snapshot() map[string]interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]interface{}, len(s.values))
	for k, v := range s.values {
		switch t := v.(type) {
		case []float64:
			cp := make([]float64, len(t))
			copy(cp, t)
			out[k] = cp
		case []bool:
			cp := make([]bool, len(t))
			copy(cp, t)
			out[k] = cp
		default:
			out[k] = v
		}
	}
	return out
}

func builtinParamDefs() map[string]paramDef {
	return map[string]paramDef{
		"bpm":                {kind: KindFloat, min: 1.0, max: 300.0, defaultVal: 120.0},
		"swing":              {kind: KindFloat, min: 0.0, max: 0.5, defaultVal: 0.0},
		"density":            {kind: KindFloat, min: 0.0, max: 1.0, defaultVal: 1.0},
		"sequence_length":    {kind: KindInt, min: 1, max: 32, defaultVal: 8},
		"step_position":      {kind: KindInt, min: 0, max: 31, defaultVal: 0},
		"scale_index":        {kind: KindInt, min: 0, max: 1 << 20, defaultVal: 0},
		"root_note":          {kind: KindInt, min: 0, max: 127, defaultVal: 60},
		"gate_length":        {kind: KindFloat, min: 0.05, max: 1.0, defaultVal: 0.5},
		"base_velocity":      {kind: KindInt, min: 1, max: 127, defaultVal: 80},
		"velocity_range":     {kind: KindInt, min: 0, max: 127, defaultVal: 0},
		"note_probability":   {kind: KindFloat, min: 0.0, max: 1.0, defaultVal: 1.0},
		"step_probabilities": {kind: KindFloatSlice, defaultVal: ([]float64)(nil)},
		"step_pattern":       {kind: KindBoolSlice, defaultVal: ([]bool)(nil)},
		"direction_pattern": {kind: KindEnum, defaultVal: "forward", allowed: map[string]bool{
			"forward": true, "backward": true, "ping_pong": true, "random": true, "fugue": true,
		}},
		"voices": {kind: KindInt, min: 1, max: 4, defaultVal: 1},
		"quantize_scale_changes": {kind: KindEnum, defaultVal: "immediate", allowed: map[string]bool{
			"bar": true, "immediate": true,
		}},
		"idle_mode":  {kind: KindBool, defaultVal: false},
		"chaos_lock": {kind: KindBool, defaultVal: false},
		"drift":      {kind: KindFloat, min: -0.2, max: 0.2, defaultVal: 0.0},
	}
}
