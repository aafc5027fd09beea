// Package config loads and validates the engine's startup
// configuration: sequencer defaults, the enabled scale set, mutation
// rules, idle-mode parameters, and raw-MIDI-to-semantic-event mapping.
package config

import (
	"fmt"

	"github.com/BurntSushi/toml"

	"github.com/iltempo/cantry/idle"
	"github.com/iltempo/cantry/scale"
	"github.com/iltempo/cantry/sequencer"
)

// SequencerConfig supplies the initial values for every sequencer-owned
// state parameter.
type SequencerConfig struct {
	BPM                  float64   `toml:"bpm"`
	Swing                float64   `toml:"swing"`
	Density              float64   `toml:"density"`
	SequenceLength       int       `toml:"sequence_length"`
	GateLength           float64   `toml:"gate_length"`
	BaseVelocity         int       `toml:"base_velocity"`
	VelocityRange        int       `toml:"velocity_range"`
	NoteProbability      float64   `toml:"note_probability"`
	StepProbabilities    []float64 `toml:"step_probabilities"`
	StepPattern          []bool    `toml:"step_pattern"`
	DirectionPattern     string    `toml:"direction_pattern"`
	Voices               int       `toml:"voices"`
	QuantizeScaleChanges string    `toml:"quantize_scale_changes"`
}

// MutationRuleConfig is one configured MutationRule.
type MutationRuleConfig struct {
	Parameter   string  `toml:"parameter"`
	Weight      float64 `toml:"weight"`
	DeltaMin    float64 `toml:"delta_min"`
	DeltaMax    float64 `toml:"delta_max"`
	DeltaScale  float64 `toml:"delta_scale"`
	Description string  `toml:"description"`
}

// MutationConfig configures the mutation engine's cadence and rule set.
type MutationConfig struct {
	IntervalMinS       float64              `toml:"interval_min_s"`
	IntervalMaxS       float64              `toml:"interval_max_s"`
	MaxChangesPerCycle int                  `toml:"max_changes_per_cycle"`
	Rules              []MutationRuleConfig `toml:"rules"`
}

// IdleConfig configures the idle manager's timeout and chosen profile.
type IdleConfig struct {
	TimeoutMs      int    `toml:"timeout_ms"`
	AmbientProfile string `toml:"ambient_profile"`
	FadeInMs       int    `toml:"fade_in_ms"`
	FadeOutMs      int    `toml:"fade_out_ms"`
}

// MappingEntry routes one raw MIDI note or CC number to a semantic
// event kind. Owned by the external router (spec.md §6), not the core,
// but still validated at load time so a bad mapping fails fast.
type MappingEntry struct {
	RawNote *int   `toml:"raw_note"`
	RawCC   *int   `toml:"raw_cc"`
	Kind    string `toml:"kind"`
	Param   string `toml:"param"`
}

// Config is the complete startup configuration, per spec.md §6.
type Config struct {
	Sequencer SequencerConfig `toml:"sequencer"`
	Scales    []string        `toml:"scales"`
	Mutation  MutationConfig  `toml:"mutation"`
	Idle      IdleConfig      `toml:"idle"`
	Mapping   []MappingEntry  `toml:"mapping"`
}

// Default returns the configuration the engine falls back to when no
// file overrides a given section, mirroring State's own builtin
// defaults.
func Default() Config {
	return Config{
		Sequencer: SequencerConfig{
			BPM:                  120,
			Swing:                0,
			Density:              1.0,
			SequenceLength:       8,
			GateLength:           0.5,
			BaseVelocity:         80,
			VelocityRange:        0,
			NoteProbability:      1.0,
			DirectionPattern:     "forward",
			Voices:               1,
			QuantizeScaleChanges: "immediate",
		},
		Scales: scale.BuiltinNames(),
		Mutation: MutationConfig{
			IntervalMinS:       20,
			IntervalMaxS:       90,
			MaxChangesPerCycle: 2,
		},
		Idle: IdleConfig{
			TimeoutMs:      120_000,
			AmbientProfile: "slow_fade",
			FadeInMs:       4_000,
			FadeOutMs:      2_000,
		},
	}
}

// Load reads and validates a TOML configuration file, returning a
// configuration error (spec.md §7) on unknown scale names, invalid
// mutation rules, or an unrecognized ambient profile — failures the
// Engine must refuse to start on rather than silently fall back.
func Load(path string) (Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: decode %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks every cross-referential constraint Load cannot catch
// through TOML decoding alone.
func (c Config) Validate() error {
	validScales := make(map[string]bool)
	for _, n := range scale.BuiltinNames() {
		validScales[n] = true
	}
	for _, s := range c.Scales {
		if !validScales[s] {
			return fmt.Errorf("config: unknown scale %q", s)
		}
	}

	if c.Sequencer.DirectionPattern != "" && !sequencer.IsValidDirection(c.Sequencer.DirectionPattern) {
		return fmt.Errorf("config: unknown direction_pattern %q", c.Sequencer.DirectionPattern)
	}

	if c.Mutation.IntervalMinS < 0 || c.Mutation.IntervalMaxS < c.Mutation.IntervalMinS {
		return fmt.Errorf("config: mutation interval_min_s/interval_max_s out of order")
	}
	for _, r := range c.Mutation.Rules {
		if r.Weight < 0 {
			return fmt.Errorf("config: mutation rule %q has negative weight", r.Parameter)
		}
		if r.DeltaMax < r.DeltaMin {
			return fmt.Errorf("config: mutation rule %q has delta_max < delta_min", r.Parameter)
		}
	}

	if c.Idle.AmbientProfile != "" {
		if _, ok := idle.BuiltinProfiles()[c.Idle.AmbientProfile]; !ok {
			return fmt.Errorf("config: unknown ambient_profile %q", c.Idle.AmbientProfile)
		}
	}

	for i, m := range c.Mapping {
		if m.RawNote == nil && m.RawCC == nil {
			return fmt.Errorf("config: mapping[%d] has neither raw_note nor raw_cc", i)
		}
		if m.Kind == "" {
			return fmt.Errorf("config: mapping[%d] missing kind", i)
		}
	}

	return nil
}

// StateDefaults flattens the sequencer section into the key/value map
// state.New expects.
func (c Config) StateDefaults() map[string]interface{} {
	m := map[string]interface{}{
		"bpm":                    c.Sequencer.BPM,
		"swing":                  c.Sequencer.Swing,
		"density":                c.Sequencer.Density,
		"sequence_length":        c.Sequencer.SequenceLength,
		"gate_length":            c.Sequencer.GateLength,
		"base_velocity":          c.Sequencer.BaseVelocity,
		"velocity_range":         c.Sequencer.VelocityRange,
		"note_probability":       c.Sequencer.NoteProbability,
		"direction_pattern":      c.Sequencer.DirectionPattern,
		"voices":                 c.Sequencer.Voices,
		"quantize_scale_changes": c.Sequencer.QuantizeScaleChanges,
	}
	if c.Sequencer.StepProbabilities != nil {
		m["step_probabilities"] = c.Sequencer.StepProbabilities
	}
	if c.Sequencer.StepPattern != nil {
		m["step_pattern"] = c.Sequencer.StepPattern
	}
	return m
}
