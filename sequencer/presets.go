package sequencer

// PatternPreset returns the named 8-step gate pattern from spec.md
// §4.3. ok is false for an unrecognized name.
func PatternPreset(name string) (pattern []bool, ok bool) {
	switch name {
	case "four_on_floor":
		return []bool{true, false, false, false, true, false, false, false}, true
	case "offbeat":
		return []bool{false, true, false, true, false, true, false, true}, true
	case "every_other":
		return []bool{true, false, true, false, true, false, true, false}, true
	case "syncopated":
		return []bool{true, false, true, true, false, true, false, false}, true
	case "dense":
		return []bool{true, true, false, true, true, false, true, true}, true
	case "sparse":
		return []bool{true, false, false, false, false, false, true, false}, true
	case "all_on":
		return []bool{true, true, true, true, true, true, true, true}, true
	case "all_off":
		return []bool{false, false, false, false, false, false, false, false}, true
	}
	return nil, false
}

// PatternPresetNames lists every valid pattern preset, in the bucket
// order ActionHandler's value/16 lookup uses.
func PatternPresetNames() []string {
	return []string{
		"four_on_floor", "offbeat", "every_other", "syncopated",
		"dense", "sparse", "all_on", "all_off",
	}
}

// ProbabilityPreset returns a length-N probability curve by name.
func ProbabilityPreset(name string, length int) (probs []float64, ok bool) {
	if length <= 0 {
		length = 1
	}
	out := make([]float64, length)
	switch name {
	case "uniform":
		for i := range out {
			out[i] = 1.0
		}
	case "crescendo":
		for i := range out {
			out[i] = float64(i+1) / float64(length)
		}
	case "diminuendo":
		for i := range out {
			out[i] = float64(length-i) / float64(length)
		}
	case "peaks":
		for i := range out {
			if i%4 == 0 {
				out[i] = 1.0
			} else {
				out[i] = 0.3
			}
		}
	case "valleys":
		for i := range out {
			if i%4 == 0 {
				out[i] = 0.2
			} else {
				out[i] = 0.9
			}
		}
	case "alternating":
		for i := range out {
			if i%2 == 0 {
				out[i] = 1.0
			} else {
				out[i] = 0.4
			}
		}
	case "random_low":
		for i := range out {
			out[i] = 0.2
		}
	case "random_high":
		for i := range out {
			out[i] = 0.8
		}
	default:
		return nil, false
	}
	return out, true
}

// ProbabilityPresetNames lists every valid probability preset name.
func ProbabilityPresetNames() []string {
	return []string{
		"uniform", "crescendo", "diminuendo", "peaks",
		"valleys", "alternating", "random_low", "random_high",
	}
}

// DirectionPresetNames lists the valid direction_pattern enum values.
func DirectionPresetNames() []string {
	return []string{"forward", "backward", "ping_pong", "random", "fugue"}
}

// IsValidDirection reports whether name is one of DirectionPresetNames.
func IsValidDirection(name string) bool {
	for _, n := range DirectionPresetNames() {
		if n == name {
			return true
		}
	}
	return false
}
