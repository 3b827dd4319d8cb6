// Package quality decides whether retrieved text can be trusted. The Gate
// rejects challenge pages, subscription gates and implausible text before a
// result is accepted; the Classifier grades accepted text into tiers.
package quality

// Thresholds are the tunable limits shared by the gate and the classifier.
type Thresholds struct {
	FullMinChars        int     `mapstructure:"full_min_chars"`
	FullMinWords        int     `mapstructure:"full_min_words"`
	ExcerptMaxChars     int     `mapstructure:"excerpt_max_chars"`
	PaywallGateMaxChars int     `mapstructure:"paywall_gate_max_chars"`
	TrailingWindow      int     `mapstructure:"trailing_window"`
	StripMaxIterations  int     `mapstructure:"strip_max_iterations"`
	ExcerptRatio        float64 `mapstructure:"excerpt_ratio"`
	MinLetterRatio      float64 `mapstructure:"min_letter_ratio"`
	MaxScriptResidue    int     `mapstructure:"max_script_residue"`
}

// DefaultThresholds returns the production limits.
func DefaultThresholds() Thresholds {
	return Thresholds{
		FullMinChars:        1200,
		FullMinWords:        200,
		ExcerptMaxChars:     400,
		PaywallGateMaxChars: 1000,
		TrailingWindow:      250,
		StripMaxIterations:  8,
		ExcerptRatio:        1.5,
		MinLetterRatio:      0.6,
		MaxScriptResidue:    3,
	}
}

func (t Thresholds) withDefaults() Thresholds {
	d := DefaultThresholds()
	if t.FullMinChars <= 0 {
		t.FullMinChars = d.FullMinChars
	}
	if t.FullMinWords <= 0 {
		t.FullMinWords = d.FullMinWords
	}
	if t.ExcerptMaxChars <= 0 {
		t.ExcerptMaxChars = d.ExcerptMaxChars
	}
	if t.PaywallGateMaxChars <= 0 {
		t.PaywallGateMaxChars = d.PaywallGateMaxChars
	}
	if t.TrailingWindow <= 0 {
		t.TrailingWindow = d.TrailingWindow
	}
	if t.StripMaxIterations <= 0 {
		t.StripMaxIterations = d.StripMaxIterations
	}
	if t.ExcerptRatio <= 0 {
		t.ExcerptRatio = d.ExcerptRatio
	}
	if t.MinLetterRatio <= 0 {
		t.MinLetterRatio = d.MinLetterRatio
	}
	if t.MaxScriptResidue <= 0 {
		t.MaxScriptResidue = d.MaxScriptResidue
	}
	return t
}
