package confidence

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so YAML configs can say "24h".
type Duration time.Duration

// UnmarshalYAML parses a Go duration string.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML renders the duration string form.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Cutpoints are the classification band boundaries. They are configuration,
// not constants: acceptable bands differ by domain (financial vs. medical).
type Cutpoints struct {
	High   float64 `yaml:"high"`
	Medium float64 `yaml:"medium"`
	Low    float64 `yaml:"low"`
}

// Config holds all tunable confidence parameters.
type Config struct {
	// DefaultConfidence is used for leaf steps that claim no confidence.
	DefaultConfidence float64 `yaml:"default_confidence"`
	// Decay attenuates aggregated confidence as evidence ages.
	Decay float64 `yaml:"decay"`
	// MaxEvidenceAge normalizes evidence age into [0,1]: evidence this old
	// or older contributes the full decay penalty.
	MaxEvidenceAge Duration `yaml:"max_evidence_age"`
	Cutpoints      Cutpoints `yaml:"cutpoints"`
}

// DefaultConfig returns the built-in confidence parameters.
func DefaultConfig() *Config {
	return &Config{
		DefaultConfidence: 0.5,
		Decay:             0.1,
		MaxEvidenceAge:    Duration(24 * time.Hour),
		Cutpoints: Cutpoints{
			High:   0.85,
			Medium: 0.6,
			Low:    0.3,
		},
	}
}

// DefaultConfigYAML returns a commented YAML string for `causalvault init`.
func DefaultConfigYAML() string {
	return `# causalvault confidence configuration
# Generated by: causalvault init

# Confidence assigned to leaf steps (input/evidence) that claim none.
default_confidence: 0.5

# Aggregated confidence decays with the age of the oldest contributing
# evidence: aggregated = min(incoming) * (1 - decay * age_factor), where
# age_factor is evidence age / max_evidence_age, clamped to [0,1].
decay: 0.1
max_evidence_age: 24h

# Classification bands. Scores below "low" classify as insufficient.
cutpoints:
  high: 0.85
  medium: 0.6
  low: 0.3
`
}

// LoadConfig reads a confidence config YAML file. An empty path returns
// defaults.
func LoadConfig(path string) (*Config, error) {
	if path == "" {
		return DefaultConfig(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultConfig(), nil
		}
		return nil, fmt.Errorf("read confidence config: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse confidence config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configs whose parameters fall outside [0,1] or whose
// cut points are not strictly descending.
func (c *Config) Validate() error {
	for name, v := range map[string]float64{
		"default_confidence": c.DefaultConfidence,
		"decay":              c.Decay,
		"cutpoints.high":     c.Cutpoints.High,
		"cutpoints.medium":   c.Cutpoints.Medium,
		"cutpoints.low":      c.Cutpoints.Low,
	} {
		if v < 0 || v > 1 {
			return fmt.Errorf("confidence config: %s = %v out of [0,1]", name, v)
		}
	}
	if !(c.Cutpoints.High > c.Cutpoints.Medium && c.Cutpoints.Medium > c.Cutpoints.Low) {
		return fmt.Errorf("confidence config: cutpoints must be strictly descending (high > medium > low)")
	}
	if c.MaxEvidenceAge <= 0 {
		return fmt.Errorf("confidence config: max_evidence_age must be positive")
	}
	return nil
}
