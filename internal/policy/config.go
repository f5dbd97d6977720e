package policy

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/ppiankov/causalvault/internal/alert"
	"github.com/ppiankov/causalvault/internal/model"
)

// RuleKind selects the predicate family a rule evaluates.
type RuleKind string

const (
	// KindAllowDeny matches on agent and step kind and allows or denies
	// outright. Explicit deny always dominates a marginal threshold pass.
	KindAllowDeny RuleKind = "allow_deny"
	// KindRequire demands structural properties of the step (evidence
	// refs, claimed confidence).
	KindRequire RuleKind = "require"
	// KindThreshold compares the step's scored confidence against bounds.
	KindThreshold RuleKind = "threshold"
)

// Rule is one policy rule. Predicate fields are kind-specific; unused
// fields are ignored for other kinds.
type Rule struct {
	Name     string           `yaml:"name"`
	Kind     RuleKind         `yaml:"kind"`
	Priority int              `yaml:"priority"`
	Scope    []model.StepKind `yaml:"scope,omitempty"` // empty = all step kinds

	// allow_deny
	Action       string `yaml:"action,omitempty"` // "allow" or "deny"
	AgentPattern string `yaml:"agent_pattern,omitempty"`

	// require
	RequireEvidence   bool `yaml:"require_evidence,omitempty"`
	RequireConfidence bool `yaml:"require_claimed_confidence,omitempty"`

	// threshold
	MinConfidence float64 `yaml:"min_confidence,omitempty"`
	WarnBelow     float64 `yaml:"warn_below,omitempty"`
}

// Config holds the active rule set. Rule sets are immutable inputs per
// evaluation call: the gate never mutates them.
type Config struct {
	// BlockingPriority: a Fail verdict from a rule at this priority or
	// above makes the overall record blocking (halt path).
	BlockingPriority int    `yaml:"blocking_priority"`
	Rules            []Rule `yaml:"rules"`

	// Alerts are webhook destinations notified on halt and escalation
	// events. Empty means no alerting.
	Alerts []alert.AlertConfig `yaml:"alerts,omitempty"`
}

// DefaultConfig returns the built-in rule set. The top tier holds the
// mandatory system laws: they are ordinary rules pinned at the highest
// priority, not ambient global state.
func DefaultConfig() *Config {
	return &Config{
		BlockingPriority: 50,
		Rules: []Rule{
			{
				Name:            "law.conclusion-needs-evidence",
				Kind:            KindRequire,
				Priority:        100,
				Scope:           []model.StepKind{model.KindConclusion, model.KindInference},
				RequireEvidence: true,
			},
			{
				Name:          "law.min-conclusion-confidence",
				Kind:          KindThreshold,
				Priority:      100,
				Scope:         []model.StepKind{model.KindConclusion},
				MinConfidence: 0.3,
			},
			{
				Name:      "safety.confidence-floor",
				Kind:      KindThreshold,
				Priority:  40,
				WarnBelow: 0.6,
			},
		},
	}
}

// LoadConfig reads a policy YAML file. Empty path or missing file returns
// defaults; invalid YAML is an error.
func LoadConfig(path string) (*Config, error) {
	cfg, _, err := LoadConfigWithHash(path)
	return cfg, err
}

// LoadConfigWithHash loads the policy config and returns its SHA-256 hash
// over the raw YAML bytes. The hash is recorded in every compliance record
// so an auditor can tell exactly which rule set gated a step. When
// defaults are used, the hash is the SHA-256 of empty input.
func LoadConfigWithHash(path string) (*Config, string, error) {
	if path == "" {
		return DefaultConfig(), emptyHash(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultConfig(), emptyHash(), nil
		}
		return nil, "", fmt.Errorf("read policy config: %w", err)
	}

	h := sha256.Sum256(data)
	hash := "sha256:" + hex.EncodeToString(h[:])

	cfg := &Config{BlockingPriority: DefaultConfig().BlockingPriority}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, "", fmt.Errorf("parse policy config: %w", err)
	}
	return cfg, hash, nil
}

func emptyHash() string {
	h := sha256.Sum256(nil)
	return "sha256:" + hex.EncodeToString(h[:])
}

// DefaultConfigYAML returns a commented YAML string for `causalvault init`.
func DefaultConfigYAML() string {
	return `# causalvault policy configuration
# Generated by: causalvault init
#
# Rules are evaluated in descending priority. Within one priority tier,
# allow_deny rules run before require rules, which run before threshold
# rules, so an explicit deny always dominates a marginal threshold pass.
# Equal-priority conflicts resolve fail > warn > pass (fail-closed).
#
# A fail verdict at priority >= blocking_priority halts the session.
blocking_priority: 50

# Fields per rule:
#   name: unique rule name, recorded in every verdict
#   kind: allow_deny | require | threshold
#   priority: higher wins on conflict; 100 is the system-law tier
#   scope: step kinds the rule applies to (omit for all)
#   action: allow | deny                        (allow_deny)
#   agent_pattern: glob on agent id, e.g. "ext-*" (allow_deny)
#   require_evidence: true                      (require)
#   require_claimed_confidence: true            (require)
#   min_confidence: fail below this             (threshold)
#   warn_below: warn below this                 (threshold)
rules:
  - name: law.conclusion-needs-evidence
    kind: require
    priority: 100
    scope: [conclusion, inference]
    require_evidence: true
  - name: law.min-conclusion-confidence
    kind: threshold
    priority: 100
    scope: [conclusion]
    min_confidence: 0.3
  - name: safety.confidence-floor
    kind: threshold
    priority: 40
    warn_below: 0.6

# Webhook alerting on halt and escalation events. Formats: generic,
# slack, pagerduty. Events: halt, human_review_required, bias_flag.
# alerts:
#   - url: https://hooks.slack.com/services/T000/B000/XXXX
#     format: slack
#     events: [halt]
`
}
