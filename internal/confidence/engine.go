// Package confidence propagates and classifies confidence scores across
// reasoning chains. Aggregation is deliberately conservative: a chain can
// never be more certain than its least-certain premise.
package confidence

import (
	"time"

	"github.com/ppiankov/causalvault/internal/model"
)

// decayFloor is the evidence age below which no decay applies. Anything
// fresher is noise from clock granularity, not staleness.
const decayFloor = time.Minute

// Engine computes per-step and aggregated-chain confidence.
type Engine struct {
	cfg *Config
}

// New creates an Engine. A nil config uses defaults.
func New(cfg *Config) *Engine {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return &Engine{cfg: cfg}
}

// Config returns the engine's active configuration.
func (e *Engine) Config() *Config {
	return e.cfg
}

// ScoreLeaf scores an input or evidence step: the claimed confidence if the
// agent supplied one (clamped to [0,1]), else the configured default.
func (e *Engine) ScoreLeaf(claimed *float64) float64 {
	if claimed == nil {
		return e.cfg.DefaultConfidence
	}
	return clamp(*claimed)
}

// Aggregate computes weakest-link chain confidence over incoming edge
// confidences:
//
//	aggregated = min(incoming) * (1 - decay * ageFactor)
//
// where ageFactor is the age of the oldest contributing evidence,
// normalized by max_evidence_age and clamped to [0,1]. Evidence younger
// than decayFloor counts as fresh, so a chain built within one sitting
// aggregates to exactly min(incoming). A step with no incoming edges has
// nothing to stand on and scores zero.
func (e *Engine) Aggregate(incoming []float64, oldestEvidence, now time.Time) float64 {
	if len(incoming) == 0 {
		return 0
	}

	min := incoming[0]
	for _, c := range incoming[1:] {
		if c < min {
			min = c
		}
	}

	age := 0.0
	if !oldestEvidence.IsZero() && now.Sub(oldestEvidence) > decayFloor {
		age = float64(now.Sub(oldestEvidence)) / float64(time.Duration(e.cfg.MaxEvidenceAge))
		if age > 1 {
			age = 1
		}
	}

	return clamp(min * (1 - e.cfg.Decay*age))
}

// AggregateParallel averages confidences from parallel reasoning branches
// feeding one node. Each branch is itself already weakest-link bounded, so
// the mean reflects independent corroboration rather than chain depth.
func (e *Engine) AggregateParallel(branches []float64) float64 {
	if len(branches) == 0 {
		return 0
	}
	sum := 0.0
	for _, c := range branches {
		sum += c
	}
	return clamp(sum / float64(len(branches)))
}

// Classify maps a confidence score onto the configured bands.
func (e *Engine) Classify(c float64) model.ConfidenceClass {
	switch {
	case c >= e.cfg.Cutpoints.High:
		return model.ClassHigh
	case c >= e.cfg.Cutpoints.Medium:
		return model.ClassMedium
	case c >= e.cfg.Cutpoints.Low:
		return model.ClassLow
	default:
		return model.ClassInsufficient
	}
}

func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
