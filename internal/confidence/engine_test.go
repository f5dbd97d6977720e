package confidence

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ppiankov/causalvault/internal/model"
)

func TestScoreLeaf(t *testing.T) {
	e := New(nil)

	if got := e.ScoreLeaf(nil); got != 0.5 {
		t.Errorf("unclaimed leaf = %v, want default 0.5", got)
	}

	claimed := 0.9
	if got := e.ScoreLeaf(&claimed); got != 0.9 {
		t.Errorf("claimed leaf = %v, want 0.9", got)
	}

	over := 1.7
	if got := e.ScoreLeaf(&over); got != 1.0 {
		t.Errorf("out-of-range claim = %v, want clamped 1.0", got)
	}
}

func TestAggregateWeakestLink(t *testing.T) {
	e := New(nil)
	now := time.Now().UTC()

	cases := []struct {
		name     string
		incoming []float64
		want     float64
	}{
		{"single edge", []float64{0.7}, 0.7},
		{"min dominates", []float64{0.9, 0.8, 0.7}, 0.7},
		{"order independent", []float64{0.7, 0.9, 0.8}, 0.7},
		{"no incoming", nil, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			// Fresh evidence: zero age factor, no decay.
			got := e.Aggregate(tc.incoming, now, now)
			if got != tc.want {
				t.Errorf("aggregate = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestAggregateNeverExceedsMinimum(t *testing.T) {
	e := New(nil)
	now := time.Now().UTC()

	chains := [][]float64{
		{0.9, 0.8},
		{0.5},
		{1.0, 1.0, 0.2, 0.9},
		{0.3, 0.3, 0.3},
	}
	for _, chain := range chains {
		min := chain[0]
		for _, c := range chain {
			if c < min {
				min = c
			}
		}
		for _, age := range []time.Duration{0, time.Hour, 48 * time.Hour} {
			got := e.Aggregate(chain, now.Add(-age), now)
			if got > min {
				t.Errorf("aggregate(%v, age=%v) = %v exceeds weakest link %v", chain, age, got, min)
			}
		}
	}
}

func TestAggregateDecaysWithEvidenceAge(t *testing.T) {
	e := New(nil)
	now := time.Now().UTC()
	incoming := []float64{0.8}

	fresh := e.Aggregate(incoming, now, now)
	stale := e.Aggregate(incoming, now.Add(-12*time.Hour), now)
	ancient := e.Aggregate(incoming, now.Add(-30*24*time.Hour), now)

	if !(fresh > stale && stale > ancient) {
		t.Errorf("decay not monotonic: fresh=%v stale=%v ancient=%v", fresh, stale, ancient)
	}
	// Age factor saturates at 1: full penalty is min * (1 - decay).
	want := 0.8 * (1 - e.cfg.Decay)
	if diff := ancient - want; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("saturated decay = %v, want %v", ancient, want)
	}
}

func TestAggregateIgnoresDecayBelowFloor(t *testing.T) {
	e := New(nil)
	now := time.Now().UTC()

	// Seconds-old evidence scores exactly the weakest link.
	if got := e.Aggregate([]float64{0.8}, now.Add(-5*time.Second), now); got != 0.8 {
		t.Errorf("near-fresh aggregate = %v, want exactly 0.8", got)
	}
	if got := e.Aggregate([]float64{0.8}, now.Add(-2*decayFloor), now); got >= 0.8 {
		t.Errorf("aggregate past the floor = %v, want < 0.8", got)
	}
}

func TestAggregateParallel(t *testing.T) {
	e := New(nil)

	if got := e.AggregateParallel(nil); got != 0 {
		t.Errorf("no branches = %v, want 0", got)
	}
	got := e.AggregateParallel([]float64{0.6, 0.8})
	if diff := got - 0.7; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("mean of branches = %v, want 0.7", got)
	}
}

func TestClassify(t *testing.T) {
	e := New(nil)

	cases := []struct {
		confidence float64
		want       model.ConfidenceClass
	}{
		{0.95, model.ClassHigh},
		{0.85, model.ClassHigh},
		{0.7, model.ClassMedium},
		{0.6, model.ClassMedium},
		{0.45, model.ClassLow},
		{0.3, model.ClassLow},
		{0.1, model.ClassInsufficient},
		{0, model.ClassInsufficient},
	}
	for _, tc := range cases {
		if got := e.Classify(tc.confidence); got != tc.want {
			t.Errorf("classify(%v) = %v, want %v", tc.confidence, got, tc.want)
		}
	}
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "confidence.yaml")
	content := `
default_confidence: 0.4
decay: 0.2
max_evidence_age: 48h
cutpoints:
  high: 0.9
  medium: 0.7
  low: 0.5
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.DefaultConfidence != 0.4 || cfg.Decay != 0.2 {
		t.Errorf("unexpected scalars: %+v", cfg)
	}
	if time.Duration(cfg.MaxEvidenceAge) != 48*time.Hour {
		t.Errorf("max_evidence_age = %v, want 48h", cfg.MaxEvidenceAge)
	}
	if cfg.Cutpoints.High != 0.9 {
		t.Errorf("cutpoints = %+v", cfg.Cutpoints)
	}
}

func TestLoadConfigRejectsBadCutpoints(t *testing.T) {
	path := filepath.Join(t.TempDir(), "confidence.yaml")
	content := `
cutpoints:
  high: 0.5
  medium: 0.6
  low: 0.3
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadConfig(path); err == nil {
		t.Error("expected error for non-descending cutpoints")
	}
}

func TestLoadConfigEmptyPathUsesDefaults(t *testing.T) {
	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Cutpoints.High != 0.85 || cfg.Cutpoints.Medium != 0.6 || cfg.Cutpoints.Low != 0.3 {
		t.Errorf("default cutpoints = %+v", cfg.Cutpoints)
	}
}
