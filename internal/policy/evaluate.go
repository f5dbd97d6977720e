// Package policy is the gate between scored reasoning steps and the
// escalation path. Rules compose with a deterministic total order, so
// "which policy wins" is never ambiguous, and every evaluation produces a
// compliance record whether it passes or not — a pass is audit evidence
// too.
package policy

import (
	"fmt"
	"sort"
	"strings"

	"github.com/ppiankov/causalvault/internal/model"
)

// StepContext is the view of a step the gate evaluates. The gate never
// sees raw content, only structure and scores.
type StepContext struct {
	SessionID         string
	StepID            model.NodeID
	AgentID           string
	Kind              model.StepKind
	Confidence        float64
	EvidenceCount     int
	ClaimedConfidence *float64
}

// kindOrder fixes evaluation order within one priority tier: an explicit
// deny must dominate a marginal threshold pass.
var kindOrder = map[RuleKind]int{
	KindAllowDeny: 0,
	KindRequire:   1,
	KindThreshold: 2,
}

// Evaluate runs the active rule set against one step and returns the
// compliance record. Rules run in descending priority; within a tier,
// allow_deny before require before threshold. A malformed rule fails
// closed: it contributes an implicit Fail verdict and evaluation
// continues with the remaining rules.
func Evaluate(step StepContext, cfg *Config, policyHash string) model.ComplianceRecord {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	ordered := make([]Rule, len(cfg.Rules))
	copy(ordered, cfg.Rules)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].Priority != ordered[j].Priority {
			return ordered[i].Priority > ordered[j].Priority
		}
		return kindOrder[ordered[i].Kind] < kindOrder[ordered[j].Kind]
	})

	record := model.ComplianceRecord{
		StepID:     step.StepID,
		PolicyHash: policyHash,
		Overall:    model.VerdictPass,
	}

	decidedPriority := 0
	decided := false

	for _, rule := range ordered {
		if !inScope(rule, step.Kind) {
			continue
		}

		verdict, err := applyRule(rule, step)
		if err != nil {
			// Fail closed: a rule that cannot be evaluated counts as Fail.
			verdict = model.PolicyVerdict{
				RuleName: rule.Name,
				Priority: rule.Priority,
				Result:   model.VerdictFail,
				Details:  (&model.PolicyError{RuleName: rule.Name, Err: err}).Error(),
			}
		}
		record.Verdicts = append(record.Verdicts, verdict)

		if verdict.Result == model.VerdictPass {
			continue
		}
		// Higher priority always wins; within the deciding tier the worst
		// verdict wins (Fail > Warn > Pass).
		if !decided || rule.Priority == decidedPriority {
			record.Overall = model.WorseOf(record.Overall, verdict.Result)
			decidedPriority = rule.Priority
			decided = true
		}
		if verdict.Result == model.VerdictFail && rule.Priority >= cfg.BlockingPriority {
			record.Blocking = true
		}
	}

	return record
}

func inScope(rule Rule, kind model.StepKind) bool {
	if len(rule.Scope) == 0 {
		return true
	}
	for _, k := range rule.Scope {
		if k == kind {
			return true
		}
	}
	return false
}

func applyRule(rule Rule, step StepContext) (model.PolicyVerdict, error) {
	v := model.PolicyVerdict{
		RuleName: rule.Name,
		Priority: rule.Priority,
		Result:   model.VerdictPass,
	}

	switch rule.Kind {
	case KindAllowDeny:
		matched := matchAgent(rule.AgentPattern, step.AgentID)
		switch rule.Action {
		case "allow":
			// An allow rule passes whether or not it matched; it exists
			// to be overridden by a deny at higher priority.
		case "deny":
			if matched {
				v.Result = model.VerdictFail
				v.Details = fmt.Sprintf("agent %q denied by pattern %q", step.AgentID, rule.AgentPattern)
			}
		default:
			return v, fmt.Errorf("unknown action %q", rule.Action)
		}

	case KindRequire:
		if rule.RequireEvidence && step.EvidenceCount == 0 {
			v.Result = model.VerdictFail
			v.Details = "step carries no evidence refs"
		}
		if rule.RequireConfidence && step.ClaimedConfidence == nil {
			v.Result = model.VerdictFail
			v.Details = strings.TrimSpace(v.Details + "; no claimed confidence")
		}

	case KindThreshold:
		switch {
		case rule.MinConfidence > 0 && step.Confidence < rule.MinConfidence:
			v.Result = model.VerdictFail
			v.Details = fmt.Sprintf("confidence %.2f below minimum %.2f", step.Confidence, rule.MinConfidence)
		case rule.WarnBelow > 0 && step.Confidence < rule.WarnBelow:
			v.Result = model.VerdictWarn
			v.Details = fmt.Sprintf("confidence %.2f below warn band %.2f", step.Confidence, rule.WarnBelow)
		}

	default:
		return v, fmt.Errorf("unknown rule kind %q", rule.Kind)
	}

	return v, nil
}

// matchAgent matches an agent ID against a pattern.
// "*" or empty matches anything; *x* contains; x* prefix; *x suffix;
// otherwise exact. Matching is case-insensitive.
func matchAgent(pattern, agentID string) bool {
	if pattern == "" || pattern == "*" {
		return true
	}
	p := strings.ToLower(pattern)
	id := strings.ToLower(agentID)

	if strings.HasPrefix(p, "*") && strings.HasSuffix(p, "*") {
		return strings.Contains(id, p[1:len(p)-1])
	}
	if strings.HasPrefix(p, "*") {
		return strings.HasSuffix(id, p[1:])
	}
	if strings.HasSuffix(p, "*") {
		return strings.HasPrefix(id, p[:len(p)-1])
	}
	return id == p
}
