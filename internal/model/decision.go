package model

import "time"

// DecisionStatus is the lifecycle state of a Decision.
type DecisionStatus string

const (
	DecisionActive     DecisionStatus = "active"
	DecisionSuperseded DecisionStatus = "superseded"
	DecisionResolved   DecisionStatus = "resolved"
)

// Decision is a registered position on some subject, carrying the epistemic
// tier, the conflicts confirmed against it, and staleness accounting in
// compression hops rather than wall-clock time.
//
// Invariants: EpistemicTier is monotone only by explicit rationale-carrying
// update (the registry never silently lowers it); Status == DecisionSuperseded
// iff some later, still-active decision names this one in ConflictsWith via
// an explicit supersede.
type Decision struct {
	Header

	LocalID              string         `json:"local_id"` // e.g. "D042"
	Rationale            string         `json:"rationale,omitempty"`
	AlternativesRejected []string       `json:"alternatives_rejected,omitempty"`
	EpistemicTier        float64        `json:"epistemic_tier"` // [0,1]
	Status               DecisionStatus `json:"status"`
	ConflictsWith        []string       `json:"conflicts_with,omitempty"`
	HopsSinceValidated   int            `json:"hops_since_validated"`
	LastValidatedAtHop   int            `json:"last_validated_at_hop"`
}

// StalenessWarningHops and StalenessCriticalHops are the decision staleness
// thresholds (spec.md §4.3). The source left thread thresholds symmetric at
// 3 hops both; decisions use the asymmetric 3/6 split — see DESIGN.md Open
// Question resolution.
const (
	StalenessWarningHops  = 3
	StalenessCriticalHops = 6
)

// StalenessLevel classifies a decision's hops_since_validated.
func (d Decision) StalenessLevel() string {
	switch {
	case d.HopsSinceValidated >= StalenessCriticalHops:
		return "critical"
	case d.HopsSinceValidated >= StalenessWarningHops:
		return "warning"
	default:
		return "fresh"
	}
}

// EpistemicTierBand reports the GLOSSARY band for a tier value.
func EpistemicTierBand(tier float64) string {
	switch {
	case tier >= 0.8:
		return "validated"
	case tier >= 0.3:
		return "heuristic"
	default:
		return "speculative"
	}
}

// DecisionEvent pairs a decision with the time it was observed, used by
// callers that need the staleness snapshot at a point in time.
type DecisionEvent struct {
	Decision Decision
	At       time.Time
}
