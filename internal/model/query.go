package model

import "time"

// TimeRange bounds a query by a half-open [From, To) interval, either side
// optional.
type TimeRange struct {
	From *time.Time `json:"from,omitempty"`
	To   *time.Time `json:"to,omitempty"`
}

// QueryFilters is the conjunctive equality filter set a vector store search
// accepts (spec.md §4.2): project, status, category, source_conversation,
// plus a time range applied on created_at.
type QueryFilters struct {
	Project            *string    `json:"project,omitempty"`
	Status             *string    `json:"status,omitempty"`
	Category           *string    `json:"category,omitempty"`
	SourceConversation *string    `json:"source_conversation,omitempty"`
	TimeRange          *TimeRange `json:"time_range,omitempty"`
}

// ScoredItem is a single vector-store search hit: the stored id, cosine
// similarity in [-1,1], and whatever metadata slice the store carries.
type ScoredItem struct {
	ID         string
	Similarity float64
	Metadata   map[string]any
}

// RankedItem is a single result of the attention engine's recall, carrying
// the decomposed score factors so callers can explain ranking.
type RankedItem struct {
	Header
	Attention      float64        `json:"attention"`
	Similarity     float64        `json:"similarity"`
	EpistemicTier  float64        `json:"epistemic_tier"`
	Freshness      float64        `json:"freshness"`
	ConflictBonus  float64        `json:"conflict_bonus"`
	CategoryBoost  float64        `json:"category_boost"`
	EstimatedTokens int           `json:"estimated_tokens"`
}

// RecallResult is the full response of a recall call.
type RecallResult struct {
	Items    []RankedItem `json:"items"`
	Degraded []string     `json:"degraded,omitempty"` // collection names that failed
}
