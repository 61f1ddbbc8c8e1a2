package model

import "time"

// PrimingBlock is a pre-compiled context payload indexed by topic keys.
type PrimingBlock struct {
	Header

	TerritoryName      string   `json:"territory_name"`
	TerritoryKeys      []string `json:"territory_keys,omitempty"`
	ConfidenceFloor    float64  `json:"confidence_floor"`
	SourceExpeditions  []string `json:"source_expeditions,omitempty"`
	CompiledText       string   `json:"compiled_text"`
}

// FlagCategory is the taxonomy an ExpeditionFlag is bookmarked under.
type FlagCategory string

const (
	FlagInversion     FlagCategory = "inversion"
	FlagIsomorphism   FlagCategory = "isomorphism"
	FlagFSD           FlagCategory = "fsd"
	FlagManifestation FlagCategory = "manifestation"
	FlagTrap          FlagCategory = "trap"
	FlagGeneral       FlagCategory = "general"
)

// FlagStatus tracks an ExpeditionFlag's journey toward priming.
type FlagStatus string

const (
	FlagPending   FlagStatus = "pending"
	FlagCompiled  FlagStatus = "compiled"
	FlagDiscarded FlagStatus = "discarded"
)

// ExpeditionFlag is a bookmarked observation, pending until compiled into a
// PrimingBlock or explicitly discarded.
type ExpeditionFlag struct {
	Header

	Category    FlagCategory `json:"category"`
	Description string       `json:"description"`
	Status      FlagStatus   `json:"status"`
}

// ScratchpadEntry is a session-scoped TTL key/value record. Lifecycle:
// created by Put, destroyed by the sweep or an explicit Delete.
type ScratchpadEntry struct {
	SessionID string    `json:"session_id"`
	Key       string    `json:"key"`
	Value     string    `json:"value"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Expired reports whether the entry is stale as of now.
func (e ScratchpadEntry) Expired(now time.Time) bool {
	return !e.ExpiresAt.After(now)
}
