package model

import "time"

// Pattern is a recurring observation with a confidence that accumulates
// across near-duplicate registrations rather than being overwritten.
type Pattern struct {
	Header

	Confidence   float64   `json:"confidence"` // [0,1]
	MergeCount   int       `json:"merge_count"`
	LastMergedAt time.Time `json:"last_merged_at"`
	Variants     []string  `json:"variants,omitempty"` // earlier text preserved on merge
}
