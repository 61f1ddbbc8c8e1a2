// Package model defines the record types shared by every registry and
// consumed by the attention engine.
package model

import "time"

// Kind tags the variant a Record carries. The attention engine consumes
// only Header plus a small set of scoring factors, so it stays parametric
// over Kind.
type Kind string

const (
	KindDecision  Kind = "decision"
	KindThread    Kind = "thread"
	KindPriming   Kind = "priming"
	KindPattern   Kind = "pattern"
	KindMessage   Kind = "message"
	KindFlag      Kind = "flag"
)

// CategoryBoost returns the §4.10 category prior for a kind. Every record
// carries exactly one Kind, so this single value is the record's boost
// (resolved Open Question, see DESIGN.md).
func (k Kind) CategoryBoost() float64 {
	switch k {
	case KindDecision:
		return 1.0
	case KindThread:
		return 0.8
	case KindPriming:
		return 0.6
	case KindPattern:
		return 0.5
	case KindFlag:
		return 0.4
	case KindMessage:
		return 0.3
	default:
		return 0.0
	}
}

// Header is the field set every record shares, regardless of kind.
type Header struct {
	ID                 string    `json:"id"`
	Kind               Kind      `json:"kind"`
	Project            string    `json:"project"`
	Text               string    `json:"text"`
	Embedding          []float32 `json:"embedding,omitempty"`
	SourceConversation string    `json:"source_conversation,omitempty"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}
