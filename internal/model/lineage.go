package model

import "time"

// CompressionTag names the kind of compression a lineage edge performed.
type CompressionTag string

// ConceptDetailResult is the only compression tag the source names.
const ConceptDetailResult CompressionTag = "CONCEPT_DETAIL_RESULT"

// LineageEdge is one compression event: a conversation boundary that carries
// (or drops) decisions and threads forward. Edges form a DAG over
// conversations; no cycle may exist, and an edge may only reference
// conversations that already exist.
type LineageEdge struct {
	ID                string         `json:"id"`
	SourceConversation string        `json:"source_conversation"`
	TargetConversation string        `json:"target_conversation"`
	CompressionTag     CompressionTag `json:"compression_tag"`
	DecisionsCarried   []string       `json:"decisions_carried,omitempty"`
	DecisionsDropped   []string       `json:"decisions_dropped,omitempty"`
	ThreadsCarried     []string       `json:"threads_carried,omitempty"`
	ThreadsResolved    []string       `json:"threads_resolved,omitempty"`
	CrossProject       bool           `json:"cross_project"` // derived
	CreatedAt          time.Time      `json:"created_at"`
}

// Trace is the ancestor/descendant neighborhood of a conversation.
type Trace struct {
	ConversationID string        `json:"conversation_id"`
	Ancestors      []LineageEdge `json:"ancestors"`
	Descendants    []LineageEdge `json:"descendants"`
}
