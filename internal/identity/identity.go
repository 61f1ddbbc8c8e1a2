// Package identity computes deterministic, content-addressed identifiers
// for the record kinds the core stores. ContentID, VerifyContentID and the
// Merkle helpers are pure and deterministic, the way the teacher's integrity
// package hashes decisions; NewRandomID is the one random exception.
package identity

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"

	"github.com/google/uuid"
)

// contentV2Prefix marks the length-prefixed binary encoding used for every
// new identifier. There is no legacy v1 format here (unlike the teacher,
// which had to stay compatible with hashes already written to production);
// the prefix is kept so a future re-encoding has somewhere to go.
const contentV2Prefix = "v2:"

// ContentID computes a versioned SHA-256 identifier from a record's kind,
// project, and the fields that make it unique within that scope. Fields are
// length-prefixed before hashing so freeform text containing delimiter-like
// characters can never collide two distinct records (the teacher's same
// rationale for moving off pipe-delimited hashing).
func ContentID(kind, project string, fields ...string) string {
	h := sha256.New()
	writeField := func(s string) {
		var lenBuf [4]byte
		binary.BigEndian.PutUint32(lenBuf[:], uint32(len(s))) //nolint:gosec // fields are bounded by request size limits
		h.Write(lenBuf[:])
		h.Write([]byte(s))
	}
	writeField(kind)
	writeField(project)
	for _, f := range fields {
		writeField(f)
	}
	return contentV2Prefix + hex.EncodeToString(h.Sum(nil))
}

// VerifyContentID reports whether id was produced by ContentID for the given
// inputs, used to detect a caller-supplied id that doesn't match its payload.
func VerifyContentID(id, kind, project string, fields ...string) bool {
	return id == ContentID(kind, project, fields...)
}

// NewRandomID generates a fresh random identifier for records whose identity
// is not content-addressed (scan snapshots and events),
// where two otherwise-identical records are still distinct occurrences.
func NewRandomID() string {
	return uuid.NewString()
}

// hashPair produces SHA-256(0x01 || len(a) || a || b) as hex, the internal
// Merkle node domain separator from the teacher's audit-trail design.
func hashPair(a, b string) string {
	h := sha256.New()
	h.Write([]byte{0x01})
	aBytes := []byte(a)
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(aBytes))) //nolint:gosec // hash inputs are bounded-length hex strings
	h.Write(lenBuf[:])
	h.Write(aBytes)
	h.Write([]byte(b))
	return hex.EncodeToString(h.Sum(nil))
}

// MerkleRoot builds a Merkle tree over leaf hashes (caller must sort them
// lexicographically first for determinism) and returns the root. Used by the
// event log to produce a tamper-evident checkpoint over a time range of
// events without re-hashing the whole log.
func MerkleRoot(leaves []string) string {
	if len(leaves) == 0 {
		return ""
	}
	if len(leaves) == 1 {
		return leaves[0]
	}
	level := make([]string, len(leaves))
	copy(level, leaves)
	for len(level) > 1 {
		next := make([]string, 0, (len(level)+1)/2)
		for i := 0; i < len(level); i += 2 {
			if i+1 < len(level) {
				next = append(next, hashPair(level[i], level[i+1]))
			} else {
				next = append(next, hashPair(level[i], level[i]))
			}
		}
		level = next
	}
	return level[0]
}

// DecisionLocalID, ThreadLocalID are formatting helpers matching the
// GLOSSARY's local-id convention ("D042", "T003").
func DecisionLocalID(n int) string { return fmt.Sprintf("D%03d", n) }
func ThreadLocalID(n int) string   { return fmt.Sprintf("T%03d", n) }
