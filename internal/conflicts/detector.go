// Package conflicts implements the two-signal conflict detector
// (spec.md §4.11): pure, deterministic, no I/O, no mutation — unlike the
// teacher's LLM-backed Validator, which judged relationship kind by calling
// out to Ollama/OpenAI. Keeping this pure is what makes the decision
// registry's conflict step unit-testable and lets the detector be swapped
// for a learned classifier (see Classifier below) without touching the
// registry (spec.md §9).
package conflicts

import (
	"strings"
	"unicode"
)

// SemanticProximityThreshold is Signal 1: cosine similarity at or above this
// value means A and B address close-enough subject matter to check Signal 2.
const SemanticProximityThreshold = 0.72

// SalientOverlapThreshold is the minimum token-set overlap of salient nouns
// (Signal 2, first half) for A and B to be considered "about the same thing".
const SalientOverlapThreshold = 0.5

// negationMarkers are the asymmetry markers spec.md §4.11 names explicitly:
// a negation or one of "rejected / superseded / instead / not" appearing in
// exactly one of the two texts.
var negationMarkers = []string{
	"not", "n't", "never", "no longer", "reject", "rejected", "rejects",
	"supersede", "supersedes", "superseded", "instead", "rather than",
	"abandon", "abandoned", "deprecate", "deprecated",
}

// Verdict is the pure result of evaluating two candidate texts.
type Verdict struct {
	Conflict           bool
	SemanticProximity  float64 // input similarity, echoed back for explainability
	SalientOverlap     float64
	NegationAsymmetry  bool
}

// Evaluate runs the two-signal check: Signal 1 is the caller-supplied cosine
// similarity between A and B's embeddings (already computed by the vector
// store search that found B as A's neighbor); Signal 2 is computed here from
// the raw text. A conflict is reported only when both signals pass.
func Evaluate(similarity float64, textA, textB string) Verdict {
	v := Verdict{SemanticProximity: similarity}
	if similarity < SemanticProximityThreshold {
		return v
	}

	tokensA := salientTokens(textA)
	tokensB := salientTokens(textB)
	v.SalientOverlap = jaccard(tokensA, tokensB)
	v.NegationAsymmetry = hasNegationMarker(textA) != hasNegationMarker(textB)

	v.Conflict = v.SalientOverlap >= SalientOverlapThreshold && v.NegationAsymmetry
	return v
}

// salientTokens extracts the capitalized-word and quoted-phrase tokens from
// text — the spec's "shared salient-noun overlap" signal — lowercased for
// set comparison so "JWT" and "jwt" referenced elsewhere still count as the
// same entity.
func salientTokens(text string) map[string]struct{} {
	out := make(map[string]struct{})

	for _, tok := range capitalizedWords(text) {
		out[strings.ToLower(tok)] = struct{}{}
	}
	for _, tok := range quotedPhrases(text) {
		out[strings.ToLower(tok)] = struct{}{}
	}
	return out
}

// capitalizedWords returns the words that carry entity-like capitalization:
// any word with an uppercase letter that is either not the text's first word
// (sentence-initial capitalization alone isn't a signal of entity-hood) or
// is a fully-uppercase acronym (which is a signal regardless of position,
// e.g. "JWT" opening a sentence).
func capitalizedWords(text string) []string {
	fields := strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	var out []string
	for i, field := range fields {
		if !hasUpper(field) {
			continue
		}
		if i != 0 || isAllUpper(field) {
			out = append(out, field)
		}
	}
	return out
}

func hasUpper(s string) bool {
	for _, r := range s {
		if unicode.IsUpper(r) {
			return true
		}
	}
	return false
}

func isAllUpper(s string) bool {
	seenLetter := false
	for _, r := range s {
		if unicode.IsLetter(r) {
			seenLetter = true
			if !unicode.IsUpper(r) {
				return false
			}
		}
	}
	return seenLetter
}

// quotedPhrases extracts the contents of "double" and 'single' quoted spans.
func quotedPhrases(text string) []string {
	var out []string
	for _, q := range []byte{'"', '\''} {
		start := -1
		for i := 0; i < len(text); i++ {
			if text[i] == q {
				if start == -1 {
					start = i + 1
				} else {
					if phrase := strings.TrimSpace(text[start:i]); phrase != "" {
						out = append(out, phrase)
					}
					start = -1
				}
			}
		}
	}
	return out
}

// jaccard computes |A∩B| / |A∪B| over two token sets. An empty union (no
// salient tokens found in either text) yields 0, not a division error —
// texts with no extractable entities can never satisfy Signal 2.
func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	intersection := 0
	union := make(map[string]struct{}, len(a)+len(b))
	for k := range a {
		union[k] = struct{}{}
		if _, ok := b[k]; ok {
			intersection++
		}
	}
	for k := range b {
		union[k] = struct{}{}
	}
	if len(union) == 0 {
		return 0
	}
	return float64(intersection) / float64(len(union))
}

func hasNegationMarker(text string) bool {
	lower := strings.ToLower(text)
	for _, m := range negationMarkers {
		if strings.Contains(lower, m) {
			return true
		}
	}
	return false
}
