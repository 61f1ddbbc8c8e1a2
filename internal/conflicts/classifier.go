package conflicts

import "context"

// Classifier is the extension point the decision registry falls back to
// when it wants a richer relationship judgment than the pure two-signal
// Evaluate gives — mirroring the teacher's PairwiseScorer/Validator
// override point in internal/conflicts/scorer.go, but kept strictly
// optional: the canonical detector registered against spec.md §4.11 is
// Evaluate, and nothing in this package calls a Classifier unless the
// registry is explicitly constructed with one.
type Classifier interface {
	// Classify reports whether A and B conflict, given they already passed
	// Signal 1. Implementations may call out to an LLM or another service;
	// unlike Evaluate, Classify is permitted to do I/O.
	Classify(ctx context.Context, textA, textB string) (bool, error)
}

// TwoSignalClassifier adapts the pure Evaluate function to the Classifier
// interface, so registries can depend on a single Classifier type and still
// get the deterministic default.
type TwoSignalClassifier struct{}

func (TwoSignalClassifier) Classify(_ context.Context, textA, textB string) (bool, error) {
	// similarity is assumed to already have cleared Signal 1 by the time a
	// Classifier is consulted; pass 1.0 so Evaluate only applies Signal 2.
	return Evaluate(1.0, textA, textB).SalientOverlap >= SalientOverlapThreshold && hasNegationMarker(textA) != hasNegationMarker(textB), nil
}
