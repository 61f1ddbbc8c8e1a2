package conflicts

import "testing"

func TestEvaluateConflictingDecisions(t *testing.T) {
	// spec.md §8 scenario 1.
	a := `Use JWT tokens only`
	b := `JWT-only rejected; use OAuth2 with refresh tokens`
	v := Evaluate(0.85, a, b)
	if !v.Conflict {
		t.Fatalf("expected conflict, got %+v", v)
	}
}

func TestEvaluateParaphraseIsNotConflict(t *testing.T) {
	// spec.md §8 scenario 2.
	a := `Use UUID v7 for resource IDs`
	b := `Resource identifiers should be UUID v7`
	v := Evaluate(0.9, a, b)
	if v.Conflict {
		t.Fatalf("expected no conflict for paraphrase, got %+v", v)
	}
}

func TestEvaluateBelowProximityThresholdNeverConflicts(t *testing.T) {
	v := Evaluate(0.5, "Use JWT", "JWT rejected, use OAuth2")
	if v.Conflict {
		t.Fatal("expected no conflict below semantic proximity threshold")
	}
}

func TestEvaluateNoSalientOverlapNeverConflicts(t *testing.T) {
	v := Evaluate(0.9, "we should not do this", "we should not do that")
	if v.Conflict {
		t.Fatalf("expected no conflict with no shared entities, got %+v", v)
	}
}

func TestEvaluateDeterministic(t *testing.T) {
	a := `Use "Redis" for caching`
	b := `"Redis" caching rejected, use Memcached instead`
	v1 := Evaluate(0.9, a, b)
	v2 := Evaluate(0.9, a, b)
	if v1 != v2 {
		t.Fatalf("expected deterministic result, got %+v vs %+v", v1, v2)
	}
}

func TestJaccardEmptySets(t *testing.T) {
	if jaccard(map[string]struct{}{}, map[string]struct{}{}) != 0 {
		t.Fatal("expected 0 for two empty sets")
	}
}
