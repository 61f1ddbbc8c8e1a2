package identity

import "testing"

func TestContentIDDeterministic(t *testing.T) {
	a := ContentID("decision", "proj", "D1", "use jwt")
	b := ContentID("decision", "proj", "D1", "use jwt")
	if a != b {
		t.Fatalf("ContentID not deterministic: %q != %q", a, b)
	}
}

func TestContentIDFieldBoundary(t *testing.T) {
	a := ContentID("decision", "proj", "ab", "c")
	b := ContentID("decision", "proj", "a", "bc")
	if a == b {
		t.Fatalf("length-prefixed fields should not collide across boundaries")
	}
}

func TestVerifyContentID(t *testing.T) {
	id := ContentID("thread", "proj", "T1", "title")
	if !VerifyContentID(id, "thread", "proj", "T1", "title") {
		t.Fatal("expected verification to succeed")
	}
	if VerifyContentID(id, "thread", "proj", "T1", "different") {
		t.Fatal("expected verification to fail for mismatched fields")
	}
}

func TestMerkleRootSingleAndEmpty(t *testing.T) {
	if MerkleRoot(nil) != "" {
		t.Fatal("expected empty root for no leaves")
	}
	if MerkleRoot([]string{"x"}) != "x" {
		t.Fatal("expected single leaf to be its own root")
	}
}

func TestMerkleRootDeterministicOrder(t *testing.T) {
	leaves := []string{"a", "b", "c"}
	r1 := MerkleRoot(leaves)
	r2 := MerkleRoot([]string{"a", "b", "c"})
	if r1 != r2 {
		t.Fatal("expected identical leaf order to produce identical root")
	}
	if MerkleRoot([]string{"c", "b", "a"}) == r1 {
		t.Fatal("expected different leaf order to change the root")
	}
}
