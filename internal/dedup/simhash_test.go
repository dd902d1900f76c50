package dedup

import "testing"

func TestSimhashIdenticalTextZeroDistance(t *testing.T) {
	text := "the quick brown fox jumps over the lazy dog repeatedly"
	a := Simhash(text)
	b := Simhash(text)
	if HammingDistance64(a, b) != 0 {
		t.Fatalf("identical text should hash identically")
	}
}

func TestSimhashNearDuplicateWithinThreshold(t *testing.T) {
	original := "breaking news: the city council approved the new budget plan today after a long debate"
	nearDup := "breaking news: the city council approved the new budget plan today after a long discussion"

	a := Simhash(original)
	b := Simhash(nearDup)
	dist := HammingDistance64(a, b)
	if dist > DefaultHammingThreshold {
		t.Fatalf("expected near-duplicate within threshold %d, got distance %d", DefaultHammingThreshold, dist)
	}
	if Similarity(dist) < 0.95 {
		t.Fatalf("expected similarity >= 0.95 at distance %d, got %f", dist, Similarity(dist))
	}
}

func TestSimhashUnrelatedTextExceedsThreshold(t *testing.T) {
	a := Simhash("the quarterly financial report shows strong revenue growth across all regions")
	b := Simhash("a recipe for homemade sourdough bread requires flour water salt and a starter culture")
	dist := HammingDistance64(a, b)
	if dist <= DefaultHammingThreshold {
		t.Fatalf("expected unrelated text to exceed threshold %d, got distance %d", DefaultHammingThreshold, dist)
	}
}

func TestSimhashEmptyText(t *testing.T) {
	if Simhash("") != 0 {
		t.Fatalf("expected zero fingerprint for empty text")
	}
}

func TestHammingDistance64Self(t *testing.T) {
	var x uint64 = 0xDEADBEEFCAFEBABE
	if HammingDistance64(x, x) != 0 {
		t.Fatalf("self distance should be zero")
	}
	if HammingDistance64(x, ^x) != 64 {
		t.Fatalf("inverted bits should be maximal distance")
	}
}

func TestSimilarityBounds(t *testing.T) {
	if Similarity(0) != 1 {
		t.Fatalf("distance 0 should be perfect similarity")
	}
	if Similarity(64) != 0 {
		t.Fatalf("distance 64 should be zero similarity")
	}
}
