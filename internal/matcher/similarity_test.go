package matcher

import (
	"testing"
)

func TestSimilarityIdentical(t *testing.T) {
	cases := []string{
		"",
		"COFFEE SHOP 42",
		"ACH TRANSFER REF 9918271",
		"café du monde",
	}

	for _, s := range cases {
		if sim := Similarity(s, s); sim != 1.0 {
			t.Errorf("Similarity(%q, %q) = %v, want 1.0", s, s, sim)
		}
	}
}

func TestSimilarityNormalization(t *testing.T) {
	// Case and whitespace differences must not register as distance
	if sim := Similarity("Coffee  Shop", "coffee shop"); sim != 1.0 {
		t.Errorf("Expected normalized equality, got %v", sim)
	}

	if sim := Similarity("  PAYROLL\tACME  CORP ", "payroll acme corp"); sim != 1.0 {
		t.Errorf("Expected normalized equality, got %v", sim)
	}
}

func TestSimilarityEmpty(t *testing.T) {
	if sim := Similarity("", ""); sim != 1.0 {
		t.Errorf("Expected both-empty similarity 1.0, got %v", sim)
	}

	if sim := Similarity("grocery store", ""); sim != 0.0 {
		t.Errorf("Expected one-empty similarity 0.0, got %v", sim)
	}

	if sim := Similarity("", "grocery store"); sim != 0.0 {
		t.Errorf("Expected one-empty similarity 0.0, got %v", sim)
	}

	// Whitespace-only normalizes to empty
	if sim := Similarity("   ", "grocery store"); sim != 0.0 {
		t.Errorf("Expected whitespace-only similarity 0.0, got %v", sim)
	}
}

func TestSimilaritySymmetry(t *testing.T) {
	pairs := [][2]string{
		{"AMAZON MKTPLACE", "AMZN Marketplace"},
		{"coffee", "tea"},
		{"UBER TRIP 12:30", "UBER EATS"},
	}

	for _, pair := range pairs {
		ab := Similarity(pair[0], pair[1])
		ba := Similarity(pair[1], pair[0])
		if ab != ba {
			t.Errorf("Similarity not symmetric for %q/%q: %v vs %v", pair[0], pair[1], ab, ba)
		}
	}
}

func TestSimilarityBounds(t *testing.T) {
	pairs := [][2]string{
		{"a", "completely different long description"},
		{"STARBUCKS #1234", "STARBUCKS #1235"},
		{"x", "y"},
	}

	for _, pair := range pairs {
		sim := Similarity(pair[0], pair[1])
		if sim < 0.0 || sim > 1.0 {
			t.Errorf("Similarity(%q, %q) = %v, out of [0, 1]", pair[0], pair[1], sim)
		}
	}
}

func TestSimilarityCloseDescriptions(t *testing.T) {
	// A single digit difference on a long description stays high
	sim := Similarity("STARBUCKS STORE #1234 SEATTLE", "STARBUCKS STORE #1235 SEATTLE")
	if sim <= 0.9 {
		t.Errorf("Expected near-identical descriptions above 0.9, got %v", sim)
	}

	// Unrelated descriptions stay low
	sim = Similarity("STARBUCKS STORE #1234", "CITY WATER UTILITY")
	if sim > 0.5 {
		t.Errorf("Expected unrelated descriptions at or below 0.5, got %v", sim)
	}
}
