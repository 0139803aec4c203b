package vision

import "testing"

func TestCosineMatcherConstantTime(t *testing.T) {
	probe := Embedding{Values: []float32{1, 0, 0}}
	gallery := []FaceModel{
		{ID: "1", User: "u", Label: "decoy1", Embedding: Embedding{Values: []float32{0, 1, 0}}},
		{ID: "2", User: "u", Label: "decoy2", Embedding: Embedding{Values: []float32{0, 0, 1}}},
		{ID: "3", User: "u", Label: "match", Embedding: Embedding{Values: []float32{1, 0, 0}}},
	}

	result := CosineMatcher{}.Compare(probe, gallery, 0.5)
	if !result.Matched {
		t.Fatal("expected a match")
	}
	if result.ModelID != "3" {
		t.Errorf("ModelID = %q, want %q", result.ModelID, "3")
	}
	if result.ModelLabel != "match" {
		t.Errorf("ModelLabel = %q, want %q", result.ModelLabel, "match")
	}
	if d := abs32(result.Similarity - 1.0); d >= 1e-6 {
		t.Errorf("Similarity = %v, want ~1.0", result.Similarity)
	}
}

func TestCosineMatcherNoMatch(t *testing.T) {
	probe := Embedding{Values: []float32{1, 0, 0}}
	gallery := []FaceModel{
		{ID: "1", User: "u", Label: "other", Embedding: Embedding{Values: []float32{0, 1, 0}}},
	}

	result := CosineMatcher{}.Compare(probe, gallery, 0.5)
	if result.Matched {
		t.Fatal("expected no match")
	}
	if abs32(result.Similarity) >= 1e-6 {
		t.Errorf("Similarity = %v, want ~0.0", result.Similarity)
	}
}

func TestCosineMatcherEmptyGallery(t *testing.T) {
	probe := Embedding{Values: []float32{1, 0}}
	result := CosineMatcher{}.Compare(probe, nil, 0.5)
	if result.Matched {
		t.Fatal("expected no match against empty gallery")
	}
	if result.Similarity != 0 {
		t.Errorf("Similarity = %v, want 0", result.Similarity)
	}
}

func TestCosineMatcherThresholdIsStrictlyGreater(t *testing.T) {
	probe := Embedding{Values: []float32{1, 0}}
	gallery := []FaceModel{
		{ID: "1", User: "u", Label: "exact", Embedding: Embedding{Values: []float32{0.6, 0.8}}},
	}

	// similarity(probe, gallery[0]) = 0.6 exactly; a similarity equal to
	// the threshold must NOT count as a match (spec requires >, not >=).
	result := CosineMatcher{}.Compare(probe, gallery, 0.6)
	if result.Matched {
		t.Fatalf("expected no match at threshold boundary (equal similarity), got match with similarity %v", result.Similarity)
	}

	resultAbove := CosineMatcher{}.Compare(probe, gallery, 0.59)
	if !resultAbove.Matched {
		t.Fatalf("expected match when similarity strictly exceeds threshold")
	}
}
