package vision

import "math"

// FaceModel is a persisted enrollment the matcher compares a probe against.
// Mirrors the columns of the `models` table (internal/store), without the
// storage-layer concerns (encryption, row lifecycle).
type FaceModel struct {
	ID        string
	User      string
	Label     string
	Embedding Embedding
}

// MatchResult is the outcome of comparing a probe embedding against a
// gallery.
type MatchResult struct {
	Matched    bool
	Similarity float32
	ModelID    string
	ModelLabel string
}

// Matcher compares a probe embedding against an enrolled gallery.
type Matcher interface {
	Compare(probe Embedding, gallery []FaceModel, threshold float32) MatchResult
}

// CosineMatcher is a constant-time cosine-similarity matcher. It always
// iterates every gallery entry — no early exit on a high-similarity match —
// so that gallery size and match position cannot be inferred from timing.
type CosineMatcher struct{}

// Compare implements Matcher.
func (CosineMatcher) Compare(probe Embedding, gallery []FaceModel, threshold float32) MatchResult {
	bestSim := negInf
	bestIdx := -1

	for i, model := range gallery {
		sim := probe.Similarity(model.Embedding)
		if sim > bestSim {
			bestSim = sim
			bestIdx = i
		}
	}

	if bestIdx >= 0 && bestSim > threshold {
		return MatchResult{
			Matched:    true,
			Similarity: bestSim,
			ModelID:    gallery[bestIdx].ID,
			ModelLabel: gallery[bestIdx].Label,
		}
	}

	sim := bestSim
	if bestIdx < 0 {
		sim = 0
	}
	return MatchResult{Matched: false, Similarity: sim}
}

var negInf = float32(math.Inf(-1))
