package vision

import "testing"

func TestIoUIdenticalBoxes(t *testing.T) {
	b := BoundingBox{X: 10, Y: 10, Width: 20, Height: 20}
	if d := abs32(iou(b, b) - 1.0); d >= 1e-6 {
		t.Errorf("iou(b, b) = %v, want 1.0", iou(b, b))
	}
}

func TestIoUDisjointBoxes(t *testing.T) {
	a := BoundingBox{X: 0, Y: 0, Width: 10, Height: 10}
	b := BoundingBox{X: 100, Y: 100, Width: 10, Height: 10}
	if v := iou(a, b); v != 0 {
		t.Errorf("iou(disjoint) = %v, want 0", v)
	}
}

func TestNonMaxSuppressionDropsOverlap(t *testing.T) {
	boxes := []BoundingBox{
		{X: 0, Y: 0, Width: 20, Height: 20, Confidence: 0.9},
		{X: 2, Y: 2, Width: 20, Height: 20, Confidence: 0.6},
		{X: 100, Y: 100, Width: 20, Height: 20, Confidence: 0.7},
	}
	kept := nonMaxSuppression(boxes, 0.4)
	if len(kept) != 2 {
		t.Fatalf("len(kept) = %d, want 2", len(kept))
	}
	if kept[0].Confidence != 0.9 {
		t.Errorf("kept[0].Confidence = %v, want 0.9 (highest confidence survives)", kept[0].Confidence)
	}
}

func TestNonMaxSuppressionKeepsDistinctFaces(t *testing.T) {
	boxes := []BoundingBox{
		{X: 0, Y: 0, Width: 20, Height: 20, Confidence: 0.9},
		{X: 200, Y: 200, Width: 20, Height: 20, Confidence: 0.8},
	}
	kept := nonMaxSuppression(boxes, 0.4)
	if len(kept) != 2 {
		t.Fatalf("len(kept) = %d, want 2", len(kept))
	}
}

func TestDecodeStrideLevelExcludesExactThreshold(t *testing.T) {
	grid, stride := 1, 8
	n := grid * grid * detectorAnchorsPerLoc
	scores := make([]float32, n)
	bboxes := make([]float32, n*4)
	kps := make([]float32, n*10)

	// A logit of 0 sigmoids to exactly 0.5, the detection threshold; spec
	// requires strictly-greater, so this anchor must be excluded.
	scores[0] = 0

	lb := newLetterbox(640, 640, 640)
	boxes := decodeStrideLevel(scores, bboxes, kps, grid, stride, lb)
	if len(boxes) != 0 {
		t.Fatalf("len(boxes) = %d, want 0 (score exactly at threshold must be excluded)", len(boxes))
	}
}

func TestDecodeStrideLevelThresholdsOnScore(t *testing.T) {
	grid, stride := 2, 8
	n := grid * grid * detectorAnchorsPerLoc
	scores := make([]float32, n)
	bboxes := make([]float32, n*4)
	kps := make([]float32, n*10)

	// Anchor 0 at (0,0) scores above threshold after sigmoid; all others
	// are strongly negative logits and should be dropped.
	for i := range scores {
		scores[i] = -10
	}
	scores[0] = 10

	lb := newLetterbox(640, 640, 640)
	boxes := decodeStrideLevel(scores, bboxes, kps, grid, stride, lb)
	if len(boxes) != 1 {
		t.Fatalf("len(boxes) = %d, want 1", len(boxes))
	}
	if boxes[0].Confidence <= detectorScoreThresh {
		t.Errorf("Confidence = %v, want > %v", boxes[0].Confidence, detectorScoreThresh)
	}
}
