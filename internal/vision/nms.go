package vision

import (
	"math"
	"sort"
)

func expNeg(x float32) float32 {
	return float32(math.Exp(float64(-x)))
}

// iou computes intersection-over-union between two boxes given as
// (x, y, width, height) in the same coordinate space.
func iou(a, b BoundingBox) float32 {
	ax1, ay1, ax2, ay2 := a.X, a.Y, a.X+a.Width, a.Y+a.Height
	bx1, by1, bx2, by2 := b.X, b.Y, b.X+b.Width, b.Y+b.Height

	ix1, iy1 := max32(ax1, bx1), max32(ay1, by1)
	ix2, iy2 := min32(ax2, bx2), min32(ay2, by2)

	iw, ih := ix2-ix1, iy2-iy1
	if iw <= 0 || ih <= 0 {
		return 0
	}
	inter := iw * ih
	union := a.Width*a.Height + b.Width*b.Height - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}

func max32(a, b float32) float32 {
	if a > b {
		return a
	}
	return b
}

func min32(a, b float32) float32 {
	if a < b {
		return a
	}
	return b
}

// nonMaxSuppression greedily keeps the highest-confidence box among any
// cluster of boxes overlapping above iouThreshold, per spec.md §4.3's
// detector decode step.
func nonMaxSuppression(boxes []BoundingBox, iouThreshold float32) []BoundingBox {
	sorted := make([]BoundingBox, len(boxes))
	copy(sorted, boxes)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Confidence > sorted[j].Confidence
	})

	kept := make([]BoundingBox, 0, len(sorted))
	suppressed := make([]bool, len(sorted))

	for i := range sorted {
		if suppressed[i] {
			continue
		}
		kept = append(kept, sorted[i])
		for j := i + 1; j < len(sorted); j++ {
			if suppressed[j] {
				continue
			}
			if iou(sorted[i], sorted[j]) > iouThreshold {
				suppressed[j] = true
			}
		}
	}

	return kept
}
