package vision

import "testing"

func TestIdentityTransform(t *testing.T) {
	pts := referenceLandmarks112
	m := estimateSimilarityTransform(pts, pts)

	if d := abs32(m[0] - 1.0); d >= 1e-4 {
		t.Errorf("a = %v, want ~1.0", m[0])
	}
	if abs32(m[1]) >= 1e-4 {
		t.Errorf("-b = %v, want ~0.0", m[1])
	}
	if abs32(m[2]) >= 1e-3 {
		t.Errorf("tx = %v, want ~0.0", m[2])
	}
	if abs32(m[3]) >= 1e-4 {
		t.Errorf("b = %v, want ~0.0", m[3])
	}
	if d := abs32(m[4] - 1.0); d >= 1e-4 {
		t.Errorf("a2 = %v, want ~1.0", m[4])
	}
	if abs32(m[5]) >= 1e-3 {
		t.Errorf("ty = %v, want ~0.0", m[5])
	}
}

func TestScaledTransform(t *testing.T) {
	src := [5]Point{
		{76.5892, 103.3926},
		{147.0636, 103.0028},
		{112.0504, 143.4732},
		{83.0986, 184.7310},
		{141.4598, 184.4082},
	}
	m := estimateSimilarityTransform(src, referenceLandmarks112)

	if d := abs32(m[0] - 0.5); d >= 0.05 {
		t.Errorf("a = %v, want ~0.5", m[0])
	}
}

func TestWarpOutputSize(t *testing.T) {
	frame := make([]byte, 640*480)
	for i := range frame {
		frame[i] = 128
	}
	m := similarityMatrix{1, 0, 0, 0, 1, 0}
	out := warpAffine(frame, 640, 480, m, 112)
	if len(out) != 112*112 {
		t.Fatalf("len(out) = %d, want %d", len(out), 112*112)
	}
}

func TestAlignFaceOutputSize(t *testing.T) {
	frame := make([]byte, 640*480)
	for i := range frame {
		frame[i] = 128
	}
	aligned := AlignFace(frame, 640, 480, referenceLandmarks112)
	if len(aligned) != 112*112 {
		t.Fatalf("len(aligned) = %d, want %d", len(aligned), 112*112)
	}
}

func TestLandmarkRoundtrip(t *testing.T) {
	w, h := 200, 200
	frame := make([]byte, w*h)

	srcLandmarks := [5]Point{
		{80.0, 60.0},
		{120.0, 60.0},
		{100.0, 85.0},
		{85.0, 110.0},
		{115.0, 110.0},
	}

	lx := int(srcLandmarks[0].X)
	ly := int(srcLandmarks[0].Y)
	for dy := 0; dy < 5; dy++ {
		for dx := 0; dx < 5; dx++ {
			px := lx - 2 + dx
			py := ly - 2 + dy
			if px >= 0 && px < w && py >= 0 && py < h {
				frame[py*w+px] = 255
			}
		}
	}

	aligned := AlignFace(frame, w, h, srcLandmarks)

	refX := int(referenceLandmarks112[0].X + 0.5)
	refY := int(referenceLandmarks112[0].Y + 0.5)

	var maxVal byte
	for dy := -1; dy < 2; dy++ {
		for dx := -1; dx < 2; dx++ {
			x := refX + dx
			y := refY + dy
			if x >= 0 && x < 112 && y >= 0 && y < 112 {
				if v := aligned[y*112+x]; v > maxVal {
					maxVal = v
				}
			}
		}
	}
	if maxVal <= 100 {
		t.Errorf("expected bright patch near reference left eye (%d, %d), max=%d", refX, refY, maxVal)
	}
}
