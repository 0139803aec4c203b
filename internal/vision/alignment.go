package vision

// referenceLandmarks112 is the ArcFace convention: five canonical points
// for a 112x112 aligned output (left eye, right eye, nose, left mouth
// corner, right mouth corner).
var referenceLandmarks112 = [5]Point{
	{38.2946, 51.6963},
	{73.5318, 51.5014},
	{56.0252, 71.7366},
	{41.5493, 92.3655},
	{70.7299, 92.2041},
}

const alignedSize = 112

// similarityMatrix is the 2x3 affine matrix:
//
//	| a  -b  tx |
//	| b   a  ty |
//
// stored as [a, negB, tx, b, a2, ty].
type similarityMatrix [6]float32

// estimateSimilarityTransform solves the 4-DOF (scale, rotation,
// translation) least-squares transform mapping src onto dst, via the
// normal equations A^T A x = A^T b solved by Gaussian elimination with
// partial pivoting.
func estimateSimilarityTransform(src, dst [5]Point) similarityMatrix {
	var ata [16]float32
	var atb [4]float32

	for i := 0; i < 5; i++ {
		sx, sy := src[i].X, src[i].Y
		dx, dy := dst[i].X, dst[i].Y

		r1 := [4]float32{sx, -sy, 1, 0}
		r2 := [4]float32{sy, sx, 0, 1}

		for j := 0; j < 4; j++ {
			for k := 0; k < 4; k++ {
				ata[j*4+k] += r1[j]*r1[k] + r2[j]*r2[k]
			}
			atb[j] += r1[j]*dx + r2[j]*dy
		}
	}

	x := solve4x4(ata, atb)
	a, b, tx, ty := x[0], x[1], x[2], x[3]

	return similarityMatrix{a, -b, tx, b, a, ty}
}

// solve4x4 solves a 4x4 linear system via Gaussian elimination with partial
// pivoting. Falls back to [1, 0, 0, 0] (near-identity scale, zero
// rotation/translation) if the pivot degenerates below 1e-12.
func solve4x4(ata [16]float32, atb [4]float32) [4]float32 {
	var m [4][5]float32
	for i := 0; i < 4; i++ {
		for j := 0; j < 4; j++ {
			m[i][j] = ata[i*4+j]
		}
		m[i][4] = atb[i]
	}

	for col := 0; col < 4; col++ {
		maxRow := col
		maxVal := abs32(m[col][col])
		for row := col + 1; row < 4; row++ {
			if v := abs32(m[row][col]); v > maxVal {
				maxVal = v
				maxRow = row
			}
		}
		m[col], m[maxRow] = m[maxRow], m[col]

		pivot := m[col][col]
		if abs32(pivot) < 1e-12 {
			return [4]float32{1, 0, 0, 0}
		}

		for row := col + 1; row < 4; row++ {
			factor := m[row][col] / pivot
			for j := col; j < 5; j++ {
				m[row][j] -= factor * m[col][j]
			}
		}
	}

	var x [4]float32
	for i := 3; i >= 0; i-- {
		x[i] = m[i][4]
		for j := i + 1; j < 4; j++ {
			x[i] -= m[i][j] * x[j]
		}
		x[i] /= m[i][i]
	}

	return x
}

func abs32(x float32) float32 {
	if x < 0 {
		return -x
	}
	return x
}

// warpAffine inverts the matrix's rotation/scale block and bilinearly
// samples frame at each output pixel, producing an outSize x outSize
// grayscale crop. Out-of-bounds source samples contribute 0 (black).
func warpAffine(frame []byte, srcWidth, srcHeight int, matrix similarityMatrix, outSize int) []byte {
	a, _, tx := matrix[0], matrix[1], matrix[2]
	b, _, ty := matrix[3], matrix[4], matrix[5]

	det := a*a + b*b
	output := make([]byte, outSize*outSize)
	if abs32(det) < 1e-12 {
		return output
	}
	invDet := 1 / det
	ia := a * invDet
	ib := b * invDet

	sample := func(x, y int) float32 {
		if x >= 0 && x < srcWidth && y >= 0 && y < srcHeight {
			return float32(frame[y*srcWidth+x])
		}
		return 0
	}

	for oy := 0; oy < outSize; oy++ {
		for ox := 0; ox < outSize; ox++ {
			dx := float32(ox) - tx
			dy := float32(oy) - ty
			sx := ia*dx + ib*dy
			sy := -ib*dx + ia*dy

			x0 := floor32(sx)
			y0 := floor32(sy)
			x1 := x0 + 1
			y1 := y0 + 1
			fx := sx - float32(x0)
			fy := sy - float32(y0)

			val := sample(x0, y0)*(1-fx)*(1-fy) +
				sample(x1, y0)*fx*(1-fy) +
				sample(x0, y1)*(1-fx)*fy +
				sample(x1, y1)*fx*fy

			output[oy*outSize+ox] = clampByte(val)
		}
	}

	return output
}

func floor32(x float32) int {
	i := int(x)
	if x < 0 && float32(i) != x {
		i--
	}
	return i
}

func clampByte(v float32) byte {
	r := v + 0.5 // round-half-up to mirror Rust's f32::round
	if r < 0 {
		return 0
	}
	if r > 255 {
		return 255
	}
	return byte(r)
}

// AlignFace warps a grayscale frame's detected face region to a canonical
// 112x112 crop suitable for the recognizer, using the five landmarks
// produced by the detector.
func AlignFace(frame []byte, width, height int, landmarks [5]Point) []byte {
	matrix := estimateSimilarityTransform(landmarks, referenceLandmarks112)
	return warpAffine(frame, width, height, matrix, alignedSize)
}
