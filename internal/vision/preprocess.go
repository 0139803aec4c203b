package vision

// letterbox describes the resize applied to fit a source frame into a
// square model input without distorting aspect ratio: uniform scale plus
// symmetric padding on whichever axis has slack.
type letterbox struct {
	scale   float32
	padX    float32
	padY    float32
	srcW    int
	srcH    int
	dstSize int
}

func newLetterbox(srcW, srcH, dstSize int) letterbox {
	scale := float32(dstSize) / float32(srcW)
	if s := float32(dstSize) / float32(srcH); s < scale {
		scale = s
	}
	scaledW := float32(srcW) * scale
	scaledH := float32(srcH) * scale
	return letterbox{
		scale:   scale,
		padX:    (float32(dstSize) - scaledW) / 2,
		padY:    (float32(dstSize) - scaledH) / 2,
		srcW:    srcW,
		srcH:    srcH,
		dstSize: dstSize,
	}
}

// sampleSrc maps a destination pixel coordinate back into source pixel
// space using half-pixel-aligned scaling, matching spec.md §4.3's
// `src = (dst + 0.5) * inv_scale - 0.5` preprocessing rule.
func (lb letterbox) sampleSrc(dx, dy float32) (float32, float32) {
	invScale := 1 / lb.scale
	sx := (dx-lb.padX+0.5)*invScale - 0.5
	sy := (dy-lb.padY+0.5)*invScale - 0.5
	return sx, sy
}

// toDst maps a source-frame coordinate into letterboxed destination space.
// It is the exact inverse of fromDst, which is what projects decoded
// detections back into the source frame.
func (lb letterbox) toDst(sx, sy float32) (float32, float32) {
	return sx*lb.scale + lb.padX, sy*lb.scale + lb.padY
}

func (lb letterbox) fromDst(dx, dy float32) (float32, float32) {
	return (dx - lb.padX) / lb.scale, (dy - lb.padY) / lb.scale
}

const letterboxPad = 127.5

// letterboxCHW resizes a grayscale frame into a dstSize x dstSize, 3-channel,
// batch-channel-height-width float32 buffer via bilinear sampling, padding
// out-of-bounds source reads with letterboxPad and replicating the single
// channel across all three, per spec.md §4.3.
func letterboxCHW(frame []byte, srcW, srcH, dstSize int, mean, invStd float32) ([]float32, letterbox) {
	lb := newLetterbox(srcW, srcH, dstSize)
	plane := dstSize * dstSize
	out := make([]float32, 3*plane)

	sample := func(x, y int) float32 {
		if x < 0 || x >= srcW || y < 0 || y >= srcH {
			return letterboxPad
		}
		return float32(frame[y*srcW+x])
	}

	for dy := 0; dy < dstSize; dy++ {
		for dx := 0; dx < dstSize; dx++ {
			sx, sy := lb.sampleSrc(float32(dx), float32(dy))
			x0 := floor32(sx)
			y0 := floor32(sy)
			fx := sx - float32(x0)
			fy := sy - float32(y0)

			v := sample(x0, y0)*(1-fx)*(1-fy) +
				sample(x0+1, y0)*fx*(1-fy) +
				sample(x0, y0+1)*(1-fx)*fy +
				sample(x0+1, y0+1)*fx*fy

			norm := (v - mean) * invStd
			idx := dy*dstSize + dx
			out[0*plane+idx] = norm
			out[1*plane+idx] = norm
			out[2*plane+idx] = norm
		}
	}

	return out, lb
}

func sigmoid(x float32) float32 {
	return 1 / (1 + expNeg(x))
}
