package vision

import "testing"

func TestLetterboxSquareFrameIsIdentityScale(t *testing.T) {
	lb := newLetterbox(640, 640, 640)
	if d := abs32(lb.scale - 1.0); d >= 1e-6 {
		t.Errorf("scale = %v, want 1.0", lb.scale)
	}
	if lb.padX != 0 || lb.padY != 0 {
		t.Errorf("padX=%v padY=%v, want 0,0", lb.padX, lb.padY)
	}
}

func TestLetterboxWideFramePadsVertically(t *testing.T) {
	lb := newLetterbox(1280, 720, 640)
	if lb.padY <= 0 {
		t.Errorf("padY = %v, want > 0 for a wide source frame", lb.padY)
	}
	if lb.padX != 0 {
		t.Errorf("padX = %v, want 0", lb.padX)
	}
}

func TestLetterboxRoundTrip(t *testing.T) {
	lb := newLetterbox(1280, 720, 640)
	dx, dy := lb.toDst(100, 200)
	sx, sy := lb.fromDst(dx, dy)
	if d := abs32(sx - 100); d >= 1e-3 {
		t.Errorf("round-tripped x = %v, want ~100", sx)
	}
	if d := abs32(sy - 200); d >= 1e-3 {
		t.Errorf("round-tripped y = %v, want ~200", sy)
	}
}

func TestLetterboxCHWOutputShape(t *testing.T) {
	frame := make([]byte, 320*240)
	for i := range frame {
		frame[i] = 100
	}
	chw, _ := letterboxCHW(frame, 320, 240, 640, 127.5, 1.0/128)
	if len(chw) != 3*640*640 {
		t.Fatalf("len(chw) = %d, want %d", len(chw), 3*640*640)
	}
	// All three channels should be identical replicates of the same value.
	plane := 640 * 640
	mid := plane / 2
	if chw[mid] != chw[plane+mid] || chw[mid] != chw[2*plane+mid] {
		t.Errorf("channels diverge: %v %v %v", chw[mid], chw[plane+mid], chw[2*plane+mid])
	}
}

func TestLetterboxCHWPaddingValueNormalized(t *testing.T) {
	frame := make([]byte, 100*900)
	chw, lb := letterboxCHW(frame, 100, 900, 640, 127.5, 1.0/128)
	if lb.padX <= 0 {
		t.Fatalf("expected horizontal padding for a tall narrow frame")
	}
	// A corner pixel lands in the pad region; expect ~0 after normalizing
	// the 127.5 pad value by (127.5 - 127.5) / 128 = 0.
	if d := abs32(chw[0]); d >= 1e-3 {
		t.Errorf("pad-region value = %v, want ~0.0", chw[0])
	}
}

func TestSigmoidBounds(t *testing.T) {
	if s := sigmoid(0); abs32(s-0.5) >= 1e-6 {
		t.Errorf("sigmoid(0) = %v, want 0.5", s)
	}
	if s := sigmoid(10); s <= 0.99 {
		t.Errorf("sigmoid(10) = %v, want close to 1", s)
	}
	if s := sigmoid(-10); s >= 0.01 {
		t.Errorf("sigmoid(-10) = %v, want close to 0", s)
	}
}
