package frame

import "testing"

func TestFourCCEncodesLittleEndian(t *testing.T) {
	// "GREY" as a FourCC is the bytes 'G','R','E','Y' packed little-endian.
	v := fourCC("GREY")
	want := uint32('G') | uint32('R')<<8 | uint32('E')<<16 | uint32('Y')<<24
	if v != want {
		t.Errorf("fourCC(GREY) = 0x%x, want 0x%x", v, want)
	}
}

func TestFourCCPadsShortStrings(t *testing.T) {
	v := fourCC("Y16")
	want := fourCC("Y16 ")
	if v != want {
		t.Errorf("fourCC(Y16) = 0x%x, want 0x%x (space-padded)", v, want)
	}
}

func TestCandidateFourCCsTryYUYVFirst(t *testing.T) {
	if candidateFourCCs[0].format != FormatYUYV {
		t.Errorf("expected YUYV to be the first negotiation candidate")
	}
}

func TestCStringStopsAtNUL(t *testing.T) {
	b := []byte{'u', 'v', 'c', 0, 'x', 'x'}
	if got := cString(b); got != "uvc" {
		t.Errorf("cString = %q, want %q", got, "uvc")
	}
}
