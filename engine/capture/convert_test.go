package capture

import (
	"bytes"
	"errors"
	"testing"

	"github.com/Carmen-Shannon/automation/device/display"
)

func bitmap(w, h int, bits uint16, bottomUp bool, data []byte) *display.BMP {
	b := &display.BMP{Width: w, Height: h, Data: data}
	b.InfoHeader.BiBitCount = bits
	b.InfoHeader.BiHeight = int32(h)
	if !bottomUp {
		b.InfoHeader.BiHeight = -int32(h)
	}
	return b
}

func TestBmpToBGRAFlipsPaddedRows(t *testing.T) {
	// 2x2 at 24 bpp: 6 bytes of pixels padded to an 8 byte stride, bottom row first.
	data := []byte{
		1, 2, 3, 4, 5, 6, 0, 0,
		7, 8, 9, 10, 11, 12, 0, 0,
	}
	out, w, h, err := bmpToBGRA(bitmap(2, 2, 24, true, data))
	if err != nil {
		t.Fatalf("bmpToBGRA: %v", err)
	}
	if w != 2 || h != 2 {
		t.Fatalf("size %dx%d", w, h)
	}
	want := []byte{
		7, 8, 9, 0xff, 10, 11, 12, 0xff,
		1, 2, 3, 0xff, 4, 5, 6, 0xff,
	}
	if !bytes.Equal(out, want) {
		t.Fatalf("got %v, want %v", out, want)
	}
}

func TestBmpToBGRATopDown32(t *testing.T) {
	data := []byte{
		1, 2, 3, 0, 4, 5, 6, 0,
	}
	out, _, _, err := bmpToBGRA(bitmap(2, 1, 32, false, data))
	if err != nil {
		t.Fatalf("bmpToBGRA: %v", err)
	}
	want := []byte{1, 2, 3, 0xff, 4, 5, 6, 0xff}
	if !bytes.Equal(out, want) {
		t.Fatalf("got %v, want %v", out, want)
	}
}

func TestBmpToBGRARejectsBadInput(t *testing.T) {
	cases := map[string]*display.BMP{
		"16 bpp":     bitmap(2, 2, 16, true, make([]byte, 8)),
		"short data": bitmap(4, 4, 32, true, make([]byte, 10)),
		"empty":      bitmap(0, 0, 32, true, nil),
	}
	for name, b := range cases {
		if _, _, _, err := bmpToBGRA(b); !errors.Is(err, ErrUnsupportedBitmap) {
			t.Errorf("%s: err = %v, want ErrUnsupportedBitmap", name, err)
		}
	}
}

func TestScaleBGRA(t *testing.T) {
	src := bytes.Repeat([]byte{10, 20, 30, 255}, 4*4)

	same := scaleBGRA(src, 4, 4, 4, 4)
	if &same[0] != &src[0] {
		t.Fatal("equal sizes should not copy")
	}

	out := scaleBGRA(src, 4, 4, 8, 2)
	if len(out) != 8*2*4 {
		t.Fatalf("len = %d, want %d", len(out), 8*2*4)
	}
	// A uniform image stays uniform.
	for i := 0; i < len(out); i += 4 {
		if out[i] != 10 || out[i+1] != 20 || out[i+2] != 30 {
			t.Fatalf("pixel %d = %v", i/4, out[i:i+4])
		}
	}
}
