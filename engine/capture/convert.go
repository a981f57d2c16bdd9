package capture

import (
	"errors"
	"fmt"
	"image"

	"github.com/Carmen-Shannon/automation/device/display"
	"golang.org/x/image/draw"
)

// ErrUnsupportedBitmap is returned for bitmaps that are neither 24 nor 32 bits per pixel.
var ErrUnsupportedBitmap = errors.New("capture: unsupported bitmap format")

// bmpToBGRA converts padded 24 or 32 bpp bitmap rows into tightly packed, top-down BGRA.
// Bitmaps with a positive header height are stored bottom-up and are flipped.
func bmpToBGRA(b *display.BMP) ([]byte, uint32, uint32, error) {
	if b.Width <= 0 || b.Height <= 0 {
		return nil, 0, 0, fmt.Errorf("%w: %dx%d", ErrUnsupportedBitmap, b.Width, b.Height)
	}

	bpp := int(b.InfoHeader.BiBitCount) / 8
	if bpp != 3 && bpp != 4 {
		return nil, 0, 0, fmt.Errorf("%w: %d bits per pixel", ErrUnsupportedBitmap, b.InfoHeader.BiBitCount)
	}

	stride := (b.Width*bpp + 3) &^ 3
	if len(b.Data) < stride*b.Height {
		return nil, 0, 0, fmt.Errorf("%w: %d bytes for %dx%d", ErrUnsupportedBitmap, len(b.Data), b.Width, b.Height)
	}

	bottomUp := b.InfoHeader.BiHeight > 0
	out := make([]byte, b.Width*b.Height*4)
	for y := range b.Height {
		srcY := y
		if bottomUp {
			srcY = b.Height - 1 - y
		}
		src := b.Data[srcY*stride:]
		dst := out[y*b.Width*4:]
		for x := range b.Width {
			s := src[x*bpp:]
			d := dst[x*4:]
			d[0], d[1], d[2] = s[0], s[1], s[2]
			// Screen grabs leave the 32 bpp alpha byte unset.
			d[3] = 0xff
		}
	}
	return out, uint32(b.Width), uint32(b.Height), nil
}

// scaleBGRA resamples a tightly packed BGRA image. The channel order passes through unchanged.
func scaleBGRA(pixels []byte, w, h, dstW, dstH uint32) []byte {
	if w == dstW && h == dstH {
		return pixels
	}
	src := &image.RGBA{Pix: pixels, Stride: int(w) * 4, Rect: image.Rect(0, 0, int(w), int(h))}
	dst := image.NewRGBA(image.Rect(0, 0, int(dstW), int(dstH)))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Src, nil)
	return dst.Pix
}
