package types

import (
	"image"
	"image/color"
)

// PackRGBA converts an RGBA image into packed 0x00RRGGBB pixels.
// Alpha is discarded.
func PackRGBA(img *image.RGBA) []uint32 {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	out := make([]uint32, w*h)
	for y := 0; y < h; y++ {
		row := img.Pix[y*img.Stride : y*img.Stride+w*4]
		for x := 0; x < w; x++ {
			p := row[x*4 : x*4+4]
			out[y*w+x] = uint32(p[0])<<16 | uint32(p[1])<<8 | uint32(p[2])
		}
	}
	return out
}

// UnpackRGBA builds an opaque RGBA image from packed pixels.
// Returns nil if the pixel count disagrees with the dimensions.
func UnpackRGBA(pixels []uint32, width, height int) *image.RGBA {
	if width <= 0 || height <= 0 || len(pixels) != width*height {
		return nil
	}
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for i, px := range pixels {
		o := i * 4
		img.Pix[o] = uint8(px >> 16)
		img.Pix[o+1] = uint8(px >> 8)
		img.Pix[o+2] = uint8(px)
		img.Pix[o+3] = 0xff
	}
	return img
}

// PackColor packs a color into the 0x00RRGGBB layout
func PackColor(c color.RGBA) uint32 {
	return uint32(c.R)<<16 | uint32(c.G)<<8 | uint32(c.B)
}

// FillPixels returns a buffer of width*height pixels set to value
func FillPixels(width, height int, value uint32) []uint32 {
	if width <= 0 || height <= 0 {
		return []uint32{}
	}
	out := make([]uint32, width*height)
	for i := range out {
		out[i] = value
	}
	return out
}
