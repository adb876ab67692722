package types

import (
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPackUnpackRGBA(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 2, 2))
	img.Set(0, 0, color.RGBA{R: 0x11, G: 0x22, B: 0x33, A: 0xff})
	img.Set(1, 0, color.RGBA{R: 0xff, A: 0xff})
	img.Set(0, 1, color.RGBA{G: 0xff, A: 0xff})
	img.Set(1, 1, color.RGBA{B: 0xff, A: 0xff})

	pixels := PackRGBA(img)
	assert.Equal(t, []uint32{0x00112233, 0x00ff0000, 0x0000ff00, 0x000000ff}, pixels)

	back := UnpackRGBA(pixels, 2, 2)
	require.NotNil(t, back)
	assert.Equal(t, img.Pix, back.Pix)
}

func TestUnpackRGBARejectsMismatch(t *testing.T) {
	assert.Nil(t, UnpackRGBA([]uint32{1, 2, 3}, 2, 2))
	assert.Nil(t, UnpackRGBA(nil, 0, 0))
}

func TestFillPixels(t *testing.T) {
	px := FillPixels(3, 2, NeutralGray)
	require.Len(t, px, 6)
	for _, p := range px {
		assert.Equal(t, NeutralGray, p)
	}
	assert.Empty(t, FillPixels(0, 5, NeutralGray))
	assert.Equal(t, "keep", Keep.String())
	assert.Equal(t, "drop", Drop.String())
}
