package generation

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func solidPNG(t *testing.T, w, h int, c color.Color) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestWatermark_ChangesBottomRightOnly(t *testing.T) {
	white := color.RGBA{255, 255, 255, 255}
	raw := solidPNG(t, 640, 480, white)

	out, err := Watermark(raw)
	require.NoError(t, err)
	assert.NotEqual(t, raw, out)

	img, format, err := image.Decode(bytes.NewReader(out))
	require.NoError(t, err)
	assert.Equal(t, "png", format)
	assert.Equal(t, image.Rect(0, 0, 640, 480), img.Bounds())

	assertColor(t, white, img.At(10, 10))
	assert.NotEqual(t, rgba(white), rgba(img.At(630, 470-4)), "badge should cover the bottom-right corner")
}

func TestWatermark_AcceptsJPEG(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 200, 120))
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, src, nil))

	out, err := Watermark(buf.Bytes())
	require.NoError(t, err)
	_, format, err := image.Decode(bytes.NewReader(out))
	require.NoError(t, err)
	assert.Equal(t, "png", format)
}

func TestWatermark_RejectsGarbage(t *testing.T) {
	_, err := Watermark([]byte("not an image"))
	require.Error(t, err)
}

func rgba(c color.Color) [4]uint32 {
	r, g, b, a := c.RGBA()
	return [4]uint32{r, g, b, a}
}

func assertColor(t *testing.T, want, got color.Color) {
	t.Helper()
	assert.Equal(t, rgba(want), rgba(got))
}
