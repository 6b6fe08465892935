package generation

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	_ "image/jpeg"
	"image/png"

	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
	_ "golang.org/x/image/webp"
)

const watermarkText = "Spacemint AI"

var (
	badgeBackground = color.NRGBA{R: 17, G: 24, B: 39, A: 170}
	badgeForeground = color.NRGBA{R: 255, G: 255, B: 255, A: 235}
)

// Watermark composites the fixed badge in the bottom-right corner and re-encodes as PNG.
// The badge scales with the image width so it stays legible on large renders.
func Watermark(data []byte) ([]byte, error) {
	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode generated image: %w", err)
	}

	bounds := src.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
	draw.Draw(dst, dst.Bounds(), src, bounds.Min, draw.Src)

	badge := renderBadge()
	scale := max(1, bounds.Dx()/400)
	bw, bh := badge.Bounds().Dx()*scale, badge.Bounds().Dy()*scale
	margin := 8 * scale

	// Tiny images get the badge clipped rather than skipped.
	x1, y1 := dst.Bounds().Max.X-margin, dst.Bounds().Max.Y-margin
	target := image.Rect(x1-bw, y1-bh, x1, y1)
	draw.NearestNeighbor.Scale(dst, target, badge, badge.Bounds(), draw.Over, nil)

	var buf bytes.Buffer
	if err := png.Encode(&buf, dst); err != nil {
		return nil, fmt.Errorf("failed to encode watermarked image: %w", err)
	}
	return buf.Bytes(), nil
}

func renderBadge() *image.NRGBA {
	face := basicfont.Face7x13
	const padX, padY = 6, 4
	textWidth := font.MeasureString(face, watermarkText).Ceil()
	metrics := face.Metrics()
	textHeight := (metrics.Ascent + metrics.Descent).Ceil()

	badge := image.NewNRGBA(image.Rect(0, 0, textWidth+2*padX, textHeight+2*padY))
	draw.Draw(badge, badge.Bounds(), image.NewUniform(badgeBackground), image.Point{}, draw.Src)

	d := &font.Drawer{
		Dst:  badge,
		Src:  image.NewUniform(badgeForeground),
		Face: face,
		Dot:  fixed.P(padX, padY+metrics.Ascent.Ceil()),
	}
	d.DrawString(watermarkText)
	return badge
}
