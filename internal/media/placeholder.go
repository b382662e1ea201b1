package media

import (
	"image"
	"image/color"

	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

var labelColor = color.RGBA{0x33, 0x33, 0x33, 0xff}

// placeholder renders a white square with a centered label.
func placeholder(size int, label string) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, size, size))
	draw.Draw(img, img.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)

	face := basicfont.Face7x13
	d := &font.Drawer{Dst: img, Src: image.NewUniform(labelColor), Face: face}
	width := d.MeasureString(label).Round()
	x := (size - width) / 2
	if x < 0 {
		x = 0
	}
	d.Dot = fixed.P(x, size/2+face.Ascent/2)
	d.DrawString(label)
	return img
}
