package display

import (
	"image"
	"image/color"
)

// Canvas adapts a Panel to draw.Image so image/draw and font.Drawer can
// render into it. It only ever adds ink: colors at or above mid-gray ink the
// pixel and darker colors leave it untouched, so antialiased glyph edges never
// erase outlines drawn earlier.
type Canvas struct {
	Panel Panel
}

// ColorModel returns the gray model.
func (c Canvas) ColorModel() color.Model { return color.GrayModel }

// Bounds returns the panel bounds.
func (c Canvas) Bounds() image.Rectangle { return c.Panel.Bounds() }

// At reports paper for every pixel; the panel is write-only.
func (c Canvas) At(int, int) color.Color { return color.Black }

// Set inks (x, y) when col is light enough.
func (c Canvas) Set(x, y int, col color.Color) {
	if color.GrayModel.Convert(col).(color.Gray).Y >= 0x80 {
		c.Panel.SetPixel(x, y, true)
	}
}

// StrokeRect draws an outline of the given width inside r.
func StrokeRect(p Panel, r image.Rectangle, width int) {
	r = r.Intersect(p.Bounds())
	for i := 0; i < width && r.Dx() > 0 && r.Dy() > 0; i++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			p.SetPixel(x, r.Min.Y, true)
			p.SetPixel(x, r.Max.Y-1, true)
		}
		for y := r.Min.Y; y < r.Max.Y; y++ {
			p.SetPixel(r.Min.X, y, true)
			p.SetPixel(r.Max.X-1, y, true)
		}
		r = r.Inset(1)
	}
}
