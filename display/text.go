package display

import (
	"fmt"
	"image"
	"sync"

	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/gomono"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/font/sfnt"
	"golang.org/x/image/math/fixed"
)

// Size names a text size used by the badge screens.
type Size int

// Text sizes, largest first.
const (
	SizeLarge  Size = iota // 24 pt, system name and large cells
	SizeMedium             // 20 pt
	SizeNormal             // 18 pt
	SizeSmall              // 13 pt
	SizeTiny               // 10 pt
	numSizes
)

var points = [numSizes]float64{24, 20, 18, 13, 10}

// Align is the horizontal anchor of a text baseline point.
type Align int

// Alignments.
const (
	AlignLeft Align = iota
	AlignCenter
	AlignRight
)

var (
	monoOnce sync.Once
	mono     *sfnt.Font
	monoErr  error
)

func parsedMono() (*sfnt.Font, error) {
	monoOnce.Do(func() {
		mono, monoErr = opentype.Parse(gomono.TTF)
	})
	return mono, monoErr
}

// Fonts holds one face per size. Faces are not safe for concurrent use, so
// each renderer owns its own set.
type Fonts struct {
	faces [numSizes]font.Face
}

// NewFonts builds the face set from the embedded Go Mono font.
func NewFonts() (*Fonts, error) {
	f, err := parsedMono()
	if err != nil {
		return nil, fmt.Errorf("parse font: %w", err)
	}
	var fs Fonts
	for i, pt := range points {
		face, err := opentype.NewFace(f, &opentype.FaceOptions{
			Size:    pt,
			DPI:     72,
			Hinting: font.HintingFull,
		})
		if err != nil {
			return nil, fmt.Errorf("face %vpt: %w", pt, err)
		}
		fs.faces[i] = face
	}
	return &fs, nil
}

// Face returns the face for size.
func (fs *Fonts) Face(size Size) font.Face {
	if size < 0 || size >= numSizes {
		size = SizeNormal
	}
	return fs.faces[size]
}

// Text draws s with its baseline at pt, anchored by align.
func (fs *Fonts) Text(p Panel, size Size, pt image.Point, align Align, s string) {
	d := font.Drawer{Dst: Canvas{Panel: p}, Src: image.White, Face: fs.Face(size)}
	x := fixed.I(pt.X)
	switch align {
	case AlignCenter:
		x -= d.MeasureString(s) / 2
	case AlignRight:
		x -= d.MeasureString(s)
	}
	d.Dot = fixed.Point26_6{X: x, Y: fixed.I(pt.Y)}
	d.DrawString(s)
}

// Width returns the advance of s in pixels.
func (fs *Fonts) Width(size Size, s string) int {
	return font.MeasureString(fs.Face(size), s).Ceil()
}

// Height returns the ascent plus descent of size in pixels.
func (fs *Fonts) Height(size Size) int {
	m := fs.Face(size).Metrics()
	return (m.Ascent + m.Descent).Ceil()
}
