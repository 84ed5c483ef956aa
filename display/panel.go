// Package display defines the draw target the badge renders into and a 1bpp
// framebuffer implementation of it.
package display

import (
	"context"
	"image"
)

// Panel is a monochrome draw target. Pixels set with SetPixel only become
// visible after Update, which may take seconds on e-paper.
type Panel interface {
	Bounds() image.Rectangle
	Clear()
	SetPixel(x, y int, on bool)
	Update(ctx context.Context) error
}

// Default geometry of the badge panel in landscape orientation.
const (
	DefaultWidth  = 296
	DefaultHeight = 128
)
