package display

import (
	"context"
	"image"
	"sync"

	"github.com/ardnew/sysbadge/pkg"
)

// Frame is an immutable copy of a framebuffer taken at flush time.
type Frame struct {
	Width, Height int
	bits          []byte
}

// At reports whether pixel (x, y) is inked.
func (f Frame) At(x, y int) bool {
	if x < 0 || y < 0 || x >= f.Width || y >= f.Height {
		return false
	}
	i := y*f.Width + x
	return f.bits[i>>3]&(0x80>>(i&7)) != 0
}

// Framebuffer is a packed 1bpp Panel held in memory. Update publishes a
// snapshot to the flush hook, standing in for the physical refresh.
type Framebuffer struct {
	width, height int

	mutex   sync.Mutex
	bits    []byte
	flushes int
	onFlush func(Frame)
	err     error
}

// NewFramebuffer returns a cleared framebuffer.
func NewFramebuffer(width, height int) *Framebuffer {
	return &Framebuffer{
		width:  width,
		height: height,
		bits:   make([]byte, (width*height+7)/8),
	}
}

// OnFlush registers a hook called with every flushed frame.
func (fb *Framebuffer) OnFlush(fn func(Frame)) {
	fb.mutex.Lock()
	defer fb.mutex.Unlock()
	fb.onFlush = fn
}

// FailUpdates makes subsequent Update calls return err. Nil restores success.
func (fb *Framebuffer) FailUpdates(err error) {
	fb.mutex.Lock()
	defer fb.mutex.Unlock()
	fb.err = err
}

// Bounds returns the panel rectangle.
func (fb *Framebuffer) Bounds() image.Rectangle {
	return image.Rect(0, 0, fb.width, fb.height)
}

// Clear un-inks every pixel.
func (fb *Framebuffer) Clear() {
	fb.mutex.Lock()
	defer fb.mutex.Unlock()
	clear(fb.bits)
}

// SetPixel inks or clears one pixel. Out-of-bounds pixels are ignored.
func (fb *Framebuffer) SetPixel(x, y int, on bool) {
	if x < 0 || y < 0 || x >= fb.width || y >= fb.height {
		return
	}
	i := y*fb.width + x
	mask := byte(0x80 >> (i & 7))

	fb.mutex.Lock()
	defer fb.mutex.Unlock()
	if on {
		fb.bits[i>>3] |= mask
	} else {
		fb.bits[i>>3] &^= mask
	}
}

// Pixel reports whether (x, y) is inked in the working buffer.
func (fb *Framebuffer) Pixel(x, y int) bool {
	fb.mutex.Lock()
	defer fb.mutex.Unlock()
	return Frame{Width: fb.width, Height: fb.height, bits: fb.bits}.At(x, y)
}

// Update flushes the working buffer.
func (fb *Framebuffer) Update(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	fb.mutex.Lock()
	if fb.err != nil {
		err := fb.err
		fb.mutex.Unlock()
		return err
	}
	fb.flushes++
	frame := fb.snapshot()
	hook := fb.onFlush
	n := fb.flushes
	fb.mutex.Unlock()

	pkg.LogDebug(pkg.ComponentDisplay, "panel flushed", "count", n)
	if hook != nil {
		hook(frame)
	}
	return nil
}

// Snapshot copies the working buffer.
func (fb *Framebuffer) Snapshot() Frame {
	fb.mutex.Lock()
	defer fb.mutex.Unlock()
	return fb.snapshot()
}

func (fb *Framebuffer) snapshot() Frame {
	return Frame{Width: fb.width, Height: fb.height, bits: append([]byte(nil), fb.bits...)}
}

// Flushes returns how many times Update succeeded.
func (fb *Framebuffer) Flushes() int {
	fb.mutex.Lock()
	defer fb.mutex.Unlock()
	return fb.flushes
}

// Inked counts inked pixels in the working buffer.
func (fb *Framebuffer) Inked() int {
	fb.mutex.Lock()
	defer fb.mutex.Unlock()
	n := 0
	for _, b := range fb.bits {
		for ; b != 0; b &= b - 1 {
			n++
		}
	}
	return n
}
