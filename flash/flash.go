// Package flash models the NOR flash holding the roster and the background
// task that erases and programs it during a USB update.
package flash

import (
	"context"
	"fmt"
)

// Flash is the flash capability. Offsets are relative to the start of the
// device. Erase and Write may take milliseconds to seconds.
type Flash interface {
	Erase(ctx context.Context, offset, length uint32) error
	Write(ctx context.Context, offset uint32, data []byte) error
	Read(ctx context.Context, offset uint32, buf []byte) error
	UniqueID(ctx context.Context) (uint64, error)
	JEDECID(ctx context.Context) (uint32, error)
}

// Mapper is implemented by flash that is visible in the address space
// (execute-in-place). Mapped returns the live bytes, not a copy.
type Mapper interface {
	Mapped(offset, length uint32) ([]byte, error)
}

// Region is the window of flash reserved for the roster blob.
type Region struct {
	Base   uint32 // address the first byte is mapped at
	Offset uint32 // offset of the first byte within the device
	Size   uint32
}

// Contains reports whether [off, off+n) lies inside the region. Offsets are
// relative to the region start.
func (r Region) Contains(off, n uint32) bool {
	return uint64(off)+uint64(n) <= uint64(r.Size)
}

// String formats the region for logs.
func (r Region) String() string {
	return fmt.Sprintf("0x%08x+0x%x", r.Base, r.Size)
}
