package flash

import (
	"context"
	"fmt"

	"github.com/ardnew/sysbadge/pkg"
)

// Guard serializes access to a flash part. The update task holds it for the
// length of an erase or program; protocol handlers take it briefly to read
// identification registers.
type Guard struct {
	sem   chan struct{}
	flash Flash
}

// NewGuard wraps f.
func NewGuard(f Flash) *Guard {
	return &Guard{sem: make(chan struct{}, 1), flash: f}
}

// Do runs fn with exclusive access, waiting until ctx is done.
func (g *Guard) Do(ctx context.Context, fn func(Flash) error) error {
	select {
	case g.sem <- struct{}{}:
	case <-ctx.Done():
		return fmt.Errorf("flash lock: %w", pkg.ErrBusy)
	}
	defer func() { <-g.sem }()
	return fn(g.flash)
}

// JEDECID reads the JEDEC id under the lock.
func (g *Guard) JEDECID(ctx context.Context) (id uint32, err error) {
	err = g.Do(ctx, func(f Flash) error {
		id, err = f.JEDECID(ctx)
		return err
	})
	return id, err
}

// UniqueID reads the factory unique id under the lock.
func (g *Guard) UniqueID(ctx context.Context) (id uint64, err error) {
	err = g.Do(ctx, func(f Flash) error {
		id, err = f.UniqueID(ctx)
		return err
	})
	return id, err
}

// Map returns the live mapped bytes of region. It does not take the lock: the
// mapping stays valid, only its contents change under a write.
func (g *Guard) Map(region Region) ([]byte, error) {
	m, ok := g.flash.(Mapper)
	if !ok {
		return nil, fmt.Errorf("flash is not memory mapped: %w", pkg.ErrInvalidState)
	}
	return m.Mapped(region.Offset, region.Size)
}
