package flash

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ardnew/sysbadge/pkg"
)

// Geometry describes a NOR flash part.
type Geometry struct {
	Size       uint32
	SectorSize uint32 // erase granularity, a power of two
	PageSize   uint32 // program granularity, a power of two
}

// DefaultGeometry is a 64 KiB roster window of a W25Q16-style part.
var DefaultGeometry = Geometry{Size: 64 << 10, SectorSize: 4 << 10, PageSize: 256}

// DefaultJEDECID is the id reported by the simulated part (Winbond W25Q16JV).
const DefaultJEDECID uint32 = 0x001540ef

// Memory is a simulated NOR flash. Erase sets whole sectors to 0xFF and
// programming can only clear bits, as on the real part.
type Memory struct {
	geo   Geometry
	jedec uint32
	id    uuid.UUID
	delay time.Duration

	mutex    sync.RWMutex
	data     []byte
	eraseErr error
	writeErr error
}

// MemoryOption configures a Memory.
type MemoryOption func(*Memory)

// WithJEDECID sets the reported JEDEC id.
func WithJEDECID(id uint32) MemoryOption {
	return func(m *Memory) { m.jedec = id }
}

// WithUniqueID sets the factory unique id source.
func WithUniqueID(id uuid.UUID) MemoryOption {
	return func(m *Memory) { m.id = id }
}

// WithLatency delays every erase and program operation.
func WithLatency(d time.Duration) MemoryOption {
	return func(m *Memory) { m.delay = d }
}

// NewMemory returns an erased flash of the given geometry. Without
// WithUniqueID a random id is assigned.
func NewMemory(geo Geometry, opts ...MemoryOption) *Memory {
	m := &Memory{geo: geo, jedec: DefaultJEDECID, id: uuid.New(), data: make([]byte, geo.Size)}
	for _, opt := range opts {
		opt(m)
	}
	for i := range m.data {
		m.data[i] = 0xff
	}
	return m
}

// Geometry returns the part geometry.
func (m *Memory) Geometry() Geometry { return m.geo }

// FailErase makes subsequent erases return err. Nil clears the fault.
func (m *Memory) FailErase(err error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.eraseErr = err
}

// FailWrite makes subsequent writes return err. Nil clears the fault.
func (m *Memory) FailWrite(err error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.writeErr = err
}

func (m *Memory) check(offset, length uint32) error {
	if uint64(offset)+uint64(length) > uint64(len(m.data)) {
		return fmt.Errorf("0x%x+%d: %w", offset, length, pkg.ErrFlashBounds)
	}
	return nil
}

func (m *Memory) wait(ctx context.Context) error {
	if m.delay <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(m.delay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Erase resets whole sectors to 0xFF.
func (m *Memory) Erase(ctx context.Context, offset, length uint32) error {
	if offset%m.geo.SectorSize != 0 || length%m.geo.SectorSize != 0 {
		return fmt.Errorf("erase 0x%x+%d: %w", offset, length, pkg.ErrFlashAlignment)
	}
	if err := m.check(offset, length); err != nil {
		return err
	}
	if err := m.wait(ctx); err != nil {
		return err
	}

	m.mutex.Lock()
	defer m.mutex.Unlock()
	if m.eraseErr != nil {
		return fmt.Errorf("%w: %w", pkg.ErrFlash, m.eraseErr)
	}
	for i := offset; i < offset+length; i++ {
		m.data[i] = 0xff
	}
	return nil
}

// Write programs data at offset. Programmed bits can only go from 1 to 0;
// writing over unerased flash ANDs the old and new contents.
func (m *Memory) Write(ctx context.Context, offset uint32, data []byte) error {
	if err := m.check(offset, uint32(len(data))); err != nil {
		return err
	}
	if err := m.wait(ctx); err != nil {
		return err
	}

	m.mutex.Lock()
	defer m.mutex.Unlock()
	if m.writeErr != nil {
		return fmt.Errorf("%w: %w", pkg.ErrFlash, m.writeErr)
	}
	for i, b := range data {
		m.data[offset+uint32(i)] &= b
	}
	return nil
}

// Read copies flash contents into buf.
func (m *Memory) Read(_ context.Context, offset uint32, buf []byte) error {
	if err := m.check(offset, uint32(len(buf))); err != nil {
		return err
	}
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	copy(buf, m.data[offset:])
	return nil
}

// Mapped returns the live bytes of a range, like an XIP window. Callers must
// not read a range while it is being erased or programmed.
func (m *Memory) Mapped(offset, length uint32) ([]byte, error) {
	if err := m.check(offset, length); err != nil {
		return nil, err
	}
	return m.data[offset : offset+length : offset+length], nil
}

// UniqueID returns the 64-bit factory id derived from the part's UUID.
func (m *Memory) UniqueID(context.Context) (uint64, error) {
	return binary.BigEndian.Uint64(m.id[0:8]) ^ binary.BigEndian.Uint64(m.id[8:16]), nil
}

// JEDECID returns the manufacturer and device id.
func (m *Memory) JEDECID(context.Context) (uint32, error) {
	return m.jedec, nil
}
