// Package uf2 converts a roster blob into UF2 blocks so it can be copied onto
// the badge's mass-storage bootloader drive.
package uf2

import (
	"encoding/binary"
	"fmt"

	"github.com/ardnew/sysbadge/pkg"
)

// Block layout constants.
const (
	MagicStart0 uint32 = 0x0A324655 // "UF2\n"
	MagicStart1 uint32 = 0x9E5D5157
	MagicEnd    uint32 = 0x0AB16F30

	BlockSize   = 512
	PayloadSize = 256
	dataOff     = 32

	// FlagFamilyID marks the family id field as valid.
	FlagFamilyID uint32 = 0x2000
)

// FamilyRP2040 is the UF2 family id of the badge's microcontroller.
const FamilyRP2040 uint32 = 0xe48bff56

// FromBinary splits bin into 256-byte payloads targeting addr onward. A zero
// family leaves the family flag unset. The last payload is zero padded.
func FromBinary(bin []byte, family, addr uint32) []byte {
	nblocks := (len(bin) + PayloadSize - 1) / PayloadSize
	out := make([]byte, nblocks*BlockSize)

	var flags uint32
	if family != 0 {
		flags = FlagFamilyID
	}
	for i := range nblocks {
		blk := out[i*BlockSize : (i+1)*BlockSize]
		binary.LittleEndian.PutUint32(blk[0:], MagicStart0)
		binary.LittleEndian.PutUint32(blk[4:], MagicStart1)
		binary.LittleEndian.PutUint32(blk[8:], flags)
		binary.LittleEndian.PutUint32(blk[12:], addr+uint32(i*PayloadSize))
		binary.LittleEndian.PutUint32(blk[16:], PayloadSize)
		binary.LittleEndian.PutUint32(blk[20:], uint32(i))
		binary.LittleEndian.PutUint32(blk[24:], uint32(nblocks))
		binary.LittleEndian.PutUint32(blk[28:], family)
		copy(blk[dataOff:dataOff+PayloadSize], bin[i*PayloadSize:])
		binary.LittleEndian.PutUint32(blk[BlockSize-4:], MagicEnd)
	}
	return out
}

// Block is one decoded UF2 block.
type Block struct {
	Flags    uint32
	Addr     uint32
	Index    uint32
	Count    uint32
	FamilyID uint32
	Payload  []byte
}

// ParseBlock decodes and checks the magics of one 512-byte block.
func ParseBlock(data []byte, out *Block) error {
	if len(data) < BlockSize {
		return fmt.Errorf("uf2 block of %d bytes: %w", len(data), pkg.ErrTruncated)
	}
	if binary.LittleEndian.Uint32(data[0:]) != MagicStart0 ||
		binary.LittleEndian.Uint32(data[4:]) != MagicStart1 ||
		binary.LittleEndian.Uint32(data[BlockSize-4:]) != MagicEnd {
		return pkg.ErrBadMagic
	}
	out.Flags = binary.LittleEndian.Uint32(data[8:])
	out.Addr = binary.LittleEndian.Uint32(data[12:])
	size := binary.LittleEndian.Uint32(data[16:])
	out.Index = binary.LittleEndian.Uint32(data[20:])
	out.Count = binary.LittleEndian.Uint32(data[24:])
	out.FamilyID = binary.LittleEndian.Uint32(data[28:])
	if size > BlockSize-dataOff-4 {
		return fmt.Errorf("uf2 payload of %d bytes: %w", size, pkg.ErrInvalidParameter)
	}
	out.Payload = data[dataOff : dataOff+size]
	return nil
}
