package roster

import (
	"encoding/binary"

	"github.com/ardnew/sysbadge/pkg"
)

// Format constants.
const (
	Magic   uint32 = 0xa2b5
	Version uint16 = 1

	HeaderSize   = 64
	RecordSize   = 16
	RecordAlign  = 4
	checksumOff  = HeaderSize - 2
	nameOff      = 8
	membersOff   = 16
	reservedOff  = 24
	reservedSize = checksumOff - reservedOff
)

// Pointer is an absolute (address, length) pair. For the member pointer the
// length is a record count.
type Pointer struct {
	Addr uint32
	Len  uint32
}

func (p Pointer) putTo(buf []byte) {
	binary.LittleEndian.PutUint32(buf[0:4], p.Addr)
	binary.LittleEndian.PutUint32(buf[4:8], p.Len)
}

func pointerAt(buf []byte) Pointer {
	return Pointer{
		Addr: binary.LittleEndian.Uint32(buf[0:4]),
		Len:  binary.LittleEndian.Uint32(buf[4:8]),
	}
}

// Header is the fixed 64-byte prefix of a roster blob.
type Header struct {
	Magic    uint32
	Version  uint16
	Name     Pointer
	Members  Pointer
	Checksum uint16
}

// NewHeader returns a header for the given pointers with its checksum set.
func NewHeader(name, members Pointer) Header {
	h := Header{Magic: Magic, Version: Version, Name: name, Members: members}
	var buf [HeaderSize]byte
	h.MarshalTo(buf[:])
	h.Checksum = Checksum(buf[:checksumOff])
	return h
}

// MarshalTo writes the header to buf, which must hold HeaderSize bytes.
// Reserved fields are written as zero. Returns the number of bytes written.
func (h *Header) MarshalTo(buf []byte) int {
	if len(buf) < HeaderSize {
		return 0
	}
	binary.LittleEndian.PutUint32(buf[0:4], h.Magic)
	binary.LittleEndian.PutUint16(buf[4:6], h.Version)
	buf[6], buf[7] = 0, 0
	h.Name.putTo(buf[nameOff:])
	h.Members.putTo(buf[membersOff:])
	clear(buf[reservedOff:checksumOff])
	binary.LittleEndian.PutUint16(buf[checksumOff:], h.Checksum)
	return HeaderSize
}

// ParseHeader decodes and validates a header in O(1): magic, version and
// checksum. The checksum is computed over the raw bytes, so reserved fields
// are covered too.
func ParseHeader(data []byte, out *Header) error {
	if len(data) < HeaderSize {
		return pkg.ErrTruncated
	}
	out.Magic = binary.LittleEndian.Uint32(data[0:4])
	out.Version = binary.LittleEndian.Uint16(data[4:6])
	out.Name = pointerAt(data[nameOff:])
	out.Members = pointerAt(data[membersOff:])
	out.Checksum = binary.LittleEndian.Uint16(data[checksumOff:])

	if out.Magic != Magic {
		return pkg.ErrBadMagic
	}
	if out.Version != Version {
		return pkg.ErrBadVersion
	}
	if Checksum(data[:checksumOff]) != out.Checksum {
		return pkg.ErrChecksum
	}
	return nil
}

// Valid reports whether a header-sized prefix of data is a valid header.
func Valid(data []byte) bool {
	var h Header
	return ParseHeader(data, &h) == nil
}

func alignUp(n, align uint64) uint64 {
	return (n + align - 1) &^ (align - 1)
}
