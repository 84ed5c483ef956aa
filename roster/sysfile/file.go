// Package sysfile reads and writes the SYBD interchange file: a roster blob
// wrapped with a name, optional metadata and a trailing hash. The badge never
// sees this wrapper; hosts strip it before upload.
//
// Metadata is CBOR when written here. Files from the desktop tools carry a
// JSON block under FlagJSON and a SHA-256 trailer over the blob and JSON
// only; both are read.
package sysfile

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"hash"
	"io"
	"unicode/utf8"

	"github.com/zeebo/blake3"

	"github.com/ardnew/sysbadge/pkg"
	"github.com/ardnew/sysbadge/roster"
)

// File layout constants.
const (
	Version    uint32 = 1
	HeaderSize        = 212
	NameSize          = 192
	HashSize          = 32
)

// Magic starts every file.
var Magic = [4]byte{'S', 'Y', 'B', 'D'}

// Flags describes the optional parts of a file.
type Flags uint32

// Flag bits.
const (
	FlagSHA256     Flags = 1 << 0
	FlagBLAKE3     Flags = 1 << 1
	FlagCompressed Flags = 1 << 2 // zstd, CBOR metadata only
	FlagJSON       Flags = 1 << 3
	FlagCBOR       Flags = 1 << 4

	flagsMetadata = FlagJSON | FlagCBOR
)

// Hash selects the trailer algorithm.
type Hash int

// Trailer algorithms.
const (
	HashNone Hash = iota
	HashSHA256
	HashBLAKE3
)

func (h Hash) flag() Flags {
	switch h {
	case HashSHA256:
		return FlagSHA256
	case HashBLAKE3:
		return FlagBLAKE3
	default:
		return 0
	}
}

func (f Flags) hasher() hash.Hash {
	switch {
	case f&FlagBLAKE3 != 0:
		return blake3.New()
	case f&FlagSHA256 != 0:
		return sha256.New()
	default:
		return nil
	}
}

// Header is the fixed file prefix.
type Header struct {
	Version    uint32
	Flags      Flags
	BinLength  uint32
	MetaLength uint32
	Name       string
}

// MarshalTo writes the header into buf, which must hold HeaderSize bytes.
// Names longer than NameSize are cut on a rune boundary.
func (h *Header) MarshalTo(buf []byte) int {
	if len(buf) < HeaderSize {
		return 0
	}
	copy(buf[0:4], Magic[:])
	binary.LittleEndian.PutUint32(buf[4:8], h.Version)
	binary.LittleEndian.PutUint32(buf[8:12], uint32(h.Flags))
	binary.LittleEndian.PutUint32(buf[12:16], h.BinLength)
	binary.LittleEndian.PutUint32(buf[16:20], h.MetaLength)
	name := buf[20:HeaderSize]
	clear(name)
	copy(name, truncate(h.Name, NameSize))
	return HeaderSize
}

// ParseHeader decodes the file prefix.
func ParseHeader(data []byte, out *Header) error {
	if len(data) < HeaderSize || !bytes.Equal(data[0:4], Magic[:]) {
		return pkg.ErrFileMagic
	}
	out.Version = binary.LittleEndian.Uint32(data[4:8])
	out.Flags = Flags(binary.LittleEndian.Uint32(data[8:12]))
	out.BinLength = binary.LittleEndian.Uint32(data[12:16])
	out.MetaLength = binary.LittleEndian.Uint32(data[16:20])
	name := data[20:HeaderSize]
	if i := bytes.IndexByte(name, 0); i >= 0 {
		name = name[:i]
	}
	out.Name = string(name)
	if out.Version != Version {
		return fmt.Errorf("file version %d: %w", out.Version, pkg.ErrBadVersion)
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

type options struct {
	hash     Hash
	metadata bool
	compress bool
}

// Option configures Write.
type Option func(*options)

// WithHash selects the trailer hash. The default is BLAKE3.
func WithHash(h Hash) Option {
	return func(o *options) { o.hash = h }
}

// WithMetadata toggles the CBOR metadata block. Enabled by default.
func WithMetadata(enabled bool) Option {
	return func(o *options) { o.metadata = enabled }
}

// WithCompression zstd-compresses the metadata block.
func WithCompression(enabled bool) Option {
	return func(o *options) { o.compress = enabled }
}

// Write encodes sys for load and writes the wrapped file to w.
func Write(w io.Writer, sys *roster.Owned, load uint32, opts ...Option) error {
	o := options{hash: HashBLAKE3, metadata: true}
	for _, opt := range opts {
		opt(&o)
	}

	blob, err := sys.ToBytes(load)
	if err != nil {
		return err
	}

	h := Header{Version: Version, Flags: o.hash.flag(), BinLength: uint32(len(blob)), Name: sys.Name()}
	var meta []byte
	if o.metadata {
		meta, err = encodeMetadata(&Metadata{
			Name:        sys.Name(),
			Source:      sys.Source(),
			Members:     sys.Members(),
			LoadAddress: load,
		}, o.compress)
		if err != nil {
			return err
		}
		h.Flags |= FlagCBOR
		if o.compress {
			h.Flags |= FlagCompressed
		}
		h.MetaLength = uint32(len(meta))
	}

	var head [HeaderSize]byte
	h.MarshalTo(head[:])

	if _, err := w.Write(head[:]); err != nil {
		return err
	}
	hasher := h.Flags.hasher()
	if hasher != nil && h.Flags&FlagBLAKE3 != 0 {
		hasher.Write(head[:])
	}
	out := w
	if hasher != nil {
		out = io.MultiWriter(w, hasher)
	}
	for _, part := range [][]byte{blob, meta} {
		if _, err := out.Write(part); err != nil {
			return err
		}
	}
	if hasher != nil {
		if _, err := w.Write(hasher.Sum(nil)); err != nil {
			return err
		}
	}
	pkg.LogDebug(pkg.ComponentRoster, "wrote system file",
		"name", sys.Name(), "blob", len(blob), "meta", len(meta), "flags", fmt.Sprintf("0x%x", uint32(h.Flags)))
	return nil
}

// File is a parsed and verified system file.
type File struct {
	Header
	blob []byte
	meta []byte
}

// Parse decodes data and verifies lengths and the trailer hash.
func Parse(data []byte) (*File, error) {
	f := &File{}
	if err := ParseHeader(data, &f.Header); err != nil {
		return nil, err
	}
	if f.Flags&FlagSHA256 != 0 && f.Flags&FlagBLAKE3 != 0 {
		return nil, fmt.Errorf("conflicting hash flags: %w", pkg.ErrInvalidParameter)
	}
	if f.Flags&FlagJSON != 0 && f.Flags&FlagCBOR != 0 {
		return nil, fmt.Errorf("conflicting metadata flags: %w", pkg.ErrInvalidParameter)
	}

	body := uint64(HeaderSize) + uint64(f.BinLength) + uint64(f.MetaLength)
	want := body
	if f.Flags.hasher() != nil {
		want += HashSize
	}
	if uint64(len(data)) != want {
		return nil, fmt.Errorf("file is %d bytes, header declares %d: %w", len(data), want, pkg.ErrTruncated)
	}

	if !f.verify(data, body) {
		return nil, pkg.ErrFileHash
	}

	f.blob = data[HeaderSize : HeaderSize+uint64(f.BinLength)]
	f.meta = data[HeaderSize+uint64(f.BinLength) : body]
	return f, nil
}

// verify checks the trailer. BLAKE3 covers the header; SHA-256 covers the
// payload after it, though a trailer over the header is accepted too.
func (f *File) verify(data []byte, body uint64) bool {
	hasher := f.Flags.hasher()
	if hasher == nil {
		return true
	}
	sum := data[body:]
	if f.Flags&FlagBLAKE3 != 0 {
		hasher.Write(data[:body])
		return bytes.Equal(hasher.Sum(nil), sum)
	}
	hasher.Write(data[HeaderSize:body])
	if bytes.Equal(hasher.Sum(nil), sum) {
		return true
	}
	hasher.Reset()
	hasher.Write(data[:body])
	return bytes.Equal(hasher.Sum(nil), sum)
}

// Blob returns the roster blob.
func (f *File) Blob() []byte { return f.blob }

// HasMetadata reports whether the file carries a metadata block.
func (f *File) HasMetadata() bool { return f.Flags&flagsMetadata != 0 && len(f.meta) > 0 }

// Metadata decodes the metadata block.
func (f *File) Metadata() (*Metadata, error) {
	if !f.HasMetadata() {
		return nil, fmt.Errorf("no metadata: %w", pkg.ErrInvalidState)
	}
	if f.Flags&FlagJSON != 0 {
		return decodeJSONMetadata(f.meta)
	}
	return decodeMetadata(f.meta, f.Flags&FlagCompressed != 0)
}

// System rebuilds the editable roster from the metadata block.
func (f *File) System() (*roster.Owned, error) {
	m, err := f.Metadata()
	if err != nil {
		return nil, err
	}
	o := roster.NewOwned(m.Name)
	o.SetSource(m.Source)
	for _, member := range m.Members {
		o.AddMember(member.Name, member.Pronouns)
	}
	return o, nil
}

// Roster opens the blob as a reader mapped at base.
func (f *File) Roster(base uint32) (*roster.Reader, error) {
	return roster.Open(f.blob, base)
}

// ReadOrBlob returns the roster blob inside data. Data that does not start
// with the file magic is taken to be a bare blob and returned as is.
func ReadOrBlob(data []byte) ([]byte, error) {
	if len(data) < 4 || !bytes.Equal(data[0:4], Magic[:]) {
		return data, nil
	}
	f, err := Parse(data)
	if err != nil {
		return nil, err
	}
	return f.Blob(), nil
}
