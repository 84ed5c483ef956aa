package roster

import (
	"github.com/ardnew/sysbadge/pkg"
)

// Reader is a zero-copy view of a roster blob mapped at a known base address.
// The region is the arena; header pointers are converted to bounds-checked
// offsets before any access. A Reader never owns or modifies its region.
type Reader struct {
	region  []byte
	base    uint32
	header  Header
	name    []byte
	records []byte
}

// Open validates the blob at the start of region, which is mapped at base.
// Validation is O(1): header magic, version and checksum, then the name range
// and the member array range and alignment.
func Open(region []byte, base uint32) (*Reader, error) {
	r := &Reader{region: region, base: base}
	if err := ParseHeader(region, &r.header); err != nil {
		return nil, err
	}

	name, err := r.slice(r.header.Name.Addr, uint64(r.header.Name.Len))
	if err != nil {
		return nil, err
	}
	if r.header.Members.Addr%RecordAlign != 0 {
		return nil, pkg.ErrMisaligned
	}
	records, err := r.slice(r.header.Members.Addr, uint64(r.header.Members.Len)*RecordSize)
	if err != nil {
		return nil, err
	}
	r.name, r.records = name, records
	return r, nil
}

// slice resolves an absolute address range to a subslice of the region.
func (r *Reader) slice(addr uint32, n uint64) ([]byte, error) {
	if addr < r.base {
		return nil, pkg.ErrBadPointer
	}
	off := uint64(addr - r.base)
	if off+n > uint64(len(r.region)) {
		return nil, pkg.ErrBadPointer
	}
	return r.region[off : off+n : off+n], nil
}

// Header returns the validated header.
func (r *Reader) Header() Header { return r.header }

// Base returns the address the region is mapped at.
func (r *Reader) Base() uint32 { return r.base }

// Name returns the system name.
func (r *Reader) Name() string { return string(r.name) }

// NameBytes returns the system name without copying.
func (r *Reader) NameBytes() []byte { return r.name }

// MemberCount returns the number of member records.
func (r *Reader) MemberCount() int { return int(r.header.Members.Len) }

// MemberBytes returns member i's name and pronouns without copying. Member
// pointers are outside the header checksum, so they are checked on access.
func (r *Reader) MemberBytes(i int) (name, pronouns []byte, err error) {
	if i < 0 || i >= r.MemberCount() {
		return nil, nil, pkg.ErrIndexOutOfRange
	}
	rec := r.records[i*RecordSize : (i+1)*RecordSize]
	np, pp := pointerAt(rec[0:8]), pointerAt(rec[8:16])
	if name, err = r.slice(np.Addr, uint64(np.Len)); err != nil {
		return nil, nil, err
	}
	if pronouns, err = r.slice(pp.Addr, uint64(pp.Len)); err != nil {
		return nil, nil, err
	}
	return name, pronouns, nil
}

// Member returns member i.
func (r *Reader) Member(i int) (Member, error) {
	name, pronouns, err := r.MemberBytes(i)
	if err != nil {
		return Member{}, err
	}
	return Member{Name: string(name), Pronouns: string(pronouns)}, nil
}

// Len returns the number of bytes from the base to the end of the furthest
// referenced string, which is the size of the blob as encoded.
func (r *Reader) Len() int {
	end := uint64(HeaderSize)
	grow := func(p Pointer) {
		if e := uint64(p.Addr) + uint64(p.Len) - uint64(r.base); p.Addr >= r.base && e > end {
			end = e
		}
	}
	grow(r.header.Name)
	grow(Pointer{Addr: r.header.Members.Addr, Len: r.header.Members.Len * RecordSize})
	for i := range r.MemberCount() {
		rec := r.records[i*RecordSize:]
		grow(pointerAt(rec[0:8]))
		grow(pointerAt(rec[8:16]))
	}
	return int(min(alignUp(end, RecordAlign), uint64(len(r.region))))
}
