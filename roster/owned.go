package roster

import (
	"fmt"
	"math"
	"slices"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/cases"

	"github.com/ardnew/sysbadge/pkg"
)

// SortPolicy selects how SortMembers compares names.
type SortPolicy int

// Sort policies.
const (
	SortCaseSensitive SortPolicy = iota
	SortCaseInsensitive
)

// String returns the policy name used in configuration files.
func (p SortPolicy) String() string {
	if p == SortCaseInsensitive {
		return "case-insensitive"
	}
	return "case-sensitive"
}

// ParseSortPolicy maps a configuration value to a policy.
func ParseSortPolicy(s string) (SortPolicy, error) {
	switch s {
	case "", "case-sensitive":
		return SortCaseSensitive, nil
	case "case-insensitive":
		return SortCaseInsensitive, nil
	default:
		return SortCaseSensitive, fmt.Errorf("sort policy %q: %w", s, pkg.ErrInvalidParameter)
	}
}

// Owned is a heap-backed roster used to assemble or edit a system before
// encoding it.
type Owned struct {
	name    string
	source  Source
	members []Member
}

// NewOwned returns an empty roster with the given name.
func NewOwned(name string) *Owned {
	return &Owned{name: name}
}

// Clone copies any system into a new Owned roster.
func Clone(sys System) (*Owned, error) {
	members, err := Members(sys)
	if err != nil {
		return nil, err
	}
	o := &Owned{name: sys.Name(), members: members}
	if s, ok := sys.(interface{ Source() Source }); ok {
		o.source = s.Source()
	}
	return o, nil
}

// Name returns the system name.
func (o *Owned) Name() string { return o.name }

// SetName replaces the system name.
func (o *Owned) SetName(name string) { o.name = name }

// Source returns where the roster came from.
func (o *Owned) Source() Source { return o.source }

// SetSource records where the roster came from.
func (o *Owned) SetSource(s Source) { o.source = s }

// MemberCount returns the number of members.
func (o *Owned) MemberCount() int { return len(o.members) }

// Member returns member i.
func (o *Owned) Member(i int) (Member, error) {
	if i < 0 || i >= len(o.members) {
		return Member{}, pkg.ErrIndexOutOfRange
	}
	return o.members[i], nil
}

// Members returns the member slice. Callers must not retain it across edits.
func (o *Owned) Members() []Member { return o.members }

// AddMember appends a member. Duplicate names are allowed.
func (o *Owned) AddMember(name, pronouns string) {
	o.members = append(o.members, Member{Name: name, Pronouns: pronouns})
}

// RemoveMember deletes member i, preserving the order of the rest.
func (o *Owned) RemoveMember(i int) error {
	if i < 0 || i >= len(o.members) {
		return pkg.ErrIndexOutOfRange
	}
	o.members = slices.Delete(o.members, i, i+1)
	return nil
}

// SortMembers orders members by name. The sort is stable, so members with
// equal names keep their relative order.
func (o *Owned) SortMembers(policy SortPolicy) {
	switch policy {
	case SortCaseInsensitive:
		fold := cases.Fold()
		keys := make(map[string]string, len(o.members))
		for _, m := range o.members {
			if _, ok := keys[m.Name]; !ok {
				keys[m.Name] = fold.String(m.Name)
			}
		}
		slices.SortStableFunc(o.members, func(a, b Member) int {
			return strings.Compare(keys[a.Name], keys[b.Name])
		})
	default:
		slices.SortStableFunc(o.members, func(a, b Member) int {
			return strings.Compare(a.Name, b.Name)
		})
	}
}

// ToBytes encodes the roster for placement at load.
func (o *Owned) ToBytes(load uint32) ([]byte, error) {
	return Encode(o, load)
}

// Encode lays out sys as a roster blob whose pointers are valid only when the
// blob sits at address load. Placement order is header, name bytes, member
// records (4-aligned), then each member's name and pronoun bytes. The result
// is padded to a multiple of 4 bytes.
func Encode(sys System, load uint32) ([]byte, error) {
	name := sys.Name()
	if !utf8.ValidString(name) {
		return nil, fmt.Errorf("system name: %w", pkg.ErrInvalidUTF8)
	}
	members, err := Members(sys)
	if err != nil {
		return nil, err
	}

	size := uint64(HeaderSize) + uint64(len(name))
	recordsOff := alignUp(size, RecordAlign)
	size = recordsOff + uint64(len(members))*RecordSize
	for i, m := range members {
		if !utf8.ValidString(m.Name) || !utf8.ValidString(m.Pronouns) {
			return nil, fmt.Errorf("member %d: %w", i, pkg.ErrInvalidUTF8)
		}
		size += uint64(len(m.Name)) + uint64(len(m.Pronouns))
	}
	size = alignUp(size, RecordAlign)
	if uint64(load)+size > math.MaxUint32+1 {
		return nil, fmt.Errorf("%d bytes at 0x%08x: %w", size, load, pkg.ErrTooLarge)
	}

	buf := make([]byte, size)
	addr := func(off uint64) uint32 { return load + uint32(off) }

	copy(buf[HeaderSize:], name)
	cursor := recordsOff + uint64(len(members))*RecordSize
	for i, m := range members {
		rec := buf[recordsOff+uint64(i)*RecordSize:]

		copy(buf[cursor:], m.Name)
		Pointer{Addr: addr(cursor), Len: uint32(len(m.Name))}.putTo(rec[0:8])
		cursor += uint64(len(m.Name))

		copy(buf[cursor:], m.Pronouns)
		Pointer{Addr: addr(cursor), Len: uint32(len(m.Pronouns))}.putTo(rec[8:16])
		cursor += uint64(len(m.Pronouns))
	}

	h := NewHeader(
		Pointer{Addr: addr(HeaderSize), Len: uint32(len(name))},
		Pointer{Addr: addr(recordsOff), Len: uint32(len(members))},
	)
	h.MarshalTo(buf)

	pkg.LogDebug(pkg.ComponentRoster, "encoded roster",
		"load", fmt.Sprintf("0x%08x", load), "bytes", size, "members", len(members))
	return buf, nil
}
