package roster

import "fmt"

// Member is one entry of a roster.
type Member struct {
	Name     string `cbor:"1,keyasint" yaml:"name"`
	Pronouns string `cbor:"2,keyasint,omitempty" yaml:"pronouns,omitempty"`
}

// System is the roster capability: a name and an ordered member list.
// Member returns [pkg.ErrIndexOutOfRange] for i outside [0, MemberCount()).
type System interface {
	Name() string
	MemberCount() int
	Member(i int) (Member, error)
}

// ByteSource is implemented by systems that can expose their strings without
// copying. The USB handler prefers it when available.
type ByteSource interface {
	NameBytes() []byte
	MemberBytes(i int) (name, pronouns []byte, err error)
}

// SourceKind identifies where a roster was downloaded from.
type SourceKind uint8

// Source kinds.
const (
	SourceNone SourceKind = iota
	SourcePluralKit
	SourcePronounsCC
)

// String returns the source kind name.
func (k SourceKind) String() string {
	switch k {
	case SourceNone:
		return "none"
	case SourcePluralKit:
		return "pluralkit"
	case SourcePronounsCC:
		return "pronouns.cc"
	default:
		return fmt.Sprintf("SourceKind(%d)", uint8(k))
	}
}

// ParseSourceKind maps a source name to its kind.
func ParseSourceKind(s string) (SourceKind, bool) {
	switch s {
	case "", "none":
		return SourceNone, true
	case "pluralkit", "pk":
		return SourcePluralKit, true
	case "pronouns.cc", "pronounscc":
		return SourcePronounsCC, true
	default:
		return SourceNone, false
	}
}

// Source records the upstream identity of a roster. ID is empty for SourceNone.
type Source struct {
	Kind SourceKind `cbor:"1,keyasint"`
	ID   string     `cbor:"2,keyasint,omitempty"`
}

// Members collects every member of sys in order.
func Members(sys System) ([]Member, error) {
	n := sys.MemberCount()
	out := make([]Member, 0, n)
	for i := range n {
		m, err := sys.Member(i)
		if err != nil {
			return nil, fmt.Errorf("member %d: %w", i, err)
		}
		out = append(out, m)
	}
	return out, nil
}
