package sysfile

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ardnew/sysbadge/pkg"
	"github.com/ardnew/sysbadge/roster"
)

const testLoad = 0x10100000

func sample() *roster.Owned {
	o := roster.NewOwned("Kestrel Collective")
	o.SetSource(roster.Source{Kind: roster.SourcePluralKit, ID: "exmpl"})
	o.AddMember("Rook", "he/him")
	o.AddMember("Wren", "")
	return o
}

func TestWriteParse(t *testing.T) {
	tests := []struct {
		name  string
		opts  []Option
		flags Flags
	}{
		{"default", nil, FlagBLAKE3 | FlagCBOR},
		{"sha256", []Option{WithHash(HashSHA256)}, FlagSHA256 | FlagCBOR},
		{"compressed", []Option{WithCompression(true)}, FlagBLAKE3 | FlagCBOR | FlagCompressed},
		{"bare", []Option{WithHash(HashNone), WithMetadata(false)}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			require.NoError(t, Write(&buf, sample(), testLoad, tt.opts...))

			f, err := Parse(buf.Bytes())
			require.NoError(t, err)
			assert.Equal(t, tt.flags, f.Flags)
			assert.Equal(t, "Kestrel Collective", f.Name)

			r, err := f.Roster(testLoad)
			require.NoError(t, err)
			assert.Equal(t, "Kestrel Collective", r.Name())
			assert.Equal(t, 2, r.MemberCount())

			if tt.flags&FlagCBOR == 0 {
				assert.False(t, f.HasMetadata())
				_, err := f.Metadata()
				assert.ErrorIs(t, err, pkg.ErrInvalidState)
				return
			}
			m, err := f.Metadata()
			require.NoError(t, err)
			assert.Equal(t, uint32(testLoad), m.LoadAddress)
			assert.Equal(t, sample().Members(), m.Members)

			sys, err := f.System()
			require.NoError(t, err)
			assert.Equal(t, sample().Source(), sys.Source())
			assert.Equal(t, sample().Members(), sys.Members())
		})
	}
}

func TestDeterministic(t *testing.T) {
	var a, b bytes.Buffer
	require.NoError(t, Write(&a, sample(), testLoad))
	require.NoError(t, Write(&b, sample(), testLoad))
	assert.Equal(t, a.Bytes(), b.Bytes())
}

func TestParseDetectsTampering(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, sample(), testLoad))
	data := buf.Bytes()

	// The roster checksum only covers its header; the file hash covers the rest.
	tampered := append([]byte(nil), data...)
	tampered[HeaderSize+roster.HeaderSize] ^= 0x20
	_, err := Parse(tampered)
	assert.ErrorIs(t, err, pkg.ErrFileHash)

	_, err = Parse(data[:len(data)-1])
	assert.ErrorIs(t, err, pkg.ErrTruncated)
}

func TestParseRejects(t *testing.T) {
	_, err := Parse([]byte("not a file"))
	assert.ErrorIs(t, err, pkg.ErrFileMagic)

	var buf bytes.Buffer
	require.NoError(t, Write(&buf, sample(), testLoad))
	data := buf.Bytes()
	data[4] = 9
	_, err = Parse(data)
	assert.ErrorIs(t, err, pkg.ErrBadVersion)
}

func TestNameTruncation(t *testing.T) {
	long := strings.Repeat("é", 100) // 200 bytes
	h := Header{Version: Version, Name: long}
	var buf [HeaderSize]byte
	h.MarshalTo(buf[:])

	var out Header
	require.NoError(t, ParseHeader(buf[:], &out))
	assert.Equal(t, strings.Repeat("é", 96), out.Name)
}

func TestReadOrBlob(t *testing.T) {
	blob, err := sample().ToBytes(testLoad)
	require.NoError(t, err)

	got, err := ReadOrBlob(blob)
	require.NoError(t, err)
	assert.Equal(t, blob, got)

	var buf bytes.Buffer
	require.NoError(t, Write(&buf, sample(), testLoad))
	got, err = ReadOrBlob(buf.Bytes())
	require.NoError(t, err)
	assert.Equal(t, blob, got)
}

// desktopFile lays out a file the way the desktop tools write it: SHA-256
// and JSON flags, the digest taken over the blob and JSON only.
func desktopFile(t *testing.T, js string, withHeader bool) []byte {
	t.Helper()
	blob, err := sample().ToBytes(testLoad)
	require.NoError(t, err)

	head := make([]byte, HeaderSize)
	copy(head, "SYBD")
	binary.LittleEndian.PutUint32(head[4:], 1)
	binary.LittleEndian.PutUint32(head[8:], uint32(FlagSHA256|FlagJSON))
	binary.LittleEndian.PutUint32(head[12:], uint32(len(blob)))
	binary.LittleEndian.PutUint32(head[16:], uint32(len(js)))
	copy(head[20:], "Kestrel Collective")

	data := append(append(head, blob...), js...)
	sum := sha256.Sum256(data[HeaderSize:])
	if withHeader {
		sum = sha256.Sum256(data)
	}
	return append(data, sum[:]...)
}

func TestDesktopFile(t *testing.T) {
	tests := []struct {
		name       string
		js         string
		withHeader bool
		source     roster.Source
	}{
		{"tagged source", `{"name":"Kestrel Collective","source_id":{"PluralKit":{"id":"exmpl"}},"members":[{"name":"Rook","pronouns":"he/him"},{"name":"Wren","pronouns":""}]}`,
			false, roster.Source{Kind: roster.SourcePluralKit, ID: "exmpl"}},
		{"no source", `{"name":"Kestrel Collective","source_id":"None","members":[{"name":"Rook","pronouns":"he/him"},{"name":"Wren","pronouns":""}]}`,
			false, roster.Source{}},
		{"hid", `{"name":"Kestrel Collective","hid":"exmpl","members":[{"name":"Rook","pronouns":"he/him"},{"name":"Wren","pronouns":""}]}`,
			true, roster.Source{Kind: roster.SourcePluralKit, ID: "exmpl"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := Parse(desktopFile(t, tt.js, tt.withHeader))
			require.NoError(t, err)
			assert.True(t, f.HasMetadata())

			sys, err := f.System()
			require.NoError(t, err)
			assert.Equal(t, "Kestrel Collective", sys.Name())
			assert.Equal(t, tt.source, sys.Source())
			assert.Equal(t, sample().Members(), sys.Members())
		})
	}
}

func TestDesktopFileTampered(t *testing.T) {
	data := desktopFile(t, `{"name":"Kestrel Collective","members":[]}`, false)
	data[len(data)-HashSize-2] ^= 0x01
	_, err := Parse(data)
	assert.ErrorIs(t, err, pkg.ErrFileHash)
}

func TestSHA256CoversPayload(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, sample(), testLoad, WithHash(HashSHA256)))
	data := buf.Bytes()
	body := data[:len(data)-HashSize]
	sum := sha256.Sum256(body[HeaderSize:])
	assert.Equal(t, sum[:], data[len(body):])
}
