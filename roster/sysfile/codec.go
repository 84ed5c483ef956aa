package sysfile

import (
	"encoding/json"
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/klauspost/compress/zstd"

	"github.com/ardnew/sysbadge/pkg"
	"github.com/ardnew/sysbadge/roster"
)

// Metadata is the editable form of the roster carried next to the blob so a
// host can rebuild it for another load address.
type Metadata struct {
	Name        string          `cbor:"1,keyasint"`
	Source      roster.Source   `cbor:"2,keyasint"`
	Members     []roster.Member `cbor:"3,keyasint"`
	LoadAddress uint32          `cbor:"4,keyasint"`
}

// Deterministic encoding keeps files byte-identical for identical rosters.
var (
	encMode cbor.EncMode
	decMode cbor.DecMode

	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	if encMode, err = cbor.CoreDetEncOptions().EncMode(); err != nil {
		panic("sysfile: CBOR encoder initialization failed: " + err.Error())
	}
	if decMode, err = (cbor.DecOptions{MaxArrayElements: 1 << 16}).DecMode(); err != nil {
		panic("sysfile: CBOR decoder initialization failed: " + err.Error())
	}
	if zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedBestCompression)); err != nil {
		panic("sysfile: zstd encoder initialization failed: " + err.Error())
	}
	if zstdDecoder, err = zstd.NewReader(nil, zstd.WithDecoderMaxMemory(maxMetadata)); err != nil {
		panic("sysfile: zstd decoder initialization failed: " + err.Error())
	}
}

// maxMetadata bounds decompressed metadata.
const maxMetadata = 4 << 20

func encodeMetadata(m *Metadata, compress bool) ([]byte, error) {
	data, err := encMode.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode metadata: %w", err)
	}
	if compress {
		data = zstdEncoder.EncodeAll(data, nil)
	}
	return data, nil
}

func decodeMetadata(data []byte, compressed bool) (*Metadata, error) {
	if compressed {
		var err error
		if data, err = zstdDecoder.DecodeAll(data, nil); err != nil {
			return nil, fmt.Errorf("decompress metadata: %w", err)
		}
	}
	var m Metadata
	if err := decMode.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode metadata: %w", err)
	}
	return &m, nil
}

// jsonSystem is the metadata block of the desktop tools. Older files name
// the PluralKit id in hid; newer ones carry an externally tagged source_id
// such as "None" or {"PluralKit": {"id": "abcde"}}.
type jsonSystem struct {
	Name     string          `json:"name"`
	HID      *string         `json:"hid"`
	SourceID json.RawMessage `json:"source_id"`
	Members  []struct {
		Name     string `json:"name"`
		Pronouns string `json:"pronouns"`
	} `json:"members"`
}

func decodeJSONMetadata(data []byte) (*Metadata, error) {
	var js jsonSystem
	if err := json.Unmarshal(data, &js); err != nil {
		return nil, fmt.Errorf("decode json metadata: %w", err)
	}
	m := &Metadata{Name: js.Name, Members: make([]roster.Member, 0, len(js.Members))}
	for _, member := range js.Members {
		m.Members = append(m.Members, roster.Member{Name: member.Name, Pronouns: member.Pronouns})
	}

	switch {
	case js.HID != nil && *js.HID != "":
		m.Source = roster.Source{Kind: roster.SourcePluralKit, ID: *js.HID}
	case len(js.SourceID) > 0:
		src, err := parseSourceID(js.SourceID)
		if err != nil {
			return nil, err
		}
		m.Source = src
	}
	return m, nil
}

func parseSourceID(raw json.RawMessage) (roster.Source, error) {
	var tag string
	if err := json.Unmarshal(raw, &tag); err == nil {
		// Unit variant; only None has no id.
		return roster.Source{}, nil
	}
	var tagged map[string]struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(raw, &tagged); err != nil {
		return roster.Source{}, fmt.Errorf("decode source_id: %w", err)
	}
	for variant, body := range tagged {
		switch variant {
		case "PluralKit":
			return roster.Source{Kind: roster.SourcePluralKit, ID: body.ID}, nil
		case "PronounsCC":
			return roster.Source{Kind: roster.SourcePronounsCC, ID: body.ID}, nil
		}
		pkg.LogDebug(pkg.ComponentRoster, "unknown source kind", "variant", variant)
	}
	return roster.Source{}, nil
}
