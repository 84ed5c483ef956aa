// Package rosterfile reads and writes rosters on disk: the hand-editable
// YAML form, system files and bare blobs, plus UF2 for drag-and-drop
// flashing.
package rosterfile

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/ardnew/sysbadge/internal/config"
	"github.com/ardnew/sysbadge/pkg"
	"github.com/ardnew/sysbadge/roster"
	"github.com/ardnew/sysbadge/roster/sysfile"
	"github.com/ardnew/sysbadge/roster/uf2"
)

// yamlFile is the hand-editable YAML roster:
//
//	name: Kestrel Collective
//	source: {kind: pluralkit, id: abcde}
//	members:
//	  - {name: Rook, pronouns: he/him}
type yamlFile struct {
	Name   string `yaml:"name"`
	Source struct {
		Kind string `yaml:"kind"`
		ID   string `yaml:"id"`
	} `yaml:"source"`
	Members []struct {
		Name     string `yaml:"name"`
		Pronouns string `yaml:"pronouns"`
	} `yaml:"members"`
}

// IsYAML reports whether path names a YAML roster.
func IsYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

// Load reads a YAML roster, a system file or a bare blob linked at the
// configured base.
func Load(path string, cfg *config.Config) (*roster.Owned, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if IsYAML(path) {
		return ParseYAML(data, cfg)
	}
	return ParseBinary(data, cfg)
}

// ParseYAML builds a roster from YAML, normalized and sorted per cfg.
func ParseYAML(data []byte, cfg *config.Config) (*roster.Owned, error) {
	var f yamlFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, err
	}
	kind, ok := roster.ParseSourceKind(f.Source.Kind)
	if !ok {
		return nil, fmt.Errorf("source kind %q: %w", f.Source.Kind, pkg.ErrInvalidParameter)
	}

	o := roster.NewOwned(f.Name)
	if kind != roster.SourceNone {
		o.SetSource(roster.Source{Kind: kind, ID: f.Source.ID})
	}
	for _, m := range f.Members {
		o.AddMember(m.Name, m.Pronouns)
	}
	o = Normalize(o, cfg)
	o.SortMembers(cfg.SortPolicy())
	return o, nil
}

// ParseBinary opens a system file or a bare blob linked at cfg.Flash.Base.
// Binary rosters keep their member order.
func ParseBinary(data []byte, cfg *config.Config) (*roster.Owned, error) {
	// A system file with metadata can be relinked to any base.
	if bytes.HasPrefix(data, sysfile.Magic[:]) {
		f, err := sysfile.Parse(data)
		if err != nil {
			return nil, err
		}
		if f.HasMetadata() {
			o, err := f.System()
			if err == nil {
				return Normalize(o, cfg), nil
			}
			// The blob is verified by the trailer; use it as linked.
			pkg.LogWarn(pkg.ComponentRoster, "unreadable metadata, using blob", "error", err)
		}
	}

	blob, err := sysfile.ReadOrBlob(data)
	if err != nil {
		return nil, err
	}
	r, err := roster.Open(blob, cfg.Flash.Base)
	if err != nil {
		return nil, fmt.Errorf("roster blob at 0x%08x: %w", cfg.Flash.Base, err)
	}
	o, err := roster.Clone(r)
	if err != nil {
		return nil, err
	}
	return Normalize(o, cfg), nil
}

// normalize cleans member names the way the online downloaders do.
func Normalize(o *roster.Owned, cfg *config.Config) *roster.Owned {
	if !cfg.Roster.Normalize {
		return o
	}
	n := roster.NewOwned(o.Name())
	n.SetSource(o.Source())
	for _, m := range o.Members() {
		n.AddMember(roster.NormalizeName(m.Name), m.Pronouns)
	}
	return n
}

// Export writes sys to path in the format named by its extension.
func Export(path string, sys *roster.Owned, cfg *config.Config) error {
	base := cfg.Flash.Base
	switch strings.ToLower(filepath.Ext(path)) {
	case ".sybd":
		var buf bytes.Buffer
		err := sysfile.Write(&buf, sys, base,
			sysfile.WithHash(sysfile.HashBLAKE3),
			sysfile.WithMetadata(true),
			sysfile.WithCompression(true))
		if err != nil {
			return err
		}
		return os.WriteFile(path, buf.Bytes(), 0o644)
	case ".uf2":
		blob, err := sys.ToBytes(base)
		if err != nil {
			return err
		}
		return os.WriteFile(path, uf2.FromBinary(blob, uf2.FamilyRP2040, base), 0o644)
	case ".bin":
		blob, err := sys.ToBytes(base)
		if err != nil {
			return err
		}
		return os.WriteFile(path, blob, 0o644)
	default:
		return fmt.Errorf("export %s: unknown format: %w", path, pkg.ErrInvalidParameter)
	}
}
