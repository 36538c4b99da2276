// Package config is a thin, format-dispatching config-record loader,
// generalized from the teacher's yaml-only config package (§6, §1:
// "the core treats configs as opaque serializable records"). Vault and
// workspace records (vault.toml, workspace.toml, the *.cfg files under
// members/, sheets/, key-adjacent metadata) all load and save through
// this package; it never interprets the record's fields.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v2"

	"github.com/jvcs/jvcs/internal/jvcserr"
)

// Format identifies one of the interchangeable on-disk encodings named
// in §6. RON is recognized as an extension but has no binding in this
// implementation (see DESIGN.md).
type Format int

const (
	FormatJSON Format = iota
	FormatYAML
	FormatTOML
	FormatRON
)

// FormatForPath derives a Format from path's suffix, defaulting to
// JSON for an absent or unrecognized extension — exactly the §6 rule.
func FormatForPath(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		return FormatTOML
	case ".yaml", ".yml":
		return FormatYAML
	case ".ron":
		return FormatRON
	default:
		return FormatJSON
	}
}

// Load reads path into v, using the format implied by path's suffix.
// A missing file is not an error: v is left unchanged, so whatever
// defaults the caller set before calling Load are kept, matching the
// teacher's Unmarshal "defaults specified here, then overlay" pattern.
func Load(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return jvcserr.New(jvcserr.KindIO, "config.Load", err)
	}
	if err := Unmarshal(FormatForPath(path), data, v); err != nil {
		return jvcserr.New(jvcserr.KindSerialization, "config.Load", fmt.Errorf("%s: %w", path, err))
	}
	return nil
}

// Save encodes v using the format implied by path's suffix and writes
// it to path via a temp-sibling-then-rename, the same atomic-write
// discipline used throughout the vault and sheet stores.
func Save(path string, v any) error {
	data, err := Marshal(FormatForPath(path), v)
	if err != nil {
		return jvcserr.New(jvcserr.KindSerialization, "config.Save", fmt.Errorf("%s: %w", path, err))
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return jvcserr.New(jvcserr.KindIO, "config.Save", err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return jvcserr.New(jvcserr.KindIO, "config.Save", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return jvcserr.New(jvcserr.KindIO, "config.Save", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return jvcserr.New(jvcserr.KindIO, "config.Save", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return jvcserr.New(jvcserr.KindIO, "config.Save", err)
	}
	return nil
}

// Unmarshal decodes data in the given Format into v.
func Unmarshal(f Format, data []byte, v any) error {
	switch f {
	case FormatJSON:
		return json.Unmarshal(data, v)
	case FormatYAML:
		return yaml.Unmarshal(data, v)
	case FormatTOML:
		return toml.Unmarshal(data, v)
	case FormatRON:
		return fmt.Errorf("config: RON format has no binding in this build (see DESIGN.md)")
	default:
		return fmt.Errorf("config: unknown format %d", f)
	}
}

// Marshal encodes v in the given Format.
func Marshal(f Format, v any) ([]byte, error) {
	switch f {
	case FormatJSON:
		return json.MarshalIndent(v, "", "  ")
	case FormatYAML:
		return yaml.Marshal(v)
	case FormatTOML:
		var buf strings.Builder
		if err := toml.NewEncoder(&buf).Encode(v); err != nil {
			return nil, err
		}
		return []byte(buf.String()), nil
	case FormatRON:
		return nil, fmt.Errorf("config: RON format has no binding in this build (see DESIGN.md)")
	default:
		return nil, fmt.Errorf("config: unknown format %d", f)
	}
}
