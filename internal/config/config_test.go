package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sampleRecord struct {
	Name  string `json:"name" yaml:"name" toml:"name"`
	Count int    `json:"count" yaml:"count" toml:"count"`
}

func TestFormatForPath(t *testing.T) {
	assert.Equal(t, FormatTOML, FormatForPath("vault.toml"))
	assert.Equal(t, FormatYAML, FormatForPath("workspace.yaml"))
	assert.Equal(t, FormatYAML, FormatForPath("workspace.yml"))
	assert.Equal(t, FormatJSON, FormatForPath("sheets/work.cfg"))
	assert.Equal(t, FormatJSON, FormatForPath("noext"))
	assert.Equal(t, FormatRON, FormatForPath("x.ron"))
}

func TestSaveLoadRoundTripEachFormat(t *testing.T) {
	for _, name := range []string{"rec.json", "rec.toml", "rec.yaml", "rec.cfg"} {
		t.Run(name, func(t *testing.T) {
			dir := t.TempDir()
			path := filepath.Join(dir, name)
			in := sampleRecord{Name: "work", Count: 7}
			require.NoError(t, Save(path, in))

			var out sampleRecord
			require.NoError(t, Load(path, &out))
			assert.Equal(t, in, out)
		})
	}
}

func TestLoadMissingFileLeavesValueUnchanged(t *testing.T) {
	dir := t.TempDir()
	out := sampleRecord{Name: "default", Count: 1}
	require.NoError(t, Load(filepath.Join(dir, "missing.cfg"), &out))
	assert.Equal(t, sampleRecord{Name: "default", Count: 1}, out)
}

func TestSaveIsAtomicNoStrayTempFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "x.json")
	require.NoError(t, Save(path, sampleRecord{Name: "a"}))
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "x.json", entries[0].Name())
}

func TestRONUnsupported(t *testing.T) {
	_, err := Marshal(FormatRON, sampleRecord{})
	assert.Error(t, err)
}
