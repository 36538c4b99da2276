package localws

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jvcs/jvcs/internal/jvcserr"
	"github.com/jvcs/jvcs/internal/localstate"
	"github.com/jvcs/jvcs/internal/sheet"
)

func TestSetupCreatesSkeletonAndUnstainedConfig(t *testing.T) {
	root := t.TempDir()
	w, err := Setup(root, "127.0.0.1:25331", "alice")
	require.NoError(t, err)

	cfg, err := w.LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:25331", cfg.UpstreamAddr)
	assert.Equal(t, "alice", cfg.UsingAccount)
	assert.False(t, cfg.Stained())
}

func TestSetupIsIdempotentAndDoesNotOverwriteExistingConfig(t *testing.T) {
	root := t.TempDir()
	w, err := Setup(root, "127.0.0.1:25331", "alice")
	require.NoError(t, err)
	require.NoError(t, w.Stain("vault-uuid-1"))

	w2, err := Setup(root, "ignored:0", "ignored")
	require.NoError(t, err)
	cfg, err := w2.LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, "vault-uuid-1", cfg.StainedUUID)
}

func TestStainRefusesDifferentVaultUUID(t *testing.T) {
	root := t.TempDir()
	w, err := Setup(root, "addr", "alice")
	require.NoError(t, err)
	require.NoError(t, w.Stain("uuid-a"))

	err = w.Stain("uuid-b")
	require.Error(t, err)
	assert.ErrorIs(t, err, jvcserr.ErrAlreadyStained)
}

func TestStainAllowsReStainingSameUUID(t *testing.T) {
	root := t.TempDir()
	w, err := Setup(root, "addr", "alice")
	require.NoError(t, err)
	require.NoError(t, w.Stain("uuid-a"))
	require.NoError(t, w.Stain("uuid-a"))
}

func TestLocalSheetRoundTrip(t *testing.T) {
	root := t.TempDir()
	w, err := Setup(root, "addr", "alice")
	require.NoError(t, err)

	d, err := w.LoadLocalSheet("alice", "wip")
	require.NoError(t, err)
	assert.Empty(t, d.Mapping)

	d.Mapping["a.txt"] = LocalMappingMetadata{MappingVFID: "vf_1", VersionWhenUpdated: "0"}
	require.NoError(t, w.SaveLocalSheet("alice", "wip", d))

	got, err := w.LoadLocalSheet("alice", "wip")
	require.NoError(t, err)
	assert.Equal(t, "vf_1", got.Mapping["a.txt"].MappingVFID)
}

func TestCachedSheetRoundTrip(t *testing.T) {
	root := t.TempDir()
	w, err := Setup(root, "addr", "alice")
	require.NoError(t, err)

	data := sheet.Data{Name: "wip", Mapping: map[string]sheet.MappingEntry{"a.txt": {VFID: "vf_1", Version: "0"}}}
	require.NoError(t, w.SaveCachedSheet("wip", data))

	got, err := w.LoadCachedSheet("wip")
	require.NoError(t, err)
	assert.Equal(t, "vf_1", got.Mapping["a.txt"].VFID)
}

func TestVaultModifiedSentinelDefaultsFalse(t *testing.T) {
	root := t.TempDir()
	w, err := Setup(root, "addr", "alice")
	require.NoError(t, err)

	modified, err := w.VaultModified()
	require.NoError(t, err)
	assert.False(t, modified)

	require.NoError(t, w.SetVaultModified(true))
	modified, err = w.VaultModified()
	require.NoError(t, err)
	assert.True(t, modified)
}

func TestLatestInfoAndFileDataRoundTrip(t *testing.T) {
	root := t.TempDir()
	w, err := Setup(root, "addr", "alice")
	require.NoError(t, err)

	li := LatestInfo{MySheets: []string{"wip"}, RefSheet: "main", Roster: []string{"alice", "bob"}}
	require.NoError(t, w.SaveLatestInfo("alice", li))
	got, err := w.LoadLatestInfo("alice")
	require.NoError(t, err)
	assert.Equal(t, li, got)

	lfd, err := w.LoadLatestFileData("alice")
	require.NoError(t, err)
	assert.Empty(t, lfd.Holder)
	lfd.Holder["vf_1"] = "bob"
	lfd.Version["vf_1"] = "2"
	require.NoError(t, w.SaveLatestFileData("alice", lfd))
	got2, err := w.LoadLatestFileData("alice")
	require.NoError(t, err)
	assert.Equal(t, "bob", got2.Holder["vf_1"])
}

func TestHeldSetRoundTripsThroughWorkspace(t *testing.T) {
	root := t.TempDir()
	w, err := Setup(root, "addr", "alice")
	require.NoError(t, err)

	empty, err := w.LoadHeldSet("alice")
	require.NoError(t, err)
	assert.False(t, empty.Held("vf_1"))

	require.NoError(t, w.SaveHeldSet("alice", localstate.NewHeldSet([]string{"vf_1"})))
	got, err := w.LoadHeldSet("alice")
	require.NoError(t, err)
	assert.True(t, got.Held("vf_1"))
}
