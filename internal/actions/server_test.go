package actions

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jvcs/jvcs/internal/jvcserr"
	"github.com/jvcs/jvcs/internal/sheet"
	"github.com/jvcs/jvcs/internal/vfstore"
)

type noopEditSource struct{}

func (noopEditSource) Exists(vfID string) bool                        { return false }
func (noopEditSource) HasEditRight(member, vfID string) (bool, error) { return false, nil }

func stage(t *testing.T, vf *vfstore.Store, content string) string {
	t.Helper()
	path, err := vf.TempPath()
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestCreateOneAddsMappingAndRejectsDuplicatePath(t *testing.T) {
	root := t.TempDir()
	vf := vfstore.New(root)
	sheets := sheet.NewStore(root, vf)
	_, err := sheets.Create("wip", "alice")
	require.NoError(t, err)

	vfID, meta, err := CreateOne(vf, sheets, "wip", "a.txt", "alice", stage(t, vf, "hi"))
	require.NoError(t, err)
	assert.NotEmpty(t, vfID)
	assert.Equal(t, "0", meta.CurrentVersion)

	_, _, err = CreateOne(vf, sheets, "wip", "a.txt", "alice", stage(t, vf, "again"))
	require.Error(t, err)
	assert.True(t, jvcserr.Is(err, jvcserr.KindAlreadyExists))
}

func TestVerifyUpdateOrderedChecks(t *testing.T) {
	root := t.TempDir()
	vf := vfstore.New(root)
	sheets := sheet.NewStore(root, vf)
	_, err := sheets.Create("wip", "alice")
	require.NoError(t, err)
	vfID, _, err := CreateOne(vf, sheets, "wip", "a.txt", "alice", stage(t, vf, "v0"))
	require.NoError(t, err)

	reason, err := VerifyUpdate(vf, sheets, "wip", "a.txt", "alice", "0", VersionHint{})
	require.NoError(t, err)
	assert.Equal(t, VerifyNoHint, reason)

	reason, err = VerifyUpdate(vf, sheets, "wip", "missing.txt", "alice", "0", VersionHint{NextVersion: "1"})
	require.NoError(t, err)
	assert.Equal(t, VerifyMappingMissing, reason)

	reason, err = VerifyUpdate(vf, sheets, "wip", "a.txt", "alice", "0", VersionHint{NextVersion: "0"})
	require.NoError(t, err)
	assert.Equal(t, VerifyVersionAlreadyExists, reason)

	require.NoError(t, vf.GrantEditRight("bob", vfID))
	reason, err = VerifyUpdate(vf, sheets, "wip", "a.txt", "alice", "0", VersionHint{NextVersion: "1"})
	require.NoError(t, err)
	assert.Equal(t, VerifyNotHolder, reason)

	require.NoError(t, vf.GrantEditRight("alice", vfID))
	reason, err = VerifyUpdate(vf, sheets, "wip", "a.txt", "alice", "stale-version", VersionHint{NextVersion: "1"})
	require.NoError(t, err)
	assert.Equal(t, VerifyClientVersionStale, reason)

	reason, err = VerifyUpdate(vf, sheets, "wip", "a.txt", "alice", "0", VersionHint{NextVersion: "1"})
	require.NoError(t, err)
	assert.Equal(t, VerifyOK, reason)
}

func TestUpdateOneAppliesNewVersion(t *testing.T) {
	root := t.TempDir()
	vf := vfstore.New(root)
	sheets := sheet.NewStore(root, vf)
	_, err := sheets.Create("wip", "alice")
	require.NoError(t, err)
	vfID, _, err := CreateOne(vf, sheets, "wip", "a.txt", "alice", stage(t, vf, "v0"))
	require.NoError(t, err)
	require.NoError(t, vf.GrantEditRight("alice", vfID))

	meta, err := UpdateOne(vf, sheets, "wip", "a.txt", "alice", "1", "second", stage(t, vf, "v1"))
	require.NoError(t, err)
	assert.Equal(t, "1", meta.CurrentVersion)

	got, err := sheets.Get("wip")
	require.NoError(t, err)
	entry, ok := got.Lookup("a.txt")
	require.True(t, ok)
	assert.Equal(t, "1", entry.Version)
}

func TestSyncLookupReturnsLatestVersion(t *testing.T) {
	root := t.TempDir()
	vf := vfstore.New(root)
	sheets := sheet.NewStore(root, vf)
	_, err := sheets.Create("wip", "alice")
	require.NoError(t, err)
	vfID, _, err := CreateOne(vf, sheets, "wip", "a.txt", "alice", stage(t, vf, "v0"))
	require.NoError(t, err)

	gotID, version, _, err := SyncLookup(vf, sheets, "wip", "a.txt")
	require.NoError(t, err)
	assert.Equal(t, vfID, gotID)
	assert.Equal(t, "0", version)
}
