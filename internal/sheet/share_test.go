package sheet

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jvcs/jvcs/internal/jvcserr"
)

func TestShareMappingsThenLoad(t *testing.T) {
	vf := newFakeVF()
	st := NewStore(t.TempDir(), vf)
	source, err := st.Create("source", "alice")
	require.NoError(t, err)
	_, err = st.Create("target", "bob")
	require.NoError(t, err)

	require.NoError(t, source.AddMapping(vf, "a.txt", "vf_1", "0"))
	require.NoError(t, source.AddMapping(vf, "b.txt", "vf_2", "0"))

	shareID, err := st.ShareMappings(source, "target", []string{"a.txt", "b.txt"}, "alice", "handoff")
	require.NoError(t, err)
	assert.NotEmpty(t, shareID)

	share, err := st.LoadShare("target", shareID)
	require.NoError(t, err)
	assert.Equal(t, "alice", share.Sharer)
	assert.Equal(t, "source", share.FromSheet)
	assert.Equal(t, "vf_1", share.Mappings["a.txt"].VFID)
	assert.Equal(t, "vf_2", share.Mappings["b.txt"].VFID)
}

func TestShareMappingsErrorsOnMissingSourcePathLeavesNoShare(t *testing.T) {
	vf := newFakeVF()
	st := NewStore(t.TempDir(), vf)
	source, err := st.Create("source", "alice")
	require.NoError(t, err)
	_, err = st.Create("target", "bob")
	require.NoError(t, err)
	require.NoError(t, source.AddMapping(vf, "a.txt", "vf_1", "0"))

	_, err = st.ShareMappings(source, "target", []string{"a.txt", "missing.txt"}, "alice", "")
	require.Error(t, err)
	assert.True(t, jvcserr.Is(err, jvcserr.KindNotFound))

	entries, rdErr := os.ReadDir(st.shareDir("target"))
	if rdErr == nil {
		assert.Empty(t, entries, "no partial share file should be written")
	}
}

func TestMergeShareSafeModeConflictLeavesTargetAndShareUntouched(t *testing.T) {
	vf := newFakeVF()
	st := NewStore(t.TempDir(), vf)
	source, err := st.Create("source", "alice")
	require.NoError(t, err)
	target, err := st.Create("target", "bob")
	require.NoError(t, err)
	require.NoError(t, st.Save(target))

	require.NoError(t, source.AddMapping(vf, "shared.txt", "vf_1", "0"))
	require.NoError(t, target.AddMapping(vf, "shared.txt", "vf_99", "0")) // conflicting path already mapped

	shareID, err := st.ShareMappings(source, "target", []string{"shared.txt"}, "alice", "")
	require.NoError(t, err)
	share, err := st.LoadShare("target", shareID)
	require.NoError(t, err)

	beforeWriteCount := target.WriteCount
	_, err = st.MergeShare(target, shareID, share, MergeSafe)
	require.Error(t, err)
	assert.ErrorIs(t, err, jvcserr.ErrHasConflicts)

	entry, ok := target.Lookup("shared.txt")
	require.True(t, ok)
	assert.Equal(t, "vf_99", entry.VFID, "target mapping must be untouched on Safe conflict")
	assert.Equal(t, beforeWriteCount, target.WriteCount)

	_, err = st.LoadShare("target", shareID)
	assert.NoError(t, err, "share file must survive a rejected Safe merge")
}

func TestMergeShareSafeModeNoConflictApplies(t *testing.T) {
	vf := newFakeVF()
	st := NewStore(t.TempDir(), vf)
	source, err := st.Create("source", "alice")
	require.NoError(t, err)
	target, err := st.Create("target", "bob")
	require.NoError(t, err)

	require.NoError(t, source.AddMapping(vf, "fresh.txt", "vf_1", "0"))
	shareID, err := st.ShareMappings(source, "target", []string{"fresh.txt"}, "alice", "")
	require.NoError(t, err)
	share, err := st.LoadShare("target", shareID)
	require.NoError(t, err)

	result, err := st.MergeShare(target, shareID, share, MergeSafe)
	require.NoError(t, err)
	assert.True(t, result.Applied)
	assert.True(t, result.ShareFileRemoved)

	entry, ok := target.Lookup("fresh.txt")
	require.True(t, ok)
	assert.Equal(t, "vf_1", entry.VFID)

	_, err = st.LoadShare("target", shareID)
	assert.True(t, jvcserr.Is(err, jvcserr.KindNotFound), "consumed share file must be deleted")
}

func TestMergeShareOverwriteMovesOldPathForConflictingVFID(t *testing.T) {
	vf := newFakeVF()
	st := NewStore(t.TempDir(), vf)
	source, err := st.Create("source", "alice")
	require.NoError(t, err)
	target, err := st.Create("target", "bob")
	require.NoError(t, err)

	require.NoError(t, target.AddMapping(vf, "old/path.txt", "vf_1", "0"))
	require.NoError(t, source.AddMapping(vf, "new/path.txt", "vf_1", "1"))

	shareID, err := st.ShareMappings(source, "target", []string{"new/path.txt"}, "alice", "")
	require.NoError(t, err)
	share, err := st.LoadShare("target", shareID)
	require.NoError(t, err)

	result, err := st.MergeShare(target, shareID, share, MergeOverwrite)
	require.NoError(t, err)
	assert.True(t, result.Applied)

	_, ok := target.Lookup("old/path.txt")
	assert.False(t, ok, "old path mapping to the same vf_id must be moved away")

	entry, ok := target.Lookup("new/path.txt")
	require.True(t, ok)
	assert.Equal(t, "vf_1", entry.VFID)
	assert.Equal(t, "1", entry.Version)
}

func TestMergeShareSkipLeavesConflictingPathsUntouched(t *testing.T) {
	vf := newFakeVF()
	st := NewStore(t.TempDir(), vf)
	source, err := st.Create("source", "alice")
	require.NoError(t, err)
	target, err := st.Create("target", "bob")
	require.NoError(t, err)

	require.NoError(t, target.AddMapping(vf, "shared.txt", "vf_99", "0"))
	require.NoError(t, source.AddMapping(vf, "shared.txt", "vf_1", "1"))
	require.NoError(t, source.AddMapping(vf, "fresh.txt", "vf_2", "0"))

	shareID, err := st.ShareMappings(source, "target", []string{"shared.txt", "fresh.txt"}, "alice", "")
	require.NoError(t, err)
	share, err := st.LoadShare("target", shareID)
	require.NoError(t, err)

	result, err := st.MergeShare(target, shareID, share, MergeSkip)
	require.NoError(t, err)
	assert.True(t, result.Applied)

	entry, ok := target.Lookup("shared.txt")
	require.True(t, ok)
	assert.Equal(t, "vf_99", entry.VFID, "conflicting path must be skipped, not overwritten")

	entry, ok = target.Lookup("fresh.txt")
	require.True(t, ok)
	assert.Equal(t, "vf_2", entry.VFID, "non-conflicting path must still be applied")
}
