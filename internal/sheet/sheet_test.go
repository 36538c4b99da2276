package sheet

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jvcs/jvcs/internal/jvcserr"
)

// fakeVF is a minimal EditRightSource for sheet-level tests that don't
// need a real vfstore.Store.
type fakeVF struct {
	existing map[string]string // vf_id -> holder with edit right ("" means exists but unheld)
}

func newFakeVF() *fakeVF { return &fakeVF{existing: map[string]string{}} }

func (f *fakeVF) Exists(vfID string) bool {
	_, ok := f.existing[vfID]
	return ok
}

func (f *fakeVF) HasEditRight(member, vfID string) (bool, error) {
	holder, ok := f.existing[vfID]
	if !ok {
		return false, nil
	}
	return holder == member, nil
}

func TestAddMappingRejectsWhileHolderHoldsEditRight(t *testing.T) {
	vf := newFakeVF()
	vf.existing["vf_1"] = "alice"
	s := New("wip", "alice")

	err := s.AddMapping(vf, "a/b.txt", "vf_1", "0")
	require.Error(t, err)
	assert.True(t, jvcserr.Is(err, jvcserr.KindPermissionDenied))
}

func TestAddMappingAllowedWhenUnheldOrHeldByOther(t *testing.T) {
	vf := newFakeVF()
	vf.existing["vf_1"] = "bob"
	s := New("wip", "alice")

	require.NoError(t, s.AddMapping(vf, "a/b.txt", "vf_1", "0"))
	entry, ok := s.Lookup("a/b.txt")
	require.True(t, ok)
	assert.Equal(t, "vf_1", entry.VFID)
	assert.Equal(t, "0", entry.Version)

	path, ok := s.PathForVFID("vf_1")
	require.True(t, ok)
	assert.Equal(t, "a/b.txt", path)
}

func TestRemoveMappingSymmetricRejection(t *testing.T) {
	vf := newFakeVF()
	s := New("wip", "alice")
	require.NoError(t, s.AddMapping(vf, "a/b.txt", "vf_1", "0"))

	vf.existing["vf_1"] = "alice"
	_, err := s.RemoveMapping(vf, "a/b.txt")
	require.Error(t, err)
	assert.True(t, jvcserr.Is(err, jvcserr.KindPermissionDenied))

	vf.existing["vf_1"] = "someone-else"
	removed, err := s.RemoveMapping(vf, "a/b.txt")
	require.NoError(t, err)
	assert.Equal(t, "vf_1", removed)
	_, ok := s.Lookup("a/b.txt")
	assert.False(t, ok)
}

func TestBumpVersionKeepsMappingWhileHolderHoldsEditRight(t *testing.T) {
	vf := newFakeVF()
	s := New("wip", "alice")
	require.NoError(t, s.AddMapping(vf, "a.txt", "vf_1", "0"))

	vf.existing["vf_1"] = "alice"
	require.NoError(t, s.BumpVersion("a.txt", "1"))

	entry, ok := s.Lookup("a.txt")
	require.True(t, ok)
	assert.Equal(t, "vf_1", entry.VFID)
	assert.Equal(t, "1", entry.Version)
}

func TestBumpVersionRejectsUnmappedPath(t *testing.T) {
	s := New("wip", "alice")
	err := s.BumpVersion("missing.txt", "1")
	require.Error(t, err)
	assert.True(t, jvcserr.Is(err, jvcserr.KindNotFound))
}

func TestToDataFromDataRoundTripKeepsIDMappingReversed(t *testing.T) {
	vf := newFakeVF()
	s := New("wip", "alice")
	require.NoError(t, s.AddMapping(vf, "a/b.txt", "vf_1", "0"))
	require.NoError(t, s.AddMapping(vf, "c/d.txt", "vf_2", "3"))

	data := s.ToData()
	for path, entry := range data.Mapping {
		assert.Equal(t, path, data.IDMapping[entry.VFID])
	}

	restored := FromData(data)
	entry, ok := restored.Lookup("a/b.txt")
	require.True(t, ok)
	assert.Equal(t, "vf_1", entry.VFID)
	path, ok := restored.PathForVFID("vf_2")
	require.True(t, ok)
	assert.Equal(t, "c/d.txt", path)
}

func TestAddInputRejectsDuplicateName(t *testing.T) {
	s := New("wip", "alice")
	pkg := InputPackage{Name: "pkg1", FromSheet: "other"}
	require.NoError(t, s.AddInput(pkg))
	err := s.AddInput(pkg)
	require.Error(t, err)
	assert.True(t, jvcserr.Is(err, jvcserr.KindAlreadyExists))
}

func TestDenyInputRemovesByName(t *testing.T) {
	s := New("wip", "alice")
	require.NoError(t, s.AddInput(InputPackage{Name: "pkg1"}))
	assert.True(t, s.DenyInput("pkg1"))
	assert.False(t, s.DenyInput("pkg1"))
}

func TestAcceptImportAddsMappingsUnderPathAndPopsInput(t *testing.T) {
	vf := newFakeVF()
	s := New("wip", "alice")
	require.NoError(t, s.AddInput(InputPackage{
		Name:      "pkg1",
		FromSheet: "other",
		Files: []InputFile{
			{RelativePath: "x.txt", VFID: "vf_1"},
			{RelativePath: "nested/y.txt", VFID: "vf_2"},
		},
	}))

	latest := func(vfID string) (string, error) { return "2", nil }
	added, err := s.AcceptImport(vf, "pkg1", "dest", latest)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"dest/x.txt", "dest/nested/y.txt"}, added)

	entry, ok := s.Lookup("dest/x.txt")
	require.True(t, ok)
	assert.Equal(t, "vf_1", entry.VFID)
	assert.Equal(t, "2", entry.Version)
	assert.False(t, s.DenyInput("pkg1"), "input must be consumed")
}

func TestOutputMappingsReRootsUnderLongestCommonPrefix(t *testing.T) {
	vf := newFakeVF()
	s := New("wip", "alice")
	require.NoError(t, s.AddMapping(vf, "proj/src/a.txt", "vf_1", "0"))
	require.NoError(t, s.AddMapping(vf, "proj/src/sub/b.txt", "vf_2", "0"))

	pkg, err := s.OutputMappings("export", []string{"proj/src/a.txt", "proj/src/sub/b.txt"})
	require.NoError(t, err)
	assert.Equal(t, "export", pkg.Name)
	assert.Equal(t, "wip", pkg.FromSheet)

	byPath := map[string]string{}
	for _, f := range pkg.Files {
		byPath[f.RelativePath] = f.VFID
	}
	assert.Equal(t, "vf_1", byPath["a.txt"])
	assert.Equal(t, "vf_2", byPath["sub/b.txt"])
}

func TestOutputMappingsRejectsEmptyPathSet(t *testing.T) {
	s := New("wip", "alice")
	_, err := s.OutputMappings("export", nil)
	require.Error(t, err)
	assert.True(t, jvcserr.Is(err, jvcserr.KindInvalidArgument))
}

func TestOutputMappingsErrorsOnMissingMapping(t *testing.T) {
	vf := newFakeVF()
	s := New("wip", "alice")
	require.NoError(t, s.AddMapping(vf, "a.txt", "vf_1", "0"))

	_, err := s.OutputMappings("export", []string{"a.txt", "missing.txt"})
	require.Error(t, err)
	assert.True(t, jvcserr.Is(err, jvcserr.KindNotFound))
}
