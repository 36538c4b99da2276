package actions

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jvcs/jvcs/internal/analyzer"
	"github.com/jvcs/jvcs/internal/jvcserr"
	"github.com/jvcs/jvcs/internal/localws"
)

func TestTrackClassifyRejectsUnresolvedStructureChanges(t *testing.T) {
	_, err := TrackClassify(ClassifyInput{
		Analyzer: analyzer.Result{Lost: []string{"x"}},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, jvcserr.ErrStructureChangesNotSolved)
}

func TestTrackClassifyCreatedTask(t *testing.T) {
	result, err := TrackClassify(ClassifyInput{
		Paths:           []string{"new.txt"},
		Analyzer:        analyzer.Result{Created: []string{"new.txt"}},
		LocalSheet:      localws.LocalSheetData{Mapping: map[string]localws.LocalMappingMetadata{}},
		LatestFileData:  localws.LatestFileData{Holder: map[string]string{}, Version: map[string]string{}},
		SheetModifiable: true,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"new.txt"}, result.CreatedTask)
	assert.Empty(t, result.UpdateTask)
	assert.Empty(t, result.SyncTask)
}

func TestTrackClassifyUpdateTaskWhenHeldByMeAndVersionMatches(t *testing.T) {
	result, err := TrackClassify(ClassifyInput{
		Paths:    []string{"edit.txt"},
		Analyzer: analyzer.Result{Modified: []string{"edit.txt"}},
		LocalSheet: localws.LocalSheetData{Mapping: map[string]localws.LocalMappingMetadata{
			"edit.txt": {MappingVFID: "vf_1", VersionWhenUpdated: "3"},
		}},
		LatestFileData: localws.LatestFileData{
			Holder:  map[string]string{"vf_1": "alice"},
			Version: map[string]string{"vf_1": "3"},
		},
		Me:              "alice",
		SheetModifiable: true,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"edit.txt"}, result.UpdateTask)
}

func TestTrackClassifySyncTaskWhenVersionStale(t *testing.T) {
	result, err := TrackClassify(ClassifyInput{
		Paths: []string{"stale.txt"},
		LocalSheet: localws.LocalSheetData{Mapping: map[string]localws.LocalMappingMetadata{
			"stale.txt": {MappingVFID: "vf_1", VersionWhenUpdated: "1"},
		}},
		LatestFileData: localws.LatestFileData{
			Holder:  map[string]string{"vf_1": "bob"},
			Version: map[string]string{"vf_1": "2"},
		},
		Me:              "alice",
		SheetModifiable: true,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"stale.txt"}, result.SyncTask)
}

func TestTrackClassifyModifiedNotHeldByMeSkippedUnlessOverwriteAllowed(t *testing.T) {
	in := ClassifyInput{
		Paths:    []string{"theirs.txt"},
		Analyzer: analyzer.Result{Modified: []string{"theirs.txt"}},
		LocalSheet: localws.LocalSheetData{Mapping: map[string]localws.LocalMappingMetadata{
			"theirs.txt": {MappingVFID: "vf_1", VersionWhenUpdated: "1"},
		}},
		LatestFileData: localws.LatestFileData{
			Holder:  map[string]string{"vf_1": "bob"},
			Version: map[string]string{"vf_1": "1"},
		},
		Me:              "alice",
		SheetModifiable: true,
	}

	result, err := TrackClassify(in)
	require.NoError(t, err)
	assert.Equal(t, []string{"theirs.txt"}, result.Skipped)

	in.AllowOverwriteModified = true
	result, err = TrackClassify(in)
	require.NoError(t, err)
	assert.Equal(t, []string{"theirs.txt"}, result.SyncTask)
	assert.Empty(t, result.Skipped)
}

func TestTrackClassifyFirstEverDownloadWithNoLocalMappingGoesToSyncTask(t *testing.T) {
	result, err := TrackClassify(ClassifyInput{
		Paths:      []string{"never_seen.txt"},
		LocalSheet: localws.LocalSheetData{Mapping: map[string]localws.LocalMappingMetadata{}},
		LatestFileData: localws.LatestFileData{
			Holder:  map[string]string{"vf_1": "bob"},
			Version: map[string]string{"vf_1": "1"},
		},
		Me:              "alice",
		SheetModifiable: true,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"never_seen.txt"}, result.SyncTask)
	assert.Empty(t, result.Skipped)
	assert.Empty(t, result.CreatedTask)
	assert.Empty(t, result.UpdateTask)
}

func TestTrackClassifyNonModifiableSheetMovesUpdateToSyncOrSkipped(t *testing.T) {
	in := ClassifyInput{
		Paths:    []string{"edit.txt"},
		Analyzer: analyzer.Result{Modified: []string{"edit.txt"}},
		LocalSheet: localws.LocalSheetData{Mapping: map[string]localws.LocalMappingMetadata{
			"edit.txt": {MappingVFID: "vf_1", VersionWhenUpdated: "3"},
		}},
		LatestFileData: localws.LatestFileData{
			Holder:  map[string]string{"vf_1": "alice"},
			Version: map[string]string{"vf_1": "3"},
		},
		Me:              "alice",
		SheetModifiable: false,
	}
	result, err := TrackClassify(in)
	require.NoError(t, err)
	assert.Empty(t, result.UpdateTask)
	assert.Equal(t, []string{"edit.txt"}, result.Skipped)

	in.AllowOverwriteModified = true
	result, err = TrackClassify(in)
	require.NoError(t, err)
	assert.Empty(t, result.UpdateTask)
	assert.Equal(t, []string{"edit.txt"}, result.SyncTask)
}
