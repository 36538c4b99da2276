// Package actions implements the track pipeline and the summary
// actions of §4.9 and §4.10: server/client-side business logic that
// internal/action's dispatcher wires onto the wire protocol.
package actions

import (
	"github.com/jvcs/jvcs/internal/analyzer"
	"github.com/jvcs/jvcs/internal/jvcserr"
	"github.com/jvcs/jvcs/internal/localws"
)

// VersionHint is a per-path (next_version, update_description) pair
// the caller supplies for the track action (§4.9).
type VersionHint struct {
	NextVersion string
	Description string
}

// ClassifyInput bundles the state TrackClassify needs so the function
// stays a pure, independently-testable unit (§4.9 "Local
// classification").
type ClassifyInput struct {
	Paths                 []string
	Hints                 map[string]VersionHint
	LocalSheet            localws.LocalSheetData
	Analyzer              analyzer.Result
	LatestFileData        localws.LatestFileData
	Me                    string
	AllowOverwriteModified bool
	// SheetModifiable is false for a reference sheet the caller isn't
	// hosting (§4.9: "current sheet is non-modifiable").
	SheetModifiable bool
}

// ClassifyResult partitions Paths into the three transfer subphases
// plus a skipped set, per §4.9.
type ClassifyResult struct {
	CreatedTask []string
	UpdateTask  []string
	SyncTask    []string
	Skipped     []string
}

// TrackClassify implements §4.9's "Local classification" step. It
// requires the analyzer result to show no unresolved moves or losses;
// callers must resolve those first (e.g. via edit_mapping) or the
// track action fails with StructureChangesNotSolved.
func TrackClassify(in ClassifyInput) (ClassifyResult, error) {
	if len(in.Analyzer.Lost) > 0 || len(in.Analyzer.Moved) > 0 {
		return ClassifyResult{}, jvcserr.ErrStructureChangesNotSolved
	}

	pathSet := make(map[string]struct{}, len(in.Paths))
	for _, p := range in.Paths {
		pathSet[p] = struct{}{}
	}
	createdSet := toSet(in.Analyzer.Created)
	modifiedSet := toSet(in.Analyzer.Modified)

	var created, updated []string
	assigned := map[string]struct{}{}

	for _, p := range in.Paths {
		if _, ok := createdSet[p]; ok {
			created = append(created, p)
			assigned[p] = struct{}{}
		}
	}

	for _, p := range in.Paths {
		if _, isCreated := assigned[p]; isCreated {
			continue
		}
		if _, isModified := modifiedSet[p]; !isModified {
			continue
		}
		meta, ok := in.LocalSheet.Mapping[p]
		if !ok || meta.MappingVFID == "" {
			continue
		}
		if in.LatestFileData.Holder[meta.MappingVFID] != in.Me {
			continue
		}
		if meta.VersionWhenUpdated != in.LatestFileData.Version[meta.MappingVFID] {
			continue
		}
		updated = append(updated, p)
		assigned[p] = struct{}{}
	}

	var sync, skipped []string
	for _, p := range in.Paths {
		if _, done := assigned[p]; done {
			continue
		}
		meta, hasMapping := in.LocalSheet.Mapping[p]
		_, isModified := modifiedSet[p]

		// No LocalSheet entry at all means this path has never been
		// brought down before (first-ever sync), distinct from a path
		// that is merely lost (had a mapping, now missing on disk).
		noLocalMapping := !hasMapping

		versionStale := hasMapping && meta.MappingVFID != "" &&
			meta.VersionWhenUpdated != in.LatestFileData.Version[meta.MappingVFID]

		modifiedNotHeldByMe := hasMapping && isModified &&
			in.LatestFileData.Holder[meta.MappingVFID] != in.Me

		switch {
		case noLocalMapping:
			sync = append(sync, p)
		case versionStale:
			sync = append(sync, p)
		case modifiedNotHeldByMe:
			if in.AllowOverwriteModified {
				sync = append(sync, p)
			} else {
				skipped = append(skipped, p)
			}
		}
	}

	if !in.SheetModifiable {
		// §4.9: non-modifiable current sheet moves update_task entries
		// into sync_task (overwrite) or skipped, per allow_overwrite.
		var stillUpdate []string
		for _, p := range updated {
			if in.AllowOverwriteModified {
				sync = append(sync, p)
			} else {
				skipped = append(skipped, p)
			}
		}
		updated = stillUpdate
	}

	return ClassifyResult{
		CreatedTask: created,
		UpdateTask:  updated,
		SyncTask:    sync,
		Skipped:     skipped,
	}, nil
}

func toSet(xs []string) map[string]struct{} {
	s := make(map[string]struct{}, len(xs))
	for _, x := range xs {
		s[x] = struct{}{}
	}
	return s
}

// TrackOutcome is the result the track action returns to its caller
// (§4.9: "Result lists {created, updated, synced, skipped}").
type TrackOutcome struct {
	Created []string
	Updated []string
	Synced  []string
	Skipped []string
}

// VaultModified reports whether this outcome should flip the
// workspace's .vault_modified sentinel (§4.9).
func (o TrackOutcome) VaultModified() bool {
	return len(o.Created) > 0 || len(o.Updated) > 0
}
