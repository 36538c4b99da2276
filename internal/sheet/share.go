package sheet

import (
	"crypto/rand"
	"fmt"
	"os"
	"path/filepath"

	"github.com/jvcs/jvcs/internal/config"
	"github.com/jvcs/jvcs/internal/jvcserr"
	"github.com/jvcs/jvcs/internal/strnorm"
)

// Share is a pending transfer of mapping entries from one sheet to
// another (§3, §4.6), stored at
// sheets/shares/{target_sheet}/{sharer}@{8-random-alnum}.cfg.
type Share struct {
	Sharer      string                  `json:"sharer"`
	Description string                  `json:"description"`
	FromSheet   string                  `json:"from_sheet"`
	Mappings    map[string]MappingEntry `json:"mappings"`
}

// MergeMode selects the conflict-resolution strategy of merge_share
// (§4.6).
type MergeMode int

const (
	MergeSafe MergeMode = iota
	MergeOverwrite
	MergeSkip
)

const shareIDAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
const shareIDRandomLen = 8
const shareIDMaxRetries = 20

func randomShareSuffix() (string, error) {
	b := make([]byte, shareIDRandomLen)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	out := make([]byte, shareIDRandomLen)
	for i, v := range b {
		out[i] = shareIDAlphabet[int(v)%len(shareIDAlphabet)]
	}
	return string(out), nil
}

func (st *Store) shareDir(targetSheet string) string {
	return filepath.Join(st.root, "shares", targetSheet)
}

func (st *Store) sharePath(targetSheet, shareID string) string {
	return filepath.Join(st.shareDir(targetSheet), shareID+".cfg")
}

// ShareMappings implements share_mappings (§4.6): builds a Share from
// the source sheet's entries at paths and writes it under the target
// sheet's share directory. Leaves all sheet state unchanged; errors if
// any path is absent from the source sheet.
func (st *Store) ShareMappings(source *Sheet, targetSheetName string, paths []string, sharer, description string) (string, error) {
	if !st.Exists(targetSheetName) {
		return "", jvcserr.New(jvcserr.KindNotFound, "sheet.Store.ShareMappings", nil)
	}
	mappings := make(map[string]MappingEntry, len(paths))
	for _, p := range paths {
		entry, ok := source.Lookup(p)
		if !ok {
			return "", jvcserr.New(jvcserr.KindNotFound, "sheet.Store.ShareMappings", fmt.Errorf("path %q not in source sheet", p))
		}
		mappings[p] = entry
	}

	share := Share{
		Sharer:      strnorm.SnakeCase(sharer),
		Description: description,
		FromSheet:   source.Name,
		Mappings:    mappings,
	}

	if err := os.MkdirAll(st.shareDir(targetSheetName), 0o755); err != nil {
		return "", jvcserr.New(jvcserr.KindIO, "sheet.Store.ShareMappings", err)
	}
	for attempt := 0; attempt < shareIDMaxRetries; attempt++ {
		suffix, err := randomShareSuffix()
		if err != nil {
			return "", jvcserr.New(jvcserr.KindCrypto, "sheet.Store.ShareMappings", err)
		}
		shareID := share.Sharer + "@" + suffix
		path := st.sharePath(targetSheetName, shareID)
		if _, err := os.Stat(path); err == nil {
			continue // collision, retry
		}
		if err := config.Save(path, share); err != nil {
			return "", err
		}
		return shareID, nil
	}
	return "", jvcserr.New(jvcserr.KindAlreadyExists, "sheet.Store.ShareMappings", fmt.Errorf("exhausted %d share id attempts", shareIDMaxRetries))
}

// LoadShare reads a pending share by id.
func (st *Store) LoadShare(targetSheetName, shareID string) (Share, error) {
	path := st.sharePath(targetSheetName, shareID)
	if _, err := os.Stat(path); err != nil {
		return Share{}, jvcserr.New(jvcserr.KindNotFound, "sheet.Store.LoadShare", nil)
	}
	var sh Share
	if err := config.Load(path, &sh); err != nil {
		return Share{}, err
	}
	return sh, nil
}

// MergeResult reports the outcome of MergeShare.
type MergeResult struct {
	// Applied is true when the share's entries were folded into the
	// target sheet (always true unless Safe mode hit a conflict).
	Applied bool
	// ShareFileRemoved is false when the merge succeeded but deleting
	// the consumed share file failed; §4.6 says not to roll back the
	// merge in that case — callers should retry the deletion.
	ShareFileRemoved bool
}

// MergeShare implements merge_share (§4.6), invoked on the target
// sheet. Safe mode rejects on any conflict with AlreadyExists and
// leaves target state (and the share file) untouched. Overwrite and
// Skip both mutate target and then delete the share file.
func (st *Store) MergeShare(target *Sheet, shareID string, share Share, mode MergeMode) (MergeResult, error) {
	type conflict struct {
		path         string
		dupMapping   bool
		dupFileAt    string // existing path holding the same vf_id, if any
	}
	var conflicts []conflict
	for path, entry := range share.Mappings {
		c := conflict{path: path}
		if _, ok := target.Lookup(path); ok {
			c.dupMapping = true
		}
		if existingPath, ok := target.PathForVFID(entry.VFID); ok {
			c.dupFileAt = existingPath
		}
		if c.dupMapping || c.dupFileAt != "" {
			conflicts = append(conflicts, c)
		}
	}

	if mode == MergeSafe {
		if len(conflicts) > 0 {
			return MergeResult{}, jvcserr.ErrHasConflicts
		}
		for path, entry := range share.Mappings {
			target.paths.Set(path, entry.VFID)
			target.versions[path] = entry.Version
		}
	} else {
		conflictPaths := make(map[string]conflict, len(conflicts))
		for _, c := range conflicts {
			conflictPaths[c.path] = c
		}
		for path, entry := range share.Mappings {
			c, isConflict := conflictPaths[path]
			switch mode {
			case MergeOverwrite:
				if isConflict && c.dupFileAt != "" && c.dupFileAt != path {
					target.paths.DeleteForward(c.dupFileAt)
					delete(target.versions, c.dupFileAt)
				}
				target.paths.Set(path, entry.VFID)
				target.versions[path] = entry.Version
			case MergeSkip:
				if isConflict {
					continue
				}
				target.paths.Set(path, entry.VFID)
				target.versions[path] = entry.Version
			}
		}
	}

	if err := st.Save(target); err != nil {
		return MergeResult{}, err
	}

	removeErr := os.Remove(st.sharePath(target.Name, shareID))
	return MergeResult{Applied: true, ShareFileRemoved: removeErr == nil}, nil
}
