// Package analyzer implements the local workspace analyzer of §4.7:
// given the filesystem, a LocalSheet, and a CachedSheet, it partitions
// the workspace into moved/created/lost/erased/modified sets.
package analyzer

import (
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/alitto/pond"

	"github.com/jvcs/jvcs/internal/hashutil"
	"github.com/jvcs/jvcs/internal/jvcserr"
	"github.com/jvcs/jvcs/internal/localws"
)

// hashPoolSize bounds the parallel-hashing fan-out of the created-file
// pass (§4.7: "parallel, bounded").
const hashPoolSize = 8

// MovedEntry is one moved[vf_id] record (§4.7).
type MovedEntry struct {
	From string
	To   string
}

// Result is the analyzer's partition of the workspace (§4.7).
type Result struct {
	Moved    map[string]MovedEntry
	Created  []string
	Lost     []string
	Erased   []string
	Modified []string
}

// Analyze runs the full §4.7 algorithm against workspaceRoot, mutating
// and persisting the local sheet's staleness cache as it goes (the
// "Modified pass" step requires this side effect to be cheap on the
// next run).
func Analyze(w *localws.Workspace, account, sheetName string) (Result, error) {
	local, err := w.LoadLocalSheet(account, sheetName)
	if err != nil {
		return Result{}, err
	}
	cached, err := w.LoadCachedSheet(sheetName)
	if err != nil {
		return Result{}, err
	}

	fsPaths, err := enumerate(w.Root)
	if err != nil {
		return Result{}, err
	}
	fsSet := toSet(fsPaths)

	localPaths := make([]string, 0, len(local.Mapping))
	for p := range local.Mapping {
		localPaths = append(localPaths, p)
	}
	localSet := toSet(localPaths)

	tentativeLost := setDiff(localSet, fsSet)
	tentativeNew := setDiff(fsSet, localSet)

	erased := map[string]struct{}{}
	for p := range local.Mapping {
		if _, ok := cached.Mapping[p]; !ok {
			erased[p] = struct{}{}
		}
	}

	newHashes, err := hashAll(w.Root, setKeys(tentativeNew))
	if err != nil {
		return Result{}, err
	}

	lostByHash := map[string]string{}
	for p := range tentativeLost {
		meta := local.Mapping[p]
		h := meta.LastModifyCheckHash
		if h == "" {
			h = meta.HashWhenUpdated
		}
		if h != "" {
			lostByHash[h] = p
		}
	}

	moved := map[string]MovedEntry{}
	for p, h := range newHashes {
		if lostPath, ok := lostByHash[h]; ok {
			vfID := local.Mapping[lostPath].MappingVFID
			moved[vfID] = MovedEntry{From: lostPath, To: p}
			delete(tentativeNew, p)
			delete(tentativeLost, lostPath)
		}
	}

	result := Result{
		Moved:    moved,
		Created:  setKeys(tentativeNew),
		Lost:     setKeys(tentativeLost),
		Erased:   setKeys(erased),
	}

	modified, err := modifiedPass(w.Root, local, fsPaths)
	if err != nil {
		return Result{}, err
	}
	result.Modified = modified

	if err := w.SaveLocalSheet(account, sheetName, local); err != nil {
		return Result{}, err
	}
	return result, nil
}

func enumerate(root string) ([]string, error) {
	var out []string
	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			return relErr
		}
		if rel == "." {
			return nil
		}
		if info.IsDir() {
			if rel == localws.JVDir {
				return filepath.SkipDir
			}
			return nil
		}
		if isUnderJVDir(rel) {
			return nil
		}
		out = append(out, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, jvcserr.New(jvcserr.KindIO, "analyzer.enumerate", err)
	}
	return out, nil
}

func isUnderJVDir(rel string) bool {
	first := rel
	if idx := filepath.IndexRune(rel, filepath.Separator); idx >= 0 {
		first = rel[:idx]
	}
	return first == localws.JVDir
}

func toSet(paths []string) map[string]struct{} {
	s := make(map[string]struct{}, len(paths))
	for _, p := range paths {
		s[p] = struct{}{}
	}
	return s
}

func setDiff(a, b map[string]struct{}) map[string]struct{} {
	out := map[string]struct{}{}
	for k := range a {
		if _, ok := b[k]; !ok {
			out[k] = struct{}{}
		}
	}
	return out
}

func setKeys(s map[string]struct{}) []string {
	out := make([]string, 0, len(s))
	for k := range s {
		out = append(out, k)
	}
	return out
}

// hashAll computes the whole-file content hash of each relative path
// under root, bounded-parallel per §4.7.
func hashAll(root string, relPaths []string) (map[string]string, error) {
	pool := pond.New(hashPoolSize, 0, pond.MinWorkers(1))
	defer pool.StopAndWait()

	var mu sync.Mutex
	results := make(map[string]string, len(relPaths))
	var firstErr error

	for _, rel := range relPaths {
		rel := rel
		pool.Submit(func() {
			f, err := os.Open(filepath.Join(root, rel))
			if err != nil {
				mu.Lock()
				if firstErr == nil {
					firstErr = jvcserr.New(jvcserr.KindIO, "analyzer.hashAll", err)
				}
				mu.Unlock()
				return
			}
			defer f.Close()
			content, err := io.ReadAll(f)
			if err != nil {
				mu.Lock()
				if firstErr == nil {
					firstErr = jvcserr.New(jvcserr.KindIO, "analyzer.hashAll", err)
				}
				mu.Unlock()
				return
			}
			mu.Lock()
			results[rel] = hashutil.PathFingerprint(string(content))
			mu.Unlock()
		})
	}
	pool.StopAndWait()
	if firstErr != nil {
		return nil, firstErr
	}
	return results, nil
}

// modifiedPass implements §4.7's "Modified pass": for every path still
// on disk and known to LocalSheet, compares mtime against the
// staleness cache, recomputing the hash only when mtime changed.
func modifiedPass(root string, local localws.LocalSheetData, fsPaths []string) ([]string, error) {
	var modified []string
	for _, rel := range fsPaths {
		meta, ok := local.Mapping[rel]
		if !ok {
			continue
		}
		info, err := os.Stat(filepath.Join(root, rel))
		if err != nil {
			return nil, jvcserr.New(jvcserr.KindIO, "analyzer.modifiedPass", err)
		}
		mtime := info.ModTime().UnixNano()
		if mtime == meta.LastModifyCheckTime {
			if meta.LastModifyCheckResult {
				modified = append(modified, rel)
			}
			continue
		}

		f, err := os.Open(filepath.Join(root, rel))
		if err != nil {
			return nil, jvcserr.New(jvcserr.KindIO, "analyzer.modifiedPass", err)
		}
		content, err := io.ReadAll(f)
		f.Close()
		if err != nil {
			return nil, jvcserr.New(jvcserr.KindIO, "analyzer.modifiedPass", err)
		}
		hashStr := hashutil.PathFingerprint(string(content))
		differs := hashStr != meta.HashWhenUpdated

		meta.LastModifyCheckTime = mtime
		meta.LastModifyCheckHash = hashStr
		meta.LastModifyCheckResult = differs
		local.Mapping[rel] = meta

		if differs {
			modified = append(modified, rel)
		}
	}
	return modified, nil
}
