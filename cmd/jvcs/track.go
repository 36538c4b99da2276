package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/jvcs/jvcs/internal/actions"
	"github.com/jvcs/jvcs/internal/analyzer"
	"github.com/jvcs/jvcs/internal/hashutil"
	"github.com/jvcs/jvcs/internal/localws"
	"github.com/jvcs/jvcs/internal/vault"
	"github.com/jvcs/jvcs/internal/wire"
)

// runTrack drives §4.9's track pipeline end to end: local classification
// (pure, no wire use), then one wire round trip per path through the
// create/verify_update+update_one/sync_lookup actions, folding each
// result back into LocalSheet.
func runTrack(logger *logrus.Logger) error {
	w := localws.Open(*workspaceRoot)
	cfg, err := w.LoadConfig()
	if err != nil {
		return err
	}
	account := cfg.UsingAccount

	analyzed, err := analyzer.Analyze(w, account, *trackSheet)
	if err != nil {
		return err
	}
	local, err := w.LoadLocalSheet(account, *trackSheet)
	if err != nil {
		return err
	}
	latestFileData, err := w.LoadLatestFileData(account)
	if err != nil {
		return err
	}
	hints, err := parseHints(*trackHintsJSON)
	if err != nil {
		return err
	}

	// A sheet is non-modifiable only when it's the reference sheet and
	// this account isn't the host (§4.9).
	modifiable := *trackSheet != vault.RefSheetName || account == vault.HostMemberID

	classified, err := actions.TrackClassify(actions.ClassifyInput{
		Paths:                  *trackPaths,
		Hints:                  hints,
		LocalSheet:             local,
		Analyzer:               analyzed,
		LatestFileData:         latestFileData,
		Me:                     account,
		AllowOverwriteModified: *trackAllowOverwrite,
		SheetModifiable:        modifiable,
	})
	if err != nil {
		return err
	}

	c, err := dial(account, *trackKeyPath, cfg.UpstreamAddr)
	if err != nil {
		return err
	}
	defer c.Close()

	result := actions.TrackOutcome{Skipped: append([]string(nil), classified.Skipped...)}

	for _, p := range classified.CreatedTask {
		vfID, version, err := clientCreateOne(c, w, *trackSheet, p)
		if err != nil {
			logger.Errorf("create %s: %v", p, err)
			result.Skipped = append(result.Skipped, p)
			continue
		}
		if err := recordLocalMapping(w, &local, p, vfID, version, ""); err != nil {
			return err
		}
		result.Created = append(result.Created, p)
	}

	for _, p := range classified.UpdateTask {
		hint, ok := hints[p]
		if !ok {
			logger.Warnf("update %s: no file_update_info hint supplied, skipping", p)
			result.Skipped = append(result.Skipped, p)
			continue
		}
		entry := local.Mapping[p]
		reason, err := clientVerifyUpdate(c, *trackSheet, p, entry.VersionWhenUpdated, hint)
		if err != nil {
			return err
		}
		if reason != int(actions.VerifyOK) {
			logger.Warnf("update %s: verify failed, reason=%d", p, reason)
			result.Skipped = append(result.Skipped, p)
			continue
		}
		vfID := entry.MappingVFID
		version, err := clientUpdateOne(c, w, *trackSheet, p, hint)
		if err != nil {
			logger.Errorf("update %s: %v", p, err)
			result.Skipped = append(result.Skipped, p)
			continue
		}
		if err := recordLocalMapping(w, &local, p, vfID, version, hint.Description); err != nil {
			return err
		}
		result.Updated = append(result.Updated, p)
	}

	for _, p := range classified.SyncTask {
		meta, err := clientSyncOne(c, w, *trackSheet, p)
		if err != nil {
			logger.Errorf("sync %s: %v", p, err)
			result.Skipped = append(result.Skipped, p)
			continue
		}
		local.Mapping[p] = meta
		result.Synced = append(result.Synced, p)
	}

	if err := w.SaveLocalSheet(account, *trackSheet, local); err != nil {
		return err
	}
	if result.VaultModified() {
		if err := w.SetVaultModified(true); err != nil {
			return err
		}
	}

	logger.Infof("created=%v updated=%v synced=%v skipped=%v", result.Created, result.Updated, result.Synced, result.Skipped)
	return nil
}

func parseHints(hintsJSON string) (map[string]actions.VersionHint, error) {
	var raw map[string]struct {
		NextVersion string `json:"next_version"`
		Description string `json:"description"`
	}
	if err := json.Unmarshal([]byte(hintsJSON), &raw); err != nil {
		return nil, fmt.Errorf("invalid hints json: %w", err)
	}
	hints := make(map[string]actions.VersionHint, len(raw))
	for path, h := range raw {
		hints[path] = actions.VersionHint{NextVersion: h.NextVersion, Description: h.Description}
	}
	return hints, nil
}

// recordLocalMapping re-hashes the now-in-sync path from disk and
// folds the result into LocalSheet's staleness cache (§4.9's Create
// and Update subphases both end this way).
func recordLocalMapping(w *localws.Workspace, local *localws.LocalSheetData, path, vfID, version, description string) error {
	content, err := os.ReadFile(filepath.Join(w.Root, path))
	if err != nil {
		return err
	}
	info, err := os.Stat(filepath.Join(w.Root, path))
	if err != nil {
		return err
	}
	hash := hashutil.PathFingerprint(string(content))
	local.Mapping[path] = localws.LocalMappingMetadata{
		HashWhenUpdated:        hash,
		TimeWhenUpdated:        info.ModTime().UnixNano(),
		SizeWhenUpdated:        info.Size(),
		VersionDescWhenUpdated: description,
		VersionWhenUpdated:     version,
		MappingVFID:            vfID,
		LastModifyCheckTime:    info.ModTime().UnixNano(),
		LastModifyCheckHash:    hash,
		LastModifyCheckResult:  false,
	}
	return nil
}

func clientCreateOne(c *wire.Conn, w *localws.Workspace, sheetName, path string) (vfID, version string, err error) {
	argsJSON, err := json.Marshal(createOneArgs{SheetName: sheetName, Path: path})
	if err != nil {
		return "", "", err
	}
	if err := wire.Write(c, invocation{ActionName: "create_one", ActionArgsJSON: string(argsJSON)}); err != nil {
		return "", "", err
	}
	if err := c.WriteFile(filepath.Join(w.Root, path)); err != nil {
		return "", "", err
	}
	out, err := wire.Read[outcome](c)
	if err != nil {
		return "", "", err
	}
	if !out.OK {
		return "", "", fmt.Errorf("create_one: %s", out.Err)
	}
	var ret createOneRet
	if err := json.Unmarshal([]byte(out.ResultJSON), &ret); err != nil {
		return "", "", err
	}
	return ret.VFID, ret.Version, nil
}

func clientVerifyUpdate(c *wire.Conn, sheetName, path, clientVersion string, hint actions.VersionHint) (int, error) {
	argsJSON, err := json.Marshal(verifyUpdateArgs{
		SheetName:     sheetName,
		Path:          path,
		ClientVersion: clientVersion,
		NextVersion:   hint.NextVersion,
		Description:   hint.Description,
	})
	if err != nil {
		return 0, err
	}
	if err := wire.Write(c, invocation{ActionName: "verify_update", ActionArgsJSON: string(argsJSON)}); err != nil {
		return 0, err
	}
	out, err := wire.Read[outcome](c)
	if err != nil {
		return 0, err
	}
	if !out.OK {
		return 0, fmt.Errorf("verify_update: %s", out.Err)
	}
	var ret verifyUpdateRet
	if err := json.Unmarshal([]byte(out.ResultJSON), &ret); err != nil {
		return 0, err
	}
	return ret.Reason, nil
}

func clientUpdateOne(c *wire.Conn, w *localws.Workspace, sheetName, path string, hint actions.VersionHint) (string, error) {
	argsJSON, err := json.Marshal(updateOneArgs{
		SheetName:   sheetName,
		Path:        path,
		NewVersion:  hint.NextVersion,
		Description: hint.Description,
	})
	if err != nil {
		return "", err
	}
	if err := wire.Write(c, invocation{ActionName: "update_one", ActionArgsJSON: string(argsJSON)}); err != nil {
		return "", err
	}
	if err := c.WriteFile(filepath.Join(w.Root, path)); err != nil {
		return "", err
	}
	out, err := wire.Read[outcome](c)
	if err != nil {
		return "", err
	}
	if !out.OK {
		return "", fmt.Errorf("update_one: %s", out.Err)
	}
	var ret updateOneRet
	if err := json.Unmarshal([]byte(out.ResultJSON), &ret); err != nil {
		return "", err
	}
	return ret.Version, nil
}

// clientSyncOne implements the client half of §4.9's "Sync subphase":
// the server streams the file body before the outcome frame, so the
// download must be read in that order; the body lands at a temp path
// first, then moves into place once the outcome confirms success.
func clientSyncOne(c *wire.Conn, w *localws.Workspace, sheetName, path string) (localws.LocalMappingMetadata, error) {
	argsJSON, err := json.Marshal(syncLookupArgs{SheetName: sheetName, Path: path})
	if err != nil {
		return localws.LocalMappingMetadata{}, err
	}
	if err := wire.Write(c, invocation{ActionName: "sync_lookup", ActionArgsJSON: string(argsJSON)}); err != nil {
		return localws.LocalMappingMetadata{}, err
	}

	if err := os.MkdirAll(w.DownloadTempDir(), 0o755); err != nil {
		return localws.LocalMappingMetadata{}, err
	}
	tmpPath := filepath.Join(w.DownloadTempDir(), uuid.NewString())
	if err := c.ReadFile(tmpPath); err != nil {
		return localws.LocalMappingMetadata{}, err
	}

	out, err := wire.Read[outcome](c)
	if err != nil {
		os.Remove(tmpPath)
		return localws.LocalMappingMetadata{}, err
	}
	if !out.OK {
		os.Remove(tmpPath)
		return localws.LocalMappingMetadata{}, fmt.Errorf("sync_lookup: %s", out.Err)
	}
	var ret syncLookupRet
	if err := json.Unmarshal([]byte(out.ResultJSON), &ret); err != nil {
		os.Remove(tmpPath)
		return localws.LocalMappingMetadata{}, err
	}

	content, err := os.ReadFile(tmpPath)
	if err != nil {
		return localws.LocalMappingMetadata{}, err
	}
	destPath := filepath.Join(w.Root, path)
	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return localws.LocalMappingMetadata{}, err
	}
	if err := os.Rename(tmpPath, destPath); err != nil {
		return localws.LocalMappingMetadata{}, err
	}
	info, err := os.Stat(destPath)
	if err != nil {
		return localws.LocalMappingMetadata{}, err
	}
	hash := hashutil.PathFingerprint(string(content))
	return localws.LocalMappingMetadata{
		HashWhenUpdated:        hash,
		TimeWhenUpdated:        info.ModTime().UnixNano(),
		SizeWhenUpdated:        info.Size(),
		VersionDescWhenUpdated: ret.Description,
		VersionWhenUpdated:     ret.Version,
		MappingVFID:            ret.VFID,
		LastModifyCheckTime:    info.ModTime().UnixNano(),
		LastModifyCheckHash:    hash,
		LastModifyCheckResult:  false,
	}, nil
}
