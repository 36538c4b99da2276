package actions

import (
	"github.com/jvcs/jvcs/internal/jvcserr"
	"github.com/jvcs/jvcs/internal/sheet"
	"github.com/jvcs/jvcs/internal/vfstore"
)

// VerifyFailReason enumerates why the update subphase's server-side
// precheck refused a path (§4.9 "Update subphase").
type VerifyFailReason int

const (
	VerifyOK VerifyFailReason = iota
	VerifyNoHint
	VerifySheetMissing
	VerifyMappingMissing
	VerifyFileMissing
	VerifyVersionAlreadyExists
	VerifyNotHolder
	VerifyClientVersionStale
)

// CreateOne implements the server side of §4.9's "Create subphase" for
// a single path: confirms the sheet exists and path is unmapped, then
// creates the virtual file and records the mapping.
func CreateOne(vf *vfstore.Store, sheets *sheet.Store, sheetName, path, member, stagedPath string) (vfID string, meta vfstore.Meta, err error) {
	s, err := sheets.Get(sheetName)
	if err != nil {
		return "", vfstore.Meta{}, err
	}
	if _, exists := s.Lookup(path); exists {
		return "", vfstore.Meta{}, jvcserr.New(jvcserr.KindAlreadyExists, "actions.CreateOne", nil)
	}

	vfID, meta, err = vf.Create(member, stagedPath)
	if err != nil {
		return "", vfstore.Meta{}, err
	}
	if err := s.AddMapping(vf, path, vfID, vfstore.InitialVersion); err != nil {
		return "", vfstore.Meta{}, err
	}
	if err := sheets.Save(s); err != nil {
		return "", vfstore.Meta{}, err
	}
	return vfID, meta, nil
}

// VerifyUpdate runs the server-side precheck of §4.9's "Update
// subphase", in the exact order the spec lists, before any file is
// received.
func VerifyUpdate(vf *vfstore.Store, sheets *sheet.Store, sheetName, path, member, clientVersion string, hint VersionHint) (VerifyFailReason, error) {
	if hint.NextVersion == "" {
		return VerifyNoHint, nil
	}
	s, err := sheets.Get(sheetName)
	if err != nil {
		return VerifySheetMissing, nil
	}
	entry, ok := s.Lookup(path)
	if !ok {
		return VerifyMappingMissing, nil
	}
	if !vf.Exists(entry.VFID) {
		return VerifyFileMissing, nil
	}
	meta, err := vf.ReadMeta(entry.VFID)
	if err != nil {
		return VerifyFileMissing, nil
	}
	if meta.IndexOf(hint.NextVersion) >= 0 {
		return VerifyVersionAlreadyExists, nil
	}
	if meta.HoldMember != member {
		return VerifyNotHolder, nil
	}
	if clientVersion != meta.LatestVersion() {
		return VerifyClientVersionStale, nil
	}
	return VerifyOK, nil
}

// UpdateOne implements the server side of §4.9's "Update subphase"
// once VerifyUpdate has passed and the client has streamed its file.
func UpdateOne(vf *vfstore.Store, sheets *sheet.Store, sheetName, path, member, newVersion, description, stagedPath string) (vfstore.Meta, error) {
	s, err := sheets.Get(sheetName)
	if err != nil {
		return vfstore.Meta{}, err
	}
	entry, ok := s.Lookup(path)
	if !ok {
		return vfstore.Meta{}, jvcserr.New(jvcserr.KindNotFound, "actions.UpdateOne", nil)
	}
	meta, err := vf.Update(member, entry.VFID, newVersion, description, stagedPath)
	if err != nil {
		return vfstore.Meta{}, err
	}
	if err := s.BumpVersion(path, meta.CurrentVersion); err != nil {
		return vfstore.Meta{}, err
	}
	if err := sheets.Save(s); err != nil {
		return vfstore.Meta{}, err
	}
	return meta, nil
}

// SyncLookup implements the server side of §4.9's "Sync subphase":
// resolves a path's mapping to its latest version, for the caller to
// stream the file body from vf.VersionPath(...).
func SyncLookup(vf *vfstore.Store, sheets *sheet.Store, sheetName, path string) (vfID, version string, desc vfstore.VersionDescription, err error) {
	s, err := sheets.Get(sheetName)
	if err != nil {
		return "", "", vfstore.VersionDescription{}, err
	}
	entry, ok := s.Lookup(path)
	if !ok {
		return "", "", vfstore.VersionDescription{}, jvcserr.New(jvcserr.KindNotFound, "actions.SyncLookup", nil)
	}
	meta, err := vf.ReadMeta(entry.VFID)
	if err != nil {
		return "", "", vfstore.VersionDescription{}, err
	}
	latest := meta.LatestVersion()
	return entry.VFID, latest, meta.VersionDescription[latest], nil
}
