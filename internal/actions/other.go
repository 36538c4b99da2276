package actions

import (
	"fmt"

	"github.com/jvcs/jvcs/internal/jvcserr"
	"github.com/jvcs/jvcs/internal/localws"
	"github.com/jvcs/jvcs/internal/sheet"
	"github.com/jvcs/jvcs/internal/strnorm"
	"github.com/jvcs/jvcs/internal/vault"
	"github.com/jvcs/jvcs/internal/vaultlog"
	"github.com/jvcs/jvcs/internal/vfstore"
)

// SetUpstreamVault implements §4.10: after authenticating against
// upstreamAddr and reading the server's vault_uuid, it stains an
// unstained workspace, redirects if the uuid already matches, and
// refuses (AlreadyStained) if the workspace is bound to a different
// vault.
func SetUpstreamVault(w *localws.Workspace, upstreamAddr, remoteVaultUUID string) error {
	if err := w.Stain(remoteVaultUUID); err != nil {
		return err
	}
	cfg, err := w.LoadConfig()
	if err != nil {
		return err
	}
	cfg.UpstreamAddr = upstreamAddr
	return w.SaveConfig(cfg)
}

// MakeSheet implements §4.10's make_sheet: host-mode callers hold the
// new sheet as vault.HostMemberID.
func MakeSheet(v *vault.Vault, name string, isHostMode bool, member string) (*sheet.Sheet, error) {
	holder := member
	if isHostMode {
		holder = vault.HostMemberID
	}
	s, err := v.Sheets.Create(name, holder)
	if err != nil {
		return nil, err
	}
	v.Audit(holder, vaultlog.OpSheetCreate, name, "")
	return s, nil
}

// DropSheet implements §4.10's drop_sheet: "drop" forgets the holder,
// it never deletes the sheet. usingSheet reports whether the
// requesting client currently has this sheet checked out; the action
// refuses to drop a sheet in active use.
func DropSheet(v *vault.Vault, name string, usingSheet bool) error {
	if usingSheet {
		return jvcserr.New(jvcserr.KindPermissionDenied, "actions.DropSheet", nil)
	}
	if err := v.Sheets.ForgetHolder(name); err != nil {
		return err
	}
	v.Audit("", vaultlog.OpSheetDelete, name, "holder forgotten")
	return nil
}

// MappingOp is one batch operation of edit_mapping (§4.10): Move
// renames SourcePath to DestPath (DestPath non-empty), Erase removes
// SourcePath (DestPath empty).
type MappingOp struct {
	SourcePath string
	DestPath   string
}

// EditMapping implements §4.10's edit_mapping: atomic precheck (every
// source exists, no destination collides with an existing mapping or
// another op's destination) before applying any op.
func EditMapping(vf *vault.Vault, s *sheet.Sheet, ops []MappingOp) error {
	destinations := map[string]struct{}{}
	for _, op := range ops {
		if _, ok := s.Lookup(op.SourcePath); !ok {
			return jvcserr.New(jvcserr.KindNotFound, "actions.EditMapping", nil)
		}
		if op.DestPath == "" {
			continue
		}
		if _, exists := destinations[op.DestPath]; exists {
			return jvcserr.New(jvcserr.KindAlreadyExists, "actions.EditMapping", nil)
		}
		destinations[op.DestPath] = struct{}{}
		if _, ok := s.Lookup(op.DestPath); ok {
			return jvcserr.New(jvcserr.KindAlreadyExists, "actions.EditMapping", nil)
		}
	}

	for _, op := range ops {
		entry, _ := s.Lookup(op.SourcePath)
		vfID, err := s.RemoveMapping(vf.VF, op.SourcePath)
		if err != nil {
			return err
		}
		if op.DestPath == "" {
			continue // erase
		}
		if err := s.AddMapping(vf.VF, op.DestPath, vfID, entry.Version); err != nil {
			return err
		}
	}
	vf.Audit("", vaultlog.OpSheetMappingChange, s.Name, fmt.Sprintf("%d ops", len(ops)))
	return nil
}

// ShareMapping implements the share_mapping half of §4.10/§4.6.
func ShareMapping(v *vault.Vault, source *sheet.Sheet, targetSheetName string, paths []string, sharer, description string) (string, error) {
	shareID, err := v.Sheets.ShareMappings(source, targetSheetName, paths, sharer, description)
	if err != nil {
		return "", err
	}
	v.Audit(sharer, vaultlog.OpShareCreate, targetSheetName, shareID)
	return shareID, nil
}

// MergeShareMapping implements merge_share_mapping (§4.10/§4.6); its
// result flows HasConflicts back to the caller for Safe-mode
// conflicts, per the spec's explicit note.
func MergeShareMapping(v *vault.Vault, target *sheet.Sheet, shareID, targetSheetName string, mode sheet.MergeMode) (sheet.MergeResult, error) {
	share, err := v.Sheets.LoadShare(targetSheetName, shareID)
	if err != nil {
		return sheet.MergeResult{}, err
	}
	result, err := v.Sheets.MergeShare(target, shareID, share, mode)
	if err != nil {
		return sheet.MergeResult{}, err
	}
	if result.Applied {
		v.Audit("", vaultlog.OpShareMerge, targetSheetName, shareID)
	}
	return result, nil
}

// EditRightDisposition selects Hold or Throw for
// change_virtual_file_edit_right (§4.10).
type EditRightDisposition int

const (
	DispositionHold EditRightDisposition = iota
	DispositionThrow
)

// EditRightRequest is one (path, disposition) entry of
// change_virtual_file_edit_right's batch (§4.10).
type EditRightRequest struct {
	Path        string
	Disposition EditRightDisposition
}

// ChangeEditRightResult lists which requested paths succeeded per
// §4.10's "returns success lists".
type ChangeEditRightResult struct {
	Held    []string
	Thrown  []string
	Refused []string
}

// ChangeVirtualFileEditRight implements §4.10: the server switches
// holder per entry iff allowed (Hold requires the vf is currently
// unheld; Throw requires member currently holds it).
func ChangeVirtualFileEditRight(vf *vfstore.Store, s *sheet.Sheet, member string, reqs []EditRightRequest) (ChangeEditRightResult, error) {
	var result ChangeEditRightResult
	for _, req := range reqs {
		entry, ok := s.Lookup(req.Path)
		if !ok {
			result.Refused = append(result.Refused, req.Path)
			continue
		}
		meta, err := vf.ReadMeta(entry.VFID)
		if err != nil {
			result.Refused = append(result.Refused, req.Path)
			continue
		}
		switch req.Disposition {
		case DispositionHold:
			if meta.IsHeld() {
				result.Refused = append(result.Refused, req.Path)
				continue
			}
			if err := vf.GrantEditRight(member, entry.VFID); err != nil {
				return ChangeEditRightResult{}, err
			}
			result.Held = append(result.Held, req.Path)
		case DispositionThrow:
			if meta.HoldMember != member {
				result.Refused = append(result.Refused, req.Path)
				continue
			}
			if err := vf.RevokeEditRight(entry.VFID); err != nil {
				return ChangeEditRightResult{}, err
			}
			result.Thrown = append(result.Thrown, req.Path)
		}
	}
	return result, nil
}

// NormalizeSheetName is the snake_case normalization every sheet-name
// accepting action applies (§3, §4.6) before lookups.
func NormalizeSheetName(name string) string { return strnorm.SnakeCase(name) }

// ReconcileCachedSheetRenames implements the client-side tail of
// update_to_latest_info (§4.10): a freshly received CachedSheet may
// show a path under a new name for a vf_id the LocalSheet still has
// filed under its old path (the server-side counterpart ran
// edit_mapping); fold that rename into LocalSheet without touching its
// staleness-cache fields.
func ReconcileCachedSheetRenames(local localws.LocalSheetData, cached sheet.Data) localws.LocalSheetData {
	oldPathForVFID := map[string]string{}
	for path, meta := range local.Mapping {
		if meta.MappingVFID != "" {
			oldPathForVFID[meta.MappingVFID] = path
		}
	}

	for vfID, newPath := range cached.IDMapping {
		oldPath, tracked := oldPathForVFID[vfID]
		if !tracked || oldPath == newPath {
			continue
		}
		meta := local.Mapping[oldPath]
		delete(local.Mapping, oldPath)
		local.Mapping[newPath] = meta
	}
	return local
}
