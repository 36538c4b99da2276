// Package localws implements the client-side workspace of §3 and §6:
// workspace.toml, LocalSheet/CachedSheet caches, and the LatestInfo /
// LatestFileData account caches, all rooted at a workspace's .jv/
// directory.
package localws

import (
	"os"
	"path/filepath"

	"github.com/jvcs/jvcs/internal/config"
	"github.com/jvcs/jvcs/internal/jvcserr"
	"github.com/jvcs/jvcs/internal/localstate"
	"github.com/jvcs/jvcs/internal/sheet"
)

// JVDir is the hidden workspace metadata directory (§6).
const JVDir = ".jv"

// WorkspaceConfig is the .jv/workspace.toml record (§6).
type WorkspaceConfig struct {
	UpstreamAddr string `toml:"upstream_addr" json:"upstream_addr" yaml:"upstream_addr"`
	UsingAccount string `toml:"using_account" json:"using_account" yaml:"using_account"`
	StainedUUID  string `toml:"stained_uuid" json:"stained_uuid" yaml:"stained_uuid"`
}

// Stained reports whether the workspace has been bound to a vault_uuid.
func (c WorkspaceConfig) Stained() bool { return c.StainedUUID != "" }

// LocalMappingMetadata is one LocalSheet entry (§3): the
// staleness-cache the modified-detection pass in internal/analyzer
// reads and writes.
type LocalMappingMetadata struct {
	HashWhenUpdated        string `json:"hash_when_updated"`
	TimeWhenUpdated        int64  `json:"time_when_updated"`
	SizeWhenUpdated        int64  `json:"size_when_updated"`
	VersionDescWhenUpdated string `json:"version_desc_when_updated"`
	VersionWhenUpdated     string `json:"version_when_updated"`
	MappingVFID            string `json:"mapping_vfid"`
	LastModifyCheckTime    int64  `json:"last_modify_check_time"`
	LastModifyCheckHash    string `json:"last_modify_check_hash,omitempty"`
	LastModifyCheckResult  bool   `json:"last_modify_check_result"`
}

// LocalSheetData is the serializable form of a LocalSheet (§3).
type LocalSheetData struct {
	Mapping map[string]LocalMappingMetadata `json:"mapping"`
}

// Workspace is a handle onto one checked-out directory's .jv/ tree.
type Workspace struct {
	Root string // the working directory being tracked
}

func (w *Workspace) jvPath(parts ...string) string {
	return filepath.Join(append([]string{w.Root, JVDir}, parts...)...)
}

// Open wraps an existing directory as a Workspace handle; it does not
// require .jv/ to already exist (see Setup).
func Open(root string) *Workspace { return &Workspace{Root: root} }

// Setup implements setup_local_workspace (§3): creates the .jv/
// skeleton directories, writing an unstained workspace.toml if one
// doesn't already exist.
func Setup(root, upstreamAddr, usingAccount string) (*Workspace, error) {
	w := &Workspace{Root: root}
	for _, dir := range []string{
		w.jvPath(),
		w.jvPath("sheets", "local", usingAccount),
		w.jvPath("sheets", "cached"),
		w.jvPath("latest"),
		w.jvPath(".temp", "download"),
	} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, jvcserr.New(jvcserr.KindIO, "localws.Setup", err)
		}
	}
	cfgPath := w.jvPath("workspace.toml")
	if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
		cfg := WorkspaceConfig{UpstreamAddr: upstreamAddr, UsingAccount: usingAccount}
		if err := config.Save(cfgPath, cfg); err != nil {
			return nil, err
		}
	}
	return w, nil
}

// LoadConfig reads .jv/workspace.toml.
func (w *Workspace) LoadConfig() (WorkspaceConfig, error) {
	var cfg WorkspaceConfig
	if err := config.Load(w.jvPath("workspace.toml"), &cfg); err != nil {
		return WorkspaceConfig{}, err
	}
	return cfg, nil
}

// SaveConfig persists .jv/workspace.toml.
func (w *Workspace) SaveConfig(cfg WorkspaceConfig) error {
	return config.Save(w.jvPath("workspace.toml"), cfg)
}

// Stain implements the "first successful authenticated connect" half
// of LocalWorkspace's lifecycle (§3): binds the workspace to
// vaultUUID, refusing to rebind to a different vault.
func (w *Workspace) Stain(vaultUUID string) error {
	cfg, err := w.LoadConfig()
	if err != nil {
		return err
	}
	if cfg.Stained() {
		if cfg.StainedUUID != vaultUUID {
			return jvcserr.ErrAlreadyStained
		}
		return nil
	}
	cfg.StainedUUID = vaultUUID
	return w.SaveConfig(cfg)
}

func (w *Workspace) localSheetPath(account, sheetName string) string {
	return w.jvPath("sheets", "local", account, sheetName+".cfg")
}

func (w *Workspace) cachedSheetPath(sheetName string) string {
	return w.jvPath("sheets", "cached", sheetName+".cfg")
}

// LoadLocalSheet reads one account's LocalSheet cache for sheetName,
// defaulting to an empty mapping if absent.
func (w *Workspace) LoadLocalSheet(account, sheetName string) (LocalSheetData, error) {
	var d LocalSheetData
	if err := config.Load(w.localSheetPath(account, sheetName), &d); err != nil {
		return LocalSheetData{}, err
	}
	if d.Mapping == nil {
		d.Mapping = map[string]LocalMappingMetadata{}
	}
	return d, nil
}

// SaveLocalSheet persists one account's LocalSheet cache.
func (w *Workspace) SaveLocalSheet(account, sheetName string, d LocalSheetData) error {
	if err := os.MkdirAll(filepath.Dir(w.localSheetPath(account, sheetName)), 0o755); err != nil {
		return jvcserr.New(jvcserr.KindIO, "localws.SaveLocalSheet", err)
	}
	return config.Save(w.localSheetPath(account, sheetName), d)
}

// LoadCachedSheet reads the last-known server SheetData snapshot for
// sheetName.
func (w *Workspace) LoadCachedSheet(sheetName string) (sheet.Data, error) {
	var d sheet.Data
	if err := config.Load(w.cachedSheetPath(sheetName), &d); err != nil {
		return sheet.Data{}, err
	}
	return d, nil
}

// SaveCachedSheet persists a freshly received SheetData snapshot.
func (w *Workspace) SaveCachedSheet(sheetName string, d sheet.Data) error {
	return config.Save(w.cachedSheetPath(sheetName), d)
}

// LatestInfo is the per-account cache of visible sheets and roster
// (§3, §4.10).
type LatestInfo struct {
	MySheets    []string `json:"my_sheets"`
	OtherSheets []string `json:"other_sheets"`
	RefSheet    string   `json:"ref_sheet"`
	Roster      []string `json:"roster"`
}

// LatestFileData is the per-account cache of every cached sheet's
// holder/version state (§3, §4.10).
type LatestFileData struct {
	Holder  map[string]string `json:"holder"`  // vf_id -> member id holding edit right ("" if unheld)
	Version map[string]string `json:"version"` // vf_id -> latest version
}

func (w *Workspace) latestInfoPath(account string) string {
	return w.jvPath("latest", account+".vault.cfg")
}

func (w *Workspace) latestFileDataPath(account string) string {
	return w.jvPath("latest", account+".file.cfg")
}

// LoadLatestInfo reads an account's LatestInfo cache.
func (w *Workspace) LoadLatestInfo(account string) (LatestInfo, error) {
	var li LatestInfo
	if err := config.Load(w.latestInfoPath(account), &li); err != nil {
		return LatestInfo{}, err
	}
	return li, nil
}

// SaveLatestInfo persists an account's LatestInfo cache.
func (w *Workspace) SaveLatestInfo(account string, li LatestInfo) error {
	if err := os.MkdirAll(filepath.Dir(w.latestInfoPath(account)), 0o755); err != nil {
		return jvcserr.New(jvcserr.KindIO, "localws.SaveLatestInfo", err)
	}
	return config.Save(w.latestInfoPath(account), li)
}

// LoadLatestFileData reads an account's LatestFileData cache,
// defaulting to empty maps if absent.
func (w *Workspace) LoadLatestFileData(account string) (LatestFileData, error) {
	var lfd LatestFileData
	if err := config.Load(w.latestFileDataPath(account), &lfd); err != nil {
		return LatestFileData{}, err
	}
	if lfd.Holder == nil {
		lfd.Holder = map[string]string{}
	}
	if lfd.Version == nil {
		lfd.Version = map[string]string{}
	}
	return lfd, nil
}

// SaveLatestFileData persists an account's LatestFileData cache.
func (w *Workspace) SaveLatestFileData(account string, lfd LatestFileData) error {
	if err := os.MkdirAll(filepath.Dir(w.latestFileDataPath(account)), 0o755); err != nil {
		return jvcserr.New(jvcserr.KindIO, "localws.SaveLatestFileData", err)
	}
	return config.Save(w.latestFileDataPath(account), lfd)
}

// LoadHeldSet reads account's "which virtual files do I hold" read
// cache, refreshed wholesale by update_to_latest_info's third exchange.
func (w *Workspace) LoadHeldSet(account string) (localstate.HeldSet, error) {
	return localstate.LoadHeldSet(w.jvPath(), account)
}

// SaveHeldSet persists account's HeldSet cache wholesale.
func (w *Workspace) SaveHeldSet(account string, h localstate.HeldSet) error {
	if err := os.MkdirAll(w.jvPath("latest"), 0o755); err != nil {
		return jvcserr.New(jvcserr.KindIO, "localws.SaveHeldSet", err)
	}
	return localstate.SaveHeldSet(w.jvPath(), account, h)
}

// DownloadTempDir is where sync-subphase downloads are staged before
// being moved into place (§4.9).
func (w *Workspace) DownloadTempDir() string { return w.jvPath(".temp", "download") }

func (w *Workspace) vaultModifiedPath() string { return w.jvPath(".vault_modified") }

// SetVaultModified writes the .jv/.vault_modified sentinel.
func (w *Workspace) SetVaultModified(modified bool) error {
	val := "false"
	if modified {
		val = "true"
	}
	tmp := w.vaultModifiedPath() + ".tmp"
	if err := os.WriteFile(tmp, []byte(val), 0o644); err != nil {
		return jvcserr.New(jvcserr.KindIO, "localws.SetVaultModified", err)
	}
	if err := os.Rename(tmp, w.vaultModifiedPath()); err != nil {
		return jvcserr.New(jvcserr.KindIO, "localws.SetVaultModified", err)
	}
	return nil
}

// VaultModified reads the .jv/.vault_modified sentinel, defaulting to
// false if absent.
func (w *Workspace) VaultModified() (bool, error) {
	data, err := os.ReadFile(w.vaultModifiedPath())
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, jvcserr.New(jvcserr.KindIO, "localws.VaultModified", err)
	}
	return string(data) == "true", nil
}
