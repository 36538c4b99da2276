// Package vfstore implements the virtual-file store of §4.5 and §3:
// versioned, immutable blobs identified by a random vf_<uuid> id, with
// an exclusive edit-right lock. It composes on top of whole-file moves (the staged
// file is already on disk, written by the caller's wire layer) and
// deliberately does not know about the incremental-transfer
// subprotocol in internal/transfer (§4.4's closing note).
package vfstore

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/jvcs/jvcs/internal/config"
	"github.com/jvcs/jvcs/internal/jvcserr"
	"github.com/jvcs/jvcs/internal/strnorm"
)

// IDPrefix is the fixed prefix every virtual-file id carries (§3).
const IDPrefix = "vf_"

// InitialVersion is the version assigned on creation (§3).
const InitialVersion = "0"

// MetaFileName is the per-directory metadata record name (§3).
const MetaFileName = "meta.cfg"

// VersionDescription records who created a version and why (§3).
type VersionDescription struct {
	CreatorID   string `json:"creator_id"`
	Description string `json:"description"`
}

// Meta is the on-disk metadata record for one virtual file (§3). It is
// the only state vfstore persists outside of the version payload
// files themselves.
type Meta struct {
	CurrentVersion     string                         `json:"current_version"`
	HoldMember         string                         `json:"hold_member"`
	VersionDescription map[string]VersionDescription `json:"version_description"`
	Histories          []string                       `json:"histories"`
}

// IsHeld reports whether the virtual file is currently locked (§3).
func (m Meta) IsHeld() bool { return m.HoldMember != "" }

// LatestVersion returns the newest version by position in Histories —
// §3 requires versions compare by index, never lexically.
func (m Meta) LatestVersion() string {
	if len(m.Histories) == 0 {
		return ""
	}
	return m.Histories[len(m.Histories)-1]
}

// IndexOf returns the position of version in Histories, or -1.
func (m Meta) IndexOf(version string) int {
	for i, v := range m.Histories {
		if v == version {
			return i
		}
	}
	return -1
}

// Store is a handle onto one vault's virtual-file storage tree,
// rooted at <vault>/storage, with .temp-staging at <vault>/.temp.
type Store struct {
	storageRoot string
	tempRoot    string
}

// New returns a Store rooted at vaultRoot.
func New(vaultRoot string) *Store {
	return &Store{
		storageRoot: filepath.Join(vaultRoot, "storage"),
		tempRoot:    filepath.Join(vaultRoot, ".temp"),
	}
}

// NewID generates a fresh vf_<uuid>.
func NewID() string {
	return IDPrefix + uuid.NewString()
}

// TempPath returns a fresh staging path under .temp for an inbound
// upload; the caller (the wire layer) writes the file body there
// before calling Create/Update.
func (s *Store) TempPath() (string, error) {
	if err := os.MkdirAll(s.tempRoot, 0o755); err != nil {
		return "", jvcserr.New(jvcserr.KindIO, "vfstore.TempPath", err)
	}
	return filepath.Join(s.tempRoot, uuid.NewString()), nil
}

// storagePath derives the sharded storage directory for id: strip the
// vf_ prefix, split the first 8 hex chars into four 2-char segments,
// append the full id (§4.5 storage_path).
func storagePath(id string) string {
	stripped := strings.TrimPrefix(id, IDPrefix)
	shard := stripped
	if len(shard) > 8 {
		shard = shard[:8]
	}
	for len(shard) < 8 {
		shard += "0"
	}
	return filepath.Join(shard[0:2], shard[2:4], shard[4:6], shard[6:8], id)
}

// Dir returns the absolute storage directory for id.
func (s *Store) Dir(id string) string {
	return filepath.Join(s.storageRoot, storagePath(id))
}

func (s *Store) metaPath(id string) string {
	return filepath.Join(s.Dir(id), MetaFileName)
}

// VersionPath returns the absolute path to one version's payload file.
func (s *Store) VersionPath(id, version string) string {
	return filepath.Join(s.Dir(id), version+".rf")
}

// Exists reports whether id has a metadata record.
func (s *Store) Exists(id string) bool {
	_, err := os.Stat(s.metaPath(id))
	return err == nil
}

// ReadMeta loads id's metadata.
func (s *Store) ReadMeta(id string) (Meta, error) {
	if !s.Exists(id) {
		return Meta{}, jvcserr.New(jvcserr.KindNotFound, "vfstore.ReadMeta", nil)
	}
	var m Meta
	if err := config.Load(s.metaPath(id), &m); err != nil {
		return Meta{}, err
	}
	return m, nil
}

func (s *Store) writeMeta(id string, m Meta) error {
	return config.Save(s.metaPath(id), m)
}

// Create implements create_virtual_file_from_connection (§4.5): a
// fresh id is minted, stagedPath (already on disk, the received
// upload) becomes version "0", and initial metadata is written. On
// any failure the staged file is removed and the partially-created
// storage directory is rolled back, addressing §9's rename-failure
// quirk by cleaning up rather than leaving an orphaned meta.cfg.
func (s *Store) Create(member, stagedPath string) (id string, meta Meta, err error) {
	id = NewID()
	dir := s.Dir(id)
	if err = os.MkdirAll(dir, 0o755); err != nil {
		os.Remove(stagedPath)
		return "", Meta{}, jvcserr.New(jvcserr.KindIO, "vfstore.Create", err)
	}
	meta = Meta{
		CurrentVersion: InitialVersion,
		HoldMember:     "",
		VersionDescription: map[string]VersionDescription{
			InitialVersion: {CreatorID: member, Description: "Track"},
		},
		Histories: []string{InitialVersion},
	}
	if err = os.Rename(stagedPath, s.VersionPath(id, InitialVersion)); err != nil {
		os.Remove(stagedPath)
		os.RemoveAll(dir)
		return "", Meta{}, jvcserr.New(jvcserr.KindIO, "vfstore.Create", err)
	}
	if err = s.writeMeta(id, meta); err != nil {
		os.RemoveAll(dir)
		return "", Meta{}, err
	}
	return id, meta, nil
}

// Update implements update_virtual_file_from_connection (§4.5):
// requires the caller holds the edit right, normalizes newVersion to
// snake_case, requires it be unseen, moves stagedPath into place, and
// extends history.
func (s *Store) Update(member, id, newVersion, description, stagedPath string) (Meta, error) {
	meta, err := s.ReadMeta(id)
	if err != nil {
		return Meta{}, err
	}
	if meta.HoldMember != member {
		return Meta{}, jvcserr.New(jvcserr.KindPermissionDenied, "vfstore.Update", nil)
	}
	version := strnorm.SnakeCase(newVersion)
	if version == "" {
		return Meta{}, jvcserr.New(jvcserr.KindInvalidArgument, "vfstore.Update", nil)
	}
	if meta.IndexOf(version) >= 0 {
		return Meta{}, jvcserr.New(jvcserr.KindAlreadyExists, "vfstore.Update", nil)
	}
	if err := os.Rename(stagedPath, s.VersionPath(id, version)); err != nil {
		return Meta{}, jvcserr.New(jvcserr.KindIO, "vfstore.Update", err)
	}
	meta.CurrentVersion = version
	meta.Histories = append(meta.Histories, version)
	if meta.VersionDescription == nil {
		meta.VersionDescription = map[string]VersionDescription{}
	}
	meta.VersionDescription[version] = VersionDescription{CreatorID: member, Description: description}
	if err := s.writeMeta(id, meta); err != nil {
		return Meta{}, err
	}
	return meta, nil
}

// GrantEditRight unconditionally sets hold_member. §4.5: "the server
// trusts the caller; access control lives in surrounding actions."
func (s *Store) GrantEditRight(member, id string) error {
	meta, err := s.ReadMeta(id)
	if err != nil {
		return err
	}
	meta.HoldMember = member
	return s.writeMeta(id, meta)
}

// RevokeEditRight clears hold_member.
func (s *Store) RevokeEditRight(id string) error {
	meta, err := s.ReadMeta(id)
	if err != nil {
		return err
	}
	meta.HoldMember = ""
	return s.writeMeta(id, meta)
}

// HasEditRight reports whether member currently holds id's edit right.
func (s *Store) HasEditRight(member, id string) (bool, error) {
	meta, err := s.ReadMeta(id)
	if err != nil {
		return false, err
	}
	return meta.HoldMember == member, nil
}
