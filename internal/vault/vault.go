// Package vault ties together the virtual-file store, sheet store, and
// member directory of §3 into the single on-disk aggregate a jvcsd
// process serves: vault.toml, members/, key/, sheets/, storage/,
// .trash/, .temp/, and the single-instance .lock.
package vault

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"

	"github.com/jvcs/jvcs/internal/config"
	"github.com/jvcs/jvcs/internal/jvcserr"
	"github.com/jvcs/jvcs/internal/sheet"
	"github.com/jvcs/jvcs/internal/strnorm"
	"github.com/jvcs/jvcs/internal/vaultlog"
	"github.com/jvcs/jvcs/internal/vfstore"
)

// HostMemberID is the distinguished member id denoting the vault
// operator (§3).
const HostMemberID = "host"

// RefSheetName is the distinguished reference sheet every member can
// read but only the host can modify (§4.9 "current sheet is
// non-modifiable").
const RefSheetName = "ref"

// ServerConfig is the network/auth posture block of vault.toml (§3).
type ServerConfig struct {
	BindIP        string `toml:"bind_ip" json:"bind_ip" yaml:"bind_ip"`
	Port          int    `toml:"port" json:"port" yaml:"port"`
	AuthStrength  int    `toml:"auth_strength" json:"auth_strength" yaml:"auth_strength"`
	LANDiscovery  bool   `toml:"lan_discovery" json:"lan_discovery" yaml:"lan_discovery"`
}

// Config is the on-disk vault.toml record (§3).
type Config struct {
	VaultUUID     string       `toml:"vault_uuid" json:"vault_uuid" yaml:"vault_uuid"`
	VaultName     string       `toml:"vault_name" json:"vault_name" yaml:"vault_name"`
	AdminIDs      []string     `toml:"admin_ids" json:"admin_ids" yaml:"admin_ids"`
	ServerConfig  ServerConfig `toml:"server_config" json:"server_config" yaml:"server_config"`
}

// Member is the on-disk members/{id}.cfg record (§3).
type Member struct {
	ID       string            `json:"id"`
	Metadata map[string]string `json:"metadata"`
}

// Vault is the live handle a running jvcsd process holds: one per
// process, guarded by a single-instance file lock.
type Vault struct {
	Root    string
	Config  Config
	VF      *vfstore.Store
	Sheets  *sheet.Store
	Log     *vaultlog.Journal
	lock    *flock.Flock
}

const configFileName = "vault.toml"

func configPath(root string) string { return filepath.Join(root, configFileName) }
func membersDir(root string) string { return filepath.Join(root, "members") }
func keyDir(root string) string     { return filepath.Join(root, "key") }
func lockPath(root string) string   { return filepath.Join(root, ".lock") }
func journalDir(root string) string { return filepath.Join(root, ".journal") }

// Audit appends an audit entry if the vault's journal is open. The
// audit trail is pure observability, so a nil journal (a bare Vault
// built directly in a test, bypassing Init/Open) is a silent no-op
// rather than an error.
func (v *Vault) Audit(actor string, op vaultlog.Op, subject, detail string) {
	if v.Log == nil {
		return
	}
	_ = v.Log.Append(vaultlog.Entry{
		Timestamp: time.Now(),
		Actor:     actor,
		Op:        op,
		Subject:   subject,
		Detail:    detail,
	})
}

// Init creates a fresh vault at root: directory skeleton, a minted
// vault_uuid, and an initial host admin member, holding the vault's
// single-instance lock like Open. Fails if vault.toml already exists.
func Init(root, vaultName string, serverCfg ServerConfig) (*Vault, error) {
	if _, err := os.Stat(configPath(root)); err == nil {
		return nil, jvcserr.New(jvcserr.KindAlreadyExists, "vault.Init", fmt.Errorf("vault already initialized at %s", root))
	}
	for _, dir := range []string{root, membersDir(root), keyDir(root), filepath.Join(root, "sheets"), filepath.Join(root, "storage"), filepath.Join(root, ".trash"), filepath.Join(root, ".temp")} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, jvcserr.New(jvcserr.KindIO, "vault.Init", err)
		}
	}

	cfg := Config{
		VaultUUID:    uuid.NewString(),
		VaultName:    vaultName,
		AdminIDs:     []string{HostMemberID},
		ServerConfig: serverCfg,
	}
	if err := config.Save(configPath(root), cfg); err != nil {
		return nil, err
	}

	lk := flock.New(lockPath(root))
	ok, err := lk.TryLock()
	if err != nil {
		return nil, jvcserr.New(jvcserr.KindIO, "vault.Init", err)
	}
	if !ok {
		return nil, jvcserr.New(jvcserr.KindPermissionDenied, "vault.Init", fmt.Errorf("vault at %s is already locked by another process", root))
	}

	v := &Vault{Root: root, Config: cfg, lock: lk}
	v.VF = vfstore.New(root)
	v.Sheets = sheet.NewStore(root, v.VF)
	log, err := vaultlog.Open(journalDir(root))
	if err != nil {
		lk.Unlock()
		return nil, err
	}
	v.Log = log

	if err := v.SaveMember(Member{ID: HostMemberID, Metadata: map[string]string{}}); err != nil {
		return nil, err
	}
	v.Audit(HostMemberID, vaultlog.OpVaultInit, root, "vault initialized")
	return v, nil
}

// Open loads an existing vault at root and acquires its single-instance
// lock (§3: "exactly one .lock file may exist per vault").
func Open(root string) (*Vault, error) {
	var cfg Config
	if err := config.Load(configPath(root), &cfg); err != nil {
		return nil, err
	}
	if cfg.VaultUUID == "" {
		return nil, jvcserr.New(jvcserr.KindNotFound, "vault.Open", fmt.Errorf("no vault at %s", root))
	}

	lk := flock.New(lockPath(root))
	ok, err := lk.TryLock()
	if err != nil {
		return nil, jvcserr.New(jvcserr.KindIO, "vault.Open", err)
	}
	if !ok {
		return nil, jvcserr.New(jvcserr.KindPermissionDenied, "vault.Open", fmt.Errorf("vault at %s is already locked by another process", root))
	}

	v := &Vault{Root: root, Config: cfg, lock: lk}
	v.VF = vfstore.New(root)
	v.Sheets = sheet.NewStore(root, v.VF)
	log, err := vaultlog.Open(journalDir(root))
	if err != nil {
		lk.Unlock()
		return nil, err
	}
	v.Log = log
	return v, nil
}

// Close releases the vault's single-instance lock and flushes its
// audit journal.
func (v *Vault) Close() error {
	if v.Log != nil {
		if err := v.Log.Close(); err != nil {
			return err
		}
	}
	if v.lock == nil {
		return nil
	}
	if err := v.lock.Unlock(); err != nil {
		return jvcserr.New(jvcserr.KindIO, "vault.Close", err)
	}
	return os.Remove(lockPath(v.Root))
}

func memberPath(root, id string) string { return filepath.Join(membersDir(root), id+".cfg") }
func publicKeyPath(root, id string) string { return filepath.Join(keyDir(root), id+".pem") }

// MemberExists reports whether id has a member record.
func (v *Vault) MemberExists(id string) bool {
	_, err := os.Stat(memberPath(v.Root, strnorm.SnakeCase(id)))
	return err == nil
}

// SaveMember persists a member record.
func (v *Vault) SaveMember(m Member) error {
	m.ID = strnorm.SnakeCase(m.ID)
	return config.Save(memberPath(v.Root, m.ID), m)
}

// LoadMember reads a member record by id.
func (v *Vault) LoadMember(id string) (Member, error) {
	id = strnorm.SnakeCase(id)
	if !v.MemberExists(id) {
		return Member{}, jvcserr.New(jvcserr.KindNotFound, "vault.LoadMember", nil)
	}
	var m Member
	if err := config.Load(memberPath(v.Root, id), &m); err != nil {
		return Member{}, err
	}
	return m, nil
}

// PublicKeyPath returns the path a member's public key PEM is expected
// at, for internal/auth's Challenge.
func (v *Vault) PublicKeyPath(id string) string {
	return publicKeyPath(v.Root, strnorm.SnakeCase(id))
}

// KeyDir returns the vault's public-key directory, the keyDir argument
// internal/auth.Challenge expects.
func (v *Vault) KeyDir() string { return keyDir(v.Root) }

// IsAdmin reports whether id is one of the vault's admin_ids.
func (v *Vault) IsAdmin(id string) bool {
	id = strnorm.SnakeCase(id)
	for _, a := range v.Config.AdminIDs {
		if a == id {
			return true
		}
	}
	return false
}

// ListMembers enumerates every registered member id.
func (v *Vault) ListMembers() ([]string, error) {
	entries, err := os.ReadDir(membersDir(v.Root))
	if err != nil {
		return nil, jvcserr.New(jvcserr.KindIO, "vault.ListMembers", err)
	}
	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if filepath.Ext(name) == ".cfg" {
			ids = append(ids, name[:len(name)-len(".cfg")])
		}
	}
	return ids, nil
}
