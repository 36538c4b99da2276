package sheet

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jvcs/jvcs/internal/config"
	"github.com/jvcs/jvcs/internal/jvcserr"
	"github.com/jvcs/jvcs/internal/strnorm"
)

// Store is a handle onto one vault's sheet directory tree:
// sheets/{name}.cfg, sheets/shares/{sheet}/{share_id}.cfg, and .trash/
// for delete_sheet_safely (§3, §4.6).
type Store struct {
	root      string // <vault>/sheets
	trashRoot string // <vault>/.trash
	vf        EditRightSource
}

// NewStore returns a Store rooted at vaultRoot, consulting vf for the
// mapping-safety checks AddMapping/RemoveMapping require.
func NewStore(vaultRoot string, vf EditRightSource) *Store {
	return &Store{
		root:      filepath.Join(vaultRoot, "sheets"),
		trashRoot: filepath.Join(vaultRoot, ".trash"),
		vf:        vf,
	}
}

func (st *Store) path(name string) string {
	return filepath.Join(st.root, name+".cfg")
}

// Exists reports whether name has a live (non-trashed) sheet file.
func (st *Store) Exists(name string) bool {
	_, err := os.Stat(st.path(name))
	return err == nil
}

// Create implements create_sheet (§4.6): normalizes name, requires no
// existing sheet or trash entry, and persists an empty sheet. Holder
// existence is the caller's responsibility (the vault layer, which
// knows about members — see §9 "Sheet carries a non-owning reference
// to Vault").
func (st *Store) Create(name, holder string) (*Sheet, error) {
	name = strnorm.SnakeCase(name)
	if st.Exists(name) {
		return nil, jvcserr.New(jvcserr.KindAlreadyExists, "sheet.Store.Create", nil)
	}
	if st.trashEntry(name) != "" {
		return nil, jvcserr.New(jvcserr.KindAlreadyExists, "sheet.Store.Create", fmt.Errorf("sheet %q exists in trash", name))
	}
	s := New(name, holder)
	if err := st.save(s); err != nil {
		return nil, err
	}
	return s, nil
}

// trashEntry returns the basename of a .trash entry starting with
// "{name}_", or "" if none exists.
func (st *Store) trashEntry(name string) string {
	entries, err := os.ReadDir(st.trashRoot)
	if err != nil {
		return ""
	}
	prefix := name + "_"
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), prefix) {
			return e.Name()
		}
	}
	return ""
}

// Get implements sheet(name) (§3, §4.6): loads sheets/{name}.cfg,
// auto-restoring from .trash if the live file is missing.
func (st *Store) Get(name string) (*Sheet, error) {
	name = strnorm.SnakeCase(name)
	if !st.Exists(name) {
		if trashed := st.trashEntry(name); trashed != "" {
			if err := os.Rename(filepath.Join(st.trashRoot, trashed), st.path(name)); err != nil {
				return nil, jvcserr.New(jvcserr.KindIO, "sheet.Store.Get", err)
			}
		} else {
			return nil, jvcserr.New(jvcserr.KindNotFound, "sheet.Store.Get", nil)
		}
	}
	var d Data
	if err := config.Load(st.path(name), &d); err != nil {
		return nil, err
	}
	return FromData(d), nil
}

// Save persists s, incrementing WriteCount — the freshness token
// every cache-sync pull compares against (§3, §4.10).
func (st *Store) Save(s *Sheet) error {
	s.WriteCount++
	return st.save(s)
}

func (st *Store) save(s *Sheet) error {
	return config.Save(st.path(s.Name), s.ToData())
}

// DeleteSafely implements delete_sheet_safely (§3): moves the sheet
// file into .trash/{name}_{millis}.cfg rather than removing it.
func (st *Store) DeleteSafely(name string) error {
	name = strnorm.SnakeCase(name)
	if !st.Exists(name) {
		return jvcserr.New(jvcserr.KindNotFound, "sheet.Store.DeleteSafely", nil)
	}
	if err := os.MkdirAll(st.trashRoot, 0o755); err != nil {
		return jvcserr.New(jvcserr.KindIO, "sheet.Store.DeleteSafely", err)
	}
	dest := filepath.Join(st.trashRoot, fmt.Sprintf("%s_%d.cfg", name, time.Now().UnixMilli()))
	if err := os.Rename(st.path(name), dest); err != nil {
		return jvcserr.New(jvcserr.KindIO, "sheet.Store.DeleteSafely", err)
	}
	return nil
}

// ForgetHolder detaches the sheet from its current holder without
// deleting it (§3: "holder=None means the sheet is abandoned").
func (st *Store) ForgetHolder(name string) error {
	s, err := st.Get(name)
	if err != nil {
		return err
	}
	s.Holder = ""
	return st.Save(s)
}

// ListNames enumerates every live (non-trashed) sheet's name, for
// update_to_latest_info's roster of owned/visible sheets (§4.10).
func (st *Store) ListNames() ([]string, error) {
	entries, err := os.ReadDir(st.root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, jvcserr.New(jvcserr.KindIO, "sheet.Store.ListNames", err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".cfg") {
			continue
		}
		names = append(names, strings.TrimSuffix(e.Name(), ".cfg"))
	}
	return names, nil
}
