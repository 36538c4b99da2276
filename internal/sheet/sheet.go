// Package sheet implements the Sheet model of §4.6 and §3: a
// per-holder namespace mapping workspace paths to (virtual-file-id,
// version), plus the InputPackage / Share inter-sheet transfer
// protocol.
package sheet

import (
	"github.com/jvcs/jvcs/internal/bimap"
	"github.com/jvcs/jvcs/internal/jvcserr"
	"github.com/jvcs/jvcs/internal/strnorm"
)

// MappingEntry is one path's (vf_id, version) pair (§3).
type MappingEntry struct {
	VFID    string `json:"vf_id"`
	Version string `json:"version"`
}

// InputFile is one entry of an InputPackage's re-rooted file list (§3).
type InputFile struct {
	RelativePath string `json:"relative_path"`
	VFID         string `json:"vf_id"`
}

// InputPackage is a re-rooted bundle of path->vf_id pairs exported
// from one sheet for import into another (§3). Equality is by Name.
type InputPackage struct {
	Name       string      `json:"name"`
	FromSheet  string      `json:"from_sheet"`
	Files      []InputFile `json:"files"`
}

// Data is the serializable snapshot of a Sheet (§3's "Sheet" record).
// It is what travels over the wire as a CachedSheet and what is
// persisted at sheets/{name}.cfg.
type Data struct {
	Name       string                  `json:"name"`
	Holder     string                  `json:"holder,omitempty"`
	Inputs     []InputPackage          `json:"inputs"`
	Mapping    map[string]MappingEntry `json:"mapping"`
	IDMapping  map[string]string       `json:"id_mapping"`
	WriteCount int                     `json:"write_count"`
}

// EditRightSource is the vault-side capability a Sheet needs to
// enforce the mapping-safety rule of §4.6: a holder may not edit a
// mapping entry while still holding that virtual file's edit lock.
// vfstore.Store satisfies this; Sheet carries only this narrow
// interface rather than a full Vault reference (§9 "non-owning
// reference to Vault").
type EditRightSource interface {
	Exists(vfID string) bool
	HasEditRight(member, vfID string) (bool, error)
}

// Sheet is the live, mutation-safe view of a Data record: path<->vf_id
// is enforced bidirectional via bimap (§8), versions tracked
// alongside.
type Sheet struct {
	Name       string
	Holder     string
	Inputs     []InputPackage
	WriteCount int

	paths    *bimap.Map[string, string] // path <-> vf_id
	versions map[string]string          // path -> version
}

// New returns an empty Sheet named name, held by holder.
func New(name, holder string) *Sheet {
	return &Sheet{
		Name:     strnorm.SnakeCase(name),
		Holder:   holder,
		paths:    bimap.New[string, string](),
		versions: map[string]string{},
	}
}

// FromData reconstructs a Sheet from its serialized Data, rebuilding
// the bimap from Mapping (the authoritative side). IDMapping is not
// read; ToData derives it again from the bimap.
func FromData(d Data) *Sheet {
	s := &Sheet{
		Name:       d.Name,
		Holder:     d.Holder,
		Inputs:     append([]InputPackage(nil), d.Inputs...),
		WriteCount: d.WriteCount,
		paths:      bimap.New[string, string](),
		versions:   map[string]string{},
	}
	for path, entry := range d.Mapping {
		s.paths.Set(path, entry.VFID)
		s.versions[path] = entry.Version
	}
	return s
}

// ToData serializes s, deriving IDMapping from the bimap so it is
// always exactly the reverse of Mapping (§8's bidirectional
// invariant).
func (s *Sheet) ToData() Data {
	mapping := make(map[string]MappingEntry, s.paths.Len())
	idMapping := make(map[string]string, s.paths.Len())
	s.paths.Range(func(path, vfID string) bool {
		mapping[path] = MappingEntry{VFID: vfID, Version: s.versions[path]}
		idMapping[vfID] = path
		return true
	})
	return Data{
		Name:       s.Name,
		Holder:     s.Holder,
		Inputs:     append([]InputPackage(nil), s.Inputs...),
		Mapping:    mapping,
		IDMapping:  idMapping,
		WriteCount: s.WriteCount,
	}
}

// Lookup returns the mapping entry for path.
func (s *Sheet) Lookup(path string) (MappingEntry, bool) {
	vfID, ok := s.paths.Forward(path)
	if !ok {
		return MappingEntry{}, false
	}
	return MappingEntry{VFID: vfID, Version: s.versions[path]}, true
}

// PathForVFID returns the path currently mapped to vfID, the reverse
// lookup id_mapping provides (§3).
func (s *Sheet) PathForVFID(vfID string) (string, bool) {
	return s.paths.Backward(vfID)
}

// AddMapping implements add_mapping (§4.6): rejected with
// PermissionDenied when the referenced virtual file exists and the
// sheet's holder still has its edit right — release the lock first.
func (s *Sheet) AddMapping(vf EditRightSource, path, vfID, version string) error {
	if vf.Exists(vfID) {
		held, err := vf.HasEditRight(s.Holder, vfID)
		if err != nil {
			return err
		}
		if held {
			return jvcserr.New(jvcserr.KindPermissionDenied, "sheet.AddMapping", nil)
		}
	}
	s.paths.Set(path, vfID)
	s.versions[path] = version
	return nil
}

// BumpVersion records a new version for path's existing mapping entry
// without touching the path<->vf_id association (§4.9's Update
// subphase). Unlike AddMapping/RemoveMapping, it does not enforce the
// "holder must have released its edit right" rule — that rule guards
// against a holder reassigning its mapping's vf_id or target path
// while still holding the lock; a version bump by the very holder that
// just performed the update under that same lock is the expected case,
// not the one add_mapping's precondition exists to stop.
func (s *Sheet) BumpVersion(path, version string) error {
	if _, ok := s.paths.Forward(path); !ok {
		return jvcserr.New(jvcserr.KindNotFound, "sheet.BumpVersion", nil)
	}
	s.versions[path] = version
	return nil
}

// RemoveMapping implements remove_mapping (§4.6): symmetric to
// AddMapping — only allowed when the holder lacks edit rights on the
// referenced virtual file. Returns the removed vf_id, if any.
func (s *Sheet) RemoveMapping(vf EditRightSource, path string) (string, error) {
	vfID, ok := s.paths.Forward(path)
	if !ok {
		return "", nil
	}
	if vf.Exists(vfID) {
		held, err := vf.HasEditRight(s.Holder, vfID)
		if err != nil {
			return "", err
		}
		if held {
			return "", jvcserr.New(jvcserr.KindPermissionDenied, "sheet.RemoveMapping", nil)
		}
	}
	s.paths.DeleteForward(path)
	delete(s.versions, path)
	return vfID, nil
}

// AddInput implements add_input (§4.6): rejects a duplicate by name.
func (s *Sheet) AddInput(pkg InputPackage) error {
	for _, existing := range s.Inputs {
		if existing.Name == pkg.Name {
			return jvcserr.New(jvcserr.KindAlreadyExists, "sheet.AddInput", nil)
		}
	}
	s.Inputs = append(s.Inputs, pkg)
	return nil
}

// DenyInput implements deny_input (§4.6): removes a pending input by
// name, reporting whether one was found.
func (s *Sheet) DenyInput(name string) bool {
	for i, pkg := range s.Inputs {
		if pkg.Name == name {
			s.Inputs = append(s.Inputs[:i], s.Inputs[i+1:]...)
			return true
		}
	}
	return false
}

// AcceptImport implements accept_import (§4.6): pops the named input
// and inserts each (rel_path -> vf_id, latest version) under
// underPath via AddMapping. latestVersion resolves each file's current
// latest version (the vault's job, since Sheet does not hold a store
// reference beyond EditRightSource).
func (s *Sheet) AcceptImport(vf EditRightSource, name, underPath string, latestVersion func(vfID string) (string, error)) ([]string, error) {
	var pkg *InputPackage
	idx := -1
	for i := range s.Inputs {
		if s.Inputs[i].Name == name {
			pkg = &s.Inputs[i]
			idx = i
			break
		}
	}
	if pkg == nil {
		return nil, jvcserr.New(jvcserr.KindNotFound, "sheet.AcceptImport", nil)
	}
	var added []string
	for _, f := range pkg.Files {
		version, err := latestVersion(f.VFID)
		if err != nil {
			return nil, err
		}
		destPath := joinSheetPath(underPath, f.RelativePath)
		if err := s.AddMapping(vf, destPath, f.VFID, version); err != nil {
			return nil, err
		}
		added = append(added, destPath)
	}
	s.Inputs = append(s.Inputs[:idx], s.Inputs[idx+1:]...)
	return added, nil
}

func joinSheetPath(under, rel string) string {
	if under == "" {
		return strnorm.FormatPath(rel)
	}
	return strnorm.FormatPath(under + "/" + rel)
}

// OutputMappings implements output_mappings (§4.6): re-roots paths
// under outName, computed against the longest common path-component
// prefix of paths.
func (s *Sheet) OutputMappings(outName string, paths []string) (InputPackage, error) {
	sanitized := strnorm.SanitizeFilePath(outName)
	if len(paths) == 0 {
		return InputPackage{}, jvcserr.New(jvcserr.KindInvalidArgument, "sheet.OutputMappings", nil)
	}
	prefix := longestCommonPrefix(paths)

	files := make([]InputFile, 0, len(paths))
	for _, p := range paths {
		entry, ok := s.Lookup(p)
		if !ok {
			return InputPackage{}, jvcserr.New(jvcserr.KindNotFound, "sheet.OutputMappings", nil)
		}
		rel := stripComponents(p, prefix)
		files = append(files, InputFile{RelativePath: rel, VFID: entry.VFID})
	}
	return InputPackage{Name: sanitized, FromSheet: s.Name, Files: files}, nil
}

// longestCommonPrefix computes the longest shared path-component
// prefix across paths, by component (not by string bytes) — §4.6,
// §8's single-element-set boundary case included.
func longestCommonPrefix(paths []string) []string {
	if len(paths) == 0 {
		return nil
	}
	first := strnorm.Components(paths[0])
	if len(paths) == 1 {
		if len(first) == 0 {
			return nil
		}
		return first[:len(first)-1]
	}
	prefix := first
	for _, p := range paths[1:] {
		comps := strnorm.Components(p)
		prefix = commonPrefixOf(prefix, comps)
		if len(prefix) == 0 {
			break
		}
	}
	return prefix
}

func commonPrefixOf(a, b []string) []string {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	i := 0
	for i < n && a[i] == b[i] {
		i++
	}
	return a[:i]
}

func stripComponents(p string, prefix []string) string {
	comps := strnorm.Components(p)
	if len(comps) >= len(prefix) {
		match := true
		for i, c := range prefix {
			if comps[i] != c {
				match = false
				break
			}
		}
		if match {
			comps = comps[len(prefix):]
		}
	}
	out := ""
	for i, c := range comps {
		if i > 0 {
			out += "/"
		}
		out += c
	}
	return out
}
