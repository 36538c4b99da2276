// Package localstate holds small client-side read convenience caches
// that supplement internal/localws but are never authoritative: the
// vault's own on-disk state always wins on conflict, so every value
// here is reconstructed wholesale from the next successful
// update_to_latest_info exchange rather than incrementally repaired.
package localstate

import (
	"path/filepath"

	"github.com/jvcs/jvcs/internal/config"
	"github.com/jvcs/jvcs/internal/jvcserr"
)

// HeldSet is the per-account "which virtual files do I currently hold
// the edit right to" cache, refreshed by update_to_latest_info's third
// exchange (§4.10). It exists purely so a client can answer "do I hold
// this?" without a round trip; the vault's hold_member field on the
// virtual file itself remains the single source of truth.
type HeldSet struct {
	VFIDs map[string]struct{} `json:"-"`
}

// heldSetData is HeldSet's json-serializable form (sets don't marshal
// directly as a set; store the member keys as a slice on disk).
type heldSetData struct {
	VFIDs []string `json:"vf_ids"`
}

// Held reports whether vfID is a member of the set.
func (h HeldSet) Held(vfID string) bool {
	_, ok := h.VFIDs[vfID]
	return ok
}

// NewHeldSet builds a HeldSet from a slice of vf_ids, as received from
// update_to_latest_info.
func NewHeldSet(vfIDs []string) HeldSet {
	s := HeldSet{VFIDs: make(map[string]struct{}, len(vfIDs))}
	for _, id := range vfIDs {
		s.VFIDs[id] = struct{}{}
	}
	return s
}

func heldSetPath(jvDir, account string) string {
	return filepath.Join(jvDir, "latest", account+".held.cfg")
}

// LoadHeldSet reads an account's HeldSet cache, defaulting to empty if
// absent — a missing cache means "not yet refreshed", not an error.
func LoadHeldSet(jvDir, account string) (HeldSet, error) {
	var d heldSetData
	if err := config.Load(heldSetPath(jvDir, account), &d); err != nil {
		return HeldSet{}, err
	}
	return NewHeldSet(d.VFIDs), nil
}

// SaveHeldSet persists an account's HeldSet cache wholesale, replacing
// whatever was there before — this cache is always rebuilt in full by
// update_to_latest_info, never patched incrementally.
func SaveHeldSet(jvDir, account string, h HeldSet) error {
	d := heldSetData{VFIDs: make([]string, 0, len(h.VFIDs))}
	for id := range h.VFIDs {
		d.VFIDs = append(d.VFIDs, id)
	}
	if err := config.Save(heldSetPath(jvDir, account), d); err != nil {
		return jvcserr.New(jvcserr.KindIO, "localstate.SaveHeldSet", err)
	}
	return nil
}
