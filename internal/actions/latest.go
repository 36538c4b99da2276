package actions

import (
	"github.com/jvcs/jvcs/internal/localws"
	"github.com/jvcs/jvcs/internal/sheet"
	"github.com/jvcs/jvcs/internal/vault"
)

// BuildLatestInfo implements the first of update_to_latest_info's three
// exchanges (§4.10): partitions every live sheet into member's owned
// set and the rest, and reports the vault's member roster. The result
// is the exact shape the client persists as its LatestInfo cache.
func BuildLatestInfo(v *vault.Vault, member string) (localws.LatestInfo, error) {
	names, err := v.Sheets.ListNames()
	if err != nil {
		return localws.LatestInfo{}, err
	}
	var mine, others []string
	for _, name := range names {
		s, err := v.Sheets.Get(name)
		if err != nil {
			return localws.LatestInfo{}, err
		}
		if s.Holder == member {
			mine = append(mine, name)
		} else {
			others = append(others, name)
		}
	}
	roster, err := v.ListMembers()
	if err != nil {
		return localws.LatestInfo{}, err
	}
	return localws.LatestInfo{
		MySheets:    mine,
		OtherSheets: others,
		RefSheet:    vault.RefSheetName,
		Roster:      roster,
	}, nil
}

// SheetVersion is one (sheet_name, write_count) pair the client reports
// for its cached copy of an owned sheet, the second exchange's request
// half. WriteCount is -1 when the client holds no cached copy at all,
// distinguishing "never synced" from a real write_count of 0.
type SheetVersion struct {
	SheetName  string `msgpack:"sheet_name"`
	WriteCount int    `msgpack:"write_count"`
}

// StaleSheet pairs a sheet name with its full current data, streamed
// back for every owned sheet the client reported a stale write_count
// for.
type StaleSheet struct {
	SheetName string     `msgpack:"sheet_name"`
	Data      sheet.Data `msgpack:"data"`
}

// StaleSheets implements update_to_latest_info's second exchange: of
// the sheets member owns, returns the full data of every one whose
// server-side write_count has moved past what the client reported.
// Reports the client doesn't actually own (or that no longer exist)
// are silently skipped rather than erroring — they are not this
// exchange's responsibility to flag.
func StaleSheets(v *vault.Vault, member string, reported []SheetVersion) []StaleSheet {
	var stale []StaleSheet
	for _, r := range reported {
		s, err := v.Sheets.Get(r.SheetName)
		if err != nil || s.Holder != member {
			continue
		}
		if s.WriteCount != r.WriteCount {
			stale = append(stale, StaleSheet{SheetName: r.SheetName, Data: s.ToData()})
		}
	}
	return stale
}

// HolderStatus implements update_to_latest_info's third exchange: for
// each requested vf_id, the current hold_member, or "" for unheld or
// unknown ids (the wire map has no way to distinguish the two, and the
// client only ever asks about ids from its own cached sheets).
func HolderStatus(v *vault.Vault, vfIDs []string) map[string]string {
	result := make(map[string]string, len(vfIDs))
	for _, id := range vfIDs {
		meta, err := v.VF.ReadMeta(id)
		if err != nil {
			result[id] = ""
			continue
		}
		result[id] = meta.HoldMember
	}
	return result
}
