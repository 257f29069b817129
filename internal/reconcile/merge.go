// Package reconcile overlays server-pushed status onto the local upload
// records to produce the view the user sees.
package reconcile

import (
	"sort"

	"github.com/user/docchat/internal/types"
)

// Merge returns a copy of records with each one's status, summary and error
// taken from the matching store entry. A record matches under its Key; a
// record with a server id also matches frames keyed by its client id. Entries
// that would move a record backwards or out of a terminal status are not
// applied. Merge never mutates its inputs.
func Merge(records []types.DocumentRecord, snapshot map[types.DocumentID]types.StatusUpdate) []types.DocumentRecord {
	out := make([]types.DocumentRecord, len(records))
	for i, rec := range records {
		rec.File = nil
		if u, ok := lookup(rec, snapshot); ok && rec.Status.CanTransition(u.Status) {
			rec.Status = u.Status
			rec.Summary = u.Summary
			rec.Error = u.Error
		}
		out[i] = rec
	}
	return out
}

func lookup(rec types.DocumentRecord, snapshot map[types.DocumentID]types.StatusUpdate) (types.StatusUpdate, bool) {
	if u, ok := snapshot[rec.Key()]; ok {
		return u, true
	}
	if rec.DocumentID != "" && rec.ClientID != "" {
		u, ok := snapshot[types.DocumentID(rec.ClientID)]
		return u, ok
	}
	return types.StatusUpdate{}, false
}

// Unmatched returns store entries no record claims, sorted by document id.
func Unmatched(records []types.DocumentRecord, snapshot map[types.DocumentID]types.StatusUpdate) []types.StatusUpdate {
	claimed := make(map[types.DocumentID]bool, len(records)*2)
	for _, rec := range records {
		claimed[rec.Key()] = true
		if rec.ClientID != "" {
			claimed[types.DocumentID(rec.ClientID)] = true
		}
	}
	var out []types.StatusUpdate
	for id, u := range snapshot {
		if !claimed[id] {
			out = append(out, u)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DocumentID < out[j].DocumentID })
	return out
}

// RemoteRecord turns a store entry nobody uploaded locally into a record.
func RemoteRecord(u types.StatusUpdate) types.DocumentRecord {
	return types.DocumentRecord{
		DocumentID: u.DocumentID,
		Status:     u.Status,
		Summary:    u.Summary,
		Error:      u.Error,
	}
}
