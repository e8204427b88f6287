package inventory

import (
	"sort"
	"time"

	"rfid-door-panel/internal/timefmt"
	"rfid-door-panel/internal/types"
)

// DefaultDedupeWindow is the per-tag suppression window for repeated reads
const DefaultDedupeWindow = 5 * time.Second

// Dedupe collapses rapid repeated reads of the same tag. Records are ordered
// newest first by their parsed timestamp, then walked in that order: a record
// is dropped when the same tag was already kept strictly less than window
// before it. The window anchors on the last KEPT record, not the last seen
// one, so a steady trickle of reads does not suppress forever. Records whose
// timestamp cannot be parsed are always kept; ties between equal or
// unparseable instants fall back to the record id, so the ordering does not
// depend on how the input happened to arrive.
func Dedupe(records []types.MovementRecord, window time.Duration) []types.MovementRecord {
	if len(records) == 0 {
		return nil
	}
	if window <= 0 {
		window = DefaultDedupeWindow
	}

	type parsed struct {
		rec types.MovementRecord
		at  time.Time
	}
	sorted := make([]parsed, 0, len(records))
	for _, rec := range records {
		sorted = append(sorted, parsed{rec: rec, at: timefmt.Parse(rec.ReadDate)})
	}
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].at.Equal(sorted[j].at) {
			return sorted[i].rec.ID > sorted[j].rec.ID
		}
		return sorted[i].at.After(sorted[j].at)
	})

	lastKept := make(map[string]time.Time)
	out := make([]types.MovementRecord, 0, len(sorted))
	for _, p := range sorted {
		if p.at.IsZero() {
			out = append(out, p.rec)
			continue
		}
		if prev, ok := lastKept[p.rec.RFIDTag]; ok && prev.Sub(p.at) < window {
			continue
		}
		lastKept[p.rec.RFIDTag] = p.at
		out = append(out, p.rec)
	}
	return out
}
