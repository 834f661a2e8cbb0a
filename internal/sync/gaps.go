package sync

import (
	"cmp"
	"slices"

	"github.com/matheus3301/roam/internal/message"
	"github.com/matheus3301/roam/internal/store"
)

// Range is a run of sequences absent between two stored messages. The
// anchor is the newer of the two; backfill pages back from it.
type Range struct {
	AnchorID       message.ID
	AnchorSequence int32
	Missing        int32
}

// Bottom is the sequence of the stored message below the gap.
func (r Range) Bottom() int32 {
	return r.AnchorSequence - r.Missing - 1
}

// absentRanges scans sequences ordered highest first and reports every
// hole between neighbours.
func absentRanges(refs []store.SeqRef) []Range {
	var out []Range
	for i := 1; i < len(refs); i++ {
		prev, cur := refs[i-1], refs[i]
		if cur.Sequence+1 < prev.Sequence {
			out = append(out, Range{
				AnchorID:       message.ID(prev.ID),
				AnchorSequence: prev.Sequence,
				Missing:        prev.Sequence - cur.Sequence - 1,
			})
		}
	}
	return out
}

// mergeVerified folds a freshly verified interval into the persisted one.
// Overlapping or adjacent intervals are joined; otherwise the newer
// (higher) interval wins.
func mergeVerified(prev, next store.Watermark) store.Watermark {
	if next.Low <= prev.High+1 && prev.Low <= next.High+1 {
		return store.Watermark{Low: min(prev.Low, next.Low), High: max(prev.High, next.High)}
	}
	if next.High > prev.High {
		return next
	}
	return prev
}

// normalize makes a remote page safe to serve: messages of other streams,
// messages not below the anchor and duplicate identities or sequences are
// dropped, and the rest is ordered by descending sequence.
func normalize(recs []message.Record, s message.Stream, anchor Anchor, exclusive bool) []message.Record {
	out := make([]message.Record, 0, len(recs))
	seen := make(map[message.ID]bool, len(recs))
	for _, m := range recs {
		if m.Stream() != s || seen[m.ID] {
			continue
		}
		if m.Sequence > anchor.Sequence || (exclusive && m.Sequence == anchor.Sequence) {
			continue
		}
		seen[m.ID] = true
		out = append(out, m)
	}
	slices.SortStableFunc(out, func(a, b message.Record) int {
		return cmp.Compare(b.Sequence, a.Sequence)
	})
	return slices.CompactFunc(out, func(a, b message.Record) bool {
		return a.Sequence == b.Sequence
	})
}

// dropSeen removes from older the messages already present in page.
func dropSeen(older, page []message.Record) []message.Record {
	if len(page) == 0 {
		return older
	}
	ids := make(map[message.ID]bool, len(page))
	for _, m := range page {
		ids[m.ID] = true
	}
	return slices.DeleteFunc(older, func(m message.Record) bool { return ids[m.ID] })
}

// coveredBy reports whether r lies within one of the given ranges. A
// partly backfilled range shrinks, so containment rather than equality
// is checked.
func coveredBy(r Range, ranges []Range) bool {
	for _, u := range ranges {
		if r.Bottom() >= u.Bottom() && r.AnchorSequence <= u.AnchorSequence {
			return true
		}
	}
	return false
}
