package sync

import (
	"context"
	"fmt"
	"slices"

	"go.uber.org/zap"

	"github.com/matheus3301/roam/internal/bus"
	"github.com/matheus3301/roam/internal/message"
	"github.com/matheus3301/roam/internal/metrics"
	"github.com/matheus3301/roam/internal/store"
)

// next serves the page below cursor. Before fetching it, the sequences
// already loaded by the view are scanned and any holes are backfilled
// from the remote.
func (e *Engine) next(ctx context.Context, v *view, cursor Cursor, size int) (Page, error) {
	cur, err := e.store.GetMessage(ctx, v.stream, message.ID(cursor))
	if err != nil {
		return Page{}, fmt.Errorf("resolve cursor: %w", err)
	}
	if cur == nil {
		return Page{}, fmt.Errorf("%w: %d", ErrUnknownCursor, cursor)
	}

	v.lock.mu.Lock()
	localOnly := v.localOnly
	v.lock.mu.Unlock()
	if localOnly || v.remote == nil {
		return e.assemble(ctx, v.stream, nil, cur, size)
	}

	if err := e.reconcile(ctx, v, cur, size); err != nil {
		return Page{}, err
	}

	anchor := anchorOf(cur)
	recs, err := e.fetch(ctx, v, "fetch", anchor, size, true)
	if err != nil {
		if ctx.Err() != nil {
			return Page{}, err
		}
		return e.assemble(ctx, v.stream, nil, cur, size)
	}
	recs = normalize(recs, v.stream, anchor, true)
	if err := e.upsert(ctx, recs); err != nil {
		return Page{}, err
	}
	return e.assemble(ctx, v.stream, recs, cur, size)
}

// reconcile backfills the gaps between the view's top and the cursor.
// Ranges above the view's watermark were handled by an earlier page, and
// ranges inside the persisted verified interval by an earlier session.
// Ranges whose backfill was cut short stay on the view and are retried;
// while any is left the verified interval is not persisted.
func (e *Engine) reconcile(ctx context.Context, v *view, cur *message.Record, size int) error {
	v.lock.mu.Lock()
	defer v.lock.mu.Unlock()

	top := max(v.top, cur.Sequence)
	refs, err := e.store.SequenceRange(ctx, v.stream, cur.Sequence, top)
	if err != nil {
		return fmt.Errorf("scan loaded sequences: %w", err)
	}
	verified, hasVerified, err := e.store.LoadWatermark(ctx, v.stream)
	if err != nil {
		return fmt.Errorf("load watermark: %w", err)
	}

	// Unresolved ranges below the scanned window cannot be retried yet.
	var unresolved []Range
	for _, u := range v.unresolved {
		if u.Bottom() < cur.Sequence {
			unresolved = append(unresolved, u)
		}
	}

	var pending []Range
	for _, r := range absentRanges(refs) {
		if hasVerified && verified.Contains(r.Bottom(), r.AnchorSequence) {
			continue
		}
		if r.Bottom() >= v.watermark && !coveredBy(r, v.unresolved) {
			continue
		}
		pending = append(pending, r)
	}
	if n := len(refs); n > 0 {
		v.watermark = min(v.watermark, refs[n-1].Sequence)
	}
	metrics.GapsFound.Add(float64(len(pending)))

	for _, r := range pending {
		filled, ok, err := e.backfill(ctx, v, r, size)
		if err != nil {
			v.unresolved = append(unresolved, pending...)
			return err
		}
		if !ok {
			unresolved = append(unresolved, r)
		}
		metrics.GapMessagesFilled.Add(float64(filled))
		e.logger.Debug("gap backfilled",
			zap.String("view", v.id),
			zap.Int32("anchor", r.AnchorSequence),
			zap.Int32("missing", r.Missing),
			zap.Int("filled", filled),
			zap.Bool("complete", ok))
		e.bus.Publish(bus.NewEvent(bus.KindGapFilled, map[string]any{
			"view":            v.id,
			"stream":          v.stream.String(),
			"anchor_sequence": r.AnchorSequence,
			"missing":         r.Missing,
			"filled":          filled,
		}))
	}

	v.unresolved = unresolved

	if len(unresolved) > 0 || len(refs) == 0 {
		return nil
	}
	w := store.Watermark{Low: v.watermark, High: top}
	if hasVerified {
		w = mergeVerified(verified, w)
	}
	if err := e.store.SaveWatermark(context.WithoutCancel(ctx), v.stream, w); err != nil {
		return fmt.Errorf("save watermark: %w", err)
	}
	return nil
}

// backfill pages back from the anchor of r until the hole is filled or
// the remote has nothing more for it. ok is false when a remote error cut
// the range short.
func (e *Engine) backfill(ctx context.Context, v *view, r Range, size int) (filled int, ok bool, err error) {
	anchor := Anchor{ID: r.AnchorID, Sequence: r.AnchorSequence}
	bottom := r.Bottom()
	missing := int(r.Missing)

	for missing > 0 {
		recs, ferr := e.fetch(ctx, v, "backfill", anchor, min(missing, size), true)
		if ferr != nil {
			if ctx.Err() != nil {
				return filled, false, ferr
			}
			return filled, false, nil
		}
		recs = normalize(recs, v.stream, anchor, true)
		recs = slices.DeleteFunc(recs, func(m message.Record) bool { return m.Sequence <= bottom })
		if len(recs) == 0 {
			return filled, true, nil
		}
		if err := e.upsert(ctx, recs); err != nil {
			return filled, false, err
		}
		filled += len(recs)
		missing -= len(recs)
		anchor = anchorOf(&recs[len(recs)-1])
	}
	return filled, true, nil
}
