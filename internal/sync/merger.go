package sync

import (
	"context"

	"go.uber.org/zap"
)

// first serves the newest page of a freshly opened view. Without a
// roaming session the view is switched to local-only for its lifetime.
// A failing or empty remote only degrades this page to the cache.
func (e *Engine) first(ctx context.Context, v *view, size int) (Page, error) {
	if v.remote == nil {
		e.markLocalOnly(v, "no roaming session")
		return e.assemble(ctx, v.stream, nil, nil, size)
	}
	head, ok, err := e.headSequence(ctx, v)
	if err != nil {
		return Page{}, err
	}
	if !ok {
		e.markLocalOnly(v, "head sequence unavailable")
		return e.assemble(ctx, v.stream, nil, nil, size)
	}
	if head <= 0 {
		e.logger.Debug("remote stream has no history yet", zap.String("view", v.id))
		return e.assemble(ctx, v.stream, nil, nil, size)
	}

	anchor := Anchor{Sequence: head}
	recs, err := e.fetch(ctx, v, "fetch", anchor, size, false)
	if err != nil {
		if ctx.Err() != nil {
			return Page{}, err
		}
		return e.assemble(ctx, v.stream, nil, nil, size)
	}
	recs = normalize(recs, v.stream, anchor, false)
	if len(recs) == 0 {
		e.logger.Debug("remote returned no messages at head",
			zap.String("view", v.id), zap.Int32("head", head))
		return e.assemble(ctx, v.stream, nil, nil, size)
	}
	if err := e.upsert(ctx, recs); err != nil {
		return Page{}, err
	}
	return e.assemble(ctx, v.stream, recs, nil, size)
}
