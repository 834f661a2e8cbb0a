// Package sync pages a stream's history newest to oldest, merging the
// remote roaming feed with the local cache and backfilling sequence gaps
// as it goes.
package sync

import (
	"context"
	"errors"
	"fmt"
	"math"
	stdsync "sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/matheus3301/roam/internal/bus"
	"github.com/matheus3301/roam/internal/message"
	"github.com/matheus3301/roam/internal/metrics"
	"github.com/matheus3301/roam/internal/status"
)

var (
	ErrNoSession     = errors.New("no pagination session for view")
	ErrUnknownCursor = errors.New("cursor does not reference a stored message")
	ErrInvalidView   = errors.New("view id must not be empty")
)

// Cursor is the opaque continuation token of a view. It carries the ID of
// the last message served.
type Cursor int64

// Start requests the newest page and (re)opens the view.
const Start Cursor = 0

// Source tells where the messages of a page came from.
type Source string

const (
	SourceRemote Source = "remote"
	SourceLocal  Source = "local"
	SourceMixed  Source = "mixed"
)

// PageRequest asks for one page of a view.
type PageRequest struct {
	View   string
	Stream message.Stream
	Cursor Cursor
	Size   int
}

// Page is one page of history, newest first.
type Page struct {
	Records []message.Record
	Next    Cursor
	HasMore bool
	Source  Source
}

// Config tunes the engine.
type Config struct {
	PageSize      int
	MaxPageSize   int
	RemoteTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.PageSize <= 0 {
		c.PageSize = 20
	}
	if c.MaxPageSize < c.PageSize {
		c.MaxPageSize = max(200, c.PageSize)
	}
	if c.RemoteTimeout <= 0 {
		c.RemoteTimeout = 5 * time.Second
	}
	return c
}

// Engine coordinates views. Views of the same stream share one lock, so
// scans and backfills of a stream never interleave.
type Engine struct {
	store   LocalStore
	remotes RemoteProvider
	bus     *bus.Bus
	machine *status.Machine
	logger  *zap.Logger
	cfg     Config

	heads singleflight.Group

	mu    stdsync.Mutex
	views map[string]*view
	locks map[message.Stream]*streamLock
}

type streamLock struct {
	mu   stdsync.Mutex
	refs int // open views plus in-flight requests
}

type view struct {
	id     string
	stream message.Stream
	lock   *streamLock
	remote Remote // nil when the stream has no roaming session

	// guarded by lock.mu
	localOnly  bool
	top        int32   // highest sequence served by this view
	watermark  int32   // lowest sequence already scanned for gaps
	unresolved []Range // gaps whose backfill was cut short
}

// NewEngine creates an engine. remotes may be nil, in which case every
// view is served from the store alone.
func NewEngine(st LocalStore, remotes RemoteProvider, b *bus.Bus, machine *status.Machine, cfg Config, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Engine{
		store:   st,
		remotes: remotes,
		bus:     b,
		machine: machine,
		logger:  logger,
		cfg:     cfg.withDefaults(),
		views:   make(map[string]*view),
		locks:   make(map[message.Stream]*streamLock),
	}
	if remotes == nil {
		e.report(status.Offline)
	}
	return e
}

// Page serves one page of a view. The Start cursor opens (or restarts)
// the view with the newest messages; any other cursor continues below
// the message it names.
func (e *Engine) Page(ctx context.Context, req PageRequest) (Page, error) {
	if req.View == "" {
		return Page{}, ErrInvalidView
	}
	size := e.pageSize(req.Size)

	var (
		v   *view
		err error
	)
	if req.Cursor == Start {
		v = e.open(ctx, req.View, req.Stream)
	} else if v, err = e.lookup(req.View, req.Stream); err != nil {
		return Page{}, err
	}
	defer e.release(v.lock, v.stream)

	var page Page
	if req.Cursor == Start {
		page, err = e.first(ctx, v, size)
	} else {
		page, err = e.next(ctx, v, req.Cursor, size)
	}
	if err != nil {
		metrics.PageErrors.Inc()
		return Page{}, err
	}

	if n := len(page.Records); n > 0 {
		v.lock.mu.Lock()
		v.top = max(v.top, page.Records[0].Sequence)
		v.lock.mu.Unlock()
	}
	metrics.PagesServed.WithLabelValues(string(page.Source)).Inc()
	e.bus.Publish(bus.NewEvent(bus.KindPageServed, map[string]any{
		"view":     v.id,
		"stream":   v.stream.String(),
		"count":    len(page.Records),
		"has_more": page.HasMore,
		"source":   string(page.Source),
	}))
	return page, nil
}

// CloseView drops a view. It reports whether the view existed.
func (e *Engine) CloseView(id string) bool {
	e.mu.Lock()
	v, ok := e.views[id]
	if ok {
		delete(e.views, id)
		e.releaseLocked(v.lock, v.stream)
		metrics.OpenViews.Set(float64(len(e.views)))
	}
	e.mu.Unlock()

	if ok {
		e.bus.Publish(bus.NewEvent(bus.KindViewClosed, map[string]any{
			"view":   id,
			"stream": v.stream.String(),
		}))
	}
	return ok
}

// Views returns the number of open views.
func (e *Engine) Views() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.views)
}

// Watermark returns the lowest sequence a view has scanned for gaps.
// ok is false for unknown views and views that have not scanned yet.
func (e *Engine) Watermark(id string) (int32, bool) {
	e.mu.Lock()
	v, ok := e.views[id]
	e.mu.Unlock()
	if !ok {
		return 0, false
	}
	v.lock.mu.Lock()
	defer v.lock.mu.Unlock()
	if v.watermark == math.MaxInt32 {
		return 0, false
	}
	return v.watermark, true
}

func (e *Engine) pageSize(n int) int {
	switch {
	case n <= 0:
		return e.cfg.PageSize
	case n > e.cfg.MaxPageSize:
		return e.cfg.MaxPageSize
	}
	return n
}

// open registers a fresh view, replacing any view with the same id. The
// returned view carries a request reference the caller must release.
func (e *Engine) open(ctx context.Context, id string, s message.Stream) *view {
	var remote Remote
	if e.remotes != nil {
		if r, ok := e.remotes.Open(ctx, s); ok {
			remote = r
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if old, ok := e.views[id]; ok {
		e.releaseLocked(old.lock, old.stream)
	}
	lk := e.locks[s]
	if lk == nil {
		lk = &streamLock{}
		e.locks[s] = lk
	}
	lk.refs += 2
	v := &view{id: id, stream: s, lock: lk, remote: remote, watermark: math.MaxInt32}
	e.views[id] = v
	metrics.OpenViews.Set(float64(len(e.views)))
	return v
}

func (e *Engine) lookup(id string, s message.Stream) (*view, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	v, ok := e.views[id]
	if !ok {
		return nil, fmt.Errorf("%w %q", ErrNoSession, id)
	}
	if v.stream != s {
		return nil, fmt.Errorf("%w %q on %s", ErrNoSession, id, s)
	}
	v.lock.refs++
	return v, nil
}

func (e *Engine) release(lk *streamLock, s message.Stream) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.releaseLocked(lk, s)
}

func (e *Engine) releaseLocked(lk *streamLock, s message.Stream) {
	lk.refs--
	if lk.refs <= 0 && e.locks[s] == lk {
		delete(e.locks, s)
	}
}

func (e *Engine) report(s status.State) {
	if e.machine != nil {
		e.machine.Report(s)
	}
}

func (e *Engine) markLocalOnly(v *view, reason string) {
	v.lock.mu.Lock()
	v.localOnly = true
	v.lock.mu.Unlock()

	e.logger.Info("view served from local store only",
		zap.String("view", v.id), zap.Stringer("stream", v.stream), zap.String("reason", reason))
	e.bus.Publish(bus.NewEvent(bus.KindLocalOnly, map[string]any{
		"view":   v.id,
		"stream": v.stream.String(),
		"reason": reason,
	}))
}

type headResult struct {
	seq int32
	ok  bool
}

// headSequence asks the remote for the newest sequence of the view's
// stream. Concurrent views of one stream share a single lookup. ok is
// false when the remote has no head or did not answer in time; err is
// only set when ctx ended first.
func (e *Engine) headSequence(ctx context.Context, v *view) (int32, bool, error) {
	ch := e.heads.DoChan(v.stream.String(), func() (any, error) {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.cfg.RemoteTimeout)
		defer cancel()

		start := time.Now()
		seq, ok := v.remote.HeadSequence(ctx)
		metrics.RemoteDuration.WithLabelValues("head").Observe(time.Since(start).Seconds())
		if !ok {
			metrics.RemoteCalls.WithLabelValues("head", "absent").Inc()
		} else {
			metrics.RemoteCalls.WithLabelValues("head", "ok").Inc()
		}
		return headResult{seq: seq, ok: ok}, nil
	})

	timer := time.NewTimer(e.cfg.RemoteTimeout)
	defer timer.Stop()
	select {
	case res := <-ch:
		head, _ := res.Val.(headResult)
		if !head.ok {
			e.report(status.Degraded)
			return 0, false, nil
		}
		e.report(status.Online)
		return head.seq, true, nil
	case <-timer.C:
		e.report(status.Degraded)
		return 0, false, nil
	case <-ctx.Done():
		return 0, false, ctx.Err()
	}
}

// fetch calls FetchBefore with the configured timeout and records the
// outcome. A request cancelled by its caller is returned as ctx.Err()
// and does not count against the remote.
func (e *Engine) fetch(ctx context.Context, v *view, op string, anchor Anchor, count int, exclusive bool) ([]message.Record, error) {
	fctx, cancel := context.WithTimeout(ctx, e.cfg.RemoteTimeout)
	defer cancel()

	start := time.Now()
	recs, err := v.remote.FetchBefore(fctx, anchor, count, exclusive)
	if err != nil && ctx.Err() != nil {
		return nil, ctx.Err()
	}
	metrics.RemoteDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.RemoteCalls.WithLabelValues(op, "error").Inc()
		e.report(status.Degraded)
		e.logger.Warn("remote fetch failed",
			zap.String("op", op),
			zap.String("view", v.id),
			zap.Stringer("stream", v.stream),
			zap.Int32("anchor", anchor.Sequence),
			zap.Error(err))
		e.bus.Publish(bus.NewEvent(bus.KindRemoteFailed, map[string]any{
			"view":   v.id,
			"stream": v.stream.String(),
			"op":     op,
			"error":  err.Error(),
		}))
		return nil, err
	}
	result := "ok"
	if len(recs) == 0 {
		result = "empty"
	}
	metrics.RemoteCalls.WithLabelValues(op, result).Inc()
	e.report(status.Online)
	return recs, nil
}

// upsert writes fetched messages even if the request was cancelled
// meanwhile; the caller then drops the response.
func (e *Engine) upsert(ctx context.Context, recs []message.Record) error {
	if err := e.store.UpsertMessages(context.WithoutCancel(ctx), recs); err != nil {
		return fmt.Errorf("store fetched messages: %w", err)
	}
	return ctx.Err()
}

// assemble builds a page from remote messages, topping it up with older
// cached messages when the remote came back short. from is the message
// the page continues below, or nil for the first page.
func (e *Engine) assemble(ctx context.Context, s message.Stream, remote []message.Record, from *message.Record, size int) (Page, error) {
	page := Page{Records: remote, Source: SourceRemote}
	if len(remote) >= size {
		page.HasMore = true
	} else {
		below := from
		if len(remote) > 0 {
			below = &remote[len(remote)-1]
		}
		var (
			older []message.Record
			err   error
		)
		if below == nil {
			older, err = e.store.LastN(ctx, s, size)
		} else {
			older, err = e.store.PageBefore(ctx, s, below.Time, below.ID, size-len(remote))
		}
		if err != nil {
			return Page{}, fmt.Errorf("load cached page: %w", err)
		}
		older = dropSeen(older, remote)
		switch {
		case len(remote) == 0:
			page.Source = SourceLocal
		case len(older) > 0:
			page.Source = SourceMixed
		}
		page.Records = append(page.Records, older...)
		page.HasMore = len(page.Records) >= size
	}

	switch n := len(page.Records); {
	case n > 0:
		page.Next = Cursor(page.Records[n-1].ID)
	case from != nil:
		page.Next = Cursor(from.ID)
	}
	return page, nil
}
