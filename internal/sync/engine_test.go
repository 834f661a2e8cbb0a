package sync

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"slices"
	stdsync "sync"
	"testing"
	"time"

	"github.com/matheus3301/roam/internal/bus"
	"github.com/matheus3301/roam/internal/message"
	"github.com/matheus3301/roam/internal/status"
	"github.com/matheus3301/roam/internal/store"
)

var testStream = message.Stream{Account: 10001, Contact: message.Contact{Kind: message.Group, Subject: 42}}

func record(seq int32) message.Record {
	ts := int64(seq) * 1000
	return message.Record{
		Account:  testStream.Account,
		Contact:  testStream.Contact,
		Sender:   7,
		ID:       message.NewID(seq, testStream, 7, ts),
		Sequence: seq,
		Time:     ts,
		Content:  []message.Element{message.Text{Content: "hello"}},
	}
}

// fakeRemote serves sequences 1..n of testStream.
type fakeRemote struct {
	mu       stdsync.Mutex
	msgs     map[int32]message.Record
	head     int32
	headOK   bool
	fetchErr error
	omitOnce map[int32]bool // dropped from the first fetch only
	fetches  int
	heads    int

	// Calls block on these until closed or their context ends.
	stallHead  chan struct{}
	stallFetch chan struct{}
	onFetch    func() // runs before FetchBefore returns
}

func newFakeRemote(n int32) *fakeRemote {
	f := &fakeRemote{msgs: make(map[int32]message.Record), head: n, headOK: true}
	for seq := int32(1); seq <= n; seq++ {
		f.msgs[seq] = record(seq)
	}
	return f
}

func (f *fakeRemote) HeadSequence(ctx context.Context) (int32, bool) {
	f.mu.Lock()
	f.heads++
	stall := f.stallHead
	f.mu.Unlock()
	if stall != nil {
		select {
		case <-stall:
		case <-ctx.Done():
			return 0, false
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	return f.head, f.headOK
}

func (f *fakeRemote) FetchBefore(ctx context.Context, anchor Anchor, count int, exclusive bool) ([]message.Record, error) {
	f.mu.Lock()
	f.fetches++
	stall, hook := f.stallFetch, f.onFetch
	f.mu.Unlock()
	if stall != nil {
		select {
		case <-stall:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if hook != nil {
		defer hook()
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	omit := f.omitOnce
	f.omitOnce = nil

	var out []message.Record
	for seq := anchor.Sequence; seq >= 1 && len(out) < count; seq-- {
		if exclusive && seq == anchor.Sequence {
			continue
		}
		if omit[seq] {
			continue
		}
		if m, ok := f.msgs[seq]; ok {
			out = append(out, m)
		}
	}
	return out, nil
}

func (f *fakeRemote) setFetchErr(err error) {
	f.mu.Lock()
	f.fetchErr = err
	f.mu.Unlock()
}

func (f *fakeRemote) fetchCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fetches
}

func (f *fakeRemote) headCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.heads
}

// gate returns a channel for stalling fake calls and a func that releases
// them. The gate is released at the latest when the test ends.
func gate(t *testing.T) (chan struct{}, func()) {
	t.Helper()
	ch := make(chan struct{})
	var once stdsync.Once
	release := func() { once.Do(func() { close(ch) }) }
	t.Cleanup(release)
	return ch, release
}

type fakeProvider struct{ remote Remote }

func (p fakeProvider) Open(context.Context, message.Stream) (Remote, bool) {
	return p.remote, p.remote != nil
}

func testDB(t *testing.T) *store.DB {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func testEngine(t *testing.T, remote Remote, cfg Config) (*Engine, *store.DB, *status.Machine) {
	t.Helper()
	db := testDB(t)
	b := bus.New()
	machine := status.NewMachine(b)
	var provider RemoteProvider
	if remote != nil {
		provider = fakeProvider{remote: remote}
	}
	return NewEngine(db, provider, b, machine, cfg, nil), db, machine
}

func isLocalOnly(e *Engine, id string) bool {
	e.mu.Lock()
	v := e.views[id]
	e.mu.Unlock()
	v.lock.mu.Lock()
	defer v.lock.mu.Unlock()
	return v.localOnly
}

func sequences(recs []message.Record) []int32 {
	out := make([]int32, 0, len(recs))
	for _, m := range recs {
		out = append(out, m.Sequence)
	}
	return out
}

func seqRange(hi, lo int32) []int32 {
	var out []int32
	for s := hi; s >= lo; s-- {
		out = append(out, s)
	}
	return out
}

func TestPagingMergesRemoteHistory(t *testing.T) {
	e, db, _ := testEngine(t, newFakeRemote(45), Config{PageSize: 20})
	ctx := context.Background()

	want := []struct {
		seqs    []int32
		hasMore bool
	}{
		{seqRange(45, 26), true},
		{seqRange(25, 6), true},
		{seqRange(5, 1), false},
	}

	cursor := Start
	for i, w := range want {
		page, err := e.Page(ctx, PageRequest{View: "v1", Stream: testStream, Cursor: cursor})
		if err != nil {
			t.Fatalf("page %d: %v", i, err)
		}
		if got := sequences(page.Records); !slices.Equal(got, w.seqs) {
			t.Errorf("page %d = %v, want %v", i, got, w.seqs)
		}
		if page.HasMore != w.hasMore {
			t.Errorf("page %d HasMore = %v, want %v", i, page.HasMore, w.hasMore)
		}
		if page.Source != SourceRemote {
			t.Errorf("page %d Source = %s, want remote", i, page.Source)
		}
		cursor = page.Next
	}

	n, err := db.StreamMessageCount(ctx, testStream)
	if err != nil {
		t.Fatal(err)
	}
	if n != 45 {
		t.Errorf("store holds %d messages, want 45", n)
	}
}

func TestGapClosedOnContinuation(t *testing.T) {
	remote := newFakeRemote(100)
	remote.omitOnce = map[int32]bool{96: true, 97: true}
	e, db, _ := testEngine(t, remote, Config{PageSize: 5})
	ctx := context.Background()

	first, err := e.Page(ctx, PageRequest{View: "v1", Stream: testStream, Cursor: Start})
	if err != nil {
		t.Fatal(err)
	}
	if got, want := sequences(first.Records), []int32{100, 99, 98, 95, 94}; !slices.Equal(got, want) {
		t.Fatalf("first page = %v, want %v", got, want)
	}

	second, err := e.Page(ctx, PageRequest{View: "v1", Stream: testStream, Cursor: first.Next})
	if err != nil {
		t.Fatal(err)
	}
	if got, want := sequences(second.Records), seqRange(93, 89); !slices.Equal(got, want) {
		t.Errorf("second page = %v, want %v", got, want)
	}

	refs, err := db.SequenceRange(ctx, testStream, 89, 100)
	if err != nil {
		t.Fatal(err)
	}
	if len(refs) != 12 {
		t.Errorf("stored %d sequences in [89, 100], want 12 after backfill", len(refs))
	}

	w, ok, err := db.LoadWatermark(ctx, testStream)
	if err != nil {
		t.Fatal(err)
	}
	if !ok || w != (store.Watermark{Low: 94, High: 100}) {
		t.Errorf("verified interval = %+v (ok=%v), want {94 100}", w, ok)
	}
}

func TestGapLeftOpenOnRemoteError(t *testing.T) {
	remote := newFakeRemote(20)
	remote.omitOnce = map[int32]bool{18: true}
	e, db, _ := testEngine(t, remote, Config{PageSize: 5})
	ctx := context.Background()

	first, err := e.Page(ctx, PageRequest{View: "v1", Stream: testStream, Cursor: Start})
	if err != nil {
		t.Fatal(err)
	}
	remote.setFetchErr(errors.New("connection reset"))

	second, err := e.Page(ctx, PageRequest{View: "v1", Stream: testStream, Cursor: first.Next})
	if err != nil {
		t.Fatalf("remote failure must degrade to the store, got %v", err)
	}
	if len(second.Records) != 0 || second.HasMore {
		t.Errorf("second page = %v HasMore=%v, want empty cache page", sequences(second.Records), second.HasMore)
	}
	if second.Next != first.Next {
		t.Errorf("empty page moved cursor from %d to %d", first.Next, second.Next)
	}
	if _, ok, err := db.LoadWatermark(ctx, testStream); err != nil || ok {
		t.Errorf("aborted backfill persisted a verified interval (ok=%v err=%v)", ok, err)
	}
}

func TestFailedBackfillRetriedBeforeVerifying(t *testing.T) {
	remote := newFakeRemote(20)
	remote.omitOnce = map[int32]bool{18: true}
	e, db, _ := testEngine(t, remote, Config{PageSize: 5})
	ctx := context.Background()

	first, err := e.Page(ctx, PageRequest{View: "v1", Stream: testStream, Cursor: Start})
	if err != nil {
		t.Fatal(err)
	}
	if got, want := sequences(first.Records), []int32{20, 19, 17, 16, 15}; !slices.Equal(got, want) {
		t.Fatalf("first page = %v, want %v", got, want)
	}

	remote.setFetchErr(errors.New("connection reset"))
	if _, err := e.Page(ctx, PageRequest{View: "v1", Stream: testStream, Cursor: first.Next}); err != nil {
		t.Fatal(err)
	}
	if _, ok, err := db.LoadWatermark(ctx, testStream); err != nil || ok {
		t.Fatalf("failed backfill persisted a verified interval (ok=%v err=%v)", ok, err)
	}

	// The cursor is now at the view's watermark; the hole above it must
	// still be retried rather than skipped.
	remote.setFetchErr(nil)
	page, err := e.Page(ctx, PageRequest{View: "v1", Stream: testStream, Cursor: first.Next})
	if err != nil {
		t.Fatal(err)
	}
	if got := sequences(page.Records); !slices.Equal(got, seqRange(14, 10)) {
		t.Errorf("page = %v, want [14..10]", got)
	}
	m, err := db.GetMessage(ctx, testStream, record(18).ID)
	if err != nil {
		t.Fatal(err)
	}
	if m == nil {
		t.Fatal("sequence 18 still missing after the retry")
	}
	w, ok, err := db.LoadWatermark(ctx, testStream)
	if err != nil {
		t.Fatal(err)
	}
	if !ok || w != (store.Watermark{Low: 15, High: 20}) {
		t.Errorf("verified interval = %+v (ok=%v), want {15 20}", w, ok)
	}
}

func TestVerifiedIntervalSkipsGapForOtherViews(t *testing.T) {
	remote := newFakeRemote(100)
	remote.omitOnce = map[int32]bool{96: true, 97: true}
	e, db, _ := testEngine(t, remote, Config{PageSize: 5})
	ctx := context.Background()

	page, err := e.Page(ctx, PageRequest{View: "v1", Stream: testStream, Cursor: Start})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := e.Page(ctx, PageRequest{View: "v1", Stream: testStream, Cursor: page.Next}); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := db.LoadWatermark(ctx, testStream); !ok {
		t.Fatal("first view did not persist a verified interval")
	}

	// Punch the hole again behind the interval's back.
	if _, err := db.ExecContext(ctx, `DELETE FROM messages WHERE sequence IN (96, 97)`); err != nil {
		t.Fatal(err)
	}
	remote.omitOnce = map[int32]bool{96: true, 97: true}
	page, err = e.Page(ctx, PageRequest{View: "v2", Stream: testStream, Cursor: Start})
	if err != nil {
		t.Fatal(err)
	}

	before := remote.fetchCount()
	if _, err := e.Page(ctx, PageRequest{View: "v2", Stream: testStream, Cursor: page.Next}); err != nil {
		t.Fatal(err)
	}
	if n := remote.fetchCount() - before; n != 1 {
		t.Errorf("continuation issued %d fetches, want only the forward page", n)
	}
	refs, err := db.SequenceRange(ctx, testStream, 94, 100)
	if err != nil {
		t.Fatal(err)
	}
	if len(refs) != 5 {
		t.Errorf("stored %d sequences in [94, 100], want 5 (gap left alone)", len(refs))
	}
}

func TestWatermarkNeverIncreases(t *testing.T) {
	e, _, _ := testEngine(t, newFakeRemote(30), Config{PageSize: 5})
	ctx := context.Background()

	page, err := e.Page(ctx, PageRequest{View: "v1", Stream: testStream, Cursor: Start})
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := e.Watermark("v1"); ok {
		t.Error("watermark set before any continuation")
	}

	prev := int32(1 << 30)
	for page.HasMore {
		page, err = e.Page(ctx, PageRequest{View: "v1", Stream: testStream, Cursor: page.Next})
		if err != nil {
			t.Fatal(err)
		}
		w, ok := e.Watermark("v1")
		if !ok {
			t.Fatal("watermark missing after continuation")
		}
		if w > prev {
			t.Fatalf("watermark rose from %d to %d", prev, w)
		}
		prev = w
	}
	if prev != 1 {
		t.Errorf("final watermark = %d, want 1 (last cursor)", prev)
	}
}

func TestHeadAbsentFallsBackToStore(t *testing.T) {
	remote := newFakeRemote(0)
	remote.headOK = false
	e, db, _ := testEngine(t, remote, Config{PageSize: 10})
	ctx := context.Background()

	var cached []message.Record
	for seq := int32(1); seq <= 25; seq++ {
		cached = append(cached, record(seq))
	}
	if err := db.UpsertMessages(ctx, cached); err != nil {
		t.Fatal(err)
	}

	want := []struct {
		seqs    []int32
		hasMore bool
	}{
		{seqRange(25, 16), true},
		{seqRange(15, 6), true},
		{seqRange(5, 1), false},
	}
	cursor := Start
	for i, w := range want {
		page, err := e.Page(ctx, PageRequest{View: "v1", Stream: testStream, Cursor: cursor})
		if err != nil {
			t.Fatalf("page %d: %v", i, err)
		}
		if got := sequences(page.Records); !slices.Equal(got, w.seqs) {
			t.Errorf("page %d = %v, want %v", i, got, w.seqs)
		}
		if page.HasMore != w.hasMore || page.Source != SourceLocal {
			t.Errorf("page %d HasMore=%v Source=%s, want %v local", i, page.HasMore, page.Source, w.hasMore)
		}
		cursor = page.Next
	}
	if n := remote.fetchCount(); n != 0 {
		t.Errorf("local-only view issued %d remote fetches", n)
	}
}

func TestNoRemoteProvider(t *testing.T) {
	e, db, machine := testEngine(t, nil, Config{PageSize: 10})
	ctx := context.Background()

	if err := db.UpsertMessages(ctx, []message.Record{record(2), record(1)}); err != nil {
		t.Fatal(err)
	}
	page, err := e.Page(ctx, PageRequest{View: "v1", Stream: testStream, Cursor: Start})
	if err != nil {
		t.Fatal(err)
	}
	if got := sequences(page.Records); !slices.Equal(got, []int32{2, 1}) || page.HasMore {
		t.Errorf("page = %v HasMore=%v, want [2 1] false", got, page.HasMore)
	}
	if machine.Current() != status.Offline {
		t.Errorf("status = %s, want OFFLINE", machine.Current())
	}
}

func TestFirstPageRemoteErrorUsesStore(t *testing.T) {
	remote := newFakeRemote(10)
	remote.setFetchErr(errors.New("timeout"))
	e, db, machine := testEngine(t, remote, Config{PageSize: 5})
	ctx := context.Background()

	if err := db.UpsertMessages(ctx, []message.Record{record(3), record(2), record(1)}); err != nil {
		t.Fatal(err)
	}
	page, err := e.Page(ctx, PageRequest{View: "v1", Stream: testStream, Cursor: Start})
	if err != nil {
		t.Fatal(err)
	}
	if got := sequences(page.Records); !slices.Equal(got, []int32{3, 2, 1}) || page.Source != SourceLocal {
		t.Errorf("page = %v from %s, want [3 2 1] from local", got, page.Source)
	}
	if machine.Current() != status.Degraded {
		t.Errorf("status = %s, want DEGRADED", machine.Current())
	}

	// The failure was transient: the view still talks to the remote.
	remote.setFetchErr(nil)
	page, err = e.Page(ctx, PageRequest{View: "v1", Stream: testStream, Cursor: Start})
	if err != nil {
		t.Fatal(err)
	}
	if got := sequences(page.Records); !slices.Equal(got, seqRange(10, 6)) || page.Source != SourceRemote {
		t.Errorf("page = %v from %s, want [10..6] from remote", got, page.Source)
	}
	if machine.Current() != status.Online {
		t.Errorf("status = %s, want ONLINE", machine.Current())
	}
}

func TestHeadTimeoutFallsBackToStore(t *testing.T) {
	remote := newFakeRemote(10)
	remote.stallHead, _ = gate(t)
	e, db, machine := testEngine(t, remote, Config{PageSize: 5, RemoteTimeout: 50 * time.Millisecond})
	ctx := context.Background()

	if err := db.UpsertMessages(ctx, []message.Record{record(3), record(2), record(1)}); err != nil {
		t.Fatal(err)
	}
	start := time.Now()
	page, err := e.Page(ctx, PageRequest{View: "v1", Stream: testStream, Cursor: Start})
	if err != nil {
		t.Fatal(err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("page took %s with a stalled head lookup", elapsed)
	}
	if got := sequences(page.Records); !slices.Equal(got, []int32{3, 2, 1}) || page.Source != SourceLocal {
		t.Errorf("page = %v from %s, want [3 2 1] from local", got, page.Source)
	}
	if machine.Current() != status.Degraded {
		t.Errorf("status = %s, want DEGRADED", machine.Current())
	}
	if !isLocalOnly(e, "v1") {
		t.Error("timed out head lookup should leave the view local-only")
	}
}

func TestFetchTimeoutFallsBackToStore(t *testing.T) {
	remote := newFakeRemote(10)
	remote.stallFetch, _ = gate(t)
	e, db, machine := testEngine(t, remote, Config{PageSize: 5, RemoteTimeout: 50 * time.Millisecond})
	ctx := context.Background()

	if err := db.UpsertMessages(ctx, []message.Record{record(3), record(2), record(1)}); err != nil {
		t.Fatal(err)
	}
	start := time.Now()
	page, err := e.Page(ctx, PageRequest{View: "v1", Stream: testStream, Cursor: Start})
	if err != nil {
		t.Fatal(err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("page took %s with a stalled fetch", elapsed)
	}
	if got := sequences(page.Records); !slices.Equal(got, []int32{3, 2, 1}) || page.Source != SourceLocal {
		t.Errorf("page = %v from %s, want [3 2 1] from local", got, page.Source)
	}
	if machine.Current() != status.Degraded {
		t.Errorf("status = %s, want DEGRADED", machine.Current())
	}
	if isLocalOnly(e, "v1") {
		t.Error("a slow fetch must only degrade the page, not the view")
	}
}

func TestCancelledFetchStillStores(t *testing.T) {
	remote := newFakeRemote(10)
	e, db, _ := testEngine(t, remote, Config{PageSize: 5})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	remote.onFetch = cancel

	_, err := e.Page(ctx, PageRequest{View: "v1", Stream: testStream, Cursor: Start})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	n, err := db.StreamMessageCount(context.Background(), testStream)
	if err != nil {
		t.Fatal(err)
	}
	if n != 5 {
		t.Errorf("store holds %d messages, want the 5 fetched before the cancel", n)
	}
}

func TestCancelledRequestIsNotARemoteFailure(t *testing.T) {
	t.Run("head", func(t *testing.T) {
		remote := newFakeRemote(10)
		remote.stallHead, _ = gate(t)
		e, _, machine := testEngine(t, remote, Config{PageSize: 5})
		events, unsub := e.bus.Subscribe("sync.", 16)
		defer unsub()

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
		defer cancel()
		if _, err := e.Page(ctx, PageRequest{View: "v1", Stream: testStream, Cursor: Start}); !errors.Is(err, context.DeadlineExceeded) {
			t.Fatalf("err = %v, want context.DeadlineExceeded", err)
		}
		if isLocalOnly(e, "v1") {
			t.Error("cancelled head lookup switched the view to local-only")
		}
		if machine.Current() != status.Booting {
			t.Errorf("status = %s, want unchanged BOOTING", machine.Current())
		}
		if len(events) != 0 {
			t.Errorf("published %q for a cancelled request", (<-events).Kind)
		}
	})

	t.Run("fetch", func(t *testing.T) {
		remote := newFakeRemote(10)
		remote.stallFetch, _ = gate(t)
		e, _, machine := testEngine(t, remote, Config{PageSize: 5})
		events, unsub := e.bus.Subscribe(bus.KindRemoteFailed, 16)
		defer unsub()

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
		defer cancel()
		if _, err := e.Page(ctx, PageRequest{View: "v1", Stream: testStream, Cursor: Start}); !errors.Is(err, context.DeadlineExceeded) {
			t.Fatalf("err = %v, want context.DeadlineExceeded", err)
		}
		if machine.Current() != status.Online {
			t.Errorf("status = %s, want ONLINE from the head lookup", machine.Current())
		}
		if len(events) != 0 {
			t.Error("cancelled fetch published a remote failure")
		}
	})
}

func TestZeroHeadServesStoreForThisPage(t *testing.T) {
	remote := newFakeRemote(0)
	e, db, machine := testEngine(t, remote, Config{PageSize: 5})
	ctx := context.Background()

	if err := db.UpsertMessages(ctx, []message.Record{record(2), record(1)}); err != nil {
		t.Fatal(err)
	}
	page, err := e.Page(ctx, PageRequest{View: "v1", Stream: testStream, Cursor: Start})
	if err != nil {
		t.Fatal(err)
	}
	if got := sequences(page.Records); !slices.Equal(got, []int32{2, 1}) || page.Source != SourceLocal {
		t.Errorf("page = %v from %s, want [2 1] from local", got, page.Source)
	}
	if isLocalOnly(e, "v1") {
		t.Error("an empty remote stream must not make the view local-only")
	}
	if machine.Current() != status.Online {
		t.Errorf("status = %s, want ONLINE", machine.Current())
	}
}

func TestConcurrentHeadLookupsShareOneCall(t *testing.T) {
	remote := newFakeRemote(10)
	stall, release := gate(t)
	remote.stallHead = stall
	e, _, _ := testEngine(t, remote, Config{PageSize: 5})
	ctx := context.Background()

	const views = 4
	var wg stdsync.WaitGroup
	errs := make([]error, views)
	sizes := make([]int, views)
	for i := range views {
		wg.Add(1)
		go func() {
			defer wg.Done()
			page, err := e.Page(ctx, PageRequest{View: fmt.Sprintf("v%d", i), Stream: testStream, Cursor: Start})
			errs[i], sizes[i] = err, len(page.Records)
		}()
	}

	deadline := time.Now().Add(2 * time.Second)
	for remote.headCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	time.Sleep(100 * time.Millisecond) // let the other views join the lookup
	release()
	wg.Wait()

	for i := range views {
		if errs[i] != nil || sizes[i] != 5 {
			t.Errorf("view %d: %d records, err %v", i, sizes[i], errs[i])
		}
	}
	if n := remote.headCount(); n != 1 {
		t.Errorf("%d head lookups for one stream, want 1", n)
	}
}

func TestShortRemotePageTopsUpFromStore(t *testing.T) {
	// Remote only knows 10..6; the cache still has older rows.
	remote := newFakeRemote(10)
	for seq := int32(1); seq <= 5; seq++ {
		delete(remote.msgs, seq)
	}
	e, db, _ := testEngine(t, remote, Config{PageSize: 8})
	ctx := context.Background()

	if err := db.UpsertMessages(ctx, []message.Record{record(5), record(4), record(3)}); err != nil {
		t.Fatal(err)
	}
	page, err := e.Page(ctx, PageRequest{View: "v1", Stream: testStream, Cursor: Start})
	if err != nil {
		t.Fatal(err)
	}
	if got := sequences(page.Records); !slices.Equal(got, seqRange(10, 3)) {
		t.Errorf("page = %v, want [10..3]", got)
	}
	if page.Source != SourceMixed || !page.HasMore {
		t.Errorf("Source=%s HasMore=%v, want mixed true", page.Source, page.HasMore)
	}
}

func TestCursorIsStable(t *testing.T) {
	e, _, _ := testEngine(t, newFakeRemote(45), Config{PageSize: 10})
	ctx := context.Background()

	first, err := e.Page(ctx, PageRequest{View: "v1", Stream: testStream, Cursor: Start})
	if err != nil {
		t.Fatal(err)
	}
	a, err := e.Page(ctx, PageRequest{View: "v1", Stream: testStream, Cursor: first.Next})
	if err != nil {
		t.Fatal(err)
	}
	b, err := e.Page(ctx, PageRequest{View: "v1", Stream: testStream, Cursor: first.Next})
	if err != nil {
		t.Fatal(err)
	}
	if !slices.Equal(sequences(a.Records), sequences(b.Records)) || a.Next != b.Next {
		t.Errorf("same cursor served %v then %v", sequences(a.Records), sequences(b.Records))
	}
}

func TestPageErrors(t *testing.T) {
	e, _, _ := testEngine(t, newFakeRemote(10), Config{PageSize: 5})
	ctx := context.Background()

	if _, err := e.Page(ctx, PageRequest{Stream: testStream}); !errors.Is(err, ErrInvalidView) {
		t.Errorf("empty view: err = %v, want ErrInvalidView", err)
	}
	if _, err := e.Page(ctx, PageRequest{View: "nope", Stream: testStream, Cursor: 123}); !errors.Is(err, ErrNoSession) {
		t.Errorf("continuation without view: err = %v, want ErrNoSession", err)
	}
	if _, err := e.Page(ctx, PageRequest{View: "v1", Stream: testStream, Cursor: Start}); err != nil {
		t.Fatal(err)
	}
	if _, err := e.Page(ctx, PageRequest{View: "v1", Stream: testStream, Cursor: 999}); !errors.Is(err, ErrUnknownCursor) {
		t.Errorf("bogus cursor: err = %v, want ErrUnknownCursor", err)
	}
	other := message.Stream{Account: testStream.Account, Contact: message.Contact{Kind: message.Friend, Subject: 1}}
	if _, err := e.Page(ctx, PageRequest{View: "v1", Stream: other, Cursor: 999}); !errors.Is(err, ErrNoSession) {
		t.Errorf("view on another stream: err = %v, want ErrNoSession", err)
	}
}

func TestPageSizeClamped(t *testing.T) {
	e, _, _ := testEngine(t, newFakeRemote(100), Config{PageSize: 10, MaxPageSize: 15})
	ctx := context.Background()

	page, err := e.Page(ctx, PageRequest{View: "v1", Stream: testStream, Cursor: Start})
	if err != nil {
		t.Fatal(err)
	}
	if len(page.Records) != 10 {
		t.Errorf("default size served %d records, want 10", len(page.Records))
	}
	page, err = e.Page(ctx, PageRequest{View: "v1", Stream: testStream, Cursor: page.Next, Size: 1000})
	if err != nil {
		t.Fatal(err)
	}
	if len(page.Records) != 15 {
		t.Errorf("oversized request served %d records, want 15", len(page.Records))
	}
}

func TestCloseView(t *testing.T) {
	e, _, _ := testEngine(t, newFakeRemote(10), Config{PageSize: 5})
	ctx := context.Background()

	page, err := e.Page(ctx, PageRequest{View: "v1", Stream: testStream, Cursor: Start})
	if err != nil {
		t.Fatal(err)
	}
	if e.Views() != 1 {
		t.Fatalf("Views() = %d, want 1", e.Views())
	}
	if !e.CloseView("v1") {
		t.Error("CloseView returned false for an open view")
	}
	if e.CloseView("v1") {
		t.Error("CloseView returned true twice")
	}
	if e.Views() != 0 {
		t.Errorf("Views() = %d after close, want 0", e.Views())
	}
	if _, err := e.Page(ctx, PageRequest{View: "v1", Stream: testStream, Cursor: page.Next}); !errors.Is(err, ErrNoSession) {
		t.Errorf("continuation after close: err = %v, want ErrNoSession", err)
	}
	if len(e.locks) != 0 {
		t.Errorf("%d stream locks left after the last view closed", len(e.locks))
	}
}

func TestConcurrentViewsShareStream(t *testing.T) {
	e, db, _ := testEngine(t, newFakeRemote(45), Config{PageSize: 7})
	ctx := context.Background()

	var wg stdsync.WaitGroup
	results := make([][]int32, 2)
	errs := make([]error, 2)
	for i, id := range []string{"left", "right"} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			cursor := Start
			for {
				page, err := e.Page(ctx, PageRequest{View: id, Stream: testStream, Cursor: cursor})
				if err != nil {
					errs[i] = err
					return
				}
				results[i] = append(results[i], sequences(page.Records)...)
				if !page.HasMore {
					return
				}
				cursor = page.Next
			}
		}()
	}
	wg.Wait()

	for i := range results {
		if errs[i] != nil {
			t.Fatalf("view %d: %v", i, errs[i])
		}
		if !slices.Equal(results[i], seqRange(45, 1)) {
			t.Errorf("view %d paged %v, want 45..1 once each", i, results[i])
		}
	}
	if n, err := db.StreamMessageCount(ctx, testStream); err != nil || n != 45 {
		t.Errorf("store holds %d messages (err=%v), want 45", n, err)
	}
}

func TestPageEventsPublished(t *testing.T) {
	db := testDB(t)
	b := bus.New()
	events, unsub := b.Subscribe("sync.", 16)
	defer unsub()
	e := NewEngine(db, fakeProvider{remote: newFakeRemote(3)}, b, status.NewMachine(b), Config{PageSize: 5}, nil)

	if _, err := e.Page(context.Background(), PageRequest{View: "v1", Stream: testStream, Cursor: Start}); err != nil {
		t.Fatal(err)
	}
	e.CloseView("v1")

	var kinds []string
	for len(events) > 0 {
		kinds = append(kinds, (<-events).Kind)
	}
	if !slices.Equal(kinds, []string{bus.KindPageServed, bus.KindViewClosed}) {
		t.Errorf("events = %v", kinds)
	}
}
