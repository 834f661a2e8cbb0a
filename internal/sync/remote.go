package sync

import (
	"context"

	"github.com/matheus3301/roam/internal/message"
	"github.com/matheus3301/roam/internal/store"
)

// Anchor is the position a remote fetch pages back from.
type Anchor struct {
	ID       message.ID
	Sequence int32
}

func anchorOf(m *message.Record) Anchor {
	return Anchor{ID: m.ID, Sequence: m.Sequence}
}

// Remote is a roaming session bound to one stream.
type Remote interface {
	// HeadSequence returns the newest sequence of the stream. ok is false
	// when the session cannot be established; callers treat that as
	// "no remote", never as an error.
	HeadSequence(ctx context.Context) (seq int32, ok bool)

	// FetchBefore returns up to count messages below the anchor (or at and
	// below it when exclusive is false), newest first. An empty result means
	// the remote has no older history.
	FetchBefore(ctx context.Context, anchor Anchor, count int, exclusive bool) ([]message.Record, error)
}

// RemoteProvider opens roaming sessions. ok is false when the stream has
// no remote feed (unsupported contact kind, no transport).
type RemoteProvider interface {
	Open(ctx context.Context, s message.Stream) (r Remote, ok bool)
}

// LocalStore is the durable message cache the engine reads and writes.
// *store.DB implements it.
type LocalStore interface {
	UpsertMessages(ctx context.Context, msgs []message.Record) error
	GetMessage(ctx context.Context, s message.Stream, id message.ID) (*message.Record, error)
	LastN(ctx context.Context, s message.Stream, limit int) ([]message.Record, error)
	PageBefore(ctx context.Context, s message.Stream, beforeTime int64, beforeID message.ID, limit int) ([]message.Record, error)
	SequenceRange(ctx context.Context, s message.Stream, low, high int32) ([]store.SeqRef, error)
	LoadWatermark(ctx context.Context, s message.Stream) (store.Watermark, bool, error)
	SaveWatermark(ctx context.Context, s message.Stream, w store.Watermark) error
}

var _ LocalStore = (*store.DB)(nil)
