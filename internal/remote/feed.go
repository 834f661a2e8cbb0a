package remote

import (
	"cmp"
	"context"
	"slices"
	"sync"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/matheus3301/roam/internal/message"
	"github.com/matheus3301/roam/internal/rpc"
)

// MemoryFeed is an in-memory roaming feed. It serves fixtures and tests.
type MemoryFeed struct {
	mu      sync.RWMutex
	streams map[message.Stream][]rpc.Message // sequence descending
}

var _ rpc.RoamingServer = (*MemoryFeed)(nil)

func NewMemoryFeed() *MemoryFeed {
	return &MemoryFeed{streams: make(map[message.Stream][]rpc.Message)}
}

// Add publishes records on the feed, replacing any with the same sequence.
func (f *MemoryFeed) Add(recs ...message.Record) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range recs {
		s := recs[i].Stream()
		m := rpc.FromRecord(&recs[i])
		m.ID = 0
		msgs := f.streams[s]
		at, found := slices.BinarySearchFunc(msgs, m.Sequence, func(e rpc.Message, seq int32) int {
			return cmp.Compare(seq, e.Sequence)
		})
		if found {
			msgs[at] = m
		} else {
			msgs = slices.Insert(msgs, at, m)
		}
		f.streams[s] = msgs
	}
}

func (f *MemoryFeed) HeadSequence(_ context.Context, in *rpc.HeadSequenceRequest) (*rpc.HeadSequenceResponse, error) {
	s, err := in.Stream()
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	msgs := f.streams[s]
	if len(msgs) == 0 {
		return &rpc.HeadSequenceResponse{}, nil
	}
	return &rpc.HeadSequenceResponse{Sequence: msgs[0].Sequence, Available: true}, nil
}

func (f *MemoryFeed) FetchBefore(_ context.Context, in *rpc.FetchBeforeRequest) (*rpc.FetchBeforeResponse, error) {
	s, err := in.Stream()
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	if in.Count <= 0 {
		return nil, status.Error(codes.InvalidArgument, "count must be positive")
	}
	f.mu.RLock()
	defer f.mu.RUnlock()

	out := make([]rpc.Message, 0, in.Count)
	for _, m := range f.streams[s] {
		if m.Sequence > in.AnchorSequence || (in.Exclusive && m.Sequence == in.AnchorSequence) {
			continue
		}
		out = append(out, m)
		if len(out) == int(in.Count) {
			break
		}
	}
	return &rpc.FetchBeforeResponse{Messages: out}, nil
}
