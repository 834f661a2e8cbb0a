// Package remote adapts the roaming history feed, served over gRPC, to the
// sync engine's Remote contract.
package remote

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/matheus3301/roam/internal/message"
	"github.com/matheus3301/roam/internal/rpc"
	intsync "github.com/matheus3301/roam/internal/sync"
)

// Options configures the connection to the feed.
type Options struct {
	Addr      string
	RateLimit float64 // requests per second shared by all streams; 0 disables limiting
	RateBurst int
}

// Client opens roaming sessions on one feed connection. All sessions
// share the client's rate limiter.
type Client struct {
	conn    *grpc.ClientConn
	feed    *rpc.RoamingClient
	limiter *rate.Limiter
	logger  *zap.Logger
}

// Dial connects to the feed at opts.Addr. The connection is established
// lazily on the first call.
func Dial(opts Options, logger *zap.Logger) (*Client, error) {
	conn, err := grpc.NewClient(opts.Addr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		rpc.WithJSON(),
	)
	if err != nil {
		return nil, fmt.Errorf("dial roaming feed %s: %w", opts.Addr, err)
	}
	c := NewClient(conn, newLimiter(opts), logger)
	c.conn = conn
	return c, nil
}

// NewClient wraps an existing connection. limiter may be nil.
func NewClient(cc grpc.ClientConnInterface, limiter *rate.Limiter, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	if limiter == nil {
		limiter = rate.NewLimiter(rate.Inf, 0)
	}
	return &Client{
		feed:    rpc.NewRoamingClient(cc),
		limiter: limiter,
		logger:  logger,
	}
}

func newLimiter(opts Options) *rate.Limiter {
	if opts.RateLimit <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	return rate.NewLimiter(rate.Limit(opts.RateLimit), max(opts.RateBurst, 1))
}

// Close closes the connection opened by Dial.
func (c *Client) Close() error {
	if c == nil || c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

// Open returns a session for s. Temporary conversations have no roaming
// history.
func (c *Client) Open(_ context.Context, s message.Stream) (intsync.Remote, bool) {
	if s.Contact.Kind == message.Temporary {
		return nil, false
	}
	return &session{client: c, stream: s, ref: rpc.NewStreamRef(s)}, true
}

type session struct {
	client *Client
	stream message.Stream
	ref    rpc.StreamRef
}

func (s *session) HeadSequence(ctx context.Context) (int32, bool) {
	if err := s.client.limiter.Wait(ctx); err != nil {
		return 0, false
	}
	resp, err := s.client.feed.HeadSequence(ctx, &rpc.HeadSequenceRequest{StreamRef: s.ref})
	if err != nil {
		s.client.logger.Warn("head sequence lookup failed", zap.Stringer("stream", s.stream), zap.Error(err))
		return 0, false
	}
	if !resp.Available {
		return 0, false
	}
	return resp.Sequence, true
}

func (s *session) FetchBefore(ctx context.Context, anchor intsync.Anchor, count int, exclusive bool) ([]message.Record, error) {
	if err := s.client.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit: %w", err)
	}
	resp, err := s.client.feed.FetchBefore(ctx, &rpc.FetchBeforeRequest{
		StreamRef:      s.ref,
		AnchorSequence: anchor.Sequence,
		Count:          int32(count),
		Exclusive:      exclusive,
	})
	if err != nil {
		return nil, fmt.Errorf("fetch before %d: %w", anchor.Sequence, err)
	}

	recs := make([]message.Record, 0, len(resp.Messages))
	for i := range resp.Messages {
		m := &resp.Messages[i]
		m.ID = 0 // identity is always derived locally
		r, err := m.Record(s.stream)
		if err != nil {
			return nil, fmt.Errorf("decode message %d: %w", m.Sequence, err)
		}
		recs = append(recs, r)
	}
	return recs, nil
}
