package client

import (
	"context"
	"fmt"
	"iter"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/matheus3301/roam/internal/message"
	"github.com/matheus3301/roam/internal/rpc"
)

// Client wraps gRPC connections to the daemon.
type Client struct {
	conn   *grpc.ClientConn
	Paging *rpc.PagingClient
	Sync   *rpc.SyncClient
}

// New dials the daemon's Unix domain socket and returns typed service clients.
func New(socketPath string) (*Client, error) {
	conn, err := grpc.NewClient(
		"unix://"+socketPath,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		rpc.WithJSON(),
	)
	if err != nil {
		return nil, fmt.Errorf("dial daemon: %w", err)
	}

	return &Client{
		conn:   conn,
		Paging: rpc.NewPagingClient(conn),
		Sync:   rpc.NewSyncClient(conn),
	}, nil
}

// Close closes the gRPC connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// History opens a view on s and yields its pages newest first until the
// history is exhausted, an error occurs or the caller stops. The view is
// closed afterwards.
func (c *Client) History(ctx context.Context, s message.Stream, pageSize int) iter.Seq2[*rpc.ListHistoryResponse, error] {
	return func(yield func(*rpc.ListHistoryResponse, error) bool) {
		open, err := c.Paging.OpenView(ctx, &rpc.OpenViewRequest{})
		if err != nil {
			yield(nil, err)
			return
		}
		defer func() {
			_, _ = c.Paging.CloseView(context.WithoutCancel(ctx), &rpc.CloseViewRequest{ViewID: open.ViewID})
		}()

		req := &rpc.ListHistoryRequest{
			StreamRef: rpc.NewStreamRef(s),
			ViewID:    open.ViewID,
			PageSize:  int32(pageSize),
		}
		for {
			resp, err := c.Paging.ListHistory(ctx, req)
			if err != nil {
				yield(nil, err)
				return
			}
			if !yield(resp, nil) || !resp.HasMore {
				return
			}
			req.Cursor = resp.NextCursor
		}
	}
}
