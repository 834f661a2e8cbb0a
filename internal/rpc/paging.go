package rpc

import (
	"context"

	"google.golang.org/grpc"
)

const pagingService = "roam.v1.PagingService"

// PagingServer serves history pages to view consumers.
type PagingServer interface {
	OpenView(context.Context, *OpenViewRequest) (*OpenViewResponse, error)
	ListHistory(context.Context, *ListHistoryRequest) (*ListHistoryResponse, error)
	CloseView(context.Context, *CloseViewRequest) (*CloseViewResponse, error)
}

var pagingDesc = grpc.ServiceDesc{
	ServiceName: pagingService,
	HandlerType: (*PagingServer)(nil),
	Methods: []grpc.MethodDesc{
		unary(pagingService, "OpenView", PagingServer.OpenView),
		unary(pagingService, "ListHistory", PagingServer.ListHistory),
		unary(pagingService, "CloseView", PagingServer.CloseView),
	},
	Metadata: "roam/v1/paging",
}

// RegisterPagingServer registers srv on s.
func RegisterPagingServer(s grpc.ServiceRegistrar, srv PagingServer) {
	s.RegisterService(&pagingDesc, srv)
}

// PagingClient calls PagingService.
type PagingClient struct {
	cc grpc.ClientConnInterface
}

func NewPagingClient(cc grpc.ClientConnInterface) *PagingClient {
	return &PagingClient{cc: cc}
}

func (c *PagingClient) OpenView(ctx context.Context, in *OpenViewRequest, opts ...grpc.CallOption) (*OpenViewResponse, error) {
	out := new(OpenViewResponse)
	if err := c.cc.Invoke(ctx, "/"+pagingService+"/OpenView", in, out, withJSON(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *PagingClient) ListHistory(ctx context.Context, in *ListHistoryRequest, opts ...grpc.CallOption) (*ListHistoryResponse, error) {
	out := new(ListHistoryResponse)
	if err := c.cc.Invoke(ctx, "/"+pagingService+"/ListHistory", in, out, withJSON(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *PagingClient) CloseView(ctx context.Context, in *CloseViewRequest, opts ...grpc.CallOption) (*CloseViewResponse, error) {
	out := new(CloseViewResponse)
	if err := c.cc.Invoke(ctx, "/"+pagingService+"/CloseView", in, out, withJSON(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}
