package rpc

import (
	"context"

	"google.golang.org/grpc"
)

const roamingService = "roam.v1.RoamingService"

// RoamingServer is the remote history feed.
type RoamingServer interface {
	HeadSequence(context.Context, *HeadSequenceRequest) (*HeadSequenceResponse, error)
	FetchBefore(context.Context, *FetchBeforeRequest) (*FetchBeforeResponse, error)
}

var roamingDesc = grpc.ServiceDesc{
	ServiceName: roamingService,
	HandlerType: (*RoamingServer)(nil),
	Methods: []grpc.MethodDesc{
		unary(roamingService, "HeadSequence", RoamingServer.HeadSequence),
		unary(roamingService, "FetchBefore", RoamingServer.FetchBefore),
	},
	Metadata: "roam/v1/roaming",
}

// RegisterRoamingServer registers srv on s.
func RegisterRoamingServer(s grpc.ServiceRegistrar, srv RoamingServer) {
	s.RegisterService(&roamingDesc, srv)
}

// RoamingClient calls RoamingService.
type RoamingClient struct {
	cc grpc.ClientConnInterface
}

func NewRoamingClient(cc grpc.ClientConnInterface) *RoamingClient {
	return &RoamingClient{cc: cc}
}

func (c *RoamingClient) HeadSequence(ctx context.Context, in *HeadSequenceRequest, opts ...grpc.CallOption) (*HeadSequenceResponse, error) {
	out := new(HeadSequenceResponse)
	if err := c.cc.Invoke(ctx, "/"+roamingService+"/HeadSequence", in, out, withJSON(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *RoamingClient) FetchBefore(ctx context.Context, in *FetchBeforeRequest, opts ...grpc.CallOption) (*FetchBeforeResponse, error) {
	out := new(FetchBeforeResponse)
	if err := c.cc.Invoke(ctx, "/"+roamingService+"/FetchBefore", in, out, withJSON(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}
