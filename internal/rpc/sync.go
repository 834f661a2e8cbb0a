package rpc

import (
	"context"

	"google.golang.org/grpc"
)

const syncService = "roam.v1.SyncService"

// SyncServer reports the state of the sync engine.
type SyncServer interface {
	GetSyncStatus(context.Context, *GetSyncStatusRequest) (*GetSyncStatusResponse, error)
	WatchSyncEvents(*WatchSyncEventsRequest, grpc.ServerStreamingServer[EventEnvelope]) error
}

var syncDesc = grpc.ServiceDesc{
	ServiceName: syncService,
	HandlerType: (*SyncServer)(nil),
	Methods: []grpc.MethodDesc{
		unary(syncService, "GetSyncStatus", SyncServer.GetSyncStatus),
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "WatchSyncEvents",
			ServerStreams: true,
			Handler: func(srv any, stream grpc.ServerStream) error {
				in := new(WatchSyncEventsRequest)
				if err := stream.RecvMsg(in); err != nil {
					return err
				}
				return srv.(SyncServer).WatchSyncEvents(in, &grpc.GenericServerStream[WatchSyncEventsRequest, EventEnvelope]{ServerStream: stream})
			},
		},
	},
	Metadata: "roam/v1/sync",
}

// RegisterSyncServer registers srv on s.
func RegisterSyncServer(s grpc.ServiceRegistrar, srv SyncServer) {
	s.RegisterService(&syncDesc, srv)
}

// SyncClient calls SyncService.
type SyncClient struct {
	cc grpc.ClientConnInterface
}

func NewSyncClient(cc grpc.ClientConnInterface) *SyncClient {
	return &SyncClient{cc: cc}
}

func (c *SyncClient) GetSyncStatus(ctx context.Context, in *GetSyncStatusRequest, opts ...grpc.CallOption) (*GetSyncStatusResponse, error) {
	out := new(GetSyncStatusResponse)
	if err := c.cc.Invoke(ctx, "/"+syncService+"/GetSyncStatus", in, out, withJSON(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *SyncClient) WatchSyncEvents(ctx context.Context, in *WatchSyncEventsRequest, opts ...grpc.CallOption) (grpc.ServerStreamingClient[EventEnvelope], error) {
	stream, err := c.cc.NewStream(ctx, &syncDesc.Streams[0], "/"+syncService+"/WatchSyncEvents", withJSON(opts)...)
	if err != nil {
		return nil, err
	}
	x := &grpc.GenericClientStream[WatchSyncEventsRequest, EventEnvelope]{ClientStream: stream}
	if err := x.ClientStream.SendMsg(in); err != nil {
		return nil, err
	}
	if err := x.ClientStream.CloseSend(); err != nil {
		return nil, err
	}
	return x, nil
}
