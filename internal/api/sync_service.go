package api

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"google.golang.org/grpc"

	"github.com/matheus3301/roam/internal/bus"
	"github.com/matheus3301/roam/internal/rpc"
	"github.com/matheus3301/roam/internal/status"
	intsync "github.com/matheus3301/roam/internal/sync"
)

// MessageCounter reports the size of the local cache.
type MessageCounter interface {
	MessageCount(ctx context.Context) (int64, error)
}

// SyncService implements the SyncService gRPC service.
type SyncService struct {
	engine      *intsync.Engine
	counter     MessageCounter
	bus         *bus.Bus
	machine     *status.Machine
	sessionName string
	remoteAddr  string
	startedAt   time.Time
	logger      *zap.Logger
}

var _ rpc.SyncServer = (*SyncService)(nil)

// NewSyncService creates a new sync service. counter may be nil.
func NewSyncService(engine *intsync.Engine, counter MessageCounter, b *bus.Bus, machine *status.Machine, sessionName, remoteAddr string, logger *zap.Logger) *SyncService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SyncService{
		engine:      engine,
		counter:     counter,
		bus:         b,
		machine:     machine,
		sessionName: sessionName,
		remoteAddr:  remoteAddr,
		startedAt:   time.Now(),
		logger:      logger,
	}
}

func (s *SyncService) GetSyncStatus(ctx context.Context, _ *rpc.GetSyncStatusRequest) (*rpc.GetSyncStatusResponse, error) {
	resp := &rpc.GetSyncStatusResponse{
		Session:    s.sessionName,
		Status:     string(s.machine.Current()),
		RemoteAddr: s.remoteAddr,
		OpenViews:  int32(s.engine.Views()),
		UptimeMs:   time.Since(s.startedAt).Milliseconds(),
	}
	if s.counter != nil {
		if n, err := s.counter.MessageCount(ctx); err == nil {
			resp.MessageCount = n
		} else {
			s.logger.Warn("count messages", zap.Error(err))
		}
	}
	return resp, nil
}

func (s *SyncService) WatchSyncEvents(_ *rpc.WatchSyncEventsRequest, stream grpc.ServerStreamingServer[rpc.EventEnvelope]) error {
	ch, unsub := s.bus.SubscribeAny(bus.WatchNamespaces, 256)
	defer unsub()

	for {
		select {
		case evt := <-ch:
			payload, err := json.Marshal(evt.Payload)
			if err != nil {
				s.logger.Warn("encode event payload", zap.String("kind", evt.Kind), zap.Error(err))
				payload = nil
			}
			if err := stream.Send(&rpc.EventEnvelope{
				EventID:          uuid.New().String(),
				Session:          s.sessionName,
				OccurredAtUnixMs: evt.Timestamp.UnixMilli(),
				Kind:             evt.Kind,
				PayloadVersion:   1,
				Payload:          payload,
			}); err != nil {
				return err
			}
		case <-stream.Context().Done():
			return nil
		}
	}
}
