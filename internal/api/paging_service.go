package api

import (
	"context"
	"errors"
	"strconv"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"

	"github.com/matheus3301/roam/internal/message"
	"github.com/matheus3301/roam/internal/rpc"
	intsync "github.com/matheus3301/roam/internal/sync"
)

// PagingService implements the PagingService gRPC service.
type PagingService struct {
	engine *intsync.Engine
	logger *zap.Logger
}

var _ rpc.PagingServer = (*PagingService)(nil)

// NewPagingService creates a paging service backed by the sync engine.
func NewPagingService(engine *intsync.Engine, logger *zap.Logger) *PagingService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PagingService{engine: engine, logger: logger}
}

func (s *PagingService) OpenView(_ context.Context, _ *rpc.OpenViewRequest) (*rpc.OpenViewResponse, error) {
	return &rpc.OpenViewResponse{ViewID: uuid.NewString()}, nil
}

func (s *PagingService) ListHistory(ctx context.Context, req *rpc.ListHistoryRequest) (*rpc.ListHistoryResponse, error) {
	stream, err := req.Stream()
	if err != nil {
		return nil, grpcstatus.Error(codes.InvalidArgument, err.Error())
	}
	cursor, err := parseCursor(req.Cursor)
	if err != nil {
		return nil, grpcstatus.Errorf(codes.InvalidArgument, "cursor: %v", err)
	}

	page, err := s.engine.Page(ctx, intsync.PageRequest{
		View:   req.ViewID,
		Stream: stream,
		Cursor: cursor,
		Size:   int(req.PageSize),
	})
	if err != nil {
		return nil, s.toStatus(err, req.ViewID)
	}

	resp := &rpc.ListHistoryResponse{
		Messages:   make([]rpc.Message, 0, len(page.Records)),
		NextCursor: formatCursor(page.Next),
		HasMore:    page.HasMore,
		Source:     string(page.Source),
	}
	for i := range page.Records {
		resp.Messages = append(resp.Messages, rpc.FromRecord(&page.Records[i]))
	}
	return resp, nil
}

func (s *PagingService) CloseView(_ context.Context, req *rpc.CloseViewRequest) (*rpc.CloseViewResponse, error) {
	return &rpc.CloseViewResponse{Closed: s.engine.CloseView(req.ViewID)}, nil
}

func (s *PagingService) toStatus(err error, view string) error {
	switch {
	case errors.Is(err, intsync.ErrInvalidView):
		return grpcstatus.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, intsync.ErrNoSession), errors.Is(err, intsync.ErrUnknownCursor):
		return grpcstatus.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, context.Canceled):
		return grpcstatus.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return grpcstatus.Error(codes.DeadlineExceeded, err.Error())
	}
	s.logger.Error("list history failed", zap.String("view", view), zap.Error(err))
	return grpcstatus.Errorf(codes.Internal, "list history: %v", err)
}

func parseCursor(s string) (intsync.Cursor, error) {
	if s == "" {
		return intsync.Start, nil
	}
	id, err := message.ParseID(s)
	if err != nil {
		return 0, err
	}
	return intsync.Cursor(id), nil
}

func formatCursor(c intsync.Cursor) string {
	if c == intsync.Start {
		return ""
	}
	return strconv.FormatInt(int64(c), 10)
}
