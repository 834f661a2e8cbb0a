package metrics

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

var (
	// Paging metrics
	PagesServed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "roam_pages_served_total",
			Help: "History pages served, by the source that filled them",
		},
		[]string{"source"}, // "remote", "local" or "mixed"
	)

	PageErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "roam_page_errors_total",
			Help: "History page requests that failed",
		},
	)

	OpenViews = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "roam_open_views",
			Help: "Conversation views with live pagination state",
		},
	)

	// Gap reconciliation metrics
	GapsFound = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "roam_gaps_found_total",
			Help: "Absent sequence ranges detected while paging",
		},
	)

	GapMessagesFilled = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "roam_gap_messages_filled_total",
			Help: "Messages backfilled into detected gaps",
		},
	)

	// Remote feed metrics
	RemoteCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "roam_remote_calls_total",
			Help: "Calls to the remote roaming feed",
		},
		[]string{"op", "result"}, // result: "ok", "empty", "error", "absent"
	)

	RemoteDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "roam_remote_call_duration_seconds",
			Help:    "Remote roaming feed call latency",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
		[]string{"op"},
	)

	// Daemon API metrics
	RPCHandled = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "roam_rpc_handled_total",
			Help: "Daemon RPCs completed, by method and status code",
		},
		[]string{"method", "code"},
	)
)

// Server exposes the default registry over HTTP.
type Server struct {
	srv    *http.Server
	logger *zap.Logger
}

// NewServer creates a metrics server listening on addr once started.
func NewServer(addr string, logger *zap.Logger) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return &Server{
		srv: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
		logger: logger,
	}
}

// Start binds the listener and serves in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return err
	}
	s.logger.Info("metrics server starting", zap.String("addr", ln.Addr().String()))
	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("metrics server error", zap.Error(err))
		}
	}()
	return nil
}

// Stop shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
