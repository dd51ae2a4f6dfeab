package relay

import (
	"context"
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/lucaslui/resilientroute/internal/config"
	"github.com/lucaslui/resilientroute/internal/model"
)

const (
	DefaultIdleTimeout = 10 * time.Second
	ackWriteTimeout    = 5 * time.Second
	logSampleBytes     = 256
)

type Enqueuer interface {
	Enqueue(model.Report) error
}

type IngestOptions struct {
	IdleTimeout   time.Duration
	MaxFrameBytes int64
	MaxConns      int
}

type IngestStats struct {
	Accepted int64
	Acked    int64
	Rejected int64
	Failed   int64
}

// IngestServer accepts one report per connection and replies ACK once the
// report is durably queued. Anything else closes the connection silently.
type IngestServer struct {
	queue  Enqueuer
	opts   IngestOptions
	dec    *ReportDecoder
	logger *zap.Logger

	accepted, acked, rejected, failed atomic.Int64
}

func NewIngestServer(q Enqueuer, opts IngestOptions, logger *zap.Logger) (*IngestServer, error) {
	if opts.IdleTimeout <= 0 {
		opts.IdleTimeout = DefaultIdleTimeout
	}
	if opts.MaxFrameBytes <= 0 {
		opts.MaxFrameBytes = DefaultMaxFrameBytes
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	dec, err := NewReportDecoder()
	if err != nil {
		return nil, fmt.Errorf("relay: compile report schema: %w", err)
	}
	return &IngestServer{queue: q, opts: opts, dec: dec, logger: logger}, nil
}

func (s *IngestServer) Serve(ctx context.Context, ln net.Listener) error {
	s.logger.Info("[ingest] listening", zap.String("addr", ln.Addr().String()))
	return serve(ctx, ln, s.opts.MaxConns, s.logger, s.handle)
}

func (s *IngestServer) handle(conn net.Conn) {
	s.accepted.Add(1)
	peer := conn.RemoteAddr().String()

	frame, err := ReadFrame(conn, s.opts.MaxFrameBytes, s.opts.IdleTimeout)
	if err != nil {
		s.rejected.Add(1)
		s.logger.Info("[ingest] no frame", zap.String("peer", peer), zap.Error(err))
		return
	}
	report, err := s.dec.Decode(frame)
	if err != nil {
		s.rejected.Add(1)
		s.logger.Warn("[ingest] discarding frame",
			zap.String("peer", peer),
			zap.Error(err),
			zap.String("sample", config.Truncate(frame, logSampleBytes)))
		return
	}
	if err := s.queue.Enqueue(report); err != nil {
		s.failed.Add(1)
		s.logger.Error("[ingest] enqueue failed", zap.String("peer", peer), zap.String("id", report.SubjectID), zap.Error(err))
		return
	}

	_ = conn.SetWriteDeadline(time.Now().Add(ackWriteTimeout))
	if _, err := conn.Write([]byte(Ack)); err != nil {
		// Already queued; the client will resend and the duplicate is harmless.
		s.logger.Info("[ingest] ack not delivered", zap.String("peer", peer), zap.Error(err))
		return
	}
	s.acked.Add(1)
	s.logger.Info("[ingest] report queued", zap.String("peer", peer), zap.String("id", report.SubjectID))
}

func (s *IngestServer) Stats() IngestStats {
	return IngestStats{
		Accepted: s.accepted.Load(),
		Acked:    s.acked.Load(),
		Rejected: s.rejected.Load(),
		Failed:   s.failed.Load(),
	}
}
