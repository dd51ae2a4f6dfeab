package relay

import (
	"context"
	"encoding/json"
	"net"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/lucaslui/resilientroute/internal/config"
	"github.com/lucaslui/resilientroute/internal/model"
)

const DefaultQueryTimeout = 10 * time.Second

type MailLookup interface {
	Lookup(targetID string) []model.Order
}

type QueryOptions struct {
	Timeout  time.Duration
	MaxConns int
}

// QueryServer answers GET_MAIL:<id> with the cached orders for id as a JSON
// array, then closes.
type QueryServer struct {
	mail   MailLookup
	opts   QueryOptions
	logger *zap.Logger

	served, rejected atomic.Int64
}

func NewQueryServer(mail MailLookup, opts QueryOptions, logger *zap.Logger) *QueryServer {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultQueryTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &QueryServer{mail: mail, opts: opts, logger: logger}
}

func (s *QueryServer) Serve(ctx context.Context, ln net.Listener) error {
	s.logger.Info("[query] listening", zap.String("addr", ln.Addr().String()))
	return serve(ctx, ln, s.opts.MaxConns, s.logger, s.handle)
}

func (s *QueryServer) handle(conn net.Conn) {
	peer := conn.RemoteAddr().String()

	// The command may arrive in several segments; it ends at the newline.
	cmd, err := ReadFrame(conn, maxCommandBytes, s.opts.Timeout)
	if err != nil {
		s.rejected.Add(1)
		s.logger.Info("[query] no command", zap.String("peer", peer), zap.Error(err))
		return
	}
	target, err := ParseCommand(cmd)
	if err != nil {
		s.rejected.Add(1)
		s.logger.Warn("[query] rejecting", zap.String("peer", peer), zap.Error(err),
			zap.String("sample", config.Truncate(cmd, 64)))
		return
	}

	orders := s.mail.Lookup(target)
	if orders == nil {
		orders = []model.Order{}
	}
	body, err := json.Marshal(orders)
	if err != nil {
		s.logger.Error("[query] encode orders", zap.Error(err))
		return
	}
	_ = conn.SetWriteDeadline(time.Now().Add(s.opts.Timeout))
	if _, err := conn.Write(body); err != nil {
		s.logger.Info("[query] reply not delivered", zap.String("peer", peer), zap.Error(err))
		return
	}
	s.served.Add(1)
	s.logger.Info("[query] mail served", zap.String("peer", peer), zap.String("target", target), zap.Int("orders", len(orders)))
}

type QueryStats struct {
	Served   int64
	Rejected int64
}

func (s *QueryServer) Stats() QueryStats {
	return QueryStats{Served: s.served.Load(), Rejected: s.rejected.Load()}
}
