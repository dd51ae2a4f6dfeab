// Package mirror forwards reports that were confirmed in the remote store to
// optional secondary systems. Mirrors are best effort: a failing sink is
// logged and never affects the queue.
package mirror

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/lucaslui/resilientroute/internal/model"
)

const DefaultSinkTimeout = 10 * time.Second

type Sink interface {
	Name() string
	Write(ctx context.Context, reports []model.Report) error
	Close() error
}

type Fanout struct {
	sinks   []Sink
	timeout time.Duration
	logger  *zap.Logger
}

func NewFanout(logger *zap.Logger, timeout time.Duration, sinks ...Sink) *Fanout {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = DefaultSinkTimeout
	}
	return &Fanout{sinks: sinks, timeout: timeout, logger: logger}
}

func (f *Fanout) Len() int { return len(f.sinks) }

// Publish writes reports to every sink concurrently and waits for all of
// them, each bounded by the fan-out timeout.
func (f *Fanout) Publish(ctx context.Context, reports []model.Report) {
	if len(reports) == 0 || len(f.sinks) == 0 {
		return
	}
	var g errgroup.Group
	for _, s := range f.sinks {
		s := s
		g.Go(func() error {
			sctx, cancel := context.WithTimeout(ctx, f.timeout)
			defer cancel()
			if err := s.Write(sctx, reports); err != nil {
				f.logger.Warn("[mirror] sink failed", zap.String("sink", s.Name()), zap.Int("reports", len(reports)), zap.Error(err))
				return nil
			}
			f.logger.Debug("[mirror] sink ok", zap.String("sink", s.Name()), zap.Int("reports", len(reports)))
			return nil
		})
	}
	_ = g.Wait()
}

func (f *Fanout) Close() error {
	var errs []error
	for _, s := range f.sinks {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
