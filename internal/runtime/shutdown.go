package runtime

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"go.uber.org/zap"
)

// SetupGracefulShutdown returns a context that is cancelled on the first
// SIGINT/SIGTERM (or the given signals). A second signal kills the process
// the usual way. stop releases the handler.
func SetupGracefulShutdown(parent context.Context, logger *zap.Logger, sigs ...os.Signal) (ctx context.Context, stop context.CancelFunc) {
	if len(sigs) == 0 {
		sigs = []os.Signal{syscall.SIGINT, syscall.SIGTERM}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(parent)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, sigs...)
	done := make(chan struct{})
	go func() {
		select {
		case s := <-sigCh:
			logger.Info("[boot] signal received, shutting down", zap.String("signal", s.String()))
			cancel()
			signal.Stop(sigCh)
		case <-done:
		}
	}()

	var once sync.Once
	stop = func() {
		once.Do(func() {
			signal.Stop(sigCh)
			close(done)
			cancel()
		})
	}
	return ctx, stop
}
