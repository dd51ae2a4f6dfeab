package relay

import (
	"context"
	"errors"
	"net"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const acceptBackoff = 100 * time.Millisecond

// serve runs the accept loop for ln until ctx is done, handing each
// connection to handle on its own goroutine. At most maxConns connections
// are served at once; beyond that Accept waits for a slot.
func serve(ctx context.Context, ln net.Listener, maxConns int, logger *zap.Logger, handle func(net.Conn)) error {
	stop := context.AfterFunc(ctx, func() { ln.Close() })
	defer stop()

	var g errgroup.Group
	if maxConns > 0 {
		g.SetLimit(maxConns)
	}
	defer g.Wait()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			logger.Warn("accept failed", zap.Error(err))
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(acceptBackoff):
			}
			continue
		}
		g.Go(func() error {
			defer conn.Close()
			handle(conn)
			return nil
		})
	}
}
