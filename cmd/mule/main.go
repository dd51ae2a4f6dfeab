package main

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"

	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/lucaslui/resilientroute/internal/config"
	"github.com/lucaslui/resilientroute/internal/discovery"
	"github.com/lucaslui/resilientroute/internal/inbox"
	"github.com/lucaslui/resilientroute/internal/mirror"
	"github.com/lucaslui/resilientroute/internal/model"
	"github.com/lucaslui/resilientroute/internal/queue"
	"github.com/lucaslui/resilientroute/internal/relay"
	"github.com/lucaslui/resilientroute/internal/remote"
	"github.com/lucaslui/resilientroute/internal/runtime"
	"github.com/lucaslui/resilientroute/internal/syncer"
)

func main() {
	configPath := pflag.StringP("config", "c", "", "optional YAML/JSON config file; environment variables override it")
	pflag.Parse()

	boot, err := config.NewLogger(os.Getenv("LOG_LEVEL"), os.Getenv("LOG_FORMAT"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}

	cfg, err := config.LoadRelayConfig(*configPath, boot)
	if err != nil {
		boot.Fatal("[boot] configuração inválida", zap.Error(err))
	}
	logger, err := config.NewLogger(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		boot.Fatal("[boot] logger", zap.Error(err))
	}
	defer logger.Sync()

	logger.Info("[info] mule configs loaded:" + cfg.String())

	ctx, stop := runtime.SetupGracefulShutdown(context.Background(), logger)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("[boot] mule stopped with error", zap.Error(err))
	}
	logger.Info("[boot] mule stopped")
}

func run(ctx context.Context, cfg *config.RelayConfig, logger *zap.Logger) error {
	q, err := queue.Open(cfg.QueuePath, logger)
	if err != nil {
		return fmt.Errorf("open queue: %w", err)
	}
	mail, err := inbox.Open(cfg.InboxPath, logger)
	if err != nil {
		return fmt.Errorf("open inbox: %w", err)
	}

	store, err := remote.Open(cfg.Remote, logger)
	if err != nil {
		return err
	}
	if c, ok := store.(io.Closer); ok {
		defer c.Close()
	}

	fanout, err := mirror.FromConfig(ctx, cfg, store, logger)
	if err != nil {
		return err
	}
	defer fanout.Close()

	ingest, err := relay.NewIngestServer(q, relay.IngestOptions{
		IdleTimeout:   cfg.IngestIdleTimeout,
		MaxFrameBytes: cfg.MaxFrameBytes,
		MaxConns:      cfg.MaxConns,
	}, logger)
	if err != nil {
		return err
	}
	query := relay.NewQueryServer(mail, relay.QueryOptions{
		Timeout:  cfg.QueryTimeout,
		MaxConns: cfg.MaxConns,
	}, logger)

	// A port that cannot be bound only disables its role.
	var adverts []discovery.Advert
	ingestLn := bind(ctx, cfg.IngestPort, "ingest", logger)
	if ingestLn != nil {
		adverts = append(adverts, discovery.Advert{Role: model.RoleIngest, Port: cfg.IngestPort})
	}
	queryLn := bind(ctx, cfg.QueryPort, "query", logger)
	if queryLn != nil {
		adverts = append(adverts, discovery.Advert{Role: model.RoleQuery, Port: cfg.QueryPort})
	}
	if len(adverts) == 0 {
		return fmt.Errorf("neither ingest port %d nor query port %d could be bound", cfg.IngestPort, cfg.QueryPort)
	}

	engine := syncer.New(store, q, mail, syncer.DialProber{Addr: cfg.ProbeAddr, Timeout: cfg.ProbeTimeout}, syncer.Options{
		Interval:         cfg.SyncInterval,
		DrainAttempts:    cfg.DrainAttempts,
		DrainBackoff:     cfg.DrainBackoff,
		PullLimit:        cfg.PullLimit,
		ReportCollection: cfg.Remote.ReportCollection,
		OrderCollection:  cfg.Remote.OrderCollection,
	}, logger)
	if fanout.Len() > 0 {
		engine.WithMirror(fanout)
	}

	beacon := &discovery.Broadcaster{
		Target:      cfg.BroadcastAddr,
		Port:        cfg.DiscoveryPort,
		Interval:    cfg.BeaconInterval,
		AdvertiseIP: cfg.AdvertiseIP,
		Adverts:     adverts,
		Logger:      logger,
	}

	g, gctx := errgroup.WithContext(ctx)
	if ingestLn != nil {
		g.Go(func() error { return ingest.Serve(gctx, ingestLn) })
	}
	if queryLn != nil {
		g.Go(func() error { return query.Serve(gctx, queryLn) })
	}
	g.Go(func() error {
		if err := beacon.Run(gctx); err != nil {
			// Discovery is optional; clients may still dial a known address.
			logger.Error("[beacon] stopped", zap.Error(err))
		}
		return nil
	})
	g.Go(func() error { return engine.Run(gctx) })

	err = g.Wait()
	is, qs := ingest.Stats(), query.Stats()
	logger.Info("[boot] relay totals",
		zap.Int64("ingestAccepted", is.Accepted),
		zap.Int64("ingestAcked", is.Acked),
		zap.Int64("ingestRejected", is.Rejected),
		zap.Int64("ingestFailed", is.Failed),
		zap.Int64("queryServed", qs.Served),
		zap.Int64("queryRejected", qs.Rejected))
	return err
}

func bind(ctx context.Context, port int, role string, logger *zap.Logger) net.Listener {
	var lc net.ListenConfig
	addr := net.JoinHostPort("", strconv.Itoa(port))
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		logger.Error("[boot] bind failed; role disabled", zap.String("role", role), zap.String("addr", addr), zap.Error(err))
		return nil
	}
	return ln
}
