// Command kvbusd runs the kvbus key/value and pub/sub server: a RESP
// TCP listener over a shared in-memory store, a Prometheus metrics and
// health HTTP endpoint, and a set of optional bridges enabled through
// environment configuration.
package main

import (
	"context"
	"log"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"kvbus/config"
	"kvbus/internal/applog"
	"kvbus/internal/bridge"
	"kvbus/internal/metrics"
	"kvbus/internal/server"
	"kvbus/internal/server/wsbridge"
	"kvbus/internal/store"
	"kvbus/internal/store/snapshot"
)

func main() {
	cfg := config.Load()
	logger := applog.Init("kvbusd", applog.ParseLevel(cfg.LogLevel))
	logger.Info("kvbusd starting", slog.String("listen_addr", cfg.ListenAddr))

	prom := metrics.NewMetrics()
	health := metrics.NewHealthStatus()
	metricsSrv := metrics.NewServer(cfg.MetricsAddr, health)
	metricsSrv.Start()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	s := store.New()
	defer s.Close()

	go pollStoreStats(ctx, s, prom)

	ln, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		log.Fatalf("kvbusd: listen %s: %v", cfg.ListenAddr, err)
	}

	fatal := make(chan error, 1)
	acceptor := server.NewAcceptor(ln, s, logger, prom)
	go func() {
		if err := acceptor.Run(); err != nil {
			health.SetAcceptorUp(false)
			fatal <- err
		}
	}()
	health.SetAcceptorUp(true)

	var mirror *bridge.Mirror
	if cfg.MirrorRedisAddr != "" {
		mirror, err = bridge.NewMirror(bridge.MirrorConfig{Addr: cfg.MirrorRedisAddr}, logger, prom)
		if err != nil {
			logger.Warn("redis mirror disabled: connect failed", slog.Any("err", err))
			health.SetMirrorUp(false)
		} else {
			mirror.Attach(s)
			health.SetMirrorUp(true)
			logger.Info("redis mirror active", slog.String("addr", cfg.MirrorRedisAddr))
		}
	}

	var wsBridge *wsbridge.Bridge
	if cfg.WSBridgeAddr != "" {
		wsBridge = wsbridge.New(cfg.WSBridgeAddr, s, logger)
		wsBridge.Start()
		logger.Info("ws debug bridge active", slog.String("addr", cfg.WSBridgeAddr))
	}

	var exporter *snapshot.Exporter
	if cfg.SnapshotPath != "" {
		exporter, err = snapshot.New(snapshot.Config{
			DBPath:   cfg.SnapshotPath,
			Interval: time.Duration(cfg.SnapshotIntervalSeconds) * time.Second,
		}, s, logger, prom)
		if err != nil {
			logger.Warn("snapshot exporter disabled: open failed", slog.Any("err", err))
			health.SetSnapshotOK(false)
		} else {
			go exporter.Run(ctx)
			health.SetSnapshotOK(true)
			logger.Info("snapshot exporter active", slog.String("path", cfg.SnapshotPath))
		}
	}

	exitCode := 0
	select {
	case <-sigCh:
		logger.Info("shutdown signal received, draining")
	case err := <-fatal:
		logger.Error("acceptor exited, shutting down", slog.Any("err", err))
		exitCode = 1
	}
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := acceptor.Shutdown(shutdownCtx); err != nil {
		logger.Warn("acceptor shutdown error", slog.Any("err", err))
	}
	if wsBridge != nil {
		wsBridge.Stop(shutdownCtx)
	}
	if mirror != nil {
		mirror.Detach(s)
		mirror.Close()
	}
	if exporter != nil {
		exporter.Close()
	}
	metricsSrv.Stop(shutdownCtx)

	logger.Info("kvbusd shutdown complete")
	if exitCode != 0 {
		os.Exit(exitCode)
	}
}

// pollStoreStats periodically copies the store's cumulative eviction and
// fan-out drop counters into their Prometheus counterparts. The store never imports
// metrics directly (see store.Stats), so this loop is the only bridge
// between the two; SubscribersGauge is instead kept live by the
// server package's own subscribe/unsubscribe bookkeeping.
func pollStoreStats(ctx context.Context, s *store.Store, m *metrics.Metrics) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	var lastEvictions, lastDrops uint64
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats := s.Stats()
			if stats.Evictions > lastEvictions {
				m.ReaperEvictions.Add(float64(stats.Evictions - lastEvictions))
				lastEvictions = stats.Evictions
			}
			if stats.FanoutDrops > lastDrops {
				m.FanoutDropsTotal.Add(float64(stats.FanoutDrops - lastDrops))
				lastDrops = stats.FanoutDrops
			}
		}
	}
}
