package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/ryandielhenn/prefixmgr/pkg/admin"
	"github.com/ryandielhenn/prefixmgr/pkg/configstore"
	"github.com/ryandielhenn/prefixmgr/pkg/kvstore"
	"github.com/ryandielhenn/prefixmgr/pkg/logging"
	"github.com/ryandielhenn/prefixmgr/pkg/manager"
	"github.com/ryandielhenn/prefixmgr/pkg/origin"
	"github.com/ryandielhenn/prefixmgr/pkg/snapshot"
)

func main() {
	// 1. Logger first: every subsequent boot step logs through it.
	logger, err := logging.New("prefixmgr")
	if err != nil {
		log.Fatal(err)
	}
	defer logger.Sync()

	// 2. Load configuration from the environment.
	cfg := configFromEnv()
	logger.Info("boot: configuration loaded",
		zap.String("node", cfg.Node), zap.String("area", cfg.Area),
		zap.Bool("perPrefixKeys", cfg.PerPrefixKeys))

	// 3. Open the durable config store (bbolt) backing the snapshot.
	boltPath := envOr("SNAPSHOT_PATH", "/var/lib/prefixmgr/snapshot.db")
	logger.Info("boot: opening snapshot store", zap.String("path", boltPath))
	cs, err := configstore.NewBoltStore(boltPath, false)
	if err != nil {
		logger.Fatal("failed to open snapshot store", zap.Error(err))
	}
	defer cs.Close()
	snap := snapshot.New(cs)

	// 4. Create the etcd client backing the replicated-store collaborator.
	endpoints := []string{envOr("ETCD_ENDPOINTS", "http://etcd:2379")}
	logger.Info("boot: creating etcd client", zap.Strings("endpoints", endpoints))
	kv, err := kvstore.NewEtcdClient(endpoints, 5*time.Second)
	if err != nil {
		logger.Fatal("failed to create etcd client", zap.Error(err))
	}

	// 5. Construct and start the Prefix Manager.
	logger.Info("boot: starting prefix manager")
	mgr := manager.New(cfg, kv, snap, logger)
	ctx := context.Background()
	if err := mgr.Start(ctx); err != nil {
		logger.Fatal("failed to start prefix manager", zap.Error(err))
	}

	// 6. Wire up the admin HTTP surface.
	adminSrv := admin.New(func() ([]origin.PrefixEntry, error) {
		return mgr.GetPrefixes(context.Background())
	})

	addr := envOr("LISTEN_ADDR", ":8080")
	httpSrv := &http.Server{Addr: addr, Handler: adminSrv.Mux()}

	// 7. Catch SIGINT/SIGTERM so a real shutdown reaches DRAINING before
	// the process exits, instead of only on a clean return from main.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	serveErrCh := make(chan error, 1)
	go func() {
		logger.Info("prefix manager listening", zap.String("addr", addr))
		serveErrCh <- httpSrv.ListenAndServe()
	}()

	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", zap.String("signal", sig.String()))
	case err := <-serveErrCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("http server exited unexpectedly", zap.Error(err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http server shutdown reported errors", zap.Error(err))
	}
	if err := mgr.Stop(shutdownCtx); err != nil {
		logger.Warn("prefix manager stop reported errors", zap.Error(err))
	}
}

func configFromEnv() manager.Config {
	return manager.Config{
		Node:            envOr("SELF_ID", "node-1"),
		Area:            envOr("AREA", "0"),
		PerPrefixKeys:   envBool("PER_PREFIX_KEYS", true),
		HoldTime:        envDuration("HOLD_TIME", 0),
		PerfMeasurement: envBool("PERF_MEASUREMENT", false),
		KeyTTL:          envDuration("KEY_TTL", manager.DefaultKeyTTL),
		ThrottleTimeout: envDuration("THROTTLE_TIMEOUT", manager.DefaultThrottleTimeout),
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}
