package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	configtypes "github.com/daszybak/polytrader/internal/config"
	"github.com/daszybak/polytrader/internal/engine"
	"github.com/daszybak/polytrader/internal/metadata"
	"github.com/daszybak/polytrader/internal/platform"
	"github.com/daszybak/polytrader/internal/polymarket"
	"github.com/daszybak/polytrader/internal/polymarket/clob"
	"github.com/daszybak/polytrader/internal/polymarket/gamma"
	"github.com/daszybak/polytrader/internal/polymarket/websocket"
	"github.com/daszybak/polytrader/internal/store"
)

func main() {
	configPath := flag.String("config", "configs/collector/config.yaml", "path to config file")
	envPath := flag.String("env", ".env", "path to env file")
	flag.Parse()

	if err := configtypes.LoadEnv(*envPath); err != nil {
		log.Fatalf("Couldn't load env: %v", err)
	}

	cfg, err := readConfig(*configPath)
	if err != nil {
		log.Fatalf("Couldn't read config: %v", err)
	}

	logger, logCloser, err := cfg.Log.NewLogger()
	if err != nil {
		log.Fatalf("Couldn't create logger: %v", err)
	}
	defer logCloser.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, logger); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("collector stopped", "error", err)
		logCloser.Close()
		os.Exit(1)
	}
	logger.Info("collector stopped")
}

func run(ctx context.Context, cfg *config, logger *slog.Logger) error {
	pool, err := store.NewPool(ctx, store.PoolConfig{
		Host:     cfg.Database.Host,
		Port:     cfg.Database.Port,
		User:     cfg.Database.User,
		Password: cfg.Database.Password,
		Database: cfg.Database.Database,
		PoolSize: cfg.Database.PoolSize,
		SSLMode:  cfg.Database.SSLMode,
	})
	if err != nil {
		return err
	}
	db := store.New(pool)
	defer db.Close()

	if err := store.Migrate(ctx, pool); err != nil {
		return err
	}
	logger.Info("connected to database", "host", cfg.Database.Host, "database", cfg.Database.Database)

	pm := cfg.Platforms.PolyMarket

	eng := engine.New(logger)
	snapshots := engine.NewSnapshotWriter(eng, db, cfg.Snapshot.Interval.Duration(), cfg.Snapshot.Depth, logger)

	mux := websocket.New(websocket.Config{
		URL:                  pm.WS.URL,
		QueueSize:            pm.WS.QueueSize,
		MaxReconnectAttempts: pm.WS.MaxReconnectAttempts,
		ReconnectBudget:      pm.WS.ReconnectBudget.Duration(),
		PingInterval:         pm.WS.PingInterval.Duration(),
	}, logger)
	defer mux.Close()

	clobClient := clob.New(pm.ClobURL, clob.WithLogger(logger))
	gammaClient := gamma.New(pm.GammaURL)

	opts := []polymarket.Option{polymarket.WithStore(db)}
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()

		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("couldn't connect to redis at %s: %w", cfg.Redis.Addr, err)
		}
		opts = append(opts, polymarket.WithMetadata(metadata.NewRedisFetcher(rdb, clobClient, 0, logger)))
		logger.Info("invalidating shared metadata on tick size changes", "redis", cfg.Redis.Addr)
	}

	userAuth := cfg.userAuth()
	if userAuth != nil {
		logger.Info("user stream enabled")
	}

	adapter := polymarket.New(polymarket.Config{
		TokenIDs:           pm.TokenIDs,
		EventSlugs:         pm.EventSlugs,
		SyncMarkets:        pm.SyncMarkets,
		MarketSyncInterval: pm.MarketSyncInterval.Duration(),
		UserAuth:           userAuth,
	}, clobClient, gammaClient, mux, eng, logger, opts...)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		eng.Start(ctx)
		return nil
	})
	g.Go(func() error {
		snapshots.Start(ctx)
		return nil
	})
	g.Go(func() error {
		return platform.Run(ctx, logger, adapter)
	})
	return g.Wait()
}
