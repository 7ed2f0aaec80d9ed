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

	configtypes "github.com/daszybak/polytrader/internal/config"
	"github.com/daszybak/polytrader/internal/metadata"
	"github.com/daszybak/polytrader/internal/order"
	"github.com/daszybak/polytrader/internal/polymarket/clob"
	"github.com/daszybak/polytrader/internal/polymarket/websocket"
	"github.com/daszybak/polytrader/internal/signing"
	"github.com/daszybak/polytrader/internal/store"
	"github.com/daszybak/polytrader/internal/submit"
)

const usage = `usage: trader [-config path] [-env path] <command> [flags]

commands:
  order         place a limit order
  market-order  place a market order
  batch         place the orders of a JSON file in one batch
  cancel        cancel one or more orders
  cancel-all    cancel every open order
  status        show the exchange's view of an order
  stream        print events of a market, user or live data stream
  derive-key    create or derive API credentials
`

func main() {
	configPath := flag.String("config", "configs/trader/config.yaml", "path to config file")
	envPath := flag.String("env", ".env", "path to env file")
	flag.Usage = func() { fmt.Fprint(flag.CommandLine.Output(), usage) }
	flag.Parse()

	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}
	cmd, ok := commands[flag.Arg(0)]
	if !ok {
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", flag.Arg(0))
		flag.Usage()
		os.Exit(2)
	}

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

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		logger.Error("couldn't start", "error", err)
		logCloser.Close()
		os.Exit(1)
	}
	defer a.close()

	if err := cmd(ctx, a, flag.Args()[1:]); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("command failed", "command", flag.Arg(0), "error", err)
		a.close()
		logCloser.Close()
		os.Exit(1)
	}
}

// app holds the clients shared by the commands. Credentials and the
// submission stack are set up on first use.
type app struct {
	cfg    *config
	logger *slog.Logger

	signer *signing.Signer
	clob   *clob.Client
	meta   *metadata.Cache

	db    *store.Store
	redis *redis.Client

	builder     *order.Builder
	coordinator *submit.Coordinator
	creds       *clob.Credentials
}

func newApp(ctx context.Context, cfg *config, logger *slog.Logger) (*app, error) {
	signer, err := signing.New(cfg.PrivateKey.PrivateKey, cfg.ChainID)
	if err != nil {
		return nil, err
	}

	a := &app{
		cfg:    cfg,
		logger: logger,
		signer: signer,
	}

	clobOpts := []clob.Option{clob.WithLogger(logger), clob.WithL1Signer(signer)}
	if creds := cfg.credentials(); creds.Valid() {
		clobOpts = append(clobOpts, clob.WithCredentials(signer.Address(), creds))
		a.creds = &creds
	}
	a.clob = clob.New(cfg.ClobURL, clobOpts...)

	var fetcher metadata.Fetcher = a.clob
	if cfg.Redis.Addr != "" {
		a.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		fetcher = metadata.NewRedisFetcher(a.redis, a.clob, cfg.Redis.TTL.Duration(), logger)
	}
	var metaOpts []metadata.Option
	if d := cfg.Metadata.FetchTimeout.Duration(); d > 0 {
		metaOpts = append(metaOpts, metadata.WithFetchTimeout(d))
	}
	a.meta = metadata.New(fetcher, logger, metaOpts...)

	if cfg.Database.Enabled() {
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
			a.close()
			return nil, err
		}
		a.db = store.New(pool)
		if err := store.Migrate(ctx, pool); err != nil {
			a.close()
			return nil, err
		}
	}

	return a, nil
}

func (a *app) close() {
	if a.db != nil {
		a.db.Close()
		a.db = nil
	}
	if a.redis != nil {
		a.redis.Close()
		a.redis = nil
	}
}

// authenticate makes sure the exchange client carries API credentials,
// deriving them through L1 auth when none are configured.
func (a *app) authenticate(ctx context.Context) (clob.Credentials, error) {
	if a.creds != nil {
		return *a.creds, nil
	}
	creds, err := a.clob.CreateOrDeriveAPIKey(ctx, a.cfg.API.Nonce)
	if err != nil {
		return clob.Credentials{}, err
	}
	a.clob.SetCredentials(a.signer.Address(), creds)
	a.creds = &creds
	a.logger.Info("derived api credentials", "address", a.signer.Address(), "api_key", creds.APIKey)
	return creds, nil
}

// trading sets up the builder and the submission coordinator.
func (a *app) trading(ctx context.Context) error {
	if a.coordinator != nil {
		return nil
	}
	if _, err := a.authenticate(ctx); err != nil {
		return err
	}

	builder, err := order.NewBuilder(order.BuilderConfig{
		Signer:         a.signer.Address(),
		Funder:         a.cfg.funder(),
		SignatureType:  order.SignatureType(a.cfg.SignatureType),
		MaxFeeRateBps:  a.cfg.Builder.MaxFeeRateBps,
		MaxSlippageBps: a.cfg.Builder.MaxSlippageBps,
	}, a.meta, a.clob, a.logger)
	if err != nil {
		return err
	}
	a.builder = builder

	var opts []submit.Option
	if a.db != nil {
		opts = append(opts, submit.WithRecorder(a.db))
	}
	a.coordinator = submit.New(submit.Config{
		Timeout:     a.cfg.Submit.Timeout.Duration(),
		MaxAttempts: a.cfg.Submit.MaxAttempts,
		BackoffMin:  a.cfg.Submit.BackoffMin.Duration(),
		BackoffMax:  a.cfg.Submit.BackoffMax.Duration(),
		RateLimit:   a.cfg.Submit.RateLimit,
		Burst:       a.cfg.Submit.Burst,
	}, a.clob, a.logger, opts...)
	return nil
}

func (a *app) multiplexer() *websocket.Multiplexer {
	return websocket.New(websocket.Config{
		URL:                  a.cfg.WSURL,
		LiveDataURL:          a.cfg.LiveDataURL,
		QueueSize:            a.cfg.Stream.QueueSize,
		MaxReconnectAttempts: a.cfg.Stream.MaxReconnectAttempts,
		ReconnectBudget:      a.cfg.Stream.ReconnectBudget.Duration(),
		PingInterval:         a.cfg.Stream.PingInterval.Duration(),
	}, a.logger)
}
