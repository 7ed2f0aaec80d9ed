package main

import (
	"fmt"

	configtypes "github.com/daszybak/polytrader/internal/config"
	"github.com/daszybak/polytrader/internal/polymarket/websocket"
)

type config struct {
	Log      configtypes.Log      `yaml:"log"`
	Database configtypes.Database `yaml:"database"`
	Snapshot struct {
		Interval configtypes.Duration `yaml:"interval"`
		Depth    int                  `yaml:"depth"`
	} `yaml:"snapshot"`
	// Redis holds the metadata shared with the trader. Tick size changes drop its entries.
	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
	} `yaml:"redis"`
	// API credentials open the user stream, which keeps the order mirror current.
	API struct {
		Key        string `yaml:"key"`
		Secret     string `yaml:"secret"`
		Passphrase string `yaml:"passphrase"`
	} `yaml:"api"`
	Platforms struct {
		PolyMarket struct {
			WS struct {
				URL                  string               `yaml:"url"`
				QueueSize            int                  `yaml:"queue_size"`
				MaxReconnectAttempts int                  `yaml:"max_reconnect_attempts"`
				ReconnectBudget      configtypes.Duration `yaml:"reconnect_budget"`
				PingInterval         configtypes.Duration `yaml:"ping_interval"`
			} `yaml:"ws"`
			GammaURL           string               `yaml:"gamma_url"`
			ClobURL            string               `yaml:"clob_url"`
			TokenIDs           []string             `yaml:"token_ids"`
			EventSlugs         []string             `yaml:"event_slugs"`
			SyncMarkets        bool                 `yaml:"sync_markets"`
			MarketSyncInterval configtypes.Duration `yaml:"market_sync_interval"`
		} `yaml:"polymarket"`
	} `yaml:"platforms"`
}

func readConfig(configPath string) (*config, error) {
	cfg := &config{}
	if err := configtypes.ReadYAML(configPath, cfg); err != nil {
		return nil, err
	}

	if err := validateConfig(cfg); err != nil {
		return nil, fmt.Errorf("couldn't validate config: %w", err)
	}

	return cfg, nil
}

func validateConfig(cfg *config) error {
	if _, err := configtypes.ParseLevel(cfg.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}

	if err := cfg.Database.Validate("database"); err != nil {
		return err
	}

	if cfg.Redis.DB < 0 {
		return fmt.Errorf("redis.db must not be negative")
	}

	api := cfg.API
	set := 0
	for _, v := range []string{api.Key, api.Secret, api.Passphrase} {
		if v != "" {
			set++
		}
	}
	if set != 0 && set != 3 {
		return fmt.Errorf("api.key, api.secret and api.passphrase must be set together")
	}

	if cfg.Snapshot.Interval.Duration() <= 0 {
		return fmt.Errorf("snapshot.interval must be greater than 0")
	}
	if cfg.Snapshot.Depth <= 0 {
		return fmt.Errorf("snapshot.depth must be greater than 0")
	}

	pm := cfg.Platforms.PolyMarket
	if pm.WS.URL == "" {
		return fmt.Errorf("platforms.polymarket.ws.url is required")
	}
	if pm.WS.QueueSize < 0 {
		return fmt.Errorf("platforms.polymarket.ws.queue_size must not be negative")
	}
	if pm.ClobURL == "" {
		return fmt.Errorf("platforms.polymarket.clob_url is required")
	}
	if pm.GammaURL == "" && len(pm.EventSlugs) > 0 {
		return fmt.Errorf("platforms.polymarket.gamma_url is required with event_slugs")
	}
	if len(pm.TokenIDs) == 0 && len(pm.EventSlugs) == 0 && !pm.SyncMarkets {
		return fmt.Errorf("platforms.polymarket needs token_ids, event_slugs or sync_markets")
	}

	return nil
}

// userAuth returns the user stream credentials, or nil when none are configured.
func (c *config) userAuth() *websocket.Auth {
	if c.API.Key == "" {
		return nil
	}
	return &websocket.Auth{
		APIKey:     c.API.Key,
		Secret:     c.API.Secret,
		Passphrase: c.API.Passphrase,
	}
}
