package main

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	configtypes "github.com/daszybak/polytrader/internal/config"
	"github.com/daszybak/polytrader/internal/order"
	"github.com/daszybak/polytrader/internal/polymarket/clob"
)

type config struct {
	Log           configtypes.Log        `yaml:"log"`
	ChainID       int64                  `yaml:"chain_id"`
	SignatureType int                    `yaml:"signature_type"` // 0 EOA, 1 POLY_PROXY, 2 POLY_GNOSIS_SAFE
	Funder        string                 `yaml:"funder"`
	PrivateKey    configtypes.PrivateKey `yaml:"private_key"`
	API           struct {
		Key        string `yaml:"key"`
		Secret     string `yaml:"secret"`
		Passphrase string `yaml:"passphrase"`
		// Nonce selects which derived key to use when the credentials above are empty.
		Nonce uint64 `yaml:"nonce"`
	} `yaml:"api"`
	ClobURL     string `yaml:"clob_url"`
	WSURL       string `yaml:"ws_url"`
	LiveDataURL string `yaml:"live_data_url"`
	Redis       struct {
		Addr     string               `yaml:"addr"`
		Password string               `yaml:"password"`
		DB       int                  `yaml:"db"`
		TTL      configtypes.Duration `yaml:"ttl"`
	} `yaml:"redis"`
	Database configtypes.Database `yaml:"database"`
	Metadata struct {
		FetchTimeout configtypes.Duration `yaml:"fetch_timeout"`
	} `yaml:"metadata"`
	Builder struct {
		MaxFeeRateBps  int `yaml:"max_fee_rate_bps"`
		MaxSlippageBps int `yaml:"max_slippage_bps"`
	} `yaml:"builder"`
	Submit struct {
		Timeout     configtypes.Duration `yaml:"timeout"`
		MaxAttempts int                  `yaml:"max_attempts"`
		BackoffMin  configtypes.Duration `yaml:"backoff_min"`
		BackoffMax  configtypes.Duration `yaml:"backoff_max"`
		RateLimit   float64              `yaml:"rate_limit"`
		Burst       int                  `yaml:"burst"`
	} `yaml:"submit"`
	Stream struct {
		QueueSize            int                  `yaml:"queue_size"`
		MaxReconnectAttempts int                  `yaml:"max_reconnect_attempts"`
		ReconnectBudget      configtypes.Duration `yaml:"reconnect_budget"`
		PingInterval         configtypes.Duration `yaml:"ping_interval"`
	} `yaml:"stream"`
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

	if cfg.ChainID <= 0 {
		return fmt.Errorf("chain_id is required")
	}
	if cfg.SignatureType < 0 || !order.SignatureType(cfg.SignatureType).Valid() {
		return fmt.Errorf("signature_type must be 0, 1 or 2")
	}
	if cfg.Funder != "" && !common.IsHexAddress(cfg.Funder) {
		return fmt.Errorf("funder is not an address: %q", cfg.Funder)
	}
	if order.SignatureType(cfg.SignatureType) != order.EOA && cfg.Funder == "" {
		return fmt.Errorf("funder is required for signature_type %d", cfg.SignatureType)
	}
	if cfg.PrivateKey.PrivateKey == nil {
		return fmt.Errorf("private_key is required")
	}

	creds := cfg.credentials()
	if (creds.APIKey != "" || creds.Secret != "" || creds.Passphrase != "") && !creds.Valid() {
		return fmt.Errorf("api.key, api.secret and api.passphrase must be set together")
	}

	if cfg.ClobURL == "" {
		return fmt.Errorf("clob_url is required")
	}

	if cfg.Database.Enabled() {
		if err := cfg.Database.Validate("database"); err != nil {
			return err
		}
	}

	if cfg.Builder.MaxFeeRateBps < 0 {
		return fmt.Errorf("builder.max_fee_rate_bps must not be negative")
	}
	if cfg.Builder.MaxSlippageBps < 0 {
		return fmt.Errorf("builder.max_slippage_bps must not be negative")
	}

	if cfg.Submit.MaxAttempts < 0 {
		return fmt.Errorf("submit.max_attempts must not be negative")
	}
	if cfg.Submit.RateLimit < 0 {
		return fmt.Errorf("submit.rate_limit must not be negative")
	}
	if cfg.Submit.BackoffMax.Duration() > 0 && cfg.Submit.BackoffMin.Duration() > cfg.Submit.BackoffMax.Duration() {
		return fmt.Errorf("submit.backoff_min must not exceed submit.backoff_max")
	}

	if cfg.Stream.QueueSize < 0 {
		return fmt.Errorf("stream.queue_size must not be negative")
	}

	return nil
}

func (c *config) credentials() clob.Credentials {
	return clob.Credentials{
		APIKey:     c.API.Key,
		Secret:     c.API.Secret,
		Passphrase: c.API.Passphrase,
	}
}

// funder is the address holding the funds, which is the signer itself for EOA.
func (c *config) funder() common.Address {
	if c.Funder == "" {
		return c.PrivateKey.Address()
	}
	return common.HexToAddress(c.Funder)
}
