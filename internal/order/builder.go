package order

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/daszybak/polytrader/internal/engine/orderbook"
	"github.com/daszybak/polytrader/internal/metadata"
	"github.com/daszybak/polytrader/internal/price"
)

const (
	// DefaultMaxFeeRateBps is the highest fee rate an intent may carry.
	DefaultMaxFeeRateBps = 1000
	// sizeDecimals is the precision of share sizes and collateral amounts in an intent.
	sizeDecimals = 2
	// minGTDLifetime is how far in the future the exchange wants a GTD expiration to be.
	minGTDLifetime = time.Minute
)

// MetadataSource resolves the exchange parameters of a token.
type MetadataSource interface {
	Get(ctx context.Context, tokenID string) (metadata.TokenMetadata, error)
}

// BookSource returns a point-in-time order book.
type BookSource interface {
	Book(ctx context.Context, tokenID string) (orderbook.Book, error)
}

type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

type BuilderConfig struct {
	// Signer is the address of the signing key.
	Signer common.Address
	// Funder holds the funds for proxy and safe wallets. Ignored for EOA.
	Funder        common.Address
	SignatureType SignatureType
	// MaxFeeRateBps defaults to DefaultMaxFeeRateBps.
	MaxFeeRateBps int
	// MaxSlippageBps bounds the distance between the best and the worst level a
	// market order may touch. Zero disables the bound.
	MaxSlippageBps int
}

func (c BuilderConfig) validate() error {
	if c.Signer == (common.Address{}) {
		return errors.New("signer address is required")
	}
	if !c.SignatureType.Valid() {
		return fmt.Errorf("unknown signature type %d", c.SignatureType)
	}
	if c.SignatureType != EOA && c.Funder == (common.Address{}) {
		return errors.New("funder address is required for proxy signature types")
	}
	if c.MaxFeeRateBps < 0 || c.MaxSlippageBps < 0 {
		return errors.New("limits must not be negative")
	}
	return nil
}

// Builder validates intents against market constraints and produces unsigned orders.
type Builder struct {
	cfg    BuilderConfig
	meta   MetadataSource
	books  BookSource
	clock  Clock
	logger *slog.Logger
}

type BuilderOption func(*Builder)

func WithClock(c Clock) BuilderOption {
	return func(b *Builder) {
		b.clock = c
	}
}

func NewBuilder(cfg BuilderConfig, meta MetadataSource, books BookSource, logger *slog.Logger, opts ...BuilderOption) (*Builder, error) {
	if cfg.MaxFeeRateBps == 0 {
		cfg.MaxFeeRateBps = DefaultMaxFeeRateBps
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("couldn't create order builder: %w", err)
	}

	b := &Builder{
		cfg:    cfg,
		meta:   meta,
		books:  books,
		clock:  systemClock{},
		logger: logger.With("component", "order_builder"),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b, nil
}

// Maker returns the address orders are placed for.
func (b *Builder) Maker() common.Address {
	if b.cfg.SignatureType == EOA {
		return b.cfg.Signer
	}
	return b.cfg.Funder
}

// Build validates intent and computes the order amounts.
func (b *Builder) Build(ctx context.Context, intent Intent) (UnsignedOrder, error) {
	if !intent.Side.Valid() {
		return UnsignedOrder{}, fmt.Errorf("%w: %d", ErrInvalidSide, intent.Side)
	}
	if _, err := parseTokenID(intent.TokenID); err != nil {
		return UnsignedOrder{}, err
	}
	if intent.Amount != 0 && intent.Size != 0 {
		return UnsignedOrder{}, fmt.Errorf("%w: set either size or amount", ErrInvalidSize)
	}

	md, err := b.meta.Get(ctx, intent.TokenID)
	if err != nil {
		return UnsignedOrder{}, fmt.Errorf("couldn't resolve metadata: %w", err)
	}
	if intent.TickSize != 0 && intent.TickSize != md.TickSize {
		return UnsignedOrder{}, fmt.Errorf("%w: declared %s, market uses %s", ErrInvalidTickSize, intent.TickSize, md.TickSize)
	}

	fee, err := b.resolveFee(md, intent.FeeRateBps)
	if err != nil {
		return UnsignedOrder{}, err
	}

	var o UnsignedOrder
	if intent.IsMarket() {
		o, err = b.buildMarket(ctx, intent, md)
	} else {
		o, err = b.buildLimit(intent, md)
	}
	if err != nil {
		return UnsignedOrder{}, err
	}

	o.Maker = b.Maker()
	o.Signer = b.cfg.Signer
	o.Taker = intent.Taker
	o.TokenID = intent.TokenID
	o.Nonce = intent.Nonce
	o.FeeRateBps = fee
	o.Side = intent.Side
	o.SignatureType = b.cfg.SignatureType
	o.NegRisk = md.NegRisk

	b.logger.Debug("built order",
		"token", o.TokenID,
		"side", o.Side,
		"type", o.Type,
		"price", o.Price,
		"maker_amount", o.MakerAmount,
		"taker_amount", o.TakerAmount,
		"neg_risk", o.NegRisk,
	)
	return o, nil
}

func (b *Builder) buildLimit(intent Intent, md metadata.TokenMetadata) (UnsignedOrder, error) {
	typ, err := intentType(intent.Type, GTC)
	if err != nil {
		return UnsignedOrder{}, err
	}

	if err := validatePrice(intent.Price, md.TickSize); err != nil {
		return UnsignedOrder{}, err
	}

	expiration, err := b.expiration(typ, intent.ExpiresIn)
	if err != nil {
		return UnsignedOrder{}, err
	}

	size := price.Size(price.Truncate(int64(intent.Size), sizeDecimals))
	if size <= 0 {
		return UnsignedOrder{}, fmt.Errorf("%w: %s truncates to zero", ErrInvalidSize, intent.Size)
	}

	amountDecimals := price.Decimals(md.TickSize) + sizeDecimals
	notional := price.Truncate(price.Notional(intent.Price, size), amountDecimals)

	o := UnsignedOrder{
		Expiration: expiration,
		Type:       typ,
		Price:      intent.Price,
		Size:       size,
	}
	switch intent.Side {
	case Buy:
		o.MakerAmount, o.TakerAmount = notional, int64(size)
	case Sell:
		o.MakerAmount, o.TakerAmount = int64(size), notional
	}
	if o.MakerAmount <= 0 || o.TakerAmount <= 0 {
		return UnsignedOrder{}, fmt.Errorf("%w: amounts must be positive", ErrInvalidSize)
	}
	return o, nil
}

func (b *Builder) buildMarket(ctx context.Context, intent Intent, md metadata.TokenMetadata) (UnsignedOrder, error) {
	typ, err := intentType(intent.Type, FOK)
	if err != nil {
		return UnsignedOrder{}, err
	}
	if typ != FOK && typ != FAK {
		return UnsignedOrder{}, fmt.Errorf("%w: market orders are FOK or FAK, got %s", ErrInvalidOrderType, typ)
	}
	if intent.ExpiresIn != 0 {
		return UnsignedOrder{}, fmt.Errorf("%w: only GTD orders expire", ErrInvalidExpiration)
	}

	amount := price.Truncate(int64(intent.Amount), sizeDecimals)
	if amount <= 0 {
		return UnsignedOrder{}, fmt.Errorf("%w: amount %s truncates to zero", ErrInvalidSize, intent.Amount)
	}
	inShares := intent.AmountInShares || intent.Side == Sell

	p := intent.Price
	if p == 0 {
		fill, err := b.walk(ctx, intent.TokenID, intent.Side, amount, inShares)
		if err != nil {
			return UnsignedOrder{}, err
		}
		p = fill.WorstPrice
	}
	if err := validatePrice(p, md.TickSize); err != nil {
		return UnsignedOrder{}, err
	}

	amountDecimals := price.Decimals(md.TickSize) + sizeDecimals
	o := UnsignedOrder{
		Type:  typ,
		Price: p,
	}
	switch {
	case intent.Side == Buy && !inShares:
		o.MakerAmount = amount
		o.TakerAmount = price.Truncate(int64(price.SharesFor(amount, p)), amountDecimals)
		o.Size = price.Size(o.TakerAmount)
	case intent.Side == Buy:
		o.MakerAmount = price.Truncate(price.Notional(p, price.Size(amount)), amountDecimals)
		o.TakerAmount = amount
		o.Size = price.Size(amount)
	default:
		o.MakerAmount = amount
		o.TakerAmount = price.Truncate(price.Notional(p, price.Size(amount)), amountDecimals)
		o.Size = price.Size(amount)
	}
	if o.MakerAmount <= 0 || o.TakerAmount <= 0 {
		return UnsignedOrder{}, fmt.Errorf("%w: amounts must be positive", ErrInvalidSize)
	}
	return o, nil
}

func (b *Builder) walk(ctx context.Context, tokenID string, side Side, amount int64, inShares bool) (Fill, error) {
	if b.books == nil {
		return Fill{}, fmt.Errorf("%w: no book source configured", ErrMissingOrderbook)
	}
	book, err := b.books.Book(ctx, tokenID)
	if err != nil {
		return Fill{}, fmt.Errorf("%w: %w", ErrMissingOrderbook, err)
	}

	levels := book.Asks
	if side == Sell {
		levels = book.Bids
	}

	fill, err := Walk(levels, amount, inShares)
	if err != nil {
		return Fill{}, err
	}

	if b.cfg.MaxSlippageBps > 0 {
		if bps := fill.SlippageBps(); bps > int64(b.cfg.MaxSlippageBps) {
			return Fill{}, fmt.Errorf("%w: walk slips %d bps, limit is %d", ErrLiquidity, bps, b.cfg.MaxSlippageBps)
		}
	}
	return fill, nil
}

func (b *Builder) expiration(typ Type, expiresIn time.Duration) (int64, error) {
	if typ != GTD {
		if expiresIn != 0 {
			return 0, fmt.Errorf("%w: only GTD orders expire", ErrInvalidExpiration)
		}
		return 0, nil
	}
	if expiresIn < minGTDLifetime {
		return 0, fmt.Errorf("%w: GTD orders must live at least %s", ErrInvalidExpiration, minGTDLifetime)
	}
	return b.clock.Now().Add(expiresIn).Unix(), nil
}

// resolveFee picks the fee rate to sign. The market fee wins when it is set;
// an override only applies to markets that charge none.
func (b *Builder) resolveFee(md metadata.TokenMetadata, override *int) (int, error) {
	if override == nil {
		return md.FeeRateBps, nil
	}
	v := *override
	if v < 0 || v > b.cfg.MaxFeeRateBps {
		return 0, fmt.Errorf("%w: %d bps outside [0, %d]", ErrInvalidFeeRate, v, b.cfg.MaxFeeRateBps)
	}
	if md.FeeRateBps > 0 {
		if v > 0 && v != md.FeeRateBps {
			return 0, fmt.Errorf("%w: market charges %d bps, got %d", ErrInvalidFeeRate, md.FeeRateBps, v)
		}
		return md.FeeRateBps, nil
	}
	return v, nil
}

func intentType(t, fallback Type) (Type, error) {
	if t == "" {
		return fallback, nil
	}
	return ParseType(string(t))
}

// validatePrice requires tick <= p <= 1 - tick with p on the tick grid.
func validatePrice(p, tick price.Price) error {
	if p < tick || p > price.One-tick {
		return fmt.Errorf("%w: %s outside [%s, %s]", ErrInvalidPrice, p, tick, price.One-tick)
	}
	if !p.IsMultipleOf(tick) {
		return fmt.Errorf("%w: %s is not a multiple of tick size %s", ErrInvalidPrice, p, tick)
	}
	return nil
}
