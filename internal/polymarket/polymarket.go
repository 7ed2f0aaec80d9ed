// Package polymarket adapts Polymarket's APIs (CLOB, Gamma, WebSocket) to the Platform interface.
package polymarket

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
	"golang.org/x/sync/errgroup"

	"github.com/daszybak/polytrader/internal/engine"
	"github.com/daszybak/polytrader/internal/engine/orderbook"
	"github.com/daszybak/polytrader/internal/platform"
	"github.com/daszybak/polytrader/internal/polymarket/clob"
	"github.com/daszybak/polytrader/internal/polymarket/gamma"
	"github.com/daszybak/polytrader/internal/polymarket/websocket"
	"github.com/daszybak/polytrader/internal/store"
	"github.com/daszybak/polytrader/internal/submit"
	"github.com/daszybak/polytrader/pkg/hashset"
)

const platformName = "polymarket"

var _ platform.Platform = (*Polymarket)(nil)

type Config struct {
	// TokenIDs and the tokens of EventSlugs are streamed into the engine.
	TokenIDs   []string
	EventSlugs []string
	// SyncMarkets stores every CLOB market and streams all of their tokens.
	SyncMarkets        bool
	MarketSyncInterval time.Duration
	// UserAuth enables the user stream, which keeps the order mirror current.
	UserAuth *websocket.Auth
}

// Invalidator drops cached token metadata. *metadata.Cache implements it.
type Invalidator interface {
	Invalidate(ctx context.Context, tokenID string) error
}

// Store is the persistence the adapter needs. *store.Store implements it.
type Store interface {
	SaveMarket(ctx context.Context, market store.UpsertMarketParams, tokens []store.UpsertTokenParams) error
	GetTokenIDsForPlatform(ctx context.Context, platform string) ([]string, error)
	UpdateOrderStatus(ctx context.Context, arg store.UpdateOrderStatusParams) error
}

type Polymarket struct {
	config Config
	log    *slog.Logger

	clob   *clob.Client
	gamma  *gamma.Client
	mux    *websocket.Multiplexer
	engine *engine.Client
	store  Store
	meta   Invalidator

	mu               sync.Mutex
	subscribedTokens hashset.Set[string]
	streams          []*websocket.Stream
}

type Option func(*Polymarket)

func WithStore(s Store) Option {
	return func(p *Polymarket) {
		p.store = s
	}
}

// WithMetadata invalidates cached metadata on tick size changes.
func WithMetadata(m Invalidator) Option {
	return func(p *Polymarket) {
		p.meta = m
	}
}

// New creates a Polymarket adapter. Call Start() to stream.
func New(cfg Config, c *clob.Client, g *gamma.Client, mux *websocket.Multiplexer, e *engine.Client, log *slog.Logger, opts ...Option) *Polymarket {
	p := &Polymarket{
		config:           cfg,
		log:              log.With("component", platformName),
		clob:             c,
		gamma:            g,
		mux:              mux,
		engine:           e,
		subscribedTokens: hashset.New[string](),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Start subscribes the configured tokens and feeds their events into the engine.
// This method blocks until ctx is cancelled or a stream fails.
func (p *Polymarket) Start(ctx context.Context) error {
	p.log.Info("starting")

	g, ctx := errgroup.WithContext(ctx)

	tokenIDs, err := p.resolveTokens(ctx)
	if err != nil {
		return fmt.Errorf("couldn't resolve tokens: %w", err)
	}
	if err := p.subscribeToMarkets(ctx, g, tokenIDs); err != nil {
		return err
	}

	if p.config.UserAuth != nil {
		s, err := p.mux.Subscribe(ctx, websocket.Subscription{Family: websocket.User, Auth: p.config.UserAuth})
		if err != nil {
			return fmt.Errorf("couldn't subscribe user stream: %w", err)
		}
		p.track(s)
		g.Go(func() error { return p.consume(ctx, s) })
	}

	if p.config.MarketSyncInterval > 0 {
		g.Go(func() error { return p.syncLoop(ctx, g) })
	}

	return g.Wait()
}

// Stop closes every stream of the adapter.
func (p *Polymarket) Stop(_ context.Context) error {
	p.mu.Lock()
	streams := p.streams
	p.streams = nil
	p.mu.Unlock()

	for _, s := range streams {
		s.Close()
	}
	return nil
}

func (p *Polymarket) track(s *websocket.Stream) {
	p.mu.Lock()
	p.streams = append(p.streams, s)
	p.mu.Unlock()
}

func (p *Polymarket) consume(ctx context.Context, s *websocket.Stream) error {
	for ev := range s.C {
		p.handle(ctx, ev)
	}
	err := s.Err()
	if err == nil || errors.Is(err, context.Canceled) {
		return nil
	}
	return fmt.Errorf("stream %s: %w", s.ID, err)
}

func (p *Polymarket) handle(ctx context.Context, ev websocket.Event) {
	switch {
	case ev.Book != nil:
		b := ev.Book
		p.engine.Send(engine.Update{
			TokenID:   b.AssetID,
			EventTime: clob.ParseMillis(b.Timestamp),
			Book: &orderbook.Book{
				TokenID: b.AssetID,
				Bids:    levels(b.Bids),
				Asks:    levels(b.Asks),
			},
		})
	case ev.PriceChange != nil:
		t := clob.ParseMillis(ev.PriceChange.Timestamp)
		for _, c := range ev.PriceChange.Changes {
			p.engine.Send(engine.Update{
				TokenID:   c.AssetID,
				Price:     c.Price,
				Size:      c.Size,
				Side:      bookSide(c.Side),
				EventTime: t,
			})
		}
	case ev.TickSizeChange != nil:
		tsc := ev.TickSizeChange
		p.log.Info("tick size changed", "token", tsc.AssetID, "old", tsc.OldTickSize, "new", tsc.NewTickSize)
		if p.meta != nil {
			if err := p.meta.Invalidate(ctx, tsc.AssetID); err != nil {
				p.log.Warn("couldn't invalidate metadata", "token", tsc.AssetID, "error", err)
			}
		}
	case ev.MarketResolved != nil:
		p.log.Info("market resolved", "market", ev.MarketResolved.Market, "winner", ev.MarketResolved.WinningOutcome)
	case ev.Order != nil:
		p.mirrorOrder(ctx, ev.Order)
	case ev.Trade != nil:
		p.log.Debug("trade", "id", ev.Trade.ID, "status", ev.Trade.Status, "size", ev.Trade.Size, "price", ev.Trade.Price)
	}
}

func (p *Polymarket) mirrorOrder(ctx context.Context, o *websocket.OrderEvent) {
	if p.store == nil {
		return
	}

	status, ok := submit.ParseStatus(o.Status)
	switch {
	case o.Type == "CANCELLATION":
		status, ok = submit.StatusCancelled, true
	case !ok && o.Type == "PLACEMENT":
		status, ok = submit.StatusLive, true
	}
	if !ok {
		p.log.Debug("ignoring order event", "id", o.ID, "type", o.Type, "status", o.Status)
		return
	}

	err := p.store.UpdateOrderStatus(ctx, store.UpdateOrderStatusParams{
		ID:          o.ID,
		Status:      string(status),
		SizeMatched: int64(o.SizeMatched),
	})
	switch {
	case errors.Is(err, store.ErrNotFound):
		p.log.Debug("order event for an order placed elsewhere", "id", o.ID)
	case err != nil:
		p.log.Error("couldn't mirror order", "id", o.ID, "error", err)
	}
}

func levels(in []websocket.OrderSummary) []orderbook.Level {
	out := make([]orderbook.Level, len(in))
	for i, l := range in {
		out[i] = orderbook.Level{Price: l.Price, Size: l.Size}
	}
	return out
}

func bookSide(side string) string {
	if side == "SELL" {
		return orderbook.Asks
	}
	return orderbook.Bids
}

func (p *Polymarket) resolveTokens(ctx context.Context) ([]string, error) {
	ids := slices.Clone(p.config.TokenIDs)

	if len(p.config.EventSlugs) > 0 {
		eventTokens, err := p.gamma.TokenIDsForEvents(ctx, p.config.EventSlugs)
		if err != nil {
			return nil, err
		}
		ids = append(ids, eventTokens...)
	}

	if p.config.SyncMarkets && p.store != nil {
		if err := p.syncMarkets(ctx); err != nil {
			return nil, err
		}
		stored, err := p.store.GetTokenIDsForPlatform(ctx, platformName)
		if err != nil {
			return nil, fmt.Errorf("couldn't get token ids: %w", err)
		}
		ids = append(ids, stored...)
	}
	return ids, nil
}

func (p *Polymarket) syncLoop(ctx context.Context, g *errgroup.Group) error {
	ticker := time.NewTicker(p.config.MarketSyncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			tokenIDs, err := p.resolveTokens(ctx)
			if err != nil {
				p.log.Error("syncing markets", "error", err)
				continue
			}
			if err := p.subscribeToMarkets(ctx, g, tokenIDs); err != nil {
				p.log.Error("syncing markets", "error", err)
			}
		case <-ctx.Done():
			p.log.Info("market sync stopped", "reason", ctx.Err())
			return nil
		}
	}
}

// syncMarkets fetches markets from the API and upserts them into the database.
func (p *Polymarket) syncMarkets(ctx context.Context) error {
	markets, err := p.clob.GetAllMarkets(ctx)
	if err != nil {
		return fmt.Errorf("get all markets: %w", err)
	}

	synced := 0
	for _, m := range markets {
		if m.Closed {
			continue
		}

		var endDate pgtype.Timestamptz
		if m.EndDateISO != "" {
			t, err := time.Parse(time.RFC3339, m.EndDateISO)
			if err != nil {
				p.log.Warn("invalid end_date_iso", "market_id", m.ConditionID, "value", m.EndDateISO)
			} else {
				endDate = pgtype.Timestamptz{Time: t, Valid: true}
			}
		}

		tokens := make([]store.UpsertTokenParams, 0, len(m.Tokens))
		for _, t := range m.Tokens {
			tokens = append(tokens, store.UpsertTokenParams{ID: t.TokenID, Outcome: t.Outcome})
		}
		if err := p.store.SaveMarket(ctx, store.UpsertMarketParams{
			ID:          m.ConditionID,
			Platform:    platformName,
			Description: m.Description,
			EndDate:     endDate,
		}, tokens); err != nil {
			return err
		}
		synced++
	}

	p.log.Info("synced markets", "count", synced)
	return nil
}

// subscribeToMarkets opens one stream for the tokens not streamed yet.
func (p *Polymarket) subscribeToMarkets(ctx context.Context, g *errgroup.Group, tokenIDs []string) error {
	p.mu.Lock()
	fresh := hashset.Sorted(hashset.From(tokenIDs).Difference(p.subscribedTokens))
	p.subscribedTokens.Add(fresh...)
	p.mu.Unlock()

	if len(fresh) == 0 {
		p.log.Debug("no new tokens to subscribe to")
		return nil
	}

	s, err := p.mux.Subscribe(ctx, websocket.Subscription{
		Family:         websocket.Market,
		AssetIDs:       fresh,
		CustomFeatures: true,
	})
	if err != nil {
		p.mu.Lock()
		p.subscribedTokens.Delete(fresh...)
		p.mu.Unlock()
		return fmt.Errorf("subscribe: %w", err)
	}
	p.track(s)
	g.Go(func() error { return p.consume(ctx, s) })

	p.log.Info("subscribed to tokens", "count", len(fresh))
	return nil
}
