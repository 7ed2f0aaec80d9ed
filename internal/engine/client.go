// Package engine tracks the order book for a token (market + outcome).
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/daszybak/polytrader/internal/engine/orderbook"
	"github.com/daszybak/polytrader/internal/price"
)

const maximumUpdates = 100

type Client struct {
	// tokenid:orderbook_worker
	orderbookWorkers map[string]*OrderbookWorker
	mu               sync.RWMutex
	updates          chan Update
	logger           *slog.Logger
}

type OrderbookWorker struct {
	mu      sync.RWMutex
	ob      *orderbook.Orderbook
	loaded  bool
	updates chan Update
	logger  *slog.Logger
}

type Update struct {
	Price     price.Price
	Size      price.Size
	TokenID   string
	Side      string
	EventTime time.Time // Timestamp from source API (zero = use current time)
	IsDelta   bool      // true = delta update, false = absolute set
	// Book replaces the whole book when set; Price, Size and Side are ignored.
	Book *orderbook.Book
}

func New(l *slog.Logger) *Client {
	return &Client{
		logger:           l.With("component", "engine"),
		orderbookWorkers: make(map[string]*OrderbookWorker),
		updates:          make(chan Update, maximumUpdates),
	}
}

// Send queues an update for processing. Returns false if the buffer is full.
func (c *Client) Send(u Update) bool {
	select {
	case c.updates <- u:
		return true
	default:
		c.logger.Warn("engine buffer full, dropping update", "token", u.TokenID)
		return false
	}
}

func (obw *OrderbookWorker) start(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			obw.logger.Debug("context stopped orderbook worker", "error", ctx.Err())
			return
		case update := <-obw.updates:
			obw.apply(update)
		}
	}
}

func (obw *OrderbookWorker) apply(update Update) {
	// Use event time from source, fall back to now if not provided.
	eventTime := update.EventTime
	if eventTime.IsZero() {
		eventTime = time.Now()
	}

	obw.mu.Lock()
	defer obw.mu.Unlock()

	if update.Book != nil {
		obw.ob.Replace(update.Book.Bids, update.Book.Asks, eventTime)
		obw.loaded = true
		return
	}

	var err error
	if update.IsDelta {
		err = obw.ob.Update(update.Price, update.Size, update.Side, eventTime)
	} else {
		err = obw.ob.Set(update.Price, update.Size, update.Side, eventTime)
	}
	if err != nil {
		obw.logger.Warn("dropping update", "error", err)
		return
	}
	obw.loaded = true
}

func (c *Client) Start(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			c.logger.Info("context stopped engine", "error", ctx.Err())
			return
		case update := <-c.updates:
			worker := c.worker(ctx, update.TokenID)

			select {
			case worker.updates <- update:
				// Sent.
			default:
				c.logger.Warn("worker buffer full", "token", update.TokenID)
			}
		}
	}
}

func (c *Client) worker(ctx context.Context, tokenID string) *OrderbookWorker {
	c.mu.RLock()
	worker, ok := c.orderbookWorkers[tokenID]
	c.mu.RUnlock()
	if ok {
		return worker
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	// Double-check after acquiring write lock.
	worker, ok = c.orderbookWorkers[tokenID]
	if !ok {
		worker = &OrderbookWorker{
			ob:      orderbook.New(),
			updates: make(chan Update, maximumUpdates),
			logger:  c.logger.With("tokenID", tokenID),
		}
		c.orderbookWorkers[tokenID] = worker
		go worker.start(ctx)
	}
	return worker
}

// Book returns a point-in-time copy of the book for tokenID.
// It fails with orderbook.ErrBookNotFound until the first update for the token was applied.
func (c *Client) Book(_ context.Context, tokenID string) (orderbook.Book, error) {
	c.mu.RLock()
	worker, ok := c.orderbookWorkers[tokenID]
	c.mu.RUnlock()
	if !ok {
		return orderbook.Book{}, fmt.Errorf("token %s: %w", tokenID, orderbook.ErrBookNotFound)
	}

	worker.mu.RLock()
	defer worker.mu.RUnlock()
	if !worker.loaded {
		return orderbook.Book{}, fmt.Errorf("token %s: %w", tokenID, orderbook.ErrBookNotFound)
	}
	return worker.ob.Snapshot(tokenID), nil
}

// Snapshot captures the current state of an orderbook for a token.
type Snapshot struct {
	TokenID string
	Bids    []orderbook.Level
	Asks    []orderbook.Level
}

// TakeSnapshots returns a snapshot of the top N levels for all active orderbooks.
// This is safe to call concurrently with updates.
func (c *Client) TakeSnapshots(depth int) []Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	snapshots := make([]Snapshot, 0, len(c.orderbookWorkers))
	for tokenID, worker := range c.orderbookWorkers {
		worker.mu.RLock()
		bids, _ := worker.ob.GetTopN(orderbook.Bids, depth)
		asks, _ := worker.ob.GetTopN(orderbook.Asks, depth)
		worker.mu.RUnlock()

		snapshots = append(snapshots, Snapshot{
			TokenID: tokenID,
			Bids:    bids,
			Asks:    asks,
		})
	}
	return snapshots
}
