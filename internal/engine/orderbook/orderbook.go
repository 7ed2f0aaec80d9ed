// Package orderbook tracks the bids and asks for a tokenID.
package orderbook

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/btree"

	"github.com/daszybak/polytrader/internal/price"
)

const (
	Bids = "bids"
	Asks = "asks"
)

var (
	// ErrBookNotFound is returned when no book has been loaded for a token.
	ErrBookNotFound = errors.New("order book not found")
	ErrInvalidSide  = errors.New("invalid side")
)

// Level represents a price level in the order book.
type Level struct {
	Price     price.Price
	Size      price.Size
	UpdatedAt time.Time // When this level was last updated (event time from source)
}

// Book is a point-in-time copy of an order book.
// Bids are sorted descending, asks ascending.
type Book struct {
	TokenID   string
	Bids      []Level
	Asks      []Level
	UpdatedAt time.Time
}

// Side returns the levels for the given side name.
func (b Book) Side(side string) ([]Level, error) {
	switch side {
	case Bids:
		return b.Bids, nil
	case Asks:
		return b.Asks, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidSide, side)
	}
}

// lessAsc compares levels by price ascending (for asks: lowest first).
func lessAsc(a, b Level) bool {
	return a.Price < b.Price
}

// lessDesc compares levels by price descending (for bids: highest first).
func lessDesc(a, b Level) bool {
	return a.Price > b.Price
}

// Orderbook maintains sorted bid and ask levels using btrees.
// Bids are sorted descending (highest price first).
// Asks are sorted ascending (lowest price first).
// An Orderbook is not safe for concurrent use.
type Orderbook struct {
	bids      *btree.BTreeG[Level]
	asks      *btree.BTreeG[Level]
	updatedAt time.Time
}

// New creates a new empty order book.
func New() *Orderbook {
	return &Orderbook{
		bids: btree.NewG(32, lessDesc), // degree 32, descending
		asks: btree.NewG(32, lessAsc),  // degree 32, ascending
	}
}

// Set sets an absolute size at a price level. A size <= 0 removes the level.
// eventTime is the timestamp from the source API.
func (ob *Orderbook) Set(p price.Price, size price.Size, side string, eventTime time.Time) error {
	return ob.put(p, side, eventTime, func(price.Size) price.Size { return size })
}

// Update applies a delta to a price level and removes it once it is empty.
func (ob *Orderbook) Update(p price.Price, delta price.Size, side string, eventTime time.Time) error {
	return ob.put(p, side, eventTime, func(current price.Size) price.Size { return current + delta })
}

func (ob *Orderbook) put(p price.Price, side string, eventTime time.Time, next func(current price.Size) price.Size) error {
	tree, err := ob.getTree(side)
	if err != nil {
		return err
	}
	ob.touch(eventTime)

	var current price.Size
	if lvl, ok := tree.Get(Level{Price: p}); ok {
		current = lvl.Size
	}
	size := next(current)
	if size <= 0 {
		tree.Delete(Level{Price: p})
		return nil
	}

	tree.ReplaceOrInsert(Level{Price: p, Size: size, UpdatedAt: eventTime})
	return nil
}

// Replace drops every level and loads the given ones.
func (ob *Orderbook) Replace(bids, asks []Level, eventTime time.Time) {
	ob.bids.Clear(false)
	ob.asks.Clear(false)
	for _, l := range bids {
		ob.Set(l.Price, l.Size, Bids, eventTime)
	}
	for _, l := range asks {
		ob.Set(l.Price, l.Size, Asks, eventTime)
	}
	ob.touch(eventTime)
}

// GetTopN returns the top N price levels for a side.
// Bids: highest prices first. Asks: lowest prices first.
func (ob *Orderbook) GetTopN(side string, n int) ([]Level, error) {
	tree, err := ob.getTree(side)
	if err != nil {
		return nil, err
	}

	if n <= 0 {
		n = tree.Len()
	}
	levels := make([]Level, 0, min(n, tree.Len()))
	tree.Ascend(func(lvl Level) bool {
		levels = append(levels, lvl)
		return len(levels) < n
	})

	return levels, nil
}

// Best returns the best level of a side.
func (ob *Orderbook) Best(side string) (Level, bool) {
	tree, err := ob.getTree(side)
	if err != nil {
		return Level{}, false
	}
	return tree.Min()
}

// Snapshot copies the whole book.
func (ob *Orderbook) Snapshot(tokenID string) Book {
	bids, _ := ob.GetTopN(Bids, 0)
	asks, _ := ob.GetTopN(Asks, 0)
	return Book{
		TokenID:   tokenID,
		Bids:      bids,
		Asks:      asks,
		UpdatedAt: ob.updatedAt,
	}
}

// Len returns the number of levels on a side.
func (ob *Orderbook) Len(side string) int {
	tree, _ := ob.getTree(side)
	if tree == nil {
		return 0
	}
	return tree.Len()
}

func (ob *Orderbook) touch(t time.Time) {
	if t.After(ob.updatedAt) {
		ob.updatedAt = t
	}
}

func (ob *Orderbook) getTree(side string) (*btree.BTreeG[Level], error) {
	switch side {
	case Bids:
		return ob.bids, nil
	case Asks:
		return ob.asks, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidSide, side)
	}
}
