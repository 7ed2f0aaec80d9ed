package order

import (
	"fmt"

	"github.com/daszybak/polytrader/internal/engine/orderbook"
	"github.com/daszybak/polytrader/internal/price"
)

// Fill describes how a market order would consume the visible book.
type Fill struct {
	// Levels holds the consumed part of every touched level, best first.
	Levels     []orderbook.Level
	BestPrice  price.Price
	WorstPrice price.Price
	Shares     price.Size
	// Cost is the collateral exchanged at the touched prices.
	Cost int64
}

// SlippageBps is the distance between the best and the worst touched level,
// relative to the best one.
func (f Fill) SlippageBps() int64 {
	if f.BestPrice <= 0 {
		return 0
	}
	d := int64(f.WorstPrice - f.BestPrice)
	if d < 0 {
		d = -d
	}
	return d * 10_000 / int64(f.BestPrice)
}

// Walk consumes levels (best first) until amount is covered. amount is in shares
// when inShares is set, in collateral otherwise. It fails with ErrLiquidity when
// the levels run out first.
func Walk(levels []orderbook.Level, amount int64, inShares bool) (Fill, error) {
	if amount <= 0 {
		return Fill{}, fmt.Errorf("%w: amount must be positive", ErrInvalidSize)
	}
	if len(levels) == 0 {
		return Fill{}, fmt.Errorf("%w: book side is empty", ErrLiquidity)
	}

	var fill Fill
	remaining := amount
	for _, lvl := range levels {
		if lvl.Size <= 0 || lvl.Price <= 0 {
			continue
		}

		take := lvl.Size
		if inShares {
			take = min(lvl.Size, price.Size(remaining))
			remaining -= int64(take)
		} else {
			levelCost := price.Notional(lvl.Price, lvl.Size)
			if levelCost > remaining {
				take = price.SharesFor(remaining, lvl.Price)
				levelCost = remaining
			}
			remaining -= levelCost
		}

		if len(fill.Levels) == 0 {
			fill.BestPrice = lvl.Price
		}
		fill.Levels = append(fill.Levels, orderbook.Level{Price: lvl.Price, Size: take, UpdatedAt: lvl.UpdatedAt})
		fill.WorstPrice = lvl.Price
		fill.Shares += take
		fill.Cost += price.Notional(lvl.Price, take)

		if remaining <= 0 {
			return fill, nil
		}
	}

	return Fill{}, fmt.Errorf("%w: visible depth covers %d of %d", ErrLiquidity, amount-remaining, amount)
}
