package clob

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"time"

	"github.com/daszybak/polytrader/internal/engine/orderbook"
	"github.com/daszybak/polytrader/internal/price"
	"github.com/daszybak/polytrader/pkg/httpclient"
)

type OrderSummary struct {
	Price price.Price `json:"price"`
	Size  price.Size  `json:"size"`
}

type OrderBookSummary struct {
	Market    string         `json:"market"`
	AssetID   string         `json:"asset_id"`
	Timestamp string         `json:"timestamp"`
	Hash      string         `json:"hash"`
	Bids      []OrderSummary `json:"bids"`
	Asks      []OrderSummary `json:"asks"`
	TickSize  price.Price    `json:"tick_size"`
	NegRisk   bool           `json:"neg_risk"`
}

func (c *Client) GetOrderBook(ctx context.Context, tokenID string) (*OrderBookSummary, error) {
	book, err := httpclient.Do[*OrderBookSummary](ctx, c.httpClient, c.baseURL, httpclient.Endpoint{
		Path:  "/book",
		Query: url.Values{"token_id": {tokenID}},
	})
	if err != nil {
		if httpclient.IsStatus(err, http.StatusNotFound) {
			return nil, fmt.Errorf("token %s: %w", tokenID, orderbook.ErrBookNotFound)
		}
		return nil, fmt.Errorf("couldn't get order book of %s: %w", tokenID, err)
	}
	if book == nil {
		return nil, fmt.Errorf("token %s: %w", tokenID, orderbook.ErrBookNotFound)
	}
	return book, nil
}

// Book fetches the book over REST, best levels first.
func (c *Client) Book(ctx context.Context, tokenID string) (orderbook.Book, error) {
	summary, err := c.GetOrderBook(ctx, tokenID)
	if err != nil {
		return orderbook.Book{}, err
	}
	return summary.ToBook(), nil
}

// ToBook sorts the summary into an orderbook.Book. The exchange lists both sides worst first.
func (s *OrderBookSummary) ToBook() orderbook.Book {
	ts := ParseMillis(s.Timestamp)
	toLevels := func(in []OrderSummary) []orderbook.Level {
		out := make([]orderbook.Level, 0, len(in))
		for _, l := range in {
			if l.Size <= 0 {
				continue
			}
			out = append(out, orderbook.Level{Price: l.Price, Size: l.Size, UpdatedAt: ts})
		}
		return out
	}

	bids := toLevels(s.Bids)
	asks := toLevels(s.Asks)
	slices.SortFunc(bids, func(a, b orderbook.Level) int { return cmp.Compare(b.Price, a.Price) })
	slices.SortFunc(asks, func(a, b orderbook.Level) int { return cmp.Compare(a.Price, b.Price) })

	return orderbook.Book{
		TokenID:   s.AssetID,
		Bids:      bids,
		Asks:      asks,
		UpdatedAt: ts,
	}
}

// ParseMillis reads the millisecond unix timestamps used across the API.
// It returns the zero time when s is empty or malformed.
func ParseMillis(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	ms, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

// IsNotFound reports whether err means the requested resource doesn't exist.
func IsNotFound(err error) bool {
	return errors.Is(err, orderbook.ErrBookNotFound) || errors.Is(err, ErrNotFound) || httpclient.IsStatus(err, http.StatusNotFound)
}
