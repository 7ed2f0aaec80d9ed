// Package clob is used to call clob polymarket endpoints.
package clob

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/daszybak/polytrader/internal/price"
	"github.com/daszybak/polytrader/pkg/httpclient"
)

// endOfPages is the cursor the exchange returns after the last page.
const endOfPages = "LTE="

type Client struct {
	httpClient *http.Client
	baseURL    string
	logger     *slog.Logger

	// L2 authentication.
	creds   *Credentials
	address common.Address
	// L1 authentication.
	l1 L1Signer

	now func() time.Time
}

type Option func(*Client)

func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		cl.httpClient = c
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(cl *Client) {
		cl.logger = l
	}
}

// WithCredentials enables the authenticated endpoints for address.
func WithCredentials(address common.Address, creds Credentials) Option {
	return func(cl *Client) {
		cl.address = address
		cl.creds = &creds
	}
}

// WithL1Signer enables API key creation and derivation.
func WithL1Signer(s L1Signer) Option {
	return func(cl *Client) {
		cl.l1 = s
	}
}

func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		baseURL:    baseURL,
		logger:     slog.Default(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("component", "clob")
	return c
}

type MarketToken struct {
	Outcome string      `json:"outcome"`
	Price   price.Price `json:"price"`
	TokenID string      `json:"token_id"`
	Winner  bool        `json:"winner"`
}

type Market struct {
	ConditionID     string        `json:"condition_id"`
	Description     string        `json:"description"`
	Question        string        `json:"question"`
	EndDateISO      string        `json:"end_date_iso"`
	Active          bool          `json:"active"`
	Closed          bool          `json:"closed"`
	NegRisk         bool          `json:"neg_risk"`
	MinimumTickSize price.Price   `json:"minimum_tick_size"`
	Tokens          []MarketToken `json:"tokens"`
}

type MarketPage struct {
	Limit      int       `json:"limit"`
	Count      int       `json:"count"`
	Data       []*Market `json:"data"`
	NextCursor *string   `json:"next_cursor,omitempty"`
}

func (c *Client) GetMarketByConditionID(ctx context.Context, conditionID string) (*Market, error) {
	market, err := httpclient.Do[*Market](ctx, c.httpClient, c.baseURL, httpclient.Endpoint{
		Path: "/markets/" + url.PathEscape(conditionID),
	})
	if err != nil {
		return nil, fmt.Errorf("couldn't get market by condition ID %s: %w", conditionID, err)
	}
	return market, nil
}

func (c *Client) GetMarkets(ctx context.Context, nextCursor *string) (*MarketPage, error) {
	e := httpclient.Endpoint{Path: "/markets"}
	if nextCursor != nil {
		e.Query = url.Values{"next_cursor": {*nextCursor}}
	}
	markets, err := httpclient.Do[*MarketPage](ctx, c.httpClient, c.baseURL, e)
	if err != nil {
		return nil, fmt.Errorf("couldn't get markets from next cursor: %w", err)
	}
	return markets, nil
}

func (c *Client) GetAllMarkets(ctx context.Context) ([]*Market, error) {
	markets := []*Market{}
	var cursor *string
	for {
		page, err := c.GetMarkets(ctx, cursor)
		if err != nil {
			return nil, fmt.Errorf("couldn't get markets page: %w", err)
		}
		markets = append(markets, page.Data...)

		if page.NextCursor == nil || *page.NextCursor == "" || isLastCursor(*page.NextCursor) {
			break
		}
		cursor = page.NextCursor
		c.logger.Debug("received a market page", "count", len(page.Data))
	}
	return markets, nil
}

func isLastCursor(cursor string) bool {
	if cursor == endOfPages {
		return true
	}
	decoded, _ := base64.StdEncoding.DecodeString(cursor)
	return string(decoded) == "-1"
}
