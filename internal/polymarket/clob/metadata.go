package clob

import (
	"context"
	"fmt"
	"net/url"

	"golang.org/x/sync/errgroup"

	"github.com/daszybak/polytrader/internal/metadata"
	"github.com/daszybak/polytrader/internal/price"
	"github.com/daszybak/polytrader/pkg/httpclient"
)

var _ metadata.Fetcher = (*Client)(nil)

type tickSizeResponse struct {
	MinimumTickSize price.Price `json:"minimum_tick_size"`
}

type negRiskResponse struct {
	NegRisk bool `json:"neg_risk"`
}

type feeRateResponse struct {
	BaseFee int `json:"base_fee"`
}

func (c *Client) GetTickSize(ctx context.Context, tokenID string) (price.Price, error) {
	res, err := httpclient.Do[tickSizeResponse](ctx, c.httpClient, c.baseURL, httpclient.Endpoint{
		Path:  "/tick-size",
		Query: url.Values{"token_id": {tokenID}},
	})
	if err != nil {
		return 0, fmt.Errorf("couldn't get tick size of %s: %w", tokenID, err)
	}
	return res.MinimumTickSize, nil
}

func (c *Client) GetNegRisk(ctx context.Context, tokenID string) (bool, error) {
	res, err := httpclient.Do[negRiskResponse](ctx, c.httpClient, c.baseURL, httpclient.Endpoint{
		Path:  "/neg-risk",
		Query: url.Values{"token_id": {tokenID}},
	})
	if err != nil {
		return false, fmt.Errorf("couldn't get neg risk of %s: %w", tokenID, err)
	}
	return res.NegRisk, nil
}

// GetFeeRate returns the market fee rate in bps. A missing base_fee means no fee.
func (c *Client) GetFeeRate(ctx context.Context, tokenID string) (int, error) {
	res, err := httpclient.Do[feeRateResponse](ctx, c.httpClient, c.baseURL, httpclient.Endpoint{
		Path:  "/fee-rate",
		Query: url.Values{"token_id": {tokenID}},
	})
	if err != nil {
		return 0, fmt.Errorf("couldn't get fee rate of %s: %w", tokenID, err)
	}
	return res.BaseFee, nil
}

// FetchMetadata queries tick size, neg risk and fee rate concurrently.
func (c *Client) FetchMetadata(ctx context.Context, tokenID string) (metadata.TokenMetadata, error) {
	md := metadata.TokenMetadata{TokenID: tokenID}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		tick, err := c.GetTickSize(ctx, tokenID)
		md.TickSize = tick
		return err
	})
	g.Go(func() error {
		negRisk, err := c.GetNegRisk(ctx, tokenID)
		md.NegRisk = negRisk
		return err
	})
	g.Go(func() error {
		fee, err := c.GetFeeRate(ctx, tokenID)
		md.FeeRateBps = fee
		return err
	})
	if err := g.Wait(); err != nil {
		return metadata.TokenMetadata{}, err
	}
	return md, nil
}
