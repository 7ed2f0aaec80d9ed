// Package gamma consumes Polymarket gamma endpoints.
package gamma

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/daszybak/polytrader/pkg/hashset"
	"github.com/daszybak/polytrader/pkg/httpclient"
)

type Client struct {
	httpClient *http.Client
	baseURL    string
}

func New(baseURL string) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		baseURL:    baseURL,
	}
}

// StringList handles the double-encoded JSON arrays of the API.
type StringList []string

func (t *StringList) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		// Some endpoints send a plain array.
		return json.Unmarshal(data, (*[]string)(t))
	}
	if s == "" {
		*t = nil
		return nil
	}
	return json.Unmarshal([]byte(s), (*[]string)(t))
}

type Market struct {
	ID           string     `json:"id"`
	ConditionID  string     `json:"conditionId"`
	Question     string     `json:"question"`
	Slug         string     `json:"slug"`
	Outcomes     StringList `json:"outcomes"`
	ClobTokenIDs StringList `json:"clobTokenIds"`
	Active       bool       `json:"active"`
	Closed       bool       `json:"closed"`
	NegRisk      bool       `json:"negRisk"`
}

type Event struct {
	ID      string    `json:"id"`
	Slug    string    `json:"slug"`
	Title   string    `json:"title"`
	Markets []*Market `json:"markets"`
}

type MarketsQuery struct {
	Limit  int
	Offset int
	Active bool
	Closed bool
}

func (q MarketsQuery) values() url.Values {
	v := url.Values{}
	if q.Limit > 0 {
		v.Set("limit", strconv.Itoa(q.Limit))
	}
	if q.Offset > 0 {
		v.Set("offset", strconv.Itoa(q.Offset))
	}
	if q.Active {
		v.Set("active", "true")
	}
	v.Set("closed", strconv.FormatBool(q.Closed))
	return v
}

func (c *Client) GetMarkets(ctx context.Context, q MarketsQuery) ([]*Market, error) {
	markets, err := httpclient.Do[[]*Market](ctx, c.httpClient, c.baseURL, httpclient.Endpoint{
		Path:  "/markets",
		Query: q.values(),
	})
	if err != nil {
		return nil, fmt.Errorf("couldn't get markets: %w", err)
	}
	return markets, nil
}

func (c *Client) GetEventBySlug(ctx context.Context, slug string) (*Event, error) {
	e, err := httpclient.Do[*Event](ctx, c.httpClient, c.baseURL, httpclient.Endpoint{
		Path: "/events/slug/" + url.PathEscape(slug),
	})
	if err != nil {
		return nil, fmt.Errorf("couldn't get event %s: %w", slug, err)
	}
	if e == nil {
		return nil, fmt.Errorf("event %s: empty response", slug)
	}
	return e, nil
}

// TokenIDsForEvents resolves event slugs into the token ids of their open markets.
func (c *Client) TokenIDsForEvents(ctx context.Context, slugs []string) ([]string, error) {
	seen := hashset.New[string]()
	var ids []string
	for _, slug := range slugs {
		e, err := c.GetEventBySlug(ctx, slug)
		if err != nil {
			return nil, err
		}
		for _, m := range e.Markets {
			if m.Closed {
				continue
			}
			for _, id := range m.ClobTokenIDs {
				if !seen.Has(id) {
					seen.Add(id)
					ids = append(ids, id)
				}
			}
		}
	}
	return ids, nil
}
