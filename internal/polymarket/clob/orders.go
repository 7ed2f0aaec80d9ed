package clob

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/daszybak/polytrader/internal/order"
	"github.com/daszybak/polytrader/internal/price"
	"github.com/daszybak/polytrader/pkg/httpclient"
)

// MaxBatchSize is the largest number of orders POST /orders accepts.
const MaxBatchSize = 15

// ErrNotFound is returned when the exchange doesn't know an order.
var ErrNotFound = errors.New("order not found")

// WireOrder is the JSON encoding of a signed order.
type WireOrder struct {
	Salt          int64  `json:"salt"`
	Maker         string `json:"maker"`
	Signer        string `json:"signer"`
	Taker         string `json:"taker"`
	TokenID       string `json:"tokenId"`
	MakerAmount   string `json:"makerAmount"`
	TakerAmount   string `json:"takerAmount"`
	Expiration    string `json:"expiration"`
	Nonce         string `json:"nonce"`
	FeeRateBps    string `json:"feeRateBps"`
	Side          string `json:"side"`
	SignatureType int    `json:"signatureType"`
	Signature     string `json:"signature"`
}

func NewWireOrder(o order.SignedOrder) WireOrder {
	return WireOrder{
		Salt:          o.Salt,
		Maker:         o.Maker.Hex(),
		Signer:        o.Signer.Hex(),
		Taker:         o.Taker.Hex(),
		TokenID:       o.TokenID,
		MakerAmount:   strconv.FormatInt(o.MakerAmount, 10),
		TakerAmount:   strconv.FormatInt(o.TakerAmount, 10),
		Expiration:    strconv.FormatInt(o.Expiration, 10),
		Nonce:         strconv.FormatUint(o.Nonce, 10),
		FeeRateBps:    strconv.Itoa(o.FeeRateBps),
		Side:          o.Side.String(),
		SignatureType: int(o.SignatureType),
		Signature:     o.SignatureHex(),
	}
}

type PostOrderRequest struct {
	Order     WireOrder `json:"order"`
	Owner     string    `json:"owner"`
	OrderType string    `json:"orderType"`
}

// OrderResponse is the exchange verdict on one posted order.
type OrderResponse struct {
	Success           bool     `json:"success"`
	ErrorMsg          string   `json:"errorMsg"`
	OrderID           string   `json:"orderID"`
	Status            string   `json:"status"`
	MakingAmount      string   `json:"makingAmount"`
	TakingAmount      string   `json:"takingAmount"`
	TransactionHashes []string `json:"transactionsHashes"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (c *Client) postRequest(o order.SignedOrder) PostOrderRequest {
	owner := ""
	if c.creds != nil {
		owner = c.creds.APIKey
	}
	return PostOrderRequest{
		Order:     NewWireOrder(o),
		Owner:     owner,
		OrderType: string(o.Type),
	}
}

// authed runs an L2-authenticated request.
func authed[T any](ctx context.Context, c *Client, method, path string, payload any) (T, error) {
	var zero T

	var body []byte
	if payload != nil {
		b, err := httpclient.JSONBody(payload)
		if err != nil {
			return zero, err
		}
		body = b
	}

	h, err := c.l2Headers(method, path, body)
	if err != nil {
		return zero, err
	}

	return httpclient.Do[T](ctx, c.httpClient, c.baseURL, httpclient.Endpoint{
		Method: method,
		Path:   path,
		Body:   body,
		Header: h,
	})
}

// PostOrder submits one order. Structural rejections come back as an
// unsuccessful OrderResponse, the error is reserved for transport failures.
func (c *Client) PostOrder(ctx context.Context, o order.SignedOrder) (OrderResponse, error) {
	res, err := authed[OrderResponse](ctx, c, http.MethodPost, "/order", c.postRequest(o))
	if err != nil {
		if msg, ok := rejection(err); ok {
			return OrderResponse{Success: false, ErrorMsg: msg}, nil
		}
		return OrderResponse{}, fmt.Errorf("couldn't post order %s: %w", o.ID(), err)
	}
	return res, nil
}

// PostOrders submits up to MaxBatchSize orders. The responses line up with orders.
func (c *Client) PostOrders(ctx context.Context, orders []order.SignedOrder) ([]OrderResponse, error) {
	if len(orders) == 0 {
		return nil, nil
	}
	if len(orders) > MaxBatchSize {
		return nil, fmt.Errorf("batch of %d orders exceeds the limit of %d", len(orders), MaxBatchSize)
	}

	reqs := make([]PostOrderRequest, len(orders))
	for i, o := range orders {
		reqs[i] = c.postRequest(o)
	}

	res, err := authed[[]OrderResponse](ctx, c, http.MethodPost, "/orders", reqs)
	if err != nil {
		if msg, ok := rejection(err); ok {
			out := make([]OrderResponse, len(orders))
			for i := range out {
				out[i] = OrderResponse{ErrorMsg: msg}
			}
			return out, nil
		}
		return nil, fmt.Errorf("couldn't post %d orders: %w", len(orders), err)
	}
	if len(res) != len(orders) {
		return nil, fmt.Errorf("posted %d orders, got %d responses", len(orders), len(res))
	}
	return res, nil
}

// rejection extracts the exchange message from a 4xx answer.
func rejection(err error) (string, bool) {
	var se *httpclient.StatusError
	if !errors.As(err, &se) || se.StatusCode < 400 || se.StatusCode >= 500 || se.StatusCode == http.StatusTooManyRequests {
		return "", false
	}
	if se.StatusCode == http.StatusUnauthorized || se.StatusCode == http.StatusForbidden {
		return "", false
	}

	var res OrderResponse
	if json.Unmarshal(se.Body, &res) == nil && res.ErrorMsg != "" {
		return res.ErrorMsg, true
	}
	var e errorResponse
	if json.Unmarshal(se.Body, &e) == nil && e.Error != "" {
		return e.Error, true
	}
	return strings.TrimSpace(string(se.Body)), true
}

// OpenOrder is the exchange view of an order.
type OpenOrder struct {
	ID              string      `json:"id"`
	Status          string      `json:"status"`
	Owner           string      `json:"owner"`
	MakerAddress    string      `json:"maker_address"`
	Market          string      `json:"market"`
	AssetID         string      `json:"asset_id"`
	Side            string      `json:"side"`
	OriginalSize    price.Size  `json:"original_size"`
	SizeMatched     price.Size  `json:"size_matched"`
	Price           price.Price `json:"price"`
	Outcome         string      `json:"outcome"`
	OrderType       string      `json:"order_type"`
	Expiration      string      `json:"expiration"`
	CreatedAt       int64       `json:"created_at"`
	AssociateTrades []string    `json:"associate_trades"`
}

// GetOrder looks an order up by id. It fails with ErrNotFound for unknown ids.
func (c *Client) GetOrder(ctx context.Context, orderID string) (*OpenOrder, error) {
	path := "/data/order/" + url.PathEscape(orderID)
	o, err := authed[*OpenOrder](ctx, c, http.MethodGet, path, nil)
	if err != nil {
		if httpclient.IsStatus(err, http.StatusNotFound) {
			return nil, fmt.Errorf("order %s: %w", orderID, ErrNotFound)
		}
		return nil, fmt.Errorf("couldn't get order %s: %w", orderID, err)
	}
	if o == nil || o.ID == "" {
		return nil, fmt.Errorf("order %s: %w", orderID, ErrNotFound)
	}
	return o, nil
}

// CancelResponse lists what the exchange cancelled, and why it refused the rest.
type CancelResponse struct {
	Canceled    []string          `json:"canceled"`
	NotCanceled map[string]string `json:"not_canceled"`
}

func (c *Client) CancelOrder(ctx context.Context, orderID string) (CancelResponse, error) {
	res, err := authed[CancelResponse](ctx, c, http.MethodDelete, "/order", map[string]string{"orderID": orderID})
	if err != nil {
		return CancelResponse{}, fmt.Errorf("couldn't cancel order %s: %w", orderID, err)
	}
	return res, nil
}

func (c *Client) CancelOrders(ctx context.Context, orderIDs []string) (CancelResponse, error) {
	res, err := authed[CancelResponse](ctx, c, http.MethodDelete, "/orders", orderIDs)
	if err != nil {
		return CancelResponse{}, fmt.Errorf("couldn't cancel %d orders: %w", len(orderIDs), err)
	}
	return res, nil
}

func (c *Client) CancelAll(ctx context.Context) (CancelResponse, error) {
	res, err := authed[CancelResponse](ctx, c, http.MethodDelete, "/cancel-all", nil)
	if err != nil {
		return CancelResponse{}, fmt.Errorf("couldn't cancel all orders: %w", err)
	}
	return res, nil
}
