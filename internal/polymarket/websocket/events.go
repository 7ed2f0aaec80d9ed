package websocket

import (
	"encoding/json"

	"github.com/daszybak/polytrader/internal/price"
)

// Market event types.
const (
	BookEvent           = "book"
	PriceChangeEvent    = "price_change"
	TickSizeChangeEvent = "tick_size_change"
	LastTradePriceEvent = "last_trade_price"
	BestBidAskEvent     = "best_bid_ask"
	NewMarketEvent      = "new_market"
	MarketResolvedEvent = "market_resolved"
)

// User event types.
const (
	OrderEventType = "order"
	TradeEventType = "trade"
)

// Event is one decoded inbound message. Exactly one of the typed fields is
// set for known event types; Raw always holds the original message.
type Event struct {
	Family Family
	Type   string
	// Topic is only set for live data messages.
	Topic string

	Book           *Book
	PriceChange    *PriceChange
	TickSizeChange *TickSizeChange
	LastTradePrice *LastTradePrice
	BestBidAsk     *BestBidAsk
	NewMarket      *NewMarket
	MarketResolved *MarketResolved

	Order *OrderEvent
	Trade *TradeEvent

	Live *LiveMessage

	Raw json.RawMessage

	// keys route the event to subscriptions.
	keys []string
}

type OrderSummary struct {
	Price price.Price `json:"price"`
	Size  price.Size  `json:"size"`
}

type Book struct {
	AssetID   string         `json:"asset_id"`
	Market    string         `json:"market"`
	Timestamp string         `json:"timestamp"`
	Hash      string         `json:"hash"`
	Bids      []OrderSummary `json:"bids"`
	Asks      []OrderSummary `json:"asks"`
	// Older servers send buys/sells instead of bids/asks.
	Buys  []OrderSummary `json:"buys,omitempty"`
	Sells []OrderSummary `json:"sells,omitempty"`
}

type PriceLevelChange struct {
	AssetID string      `json:"asset_id"`
	Price   price.Price `json:"price"`
	Size    price.Size  `json:"size"`
	Side    string      `json:"side"`
	Hash    string      `json:"hash"`
	BestBid price.Price `json:"best_bid"`
	BestAsk price.Price `json:"best_ask"`
}

type PriceChange struct {
	Market    string             `json:"market"`
	Timestamp string             `json:"timestamp"`
	Changes   []PriceLevelChange `json:"price_changes"`

	// Single level form.
	PriceLevelChange
}

type TickSizeChange struct {
	AssetID     string      `json:"asset_id"`
	Market      string      `json:"market"`
	OldTickSize price.Price `json:"old_tick_size"`
	NewTickSize price.Price `json:"new_tick_size"`
	Side        string      `json:"side"`
	Timestamp   string      `json:"timestamp"`
}

type LastTradePrice struct {
	AssetID    string      `json:"asset_id"`
	FeeRateBps string      `json:"fee_rate_bps"`
	Market     string      `json:"market"`
	Price      price.Price `json:"price"`
	Side       string      `json:"side"`
	Size       price.Size  `json:"size"`
	Timestamp  string      `json:"timestamp"`
}

type BestBidAsk struct {
	Market    string      `json:"market"`
	AssetID   string      `json:"asset_id"`
	BestBid   price.Price `json:"best_bid"`
	BestAsk   price.Price `json:"best_ask"`
	Spread    price.Price `json:"spread"`
	Timestamp string      `json:"timestamp"`
}

type EventMessage struct {
	ID          string `json:"id"`
	Ticker      string `json:"ticker"`
	Slug        string `json:"slug"`
	Title       string `json:"title"`
	Description string `json:"description"`
}

type NewMarket struct {
	ID           string       `json:"id"`
	Question     string       `json:"question"`
	Market       string       `json:"market"`
	Slug         string       `json:"slug"`
	Description  string       `json:"description"`
	AssetIDs     []string     `json:"assets_ids"`
	Outcomes     []string     `json:"outcomes"`
	EventMessage EventMessage `json:"event_message"`
	Timestamp    string       `json:"timestamp"`
}

type MarketResolved struct {
	ID             string       `json:"id"`
	Question       string       `json:"question"`
	Market         string       `json:"market"`
	AssetIDs       []string     `json:"assets_ids"`
	WinningAssetID string       `json:"winning_asset_id"`
	WinningOutcome string       `json:"winning_outcome"`
	EventMessage   EventMessage `json:"event_message"`
	Timestamp      string       `json:"timestamp"`
}

// OrderEvent reports a placement, update or cancellation of one of the
// account's orders; Type is PLACEMENT, UPDATE or CANCELLATION.
type OrderEvent struct {
	ID              string      `json:"id"`
	Owner           string      `json:"owner"`
	Market          string      `json:"market"`
	AssetID         string      `json:"asset_id"`
	Side            string      `json:"side"`
	OriginalSize    price.Size  `json:"original_size"`
	SizeMatched     price.Size  `json:"size_matched"`
	Price           price.Price `json:"price"`
	Outcome         string      `json:"outcome"`
	Type            string      `json:"type"`
	Status          string      `json:"status"`
	OrderType       string      `json:"order_type"`
	AssociateTrades []string    `json:"associate_trades"`
	Timestamp       string      `json:"timestamp"`
}

type MakerOrder struct {
	OrderID       string      `json:"order_id"`
	Owner         string      `json:"owner"`
	MakerAddress  string      `json:"maker_address"`
	MatchedAmount price.Size  `json:"matched_amount"`
	Price         price.Price `json:"price"`
	AssetID       string      `json:"asset_id"`
	Outcome       string      `json:"outcome"`
	Side          string      `json:"side"`
}

type TradeEvent struct {
	ID              string       `json:"id"`
	TakerOrderID    string       `json:"taker_order_id"`
	Market          string       `json:"market"`
	AssetID         string       `json:"asset_id"`
	Side            string       `json:"side"`
	Size            price.Size   `json:"size"`
	Price           price.Price  `json:"price"`
	FeeRateBps      string       `json:"fee_rate_bps"`
	Status          string       `json:"status"`
	MatchTime       string       `json:"match_time"`
	Outcome         string       `json:"outcome"`
	Owner           string       `json:"owner"`
	TraderSide      string       `json:"trader_side"`
	TransactionHash string       `json:"transaction_hash"`
	MakerOrders     []MakerOrder `json:"maker_orders"`
	Timestamp       string       `json:"timestamp"`
}

// LiveMessage is a live data message. Payload is left to the caller since
// its shape depends on topic and type.
type LiveMessage struct {
	Topic     string          `json:"topic"`
	Type      string          `json:"type"`
	Timestamp int64           `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}
