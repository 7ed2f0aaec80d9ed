package websocket

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/daszybak/polytrader/pkg/hashset"
)

// Family is a logical stream family. Each family has its own endpoint and
// therefore its own physical connection.
type Family string

const (
	Market   Family = "market"
	User     Family = "user"
	LiveData Family = "live_data"
)

var (
	// ErrAuthRequired is returned when a subscription needs API credentials it doesn't carry.
	ErrAuthRequired = errors.New("api credentials required")
	// ErrInvalidSubscription is returned for subscriptions without any filter.
	ErrInvalidSubscription = errors.New("invalid subscription")
)

// ClobUserTopic is the live data topic that streams the account's orders and trades.
const ClobUserTopic = "clob_user"

// wildcard is the key of a user subscription without market filter.
const wildcard = "*"

type Auth struct {
	APIKey     string `json:"apiKey"`
	Secret     string `json:"secret"`
	Passphrase string `json:"passphrase"`
}

// clobAuth is the credential encoding of the live data endpoint.
type clobAuth struct {
	Key        string `json:"key"`
	Secret     string `json:"secret"`
	Passphrase string `json:"passphrase"`
}

// LiveTopic selects live data messages. An empty Type or "*" matches every type of the topic.
type LiveTopic struct {
	Topic   string `json:"topic"`
	Type    string `json:"type"`
	Filters string `json:"filters,omitempty"`
}

func (t LiveTopic) key() string {
	return t.Topic + "\x00" + t.Type + "\x00" + t.Filters
}

func liveTopicFromKey(k string) LiveTopic {
	parts := strings.SplitN(k, "\x00", 3)
	for len(parts) < 3 {
		parts = append(parts, "")
	}
	return LiveTopic{Topic: parts[0], Type: parts[1], Filters: parts[2]}
}

// Subscription describes which events of one family a stream receives.
type Subscription struct {
	Family Family
	// AssetIDs selects market events by token id.
	AssetIDs []string
	// Markets selects user events by condition id. Empty selects every market.
	Markets []string
	Topics  []LiveTopic
	Auth    *Auth
	// CustomFeatures asks the market endpoint for best_bid_ask, new_market and market_resolved events.
	CustomFeatures bool
}

func (s Subscription) validate() error {
	switch s.Family {
	case Market:
		if len(s.AssetIDs) == 0 {
			return fmt.Errorf("%w: market subscription without asset ids", ErrInvalidSubscription)
		}
	case User:
		if s.Auth == nil {
			return fmt.Errorf("user stream: %w", ErrAuthRequired)
		}
	case LiveData:
		if len(s.Topics) == 0 {
			return fmt.Errorf("%w: live data subscription without topics", ErrInvalidSubscription)
		}
		for _, t := range s.Topics {
			if t.Topic == ClobUserTopic && s.Auth == nil {
				return fmt.Errorf("topic %s: %w", t.Topic, ErrAuthRequired)
			}
		}
	default:
		return fmt.Errorf("%w: unknown family %q", ErrInvalidSubscription, s.Family)
	}
	return nil
}

// keys returns the server side filter keys the subscription registers.
func (s Subscription) keys() []string {
	switch s.Family {
	case Market:
		return s.AssetIDs
	case User:
		if len(s.Markets) == 0 {
			return []string{wildcard}
		}
		return s.Markets
	case LiveData:
		keys := make([]string, len(s.Topics))
		for i, t := range s.Topics {
			keys[i] = t.key()
		}
		return keys
	}
	return nil
}

// matcher returns the client side filter of the subscription.
func (s Subscription) matcher() func(Event) bool {
	switch s.Family {
	case LiveData:
		topics := s.Topics
		return func(ev Event) bool {
			for _, t := range topics {
				if t.Topic == ev.Topic && (t.Type == "" || t.Type == wildcard || t.Type == ev.Type) {
					return true
				}
			}
			return false
		}
	default:
		set := hashset.From(s.keys())
		if set.Has(wildcard) {
			return func(Event) bool { return true }
		}
		return func(ev Event) bool {
			// Events without routing keys concern the whole connection.
			if len(ev.keys) == 0 {
				return true
			}
			for _, k := range ev.keys {
				if set.Has(k) {
					return true
				}
			}
			return false
		}
	}
}

// codec encodes the subscribe frames and decodes the inbound messages of one family.
type codec interface {
	path() string
	// subscribe returns the frame registering keys. initial is set for the
	// first frame after the connection is established.
	subscribe(sub Subscription, keys []string, initial bool) any
	// unsubscribe returns nil when the family has no way to drop keys.
	unsubscribe(keys []string) any
	decode(data []byte) ([]Event, error)
	// textPing reports whether keepalive is a PING text frame rather than a control ping.
	textPing() bool
}

func codecFor(f Family) codec {
	switch f {
	case Market:
		return marketCodec{}
	case User:
		return userCodec{}
	default:
		return liveCodec{}
	}
}

type marketCodec struct{}

type marketFrame struct {
	Type                 string   `json:"type,omitempty"`
	AssetIDs             []string `json:"assets_ids"`
	Operation            string   `json:"operation,omitempty"`
	InitialDump          *bool    `json:"initial_dump,omitempty"`
	CustomFeatureEnabled bool     `json:"custom_feature_enabled,omitempty"`
}

func (marketCodec) path() string { return "/ws/market" }

func (marketCodec) textPing() bool { return true }

func (marketCodec) subscribe(sub Subscription, keys []string, initial bool) any {
	dump := true
	f := marketFrame{
		AssetIDs:             keys,
		InitialDump:          &dump,
		CustomFeatureEnabled: sub.CustomFeatures,
	}
	if initial {
		f.Type = string(Market)
	} else {
		f.Operation = "subscribe"
	}
	return f
}

func (marketCodec) unsubscribe(keys []string) any {
	return marketFrame{AssetIDs: keys, Operation: "unsubscribe"}
}

func (marketCodec) decode(data []byte) ([]Event, error) {
	return decodeEach(data, decodeMarketEvent)
}

func decodeMarketEvent(raw json.RawMessage) (Event, error) {
	var base struct {
		EventType string `json:"event_type"`
	}
	if err := json.Unmarshal(raw, &base); err != nil {
		return Event{}, fmt.Errorf("couldn't parse base message: %w", err)
	}

	ev := Event{Family: Market, Type: base.EventType, Raw: raw}
	var err error
	switch base.EventType {
	case BookEvent:
		b := &Book{}
		if err = json.Unmarshal(raw, b); err == nil {
			if b.Bids == nil && b.Asks == nil {
				b.Bids, b.Asks = b.Buys, b.Sells
			}
			b.Buys, b.Sells = nil, nil
			ev.Book, ev.keys = b, []string{b.AssetID}
		}
	case PriceChangeEvent:
		pc := &PriceChange{}
		if err = json.Unmarshal(raw, pc); err == nil {
			if len(pc.Changes) == 0 && pc.AssetID != "" {
				pc.Changes = []PriceLevelChange{pc.PriceLevelChange}
			}
			pc.PriceLevelChange = PriceLevelChange{}
			ev.PriceChange = pc
			for _, c := range pc.Changes {
				ev.keys = append(ev.keys, c.AssetID)
			}
		}
	case TickSizeChangeEvent:
		t := &TickSizeChange{}
		if err = json.Unmarshal(raw, t); err == nil {
			ev.TickSizeChange, ev.keys = t, []string{t.AssetID}
		}
	case LastTradePriceEvent:
		l := &LastTradePrice{}
		if err = json.Unmarshal(raw, l); err == nil {
			ev.LastTradePrice, ev.keys = l, []string{l.AssetID}
		}
	case BestBidAskEvent:
		b := &BestBidAsk{}
		if err = json.Unmarshal(raw, b); err == nil {
			ev.BestBidAsk, ev.keys = b, []string{b.AssetID}
		}
	case NewMarketEvent:
		n := &NewMarket{}
		if err = json.Unmarshal(raw, n); err == nil {
			ev.NewMarket, ev.keys = n, n.AssetIDs
		}
	case MarketResolvedEvent:
		r := &MarketResolved{}
		if err = json.Unmarshal(raw, r); err == nil {
			ev.MarketResolved, ev.keys = r, r.AssetIDs
		}
	}
	if err != nil {
		return Event{}, fmt.Errorf("couldn't parse %s event: %w", base.EventType, err)
	}
	return ev, nil
}

type userCodec struct{}

type userFrame struct {
	Type      string   `json:"type,omitempty"`
	Auth      *Auth    `json:"auth,omitempty"`
	Markets   []string `json:"markets"`
	Operation string   `json:"operation,omitempty"`
}

func (userCodec) path() string { return "/ws/user" }

func (userCodec) textPing() bool { return true }

func (userCodec) subscribe(sub Subscription, keys []string, _ bool) any {
	markets := make([]string, 0, len(keys))
	for _, k := range keys {
		if k != wildcard {
			markets = append(markets, k)
		}
	}
	return userFrame{Type: string(User), Auth: sub.Auth, Markets: markets}
}

func (userCodec) unsubscribe(keys []string) any {
	markets := make([]string, 0, len(keys))
	for _, k := range keys {
		if k != wildcard {
			markets = append(markets, k)
		}
	}
	if len(markets) == 0 {
		return nil
	}
	return userFrame{Markets: markets, Operation: "unsubscribe"}
}

func (userCodec) decode(data []byte) ([]Event, error) {
	return decodeEach(data, func(raw json.RawMessage) (Event, error) {
		var base struct {
			EventType string `json:"event_type"`
		}
		if err := json.Unmarshal(raw, &base); err != nil {
			return Event{}, fmt.Errorf("couldn't parse base message: %w", err)
		}

		ev := Event{Family: User, Type: base.EventType, Raw: raw}
		switch base.EventType {
		case OrderEventType:
			o := &OrderEvent{}
			if err := json.Unmarshal(raw, o); err != nil {
				return Event{}, fmt.Errorf("couldn't parse order event: %w", err)
			}
			ev.Order, ev.keys = o, []string{o.Market}
		case TradeEventType:
			t := &TradeEvent{}
			if err := json.Unmarshal(raw, t); err != nil {
				return Event{}, fmt.Errorf("couldn't parse trade event: %w", err)
			}
			ev.Trade, ev.keys = t, []string{t.Market}
		}
		return ev, nil
	})
}

type liveCodec struct{}

type liveSubscription struct {
	LiveTopic
	ClobAuth *clobAuth `json:"clob_auth,omitempty"`
}

type liveFrame struct {
	Action        string             `json:"action"`
	Subscriptions []liveSubscription `json:"subscriptions"`
}

func (liveCodec) path() string { return "" }

func (liveCodec) textPing() bool { return false }

func (liveCodec) subscribe(sub Subscription, keys []string, _ bool) any {
	f := liveFrame{Action: "subscribe"}
	for _, k := range keys {
		ls := liveSubscription{LiveTopic: liveTopicFromKey(k)}
		if ls.Topic == ClobUserTopic && sub.Auth != nil {
			ls.ClobAuth = &clobAuth{Key: sub.Auth.APIKey, Secret: sub.Auth.Secret, Passphrase: sub.Auth.Passphrase}
		}
		f.Subscriptions = append(f.Subscriptions, ls)
	}
	return f
}

func (liveCodec) unsubscribe(keys []string) any {
	f := liveFrame{Action: "unsubscribe"}
	for _, k := range keys {
		f.Subscriptions = append(f.Subscriptions, liveSubscription{LiveTopic: liveTopicFromKey(k)})
	}
	return f
}

func (liveCodec) decode(data []byte) ([]Event, error) {
	return decodeEach(data, func(raw json.RawMessage) (Event, error) {
		m := &LiveMessage{}
		if err := json.Unmarshal(raw, m); err != nil {
			return Event{}, fmt.Errorf("couldn't parse live data message: %w", err)
		}
		return Event{Family: LiveData, Type: m.Type, Topic: m.Topic, Live: m, Raw: raw}, nil
	})
}

// decodeEach decodes a message that may be a single object or an array of objects.
// decodeEach decodes a single message or an array of them. The events that
// decoded are returned along with the errors of those that didn't.
func decodeEach(data []byte, fn func(json.RawMessage) (Event, error)) ([]Event, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, nil
	}

	if data[0] != '[' {
		ev, err := fn(json.RawMessage(data))
		if err != nil {
			return nil, err
		}
		return []Event{ev}, nil
	}

	var items []json.RawMessage
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("couldn't parse message array: %w", err)
	}
	// A bad element is skipped so the rest of the frame is still delivered.
	events := make([]Event, 0, len(items))
	var errs []error
	for i, item := range items {
		ev, err := fn(item)
		if err != nil {
			errs = append(errs, fmt.Errorf("element %d: %w", i, err))
			continue
		}
		events = append(events, ev)
	}
	return events, errors.Join(errs...)
}
