package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/daszybak/polytrader/internal/order"
	"github.com/daszybak/polytrader/internal/polymarket/websocket"
	"github.com/daszybak/polytrader/internal/price"
	"github.com/daszybak/polytrader/internal/submit"
)

type command func(ctx context.Context, a *app, args []string) error

var commands = map[string]command{
	"order":        placeOrder,
	"market-order": placeMarketOrder,
	"batch":        placeBatch,
	"cancel":       cancelOrders,
	"cancel-all":   cancelAll,
	"status":       orderStatus,
	"stream":       stream,
	"derive-key":   deriveKey,
}

// intentFlags are the flags shared by order and market-order.
type intentFlags struct {
	token   *string
	side    *string
	typ     *string
	tick    *string
	feeRate *int
	nonce   *uint64
	taker   *string
}

func addIntentFlags(fs *flag.FlagSet, defaultType order.Type) intentFlags {
	return intentFlags{
		token:   fs.String("token", "", "token id"),
		side:    fs.String("side", "BUY", "BUY or SELL"),
		typ:     fs.String("type", string(defaultType), "GTC, GTD, FOK or FAK"),
		tick:    fs.String("tick-size", "", "expected tick size, rejected when the market differs"),
		feeRate: fs.Int("fee-rate", -1, "fee rate in bps, used when the market charges none"),
		nonce:   fs.Uint64("nonce", 0, "exchange nonce"),
		taker:   fs.String("taker", "", "restrict fills to this address"),
	}
}

func (f intentFlags) intent() (order.Intent, error) {
	if *f.token == "" {
		return order.Intent{}, errors.New("-token is required")
	}
	side, err := order.ParseSide(*f.side)
	if err != nil {
		return order.Intent{}, err
	}
	typ, err := order.ParseType(*f.typ)
	if err != nil {
		return order.Intent{}, err
	}

	intent := order.Intent{
		TokenID: *f.token,
		Side:    side,
		Type:    typ,
		Nonce:   *f.nonce,
	}
	if *f.tick != "" {
		if intent.TickSize, err = price.Parse(*f.tick); err != nil {
			return order.Intent{}, err
		}
	}
	if *f.feeRate >= 0 {
		fee := *f.feeRate
		intent.FeeRateBps = &fee
	}
	if *f.taker != "" {
		if !common.IsHexAddress(*f.taker) {
			return order.Intent{}, fmt.Errorf("-taker is not an address: %q", *f.taker)
		}
		intent.Taker = common.HexToAddress(*f.taker)
	}
	return intent, nil
}

func placeOrder(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("order", flag.ExitOnError)
	f := addIntentFlags(fs, order.GTC)
	priceStr := fs.String("price", "", "limit price, e.g. 0.55")
	sizeStr := fs.String("size", "", "size in shares, e.g. 10")
	expiresIn := fs.Duration("expires-in", 0, "lifetime of a GTD order")
	fs.Parse(args)

	intent, err := f.intent()
	if err != nil {
		return err
	}
	if intent.Price, err = price.Parse(*priceStr); err != nil {
		return fmt.Errorf("-price: %w", err)
	}
	if intent.Size, err = price.ParseSize(*sizeStr); err != nil {
		return fmt.Errorf("-size: %w", err)
	}
	intent.ExpiresIn = *expiresIn

	return a.place(ctx, intent)
}

func placeMarketOrder(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("market-order", flag.ExitOnError)
	f := addIntentFlags(fs, order.FOK)
	amountStr := fs.String("amount", "", "collateral to spend for BUY, shares to sell for SELL")
	inShares := fs.Bool("shares", false, "BUY amount is in shares")
	priceStr := fs.String("price", "", "worst price, skips the book walk")
	fs.Parse(args)

	intent, err := f.intent()
	if err != nil {
		return err
	}
	if intent.Amount, err = price.ParseSize(*amountStr); err != nil {
		return fmt.Errorf("-amount: %w", err)
	}
	intent.AmountInShares = *inShares
	if *priceStr != "" {
		if intent.Price, err = price.Parse(*priceStr); err != nil {
			return fmt.Errorf("-price: %w", err)
		}
	}

	return a.place(ctx, intent)
}

func (a *app) place(ctx context.Context, intent order.Intent) error {
	signed, err := a.buildAndSign(ctx, intent)
	if err != nil {
		return err
	}
	res, err := a.coordinator.Submit(ctx, signed)
	if err != nil {
		return err
	}
	return printJSON(resultView(signed, res))
}

func (a *app) buildAndSign(ctx context.Context, intent order.Intent) (order.SignedOrder, error) {
	if err := a.trading(ctx); err != nil {
		return order.SignedOrder{}, err
	}
	unsigned, err := a.builder.Build(ctx, intent)
	if err != nil {
		return order.SignedOrder{}, err
	}
	return a.signer.Sign(unsigned)
}

// batchEntry is one order of a batch file.
type batchEntry struct {
	TokenID   string      `json:"token_id"`
	Side      order.Side  `json:"side"`
	Type      string      `json:"type"`
	Price     price.Price `json:"price"`
	Size      price.Size  `json:"size"`
	ExpiresIn string      `json:"expires_in"`
}

func (e batchEntry) intent() (order.Intent, error) {
	typ := order.GTC
	if e.Type != "" {
		t, err := order.ParseType(e.Type)
		if err != nil {
			return order.Intent{}, err
		}
		typ = t
	}
	intent := order.Intent{TokenID: e.TokenID, Side: e.Side, Type: typ, Price: e.Price, Size: e.Size}
	if e.ExpiresIn != "" {
		d, err := time.ParseDuration(e.ExpiresIn)
		if err != nil {
			return order.Intent{}, fmt.Errorf("couldn't parse expires_in: %w", err)
		}
		intent.ExpiresIn = d
	}
	return intent, nil
}

func placeBatch(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("batch", flag.ExitOnError)
	file := fs.String("file", "", "JSON array of {token_id, side, type, price, size, expires_in}")
	fs.Parse(args)

	if *file == "" {
		return errors.New("-file is required")
	}
	raw, err := os.ReadFile(*file)
	if err != nil {
		return fmt.Errorf("couldn't read file %s: %w", *file, err)
	}
	var entries []batchEntry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return fmt.Errorf("couldn't parse batch: %w", err)
	}

	signed := make([]order.SignedOrder, 0, len(entries))
	for i, e := range entries {
		intent, err := e.intent()
		if err != nil {
			return fmt.Errorf("order %d: %w", i, err)
		}
		o, err := a.buildAndSign(ctx, intent)
		if err != nil {
			return fmt.Errorf("order %d: %w", i, err)
		}
		signed = append(signed, o)
	}

	results, err := a.coordinator.SubmitBatch(ctx, signed)
	views := make([]map[string]any, len(results))
	for i, r := range results {
		views[i] = resultView(signed[i], r)
	}
	if perr := printJSON(views); perr != nil {
		return perr
	}
	return err
}

func cancelOrders(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("cancel", flag.ExitOnError)
	fs.Usage = func() { fmt.Fprintln(fs.Output(), "usage: trader cancel <order id>...") }
	fs.Parse(args)

	ids := fs.Args()
	if len(ids) == 0 {
		fs.Usage()
		return errors.New("no order ids")
	}
	if err := a.trading(ctx); err != nil {
		return err
	}

	if len(ids) == 1 {
		ack, err := a.coordinator.Cancel(ctx, ids[0])
		if err != nil {
			return err
		}
		return printJSON(ack)
	}

	results, err := a.coordinator.CancelMany(ctx, ids)
	if err != nil {
		return err
	}
	views := make([]map[string]any, len(results))
	for i, r := range results {
		views[i] = map[string]any{"order_id": r.OrderID, "canceled": r.Err == nil}
		if r.Err != nil {
			views[i]["error"] = r.Err.Error()
		}
	}
	return printJSON(views)
}

func cancelAll(ctx context.Context, a *app, _ []string) error {
	if err := a.trading(ctx); err != nil {
		return err
	}
	ack, err := a.coordinator.CancelAll(ctx)
	if err != nil {
		return err
	}
	return printJSON(ack)
}

func orderStatus(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	fs.Parse(args)
	if fs.NArg() != 1 {
		return errors.New("usage: trader status <order id>")
	}
	if err := a.trading(ctx); err != nil {
		return err
	}
	rec, err := a.coordinator.Status(ctx, fs.Arg(0))
	if err != nil {
		return err
	}
	return printJSON(recordView(rec))
}

func stream(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("stream", flag.ExitOnError)
	family := fs.String("family", "market", "market, user or live_data")
	assets := fs.String("assets", "", "comma separated token ids")
	markets := fs.String("markets", "", "comma separated condition ids")
	topics := fs.String("topics", "", "comma separated topic:type[:filters] entries")
	custom := fs.Bool("custom-features", false, "request best_bid_ask, new_market and market_resolved events")
	fs.Parse(args)

	sub := websocket.Subscription{
		Family:         websocket.Family(*family),
		AssetIDs:       splitList(*assets),
		Markets:        splitList(*markets),
		CustomFeatures: *custom,
	}
	for _, t := range splitList(*topics) {
		topic, err := parseTopic(t)
		if err != nil {
			return err
		}
		sub.Topics = append(sub.Topics, topic)
	}
	if needsAuth(sub) {
		creds, err := a.authenticate(ctx)
		if err != nil {
			return err
		}
		sub.Auth = &websocket.Auth{APIKey: creds.APIKey, Secret: creds.Secret, Passphrase: creds.Passphrase}
	}

	mux := a.multiplexer()
	defer mux.Close()

	s, err := mux.Subscribe(ctx, sub)
	if err != nil {
		return err
	}
	defer s.Close()

	for ev := range s.C {
		fmt.Fprintf(os.Stdout, "%s\n", ev.Raw)
	}
	if dropped := s.Dropped(); dropped > 0 {
		a.logger.Warn("stream dropped events", "dropped", dropped)
	}
	return s.Err()
}

func needsAuth(sub websocket.Subscription) bool {
	if sub.Family == websocket.User {
		return true
	}
	for _, t := range sub.Topics {
		if t.Topic == websocket.ClobUserTopic {
			return true
		}
	}
	return false
}

func parseTopic(s string) (websocket.LiveTopic, error) {
	parts := strings.SplitN(s, ":", 3)
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return websocket.LiveTopic{}, fmt.Errorf("topic %q is not topic:type[:filters]", s)
	}
	t := websocket.LiveTopic{Topic: parts[0], Type: parts[1]}
	if len(parts) == 3 {
		t.Filters = parts[2]
	}
	return t, nil
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func deriveKey(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("derive-key", flag.ExitOnError)
	nonce := fs.Uint64("nonce", a.cfg.API.Nonce, "key nonce")
	fs.Parse(args)

	creds, err := a.clob.CreateOrDeriveAPIKey(ctx, *nonce)
	if err != nil {
		return err
	}
	return printJSON(creds)
}

func resultView(o order.SignedOrder, r submit.Result) map[string]any {
	v := map[string]any{"order_hash": o.ID()}
	switch {
	case r.Record != nil:
		v["accepted"] = true
		v["record"] = recordView(*r.Record)
	case r.Rejection != nil:
		v["accepted"] = false
		v["code"] = r.Rejection.Code
		v["message"] = r.Rejection.Message
	case r.Err != nil:
		v["error"] = r.Err.Error()
	}
	return v
}

func recordView(r submit.OrderRecord) map[string]any {
	return map[string]any{
		"order_id":      r.OrderID,
		"status":        r.Status,
		"token_id":      r.Order.TokenID,
		"side":          r.Order.Side,
		"price":         r.Order.Price,
		"size":          r.Order.Size,
		"size_matched":  r.SizeMatched,
		"making_amount": r.MakingAmount,
		"taking_amount": r.TakingAmount,
		"tx_hashes":     r.TransactionHashes,
	}
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
