package order

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/daszybak/polytrader/internal/engine/orderbook"
	"github.com/daszybak/polytrader/internal/metadata"
	"github.com/daszybak/polytrader/internal/price"
)

const testToken = "71321045679252212594626385532706912750332728571942532289631379312455583992563"

var (
	testSigner = common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266")
	testFunder = common.HexToAddress("0x70997970C51812dc3A010C7d01b50e0d17dc79C8")
)

type fakeMetadata map[string]metadata.TokenMetadata

func (f fakeMetadata) Get(_ context.Context, tokenID string) (metadata.TokenMetadata, error) {
	md, ok := f[tokenID]
	if !ok {
		return metadata.TokenMetadata{}, fmt.Errorf("token %s: %w", tokenID, metadata.ErrMetadataUnavailable)
	}
	return md, nil
}

type fakeBooks map[string]orderbook.Book

func (f fakeBooks) Book(_ context.Context, tokenID string) (orderbook.Book, error) {
	b, ok := f[tokenID]
	if !ok {
		return orderbook.Book{}, orderbook.ErrBookNotFound
	}
	return b, nil
}

type fixedClock time.Time

func (c fixedClock) Now() time.Time { return time.Time(c) }

func p(s string) price.Price {
	v, err := price.Parse(s)
	if err != nil {
		panic(err)
	}
	return v
}

func sz(s string) price.Size {
	v, err := price.ParseSize(s)
	if err != nil {
		panic(err)
	}
	return v
}

func intPtr(v int) *int { return &v }

func testBuilder(t *testing.T, tick string, fee int, books fakeBooks, cfg BuilderConfig) *Builder {
	t.Helper()
	meta := fakeMetadata{testToken: {TokenID: testToken, TickSize: p(tick), FeeRateBps: fee}}
	if cfg.Signer == (common.Address{}) {
		cfg.Signer = testSigner
	}
	b, err := NewBuilder(cfg, meta, books, slog.New(slog.NewTextHandler(io.Discard, nil)),
		WithClock(fixedClock(time.Unix(1_700_000_000, 0))))
	if err != nil {
		t.Fatalf("NewBuilder failed: %v", err)
	}
	return b
}

func TestBuildLimit(t *testing.T) {
	tests := []struct {
		name      string
		tick      string
		side      Side
		price     string
		size      string
		wantMaker int64
		wantTaker int64
		wantSize  price.Size
	}{
		{"buy", "0.01", Buy, "0.55", "10", 5_500_000, 10_000_000, 10_000_000},
		{"sell truncates size", "0.01", Sell, "0.55", "10.555", 10_550_000, 5_802_500, 10_550_000},
		{"buy fine tick", "0.001", Buy, "0.333", "3.33", 1_108_890, 3_330_000, 3_330_000},
		{"buy coarse tick", "0.1", Buy, "0.7", "1.01", 707_000, 1_010_000, 1_010_000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := testBuilder(t, tt.tick, 0, nil, BuilderConfig{})
			o, err := b.Build(context.Background(), Intent{
				TokenID: testToken,
				Side:    tt.side,
				Price:   p(tt.price),
				Size:    sz(tt.size),
			})
			if err != nil {
				t.Fatalf("Build failed: %v", err)
			}
			if o.MakerAmount != tt.wantMaker || o.TakerAmount != tt.wantTaker {
				t.Errorf("amounts = %d/%d, want %d/%d", o.MakerAmount, o.TakerAmount, tt.wantMaker, tt.wantTaker)
			}
			if o.Size != tt.wantSize || o.Price != p(tt.price) {
				t.Errorf("price/size = %s/%s", o.Price, o.Size)
			}
			if o.Type != GTC || o.Expiration != 0 {
				t.Errorf("type/expiration = %s/%d", o.Type, o.Expiration)
			}
			if o.Maker != testSigner || o.Signer != testSigner || o.SignatureType != EOA {
				t.Errorf("maker/signer = %s/%s", o.Maker.Hex(), o.Signer.Hex())
			}
		})
	}
}

func TestBuildLimitNeverOvercommits(t *testing.T) {
	b := testBuilder(t, "0.01", 0, nil, BuilderConfig{})
	one := big.NewInt(price.PriceScale)

	for px := int64(10_000); px < price.PriceScale; px += 70_000 {
		for _, s := range []string{"0.01", "1.37", "12.345", "999.99"} {
			o, err := b.Build(context.Background(), Intent{TokenID: testToken, Side: Buy, Price: price.Price(px), Size: sz(s)})
			if err != nil {
				t.Fatalf("Build(%d, %s) failed: %v", px, s, err)
			}
			if o.MakerAmount <= 0 || o.TakerAmount <= 0 {
				t.Fatalf("non-positive amounts %d/%d", o.MakerAmount, o.TakerAmount)
			}
			// maker * 1e6 <= price * size
			spent := new(big.Int).Mul(big.NewInt(o.MakerAmount), one)
			limit := new(big.Int).Mul(big.NewInt(px), big.NewInt(o.TakerAmount))
			if spent.Cmp(limit) > 0 {
				t.Errorf("price %d size %s: spends %d for %d shares", px, s, o.MakerAmount, o.TakerAmount)
			}
		}
	}
}

func TestBuildValidation(t *testing.T) {
	tests := []struct {
		name    string
		fee     int
		intent  Intent
		wantErr error
	}{
		{"price off tick", 0, Intent{Side: Buy, Price: p("0.551"), Size: sz("10")}, ErrInvalidPrice},
		{"price zero", 0, Intent{Side: Buy, Price: 0, Size: sz("10")}, ErrInvalidPrice},
		{"price one", 0, Intent{Side: Sell, Price: price.One, Size: sz("10")}, ErrInvalidPrice},
		{"price above max", 0, Intent{Side: Buy, Price: p("0.995"), Size: sz("10")}, ErrInvalidPrice},
		{"declared tick mismatch", 0, Intent{Side: Buy, Price: p("0.55"), Size: sz("10"), TickSize: p("0.001")}, ErrInvalidTickSize},
		{"negative fee", 0, Intent{Side: Buy, Price: p("0.55"), Size: sz("10"), FeeRateBps: intPtr(-1)}, ErrInvalidFeeRate},
		{"fee above max", 0, Intent{Side: Buy, Price: p("0.55"), Size: sz("10"), FeeRateBps: intPtr(1001)}, ErrInvalidFeeRate},
		{"fee conflicts with market", 200, Intent{Side: Buy, Price: p("0.55"), Size: sz("10"), FeeRateBps: intPtr(100)}, ErrInvalidFeeRate},
		{"size truncates to zero", 0, Intent{Side: Buy, Price: p("0.55"), Size: sz("0.001")}, ErrInvalidSize},
		{"size and amount", 0, Intent{Side: Buy, Price: p("0.55"), Size: sz("1"), Amount: sz("1")}, ErrInvalidSize},
		{"bad side", 0, Intent{Side: Side(7), Price: p("0.55"), Size: sz("10")}, ErrInvalidSide},
		{"bad type", 0, Intent{Side: Buy, Price: p("0.55"), Size: sz("10"), Type: "IOC"}, ErrInvalidOrderType},
		{"gtc with expiration", 0, Intent{Side: Buy, Price: p("0.55"), Size: sz("10"), ExpiresIn: time.Hour}, ErrInvalidExpiration},
		{"gtd without expiration", 0, Intent{Side: Buy, Price: p("0.55"), Size: sz("10"), Type: GTD}, ErrInvalidExpiration},
		{"gtd too short", 0, Intent{Side: Buy, Price: p("0.55"), Size: sz("10"), Type: GTD, ExpiresIn: 30 * time.Second}, ErrInvalidExpiration},
		{"market gtc", 0, Intent{Side: Buy, Amount: sz("10"), Price: p("0.5"), Type: GTC}, ErrInvalidOrderType},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := testBuilder(t, "0.01", tt.fee, nil, BuilderConfig{})
			tt.intent.TokenID = testToken
			_, err := b.Build(context.Background(), tt.intent)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("got %v, want %v", err, tt.wantErr)
			}
			if Retryable(err) {
				t.Errorf("validation error reported as retryable")
			}
		})
	}
}

func TestBuildRejectsBadTokenID(t *testing.T) {
	b := testBuilder(t, "0.01", 0, nil, BuilderConfig{})
	_, err := b.Build(context.Background(), Intent{TokenID: "abc", Side: Buy, Price: p("0.5"), Size: sz("1")})
	if !errors.Is(err, ErrInvalidTokenID) {
		t.Fatalf("got %v, want ErrInvalidTokenID", err)
	}
}

func TestBuildMetadataUnavailable(t *testing.T) {
	b := testBuilder(t, "0.01", 0, nil, BuilderConfig{})
	_, err := b.Build(context.Background(), Intent{TokenID: "42", Side: Buy, Price: p("0.5"), Size: sz("1")})
	if !errors.Is(err, metadata.ErrMetadataUnavailable) {
		t.Fatalf("got %v, want ErrMetadataUnavailable", err)
	}
}

func TestResolveFee(t *testing.T) {
	tests := []struct {
		name     string
		market   int
		override *int
		want     int
	}{
		{"market fee without override", 200, nil, 200},
		{"matching override", 200, intPtr(200), 200},
		{"zero override keeps market fee", 200, intPtr(0), 200},
		{"override on fee-free market", 0, intPtr(50), 50},
		{"fee-free market", 0, nil, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := testBuilder(t, "0.01", tt.market, nil, BuilderConfig{})
			o, err := b.Build(context.Background(), Intent{
				TokenID:    testToken,
				Side:       Buy,
				Price:      p("0.5"),
				Size:       sz("1"),
				FeeRateBps: tt.override,
			})
			if err != nil {
				t.Fatalf("Build failed: %v", err)
			}
			if o.FeeRateBps != tt.want {
				t.Errorf("fee = %d, want %d", o.FeeRateBps, tt.want)
			}
		})
	}
}

func TestBuildGTDExpiration(t *testing.T) {
	b := testBuilder(t, "0.01", 0, nil, BuilderConfig{})
	o, err := b.Build(context.Background(), Intent{
		TokenID:   testToken,
		Side:      Sell,
		Price:     p("0.4"),
		Size:      sz("5"),
		Type:      GTD,
		ExpiresIn: 2 * time.Hour,
	})
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if o.Expiration != 1_700_007_200 {
		t.Errorf("expiration = %d, want 1700007200", o.Expiration)
	}
}

func TestBuildProxyWallet(t *testing.T) {
	b := testBuilder(t, "0.01", 0, nil, BuilderConfig{SignatureType: PolyGnosisSafe, Funder: testFunder})
	o, err := b.Build(context.Background(), Intent{TokenID: testToken, Side: Buy, Price: p("0.5"), Size: sz("1")})
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if o.Maker != testFunder || o.Signer != testSigner || o.SignatureType != PolyGnosisSafe {
		t.Errorf("maker=%s signer=%s type=%d", o.Maker.Hex(), o.Signer.Hex(), o.SignatureType)
	}
}

func TestNewBuilderRejectsProxyWithoutFunder(t *testing.T) {
	_, err := NewBuilder(BuilderConfig{Signer: testSigner, SignatureType: PolyProxy}, fakeMetadata{}, nil,
		slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err == nil {
		t.Fatal("expected error")
	}
}

func askBook() fakeBooks {
	return fakeBooks{testToken: {
		TokenID: testToken,
		Asks:    []orderbook.Level{{Price: p("0.40"), Size: sz("30")}, {Price: p("0.42"), Size: sz("40")}},
		Bids:    []orderbook.Level{{Price: p("0.39"), Size: sz("10")}, {Price: p("0.38"), Size: sz("10")}},
	}}
}

func TestWalk(t *testing.T) {
	book := askBook()[testToken]

	fill, err := Walk(book.Asks, int64(sz("50")), true)
	if err != nil {
		t.Fatalf("Walk failed: %v", err)
	}
	want := []orderbook.Level{{Price: p("0.40"), Size: sz("30")}, {Price: p("0.42"), Size: sz("20")}}
	if len(fill.Levels) != len(want) {
		t.Fatalf("levels = %+v", fill.Levels)
	}
	for i := range want {
		if fill.Levels[i].Price != want[i].Price || fill.Levels[i].Size != want[i].Size {
			t.Errorf("level %d = %+v, want %+v", i, fill.Levels[i], want[i])
		}
	}
	if fill.WorstPrice != p("0.42") || fill.Shares != sz("50") {
		t.Errorf("worst=%s shares=%s", fill.WorstPrice, fill.Shares)
	}
	// 30*0.40 + 20*0.42
	if fill.Cost != 20_400_000 {
		t.Errorf("cost = %d, want 20400000", fill.Cost)
	}
	if fill.SlippageBps() != 500 {
		t.Errorf("slippage = %d bps, want 500", fill.SlippageBps())
	}

	if _, err := Walk(book.Asks, int64(sz("70")), true); err != nil {
		t.Errorf("exact depth should fill: %v", err)
	}
	if _, err := Walk(book.Asks, int64(sz("70.01")), true); !errors.Is(err, ErrLiquidity) {
		t.Errorf("got %v, want ErrLiquidity", err)
	}
	if _, err := Walk(nil, 1, true); !errors.Is(err, ErrLiquidity) {
		t.Errorf("got %v, want ErrLiquidity for empty side", err)
	}
}

func TestWalkSkipsEmptyLevels(t *testing.T) {
	levels := []orderbook.Level{
		{Price: p("0.30"), Size: 0},
		{Price: p("0.40"), Size: sz("30")},
		{Price: p("0.42"), Size: sz("40")},
	}

	fill, err := Walk(levels, int64(sz("10")), true)
	if err != nil {
		t.Fatalf("Walk failed: %v", err)
	}
	if fill.BestPrice != p("0.40") || fill.WorstPrice != p("0.40") {
		t.Errorf("best=%s worst=%s, want both 0.40", fill.BestPrice, fill.WorstPrice)
	}
	if fill.SlippageBps() != 0 {
		t.Errorf("slippage = %d bps, want 0", fill.SlippageBps())
	}
}

func TestBuildMarket(t *testing.T) {
	tests := []struct {
		name      string
		intent    Intent
		wantPrice price.Price
		wantMaker int64
		wantTaker int64
	}{
		{
			name:      "buy shares walks two levels",
			intent:    Intent{Side: Buy, Amount: sz("50"), AmountInShares: true},
			wantPrice: p("0.42"),
			wantMaker: 21_000_000,
			wantTaker: 50_000_000,
		},
		{
			name:      "buy collateral",
			intent:    Intent{Side: Buy, Amount: sz("21")},
			wantPrice: p("0.42"),
			wantMaker: 21_000_000,
			wantTaker: 50_000_000,
		},
		{
			name:      "buy collateral within first level",
			intent:    Intent{Side: Buy, Amount: sz("10")},
			wantPrice: p("0.40"),
			wantMaker: 10_000_000,
			wantTaker: 25_000_000,
		},
		{
			name:      "sell walks bids",
			intent:    Intent{Side: Sell, Amount: sz("15")},
			wantPrice: p("0.38"),
			wantMaker: 15_000_000,
			wantTaker: 5_700_000,
		},
		{
			name:      "explicit price skips walk",
			intent:    Intent{Side: Buy, Amount: sz("500"), AmountInShares: true, Price: p("0.45"), Type: FAK},
			wantPrice: p("0.45"),
			wantMaker: 225_000_000,
			wantTaker: 500_000_000,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := testBuilder(t, "0.01", 0, askBook(), BuilderConfig{})
			tt.intent.TokenID = testToken
			o, err := b.Build(context.Background(), tt.intent)
			if err != nil {
				t.Fatalf("Build failed: %v", err)
			}
			if o.Price != tt.wantPrice {
				t.Errorf("price = %s, want %s", o.Price, tt.wantPrice)
			}
			if o.MakerAmount != tt.wantMaker || o.TakerAmount != tt.wantTaker {
				t.Errorf("amounts = %d/%d, want %d/%d", o.MakerAmount, o.TakerAmount, tt.wantMaker, tt.wantTaker)
			}
			if o.Type != FOK && o.Type != FAK {
				t.Errorf("type = %s", o.Type)
			}
		})
	}
}

func TestBuildMarketErrors(t *testing.T) {
	tests := []struct {
		name    string
		books   fakeBooks
		cfg     BuilderConfig
		intent  Intent
		wantErr error
	}{
		{"not enough depth", askBook(), BuilderConfig{}, Intent{Side: Buy, Amount: sz("80"), AmountInShares: true}, ErrLiquidity},
		{"no book", fakeBooks{}, BuilderConfig{}, Intent{Side: Buy, Amount: sz("10")}, ErrMissingOrderbook},
		{"no book source", nil, BuilderConfig{}, Intent{Side: Buy, Amount: sz("10")}, ErrMissingOrderbook},
		{"slippage bound", askBook(), BuilderConfig{MaxSlippageBps: 300}, Intent{Side: Buy, Amount: sz("50"), AmountInShares: true}, ErrLiquidity},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := testBuilder(t, "0.01", 0, tt.books, tt.cfg)
			tt.intent.TokenID = testToken
			_, err := b.Build(context.Background(), tt.intent)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("got %v, want %v", err, tt.wantErr)
			}
			if !Retryable(err) {
				t.Errorf("expected retryable error")
			}
		})
	}

	t.Run("book not found is kept in chain", func(t *testing.T) {
		b := testBuilder(t, "0.01", 0, fakeBooks{}, BuilderConfig{})
		_, err := b.Build(context.Background(), Intent{TokenID: testToken, Side: Buy, Amount: sz("10")})
		if !errors.Is(err, orderbook.ErrBookNotFound) {
			t.Errorf("got %v, want ErrBookNotFound in chain", err)
		}
	})
}

func TestParseSideAndType(t *testing.T) {
	if s, err := ParseSide("sell"); err != nil || s != Sell {
		t.Errorf("ParseSide(sell) = %v, %v", s, err)
	}
	if _, err := ParseSide("hold"); !errors.Is(err, ErrInvalidSide) {
		t.Errorf("ParseSide(hold) error = %v", err)
	}
	if typ, err := ParseType("gtd"); err != nil || typ != GTD {
		t.Errorf("ParseType(gtd) = %v, %v", typ, err)
	}
}
