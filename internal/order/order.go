// Package order turns trading intents into unsigned exchange orders.
package order

import (
	"encoding/json"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/daszybak/polytrader/internal/price"
)

type Side uint8

const (
	Buy Side = iota
	Sell
)

func (s Side) String() string {
	switch s {
	case Buy:
		return "BUY"
	case Sell:
		return "SELL"
	default:
		return fmt.Sprintf("Side(%d)", uint8(s))
	}
}

func (s Side) Valid() bool {
	return s == Buy || s == Sell
}

func ParseSide(s string) (Side, error) {
	switch strings.ToUpper(s) {
	case "BUY":
		return Buy, nil
	case "SELL":
		return Sell, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrInvalidSide, s)
	}
}

func (s Side) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *Side) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	v, err := ParseSide(raw)
	if err != nil {
		return err
	}
	*s = v
	return nil
}

type Type string

const (
	// GTC rests on the book until cancelled.
	GTC Type = "GTC"
	// GTD rests on the book until its expiration.
	GTD Type = "GTD"
	// FOK fills completely on arrival or is cancelled.
	FOK Type = "FOK"
	// FAK fills what it can on arrival and cancels the rest.
	FAK Type = "FAK"
)

func ParseType(s string) (Type, error) {
	switch t := Type(strings.ToUpper(s)); t {
	case GTC, GTD, FOK, FAK:
		return t, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidOrderType, s)
	}
}

// SignatureType tells the exchange how the maker address relates to the signer.
type SignatureType uint8

const (
	// EOA orders are signed by the maker itself.
	EOA SignatureType = iota
	// PolyProxy orders are signed for a Polymarket proxy wallet.
	PolyProxy
	// PolyGnosisSafe orders are signed for a Gnosis Safe wallet.
	PolyGnosisSafe
)

func (t SignatureType) Valid() bool {
	return t <= PolyGnosisSafe
}

// Intent is what the caller wants to trade.
//
// A limit intent sets Price and Size. A market intent sets Amount and may set
// Price to skip the book walk; Amount is collateral for BUY unless
// AmountInShares is set, and always shares for SELL.
type Intent struct {
	TokenID string
	Side    Side
	Type    Type

	Price price.Price
	Size  price.Size

	Amount         price.Size
	AmountInShares bool

	// ExpiresIn is only allowed for GTD orders.
	ExpiresIn time.Duration
	// TickSize, when set, must match the market's tick size.
	TickSize price.Price
	// FeeRateBps overrides the market fee rate when the market charges none.
	FeeRateBps *int
	Nonce      uint64
	// Taker restricts who can fill the order. Zero means anyone.
	Taker common.Address
}

// IsMarket reports whether the intent describes a market order.
func (i Intent) IsMarket() bool {
	return i.Amount != 0
}

// UnsignedOrder holds every field covered by the order signature, plus a few
// fields the exchange needs alongside it.
type UnsignedOrder struct {
	Salt          int64
	Maker         common.Address
	Signer        common.Address
	Taker         common.Address
	TokenID       string
	MakerAmount   int64
	TakerAmount   int64
	Expiration    int64
	Nonce         uint64
	FeeRateBps    int
	Side          Side
	SignatureType SignatureType

	// Not signed.
	NegRisk bool
	Type    Type
	Price   price.Price
	Size    price.Size
}

// TokenIDInt parses the decimal token id.
func (o UnsignedOrder) TokenIDInt() (*big.Int, error) {
	return parseTokenID(o.TokenID)
}

// SignedOrder is an UnsignedOrder with its signature.
type SignedOrder struct {
	UnsignedOrder
	Signature []byte
	Hash      common.Hash
}

// ID returns the order hash as the exchange reports it.
func (o SignedOrder) ID() string {
	return o.Hash.Hex()
}

// SignatureHex returns the 0x-prefixed signature.
func (o SignedOrder) SignatureHex() string {
	return "0x" + common.Bytes2Hex(o.Signature)
}

func parseTokenID(s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok || v.Sign() <= 0 || v.BitLen() > 256 {
		return nil, fmt.Errorf("%w: %q", ErrInvalidTokenID, s)
	}
	return v, nil
}
