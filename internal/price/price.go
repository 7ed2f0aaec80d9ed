// Package price handles price values from prediction market APIs
// without losing precision.
//
// Prices, sizes and amounts are fixed-point integers at PriceScale, which is
// also the base unit of both the collateral token and outcome shares, so a
// value of this package can be put on the wire as a base-unit amount as is.
package price

import (
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"
)

type Price int64

// Size is a share (or collateral) quantity at PriceScale.
type Size int64

var (
	_ json.Unmarshaler = (*Price)(nil)
	_ json.Unmarshaler = (*Size)(nil)
	_ json.Marshaler   = Price(0)
	_ json.Marshaler   = Size(0)
)

const (
	PriceScale int64 = 1_000_000
	// ScaleDecimals is the number of decimal places held by PriceScale.
	ScaleDecimals = 6
)

// One is the price of a share that pays out with certainty.
const One = Price(PriceScale)

func (p *Price) UnmarshalJSON(data []byte) error {
	v, err := parseFixed(data)
	if err != nil {
		return err
	}
	*p = Price(v)
	return nil
}

func (s *Size) UnmarshalJSON(data []byte) error {
	v, err := parseFixed(data)
	if err != nil {
		return err
	}
	*s = Size(v)
	return nil
}

func (p Price) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.String())
}

func (s Size) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func parseFixed(data []byte) (int64, error) {
	if len(data) >= 2 && data[0] == '"' && data[len(data)-1] == '"' {
		data = data[1 : len(data)-1]
	}
	// Else we assume that it is a raw number.

	var res int64
	i := 0

	for i < len(data) && data[i] != '.' {
		if data[i] < '0' || data[i] > '9' {
			return 0, fmt.Errorf("invalid digit %q in %q", data[i], data)
		}
		res = res*10 + int64(data[i]-'0')*PriceScale
		i++
	}

	if i < len(data) && data[i] == '.' {
		i++
		mult := PriceScale
		for i < len(data) {
			if data[i] < '0' || data[i] > '9' {
				return 0, fmt.Errorf("invalid digit %q in %q", data[i], data)
			}
			mult /= 10
			res += int64(data[i]-'0') * mult
			i++
		}
	}

	return res, nil
}

// Parse reads a decimal string such as "0.55". Digits beyond PriceScale are truncated.
func Parse(s string) (Price, error) {
	v, err := parseDecimal(s)
	return Price(v), err
}

// ParseSize reads a decimal string such as "12.5". Digits beyond PriceScale are truncated.
func ParseSize(s string) (Size, error) {
	v, err := parseDecimal(s)
	return Size(v), err
}

func parseDecimal(s string) (int64, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("couldn't parse decimal %q: %w", s, err)
	}
	return d.Shift(ScaleDecimals).Truncate(0).IntPart(), nil
}

// FromDecimal converts d to a Price, truncating beyond PriceScale.
func FromDecimal(d decimal.Decimal) Price {
	return Price(d.Shift(ScaleDecimals).Truncate(0).IntPart())
}

func (p Price) Decimal() decimal.Decimal {
	return decimal.New(int64(p), -ScaleDecimals)
}

func (p Price) String() string {
	return p.Decimal().String()
}

func (s Size) Decimal() decimal.Decimal {
	return decimal.New(int64(s), -ScaleDecimals)
}

func (s Size) String() string {
	return s.Decimal().String()
}

// IsMultipleOf reports whether p lies exactly on the tick grid.
func (p Price) IsMultipleOf(tick Price) bool {
	if tick <= 0 {
		return false
	}
	return p%tick == 0
}

// Decimals returns how many decimal places a tick size carries (0.01 -> 2).
func Decimals(tick Price) int {
	if tick <= 0 {
		return ScaleDecimals
	}
	d := ScaleDecimals
	for v := int64(tick); v%10 == 0 && d > 0; v /= 10 {
		d--
	}
	return d
}

// Truncate drops every digit of v beyond the given number of decimal places.
func Truncate(v int64, decimals int) int64 {
	if decimals >= ScaleDecimals {
		return v
	}
	if decimals < 0 {
		decimals = 0
	}
	unit := int64(1)
	for i := decimals; i < ScaleDecimals; i++ {
		unit *= 10
	}
	return v - v%unit
}

// Notional returns p*s in base units, truncated toward zero.
func Notional(p Price, s Size) int64 {
	n := new(big.Int).Mul(big.NewInt(int64(p)), big.NewInt(int64(s)))
	return n.Quo(n, big.NewInt(PriceScale)).Int64()
}

// SharesFor returns how many base-unit shares amount buys at p, truncated toward zero.
func SharesFor(amount int64, p Price) Size {
	if p <= 0 {
		return 0
	}
	n := new(big.Int).Mul(big.NewInt(amount), big.NewInt(PriceScale))
	return Size(n.Quo(n, big.NewInt(int64(p))).Int64())
}
