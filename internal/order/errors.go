package order

import "errors"

// Validation errors. The intent is wrong for the current market and is never retried.
var (
	ErrInvalidPrice      = errors.New("invalid price")
	ErrInvalidTickSize   = errors.New("invalid tick size")
	ErrInvalidFeeRate    = errors.New("invalid fee rate")
	ErrInvalidSize       = errors.New("invalid size")
	ErrInvalidExpiration = errors.New("invalid expiration")
	ErrInvalidSide       = errors.New("invalid side")
	ErrInvalidOrderType  = errors.New("invalid order type")
	ErrInvalidTokenID    = errors.New("invalid token id")
)

// Market state errors. The caller may retry once the book changed.
var (
	ErrLiquidity        = errors.New("not enough liquidity")
	ErrMissingOrderbook = errors.New("missing order book")
)

// Retryable reports whether err comes from market state rather than the intent.
func Retryable(err error) bool {
	return errors.Is(err, ErrLiquidity) || errors.Is(err, ErrMissingOrderbook)
}
