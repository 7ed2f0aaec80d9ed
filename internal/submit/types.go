package submit

import (
	"errors"
	"strings"

	"github.com/daszybak/polytrader/internal/order"
	"github.com/daszybak/polytrader/internal/price"
)

var (
	// ErrOrderNotFound is returned when the exchange doesn't know an order.
	ErrOrderNotFound = errors.New("order not found")
	// ErrCancelRefused is returned when the exchange declines to cancel a known order.
	ErrCancelRefused = errors.New("cancel refused")
	// ErrOutcomeUnknown means the order may or may not rest on the exchange.
	ErrOutcomeUnknown = errors.New("submission outcome unknown")
)

type Status string

const (
	StatusLive      Status = "LIVE"
	StatusMatched   Status = "MATCHED"
	StatusCancelled Status = "CANCELLED"
	StatusExpired   Status = "EXPIRED"
)

// ParseStatus maps the exchange status strings onto Status.
func ParseStatus(s string) (Status, bool) {
	switch v := strings.ToLower(s); {
	case v == "live", v == "delayed", v == "unmatched", v == "order_status_live":
		return StatusLive, true
	case v == "matched", v == "order_status_matched":
		return StatusMatched, true
	case strings.HasPrefix(v, "cancel"), strings.HasPrefix(v, "order_status_cancel"):
		return StatusCancelled, true
	case strings.Contains(v, "expired"):
		return StatusExpired, true
	default:
		return "", false
	}
}

// OrderRecord mirrors what the exchange knows about an order.
type OrderRecord struct {
	OrderID      string
	Status       Status
	Order        order.SignedOrder
	SizeMatched  price.Size
	MakingAmount string
	TakingAmount string
	// TransactionHashes are set when the order matched on arrival.
	TransactionHashes []string
}

type RejectCode string

const (
	RejectInsufficientBalance RejectCode = "INSUFFICIENT_BALANCE"
	RejectInvalidSignature    RejectCode = "INVALID_SIGNATURE"
	RejectInvalidNonce        RejectCode = "INVALID_NONCE"
	RejectInvalidTickSize     RejectCode = "INVALID_TICK_SIZE"
	RejectMinSize             RejectCode = "MIN_SIZE"
	RejectInvalidExpiration   RejectCode = "INVALID_EXPIRATION"
	RejectDuplicated          RejectCode = "DUPLICATED"
	RejectNotFilled           RejectCode = "NOT_FILLED"
	RejectMarketNotReady      RejectCode = "MARKET_NOT_READY"
	RejectUnknown             RejectCode = "UNKNOWN"
)

// Rejection is an expected business outcome, not an error.
type Rejection struct {
	Code      RejectCode
	Message   string
	OrderHash string
}

var rejectPatterns = []struct {
	needle string
	code   RejectCode
}{
	{"not_enough_balance", RejectInsufficientBalance},
	{"not enough balance", RejectInsufficientBalance},
	{"allowance", RejectInsufficientBalance},
	{"signature", RejectInvalidSignature},
	{"nonce", RejectInvalidNonce},
	{"tick_size", RejectInvalidTickSize},
	{"tick size", RejectInvalidTickSize},
	{"min_size", RejectMinSize},
	{"minimum", RejectMinSize},
	{"expiration", RejectInvalidExpiration},
	{"duplicated", RejectDuplicated},
	{"fok_order_not_filled", RejectNotFilled},
	{"fully filled or killed", RejectNotFilled},
	{"no orders found to match", RejectNotFilled},
	{"market_not_ready", RejectMarketNotReady},
	{"not ready", RejectMarketNotReady},
}

// ClassifyRejection maps an exchange error message onto a RejectCode.
func ClassifyRejection(msg string) RejectCode {
	m := strings.ToLower(msg)
	for _, p := range rejectPatterns {
		if strings.Contains(m, p.needle) {
			return p.code
		}
	}
	return RejectUnknown
}

// Result is the outcome of one submitted order: exactly one field is set.
type Result struct {
	Record    *OrderRecord
	Rejection *Rejection
	// Err is set when the outcome could not be established.
	Err error
}

// Accepted reports whether the exchange took the order.
func (r Result) Accepted() bool {
	return r.Record != nil
}

// Ack lists the orders a cancel request removed.
type Ack struct {
	Canceled    []string
	NotCanceled map[string]string
}

// CancelResult is the outcome of cancelling one order of a CancelMany call.
type CancelResult struct {
	OrderID string
	Err     error
}
