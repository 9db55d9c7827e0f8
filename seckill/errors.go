package seckill

import "errors"

// Rejection reasons. These are admission decisions, not failures; each maps
// to a stable response code via Code. Anything Purchase returns that is not
// one of these is an internal failure and maps to CodeUnavailable.
var (
	ErrUnknownVoucher   = errors.New("seckill: unknown voucher")
	ErrNotStarted       = errors.New("seckill: sale not started")
	ErrEnded            = errors.New("seckill: sale ended")
	ErrStockExhausted   = errors.New("seckill: stock exhausted")
	ErrAlreadyPurchased = errors.New("seckill: already purchased")
	ErrOrderInFlight    = errors.New("seckill: order already in flight")
)

// Stable response codes. Business rejections are distinct from the generic
// retryable code so clients can tell "no" from "try again".
const (
	CodeAccepted         = "ACCEPTED"
	CodeUnknownVoucher   = "UNKNOWN_VOUCHER"
	CodeNotStarted       = "NOT_STARTED"
	CodeEnded            = "ENDED"
	CodeStockExhausted   = "STOCK_EXHAUSTED"
	CodeAlreadyPurchased = "ALREADY_PURCHASED"
	CodeOrderInFlight    = "ORDER_IN_FLIGHT"
	CodeUnavailable      = "UNAVAILABLE"
)

// Code maps a Purchase result to its response code.
func Code(err error) string {
	switch {
	case err == nil:
		return CodeAccepted
	case errors.Is(err, ErrUnknownVoucher):
		return CodeUnknownVoucher
	case errors.Is(err, ErrNotStarted):
		return CodeNotStarted
	case errors.Is(err, ErrEnded):
		return CodeEnded
	case errors.Is(err, ErrStockExhausted):
		return CodeStockExhausted
	case errors.Is(err, ErrAlreadyPurchased):
		return CodeAlreadyPurchased
	case errors.Is(err, ErrOrderInFlight):
		return CodeOrderInFlight
	default:
		return CodeUnavailable
	}
}
