package models

import "errors"

// Error taxonomy surfaced by the core. Ledger-level faults are translated into
// these at the reservation/state-machine boundary; raw store errors never reach
// order-submission callers.
var (
	// ErrInsufficientStock is user-facing and recoverable: retry with a smaller
	// quantity or a different item.
	ErrInsufficientStock = errors.New("insufficient stock")

	// ErrInvalidCoupon covers expired coupons, exhausted usage limits, and
	// unmet minimum-purchase requirements.
	ErrInvalidCoupon = errors.New("invalid coupon")

	// ErrVersionConflict is internal: a compare-and-swap lost the race. Retried
	// transparently up to a bound before being escalated.
	ErrVersionConflict = errors.New("version conflict")

	ErrPaymentDeclined = errors.New("payment declined")

	// ErrPaymentTimeout is treated identically to a decline by the state
	// machine; use IsPaymentFailure to match both.
	ErrPaymentTimeout = errors.New("payment timeout")

	// ErrLedgerUnavailable is an infrastructure fault. No partial state is
	// committed; the reservation TTL will eventually release any hold.
	ErrLedgerUnavailable = errors.New("ledger unavailable")

	ErrProductNotFound     = errors.New("product not found")
	ErrOrderNotFound       = errors.New("order not found")
	ErrAlreadyTerminal     = errors.New("order already terminal")
	ErrReservationNotFound = errors.New("reservation not found")
	ErrCouponNotFound      = errors.New("coupon not found")
)

// IsPaymentFailure reports whether err is a decline or a timeout; the state
// machine handles both the same way.
func IsPaymentFailure(err error) bool {
	return errors.Is(err, ErrPaymentDeclined) || errors.Is(err, ErrPaymentTimeout)
}
