// Package pricing computes order totals. It is deterministic and
// side-effect-free: no I/O, no shared state, no clock reads — callers pass the
// evaluation time in.
package pricing

import (
	"fmt"
	"math"
	"time"

	"github.com/drluca/shopstream/ordercore/internal/models"
)

// LineItem pairs an order item with the unit price the catalog reported for
// it, in cents.
type LineItem struct {
	ProductID string
	Quantity  int64
	UnitPrice int64
}

type Totals struct {
	Subtotal int64 // cents, before discounts
	Discount int64 // cents, total discount applied
	Total    int64 // cents, after discounts and final rounding
}

// Price sums line totals and applies coupons in the order submitted, each
// against the running subtotal — stacking order is caller-determined. The
// final amount is rounded half-up to the minor unit exactly once, at the end,
// never per line, so totals cannot depend on rounding order.
//
// A coupon is rejected with models.ErrInvalidCoupon when it has expired, its
// usage limit is reached, or the pre-discount subtotal is below its minimum
// purchase.
func Price(items []LineItem, coupons []models.Coupon, now time.Time) (Totals, error) {
	var subtotal int64
	for _, item := range items {
		subtotal += item.UnitPrice * item.Quantity
	}

	running := float64(subtotal)
	for _, c := range coupons {
		if err := validate(c, subtotal, now); err != nil {
			return Totals{}, err
		}
		switch c.Kind {
		case models.DiscountPercentage:
			running -= running * float64(c.Value) / 100
		case models.DiscountFixed:
			// Fixed discounts clamp to the remaining subtotal.
			discount := float64(c.Value)
			if discount > running {
				discount = running
			}
			running -= discount
		default:
			return Totals{}, fmt.Errorf("%w: coupon %s has unknown kind %q", models.ErrInvalidCoupon, c.Code, c.Kind)
		}
		if running < 0 {
			running = 0
		}
	}

	total := roundHalfUp(running)
	return Totals{Subtotal: subtotal, Discount: subtotal - total, Total: total}, nil
}

func validate(c models.Coupon, subtotal int64, now time.Time) error {
	// A zero or negative value is a malformed coupon; a negative fixed
	// discount would raise the total.
	if c.Value <= 0 {
		return fmt.Errorf("%w: coupon %s has non-positive value %d", models.ErrInvalidCoupon, c.Code, c.Value)
	}
	if !c.ExpiresAt.IsZero() && now.After(c.ExpiresAt) {
		return fmt.Errorf("%w: coupon %s expired", models.ErrInvalidCoupon, c.Code)
	}
	if c.UsageLimit > 0 && c.UsageCount >= c.UsageLimit {
		return fmt.Errorf("%w: coupon %s usage limit reached", models.ErrInvalidCoupon, c.Code)
	}
	if subtotal < c.MinPurchase {
		return fmt.Errorf("%w: coupon %s requires a minimum purchase of %d", models.ErrInvalidCoupon, c.Code, c.MinPurchase)
	}
	return nil
}

func roundHalfUp(cents float64) int64 {
	return int64(math.Floor(cents + 0.5))
}
