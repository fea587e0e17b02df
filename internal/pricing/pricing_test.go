package pricing

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drluca/shopstream/ordercore/internal/models"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func validUntil(d time.Duration) time.Time { return testNow.Add(d) }

func TestPriceNoCoupons(t *testing.T) {
	items := []LineItem{
		{ProductID: "a", Quantity: 2, UnitPrice: 1050},
		{ProductID: "b", Quantity: 1, UnitPrice: 399},
	}
	totals, err := Price(items, nil, testNow)
	require.NoError(t, err)
	assert.Equal(t, int64(2499), totals.Subtotal)
	assert.Equal(t, int64(2499), totals.Total)
	assert.Equal(t, int64(0), totals.Discount)
}

func TestPercentageCouponWithMinPurchase(t *testing.T) {
	// A 20%-off coupon on a $50 subtotal with minPurchase $40 yields $40.00.
	items := []LineItem{{ProductID: "a", Quantity: 1, UnitPrice: 5000}}
	coupon := models.Coupon{
		Code:        "TWENTY",
		Kind:        models.DiscountPercentage,
		Value:       20,
		MinPurchase: 4000,
		ExpiresAt:   validUntil(time.Hour),
	}

	totals, err := Price(items, []models.Coupon{coupon}, testNow)
	require.NoError(t, err)
	assert.Equal(t, int64(4000), totals.Total)

	// The same coupon on a $30 subtotal is rejected.
	items[0].UnitPrice = 3000
	_, err = Price(items, []models.Coupon{coupon}, testNow)
	assert.ErrorIs(t, err, models.ErrInvalidCoupon)
}

func TestExpiredCouponRejected(t *testing.T) {
	items := []LineItem{{ProductID: "a", Quantity: 1, UnitPrice: 5000}}
	coupon := models.Coupon{Code: "OLD", Kind: models.DiscountFixed, Value: 500, ExpiresAt: validUntil(-time.Minute)}
	_, err := Price(items, []models.Coupon{coupon}, testNow)
	assert.ErrorIs(t, err, models.ErrInvalidCoupon)
}

func TestUsageLimitRejected(t *testing.T) {
	items := []LineItem{{ProductID: "a", Quantity: 1, UnitPrice: 5000}}
	coupon := models.Coupon{Code: "MAXED", Kind: models.DiscountFixed, Value: 500, UsageLimit: 3, UsageCount: 3}
	_, err := Price(items, []models.Coupon{coupon}, testNow)
	assert.ErrorIs(t, err, models.ErrInvalidCoupon)
}

func TestNonPositiveValueRejected(t *testing.T) {
	// A negative fixed discount would raise the total; both it and a zero
	// value are malformed.
	items := []LineItem{{ProductID: "a", Quantity: 1, UnitPrice: 5000}}

	negative := models.Coupon{Code: "NEG", Kind: models.DiscountFixed, Value: -500}
	_, err := Price(items, []models.Coupon{negative}, testNow)
	assert.ErrorIs(t, err, models.ErrInvalidCoupon)

	zero := models.Coupon{Code: "ZERO", Kind: models.DiscountPercentage, Value: 0}
	_, err = Price(items, []models.Coupon{zero}, testNow)
	assert.ErrorIs(t, err, models.ErrInvalidCoupon)
}

func TestFixedCouponClampsToSubtotal(t *testing.T) {
	items := []LineItem{{ProductID: "a", Quantity: 1, UnitPrice: 300}}
	coupon := models.Coupon{Code: "BIG", Kind: models.DiscountFixed, Value: 1000}
	totals, err := Price(items, []models.Coupon{coupon}, testNow)
	require.NoError(t, err)
	assert.Equal(t, int64(0), totals.Total)
	assert.Equal(t, int64(300), totals.Discount)
}

func TestStackingAppliesAgainstRunningSubtotal(t *testing.T) {
	// $100 cart: 10% off then $5 off = 90.00 - 5.00 = 85.00;
	// reversed order = 95.00 * 0.9 = 85.50. Submission order decides.
	items := []LineItem{{ProductID: "a", Quantity: 1, UnitPrice: 10000}}
	pct := models.Coupon{Code: "PCT", Kind: models.DiscountPercentage, Value: 10}
	fixed := models.Coupon{Code: "FIX", Kind: models.DiscountFixed, Value: 500}

	totals, err := Price(items, []models.Coupon{pct, fixed}, testNow)
	require.NoError(t, err)
	assert.Equal(t, int64(8500), totals.Total)

	totals, err = Price(items, []models.Coupon{fixed, pct}, testNow)
	require.NoError(t, err)
	assert.Equal(t, int64(8550), totals.Total)
}

func TestRoundingAppliedOnceAtEnd(t *testing.T) {
	// 3 * 3.33 = 9.99; 15% off = 8.4915 → rounds half-up to 8.49 once.
	items := []LineItem{{ProductID: "a", Quantity: 3, UnitPrice: 333}}
	coupon := models.Coupon{Code: "PCT15", Kind: models.DiscountPercentage, Value: 15}
	totals, err := Price(items, []models.Coupon{coupon}, testNow)
	require.NoError(t, err)
	assert.Equal(t, int64(849), totals.Total)
}

func TestMinPurchaseJudgedOnPreDiscountSubtotal(t *testing.T) {
	// First coupon drops the running total below the second's minimum, but
	// eligibility is judged on the pre-discount subtotal.
	items := []LineItem{{ProductID: "a", Quantity: 1, UnitPrice: 5000}}
	half := models.Coupon{Code: "HALF", Kind: models.DiscountPercentage, Value: 50}
	picky := models.Coupon{Code: "PICKY", Kind: models.DiscountFixed, Value: 100, MinPurchase: 4000}

	totals, err := Price(items, []models.Coupon{half, picky}, testNow)
	require.NoError(t, err)
	assert.Equal(t, int64(2400), totals.Total)
}

func TestPricingDeterminism(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	kinds := []models.DiscountKind{models.DiscountPercentage, models.DiscountFixed}

	for run := 0; run < 200; run++ {
		var items []LineItem
		for i := 0; i < 1+rng.Intn(4); i++ {
			items = append(items, LineItem{
				ProductID: "p",
				Quantity:  int64(1 + rng.Intn(5)),
				UnitPrice: int64(1 + rng.Intn(10000)),
			})
		}
		var coupons []models.Coupon
		for i := 0; i < rng.Intn(4); i++ {
			kind := kinds[rng.Intn(2)]
			value := int64(1 + rng.Intn(50))
			if kind == models.DiscountFixed {
				value = int64(1 + rng.Intn(2000))
			}
			coupons = append(coupons, models.Coupon{Code: "C", Kind: kind, Value: value})
		}

		first, err1 := Price(items, coupons, testNow)
		second, err2 := Price(items, coupons, testNow)
		if (err1 == nil) != (err2 == nil) {
			t.Fatalf("run %d: errors differ: %v vs %v", run, err1, err2)
		}
		if first != second {
			t.Fatalf("run %d: totals differ: %+v vs %+v", run, first, second)
		}
		if err1 == nil && first.Total < 0 {
			t.Fatalf("run %d: negative total %d", run, first.Total)
		}
	}
}
