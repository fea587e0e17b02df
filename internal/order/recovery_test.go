package order

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drluca/shopstream/ordercore/internal/models"
)

// buildInterruptedCommit reproduces the on-disk state of a process that died
// between Paid and the ledger decrement: stock holds the reserved quantity and
// the order record says Paid.
func buildInterruptedCommit(t *testing.T, f *fixture) *models.Order {
	t.Helper()
	ctx := context.Background()

	f.seedProduct("p1", 1000, 5)
	f.coupons.Add(models.Coupon{Code: "FIVE", Kind: models.DiscountFixed, Value: 500})

	rec, err := f.store.ReadStock(ctx, "p1")
	require.NoError(t, err)
	require.NoError(t, f.store.CompareAndSwapStock(ctx, "p1", rec.Version, -3, 3))

	o := &models.Order{
		ID:            "o-interrupted",
		CustomerID:    "alice",
		Items:         []models.OrderItem{{ProductID: "p1", Quantity: 3}},
		ReservationID: "res-interrupted",
		CouponCodes:   []string{"FIVE"},
		Subtotal:      3000,
		Total:         2500,
		Status:        models.OrderStatusPaid,
		CreatedAt:     time.Now(),
	}
	require.NoError(t, f.store.AppendOrderRecord(ctx, o))
	return o
}

func TestRecoverCompletesInterruptedCommit(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	o := buildInterruptedCommit(t, f)

	require.NoError(t, f.machine.Recover(ctx))

	status, err := f.machine.GetOrderStatus(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusCommitted, status)

	rec := f.stock(t, "p1")
	assert.Equal(t, int64(2), rec.AvailableQty)
	assert.Equal(t, int64(0), rec.ReservedQty)

	c, err := f.coupons.Lookup(ctx, "FIVE")
	require.NoError(t, err)
	assert.Equal(t, int64(1), c.UsageCount)
	assert.Contains(t, f.bus.keys, "order.committed")
}

func TestRecoverIsExactlyOnce(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	o := buildInterruptedCommit(t, f)

	// The decrement landed before the crash, but the status flip did not.
	applied, err := f.store.ApplyCommit(ctx, o.ReservationID, o.Items)
	require.NoError(t, err)
	require.True(t, applied)

	require.NoError(t, f.machine.Recover(ctx))
	require.NoError(t, f.machine.Recover(ctx))

	status, err := f.machine.GetOrderStatus(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusCommitted, status)

	// One decrement total, no matter how many scans ran.
	rec := f.stock(t, "p1")
	assert.Equal(t, int64(2), rec.AvailableQty)
	assert.Equal(t, int64(0), rec.ReservedQty)

	// The coupon increment rides on the decrement; a replayed scan must not
	// add another use.
	c, err := f.coupons.Lookup(ctx, "FIVE")
	require.NoError(t, err)
	assert.Equal(t, int64(0), c.UsageCount)
}

func TestRecoverFreesHoldsOfOrdersInterruptedBeforePayment(t *testing.T) {
	// A process that died while an order sat in Reserved leaves the hold in
	// the durable counters with no in-process reservation to release it.
	ctx := context.Background()
	f := newFixture(t)
	f.seedProduct("p1", 1000, 5)

	rec, err := f.store.ReadStock(ctx, "p1")
	require.NoError(t, err)
	require.NoError(t, f.store.CompareAndSwapStock(ctx, "p1", rec.Version, -3, 3))

	o := &models.Order{
		ID:            "o-stranded",
		CustomerID:    "alice",
		Items:         []models.OrderItem{{ProductID: "p1", Quantity: 3}},
		ReservationID: "res-stranded",
		Status:        models.OrderStatusReserved,
		CreatedAt:     time.Now(),
	}
	require.NoError(t, f.store.AppendOrderRecord(ctx, o))

	require.NoError(t, f.machine.Recover(ctx))

	status, err := f.machine.GetOrderStatus(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusFailed, status)

	rec = f.stock(t, "p1")
	assert.Equal(t, int64(5), rec.AvailableQty)
	assert.Equal(t, int64(0), rec.ReservedQty)
	assert.Contains(t, f.bus.keys, "order.failed")

	// The release consumed the reservation key, so a stray commit replay for
	// the same reservation cannot take the stock back out.
	applied, err := f.store.ApplyCommit(ctx, o.ReservationID, o.Items)
	require.NoError(t, err)
	assert.False(t, applied)
	rec = f.stock(t, "p1")
	assert.Equal(t, int64(5), rec.AvailableQty)
}

func TestRecoverNoPendingIsANoop(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seedProduct("p1", 1000, 5)

	require.NoError(t, f.machine.Recover(ctx))
	rec := f.stock(t, "p1")
	assert.Equal(t, int64(5), rec.AvailableQty)
}
