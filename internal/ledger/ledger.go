package ledger

import (
	"context"

	"github.com/drluca/shopstream/ordercore/internal/models"
)

// Store is the authoritative record of stock counters and order records. It
// guarantees atomicity for single-record updates only; multi-item atomicity is
// built above it by the reservation manager using per-item CAS plus
// compensating release.
type Store interface {
	// ReadStock returns the current stock record for a product, including its
	// version token.
	ReadStock(ctx context.Context, productID string) (models.StockRecord, error)

	// CompareAndSwapStock applies availDelta/reservedDelta to a product's
	// counters only if its version still equals expectedVersion. Returns
	// models.ErrVersionConflict if the version moved, and
	// models.ErrInsufficientStock if a counter would go negative.
	CompareAndSwapStock(ctx context.Context, productID string, expectedVersion, availDelta, reservedDelta int64) error

	// AppendOrderRecord durably records an order. Idempotent on order ID: a
	// replay with the same ID is a no-op.
	AppendOrderRecord(ctx context.Context, order *models.Order) error

	// UpdateOrder persists the order's mutable fields (status, totals,
	// reservation reference, failure reason).
	UpdateOrder(ctx context.Context, order *models.Order) error

	GetOrder(ctx context.Context, orderID string) (*models.Order, error)

	// PendingCommits lists orders stuck in the Paid state, for the restart
	// recovery scan.
	PendingCommits(ctx context.Context) ([]*models.Order, error)

	// InFlightOrders lists orders that are neither terminal nor Paid. After a
	// restart these are dead: their submissions died with the process, so any
	// reserved quantities they recorded must be returned to available.
	InFlightOrders(ctx context.Context) ([]*models.Order, error)

	// ReleaseHold returns a reservation's quantities from reserved back to
	// available. Keyed by reservation ID exactly like ApplyCommit: whichever
	// of commit or release lands first consumes the key, and the other becomes
	// a (false, nil) no-op. Used by restart recovery for orders that died
	// before Paid.
	ReleaseHold(ctx context.Context, reservationID string, items []models.OrderItem) (bool, error)

	// ApplyCommit converts a reservation into a permanent decrement: for each
	// item, reservedQty is reduced by the item quantity. The operation is keyed
	// by reservation ID — replaying it returns (false, nil) without touching
	// the counters, which is what makes commit recovery idempotent.
	ApplyCommit(ctx context.Context, reservationID string, items []models.OrderItem) (bool, error)

	// ListStock returns every stock record, for reporting.
	ListStock(ctx context.Context) ([]models.StockRecord, error)
}
