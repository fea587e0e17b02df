package models

import "time"

// Money amounts are carried in minor units (cents) throughout the core.

// --- Stock ---

// StockRecord is the authoritative per-product inventory counter held by the
// ledger. Version is an optimistic-concurrency token and increments on every
// mutation.
type StockRecord struct {
	ProductID    string `db:"product_id"`
	AvailableQty int64  `db:"available_qty"`
	ReservedQty  int64  `db:"reserved_qty"`
	Version      int64  `db:"version"`
}

// --- Reservation ---

type ReservationStatus string

const (
	ReservationStatusActive    ReservationStatus = "active"
	ReservationStatusCommitted ReservationStatus = "committed"
	ReservationStatusReleased  ReservationStatus = "released"
	ReservationStatusExpired   ReservationStatus = "expired"
)

// Reservation is a time-bounded provisional hold on inventory tied to one
// order attempt. Owned by the reservation manager; orders reference it by ID
// only and tolerate it being gone.
type Reservation struct {
	ID        string
	OrderID   string
	Items     []OrderItem
	Status    ReservationStatus
	CreatedAt time.Time
	ExpiresAt time.Time
}

// --- Order ---

type OrderStatus string

const (
	OrderStatusCreated         OrderStatus = "created"
	OrderStatusReserved        OrderStatus = "reserved"
	OrderStatusPriced          OrderStatus = "priced"
	OrderStatusAwaitingPayment OrderStatus = "awaiting_payment"
	OrderStatusPaid            OrderStatus = "paid"
	OrderStatusCommitted       OrderStatus = "committed"
	OrderStatusCancelled       OrderStatus = "cancelled"
	OrderStatusFailed          OrderStatus = "failed"
)

// IsTerminal reports whether s is a final order state. Terminal orders are
// immutable.
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case OrderStatusCommitted, OrderStatusCancelled, OrderStatusFailed:
		return true
	}
	return false
}

type OrderItem struct {
	ProductID string `json:"productId"`
	Quantity  int64  `json:"quantity"`
}

type Order struct {
	ID            string      `json:"orderId"`
	CustomerID    string      `json:"customerId"`
	Items         []OrderItem `json:"items"`
	ReservationID string      `json:"reservationId,omitempty"`
	CouponCodes   []string    `json:"couponCodes,omitempty"`
	Subtotal      int64       `json:"subtotal"`
	Total         int64       `json:"total"`
	Status        OrderStatus `json:"status"`
	FailureReason string      `json:"failureReason,omitempty"`
	CreatedAt     time.Time   `json:"createdAt"`
	UpdatedAt     time.Time   `json:"updatedAt"`
}

// OrderResult is what the submission entry point hands back to callers.
type OrderResult struct {
	OrderID       string      `json:"orderId"`
	Status        OrderStatus `json:"status"`
	Total         int64       `json:"total"`
	FailureReason string      `json:"failureReason,omitempty"`
}

// --- Coupon ---

type DiscountKind string

const (
	DiscountPercentage DiscountKind = "percentage"
	DiscountFixed      DiscountKind = "fixed"
)

// Coupon is a read-mostly promotion record. UsageCount is mutated only as part
// of the commit step of an order that applied it.
type Coupon struct {
	Code        string
	Kind        DiscountKind
	Value       int64     // percentage points, or cents for fixed
	MinPurchase int64     // cents; pre-discount subtotal must reach this
	ExpiresAt   time.Time // zero means no expiry
	UsageLimit  int64     // zero means unlimited
	UsageCount  int64
}

// --- Outgoing events (published on the event bus) ---

type OrderCommittedEvent struct {
	EventID    string      `json:"eventId"`
	OrderID    string      `json:"orderId"`
	CustomerID string      `json:"customerId"`
	Items      []OrderItem `json:"items"`
	Total      int64       `json:"total"`
	Timestamp  time.Time   `json:"timestamp"`
}

type OrderFailedEvent struct {
	EventID    string    `json:"eventId"`
	OrderID    string    `json:"orderId"`
	CustomerID string    `json:"customerId"`
	Reason     string    `json:"reason"`
	Timestamp  time.Time `json:"timestamp"`
}
