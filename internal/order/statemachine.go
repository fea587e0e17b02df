// Package order drives an order through its lifecycle: reserve stock, price
// the cart, authorize payment, then commit or roll back. All collaborator
// faults are translated into the core's error taxonomy before they reach the
// submission caller.
package order

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/drluca/shopstream/ordercore/internal/cache"
	"github.com/drluca/shopstream/ordercore/internal/ledger"
	"github.com/drluca/shopstream/ordercore/internal/models"
	"github.com/drluca/shopstream/ordercore/internal/pricing"
	"github.com/drluca/shopstream/ordercore/internal/reservation"
)

// Catalog supplies unit prices. Assumed consistent enough for pricing at
// commit time.
type Catalog interface {
	GetUnitPrice(ctx context.Context, productID string) (int64, error)
}

// CouponRegistry is the read path for coupons; the core writes back only
// usage-count increments, at commit.
type CouponRegistry interface {
	Lookup(ctx context.Context, code string) (models.Coupon, error)
	IncrementUsage(ctx context.Context, code string) error
}

// Authorizer is the payment capability: synchronous, one attempt per call.
// Retries are the core's responsibility.
type Authorizer interface {
	Authorize(ctx context.Context, orderID string, amount int64, method string) error
}

// Publisher receives order lifecycle events. Optional; a nil publisher
// disables publishing.
type Publisher interface {
	PublishMessage(ctx context.Context, routingKey string, payload interface{}) error
}

type Deps struct {
	Ledger       ledger.Store
	Reservations *reservation.Manager
	Cache        cache.StockCache
	Catalog      Catalog
	Coupons      CouponRegistry
	Payments     Authorizer
	Bus          Publisher

	// PaymentTimeout bounds a single authorize call; hitting it is treated
	// identically to an explicit decline.
	PaymentTimeout time.Duration
}

type StateMachine struct {
	deps Deps

	mu        sync.Mutex
	cancelled map[string]bool
}

func NewStateMachine(deps Deps) *StateMachine {
	if deps.Cache == nil {
		deps.Cache = cache.Noop{}
	}
	if deps.PaymentTimeout <= 0 {
		deps.PaymentTimeout = 10 * time.Second
	}
	return &StateMachine{deps: deps, cancelled: make(map[string]bool)}
}

// SubmitOrder runs the full lifecycle for one cart. Domain failures come back
// inside the OrderResult; only infrastructure faults (ledger unavailable)
// surface as a non-nil error, in which case no partial state was committed and
// the reservation TTL will release any hold.
func (sm *StateMachine) SubmitOrder(ctx context.Context, customerID string, items []models.OrderItem, couponCodes []string, paymentMethod string, ttl time.Duration) (models.OrderResult, error) {
	now := time.Now()
	o := &models.Order{
		ID:          uuid.New().String(),
		CustomerID:  customerID,
		Items:       items,
		CouponCodes: couponCodes,
		Status:      models.OrderStatusCreated,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := sm.deps.Ledger.AppendOrderRecord(ctx, o); err != nil {
		return models.OrderResult{}, fmt.Errorf("creating order record: %w", err)
	}
	log.Info().Str("orderId", o.ID).Str("customerId", customerID).Int("items", len(items)).Msg("Order created")

	// Created -> Reserved
	if sm.isCancelled(o.ID) {
		return sm.finishCancelled(ctx, o, "")
	}
	res, err := sm.deps.Reservations.Reserve(ctx, o.ID, items, ttl)
	if err != nil {
		if errors.Is(err, models.ErrLedgerUnavailable) {
			return models.OrderResult{}, err
		}
		return sm.finishFailed(ctx, o, "", err)
	}
	o.ReservationID = res.ID
	if err := sm.setStatus(ctx, o, models.OrderStatusReserved); err != nil {
		return models.OrderResult{}, err
	}

	// Reserved -> Priced
	if sm.isCancelled(o.ID) {
		return sm.finishCancelled(ctx, o, res.ID)
	}
	totals, err := sm.priceOrder(ctx, o)
	if err != nil {
		if errors.Is(err, models.ErrLedgerUnavailable) {
			return models.OrderResult{}, err
		}
		return sm.finishFailed(ctx, o, res.ID, err)
	}
	o.Subtotal = totals.Subtotal
	o.Total = totals.Total
	if err := sm.setStatus(ctx, o, models.OrderStatusPriced); err != nil {
		return models.OrderResult{}, err
	}

	// Priced -> AwaitingPayment -> Paid
	if sm.isCancelled(o.ID) {
		return sm.finishCancelled(ctx, o, res.ID)
	}
	if err := sm.setStatus(ctx, o, models.OrderStatusAwaitingPayment); err != nil {
		return models.OrderResult{}, err
	}
	if err := sm.authorize(ctx, o, paymentMethod); err != nil {
		// Payment failure is system-denied: the order fails rather than being
		// cancelled, and the hold is released.
		if !models.IsPaymentFailure(err) {
			log.Error().Err(err).Str("orderId", o.ID).Msg("Payment capability fault")
		}
		return sm.finishFailed(ctx, o, res.ID, err)
	}
	if err := sm.setStatus(ctx, o, models.OrderStatusPaid); err != nil {
		return models.OrderResult{}, err
	}

	// Paid -> Committed. The order record above is the durable intent; if the
	// process dies anywhere past this point, Recover finishes the job.
	if err := sm.commitPaid(ctx, o); err != nil {
		return models.OrderResult{}, err
	}
	return sm.result(o), nil
}

// commitPaid performs the one cross-entity atomic step: permanent ledger
// decrement, coupon usage increments, and the Committed status flip. The
// decrement is keyed by reservation ID inside the ledger, so replaying this
// after a crash applies it exactly once.
func (sm *StateMachine) commitPaid(ctx context.Context, o *models.Order) error {
	applied, err := sm.deps.Reservations.Commit(ctx, o.ReservationID)
	if err != nil {
		if errors.Is(err, models.ErrReservationNotFound) {
			// The sweep released the hold before payment completed. The stock
			// is gone; the order cannot be fulfilled.
			_, ferr := sm.finishFailed(ctx, o, "", fmt.Errorf("%w: reservation expired before commit", models.ErrInsufficientStock))
			return ferr
		}
		// Ledger fault: leave the order in Paid, the recovery scan resumes it.
		return err
	}
	if applied {
		sm.incrementCoupons(ctx, o)
	}
	if err := sm.setStatus(ctx, o, models.OrderStatusCommitted); err != nil {
		return err
	}
	sm.clearCancelled(o.ID)
	log.Info().Str("orderId", o.ID).Int64("total", o.Total).Msg("Order committed")
	sm.publishCommitted(ctx, o)
	return nil
}

func (sm *StateMachine) priceOrder(ctx context.Context, o *models.Order) (pricing.Totals, error) {
	lineItems := make([]pricing.LineItem, 0, len(o.Items))
	for _, item := range o.Items {
		unitPrice, err := sm.deps.Catalog.GetUnitPrice(ctx, item.ProductID)
		if err != nil {
			return pricing.Totals{}, fmt.Errorf("pricing %s: %w", item.ProductID, err)
		}
		lineItems = append(lineItems, pricing.LineItem{ProductID: item.ProductID, Quantity: item.Quantity, UnitPrice: unitPrice})
	}
	coupons := make([]models.Coupon, 0, len(o.CouponCodes))
	for _, code := range o.CouponCodes {
		c, err := sm.deps.Coupons.Lookup(ctx, code)
		if err != nil {
			if errors.Is(err, models.ErrCouponNotFound) {
				return pricing.Totals{}, fmt.Errorf("%w: unknown coupon %s", models.ErrInvalidCoupon, code)
			}
			return pricing.Totals{}, err
		}
		coupons = append(coupons, c)
	}
	return pricing.Price(lineItems, coupons, time.Now())
}

func (sm *StateMachine) authorize(ctx context.Context, o *models.Order, method string) error {
	payCtx, cancel := context.WithTimeout(ctx, sm.deps.PaymentTimeout)
	defer cancel()
	err := sm.deps.Payments.Authorize(payCtx, o.ID, o.Total, method)
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: no answer within %s", models.ErrPaymentTimeout, sm.deps.PaymentTimeout)
	}
	return err
}

func (sm *StateMachine) incrementCoupons(ctx context.Context, o *models.Order) {
	for _, code := range o.CouponCodes {
		if err := sm.deps.Coupons.IncrementUsage(ctx, code); err != nil {
			log.Error().Err(err).Str("orderId", o.ID).Str("coupon", code).Msg("Coupon usage increment failed")
		}
	}
}

// CancelOrder marks a customer- or operator-driven cancellation. It is
// cooperative: an in-flight submission observes the mark between transitions,
// never mid-CAS. Cancellation is permitted only before Paid.
func (sm *StateMachine) CancelOrder(ctx context.Context, orderID string) error {
	o, err := sm.deps.Ledger.GetOrder(ctx, orderID)
	if err != nil {
		return err
	}
	switch o.Status {
	case models.OrderStatusPaid, models.OrderStatusCommitted, models.OrderStatusCancelled, models.OrderStatusFailed:
		return models.ErrAlreadyTerminal
	}
	sm.mu.Lock()
	sm.cancelled[orderID] = true
	sm.mu.Unlock()
	log.Info().Str("orderId", orderID).Msg("Order cancellation requested")
	return nil
}

func (sm *StateMachine) GetOrderStatus(ctx context.Context, orderID string) (models.OrderStatus, error) {
	o, err := sm.deps.Ledger.GetOrder(ctx, orderID)
	if err != nil {
		return "", err
	}
	return o.Status, nil
}

func (sm *StateMachine) isCancelled(orderID string) bool {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.cancelled[orderID]
}

// clearCancelled drops the cancellation mark once the order is terminal; the
// mark can never be observed again.
func (sm *StateMachine) clearCancelled(orderID string) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	delete(sm.cancelled, orderID)
}

func (sm *StateMachine) setStatus(ctx context.Context, o *models.Order, status models.OrderStatus) error {
	o.Status = status
	o.UpdatedAt = time.Now()
	if err := sm.deps.Ledger.UpdateOrder(ctx, o); err != nil {
		return fmt.Errorf("persisting order %s at %s: %w", o.ID, status, err)
	}
	return nil
}

func (sm *StateMachine) finishFailed(ctx context.Context, o *models.Order, reservationID string, cause error) (models.OrderResult, error) {
	if reservationID != "" {
		if err := sm.deps.Reservations.Release(ctx, reservationID); err != nil {
			log.Error().Err(err).Str("orderId", o.ID).Msg("Release on failure did not complete; sweep will reclaim")
		}
	}
	o.FailureReason = cause.Error()
	if err := sm.setStatus(ctx, o, models.OrderStatusFailed); err != nil {
		return models.OrderResult{}, err
	}
	sm.clearCancelled(o.ID)
	log.Warn().Str("orderId", o.ID).Str("reason", o.FailureReason).Msg("Order failed")
	sm.publishFailed(ctx, o)
	return sm.result(o), nil
}

func (sm *StateMachine) finishCancelled(ctx context.Context, o *models.Order, reservationID string) (models.OrderResult, error) {
	if reservationID != "" {
		if err := sm.deps.Reservations.Release(ctx, reservationID); err != nil {
			log.Error().Err(err).Str("orderId", o.ID).Msg("Release on cancel did not complete; sweep will reclaim")
		}
	}
	if err := sm.setStatus(ctx, o, models.OrderStatusCancelled); err != nil {
		return models.OrderResult{}, err
	}
	sm.clearCancelled(o.ID)
	log.Info().Str("orderId", o.ID).Msg("Order cancelled")
	return sm.result(o), nil
}

func (sm *StateMachine) result(o *models.Order) models.OrderResult {
	return models.OrderResult{
		OrderID:       o.ID,
		Status:        o.Status,
		Total:         o.Total,
		FailureReason: o.FailureReason,
	}
}

func (sm *StateMachine) publishCommitted(ctx context.Context, o *models.Order) {
	if sm.deps.Bus == nil {
		return
	}
	event := models.OrderCommittedEvent{
		EventID:    uuid.New().String(),
		OrderID:    o.ID,
		CustomerID: o.CustomerID,
		Items:      o.Items,
		Total:      o.Total,
		Timestamp:  time.Now(),
	}
	if err := sm.deps.Bus.PublishMessage(ctx, "order.committed", event); err != nil {
		log.Error().Err(err).Str("orderId", o.ID).Msg("Failed to publish order.committed event")
	}
}

func (sm *StateMachine) publishFailed(ctx context.Context, o *models.Order) {
	if sm.deps.Bus == nil {
		return
	}
	event := models.OrderFailedEvent{
		EventID:    uuid.New().String(),
		OrderID:    o.ID,
		CustomerID: o.CustomerID,
		Reason:     o.FailureReason,
		Timestamp:  time.Now(),
	}
	if err := sm.deps.Bus.PublishMessage(ctx, "order.failed", event); err != nil {
		log.Error().Err(err).Str("orderId", o.ID).Msg("Failed to publish order.failed event")
	}
}
