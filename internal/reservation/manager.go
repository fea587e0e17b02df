// Package reservation converts requested carts into provisional stock holds
// against the ledger, with timeout-based auto-release. Multi-item atomicity is
// assembled from per-item CAS plus compensating release: either every item of
// an attempt is reserved or none remain.
package reservation

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/drluca/shopstream/ordercore/internal/cache"
	"github.com/drluca/shopstream/ordercore/internal/ledger"
	"github.com/drluca/shopstream/ordercore/internal/models"
)

// releaseRetryLimit bounds retries of a compensating release against
// non-conflict failures. A release that still cannot land is handed to the
// expiry sweep instead of being dropped.
const releaseRetryLimit = 8

type Manager struct {
	ledger     ledger.Store
	cache      cache.StockCache
	maxRetries int

	mu           sync.Mutex
	reservations map[string]*models.Reservation
}

func NewManager(store ledger.Store, stockCache cache.StockCache, casMaxRetries int) *Manager {
	if stockCache == nil {
		stockCache = cache.Noop{}
	}
	if casMaxRetries < 1 {
		casMaxRetries = 3
	}
	return &Manager{
		ledger:       store,
		cache:        stockCache,
		maxRetries:   casMaxRetries,
		reservations: make(map[string]*models.Reservation),
	}
}

// Reserve attempts to move each requested quantity from available to reserved.
// Items are processed in ascending product-ID order so concurrent reservations
// competing for overlapping product sets cannot livelock each other. The
// outcome is all-or-nothing: on the first failing item every prior hold from
// this attempt is released and models.ErrInsufficientStock is returned.
func (m *Manager) Reserve(ctx context.Context, orderID string, items []models.OrderItem, ttl time.Duration) (*models.Reservation, error) {
	if len(items) == 0 {
		return nil, fmt.Errorf("%w: empty item list", models.ErrInsufficientStock)
	}

	sorted := make([]models.OrderItem, len(items))
	copy(sorted, items)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ProductID < sorted[j].ProductID })

	// Cached counters only ever short-circuit the reject path; the accept path
	// below re-verifies every item against the ledger.
	for _, item := range sorted {
		if qty, fresh := m.cache.GetAvailable(ctx, item.ProductID); fresh && qty < item.Quantity {
			return nil, fmt.Errorf("%w: product %s has %d available, %d requested",
				models.ErrInsufficientStock, item.ProductID, qty, item.Quantity)
		}
	}

	var reserved []models.OrderItem
	for _, item := range sorted {
		if err := m.reserveItem(ctx, item); err != nil {
			m.compensate(ctx, orderID, reserved)
			if errors.Is(err, models.ErrLedgerUnavailable) {
				return nil, err
			}
			return nil, fmt.Errorf("%w: product %s", models.ErrInsufficientStock, item.ProductID)
		}
		reserved = append(reserved, item)
	}

	now := time.Now()
	res := &models.Reservation{
		ID:        uuid.New().String(),
		OrderID:   orderID,
		Items:     sorted,
		Status:    models.ReservationStatusActive,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}
	m.mu.Lock()
	m.reservations[res.ID] = res
	m.mu.Unlock()

	log.Debug().Str("reservationId", res.ID).Str("orderId", orderID).Int("items", len(sorted)).Msg("Stock reserved")
	return res, nil
}

// reserveItem performs the read-CAS loop for a single item, retrying lost
// races up to the configured bound before escalating.
func (m *Manager) reserveItem(ctx context.Context, item models.OrderItem) error {
	for attempt := 0; attempt < m.maxRetries; attempt++ {
		rec, err := m.ledger.ReadStock(ctx, item.ProductID)
		if err != nil {
			return err
		}
		if rec.AvailableQty < item.Quantity {
			return models.ErrInsufficientStock
		}
		err = m.ledger.CompareAndSwapStock(ctx, item.ProductID, rec.Version, -item.Quantity, item.Quantity)
		if err == nil {
			m.cache.Update(ctx, item.ProductID, rec.AvailableQty-item.Quantity, rec.Version+1)
			return nil
		}
		if errors.Is(err, models.ErrVersionConflict) {
			continue
		}
		return err
	}
	return models.ErrVersionConflict
}

// releaseItem returns a held quantity to available. Version conflicts are
// retried until the CAS lands; other faults are retried a bounded number of
// times before being reported.
func (m *Manager) releaseItem(ctx context.Context, item models.OrderItem) error {
	failures := 0
	for {
		rec, err := m.ledger.ReadStock(ctx, item.ProductID)
		if err == nil {
			err = m.ledger.CompareAndSwapStock(ctx, item.ProductID, rec.Version, item.Quantity, -item.Quantity)
			if err == nil {
				m.cache.Update(ctx, item.ProductID, rec.AvailableQty+item.Quantity, rec.Version+1)
				return nil
			}
			if errors.Is(err, models.ErrVersionConflict) {
				continue
			}
		}
		failures++
		if failures >= releaseRetryLimit {
			return err
		}
	}
}

// compensate reverses the items already reserved by a failed attempt. Any item
// whose release cannot land right now is parked so the sweep frees it; a
// partial hold must never outlive the attempt that created it.
func (m *Manager) compensate(ctx context.Context, orderID string, reserved []models.OrderItem) {
	var stuck []models.OrderItem
	for i := len(reserved) - 1; i >= 0; i-- {
		if err := m.releaseItem(ctx, reserved[i]); err != nil {
			log.Error().Err(err).Str("orderId", orderID).Str("productId", reserved[i].ProductID).
				Msg("Compensating release failed; deferring to expiry sweep")
			stuck = append(stuck, reserved[i])
		}
	}
	if len(stuck) > 0 {
		m.park(orderID, stuck)
	}
}

// park records items whose release could not land as an immediately-expired
// active reservation, so every subsequent sweep retries them until the ledger
// accepts the quantities back. A hold must never be stranded by a failed
// release call.
func (m *Manager) park(orderID string, items []models.OrderItem) {
	now := time.Now()
	res := &models.Reservation{
		ID:        uuid.New().String(),
		OrderID:   orderID,
		Items:     items,
		Status:    models.ReservationStatusActive,
		CreatedAt: now,
		ExpiresAt: now,
	}
	m.mu.Lock()
	m.reservations[res.ID] = res
	m.mu.Unlock()
}

// Release returns a reservation's quantities to available stock. Idempotent:
// releasing twice, or after the sweep already expired it, is a no-op.
func (m *Manager) Release(ctx context.Context, reservationID string) error {
	m.mu.Lock()
	res, ok := m.reservations[reservationID]
	if !ok || res.Status != models.ReservationStatusActive {
		m.mu.Unlock()
		return nil
	}
	res.Status = models.ReservationStatusReleased
	orderID := res.OrderID
	items := res.Items
	m.mu.Unlock()

	var stuck []models.OrderItem
	var lastErr error
	for _, item := range items {
		if err := m.releaseItem(ctx, item); err != nil {
			stuck = append(stuck, item)
			lastErr = err
			continue
		}
		m.cache.Invalidate(ctx, item.ProductID)
	}
	if len(stuck) > 0 {
		m.park(orderID, stuck)
		return fmt.Errorf("releasing reservation %s: %w", reservationID, lastErr)
	}
	log.Debug().Str("reservationId", reservationID).Msg("Reservation released")
	return nil
}

// Commit converts a reservation into a permanent ledger decrement. The
// decrement itself is keyed by reservation ID inside the ledger, so calling
// Commit twice applies it once; the second call reports applied=false. A
// reservation the sweep already expired returns models.ErrReservationNotFound
// — the commit lost the race.
func (m *Manager) Commit(ctx context.Context, reservationID string) (bool, error) {
	m.mu.Lock()
	res, ok := m.reservations[reservationID]
	if !ok {
		m.mu.Unlock()
		return false, models.ErrReservationNotFound
	}
	switch res.Status {
	case models.ReservationStatusCommitted:
		m.mu.Unlock()
		return false, nil
	case models.ReservationStatusReleased, models.ReservationStatusExpired:
		m.mu.Unlock()
		return false, models.ErrReservationNotFound
	}
	res.Status = models.ReservationStatusCommitted
	items := res.Items
	m.mu.Unlock()

	applied, err := m.ledger.ApplyCommit(ctx, reservationID, items)
	if err != nil {
		// Put the hold back under sweep protection; the order record drives
		// any later recovery.
		m.mu.Lock()
		res.Status = models.ReservationStatusActive
		m.mu.Unlock()
		return false, err
	}
	for _, item := range items {
		m.cache.Invalidate(ctx, item.ProductID)
	}
	return applied, nil
}

// Get looks up a reservation by ID.
func (m *Manager) Get(reservationID string) (*models.Reservation, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	res, ok := m.reservations[reservationID]
	if !ok {
		return nil, false
	}
	cp := *res
	cp.Items = append([]models.OrderItem(nil), res.Items...)
	return &cp, true
}

// SweepExpired releases every active reservation whose deadline passed before
// now. Returns how many were swept.
func (m *Manager) SweepExpired(ctx context.Context, now time.Time) int {
	m.mu.Lock()
	var expired []*models.Reservation
	for _, res := range m.reservations {
		if res.Status == models.ReservationStatusActive && now.After(res.ExpiresAt) {
			res.Status = models.ReservationStatusExpired
			expired = append(expired, res)
		}
	}
	m.mu.Unlock()

	for _, res := range expired {
		var stuck []models.OrderItem
		for _, item := range res.Items {
			if err := m.releaseItem(ctx, item); err != nil {
				log.Error().Err(err).Str("reservationId", res.ID).Str("productId", item.ProductID).
					Msg("Expiry sweep release failed; will retry next sweep")
				stuck = append(stuck, item)
				continue
			}
			m.cache.Invalidate(ctx, item.ProductID)
		}
		if len(stuck) > 0 {
			m.park(res.OrderID, stuck)
			continue
		}
		log.Info().Str("reservationId", res.ID).Str("orderId", res.OrderID).Msg("Expired reservation swept")
	}
	return len(expired)
}
