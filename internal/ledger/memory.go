package ledger

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/drluca/shopstream/ordercore/internal/models"
)

// MemoryStore is a mutex-guarded in-process ledger. It is the default backend
// for the simulator and for tests; the Postgres adapter provides the same
// contract against a real database.
type MemoryStore struct {
	mu             sync.Mutex
	stock          map[string]*models.StockRecord
	orders         map[string]*models.Order
	appliedCommits map[string]struct{}
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		stock:          make(map[string]*models.StockRecord),
		orders:         make(map[string]*models.Order),
		appliedCommits: make(map[string]struct{}),
	}
}

// SeedStock installs or replaces a product's counters. Intended for setup and
// restocking paths, not for the reservation hot path.
func (s *MemoryStore) SeedStock(productID string, availableQty int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := s.stock[productID]
	if rec == nil {
		s.stock[productID] = &models.StockRecord{ProductID: productID, AvailableQty: availableQty, Version: 1}
		return
	}
	rec.AvailableQty = availableQty
	rec.Version++
}

func (s *MemoryStore) ReadStock(_ context.Context, productID string) (models.StockRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.stock[productID]
	if !ok {
		return models.StockRecord{}, models.ErrProductNotFound
	}
	return *rec, nil
}

func (s *MemoryStore) CompareAndSwapStock(_ context.Context, productID string, expectedVersion, availDelta, reservedDelta int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.stock[productID]
	if !ok {
		return models.ErrProductNotFound
	}
	if rec.Version != expectedVersion {
		return models.ErrVersionConflict
	}
	if rec.AvailableQty+availDelta < 0 || rec.ReservedQty+reservedDelta < 0 {
		return models.ErrInsufficientStock
	}
	rec.AvailableQty += availDelta
	rec.ReservedQty += reservedDelta
	rec.Version++
	return nil
}

func (s *MemoryStore) AppendOrderRecord(_ context.Context, order *models.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.orders[order.ID]; exists {
		return nil
	}
	cp := cloneOrder(order)
	s.orders[order.ID] = cp
	return nil
}

func (s *MemoryStore) UpdateOrder(_ context.Context, order *models.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.orders[order.ID]; !exists {
		return models.ErrOrderNotFound
	}
	cp := cloneOrder(order)
	cp.UpdatedAt = time.Now()
	s.orders[order.ID] = cp
	return nil
}

func (s *MemoryStore) GetOrder(_ context.Context, orderID string) (*models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	order, ok := s.orders[orderID]
	if !ok {
		return nil, models.ErrOrderNotFound
	}
	return cloneOrder(order), nil
}

func (s *MemoryStore) PendingCommits(_ context.Context) ([]*models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var pending []*models.Order
	for _, order := range s.orders {
		if order.Status == models.OrderStatusPaid {
			pending = append(pending, cloneOrder(order))
		}
	}
	return pending, nil
}

func (s *MemoryStore) InFlightOrders(_ context.Context) ([]*models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var open []*models.Order
	for _, order := range s.orders {
		if order.Status.IsTerminal() || order.Status == models.OrderStatusPaid {
			continue
		}
		open = append(open, cloneOrder(order))
	}
	return open, nil
}

func (s *MemoryStore) ApplyCommit(_ context.Context, reservationID string, items []models.OrderItem) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, done := s.appliedCommits[reservationID]; done {
		return false, nil
	}
	// Validate before mutating so a bad item list leaves the counters intact.
	for _, item := range items {
		rec, ok := s.stock[item.ProductID]
		if !ok {
			return false, models.ErrProductNotFound
		}
		if rec.ReservedQty < item.Quantity {
			return false, models.ErrInsufficientStock
		}
	}
	for _, item := range items {
		rec := s.stock[item.ProductID]
		rec.ReservedQty -= item.Quantity
		rec.Version++
	}
	s.appliedCommits[reservationID] = struct{}{}
	return true, nil
}

func (s *MemoryStore) ReleaseHold(_ context.Context, reservationID string, items []models.OrderItem) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, done := s.appliedCommits[reservationID]; done {
		return false, nil
	}
	for _, item := range items {
		rec, ok := s.stock[item.ProductID]
		if !ok {
			return false, models.ErrProductNotFound
		}
		if rec.ReservedQty < item.Quantity {
			return false, models.ErrInsufficientStock
		}
	}
	for _, item := range items {
		rec := s.stock[item.ProductID]
		rec.ReservedQty -= item.Quantity
		rec.AvailableQty += item.Quantity
		rec.Version++
	}
	s.appliedCommits[reservationID] = struct{}{}
	return true, nil
}

func (s *MemoryStore) ListStock(_ context.Context) ([]models.StockRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	records := make([]models.StockRecord, 0, len(s.stock))
	for _, rec := range s.stock {
		records = append(records, *rec)
	}
	sort.Slice(records, func(i, j int) bool { return records[i].ProductID < records[j].ProductID })
	return records, nil
}

func cloneOrder(o *models.Order) *models.Order {
	cp := *o
	cp.Items = append([]models.OrderItem(nil), o.Items...)
	cp.CouponCodes = append([]string(nil), o.CouponCodes...)
	return &cp
}
