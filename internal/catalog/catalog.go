// Package catalog is the price registry the core consumes. It stands in for
// the catalog service that owns product data outside this core.
package catalog

import (
	"context"
	"sync"

	"github.com/drluca/shopstream/ordercore/internal/models"
)

type Memory struct {
	mu     sync.RWMutex
	prices map[string]int64 // cents
}

func NewMemory() *Memory {
	return &Memory{prices: make(map[string]int64)}
}

func (c *Memory) SetPrice(productID string, unitPrice int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.prices[productID] = unitPrice
}

func (c *Memory) GetUnitPrice(_ context.Context, productID string) (int64, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	price, ok := c.prices[productID]
	if !ok {
		return 0, models.ErrProductNotFound
	}
	return price, nil
}

// LowStock filters stock records at or below threshold, for the restocking
// report.
func LowStock(records []models.StockRecord, threshold int64) []models.StockRecord {
	var low []models.StockRecord
	for _, rec := range records {
		if rec.AvailableQty <= threshold {
			low = append(low, rec)
		}
	}
	return low
}
