// Package coupons holds the coupon registry. Reads are served to the pricing
// path; the only write the core performs is the usage-count increment that
// accompanies an order commit.
package coupons

import (
	"context"
	"sync"

	"github.com/drluca/shopstream/ordercore/internal/models"
)

type Registry struct {
	mu      sync.RWMutex
	coupons map[string]*models.Coupon
}

func NewRegistry() *Registry {
	return &Registry{coupons: make(map[string]*models.Coupon)}
}

func (r *Registry) Add(c models.Coupon) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := c
	r.coupons[c.Code] = &cp
}

// Lookup returns a snapshot of the coupon; validity is judged by the pricing
// engine against this snapshot.
func (r *Registry) Lookup(_ context.Context, code string) (models.Coupon, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.coupons[code]
	if !ok {
		return models.Coupon{}, models.ErrCouponNotFound
	}
	return *c, nil
}

func (r *Registry) IncrementUsage(_ context.Context, code string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.coupons[code]
	if !ok {
		return models.ErrCouponNotFound
	}
	c.UsageCount++
	return nil
}
