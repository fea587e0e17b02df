package cache

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/drluca/shopstream/ordercore/internal/models"
)

type stubReader struct {
	records map[string]models.StockRecord
	reads   atomic.Int64
	err     error
}

func (s *stubReader) ReadStock(_ context.Context, productID string) (models.StockRecord, error) {
	s.reads.Add(1)
	if s.err != nil {
		return models.StockRecord{}, s.err
	}
	rec, ok := s.records[productID]
	if !ok {
		return models.StockRecord{}, models.ErrProductNotFound
	}
	return rec, nil
}

func TestMissFallsThroughAndRepopulates(t *testing.T) {
	ctx := context.Background()
	reader := &stubReader{records: map[string]models.StockRecord{
		"p1": {ProductID: "p1", AvailableQty: 7, Version: 3},
	}}
	c := NewMemoryCache(reader, time.Minute)

	qty, fresh := c.GetAvailable(ctx, "p1")
	if !fresh || qty != 7 {
		t.Fatalf("expected fresh 7, got %d fresh=%v", qty, fresh)
	}
	if reader.reads.Load() != 1 {
		t.Fatalf("expected 1 ledger read, got %d", reader.reads.Load())
	}

	// Second read is served from the cache.
	qty, fresh = c.GetAvailable(ctx, "p1")
	if !fresh || qty != 7 {
		t.Fatalf("expected cached 7, got %d fresh=%v", qty, fresh)
	}
	if reader.reads.Load() != 1 {
		t.Errorf("cache hit still read the ledger (%d reads)", reader.reads.Load())
	}
}

func TestLedgerFaultIsAMiss(t *testing.T) {
	ctx := context.Background()
	reader := &stubReader{err: errors.New("boom")}
	c := NewMemoryCache(reader, time.Minute)

	qty, fresh := c.GetAvailable(ctx, "p1")
	if fresh || qty != 0 {
		t.Errorf("expected (0, stale) on ledger fault, got (%d, %v)", qty, fresh)
	}
}

func TestExpiryFallsThroughAgain(t *testing.T) {
	ctx := context.Background()
	reader := &stubReader{records: map[string]models.StockRecord{
		"p1": {ProductID: "p1", AvailableQty: 7, Version: 3},
	}}
	c := NewMemoryCache(reader, 10*time.Millisecond)

	c.GetAvailable(ctx, "p1")
	time.Sleep(20 * time.Millisecond)
	c.GetAvailable(ctx, "p1")

	if reader.reads.Load() != 2 {
		t.Errorf("expected 2 ledger reads after expiry, got %d", reader.reads.Load())
	}
}

func TestWriteThroughUpdateAndInvalidate(t *testing.T) {
	ctx := context.Background()
	reader := &stubReader{records: map[string]models.StockRecord{
		"p1": {ProductID: "p1", AvailableQty: 7, Version: 3},
	}}
	c := NewMemoryCache(reader, time.Minute)

	c.Update(ctx, "p1", 5, 4)
	qty, fresh := c.GetAvailable(ctx, "p1")
	if !fresh || qty != 5 {
		t.Fatalf("expected updated 5, got %d fresh=%v", qty, fresh)
	}
	if reader.reads.Load() != 0 {
		t.Fatalf("write-through update should not read the ledger")
	}

	c.Invalidate(ctx, "p1")
	_, _ = c.GetAvailable(ctx, "p1")
	if reader.reads.Load() != 1 {
		t.Errorf("invalidation should force a ledger read, got %d", reader.reads.Load())
	}
}

func TestStaleVersionCannotOverwriteNewer(t *testing.T) {
	ctx := context.Background()
	reader := &stubReader{}
	c := NewMemoryCache(reader, time.Minute)

	c.Update(ctx, "p1", 5, 10)
	c.Update(ctx, "p1", 9, 8) // slow writer with an older counter

	qty, fresh := c.GetAvailable(ctx, "p1")
	if !fresh || qty != 5 {
		t.Errorf("stale version overwrote newer entry: got %d fresh=%v", qty, fresh)
	}
}
