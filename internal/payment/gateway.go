// Package payment simulates an external payment gateway. It never talks to a
// real processor; approval is drawn from a configurable success rate so
// downstream failure handling and rollback paths can be exercised.
package payment

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/drluca/shopstream/ordercore/internal/models"
)

type SimulatedGateway struct {
	successRate float64
	latency     time.Duration

	mu  sync.Mutex
	rng *rand.Rand
	seq int64
}

// NewSimulatedGateway builds a gateway approving roughly successRate of
// authorize calls. A fixed seed gives repeatable runs.
func NewSimulatedGateway(successRate float64, latency time.Duration, seed int64) *SimulatedGateway {
	if successRate < 0 {
		successRate = 0
	}
	if successRate > 1 {
		successRate = 1
	}
	return &SimulatedGateway{
		successRate: successRate,
		latency:     latency,
		rng:         rand.New(rand.NewSource(seed)),
	}
}

// Authorize charges amount against the given method: single attempt,
// synchronous. Respects ctx so a caller-imposed timeout surfaces as
// context.DeadlineExceeded.
func (g *SimulatedGateway) Authorize(ctx context.Context, orderID string, amount int64, method string) error {
	if g.latency > 0 {
		select {
		case <-time.After(g.latency):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	g.mu.Lock()
	approved := g.rng.Float64() < g.successRate
	g.seq++
	seq := g.seq
	g.mu.Unlock()

	if !approved {
		log.Warn().Str("orderId", orderID).Int64("amount", amount).Msg("Payment declined by gateway simulation")
		return fmt.Errorf("%w: gateway declined order %s", models.ErrPaymentDeclined, orderID)
	}
	ref := fmt.Sprintf("PAY-%s-%04d", orderID, seq)
	log.Debug().Str("orderId", orderID).Str("paymentRef", ref).Str("method", method).Msg("Payment authorized")
	return nil
}

// Refund simulates returning funds for a payment reference. The commit path
// never calls this; it exists for operator tooling.
func (g *SimulatedGateway) Refund(paymentRef string, amount int64) error {
	log.Info().Str("paymentRef", paymentRef).Int64("amount", amount).Msg("Refund processed")
	return nil
}
