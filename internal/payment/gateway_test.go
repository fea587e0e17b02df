package payment

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/drluca/shopstream/ordercore/internal/models"
)

func TestAlwaysApprove(t *testing.T) {
	g := NewSimulatedGateway(1.0, 0, 42)
	for i := 0; i < 20; i++ {
		if err := g.Authorize(context.Background(), "o1", 1000, "credit_card"); err != nil {
			t.Fatalf("authorize %d: %v", i, err)
		}
	}
}

func TestAlwaysDecline(t *testing.T) {
	g := NewSimulatedGateway(0.0, 0, 42)
	err := g.Authorize(context.Background(), "o1", 1000, "credit_card")
	if !errors.Is(err, models.ErrPaymentDeclined) {
		t.Fatalf("expected decline, got %v", err)
	}
}

func TestRespectsContextDeadline(t *testing.T) {
	g := NewSimulatedGateway(1.0, time.Second, 42)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	err := g.Authorize(ctx, "o1", 1000, "credit_card")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestSeededRunsAreRepeatable(t *testing.T) {
	first := outcomes(NewSimulatedGateway(0.5, 0, 7))
	second := outcomes(NewSimulatedGateway(0.5, 0, 7))
	if first != second {
		t.Errorf("same seed produced different outcomes: %s vs %s", first, second)
	}
}

func outcomes(g *SimulatedGateway) string {
	var s []byte
	for i := 0; i < 32; i++ {
		if g.Authorize(context.Background(), "o", 100, "card") == nil {
			s = append(s, 'A')
		} else {
			s = append(s, 'D')
		}
	}
	return string(s)
}
