package order

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/drluca/shopstream/ordercore/internal/models"
)

// Recover reconciles the ledger after a restart, before serving traffic.
// Orders interrupted between Paid and the ledger decrement have their commit
// resumed; because the decrement is keyed by reservation ID, re-running a
// commit that already landed touches nothing, so each interrupted order
// completes exactly once. Orders that died before Paid are failed and their
// recorded holds returned to available stock — the submissions that owned them
// died with the process, and with a durable ledger nothing else would ever
// release those counters.
func (sm *StateMachine) Recover(ctx context.Context) error {
	if err := sm.resumePaid(ctx); err != nil {
		return err
	}
	return sm.failInterrupted(ctx)
}

func (sm *StateMachine) resumePaid(ctx context.Context) error {
	pending, err := sm.deps.Ledger.PendingCommits(ctx)
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		return nil
	}
	log.Info().Int("orders", len(pending)).Msg("Resuming interrupted commits")

	for _, o := range pending {
		applied, err := sm.deps.Ledger.ApplyCommit(ctx, o.ReservationID, o.Items)
		if err != nil {
			log.Error().Err(err).Str("orderId", o.ID).Msg("Commit recovery failed; will retry next start")
			continue
		}
		if applied {
			sm.incrementCoupons(ctx, o)
		}
		for _, item := range o.Items {
			sm.deps.Cache.Invalidate(ctx, item.ProductID)
		}
		if err := sm.setStatus(ctx, o, models.OrderStatusCommitted); err != nil {
			log.Error().Err(err).Str("orderId", o.ID).Msg("Commit recovery could not persist status")
			continue
		}
		log.Info().Str("orderId", o.ID).Bool("decrementApplied", applied).Msg("Interrupted commit resumed")
		sm.publishCommitted(ctx, o)
	}
	return nil
}

func (sm *StateMachine) failInterrupted(ctx context.Context) error {
	stranded, err := sm.deps.Ledger.InFlightOrders(ctx)
	if err != nil {
		return err
	}
	if len(stranded) == 0 {
		return nil
	}
	log.Info().Int("orders", len(stranded)).Msg("Failing orders interrupted before payment")

	for _, o := range stranded {
		if o.ReservationID != "" {
			released, err := sm.deps.Ledger.ReleaseHold(ctx, o.ReservationID, o.Items)
			if err != nil {
				log.Error().Err(err).Str("orderId", o.ID).Msg("Hold release failed during recovery; will retry next start")
				continue
			}
			if released {
				for _, item := range o.Items {
					sm.deps.Cache.Invalidate(ctx, item.ProductID)
				}
			}
		}
		o.FailureReason = "interrupted by restart"
		if err := sm.setStatus(ctx, o, models.OrderStatusFailed); err != nil {
			log.Error().Err(err).Str("orderId", o.ID).Msg("Recovery could not persist failed status")
			continue
		}
		sm.publishFailed(ctx, o)
	}
	return nil
}
