package reservation

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// Sweeper periodically frees reservations that outlived their TTL without
// reaching commit. It talks to the ledger only through the same CAS-protected
// operations as the request path, so a sweep racing a concurrent commit is
// resolved by the manager's status flip: whichever reaches the reservation
// first wins.
type Sweeper struct {
	manager  *Manager
	interval time.Duration
}

func NewSweeper(manager *Manager, interval time.Duration) *Sweeper {
	return &Sweeper{manager: manager, interval: interval}
}

// Start blocks until ctx is cancelled. Run it on its own goroutine.
func (s *Sweeper) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	log.Info().Dur("interval", s.interval).Msg("Reservation sweeper started")
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Reservation sweeper stopped")
			return
		case <-ticker.C:
			if n := s.manager.SweepExpired(ctx, time.Now()); n > 0 {
				log.Info().Int("released", n).Msg("Swept expired reservations")
			}
		}
	}
}
