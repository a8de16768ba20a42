package main

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/semaphore"

	"hotelperhour/internal/domain"
)

const operatorName = "settler"

type payoutCreator interface {
	CreatePayout(ctx context.Context, hotelID int64, operator string) (domain.PayoutRecord, error)
}

type runSummary struct {
	Created int
	Skipped int
	Failed  int
}

// settleHotels creates one payout per hotel with at most workers in flight.
// Hotels with nothing payable or a payout already in flight count as skipped.
func settleHotels(ctx context.Context, svc payoutCreator, hotelIDs []int64, workers int) runSummary {
	if workers <= 0 {
		workers = 1
	}
	sem := semaphore.NewWeighted(int64(workers))
	var (
		wg  sync.WaitGroup
		mu  sync.Mutex
		sum runSummary
	)

	for _, id := range hotelIDs {
		// acquire before launching the goroutine; release inside it
		if err := sem.Acquire(ctx, 1); err != nil {
			log.Warn().Err(err).Msg("settlement run interrupted")
			break
		}

		wg.Add(1)
		go func(hotelID int64) {
			defer wg.Done()
			defer sem.Release(1)

			p, err := svc.CreatePayout(ctx, hotelID, operatorName)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				sum.Created++
				log.Info().
					Int64("hotel_id", hotelID).
					Str("reference", p.Reference).
					Str("net", p.NetPayout.StringFixed(2)).
					Int("bookings", p.BookingCount).
					Msg("payout created")
			case errors.Is(err, domain.ErrNoPayableRevenue), errors.Is(err, domain.ErrPayoutAlreadyInFlight):
				sum.Skipped++
				log.Debug().Int64("hotel_id", hotelID).Str("code", domain.CodeOf(err)).Msg("hotel skipped")
			default:
				sum.Failed++
				log.Warn().Int64("hotel_id", hotelID).Err(err).Msg("payout failed")
			}
		}(id)
	}

	wg.Wait()
	return sum
}
