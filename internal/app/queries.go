package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"hotelperhour/internal/domain"
)

type QueryService struct {
	bookings domain.BookingRepository
	cache    domain.Cache
	cacheTTL time.Duration
}

func NewQueryService(b domain.BookingRepository, c domain.Cache, ttl time.Duration) *QueryService {
	return &QueryService{bookings: b, cache: c, cacheTTL: ttl}
}

func bookingKey(ref string) string { return "booking:" + strings.ToUpper(ref) }

// GetBooking looks a booking up by its reference. Paid bookings never change
// (payout attachment aside), so only they are cached.
func (s *QueryService) GetBooking(ctx context.Context, reference string) (domain.Booking, error) {
	reference = strings.TrimSpace(reference)
	if reference == "" {
		return domain.Booking{}, domain.Wrap(domain.ErrValidation, "reference is required")
	}
	key := bookingKey(reference)
	var b domain.Booking
	if ok, _ := s.cache.Get(ctx, key, &b); ok {
		return b, nil
	}
	b, err := s.bookings.BookingByReference(ctx, reference)
	if err != nil {
		return domain.Booking{}, err
	}
	if b.IsPaid {
		_ = s.cache.Set(ctx, key, b, int(s.cacheTTL.Seconds()))
	}
	return b, nil
}

// PlatformRevenue sums the service charge of paid bookings created in [from, to).
func (s *QueryService) PlatformRevenue(ctx context.Context, from, to time.Time) (domain.PlatformRevenue, error) {
	if !from.Before(to) {
		return domain.PlatformRevenue{}, domain.Wrap(domain.ErrValidation, "from must be before to")
	}
	key := fmt.Sprintf("revenue:%d:%d", from.Unix(), to.Unix())
	var out domain.PlatformRevenue
	if ok, _ := s.cache.Get(ctx, key, &out); ok {
		return out, nil
	}
	total, n, err := s.bookings.PlatformRevenue(ctx, from, to)
	if err != nil {
		return domain.PlatformRevenue{}, fmt.Errorf("platform revenue: %w", err)
	}
	out = domain.PlatformRevenue{From: from, To: to, ServiceCharge: total, BookingCount: n}
	_ = s.cache.Set(ctx, key, out, int(s.cacheTTL.Seconds()))
	return out, nil
}
