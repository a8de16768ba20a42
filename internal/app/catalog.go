package app

import (
	"context"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"hotelperhour/internal/domain"
)

// CatalogService backs the operator toggles that feed availability and pricing.
type CatalogService struct {
	catalog domain.CatalogRepository
	loyalty domain.LoyaltyRepository
}

func NewCatalogService(c domain.CatalogRepository, l domain.LoyaltyRepository) *CatalogService {
	return &CatalogService{catalog: c, loyalty: l}
}

func (s *CatalogService) SetRoomAvailability(ctx context.Context, roomID int64, available bool) error {
	if err := s.catalog.SetRoomAvailability(ctx, roomID, available); err != nil {
		return err
	}
	log.Info().Int64("room_id", roomID).Bool("available", available).Msg("room availability changed")
	return nil
}

// SetHotelApproval lists or delists a hotel. Unapproved hotels quote no rooms
// but keep their paid bookings and payouts.
func (s *CatalogService) SetHotelApproval(ctx context.Context, hotelID int64, approved bool) error {
	if err := s.catalog.SetHotelApproval(ctx, hotelID, approved); err != nil {
		return err
	}
	log.Info().Int64("hotel_id", hotelID).Bool("approved", approved).Msg("hotel approval changed")
	return nil
}

// ActivateLoyaltyRule replaces the active rule. Earlier rules are deactivated
// in the same write.
func (s *CatalogService) ActivateLoyaltyRule(ctx context.Context, r domain.LoyaltyRule) (domain.LoyaltyRule, error) {
	switch {
	case r.PointsPerPercent <= 0:
		return domain.LoyaltyRule{}, domain.Wrap(domain.ErrValidation, "points_per_percent must be positive")
	case r.MaxDiscountPercentage.Sign() < 0 || r.MaxDiscountPercentage.GreaterThan(decimal.NewFromInt(100)):
		return domain.LoyaltyRule{}, domain.Wrap(domain.ErrValidation, "max_discount_percentage must be within 0..100")
	case r.MinPointsToUse < 0:
		return domain.LoyaltyRule{}, domain.Wrap(domain.ErrValidation, "min_points_to_use must not be negative")
	}
	r.Active = true
	return s.loyalty.ActivateRule(ctx, r)
}

func (s *CatalogService) ActiveLoyaltyRule(ctx context.Context) (*domain.LoyaltyRule, error) {
	return s.loyalty.ActiveRule(ctx)
}
