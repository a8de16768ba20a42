package domain

import "github.com/shopspring/decimal"

// LoyaltyRule converts loyalty points into a percentage discount on room cost.
// At most one rule is active at a time.
type LoyaltyRule struct {
	ID                    int64           `json:"id"`
	PointsPerPercent      int             `json:"points_per_percent"`
	MaxDiscountPercentage decimal.Decimal `json:"max_discount_percentage"`
	MinPointsToUse        int             `json:"min_points_to_use"`
	Active                bool            `json:"active"`
}

// LoyaltyContext is what the pricing step knows about the booking party's points.
type LoyaltyContext struct {
	Balance int
	Rule    *LoyaltyRule
	Apply   bool
}
