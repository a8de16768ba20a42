package app

import (
	"time"

	"github.com/shopspring/decimal"

	"hotelperhour/internal/domain"
)

var (
	serviceChargeRate = decimal.RequireFromString("0.10")
	hundred           = decimal.NewFromInt(100)
	minutesPerHour    = decimal.NewFromInt(60)
)

const (
	twelveHours     = 12 * time.Hour
	twentyFourHours = 24 * time.Hour
)

type PricingInput struct {
	Hotel    domain.Hotel
	Room     domain.RoomCategory
	Duration time.Duration
	Extras   []domain.Extra
	Loyalty  *domain.LoyaltyContext
}

// PricingCalculator is stateless; the zero value is ready to use.
type PricingCalculator struct{}

func (PricingCalculator) Price(in PricingInput) (domain.PriceBreakdown, error) {
	tariff, roomCost, err := selectTariff(in.Hotel, in.Room, in.Duration)
	if err != nil {
		return domain.PriceBreakdown{}, err
	}
	roomCost = money(roomCost)

	pct, points := loyaltyDiscount(in.Loyalty)
	discount := money(roomCost.Mul(pct).Div(hundred))
	if discount.GreaterThan(roomCost) {
		discount = roomCost
	}

	service := money(roomCost.Mul(serviceChargeRate))
	extras := decimal.Zero
	for _, e := range in.Extras {
		extras = extras.Add(money(e.Price))
	}

	net := roomCost.Sub(discount)
	return domain.PriceBreakdown{
		Tariff:          tariff,
		TotalHours:      hoursOf(in.Duration).Round(2),
		RoomCost:        roomCost,
		DiscountPercent: pct.Round(2),
		DiscountAmount:  discount,
		PointsUsed:      points,
		ServiceCharge:   service,
		ExtrasCost:      extras,
		TotalPrice:      net,
		TotalAmount:     net.Add(service).Add(extras),
		HotelRevenue:    net.Add(extras),
	}, nil
}

// selectTariff resolves the room cost before any discount.
func selectTariff(h domain.Hotel, r domain.RoomCategory, d time.Duration) (domain.TariffKind, decimal.Decimal, error) {
	minHours := h.MinHours
	if minHours <= 0 {
		minHours = domain.DefaultMinHours
	}
	if d <= 0 {
		return "", decimal.Zero, domain.Wrap(domain.ErrInvalidDuration, "duration must be positive")
	}
	if d < time.Duration(minHours)*time.Hour {
		return "", decimal.Zero, domain.Wrap(domain.ErrInvalidDuration, "minimum stay is %d hours", minHours)
	}

	is12, is24 := d == twelveHours, d == twentyFourHours
	fixed := func(kind domain.TariffKind, p *decimal.Decimal, hours int) (domain.TariffKind, decimal.Decimal, error) {
		if p == nil {
			return "", decimal.Zero, domain.Wrap(domain.ErrTariffUnavailable, "no %dh price for %s", hours, r.Name)
		}
		return kind, *p, nil
	}

	switch h.DurationMode {
	case domain.Duration12Only:
		if !is12 {
			return "", decimal.Zero, domain.Wrap(domain.ErrInvalidDuration, "hotel only sells 12 hour stays")
		}
		return fixed(domain.TariffFixed12, r.Price12h, 12)
	case domain.Duration24Only:
		if !is24 {
			return "", decimal.Zero, domain.Wrap(domain.ErrInvalidDuration, "hotel only sells 24 hour stays")
		}
		return fixed(domain.TariffFixed24, r.Price24h, 24)
	case domain.Duration12And24:
		switch {
		case is12:
			return fixed(domain.TariffFixed12, r.Price12h, 12)
		case is24:
			return fixed(domain.TariffFixed24, r.Price24h, 24)
		}
		return "", decimal.Zero, domain.Wrap(domain.ErrInvalidDuration, "hotel only sells 12 or 24 hour stays")
	}

	if is12 && r.Price12h != nil {
		return domain.TariffFixed12, *r.Price12h, nil
	}
	if is24 && r.Price24h != nil {
		return domain.TariffFixed24, *r.Price24h, nil
	}
	if r.HourlyRate == nil {
		return "", decimal.Zero, domain.Wrap(domain.ErrTariffUnavailable, "no hourly rate for %s", r.Name)
	}
	return domain.TariffHourly, r.HourlyRate.Mul(hoursOf(d)), nil
}

// loyaltyDiscount returns the granted percent and the points it consumes.
func loyaltyDiscount(l *domain.LoyaltyContext) (decimal.Decimal, int) {
	if l == nil || !l.Apply || l.Rule == nil || !l.Rule.Active {
		return decimal.Zero, 0
	}
	rule := l.Rule
	if rule.PointsPerPercent <= 0 || l.Balance <= 0 || l.Balance < rule.MinPointsToUse {
		return decimal.Zero, 0
	}

	ppp := decimal.NewFromInt(int64(rule.PointsPerPercent))
	pct := decimal.NewFromInt(int64(l.Balance)).Div(ppp)
	capped := decimal.Min(rule.MaxDiscountPercentage, hundred)
	if pct.LessThanOrEqual(capped) {
		return pct, l.Balance
	}
	if capped.Sign() <= 0 {
		return decimal.Zero, 0
	}
	return capped, int(capped.Mul(ppp).Floor().IntPart())
}

func hoursOf(d time.Duration) decimal.Decimal {
	return decimal.NewFromInt(int64(d / time.Minute)).Div(minutesPerHour)
}

func money(d decimal.Decimal) decimal.Decimal { return d.Round(2) }

// toKobo converts a naira amount to the gateway's minor unit.
func toKobo(d decimal.Decimal) int64 { return d.Mul(hundred).Round(0).IntPart() }
