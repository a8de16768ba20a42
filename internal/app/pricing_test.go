package app_test

import (
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hotelperhour/internal/app"
	"hotelperhour/internal/domain"
)

func hourlyRoom(rate string) domain.RoomCategory {
	return domain.RoomCategory{ID: 1, Name: "Deluxe", TotalUnits: 1, HourlyRate: pdec(rate), IsAvailable: true}
}

func openHotel() domain.Hotel {
	return domain.Hotel{ID: 1, IsApproved: true, DurationMode: domain.DurationAll, MinHours: 3}
}

func TestPrice_HourlyNoDiscount(t *testing.T) {
	p, err := app.PricingCalculator{}.Price(app.PricingInput{
		Hotel:    openHotel(),
		Room:     hourlyRoom("5000"),
		Duration: 6 * time.Hour,
	})
	require.NoError(t, err)

	assert.Equal(t, domain.TariffHourly, p.Tariff)
	assert.True(t, p.RoomCost.Equal(dec("30000")), "room cost %s", p.RoomCost)
	assert.True(t, p.ServiceCharge.Equal(dec("3000")), "service %s", p.ServiceCharge)
	assert.True(t, p.TotalAmount.Equal(dec("33000")), "total %s", p.TotalAmount)
	assert.True(t, p.HotelRevenue.Equal(dec("30000")), "hotel revenue %s", p.HotelRevenue)
	assert.Zero(t, p.PointsUsed)
}

func TestPrice_LoyaltyDiscount(t *testing.T) {
	rule := &domain.LoyaltyRule{PointsPerPercent: 100, MaxDiscountPercentage: dec("20"), MinPointsToUse: 100, Active: true}
	p, err := app.PricingCalculator{}.Price(app.PricingInput{
		Hotel:    openHotel(),
		Room:     hourlyRoom("5000"),
		Duration: 4 * time.Hour, // 20,000
		Loyalty:  &domain.LoyaltyContext{Balance: 500, Rule: rule, Apply: true},
	})
	require.NoError(t, err)

	assert.True(t, p.RoomCost.Equal(dec("20000")))
	assert.True(t, p.DiscountPercent.Equal(dec("5")), "pct %s", p.DiscountPercent)
	assert.True(t, p.DiscountAmount.Equal(dec("1000")), "discount %s", p.DiscountAmount)
	assert.Equal(t, 500, p.PointsUsed)
	// service charge stays on the face value
	assert.True(t, p.ServiceCharge.Equal(dec("2000")))
	assert.True(t, p.TotalPrice.Equal(dec("19000")))
	assert.True(t, p.TotalAmount.Equal(dec("21000")))
}

func TestPrice_LoyaltyCappedAndThreshold(t *testing.T) {
	rule := &domain.LoyaltyRule{PointsPerPercent: 100, MaxDiscountPercentage: dec("20"), MinPointsToUse: 300, Active: true}
	in := app.PricingInput{Hotel: openHotel(), Room: hourlyRoom("5000"), Duration: 4 * time.Hour}

	in.Loyalty = &domain.LoyaltyContext{Balance: 5000, Rule: rule, Apply: true}
	p, err := app.PricingCalculator{}.Price(in)
	require.NoError(t, err)
	assert.True(t, p.DiscountPercent.Equal(dec("20")))
	assert.Equal(t, 2000, p.PointsUsed)
	assert.True(t, p.DiscountAmount.Equal(dec("4000")))

	in.Loyalty = &domain.LoyaltyContext{Balance: 299, Rule: rule, Apply: true}
	p, err = app.PricingCalculator{}.Price(in)
	require.NoError(t, err)
	assert.True(t, p.DiscountAmount.IsZero(), "below min_points_to_use grants nothing")

	in.Loyalty = &domain.LoyaltyContext{Balance: 5000, Rule: rule, Apply: false}
	p, err = app.PricingCalculator{}.Price(in)
	require.NoError(t, err)
	assert.True(t, p.DiscountAmount.IsZero(), "opt-out grants nothing")
	assert.Zero(t, p.PointsUsed)
}

func TestPrice_FixedTariffs(t *testing.T) {
	room := hourlyRoom("5000")
	room.Price12h = pdec("45000")
	room.Price24h = pdec("80000")

	cases := []struct {
		name   string
		hours  time.Duration
		tariff domain.TariffKind
		cost   string
	}{
		{"exactly 12h uses fixed", 12 * time.Hour, domain.TariffFixed12, "45000"},
		{"exactly 24h uses fixed", 24 * time.Hour, domain.TariffFixed24, "80000"},
		{"13h falls back to hourly", 13 * time.Hour, domain.TariffHourly, "65000"},
		{"fractional hours", 3*time.Hour + 30*time.Minute, domain.TariffHourly, "17500"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p, err := app.PricingCalculator{}.Price(app.PricingInput{Hotel: openHotel(), Room: room, Duration: tc.hours})
			require.NoError(t, err)
			assert.Equal(t, tc.tariff, p.Tariff)
			assert.True(t, p.RoomCost.Equal(dec(tc.cost)), "cost %s", p.RoomCost)
		})
	}
}

func TestPrice_DurationModes(t *testing.T) {
	room := hourlyRoom("5000")
	room.Price12h = pdec("45000")

	cases := []struct {
		name  string
		mode  domain.DurationMode
		hours time.Duration
		want  *domain.Error
	}{
		{"12_only accepts 12h", domain.Duration12Only, 12 * time.Hour, nil},
		{"12_only rejects 6h", domain.Duration12Only, 6 * time.Hour, domain.ErrInvalidDuration},
		{"24_only without 24h price", domain.Duration24Only, 24 * time.Hour, domain.ErrTariffUnavailable},
		{"12_and_24 rejects 5h", domain.Duration12And24, 5 * time.Hour, domain.ErrInvalidDuration},
		{"12_and_24 accepts 12h", domain.Duration12And24, 12 * time.Hour, nil},
		{"below minimum", domain.DurationAll, 2 * time.Hour, domain.ErrInvalidDuration},
		{"zero", domain.DurationAll, 0, domain.ErrInvalidDuration},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := openHotel()
			h.DurationMode = tc.mode
			_, err := app.PricingCalculator{}.Price(app.PricingInput{Hotel: h, Room: room, Duration: tc.hours})
			if tc.want == nil {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, errors.Is(err, tc.want), "got %v", err)
			assert.Equal(t, domain.KindPricing, domain.KindOf(err))
		})
	}
}

func TestPrice_MissingHourlyRate(t *testing.T) {
	room := domain.RoomCategory{Name: "Suite", Price12h: pdec("40000")}
	_, err := app.PricingCalculator{}.Price(app.PricingInput{Hotel: openHotel(), Room: room, Duration: 5 * time.Hour})
	assert.ErrorIs(t, err, domain.ErrTariffUnavailable)
}

func TestPrice_ExtrasGoToHotel(t *testing.T) {
	p, err := app.PricingCalculator{}.Price(app.PricingInput{
		Hotel:    openHotel(),
		Room:     hourlyRoom("2500"),
		Duration: 3 * time.Hour,
		Extras: []domain.Extra{
			{ID: 1, Price: dec("1500")},
			{ID: 2, Price: dec("750.50")},
		},
	})
	require.NoError(t, err)
	assert.True(t, p.ExtrasCost.Equal(dec("2250.50")))
	assert.True(t, p.HotelRevenue.Equal(dec("9750.50")))
	assert.True(t, p.TotalAmount.Equal(dec("10500.50")))
}

// Identities must hold to the kobo for arbitrary rates, durations and balances.
func TestPrice_IdentitiesHold(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 500; i++ {
		rate := decimal.New(int64(rng.Intn(9_999_99)+1), -2)
		minutes := 180 + rng.Intn(24*60)
		maxPct := decimal.New(int64(rng.Intn(5000)), -2)
		rule := &domain.LoyaltyRule{PointsPerPercent: 1 + rng.Intn(300), MaxDiscountPercentage: maxPct, MinPointsToUse: rng.Intn(200), Active: true}
		balance := rng.Intn(20000)
		extras := make([]domain.Extra, rng.Intn(3))
		for j := range extras {
			extras[j] = domain.Extra{ID: int64(j), Price: decimal.New(int64(rng.Intn(100000)), -2)}
		}

		room := hourlyRoom("1")
		room.HourlyRate = &rate
		p, err := app.PricingCalculator{}.Price(app.PricingInput{
			Hotel:    openHotel(),
			Room:     room,
			Duration: time.Duration(minutes) * time.Minute,
			Extras:   extras,
			Loyalty:  &domain.LoyaltyContext{Balance: balance, Rule: rule, Apply: true},
		})
		require.NoError(t, err)

		require.True(t, p.TotalAmount.Equal(p.TotalPrice.Add(p.ServiceCharge).Add(p.ExtrasCost)), "case %d total", i)
		require.True(t, p.HotelRevenue.Equal(p.TotalPrice.Add(p.ExtrasCost)), "case %d revenue", i)
		require.True(t, p.DiscountPercent.LessThanOrEqual(maxPct), "case %d pct %s > %s", i, p.DiscountPercent, maxPct)
		require.LessOrEqual(t, p.PointsUsed, balance, "case %d points", i)
		require.True(t, p.DiscountAmount.LessThanOrEqual(p.RoomCost), "case %d discount", i)
		require.Equal(t, int32(-2), minExp(p.TotalAmount), "case %d rounding", i)
	}
}

// minExp reports the exponent after rounding to cents; -2 means at most 2 places.
func minExp(d decimal.Decimal) int32 {
	if d.Equal(d.Round(2)) {
		return -2
	}
	return d.Exponent()
}
