package app

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"hotelperhour/internal/domain"
)

const DefaultHoldingDays = 3

var defaultCommissionRate = decimal.RequireFromString("0.10")

type SettlementConfig struct {
	HoldingDays    int
	CommissionRate decimal.Decimal
	// Location decides which calendar day a booking was created on.
	Location     *time.Location
	Clock        func() time.Time
	NewReference func(time.Time) string
}

type SettlementService struct {
	payouts domain.PayoutRepository
	events  *Dispatcher
	cfg     SettlementConfig
}

func NewSettlementService(p domain.PayoutRepository, events *Dispatcher, cfg SettlementConfig) *SettlementService {
	if cfg.HoldingDays <= 0 {
		cfg.HoldingDays = DefaultHoldingDays
	}
	if cfg.CommissionRate.Sign() <= 0 {
		cfg.CommissionRate = defaultCommissionRate
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.NewReference == nil {
		cfg.NewReference = NewPayoutReference
	}
	return &SettlementService{payouts: p, events: events, cfg: cfg}
}

// eligibleBefore is the first instant whose bookings are still inside the
// holding period: created_at.date <= today - HoldingDays  <=>  created_at < result.
func (s *SettlementService) eligibleBefore(now time.Time) time.Time {
	y, m, d := now.In(s.cfg.Location).Date()
	today := time.Date(y, m, d, 0, 0, 0, 0, s.cfg.Location)
	return today.AddDate(0, 0, 1-s.cfg.HoldingDays)
}

func coveredBy(periods []domain.DateRange, day time.Time) bool {
	for _, p := range periods {
		if p.Contains(day) {
			return true
		}
	}
	return false
}

// partition splits unsettled bookings into payable and still-held sets, dropping
// any whose day already lies in a completed or processing payout period.
func (s *SettlementService) partition(rows []domain.BookingRevenue, settled []domain.DateRange, before time.Time) (payable, held []domain.BookingRevenue) {
	for _, r := range rows {
		if coveredBy(settled, domain.CivilDate(r.CreatedAt, s.cfg.Location)) {
			continue
		}
		if r.CreatedAt.Before(before) {
			payable = append(payable, r)
		} else {
			held = append(held, r)
		}
	}
	return payable, held
}

func sumSnapshots(rows []domain.BookingRevenue) decimal.Decimal {
	total := decimal.Zero
	for _, r := range rows {
		total = total.Add(r.Snapshot)
	}
	return total
}

// CreatePayout settles every eligible paid booking of a hotel into one approved
// PayoutRecord. The hotel row stays locked for the whole check-and-insert.
func (s *SettlementService) CreatePayout(ctx context.Context, hotelID int64, operator string) (domain.PayoutRecord, error) {
	now := s.cfg.Clock().UTC()
	before := s.eligibleBefore(now)

	var out domain.PayoutRecord
	err := s.payouts.InSettlementTx(ctx, func(tx domain.SettlementTx) error {
		if _, err := tx.LockHotel(ctx, hotelID); err != nil {
			return err
		}
		rows, err := tx.UnsettledBookings(ctx, hotelID)
		if err != nil {
			return err
		}
		settled, err := tx.SettledPeriods(ctx, hotelID)
		if err != nil {
			return err
		}
		payable, _ := s.partition(rows, settled, before)
		if len(payable) == 0 {
			return domain.Wrap(domain.ErrNoPayableRevenue, "hotel %d has no paid bookings older than %d days", hotelID, s.cfg.HoldingDays)
		}

		inFlight, err := tx.CountInFlightPayouts(ctx, hotelID)
		if err != nil {
			return err
		}
		if inFlight > 0 {
			return domain.ErrPayoutAlreadyInFlight
		}

		p := s.buildPayout(hotelID, payable, now, operator)
		if err := tx.InsertPayout(ctx, &p); err != nil {
			return err
		}
		ids := make([]int64, len(payable))
		for i, r := range payable {
			ids[i] = r.BookingID
		}
		if err := tx.AttachBookings(ctx, p.ID, ids); err != nil {
			return err
		}
		out = p
		return nil
	})
	if err != nil {
		return domain.PayoutRecord{}, err
	}

	log.Info().
		Int64("hotel_id", hotelID).
		Int64("payout_id", out.ID).
		Str("gross", out.GrossRevenue.StringFixed(2)).
		Str("net", out.NetPayout.StringFixed(2)).
		Int("bookings", out.BookingCount).
		Msg("payout created")
	return out, nil
}

func (s *SettlementService) buildPayout(hotelID int64, rows []domain.BookingRevenue, now time.Time, operator string) domain.PayoutRecord {
	days := make([]time.Time, len(rows))
	for i, r := range rows {
		days[i] = domain.CivilDate(r.CreatedAt, s.cfg.Location)
	}
	sort.Slice(days, func(i, j int) bool { return days[i].Before(days[j]) })

	gross := sumSnapshots(rows)
	commission := money(gross.Mul(s.cfg.CommissionRate))
	return domain.PayoutRecord{
		Reference:        s.cfg.NewReference(now.In(s.cfg.Location)),
		HotelID:          hotelID,
		PeriodStart:      days[0],
		PeriodEnd:        days[len(days)-1],
		GrossRevenue:     gross,
		CommissionAmount: commission,
		NetPayout:        gross.Sub(commission),
		BookingCount:     len(rows),
		Status:           domain.PayoutApproved,
		CreatedAt:        now,
		ApprovedAt:       &now,
		ApprovedBy:       ptrStr(operator),
	}
}

// MarkProcessing records that the bank transfer has been started.
func (s *SettlementService) MarkProcessing(ctx context.Context, payoutID int64, transferRef string) (domain.PayoutRecord, error) {
	p, _, err := s.transition(ctx, payoutID, func(p *domain.PayoutRecord, now time.Time) error {
		if p.Status != domain.PayoutApproved {
			return domain.Wrap(domain.ErrInvalidPayoutTransition, "cannot start a %s payout", p.Status)
		}
		p.Status = domain.PayoutProcessing
		if ref := ptrStr(transferRef); ref != nil {
			p.TransferReference = ref
		}
		return nil
	})
	return p, err
}

// CompletePayout closes a payout with the external transfer reference and
// notifies the hotel.
func (s *SettlementService) CompletePayout(ctx context.Context, payoutID int64, transferRef string) (domain.PayoutRecord, error) {
	p, h, err := s.transition(ctx, payoutID, func(p *domain.PayoutRecord, now time.Time) error {
		if p.Status != domain.PayoutApproved && p.Status != domain.PayoutProcessing {
			return domain.Wrap(domain.ErrInvalidPayoutTransition, "cannot complete a %s payout", p.Status)
		}
		if ref := ptrStr(transferRef); ref != nil {
			p.TransferReference = ref
		}
		if p.TransferReference == nil {
			return domain.Wrap(domain.ErrValidation, "transfer reference is required")
		}
		p.Status = domain.PayoutCompleted
		p.PaidAt = &now
		return nil
	})
	if err != nil {
		return domain.PayoutRecord{}, err
	}
	s.events.Dispatch(ctx, payoutEvent(p, h))
	return p, nil
}

// FailPayout marks a transfer as failed and releases its bookings so a later
// payout can pick them up.
func (s *SettlementService) FailPayout(ctx context.Context, payoutID int64, reason string) (domain.PayoutRecord, error) {
	p, _, err := s.transition(ctx, payoutID, func(p *domain.PayoutRecord, now time.Time) error {
		if !p.Status.InFlight() {
			return domain.Wrap(domain.ErrInvalidPayoutTransition, "cannot fail a %s payout", p.Status)
		}
		p.Status = domain.PayoutFailed
		if reason = strings.TrimSpace(reason); reason != "" {
			p.Notes = reason
		}
		return nil
	})
	if err == nil {
		log.Warn().Int64("payout_id", p.ID).Int64("hotel_id", p.HotelID).Str("reason", reason).Msg("payout failed; bookings released")
	}
	return p, err
}

// transition applies fn to a payout under the hotel lock, then the payout lock.
func (s *SettlementService) transition(ctx context.Context, payoutID int64, fn func(p *domain.PayoutRecord, now time.Time) error) (domain.PayoutRecord, domain.Hotel, error) {
	current, err := s.payouts.PayoutByID(ctx, payoutID)
	if err != nil {
		return domain.PayoutRecord{}, domain.Hotel{}, err
	}
	now := s.cfg.Clock().UTC()

	var (
		out   domain.PayoutRecord
		hotel domain.Hotel
	)
	err = s.payouts.InSettlementTx(ctx, func(tx domain.SettlementTx) error {
		h, err := tx.LockHotel(ctx, current.HotelID)
		if err != nil {
			return err
		}
		p, err := tx.LockPayout(ctx, payoutID)
		if err != nil {
			return err
		}
		if err := fn(&p, now); err != nil {
			return err
		}
		if err := tx.UpdatePayout(ctx, p); err != nil {
			return err
		}
		if p.Status == domain.PayoutFailed {
			if err := tx.ReleaseBookings(ctx, p.ID); err != nil {
				return err
			}
		}
		out, hotel = p, h
		return nil
	})
	if err != nil {
		return domain.PayoutRecord{}, domain.Hotel{}, err
	}
	log.Info().Int64("payout_id", out.ID).Str("status", string(out.Status)).Msg("payout updated")
	return out, hotel, nil
}

// RevenueSummary reports revenue still in the holding period and revenue ready
// for the next payout, using the same snapshot sums as CreatePayout.
func (s *SettlementService) RevenueSummary(ctx context.Context, hotelID int64) (domain.RevenueSummary, error) {
	rows, err := s.payouts.UnsettledBookings(ctx, hotelID)
	if err != nil {
		return domain.RevenueSummary{}, fmt.Errorf("unsettled bookings for hotel %d: %w", hotelID, err)
	}
	settled, err := s.payouts.SettledPeriods(ctx, hotelID)
	if err != nil {
		return domain.RevenueSummary{}, fmt.Errorf("settled periods for hotel %d: %w", hotelID, err)
	}
	before := s.eligibleBefore(s.cfg.Clock())
	payable, held := s.partition(rows, settled, before)
	return domain.RevenueSummary{
		HotelID:        hotelID,
		Cutoff:         domain.CivilDate(before.AddDate(0, 0, -1), s.cfg.Location),
		PendingRevenue: sumSnapshots(held),
		PendingCount:   len(held),
		PayableRevenue: sumSnapshots(payable),
		PayableCount:   len(payable),
	}, nil
}

func (s *SettlementService) ListPayouts(ctx context.Context, hotelID int64) ([]domain.PayoutRecord, error) {
	return s.payouts.ListPayouts(ctx, hotelID)
}

func (s *SettlementService) Payout(ctx context.Context, id int64) (domain.PayoutRecord, error) {
	return s.payouts.PayoutByID(ctx, id)
}
