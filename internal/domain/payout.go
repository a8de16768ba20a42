package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type PayoutStatus string

const (
	PayoutPending    PayoutStatus = "pending"
	PayoutApproved   PayoutStatus = "approved"
	PayoutProcessing PayoutStatus = "processing"
	PayoutCompleted  PayoutStatus = "completed"
	PayoutFailed     PayoutStatus = "failed"
)

// InFlight reports statuses that block a new payout for the same hotel.
func (s PayoutStatus) InFlight() bool {
	return s == PayoutPending || s == PayoutApproved || s == PayoutProcessing
}

// Settled reports statuses whose bookings can never be paid out again.
func (s PayoutStatus) Settled() bool {
	return s == PayoutCompleted || s == PayoutProcessing
}

type PayoutRecord struct {
	ID                int64           `json:"id"`
	Reference         string          `json:"reference"`
	HotelID           int64           `json:"hotel_id"`
	PeriodStart       time.Time       `json:"period_start"`
	PeriodEnd         time.Time       `json:"period_end"`
	GrossRevenue      decimal.Decimal `json:"gross_revenue"`
	CommissionAmount  decimal.Decimal `json:"commission_amount"`
	NetPayout         decimal.Decimal `json:"net_payout"`
	BookingCount      int             `json:"booking_count"`
	Status            PayoutStatus    `json:"status"`
	CreatedAt         time.Time       `json:"created_at"`
	ApprovedAt        *time.Time      `json:"approved_at,omitempty"`
	PaidAt            *time.Time      `json:"paid_at,omitempty"`
	ApprovedBy        *string         `json:"approved_by,omitempty"`
	TransferReference *string         `json:"transfer_reference,omitempty"`
	Notes             string          `json:"notes,omitempty"`
}

// BookingRevenue is the settlement view of a paid booking.
type BookingRevenue struct {
	BookingID int64
	Snapshot  decimal.Decimal
	CreatedAt time.Time
}

// DateRange is an inclusive range of calendar dates (midnight UTC values).
type DateRange struct {
	Start time.Time
	End   time.Time
}

func (r DateRange) Contains(d time.Time) bool {
	return !d.Before(r.Start) && !d.After(r.End)
}

// CivilDate maps t to midnight UTC of its calendar date in loc.
func CivilDate(t time.Time, loc *time.Location) time.Time {
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

type RevenueSummary struct {
	HotelID        int64           `json:"hotel_id"`
	Cutoff         time.Time       `json:"cutoff"`
	PendingRevenue decimal.Decimal `json:"pending_revenue"`
	PendingCount   int             `json:"pending_count"`
	PayableRevenue decimal.Decimal `json:"payable_revenue"`
	PayableCount   int             `json:"payable_count"`
}

type PlatformRevenue struct {
	From          time.Time       `json:"from"`
	To            time.Time       `json:"to"`
	ServiceCharge decimal.Decimal `json:"service_charge"`
	BookingCount  int             `json:"booking_count"`
}
