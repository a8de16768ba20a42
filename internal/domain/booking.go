package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Window is a half-open stay interval [CheckIn, CheckOut).
type Window struct {
	CheckIn  time.Time `json:"check_in"`
	CheckOut time.Time `json:"check_out"`
}

func (w Window) Valid() bool { return w.CheckIn.Before(w.CheckOut) }

func (w Window) Duration() time.Duration { return w.CheckOut.Sub(w.CheckIn) }

func (w Window) Overlaps(o Window) bool {
	return w.CheckIn.Before(o.CheckOut) && w.CheckOut.After(o.CheckIn)
}

type PartyKind string

const (
	PartyNone    PartyKind = "none"    // at-desk or anonymous
	PartyGuest   PartyKind = "guest"   // online guest without an account
	PartyAccount PartyKind = "account" // registered account, see AccountKind
)

type AccountKind string

const (
	AccountCustomer AccountKind = "customer"
	AccountUser     AccountKind = "user"
)

// BookingParty identifies who booked. Only customer accounts hold loyalty points.
type BookingParty struct {
	Kind    PartyKind   `json:"kind"`
	Account AccountKind `json:"account,omitempty"`
	ID      int64       `json:"id,omitempty"`
}

func NoParty() BookingParty    { return BookingParty{Kind: PartyNone} }
func GuestParty() BookingParty { return BookingParty{Kind: PartyGuest} }
func AccountParty(kind AccountKind, id int64) BookingParty {
	return BookingParty{Kind: PartyAccount, Account: kind, ID: id}
}

func (p BookingParty) CustomerID() (int64, bool) {
	if p.Kind == PartyAccount && p.Account == AccountCustomer && p.ID > 0 {
		return p.ID, true
	}
	return 0, false
}

// StorageKind flattens the variant into the persisted party_kind column.
func (p BookingParty) StorageKind() string {
	if p.Kind == PartyAccount {
		return string(p.Account)
	}
	if p.Kind == "" {
		return string(PartyNone)
	}
	return string(p.Kind)
}

// PartyFromStorage rebuilds the variant from (party_kind, party_id).
func PartyFromStorage(kind string, id *int64) BookingParty {
	switch kind {
	case string(AccountCustomer), string(AccountUser):
		if id != nil {
			return AccountParty(AccountKind(kind), *id)
		}
	case string(PartyGuest):
		return GuestParty()
	}
	return NoParty()
}

type ContactInfo struct {
	Name  string  `json:"name"`
	Email *string `json:"email,omitempty"`
	Phone string  `json:"phone"`
}

type TariffKind string

const (
	TariffHourly  TariffKind = "hourly"
	TariffFixed12 TariffKind = "fixed_12h"
	TariffFixed24 TariffKind = "fixed_24h"
)

// PriceBreakdown is the output of pricing. All money is rounded to 2 places.
type PriceBreakdown struct {
	Tariff          TariffKind      `json:"tariff"`
	TotalHours      decimal.Decimal `json:"total_hours"`
	RoomCost        decimal.Decimal `json:"room_cost"`
	DiscountPercent decimal.Decimal `json:"discount_percent"`
	DiscountAmount  decimal.Decimal `json:"discount_amount"`
	PointsUsed      int             `json:"points_used"`
	ServiceCharge   decimal.Decimal `json:"service_charge"`
	ExtrasCost      decimal.Decimal `json:"extras_cost"`
	TotalPrice      decimal.Decimal `json:"total_price"`
	TotalAmount     decimal.Decimal `json:"total_amount"`
	HotelRevenue    decimal.Decimal `json:"hotel_revenue"`
}

type ReservationState string

const (
	StateQuoted         ReservationState = "QUOTED"
	StatePendingPayment ReservationState = "PENDING_PAYMENT"
	StatePaid           ReservationState = "PAID"
	StateExpired        ReservationState = "EXPIRED"
)

type Quote struct {
	Reference  string           `json:"reference"`
	HotelID    int64            `json:"hotel_id"`
	HotelName  string           `json:"hotel_name"`
	HotelEmail *string          `json:"hotel_email,omitempty"`
	RoomID     int64            `json:"room_id"`
	RoomName   string           `json:"room_name"`
	Window     Window           `json:"window"`
	Extras     []Extra          `json:"extras,omitempty"`
	Party      BookingParty     `json:"party"`
	Price      PriceBreakdown   `json:"price"`
	State      ReservationState `json:"state"`
	QuotedAt   time.Time        `json:"quoted_at"`
}

// Reservation is the short-lived pending-store value between checkout and payment.
type Reservation struct {
	Quote     Quote            `json:"quote"`
	Contact   ContactInfo      `json:"contact"`
	State     ReservationState `json:"state"`
	CreatedAt time.Time        `json:"created_at"`
	ExpiresAt time.Time        `json:"expires_at"`
	// AuthorizationURL is the gateway checkout page once one was opened.
	AuthorizationURL string `json:"authorization_url,omitempty"`
}

// Booking is the durable record of a paid reservation.
type Booking struct {
	ID                   int64
	Reference            string
	HotelID              int64
	RoomID               int64
	Window               Window
	TotalHours           decimal.Decimal
	TotalPrice           decimal.Decimal
	ServiceCharge        decimal.Decimal
	DiscountApplied      decimal.Decimal
	PointsUsed           int
	ExtrasCost           decimal.Decimal
	TotalAmount          decimal.Decimal
	HotelRevenueSnapshot decimal.Decimal
	ExtraIDs             []int64
	Party                BookingParty
	Contact              ContactInfo
	IsPaid               bool
	PaymentReference     *string
	PayoutID             *int64
	CreatedAt            time.Time
}
