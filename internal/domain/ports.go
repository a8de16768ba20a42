package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

type CatalogRepository interface {
	RoomWithHotel(ctx context.Context, roomID int64) (RoomCategory, Hotel, error)
	HotelByID(ctx context.Context, hotelID int64) (Hotel, error)
	// ExtrasByIDs returns only extras that belong to hotelID.
	ExtrasByIDs(ctx context.Context, hotelID int64, ids []int64) ([]Extra, error)
	SetRoomAvailability(ctx context.Context, roomID int64, available bool) error
	SetHotelApproval(ctx context.Context, hotelID int64, approved bool) error
}

type LoyaltyRepository interface {
	// ActiveRule returns nil when no rule is active.
	ActiveRule(ctx context.Context) (*LoyaltyRule, error)
	// ActivateRule stores r as the only active rule.
	ActivateRule(ctx context.Context, r LoyaltyRule) (LoyaltyRule, error)
	PointsBalance(ctx context.Context, customerID int64) (int, error)
}

type BookingRepository interface {
	// Read paths
	BookingByReference(ctx context.Context, reference string) (Booking, error)
	CountOverlappingPaid(ctx context.Context, roomID int64, w Window) (int, error)
	PlatformRevenue(ctx context.Context, from, to time.Time) (decimal.Decimal, int, error)

	// Write paths
	DeleteUnpaidBooking(ctx context.Context, reference string) error
	InBookingTx(ctx context.Context, fn func(tx BookingTx) error) error
}

// BookingTx is the unit of work that turns a paid reservation into a Booking.
type BookingTx interface {
	// LockRoom reads the room row and holds a write lock until the tx ends. The
	// room reads as unavailable when its hotel is not approved.
	LockRoom(ctx context.Context, roomID int64) (RoomCategory, error)
	CountOverlappingPaid(ctx context.Context, roomID int64, w Window) (int, error)
	// InsertBooking returns ErrDuplicateReference when the reference exists.
	InsertBooking(ctx context.Context, b *Booking) error
	// DeductPoints returns ErrInsufficientPoints when the balance is too low.
	DeductPoints(ctx context.Context, customerID int64, points int) error
}

type PayoutRepository interface {
	PayoutByID(ctx context.Context, id int64) (PayoutRecord, error)
	ListPayouts(ctx context.Context, hotelID int64) ([]PayoutRecord, error)
	UnsettledBookings(ctx context.Context, hotelID int64) ([]BookingRevenue, error)
	SettledPeriods(ctx context.Context, hotelID int64) ([]DateRange, error)
	InSettlementTx(ctx context.Context, fn func(tx SettlementTx) error) error
}

// SettlementTx is the unit of work for payout creation and status changes.
type SettlementTx interface {
	// LockHotel serializes payout actions for one hotel.
	LockHotel(ctx context.Context, hotelID int64) (Hotel, error)
	// UnsettledBookings lists paid bookings not attached to a live payout.
	UnsettledBookings(ctx context.Context, hotelID int64) ([]BookingRevenue, error)
	// SettledPeriods lists date ranges of completed/processing payouts.
	SettledPeriods(ctx context.Context, hotelID int64) ([]DateRange, error)
	CountInFlightPayouts(ctx context.Context, hotelID int64) (int, error)
	InsertPayout(ctx context.Context, p *PayoutRecord) error
	AttachBookings(ctx context.Context, payoutID int64, bookingIDs []int64) error
	LockPayout(ctx context.Context, id int64) (PayoutRecord, error)
	UpdatePayout(ctx context.Context, p PayoutRecord) error
	ReleaseBookings(ctx context.Context, payoutID int64) error
}

// ReservationStore holds pending reservations between checkout and payment.
type ReservationStore interface {
	Put(ctx context.Context, r Reservation, ttl time.Duration) error
	// Get returns ErrReservationNotFound when absent or expired.
	Get(ctx context.Context, reference string) (Reservation, error)
	// Consume atomically reads and deletes.
	Consume(ctx context.Context, reference string) (Reservation, error)
	// Update overwrites a stored reservation and keeps its expiry. It returns
	// ErrReservationNotFound instead of recreating a consumed or expired one.
	Update(ctx context.Context, r Reservation) error
}

type PaymentInit struct {
	Reference   string
	AmountKobo  int64
	Email       string
	CallbackURL string
	Metadata    map[string]string
}

type PaymentVerification struct {
	Reference  string
	Status     string
	AmountKobo int64
	Currency   string
	PaidAt     *time.Time
}

type PaymentGateway interface {
	Initialize(ctx context.Context, in PaymentInit) (authorizationURL string, err error)
	Verify(ctx context.Context, reference string) (PaymentVerification, error)
	VerifySignature(payload []byte, signature string) bool
}

type Notifier interface {
	Notify(ctx context.Context, ev Event) error
}

type Cache interface {
	Get(ctx context.Context, key string, dst any) (bool, error)
	Set(ctx context.Context, key string, v any, ttlSec int) error
	Del(ctx context.Context, key string) error
}
