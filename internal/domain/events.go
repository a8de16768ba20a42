package domain

import "time"

type EventType string

const (
	EventReservationPending EventType = "reservation.pending"
	EventBookingPaid        EventType = "booking.paid"
	EventBookingCancelled   EventType = "booking.cancelled"
	EventRefundRequired     EventType = "booking.refund_required"
	EventPayoutCompleted    EventType = "payout.completed"
)

// Event carries enough context for a notification to be delivered without
// querying the primary store again.
type Event struct {
	ID         string            `json:"id"`
	Type       EventType         `json:"type"`
	OccurredAt time.Time         `json:"occurred_at"`
	Reference  string            `json:"reference"`
	HotelID    int64             `json:"hotel_id"`
	HotelName  string            `json:"hotel_name,omitempty"`
	HotelEmail *string           `json:"hotel_email,omitempty"`
	GuestName  string            `json:"guest_name,omitempty"`
	GuestEmail *string           `json:"guest_email,omitempty"`
	GuestPhone string            `json:"guest_phone,omitempty"`
	Amount     string            `json:"amount,omitempty"`
	Data       map[string]string `json:"data,omitempty"`
}
