package app

import (
	"strconv"
	"strings"
	"time"

	"hotelperhour/internal/domain"
)

/********** reservation -> booking **********/

// bookingFromReservation freezes the quoted money into the durable record.
// Nothing here is recomputed from current tariffs.
func bookingFromReservation(r domain.Reservation, paymentRef string, now time.Time) domain.Booking {
	q := r.Quote
	ids := make([]int64, 0, len(q.Extras))
	for _, e := range q.Extras {
		ids = append(ids, e.ID)
	}
	return domain.Booking{
		Reference:            q.Reference,
		HotelID:              q.HotelID,
		RoomID:               q.RoomID,
		Window:               q.Window,
		TotalHours:           q.Price.TotalHours,
		TotalPrice:           q.Price.TotalPrice,
		ServiceCharge:        q.Price.ServiceCharge,
		DiscountApplied:      q.Price.DiscountAmount,
		PointsUsed:           q.Price.PointsUsed,
		ExtrasCost:           q.Price.ExtrasCost,
		TotalAmount:          q.Price.TotalAmount,
		HotelRevenueSnapshot: q.Price.HotelRevenue,
		ExtraIDs:             ids,
		Party:                q.Party,
		Contact:              r.Contact,
		IsPaid:               true,
		PaymentReference:     ptrStr(paymentRef),
		CreatedAt:            now,
	}
}

/********** events **********/

func reservationEvent(t domain.EventType, r domain.Reservation) domain.Event {
	q := r.Quote
	return domain.Event{
		Type:       t,
		Reference:  q.Reference,
		HotelID:    q.HotelID,
		HotelName:  q.HotelName,
		HotelEmail: q.HotelEmail,
		GuestName:  r.Contact.Name,
		GuestEmail: r.Contact.Email,
		GuestPhone: r.Contact.Phone,
		Amount:     q.Price.TotalAmount.StringFixed(2),
		Data: map[string]string{
			"room":      q.RoomName,
			"check_in":  q.Window.CheckIn.Format(time.RFC3339),
			"check_out": q.Window.CheckOut.Format(time.RFC3339),
		},
	}
}

func bookingEvent(t domain.EventType, b domain.Booking) domain.Event {
	return domain.Event{
		Type:       t,
		Reference:  b.Reference,
		HotelID:    b.HotelID,
		GuestName:  b.Contact.Name,
		GuestEmail: b.Contact.Email,
		GuestPhone: b.Contact.Phone,
		Amount:     b.TotalAmount.StringFixed(2),
		Data: map[string]string{
			"check_in":  b.Window.CheckIn.Format(time.RFC3339),
			"check_out": b.Window.CheckOut.Format(time.RFC3339),
		},
	}
}

func refundEvent(r domain.Reservation, cause error) domain.Event {
	ev := reservationEvent(domain.EventRefundRequired, r)
	ev.Data["reason"] = domain.CodeOf(cause)
	return ev
}

func payoutEvent(p domain.PayoutRecord, h domain.Hotel) domain.Event {
	return domain.Event{
		Type:       domain.EventPayoutCompleted,
		Reference:  p.Reference,
		HotelID:    p.HotelID,
		HotelName:  h.Name,
		HotelEmail: firstNonNil(h.OwnerEmail, h.Email),
		Amount:     p.NetPayout.StringFixed(2),
		Data: map[string]string{
			"gross":              p.GrossRevenue.StringFixed(2),
			"commission":         p.CommissionAmount.StringFixed(2),
			"bookings":           strconv.Itoa(p.BookingCount),
			"period_start":       p.PeriodStart.Format(time.DateOnly),
			"period_end":         p.PeriodEnd.Format(time.DateOnly),
			"transfer_reference": deref(p.TransferReference),
		},
	}
}

/********** tiny helpers **********/

func deref(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

func ptrStr(s string) *string {
	if s = strings.TrimSpace(s); s == "" {
		return nil
	}
	return &s
}

func firstNonNil(ps ...*string) *string {
	for _, p := range ps {
		if p != nil && *p != "" {
			return p
		}
	}
	return nil
}
