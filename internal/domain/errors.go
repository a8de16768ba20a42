package domain

import (
	"errors"
	"fmt"
)

// Kind groups errors by how callers are expected to react to them.
type Kind string

const (
	KindValidation   Kind = "validation"
	KindNotFound     Kind = "not_found"
	KindAvailability Kind = "availability"
	KindPricing      Kind = "pricing"
	KindPayment      Kind = "payment"
	KindSettlement   Kind = "settlement"
	KindConflict     Kind = "conflict"
	KindInternal     Kind = "internal"
)

// Error is the typed error returned by the booking and settlement core.
// Two errors are the same (errors.Is) when their Codes match.
type Error struct {
	Kind Kind
	Code string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Msg, e.Err)
	}
	return e.Code + ": " + e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

var (
	ErrValidation         = &Error{Kind: KindValidation, Code: "validation", Msg: "invalid input"}
	ErrInsufficientPoints = &Error{Kind: KindValidation, Code: "insufficient_points", Msg: "loyalty balance no longer covers the discount"}
	ErrMalformedPayload   = &Error{Kind: KindValidation, Code: "malformed_payload", Msg: "payload could not be decoded"}

	ErrNotFound            = &Error{Kind: KindNotFound, Code: "not_found", Msg: "not found"}
	ErrReservationNotFound = &Error{Kind: KindNotFound, Code: "reservation_not_found", Msg: "no pending reservation or booking for reference"}

	ErrRoomUnavailable       = &Error{Kind: KindAvailability, Code: "room_unavailable", Msg: "no unit is free for the requested window"}
	ErrRoomNoLongerAvailable = &Error{Kind: KindAvailability, Code: "room_no_longer_available", Msg: "the window filled up before payment was confirmed"}
	ErrBlackoutWindow        = &Error{Kind: KindAvailability, Code: "blackout_window", Msg: "check-in falls inside the hotel's blackout window"}

	ErrTariffUnavailable = &Error{Kind: KindPricing, Code: "tariff_unavailable", Msg: "no tariff configured for this duration; contact the hotel"}
	ErrInvalidDuration   = &Error{Kind: KindPricing, Code: "invalid_duration", Msg: "duration not accepted by this hotel"}

	ErrVerificationFailed = &Error{Kind: KindPayment, Code: "verification_failed", Msg: "payment could not be verified"}
	ErrSignatureInvalid   = &Error{Kind: KindPayment, Code: "signature_invalid", Msg: "webhook signature mismatch"}
	ErrGatewayUnavailable = &Error{Kind: KindPayment, Code: "gateway_unavailable", Msg: "payment gateway did not respond"}

	ErrNoPayableRevenue        = &Error{Kind: KindSettlement, Code: "no_payable_revenue", Msg: "no eligible paid bookings to settle"}
	ErrPayoutAlreadyInFlight   = &Error{Kind: KindSettlement, Code: "payout_in_flight", Msg: "hotel already has a payout pending, approved or processing"}
	ErrInvalidPayoutTransition = &Error{Kind: KindSettlement, Code: "invalid_payout_transition", Msg: "payout status does not allow this action"}

	ErrBookingPaid        = &Error{Kind: KindConflict, Code: "booking_paid", Msg: "paid bookings cannot be cancelled"}
	ErrDuplicateReference = &Error{Kind: KindConflict, Code: "duplicate_reference", Msg: "a booking with this reference already exists"}
)

// Wrap returns a copy of sentinel carrying a more specific message.
func Wrap(sentinel *Error, format string, args ...any) error {
	return &Error{Kind: sentinel.Kind, Code: sentinel.Code, Msg: fmt.Sprintf(format, args...)}
}

// Cause returns a copy of sentinel wrapping err.
func Cause(sentinel *Error, err error) error {
	return &Error{Kind: sentinel.Kind, Code: sentinel.Code, Msg: sentinel.Msg, Err: err}
}

// KindOf reports the taxonomy kind of err, KindInternal for untyped errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// CodeOf reports the code of a typed error or "internal".
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return "internal"
}
