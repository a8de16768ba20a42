package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"hotelperhour/internal/app"
	"hotelperhour/internal/domain"
)

const maxBody = 1 << 20

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	// report json names so problems match what the client sent
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// decodeJSON reads a bounded body into v and validates it.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return domain.Wrap(domain.ErrValidation, "request body is required")
		}
		return domain.Wrap(domain.ErrValidation, "invalid JSON: %v", err)
	}
	return validateStruct(v)
}

func validateStruct(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var ves validator.ValidationErrors
	if !errors.As(err, &ves) {
		return domain.Wrap(domain.ErrValidation, "%v", err)
	}
	parts := make([]string, 0, len(ves))
	for _, fe := range ves {
		if fe.Param() != "" {
			parts = append(parts, fmt.Sprintf("%s must satisfy %s=%s", fe.Field(), fe.Tag(), fe.Param()))
			continue
		}
		parts = append(parts, fmt.Sprintf("%s must satisfy %s", fe.Field(), fe.Tag()))
	}
	return domain.Wrap(domain.ErrValidation, "%s", strings.Join(parts, "; "))
}

// ---- guest requests ----

// partyRequest only says whether an anonymous caller books online. Account
// parties come from the verified token, never from the body.
type partyRequest struct {
	Kind string `json:"kind" validate:"omitempty,oneof=none guest"`
}

func (p partyRequest) resolve(ctx context.Context) domain.BookingParty {
	if acct, ok := accountFrom(ctx); ok {
		return acct
	}
	if p.Kind == string(domain.PartyGuest) {
		return domain.GuestParty()
	}
	return domain.NoParty()
}

type quoteRequest struct {
	CheckIn       time.Time    `json:"check_in" validate:"required"`
	CheckOut      time.Time    `json:"check_out" validate:"required,gtfield=CheckIn"`
	ExtraIDs      []int64      `json:"extra_ids" validate:"max=20,dive,gt=0"`
	Party         partyRequest `json:"party"`
	ApplyDiscount bool         `json:"apply_discount"`
}

func (q quoteRequest) toDomain(ctx context.Context, roomID int64) app.QuoteRequest {
	return app.QuoteRequest{
		RoomID:        roomID,
		Window:        domain.Window{CheckIn: q.CheckIn.UTC(), CheckOut: q.CheckOut.UTC()},
		ExtraIDs:      q.ExtraIDs,
		Party:         q.Party.resolve(ctx),
		ApplyDiscount: q.ApplyDiscount,
	}
}

type reservationRequest struct {
	quoteRequest
	Name  string `json:"name" validate:"required,max=120"`
	Email string `json:"email" validate:"omitempty,email,max=254"`
	Phone string `json:"phone" validate:"required,max=32"`
}

func (r reservationRequest) contact() domain.ContactInfo {
	c := domain.ContactInfo{Name: r.Name, Phone: r.Phone}
	if e := strings.TrimSpace(r.Email); e != "" {
		c.Email = &e
	}
	return c
}

type reservationResponse struct {
	Reference        string                  `json:"reference"`
	State            domain.ReservationState `json:"state"`
	ExpiresAt        time.Time               `json:"expires_at"`
	Quote            domain.Quote            `json:"quote"`
	AuthorizationURL string                  `json:"authorization_url,omitempty"`
	Detail           string                  `json:"detail,omitempty"`
}

func newReservationResponse(res domain.Reservation, url string) reservationResponse {
	return reservationResponse{
		Reference:        res.Quote.Reference,
		State:            res.State,
		ExpiresAt:        res.ExpiresAt,
		Quote:            res.Quote,
		AuthorizationURL: url,
	}
}

type paymentResponse struct {
	Reference string      `json:"reference"`
	Outcome   app.Outcome `json:"outcome"`
}

// bookingView is the guest-facing booking. Revenue snapshots and payout links
// stay internal.
type bookingView struct {
	Reference        string    `json:"reference"`
	HotelID          int64     `json:"hotel_id"`
	RoomID           int64     `json:"room_id"`
	CheckIn          time.Time `json:"check_in"`
	CheckOut         time.Time `json:"check_out"`
	TotalHours       string    `json:"total_hours"`
	TotalPrice       string    `json:"total_price"`
	ServiceCharge    string    `json:"service_charge"`
	DiscountApplied  string    `json:"discount_applied"`
	PointsUsed       int       `json:"points_used"`
	ExtrasCost       string    `json:"extras_cost"`
	TotalAmount      string    `json:"total_amount"`
	ExtraIDs         []int64   `json:"extra_ids,omitempty"`
	GuestName        string    `json:"guest_name"`
	IsPaid           bool      `json:"is_paid"`
	PaymentReference *string   `json:"payment_reference,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
}

func newBookingView(b domain.Booking) bookingView {
	return bookingView{
		Reference:        b.Reference,
		HotelID:          b.HotelID,
		RoomID:           b.RoomID,
		CheckIn:          b.Window.CheckIn,
		CheckOut:         b.Window.CheckOut,
		TotalHours:       b.TotalHours.String(),
		TotalPrice:       b.TotalPrice.StringFixed(2),
		ServiceCharge:    b.ServiceCharge.StringFixed(2),
		DiscountApplied:  b.DiscountApplied.StringFixed(2),
		PointsUsed:       b.PointsUsed,
		ExtrasCost:       b.ExtrasCost.StringFixed(2),
		TotalAmount:      b.TotalAmount.StringFixed(2),
		ExtraIDs:         b.ExtraIDs,
		GuestName:        b.Contact.Name,
		IsPaid:           b.IsPaid,
		PaymentReference: b.PaymentReference,
		CreatedAt:        b.CreatedAt,
	}
}

// ---- operator requests ----

type transferRequest struct {
	TransferReference string `json:"transfer_reference" validate:"omitempty,max=100"`
}

type completeRequest struct {
	TransferReference string `json:"transfer_reference" validate:"required,max=100"`
}

type failRequest struct {
	Reason string `json:"reason" validate:"required,max=500"`
}

type roomAvailabilityRequest struct {
	Available *bool `json:"available" validate:"required"`
}

type hotelApprovalRequest struct {
	Approved *bool `json:"approved" validate:"required"`
}

type loyaltyRuleRequest struct {
	PointsPerPercent      int             `json:"points_per_percent" validate:"required,gt=0"`
	MaxDiscountPercentage decimal.Decimal `json:"max_discount_percentage"`
	MinPointsToUse        int             `json:"min_points_to_use" validate:"gte=0"`
}

func (l loyaltyRuleRequest) toDomain() domain.LoyaltyRule {
	return domain.LoyaltyRule{
		PointsPerPercent:      l.PointsPerPercent,
		MaxDiscountPercentage: l.MaxDiscountPercentage,
		MinPointsToUse:        l.MinPointsToUse,
	}
}
