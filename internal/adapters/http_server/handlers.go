package httpserver

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"hotelperhour/internal/adapters/observability"
	"hotelperhour/internal/app"
	"hotelperhour/internal/domain"
)

const headerSignature = "x-paystack-signature"

type ReservationFlow interface {
	Availability(ctx context.Context, roomID int64, w domain.Window) (app.Availability, error)
	Quote(ctx context.Context, req app.QuoteRequest) (domain.Quote, error)
	BeginPayment(ctx context.Context, q domain.Quote, contact domain.ContactInfo) (domain.Reservation, string, error)
	ResumePayment(ctx context.Context, reference string) (domain.Reservation, string, error)
	Cancel(ctx context.Context, reference string) error
}

type PaymentConfirmer interface {
	HandleCallback(ctx context.Context, reference string) (app.Outcome, error)
	HandleWebhook(ctx context.Context, payload []byte, signature string) (app.Outcome, error)
}

type Settler interface {
	CreatePayout(ctx context.Context, hotelID int64, operator string) (domain.PayoutRecord, error)
	MarkProcessing(ctx context.Context, payoutID int64, transferRef string) (domain.PayoutRecord, error)
	CompletePayout(ctx context.Context, payoutID int64, transferRef string) (domain.PayoutRecord, error)
	FailPayout(ctx context.Context, payoutID int64, reason string) (domain.PayoutRecord, error)
	RevenueSummary(ctx context.Context, hotelID int64) (domain.RevenueSummary, error)
	ListPayouts(ctx context.Context, hotelID int64) ([]domain.PayoutRecord, error)
}

type CatalogAdmin interface {
	SetRoomAvailability(ctx context.Context, roomID int64, available bool) error
	SetHotelApproval(ctx context.Context, hotelID int64, approved bool) error
	ActivateLoyaltyRule(ctx context.Context, r domain.LoyaltyRule) (domain.LoyaltyRule, error)
}

type BookingQueries interface {
	GetBooking(ctx context.Context, reference string) (domain.Booking, error)
	PlatformRevenue(ctx context.Context, from, to time.Time) (domain.PlatformRevenue, error)
}

type Handlers struct {
	Reservations  ReservationFlow
	Payments      PaymentConfirmer
	Settlement    Settler
	Catalog       CatalogAdmin
	Queries       BookingQueries
	OperatorToken string
	// AccountSecret verifies account tokens on quotes and reservations.
	AccountSecret []byte
	// Location turns operator date filters into instants. UTC when nil.
	Location *time.Location
}

type problem struct {
	Type   string `json:"type"`
	Title  string `json:"title"`
	Status int    `json:"status"`
	Code   string `json:"code,omitempty"`
	Detail string `json:"detail,omitempty"`
}

func (s *Server) MountHandlers(h *Handlers) {
	s.mux.Get("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); _, _ = w.Write([]byte("ok")) })

	s.mux.Route("/v1", func(r chi.Router) {
		r.Get("/rooms/{id}/availability", h.availability)
		r.With(AccountAuth(h.AccountSecret)).Post("/rooms/{id}/quotes", h.quote)
		r.With(AccountAuth(h.AccountSecret)).Post("/rooms/{id}/reservations", h.reserve)
		r.Post("/reservations/{reference}/payment", h.resumePayment)
		r.Delete("/reservations/{reference}", h.cancel)
		r.Get("/payments/callback", h.callback)
		r.Post("/payments/webhook", h.webhook)
		r.Get("/bookings/{reference}", h.getBooking)

		r.Route("/admin", func(r chi.Router) {
			r.Use(OperatorAuth(h.OperatorToken))
			r.Post("/hotels/{id}/payouts", h.createPayout)
			r.Get("/hotels/{id}/payouts", h.listPayouts)
			r.Get("/hotels/{id}/revenue", h.revenueSummary)
			r.Post("/payouts/{id}/processing", h.markProcessing)
			r.Post("/payouts/{id}/complete", h.completePayout)
			r.Post("/payouts/{id}/fail", h.failPayout)
			r.Put("/rooms/{id}/availability", h.setRoomAvailability)
			r.Put("/hotels/{id}/approval", h.setHotelApproval)
			r.Put("/loyalty-rule", h.setLoyaltyRule)
			r.Get("/revenue", h.platformRevenue)
		})
	})
}

// ---- responses ----

func writeProblem(w http.ResponseWriter, status int, title, detail string) {
	writeProblemCode(w, status, title, "", detail)
}

func writeProblemCode(w http.ResponseWriter, status int, title, code, detail string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(problem{Type: "about:blank", Title: title, Status: status, Code: code, Detail: detail}); err != nil {
		log.Error().Err(err).Msg("write JSON problem response failed")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("write JSON response failed")
	}
}

// statusOf maps the error taxonomy onto HTTP.
func statusOf(err error) int {
	switch {
	case errors.Is(err, domain.ErrSignatureInvalid):
		return http.StatusUnauthorized
	case errors.Is(err, domain.ErrGatewayUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	switch domain.KindOf(err) {
	case domain.KindValidation:
		return http.StatusBadRequest
	case domain.KindNotFound:
		return http.StatusNotFound
	case domain.KindAvailability, domain.KindSettlement, domain.KindConflict:
		return http.StatusConflict
	case domain.KindPricing:
		return http.StatusUnprocessableEntity
	case domain.KindPayment:
		return http.StatusPaymentRequired
	}
	return http.StatusInternalServerError
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusOf(err)
	if status >= 500 {
		log.Ctx(r.Context()).Error().Err(err).Str("route", routeOf(r)).Msg("request failed")
	}
	var de *domain.Error
	if !errors.As(err, &de) {
		detail := "internal error"
		if status == http.StatusGatewayTimeout {
			detail = "upstream timed out"
		}
		writeProblem(w, status, http.StatusText(status), detail)
		return
	}
	writeProblemCode(w, status, http.StatusText(status), de.Code, de.Msg)
}

// calcETagAndBody marshals once and hashes once, returning both ETag and body.
func calcETagAndBody(v any) (string, []byte) {
	body, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal object for ETag/body")
		return "", nil
	}
	sum := sha1.Sum(body)
	etag := `W/"` + hex.EncodeToString(sum[:]) + `"`
	return etag, body
}

func pathID(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		return 0, domain.Wrap(domain.ErrValidation, "%s must be a positive number", name)
	}
	return id, nil
}

func pathReference(r *http.Request) (string, error) {
	ref := strings.TrimSpace(chi.URLParam(r, "reference"))
	if ref == "" || len(ref) > 64 {
		return "", domain.Wrap(domain.ErrValidation, "reference is invalid")
	}
	return ref, nil
}

// ---- guest handlers ----

func (h *Handlers) availability(w http.ResponseWriter, r *http.Request) {
	roomID, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	win, err := windowFromQuery(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	a, err := h.Reservations.Availability(r.Context(), roomID, win)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func windowFromQuery(r *http.Request) (domain.Window, error) {
	q := r.URL.Query()
	in, err := time.Parse(time.RFC3339, q.Get("check_in"))
	if err != nil {
		return domain.Window{}, domain.Wrap(domain.ErrValidation, "check_in must be RFC3339")
	}
	out, err := time.Parse(time.RFC3339, q.Get("check_out"))
	if err != nil {
		return domain.Window{}, domain.Wrap(domain.ErrValidation, "check_out must be RFC3339")
	}
	return domain.Window{CheckIn: in.UTC(), CheckOut: out.UTC()}, nil
}

func (h *Handlers) quote(w http.ResponseWriter, r *http.Request) {
	roomID, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req quoteRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	q, err := h.Reservations.Quote(r.Context(), req.toDomain(r.Context(), roomID))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, q)
}

// reserve re-prices the stay, then stores it and starts the gateway checkout.
// A gateway failure still answers 202: the reservation is pending and the
// payment can be resumed.
func (h *Handlers) reserve(w http.ResponseWriter, r *http.Request) {
	roomID, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req reservationRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	q, err := h.Reservations.Quote(r.Context(), req.toDomain(r.Context(), roomID))
	if err != nil {
		writeError(w, r, err)
		return
	}
	res, url, err := h.Reservations.BeginPayment(r.Context(), q, req.contact())
	h.writeCheckout(w, r, res, url, err, http.StatusCreated)
}

func (h *Handlers) resumePayment(w http.ResponseWriter, r *http.Request) {
	ref, err := pathReference(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	res, url, err := h.Reservations.ResumePayment(r.Context(), ref)
	h.writeCheckout(w, r, res, url, err, http.StatusOK)
}

func (h *Handlers) writeCheckout(w http.ResponseWriter, r *http.Request, res domain.Reservation, url string, err error, okStatus int) {
	switch {
	case err == nil:
		writeJSON(w, okStatus, newReservationResponse(res, url))
	case res.State == domain.StatePendingPayment:
		log.Ctx(r.Context()).Warn().Err(err).Str("reference", res.Quote.Reference).Msg("checkout not started; reservation kept")
		body := newReservationResponse(res, "")
		body.Detail = "payment gateway unavailable; retry payment for this reference"
		writeJSON(w, http.StatusAccepted, body)
	default:
		writeError(w, r, err)
	}
}

func (h *Handlers) cancel(w http.ResponseWriter, r *http.Request) {
	ref, err := pathReference(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.Reservations.Cancel(r.Context(), ref); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) callback(w http.ResponseWriter, r *http.Request) {
	ref := r.URL.Query().Get("reference")
	if ref == "" {
		ref = r.URL.Query().Get("trxref")
	}
	out, err := h.Payments.HandleCallback(r.Context(), ref)
	observePayment("callback", out, err)
	if err != nil {
		writeError(w, r, err)
		return
	}
	switch out {
	case app.OutcomePending:
		writeJSON(w, http.StatusAccepted, paymentResponse{Reference: ref, Outcome: out})
	case app.OutcomeDropped:
		writeProblemCode(w, http.StatusNotFound, http.StatusText(http.StatusNotFound),
			domain.ErrReservationNotFound.Code, "reservation expired or unknown")
	default:
		writeJSON(w, http.StatusOK, paymentResponse{Reference: ref, Outcome: out})
	}
}

// webhook acknowledges every event it has handled, whatever the outcome, so
// the gateway only retries on errors worth retrying.
func (h *Handlers) webhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBody))
	if err != nil {
		log.Ctx(r.Context()).Warn().Err(err).Str("remote", remoteIP(r)).Int("bytes", len(payload)).Msg("webhook body unreadable")
		writeError(w, r, domain.Cause(domain.ErrMalformedPayload, err))
		return
	}
	out, err := h.Payments.HandleWebhook(r.Context(), payload, r.Header.Get(headerSignature))
	observePayment("webhook", out, err)
	switch {
	case errors.Is(err, domain.ErrSignatureInvalid):
		log.Ctx(r.Context()).Warn().Str("remote", remoteIP(r)).Int("bytes", len(payload)).Msg("webhook signature rejected")
	case errors.Is(err, domain.ErrMalformedPayload):
		log.Ctx(r.Context()).Warn().Err(err).Str("remote", remoteIP(r)).Int("bytes", len(payload)).Msg("webhook payload malformed")
	}
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]app.Outcome{"outcome": out})
}

func observePayment(channel string, out app.Outcome, err error) {
	if err != nil {
		observability.ObservePaymentEvent(channel, domain.CodeOf(err))
		return
	}
	observability.ObservePaymentEvent(channel, string(out))
	switch out {
	case app.OutcomeFinalized, app.OutcomeAlreadySettled, app.OutcomeRefundRequired:
		observability.ObserveFinalize(string(out))
	}
}

func (h *Handlers) getBooking(w http.ResponseWriter, r *http.Request) {
	ref, err := pathReference(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	b, err := h.Queries.GetBooking(r.Context(), ref)
	if err != nil {
		writeError(w, r, err)
		return
	}

	etag, body := calcETagAndBody(newBookingView(b))
	if inm := r.Header.Get("If-None-Match"); inm != "" && inm == etag {
		w.Header().Set("ETag", etag)
		w.WriteHeader(http.StatusNotModified)
		return
	}

	w.Header().Set("ETag", etag)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(body); err != nil {
		log.Error().Err(err).Msg("failed to write getBooking body")
	}
}
