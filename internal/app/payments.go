package app

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"hotelperhour/internal/domain"
)

// Outcome is what a payment confirmation did. Every outcome is a success for
// the caller except where an error is returned alongside it.
type Outcome string

const (
	OutcomeFinalized      Outcome = "finalized"
	OutcomeAlreadySettled Outcome = "already_settled"
	OutcomePending        Outcome = "pending"
	OutcomeIgnored        Outcome = "ignored"
	OutcomeDropped        Outcome = "dropped"
	OutcomeRefundRequired Outcome = "refund_required"
)

const eventChargeSuccess = "charge.success"

type webhookEnvelope struct {
	Event string `json:"event"`
	Data  struct {
		Reference string `json:"reference"`
		Status    string `json:"status"`
		Amount    int64  `json:"amount"`
	} `json:"data"`
}

type PaymentService struct {
	reservations  *ReservationService
	bookings      domain.BookingRepository
	store         domain.ReservationStore
	gateway       domain.PaymentGateway
	verifyTimeout time.Duration
}

func NewPaymentService(rs *ReservationService, gw domain.PaymentGateway, verifyTimeout time.Duration) *PaymentService {
	if verifyTimeout <= 0 {
		verifyTimeout = 10 * time.Second
	}
	return &PaymentService{
		reservations:  rs,
		bookings:      rs.bookings,
		store:         rs.store,
		gateway:       gw,
		verifyTimeout: verifyTimeout,
	}
}

// HandleCallback handles the guest's redirect back from the gateway. The payment
// is verified by reference before anything is written.
func (s *PaymentService) HandleCallback(ctx context.Context, reference string) (Outcome, error) {
	reference = strings.TrimSpace(reference)
	if reference == "" {
		return "", domain.Wrap(domain.ErrValidation, "reference is required")
	}
	ctx = withChannel(ctx, "callback", reference)
	lg := log.Ctx(ctx)

	r, out, err := s.lookup(ctx, reference)
	if err != nil || out != "" {
		return out, err
	}

	vctx, cancel := context.WithTimeout(ctx, s.verifyTimeout)
	v, err := s.gateway.Verify(vctx, reference)
	cancel()
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, domain.ErrGatewayUnavailable) {
			lg.Warn().Err(err).Msg("verification timed out; waiting for webhook")
			return OutcomePending, nil
		}
		return "", domain.Cause(domain.ErrVerificationFailed, err)
	}
	if !strings.EqualFold(v.Status, "success") {
		return "", domain.Wrap(domain.ErrVerificationFailed, "gateway reports status %q", v.Status)
	}
	if want := toKobo(r.Quote.Price.TotalAmount); v.AmountKobo < want {
		lg.Error().Int64("paid_kobo", v.AmountKobo).Int64("expected_kobo", want).Msg("underpayment")
		return "", domain.Wrap(domain.ErrVerificationFailed, "paid %d kobo, expected %d", v.AmountKobo, want)
	}

	return s.finalize(ctx, reference)
}

// HandleWebhook handles the gateway's asynchronous event. The signature is
// checked over the raw body before the payload is parsed.
func (s *PaymentService) HandleWebhook(ctx context.Context, payload []byte, signature string) (Outcome, error) {
	if !s.gateway.VerifySignature(payload, signature) {
		return "", domain.ErrSignatureInvalid
	}

	var env webhookEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return "", domain.Cause(domain.ErrMalformedPayload, err)
	}
	if env.Event != eventChargeSuccess {
		log.Info().Str("channel", "webhook").Str("event", env.Event).Msg("webhook event ignored")
		return OutcomeIgnored, nil
	}
	reference := strings.TrimSpace(env.Data.Reference)
	if reference == "" {
		return "", domain.Wrap(domain.ErrMalformedPayload, "charge.success without reference")
	}
	ctx = withChannel(ctx, "webhook", reference)
	lg := log.Ctx(ctx)

	r, out, err := s.lookup(ctx, reference)
	if err != nil || out != "" {
		return out, err
	}
	if want := toKobo(r.Quote.Price.TotalAmount); env.Data.Amount < want {
		lg.Error().Int64("paid_kobo", env.Data.Amount).Int64("expected_kobo", want).Msg("underpayment")
		return "", domain.Wrap(domain.ErrVerificationFailed, "paid %d kobo, expected %d", env.Data.Amount, want)
	}

	out, err = s.finalize(ctx, reference)
	if err != nil && (domain.KindOf(err) == domain.KindAvailability || errors.Is(err, domain.ErrInsufficientPoints)) {
		// The gateway cannot fix this by retrying; the refund is flagged already.
		return OutcomeRefundRequired, nil
	}
	return out, err
}

func withChannel(ctx context.Context, channel, reference string) context.Context {
	return log.With().Str("channel", channel).Str("reference", reference).Logger().WithContext(ctx)
}

// lookup returns the pending reservation, or a terminal outcome when there is
// nothing left to do for the reference.
func (s *PaymentService) lookup(ctx context.Context, reference string) (domain.Reservation, Outcome, error) {
	settled, err := s.alreadySettled(ctx, reference)
	if err != nil {
		return domain.Reservation{}, "", err
	}
	if settled {
		log.Ctx(ctx).Info().Msg("payment already settled")
		return domain.Reservation{}, OutcomeAlreadySettled, nil
	}

	r, err := s.store.Get(ctx, reference)
	if errors.Is(err, domain.ErrReservationNotFound) {
		// the other channel may have finalized between the two reads
		if settled, _ := s.alreadySettled(ctx, reference); settled {
			return domain.Reservation{}, OutcomeAlreadySettled, nil
		}
		log.Ctx(ctx).Warn().Msg("no booking or pending reservation; event dropped")
		return domain.Reservation{}, OutcomeDropped, nil
	}
	if err != nil {
		return domain.Reservation{}, "", err
	}
	return r, "", nil
}

func (s *PaymentService) alreadySettled(ctx context.Context, reference string) (bool, error) {
	b, err := s.bookings.BookingByReference(ctx, reference)
	if errors.Is(err, domain.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return b.IsPaid, nil
}

func (s *PaymentService) finalize(ctx context.Context, reference string) (Outcome, error) {
	res, err := s.reservations.Finalize(ctx, reference)
	switch {
	case errors.Is(err, domain.ErrReservationNotFound):
		log.Ctx(ctx).Warn().Msg("reservation expired before finalize; dropped")
		return OutcomeDropped, nil
	case err != nil:
		return "", err
	case res.Outcome == FinalizeAlreadySettled:
		return OutcomeAlreadySettled, nil
	}
	return OutcomeFinalized, nil
}
