package app

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"hotelperhour/internal/domain"
)

type QuoteRequest struct {
	RoomID        int64
	Window        domain.Window
	ExtraIDs      []int64
	Party         domain.BookingParty
	ApplyDiscount bool
}

type FinalizeOutcome string

const (
	FinalizeCreated        FinalizeOutcome = "finalized"
	FinalizeAlreadySettled FinalizeOutcome = "already_settled"
)

type FinalizeResult struct {
	Outcome FinalizeOutcome
	Booking domain.Booking
}

type ReservationConfig struct {
	PendingTTL       time.Duration
	GatewayTimeout   time.Duration
	CallbackURL      string
	GuestEmailDomain string
	Clock            func() time.Time
	NewReference     func() string
}

type ReservationService struct {
	catalog  domain.CatalogRepository
	loyalty  domain.LoyaltyRepository
	bookings domain.BookingRepository
	store    domain.ReservationStore
	gateway  domain.PaymentGateway
	avail    *AvailabilityResolver
	pricing  PricingCalculator
	events   *Dispatcher
	cfg      ReservationConfig
}

func NewReservationService(
	catalog domain.CatalogRepository,
	loyalty domain.LoyaltyRepository,
	bookings domain.BookingRepository,
	store domain.ReservationStore,
	gateway domain.PaymentGateway,
	events *Dispatcher,
	cfg ReservationConfig,
) *ReservationService {
	if cfg.PendingTTL <= 0 {
		cfg.PendingTTL = 30 * time.Minute
	}
	if cfg.GatewayTimeout <= 0 {
		cfg.GatewayTimeout = 10 * time.Second
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.NewReference == nil {
		cfg.NewReference = NewBookingReference
	}
	return &ReservationService{
		catalog:  catalog,
		loyalty:  loyalty,
		bookings: bookings,
		store:    store,
		gateway:  gateway,
		avail:    NewAvailabilityResolver(bookings),
		events:   events,
		cfg:      cfg,
	}
}

// Availability backs the public availability lookup.
func (s *ReservationService) Availability(ctx context.Context, roomID int64, w domain.Window) (Availability, error) {
	if !w.Valid() {
		return Availability{}, domain.Wrap(domain.ErrValidation, "check_in must be before check_out")
	}
	room, hotel, err := s.catalog.RoomWithHotel(ctx, roomID)
	if err != nil {
		return Availability{}, err
	}
	if !hotel.IsApproved {
		room.IsAvailable = false
	}
	return s.avail.Check(ctx, hotel, room, w)
}

// Quote prices a stay without storing anything. Order: blackout, units, price.
func (s *ReservationService) Quote(ctx context.Context, req QuoteRequest) (domain.Quote, error) {
	if !req.Window.Valid() {
		return domain.Quote{}, domain.Wrap(domain.ErrValidation, "check_in must be before check_out")
	}
	room, hotel, err := s.catalog.RoomWithHotel(ctx, req.RoomID)
	if err != nil {
		return domain.Quote{}, err
	}
	if !hotel.IsApproved || !room.IsAvailable {
		return domain.Quote{}, domain.Wrap(domain.ErrRoomUnavailable, "room %d is not open for booking", room.ID)
	}
	if InBlackout(hotel, req.Window.CheckIn) {
		return domain.Quote{}, domain.ErrBlackoutWindow
	}
	units, err := s.avail.AvailableUnits(ctx, room, req.Window)
	if err != nil {
		return domain.Quote{}, err
	}
	if units <= 0 {
		return domain.Quote{}, domain.ErrRoomUnavailable
	}

	extras, err := s.resolveExtras(ctx, hotel.ID, req.ExtraIDs)
	if err != nil {
		return domain.Quote{}, err
	}
	lc, err := s.loyaltyContext(ctx, req.Party, req.ApplyDiscount)
	if err != nil {
		return domain.Quote{}, err
	}

	price, err := s.pricing.Price(PricingInput{
		Hotel:    hotel,
		Room:     room,
		Duration: req.Window.Duration(),
		Extras:   extras,
		Loyalty:  lc,
	})
	if err != nil {
		return domain.Quote{}, err
	}

	return domain.Quote{
		Reference:  s.cfg.NewReference(),
		HotelID:    hotel.ID,
		HotelName:  hotel.Name,
		HotelEmail: firstNonNil(hotel.Email, hotel.OwnerEmail),
		RoomID:     room.ID,
		RoomName:   room.Name,
		Window:     req.Window,
		Extras:     extras,
		Party:      req.Party,
		Price:      price,
		State:      domain.StateQuoted,
		QuotedAt:   s.cfg.Clock().UTC(),
	}, nil
}

func (s *ReservationService) resolveExtras(ctx context.Context, hotelID int64, ids []int64) ([]domain.Extra, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	uniq := make([]int64, 0, len(ids))
	seen := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; !ok {
			seen[id] = struct{}{}
			uniq = append(uniq, id)
		}
	}
	sort.Slice(uniq, func(i, j int) bool { return uniq[i] < uniq[j] })

	extras, err := s.catalog.ExtrasByIDs(ctx, hotelID, uniq)
	if err != nil {
		return nil, fmt.Errorf("load extras: %w", err)
	}
	if len(extras) != len(uniq) {
		return nil, domain.Wrap(domain.ErrValidation, "extras must belong to the room's hotel")
	}
	return extras, nil
}

// loyaltyContext is nil unless a customer account opted in.
func (s *ReservationService) loyaltyContext(ctx context.Context, p domain.BookingParty, apply bool) (*domain.LoyaltyContext, error) {
	customerID, ok := p.CustomerID()
	if !ok || !apply || s.loyalty == nil {
		return nil, nil
	}
	rule, err := s.loyalty.ActiveRule(ctx)
	if err != nil {
		return nil, fmt.Errorf("active loyalty rule: %w", err)
	}
	if rule == nil {
		return nil, nil
	}
	balance, err := s.loyalty.PointsBalance(ctx, customerID)
	if err != nil {
		return nil, fmt.Errorf("points balance for customer %d: %w", customerID, err)
	}
	return &domain.LoyaltyContext{Balance: balance, Rule: rule, Apply: true}, nil
}

// BeginPayment stores the reservation, then asks the gateway for a checkout URL.
// A gateway failure keeps the reservation pending so a webhook or ResumePayment
// can still complete it.
func (s *ReservationService) BeginPayment(ctx context.Context, q domain.Quote, contact domain.ContactInfo) (domain.Reservation, string, error) {
	if q.Reference == "" || q.State != domain.StateQuoted {
		return domain.Reservation{}, "", domain.Wrap(domain.ErrValidation, "quote is missing or already used")
	}
	contact.Name = strings.TrimSpace(contact.Name)
	contact.Phone = strings.TrimSpace(contact.Phone)
	if contact.Name == "" || contact.Phone == "" {
		return domain.Reservation{}, "", domain.Wrap(domain.ErrValidation, "name and phone are required")
	}

	now := s.cfg.Clock().UTC()
	q.State = domain.StatePendingPayment
	r := domain.Reservation{
		Quote:     q,
		Contact:   contact,
		State:     domain.StatePendingPayment,
		CreatedAt: now,
		ExpiresAt: now.Add(s.cfg.PendingTTL),
	}
	if err := s.store.Put(ctx, r, s.cfg.PendingTTL); err != nil {
		return domain.Reservation{}, "", fmt.Errorf("store reservation %s: %w", q.Reference, err)
	}
	s.events.Dispatch(ctx, reservationEvent(domain.EventReservationPending, r))

	return s.openCheckout(ctx, r)
}

// ResumePayment returns the checkout for a still-pending reservation. A
// checkout the gateway already opened is reused, since the gateway refuses a
// second initialization with the same reference.
func (s *ReservationService) ResumePayment(ctx context.Context, reference string) (domain.Reservation, string, error) {
	if b, err := s.bookings.BookingByReference(ctx, reference); err == nil && b.IsPaid {
		return domain.Reservation{}, "", domain.ErrBookingPaid
	} else if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return domain.Reservation{}, "", err
	}
	r, err := s.store.Get(ctx, reference)
	if err != nil {
		return domain.Reservation{}, "", err
	}
	if r.AuthorizationURL != "" {
		return r, r.AuthorizationURL, nil
	}
	return s.openCheckout(ctx, r)
}

// openCheckout initializes the gateway payment and remembers its page on the
// pending reservation.
func (s *ReservationService) openCheckout(ctx context.Context, r domain.Reservation) (domain.Reservation, string, error) {
	url, err := s.initPayment(ctx, r)
	if err != nil {
		return r, "", err
	}
	r.AuthorizationURL = url
	if err := s.store.Update(ctx, r); err != nil {
		log.Warn().Err(err).Str("reference", r.Quote.Reference).Msg("checkout url not kept on reservation")
	}
	return r, url, nil
}

func (s *ReservationService) initPayment(ctx context.Context, r domain.Reservation) (string, error) {
	gctx, cancel := context.WithTimeout(ctx, s.cfg.GatewayTimeout)
	defer cancel()

	url, err := s.gateway.Initialize(gctx, domain.PaymentInit{
		Reference:   r.Quote.Reference,
		AmountKobo:  toKobo(r.Quote.Price.TotalAmount),
		Email:       s.payerEmail(r.Contact),
		CallbackURL: s.cfg.CallbackURL,
		Metadata: map[string]string{
			"hotel_id": fmt.Sprint(r.Quote.HotelID),
			"room_id":  fmt.Sprint(r.Quote.RoomID),
		},
	})
	if err != nil {
		log.Warn().Err(err).Str("reference", r.Quote.Reference).Msg("payment initialization failed; reservation left pending")
		if errors.Is(err, domain.ErrGatewayUnavailable) {
			return "", err
		}
		return "", domain.Cause(domain.ErrGatewayUnavailable, err)
	}
	return url, nil
}

// payerEmail falls back to a placeholder mailbox because the gateway requires one.
func (s *ReservationService) payerEmail(c domain.ContactInfo) string {
	if e := deref(c.Email); e != "" {
		return e
	}
	domainPart := s.cfg.GuestEmailDomain
	if domainPart == "" {
		domainPart = "guests.hotelperhour.local"
	}
	digits := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, c.Phone)
	return "guest-" + digits + "@" + domainPart
}

// Finalize turns a confirmed payment into a paid Booking. It is safe to call
// more than once and concurrently for the same reference.
func (s *ReservationService) Finalize(ctx context.Context, reference string) (FinalizeResult, error) {
	if b, err := s.bookings.BookingByReference(ctx, reference); err == nil && b.IsPaid {
		return FinalizeResult{Outcome: FinalizeAlreadySettled, Booking: b}, nil
	} else if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return FinalizeResult{}, err
	}

	r, err := s.store.Get(ctx, reference)
	if errors.Is(err, domain.ErrReservationNotFound) {
		// a concurrent finalize may have committed and consumed it meanwhile
		if b, lerr := s.bookings.BookingByReference(ctx, reference); lerr == nil && b.IsPaid {
			return FinalizeResult{Outcome: FinalizeAlreadySettled, Booking: b}, nil
		}
		return FinalizeResult{}, err
	}
	if err != nil {
		return FinalizeResult{}, err
	}

	b := bookingFromReservation(r, reference, s.cfg.Clock().UTC())
	err = s.bookings.InBookingTx(ctx, func(tx domain.BookingTx) error {
		room, err := tx.LockRoom(ctx, b.RoomID)
		if err != nil {
			return err
		}
		// Insert before counting so a concurrent duplicate trips the unique key
		// instead of being mistaken for a full room.
		if err := tx.InsertBooking(ctx, &b); err != nil {
			return err
		}
		n, err := tx.CountOverlappingPaid(ctx, b.RoomID, b.Window)
		if err != nil {
			return err
		}
		if UnitsFree(room, n-1) <= 0 {
			return domain.Wrap(domain.ErrRoomNoLongerAvailable, "room %d cannot take payment %s: full, withdrawn or hotel delisted", b.RoomID, reference)
		}
		if customerID, ok := b.Party.CustomerID(); ok && b.PointsUsed > 0 {
			if err := tx.DeductPoints(ctx, customerID, b.PointsUsed); err != nil {
				return err
			}
		}
		return nil
	})

	switch {
	case err == nil:
		s.consume(ctx, reference)
		log.Info().Str("reference", reference).Int64("room_id", b.RoomID).Int64("booking_id", b.ID).Msg("booking finalized")
		s.events.Dispatch(ctx, reservationEvent(domain.EventBookingPaid, r))
		return FinalizeResult{Outcome: FinalizeCreated, Booking: b}, nil

	case errors.Is(err, domain.ErrDuplicateReference):
		s.consume(ctx, reference)
		existing, lerr := s.bookings.BookingByReference(ctx, reference)
		if lerr != nil {
			return FinalizeResult{}, lerr
		}
		return FinalizeResult{Outcome: FinalizeAlreadySettled, Booking: existing}, nil

	case errors.Is(err, domain.ErrRoomNoLongerAvailable), errors.Is(err, domain.ErrInsufficientPoints):
		// Money has moved but no booking exists. Refunds are handled out of band.
		s.consume(ctx, reference)
		log.Error().Err(err).
			Str("reference", reference).
			Int64("room_id", b.RoomID).
			Str("amount", b.TotalAmount.StringFixed(2)).
			Bool("refund_required", true).
			Msg("paid reservation could not be finalized")
		s.events.Dispatch(ctx, refundEvent(r, err))
		return FinalizeResult{}, err
	}
	return FinalizeResult{}, fmt.Errorf("finalize %s: %w", reference, err)
}

func (s *ReservationService) consume(ctx context.Context, reference string) {
	if _, err := s.store.Consume(ctx, reference); err != nil && !errors.Is(err, domain.ErrReservationNotFound) {
		log.Warn().Err(err).Str("reference", reference).Msg("pending reservation not cleared; it will expire")
	}
}

// Cancel drops a pending reservation or an unpaid booking. Paid bookings stay.
func (s *ReservationService) Cancel(ctx context.Context, reference string) error {
	b, err := s.bookings.BookingByReference(ctx, reference)
	switch {
	case err == nil && b.IsPaid:
		return domain.ErrBookingPaid
	case err == nil:
		if err := s.bookings.DeleteUnpaidBooking(ctx, reference); err != nil {
			return err
		}
		s.consume(ctx, reference)
		s.events.Dispatch(ctx, bookingEvent(domain.EventBookingCancelled, b))
		return nil
	case !errors.Is(err, domain.ErrNotFound):
		return err
	}

	r, err := s.store.Consume(ctx, reference)
	if err != nil {
		return err
	}
	s.events.Dispatch(ctx, reservationEvent(domain.EventBookingCancelled, r))
	return nil
}
