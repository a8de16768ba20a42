package mailer

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/wneessen/go-mail"

	"hotelperhour/internal/domain"
)

type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	Admin    string
}

type Mailer struct {
	c     *mail.Client
	from  string
	admin string
}

func New(cfg Config) (*Mailer, error) {
	if cfg.Port == 0 {
		cfg.Port = 587
	}
	opts := []mail.Option{mail.WithPort(cfg.Port), mail.WithTLSPolicy(mail.TLSOpportunistic)}
	if cfg.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(cfg.Username),
			mail.WithPassword(cfg.Password),
		)
	}
	c, err := mail.NewClient(cfg.Host, opts...)
	if err != nil {
		return nil, fmt.Errorf("smtp client: %w", err)
	}
	return &Mailer{c: c, from: cfg.From, admin: cfg.Admin}, nil
}

// Deliver sends every e-mail the event calls for in one SMTP session.
func (m *Mailer) Deliver(ctx context.Context, ev domain.Event) error {
	envs := Compose(ev, m.admin)
	if len(envs) == 0 {
		log.Ctx(ctx).Debug().Msg("no recipients for event")
		return nil
	}
	msgs := make([]*mail.Msg, 0, len(envs))
	for _, e := range envs {
		msg := mail.NewMsg()
		if err := msg.From(m.from); err != nil {
			return fmt.Errorf("from %q: %w", m.from, err)
		}
		if err := msg.To(e.To); err != nil {
			// a bad guest address must not block the owner and admin copies
			log.Ctx(ctx).Warn().Err(err).Str("to", e.To).Msg("skipping invalid recipient")
			continue
		}
		msg.Subject(e.Subject)
		msg.SetBodyString(mail.TypeTextPlain, e.Body)
		msgs = append(msgs, msg)
	}
	if len(msgs) == 0 {
		return nil
	}
	if err := m.c.DialAndSendWithContext(ctx, msgs...); err != nil {
		return fmt.Errorf("send %s: %w", ev.Type, err)
	}
	log.Ctx(ctx).Info().Int("emails", len(msgs)).Msg("notification delivered")
	return nil
}

// Envelope is one composed e-mail.
type Envelope struct {
	To      string
	Subject string
	Body    string
}

// Compose decides recipients and text for an event. Recipients without an
// address are skipped.
func Compose(ev domain.Event, admin string) []Envelope {
	var out []Envelope
	add := func(to *string, subject, body string) {
		if to == nil || strings.TrimSpace(*to) == "" {
			return
		}
		out = append(out, Envelope{To: strings.TrimSpace(*to), Subject: subject, Body: body})
	}
	adminAddr := &admin
	stay := stayLine(ev)

	switch ev.Type {
	case domain.EventBookingPaid:
		add(ev.GuestEmail, "Booking confirmed: "+ev.Reference, fmt.Sprintf(
			"Hello %s,\n\nYour booking %s at %s is confirmed and paid.\n%s\nAmount paid: NGN %s\n\nPresent this reference at check-in.\n",
			ev.GuestName, ev.Reference, ev.HotelName, stay, ev.Amount))
		add(ev.HotelEmail, "New booking: "+ev.Reference, fmt.Sprintf(
			"A new booking %s has been paid.\nGuest: %s (%s)\n%s\nAmount: NGN %s\n",
			ev.Reference, ev.GuestName, ev.GuestPhone, stay, ev.Amount))
		add(adminAddr, "[hotelperhour] booking paid "+ev.Reference, fmt.Sprintf(
			"Hotel: %s (#%d)\nGuest: %s (%s)\n%s\nAmount: NGN %s\n",
			ev.HotelName, ev.HotelID, ev.GuestName, ev.GuestPhone, stay, ev.Amount))

	case domain.EventBookingCancelled:
		add(ev.GuestEmail, "Reservation cancelled: "+ev.Reference, fmt.Sprintf(
			"Hello %s,\n\nYour reservation %s was cancelled before payment. No charge was made.\n",
			ev.GuestName, ev.Reference))
		add(ev.HotelEmail, "Reservation cancelled: "+ev.Reference, fmt.Sprintf(
			"Unpaid reservation %s for %s was cancelled.\n%s\n", ev.Reference, ev.GuestName, stay))

	case domain.EventRefundRequired:
		add(adminAddr, "[hotelperhour] REFUND REQUIRED "+ev.Reference, fmt.Sprintf(
			"Payment for %s succeeded but the booking could not be completed (%s).\nHotel: %s (#%d)\nGuest: %s (%s)\n%s\nAmount to refund: NGN %s\n",
			ev.Reference, ev.Data["reason"], ev.HotelName, ev.HotelID, ev.GuestName, ev.GuestPhone, stay, ev.Amount))
		add(ev.GuestEmail, "We could not complete your booking "+ev.Reference, fmt.Sprintf(
			"Hello %s,\n\nYour payment was received but the room is no longer available. A full refund of NGN %s is being processed.\n",
			ev.GuestName, ev.Amount))

	case domain.EventPayoutCompleted:
		body := fmt.Sprintf(
			"Payout %s has been sent.\nPeriod: %s to %s\nBookings: %s\nGross: NGN %s\nCommission: NGN %s\nNet paid: NGN %s\nTransfer reference: %s\n",
			ev.Reference, ev.Data["period_start"], ev.Data["period_end"], ev.Data["bookings"],
			ev.Data["gross"], ev.Data["commission"], ev.Amount, ev.Data["transfer_reference"])
		add(ev.HotelEmail, "Payout completed: "+ev.Reference, body)
		add(adminAddr, "[hotelperhour] payout completed "+ev.Reference, fmt.Sprintf("Hotel: %s (#%d)\n", ev.HotelName, ev.HotelID)+body)
	}
	return out
}

func stayLine(ev domain.Event) string {
	in, out := ev.Data["check_in"], ev.Data["check_out"]
	if in == "" {
		return ""
	}
	room := ev.Data["room"]
	if room == "" {
		room = "Room"
	}
	return fmt.Sprintf("%s: %s to %s", room, in, out)
}
