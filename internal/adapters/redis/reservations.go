package redisad

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"hotelperhour/internal/domain"
)

const reservationPrefix = "reservation:"

// ReservationStore keeps pending reservations until payment or expiry.
// Expiry is Redis TTL; an expired key is indistinguishable from a missing one.
type ReservationStore struct{ c *redis.Client }

func NewReservationStore(c *redis.Client) *ReservationStore { return &ReservationStore{c: c} }

var _ domain.ReservationStore = (*ReservationStore)(nil)

func reservationKey(ref string) string { return reservationPrefix + ref }

func (s *ReservationStore) Put(ctx context.Context, r domain.Reservation, ttl time.Duration) error {
	b, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("encode reservation: %w", err)
	}
	return s.c.Set(ctx, reservationKey(r.Quote.Reference), b, ttl).Err()
}

func (s *ReservationStore) Update(ctx context.Context, r domain.Reservation) error {
	b, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("encode reservation: %w", err)
	}
	err = s.c.SetArgs(ctx, reservationKey(r.Quote.Reference), b, redis.SetArgs{Mode: "XX", KeepTTL: true}).Err()
	if errors.Is(err, redis.Nil) {
		return domain.ErrReservationNotFound
	}
	return err
}

func (s *ReservationStore) Get(ctx context.Context, reference string) (domain.Reservation, error) {
	return decode(s.c.Get(ctx, reservationKey(reference)).Bytes())
}

// Consume reads and deletes in one GETDEL so only one caller ever gets the value.
func (s *ReservationStore) Consume(ctx context.Context, reference string) (domain.Reservation, error) {
	return decode(s.c.GetDel(ctx, reservationKey(reference)).Bytes())
}

func decode(b []byte, err error) (domain.Reservation, error) {
	if errors.Is(err, redis.Nil) {
		return domain.Reservation{}, domain.ErrReservationNotFound
	}
	if err != nil {
		return domain.Reservation{}, err
	}
	var r domain.Reservation
	if err := json.Unmarshal(b, &r); err != nil {
		return domain.Reservation{}, fmt.Errorf("decode reservation: %w", err)
	}
	return r, nil
}
