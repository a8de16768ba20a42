package app

import (
	"context"
	"fmt"
	"time"

	"hotelperhour/internal/domain"
)

type Availability struct {
	RoomID     int64         `json:"room_id"`
	Window     domain.Window `json:"window"`
	Units      int           `json:"available_units"`
	InBlackout bool          `json:"in_blackout"`
}

func (a Availability) Bookable() bool { return a.Units > 0 && !a.InBlackout }

type AvailabilityResolver struct {
	bookings domain.BookingRepository
}

func NewAvailabilityResolver(b domain.BookingRepository) *AvailabilityResolver {
	return &AvailabilityResolver{bookings: b}
}

// AvailableUnits counts paid bookings overlapping w and subtracts them from capacity.
func (r *AvailabilityResolver) AvailableUnits(ctx context.Context, room domain.RoomCategory, w domain.Window) (int, error) {
	if !room.IsAvailable {
		return 0, nil
	}
	n, err := r.bookings.CountOverlappingPaid(ctx, room.ID, w)
	if err != nil {
		return 0, fmt.Errorf("count overlapping bookings for room %d: %w", room.ID, err)
	}
	return UnitsFree(room, n), nil
}

func (r *AvailabilityResolver) Check(ctx context.Context, hotel domain.Hotel, room domain.RoomCategory, w domain.Window) (Availability, error) {
	units, err := r.AvailableUnits(ctx, room, w)
	if err != nil {
		return Availability{}, err
	}
	return Availability{
		RoomID:     room.ID,
		Window:     w,
		Units:      units,
		InBlackout: InBlackout(hotel, w.CheckIn),
	}, nil
}

// UnitsFree is max(0, total_units - overlapping), zero when the room is switched off.
func UnitsFree(room domain.RoomCategory, overlapping int) int {
	if !room.IsAvailable {
		return 0
	}
	if free := room.TotalUnits - overlapping; free > 0 {
		return free
	}
	return 0
}

// InBlackout reports whether checkIn, read on the hotel's local clock, falls in its blackout window.
func InBlackout(h domain.Hotel, checkIn time.Time) bool {
	if h.Blackout == nil {
		return false
	}
	return h.Blackout.Contains(checkIn.In(h.Location()))
}
