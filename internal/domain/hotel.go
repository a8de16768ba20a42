package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// DurationMode restricts which stay lengths a hotel sells.
type DurationMode string

const (
	DurationAll     DurationMode = "all"
	Duration12Only  DurationMode = "12_only"
	Duration24Only  DurationMode = "24_only"
	Duration12And24 DurationMode = "12_and_24"
	DefaultMinHours              = 3
	DefaultTimeZone              = "Africa/Lagos"
)

func (m DurationMode) Valid() bool {
	switch m {
	case DurationAll, Duration12Only, Duration24Only, Duration12And24:
		return true
	}
	return false
}

// ClockWindow is a recurring daily window expressed in minutes after midnight.
// Start > End wraps past midnight; Start == End is an empty window.
type ClockWindow struct {
	StartMinute int `json:"start_minute"`
	EndMinute   int `json:"end_minute"`
}

func (w ClockWindow) Contains(t time.Time) bool {
	if w.StartMinute == w.EndMinute {
		return false
	}
	m := t.Hour()*60 + t.Minute()
	if w.StartMinute < w.EndMinute {
		return m >= w.StartMinute && m < w.EndMinute
	}
	return m >= w.StartMinute || m < w.EndMinute
}

type Hotel struct {
	ID           int64
	Name         string
	Email        *string
	Phone        *string
	OwnerEmail   *string
	IsApproved   bool
	DurationMode DurationMode
	MinHours     int
	Blackout     *ClockWindow
	TimeZone     string
}

// Location returns the hotel's time zone, falling back to UTC.
func (h Hotel) Location() *time.Location {
	tz := h.TimeZone
	if tz == "" {
		tz = DefaultTimeZone
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return time.UTC
	}
	return loc
}

// RoomCategory is a bookable class of identical rooms. Tariffs are nullable.
type RoomCategory struct {
	ID          int64
	HotelID     int64
	Name        string
	TotalUnits  int
	HourlyRate  *decimal.Decimal
	Price12h    *decimal.Decimal
	Price24h    *decimal.Decimal
	IsAvailable bool
}

type Extra struct {
	ID      int64           `json:"id"`
	HotelID int64           `json:"hotel_id"`
	Name    string          `json:"name"`
	Price   decimal.Decimal `json:"price"`
}
