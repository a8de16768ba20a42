package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	mysqldrv "github.com/go-sql-driver/mysql"

	"hotelperhour/internal/domain"
)

const (
	errDupEntry = 1062
	dateLayout  = "2006-01-02"
)

func isDuplicate(err error) bool {
	var me *mysqldrv.MySQLError
	return errors.As(err, &me) && me.Number == errDupEntry
}

// Tx is the unit of work handed to InBookingTx and InSettlementTx callbacks.
type Tx struct{ q querier }

var (
	_ domain.BookingTx    = (*Tx)(nil)
	_ domain.SettlementTx = (*Tx)(nil)
)

func (t *Tx) LockRoom(ctx context.Context, roomID int64) (domain.RoomCategory, error) {
	var room domain.RoomCategory
	var rr roomRow
	if err := t.q.QueryRowContext(ctx, lockRoomSQL, roomID).Scan(rr.targets(&room)...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.RoomCategory{}, domain.Wrap(domain.ErrNotFound, "room %d", roomID)
		}
		return domain.RoomCategory{}, fmt.Errorf("lock room %d: %w", roomID, err)
	}
	rr.apply(&room)
	return room, nil
}

func (t *Tx) CountOverlappingPaid(ctx context.Context, roomID int64, w domain.Window) (int, error) {
	return countOverlapping(ctx, t.q, roomID, w)
}

func (t *Tx) InsertBooking(ctx context.Context, b *domain.Booking) error {
	partyKind := b.Party.StorageKind()
	var partyID *int64
	if b.Party.Kind == domain.PartyAccount {
		id := b.Party.ID
		partyID = &id
	}
	res, err := t.q.ExecContext(ctx, insertBookingSQL,
		b.Reference, b.HotelID, b.RoomID, b.Window.CheckIn.UTC(), b.Window.CheckOut.UTC(), b.TotalHours.StringFixed(2),
		b.TotalPrice.StringFixed(2), b.ServiceCharge.StringFixed(2), b.DiscountApplied.StringFixed(2), b.PointsUsed, b.ExtrasCost.StringFixed(2),
		b.TotalAmount.StringFixed(2), b.HotelRevenueSnapshot.StringFixed(2), partyKind, valInt64(partyID),
		b.Contact.Name, valStr(b.Contact.Email), b.Contact.Phone, b.IsPaid, valStr(b.PaymentReference), b.CreatedAt.UTC(),
	)
	if err != nil {
		if isDuplicate(err) {
			return domain.ErrDuplicateReference
		}
		return fmt.Errorf("insert booking: %w", err)
	}
	if b.ID, err = res.LastInsertId(); err != nil {
		return err
	}
	if len(b.ExtraIDs) == 0 {
		return nil
	}

	values := make([]string, 0, len(b.ExtraIDs))
	args := make([]any, 0, len(b.ExtraIDs)*2)
	for _, id := range b.ExtraIDs {
		values = append(values, "(?,?)")
		args = append(args, b.ID, id)
	}
	if _, err := t.q.ExecContext(ctx, insertBookingExtrasPrefix+strings.Join(values, ","), args...); err != nil {
		return fmt.Errorf("insert booking extras: %w", err)
	}
	return nil
}

func (t *Tx) DeductPoints(ctx context.Context, customerID int64, points int) error {
	if points <= 0 {
		return nil
	}
	res, err := t.q.ExecContext(ctx, deductPointsSQL, points, customerID, points)
	if err != nil {
		return fmt.Errorf("deduct points: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrInsufficientPoints
	}
	return nil
}

func (t *Tx) LockHotel(ctx context.Context, hotelID int64) (domain.Hotel, error) {
	return getHotel(ctx, t.q, lockHotelSQL, hotelID)
}

func (t *Tx) UnsettledBookings(ctx context.Context, hotelID int64) ([]domain.BookingRevenue, error) {
	return unsettledBookings(ctx, t.q, hotelID)
}

func (t *Tx) SettledPeriods(ctx context.Context, hotelID int64) ([]domain.DateRange, error) {
	return settledPeriods(ctx, t.q, hotelID)
}

func (t *Tx) CountInFlightPayouts(ctx context.Context, hotelID int64) (int, error) {
	var n int
	err := t.q.QueryRowContext(ctx, countInFlightSQL, hotelID).Scan(&n)
	return n, err
}

func (t *Tx) InsertPayout(ctx context.Context, p *domain.PayoutRecord) error {
	res, err := t.q.ExecContext(ctx, insertPayoutSQL,
		p.Reference, p.HotelID, p.PeriodStart.Format(dateLayout), p.PeriodEnd.Format(dateLayout), p.GrossRevenue.StringFixed(2),
		p.CommissionAmount.StringFixed(2), p.NetPayout.StringFixed(2), p.BookingCount, string(p.Status), p.CreatedAt.UTC(),
		valTime(p.ApprovedAt), valTime(p.PaidAt), valStr(p.ApprovedBy), valStr(p.TransferReference), p.Notes,
	)
	if err != nil {
		return fmt.Errorf("insert payout: %w", err)
	}
	p.ID, err = res.LastInsertId()
	return err
}

func (t *Tx) AttachBookings(ctx context.Context, payoutID int64, bookingIDs []int64) error {
	if len(bookingIDs) == 0 {
		return nil
	}
	args := make([]any, 0, len(bookingIDs)+1)
	args = append(args, payoutID)
	for _, id := range bookingIDs {
		args = append(args, id)
	}
	_, err := t.q.ExecContext(ctx, attachBookingsPrefix+placeholders(len(bookingIDs)), args...)
	return err
}

func (t *Tx) LockPayout(ctx context.Context, id int64) (domain.PayoutRecord, error) {
	return getPayout(ctx, t.q, lockPayoutSQL, id)
}

func (t *Tx) UpdatePayout(ctx context.Context, p domain.PayoutRecord) error {
	_, err := t.q.ExecContext(ctx, updatePayoutSQL,
		string(p.Status), valTime(p.ApprovedAt), valTime(p.PaidAt), valStr(p.ApprovedBy),
		valStr(p.TransferReference), p.Notes, p.ID,
	)
	return err
}

func (t *Tx) ReleaseBookings(ctx context.Context, payoutID int64) error {
	_, err := t.q.ExecContext(ctx, releaseBookingsSQL, payoutID)
	return err
}
