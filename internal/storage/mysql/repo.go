package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"hotelperhour/internal/domain"
)

func valStr(p *string) any {
	if p == nil {
		return nil
	}
	return *p
}
func valInt64(p *int64) any {
	if p == nil {
		return nil
	}
	return *p
}
func valTime(p *time.Time) any {
	if p == nil {
		return nil
	}
	return p.UTC()
}

func strPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}
func int64Ptr(ni sql.NullInt64) *int64 {
	if !ni.Valid {
		return nil
	}
	n := ni.Int64
	return &n
}
func timePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time.UTC()
	return &t
}
func decPtr(nd decimal.NullDecimal) *decimal.Decimal {
	if !nd.Valid {
		return nil
	}
	d := nd.Decimal
	return &d
}

// placeholders returns "(?,?,…)" for n values.
func placeholders(n int) string {
	return "(" + strings.TrimSuffix(strings.Repeat("?,", n), ",") + ")"
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type scanner interface {
	Scan(dest ...any) error
}

type Repo struct{ db *sql.DB }

func New(db *sql.DB) *Repo { return &Repo{db: db} }

// Compile-time checks.
var (
	_ domain.CatalogRepository = (*Repo)(nil)
	_ domain.LoyaltyRepository = (*Repo)(nil)
	_ domain.BookingRepository = (*Repo)(nil)
	_ domain.PayoutRepository  = (*Repo)(nil)
)

// inTx runs fn in a READ COMMITTED transaction so that counts taken after a
// row lock see every booking committed before the lock was granted.
func (r *Repo) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := r.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()
	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	committed = true
	return nil
}

func (r *Repo) InBookingTx(ctx context.Context, fn func(tx domain.BookingTx) error) error {
	return r.inTx(ctx, func(tx *sql.Tx) error { return fn(&Tx{q: tx}) })
}

func (r *Repo) InSettlementTx(ctx context.Context, fn func(tx domain.SettlementTx) error) error {
	return r.inTx(ctx, func(tx *sql.Tx) error { return fn(&Tx{q: tx}) })
}

// ---- catalog ----

type hotelRow struct {
	email, phone, owner  sql.NullString
	mode, tz             string
	blackStart, blackEnd sql.NullInt64
}

func (h *hotelRow) targets(dst *domain.Hotel) []any {
	return []any{
		&dst.ID, &dst.Name, &h.email, &h.phone, &h.owner, &dst.IsApproved,
		&h.mode, &dst.MinHours, &h.blackStart, &h.blackEnd, &h.tz,
	}
}

func (h *hotelRow) apply(dst *domain.Hotel) {
	dst.Email = strPtr(h.email)
	dst.Phone = strPtr(h.phone)
	dst.OwnerEmail = strPtr(h.owner)
	dst.DurationMode = domain.DurationMode(h.mode)
	dst.TimeZone = h.tz
	if h.blackStart.Valid && h.blackEnd.Valid {
		dst.Blackout = &domain.ClockWindow{StartMinute: int(h.blackStart.Int64), EndMinute: int(h.blackEnd.Int64)}
	}
	if dst.MinHours <= 0 {
		dst.MinHours = domain.DefaultMinHours
	}
}

type roomRow struct {
	hourly, p12, p24 decimal.NullDecimal
}

func (rr *roomRow) targets(dst *domain.RoomCategory) []any {
	return []any{
		&dst.ID, &dst.HotelID, &dst.Name, &dst.TotalUnits,
		&rr.hourly, &rr.p12, &rr.p24, &dst.IsAvailable,
	}
}

func (rr *roomRow) apply(dst *domain.RoomCategory) {
	dst.HourlyRate = decPtr(rr.hourly)
	dst.Price12h = decPtr(rr.p12)
	dst.Price24h = decPtr(rr.p24)
}

func getHotel(ctx context.Context, q querier, query string, id int64) (domain.Hotel, error) {
	var h domain.Hotel
	var hr hotelRow
	if err := q.QueryRowContext(ctx, query, id).Scan(hr.targets(&h)...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Hotel{}, domain.Wrap(domain.ErrNotFound, "hotel %d", id)
		}
		return domain.Hotel{}, err
	}
	hr.apply(&h)
	return h, nil
}

func (r *Repo) HotelByID(ctx context.Context, hotelID int64) (domain.Hotel, error) {
	return getHotel(ctx, r.db, getHotelSQL, hotelID)
}

func (r *Repo) RoomWithHotel(ctx context.Context, roomID int64) (domain.RoomCategory, domain.Hotel, error) {
	var (
		room domain.RoomCategory
		h    domain.Hotel
		rr   roomRow
		hr   hotelRow
	)
	dest := append(rr.targets(&room), hr.targets(&h)...)
	if err := r.db.QueryRowContext(ctx, getRoomWithHotelSQL, roomID).Scan(dest...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.RoomCategory{}, domain.Hotel{}, domain.Wrap(domain.ErrNotFound, "room %d", roomID)
		}
		return domain.RoomCategory{}, domain.Hotel{}, err
	}
	rr.apply(&room)
	hr.apply(&h)
	return room, h, nil
}

func (r *Repo) ExtrasByIDs(ctx context.Context, hotelID int64, ids []int64) ([]domain.Extra, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	args := make([]any, 0, len(ids)+1)
	args = append(args, hotelID)
	for _, id := range ids {
		args = append(args, id)
	}
	rows, err := r.db.QueryContext(ctx, listExtrasPrefix+placeholders(len(ids))+" ORDER BY id", args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Extra
	for rows.Next() {
		var e domain.Extra
		if err := rows.Scan(&e.ID, &e.HotelID, &e.Name, &e.Price); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (r *Repo) SetRoomAvailability(ctx context.Context, roomID int64, available bool) error {
	return r.setFlag(ctx, setRoomAvailabilitySQL, roomExistsSQL, available, roomID, "room")
}

func (r *Repo) SetHotelApproval(ctx context.Context, hotelID int64, approved bool) error {
	return r.setFlag(ctx, setHotelApprovalSQL, hotelExistsSQL, approved, hotelID, "hotel")
}

func (r *Repo) setFlag(ctx context.Context, update, exists string, v bool, id int64, what string) error {
	res, err := r.db.ExecContext(ctx, update, v, id)
	if err != nil {
		return err
	}
	// MySQL reports 0 affected rows when the value is unchanged.
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}
	var one int
	if err := r.db.QueryRowContext(ctx, exists, id).Scan(&one); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Wrap(domain.ErrNotFound, "%s %d", what, id)
		}
		return err
	}
	return nil
}

// ---- loyalty ----

func (r *Repo) ActiveRule(ctx context.Context) (*domain.LoyaltyRule, error) {
	var lr domain.LoyaltyRule
	err := r.db.QueryRowContext(ctx, activeRuleSQL).Scan(
		&lr.ID, &lr.PointsPerPercent, &lr.MaxDiscountPercentage, &lr.MinPointsToUse, &lr.Active,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &lr, nil
}

func (r *Repo) ActivateRule(ctx context.Context, lr domain.LoyaltyRule) (domain.LoyaltyRule, error) {
	err := r.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, deactivateRulesSQL); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, insertRuleSQL,
			lr.PointsPerPercent, lr.MaxDiscountPercentage.StringFixed(2), lr.MinPointsToUse)
		if err != nil {
			return err
		}
		lr.ID, err = res.LastInsertId()
		return err
	})
	if err != nil {
		return domain.LoyaltyRule{}, fmt.Errorf("activate loyalty rule: %w", err)
	}
	lr.Active = true
	return lr, nil
}

func (r *Repo) PointsBalance(ctx context.Context, customerID int64) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, pointsBalanceSQL, customerID).Scan(&n); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, domain.Wrap(domain.ErrNotFound, "customer %d", customerID)
		}
		return 0, err
	}
	return n, nil
}

// ---- bookings ----

func scanBooking(s scanner) (domain.Booking, error) {
	var (
		b                      domain.Booking
		partyKind              string
		partyID, payoutID      sql.NullInt64
		guestEmail, paymentRef sql.NullString
	)
	err := s.Scan(
		&b.ID, &b.Reference, &b.HotelID, &b.RoomID, &b.Window.CheckIn, &b.Window.CheckOut, &b.TotalHours,
		&b.TotalPrice, &b.ServiceCharge, &b.DiscountApplied, &b.PointsUsed, &b.ExtrasCost,
		&b.TotalAmount, &b.HotelRevenueSnapshot, &partyKind, &partyID,
		&b.Contact.Name, &guestEmail, &b.Contact.Phone, &b.IsPaid, &paymentRef, &payoutID, &b.CreatedAt,
	)
	if err != nil {
		return domain.Booking{}, err
	}
	b.Party = domain.PartyFromStorage(partyKind, int64Ptr(partyID))
	b.Contact.Email = strPtr(guestEmail)
	b.PaymentReference = strPtr(paymentRef)
	b.PayoutID = int64Ptr(payoutID)
	b.Window.CheckIn = b.Window.CheckIn.UTC()
	b.Window.CheckOut = b.Window.CheckOut.UTC()
	b.CreatedAt = b.CreatedAt.UTC()
	return b, nil
}

func (r *Repo) BookingByReference(ctx context.Context, reference string) (domain.Booking, error) {
	b, err := scanBooking(r.db.QueryRowContext(ctx, getBookingSQL, reference))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Booking{}, domain.Wrap(domain.ErrNotFound, "booking %s", reference)
		}
		return domain.Booking{}, err
	}

	rows, err := r.db.QueryContext(ctx, bookingExtrasSQL, b.ID)
	if err != nil {
		return domain.Booking{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return domain.Booking{}, err
		}
		b.ExtraIDs = append(b.ExtraIDs, id)
	}
	return b, rows.Err()
}

func countOverlapping(ctx context.Context, q querier, roomID int64, w domain.Window) (int, error) {
	var n int
	err := q.QueryRowContext(ctx, countOverlappingPaidSQL, roomID, w.CheckOut.UTC(), w.CheckIn.UTC()).Scan(&n)
	return n, err
}

func (r *Repo) CountOverlappingPaid(ctx context.Context, roomID int64, w domain.Window) (int, error) {
	return countOverlapping(ctx, r.db, roomID, w)
}

func (r *Repo) PlatformRevenue(ctx context.Context, from, to time.Time) (decimal.Decimal, int, error) {
	var (
		total decimal.Decimal
		n     int
	)
	if err := r.db.QueryRowContext(ctx, platformRevenueSQL, from.UTC(), to.UTC()).Scan(&total, &n); err != nil {
		return decimal.Zero, 0, err
	}
	return total, n, nil
}

func (r *Repo) DeleteUnpaidBooking(ctx context.Context, reference string) error {
	res, err := r.db.ExecContext(ctx, deleteUnpaidBookingSQL, reference)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}
	var paid bool
	if err := r.db.QueryRowContext(ctx, bookingPaidFlagSQL, reference).Scan(&paid); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Wrap(domain.ErrNotFound, "booking %s", reference)
		}
		return err
	}
	if paid {
		return domain.ErrBookingPaid
	}
	return nil
}

// ---- payouts ----

func scanPayout(s scanner) (domain.PayoutRecord, error) {
	var (
		p                    domain.PayoutRecord
		status               string
		approvedAt, paidAt   sql.NullTime
		approvedBy, transfer sql.NullString
		notes                sql.NullString
	)
	err := s.Scan(
		&p.ID, &p.Reference, &p.HotelID, &p.PeriodStart, &p.PeriodEnd, &p.GrossRevenue,
		&p.CommissionAmount, &p.NetPayout, &p.BookingCount, &status, &p.CreatedAt,
		&approvedAt, &paidAt, &approvedBy, &transfer, &notes,
	)
	if err != nil {
		return domain.PayoutRecord{}, err
	}
	p.Status = domain.PayoutStatus(status)
	p.ApprovedAt = timePtr(approvedAt)
	p.PaidAt = timePtr(paidAt)
	p.ApprovedBy = strPtr(approvedBy)
	p.TransferReference = strPtr(transfer)
	p.Notes = notes.String
	p.CreatedAt = p.CreatedAt.UTC()
	return p, nil
}

func getPayout(ctx context.Context, q querier, query string, id int64) (domain.PayoutRecord, error) {
	p, err := scanPayout(q.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.PayoutRecord{}, domain.Wrap(domain.ErrNotFound, "payout %d", id)
	}
	return p, err
}

func (r *Repo) PayoutByID(ctx context.Context, id int64) (domain.PayoutRecord, error) {
	return getPayout(ctx, r.db, getPayoutSQL, id)
}

func (r *Repo) ListPayouts(ctx context.Context, hotelID int64) ([]domain.PayoutRecord, error) {
	rows, err := r.db.QueryContext(ctx, listPayoutsSQL, hotelID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.PayoutRecord
	for rows.Next() {
		p, err := scanPayout(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func unsettledBookings(ctx context.Context, q querier, hotelID int64) ([]domain.BookingRevenue, error) {
	rows, err := q.QueryContext(ctx, unsettledBookingsSQL, hotelID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.BookingRevenue
	for rows.Next() {
		var br domain.BookingRevenue
		if err := rows.Scan(&br.BookingID, &br.Snapshot, &br.CreatedAt); err != nil {
			return nil, err
		}
		br.CreatedAt = br.CreatedAt.UTC()
		out = append(out, br)
	}
	return out, rows.Err()
}

func settledPeriods(ctx context.Context, q querier, hotelID int64) ([]domain.DateRange, error) {
	rows, err := q.QueryContext(ctx, settledPeriodsSQL, hotelID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.DateRange
	for rows.Next() {
		var dr domain.DateRange
		if err := rows.Scan(&dr.Start, &dr.End); err != nil {
			return nil, err
		}
		out = append(out, domain.DateRange{Start: dr.Start.UTC(), End: dr.End.UTC()})
	}
	return out, rows.Err()
}

func (r *Repo) UnsettledBookings(ctx context.Context, hotelID int64) ([]domain.BookingRevenue, error) {
	return unsettledBookings(ctx, r.db, hotelID)
}

// PayableHotelIDs lists approved hotels holding unsettled paid bookings.
// Holding periods are not applied here; CreatePayout decides eligibility.
func (r *Repo) PayableHotelIDs(ctx context.Context) ([]int64, error) {
	rows, err := r.db.QueryContext(ctx, payableHotelsSQL)
	if err != nil {
		return nil, fmt.Errorf("payable hotels: %w", err)
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *Repo) SettledPeriods(ctx context.Context, hotelID int64) ([]domain.DateRange, error) {
	return settledPeriods(ctx, r.db, hotelID)
}
