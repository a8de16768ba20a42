package app_test

import (
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"hotelperhour/internal/app"
	"hotelperhour/internal/domain"
)

// ---- relational store ----

// memDB implements every repository port. One mutex stands in for row locks:
// transactions hold it for their whole body and roll back on error.
type memDB struct {
	mu           sync.Mutex
	hotels       map[int64]domain.Hotel
	rooms        map[int64]domain.RoomCategory
	extras       map[int64]domain.Extra
	points       map[int64]int
	rule         *domain.LoyaltyRule
	bookings     map[string]domain.Booking
	payouts      map[int64]domain.PayoutRecord
	nextBooking  int64
	nextPayout   int64
	deductCalls  int
	failNextRead error
}

func newMemDB() *memDB {
	return &memDB{
		hotels:   map[int64]domain.Hotel{},
		rooms:    map[int64]domain.RoomCategory{},
		extras:   map[int64]domain.Extra{},
		points:   map[int64]int{},
		bookings: map[string]domain.Booking{},
		payouts:  map[int64]domain.PayoutRecord{},
	}
}

func (db *memDB) RoomWithHotel(ctx context.Context, roomID int64) (domain.RoomCategory, domain.Hotel, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	r, ok := db.rooms[roomID]
	if !ok {
		return domain.RoomCategory{}, domain.Hotel{}, domain.ErrNotFound
	}
	return r, db.hotels[r.HotelID], nil
}

func (db *memDB) HotelByID(ctx context.Context, id int64) (domain.Hotel, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	h, ok := db.hotels[id]
	if !ok {
		return domain.Hotel{}, domain.ErrNotFound
	}
	return h, nil
}

func (db *memDB) ExtrasByIDs(ctx context.Context, hotelID int64, ids []int64) ([]domain.Extra, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	var out []domain.Extra
	for _, id := range ids {
		if e, ok := db.extras[id]; ok && e.HotelID == hotelID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (db *memDB) SetRoomAvailability(ctx context.Context, roomID int64, available bool) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	r, ok := db.rooms[roomID]
	if !ok {
		return domain.ErrNotFound
	}
	r.IsAvailable = available
	db.rooms[roomID] = r
	return nil
}

func (db *memDB) SetHotelApproval(ctx context.Context, hotelID int64, approved bool) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	h, ok := db.hotels[hotelID]
	if !ok {
		return domain.ErrNotFound
	}
	h.IsApproved = approved
	db.hotels[hotelID] = h
	return nil
}

func (db *memDB) ActiveRule(ctx context.Context) (*domain.LoyaltyRule, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.rule == nil {
		return nil, nil
	}
	r := *db.rule
	return &r, nil
}

func (db *memDB) ActivateRule(ctx context.Context, r domain.LoyaltyRule) (domain.LoyaltyRule, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	r.ID++
	db.rule = &r
	return r, nil
}

func (db *memDB) PointsBalance(ctx context.Context, customerID int64) (int, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.points[customerID], nil
}

func (db *memDB) BookingByReference(ctx context.Context, ref string) (domain.Booking, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if err := db.failNextRead; err != nil {
		db.failNextRead = nil
		return domain.Booking{}, err
	}
	b, ok := db.bookings[ref]
	if !ok {
		return domain.Booking{}, domain.ErrNotFound
	}
	return b, nil
}

func (db *memDB) countOverlapping(roomID int64, w domain.Window) int {
	n := 0
	for _, b := range db.bookings {
		if b.RoomID == roomID && b.IsPaid && b.Window.Overlaps(w) {
			n++
		}
	}
	return n
}

func (db *memDB) CountOverlappingPaid(ctx context.Context, roomID int64, w domain.Window) (int, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.countOverlapping(roomID, w), nil
}

func (db *memDB) PlatformRevenue(ctx context.Context, from, to time.Time) (decimal.Decimal, int, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	total, n := decimal.Zero, 0
	for _, b := range db.bookings {
		if b.IsPaid && !b.CreatedAt.Before(from) && b.CreatedAt.Before(to) {
			total = total.Add(b.ServiceCharge)
			n++
		}
	}
	return total, n, nil
}

func (db *memDB) DeleteUnpaidBooking(ctx context.Context, ref string) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	b, ok := db.bookings[ref]
	if !ok {
		return domain.ErrNotFound
	}
	if b.IsPaid {
		return domain.ErrBookingPaid
	}
	delete(db.bookings, ref)
	return nil
}

type memSnapshot struct {
	bookings map[string]domain.Booking
	payouts  map[int64]domain.PayoutRecord
	points   map[int64]int
}

func (db *memDB) snapshot() memSnapshot {
	s := memSnapshot{
		bookings: make(map[string]domain.Booking, len(db.bookings)),
		payouts:  make(map[int64]domain.PayoutRecord, len(db.payouts)),
		points:   make(map[int64]int, len(db.points)),
	}
	for k, v := range db.bookings {
		s.bookings[k] = v
	}
	for k, v := range db.payouts {
		s.payouts[k] = v
	}
	for k, v := range db.points {
		s.points[k] = v
	}
	return s
}

func (db *memDB) restore(s memSnapshot) {
	db.bookings, db.payouts, db.points = s.bookings, s.payouts, s.points
}

func (db *memDB) InBookingTx(ctx context.Context, fn func(tx domain.BookingTx) error) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	snap := db.snapshot()
	if err := fn(memTx{db}); err != nil {
		db.restore(snap)
		return err
	}
	return nil
}

func (db *memDB) InSettlementTx(ctx context.Context, fn func(tx domain.SettlementTx) error) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	snap := db.snapshot()
	if err := fn(memTx{db}); err != nil {
		db.restore(snap)
		return err
	}
	return nil
}

func (db *memDB) PayoutByID(ctx context.Context, id int64) (domain.PayoutRecord, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	p, ok := db.payouts[id]
	if !ok {
		return domain.PayoutRecord{}, domain.ErrNotFound
	}
	return p, nil
}

func (db *memDB) ListPayouts(ctx context.Context, hotelID int64) ([]domain.PayoutRecord, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	var out []domain.PayoutRecord
	for id := int64(1); id <= db.nextPayout; id++ {
		if p, ok := db.payouts[id]; ok && p.HotelID == hotelID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (db *memDB) UnsettledBookings(ctx context.Context, hotelID int64) ([]domain.BookingRevenue, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	return memTx{db}.UnsettledBookings(ctx, hotelID)
}

func (db *memDB) SettledPeriods(ctx context.Context, hotelID int64) ([]domain.DateRange, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	return memTx{db}.SettledPeriods(ctx, hotelID)
}

// memTx runs with db.mu already held.
type memTx struct{ db *memDB }

func (t memTx) LockRoom(ctx context.Context, roomID int64) (domain.RoomCategory, error) {
	r, ok := t.db.rooms[roomID]
	if !ok {
		return domain.RoomCategory{}, domain.ErrNotFound
	}
	r.IsAvailable = r.IsAvailable && t.db.hotels[r.HotelID].IsApproved
	return r, nil
}

func (t memTx) CountOverlappingPaid(ctx context.Context, roomID int64, w domain.Window) (int, error) {
	return t.db.countOverlapping(roomID, w), nil
}

func (t memTx) InsertBooking(ctx context.Context, b *domain.Booking) error {
	if _, ok := t.db.bookings[b.Reference]; ok {
		return domain.ErrDuplicateReference
	}
	t.db.nextBooking++
	b.ID = t.db.nextBooking
	t.db.bookings[b.Reference] = *b
	return nil
}

func (t memTx) DeductPoints(ctx context.Context, customerID int64, points int) error {
	t.db.deductCalls++
	if t.db.points[customerID] < points {
		return domain.ErrInsufficientPoints
	}
	t.db.points[customerID] -= points
	return nil
}

func (t memTx) LockHotel(ctx context.Context, hotelID int64) (domain.Hotel, error) {
	h, ok := t.db.hotels[hotelID]
	if !ok {
		return domain.Hotel{}, domain.ErrNotFound
	}
	return h, nil
}

func (t memTx) UnsettledBookings(ctx context.Context, hotelID int64) ([]domain.BookingRevenue, error) {
	var out []domain.BookingRevenue
	for _, b := range t.db.bookings {
		if b.HotelID != hotelID || !b.IsPaid {
			continue
		}
		if b.PayoutID != nil && t.db.payouts[*b.PayoutID].Status != domain.PayoutFailed {
			continue
		}
		out = append(out, domain.BookingRevenue{BookingID: b.ID, Snapshot: b.HotelRevenueSnapshot, CreatedAt: b.CreatedAt})
	}
	return out, nil
}

func (t memTx) SettledPeriods(ctx context.Context, hotelID int64) ([]domain.DateRange, error) {
	var out []domain.DateRange
	for _, p := range t.db.payouts {
		if p.HotelID == hotelID && p.Status.Settled() {
			out = append(out, domain.DateRange{Start: p.PeriodStart, End: p.PeriodEnd})
		}
	}
	return out, nil
}

func (t memTx) CountInFlightPayouts(ctx context.Context, hotelID int64) (int, error) {
	n := 0
	for _, p := range t.db.payouts {
		if p.HotelID == hotelID && p.Status.InFlight() {
			n++
		}
	}
	return n, nil
}

func (t memTx) InsertPayout(ctx context.Context, p *domain.PayoutRecord) error {
	t.db.nextPayout++
	p.ID = t.db.nextPayout
	t.db.payouts[p.ID] = *p
	return nil
}

func (t memTx) AttachBookings(ctx context.Context, payoutID int64, ids []int64) error {
	want := map[int64]bool{}
	for _, id := range ids {
		want[id] = true
	}
	for ref, b := range t.db.bookings {
		if want[b.ID] {
			pid := payoutID
			b.PayoutID = &pid
			t.db.bookings[ref] = b
		}
	}
	return nil
}

func (t memTx) LockPayout(ctx context.Context, id int64) (domain.PayoutRecord, error) {
	p, ok := t.db.payouts[id]
	if !ok {
		return domain.PayoutRecord{}, domain.ErrNotFound
	}
	return p, nil
}

func (t memTx) UpdatePayout(ctx context.Context, p domain.PayoutRecord) error {
	t.db.payouts[p.ID] = p
	return nil
}

func (t memTx) ReleaseBookings(ctx context.Context, payoutID int64) error {
	for ref, b := range t.db.bookings {
		if b.PayoutID != nil && *b.PayoutID == payoutID {
			b.PayoutID = nil
			t.db.bookings[ref] = b
		}
	}
	return nil
}

// payoutsOf returns booking IDs attached to payout id.
func (db *memDB) payoutsOf(id int64) []int64 {
	db.mu.Lock()
	defer db.mu.Unlock()
	var out []int64
	for _, b := range db.bookings {
		if b.PayoutID != nil && *b.PayoutID == id {
			out = append(out, b.ID)
		}
	}
	return out
}

func (db *memDB) addPaidBooking(ref string, hotelID, roomID int64, snapshot string, createdAt time.Time) domain.Booking {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.nextBooking++
	b := domain.Booking{
		ID:                   db.nextBooking,
		Reference:            ref,
		HotelID:              hotelID,
		RoomID:               roomID,
		Window:               domain.Window{CheckIn: createdAt.Add(time.Hour), CheckOut: createdAt.Add(4 * time.Hour)},
		HotelRevenueSnapshot: decimal.RequireFromString(snapshot),
		IsPaid:               true,
		CreatedAt:            createdAt,
	}
	db.bookings[ref] = b
	return b
}

// ---- pending store ----

type memPending struct {
	mu     sync.Mutex
	items  map[string]domain.Reservation
	putErr error
}

func newMemPending() *memPending { return &memPending{items: map[string]domain.Reservation{}} }

func (m *memPending) Put(ctx context.Context, r domain.Reservation, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.putErr != nil {
		return m.putErr
	}
	m.items[r.Quote.Reference] = r
	return nil
}

func (m *memPending) Update(ctx context.Context, r domain.Reservation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.items[r.Quote.Reference]; !ok {
		return domain.ErrReservationNotFound
	}
	m.items[r.Quote.Reference] = r
	return nil
}

func (m *memPending) Get(ctx context.Context, ref string) (domain.Reservation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.items[ref]
	if !ok {
		return domain.Reservation{}, domain.ErrReservationNotFound
	}
	return r, nil
}

func (m *memPending) Consume(ctx context.Context, ref string) (domain.Reservation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.items[ref]
	if !ok {
		return domain.Reservation{}, domain.ErrReservationNotFound
	}
	delete(m.items, ref)
	return r, nil
}

func (m *memPending) has(ref string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.items[ref]
	return ok
}

// ---- gateway ----

const testSecret = "sk_test_secret"

func sign(payload []byte) string {
	mac := hmac.New(sha512.New, []byte(testSecret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

type fakeGateway struct {
	mu        sync.Mutex
	initErr   error
	inits     []domain.PaymentInit
	verify    map[string]domain.PaymentVerification
	verifyErr error
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{verify: map[string]domain.PaymentVerification{}}
}

func (g *fakeGateway) Initialize(ctx context.Context, in domain.PaymentInit) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.inits = append(g.inits, in)
	if g.initErr != nil {
		return "", g.initErr
	}
	return "https://checkout.example/" + in.Reference, nil
}

func (g *fakeGateway) Verify(ctx context.Context, ref string) (domain.PaymentVerification, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.verifyErr != nil {
		return domain.PaymentVerification{}, g.verifyErr
	}
	v, ok := g.verify[ref]
	if !ok {
		return domain.PaymentVerification{}, domain.Wrap(domain.ErrNotFound, "transaction %s", ref)
	}
	return v, nil
}

func (g *fakeGateway) VerifySignature(payload []byte, signature string) bool {
	return hmac.Equal([]byte(sign(payload)), []byte(signature))
}

// paid marks ref as successfully charged for amount naira.
func (g *fakeGateway) paid(ref string, amount decimal.Decimal) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.verify[ref] = domain.PaymentVerification{
		Reference:  ref,
		Status:     "success",
		AmountKobo: amount.Mul(decimal.NewFromInt(100)).IntPart(),
	}
}

// ---- notifier ----

type recordingNotifier struct {
	mu     sync.Mutex
	events []domain.Event
	err    error
}

func (n *recordingNotifier) Notify(ctx context.Context, ev domain.Event) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, ev)
	return n.err
}

func (n *recordingNotifier) types() []domain.EventType {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]domain.EventType, len(n.events))
	for i, e := range n.events {
		out[i] = e.Type
	}
	return out
}

func (n *recordingNotifier) ofType(t domain.EventType) []domain.Event {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []domain.Event
	for _, e := range n.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

// ---- cache ----

type fakeCache struct {
	mu    sync.Mutex
	store map[string][]byte
	sets  int
}

func (c *fakeCache) Get(ctx context.Context, key string, dst any) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	b, ok := c.store[key]
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(b, dst)
}

func (c *fakeCache) Set(ctx context.Context, key string, v any, ttlSec int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.store == nil {
		c.store = map[string][]byte{}
	}
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	c.store[key] = b
	c.sets++
	return nil
}

func (c *fakeCache) Del(ctx context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.store, key)
	return nil
}

// ---- fixture ----

var (
	testNow = time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	stayDay = time.Date(2025, 3, 12, 0, 0, 0, 0, time.UTC)
)

const (
	hotelID      = int64(1)
	otherHotelID = int64(2)
	roomTwin     = int64(10) // 2 units, hourly 5000, 12h 50000
	roomSingle   = int64(11) // 1 unit, hourly 5000
	extraBreak   = int64(100)
	extraForeign = int64(200)
	customerID   = int64(7)
)

type fixture struct {
	db      *memDB
	pending *memPending
	gw      *fakeGateway
	notes   *recordingNotifier
	events  *app.Dispatcher
	rs      *app.ReservationService
	ps      *app.PaymentService
}

func dec(s string) decimal.Decimal   { return decimal.RequireFromString(s) }
func pdec(s string) *decimal.Decimal { d := dec(s); return &d }
func ptr[T any](v T) *T              { return &v }

func seedCatalog(db *memDB) {
	db.hotels[hotelID] = domain.Hotel{
		ID: hotelID, Name: "Ikeja Hourly", Email: ptr("desk@ikeja.example"),
		OwnerEmail: ptr("owner@ikeja.example"), IsApproved: true,
		DurationMode: domain.DurationAll, MinHours: 3, TimeZone: "UTC",
	}
	db.hotels[otherHotelID] = domain.Hotel{ID: otherHotelID, Name: "Lekki Lodge", IsApproved: true, DurationMode: domain.DurationAll, TimeZone: "UTC"}
	db.rooms[roomTwin] = domain.RoomCategory{
		ID: roomTwin, HotelID: hotelID, Name: "Twin", TotalUnits: 2,
		HourlyRate: pdec("5000"), Price12h: pdec("50000"), IsAvailable: true,
	}
	db.rooms[roomSingle] = domain.RoomCategory{
		ID: roomSingle, HotelID: hotelID, Name: "Single", TotalUnits: 1,
		HourlyRate: pdec("5000"), IsAvailable: true,
	}
	db.extras[extraBreak] = domain.Extra{ID: extraBreak, HotelID: hotelID, Name: "Breakfast", Price: dec("1500")}
	db.extras[extraForeign] = domain.Extra{ID: extraForeign, HotelID: otherHotelID, Name: "Spa", Price: dec("999")}
	db.points[customerID] = 500
	db.rule = &domain.LoyaltyRule{ID: 1, PointsPerPercent: 100, MaxDiscountPercentage: dec("20"), MinPointsToUse: 100, Active: true}
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := newMemDB()
	seedCatalog(db)
	f := &fixture{db: db, pending: newMemPending(), gw: newFakeGateway(), notes: &recordingNotifier{}}
	f.events = app.NewDispatcher(f.notes, time.Second)

	var seq atomic.Int64
	f.rs = app.NewReservationService(db, db, db, f.pending, f.gw, f.events, app.ReservationConfig{
		PendingTTL:     30 * time.Minute,
		GatewayTimeout: time.Second,
		CallbackURL:    "https://hotelperhour.example/v1/payments/callback",
		Clock:          func() time.Time { return testNow },
		NewReference:   func() string { return fmt.Sprintf("HPH-T%04d", seq.Add(1)) },
	})
	f.ps = app.NewPaymentService(f.rs, f.gw, time.Second)
	t.Cleanup(f.events.Wait)
	return f
}

// window returns [stayDay+start, stayDay+start+hours).
func window(start, hours int) domain.Window {
	in := stayDay.Add(time.Duration(start) * time.Hour)
	return domain.Window{CheckIn: in, CheckOut: in.Add(time.Duration(hours) * time.Hour)}
}

func guest(name string) domain.ContactInfo {
	return domain.ContactInfo{Name: name, Email: ptr(name + "@mail.example"), Phone: "+234 801 000 0000"}
}

// reserve quotes and begins payment; the reservation ends up pending.
func (f *fixture) reserve(t *testing.T, req app.QuoteRequest) domain.Reservation {
	t.Helper()
	q, err := f.rs.Quote(context.Background(), req)
	if err != nil {
		t.Fatalf("quote: %v", err)
	}
	r, _, err := f.rs.BeginPayment(context.Background(), q, guest("ada"))
	if err != nil {
		t.Fatalf("begin payment: %v", err)
	}
	return r
}

func isKind(err error, sentinel *domain.Error) bool { return errors.Is(err, sentinel) }
