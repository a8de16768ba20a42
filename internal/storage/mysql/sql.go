package mysql

// -----------------------------------------------------------------------------
// CATALOG
// -----------------------------------------------------------------------------

const hotelColumns = `
  h.id, h.name, h.email, h.phone, h.owner_email, h.is_approved,
  h.duration_mode, h.min_hours, h.blackout_start_minute, h.blackout_end_minute, h.time_zone`

const roomColumns = `
  r.id, r.hotel_id, r.name, r.total_units, r.hourly_rate, r.price_12h, r.price_24h, r.is_available`

const getHotelSQL = `SELECT` + hotelColumns + `
FROM hotels h
WHERE h.id = ?`

// Serializes payout creation and status changes for one hotel.
const lockHotelSQL = getHotelSQL + `
FOR UPDATE`

const getRoomWithHotelSQL = `SELECT` + roomColumns + `,` + hotelColumns + `
FROM room_categories r
JOIN hotels h ON h.id = r.hotel_id
WHERE r.id = ?`

// Held for the whole finalize transaction so overlapping finalizations for
// the same room category run one after another. A room of an unapproved hotel
// reads as unavailable; only the room row is locked.
const lockRoomSQL = `SELECT
  r.id, r.hotel_id, r.name, r.total_units, r.hourly_rate, r.price_12h, r.price_24h,
  r.is_available AND h.is_approved
FROM room_categories r
JOIN hotels h ON h.id = r.hotel_id
WHERE r.id = ?
FOR UPDATE OF r`

const setRoomAvailabilitySQL = `UPDATE room_categories SET is_available = ? WHERE id = ?`

const roomExistsSQL = `SELECT 1 FROM room_categories WHERE id = ?`

const setHotelApprovalSQL = `UPDATE hotels SET is_approved = ? WHERE id = ?`

const hotelExistsSQL = `SELECT 1 FROM hotels WHERE id = ?`

// IN list appended by the caller.
const listExtrasPrefix = `
SELECT id, hotel_id, name, price
FROM extras
WHERE hotel_id = ? AND id IN `

// -----------------------------------------------------------------------------
// LOYALTY
// -----------------------------------------------------------------------------

const activeRuleSQL = `
SELECT id, points_per_percent, max_discount_percentage, min_points_to_use, is_active
FROM loyalty_rules
WHERE is_active = 1
LIMIT 1`

const deactivateRulesSQL = `UPDATE loyalty_rules SET is_active = 0 WHERE is_active = 1`

const insertRuleSQL = `
INSERT INTO loyalty_rules
  (points_per_percent, max_discount_percentage, min_points_to_use, is_active)
VALUES
  (?, ?, ?, 1)`

const pointsBalanceSQL = `SELECT loyalty_points FROM customers WHERE id = ?`

// Zero rows affected means the balance no longer covers the deduction.
const deductPointsSQL = `
UPDATE customers
SET loyalty_points = loyalty_points - ?
WHERE id = ? AND loyalty_points >= ?`

// -----------------------------------------------------------------------------
// BOOKINGS
// -----------------------------------------------------------------------------

const insertBookingSQL = `
INSERT INTO bookings
  (booking_reference, hotel_id, room_id, check_in, check_out, total_hours,
   total_price, service_charge, discount_applied, points_used, extras_cost,
   total_amount, hotel_revenue_snapshot, party_kind, party_id,
   guest_name, guest_email, guest_phone, is_paid, payment_reference, created_at)
VALUES
  (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

const insertBookingExtrasPrefix = "INSERT INTO booking_extras (booking_id, extra_id) VALUES "

const getBookingSQL = `
SELECT
  id, booking_reference, hotel_id, room_id, check_in, check_out, total_hours,
  total_price, service_charge, discount_applied, points_used, extras_cost,
  total_amount, hotel_revenue_snapshot, party_kind, party_id,
  guest_name, guest_email, guest_phone, is_paid, payment_reference, payout_id, created_at
FROM bookings
WHERE booking_reference = ?`

const bookingExtrasSQL = `SELECT extra_id FROM booking_extras WHERE booking_id = ? ORDER BY extra_id`

// Half-open windows: [in, out) overlaps [a, b) iff in < b AND out > a.
const countOverlappingPaidSQL = `
SELECT COUNT(*)
FROM bookings
WHERE room_id = ? AND is_paid = 1 AND check_in < ? AND check_out > ?`

const deleteUnpaidBookingSQL = `DELETE FROM bookings WHERE booking_reference = ? AND is_paid = 0`

const bookingPaidFlagSQL = `SELECT is_paid FROM bookings WHERE booking_reference = ?`

const platformRevenueSQL = `
SELECT COALESCE(SUM(service_charge), 0), COUNT(*)
FROM bookings
WHERE is_paid = 1 AND created_at >= ? AND created_at < ?`

// -----------------------------------------------------------------------------
// SETTLEMENT
// -----------------------------------------------------------------------------

// Bookings released by a failed payout count as unsettled again.
const unsettledBookingsSQL = `
SELECT b.id, b.hotel_revenue_snapshot, b.created_at
FROM bookings b
LEFT JOIN payouts p ON p.id = b.payout_id
WHERE b.hotel_id = ? AND b.is_paid = 1
  AND (b.payout_id IS NULL OR p.status = 'failed')
ORDER BY b.created_at, b.id`

// hotels the settler should visit: approved, with paid bookings not in a live payout
const payableHotelsSQL = `
SELECT DISTINCT b.hotel_id
FROM bookings b
JOIN hotels h ON h.id = b.hotel_id
LEFT JOIN payouts p ON p.id = b.payout_id
WHERE b.is_paid = 1 AND h.is_approved = 1
  AND (b.payout_id IS NULL OR p.status = 'failed')
ORDER BY b.hotel_id`

const settledPeriodsSQL = `
SELECT period_start, period_end
FROM payouts
WHERE hotel_id = ? AND status IN ('completed', 'processing')
ORDER BY period_start`

const countInFlightSQL = `
SELECT COUNT(*)
FROM payouts
WHERE hotel_id = ? AND status IN ('pending', 'approved', 'processing')`

const payoutColumns = `
  id, reference, hotel_id, period_start, period_end, gross_revenue,
  commission_amount, net_payout, booking_count, status, created_at,
  approved_at, paid_at, approved_by, transfer_reference, notes`

const getPayoutSQL = `SELECT` + payoutColumns + `
FROM payouts
WHERE id = ?`

const lockPayoutSQL = getPayoutSQL + `
FOR UPDATE`

const listPayoutsSQL = `SELECT` + payoutColumns + `
FROM payouts
WHERE hotel_id = ?
ORDER BY created_at DESC, id DESC`

const insertPayoutSQL = `
INSERT INTO payouts
  (reference, hotel_id, period_start, period_end, gross_revenue,
   commission_amount, net_payout, booking_count, status, created_at,
   approved_at, paid_at, approved_by, transfer_reference, notes)
VALUES
  (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

const updatePayoutSQL = `
UPDATE payouts
SET status = ?, approved_at = ?, paid_at = ?, approved_by = ?,
    transfer_reference = ?, notes = ?
WHERE id = ?`

// IN list appended by the caller.
const attachBookingsPrefix = `UPDATE bookings SET payout_id = ? WHERE id IN `

const releaseBookingsSQL = `UPDATE bookings SET payout_id = NULL WHERE payout_id = ?`
