package repo

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"bookline/internal/domain"
)

const bookingColumns = `id,buyer_id,seller_id,gig_id,offer_id,slot_id,price,requirements,scheduled_start,scheduled_end,status,cancel_reason,reviewed,version,created_at,updated_at,completed_at`

func scanBooking(row rowScanner) (domain.Booking, error) {
	var b domain.Booking
	var gigID, offerID, slotID, requirements, start, end, reason, completedAt sql.NullString
	var reviewed int
	err := row.Scan(&b.ID, &b.BuyerID, &b.SellerID, &gigID, &offerID, &slotID, &b.Price, &requirements, &start, &end,
		&b.Status, &reason, &reviewed, &b.Version, &b.CreatedAt, &b.UpdatedAt, &completedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return b, ErrNotFound
	}
	if err != nil {
		return b, err
	}
	if requirements.Valid {
		b.Requirements = requirements.String
	}
	b.GigID = stringPtr(gigID)
	b.OfferID = stringPtr(offerID)
	b.SlotID = stringPtr(slotID)
	b.ScheduledStart = stringPtr(start)
	b.ScheduledEnd = stringPtr(end)
	b.CancelReason = stringPtr(reason)
	b.CompletedAt = stringPtr(completedAt)
	b.Reviewed = reviewed != 0
	return b, nil
}

func (r Repo) InsertBooking(ctx context.Context, tx *sql.Tx, b domain.Booking) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO bookings(`+bookingColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		b.ID, b.BuyerID, b.SellerID, nullableStringPtr(b.GigID), nullableStringPtr(b.OfferID), nullableStringPtr(b.SlotID),
		b.Price.String(), nullable(b.Requirements), nullableStringPtr(b.ScheduledStart), nullableStringPtr(b.ScheduledEnd),
		b.Status, nullableStringPtr(b.CancelReason), boolInt(b.Reviewed), b.Version, b.CreatedAt, b.UpdatedAt,
		nullableStringPtr(b.CompletedAt))
	if IsUniqueViolation(err) {
		return ErrConflict
	}
	return err
}

func (r Repo) GetBooking(ctx context.Context, id string) (domain.Booking, error) {
	return scanBooking(r.DB.QueryRowContext(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id=?`, id))
}

func (r Repo) GetBookingTx(ctx context.Context, tx *sql.Tx, id string) (domain.Booking, error) {
	return scanBooking(tx.QueryRowContext(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id=?`, id))
}

type BookingStatusUpdate struct {
	ID             string
	From           string
	To             string
	Version        int64
	SlotID         *string
	ScheduledStart *string
	ScheduledEnd   *string
	CancelReason   *string
	CompletedAt    *string
	UpdatedAt      string
}

func (r Repo) UpdateBookingStatus(ctx context.Context, tx *sql.Tx, u BookingStatusUpdate) error {
	res, err := tx.ExecContext(ctx, `UPDATE bookings SET status=?,
  slot_id=COALESCE(?,slot_id),
  scheduled_start=COALESCE(?,scheduled_start),
  scheduled_end=COALESCE(?,scheduled_end),
  cancel_reason=COALESCE(?,cancel_reason),
  completed_at=COALESCE(?,completed_at),
  version=version+1, updated_at=?
WHERE id=? AND status=? AND version=?`,
		u.To, nullableStringPtr(u.SlotID), nullableStringPtr(u.ScheduledStart), nullableStringPtr(u.ScheduledEnd),
		nullableStringPtr(u.CancelReason), nullableStringPtr(u.CompletedAt), u.UpdatedAt, u.ID, u.From, u.Version)
	if err != nil {
		return err
	}
	return checkAffected(ctx, tx, res, "bookings", u.ID)
}

// MarkBookingReviewed flips the reviewed flag once; a second call is ErrConflict.
func (r Repo) MarkBookingReviewed(ctx context.Context, tx *sql.Tx, id string, version int64, now string) error {
	res, err := tx.ExecContext(ctx, `UPDATE bookings SET reviewed=1, version=version+1, updated_at=?
WHERE id=? AND status='completed' AND reviewed=0 AND version=?`, now, id, version)
	if err != nil {
		return err
	}
	return checkAffected(ctx, tx, res, "bookings", id)
}

type BookingFilters struct {
	BuyerID  string
	SellerID string
	// Participant matches either side of the booking.
	Participant string
	Status      string
	Page
}

func (r Repo) ListBookings(ctx context.Context, f BookingFilters) ([]domain.Booking, error) {
	var clauses []string
	var args []any
	if f.BuyerID != "" {
		clauses = append(clauses, "buyer_id=?")
		args = append(args, f.BuyerID)
	}
	if f.SellerID != "" {
		clauses = append(clauses, "seller_id=?")
		args = append(args, f.SellerID)
	}
	if f.Participant != "" {
		clauses = append(clauses, "(buyer_id=? OR seller_id=?)")
		args = append(args, f.Participant, f.Participant)
	}
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	clauses, args = f.Page.apply(clauses, args)
	suffix, args := f.Page.suffix(args)
	return queryBookings(ctx, r.DB, `SELECT `+bookingColumns+` FROM bookings`+whereClause(clauses)+suffix, args...)
}

// LiveOfferBookingTx returns the pending, accepted or completed booking made
// from an accepted offer on the request, or ErrNotFound.
func (r Repo) LiveOfferBookingTx(ctx context.Context, tx *sql.Tx, requestID string) (domain.Booking, error) {
	return scanBooking(tx.QueryRowContext(ctx, `SELECT b.`+strings.ReplaceAll(bookingColumns, ",", ",b.")+`
FROM bookings b JOIN offers o ON o.booking_id = b.id
WHERE o.request_id=? AND o.status='accepted' AND b.status IN ('pending','accepted','completed')
ORDER BY b.created_at DESC LIMIT 1`, requestID))
}

// ListDueBookings returns accepted bookings whose scheduled end is at or before now.
func (r Repo) ListDueBookings(ctx context.Context, now string, limit int) ([]domain.Booking, error) {
	if limit <= 0 {
		limit = 100
	}
	return queryBookings(ctx, r.DB, `SELECT `+bookingColumns+` FROM bookings
WHERE status='accepted' AND scheduled_end IS NOT NULL AND scheduled_end <= ?
ORDER BY scheduled_end ASC, id ASC LIMIT ?`, now, limit)
}

func queryBookings(ctx context.Context, q queryer, query string, args ...any) ([]domain.Booking, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, b)
	}
	return res, rows.Err()
}
