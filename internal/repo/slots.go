package repo

import (
	"context"
	"database/sql"
	"errors"

	"bookline/internal/domain"
)

const slotColumns = `id,seller_id,start_time,end_time,is_booked,booking_id,notes,created_at,updated_at`

func scanSlot(row rowScanner) (domain.AvailabilitySlot, error) {
	var s domain.AvailabilitySlot
	var booked int
	var bookingID, notes sql.NullString
	err := row.Scan(&s.ID, &s.SellerID, &s.StartTime, &s.EndTime, &booked, &bookingID, &notes, &s.CreatedAt, &s.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return s, ErrNotFound
	}
	if err != nil {
		return s, err
	}
	s.IsBooked = booked != 0
	s.BookingID = stringPtr(bookingID)
	s.Notes = stringPtr(notes)
	return s, nil
}

func (r Repo) InsertSlot(ctx context.Context, tx *sql.Tx, s domain.AvailabilitySlot) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO availability_slots(`+slotColumns+`) VALUES (?,?,?,?,?,?,?,?,?)`,
		s.ID, s.SellerID, s.StartTime, s.EndTime, boolInt(s.IsBooked), nullableStringPtr(s.BookingID),
		nullableStringPtr(s.Notes), s.CreatedAt, s.UpdatedAt)
	return err
}

func (r Repo) GetSlot(ctx context.Context, id string) (domain.AvailabilitySlot, error) {
	return scanSlot(r.DB.QueryRowContext(ctx, `SELECT `+slotColumns+` FROM availability_slots WHERE id=?`, id))
}

func (r Repo) GetSlotTx(ctx context.Context, tx *sql.Tx, id string) (domain.AvailabilitySlot, error) {
	return scanSlot(tx.QueryRowContext(ctx, `SELECT `+slotColumns+` FROM availability_slots WHERE id=?`, id))
}

// ReserveSlot books a free slot for a booking. ErrConflict means it is already booked.
func (r Repo) ReserveSlot(ctx context.Context, tx *sql.Tx, slotID, bookingID, now string) error {
	res, err := tx.ExecContext(ctx, `UPDATE availability_slots SET is_booked=1, booking_id=?, updated_at=?
WHERE id=? AND is_booked=0`, bookingID, now, slotID)
	if err != nil {
		return err
	}
	return checkAffected(ctx, tx, res, "availability_slots", slotID)
}

// ReleaseSlot frees a slot only while it is still held by bookingID.
// It reports whether anything changed.
func (r Repo) ReleaseSlot(ctx context.Context, tx *sql.Tx, slotID, bookingID, now string) (bool, error) {
	res, err := tx.ExecContext(ctx, `UPDATE availability_slots SET is_booked=0, booking_id=NULL, updated_at=?
WHERE id=? AND booking_id=?`, now, slotID, bookingID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// DeleteSlot removes an unbooked slot. ErrConflict means it is booked.
func (r Repo) DeleteSlot(ctx context.Context, tx *sql.Tx, id string) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM availability_slots WHERE id=? AND is_booked=0`, id)
	if err != nil {
		return err
	}
	return checkAffected(ctx, tx, res, "availability_slots", id)
}

type SlotFilters struct {
	SellerID   string
	OnlyFree   bool
	StartAfter string
	Limit      int
}

// ListSlots returns slots in start-time order.
func (r Repo) ListSlots(ctx context.Context, f SlotFilters) ([]domain.AvailabilitySlot, error) {
	var clauses []string
	var args []any
	if f.SellerID != "" {
		clauses = append(clauses, "seller_id=?")
		args = append(args, f.SellerID)
	}
	if f.OnlyFree {
		clauses = append(clauses, "is_booked=0")
	}
	if f.StartAfter != "" {
		clauses = append(clauses, "start_time>=?")
		args = append(args, f.StartAfter)
	}
	query := `SELECT ` + slotColumns + ` FROM availability_slots` + whereClause(clauses) + ` ORDER BY start_time ASC, id ASC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.AvailabilitySlot
	for rows.Next() {
		s, err := scanSlot(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

// OverlappingSlotExists reports whether the seller already declared a slot
// intersecting [start, end).
func (r Repo) OverlappingSlotExists(ctx context.Context, tx *sql.Tx, sellerID, start, end string) (bool, error) {
	var n int
	err := tx.QueryRowContext(ctx, `SELECT 1 FROM availability_slots WHERE seller_id=? AND start_time < ? AND end_time > ? LIMIT 1`,
		sellerID, end, start).Scan(&n)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return err == nil, err
}
