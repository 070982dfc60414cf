package repo

import (
	"context"
	"database/sql"
	"errors"

	"github.com/shopspring/decimal"

	"bookline/internal/domain"
)

const offerColumns = `id,request_id,seller_id,admin_id,offered_price,offered_start,message,status,booking_id,version,created_at,updated_at`

func scanOffer(row rowScanner) (domain.Offer, error) {
	var o domain.Offer
	var price decimal.NullDecimal
	var start, message, bookingID sql.NullString
	err := row.Scan(&o.ID, &o.RequestID, &o.SellerID, &o.AdminID, &price, &start, &message, &o.Status, &bookingID,
		&o.Version, &o.CreatedAt, &o.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return o, ErrNotFound
	}
	if err != nil {
		return o, err
	}
	o.OfferedPrice = decimalPtr(price)
	o.OfferedStart = stringPtr(start)
	o.Message = stringPtr(message)
	o.BookingID = stringPtr(bookingID)
	return o, nil
}

func (r Repo) InsertOffer(ctx context.Context, tx *sql.Tx, o domain.Offer) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO offers(`+offerColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?)`,
		o.ID, o.RequestID, o.SellerID, o.AdminID, nullableDecimal(o.OfferedPrice), nullableStringPtr(o.OfferedStart),
		nullableStringPtr(o.Message), o.Status, nullableStringPtr(o.BookingID), o.Version, o.CreatedAt, o.UpdatedAt)
	if IsUniqueViolation(err) {
		return ErrConflict
	}
	return err
}

func (r Repo) GetOffer(ctx context.Context, id string) (domain.Offer, error) {
	return scanOffer(r.DB.QueryRowContext(ctx, `SELECT `+offerColumns+` FROM offers WHERE id=?`, id))
}

func (r Repo) GetOfferTx(ctx context.Context, tx *sql.Tx, id string) (domain.Offer, error) {
	return scanOffer(tx.QueryRowContext(ctx, `SELECT `+offerColumns+` FROM offers WHERE id=?`, id))
}

type OfferStatusUpdate struct {
	ID        string
	From      string
	To        string
	Version   int64
	BookingID *string
	UpdatedAt string
}

// UpdateOfferStatus applies a compare-and-set status change. The partial
// unique index on accepted offers turns a second acceptance into ErrConflict.
func (r Repo) UpdateOfferStatus(ctx context.Context, tx *sql.Tx, u OfferStatusUpdate) error {
	res, err := tx.ExecContext(ctx, `UPDATE offers SET status=?, booking_id=COALESCE(?,booking_id), version=version+1, updated_at=?
WHERE id=? AND status=? AND version=?`,
		u.To, nullableStringPtr(u.BookingID), u.UpdatedAt, u.ID, u.From, u.Version)
	if IsUniqueViolation(err) {
		return ErrConflict
	}
	if err != nil {
		return err
	}
	return checkAffected(ctx, tx, res, "offers", u.ID)
}

type OfferFilters struct {
	RequestID string
	SellerID  string
	Status    string
	Page
}

func (r Repo) ListOffers(ctx context.Context, f OfferFilters) ([]domain.Offer, error) {
	return listOffers(ctx, r.DB, f)
}

// ListOffersTx reads offers inside a transaction, e.g. siblings to cascade.
func (r Repo) ListOffersTx(ctx context.Context, tx *sql.Tx, f OfferFilters) ([]domain.Offer, error) {
	return listOffers(ctx, tx, f)
}

func listOffers(ctx context.Context, q queryer, f OfferFilters) ([]domain.Offer, error) {
	var clauses []string
	var args []any
	if f.RequestID != "" {
		clauses = append(clauses, "request_id=?")
		args = append(args, f.RequestID)
	}
	if f.SellerID != "" {
		clauses = append(clauses, "seller_id=?")
		args = append(args, f.SellerID)
	}
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	clauses, args = f.Page.apply(clauses, args)
	suffix, args := f.Page.suffix(args)
	rows, err := q.QueryContext(ctx, `SELECT `+offerColumns+` FROM offers`+whereClause(clauses)+suffix, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Offer
	for rows.Next() {
		o, err := scanOffer(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, o)
	}
	return res, rows.Err()
}

// CountOffersTx counts offers for a request in the given status.
func (r Repo) CountOffersTx(ctx context.Context, tx *sql.Tx, requestID, status string) (int, error) {
	var n int
	err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM offers WHERE request_id=? AND status=?`, requestID, status).Scan(&n)
	return n, err
}
