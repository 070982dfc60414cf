package repo

import (
	"context"
	"database/sql"
	"errors"

	"bookline/internal/domain"
)

const reviewColumns = `id,booking_id,reviewer_id,reviewed_id,rating,comment,created_at`

func scanReview(row rowScanner) (domain.Review, error) {
	var rv domain.Review
	var comment sql.NullString
	err := row.Scan(&rv.ID, &rv.BookingID, &rv.ReviewerID, &rv.ReviewedID, &rv.Rating, &comment, &rv.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return rv, ErrNotFound
	}
	if err != nil {
		return rv, err
	}
	rv.Comment = stringPtr(comment)
	return rv, nil
}

// InsertReview stores the single review for a booking; a duplicate is ErrConflict.
func (r Repo) InsertReview(ctx context.Context, tx *sql.Tx, rv domain.Review) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO reviews(`+reviewColumns+`) VALUES (?,?,?,?,?,?,?)`,
		rv.ID, rv.BookingID, rv.ReviewerID, rv.ReviewedID, rv.Rating, nullableStringPtr(rv.Comment), rv.CreatedAt)
	if IsUniqueViolation(err) {
		return ErrConflict
	}
	return err
}

func (r Repo) GetReviewByBooking(ctx context.Context, bookingID string) (domain.Review, error) {
	return scanReview(r.DB.QueryRowContext(ctx, `SELECT `+reviewColumns+` FROM reviews WHERE booking_id=?`, bookingID))
}

// ListReviewsFor returns reviews received by a seller, newest first.
func (r Repo) ListReviewsFor(ctx context.Context, reviewedID string, limit int) ([]domain.Review, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT `+reviewColumns+` FROM reviews WHERE reviewed_id=? ORDER BY created_at DESC, id DESC LIMIT ?`,
		reviewedID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Review
	for rows.Next() {
		rv, err := scanReview(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, rv)
	}
	return res, rows.Err()
}

// ReviewStatsFor counts the reviews a user received and sums their ratings.
func (r Repo) ReviewStatsFor(ctx context.Context, reviewedID string) (count int, ratingSum int64, err error) {
	err = r.DB.QueryRowContext(ctx, `SELECT COUNT(*), COALESCE(SUM(rating),0) FROM reviews WHERE reviewed_id=?`, reviewedID).
		Scan(&count, &ratingSum)
	return count, ratingSum, err
}
