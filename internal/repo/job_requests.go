package repo

import (
	"context"
	"database/sql"
	"errors"

	"github.com/shopspring/decimal"

	"bookline/internal/domain"
)

const jobRequestColumns = `id,buyer_id,title,description,category,budget,preferred_start,due_at,status,reason,version,created_at,updated_at`

func scanJobRequest(row rowScanner) (domain.JobRequest, error) {
	var jr domain.JobRequest
	var description sql.NullString
	var budget decimal.NullDecimal
	var preferredStart, dueAt, reason sql.NullString
	err := row.Scan(&jr.ID, &jr.BuyerID, &jr.Title, &description, &jr.Category, &budget, &preferredStart, &dueAt,
		&jr.Status, &reason, &jr.Version, &jr.CreatedAt, &jr.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return jr, ErrNotFound
	}
	if err != nil {
		return jr, err
	}
	if description.Valid {
		jr.Description = description.String
	}
	jr.Budget = decimalPtr(budget)
	jr.PreferredStart = stringPtr(preferredStart)
	jr.DueAt = stringPtr(dueAt)
	jr.Reason = stringPtr(reason)
	return jr, nil
}

func (r Repo) InsertJobRequest(ctx context.Context, tx *sql.Tx, jr domain.JobRequest) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO job_requests(`+jobRequestColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		jr.ID, jr.BuyerID, jr.Title, nullable(jr.Description), jr.Category, nullableDecimal(jr.Budget),
		nullableStringPtr(jr.PreferredStart), nullableStringPtr(jr.DueAt), jr.Status, nullableStringPtr(jr.Reason),
		jr.Version, jr.CreatedAt, jr.UpdatedAt)
	return err
}

func (r Repo) GetJobRequest(ctx context.Context, id string) (domain.JobRequest, error) {
	return getJobRequest(ctx, r.DB, id)
}

func (r Repo) GetJobRequestTx(ctx context.Context, tx *sql.Tx, id string) (domain.JobRequest, error) {
	return getJobRequest(ctx, tx, id)
}

func getJobRequest(ctx context.Context, q queryer, id string) (domain.JobRequest, error) {
	return scanJobRequest(q.QueryRowContext(ctx, `SELECT `+jobRequestColumns+` FROM job_requests WHERE id=?`, id))
}

// JobRequestStatusUpdate moves a job request from one status to another.
// The write only lands when both From and Version still match the stored row.
type JobRequestStatusUpdate struct {
	ID        string
	From      string
	To        string
	Version   int64
	Reason    *string
	UpdatedAt string
}

func (r Repo) UpdateJobRequestStatus(ctx context.Context, tx *sql.Tx, u JobRequestStatusUpdate) error {
	res, err := tx.ExecContext(ctx, `UPDATE job_requests SET status=?, reason=COALESCE(?,reason), version=version+1, updated_at=?
WHERE id=? AND status=? AND version=?`,
		u.To, nullableStringPtr(u.Reason), u.UpdatedAt, u.ID, u.From, u.Version)
	if err != nil {
		return err
	}
	return checkAffected(ctx, tx, res, "job_requests", u.ID)
}

type JobRequestFilters struct {
	BuyerID  string
	Status   string
	Category string
	Page
}

func (r Repo) ListJobRequests(ctx context.Context, f JobRequestFilters) ([]domain.JobRequest, error) {
	var clauses []string
	var args []any
	if f.BuyerID != "" {
		clauses = append(clauses, "buyer_id=?")
		args = append(args, f.BuyerID)
	}
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if f.Category != "" {
		clauses = append(clauses, "category=?")
		args = append(args, f.Category)
	}
	clauses, args = f.Page.apply(clauses, args)
	suffix, args := f.Page.suffix(args)
	rows, err := r.DB.QueryContext(ctx, `SELECT `+jobRequestColumns+` FROM job_requests`+whereClause(clauses)+suffix, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.JobRequest
	for rows.Next() {
		jr, err := scanJobRequest(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, jr)
	}
	return res, rows.Err()
}
