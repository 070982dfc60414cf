package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"bookline/internal/domain"
)

const notificationColumns = `id,recipient_id,type,entity_kind,entity_id,old_status,new_status,payload_json,read_at,attempts,available_at,delivered_at,dead_at,last_error,created_at`

func scanNotification(row rowScanner) (domain.Notification, error) {
	var n domain.Notification
	var oldStatus, newStatus, readAt, deliveredAt, deadAt, lastError sql.NullString
	err := row.Scan(&n.ID, &n.RecipientID, &n.Type, &n.EntityKind, &n.EntityID, &oldStatus, &newStatus, &n.Payload,
		&readAt, &n.Attempts, &n.AvailableAt, &deliveredAt, &deadAt, &lastError, &n.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return n, ErrNotFound
	}
	if err != nil {
		return n, err
	}
	n.OldStatus = oldStatus.String
	n.NewStatus = newStatus.String
	n.ReadAt = stringPtr(readAt)
	n.DeliveredAt = stringPtr(deliveredAt)
	n.DeadAt = stringPtr(deadAt)
	n.LastError = stringPtr(lastError)
	return n, nil
}

// InsertNotification enqueues a notification inside the caller's transaction.
func (r Repo) InsertNotification(ctx context.Context, tx *sql.Tx, eventID int64, n domain.Notification) (int64, error) {
	res, err := tx.ExecContext(ctx, `INSERT INTO notifications(event_id,recipient_id,type,entity_kind,entity_id,old_status,new_status,payload_json,attempts,available_at,created_at)
VALUES (?,?,?,?,?,?,?,?,0,?,?)`,
		eventID, n.RecipientID, n.Type, n.EntityKind, n.EntityID, nullable(n.OldStatus), nullable(n.NewStatus), n.Payload,
		n.AvailableAt, n.CreatedAt)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (r Repo) GetNotification(ctx context.Context, id int64) (domain.Notification, error) {
	return scanNotification(r.DB.QueryRowContext(ctx, `SELECT `+notificationColumns+` FROM notifications WHERE id=?`, id))
}

type NotificationFilters struct {
	RecipientIDs []string
	UnreadOnly   bool
	Cursor       int64
	Limit        int
}

// ListNotifications returns inbox entries newest first; Cursor is an exclusive id bound.
func (r Repo) ListNotifications(ctx context.Context, f NotificationFilters) ([]domain.Notification, error) {
	if len(f.RecipientIDs) == 0 {
		return nil, nil
	}
	clauses := []string{"recipient_id IN (" + placeholders(len(f.RecipientIDs)) + ")"}
	var args []any
	for _, id := range f.RecipientIDs {
		args = append(args, id)
	}
	if f.UnreadOnly {
		clauses = append(clauses, "read_at IS NULL")
	}
	if f.Cursor > 0 {
		clauses = append(clauses, "id<?")
		args = append(args, f.Cursor)
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 20
	}
	args = append(args, limit)
	rows, err := r.DB.QueryContext(ctx, `SELECT `+notificationColumns+` FROM notifications`+whereClause(clauses)+` ORDER BY id DESC LIMIT ?`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, n)
	}
	return res, rows.Err()
}

func (r Repo) CountUnreadNotifications(ctx context.Context, recipientIDs []string) (int, error) {
	if len(recipientIDs) == 0 {
		return 0, nil
	}
	var args []any
	for _, id := range recipientIDs {
		args = append(args, id)
	}
	var n int
	err := r.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM notifications WHERE read_at IS NULL AND recipient_id IN (`+placeholders(len(recipientIDs))+`)`, args...).Scan(&n)
	return n, err
}

// MarkNotificationRead marks one entry read if it belongs to one of recipientIDs.
func (r Repo) MarkNotificationRead(ctx context.Context, id int64, recipientIDs []string, now string) error {
	if len(recipientIDs) == 0 {
		return ErrNotFound
	}
	args := []any{now, id}
	for _, rid := range recipientIDs {
		args = append(args, rid)
	}
	res, err := r.DB.ExecContext(ctx, `UPDATE notifications SET read_at=COALESCE(read_at,?) WHERE id=? AND recipient_id IN (`+placeholders(len(recipientIDs))+`)`, args...)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) MarkAllNotificationsRead(ctx context.Context, recipientIDs []string, now string) (int64, error) {
	if len(recipientIDs) == 0 {
		return 0, nil
	}
	args := []any{now}
	for _, rid := range recipientIDs {
		args = append(args, rid)
	}
	res, err := r.DB.ExecContext(ctx, `UPDATE notifications SET read_at=? WHERE read_at IS NULL AND recipient_id IN (`+placeholders(len(recipientIDs))+`)`, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// ClaimNotifications locks a batch of undelivered notifications for dispatch
// and bumps their attempt counters. Returned rows carry the new attempt count.
func (r Repo) ClaimNotifications(ctx context.Context, now, lockCutoff string, maxAttempts, batch int) ([]domain.Notification, error) {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `SELECT `+notificationColumns+` FROM notifications
WHERE delivered_at IS NULL AND dead_at IS NULL
  AND available_at <= ?
  AND attempts < ?
  AND (locked_at IS NULL OR locked_at < ?)
ORDER BY available_at, id
LIMIT ?`, now, maxAttempts, lockCutoff, batch)
	if err != nil {
		return nil, fmt.Errorf("claim select: %w", err)
	}
	var items []domain.Notification
	var args []any
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("claim scan: %w", err)
		}
		n.Attempts++
		items = append(items, n)
		args = append(args, n.ID)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("claim rows: %w", err)
	}
	rows.Close()
	if len(items) == 0 {
		return nil, tx.Commit()
	}
	if _, err := tx.ExecContext(ctx, `UPDATE notifications SET locked_at=?, attempts=attempts+1 WHERE id IN (`+placeholders(len(args))+`)`,
		append([]any{now}, args...)...); err != nil {
		return nil, fmt.Errorf("claim update: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return items, nil
}

func (r Repo) AckNotification(ctx context.Context, id int64, now string) error {
	_, err := r.DB.ExecContext(ctx, `UPDATE notifications SET delivered_at=?, locked_at=NULL, last_error=NULL WHERE id=? AND delivered_at IS NULL`, now, id)
	return err
}

func (r Repo) NackNotification(ctx context.Context, id int64, lastError, nextAvailable string) error {
	_, err := r.DB.ExecContext(ctx, `UPDATE notifications SET locked_at=NULL, last_error=?, available_at=? WHERE id=? AND delivered_at IS NULL`,
		lastError, nextAvailable, id)
	return err
}

func (r Repo) DeadNotification(ctx context.Context, id int64, lastError, now string) error {
	_, err := r.DB.ExecContext(ctx, `UPDATE notifications SET locked_at=NULL, last_error=?, dead_at=? WHERE id=? AND delivered_at IS NULL`,
		lastError, now, id)
	return err
}

// NotificationQueueDepth reports undelivered and currently locked rows.
func (r Repo) NotificationQueueDepth(ctx context.Context) (pending, locked int64, err error) {
	err = r.DB.QueryRowContext(ctx, `SELECT
  COUNT(*),
  COALESCE(SUM(CASE WHEN locked_at IS NOT NULL THEN 1 ELSE 0 END),0)
FROM notifications WHERE delivered_at IS NULL AND dead_at IS NULL`).Scan(&pending, &locked)
	return pending, locked, err
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}
