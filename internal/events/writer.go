package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"bookline/internal/domain"
	"bookline/internal/repo"
)

type Writer struct {
	Repo repo.Repo
	Now  func() time.Time
}

type EventPayload map[string]any

// Change describes one applied transition.
type Change struct {
	Type       string
	EntityKind string
	EntityID   string
	ActorID    string
	OldStatus  string
	NewStatus  string
	Payload    EventPayload
	// Recipients are the affected parties. The acting party and duplicates are skipped.
	Recipients []string
}

// Append records the change in the audit log and enqueues one notification
// per affected party, all inside tx. Delivery happens later from the outbox.
func (w Writer) Append(ctx context.Context, tx *sql.Tx, c Change) error {
	if w.Now == nil {
		w.Now = time.Now
	}
	ts := w.Now().UTC().Format(time.RFC3339)
	payload := EventPayload{}
	for k, v := range c.Payload {
		payload[k] = v
	}
	payload["entity_kind"] = c.EntityKind
	payload["entity_id"] = c.EntityID
	if c.OldStatus != "" {
		payload["old_status"] = c.OldStatus
	}
	if c.NewStatus != "" {
		payload["new_status"] = c.NewStatus
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	res, err := tx.ExecContext(ctx, `INSERT INTO events(ts,type,entity_kind,entity_id,actor_id,payload_json) VALUES (?,?,?,?,?,?)`,
		ts, c.Type, c.EntityKind, c.EntityID, c.ActorID, string(data))
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	eventID, err := res.LastInsertId()
	if err != nil {
		return err
	}
	for _, recipient := range Recipients(c.ActorID, c.Recipients...) {
		_, err := w.Repo.InsertNotification(ctx, tx, eventID, domain.Notification{
			RecipientID: recipient,
			Type:        c.Type,
			EntityKind:  c.EntityKind,
			EntityID:    c.EntityID,
			OldStatus:   c.OldStatus,
			NewStatus:   c.NewStatus,
			Payload:     string(data),
			AvailableAt: ts,
			CreatedAt:   ts,
		})
		if err != nil {
			return fmt.Errorf("enqueue notification for %s: %w", recipient, err)
		}
	}
	return nil
}

// Recipients de-duplicates parties and drops the actor who caused the change.
func Recipients(actorID string, parties ...string) []string {
	seen := make(map[string]struct{}, len(parties))
	var out []string
	for _, p := range parties {
		if p == "" || p == actorID {
			continue
		}
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	return out
}
