package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"bookline/internal/domain"
	"bookline/internal/engine/auth"
	"bookline/internal/events"
	"bookline/internal/repo"
)

type SlotCreateOptions struct {
	Actor     auth.Actor `validate:"-"`
	StartTime string     `validate:"required"`
	EndTime   string     `validate:"required"`
	Notes     string     `validate:"max=500"`
}

// CreateSlot declares seller availability. Slots of one seller never overlap.
func (e Engine) CreateSlot(ctx context.Context, opts SlotCreateOptions) (domain.AvailabilitySlot, error) {
	if err := auth.CanCreate(opts.Actor, domain.KindSlot).Err(domain.KindSlot, domain.ActionCreate); err != nil {
		return domain.AvailabilitySlot{}, err
	}
	if err := e.check(opts); err != nil {
		return domain.AvailabilitySlot{}, err
	}
	start, err := normalizeTime("start_time", opts.StartTime)
	if err != nil {
		return domain.AvailabilitySlot{}, err
	}
	end, err := normalizeTime("end_time", opts.EndTime)
	if err != nil {
		return domain.AvailabilitySlot{}, err
	}
	if *end <= *start {
		return domain.AvailabilitySlot{}, ValidationError{Field: "end_time", Reason: "must be after start_time"}
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.AvailabilitySlot{}, err
	}
	defer tx.Rollback()

	overlap, err := e.Repo.OverlappingSlotExists(ctx, tx, opts.Actor.ID, *start, *end)
	if err != nil {
		return domain.AvailabilitySlot{}, err
	}
	if overlap {
		return domain.AvailabilitySlot{}, ValidationError{Field: "start_time", Reason: "overlaps an existing slot"}
	}
	now := e.stamp()
	s := domain.AvailabilitySlot{
		ID:        uuid.NewString(),
		SellerID:  opts.Actor.ID,
		StartTime: *start,
		EndTime:   *end,
		Notes:     optionalString(opts.Notes),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := e.Repo.InsertSlot(ctx, tx, s); err != nil {
		return s, fmt.Errorf("insert slot: %w", err)
	}
	if err := e.journal().Append(ctx, tx, events.Change{
		Type:       "slot.created",
		EntityKind: domain.KindSlot,
		EntityID:   s.ID,
		ActorID:    opts.Actor.ID,
		Payload:    events.EventPayload{"start_time": s.StartTime, "end_time": s.EndTime},
	}); err != nil {
		return s, err
	}
	if err := tx.Commit(); err != nil {
		return s, err
	}
	return s, nil
}

// DeleteSlot removes a free slot. A booked slot stays and the call fails with
// SlotUnavailableError.
func (e Engine) DeleteSlot(ctx context.Context, actor auth.Actor, id string) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	s, err := e.Repo.GetSlotTx(ctx, tx, id)
	if err != nil {
		return storeErr(domain.KindSlot, id, err)
	}
	if err := auth.CanSlot(actor, domain.ActionDelete, s).Err(domain.KindSlot, domain.ActionDelete); err != nil {
		return err
	}
	if s.IsBooked {
		return SlotUnavailableError{SlotID: id, Reason: "slot is booked"}
	}
	if err := e.Repo.DeleteSlot(ctx, tx, id); err != nil {
		if errors.Is(err, repo.ErrConflict) {
			return SlotUnavailableError{SlotID: id, Reason: "slot is booked"}
		}
		return storeErr(domain.KindSlot, id, err)
	}
	if err := e.journal().Append(ctx, tx, events.Change{
		Type:       "slot.deleted",
		EntityKind: domain.KindSlot,
		EntityID:   id,
		ActorID:    actor.ID,
	}); err != nil {
		return err
	}
	return tx.Commit()
}

func (e Engine) ListSlots(ctx context.Context, f repo.SlotFilters) ([]domain.AvailabilitySlot, error) {
	return e.Repo.ListSlots(ctx, f)
}
