package engine

import (
	"context"
	"database/sql"
	"errors"

	"bookline/internal/domain"
	"bookline/internal/repo"
)

// reserveSlot books slotID for b inside tx. The slot must belong to the
// booking's seller and be free.
func (e Engine) reserveSlot(ctx context.Context, tx *sql.Tx, b domain.Booking, slotID string) (domain.AvailabilitySlot, error) {
	s, err := e.Repo.GetSlotTx(ctx, tx, slotID)
	if err != nil {
		return s, storeErr(domain.KindSlot, slotID, err)
	}
	if s.SellerID != b.SellerID {
		return s, SlotUnavailableError{SlotID: slotID, Reason: "slot belongs to another seller"}
	}
	if s.IsBooked {
		if s.BookingID != nil && *s.BookingID == b.ID {
			return s, nil
		}
		return s, SlotUnavailableError{SlotID: slotID, Reason: "already booked"}
	}
	if err := e.Repo.ReserveSlot(ctx, tx, slotID, b.ID, e.stamp()); err != nil {
		if errors.Is(err, repo.ErrConflict) {
			return s, SlotUnavailableError{SlotID: slotID, Reason: "already booked"}
		}
		return s, storeErr(domain.KindSlot, slotID, err)
	}
	s.IsBooked = true
	s.BookingID = &b.ID
	return s, nil
}

// releaseSlot frees the booking's slot, but only while this booking is the
// one holding it.
func (e Engine) releaseSlot(ctx context.Context, tx *sql.Tx, b domain.Booking) (bool, error) {
	if b.SlotID == nil || *b.SlotID == "" {
		return false, nil
	}
	return e.Repo.ReleaseSlot(ctx, tx, *b.SlotID, b.ID, e.stamp())
}
